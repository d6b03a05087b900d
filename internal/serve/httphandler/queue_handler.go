package httphandler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/httperror"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/httpresponse"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/validators"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/httpjson"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// QueueHandler exposes the posting-intent queue to operators: live counts,
// the dead-letter page, and manual requeue of dead jobs.
type QueueHandler struct {
	Models *data.Models
}

type QueueStatusResponse struct {
	Counts                  map[data.JobStatus]int64 `json:"counts"`
	OldestPendingCreatedAt  *time.Time               `json:"oldest_pending_created_at,omitempty"`
	OldestPendingAgeSeconds *int64                   `json:"oldest_pending_age_seconds,omitempty"`
	OldestDeadAt            *time.Time               `json:"oldest_dead_at,omitempty"`
}

func (h QueueHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := h.Models.Jobs.CountByStatus(ctx, h.Models.DBConnectionPool)
	if err != nil {
		httperror.InternalError(ctx, "Cannot count jobs by status", err, nil).Render(w)
		return
	}

	oldestPending, err := h.Models.Jobs.OldestPendingCreatedAt(ctx, h.Models.DBConnectionPool)
	if err != nil {
		httperror.InternalError(ctx, "Cannot get the oldest pending job", err, nil).Render(w)
		return
	}

	oldestDead, err := h.Models.Jobs.OldestDeadAt(ctx, h.Models.DBConnectionPool)
	if err != nil {
		httperror.InternalError(ctx, "Cannot get the oldest dead job", err, nil).Render(w)
		return
	}

	resp := QueueStatusResponse{
		Counts:                 counts,
		OldestPendingCreatedAt: oldestPending,
		OldestDeadAt:           oldestDead,
	}
	if oldestPending != nil {
		age := int64(time.Since(*oldestPending).Seconds())
		if age < 0 {
			age = 0
		}
		resp.OldestPendingAgeSeconds = &age
	}

	httpjson.RenderStatus(w, http.StatusOK, resp, httpjson.JSON)
}

func (h QueueHandler) GetDeadJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	qv := validators.QueryValidator{
		Validator:         validators.NewValidator(),
		DefaultSortField:  data.SortFieldUpdatedAt,
		DefaultSortOrder:  data.SortOrderDESC,
		AllowedSortFields: []data.SortField{data.SortFieldUpdatedAt},
	}
	queryParams := qv.ParseParametersFromRequest(r)
	if qv.HasErrors() {
		httperror.BadRequest("request invalid", nil, qv.Errors).Render(w)
		return
	}

	jobs, total, err := h.Models.Jobs.GetDeadPage(ctx, h.Models.DBConnectionPool, queryParams.Page, queryParams.PageLimit)
	if err != nil {
		httperror.InternalError(ctx, "Cannot retrieve dead jobs", err, nil).Render(w)
		return
	}

	if total == 0 {
		httpjson.RenderStatus(w, http.StatusOK, httpresponse.NewEmptyPaginatedResponse(), httpjson.JSON)
		return
	}

	response, err := httpresponse.NewPaginatedResponse(r, jobs, queryParams.Page, queryParams.PageLimit, total)
	if err != nil {
		httperror.InternalError(ctx, "Cannot create a paginated response for dead jobs", err, nil).Render(w)
		return
	}

	httpjson.RenderStatus(w, http.StatusOK, response, httpjson.JSON)
}

func (h QueueHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "id")

	job, err := h.Models.Jobs.Requeue(ctx, jobID)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			httperror.NotFound("No dead job with that id.", err, nil).Render(w)
			return
		}
		httperror.InternalError(ctx, "Cannot requeue the job", err, nil).Render(w)
		return
	}

	log.Ctx(ctx).Infof("requeued dead job %s (kind=%s seller=%s)", job.ID, job.Kind, job.SellerID)
	httpjson.RenderStatus(w, http.StatusOK, job, httpjson.JSON)
}

func (h QueueHandler) RetryAllDead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requeued, err := h.Models.Jobs.RequeueAllDead(ctx)
	if err != nil {
		httperror.InternalError(ctx, "Cannot requeue dead jobs", err, nil).Render(w)
		return
	}

	log.Ctx(ctx).Infof("requeued %d dead jobs", requeued)
	httpjson.RenderStatus(w, http.StatusOK, map[string]int64{"requeued": requeued}, httpjson.JSON)
}
