package httphandler

import (
	"fmt"
	"net/http"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/httperror"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/validators"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/services"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/httpjson"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// BackfillHandler runs the onboarding backfill on demand. The request blocks
// until the window is replayed, which is how operators re-run a window after
// fixing seller configuration.
type BackfillHandler struct {
	Models   *data.Models
	Backfill BackfillStarter
}

func (h BackfillHandler) RunBackfill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	seller := fetchSeller(w, r, h.Models)
	if seller == nil {
		return
	}

	v := validators.NewValidator()
	opts := services.BackfillOptions{
		BeginDate:            parseDateParam(v, r, "begin_date"),
		EndDate:              parseDateParam(v, r, "end_date"),
		DryRun:               parseBoolParam(v, r, "dry_run", false),
		MaxProcess:           parseIntParam(v, r, "max_process"),
		Concurrency:          parseIntParam(v, r, "concurrency"),
		ReprocessMissingFees: parseBoolParam(v, r, "reprocess_missing_fees", false),
	}
	if v.HasErrors() {
		httperror.BadRequest("The request was invalid in some way.", nil, v.Errors).Render(w)
		return
	}

	if !seller.IntegrationMode.PostsToERP() {
		httperror.BadRequest(fmt.Sprintf("Seller %s does not post to the ERP.", seller.ID), nil, nil).Render(w)
		return
	}
	if opts.BeginDate.IsZero() && seller.ERPStartDate == nil {
		httperror.BadRequest("begin_date is required for a seller without an erp_start_date.", nil, nil).Render(w)
		return
	}
	if !opts.BeginDate.IsZero() && !opts.EndDate.IsZero() && opts.EndDate.Before(opts.BeginDate) {
		httperror.BadRequest("end_date must not be before begin_date.", nil, nil).Render(w)
		return
	}

	log.Ctx(ctx).Infof("manual backfill requested for seller %s (dry_run=%t)", seller.ID, opts.DryRun)

	progress, err := h.Backfill.Run(ctx, seller, opts)
	if err != nil {
		extras := map[string]interface{}{}
		if progress != nil {
			extras["progress"] = progress
		}
		httperror.InternalError(ctx, "The backfill run failed.", err, extras).Render(w)
		return
	}

	httpjson.RenderStatus(w, http.StatusOK, progress, httpjson.JSON)
}
