package httphandler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/httperror"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/httpresponse"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/validators"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/services"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/httpjson"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// ExpensesHandler lists classified expenses and drives the export/import
// round trip with the ERP.
type ExpensesHandler struct {
	Models   *data.Models
	Exporter *services.ExpenseExporter
}

func (h ExpensesHandler) GetExpenses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	validator := validators.NewExpenseQueryValidator()
	queryParams := validator.ParseParametersFromRequest(r)
	if validator.HasErrors() {
		httperror.BadRequest("request invalid", nil, validator.Errors).Render(w)
		return
	}

	queryParams.Filters = validator.ValidateAndGetExpenseFilters(queryParams.Filters)
	if validator.HasErrors() {
		httperror.BadRequest("request invalid", nil, validator.Errors).Render(w)
		return
	}

	totalExpenses, err := h.Models.Expenses.Count(ctx, h.Models.DBConnectionPool, queryParams)
	if err != nil {
		httperror.InternalError(ctx, "Cannot count expenses", err, nil).Render(w)
		return
	}

	if totalExpenses == 0 {
		httpjson.RenderStatus(w, http.StatusOK, httpresponse.NewEmptyPaginatedResponse(), httpjson.JSON)
		return
	}

	expenses, err := h.Models.Expenses.GetAll(ctx, h.Models.DBConnectionPool, queryParams)
	if err != nil {
		httperror.InternalError(ctx, "Cannot retrieve expenses", err, nil).Render(w)
		return
	}

	response, err := httpresponse.NewPaginatedResponse(r, expenses, queryParams.Page, queryParams.PageLimit, totalExpenses)
	if err != nil {
		httperror.InternalError(ctx, "Cannot create a paginated response for expenses", err, nil).Render(w)
		return
	}

	httpjson.RenderStatus(w, http.StatusOK, response, httpjson.JSON)
}

// ExportExpenses creates a batch over [from, to] and streams it as the
// semicolon CSV the ERP imports. Nothing to export is a 200 with a message,
// so the nightly caller can tell "empty" from "failed".
func (h ExpensesHandler) ExportExpenses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	seller := fetchSeller(w, r, h.Models)
	if seller == nil {
		return
	}

	v := validators.NewValidator()
	from := parseDateParam(v, r, "from")
	to := parseDateParam(v, r, "to")
	if v.HasErrors() {
		httperror.BadRequest("The request was invalid in some way.", nil, v.Errors).Render(w)
		return
	}

	if from.IsZero() || to.IsZero() {
		from, to = utils.PreviousMonthRange(utils.TodayOperational())
	}
	if to.Before(from) {
		httperror.BadRequest("to must not be before from.", nil, nil).Render(w)
		return
	}

	batch, expenses, err := h.Exporter.Export(ctx, seller, from, to)
	if err != nil {
		httperror.InternalError(ctx, "Cannot export expenses", err, nil).Render(w)
		return
	}
	if batch == nil {
		httpjson.RenderStatus(w, http.StatusOK, map[string]string{"message": "no expenses to export in the period"}, httpjson.JSON)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", batch.FileName))
	w.Header().Set("X-Batch-Id", batch.ID)
	if err = h.Exporter.WriteCSV(w, expenses); err != nil {
		// Headers are gone already; all we can do is log.
		log.Ctx(ctx).Errorf("streaming expense batch %s: %v", batch.ID, err)
	}
}

func (h ExpensesHandler) ConfirmBatchImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID := chi.URLParam(r, "id")

	batch, err := h.Exporter.ConfirmImport(ctx, batchID)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			httperror.NotFound("Expense batch not found.", err, nil).Render(w)
		case errors.Is(err, data.ErrInvalidTransition):
			httperror.Conflict("The batch was already imported.", err, nil).Render(w)
		default:
			httperror.InternalError(ctx, "Cannot confirm the batch import", err, nil).Render(w)
		}
		return
	}

	httpjson.RenderStatus(w, http.StatusOK, batch, httpjson.JSON)
}
