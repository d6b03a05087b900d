package httphandler

import (
	"net/http"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/httperror"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/validators"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/services"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/httpjson"
)

// ClosingHandler evaluates and reads the per-day closing attestation.
type ClosingHandler struct {
	Models  *data.Models
	Closing *services.FinancialClosing
}

type closingRunResponse struct {
	*services.ClosingResult
	Reasons []string `json:"reasons"`
}

// RunClosing evaluates the seller-day and persists the attestation. An open
// day is still a 200: the evaluation worked, the books just aren't balanced.
// The day defaults to yesterday, the day the nightly pipeline would close.
func (h ClosingHandler) RunClosing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	seller := fetchSeller(w, r, h.Models)
	if seller == nil {
		return
	}

	v := validators.NewValidator()
	day := parseDateParam(v, r, "day")
	if v.HasErrors() {
		httperror.BadRequest("The request was invalid in some way.", nil, v.Errors).Render(w)
		return
	}
	if day.IsZero() {
		day = utils.TodayOperational().AddDate(0, 0, -1)
	}

	result, err := h.Closing.Close(ctx, seller, day, nil)
	if err != nil {
		httperror.InternalError(ctx, "The closing evaluation failed.", err, nil).Render(w)
		return
	}

	httpjson.RenderStatus(w, http.StatusOK, closingRunResponse{ClosingResult: result, Reasons: result.Reasons()}, httpjson.JSON)
}

// GetClosingStatus reads the stored attestation without re-evaluating. A day
// that was never evaluated reads as open.
func (h ClosingHandler) GetClosingStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	seller := fetchSeller(w, r, h.Models)
	if seller == nil {
		return
	}

	v := validators.NewValidator()
	day := parseDateParam(v, r, "day")
	if v.HasErrors() {
		httperror.BadRequest("The request was invalid in some way.", nil, v.Errors).Render(w)
		return
	}
	if day.IsZero() {
		day = utils.TodayOperational().AddDate(0, 0, -1)
	}

	closed, err := h.Closing.IsClosed(ctx, seller, day)
	if err != nil {
		httperror.InternalError(ctx, "Cannot read the closing status", err, nil).Render(w)
		return
	}

	httpjson.RenderStatus(w, http.StatusOK, map[string]interface{}{
		"seller_id": seller.ID,
		"day":       utils.FormatISODate(day),
		"closed":    closed,
	}, httpjson.JSON)
}
