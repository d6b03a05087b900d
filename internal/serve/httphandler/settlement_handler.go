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

// SettlementHandler triggers a settlement (baixa) scheduler run outside the
// nightly window.
type SettlementHandler struct {
	Models      *data.Models
	Settlements *services.SettlementScheduler
}

func (h SettlementHandler) RunSettlements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	seller := fetchSeller(w, r, h.Models)
	if seller == nil {
		return
	}

	v := validators.NewValidator()
	dryRun := parseBoolParam(v, r, "dry_run", false)
	verifyRelease := parseBoolParam(v, r, "verify_release", true)
	until := parseDateParam(v, r, "data_ate")
	lookbackDays := parseIntParam(v, r, "lookback_days")
	if v.HasErrors() {
		httperror.BadRequest("The request was invalid in some way.", nil, v.Errors).Render(w)
		return
	}

	if !seller.IntegrationMode.PostsToERP() {
		httperror.BadRequest(fmt.Sprintf("Seller %s does not post to the ERP.", seller.ID), nil, nil).Render(w)
		return
	}
	if seller.ERPRetainedAccountID == "" {
		httperror.BadRequest(fmt.Sprintf("Seller %s has no retained-funds account configured.", seller.ID), nil, nil).Render(w)
		return
	}

	// Request overrides apply to a copy so the shared scheduler keeps its
	// defaults.
	scheduler := *h.Settlements
	if lookbackDays > 0 {
		scheduler.LookbackDays = lookbackDays
	}
	if !verifyRelease {
		scheduler.ReleaseStatus = nil
	}

	log.Ctx(ctx).Infof("manual settlement run requested for seller %s (dry_run=%t, verify_release=%t)", seller.ID, dryRun, verifyRelease)

	summary, err := scheduler.RunUntil(ctx, seller, until, dryRun)
	if err != nil {
		httperror.InternalError(ctx, "The settlement run failed.", err, nil).Render(w)
		return
	}

	httpjson.RenderStatus(w, http.StatusOK, summary, httpjson.JSON)
}
