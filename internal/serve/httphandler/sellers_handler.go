package httphandler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/httperror"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/validators"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/services"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/httpjson"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// BackfillStarter is the slice of the backfill runner the activation endpoint
// needs.
type BackfillStarter interface {
	Run(ctx context.Context, seller *data.Seller, opts services.BackfillOptions) (*services.BackfillProgress, error)
}

// SellersHandler manages seller onboarding: create, inspect, patch ERP
// targets, activate and suspend.
type SellersHandler struct {
	Models   *data.Models
	Backfill BackfillStarter
}

func (h SellersHandler) CreateSeller(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req validators.SellerRequest
	if err := httpjson.DecodeJSON(r, &req); err != nil {
		httperror.BadRequest("The request body is not valid JSON.", err, nil).Render(w)
		return
	}

	sv := validators.NewSellerValidator()
	insert := sv.ValidateCreateRequest(&req)
	if sv.HasErrors() {
		httperror.BadRequest("The request was invalid in some way.", nil, sv.Errors).Render(w)
		return
	}

	seller, err := h.Models.Sellers.Insert(ctx, h.Models.DBConnectionPool, insert)
	if err != nil {
		if errors.Is(err, data.ErrRecordAlreadyExists) {
			httperror.Conflict("A seller with this id or marketplace user already exists.", err, nil).Render(w)
			return
		}
		httperror.InternalError(ctx, "Cannot create the seller", err, nil).Render(w)
		return
	}

	log.Ctx(ctx).Infof("created seller %s (marketplace user %s, mode %s)", seller.ID, seller.MarketplaceUserID, seller.IntegrationMode)
	httpjson.RenderStatus(w, http.StatusCreated, seller, httpjson.JSON)
}

func (h SellersHandler) GetSellers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sellers, err := h.Models.Sellers.GetAll(ctx, h.Models.DBConnectionPool)
	if err != nil {
		httperror.InternalError(ctx, "Cannot retrieve sellers", err, nil).Render(w)
		return
	}

	httpjson.RenderStatus(w, http.StatusOK, sellers, httpjson.JSON)
}

func (h SellersHandler) GetSeller(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sellerID := chi.URLParam(r, "id")

	seller, err := h.Models.Sellers.Get(ctx, h.Models.DBConnectionPool, sellerID)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			httperror.NotFound("Seller not found.", err, nil).Render(w)
			return
		}
		httperror.InternalError(ctx, "Cannot retrieve the seller", err, nil).Render(w)
		return
	}

	httpjson.RenderStatus(w, http.StatusOK, seller, httpjson.JSON)
}

func (h SellersHandler) PatchSeller(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sellerID := chi.URLParam(r, "id")

	var req validators.SellerRequest
	if err := httpjson.DecodeJSON(r, &req); err != nil {
		httperror.BadRequest("The request body is not valid JSON.", err, nil).Render(w)
		return
	}

	sv := validators.NewSellerValidator()
	update := sv.ValidateUpdateRequest(&req)
	if sv.HasErrors() {
		httperror.BadRequest("The request was invalid in some way.", nil, sv.Errors).Render(w)
		return
	}

	seller, err := h.Models.Sellers.Update(ctx, sellerID, update)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			httperror.NotFound("Seller not found.", err, nil).Render(w)
		case errors.Is(err, data.ErrERPContractViolation):
			httperror.UnprocessableEntity(err.Error(), err, nil).Render(w)
		default:
			httperror.InternalError(ctx, "Cannot update the seller", err, nil).Render(w)
		}
		return
	}

	httpjson.RenderStatus(w, http.StatusOK, seller, httpjson.JSON)
}

// ActivateSeller flips the seller to active and, for dashboard_erp sellers
// whose history was never replayed, kicks the onboarding backfill in the
// background. The response does not wait for the backfill; progress is
// visible on the seller row.
func (h SellersHandler) ActivateSeller(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sellerID := chi.URLParam(r, "id")

	seller, err := h.Models.Sellers.UpdateOnboardingStatus(ctx, h.Models.DBConnectionPool, sellerID, data.ActiveOnboardingStatus)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			httperror.NotFound("Seller not found.", err, nil).Render(w)
			return
		}
		httperror.InternalError(ctx, "Cannot activate the seller", err, nil).Render(w)
		return
	}

	if h.shouldKickBackfill(seller) {
		backfillCtx := context.WithoutCancel(ctx)
		kicked := *seller
		go func() {
			if _, runErr := h.Backfill.Run(backfillCtx, &kicked, services.BackfillOptions{}); runErr != nil {
				log.Ctx(backfillCtx).Errorf("onboarding backfill for seller %s: %v", kicked.ID, runErr)
			}
		}()
		log.Ctx(ctx).Infof("activated seller %s and started the onboarding backfill", seller.ID)
	} else {
		log.Ctx(ctx).Infof("activated seller %s", seller.ID)
	}

	httpjson.RenderStatus(w, http.StatusOK, seller, httpjson.JSON)
}

func (h SellersHandler) SuspendSeller(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sellerID := chi.URLParam(r, "id")

	seller, err := h.Models.Sellers.UpdateOnboardingStatus(ctx, h.Models.DBConnectionPool, sellerID, data.SuspendedOnboardingStatus)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			httperror.NotFound("Seller not found.", err, nil).Render(w)
			return
		}
		httperror.InternalError(ctx, "Cannot suspend the seller", err, nil).Render(w)
		return
	}

	log.Ctx(ctx).Infof("suspended seller %s", seller.ID)
	httpjson.RenderStatus(w, http.StatusOK, seller, httpjson.JSON)
}

// shouldKickBackfill: only dashboard_erp sellers get a replay, and only when
// one is not already running or done.
func (h SellersHandler) shouldKickBackfill(seller *data.Seller) bool {
	if h.Backfill == nil || !seller.IntegrationMode.PostsToERP() {
		return false
	}
	if seller.BackfillStatus == nil {
		return true
	}
	return *seller.BackfillStatus != data.CompletedBackfillStatus && *seller.BackfillStatus != data.RunningBackfillStatus
}
