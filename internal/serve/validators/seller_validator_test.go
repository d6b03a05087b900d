package validators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
)

func Test_SellerValidator_ValidateCreateRequest(t *testing.T) {
	t.Run("🎉 dashboard-only seller with minimal fields", func(t *testing.T) {
		validator := NewSellerValidator()
		insert := validator.ValidateCreateRequest(&SellerRequest{
			ID:                "loja-centro",
			MarketplaceUserID: "74952319",
		})

		assert.False(t, validator.HasErrors())
		assert.Equal(t, "loja-centro", insert.ID)
		assert.Equal(t, "74952319", insert.MarketplaceUserID)
		assert.Equal(t, data.DashboardOnlyIntegrationMode, insert.IntegrationMode)
		assert.Nil(t, insert.ERPStartDate)
	})

	t.Run("🎉 dashboard_erp seller with full ERP targets", func(t *testing.T) {
		validator := NewSellerValidator()
		insert := validator.ValidateCreateRequest(&SellerRequest{
			ID:                    "loja-matriz",
			MarketplaceUserID:     "74952319",
			CompanyName:           "  Loja Matriz LTDA  ",
			IntegrationMode:       "dashboard_erp",
			ERPFinancialAccountID: "fa-1",
			ERPCostCenterID:       "cc-1",
			ERPContactID:          "ct-1",
			ERPStartDate:          "2025-03-01",
		})

		require.False(t, validator.HasErrors(), "unexpected errors: %v", validator.Errors)
		assert.Equal(t, "Loja Matriz LTDA", insert.CompanyName)
		assert.Equal(t, data.DashboardERPIntegrationMode, insert.IntegrationMode)
		require.NotNil(t, insert.ERPStartDate)
		assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, utils.OperationalZone), *insert.ERPStartDate)
	})

	t.Run("missing required fields", func(t *testing.T) {
		validator := NewSellerValidator()
		validator.ValidateCreateRequest(&SellerRequest{})

		assert.True(t, validator.HasErrors())
		assert.Equal(t, "id is required", validator.Errors["id"])
		assert.Equal(t, "marketplace_user_id is required", validator.Errors["marketplace_user_id"])
	})

	t.Run("marketplace user id must be numeric", func(t *testing.T) {
		validator := NewSellerValidator()
		validator.ValidateCreateRequest(&SellerRequest{
			ID:                "loja-centro",
			MarketplaceUserID: "not-a-number",
		})

		assert.True(t, validator.HasErrors())
		assert.Equal(t, utils.ErrInvalidSellerID.Error(), validator.Errors["marketplace_user_id"])
	})

	t.Run("erp mode demands the bookkeeping targets", func(t *testing.T) {
		validator := NewSellerValidator()
		validator.ValidateCreateRequest(&SellerRequest{
			ID:                "loja-matriz",
			MarketplaceUserID: "74952319",
			IntegrationMode:   "dashboard_erp",
		})

		assert.True(t, validator.HasErrors())
		assert.Equal(t, "erp_financial_account_id is required for erp integration", validator.Errors["erp_financial_account_id"])
		assert.Equal(t, "erp_cost_center_id is required for erp integration", validator.Errors["erp_cost_center_id"])
		assert.Equal(t, "erp_contact_id is required for erp integration", validator.Errors["erp_contact_id"])
		assert.Equal(t, "erp_start_date is required for erp integration", validator.Errors["erp_start_date"])
	})

	t.Run("start date must be the first of a month", func(t *testing.T) {
		validator := NewSellerValidator()
		validator.ValidateCreateRequest(&SellerRequest{
			ID:                "loja-matriz",
			MarketplaceUserID: "74952319",
			ERPStartDate:      "2025-03-15",
		})

		assert.True(t, validator.HasErrors())
		assert.Equal(t, "erp_start_date must fall on the first day of a month", validator.Errors["erp_start_date"])
	})

	t.Run("invalid integration mode", func(t *testing.T) {
		validator := NewSellerValidator()
		validator.ValidateCreateRequest(&SellerRequest{
			ID:                "loja-centro",
			MarketplaceUserID: "74952319",
			IntegrationMode:   "full_sync",
		})

		assert.True(t, validator.HasErrors())
		assert.Equal(t, "invalid parameter. valid values are: dashboard_only, dashboard_erp", validator.Errors["integration_mode"])
	})
}

func Test_SellerValidator_ValidateUpdateRequest(t *testing.T) {
	t.Run("🎉 partial update keeps untouched fields zero", func(t *testing.T) {
		validator := NewSellerValidator()
		update := validator.ValidateUpdateRequest(&SellerRequest{
			CompanyName: "Loja Renomeada",
		})

		assert.False(t, validator.HasErrors())
		assert.Equal(t, "Loja Renomeada", update.CompanyName)
		assert.Empty(t, update.IntegrationMode)
		assert.Nil(t, update.ERPStartDate)
	})

	t.Run("empty body is rejected", func(t *testing.T) {
		validator := NewSellerValidator()
		validator.ValidateUpdateRequest(&SellerRequest{})

		assert.True(t, validator.HasErrors())
		assert.Equal(t, "provide at least one field to update", validator.Errors["body"])
	})

	t.Run("invalid start date format", func(t *testing.T) {
		validator := NewSellerValidator()
		validator.ValidateUpdateRequest(&SellerRequest{
			ERPStartDate: "01-03-2025",
		})

		assert.True(t, validator.HasErrors())
		assert.Equal(t, "invalid date format. valid format is 'YYYY-MM-DD'", validator.Errors["erp_start_date"])
	})
}
