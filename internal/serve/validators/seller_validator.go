package validators

import (
	"strings"
	"time"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
)

type SellerRequest struct {
	ID                       string `json:"id"`
	MarketplaceUserID        string `json:"marketplace_user_id"`
	CompanyName              string `json:"company_name"`
	BusinessGroup            string `json:"business_group"`
	Segment                  string `json:"segment"`
	AppClientID              string `json:"app_client_id"`
	AppClientSecret          string `json:"app_client_secret"`
	ERPFinancialAccountID    string `json:"erp_financial_account_id"`
	ERPCostCenterID          string `json:"erp_cost_center_id"`
	ERPContactID             string `json:"erp_contact_id"`
	ERPRetainedAccountID     string `json:"erp_retained_account_id"`
	ERPRevenueCategoryID     string `json:"erp_revenue_category_id"`
	ERPCommissionCategoryID  string `json:"erp_commission_category_id"`
	ERPShippingCategoryID    string `json:"erp_shipping_category_id"`
	ERPReturnsCategoryID     string `json:"erp_returns_category_id"`
	ERPFeeReversalCategoryID string `json:"erp_fee_reversal_category_id"`
	IntegrationMode          string `json:"integration_mode"`
	ERPStartDate             string `json:"erp_start_date"`
}

type SellerValidator struct {
	*Validator
}

func NewSellerValidator() *SellerValidator {
	return &SellerValidator{Validator: NewValidator()}
}

// ValidateCreateRequest checks the request and shapes it into a SellerInsert.
// The returned insert is only meaningful when HasErrors() is false.
func (sv *SellerValidator) ValidateCreateRequest(req *SellerRequest) data.SellerInsert {
	id := strings.TrimSpace(req.ID)
	marketplaceUserID := strings.TrimSpace(req.MarketplaceUserID)

	sv.Check(id != "", "id", "id is required")
	if marketplaceUserID == "" {
		sv.AddError("marketplace_user_id", "marketplace_user_id is required")
	} else {
		sv.CheckError(utils.ValidateSellerID(marketplaceUserID), "marketplace_user_id", "")
	}

	mode := sv.validateAndGetIntegrationMode(req.IntegrationMode)
	startDate := sv.validateAndGetStartDate(req.ERPStartDate)

	if mode.PostsToERP() {
		sv.Check(strings.TrimSpace(req.ERPFinancialAccountID) != "", "erp_financial_account_id", "erp_financial_account_id is required for erp integration")
		sv.Check(strings.TrimSpace(req.ERPCostCenterID) != "", "erp_cost_center_id", "erp_cost_center_id is required for erp integration")
		sv.Check(strings.TrimSpace(req.ERPContactID) != "", "erp_contact_id", "erp_contact_id is required for erp integration")
		sv.Check(startDate != nil, "erp_start_date", "erp_start_date is required for erp integration")
	}

	return data.SellerInsert{
		ID:                       id,
		MarketplaceUserID:        marketplaceUserID,
		CompanyName:              strings.TrimSpace(req.CompanyName),
		BusinessGroup:            strings.TrimSpace(req.BusinessGroup),
		Segment:                  strings.TrimSpace(req.Segment),
		AppClientID:              strings.TrimSpace(req.AppClientID),
		AppClientSecret:          strings.TrimSpace(req.AppClientSecret),
		ERPFinancialAccountID:    strings.TrimSpace(req.ERPFinancialAccountID),
		ERPCostCenterID:          strings.TrimSpace(req.ERPCostCenterID),
		ERPContactID:             strings.TrimSpace(req.ERPContactID),
		ERPRetainedAccountID:     strings.TrimSpace(req.ERPRetainedAccountID),
		ERPRevenueCategoryID:     strings.TrimSpace(req.ERPRevenueCategoryID),
		ERPCommissionCategoryID:  strings.TrimSpace(req.ERPCommissionCategoryID),
		ERPShippingCategoryID:    strings.TrimSpace(req.ERPShippingCategoryID),
		ERPReturnsCategoryID:     strings.TrimSpace(req.ERPReturnsCategoryID),
		ERPFeeReversalCategoryID: strings.TrimSpace(req.ERPFeeReversalCategoryID),
		IntegrationMode:          mode,
		ERPStartDate:             startDate,
	}
}

// ValidateUpdateRequest checks a partial update. Zero-valued fields are left
// alone; the model re-validates the ERP contract against the merged row.
func (sv *SellerValidator) ValidateUpdateRequest(req *SellerRequest) data.SellerUpdate {
	update := data.SellerUpdate{
		CompanyName:              strings.TrimSpace(req.CompanyName),
		BusinessGroup:            strings.TrimSpace(req.BusinessGroup),
		Segment:                  strings.TrimSpace(req.Segment),
		AppClientID:              strings.TrimSpace(req.AppClientID),
		AppClientSecret:          strings.TrimSpace(req.AppClientSecret),
		ERPFinancialAccountID:    strings.TrimSpace(req.ERPFinancialAccountID),
		ERPCostCenterID:          strings.TrimSpace(req.ERPCostCenterID),
		ERPContactID:             strings.TrimSpace(req.ERPContactID),
		ERPRetainedAccountID:     strings.TrimSpace(req.ERPRetainedAccountID),
		ERPRevenueCategoryID:     strings.TrimSpace(req.ERPRevenueCategoryID),
		ERPCommissionCategoryID:  strings.TrimSpace(req.ERPCommissionCategoryID),
		ERPShippingCategoryID:    strings.TrimSpace(req.ERPShippingCategoryID),
		ERPReturnsCategoryID:     strings.TrimSpace(req.ERPReturnsCategoryID),
		ERPFeeReversalCategoryID: strings.TrimSpace(req.ERPFeeReversalCategoryID),
	}

	if req.IntegrationMode != "" {
		update.IntegrationMode = sv.validateAndGetIntegrationMode(req.IntegrationMode)
	}
	if req.ERPStartDate != "" {
		update.ERPStartDate = sv.validateAndGetStartDate(req.ERPStartDate)
	}

	if utils.IsEmpty(update) {
		sv.AddError("body", "provide at least one field to update")
	}

	return update
}

func (sv *SellerValidator) validateAndGetIntegrationMode(raw string) data.IntegrationMode {
	mode := data.IntegrationMode(strings.ToLower(strings.TrimSpace(raw)))
	if mode == "" {
		return data.DashboardOnlyIntegrationMode
	}
	if err := mode.Validate(); err != nil {
		sv.AddError("integration_mode", "invalid parameter. valid values are: dashboard_only, dashboard_erp")
	}
	return mode
}

// validateAndGetStartDate parses erp_start_date and enforces the
// first-of-month rule, so cumulative revenue lines up with ERP closings.
func (sv *SellerValidator) validateAndGetStartDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	startDate, err := time.ParseInLocation("2006-01-02", raw, utils.OperationalZone)
	if err != nil {
		sv.AddError("erp_start_date", "invalid date format. valid format is 'YYYY-MM-DD'")
		return nil
	}
	if startDate.Day() != 1 {
		sv.AddError("erp_start_date", "erp_start_date must fall on the first day of a month")
		return nil
	}

	return &startDate
}
