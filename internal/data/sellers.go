package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
)

type IntegrationMode string

const (
	DashboardOnlyIntegrationMode IntegrationMode = "dashboard_only"
	DashboardERPIntegrationMode  IntegrationMode = "dashboard_erp"
)

func (m IntegrationMode) Validate() error {
	switch m {
	case DashboardOnlyIntegrationMode, DashboardERPIntegrationMode:
		return nil
	default:
		return fmt.Errorf("invalid integration mode: %s", m)
	}
}

// PostsToERP reports whether sellers in this mode get postings sent to the ERP.
func (m IntegrationMode) PostsToERP() bool {
	return m == DashboardERPIntegrationMode
}

type OnboardingStatus string

const (
	PendingApprovalOnboardingStatus OnboardingStatus = "pending_approval"
	ApprovedOnboardingStatus        OnboardingStatus = "approved"
	ActiveOnboardingStatus          OnboardingStatus = "active"
	SuspendedOnboardingStatus       OnboardingStatus = "suspended"
)

func (s OnboardingStatus) Validate() error {
	switch s {
	case PendingApprovalOnboardingStatus, ApprovedOnboardingStatus, ActiveOnboardingStatus, SuspendedOnboardingStatus:
		return nil
	default:
		return fmt.Errorf("invalid onboarding status: %s", s)
	}
}

type BackfillStatus string

const (
	PendingBackfillStatus   BackfillStatus = "pending"
	RunningBackfillStatus   BackfillStatus = "running"
	CompletedBackfillStatus BackfillStatus = "completed"
	FailedBackfillStatus    BackfillStatus = "failed"
)

func (s BackfillStatus) Validate() error {
	switch s {
	case PendingBackfillStatus, RunningBackfillStatus, CompletedBackfillStatus, FailedBackfillStatus:
		return nil
	default:
		return fmt.Errorf("invalid backfill status: %s", s)
	}
}

type Seller struct {
	ID                    string     `json:"id" db:"id"`
	MarketplaceUserID     string     `json:"marketplace_user_id" db:"marketplace_user_id"`
	CompanyName           string     `json:"company_name,omitempty" db:"company_name"`
	BusinessGroup         string     `json:"business_group,omitempty" db:"business_group"`
	Segment               string     `json:"segment,omitempty" db:"segment"`
	AccessToken           string     `json:"-" db:"access_token"`
	RefreshToken          string     `json:"-" db:"refresh_token"`
	TokenExpiresAt        *time.Time `json:"token_expires_at,omitempty" db:"token_expires_at"`
	AppClientID           string     `json:"app_client_id,omitempty" db:"app_client_id"`
	AppClientSecret       string     `json:"-" db:"app_client_secret"`
	ERPFinancialAccountID string     `json:"erp_financial_account_id,omitempty" db:"erp_financial_account_id"`
	ERPCostCenterID       string     `json:"erp_cost_center_id,omitempty" db:"erp_cost_center_id"`
	ERPContactID          string     `json:"erp_contact_id,omitempty" db:"erp_contact_id"`
	// ERPRetainedAccountID is the financial account where the marketplace's
	// retained funds are booked; settlements only ever target its parcels.
	ERPRetainedAccountID    string `json:"erp_retained_account_id,omitempty" db:"erp_retained_account_id"`
	ERPRevenueCategoryID    string `json:"erp_revenue_category_id,omitempty" db:"erp_revenue_category_id"`
	ERPCommissionCategoryID string `json:"erp_commission_category_id,omitempty" db:"erp_commission_category_id"`
	ERPShippingCategoryID   string `json:"erp_shipping_category_id,omitempty" db:"erp_shipping_category_id"`
	// ERPReturnsCategoryID and ERPFeeReversalCategoryID are optional; when
	// unset, reversals fall back to the revenue and commission categories
	// so the totals net out inside the original categories.
	ERPReturnsCategoryID     string           `json:"erp_returns_category_id,omitempty" db:"erp_returns_category_id"`
	ERPFeeReversalCategoryID string           `json:"erp_fee_reversal_category_id,omitempty" db:"erp_fee_reversal_category_id"`
	IntegrationMode          IntegrationMode  `json:"integration_mode" db:"integration_mode"`
	ERPStartDate             *time.Time       `json:"erp_start_date,omitempty" db:"erp_start_date"`
	OnboardingStatus         OnboardingStatus `json:"onboarding_status" db:"onboarding_status"`
	BackfillStatus           *BackfillStatus  `json:"backfill_status,omitempty" db:"backfill_status"`
	BackfillProgress         json.RawMessage  `json:"backfill_progress,omitempty" db:"backfill_progress"`
	CreatedAt                time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt                time.Time        `json:"updated_at" db:"updated_at"`
}

// HasOwnAppCredentials reports whether the seller authenticates with its own
// marketplace application instead of the shared one.
func (s *Seller) HasOwnAppCredentials() bool {
	return s.AppClientID != "" && s.AppClientSecret != ""
}

// ReturnsCategoryID is the category refund and chargeback reversals post
// under, falling back to the revenue category.
func (s *Seller) ReturnsCategoryID() string {
	if s.ERPReturnsCategoryID != "" {
		return s.ERPReturnsCategoryID
	}
	return s.ERPRevenueCategoryID
}

// FeeReversalCategoryID is the category fee credits post under, falling back
// to the commission category.
func (s *Seller) FeeReversalCategoryID() string {
	if s.ERPFeeReversalCategoryID != "" {
		return s.ERPFeeReversalCategoryID
	}
	return s.ERPCommissionCategoryID
}

type SellerModel struct {
	dbConnectionPool db.DBConnectionPool
}

type SellerInsert struct {
	ID                       string          `db:"id"`
	MarketplaceUserID        string          `db:"marketplace_user_id"`
	CompanyName              string          `db:"company_name"`
	BusinessGroup            string          `db:"business_group"`
	Segment                  string          `db:"segment"`
	AppClientID              string          `db:"app_client_id"`
	AppClientSecret          string          `db:"app_client_secret"`
	ERPFinancialAccountID    string          `db:"erp_financial_account_id"`
	ERPCostCenterID          string          `db:"erp_cost_center_id"`
	ERPContactID             string          `db:"erp_contact_id"`
	ERPRetainedAccountID     string          `db:"erp_retained_account_id"`
	ERPRevenueCategoryID     string          `db:"erp_revenue_category_id"`
	ERPCommissionCategoryID  string          `db:"erp_commission_category_id"`
	ERPShippingCategoryID    string          `db:"erp_shipping_category_id"`
	ERPReturnsCategoryID     string          `db:"erp_returns_category_id"`
	ERPFeeReversalCategoryID string          `db:"erp_fee_reversal_category_id"`
	IntegrationMode          IntegrationMode `db:"integration_mode"`
	ERPStartDate             *time.Time      `db:"erp_start_date"`
}

func (s *SellerInsert) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(s.MarketplaceUserID) == "" {
		return fmt.Errorf("marketplace_user_id is required")
	}
	if s.IntegrationMode == "" {
		s.IntegrationMode = DashboardOnlyIntegrationMode
	}
	if err := s.IntegrationMode.Validate(); err != nil {
		return err
	}
	if s.IntegrationMode.PostsToERP() {
		return validateERPTargets(s.ERPFinancialAccountID, s.ERPCostCenterID, s.ERPContactID, s.ERPStartDate)
	}
	return nil
}

// validateERPTargets enforces the dashboard_erp contract: all three ERP
// bookkeeping targets present and a start date on the first day of a month,
// so cumulative revenue comparisons line up with monthly ERP closings.
func validateERPTargets(financialAccountID, costCenterID, contactID string, startDate *time.Time) error {
	if strings.TrimSpace(financialAccountID) == "" {
		return fmt.Errorf("%w: erp_financial_account_id is required for erp integration", ErrERPContractViolation)
	}
	if strings.TrimSpace(costCenterID) == "" {
		return fmt.Errorf("%w: erp_cost_center_id is required for erp integration", ErrERPContractViolation)
	}
	if strings.TrimSpace(contactID) == "" {
		return fmt.Errorf("%w: erp_contact_id is required for erp integration", ErrERPContractViolation)
	}
	if startDate == nil {
		return fmt.Errorf("%w: erp_start_date is required for erp integration", ErrERPContractViolation)
	}
	if startDate.Day() != 1 {
		return fmt.Errorf("%w: erp_start_date must fall on the first day of a month, got %s", ErrERPContractViolation, startDate.Format("2006-01-02"))
	}
	return nil
}

const sellerColumns = `
		s.id,
		s.marketplace_user_id,
		COALESCE(s.company_name, '') AS company_name,
		COALESCE(s.business_group, '') AS business_group,
		COALESCE(s.segment, '') AS segment,
		COALESCE(s.access_token, '') AS access_token,
		COALESCE(s.refresh_token, '') AS refresh_token,
		s.token_expires_at,
		COALESCE(s.app_client_id, '') AS app_client_id,
		COALESCE(s.app_client_secret, '') AS app_client_secret,
		COALESCE(s.erp_financial_account_id, '') AS erp_financial_account_id,
		COALESCE(s.erp_cost_center_id, '') AS erp_cost_center_id,
		COALESCE(s.erp_contact_id, '') AS erp_contact_id,
		COALESCE(s.erp_retained_account_id, '') AS erp_retained_account_id,
		COALESCE(s.erp_revenue_category_id, '') AS erp_revenue_category_id,
		COALESCE(s.erp_commission_category_id, '') AS erp_commission_category_id,
		COALESCE(s.erp_shipping_category_id, '') AS erp_shipping_category_id,
		COALESCE(s.erp_returns_category_id, '') AS erp_returns_category_id,
		COALESCE(s.erp_fee_reversal_category_id, '') AS erp_fee_reversal_category_id,
		s.integration_mode,
		s.erp_start_date,
		s.onboarding_status,
		s.backfill_status,
		s.backfill_progress,
		s.created_at,
		s.updated_at
	`

func (m *SellerModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, insert SellerInsert) (*Seller, error) {
	if err := insert.Validate(); err != nil {
		return nil, fmt.Errorf("validating seller insert: %w", err)
	}

	query := `
		INSERT INTO sellers
			(id, marketplace_user_id, company_name, business_group, segment, app_client_id, app_client_secret,
			erp_financial_account_id, erp_cost_center_id, erp_contact_id, erp_retained_account_id,
			erp_revenue_category_id, erp_commission_category_id, erp_shipping_category_id,
			erp_returns_category_id, erp_fee_reversal_category_id,
			integration_mode, erp_start_date)
		VALUES
			($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''),
			NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''),
			NULLIF($12, ''), NULLIF($13, ''), NULLIF($14, ''),
			NULLIF($15, ''), NULLIF($16, ''), $17, $18)
		RETURNING ` + strings.ReplaceAll(sellerColumns, "s.", "")

	var seller Seller
	err := sqlExec.GetContext(ctx, &seller, query,
		insert.ID,
		insert.MarketplaceUserID,
		insert.CompanyName,
		insert.BusinessGroup,
		insert.Segment,
		insert.AppClientID,
		insert.AppClientSecret,
		insert.ERPFinancialAccountID,
		insert.ERPCostCenterID,
		insert.ERPContactID,
		insert.ERPRetainedAccountID,
		insert.ERPRevenueCategoryID,
		insert.ERPCommissionCategoryID,
		insert.ERPShippingCategoryID,
		insert.ERPReturnsCategoryID,
		insert.ERPFeeReversalCategoryID,
		insert.IntegrationMode,
		insert.ERPStartDate,
	)
	if err != nil {
		var pqError *pq.Error
		if errors.As(err, &pqError) && pqError.Code.Name() == "unique_violation" {
			return nil, ErrRecordAlreadyExists
		}
		return nil, fmt.Errorf("inserting seller %s: %w", insert.ID, err)
	}

	return &seller, nil
}

func (m *SellerModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id string) (*Seller, error) {
	query := `SELECT ` + sellerColumns + ` FROM sellers s WHERE s.id = $1`

	var seller Seller
	err := sqlExec.GetContext(ctx, &seller, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("getting seller %s: %w", id, err)
	}

	return &seller, nil
}

func (m *SellerModel) GetByMarketplaceUserID(ctx context.Context, sqlExec db.SQLExecuter, marketplaceUserID string) (*Seller, error) {
	query := `SELECT ` + sellerColumns + ` FROM sellers s WHERE s.marketplace_user_id = $1`

	var seller Seller
	err := sqlExec.GetContext(ctx, &seller, query, marketplaceUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("getting seller by marketplace user id %s: %w", marketplaceUserID, err)
	}

	return &seller, nil
}

func (m *SellerModel) GetAll(ctx context.Context, sqlExec db.SQLExecuter) ([]Seller, error) {
	query := `SELECT ` + sellerColumns + ` FROM sellers s ORDER BY s.id ASC`

	sellers := []Seller{}
	err := sqlExec.SelectContext(ctx, &sellers, query)
	if err != nil {
		return nil, fmt.Errorf("getting all sellers: %w", err)
	}

	return sellers, nil
}

// GetAllActive lists the sellers the pipeline works on.
func (m *SellerModel) GetAllActive(ctx context.Context, sqlExec db.SQLExecuter) ([]Seller, error) {
	query := `SELECT ` + sellerColumns + ` FROM sellers s WHERE s.onboarding_status = $1 ORDER BY s.id ASC`

	sellers := []Seller{}
	err := sqlExec.SelectContext(ctx, &sellers, query, ActiveOnboardingStatus)
	if err != nil {
		return nil, fmt.Errorf("getting active sellers: %w", err)
	}

	return sellers, nil
}

type SellerUpdate struct {
	CompanyName              string          `db:"company_name"`
	BusinessGroup            string          `db:"business_group"`
	Segment                  string          `db:"segment"`
	AppClientID              string          `db:"app_client_id"`
	AppClientSecret          string          `db:"app_client_secret"`
	ERPFinancialAccountID    string          `db:"erp_financial_account_id"`
	ERPCostCenterID          string          `db:"erp_cost_center_id"`
	ERPContactID             string          `db:"erp_contact_id"`
	ERPRetainedAccountID     string          `db:"erp_retained_account_id"`
	ERPRevenueCategoryID     string          `db:"erp_revenue_category_id"`
	ERPCommissionCategoryID  string          `db:"erp_commission_category_id"`
	ERPShippingCategoryID    string          `db:"erp_shipping_category_id"`
	ERPReturnsCategoryID     string          `db:"erp_returns_category_id"`
	ERPFeeReversalCategoryID string          `db:"erp_fee_reversal_category_id"`
	IntegrationMode          IntegrationMode `db:"integration_mode"`
	ERPStartDate             *time.Time      `db:"erp_start_date"`
}

func (u *SellerUpdate) Validate() error {
	if utils.IsEmpty(*u) {
		return fmt.Errorf("provide at least one field to update: %w", ErrMissingInput)
	}
	if u.IntegrationMode != "" {
		if err := u.IntegrationMode.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Update applies a partial update and re-validates the ERP contract against
// the resulting row.
func (m *SellerModel) Update(ctx context.Context, id string, update SellerUpdate) (*Seller, error) {
	if err := update.Validate(); err != nil {
		return nil, fmt.Errorf("validating seller update: %w", err)
	}

	return db.RunInTransactionWithResult(ctx, m.dbConnectionPool, nil, func(dbTx db.DBTransaction) (*Seller, error) {
		setClause, params := BuildSetClause(update)
		query := fmt.Sprintf("UPDATE sellers SET %s WHERE id = ? RETURNING "+strings.ReplaceAll(sellerColumns, "s.", ""), setClause)
		params = append(params, id)

		var seller Seller
		err := dbTx.GetContext(ctx, &seller, dbTx.Rebind(query), params...)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrRecordNotFound
			}
			return nil, fmt.Errorf("updating seller %s: %w", id, err)
		}

		if seller.IntegrationMode.PostsToERP() {
			if err = validateERPTargets(seller.ERPFinancialAccountID, seller.ERPCostCenterID, seller.ERPContactID, seller.ERPStartDate); err != nil {
				return nil, fmt.Errorf("updating seller %s: %w", id, err)
			}
		}

		return &seller, nil
	})
}

// UpdateTokens persists a refreshed marketplace credential pair.
func (m *SellerModel) UpdateTokens(ctx context.Context, sqlExec db.SQLExecuter, id, accessToken, refreshToken string, expiresAt time.Time) error {
	if accessToken == "" || refreshToken == "" {
		return fmt.Errorf("access and refresh tokens are required: %w", ErrMissingInput)
	}

	query := `
		UPDATE sellers
		SET access_token = $1, refresh_token = $2, token_expires_at = $3
		WHERE id = $4`

	result, err := sqlExec.ExecContext(ctx, query, accessToken, refreshToken, expiresAt, id)
	if err != nil {
		return fmt.Errorf("updating tokens for seller %s: %w", id, err)
	}
	numRowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting number of rows affected: %w", err)
	}
	if numRowsAffected != 1 {
		return fmt.Errorf("updating tokens for seller %s: %w", id, ErrRecordNotFound)
	}

	return nil
}

func (m *SellerModel) UpdateOnboardingStatus(ctx context.Context, sqlExec db.SQLExecuter, id string, status OnboardingStatus) (*Seller, error) {
	if err := status.Validate(); err != nil {
		return nil, err
	}

	query := `UPDATE sellers SET onboarding_status = $1 WHERE id = $2 RETURNING ` + strings.ReplaceAll(sellerColumns, "s.", "")

	var seller Seller
	err := m.dbConnectionPool.GetContext(ctx, &seller, query, status, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("updating onboarding status for seller %s: %w", id, err)
	}

	return &seller, nil
}

// UpdateBackfillState records backfill progress so an interrupted run can resume.
func (m *SellerModel) UpdateBackfillState(ctx context.Context, sqlExec db.SQLExecuter, id string, status BackfillStatus, progress json.RawMessage) error {
	if err := status.Validate(); err != nil {
		return err
	}

	query := `UPDATE sellers SET backfill_status = $1, backfill_progress = COALESCE($2, backfill_progress) WHERE id = $3`

	result, err := sqlExec.ExecContext(ctx, query, status, []byte(progress), id)
	if err != nil {
		return fmt.Errorf("updating backfill state for seller %s: %w", id, err)
	}
	numRowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting number of rows affected: %w", err)
	}
	if numRowsAffected != 1 {
		return fmt.Errorf("updating backfill state for seller %s: %w", id, ErrRecordNotFound)
	}

	return nil
}
