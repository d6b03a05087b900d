package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
)

type ExpenseSource string

const (
	MarketplaceAPIExpenseSource ExpenseSource = "marketplace_api"
	BankStatementExpenseSource  ExpenseSource = "bank_statement"
)

func (s ExpenseSource) Validate() error {
	switch s {
	case MarketplaceAPIExpenseSource, BankStatementExpenseSource:
		return nil
	default:
		return fmt.Errorf("invalid expense source: %s", s)
	}
}

type ExpenseDirection string

const (
	ExpenseDirectionExpense  ExpenseDirection = "expense"
	ExpenseDirectionIncome   ExpenseDirection = "income"
	ExpenseDirectionTransfer ExpenseDirection = "transfer"
)

func (d ExpenseDirection) Validate() error {
	switch d {
	case ExpenseDirectionExpense, ExpenseDirectionIncome, ExpenseDirectionTransfer:
		return nil
	default:
		return fmt.Errorf("invalid expense direction: %s", d)
	}
}

type ExpenseStatus string

const (
	PendingReviewExpenseStatus       ExpenseStatus = "pending_review"
	AutoCategorizedExpenseStatus     ExpenseStatus = "auto_categorized"
	ManuallyCategorizedExpenseStatus ExpenseStatus = "manually_categorized"
	ExportedExpenseStatus            ExpenseStatus = "exported"
	ImportedExpenseStatus            ExpenseStatus = "imported"
)

func (s ExpenseStatus) Validate() error {
	switch s {
	case PendingReviewExpenseStatus, AutoCategorizedExpenseStatus, ManuallyCategorizedExpenseStatus,
		ExportedExpenseStatus, ImportedExpenseStatus:
		return nil
	default:
		return fmt.Errorf("invalid expense status: %s", s)
	}
}

// TransitionTo transitions the expense status to the target state
func (s ExpenseStatus) TransitionTo(target ExpenseStatus) error {
	return ExpenseStateMachineWithInitialState(s).TransitionTo(target.State())
}

func ExpenseStateMachineWithInitialState(initialState ExpenseStatus) *StateMachine {
	transitions := []StateTransition{
		{From: PendingReviewExpenseStatus.State(), To: AutoCategorizedExpenseStatus.State()},
		{From: PendingReviewExpenseStatus.State(), To: ManuallyCategorizedExpenseStatus.State()},
		{From: AutoCategorizedExpenseStatus.State(), To: ManuallyCategorizedExpenseStatus.State()}, // operator override
		{From: PendingReviewExpenseStatus.State(), To: ExportedExpenseStatus.State()},
		{From: AutoCategorizedExpenseStatus.State(), To: ExportedExpenseStatus.State()},
		{From: ManuallyCategorizedExpenseStatus.State(), To: ExportedExpenseStatus.State()},
		{From: ExportedExpenseStatus.State(), To: ImportedExpenseStatus.State()},
	}

	return NewStateMachine(initialState.State(), transitions)
}

func ExpenseStatuses() []ExpenseStatus {
	return []ExpenseStatus{PendingReviewExpenseStatus, AutoCategorizedExpenseStatus, ManuallyCategorizedExpenseStatus, ExportedExpenseStatus, ImportedExpenseStatus}
}

func (s ExpenseStatus) SourceStatuses() []ExpenseStatus {
	stateMachine := ExpenseStateMachineWithInitialState(PendingReviewExpenseStatus)
	fromStates := []ExpenseStatus{}
	for _, fromState := range ExpenseStatuses() {
		if stateMachine.Transitions[fromState.State()][s.State()] {
			fromStates = append(fromStates, fromState)
		}
	}
	return fromStates
}

func (s ExpenseStatus) State() State {
	return State(s)
}

type Expense struct {
	ID                string           `json:"id" db:"id"`
	SellerID          string           `json:"seller_id" db:"seller_id"`
	PaymentID         string           `json:"payment_id" db:"payment_id"`
	Source            ExpenseSource    `json:"source" db:"source"`
	ExpenseType       string           `json:"expense_type" db:"expense_type"`
	Direction         ExpenseDirection `json:"direction" db:"direction"`
	Amount            decimal.Decimal  `json:"amount" db:"amount"`
	ExpenseDate       time.Time        `json:"expense_date" db:"expense_date"`
	Description       string           `json:"description,omitempty" db:"description"`
	Beneficiary       string           `json:"beneficiary,omitempty" db:"beneficiary"`
	SuggestedCategory string           `json:"suggested_category,omitempty" db:"suggested_category"`
	Status            ExpenseStatus    `json:"status" db:"status"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

type ExpenseModel struct {
	dbConnectionPool db.DBConnectionPool
}

type ExpenseInsert struct {
	SellerID          string           `db:"seller_id"`
	PaymentID         string           `db:"payment_id"`
	Source            ExpenseSource    `db:"source"`
	ExpenseType       string           `db:"expense_type"`
	Direction         ExpenseDirection `db:"direction"`
	Amount            decimal.Decimal  `db:"amount"`
	ExpenseDate       time.Time        `db:"expense_date"`
	Description       string           `db:"description"`
	Beneficiary       string           `db:"beneficiary"`
	SuggestedCategory string           `db:"suggested_category"`
	Status            ExpenseStatus    `db:"status"`
}

func (e *ExpenseInsert) Validate() error {
	if strings.TrimSpace(e.SellerID) == "" {
		return fmt.Errorf("seller_id is required")
	}
	if strings.TrimSpace(e.PaymentID) == "" {
		return fmt.Errorf("payment_id is required")
	}
	if err := e.Source.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.ExpenseType) == "" {
		return fmt.Errorf("expense_type is required")
	}
	if err := e.Direction.Validate(); err != nil {
		return err
	}
	if e.ExpenseDate.IsZero() {
		return fmt.Errorf("expense_date is required")
	}
	if e.Status != "" {
		if err := e.Status.Validate(); err != nil {
			return err
		}
	}
	return nil
}

const expenseColumns = `
		e.id,
		e.seller_id,
		e.payment_id,
		e.source,
		e.expense_type,
		e.direction,
		e.amount,
		e.expense_date,
		COALESCE(e.description, '') AS description,
		COALESCE(e.beneficiary, '') AS beneficiary,
		COALESCE(e.suggested_category, '') AS suggested_category,
		e.status,
		e.created_at,
		e.updated_at
	`

// Insert records an expense, deduplicating on (seller_id, payment_id).
// Re-ingesting a statement therefore never duplicates rows; created is false
// when the expense was already known.
func (m *ExpenseModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, insert ExpenseInsert) (expense *Expense, created bool, err error) {
	if err = insert.Validate(); err != nil {
		return nil, false, fmt.Errorf("validating expense insert: %w", err)
	}

	if insert.Status == "" {
		insert.Status = PendingReviewExpenseStatus
	}

	query := `
		INSERT INTO expenses
			(seller_id, payment_id, source, expense_type, direction, amount, expense_date, description, beneficiary, suggested_category, status)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11)
		ON CONFLICT (seller_id, payment_id) DO NOTHING
		RETURNING ` + strings.ReplaceAll(expenseColumns, "e.", "")

	var inserted Expense
	err = sqlExec.GetContext(ctx, &inserted, query,
		insert.SellerID,
		insert.PaymentID,
		insert.Source,
		insert.ExpenseType,
		insert.Direction,
		insert.Amount,
		insert.ExpenseDate,
		insert.Description,
		insert.Beneficiary,
		insert.SuggestedCategory,
		insert.Status,
	)
	if err == nil {
		return &inserted, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("inserting expense %s for seller %s: %w", insert.PaymentID, insert.SellerID, err)
	}

	existing, err := m.GetByPaymentID(ctx, sqlExec, insert.SellerID, insert.PaymentID)
	if err != nil {
		return nil, false, fmt.Errorf("getting existing expense %s for seller %s: %w", insert.PaymentID, insert.SellerID, err)
	}
	return existing, false, nil
}

func (m *ExpenseModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id string) (*Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses e WHERE e.id = $1`

	var expense Expense
	err := sqlExec.GetContext(ctx, &expense, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("getting expense %s: %w", id, err)
	}

	return &expense, nil
}

func (m *ExpenseModel) GetByPaymentID(ctx context.Context, sqlExec db.SQLExecuter, sellerID, paymentID string) (*Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses e WHERE e.seller_id = $1 AND e.payment_id = $2`

	var expense Expense
	err := sqlExec.GetContext(ctx, &expense, query, sellerID, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("getting expense %s for seller %s: %w", paymentID, sellerID, err)
	}

	return &expense, nil
}

// GetAll returns expenses matching the given query parameters.
func (m *ExpenseModel) GetAll(ctx context.Context, sqlExec db.SQLExecuter, queryParams *QueryParams) ([]Expense, error) {
	qb := NewQueryBuilder(`SELECT ` + expenseColumns + ` FROM expenses e`)

	if queryParams.Filters[FilterKeySellerID] != nil {
		qb.AddCondition("e.seller_id = ?", queryParams.Filters[FilterKeySellerID])
	}
	if queryParams.Filters[FilterKeyStatus] != nil {
		qb.AddCondition("e.status = ?", queryParams.Filters[FilterKeyStatus])
	}
	if queryParams.Filters[FilterKeySource] != nil {
		qb.AddCondition("e.source = ?", queryParams.Filters[FilterKeySource])
	}
	if queryParams.Filters[FilterKeyDirection] != nil {
		qb.AddCondition("e.direction = ?", queryParams.Filters[FilterKeyDirection])
	}
	if queryParams.Filters[FilterKeyExpenseDateAfter] != nil {
		qb.AddCondition("e.expense_date >= ?", queryParams.Filters[FilterKeyExpenseDateAfter])
	}
	if queryParams.Filters[FilterKeyExpenseDateBefore] != nil {
		qb.AddCondition("e.expense_date <= ?", queryParams.Filters[FilterKeyExpenseDateBefore])
	}

	sortBy := queryParams.SortBy
	if sortBy == "" {
		sortBy = SortFieldExpenseDate
	}
	sortOrder := queryParams.SortOrder
	if sortOrder == "" {
		sortOrder = SortOrderASC
	}
	qb.AddSorting(sortBy, sortOrder, "e")
	qb.AddPagination(queryParams.Page, queryParams.PageLimit)

	query, params := qb.BuildAndRebind(sqlExec)

	expenses := []Expense{}
	err := sqlExec.SelectContext(ctx, &expenses, query, params...)
	if err != nil {
		return nil, fmt.Errorf("getting expenses: %w", err)
	}

	return expenses, nil
}

// Count returns how many expenses match the query parameters, ignoring
// pagination.
func (m *ExpenseModel) Count(ctx context.Context, sqlExec db.SQLExecuter, queryParams *QueryParams) (int, error) {
	qb := NewQueryBuilder(`SELECT COUNT(*) FROM expenses e`)

	if queryParams.Filters[FilterKeySellerID] != nil {
		qb.AddCondition("e.seller_id = ?", queryParams.Filters[FilterKeySellerID])
	}
	if queryParams.Filters[FilterKeyStatus] != nil {
		qb.AddCondition("e.status = ?", queryParams.Filters[FilterKeyStatus])
	}
	if queryParams.Filters[FilterKeySource] != nil {
		qb.AddCondition("e.source = ?", queryParams.Filters[FilterKeySource])
	}
	if queryParams.Filters[FilterKeyDirection] != nil {
		qb.AddCondition("e.direction = ?", queryParams.Filters[FilterKeyDirection])
	}
	if queryParams.Filters[FilterKeyExpenseDateAfter] != nil {
		qb.AddCondition("e.expense_date >= ?", queryParams.Filters[FilterKeyExpenseDateAfter])
	}
	if queryParams.Filters[FilterKeyExpenseDateBefore] != nil {
		qb.AddCondition("e.expense_date <= ?", queryParams.Filters[FilterKeyExpenseDateBefore])
	}

	query, params := qb.BuildAndRebind(sqlExec)

	var count int
	err := sqlExec.GetContext(ctx, &count, query, params...)
	if err != nil {
		return 0, fmt.Errorf("counting expenses: %w", err)
	}

	return count, nil
}

// GetForExport lists a seller's categorized expenses still waiting to reach
// the ERP. Rows pending review stay behind until an operator categorizes them.
func (m *ExpenseModel) GetForExport(ctx context.Context, sqlExec db.SQLExecuter, sellerID string, from, to time.Time) ([]Expense, error) {
	query := `
		SELECT ` + expenseColumns + `
		FROM expenses e
		WHERE e.seller_id = $1
			AND e.status = ANY($2)
			AND e.expense_date >= $3::date
			AND e.expense_date <= $4::date
		ORDER BY e.expense_date ASC, e.payment_id ASC`

	exportable := pq.Array([]string{
		string(AutoCategorizedExpenseStatus),
		string(ManuallyCategorizedExpenseStatus),
	})

	expenses := []Expense{}
	err := sqlExec.SelectContext(ctx, &expenses, query, sellerID, exportable, from, to)
	if err != nil {
		return nil, fmt.Errorf("getting exportable expenses for seller %s: %w", sellerID, err)
	}

	return expenses, nil
}

// UpdateStatus transitions an expense along the review lifecycle, optionally
// rewriting the suggested category at the same time.
func (m *ExpenseModel) UpdateStatus(ctx context.Context, sqlExec db.SQLExecuter, id string, targetStatus ExpenseStatus, suggestedCategory string) (*Expense, error) {
	if err := targetStatus.Validate(); err != nil {
		return nil, err
	}

	sourceStatuses := targetStatus.SourceStatuses()
	if len(sourceStatuses) == 0 {
		return nil, fmt.Errorf("no statuses can transition to %s", targetStatus)
	}
	sources := make([]string, 0, len(sourceStatuses))
	for _, s := range sourceStatuses {
		sources = append(sources, string(s))
	}

	query := `
		UPDATE expenses
		SET
			status = $1,
			suggested_category = COALESCE(NULLIF($2, ''), suggested_category)
		WHERE id = $3 AND status = ANY($4)
		RETURNING ` + strings.ReplaceAll(expenseColumns, "e.", "")

	var expense Expense
	err := sqlExec.GetContext(ctx, &expense, query, targetStatus, suggestedCategory, id, pq.Array(sources))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transitioning expense %s to %s: %w", id, targetStatus, ErrMismatchNumRowsAffected)
		}
		return nil, fmt.Errorf("transitioning expense %s to %s: %w", id, targetStatus, err)
	}

	return &expense, nil
}

// MarkStatusForIDs moves a set of expenses to targetStatus inside a surrounding
// transaction, enforcing the forward-only lifecycle.
func (m *ExpenseModel) MarkStatusForIDs(ctx context.Context, sqlExec db.SQLExecuter, targetStatus ExpenseStatus, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := targetStatus.Validate(); err != nil {
		return err
	}

	sourceStatuses := targetStatus.SourceStatuses()
	sources := make([]string, 0, len(sourceStatuses))
	for _, s := range sourceStatuses {
		sources = append(sources, string(s))
	}

	query := `UPDATE expenses SET status = $1 WHERE id = ANY($2) AND status = ANY($3)`

	result, err := sqlExec.ExecContext(ctx, query, targetStatus, pq.Array(ids), pq.Array(sources))
	if err != nil {
		return fmt.Errorf("marking %d expenses as %s: %w", len(ids), targetStatus, err)
	}
	numRowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting number of rows affected: %w", err)
	}
	if numRowsAffected != int64(len(ids)) {
		return fmt.Errorf("marking %d expenses as %s affected %d rows: %w", len(ids), targetStatus, numRowsAffected, ErrMismatchNumRowsAffected)
	}

	return nil
}

// CountUnimportedByDay counts the seller's expenses dated to the given
// calendar day that have not completed the export/import round trip into the
// ERP. expense_date is a plain date, so the day is compared as one too.
func (m *ExpenseModel) CountUnimportedByDay(ctx context.Context, sqlExec db.SQLExecuter, sellerID string, day time.Time) (int64, error) {
	query := `
		SELECT COUNT(*) FROM expenses
		WHERE seller_id = $1
			AND expense_date = $2
			AND status <> $3`

	var count int64
	err := sqlExec.GetContext(ctx, &count, query, sellerID, day.Format("2006-01-02"), ImportedExpenseStatus)
	if err != nil {
		return 0, fmt.Errorf("counting unimported expenses for seller %s: %w", sellerID, err)
	}
	return count, nil
}

// FilterCoveredPaymentIDs splits paymentIDs into those covered by an expense
// stored under the exact id and those covered under a composite
// "{id}:{abbrev}" key. An id can appear in both sets when a dispute produced
// several statement lines.
func (m *ExpenseModel) FilterCoveredPaymentIDs(ctx context.Context, sqlExec db.SQLExecuter, sellerID string, paymentIDs []string) (exact, composite map[string]struct{}, err error) {
	exact = make(map[string]struct{})
	composite = make(map[string]struct{})
	if len(paymentIDs) == 0 {
		return exact, composite, nil
	}

	query := `
		SELECT payment_id FROM expenses
		WHERE seller_id = $1
			AND (payment_id = ANY($2) OR split_part(payment_id, ':', 1) = ANY($2))`

	stored := []string{}
	err = sqlExec.SelectContext(ctx, &stored, query, sellerID, pq.Array(paymentIDs))
	if err != nil {
		return nil, nil, fmt.Errorf("filtering covered payment ids for seller %s: %w", sellerID, err)
	}

	for _, id := range stored {
		if base, _, isComposite := strings.Cut(id, ":"); isComposite {
			composite[base] = struct{}{}
		} else {
			exact[id] = struct{}{}
		}
	}
	return exact, composite, nil
}
