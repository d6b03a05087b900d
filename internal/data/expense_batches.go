package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
)

type ExpenseBatchStatus string

const (
	GeneratedExpenseBatchStatus ExpenseBatchStatus = "generated"
	ExportedExpenseBatchStatus  ExpenseBatchStatus = "exported"
	ImportedExpenseBatchStatus  ExpenseBatchStatus = "imported"
)

func (s ExpenseBatchStatus) Validate() error {
	switch s {
	case GeneratedExpenseBatchStatus, ExportedExpenseBatchStatus, ImportedExpenseBatchStatus:
		return nil
	default:
		return fmt.Errorf("invalid expense batch status: %s", s)
	}
}

// TransitionTo enforces the forward-only batch lifecycle.
func (s ExpenseBatchStatus) TransitionTo(target ExpenseBatchStatus) error {
	transitions := []StateTransition{
		{From: State(GeneratedExpenseBatchStatus), To: State(ExportedExpenseBatchStatus)},
		{From: State(ExportedExpenseBatchStatus), To: State(ImportedExpenseBatchStatus)},
	}
	return NewStateMachine(State(s), transitions).TransitionTo(State(target))
}

type ExpenseBatch struct {
	ID          string             `json:"id" db:"id"`
	SellerID    string             `json:"seller_id" db:"seller_id"`
	Status      ExpenseBatchStatus `json:"status" db:"status"`
	RowCount    int                `json:"row_count" db:"row_count"`
	TotalAmount decimal.Decimal    `json:"total_amount" db:"total_amount"`
	PeriodStart *time.Time         `json:"period_start,omitempty" db:"period_start"`
	PeriodEnd   *time.Time         `json:"period_end,omitempty" db:"period_end"`
	FileName    string             `json:"file_name,omitempty" db:"file_name"`
	ExportedAt  *time.Time         `json:"exported_at,omitempty" db:"exported_at"`
	ImportedAt  *time.Time         `json:"imported_at,omitempty" db:"imported_at"`
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at" db:"updated_at"`
}

type ExpenseBatchModel struct {
	dbConnectionPool db.DBConnectionPool
}

const expenseBatchColumns = `
		b.id,
		b.seller_id,
		b.status,
		b.row_count,
		b.total_amount,
		b.period_start,
		b.period_end,
		COALESCE(b.file_name, '') AS file_name,
		b.exported_at,
		b.imported_at,
		b.created_at,
		b.updated_at
	`

// signedAmount gives the amount with the direction's sign, so a batch total
// nets income against expenses. Transfers count at face value.
func signedAmount(e Expense) decimal.Decimal {
	if e.Direction == ExpenseDirectionExpense {
		return e.Amount.Neg()
	}
	return e.Amount
}

// Create opens a batch over the given expenses and marks every member
// exported, all in one transaction.
func (m *ExpenseBatchModel) Create(ctx context.Context, sellerID string, expenses []Expense, periodStart, periodEnd time.Time, fileName string) (*ExpenseBatch, error) {
	if len(expenses) == 0 {
		return nil, fmt.Errorf("expense batch needs at least one expense: %w", ErrMissingInput)
	}

	total := decimal.Zero
	expenseIDs := make([]string, 0, len(expenses))
	for _, e := range expenses {
		total = total.Add(signedAmount(e))
		expenseIDs = append(expenseIDs, e.ID)
	}

	return db.RunInTransactionWithResult(ctx, m.dbConnectionPool, nil, func(dbTx db.DBTransaction) (*ExpenseBatch, error) {
		query := `
			INSERT INTO expense_batches
				(seller_id, status, row_count, total_amount, period_start, period_end, file_name, exported_at)
			VALUES
				($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NOW())
			RETURNING ` + strings.ReplaceAll(expenseBatchColumns, "b.", "")

		var batch ExpenseBatch
		err := dbTx.GetContext(ctx, &batch, query, sellerID, ExportedExpenseBatchStatus, len(expenses), total, periodStart, periodEnd, fileName)
		if err != nil {
			return nil, fmt.Errorf("inserting expense batch for seller %s: %w", sellerID, err)
		}

		for _, expenseID := range expenseIDs {
			_, err = dbTx.ExecContext(ctx, "INSERT INTO expense_batch_items (expense_batch_id, expense_id) VALUES ($1, $2)", batch.ID, expenseID)
			if err != nil {
				return nil, fmt.Errorf("inserting expense batch item %s: %w", expenseID, err)
			}
		}

		expenseModel := &ExpenseModel{dbConnectionPool: m.dbConnectionPool}
		if err = expenseModel.MarkStatusForIDs(ctx, dbTx, ExportedExpenseStatus, expenseIDs); err != nil {
			return nil, fmt.Errorf("marking batch members exported: %w", err)
		}

		return &batch, nil
	})
}

func (m *ExpenseBatchModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id string) (*ExpenseBatch, error) {
	query := `SELECT ` + expenseBatchColumns + ` FROM expense_batches b WHERE b.id = $1`

	var batch ExpenseBatch
	err := sqlExec.GetContext(ctx, &batch, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("getting expense batch %s: %w", id, err)
	}

	return &batch, nil
}

func (m *ExpenseBatchModel) GetAllBySeller(ctx context.Context, sqlExec db.SQLExecuter, sellerID string) ([]ExpenseBatch, error) {
	query := `SELECT ` + expenseBatchColumns + ` FROM expense_batches b WHERE b.seller_id = $1 ORDER BY b.created_at DESC`

	batches := []ExpenseBatch{}
	err := sqlExec.SelectContext(ctx, &batches, query, sellerID)
	if err != nil {
		return nil, fmt.Errorf("getting expense batches for seller %s: %w", sellerID, err)
	}

	return batches, nil
}

// GetMembers lists the expenses belonging to a batch.
func (m *ExpenseBatchModel) GetMembers(ctx context.Context, sqlExec db.SQLExecuter, batchID string) ([]Expense, error) {
	query := `
		SELECT ` + expenseColumns + `
		FROM expenses e
		JOIN expense_batch_items i ON i.expense_id = e.id
		WHERE i.expense_batch_id = $1
		ORDER BY e.expense_date ASC, e.payment_id ASC`

	expenses := []Expense{}
	err := sqlExec.SelectContext(ctx, &expenses, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("getting members of expense batch %s: %w", batchID, err)
	}

	return expenses, nil
}

// MarkImported closes the batch after the operator confirms the ERP accepted
// the file, cascading the status to every member expense.
func (m *ExpenseBatchModel) MarkImported(ctx context.Context, batchID string) (*ExpenseBatch, error) {
	return db.RunInTransactionWithResult(ctx, m.dbConnectionPool, nil, func(dbTx db.DBTransaction) (*ExpenseBatch, error) {
		current, err := m.Get(ctx, dbTx, batchID)
		if err != nil {
			return nil, err
		}
		if err = current.Status.TransitionTo(ImportedExpenseBatchStatus); err != nil {
			return nil, fmt.Errorf("batch %s: %w", batchID, err)
		}

		query := `
			UPDATE expense_batches
			SET status = $1, imported_at = NOW()
			WHERE id = $2
			RETURNING ` + strings.ReplaceAll(expenseBatchColumns, "b.", "")

		var batch ExpenseBatch
		if err = dbTx.GetContext(ctx, &batch, query, ImportedExpenseBatchStatus, batchID); err != nil {
			return nil, fmt.Errorf("marking expense batch %s imported: %w", batchID, err)
		}

		members, err := m.GetMembers(ctx, dbTx, batchID)
		if err != nil {
			return nil, err
		}
		memberIDs := make([]string, 0, len(members))
		for _, e := range members {
			memberIDs = append(memberIDs, e.ID)
		}
		expenseModel := &ExpenseModel{dbConnectionPool: m.dbConnectionPool}
		if err = expenseModel.MarkStatusForIDs(ctx, dbTx, ImportedExpenseStatus, memberIDs); err != nil {
			return nil, fmt.Errorf("marking batch members imported: %w", err)
		}

		return &batch, nil
	})
}
