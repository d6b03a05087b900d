package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// expenseExportRow is one line of the ERP's expense import file. Semicolon
// separated, dates DD-MM-YYYY, decimal comma, expenses negative.
type expenseExportRow struct {
	Data         string `csv:"DATA"`
	Descricao    string `csv:"DESCRICAO"`
	Valor        string `csv:"VALOR"`
	Categoria    string `csv:"CATEGORIA"`
	Beneficiario string `csv:"BENEFICIARIO"`
	Referencia   string `csv:"REFERENCIA"`
}

// ExpenseExporter rolls a seller's categorized non-order expenses into a
// batch the operator imports into the ERP by hand. Creating the batch marks
// every member exported; confirming the import is a separate call once the
// ERP accepted the file.
type ExpenseExporter struct {
	Models *data.Models
}

func NewExpenseExporter(models *data.Models) *ExpenseExporter {
	return &ExpenseExporter{Models: models}
}

// Export opens a batch over the seller's exportable expenses in [from, to].
// Returns a nil batch when the window has nothing to export.
func (e *ExpenseExporter) Export(ctx context.Context, seller *data.Seller, from, to time.Time) (*data.ExpenseBatch, []data.Expense, error) {
	if seller == nil {
		return nil, nil, fmt.Errorf("seller is required: %w", data.ErrMissingInput)
	}

	expenses, err := e.Models.Expenses.GetForExport(ctx, e.Models.DBConnectionPool, seller.ID, from, to)
	if err != nil {
		return nil, nil, fmt.Errorf("loading exportable expenses for seller %s: %w", seller.ID, err)
	}
	if len(expenses) == 0 {
		log.Ctx(ctx).Debugf("seller %s has no expenses to export in %s..%s", seller.ID, utils.FormatISODate(from), utils.FormatISODate(to))
		return nil, nil, nil
	}

	fileName := fmt.Sprintf("despesas-%s-%s-%s.csv", seller.ID, utils.FormatISODate(from), utils.FormatISODate(to))
	batch, err := e.Models.ExpenseBatches.Create(ctx, seller.ID, expenses, from, to, fileName)
	if err != nil {
		return nil, nil, fmt.Errorf("creating expense batch for seller %s: %w", seller.ID, err)
	}

	log.Ctx(ctx).Infof("exported %d expenses (total %s) as batch %s for seller %s", batch.RowCount, batch.TotalAmount, batch.ID, seller.ID)
	return batch, expenses, nil
}

// WriteCSV streams the batch members in the ERP import layout.
func (e *ExpenseExporter) WriteCSV(w io.Writer, expenses []data.Expense) error {
	rows := make([]expenseExportRow, 0, len(expenses))
	for _, expense := range expenses {
		amount := expense.Amount
		if expense.Direction == data.ExpenseDirectionExpense {
			amount = amount.Neg()
		}
		rows = append(rows, expenseExportRow{
			// expense_date is a calendar date; render it as-is rather than
			// through the operational zone, which would shift it a day back.
			Data:         expense.ExpenseDate.Format("02-01-2006"),
			Descricao:    expense.Description,
			Valor:        utils.FormatBRAmount(amount),
			Categoria:    expense.SuggestedCategory,
			Beneficiario: expense.Beneficiary,
			Referencia:   expense.PaymentID,
		})
	}

	csvWriter := csv.NewWriter(w)
	csvWriter.Comma = ';'
	if err := gocsv.MarshalCSV(&rows, gocsv.NewSafeCSVWriter(csvWriter)); err != nil {
		return fmt.Errorf("writing expense export: %w", err)
	}
	return nil
}

// ConfirmImport closes the loop after the ERP accepted the file.
func (e *ExpenseExporter) ConfirmImport(ctx context.Context, batchID string) (*data.ExpenseBatch, error) {
	batch, err := e.Models.ExpenseBatches.MarkImported(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("confirming import of batch %s: %w", batchID, err)
	}
	log.Ctx(ctx).Infof("expense batch %s confirmed imported (%d rows)", batch.ID, batch.RowCount)
	return batch, nil
}
