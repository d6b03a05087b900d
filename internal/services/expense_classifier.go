package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/marketplace"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// classifierRule maps one non-order payment shape to an expense record.
// operationType matches the payment's operation_type exactly; keyword is a
// case-insensitive substring of the description. Empty means "any".
type classifierRule struct {
	operationType string
	keyword       string
	expenseType   string
	direction     data.ExpenseDirection
	autoCategory  string
}

func (r classifierRule) matches(mpPayment *marketplace.Payment) bool {
	if r.operationType != "" && mpPayment.OperationType != r.operationType {
		return false
	}
	if r.keyword != "" && !strings.Contains(strings.ToLower(mpPayment.Description), r.keyword) {
		return false
	}
	return true
}

// classifierRules is ordered, first match wins. The table is a value so
// operators can extend it without touching the matcher. The catch-all
// pending-review rule closes it.
var classifierRules = []classifierRule{
	{operationType: "money_transfer", expenseType: "transferencia", direction: data.ExpenseDirectionTransfer},
	{operationType: "account_fund", expenseType: "aporte", direction: data.ExpenseDirectionIncome},
	{operationType: "bill_payment", expenseType: "pagamento-contas", direction: data.ExpenseDirectionExpense},
	{operationType: "cellphone_recharge", expenseType: "recarga-celular", direction: data.ExpenseDirectionExpense},
	{keyword: "mercado ads", expenseType: "anuncios", direction: data.ExpenseDirectionExpense, autoCategory: "marketing"},
	{keyword: "publicidad", expenseType: "anuncios", direction: data.ExpenseDirectionExpense, autoCategory: "marketing"},
	{keyword: "envio", expenseType: "tarifa-envio", direction: data.ExpenseDirectionExpense, autoCategory: "frete"},
	{expenseType: "nao-identificado", direction: data.ExpenseDirectionExpense},
}

// ExpenseClassifier turns non-order marketplace payments (bill payments, ad
// credits, transfers) into expense records for the export lane. It never
// posts to the ERP; expenses reach it through the CSV batch instead.
type ExpenseClassifier struct {
	Models *data.Models
}

func NewExpenseClassifier(models *data.Models) *ExpenseClassifier {
	return &ExpenseClassifier{Models: models}
}

// Classify records the payment as an expense. Re-classifying the same
// payment is a no-op; created reports whether this call inserted the record.
func (s *ExpenseClassifier) Classify(ctx context.Context, seller *data.Seller, mpPayment *marketplace.Payment) (*data.Expense, bool, error) {
	if seller == nil || mpPayment == nil {
		return nil, false, fmt.Errorf("seller and payment are required: %w", data.ErrMissingInput)
	}
	if mpPayment.HasOrder() {
		return nil, false, fmt.Errorf("payment %s references an order and belongs to the payment processor", mpPayment.IDString())
	}

	var rule classifierRule
	for _, candidate := range classifierRules {
		if candidate.matches(mpPayment) {
			rule = candidate
			break
		}
	}

	expenseDate := utils.TodayOperational()
	if mpPayment.DateApproved != nil {
		expenseDate = utils.TruncateToDay(mpPayment.DateApproved.In(utils.OperationalZone))
	} else if mpPayment.MoneyReleaseDate != nil {
		expenseDate = utils.TruncateToDay(mpPayment.MoneyReleaseDate.In(utils.OperationalZone))
	}

	status := data.PendingReviewExpenseStatus
	if rule.autoCategory != "" {
		status = data.AutoCategorizedExpenseStatus
	}

	expense, created, err := s.Models.Expenses.Insert(ctx, s.Models.DBConnectionPool, data.ExpenseInsert{
		SellerID:          seller.ID,
		PaymentID:         mpPayment.IDString(),
		Source:            data.MarketplaceAPIExpenseSource,
		ExpenseType:       rule.expenseType,
		Direction:         rule.direction,
		Amount:            mpPayment.TransactionAmount,
		ExpenseDate:       expenseDate,
		Description:       mpPayment.Description,
		SuggestedCategory: rule.autoCategory,
		Status:            status,
	})
	if err != nil {
		return nil, false, fmt.Errorf("classifying payment %s as %s: %w", mpPayment.IDString(), rule.expenseType, err)
	}

	if created {
		log.Ctx(ctx).Infof("classified non-order payment %s for seller %s as %s (%s)", mpPayment.IDString(), seller.ID, rule.expenseType, expense.Status)
	}
	return expense, created, nil
}
