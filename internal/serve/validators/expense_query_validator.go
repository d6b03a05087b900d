package validators

import (
	"strings"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
)

type ExpenseQueryValidator struct {
	QueryValidator
}

// NewExpenseQueryValidator creates a new ExpenseQueryValidator with the provided configuration.
func NewExpenseQueryValidator() *ExpenseQueryValidator {
	return &ExpenseQueryValidator{
		QueryValidator: QueryValidator{
			DefaultSortField:  data.DefaultExpenseSortField,
			DefaultSortOrder:  data.DefaultExpenseSortOrder,
			AllowedSortFields: data.AllowedExpenseSorts,
			AllowedFilters:    data.AllowedExpenseFilters,
			Validator:         NewValidator(),
		},
	}
}

// ValidateAndGetExpenseFilters validates the filters and returns a map of valid filters.
func (qv *ExpenseQueryValidator) ValidateAndGetExpenseFilters(filters map[data.FilterKey]interface{}) map[data.FilterKey]interface{} {
	validFilters := make(map[data.FilterKey]interface{})

	if filters[data.FilterKeySellerID] != nil {
		validFilters[data.FilterKeySellerID] = filters[data.FilterKeySellerID]
	}
	if filters[data.FilterKeyStatus] != nil {
		validFilters[data.FilterKeyStatus] = qv.validateAndGetExpenseStatus(filters[data.FilterKeyStatus].(string))
	}
	if filters[data.FilterKeySource] != nil {
		source := data.ExpenseSource(strings.TrimSpace(filters[data.FilterKeySource].(string)))
		qv.CheckError(source.Validate(), string(data.FilterKeySource), "")
		validFilters[data.FilterKeySource] = source
	}
	if filters[data.FilterKeyDirection] != nil {
		direction := data.ExpenseDirection(strings.TrimSpace(filters[data.FilterKeyDirection].(string)))
		qv.CheckError(direction.Validate(), string(data.FilterKeyDirection), "")
		validFilters[data.FilterKeyDirection] = direction
	}

	expenseDateAfter := qv.ValidateAndGetTimeParams(string(data.FilterKeyExpenseDateAfter), filters[data.FilterKeyExpenseDateAfter])
	expenseDateBefore := qv.ValidateAndGetTimeParams(string(data.FilterKeyExpenseDateBefore), filters[data.FilterKeyExpenseDateBefore])

	if qv.HasErrors() {
		return validFilters
	}

	if !expenseDateAfter.IsZero() && !expenseDateBefore.IsZero() {
		qv.Check(expenseDateAfter.Before(expenseDateBefore), string(data.FilterKeyExpenseDateAfter), "expense_date_after must be before expense_date_before")
	}

	if !expenseDateAfter.IsZero() {
		validFilters[data.FilterKeyExpenseDateAfter] = expenseDateAfter
	}
	if !expenseDateBefore.IsZero() {
		validFilters[data.FilterKeyExpenseDateBefore] = expenseDateBefore
	}
	return validFilters
}

// validateAndGetExpenseStatus normalizes the status filter to one of the
// review lifecycle states.
func (qv *ExpenseQueryValidator) validateAndGetExpenseStatus(status string) data.ExpenseStatus {
	s := data.ExpenseStatus(strings.ToLower(strings.TrimSpace(status)))
	if err := s.Validate(); err != nil {
		qv.Check(false, string(data.FilterKeyStatus), "invalid parameter. valid values are: pending_review, auto_categorized, manually_categorized, exported, imported")
	}
	return s
}
