package data

import "fmt"

type QueryParams struct {
	Page      int
	PageLimit int
	SortBy    SortField
	SortOrder SortOrder
	Filters   map[FilterKey]interface{}
}

type SortOrder string

const (
	SortOrderASC  SortOrder = "ASC"
	SortOrderDESC SortOrder = "DESC"
)

type SortField string

const (
	SortFieldCreatedAt   SortField = "created_at"
	SortFieldUpdatedAt   SortField = "updated_at"
	SortFieldExpenseDate SortField = "expense_date"
	SortFieldScheduledAt SortField = "scheduled_at"
	SortFieldPriority    SortField = "priority"
)

type FilterKey string

const (
	FilterKeyStatus            FilterKey = "status"
	FilterKeySellerID          FilterKey = "seller_id"
	FilterKeySource            FilterKey = "source"
	FilterKeyKind              FilterKey = "kind"
	FilterKeyDirection         FilterKey = "direction"
	FilterKeyExpenseDateAfter  FilterKey = "expense_date_after"
	FilterKeyExpenseDateBefore FilterKey = "expense_date_before"
)

func (fk FilterKey) Equals() string {
	return fmt.Sprintf("%s = ?", fk)
}

// Expense listing defaults, consumed by the query validator.
var (
	DefaultExpenseSortField = SortFieldExpenseDate
	DefaultExpenseSortOrder = SortOrderDESC
	AllowedExpenseSorts     = []SortField{SortFieldExpenseDate, SortFieldCreatedAt, SortFieldUpdatedAt}
	AllowedExpenseFilters   = []FilterKey{
		FilterKeySellerID,
		FilterKeyStatus,
		FilterKeySource,
		FilterKeyDirection,
		FilterKeyExpenseDateAfter,
		FilterKeyExpenseDateBefore,
	}
)
