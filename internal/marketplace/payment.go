package marketplace

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Payment statuses as reported by the marketplace. The local processing
// status lives in data.PaymentStatus; these are the upstream vocabulary.
const (
	PaymentStatusApproved    = "approved"
	PaymentStatusInMediation = "in_mediation"
	PaymentStatusChargedBack = "charged_back"
	PaymentStatusRefunded    = "refunded"
	PaymentStatusCancelled   = "cancelled"
	PaymentStatusRejected    = "rejected"

	StatusDetailReimbursed        = "reimbursed"
	StatusDetailPartiallyRefunded = "partially_refunded"

	MoneyReleaseStatusReleased = "released"
	MoneyReleaseStatusPending  = "pending"

	// DescriptionShipment marks buyer-paid shipping charges, which are not
	// seller revenue.
	DescriptionShipment = "marketplace_shipment"
)

// EntityRef is a bare {"id": ...} reference nested in marketplace payloads.
type EntityRef struct {
	ID int64 `json:"id"`
}

type TransactionDetails struct {
	NetReceivedAmount decimal.Decimal `json:"net_received_amount"`
}

// ChargeDetail is one provider-side charge attached to a payment. Shipping
// charged to the seller carries a type prefixed "shp_" and from=collector.
type ChargeDetail struct {
	Type   string          `json:"type"`
	Amount decimal.Decimal `json:"amount"`
	From   string          `json:"from"`
}

// IsSellerShipping reports whether this charge is shipping paid by the seller.
func (c ChargeDetail) IsSellerShipping() bool {
	return strings.HasPrefix(c.Type, "shp_") && c.From == "collector"
}

type Refund struct {
	ID          int64           `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	DateCreated *time.Time      `json:"date_created"`
}

// Payment is the marketplace's view of one payment, the processor's input.
type Payment struct {
	ID                 int64              `json:"id"`
	Status             string             `json:"status"`
	StatusDetail       string             `json:"status_detail"`
	OperationType      string             `json:"operation_type"`
	Description        string             `json:"description"`
	DateApproved       *time.Time         `json:"date_approved"`
	MoneyReleaseDate   *time.Time         `json:"money_release_date"`
	MoneyReleaseStatus string             `json:"money_release_status"`
	TransactionAmount  decimal.Decimal    `json:"transaction_amount"`
	TransactionDetails TransactionDetails `json:"transaction_details"`
	ChargesDetails     []ChargeDetail     `json:"charges_details"`
	Refunds            []Refund           `json:"refunds"`
	Order              *EntityRef         `json:"order"`
	CollectorID        *int64             `json:"collector_id"`
}

// IDString renders the numeric payment id the way it is stored locally.
func (p *Payment) IDString() string {
	return strconv.FormatInt(p.ID, 10)
}

// HasOrder reports whether the payment references a marketplace order.
func (p *Payment) HasOrder() bool {
	return p.Order != nil && p.Order.ID != 0
}

// SellerShippingAmount sums the shipping charged to the seller out of the
// payment's charge details. Zero means the fallback shipment-costs endpoint
// should be consulted.
func (p *Payment) SellerShippingAmount() decimal.Decimal {
	total := decimal.Zero
	for _, charge := range p.ChargesDetails {
		if charge.IsSellerShipping() {
			total = total.Add(charge.Amount)
		}
	}
	return total
}

// TotalRefundedAmount sums the refund entries on the payment.
func (p *Payment) TotalRefundedAmount() decimal.Decimal {
	total := decimal.Zero
	for _, refund := range p.Refunds {
		total = total.Add(refund.Amount)
	}
	return total
}

type Paging struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

type PaymentSearchResult struct {
	Paging  Paging    `json:"paging"`
	Results []Payment `json:"results"`
}

// SearchRangeField selects which date the payments search window filters on.
type SearchRangeField string

const (
	SearchRangeDateApproved     SearchRangeField = "date_approved"
	SearchRangeMoneyReleaseDate SearchRangeField = "money_release_date"
)

type Item struct {
	Title string `json:"title"`
}

type OrderItem struct {
	Item Item `json:"item"`
}

type Order struct {
	ID         int64       `json:"id"`
	PackID     *int64      `json:"pack_id"`
	OrderItems []OrderItem `json:"order_items"`
	Shipping   *EntityRef  `json:"shipping"`
}

// FirstItemTitle returns the first item's title, for posting descriptions.
func (o *Order) FirstItemTitle() string {
	if len(o.OrderItems) == 0 {
		return ""
	}
	return o.OrderItems[0].Item.Title
}

type SenderCostDetail struct {
	Cost decimal.Decimal `json:"cost"`
}

type ShipmentCosts struct {
	Senders []SenderCostDetail `json:"senders"`
}

// SenderCost returns the first sender's shipping cost, the fallback source
// for seller-paid shipping.
func (s *ShipmentCosts) SenderCost() decimal.Decimal {
	if len(s.Senders) == 0 {
		return decimal.Zero
	}
	return s.Senders[0].Cost
}
