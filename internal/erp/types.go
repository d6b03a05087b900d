package erp

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
)

const financialEventsPath = "/v1/financeiro/eventos-financeiros"

// EventType selects which side of the ledger an ERP call addresses.
type EventType string

const (
	ReceivableEvent EventType = "contas-a-receber"
	PayableEvent    EventType = "contas-a-pagar"
)

// Parcel statuses the ERP reports for open-parcel searches.
const (
	ParcelStatusOpen    = "EM_ABERTO"
	ParcelStatusOverdue = "ATRASADO"
)

// CreateEventPath is the endpoint that creates a receivable or payable with
// one parcel. Posting bodies are FinancialEventRequest.
func CreateEventPath(eventType EventType) string {
	return financialEventsPath + "/" + string(eventType)
}

// SearchParcelsPath is the paginated open-parcel search for one side of the
// ledger. GET with query params, not POST with body.
func SearchParcelsPath(eventType EventType) string {
	return CreateEventPath(eventType) + "/buscar"
}

// BaixaPath is the endpoint that settles one parcel. The ERP rejects
// payment dates in the future with a 400.
func BaixaPath(parcelID string) string {
	return financialEventsPath + "/parcelas/" + parcelID + "/baixa"
}

// ParcelRequest is the single parcel nested in a FinancialEventRequest.
type ParcelRequest struct {
	DataVencimento string          `json:"data_vencimento"`
	Valor          decimal.Decimal `json:"valor"`
}

// FinancialEventRequest is the create body for contas-a-receber and
// contas-a-pagar. Dates are YYYY-MM-DD calendar dates in the seller's zone.
type FinancialEventRequest struct {
	Descricao         string          `json:"descricao"`
	DataCompetencia   string          `json:"data_competencia"`
	IDContaFinanceira string          `json:"id_conta_financeira"`
	IDCentroCusto     string          `json:"id_centro_custo,omitempty"`
	IDContato         string          `json:"id_contato,omitempty"`
	IDCategoria       string          `json:"id_categoria,omitempty"`
	Parcelas          []ParcelRequest `json:"parcelas"`
}

// BaixaRequest is the body for BaixaPath. DataPagamento must not be in the
// future.
type BaixaRequest struct {
	DataPagamento     string          `json:"data_pagamento"`
	Valor             decimal.Decimal `json:"valor"`
	IDContaFinanceira string          `json:"id_conta_financeira"`
}

// Parcel is one open installment returned by the open-parcel search.
type Parcel struct {
	ID                string          `json:"id"`
	Descricao         string          `json:"descricao"`
	Status            string          `json:"status"`
	DataVencimento    string          `json:"data_vencimento"`
	Valor             decimal.Decimal `json:"valor"`
	NaoPago           decimal.Decimal `json:"nao_pago"`
	IDContaFinanceira string          `json:"id_conta_financeira"`
}

// DueDate parses the parcel's due date as a calendar day in the
// operational zone.
func (p *Parcel) DueDate() (time.Time, error) {
	return time.ParseInLocation("2006-01-02", p.DataVencimento, utils.OperationalZone)
}

var paymentIDPattern = regexp.MustCompile(`\b\d{8,}\b`)

// MarketplacePaymentID extracts the originating marketplace payment id from
// the parcel description, where postings embed it. Empty when the
// description carries no id, e.g. hand-created parcels.
func (p *Parcel) MarketplacePaymentID() string {
	return paymentIDPattern.FindString(p.Descricao)
}

// ParcelSearchResult is one page of an open-parcel search.
type ParcelSearchResult struct {
	Itens      []Parcel `json:"itens"`
	TotalItens int      `json:"total_itens"`
}

// ParcelSearchParams bounds one page of an open-parcel search.
type ParcelSearchParams struct {
	Statuses            []string
	FinancialAccountIDs []string
	DueDateFrom         time.Time
	DueDateTo           time.Time
	Page                int
	PageSize            int
}

// DefaultParcelPageSize is the page size used when ParcelSearchParams does
// not set one.
const DefaultParcelPageSize = 100
