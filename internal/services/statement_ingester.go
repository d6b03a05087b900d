package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/marketplace"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// gapRule classifies one bank-statement transaction type. keywords are
// case-insensitive substrings, any of which matches. An empty expenseType
// means the line is covered by another lane (payments API, expense
// classifier) and produces no record. abbrev suffixes the stored payment id
// so that multiple statement lines sharing one REFERENCE_ID (dispute groups)
// do not collide.
type gapRule struct {
	keywords     []string
	expenseType  string
	abbrev       string
	direction    data.ExpenseDirection
	autoCategory string
}

// gapRules is ordered, first match wins. Specific texts come before the
// generic ones ("reembolso reclamacoes" before "reembolso", "pagamento de
// conta" before "pagamento").
var gapRules = []gapRule{
	{keywords: []string{"liberacao de dinheiro cancelada"}, expenseType: "liberacao-cancelada", abbrev: "lc", direction: data.ExpenseDirectionExpense},
	{keywords: []string{"liberacao de dinheiro"}},
	{keywords: []string{"transferencia pix", "pix enviado"}},
	{keywords: []string{"pagamento de conta", "pagamento com"}},
	{keywords: []string{"compra mercado libre"}},
	{keywords: []string{"reembolso reclamacoes", "reembolso envio cancelado"}, expenseType: "reembolso-disputa", abbrev: "rd", direction: data.ExpenseDirectionIncome, autoCategory: "estorno-taxas"},
	{keywords: []string{"reembolso de tarifas", "reembolso"}, expenseType: "reembolso-generico", abbrev: "rg", direction: data.ExpenseDirectionIncome, autoCategory: "estorno-taxas"},
	{keywords: []string{"dinheiro retido"}, expenseType: "dinheiro-retido", abbrev: "dr", direction: data.ExpenseDirectionExpense},
	{keywords: []string{"diferenca da aliquota", "difal"}, expenseType: "difal", abbrev: "df", direction: data.ExpenseDirectionExpense, autoCategory: "icms-difal"},
	{keywords: []string{"faturas vencidas"}, expenseType: "faturas-ml", abbrev: "fm", direction: data.ExpenseDirectionExpense, autoCategory: "comissoes"},
	{keywords: []string{"envio do mercado livre"}, expenseType: "debito-envio-ml", abbrev: "de", direction: data.ExpenseDirectionExpense, autoCategory: "frete"},
	{keywords: []string{"reclamacoes no mercado livre", "debito por divida"}, expenseType: "debito-divida-disputa", abbrev: "dd", direction: data.ExpenseDirectionExpense},
	{keywords: []string{"troca de produto"}, expenseType: "debito-troca", abbrev: "dt", direction: data.ExpenseDirectionExpense},
	{keywords: []string{"entrada de dinheiro"}, expenseType: "entrada-dinheiro", abbrev: "ed", direction: data.ExpenseDirectionIncome},
	{keywords: []string{"dinheiro recebido"}, expenseType: "deposito-avulso", abbrev: "da", direction: data.ExpenseDirectionIncome},
	{keywords: []string{"bonus por envio"}, expenseType: "bonus-envio", abbrev: "be", direction: data.ExpenseDirectionIncome, autoCategory: "estorno-frete"},
	{keywords: []string{"transferencia recebida"}, expenseType: "entrada-dinheiro", abbrev: "ed", direction: data.ExpenseDirectionIncome},
	{keywords: []string{"pagamento"}, expenseType: "subscription", abbrev: "su", direction: data.ExpenseDirectionExpense},
}

// gapRuleFolder strips the Portuguese diacritics that show up in report
// descriptions, so the keyword table can stay plain ASCII.
var gapRuleFolder = strings.NewReplacer(
	"á", "a", "à", "a", "ã", "a", "â", "a",
	"é", "e", "ê", "e",
	"í", "i",
	"ó", "o", "ô", "o", "õ", "o",
	"ú", "u", "ü", "u",
	"ç", "c",
)

func matchGapRule(transactionType string) (gapRule, bool) {
	haystack := gapRuleFolder.Replace(strings.ToLower(transactionType))
	for _, rule := range gapRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(haystack, keyword) {
				return rule, true
			}
		}
	}
	return gapRule{}, false
}

// StatementIngestSummary reports what one ingestion run did with the
// statement rows it was given.
type StatementIngestSummary struct {
	Total          int `json:"total"`
	Inserted       int `json:"inserted"`
	SkippedCovered int `json:"skipped_already_covered"`
	SkippedByRule  int `json:"skipped_by_rule"`
	Errors         int `json:"errors"`
}

func (s *StatementIngestSummary) String() string {
	return fmt.Sprintf("%d rows, %d inserted, %d already covered, %d skipped by rule, %d errors",
		s.Total, s.Inserted, s.SkippedCovered, s.SkippedByRule, s.Errors)
}

// StatementIngester classifies bank-statement lines that no payment or
// expense accounts for (taxes, disputes, reserves, refunds of disputes) into
// expense records, so that statement coverage can reach 100%.
type StatementIngester struct {
	Models *data.Models
}

func NewStatementIngester(models *data.Models) *StatementIngester {
	return &StatementIngester{Models: models}
}

// IngestReader parses a statement CSV (operator upload) and ingests its rows.
func (s *StatementIngester) IngestReader(ctx context.Context, seller *data.Seller, r io.Reader) (*StatementIngestSummary, error) {
	rows, err := marketplace.ParseReleaseReport(r)
	if err != nil {
		return nil, fmt.Errorf("parsing statement: %w", err)
	}
	return s.Ingest(ctx, seller, rows)
}

// Ingest runs the gap classification over statement rows. Re-ingesting the
// same rows is a no-op: lines already covered by a payment or an expense are
// skipped, and the composite payment id dedupes everything this ingester
// created on earlier runs.
func (s *StatementIngester) Ingest(ctx context.Context, seller *data.Seller, rows []marketplace.ReleaseReportRow) (*StatementIngestSummary, error) {
	if seller == nil {
		return nil, fmt.Errorf("seller is required: %w", data.ErrMissingInput)
	}

	summary := &StatementIngestSummary{Total: len(rows)}
	for _, row := range rows {
		referenceID := strings.TrimSpace(row.ReferenceID)
		if referenceID == "" {
			// Aggregate balance rows carry no reference.
			summary.SkippedByRule++
			continue
		}

		covered, err := s.isCovered(ctx, seller, referenceID)
		if err != nil {
			summary.Errors++
			log.Ctx(ctx).Errorf("checking coverage of statement line %s for seller %s: %v", referenceID, seller.ID, err)
			continue
		}
		if covered {
			summary.SkippedCovered++
			continue
		}

		rule, matched := matchGapRule(row.TransactionType)
		if !matched {
			summary.SkippedByRule++
			log.Ctx(ctx).Warnf("statement line %s (%q) for seller %s matches no classification rule", referenceID, row.TransactionType, seller.ID)
			continue
		}
		if rule.expenseType == "" {
			summary.SkippedByRule++
			continue
		}

		expenseDate := row.ReleaseDate.Time
		if expenseDate.IsZero() {
			expenseDate = utils.TodayOperational()
		}

		status := data.PendingReviewExpenseStatus
		if rule.autoCategory != "" {
			status = data.AutoCategorizedExpenseStatus
		}

		_, created, err := s.Models.Expenses.Insert(ctx, s.Models.DBConnectionPool, data.ExpenseInsert{
			SellerID:          seller.ID,
			PaymentID:         fmt.Sprintf("%s:%s", referenceID, rule.abbrev),
			Source:            data.BankStatementExpenseSource,
			ExpenseType:       rule.expenseType,
			Direction:         rule.direction,
			Amount:            row.NetAmount.Decimal.Abs(),
			ExpenseDate:       expenseDate,
			Description:       row.TransactionType,
			SuggestedCategory: rule.autoCategory,
			Status:            status,
		})
		if err != nil {
			summary.Errors++
			log.Ctx(ctx).Errorf("recording statement line %s (%s) for seller %s: %v", referenceID, rule.expenseType, seller.ID, err)
			continue
		}
		if created {
			summary.Inserted++
		} else {
			summary.SkippedCovered++
		}
	}

	log.Ctx(ctx).Infof("statement ingestion for seller %s: %s", seller.ID, summary)
	return summary, nil
}

// isCovered reports whether a statement line's reference already has a local
// payment (the processor lane handles or handled it, reversals included) or
// an expense (the classifier lane recorded it).
func (s *StatementIngester) isCovered(ctx context.Context, seller *data.Seller, referenceID string) (bool, error) {
	_, err := s.Models.Payments.GetByMarketplaceID(ctx, s.Models.DBConnectionPool, seller.ID, referenceID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, data.ErrRecordNotFound) {
		return false, fmt.Errorf("looking up payment %s: %w", referenceID, err)
	}

	_, err = s.Models.Expenses.GetByPaymentID(ctx, s.Models.DBConnectionPool, seller.ID, referenceID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, data.ErrRecordNotFound) {
		return false, fmt.Errorf("looking up expense %s: %w", referenceID, err)
	}

	return false, nil
}
