package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/erp"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/marketplace"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// ProcessingVerdict tags what the processor decided for one payment.
type ProcessingVerdict string

const (
	// VerdictEmitted means posting jobs were enqueued (or re-matched by key).
	VerdictEmitted ProcessingVerdict = "emitted"
	// VerdictSkipped means the payment produces no ERP postings.
	VerdictSkipped ProcessingVerdict = "skipped"
	// VerdictPending means the marketplace status is not final yet; the
	// payment stays pending and a later sync will reclassify it.
	VerdictPending ProcessingVerdict = "pending"
)

// Machine-readable skip reasons, so callers can route non-sales to the
// expense classifier instead of string-matching log lines.
const (
	SkipReasonNonOrderPayment  = "non_order_payment"
	SkipReasonBuyerShipment    = "buyer_paid_shipment"
	SkipReasonNoCollector      = "no_collector"
	SkipReasonCancelled        = "cancelled_or_rejected"
	SkipReasonAlreadyProcessed = "already_processed"
	SkipReasonNotOnERP         = "seller_does_not_post_to_erp"
)

// ProcessingOutcome is the processor's verdict for one payment. Exactly one
// verdict applies per call; infrastructure failures travel on the error
// return instead of being folded into the outcome.
type ProcessingOutcome struct {
	Verdict    ProcessingVerdict
	SkipReason string
	// Jobs holds the payment's group in emission order. Intents that already
	// existed under their idempotency key come back as stored, so NewJobs
	// says how many this call actually inserted.
	Jobs    []data.Job
	NewJobs int
	Payment *data.Payment
}

func (o ProcessingOutcome) String() string {
	switch o.Verdict {
	case VerdictEmitted:
		return fmt.Sprintf("emitted %d jobs (%d new)", len(o.Jobs), o.NewJobs)
	case VerdictSkipped:
		return "skipped: " + o.SkipReason
	default:
		return "left pending"
	}
}

// IsNonSale reports whether the payment should be handed to the expense
// classifier: it is marketplace money movement, just not a product sale.
func (o ProcessingOutcome) IsNonSale() bool {
	return o.Verdict == VerdictSkipped && o.SkipReason == SkipReasonNonOrderPayment
}

// PaymentProcessor classifies one marketplace payment into ERP posting jobs:
// revenue, commission and shipping on approval, reversals on refunds and
// chargebacks. It is idempotent at two layers: the payment's local status
// short-circuits repeats, and every job carries an idempotency key.
type PaymentProcessor struct {
	Models            *data.Models
	MarketplaceClient marketplace.ClientInterface
}

func NewPaymentProcessor(models *data.Models, marketplaceClient marketplace.ClientInterface) *PaymentProcessor {
	return &PaymentProcessor{
		Models:            models,
		MarketplaceClient: marketplaceClient,
	}
}

// postingIntent is one ERP post the processor wants enqueued.
type postingIntent struct {
	kind data.JobKind
	// keySuffix disambiguates repeated kinds within one payment, e.g. one
	// reversal per refund entry.
	keySuffix string
	priority  int
	endpoint  string
	body      erp.FinancialEventRequest
}

func (i postingIntent) key(sellerID, marketplacePaymentID string) string {
	key := fmt.Sprintf("%s:%s:%s", sellerID, marketplacePaymentID, i.kind)
	if i.keySuffix != "" {
		key += ":" + i.keySuffix
	}
	return key
}

// Process stores the marketplace view of the payment, classifies it and
// enqueues the resulting posting jobs.
func (s *PaymentProcessor) Process(ctx context.Context, seller *data.Seller, mpPayment *marketplace.Payment) (*ProcessingOutcome, error) {
	if seller == nil || mpPayment == nil {
		return nil, fmt.Errorf("seller and payment are required: %w", data.ErrMissingInput)
	}
	if !seller.IntegrationMode.PostsToERP() {
		return &ProcessingOutcome{Verdict: VerdictSkipped, SkipReason: SkipReasonNotOnERP}, nil
	}

	payment, err := s.storePayment(ctx, seller, mpPayment)
	if err != nil {
		return nil, err
	}

	// A terminal payment is reprocessed only when a refund arrives for a
	// payment already ledgered as synced.
	if payment.Status.IsTerminal() {
		if payment.Status != data.SyncedPaymentStatus || !routesToRefund(mpPayment) {
			log.Ctx(ctx).Debugf("payment %s already processed as %s", payment.MarketplacePaymentID, payment.Status)
			return &ProcessingOutcome{Verdict: VerdictSkipped, SkipReason: SkipReasonAlreadyProcessed, Payment: payment}, nil
		}
	}

	if !mpPayment.HasOrder() {
		return s.skipPayment(ctx, payment, data.SkippedNonSalePaymentStatus, SkipReasonNonOrderPayment)
	}
	if mpPayment.Description == marketplace.DescriptionShipment {
		return s.skipPayment(ctx, payment, data.SkippedNonSalePaymentStatus, SkipReasonBuyerShipment)
	}
	if mpPayment.CollectorID == nil {
		return s.skipPayment(ctx, payment, data.SkippedPaymentStatus, SkipReasonNoCollector)
	}

	switch mpPayment.Status {
	case marketplace.PaymentStatusApproved, marketplace.PaymentStatusInMediation:
		return s.processApproved(ctx, seller, payment, mpPayment)
	case marketplace.PaymentStatusChargedBack:
		if mpPayment.StatusDetail == marketplace.StatusDetailReimbursed {
			// The seller won the dispute; the ledger stands as posted.
			return s.processApproved(ctx, seller, payment, mpPayment)
		}
		return s.processRefunded(ctx, seller, payment, mpPayment)
	case marketplace.PaymentStatusRefunded:
		return s.processRefunded(ctx, seller, payment, mpPayment)
	case marketplace.PaymentStatusCancelled, marketplace.PaymentStatusRejected:
		return s.skipPayment(ctx, payment, data.SkippedPaymentStatus, SkipReasonCancelled)
	default:
		log.Ctx(ctx).Debugf("payment %s stays pending with marketplace status %q", payment.MarketplacePaymentID, mpPayment.Status)
		return &ProcessingOutcome{Verdict: VerdictPending, Payment: payment}, nil
	}
}

func (s *PaymentProcessor) storePayment(ctx context.Context, seller *data.Seller, mpPayment *marketplace.Payment) (*data.Payment, error) {
	raw, err := json.Marshal(mpPayment)
	if err != nil {
		return nil, fmt.Errorf("marshalling payment %s payload: %w", mpPayment.IDString(), err)
	}

	upsert := data.PaymentUpsert{
		SellerID:             seller.ID,
		MarketplacePaymentID: mpPayment.IDString(),
		MarketplaceStatus:    mpPayment.Status,
		GrossAmount:          mpPayment.TransactionAmount,
		NetAmount:            mpPayment.TransactionDetails.NetReceivedAmount,
		ApprovalDate:         mpPayment.DateApproved,
		MoneyReleaseDate:     mpPayment.MoneyReleaseDate,
		RawPayload:           raw,
	}
	if mpPayment.HasOrder() {
		upsert.OrderID = strconv.FormatInt(mpPayment.Order.ID, 10)
	}

	payment, err := s.Models.Payments.Upsert(ctx, s.Models.DBConnectionPool, upsert)
	if err != nil {
		return nil, fmt.Errorf("storing payment %s: %w", mpPayment.IDString(), err)
	}
	return payment, nil
}

// routesToRefund reports whether the marketplace payload asks for reversal
// postings: a refund, a lost chargeback, or a partial refund riding on an
// approved payment.
func routesToRefund(mpPayment *marketplace.Payment) bool {
	switch {
	case mpPayment.Status == marketplace.PaymentStatusRefunded:
		return true
	case mpPayment.Status == marketplace.PaymentStatusChargedBack && mpPayment.StatusDetail != marketplace.StatusDetailReimbursed:
		return true
	case mpPayment.Status == marketplace.PaymentStatusApproved && mpPayment.StatusDetail == marketplace.StatusDetailPartiallyRefunded && len(mpPayment.Refunds) > 0:
		return true
	}
	return false
}

func (s *PaymentProcessor) skipPayment(ctx context.Context, payment *data.Payment, status data.PaymentStatus, reason string) (*ProcessingOutcome, error) {
	if payment.Status != status {
		err := s.Models.Payments.MarkProcessed(ctx, s.Models.DBConnectionPool, payment.ID, status, decimal.NullDecimal{}, decimal.NullDecimal{})
		if err != nil {
			return nil, fmt.Errorf("marking payment %s %s: %w", payment.MarketplacePaymentID, status, err)
		}
		payment.Status = status
	}
	return &ProcessingOutcome{Verdict: VerdictSkipped, SkipReason: reason, Payment: payment}, nil
}

func (s *PaymentProcessor) processApproved(ctx context.Context, seller *data.Seller, payment *data.Payment, mpPayment *marketplace.Payment) (*ProcessingOutcome, error) {
	intents, commission, shipping, err := s.approvalIntents(ctx, seller, mpPayment)
	if err != nil {
		return nil, err
	}

	// Partial refunds ride along with the approval: one reversal per refund
	// entry, the original revenue stays intact.
	if mpPayment.StatusDetail == marketplace.StatusDetailPartiallyRefunded {
		intents = append(intents, s.reversalIntents(seller, mpPayment, data.PartialRefundJobKind)...)
	}

	markAs := data.QueuedPaymentStatus
	if payment.Status == data.SyncedPaymentStatus {
		// Already ledgered; only the ride-along reversals are new.
		markAs = ""
	}
	return s.emit(ctx, seller, payment, intents, markAs, commission, shipping)
}

func (s *PaymentProcessor) processRefunded(ctx context.Context, seller *data.Seller, payment *data.Payment, mpPayment *marketplace.Payment) (*ProcessingOutcome, error) {
	intents := []postingIntent{}
	commission, shipping := decimal.NullDecimal{}, decimal.NullDecimal{}

	// The ERP needs the original revenue on file before it can be reversed,
	// so a refund seen before approval processing emits the approval jobs
	// first. Priorities make the worker post them in that order.
	if payment.Status != data.SyncedPaymentStatus {
		approval, c, sh, err := s.approvalIntents(ctx, seller, mpPayment)
		if err != nil {
			return nil, err
		}
		intents = append(intents, approval...)
		commission, shipping = c, sh
	}

	intents = append(intents, s.reversalIntents(seller, mpPayment, data.RefundReversalJobKind)...)

	// Fees come back only on a total refund. An empty refunds list on a
	// refunded payment means the marketplace did not itemize; treat as total.
	gross := mpPayment.TransactionAmount
	fees := gross.Sub(mpPayment.TransactionDetails.NetReceivedAmount)
	if fees.IsPositive() && (len(mpPayment.Refunds) == 0 || mpPayment.TotalRefundedAmount().GreaterThanOrEqual(gross)) {
		intents = append(intents, s.feeReversalIntent(seller, mpPayment, fees))
	}

	return s.emit(ctx, seller, payment, intents, data.RefundedPaymentStatus, commission, shipping)
}

// approvalIntents derives the revenue, commission and shipping posts for an
// approved payment, plus the commission and shipping figures to persist.
func (s *PaymentProcessor) approvalIntents(ctx context.Context, seller *data.Seller, mpPayment *marketplace.Payment) ([]postingIntent, decimal.NullDecimal, decimal.NullDecimal, error) {
	gross := mpPayment.TransactionAmount
	net := mpPayment.TransactionDetails.NetReceivedAmount

	competence := utils.TodayOperational()
	if mpPayment.DateApproved != nil {
		competence = utils.TruncateToDay(mpPayment.DateApproved.In(utils.OperationalZone))
	}
	due := competence
	if mpPayment.MoneyReleaseDate != nil {
		due = utils.TruncateToDay(mpPayment.MoneyReleaseDate.In(utils.OperationalZone))
	}

	order := s.lookupOrder(ctx, seller, mpPayment)
	shipping := s.sellerShipping(ctx, seller, mpPayment, order)

	// commission = gross − net − shipping absorbs every provider-side fee
	// (commission, processing, financing, coupons, IOF) into one payable.
	commission := gross.Sub(net).Sub(shipping)
	if commission.IsNegative() {
		log.Ctx(ctx).Warnf("payment %s: computed commission %s is negative (gross=%s net=%s shipping=%s), clamping to zero",
			mpPayment.IDString(), commission, gross, net, shipping)
		commission = decimal.Zero
	}

	descr := "Venda Mercado Livre " + mpPayment.IDString()
	if order != nil && order.FirstItemTitle() != "" {
		descr = fmt.Sprintf("%s - %s", descr, utils.TruncateString(order.FirstItemTitle(), 80))
	}

	intents := []postingIntent{{
		kind:     data.RevenueJobKind,
		priority: data.RevenueJobPriority,
		endpoint: erp.CreateEventPath(erp.ReceivableEvent),
		body: erp.FinancialEventRequest{
			Descricao:         descr,
			DataCompetencia:   utils.FormatISODate(competence),
			IDContaFinanceira: seller.ERPFinancialAccountID,
			IDCentroCusto:     seller.ERPCostCenterID,
			IDContato:         seller.ERPContactID,
			IDCategoria:       seller.ERPRevenueCategoryID,
			Parcelas:          []erp.ParcelRequest{{DataVencimento: utils.FormatISODate(due), Valor: gross}},
		},
	}}

	if commission.IsPositive() {
		intents = append(intents, postingIntent{
			kind:     data.CommissionJobKind,
			priority: data.ExpenseJobPriority,
			endpoint: erp.CreateEventPath(erp.PayableEvent),
			body: erp.FinancialEventRequest{
				Descricao:         "Comissão Mercado Livre " + mpPayment.IDString(),
				DataCompetencia:   utils.FormatISODate(competence),
				IDContaFinanceira: seller.ERPFinancialAccountID,
				IDCentroCusto:     seller.ERPCostCenterID,
				IDContato:         seller.ERPContactID,
				IDCategoria:       seller.ERPCommissionCategoryID,
				Parcelas:          []erp.ParcelRequest{{DataVencimento: utils.FormatISODate(due), Valor: commission}},
			},
		})
	}

	if shipping.IsPositive() {
		intents = append(intents, postingIntent{
			kind:     data.ShippingJobKind,
			priority: data.ExpenseJobPriority,
			endpoint: erp.CreateEventPath(erp.PayableEvent),
			body: erp.FinancialEventRequest{
				Descricao:         "Frete Mercado Livre " + mpPayment.IDString(),
				DataCompetencia:   utils.FormatISODate(competence),
				IDContaFinanceira: seller.ERPFinancialAccountID,
				IDCentroCusto:     seller.ERPCostCenterID,
				IDContato:         seller.ERPContactID,
				IDCategoria:       seller.ERPShippingCategoryID,
				Parcelas:          []erp.ParcelRequest{{DataVencimento: utils.FormatISODate(due), Valor: shipping}},
			},
		})
	}

	return intents, decimal.NullDecimal{Decimal: commission, Valid: true}, decimal.NullDecimal{Decimal: shipping, Valid: true}, nil
}

// reversalIntents builds one payable per refund entry. Reversals post under
// the seller's returns category when one is configured, otherwise under the
// revenue category so the category nets to the retained amount.
func (s *PaymentProcessor) reversalIntents(seller *data.Seller, mpPayment *marketplace.Payment, kind data.JobKind) []postingIntent {
	gross := mpPayment.TransactionAmount

	refunds := mpPayment.Refunds
	if len(refunds) == 0 {
		// Chargebacks and some refunds carry no itemized entries; reverse
		// the full gross in one line.
		refunds = []marketplace.Refund{{Amount: gross}}
	}

	label := "Estorno venda Mercado Livre "
	if kind == data.PartialRefundJobKind {
		label = "Estorno parcial venda Mercado Livre "
	}

	intents := make([]postingIntent, 0, len(refunds))
	for _, refund := range refunds {
		date := utils.TodayOperational()
		if refund.DateCreated != nil {
			date = utils.TruncateToDay(refund.DateCreated.In(utils.OperationalZone))
		}

		// A refund can include buyer-paid shipping and exceed gross; the
		// ledger reversal never exceeds the recorded revenue.
		amount := decimal.Min(refund.Amount, gross)

		suffix := ""
		if refund.ID != 0 {
			suffix = strconv.FormatInt(refund.ID, 10)
		}

		intents = append(intents, postingIntent{
			kind:      kind,
			keySuffix: suffix,
			priority:  data.ExpenseJobPriority,
			endpoint:  erp.CreateEventPath(erp.PayableEvent),
			body: erp.FinancialEventRequest{
				Descricao:         label + mpPayment.IDString(),
				DataCompetencia:   utils.FormatISODate(date),
				IDContaFinanceira: seller.ERPFinancialAccountID,
				IDCentroCusto:     seller.ERPCostCenterID,
				IDContato:         seller.ERPContactID,
				IDCategoria:       seller.ReturnsCategoryID(),
				Parcelas:          []erp.ParcelRequest{{DataVencimento: utils.FormatISODate(date), Valor: amount}},
			},
		})
	}

	return intents
}

// feeReversalIntent credits all fees back in one receivable, posted under
// the seller's fee-reversal category when one is configured, otherwise under
// the commission category so fee totals net out.
func (s *PaymentProcessor) feeReversalIntent(seller *data.Seller, mpPayment *marketplace.Payment, fees decimal.Decimal) postingIntent {
	var latest time.Time
	for _, refund := range mpPayment.Refunds {
		if refund.DateCreated != nil && refund.DateCreated.After(latest) {
			latest = *refund.DateCreated
		}
	}
	date := utils.TodayOperational()
	if !latest.IsZero() {
		date = utils.TruncateToDay(latest.In(utils.OperationalZone))
	}

	return postingIntent{
		kind:     data.FeeReversalJobKind,
		priority: data.ExpenseJobPriority,
		endpoint: erp.CreateEventPath(erp.ReceivableEvent),
		body: erp.FinancialEventRequest{
			Descricao:         "Estorno tarifas Mercado Livre " + mpPayment.IDString(),
			DataCompetencia:   utils.FormatISODate(date),
			IDContaFinanceira: seller.ERPFinancialAccountID,
			IDCentroCusto:     seller.ERPCostCenterID,
			IDContato:         seller.ERPContactID,
			IDCategoria:       seller.FeeReversalCategoryID(),
			Parcelas:          []erp.ParcelRequest{{DataVencimento: utils.FormatISODate(date), Valor: fees}},
		},
	}
}

// lookupOrder is best-effort: descriptions and the shipping fallback improve
// with it, but a lookup failure never blocks the posting.
func (s *PaymentProcessor) lookupOrder(ctx context.Context, seller *data.Seller, mpPayment *marketplace.Payment) *marketplace.Order {
	if !mpPayment.HasOrder() {
		return nil
	}
	order, err := s.MarketplaceClient.GetOrder(ctx, seller, mpPayment.Order.ID)
	if err != nil {
		log.Ctx(ctx).Warnf("looking up order %d for payment %s: %v", mpPayment.Order.ID, mpPayment.IDString(), err)
		return nil
	}
	return order
}

// sellerShipping prefers the charges_details entries; the shipment-costs
// endpoint is consulted only when the payment carries no shipping charge.
func (s *PaymentProcessor) sellerShipping(ctx context.Context, seller *data.Seller, mpPayment *marketplace.Payment, order *marketplace.Order) decimal.Decimal {
	for _, charge := range mpPayment.ChargesDetails {
		if charge.IsSellerShipping() {
			return mpPayment.SellerShippingAmount()
		}
	}

	if order == nil || order.Shipping == nil || order.Shipping.ID == 0 {
		return decimal.Zero
	}
	costs, err := s.MarketplaceClient.GetShipmentCosts(ctx, seller, order.Shipping.ID)
	if err != nil {
		log.Ctx(ctx).Warnf("looking up shipment %d costs for payment %s: %v", order.Shipping.ID, mpPayment.IDString(), err)
		return decimal.Zero
	}
	return costs.SenderCost()
}

// emit enqueues the intents and records the processor verdict atomically.
// markAs empty leaves the payment status untouched.
func (s *PaymentProcessor) emit(ctx context.Context, seller *data.Seller, payment *data.Payment, intents []postingIntent, markAs data.PaymentStatus, commission, shipping decimal.NullDecimal) (*ProcessingOutcome, error) {
	outcome := &ProcessingOutcome{Verdict: VerdictEmitted, Payment: payment}

	err := db.RunInTransaction(ctx, s.Models.DBConnectionPool, nil, func(dbTx db.DBTransaction) error {
		for _, intent := range intents {
			body, err := json.Marshal(intent.body)
			if err != nil {
				return fmt.Errorf("marshalling %s body for payment %s: %w", intent.kind, payment.MarketplacePaymentID, err)
			}

			job, created, err := s.Models.Jobs.Enqueue(ctx, dbTx, data.JobInsert{
				SellerID:       seller.ID,
				IdempotencyKey: intent.key(seller.ID, payment.MarketplacePaymentID),
				Kind:           intent.kind,
				GroupID:        data.PaymentGroupID(seller.ID, payment.MarketplacePaymentID),
				Priority:       intent.priority,
				Endpoint:       intent.endpoint,
				RequestBody:    body,
			})
			if err != nil {
				return fmt.Errorf("enqueuing %s job for payment %s: %w", intent.kind, payment.MarketplacePaymentID, err)
			}

			outcome.Jobs = append(outcome.Jobs, *job)
			if created {
				outcome.NewJobs++
			}
		}

		if markAs == "" || payment.Status == markAs {
			return nil
		}
		if err := s.Models.Payments.MarkProcessed(ctx, dbTx, payment.ID, markAs, commission, shipping); err != nil {
			return fmt.Errorf("marking payment %s %s: %w", payment.MarketplacePaymentID, markAs, err)
		}
		payment.Status = markAs
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Infof("payment %s for seller %s: %s", payment.MarketplacePaymentID, seller.ID, outcome)
	return outcome, nil
}
