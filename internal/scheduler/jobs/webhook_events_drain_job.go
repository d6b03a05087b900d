package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/marketplace"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/services"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

const (
	webhookEventsDrainJobName            = "webhook_events_drain"
	webhookEventsDrainJobIntervalSeconds = 30
	webhookEventsDrainBatchSize          = 100

	// paymentWebhookTopic is the only topic the drain acts on. Everything
	// else the marketplace notifies about is consumed without processing.
	paymentWebhookTopic = "payment"
)

type WebhookEventsDrainJobOptions struct {
	Models            *data.Models
	MarketplaceClient marketplace.ClientInterface
}

// webhookEventsDrainJob resyncs the payments referenced by stored webhook
// notifications. The webhook endpoint only acknowledges and persists; this
// job does the actual work, so a burst of notifications never slows the ack
// path down. Events whose upstream fetch fails stay unprocessed and are
// retried on the next tick.
type webhookEventsDrainJob struct {
	models            *data.Models
	marketplaceClient marketplace.ClientInterface
	processor         *services.PaymentProcessor
}

func (j webhookEventsDrainJob) GetName() string {
	return webhookEventsDrainJobName
}

func (j webhookEventsDrainJob) GetInterval() time.Duration {
	return webhookEventsDrainJobIntervalSeconds * time.Second
}

func (j webhookEventsDrainJob) Execute(ctx context.Context) error {
	events, err := j.models.WebhookEvents.GetUnprocessed(ctx, j.models.DBConnectionPool, webhookEventsDrainBatchSize)
	if err != nil {
		return fmt.Errorf("getting unprocessed webhook events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	sellersByUserID := map[string]*data.Seller{}
	processedIDs := []string{}
	failures := 0

	for i := range events {
		event := &events[i]
		consumed, err := j.drainEvent(ctx, event, sellersByUserID)
		if err != nil {
			failures++
			log.Ctx(ctx).Errorf("draining webhook event %s (%s %s): %v", event.ID, event.Topic, event.Resource, err)
		}
		if consumed {
			processedIDs = append(processedIDs, event.ID)
		}
	}

	if err := j.models.WebhookEvents.MarkProcessed(ctx, j.models.DBConnectionPool, processedIDs); err != nil {
		return fmt.Errorf("marking webhook events processed: %w", err)
	}

	log.Ctx(ctx).Infof("webhook drain consumed %d of %d events, %d to retry", len(processedIDs), len(events), failures)
	if failures > 0 {
		return fmt.Errorf("%d of %d webhook events failed and will be retried", failures, len(events))
	}
	return nil
}

// drainEvent handles one stored notification. consumed=true marks the event
// processed; an error with consumed=false leaves it for the next tick.
func (j webhookEventsDrainJob) drainEvent(ctx context.Context, event *data.WebhookEvent, sellersByUserID map[string]*data.Seller) (consumed bool, err error) {
	if event.Topic != paymentWebhookTopic {
		log.Ctx(ctx).Debugf("webhook event %s has topic %q, nothing to do", event.ID, event.Topic)
		return true, nil
	}

	paymentID, ok := paymentIDFromResource(event.Resource)
	if !ok {
		log.Ctx(ctx).Warnf("webhook event %s carries an unparseable resource %q", event.ID, event.Resource)
		return true, nil
	}

	seller, err := j.sellerForEvent(ctx, event, sellersByUserID)
	if err != nil {
		return false, err
	}
	if seller == nil {
		log.Ctx(ctx).Warnf("webhook event %s references unknown marketplace user %q", event.ID, event.MarketplaceUserID)
		return true, nil
	}

	payment, err := j.marketplaceClient.GetPayment(ctx, seller, paymentID)
	if err != nil {
		if apiErr, ok := marketplace.AsAPIError(err); ok && apiErr.IsNotFound() {
			log.Ctx(ctx).Warnf("payment %d behind webhook event %s no longer exists upstream", paymentID, event.ID)
			return true, nil
		}
		return false, fmt.Errorf("fetching payment %d: %w", paymentID, err)
	}

	if _, err = j.processor.Process(ctx, seller, payment); err != nil {
		return false, fmt.Errorf("processing payment %d: %w", paymentID, err)
	}
	return true, nil
}

func (j webhookEventsDrainJob) sellerForEvent(ctx context.Context, event *data.WebhookEvent, sellersByUserID map[string]*data.Seller) (*data.Seller, error) {
	if event.MarketplaceUserID == "" {
		return nil, nil
	}
	if seller, cached := sellersByUserID[event.MarketplaceUserID]; cached {
		return seller, nil
	}

	seller, err := j.models.Sellers.GetByMarketplaceUserID(ctx, j.models.DBConnectionPool, event.MarketplaceUserID)
	if errors.Is(err, data.ErrRecordNotFound) {
		sellersByUserID[event.MarketplaceUserID] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving marketplace user %q: %w", event.MarketplaceUserID, err)
	}

	sellersByUserID[event.MarketplaceUserID] = seller
	return seller, nil
}

// paymentIDFromResource extracts the numeric payment id from a notification
// resource, which arrives either as a bare id or as a path like
// "/v1/payments/123".
func paymentIDFromResource(resource string) (int64, bool) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(resource), "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func NewWebhookEventsDrainJob(options WebhookEventsDrainJobOptions) Job {
	return &webhookEventsDrainJob{
		models:            options.Models,
		marketplaceClient: options.MarketplaceClient,
		processor:         services.NewPaymentProcessor(options.Models, options.MarketplaceClient),
	}
}

var _ Job = new(webhookEventsDrainJob)
