package services

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/marketplace"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

const (
	// DefaultReleaseStatusCacheEntries bounds the cache; one entry per
	// payment id seen during a settlement run.
	DefaultReleaseStatusCacheEntries = 8192

	// DefaultReleaseStatusCacheTTL is short enough that a payment held as
	// pending today is re-checked on the next daily run.
	DefaultReleaseStatusCacheTTL = 6 * time.Hour
)

// ReleaseStatusChecker answers "has the marketplace released this payment's
// money yet?". The settlement scheduler asks this for every open parcel, and
// the same payment ids repeat across runs, so answers are cached with a TTL.
type ReleaseStatusChecker struct {
	MarketplaceClient marketplace.ClientInterface

	cache *expirable.LRU[int64, string]
}

func NewReleaseStatusChecker(marketplaceClient marketplace.ClientInterface) *ReleaseStatusChecker {
	return &ReleaseStatusChecker{
		MarketplaceClient: marketplaceClient,
		cache:             expirable.NewLRU[int64, string](DefaultReleaseStatusCacheEntries, nil, DefaultReleaseStatusCacheTTL),
	}
}

// Status resolves a payment's money release status, from cache when fresh.
// Payments the marketplace reports without the status field fall back to
// comparing the release date against today.
func (c *ReleaseStatusChecker) Status(ctx context.Context, seller *data.Seller, paymentID int64) (string, error) {
	if status, ok := c.cache.Get(paymentID); ok {
		return status, nil
	}

	payment, err := c.MarketplaceClient.GetPayment(ctx, seller, paymentID)
	if err != nil {
		return "", fmt.Errorf("getting payment %d to resolve release status: %w", paymentID, err)
	}

	status := payment.MoneyReleaseStatus
	if status == "" {
		status = marketplace.MoneyReleaseStatusPending
		if payment.MoneyReleaseDate != nil && !payment.MoneyReleaseDate.After(utils.NowOperational()) {
			status = marketplace.MoneyReleaseStatusReleased
		}
	}

	c.cache.Add(paymentID, status)
	return status, nil
}

// IsReleased reports whether settling against this payment is safe. Only an
// explicit pending hold blocks settlement; statuses outside the known
// vocabulary are treated like released so a marketplace vocabulary change
// never strands parcels.
func (c *ReleaseStatusChecker) IsReleased(ctx context.Context, seller *data.Seller, paymentID int64) (bool, error) {
	status, err := c.Status(ctx, seller, paymentID)
	if err != nil {
		return false, err
	}
	return status != marketplace.MoneyReleaseStatusPending, nil
}

// Statuses resolves a batch of payment ids, one marketplace lookup per
// uncached id. Lookups that fail are logged and left out of the result, so
// callers treat absence as "not released".
func (c *ReleaseStatusChecker) Statuses(ctx context.Context, seller *data.Seller, paymentIDs []int64) map[int64]string {
	statuses := make(map[int64]string, len(paymentIDs))
	for _, paymentID := range paymentIDs {
		if _, done := statuses[paymentID]; done {
			continue
		}
		status, err := c.Status(ctx, seller, paymentID)
		if err != nil {
			log.Ctx(ctx).Warnf("resolving release status of payment %d for seller %s: %v", paymentID, seller.ID, err)
			continue
		}
		statuses[paymentID] = status
	}
	return statuses
}
