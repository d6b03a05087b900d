package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/erp"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/services"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

const (
	settlementJobName            = "settlement_scheduler"
	settlementJobIntervalSeconds = 300

	// DefaultSettlementHour is the operational-time hour at which the daily
	// settlement pass becomes due. Late morning, so the marketplace has
	// finished releasing the previous day's money.
	DefaultSettlementHour = 10
)

type SettlementJobOptions struct {
	Models        *data.Models
	ERPClient     erp.ClientInterface
	ReleaseStatus *services.ReleaseStatusChecker
	// Hour is the operational-time hour after which the daily pass runs.
	// Zero or negative falls back to DefaultSettlementHour.
	Hour int
}

// settlementRunState is the per-seller sync_state blob that records the last
// completed daily pass.
type settlementRunState struct {
	LastRunDate string    `json:"last_run_date"`
	RanAt       time.Time `json:"ran_at"`
	Summary     string    `json:"summary,omitempty"`
}

// settlementJob runs the settlement scheduler once per seller per operational
// day. Each seller carries its own last-run marker, so a seller whose pass
// failed is retried on the next tick without re-running the others.
type settlementJob struct {
	models  *data.Models
	service *services.SettlementScheduler
	hour    int
}

func (j settlementJob) GetName() string {
	return settlementJobName
}

func (j settlementJob) GetInterval() time.Duration {
	return settlementJobIntervalSeconds * time.Second
}

func (j settlementJob) Execute(ctx context.Context) error {
	if time.Now().In(utils.OperationalZone).Hour() < j.hour {
		return nil
	}
	today := utils.FormatISODate(utils.TodayOperational())

	sellers, err := j.models.Sellers.GetAllActive(ctx, j.models.DBConnectionPool)
	if err != nil {
		return fmt.Errorf("getting active sellers for the settlement pass: %w", err)
	}

	ran, failed := 0, 0
	for i := range sellers {
		seller := &sellers[i]
		if !seller.IntegrationMode.PostsToERP() {
			continue
		}

		due, err := j.dueFor(ctx, seller.ID, today)
		if err != nil {
			failed++
			log.Ctx(ctx).Errorf("checking the settlement marker of seller %s: %v", seller.ID, err)
			continue
		}
		if !due {
			continue
		}

		summary, err := j.service.Run(ctx, seller, false)
		if err != nil {
			failed++
			log.Ctx(ctx).Errorf("settlement pass for seller %s: %v", seller.ID, err)
			continue
		}

		state := settlementRunState{LastRunDate: today, RanAt: time.Now().UTC(), Summary: summary.String()}
		if err = j.models.SyncState.UpsertFrom(ctx, j.models.DBConnectionPool, data.SyncKeySettlementRun, seller.ID, state); err != nil {
			failed++
			log.Ctx(ctx).Errorf("recording the settlement marker of seller %s: %v", seller.ID, err)
			continue
		}
		ran++
	}

	if ran > 0 || failed > 0 {
		log.Ctx(ctx).Infof("settlement pass for %s: %d sellers settled, %d failed", today, ran, failed)
	}
	if failed > 0 {
		return fmt.Errorf("settlement pass failed for %d sellers", failed)
	}
	return nil
}

// dueFor reports whether the seller's pass for today is still outstanding.
func (j settlementJob) dueFor(ctx context.Context, sellerID, today string) (bool, error) {
	var state settlementRunState
	err := j.models.SyncState.GetInto(ctx, j.models.DBConnectionPool, data.SyncKeySettlementRun, sellerID, &state)
	if errors.Is(err, data.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return state.LastRunDate < today, nil
}

func NewSettlementJob(options SettlementJobOptions) Job {
	hour := options.Hour
	if hour <= 0 {
		hour = DefaultSettlementHour
	}
	return &settlementJob{
		models:  options.Models,
		service: services.NewSettlementScheduler(options.Models, options.ERPClient, options.ReleaseStatus),
		hour:    hour,
	}
}

var _ Job = new(settlementJob)
