package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/erp"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/marketplace"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/services"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

const (
	nightlyPipelineJobName            = "nightly_pipeline"
	nightlyPipelineJobIntervalSeconds = 300
)

type NightlyPipelineJobOptions struct {
	Models            *data.Models
	MarketplaceClient marketplace.ClientInterface
	ERPClient         erp.ClientInterface
	Alerts            *services.AlertNotifier
	// StartHour is the operational-time hour after which the run becomes due.
	// Zero means right after midnight.
	StartHour int
}

// nightlyPipelineJob runs the daily reconciliation pipeline once per
// operational day. The job ticks often and checks whether a run is due, so a
// process restarted after the start hour still catches up on the same day.
// "Already ran" is read off the payments cursor in sync_state rather than
// kept in memory.
type nightlyPipelineJob struct {
	models    *data.Models
	pipeline  *services.NightlyPipeline
	startHour int
}

func (j nightlyPipelineJob) GetName() string {
	return nightlyPipelineJobName
}

func (j nightlyPipelineJob) GetInterval() time.Duration {
	return nightlyPipelineJobIntervalSeconds * time.Second
}

func (j nightlyPipelineJob) Execute(ctx context.Context) error {
	due, err := j.due(ctx)
	if err != nil {
		return fmt.Errorf("checking whether the nightly pipeline is due: %w", err)
	}
	if !due {
		return nil
	}

	report, err := j.pipeline.Run(ctx)
	if err != nil {
		return fmt.Errorf("running the nightly pipeline: %w", err)
	}
	if !report.OK() {
		log.Ctx(ctx).Warnf("nightly pipeline for %s..%s finished with failures", report.WindowFrom, report.WindowTo)
	}
	return nil
}

// due reports whether today's run is still outstanding: the operational clock
// has passed the start hour and no seller's payments cursor was written today.
// A night that failed before any cursor write is retried on the next tick.
func (j nightlyPipelineJob) due(ctx context.Context) (bool, error) {
	now := time.Now().In(utils.OperationalZone)
	if now.Hour() < j.startHour {
		return false, nil
	}

	latest, err := j.models.SyncState.LatestUpdatedAt(ctx, j.models.DBConnectionPool, data.SyncKeyPaymentsCursor)
	if err != nil {
		return false, fmt.Errorf("reading the last payments cursor write: %w", err)
	}
	if latest != nil && !latest.Before(utils.TodayOperational()) {
		return false, nil
	}
	return true, nil
}

func NewNightlyPipelineJob(options NightlyPipelineJobOptions) Job {
	return &nightlyPipelineJob{
		models:    options.Models,
		pipeline:  services.NewNightlyPipeline(options.Models, options.MarketplaceClient, options.ERPClient, options.Alerts),
		startHour: options.StartHour,
	}
}

var _ Job = new(nightlyPipelineJob)
