package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/services"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

const (
	staleJobsResetJobName            = "stale_jobs_reset"
	staleJobsResetJobIntervalSeconds = 60
)

type StaleJobsResetJobOptions struct {
	Models *data.Models
	Alerts *services.AlertNotifier
}

// staleJobsResetJob releases posting jobs abandoned in processing, usually
// after a worker crash, and alerts the operators when the dead-letter set
// changes. The posting worker resets stale claims once at startup; this job
// covers the window where the worker itself is the thing that crashed.
type staleJobsResetJob struct {
	models *data.Models
	alerts *services.AlertNotifier
	// lastAlertedDead holds the dead count of the last alert, so an unchanged
	// dead-letter set does not page every minute. Executions of one job never
	// overlap, so no lock is needed.
	lastAlertedDead int64
}

func (j *staleJobsResetJob) GetName() string {
	return staleJobsResetJobName
}

func (j *staleJobsResetJob) GetInterval() time.Duration {
	return staleJobsResetJobIntervalSeconds * time.Second
}

func (j *staleJobsResetJob) Execute(ctx context.Context) error {
	reset, err := j.models.Jobs.ResetStale(ctx, data.StaleJobTimeout)
	if err != nil {
		return fmt.Errorf("resetting stale jobs: %w", err)
	}
	if reset > 0 {
		log.Ctx(ctx).Warnf("released %d jobs stuck in processing", reset)
	}

	counts, err := j.models.Jobs.CountByStatus(ctx, j.models.DBConnectionPool)
	if err != nil {
		return fmt.Errorf("counting jobs by status: %w", err)
	}
	dead := counts[data.DeadJobStatus]
	if dead == 0 || dead == j.lastAlertedDead {
		j.lastAlertedDead = dead
		return nil
	}

	oldest, err := j.models.Jobs.OldestDeadAt(ctx, j.models.DBConnectionPool)
	if err != nil {
		return fmt.Errorf("getting the oldest dead job: %w", err)
	}
	j.alerts.NotifyDeadJobs(ctx, dead, oldest)
	j.lastAlertedDead = dead
	return nil
}

func NewStaleJobsResetJob(options StaleJobsResetJobOptions) Job {
	return &staleJobsResetJob{
		models: options.Models,
		alerts: options.Alerts,
	}
}

var _ Job = new(staleJobsResetJob)
