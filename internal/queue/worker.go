package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/crashtracker"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/erp"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/monitor"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

const serviceName = "Queue Worker Service"

const (
	defaultEmptyQueueSleep = 1 * time.Second

	// tokenRefreshRetryJitterMax bounds the delay before a job released
	// after a 401 becomes claimable again, right behind the token refresh.
	tokenRefreshRetryJitterMax = 2 * time.Second
)

type WorkerOptions struct {
	Models             *data.Models
	ERPClient          erp.ClientInterface
	ERPTokenManager    erp.TokenManagerInterface
	RateLimiter        RateLimiterInterface
	MonitorService     monitor.MonitorServiceInterface
	CrashTrackerClient crashtracker.CrashTrackerClient
	EmptyQueueSleep    time.Duration
}

func (opts *WorkerOptions) validate() error {
	if opts.Models == nil {
		return fmt.Errorf("models cannot be nil")
	}
	if opts.ERPClient == nil {
		return fmt.Errorf("ERP client cannot be nil")
	}
	if opts.ERPTokenManager == nil {
		return fmt.Errorf("ERP token manager cannot be nil")
	}
	if opts.CrashTrackerClient == nil {
		return fmt.Errorf("crash tracker client cannot be nil")
	}
	return nil
}

// Worker drains the job queue: it claims one job at a time, spends one
// rate-limiter token, posts the stored request to the ERP and classifies the
// outcome. One Worker runs per process; scaling out is safe because claims
// are serialized by the store.
type Worker struct {
	models             *data.Models
	erpClient          erp.ClientInterface
	erpTokenManager    erp.TokenManagerInterface
	rateLimiter        RateLimiterInterface
	monitorService     monitor.MonitorServiceInterface
	crashTrackerClient crashtracker.CrashTrackerClient
	emptyQueueSleep    time.Duration
}

func NewWorker(opts WorkerOptions) (*Worker, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("validating worker options: %w", err)
	}
	if opts.RateLimiter == nil {
		opts.RateLimiter = DefaultRateLimiter()
	}
	if opts.EmptyQueueSleep <= 0 {
		opts.EmptyQueueSleep = defaultEmptyQueueSleep
	}

	return &Worker{
		models:             opts.Models,
		erpClient:          opts.ERPClient,
		erpTokenManager:    opts.ERPTokenManager,
		rateLimiter:        opts.RateLimiter,
		monitorService:     opts.MonitorService,
		crashTrackerClient: opts.CrashTrackerClient,
		emptyQueueSleep:    opts.EmptyQueueSleep,
	}, nil
}

// Run claims and posts jobs until ctx is canceled or the process receives a
// shutdown signal. The in-flight job is finished, or released as failed,
// before Run returns.
func (w *Worker) Run(ctx context.Context) {
	defer w.crashTrackerClient.FlushEvents(2 * time.Second)
	defer w.crashTrackerClient.Recover()
	log.Ctx(ctx).Infof("Starting %s...", serviceName)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer signal.Stop(signalChan)

	// Release whatever a previous crash left behind in processing.
	if reset, err := w.models.Jobs.ResetStale(ctx, data.StaleJobTimeout); err != nil {
		w.crashTrackerClient.LogAndReportErrors(ctx, err, "resetting stale jobs")
	} else if reset > 0 {
		log.Ctx(ctx).Warnf("released %d jobs stuck in processing", reset)
	}

	for {
		select {
		case <-ctx.Done():
			log.Ctx(ctx).Infof("Stopping %s due to context cancellation...", serviceName)
			return
		case sig := <-signalChan:
			log.Ctx(ctx).Infof("Stopping %s due to OS signal '%+v'", serviceName, sig)
			return
		default:
		}

		job, err := w.models.Jobs.ClaimNext(ctx)
		if err != nil {
			if !errors.Is(err, data.ErrRecordNotFound) {
				w.crashTrackerClient.LogAndReportErrors(ctx, err, "claiming next job")
			}
			select {
			case <-ctx.Done():
				log.Ctx(ctx).Infof("Stopping %s due to context cancellation...", serviceName)
				return
			case sig := <-signalChan:
				log.Ctx(ctx).Infof("Stopping %s due to OS signal '%+v'", serviceName, sig)
				return
			case <-time.After(w.emptyQueueSleep):
			}
			continue
		}

		w.processJob(ctx, job)
	}
}

// processJob spends one posting token, sends the stored request and
// classifies the outcome. Job-state writes use a context that survives
// cancellation so a shutdown mid-flight still lands in a retryable state.
func (w *Worker) processJob(ctx context.Context, job *data.Job) {
	dbCtx := context.WithoutCancel(ctx)

	if err := w.rateLimiter.Acquire(ctx); err != nil {
		// Shutting down while waiting for a token. Nothing was sent, so
		// release the job without consuming an attempt.
		if _, failErr := w.models.Jobs.FailWithoutAttempt(dbCtx, job, "worker stopped before posting", 0); failErr != nil {
			w.crashTrackerClient.LogAndReportErrors(dbCtx, failErr, fmt.Sprintf("releasing job %s on shutdown", job.ID))
		}
		return
	}

	started := time.Now()
	result, err := w.erpClient.Post(ctx, job.Endpoint, job.RequestBody)
	if err != nil {
		// Transport failures behave like a 5xx: retry with backoff.
		w.monitorERPRequest(ctx, job, started, 0)
		log.Ctx(ctx).Warnf("job %s (%s) could not reach the ERP: %v", job.ID, job.Kind, err)

		failed, failErr := w.models.Jobs.Fail(dbCtx, job, err.Error(), nil, nil)
		if failErr != nil {
			w.crashTrackerClient.LogAndReportErrors(dbCtx, failErr, fmt.Sprintf("failing job %s", job.ID))
			return
		}
		w.countJob(ctx, job, failed.Status)
		return
	}
	w.monitorERPRequest(ctx, job, started, result.StatusCode)

	w.classify(dbCtx, job, result)
}

func (w *Worker) classify(ctx context.Context, job *data.Job, result *erp.PostResult) {
	statusCode := result.StatusCode

	switch {
	case result.Ok():
		completed, err := w.models.Jobs.Complete(ctx, job, result.StatusCode, result.Body, result.ReceiptID)
		if err != nil {
			w.crashTrackerClient.LogAndReportErrors(ctx, err, fmt.Sprintf("completing job %s", job.ID))
			return
		}
		log.Ctx(ctx).Infof("job %s (%s) posted to the ERP, receipt %q", job.ID, job.Kind, result.ReceiptID)
		w.countJob(ctx, job, completed.Status)

	case statusCode == http.StatusUnauthorized:
		// The token failed, not the job. Refresh now and release the job
		// without consuming an attempt; the retry lands right after.
		if err := w.erpTokenManager.Invalidate(ctx); err != nil {
			w.crashTrackerClient.LogAndReportErrors(ctx, err, "invalidating ERP token after a 401")
		}
		if _, err := w.erpTokenManager.AccessToken(ctx); err != nil {
			w.crashTrackerClient.LogAndReportErrors(ctx, err, "refreshing ERP token after a 401")
		}

		retryIn := time.Duration(rand.Int63n(int64(tokenRefreshRetryJitterMax)))
		failed, err := w.models.Jobs.FailWithoutAttempt(ctx, job, "ERP rejected the access token (401)", retryIn)
		if err != nil {
			w.crashTrackerClient.LogAndReportErrors(ctx, err, fmt.Sprintf("releasing job %s after a 401", job.ID))
			return
		}
		w.countJob(ctx, job, failed.Status)

	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		log.Ctx(ctx).Warnf("job %s (%s) got a retryable %d from the ERP", job.ID, job.Kind, statusCode)
		failed, err := w.models.Jobs.Fail(ctx, job, fmt.Sprintf("ERP returned %d", statusCode), &statusCode, &result.Body)
		if err != nil {
			w.crashTrackerClient.LogAndReportErrors(ctx, err, fmt.Sprintf("failing job %s", job.ID))
			return
		}
		w.countJob(ctx, job, failed.Status)

	default:
		// Non-401 4xx. One shape is retryable: a settlement rejected because
		// its payment date has not arrived yet. Recognized by the job's own
		// shape, never by the ERP's message text.
		if dueDate, ok := futureSettlementDueDate(job); ok && statusCode == http.StatusBadRequest {
			log.Ctx(ctx).Infof("job %s settles a parcel due %s, rescheduling to the due date", job.ID, dueDate.Format("2006-01-02"))
			rescheduled, err := w.models.Jobs.Reschedule(ctx, job, "settlement date is still in the future", dueDate, &statusCode, &result.Body)
			if err != nil {
				w.crashTrackerClient.LogAndReportErrors(ctx, err, fmt.Sprintf("rescheduling job %s", job.ID))
				return
			}
			w.countJob(ctx, job, rescheduled.Status)
			return
		}

		log.Ctx(ctx).Errorf("job %s (%s) was rejected by the ERP with %d: %s", job.ID, job.Kind, statusCode, result.Body)
		dead, err := w.models.Jobs.FailPermanent(ctx, job, fmt.Sprintf("ERP rejected the posting with %d", statusCode), &statusCode, &result.Body)
		if err != nil {
			w.crashTrackerClient.LogAndReportErrors(ctx, err, fmt.Sprintf("dead-lettering job %s", job.ID))
			return
		}
		w.countJob(ctx, job, dead.Status)
	}
}

// futureSettlementDueDate recognizes a settlement whose stored payment date
// is after today and returns that date.
func futureSettlementDueDate(job *data.Job) (time.Time, bool) {
	if job.Kind != data.SettlementJobKind {
		return time.Time{}, false
	}

	var baixa erp.BaixaRequest
	if err := json.Unmarshal(job.RequestBody, &baixa); err != nil {
		return time.Time{}, false
	}
	dueDate, err := time.ParseInLocation("2006-01-02", baixa.DataPagamento, utils.OperationalZone)
	if err != nil {
		return time.Time{}, false
	}
	if !dueDate.After(utils.TodayOperational()) {
		return time.Time{}, false
	}

	return dueDate, true
}

func (w *Worker) countJob(ctx context.Context, job *data.Job, finalStatus data.JobStatus) {
	if w.monitorService == nil {
		return
	}
	labels := monitor.JobLabels{Kind: string(job.Kind), Status: string(finalStatus)}
	if err := w.monitorService.MonitorCounters(monitor.JobsProcessedCounterTag, labels.ToMap()); err != nil {
		log.Ctx(ctx).Errorf("monitoring processed job: %v", err)
	}
}

func (w *Worker) monitorERPRequest(ctx context.Context, job *data.Job, started time.Time, statusCode int) {
	if w.monitorService == nil {
		return
	}

	status, code := monitor.ClassifyRequestStatus(statusCode)
	endpoint := job.Endpoint
	if job.Kind == data.SettlementJobKind {
		// Baixa paths embed the parcel id; collapse them to one label value.
		endpoint = erp.BaixaPath("{id}")
	}
	labels := monitor.APIRequestLabels{
		Method:     job.Method,
		Endpoint:   endpoint,
		Status:     status,
		StatusCode: code,
	}

	if err := w.monitorService.MonitorHistogram(time.Since(started).Seconds(), monitor.ERPAPIRequestDurationTag, labels.ToMap()); err != nil {
		log.Ctx(ctx).Errorf("monitoring ERP request duration: %v", err)
	}
	if err := w.monitorService.MonitorCounters(monitor.ERPAPIRequestsTotalTag, labels.ToMap()); err != nil {
		log.Ctx(ctx).Errorf("monitoring ERP request count: %v", err)
	}
}
