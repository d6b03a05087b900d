package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
)

type JobKind string

const (
	RevenueJobKind        JobKind = "revenue"
	CommissionJobKind     JobKind = "commission"
	ShippingJobKind       JobKind = "shipping"
	PartialRefundJobKind  JobKind = "partial_refund"
	RefundReversalJobKind JobKind = "refund_reversal"
	FeeReversalJobKind    JobKind = "fee_reversal"
	FeeAdjustmentJobKind  JobKind = "fee_adjustment"
	SettlementJobKind     JobKind = "settlement"
)

func (k JobKind) Validate() error {
	switch k {
	case RevenueJobKind, CommissionJobKind, ShippingJobKind, PartialRefundJobKind,
		RefundReversalJobKind, FeeReversalJobKind, FeeAdjustmentJobKind, SettlementJobKind:
		return nil
	default:
		return fmt.Errorf("invalid job kind: %s", k)
	}
}

// Job priorities. Lower value wins: revenue postings must land in the ERP
// before the payables and settlements that reference them.
const (
	RevenueJobPriority    = 10
	ExpenseJobPriority    = 20
	SettlementJobPriority = 30
)

const (
	// DefaultMaxAttempts is how many delivery attempts a job gets before dead-lettering.
	DefaultMaxAttempts = 3
	// StaleJobTimeout is how long a job may sit in processing before it is considered abandoned.
	StaleJobTimeout = 5 * time.Minute

	retryBackoffBase = 30 * time.Second
	retryBackoffMax  = 480 * time.Second
)

// RetryBackoff returns the delay before the next delivery attempt, given how
// many attempts have already failed: 30s, 120s, 480s.
func RetryBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	backoff := retryBackoffBase
	for i := 1; i < attempts; i++ {
		backoff *= 4
		if backoff >= retryBackoffMax {
			return retryBackoffMax
		}
	}
	return backoff
}

type Job struct {
	ID                string          `json:"id" db:"id"`
	SellerID          string          `json:"seller_id" db:"seller_id"`
	IdempotencyKey    string          `json:"idempotency_key" db:"idempotency_key"`
	Kind              JobKind         `json:"kind" db:"kind"`
	GroupID           string          `json:"group_id" db:"group_id"`
	Priority          int             `json:"priority" db:"priority"`
	Status            JobStatus       `json:"status" db:"status"`
	Endpoint          string          `json:"endpoint" db:"endpoint"`
	Method            string          `json:"method" db:"method"`
	RequestBody       json.RawMessage `json:"request_body" db:"request_body"`
	Attempts          int             `json:"attempts" db:"attempts"`
	MaxAttempts       int             `json:"max_attempts" db:"max_attempts"`
	ScheduledAt       time.Time       `json:"scheduled_at" db:"scheduled_at"`
	ClaimedAt         *time.Time      `json:"claimed_at,omitempty" db:"claimed_at"`
	ERPResponseStatus *int            `json:"erp_response_status,omitempty" db:"erp_response_status"`
	ERPResponseBody   *string         `json:"erp_response_body,omitempty" db:"erp_response_body"`
	ERPReceipt        *string         `json:"erp_receipt,omitempty" db:"erp_receipt"`
	LastError         *string         `json:"last_error,omitempty" db:"last_error"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// PaymentGroupID is the conventional group id shared by all jobs emitted for one payment.
func PaymentGroupID(sellerID, marketplacePaymentID string) string {
	return fmt.Sprintf("%s:%s", sellerID, marketplacePaymentID)
}

// splitGroupID undoes PaymentGroupID. The second return is the marketplace payment id.
func splitGroupID(groupID string) (sellerID string, marketplacePaymentID string, ok bool) {
	return strings.Cut(groupID, ":")
}

type JobInsert struct {
	SellerID       string          `db:"seller_id"`
	IdempotencyKey string          `db:"idempotency_key"`
	Kind           JobKind         `db:"kind"`
	GroupID        string          `db:"group_id"`
	Priority       int             `db:"priority"`
	Endpoint       string          `db:"endpoint"`
	Method         string          `db:"method"`
	RequestBody    json.RawMessage `db:"request_body"`
	MaxAttempts    int             `db:"max_attempts"`
	ScheduledAt    *time.Time      `db:"scheduled_at"`
}

func (j *JobInsert) Validate() error {
	if strings.TrimSpace(j.SellerID) == "" {
		return fmt.Errorf("seller_id is required")
	}
	if strings.TrimSpace(j.IdempotencyKey) == "" {
		return fmt.Errorf("idempotency_key is required")
	}
	if err := j.Kind.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(j.GroupID) == "" {
		return fmt.Errorf("group_id is required")
	}
	if j.Priority <= 0 {
		return fmt.Errorf("priority must be positive")
	}
	if strings.TrimSpace(j.Endpoint) == "" {
		return fmt.Errorf("endpoint is required")
	}
	if len(j.RequestBody) == 0 {
		return fmt.Errorf("request_body is required")
	}
	return nil
}

type JobModel struct {
	dbConnectionPool db.DBConnectionPool
}

const jobColumns = `
		j.id,
		j.seller_id,
		j.idempotency_key,
		j.kind,
		j.group_id,
		j.priority,
		j.status,
		j.endpoint,
		j.method,
		j.request_body,
		j.attempts,
		j.max_attempts,
		j.scheduled_at,
		j.claimed_at,
		j.erp_response_status,
		j.erp_response_body,
		j.erp_receipt,
		j.last_error,
		j.completed_at,
		j.created_at,
		j.updated_at
	`

// Enqueue inserts a job, deduplicating on the idempotency key. When the key
// already exists the stored job is returned unchanged and created is false.
func (m *JobModel) Enqueue(ctx context.Context, sqlExec db.SQLExecuter, insert JobInsert) (job *Job, created bool, err error) {
	if err = insert.Validate(); err != nil {
		return nil, false, fmt.Errorf("validating job insert: %w", err)
	}

	if insert.Method == "" {
		insert.Method = "POST"
	}
	if insert.MaxAttempts <= 0 {
		insert.MaxAttempts = DefaultMaxAttempts
	}
	scheduledAt := time.Now()
	if insert.ScheduledAt != nil {
		scheduledAt = *insert.ScheduledAt
	}

	query := `
		INSERT INTO jobs
			(seller_id, idempotency_key, kind, group_id, priority, endpoint, method, request_body, max_attempts, scheduled_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING ` + strings.ReplaceAll(jobColumns, "j.", "")

	var inserted Job
	err = sqlExec.GetContext(ctx, &inserted, query,
		insert.SellerID,
		insert.IdempotencyKey,
		insert.Kind,
		insert.GroupID,
		insert.Priority,
		insert.Endpoint,
		insert.Method,
		[]byte(insert.RequestBody),
		insert.MaxAttempts,
		scheduledAt,
	)
	if err == nil {
		return &inserted, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("inserting job: %w", err)
	}

	existing, err := m.GetByIdempotencyKey(ctx, sqlExec, insert.IdempotencyKey)
	if err != nil {
		return nil, false, fmt.Errorf("getting existing job for idempotency key %q: %w", insert.IdempotencyKey, err)
	}
	return existing, false, nil
}

// ClaimNext atomically claims the next eligible job: lowest priority value
// first, then oldest created, restricted to pending or failed jobs whose
// scheduled_at has passed. Returns ErrRecordNotFound when nothing is eligible.
func (m *JobModel) ClaimNext(ctx context.Context) (*Job, error) {
	query := `
		UPDATE jobs
		SET
			status = $1,
			claimed_at = NOW()
		WHERE id = (
			SELECT id
			FROM jobs
			WHERE status = ANY($2)
				AND scheduled_at <= NOW()
			ORDER BY priority ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + strings.ReplaceAll(jobColumns, "j.", "")

	claimable := pq.Array([]string{string(PendingJobStatus), string(FailedJobStatus)})

	var job Job
	err := m.dbConnectionPool.GetContext(ctx, &job, query, ProcessingJobStatus, claimable)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("claiming next job: %w", err)
	}

	return &job, nil
}

// Complete marks a processing job completed with the ERP response, and when
// it is the last job of its group, promotes the originating payment to synced.
func (m *JobModel) Complete(ctx context.Context, job *Job, erpStatus int, erpBody, receipt string) (*Job, error) {
	if job == nil {
		return nil, fmt.Errorf("job is required: %w", ErrMissingInput)
	}

	return db.RunInTransactionWithResult(ctx, m.dbConnectionPool, nil, func(dbTx db.DBTransaction) (*Job, error) {
		query := `
			UPDATE jobs
			SET
				status = $1,
				attempts = attempts + 1,
				erp_response_status = $2,
				erp_response_body = $3,
				erp_receipt = NULLIF($4, ''),
				last_error = NULL,
				completed_at = NOW()
			WHERE id = $5 AND status = $6
			RETURNING ` + strings.ReplaceAll(jobColumns, "j.", "")

		var completed Job
		err := dbTx.GetContext(ctx, &completed, query, CompletedJobStatus, erpStatus, erpBody, receipt, job.ID, ProcessingJobStatus)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("completing job %s: %w", job.ID, ErrMismatchNumRowsAffected)
			}
			return nil, fmt.Errorf("completing job %s: %w", job.ID, err)
		}

		var remaining int
		err = dbTx.GetContext(ctx, &remaining, "SELECT COUNT(*) FROM jobs WHERE group_id = $1 AND status != $2", job.GroupID, CompletedJobStatus)
		if err != nil {
			return nil, fmt.Errorf("counting open jobs for group %s: %w", job.GroupID, err)
		}
		if remaining > 0 {
			return &completed, nil
		}

		// Settlement groups reference ERP parcels rather than local payments,
		// so the update may legitimately match nothing.
		sellerID, marketplacePaymentID, ok := splitGroupID(job.GroupID)
		if !ok {
			return &completed, nil
		}
		_, err = dbTx.ExecContext(ctx, `
			UPDATE payments
			SET status = $1, processed_at = NOW()
			WHERE seller_id = $2 AND marketplace_payment_id = $3 AND status = $4`,
			SyncedPaymentStatus, sellerID, marketplacePaymentID, QueuedPaymentStatus)
		if err != nil {
			return nil, fmt.Errorf("promoting payment for group %s to synced: %w", job.GroupID, err)
		}

		return &completed, nil
	})
}

// Fail records a failed delivery attempt. While attempts remain the job goes
// back to failed with exponential backoff; once attempts reach max_attempts it
// is dead-lettered.
func (m *JobModel) Fail(ctx context.Context, job *Job, errMsg string, erpStatus *int, erpBody *string) (*Job, error) {
	if job == nil {
		return nil, fmt.Errorf("job is required: %w", ErrMissingInput)
	}

	attempts := job.Attempts + 1
	status := FailedJobStatus
	scheduledAt := time.Now().Add(RetryBackoff(attempts))
	if attempts >= job.MaxAttempts {
		status = DeadJobStatus
		scheduledAt = time.Now()
	}

	return m.failWith(ctx, job.ID, status, attempts, scheduledAt, errMsg, erpStatus, erpBody)
}

// FailPermanent dead-letters the job right away, for rejections that retrying
// cannot fix.
func (m *JobModel) FailPermanent(ctx context.Context, job *Job, errMsg string, erpStatus *int, erpBody *string) (*Job, error) {
	if job == nil {
		return nil, fmt.Errorf("job is required: %w", ErrMissingInput)
	}
	return m.failWith(ctx, job.ID, DeadJobStatus, job.Attempts+1, time.Now(), errMsg, erpStatus, erpBody)
}

// FailWithoutAttempt releases the job without consuming an attempt, retrying
// after retryIn. Used when the failure was ours (an expired ERP token), not
// the job's.
func (m *JobModel) FailWithoutAttempt(ctx context.Context, job *Job, errMsg string, retryIn time.Duration) (*Job, error) {
	if job == nil {
		return nil, fmt.Errorf("job is required: %w", ErrMissingInput)
	}
	return m.failWith(ctx, job.ID, FailedJobStatus, job.Attempts, time.Now().Add(retryIn), errMsg, nil, nil)
}

// Reschedule releases a processing job to retry at a caller-chosen time
// without consuming an attempt. Used when the ERP told us when the job can
// succeed, e.g. a settlement rejected for being future-dated.
func (m *JobModel) Reschedule(ctx context.Context, job *Job, errMsg string, retryAt time.Time, erpStatus *int, erpBody *string) (*Job, error) {
	if job == nil {
		return nil, fmt.Errorf("job is required: %w", ErrMissingInput)
	}
	return m.failWith(ctx, job.ID, FailedJobStatus, job.Attempts, retryAt, errMsg, erpStatus, erpBody)
}

func (m *JobModel) failWith(ctx context.Context, jobID string, status JobStatus, attempts int, scheduledAt time.Time, errMsg string, erpStatus *int, erpBody *string) (*Job, error) {
	query := `
		UPDATE jobs
		SET
			status = $1,
			attempts = $2,
			scheduled_at = $3,
			last_error = $4,
			erp_response_status = COALESCE($5, erp_response_status),
			erp_response_body = COALESCE($6, erp_response_body),
			claimed_at = NULL
		WHERE id = $7 AND status = $8
		RETURNING ` + strings.ReplaceAll(jobColumns, "j.", "")

	var failed Job
	err := m.dbConnectionPool.GetContext(ctx, &failed, query, status, attempts, scheduledAt, errMsg, erpStatus, erpBody, jobID, ProcessingJobStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failing job %s: %w", jobID, ErrMismatchNumRowsAffected)
		}
		return nil, fmt.Errorf("failing job %s: %w", jobID, err)
	}

	return &failed, nil
}

// ResetStale releases jobs abandoned in processing, usually after a crash.
// They return to failed with an immediate schedule so the worker picks them
// back up. Runs once at process start.
func (m *JobModel) ResetStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE jobs
		SET
			status = $1,
			scheduled_at = NOW(),
			claimed_at = NULL,
			last_error = CONCAT('reset after stale claim: ', COALESCE(last_error, ''))
		WHERE status = $2 AND COALESCE(claimed_at, updated_at) < $3`

	result, err := m.dbConnectionPool.ExecContext(ctx, query, FailedJobStatus, ProcessingJobStatus, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("resetting stale jobs: %w", err)
	}
	numRowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting number of stale jobs reset: %w", err)
	}

	return numRowsAffected, nil
}

// Requeue sends a dead job back to pending with a fresh attempt budget.
func (m *JobModel) Requeue(ctx context.Context, jobID string) (*Job, error) {
	query := `
		UPDATE jobs
		SET
			status = $1,
			attempts = 0,
			scheduled_at = NOW(),
			claimed_at = NULL,
			last_error = NULL
		WHERE id = $2 AND status = $3
		RETURNING ` + strings.ReplaceAll(jobColumns, "j.", "")

	var job Job
	err := m.dbConnectionPool.GetContext(ctx, &job, query, PendingJobStatus, jobID, DeadJobStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("requeuing job %s: %w", jobID, err)
	}

	return &job, nil
}

// RequeueAllDead sends every dead job back to pending.
func (m *JobModel) RequeueAllDead(ctx context.Context) (int64, error) {
	query := `
		UPDATE jobs
		SET
			status = $1,
			attempts = 0,
			scheduled_at = NOW(),
			claimed_at = NULL,
			last_error = NULL
		WHERE status = $2`

	result, err := m.dbConnectionPool.ExecContext(ctx, query, PendingJobStatus, DeadJobStatus)
	if err != nil {
		return 0, fmt.Errorf("requeuing dead jobs: %w", err)
	}
	numRowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting number of requeued jobs: %w", err)
	}

	return numRowsAffected, nil
}

func (m *JobModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs j WHERE j.id = $1`

	var job Job
	err := sqlExec.GetContext(ctx, &job, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("getting job %s: %w", id, err)
	}

	return &job, nil
}

func (m *JobModel) GetByIdempotencyKey(ctx context.Context, sqlExec db.SQLExecuter, key string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs j WHERE j.idempotency_key = $1`

	var job Job
	err := sqlExec.GetContext(ctx, &job, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("getting job by idempotency key: %w", err)
	}

	return &job, nil
}

func (m *JobModel) GetByGroup(ctx context.Context, sqlExec db.SQLExecuter, groupID string) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs j WHERE j.group_id = $1 ORDER BY j.priority ASC, j.created_at ASC`

	jobs := []Job{}
	err := sqlExec.SelectContext(ctx, &jobs, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("getting jobs for group %s: %w", groupID, err)
	}

	return jobs, nil
}

func (m *JobModel) GetByStatus(ctx context.Context, sqlExec db.SQLExecuter, status JobStatus, limit int) ([]Job, error) {
	if err := status.Validate(); err != nil {
		return nil, err
	}
	query := `SELECT ` + jobColumns + ` FROM jobs j WHERE j.status = $1 ORDER BY j.updated_at DESC LIMIT $2`

	jobs := []Job{}
	err := sqlExec.SelectContext(ctx, &jobs, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("getting jobs with status %s: %w", status, err)
	}

	return jobs, nil
}

// GetDeadPage returns one page of the dead-letter queue, most recently
// dead-lettered first, plus the total number of dead jobs.
func (m *JobModel) GetDeadPage(ctx context.Context, sqlExec db.SQLExecuter, page, pageLimit int) ([]Job, int, error) {
	if page < 1 {
		page = 1
	}
	if pageLimit < 1 {
		pageLimit = 20
	}

	var total int
	err := sqlExec.GetContext(ctx, &total, "SELECT COUNT(*) FROM jobs WHERE status = $1", DeadJobStatus)
	if err != nil {
		return nil, 0, fmt.Errorf("counting dead jobs: %w", err)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs j WHERE j.status = $1 ORDER BY j.updated_at DESC LIMIT $2 OFFSET $3`

	jobs := []Job{}
	err = sqlExec.SelectContext(ctx, &jobs, query, DeadJobStatus, pageLimit, (page-1)*pageLimit)
	if err != nil {
		return nil, 0, fmt.Errorf("getting dead jobs page %d: %w", page, err)
	}

	return jobs, total, nil
}

// CountByStatus returns a count for every job status, including zeroes.
func (m *JobModel) CountByStatus(ctx context.Context, sqlExec db.SQLExecuter) (map[JobStatus]int64, error) {
	rows := []struct {
		Status JobStatus `db:"status"`
		Count  int64     `db:"count"`
	}{}

	err := sqlExec.SelectContext(ctx, &rows, "SELECT status, COUNT(*) AS count FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("counting jobs by status: %w", err)
	}

	counts := make(map[JobStatus]int64, len(JobStatuses()))
	for _, status := range JobStatuses() {
		counts[status] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}

	return counts, nil
}

// CountDeadForDay counts the seller's dead jobs belonging to the day: jobs
// created within [from, to) plus jobs whose group traces back to a payment
// approved within the window, which catches retries of older postings.
func (m *JobModel) CountDeadForDay(ctx context.Context, sqlExec db.SQLExecuter, sellerID string, from, to time.Time) (int64, error) {
	query := `
		SELECT COUNT(*) FROM jobs j
		WHERE j.seller_id = $1
			AND j.status = $2
			AND (
				(j.created_at >= $3 AND j.created_at < $4)
				OR j.group_id IN (
					SELECT p.seller_id || ':' || p.marketplace_payment_id
					FROM payments p
					WHERE p.seller_id = $1
						AND p.approval_date >= $3 AND p.approval_date < $4
				)
			)`

	var count int64
	err := sqlExec.GetContext(ctx, &count, query, sellerID, DeadJobStatus, from, to)
	if err != nil {
		return 0, fmt.Errorf("counting dead jobs for seller %s: %w", sellerID, err)
	}
	return count, nil
}

// OldestDeadAt returns when the longest-dead job was dead-lettered, or nil
// when no job is dead.
func (m *JobModel) OldestDeadAt(ctx context.Context, sqlExec db.SQLExecuter) (*time.Time, error) {
	var oldest sql.NullTime
	err := sqlExec.GetContext(ctx, &oldest, "SELECT MIN(updated_at) FROM jobs WHERE status = $1", DeadJobStatus)
	if err != nil {
		return nil, fmt.Errorf("getting oldest dead job age: %w", err)
	}
	if !oldest.Valid {
		return nil, nil
	}

	return &oldest.Time, nil
}

// OldestPendingCreatedAt returns the created_at of the oldest job still
// waiting to run, or nil when the queue is drained.
func (m *JobModel) OldestPendingCreatedAt(ctx context.Context, sqlExec db.SQLExecuter) (*time.Time, error) {
	var oldest sql.NullTime
	err := sqlExec.GetContext(ctx, &oldest, "SELECT MIN(created_at) FROM jobs WHERE status = ANY($1)",
		pq.Array([]string{string(PendingJobStatus), string(FailedJobStatus)}))
	if err != nil {
		return nil, fmt.Errorf("getting oldest pending job age: %w", err)
	}
	if !oldest.Valid {
		return nil, nil
	}

	return &oldest.Time, nil
}
