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

type WebhookEvent struct {
	ID                string          `json:"id" db:"id"`
	Topic             string          `json:"topic" db:"topic"`
	Resource          string          `json:"resource" db:"resource"`
	MarketplaceUserID string          `json:"marketplace_user_id,omitempty" db:"marketplace_user_id"`
	Payload           json.RawMessage `json:"payload" db:"payload"`
	ReceivedAt        time.Time       `json:"received_at" db:"received_at"`
	ProcessedAt       *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
}

type WebhookEventModel struct {
	dbConnectionPool db.DBConnectionPool
}

type WebhookEventInsert struct {
	Topic             string          `db:"topic"`
	Resource          string          `db:"resource"`
	MarketplaceUserID string          `db:"marketplace_user_id"`
	Payload           json.RawMessage `db:"payload"`
}

func (w *WebhookEventInsert) Validate() error {
	if strings.TrimSpace(w.Topic) == "" {
		return fmt.Errorf("topic is required")
	}
	if strings.TrimSpace(w.Resource) == "" {
		return fmt.Errorf("resource is required")
	}
	if len(w.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	return nil
}

const webhookEventColumns = `
		w.id,
		w.topic,
		w.resource,
		COALESCE(w.marketplace_user_id, '') AS marketplace_user_id,
		w.payload,
		w.received_at,
		w.processed_at
	`

// Insert persists an incoming webhook before it is acknowledged, so a crash
// between ack and processing loses nothing.
func (m *WebhookEventModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, insert WebhookEventInsert) (*WebhookEvent, error) {
	if err := insert.Validate(); err != nil {
		return nil, fmt.Errorf("validating webhook event: %w", err)
	}

	query := `
		INSERT INTO webhook_events (topic, resource, marketplace_user_id, payload)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		RETURNING ` + strings.ReplaceAll(webhookEventColumns, "w.", "")

	var event WebhookEvent
	err := sqlExec.GetContext(ctx, &event, query, insert.Topic, insert.Resource, insert.MarketplaceUserID, []byte(insert.Payload))
	if err != nil {
		return nil, fmt.Errorf("inserting webhook event: %w", err)
	}

	return &event, nil
}

// GetUnprocessed returns the oldest events still waiting for the drain job.
func (m *WebhookEventModel) GetUnprocessed(ctx context.Context, sqlExec db.SQLExecuter, limit int) ([]WebhookEvent, error) {
	query := `
		SELECT ` + webhookEventColumns + `
		FROM webhook_events w
		WHERE w.processed_at IS NULL
		ORDER BY w.received_at ASC
		LIMIT $1`

	events := []WebhookEvent{}
	err := sqlExec.SelectContext(ctx, &events, query, limit)
	if err != nil {
		return nil, fmt.Errorf("getting unprocessed webhook events: %w", err)
	}

	return events, nil
}

func (m *WebhookEventModel) MarkProcessed(ctx context.Context, sqlExec db.SQLExecuter, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query := `UPDATE webhook_events SET processed_at = NOW() WHERE id = ANY($1) AND processed_at IS NULL`

	result, err := sqlExec.ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("marking %d webhook events processed: %w", len(ids), err)
	}
	numRowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting number of rows affected: %w", err)
	}
	if numRowsAffected != int64(len(ids)) {
		return fmt.Errorf("marking %d webhook events processed affected %d rows: %w", len(ids), numRowsAffected, ErrMismatchNumRowsAffected)
	}

	return nil
}

func (m *WebhookEventModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id string) (*WebhookEvent, error) {
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events w WHERE w.id = $1`

	var event WebhookEvent
	err := sqlExec.GetContext(ctx, &event, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("getting webhook event %s: %w", id, err)
	}

	return &event, nil
}

// CountUnprocessed feeds the queue gauge exposed on the ops endpoint.
func (m *WebhookEventModel) CountUnprocessed(ctx context.Context, sqlExec db.SQLExecuter) (int64, error) {
	var count int64
	err := sqlExec.GetContext(ctx, &count, "SELECT COUNT(*) FROM webhook_events WHERE processed_at IS NULL")
	if err != nil {
		return 0, fmt.Errorf("counting unprocessed webhook events: %w", err)
	}
	return count, nil
}
