package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
)

// Well-known sync keys. Each (key, seller) pair holds one opaque JSON blob.
const (
	SyncKeyPaymentsCursor   = "payments_cursor"
	SyncKeyFeeValidation    = "fee_validation"
	SyncKeyFinancialClosing = "financial_closing"
	SyncKeySettlementRun    = "settlement_run"
)

type SyncState struct {
	SyncKey   string          `json:"sync_key" db:"sync_key"`
	SellerID  string          `json:"seller_id" db:"seller_id"`
	State     json.RawMessage `json:"state" db:"state"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

type SyncStateModel struct {
	dbConnectionPool db.DBConnectionPool
}

func (m *SyncStateModel) Get(ctx context.Context, sqlExec db.SQLExecuter, syncKey, sellerID string) (*SyncState, error) {
	query := `SELECT sync_key, seller_id, state, updated_at FROM sync_state WHERE sync_key = $1 AND seller_id = $2`

	var state SyncState
	err := sqlExec.GetContext(ctx, &state, query, syncKey, sellerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("getting sync state %s for seller %s: %w", syncKey, sellerID, err)
	}

	return &state, nil
}

func (m *SyncStateModel) Upsert(ctx context.Context, sqlExec db.SQLExecuter, syncKey, sellerID string, state json.RawMessage) (*SyncState, error) {
	if strings.TrimSpace(syncKey) == "" || strings.TrimSpace(sellerID) == "" {
		return nil, fmt.Errorf("sync_key and seller_id are required: %w", ErrMissingInput)
	}
	if len(state) == 0 {
		state = json.RawMessage("{}")
	}

	query := `
		INSERT INTO sync_state (sync_key, seller_id, state, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (sync_key, seller_id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = NOW()
		RETURNING sync_key, seller_id, state, updated_at`

	var upserted SyncState
	err := sqlExec.GetContext(ctx, &upserted, query, syncKey, sellerID, []byte(state))
	if err != nil {
		return nil, fmt.Errorf("upserting sync state %s for seller %s: %w", syncKey, sellerID, err)
	}

	return &upserted, nil
}

// GetInto unmarshals the stored state into dest. Returns ErrRecordNotFound
// when the pair has never been written.
func (m *SyncStateModel) GetInto(ctx context.Context, sqlExec db.SQLExecuter, syncKey, sellerID string, dest any) error {
	state, err := m.Get(ctx, sqlExec, syncKey, sellerID)
	if err != nil {
		return err
	}
	if err = json.Unmarshal(state.State, dest); err != nil {
		return fmt.Errorf("unmarshaling sync state %s for seller %s: %w", syncKey, sellerID, err)
	}
	return nil
}

// LatestUpdatedAt returns the most recent updated_at across all sellers for
// the key, or nil when the key has never been written. The scheduler uses it
// to decide whether the nightly run already happened today.
func (m *SyncStateModel) LatestUpdatedAt(ctx context.Context, sqlExec db.SQLExecuter, syncKey string) (*time.Time, error) {
	var latest sql.NullTime
	err := sqlExec.GetContext(ctx, &latest, "SELECT MAX(updated_at) FROM sync_state WHERE sync_key = $1", syncKey)
	if err != nil {
		return nil, fmt.Errorf("getting latest update of sync state %s: %w", syncKey, err)
	}
	if !latest.Valid {
		return nil, nil
	}
	return &latest.Time, nil
}

// UpsertFrom marshals src and stores it as the pair's state.
func (m *SyncStateModel) UpsertFrom(ctx context.Context, sqlExec db.SQLExecuter, syncKey, sellerID string, src any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("marshaling sync state %s for seller %s: %w", syncKey, sellerID, err)
	}
	_, err = m.Upsert(ctx, sqlExec, syncKey, sellerID, raw)
	return err
}
