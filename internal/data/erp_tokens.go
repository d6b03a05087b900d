package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
)

// ERPToken is the process-global ERP credential pair. The table holds at
// most one row; writers are serialized by the ERP token manager's mutex.
type ERPToken struct {
	ID           string    `json:"id" db:"id"`
	AccessToken  string    `json:"-" db:"access_token"`
	RefreshToken string    `json:"-" db:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

type ERPTokenModel struct {
	dbConnectionPool db.DBConnectionPool
}

func (m *ERPTokenModel) Get(ctx context.Context, sqlExec db.SQLExecuter) (*ERPToken, error) {
	query := `
		SELECT
			id, access_token, refresh_token, expires_at, updated_at
		FROM
			erp_tokens
		LIMIT 1
	`

	var token ERPToken
	err := sqlExec.GetContext(ctx, &token, query)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("getting erp token: %w", err)
	}

	return &token, nil
}

// Upsert replaces the stored pair, inserting the row on first use.
func (m *ERPTokenModel) Upsert(ctx context.Context, sqlExec db.SQLExecuter, accessToken, refreshToken string, expiresAt time.Time) (*ERPToken, error) {
	if accessToken == "" || refreshToken == "" {
		return nil, fmt.Errorf("access and refresh tokens are required: %w", ErrMissingInput)
	}

	updateQuery := `
		WITH existing AS (
			SELECT id FROM erp_tokens LIMIT 1
		)
		UPDATE erp_tokens
		SET
			access_token = $1,
			refresh_token = $2,
			expires_at = $3
		FROM existing
		WHERE erp_tokens.id = existing.id
		RETURNING
			erp_tokens.id, erp_tokens.access_token, erp_tokens.refresh_token,
			erp_tokens.expires_at, erp_tokens.updated_at
	`

	var token ERPToken
	err := sqlExec.GetContext(ctx, &token, updateQuery, accessToken, refreshToken, expiresAt)
	if err == nil {
		return &token, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("updating erp token: %w", err)
	}

	insertQuery := `
		INSERT INTO erp_tokens
			(access_token, refresh_token, expires_at)
		VALUES
			($1, $2, $3)
		RETURNING
			id, access_token, refresh_token, expires_at, updated_at
	`

	err = sqlExec.GetContext(ctx, &token, insertQuery, accessToken, refreshToken, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("inserting erp token: %w", err)
	}

	return &token, nil
}

// Invalidate marks the stored access token as expired so every process
// refreshes before the next use. No-op when no row exists yet.
func (m *ERPTokenModel) Invalidate(ctx context.Context, sqlExec db.SQLExecuter) error {
	query := `
		WITH existing AS (
			SELECT id FROM erp_tokens LIMIT 1
		)
		UPDATE erp_tokens
		SET expires_at = NOW() - interval '1 second'
		FROM existing
		WHERE erp_tokens.id = existing.id
	`

	if _, err := sqlExec.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("invalidating erp token: %w", err)
	}
	return nil
}
