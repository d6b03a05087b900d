package data

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"database/sql/driver"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/exp/slices"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
)

const (
	APIKeyPrefix     = "MRK_"
	APIKeySaltSize   = 16
	APIKeySecretSize = 32
	maxKeygenRetries = 3
)

// alphabet is the allowed character set for the keygen
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

type APIKeyPermission string

const (
	// General
	ReadAll  APIKeyPermission = "read:all"
	WriteAll APIKeyPermission = "write:all"

	// Queue introspection and repair
	ReadQueue  APIKeyPermission = "read:queue"
	WriteQueue APIKeyPermission = "write:queue"

	// Seller administration
	ReadSellers  APIKeyPermission = "read:sellers"
	WriteSellers APIKeyPermission = "write:sellers"

	// Expense review and batch export
	ReadExpenses  APIKeyPermission = "read:expenses"
	WriteExpenses APIKeyPermission = "write:expenses"

	// On-demand operations
	WriteBackfill    APIKeyPermission = "write:backfill"
	WriteSettlements APIKeyPermission = "write:settlements"
	WriteStatements  APIKeyPermission = "write:statements"
	WriteClosing     APIKeyPermission = "write:closing"
)

// validPermissionsMap is the set of all valid permissions for the validation purposes
var validPermissionsMap = map[APIKeyPermission]struct{}{
	ReadAll:          {},
	WriteAll:         {},
	ReadQueue:        {},
	WriteQueue:       {},
	ReadSellers:      {},
	WriteSellers:     {},
	ReadExpenses:     {},
	WriteExpenses:    {},
	WriteBackfill:    {},
	WriteSettlements: {},
	WriteStatements:  {},
	WriteClosing:     {},
}

type APIKeyPermissions []APIKeyPermission

func (p APIKeyPermissions) Value() (driver.Value, error) {
	arr := make([]string, len(p))
	for i, perm := range p {
		arr[i] = string(perm)
	}
	return pq.StringArray(arr).Value()
}

func (p *APIKeyPermissions) Scan(src any) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return fmt.Errorf("scanning APIKeyPermissions: %w", err)
	}
	perms := make(APIKeyPermissions, len(arr))
	for i, s := range arr {
		perm := APIKeyPermission(s)
		if _, ok := validPermissionsMap[perm]; !ok {
			return fmt.Errorf("invalid permission from DB (%s)", s)
		}
		perms[i] = perm
	}
	*p = perms
	return nil
}

func ValidatePermissions(perms []APIKeyPermission) error {
	for _, p := range perms {
		if _, ok := validPermissionsMap[p]; !ok {
			return fmt.Errorf("invalid permission (%s)", p)
		}
	}
	return nil
}

type APIKey struct {
	ID          string            `db:"id" json:"id"`
	Name        string            `db:"name" json:"name"`
	KeyHash     string            `db:"key_hash" json:"-"`
	Salt        string            `db:"salt" json:"-"`
	Permissions APIKeyPermissions `db:"permissions" json:"permissions"`
	ExpiryDate  *time.Time        `db:"expiry_date" json:"expiry_date,omitempty"`
	Enabled     bool              `db:"enabled" json:"enabled"`
	LastUsedAt  *time.Time        `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
	Key         string            `db:"-" json:"key,omitempty"`
}

func (a *APIKey) HasPermission(req APIKeyPermission) bool {
	// hierarchy respect and shortcircuit if the key has *:all permissions
	if strings.HasPrefix(string(req), "read:") && slices.Contains(a.Permissions, ReadAll) {
		return true
	}
	if strings.HasPrefix(string(req), "write:") && slices.Contains(a.Permissions, WriteAll) {
		return true
	}

	return slices.Contains(a.Permissions, req)
}

func (a *APIKey) IsExpired() bool {
	if a.ExpiryDate == nil {
		return false
	}
	return time.Now().UTC().After(*a.ExpiryDate)
}

type APIKeyModel struct {
	dbConnectionPool db.DBConnectionPool
}

// Insert creates, stores, and returns a new APIKey (including the raw key once).
func (m *APIKeyModel) Insert(ctx context.Context, name string, permissions []APIKeyPermission, expiry *time.Time) (*APIKey, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("name is required: %w", ErrMissingInput)
	}
	if len(permissions) == 0 {
		return nil, fmt.Errorf("at least one permission is required: %w", ErrMissingInput)
	}
	if err := ValidatePermissions(permissions); err != nil {
		return nil, err
	}

	var apiKey *APIKey

	for attempt := 1; attempt <= maxKeygenRetries; attempt++ {
		saltBytes := make([]byte, APIKeySaltSize)
		if _, err := rand.Read(saltBytes); err != nil {
			return nil, fmt.Errorf("salt gen: %w", err)
		}

		salt := hex.EncodeToString(saltBytes)
		for i := range saltBytes {
			saltBytes[i] = 0
		}

		secret, err := generateSecret()
		if err != nil {
			return nil, err
		}

		candidate := &APIKey{
			ID:          uuid.New().String(),
			Name:        name,
			KeyHash:     hashAPIKeySecret(salt, secret),
			Salt:        salt,
			Permissions: APIKeyPermissions(permissions),
			ExpiryDate:  expiry,
			Enabled:     true,
		}

		const q = `
			INSERT INTO api_keys (id, name, key_hash, salt, permissions, expiry_date)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING enabled, created_at, updated_at
		`

		row := m.dbConnectionPool.QueryRowxContext(ctx, q,
			candidate.ID, candidate.Name, candidate.KeyHash, candidate.Salt,
			candidate.Permissions, candidate.ExpiryDate,
		)
		if err := row.Scan(&candidate.Enabled, &candidate.CreatedAt, &candidate.UpdatedAt); err != nil {
			var pgErr *pq.Error
			if errors.As(err, &pgErr) && pgErr.Code.Name() == "unique_violation" && attempt < maxKeygenRetries {
				// hash collision - retry with a fresh secret
				continue
			}
			return nil, fmt.Errorf("insert API key: %w", err)
		}

		candidate.Key = APIKeyPrefix + secret
		apiKey = candidate
		break
	}

	if apiKey == nil {
		return nil, fmt.Errorf("could not generate unique API key after %d attempts", maxKeygenRetries)
	}
	return apiKey, nil
}

// hashAPIKeySecret computes SHA256(salt || secret) hex-encoded.
func hashAPIKeySecret(salt, secret string) string {
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateRawKeyAndUpdateLastUsed matches a presented key against the stored
// salted hashes and touches last_used_at on success. Disabled and expired keys
// never match.
func (m *APIKeyModel) ValidateRawKeyAndUpdateLastUsed(ctx context.Context, rawKey string) (*APIKey, error) {
	secret := strings.TrimPrefix(rawKey, APIKeyPrefix)
	if secret == rawKey || secret == "" {
		return nil, ErrRecordNotFound
	}

	const q = `
		SELECT id, name, key_hash, salt, permissions, expiry_date, enabled, last_used_at, created_at, updated_at
		FROM api_keys
		WHERE enabled = TRUE
	`
	candidates := []APIKey{}
	if err := m.dbConnectionPool.SelectContext(ctx, &candidates, q); err != nil {
		return nil, fmt.Errorf("selecting api key candidates: %w", err)
	}

	for i := range candidates {
		candidate := &candidates[i]
		computed := hashAPIKeySecret(candidate.Salt, secret)
		if subtle.ConstantTimeCompare([]byte(computed), []byte(candidate.KeyHash)) != 1 {
			continue
		}
		if candidate.IsExpired() {
			return nil, ErrRecordNotFound
		}
		_, err := m.dbConnectionPool.ExecContext(ctx, "UPDATE api_keys SET last_used_at = NOW() WHERE id = $1", candidate.ID)
		if err != nil {
			return nil, fmt.Errorf("updating api key last_used_at: %w", err)
		}
		return candidate, nil
	}

	return nil, ErrRecordNotFound
}

func (m *APIKeyModel) GetAll(ctx context.Context) ([]*APIKey, error) {
	apiKeys := []*APIKey{}
	query := `
		SELECT id, name, permissions, expiry_date, enabled, last_used_at, created_at, updated_at
		FROM api_keys
		ORDER BY created_at DESC
	`

	err := m.dbConnectionPool.SelectContext(ctx, &apiKeys, query)
	if err != nil {
		return nil, fmt.Errorf("selecting api keys: %w", err)
	}

	return apiKeys, nil
}

func (m *APIKeyModel) GetByID(ctx context.Context, id string) (*APIKey, error) {
	const q = `
		SELECT id, name, permissions, expiry_date, enabled, last_used_at, created_at, updated_at
		FROM api_keys
		WHERE id = $1
	`
	var key APIKey
	err := m.dbConnectionPool.GetContext(ctx, &key, q, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get api key by id: %w", err)
	}
	return &key, nil
}

// Disable revokes a key without deleting its audit trail.
func (m *APIKeyModel) Disable(ctx context.Context, id string) error {
	res, err := m.dbConnectionPool.ExecContext(ctx, "UPDATE api_keys SET enabled = FALSE WHERE id = $1 AND enabled = TRUE", id)
	if err != nil {
		return fmt.Errorf("disabling api key: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting number of rows affected: %w", err)
	}
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m *APIKeyModel) Delete(ctx context.Context, id string) error {
	res, err := m.dbConnectionPool.ExecContext(ctx, "DELETE FROM api_keys WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting number of rows affected: %w", err)
	}
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func generateSecret() (string, error) {
	secBytes := make([]byte, APIKeySecretSize)
	if _, err := rand.Read(secBytes); err != nil {
		return "", fmt.Errorf("secret gen: %w", err)
	}
	defer func() {
		for i := range secBytes {
			secBytes[i] = 0
		}
	}()

	out := make([]byte, APIKeySecretSize)
	for i, b := range secBytes {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}
