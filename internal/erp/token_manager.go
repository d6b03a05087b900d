package erp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/httpclient"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// tokenExpirySkew is how close to expiry the shared token may get before it
// is refreshed proactively.
const tokenExpirySkew = 60 * time.Second

// TokenManagerInterface resolves the shared ERP access token, refreshing it
// when needed, and invalidates it after a 401.
type TokenManagerInterface interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate(ctx context.Context) error
}

// TokenManager keeps the single deployment-wide ERP token fresh. The token
// lives in an in-memory cell read lock-free and written only under the
// mutex, and is persisted to a single-row table so restarts and sibling
// processes reuse it instead of burning a refresh.
type TokenManager struct {
	AuthURL      string
	ClientID     string
	ClientSecret string
	// SeedRefreshToken bootstraps the very first exchange, before any pair
	// has been persisted. Ignored once a row exists.
	SeedRefreshToken string

	models     *data.Models
	httpClient httpclient.HTTPClientInterface

	mu     sync.Mutex
	cached atomic.Pointer[data.ERPToken]
}

// NewTokenManager creates a TokenManager backed by the given models.
func NewTokenManager(authURL, clientID, clientSecret, seedRefreshToken string, models *data.Models) *TokenManager {
	return &TokenManager{
		AuthURL:          authURL,
		ClientID:         clientID,
		ClientSecret:     clientSecret,
		SeedRefreshToken: seedRefreshToken,
		models:           models,
		httpClient:       httpclient.DefaultClient(),
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// AccessToken returns a token valid for at least tokenExpirySkew. When the
// cached one is too close to expiry it re-reads the persisted row first, so
// a refresh done by another process is reused, and only then exchanges the
// refresh token for a new pair.
func (tm *TokenManager) AccessToken(ctx context.Context) (string, error) {
	if token := tm.cached.Load(); tokenUsable(token) {
		return token.AccessToken, nil
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	// Double-check: another goroutine may have refreshed while we waited.
	if token := tm.cached.Load(); tokenUsable(token) {
		return token.AccessToken, nil
	}

	stored, err := tm.models.ERPTokens.Get(ctx, tm.models.DBConnectionPool)
	if err != nil && !errors.Is(err, data.ErrRecordNotFound) {
		return "", fmt.Errorf("reading persisted ERP token: %w", err)
	}
	if tokenUsable(stored) {
		tm.cached.Store(stored)
		return stored.AccessToken, nil
	}

	token, err := tm.refresh(ctx, stored)
	if err != nil {
		return "", fmt.Errorf("refreshing ERP token: %w", err)
	}
	tm.cached.Store(token)

	return token.AccessToken, nil
}

// Invalidate drops the cached token and expires the persisted row, forcing
// the next AccessToken call in every process to refresh. Called after the
// ERP rejects a request with 401.
func (tm *TokenManager) Invalidate(ctx context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.cached.Store(nil)
	if err := tm.models.ERPTokens.Invalidate(ctx, tm.models.DBConnectionPool); err != nil {
		return fmt.Errorf("invalidating persisted ERP token: %w", err)
	}

	log.Ctx(ctx).Warn("ERP token invalidated after a 401, next call will refresh")
	return nil
}

// refresh exchanges the stored refresh token (or the seed on first use) for
// a new pair and persists it. Must be called with tm.mu held.
func (tm *TokenManager) refresh(ctx context.Context, stored *data.ERPToken) (*data.ERPToken, error) {
	refreshToken := tm.SeedRefreshToken
	if stored != nil && stored.RefreshToken != "" {
		refreshToken = stored.RefreshToken
	}
	if refreshToken == "" {
		return nil, fmt.Errorf("no ERP refresh token available, set one or persist an initial pair")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", tm.ClientID)
	form.Set("client_secret", tm.ClientSecret)
	form.Set("refresh_token", refreshToken)

	resp, err := tm.httpClient.PostForm(tm.AuthURL, form)
	if err != nil {
		return nil, fmt.Errorf("posting token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiError, parseErr := parseAPIError(resp)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing token exchange error: %w", parseErr)
		}
		return nil, fmt.Errorf("exchanging refresh token: %w", apiError)
	}

	var tokens tokenResponse
	if err = json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("decoding token exchange response: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("token exchange response has no access_token")
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	expiresAt := tokenExpiry(tokens.AccessToken, tokens.ExpiresIn)

	token, err := tm.models.ERPTokens.Upsert(ctx, tm.models.DBConnectionPool, tokens.AccessToken, tokens.RefreshToken, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("persisting refreshed ERP token: %w", err)
	}

	log.Ctx(ctx).Debugf("refreshed ERP token, valid until %s", expiresAt.Format(time.RFC3339))
	return token, nil
}

// tokenExpiry extracts the expiry from the access token's exp claim. The
// identity provider issues JWTs; when the token is not one, or carries no
// exp, the response's expires_in is used instead.
func tokenExpiry(accessToken string, expiresIn int64) time.Time {
	fallback := time.Now().Add(time.Duration(expiresIn) * time.Second)

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return fallback
	}
	if claims.ExpiresAt == nil {
		return fallback
	}
	return claims.ExpiresAt.Time
}

func tokenUsable(token *data.ERPToken) bool {
	return token != nil &&
		token.AccessToken != "" &&
		time.Until(token.ExpiresAt) > tokenExpirySkew
}

var _ TokenManagerInterface = (*TokenManager)(nil)
