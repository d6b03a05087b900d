package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/httpclient"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// tokenExpirySkew is how close to expiry a token may get before it is
// refreshed proactively. Tokens are never sent when less than this remains.
const tokenExpirySkew = 60 * time.Second

// TokenManagerInterface resolves a usable marketplace access token for a
// seller, refreshing it when needed.
type TokenManagerInterface interface {
	AccessToken(ctx context.Context, seller *data.Seller) (string, error)
}

// TokenManager keeps per-seller OAuth tokens fresh. The marketplace rotates
// refresh tokens on every exchange, so a refresh token is single-use:
// refreshes for the same seller are serialized with a per-seller mutex, and a
// refresh that loses the race to another process re-reads the seller row and
// retries once with the tokens that process persisted.
type TokenManager struct {
	AuthURL            string
	SharedClientID     string
	SharedClientSecret string

	models     *data.Models
	httpClient httpclient.HTTPClientInterface

	mu          sync.Mutex
	sellerLocks map[string]*sync.Mutex
}

// NewTokenManager creates a TokenManager backed by the given models.
func NewTokenManager(authURL, sharedClientID, sharedClientSecret string, models *data.Models) *TokenManager {
	return &TokenManager{
		AuthURL:            authURL,
		SharedClientID:     sharedClientID,
		SharedClientSecret: sharedClientSecret,
		models:             models,
		httpClient:         httpclient.DefaultClient(),
		sellerLocks:        map[string]*sync.Mutex{},
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// AccessToken returns a token valid for at least tokenExpirySkew, refreshing
// and persisting a new access+refresh pair when the stored one is too close
// to expiry. The seller struct is updated in place with whatever ends up
// persisted, so callers can keep reusing it across a batch.
func (tm *TokenManager) AccessToken(ctx context.Context, seller *data.Seller) (string, error) {
	if tokenUsable(seller) {
		return seller.AccessToken, nil
	}

	lock := tm.sellerLock(seller.ID)
	lock.Lock()
	defer lock.Unlock()

	err := retry.Do(
		func() error {
			// Re-read after acquiring the lock: another goroutine or process
			// may have refreshed while we waited.
			fresh, getErr := tm.models.Sellers.Get(ctx, tm.models.DBConnectionPool, seller.ID)
			if getErr != nil {
				return retry.Unrecoverable(fmt.Errorf("re-reading seller %s: %w", seller.ID, getErr))
			}
			*seller = *fresh

			if tokenUsable(seller) {
				return nil
			}
			return tm.refresh(ctx, seller)
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			apiErr, ok := AsAPIError(err)
			return ok && apiErr.IsConsumedRefreshToken()
		}),
		retry.OnRetry(func(attempt uint, err error) {
			log.Ctx(ctx).Warnf("refresh token for seller %s was already consumed, re-reading and retrying: %v", seller.ID, err)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("refreshing marketplace token for seller %s: %w", seller.ID, err)
	}

	return seller.AccessToken, nil
}

// refresh exchanges the seller's refresh token for a new pair and persists
// it. Must be called with the seller's lock held.
func (tm *TokenManager) refresh(ctx context.Context, seller *data.Seller) error {
	if seller.RefreshToken == "" {
		return retry.Unrecoverable(fmt.Errorf("seller %s has no refresh token stored", seller.ID))
	}

	clientID, clientSecret := tm.SharedClientID, tm.SharedClientSecret
	if seller.HasOwnAppCredentials() {
		clientID, clientSecret = seller.AppClientID, seller.AppClientSecret
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("refresh_token", seller.RefreshToken)

	resp, err := tm.httpClient.PostForm(tm.AuthURL, form)
	if err != nil {
		return fmt.Errorf("posting token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiError, parseErr := parseAPIError(resp)
		if parseErr != nil {
			return fmt.Errorf("parsing token exchange error: %w", parseErr)
		}
		return fmt.Errorf("exchanging refresh token: %w", apiError)
	}

	var tokens tokenResponse
	if err = json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return fmt.Errorf("decoding token exchange response: %w", err)
	}
	if tokens.AccessToken == "" {
		return fmt.Errorf("token exchange response has no access_token")
	}
	refreshToken := tokens.RefreshToken
	if refreshToken == "" {
		refreshToken = seller.RefreshToken
	}
	expiresAt := time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second)

	err = tm.models.Sellers.UpdateTokens(ctx, tm.models.DBConnectionPool, seller.ID, tokens.AccessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("persisting refreshed tokens: %w", err)
	}

	seller.AccessToken = tokens.AccessToken
	seller.RefreshToken = refreshToken
	seller.TokenExpiresAt = &expiresAt

	log.Ctx(ctx).Debugf("refreshed marketplace token for seller %s, valid until %s", seller.ID, expiresAt.Format(time.RFC3339))
	return nil
}

func (tm *TokenManager) sellerLock(sellerID string) *sync.Mutex {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	lock, ok := tm.sellerLocks[sellerID]
	if !ok {
		lock = &sync.Mutex{}
		tm.sellerLocks[sellerID] = lock
	}
	return lock
}

func tokenUsable(seller *data.Seller) bool {
	return seller.AccessToken != "" &&
		seller.TokenExpiresAt != nil &&
		time.Until(*seller.TokenExpiresAt) > tokenExpirySkew
}

var _ TokenManagerInterface = (*TokenManager)(nil)
