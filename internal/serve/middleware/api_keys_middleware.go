package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/httperror"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

type ctxKey string

const (
	APIKeyContextKey ctxKey = "api_key"

	// apiKeyCacheTTL bounds how long a revoked or expired key keeps working.
	apiKeyCacheTTL = 3 * time.Minute
)

type apiKeyAuthenticator struct {
	model *data.APIKeyModel
	cache *ristretto.Cache
}

func newAPIKeyAuthenticator(model *data.APIKeyModel) *apiKeyAuthenticator {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		log.Errorf("Failed to create API key cache: %v", err)
		return &apiKeyAuthenticator{model: model}
	}

	cache.Wait()

	return &apiKeyAuthenticator{
		model: model,
		cache: cache,
	}
}

// validate checks the raw key against the cache first so the hot path skips
// the salted-hash comparison and the last-used write.
func (a *apiKeyAuthenticator) validate(ctx context.Context, rawKey string) (*data.APIKey, error) {
	if a.cache == nil {
		return a.model.ValidateRawKeyAndUpdateLastUsed(ctx, rawKey)
	}

	if cached, found := a.cache.Get(rawKey); found {
		if apiKey, ok := cached.(*data.APIKey); ok && !apiKey.IsExpired() {
			return apiKey, nil
		}
		a.cache.Del(rawKey)
	}

	apiKey, err := a.model.ValidateRawKeyAndUpdateLastUsed(ctx, rawKey)
	if err != nil {
		return nil, err
	}

	if !apiKey.IsExpired() {
		a.cache.SetWithTTL(rawKey, apiKey, 1, apiKeyCacheTTL)
	}

	return apiKey, nil
}

// extractToken accepts "Authorization: Api-Key MRK_..." as documented, and a
// bare "Authorization: MRK_..." for curl convenience.
func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if parts := strings.Split(auth, " "); len(parts) == 2 {
		return parts[1]
	}
	return auth
}

// APIKeyAuthenticate guards the ops routes. The webhook route is the only
// one outside it.
func APIKeyAuthenticate(apiKeyModel *data.APIKeyModel) func(http.Handler) http.Handler {
	auth := newAPIKeyAuthenticator(apiKeyModel)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)

			if !strings.HasPrefix(token, data.APIKeyPrefix) {
				httperror.Unauthorized("", nil, nil).Render(w)
				return
			}

			apiKey, err := auth.validate(r.Context(), token)
			if err != nil {
				httperror.Unauthorized("Invalid API key", nil, nil).Render(w)
				return
			}

			ctx := context.WithValue(r.Context(), APIKeyContextKey, apiKey)
			ctx = log.Set(ctx, log.Ctx(ctx).WithField("api_key", apiKey.Name))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission ensures the authenticated key carries the permission.
func RequirePermission(perm data.APIKeyPermission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, ok := r.Context().Value(APIKeyContextKey).(*data.APIKey)
			if !ok {
				httperror.Unauthorized("", nil, nil).Render(w)
				return
			}
			if !apiKey.HasPermission(perm) {
				httperror.Forbidden("Insufficient API key permissions", nil, nil).Render(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// APIKeyFromContext returns the key the request authenticated with, if any.
func APIKeyFromContext(ctx context.Context) (*data.APIKey, bool) {
	apiKey, ok := ctx.Value(APIKeyContextKey).(*data.APIKey)
	return apiKey, ok
}
