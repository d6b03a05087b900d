package erp

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
	"github.com/sellerledger/marketplace-reconciler-backend/db/dbtest"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/httpclient"
)

const testAuthURL = "http://localhost:9090/oauth/token"

// signedTestJWT builds a JWT whose exp claim the manager should prefer over
// the response's expires_in.
func signedTestJWT(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func Test_TokenManager_AccessToken(t *testing.T) {
	dbt := dbtest.Open(t)
	dbConnectionPool, outerErr := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, outerErr)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, outerErr := data.NewModels(dbConnectionPool)
	require.NoError(t, outerErr)

	clearERPTokens := func(t *testing.T) {
		t.Helper()
		_, err := dbConnectionPool.ExecContext(ctx, "DELETE FROM erp_tokens")
		require.NoError(t, err)
	}

	newManagerWithMock := func(t *testing.T, seedRefreshToken string) (*TokenManager, *httpclient.HTTPClientMock) {
		t.Helper()
		httpClientMock := &httpclient.HTTPClientMock{}
		t.Cleanup(func() { httpClientMock.AssertExpectations(t) })

		tm := NewTokenManager(testAuthURL, "erp-client-id", "erp-client-secret", seedRefreshToken, models)
		tm.httpClient = httpClientMock
		return tm, httpClientMock
	}

	t.Run("no refresh token anywhere is an error", func(t *testing.T) {
		clearERPTokens(t)
		tm, _ := newManagerWithMock(t, "")

		token, err := tm.AccessToken(ctx)
		assert.ErrorContains(t, err, "no ERP refresh token available")
		assert.Empty(t, token)
	})

	t.Run("🎉 bootstraps from the seed refresh token and persists the pair", func(t *testing.T) {
		clearERPTokens(t)
		tm, httpClientMock := newManagerWithMock(t, "seed-refresh")

		jwtExpiry := time.Now().Add(2 * time.Hour)
		httpClientMock.
			On("PostForm", testAuthURL, mock.Anything).
			Return(jsonResponse(200, `{
				"access_token": "`+signedTestJWT(t, jwtExpiry)+`",
				"token_type": "Bearer",
				"expires_in": 60,
				"refresh_token": "rotated-refresh"
			}`), nil).
			Run(func(args mock.Arguments) {
				form, ok := args.Get(1).(url.Values)
				require.True(t, ok)
				assert.Equal(t, "refresh_token", form.Get("grant_type"))
				assert.Equal(t, "erp-client-id", form.Get("client_id"))
				assert.Equal(t, "erp-client-secret", form.Get("client_secret"))
				assert.Equal(t, "seed-refresh", form.Get("refresh_token"))
			}).
			Once()

		token, err := tm.AccessToken(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		// The exp claim wins over the 60s expires_in.
		stored, err := models.ERPTokens.Get(ctx, dbConnectionPool)
		require.NoError(t, err)
		assert.Equal(t, token, stored.AccessToken)
		assert.Equal(t, "rotated-refresh", stored.RefreshToken)
		assert.WithinDuration(t, jwtExpiry, stored.ExpiresAt, 2*time.Second)

		// A second call serves from the cell without touching HTTP.
		again, err := tm.AccessToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, token, again)
	})

	t.Run("reuses a fresh persisted row instead of refreshing", func(t *testing.T) {
		clearERPTokens(t)
		_, err := models.ERPTokens.Upsert(ctx, dbConnectionPool, "persisted-access", "persisted-refresh", time.Now().Add(1*time.Hour))
		require.NoError(t, err)

		tm, _ := newManagerWithMock(t, "seed-refresh")
		token, err := tm.AccessToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "persisted-access", token)
	})

	t.Run("expired row refreshes with the persisted refresh token, falling back to expires_in for opaque tokens", func(t *testing.T) {
		clearERPTokens(t)
		_, err := models.ERPTokens.Upsert(ctx, dbConnectionPool, "stale-access", "stale-refresh", time.Now().Add(-1*time.Hour))
		require.NoError(t, err)

		tm, httpClientMock := newManagerWithMock(t, "seed-refresh")
		httpClientMock.
			On("PostForm", testAuthURL, mock.Anything).
			Return(jsonResponse(200, `{
				"access_token": "opaque-access",
				"expires_in": 21600,
				"refresh_token": "next-refresh"
			}`), nil).
			Run(func(args mock.Arguments) {
				form, ok := args.Get(1).(url.Values)
				require.True(t, ok)
				// The persisted token wins over the seed.
				assert.Equal(t, "stale-refresh", form.Get("refresh_token"))
			}).
			Once()

		token, err := tm.AccessToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "opaque-access", token)

		stored, err := models.ERPTokens.Get(ctx, dbConnectionPool)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(21600*time.Second), stored.ExpiresAt, 10*time.Second)
	})

	t.Run("identity provider rejection is wrapped", func(t *testing.T) {
		clearERPTokens(t)
		_, err := models.ERPTokens.Upsert(ctx, dbConnectionPool, "stale-access", "revoked-refresh", time.Now().Add(-1*time.Hour))
		require.NoError(t, err)

		tm, httpClientMock := newManagerWithMock(t, "")
		httpClientMock.
			On("PostForm", testAuthURL, mock.Anything).
			Return(jsonResponse(400, `{"message": "invalid_client"}`), nil).
			Once()

		token, err := tm.AccessToken(ctx)
		assert.Empty(t, token)
		assert.ErrorContains(t, err, "refreshing ERP token")

		apiErr, ok := AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, 400, apiErr.StatusCode)
	})
}

func Test_TokenManager_Invalidate(t *testing.T) {
	dbt := dbtest.Open(t)
	dbConnectionPool, outerErr := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, outerErr)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, outerErr := data.NewModels(dbConnectionPool)
	require.NoError(t, outerErr)

	httpClientMock := &httpclient.HTTPClientMock{}
	defer httpClientMock.AssertExpectations(t)

	tm := NewTokenManager(testAuthURL, "erp-client-id", "erp-client-secret", "seed-refresh", models)
	tm.httpClient = httpClientMock

	httpClientMock.
		On("PostForm", testAuthURL, mock.Anything).
		Return(jsonResponse(200, `{"access_token": "first-access", "expires_in": 21600, "refresh_token": "first-refresh"}`), nil).
		Once()

	token, err := tm.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first-access", token)

	// Invalidate drops the cell and expires the persisted row.
	require.NoError(t, tm.Invalidate(ctx))

	stored, err := models.ERPTokens.Get(ctx, dbConnectionPool)
	require.NoError(t, err)
	assert.True(t, stored.ExpiresAt.Before(time.Now()))

	// The next call is forced through a full refresh with the rotated token.
	httpClientMock.
		On("PostForm", testAuthURL, mock.Anything).
		Return(jsonResponse(200, `{"access_token": "second-access", "expires_in": 21600, "refresh_token": "second-refresh"}`), nil).
		Run(func(args mock.Arguments) {
			form, ok := args.Get(1).(url.Values)
			require.True(t, ok)
			assert.Equal(t, "first-refresh", form.Get("refresh_token"))
		}).
		Once()

	token, err = tm.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second-access", token)
}
