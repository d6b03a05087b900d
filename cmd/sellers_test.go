package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cmdUtils "github.com/sellerledger/marketplace-reconciler-backend/cmd/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/db"
	"github.com/sellerledger/marketplace-reconciler-backend/db/dbtest"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
)

// rawKeyFromOutput picks the minted API key out of the add-api-key output.
func rawKeyFromOutput(t *testing.T, out string) string {
	t.Helper()

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, data.APIKeyPrefix) {
			return line
		}
	}
	t.Fatalf("no API key found in output: %q", out)
	return ""
}

func Test_SellersCommand_help(t *testing.T) {
	rootCmd := SetupCLI("x.y.z", "1234567890abcdef")
	rootCmd.SetArgs([]string{"sellers", "--help"})
	var out bytes.Buffer
	rootCmd.SetOut(&out)

	err := rootCmd.Execute()
	require.NoError(t, err)

	assert.Contains(t, out.String(), "add-api-key")
	assert.Contains(t, out.String(), "list-api-keys")
	assert.Contains(t, out.String(), "disable-api-key")
}

func Test_SellersCommand_addAPIKey(t *testing.T) {
	cmdUtils.ClearTestEnvironment(t)
	dbt := dbtest.Open(t)

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()
	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("🎉 mints a key and prints the raw value once", func(t *testing.T) {
		rootCmd := SetupCLI("x.y.z", "1234567890abcdef")
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs([]string{
			"sellers", "add-api-key", "ops-dashboard",
			"--database-url", dbt.DSN,
			"--permissions", "read:queue,write:queue",
			"--expiry-days", "30",
		})

		err := rootCmd.Execute()
		require.NoError(t, err)

		assert.Contains(t, out.String(), `API key "ops-dashboard" created with id `)
		rawKey := rawKeyFromOutput(t, out.String())

		apiKey, err := models.APIKeys.ValidateRawKeyAndUpdateLastUsed(ctx, rawKey)
		require.NoError(t, err)
		assert.Equal(t, "ops-dashboard", apiKey.Name)
		assert.Equal(t, data.APIKeyPermissions{data.ReadQueue, data.WriteQueue}, apiKey.Permissions)
		require.NotNil(t, apiKey.ExpiryDate)
	})

	t.Run("🎉 defaults to read:all with no expiry", func(t *testing.T) {
		rootCmd := SetupCLI("x.y.z", "1234567890abcdef")
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs([]string{
			"sellers", "add-api-key", "reporting",
			"--database-url", dbt.DSN,
		})

		err := rootCmd.Execute()
		require.NoError(t, err)

		rawKey := rawKeyFromOutput(t, out.String())
		apiKey, err := models.APIKeys.ValidateRawKeyAndUpdateLastUsed(ctx, rawKey)
		require.NoError(t, err)
		assert.Equal(t, data.APIKeyPermissions{data.ReadAll}, apiKey.Permissions)
		assert.Nil(t, apiKey.ExpiryDate)
	})
}

func Test_SellersCommand_listAPIKeys(t *testing.T) {
	cmdUtils.ClearTestEnvironment(t)
	dbt := dbtest.Open(t)

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()
	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	ctx := context.Background()
	apiKey, err := models.APIKeys.Insert(ctx, "warehouse-sync", []data.APIKeyPermission{data.ReadSellers}, nil)
	require.NoError(t, err)

	rootCmd := SetupCLI("x.y.z", "1234567890abcdef")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"sellers", "list-api-keys", "--database-url", dbt.DSN})

	err = rootCmd.Execute()
	require.NoError(t, err)

	assert.Contains(t, out.String(), apiKey.ID)
	assert.Contains(t, out.String(), "warehouse-sync")
	assert.Contains(t, out.String(), "enabled=true")
	assert.Contains(t, out.String(), "expires=never")
	assert.Contains(t, out.String(), "permissions=read:sellers")
}

func Test_SellersCommand_disableAPIKey(t *testing.T) {
	cmdUtils.ClearTestEnvironment(t)
	dbt := dbtest.Open(t)

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()
	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	ctx := context.Background()
	apiKey, err := models.APIKeys.Insert(ctx, "legacy-integration", []data.APIKeyPermission{data.ReadAll}, nil)
	require.NoError(t, err)

	rootCmd := SetupCLI("x.y.z", "1234567890abcdef")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"sellers", "disable-api-key", apiKey.ID, "--database-url", dbt.DSN})

	err = rootCmd.Execute()
	require.NoError(t, err)

	assert.Contains(t, out.String(), "API key "+apiKey.ID+" disabled.")

	gotKey, err := models.APIKeys.GetByID(ctx, apiKey.ID)
	require.NoError(t, err)
	assert.False(t, gotKey.Enabled)

	_, err = models.APIKeys.ValidateRawKeyAndUpdateLastUsed(ctx, apiKey.Key)
	assert.ErrorIs(t, err, data.ErrRecordNotFound)
}
