package config

import (
	"go/types"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ConfigOptions_Init_registersFlagsAndDefaults(t *testing.T) {
	viper.Reset()

	var (
		databaseURL string
		port        int
		dryRun      bool
	)
	co := ConfigOptions{
		{Name: "database-url", OptType: types.String, ConfigKey: &databaseURL, FlagDefault: "postgres://localhost:5432/reconciler?sslmode=disable"},
		{Name: "port", OptType: types.Int, ConfigKey: &port, FlagDefault: 8000},
		{Name: "dry-run", OptType: types.Bool, ConfigKey: &dryRun, FlagDefault: false},
	}

	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, co.Init(cmd))
	require.NoError(t, cmd.ParseFlags([]string{"--port", "9999", "--dry-run"}))
	require.NoError(t, co.SetValues())

	assert.Equal(t, "postgres://localhost:5432/reconciler?sslmode=disable", databaseURL)
	assert.Equal(t, 9999, port)
	assert.True(t, dryRun)
}

func Test_ConfigOptions_SetValues_customSetter(t *testing.T) {
	viper.Reset()

	var parsed int
	co := ConfigOptions{
		{
			Name:        "rate-limit-capacity",
			OptType:     types.Int,
			FlagDefault: 9,
			CustomSetValue: func(opt *ConfigOption) error {
				parsed = viper.GetInt(opt.Name) * 2
				return nil
			},
		},
	}

	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, co.Init(cmd))
	require.NoError(t, cmd.ParseFlags(nil))
	require.NoError(t, co.SetValues())
	assert.Equal(t, 18, parsed)
}

func Test_ConfigOption_EnvVarName(t *testing.T) {
	co := &ConfigOption{Name: "erp-client-secret"}
	assert.Equal(t, "ERP_CLIENT_SECRET", co.EnvVarName())
}

func Test_ConfigOption_UsageText(t *testing.T) {
	co := &ConfigOption{Name: "erp-client-secret", Usage: "The client secret of the ERP integration."}
	assert.Equal(t, "The client secret of the ERP integration. (ERP_CLIENT_SECRET)", co.UsageText())
}

func Test_ConfigOption_envBinding(t *testing.T) {
	viper.Reset()
	t.Setenv("MARKETPLACE_BASE_URL", "https://api.example.test")

	var baseURL string
	co := ConfigOptions{
		{Name: "marketplace-base-url", OptType: types.String, ConfigKey: &baseURL, FlagDefault: "https://api.mercadopago.com"},
	}

	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, co.Init(cmd))
	require.NoError(t, cmd.ParseFlags(nil))
	require.NoError(t, co.SetValues())
	assert.Equal(t, "https://api.example.test", baseURL)
}
