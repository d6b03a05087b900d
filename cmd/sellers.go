package cmd

import (
	"context"
	"fmt"
	"go/types"
	"strings"
	"time"

	"github.com/spf13/cobra"

	cmdUtils "github.com/sellerledger/marketplace-reconciler-backend/cmd/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/db"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/config"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

type SellersCommand struct{}

func (c *SellersCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sellers",
		Short: "Manage the API keys used by sellers and back-office tools to call the HTTP API",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.Parent().PersistentPreRun(cmd.Parent(), args)
		},
		Run: func(cmd *cobra.Command, args []string) {
			err := cmd.Help()
			if err != nil {
				log.Fatalf("Error calling help command: %s", err.Error())
			}
		},
	}

	var permissions []data.APIKeyPermission
	var expiryDays int
	addConfigOpts := config.ConfigOptions{
		{
			Name:           "permissions",
			Usage:          `Comma-separated permissions granted to the new API key, e.g. "read:queue,write:queue".`,
			OptType:        types.String,
			CustomSetValue: cmdUtils.SetConfigOptionAPIKeyPermissions,
			ConfigKey:      &permissions,
			FlagDefault:    string(data.ReadAll),
			Required:       true,
		},
		{
			Name:        "expiry-days",
			Usage:       "Days until the new API key expires. Zero mints a key that never expires.",
			OptType:     types.Int,
			ConfigKey:   &expiryDays,
			FlagDefault: 0,
			Required:    false,
		},
	}
	addAPIKeyCmd := &cobra.Command{
		Use:   "add-api-key <name>",
		Short: "Mint a new API key. The raw key is printed once and never stored.",
		Args:  cobra.ExactArgs(1),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.Parent().PersistentPreRun(cmd.Parent(), args)

			addConfigOpts.Require()
			err := addConfigOpts.SetValues()
			if err != nil {
				log.Fatalf("Error setting values of config options: %s", err.Error())
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			models, dbConnectionPool := c.openModels(ctx)
			defer closePool(ctx, dbConnectionPool)

			var expiry *time.Time
			if expiryDays > 0 {
				e := time.Now().AddDate(0, 0, expiryDays)
				expiry = &e
			}

			apiKey, err := models.APIKeys.Insert(ctx, args[0], permissions, expiry)
			if err != nil {
				log.Ctx(ctx).Fatalf("Error creating the API key: %s", err.Error())
			}

			fmt.Fprintf(cmd.OutOrStdout(), "API key %q created with id %s.\n", apiKey.Name, apiKey.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "Store the key now, it cannot be recovered later:\n%s\n", apiKey.Key)
		},
	}
	err := addConfigOpts.Init(addAPIKeyCmd)
	if err != nil {
		log.Fatalf("Error initializing a config option: %s", err.Error())
	}
	cmd.AddCommand(addAPIKeyCmd)

	listAPIKeysCmd := &cobra.Command{
		Use:   "list-api-keys",
		Short: "List the API keys, newest first",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			models, dbConnectionPool := c.openModels(ctx)
			defer closePool(ctx, dbConnectionPool)

			apiKeys, err := models.APIKeys.GetAll(ctx)
			if err != nil {
				log.Ctx(ctx).Fatalf("Error listing the API keys: %s", err.Error())
			}

			for _, apiKey := range apiKeys {
				expiry := "never"
				if apiKey.ExpiryDate != nil {
					expiry = apiKey.ExpiryDate.Format(time.RFC3339)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tenabled=%t\texpires=%s\tpermissions=%s\n",
					apiKey.ID, apiKey.Name, apiKey.Enabled, expiry, joinPermissions(apiKey.Permissions))
			}
		},
	}
	cmd.AddCommand(listAPIKeysCmd)

	disableAPIKeyCmd := &cobra.Command{
		Use:   "disable-api-key <id>",
		Short: "Disable an API key. Requests signed with it are rejected from then on.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			models, dbConnectionPool := c.openModels(ctx)
			defer closePool(ctx, dbConnectionPool)

			err := models.APIKeys.Disable(ctx, args[0])
			if err != nil {
				log.Ctx(ctx).Fatalf("Error disabling the API key: %s", err.Error())
			}

			fmt.Fprintf(cmd.OutOrStdout(), "API key %s disabled.\n", args[0])
		},
	}
	cmd.AddCommand(disableAPIKeyCmd)

	return cmd
}

func (c *SellersCommand) openModels(ctx context.Context) (*data.Models, db.DBConnectionPool) {
	dbConnectionPool, err := db.OpenDBConnectionPool(globalOptions.DatabaseURL)
	if err != nil {
		log.Ctx(ctx).Fatalf("error opening DB connection pool: %v", err)
	}
	models, err := data.NewModels(dbConnectionPool)
	if err != nil {
		log.Ctx(ctx).Fatalf("error creating models: %v", err)
	}
	return models, dbConnectionPool
}

func closePool(ctx context.Context, dbConnectionPool db.DBConnectionPool) {
	if err := dbConnectionPool.Close(); err != nil {
		log.Ctx(ctx).Errorf("error closing DB connection pool: %v", err)
	}
}

func joinPermissions(permissions data.APIKeyPermissions) string {
	strs := make([]string, len(permissions))
	for i, p := range permissions {
		strs[i] = string(p)
	}
	return strings.Join(strs, ",")
}
