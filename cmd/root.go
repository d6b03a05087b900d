package cmd

import (
	"go/types"

	"github.com/spf13/cobra"

	cmdUtils "github.com/sellerledger/marketplace-reconciler-backend/cmd/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/monitor"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/config"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

// globalOptions is a variable that holds the global CLI options that can be
// applied to any command or subcommand.
var globalOptions cmdUtils.GlobalOptionsType

func rootCmd() *cobra.Command {
	configOpts := config.ConfigOptions{
		{
			Name:           "log-level",
			Usage:          `The log level used in this project. Options: "TRACE", "DEBUG", "INFO", "WARN", "ERROR", "FATAL", or "PANIC".`,
			OptType:        types.String,
			FlagDefault:    "TRACE",
			ConfigKey:      &globalOptions.LogLevel,
			CustomSetValue: cmdUtils.SetConfigOptionLogLevel,
			Required:       true,
		},
		{
			Name:      "sentry-dsn",
			Usage:     "The DSN (client key) of the Sentry project. If not provided, Sentry will not be used.",
			OptType:   types.String,
			ConfigKey: &globalOptions.SentryDSN,
			Required:  false,
		},
		{
			Name:        "environment",
			Usage:       `The environment where the application is running. Example: "development", "staging", "production".`,
			OptType:     types.String,
			FlagDefault: "development",
			ConfigKey:   &globalOptions.Environment,
			Required:    true,
		},
		{
			Name:        "database-url",
			Usage:       "Postgres DB URL",
			OptType:     types.String,
			FlagDefault: "postgres://localhost:5432/reconciler?sslmode=disable",
			ConfigKey:   &globalOptions.DatabaseURL,
			Required:    true,
		},
		{
			Name:        "base-url",
			Usage:       "The reconciler server's base URL.",
			OptType:     types.String,
			ConfigKey:   &globalOptions.BaseURL,
			FlagDefault: "http://localhost:8000",
			Required:    true,
		},
		{
			Name:           "operational-utc-offset",
			Usage:          `The fixed UTC offset of the operational timezone, e.g. "-03:00". Business days, statement windows and settlement cutoffs are computed in this zone.`,
			OptType:        types.String,
			ConfigKey:      &globalOptions.OperationalZone,
			CustomSetValue: cmdUtils.SetConfigOptionUTCOffset,
			FlagDefault:    "-03:00",
			Required:       true,
		},
	}

	rootCmd := &cobra.Command{
		Use:     "marketplace-reconciler",
		Short:   "Marketplace Payment Reconciler",
		Long:    "The Marketplace Payment Reconciler mirrors marketplace payments into the ERP: posting intents, bank statement gap entries, fee expenses, settlements and financial closings.",
		Version: globalOptions.Version,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			configOpts.Require()
			err := configOpts.SetValues()
			if err != nil {
				log.Fatalf("Error setting values of config options: %s", err.Error())
			}
			log.Info("Version: ", globalOptions.Version)
			log.Info("GitCommit: ", globalOptions.GitCommit)
		},
		Run: func(cmd *cobra.Command, args []string) {
			err := cmd.Help()
			if err != nil {
				log.Fatalf("Error calling help command: %s", err.Error())
			}
		},
	}

	err := configOpts.Init(rootCmd)
	if err != nil {
		log.Fatalf("Error initializing a config option: %s", err.Error())
	}

	return rootCmd
}

// SetupCLI sets up the CLI and returns the root command with the subcommands
// attached.
func SetupCLI(version, gitCommit string) *cobra.Command {
	globalOptions.Version = version
	globalOptions.GitCommit = gitCommit
	rootCmd := rootCmd()

	// Add subcommands
	rootCmd.AddCommand((&ServeCommand{}).Command(&ServerService{}, &monitor.MonitorService{}))
	rootCmd.AddCommand((&DatabaseCommand{}).Command())
	rootCmd.AddCommand((&WorkerCommand{}).Command(&WorkerService{}))
	rootCmd.AddCommand((&SchedulerCommand{}).Command(&SchedulerService{}))
	rootCmd.AddCommand((&SellersCommand{}).Command())

	return rootCmd
}
