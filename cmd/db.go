package cmd

import (
	"fmt"
	"time"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

type DatabaseCommand struct{}

func (c *DatabaseCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database related commands",
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

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Run: func(cmd *cobra.Command, args []string) {
			err := cmd.Help()
			if err != nil {
				log.Fatalf("Error calling help command: %s", err.Error())
			}
		},
	}
	cmd.AddCommand(migrateCmd)

	var upCount int
	migrateUpCmd := &cobra.Command{
		Use:   "up",
		Short: "Migrates the database up. Applies all pending migrations unless --count is set.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			err := c.runMigration(migrate.Up, upCount)
			if err != nil {
				log.Fatalf("Error migrating database Up: %s", err.Error())
			}
		},
	}
	migrateUpCmd.Flags().IntVar(&upCount, "count", 0, "Number of migrations to apply. 0 applies all pending migrations.")
	migrateCmd.AddCommand(migrateUpCmd)

	var downCount int
	migrateDownCmd := &cobra.Command{
		Use:   "down",
		Short: "Migrates the database down. Rolls back one migration unless --count is set.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			err := c.runMigration(migrate.Down, downCount)
			if err != nil {
				log.Fatalf("Error migrating database Down: %s", err.Error())
			}
		},
	}
	migrateDownCmd.Flags().IntVar(&downCount, "count", 1, "Number of migrations to roll back.")
	migrateCmd.AddCommand(migrateDownCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Shows the applied and pending migrations",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			statuses, err := db.MigrationsStatus(globalOptions.DatabaseURL)
			if err != nil {
				log.Fatalf("Error fetching the migrations status: %s", err.Error())
			}
			for _, status := range statuses {
				if status.AppliedAt != nil {
					log.Infof("applied %s at %s", status.ID, status.AppliedAt.Format(time.RFC3339))
				} else {
					log.Infof("pending %s", status.ID)
				}
			}
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}

func (c *DatabaseCommand) runMigration(dir migrate.MigrationDirection, count int) error {
	numMigrationsRun, err := db.Migrate(globalOptions.DatabaseURL, dir, count)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	if numMigrationsRun == 0 {
		log.Info("No migrations applied.")
	} else {
		log.Infof("Successfully applied %d migrations.", numMigrationsRun)
	}
	return nil
}
