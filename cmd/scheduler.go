package cmd

import (
	"go/types"

	"github.com/spf13/cobra"

	cmdUtils "github.com/sellerledger/marketplace-reconciler-backend/cmd/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/db"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/crashtracker"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/erp"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/marketplace"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/message"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/queue"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/scheduler"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/scheduler/jobs"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/services"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/config"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

type SchedulerCommand struct{}

type SchedulerServiceInterface interface {
	StartScheduler(crashTrackerClient crashtracker.CrashTrackerClient, schedulerJobRegistrars ...scheduler.SchedulerJobRegisterOption)
}

type SchedulerService struct{}

// StartScheduler registers the background jobs and blocks until a shutdown
// signal arrives.
func (s *SchedulerService) StartScheduler(crashTrackerClient crashtracker.CrashTrackerClient, schedulerJobRegistrars ...scheduler.SchedulerJobRegisterOption) {
	scheduler.StartScheduler(crashTrackerClient, schedulerJobRegistrars...)
}

func (c *SchedulerCommand) Command(schedulerService SchedulerServiceInterface) *cobra.Command {
	var (
		settlementHour    int
		pipelineStartHour int

		dbConnectionPool       db.DBConnectionPool
		crashTrackerClient     crashtracker.CrashTrackerClient
		schedulerJobRegistrars []scheduler.SchedulerJobRegisterOption
	)

	configOpts := config.ConfigOptions{
		{
			Name:           "settlement-hour",
			Usage:          "Operational-time hour (0-23) after which the daily settlement pass runs.",
			OptType:        types.Int,
			CustomSetValue: cmdUtils.SetConfigOptionOperationalHour,
			ConfigKey:      &settlementHour,
			FlagDefault:    jobs.DefaultSettlementHour,
			Required:       true,
		},
		{
			Name:           "pipeline-start-hour",
			Usage:          "Operational-time hour (0-23) after which the nightly reconciliation pipeline becomes due. Zero runs it right after midnight.",
			OptType:        types.Int,
			CustomSetValue: cmdUtils.SetConfigOptionOperationalHour,
			ConfigKey:      &pipelineStartHour,
			FlagDefault:    0,
			Required:       true,
		},
	}

	// Marketplace and ERP credentials
	marketplaceOpts := cmdUtils.MarketplaceAPIOptions{}
	configOpts = append(configOpts, cmdUtils.MarketplaceConfigOptions(&marketplaceOpts)...)
	erpOpts := cmdUtils.ERPAPIOptions{}
	configOpts = append(configOpts, cmdUtils.ERPConfigOptions(&erpOpts)...)

	// operator alert options
	alertOpts := cmdUtils.AlertOptions{}
	configOpts = append(configOpts, cmdUtils.AlertConfigOptions(&alertOpts)...)
	messengerOptions := message.MessengerOptions{}
	configOpts = append(configOpts, cmdUtils.AWSConfigOptions(&messengerOptions)...)

	// crash tracker options
	crashTrackerOptions := crashtracker.CrashTrackerOptions{}
	configOpts = append(configOpts, cmdUtils.CrashTrackerTypeConfigOption(&crashTrackerOptions.CrashTrackerType))

	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run the background jobs: nightly pipeline, settlements, stale job recovery and webhook drain",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.Parent().PersistentPreRun(cmd.Parent(), args)
			ctx := cmd.Context()

			// Validate & ingest input parameters
			configOpts.Require()
			err := configOpts.SetValues()
			if err != nil {
				log.Ctx(ctx).Fatalf("Error setting values of config options: %s", err.Error())
			}

			// Setup the database
			dbConnectionPool, err = db.OpenDBConnectionPool(globalOptions.DatabaseURL)
			if err != nil {
				log.Ctx(ctx).Fatalf("error opening DB connection pool: %v", err)
			}
			models, err := data.NewModels(dbConnectionPool)
			if err != nil {
				log.Ctx(ctx).Fatalf("error creating models: %v", err)
			}

			// Setup the upstream clients
			marketplaceTokenManager := marketplace.NewTokenManager(marketplaceOpts.AuthURL, marketplaceOpts.ClientID, marketplaceOpts.ClientSecret, models)
			marketplaceClient := marketplace.NewClient(marketplaceOpts.APIBaseURL, marketplaceTokenManager)
			erpTokenManager := erp.NewTokenManager(erpOpts.AuthURL, erpOpts.ClientID, erpOpts.ClientSecret, erpOpts.SeedRefreshToken, models)
			erpClient := erp.NewClient(erpOpts.APIBaseURL, erpTokenManager, queue.DefaultRateLimiter())

			// Setup the operator alert channel
			messengerOptions.MessengerType = alertOpts.EmailSenderType
			messengerClient, err := message.GetClient(messengerOptions)
			if err != nil {
				log.Ctx(ctx).Fatalf("error creating email client: %s", err.Error())
			}
			alerts := services.NewAlertNotifier(messengerClient, alertOpts.OpsEmail)

			schedulerJobRegistrars = []scheduler.SchedulerJobRegisterOption{
				scheduler.WithNightlyPipelineJobOption(jobs.NightlyPipelineJobOptions{
					Models:            models,
					MarketplaceClient: marketplaceClient,
					ERPClient:         erpClient,
					Alerts:            alerts,
					StartHour:         pipelineStartHour,
				}),
				scheduler.WithSettlementJobOption(jobs.SettlementJobOptions{
					Models:        models,
					ERPClient:     erpClient,
					ReleaseStatus: services.NewReleaseStatusChecker(marketplaceClient),
					Hour:          settlementHour,
				}),
				scheduler.WithStaleJobsResetJobOption(jobs.StaleJobsResetJobOptions{
					Models: models,
					Alerts: alerts,
				}),
				scheduler.WithWebhookEventsDrainJobOption(jobs.WebhookEventsDrainJobOptions{
					Models:            models,
					MarketplaceClient: marketplaceClient,
				}),
			}

			// Inject crash tracker options dependencies
			globalOptions.PopulateCrashTrackerOptions(&crashTrackerOptions)
			crashTrackerClient, err = crashtracker.GetClient(ctx, crashTrackerOptions)
			if err != nil {
				log.Ctx(ctx).Fatalf("error creating crash tracker client: %s", err.Error())
			}
		},
		Run: func(cmd *cobra.Command, _ []string) {
			schedulerService.StartScheduler(crashTrackerClient, schedulerJobRegistrars...)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if dbConnectionPool != nil {
				if err := dbConnectionPool.Close(); err != nil {
					log.Errorf("error closing DB connection pool: %v", err)
				}
			}
		},
	}
	err := configOpts.Init(cmd)
	if err != nil {
		log.Fatalf("Error initializing a config option: %s", err.Error())
	}

	return cmd
}
