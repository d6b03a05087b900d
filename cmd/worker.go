package cmd

import (
	"context"
	"go/types"
	"time"

	"github.com/spf13/cobra"

	cmdUtils "github.com/sellerledger/marketplace-reconciler-backend/cmd/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/db"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/crashtracker"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/erp"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/monitor"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/queue"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/config"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

type WorkerCommand struct{}

type WorkerServiceInterface interface {
	StartWorker(ctx context.Context, opts queue.WorkerOptions)
	StartMetricsServe(ctx context.Context, opts serve.MetricsServeOptions, httpServer serve.HTTPServerInterface, crashTrackerClient crashtracker.CrashTrackerClient)
}

type WorkerService struct{}

// StartWorker runs the posting queue worker until the context is canceled or
// a shutdown signal arrives.
func (s *WorkerService) StartWorker(ctx context.Context, opts queue.WorkerOptions) {
	worker, err := queue.NewWorker(opts)
	if err != nil {
		opts.CrashTrackerClient.LogAndReportErrors(ctx, err, "Cannot start queue worker")
		log.Fatalf("Error starting queue worker: %s", err.Error())
	}

	worker.Run(ctx)
}

func (s *WorkerService) StartMetricsServe(ctx context.Context, opts serve.MetricsServeOptions, httpServer serve.HTTPServerInterface, crashTrackerClient crashtracker.CrashTrackerClient) {
	err := serve.MetricsServe(opts, httpServer)
	if err != nil {
		crashTrackerClient.LogAndReportErrors(ctx, err, "Cannot start metrics service")
		log.Fatalf("Error starting metrics server: %s", err.Error())
	}
}

func (c *WorkerCommand) Command(workerService WorkerServiceInterface) *cobra.Command {
	workerOpts := queue.WorkerOptions{}
	monitorService := monitor.MonitorService{}
	var dbConnectionPool db.DBConnectionPool

	var (
		rateLimitCapacity  int
		rateLimitPerSecond int
		pollingInterval    int
	)
	configOpts := config.ConfigOptions{
		{
			Name:        "erp-rate-limit-capacity",
			Usage:       "Burst capacity of the ERP rate limiter, in requests.",
			OptType:     types.Int,
			ConfigKey:   &rateLimitCapacity,
			FlagDefault: queue.DefaultRateLimitCapacity,
			Required:    true,
		},
		{
			Name:        "erp-rate-limit-per-second",
			Usage:       "Sustained refill rate of the ERP rate limiter, in requests per second.",
			OptType:     types.Int,
			ConfigKey:   &rateLimitPerSecond,
			FlagDefault: queue.DefaultRateLimitPerSecond,
			Required:    true,
		},
		{
			Name:        "queue-polling-interval",
			Usage:       "Polling interval (seconds) to query the database for pending jobs when the queue is empty",
			OptType:     types.Int,
			ConfigKey:   &pollingInterval,
			FlagDefault: 1,
			Required:    true,
		},
	}

	// ERP credentials
	erpOpts := cmdUtils.ERPAPIOptions{}
	configOpts = append(configOpts, cmdUtils.ERPConfigOptions(&erpOpts)...)

	// metrics server options. The flag names differ from the serve command's
	// because viper binds flag names globally across commands.
	metricsServeOpts := serve.MetricsServeOptions{}
	configOpts = append(configOpts,
		&config.ConfigOption{
			Name:           "worker-metrics-type",
			Usage:          `Metric monitor type. Options: "PROMETHEUS"`,
			OptType:        types.String,
			CustomSetValue: cmdUtils.SetConfigOptionMetricType,
			ConfigKey:      &metricsServeOpts.MetricType,
			FlagDefault:    "PROMETHEUS",
			Required:       true,
		},
		&config.ConfigOption{
			Name:        "worker-metrics-port",
			Usage:       "Port where the metrics server will be listening on",
			OptType:     types.Int,
			ConfigKey:   &metricsServeOpts.Port,
			FlagDefault: 9002,
			Required:    true,
		})

	// crash tracker options
	crashTrackerOptions := crashtracker.CrashTrackerOptions{}
	configOpts = append(configOpts, cmdUtils.CrashTrackerTypeConfigOption(&crashTrackerOptions.CrashTrackerType))

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the ERP posting queue worker",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.Parent().PersistentPreRun(cmd.Parent(), args)
			ctx := cmd.Context()

			// Validate & ingest input parameters
			configOpts.Require()
			err := configOpts.SetValues()
			if err != nil {
				log.Ctx(ctx).Fatalf("Error setting values of config options: %s", err.Error())
			}

			// Initializing monitor service
			err = monitorService.Start(monitor.MetricOptions{
				MetricType:  metricsServeOpts.MetricType,
				Environment: globalOptions.Environment,
			})
			if err != nil {
				log.Ctx(ctx).Fatalf("error starting monitor service: %v", err)
			}
			metricsServeOpts.MonitorService = &monitorService
			metricsServeOpts.Environment = globalOptions.Environment

			// Setup the database
			dbConnectionPool, err = db.OpenDBConnectionPoolWithMetrics(ctx, globalOptions.DatabaseURL, &monitorService)
			if err != nil {
				log.Ctx(ctx).Fatalf("error opening DB connection pool: %v", err)
			}
			models, err := data.NewModels(dbConnectionPool)
			if err != nil {
				log.Ctx(ctx).Fatalf("error creating models: %v", err)
			}

			// Setup the ERP client; the worker and the client share one
			// token bucket so postings and direct reads draw from the
			// same budget.
			rateLimiter := queue.NewRateLimiter(rateLimitCapacity, float64(rateLimitPerSecond))
			erpTokenManager := erp.NewTokenManager(erpOpts.AuthURL, erpOpts.ClientID, erpOpts.ClientSecret, erpOpts.SeedRefreshToken, models)
			erpClient := erp.NewClient(erpOpts.APIBaseURL, erpTokenManager, rateLimiter)

			// Inject worker dependencies
			workerOpts.Models = models
			workerOpts.ERPClient = erpClient
			workerOpts.ERPTokenManager = erpTokenManager
			workerOpts.RateLimiter = rateLimiter
			workerOpts.MonitorService = &monitorService
			workerOpts.EmptyQueueSleep = time.Duration(pollingInterval) * time.Second

			// Inject crash tracker options dependencies
			globalOptions.PopulateCrashTrackerOptions(&crashTrackerOptions)
			crashTrackerClient, err := crashtracker.GetClient(ctx, crashTrackerOptions)
			if err != nil {
				log.Ctx(ctx).Fatalf("error creating crash tracker client: %s", err.Error())
			}
			workerOpts.CrashTrackerClient = crashTrackerClient
		},
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()

			// Starting Metrics Server (background job)
			go workerService.StartMetricsServe(ctx, metricsServeOpts, &serve.HTTPServer{}, workerOpts.CrashTrackerClient)

			// Start the queue worker
			workerService.StartWorker(ctx, workerOpts)
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
