package cmd

import (
	"go/types"

	"github.com/spf13/cobra"

	cmdUtils "github.com/sellerledger/marketplace-reconciler-backend/cmd/utils"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/crashtracker"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/monitor"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/services"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/config"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

type ServeCommand struct{}

type ServerServiceInterface interface {
	StartServe(opts serve.ServeOptions, httpServer serve.HTTPServerInterface)
	StartMetricsServe(opts serve.MetricsServeOptions, httpServer serve.HTTPServerInterface)
}

type ServerService struct{}

// Making sure that ServerService implements ServerServiceInterface
var _ ServerServiceInterface = (*ServerService)(nil)

func (s *ServerService) StartServe(opts serve.ServeOptions, httpServer serve.HTTPServerInterface) {
	err := serve.Serve(opts, httpServer)
	if err != nil {
		log.Fatalf("Error starting server: %s", err.Error())
	}
}

func (s *ServerService) StartMetricsServe(opts serve.MetricsServeOptions, httpServer serve.HTTPServerInterface) {
	err := serve.MetricsServe(opts, httpServer)
	if err != nil {
		log.Fatalf("Error starting metrics server: %s", err.Error())
	}
}

func (c *ServeCommand) Command(serverService ServerServiceInterface, monitorService monitor.MonitorServiceInterface) *cobra.Command {
	serveOpts := serve.ServeOptions{}

	configOpts := config.ConfigOptions{
		{
			Name:        "port",
			Usage:       "Port where the server will be listening on",
			OptType:     types.Int,
			ConfigKey:   &serveOpts.Port,
			FlagDefault: 8000,
			Required:    true,
		},
		{
			Name:           "cors-allowed-origins",
			Usage:          `Cors URLs that are allowed to access the endpoints, separated by ","`,
			OptType:        types.String,
			CustomSetValue: cmdUtils.SetCorsAllowedOrigins,
			ConfigKey:      &serveOpts.CorsAllowedOrigins,
			Required:       true,
		},
		{
			Name:        "settlement-lookback-days",
			Usage:       "How many days back the on-demand settlement catch-up scans for unsettled payments.",
			OptType:     types.Int,
			ConfigKey:   &serveOpts.SettlementLookbackDays,
			FlagDefault: services.DefaultSettlementLookbackDays,
			Required:    true,
		},
		{
			Name:        "webhook-requests-per-minute",
			Usage:       "The per-IP rate limit of the marketplace webhook endpoint, in requests per minute.",
			OptType:     types.Int,
			ConfigKey:   &serveOpts.WebhookRequestsPerMinute,
			FlagDefault: serve.DefaultWebhookRequestsPerMinute,
			Required:    true,
		},
	}

	// marketplace and ERP credentials
	marketplaceOpts := cmdUtils.MarketplaceAPIOptions{}
	configOpts = append(configOpts, cmdUtils.MarketplaceConfigOptions(&marketplaceOpts)...)
	erpOpts := cmdUtils.ERPAPIOptions{}
	configOpts = append(configOpts, cmdUtils.ERPConfigOptions(&erpOpts)...)

	// crash tracker options
	crashTrackerOptions := crashtracker.CrashTrackerOptions{}
	configOpts = append(configOpts, cmdUtils.CrashTrackerTypeConfigOption(&crashTrackerOptions.CrashTrackerType))

	// metrics server options
	metricsServeOpts := serve.MetricsServeOptions{}
	configOpts = append(configOpts,
		&config.ConfigOption{
			Name:           "metrics-type",
			Usage:          `Metric monitor type. Options: "PROMETHEUS"`,
			OptType:        types.String,
			CustomSetValue: cmdUtils.SetConfigOptionMetricType,
			ConfigKey:      &metricsServeOpts.MetricType,
			FlagDefault:    "PROMETHEUS",
			Required:       true,
		},
		&config.ConfigOption{
			Name:        "metrics-port",
			Usage:       "Port where the metrics server will be listening on",
			OptType:     types.Int,
			ConfigKey:   &metricsServeOpts.Port,
			FlagDefault: 8002,
			Required:    true,
		})

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Marketplace Payment Reconciler API",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.Parent().PersistentPreRun(cmd.Parent(), args)

			// Validate & ingest input parameters
			configOpts.Require()
			err := configOpts.SetValues()
			if err != nil {
				log.Fatalf("Error setting values of config options: %s", err.Error())
			}

			// Initializing monitor service
			metricOptions := monitor.MetricOptions{
				MetricType:  metricsServeOpts.MetricType,
				Environment: globalOptions.Environment,
			}

			err = monitorService.Start(metricOptions)
			if err != nil {
				log.Fatalf("Error creating monitor service: %s", err.Error())
			}

			// Inject crash tracker options dependencies
			globalOptions.PopulateCrashTrackerOptions(&crashTrackerOptions)

			// Inject server dependencies
			serveOpts.Environment = globalOptions.Environment
			serveOpts.GitCommit = globalOptions.GitCommit
			serveOpts.DatabaseDSN = globalOptions.DatabaseURL
			serveOpts.Version = globalOptions.Version
			serveOpts.MonitorService = monitorService

			serveOpts.MarketplaceAuthURL = marketplaceOpts.AuthURL
			serveOpts.MarketplaceAPIBaseURL = marketplaceOpts.APIBaseURL
			serveOpts.MarketplaceClientID = marketplaceOpts.ClientID
			serveOpts.MarketplaceClientSecret = marketplaceOpts.ClientSecret

			serveOpts.ERPAuthURL = erpOpts.AuthURL
			serveOpts.ERPAPIBaseURL = erpOpts.APIBaseURL
			serveOpts.ERPClientID = erpOpts.ClientID
			serveOpts.ERPClientSecret = erpOpts.ClientSecret
			serveOpts.ERPSeedRefreshToken = erpOpts.SeedRefreshToken

			// Inject metrics server dependencies
			metricsServeOpts.MonitorService = monitorService
			metricsServeOpts.Environment = globalOptions.Environment
		},
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()

			// Setup the Crash Tracker client
			crashTrackerClient, err := crashtracker.GetClient(ctx, crashTrackerOptions)
			if err != nil {
				log.Ctx(ctx).Fatalf("error creating crash tracker client: %s", err.Error())
			}
			serveOpts.CrashTrackerClient = crashTrackerClient

			// Starting Metrics Server (background job)
			log.Ctx(ctx).Info("Starting Metrics Server...")
			go serverService.StartMetricsServe(metricsServeOpts, &serve.HTTPServer{})

			// Starting Application Server
			log.Ctx(ctx).Info("Starting Application Server...")
			serverService.StartServe(serveOpts, &serve.HTTPServer{})
		},
	}
	err := configOpts.Init(cmd)
	if err != nil {
		log.Fatalf("Error initializing a config option: %s", err.Error())
	}

	return cmd
}
