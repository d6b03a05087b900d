package serve

import (
	"context"
	"fmt"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sellerledger/marketplace-reconciler-backend/db"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/crashtracker"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/data"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/erp"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/marketplace"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/monitor"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/queue"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/httperror"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/httphandler"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/serve/middleware"
	"github.com/sellerledger/marketplace-reconciler-backend/internal/services"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/httpserver"
	"github.com/sellerledger/marketplace-reconciler-backend/pkg/log"
)

const ServiceID = "serve"

// DefaultWebhookRequestsPerMinute caps the unauthenticated webhook endpoint
// per client IP. The marketplace retries aggressively during incidents.
const DefaultWebhookRequestsPerMinute = 300

type HTTPServerInterface interface {
	Run(conf httpserver.Config)
}

type HTTPServer struct{}

func (h *HTTPServer) Run(conf httpserver.Config) {
	httpserver.Run(conf)
}

type ServeOptions struct {
	Environment        string
	GitCommit          string
	Port               int
	Version            string
	MonitorService     monitor.MonitorServiceInterface
	DatabaseDSN        string
	dbConnectionPool   db.DBConnectionPool
	Models             *data.Models
	CorsAllowedOrigins []string
	CrashTrackerClient crashtracker.CrashTrackerClient

	MarketplaceAuthURL      string
	MarketplaceAPIBaseURL   string
	MarketplaceClientID     string
	MarketplaceClientSecret string

	ERPAuthURL          string
	ERPAPIBaseURL       string
	ERPClientID         string
	ERPClientSecret     string
	ERPSeedRefreshToken string

	SettlementLookbackDays   int
	WebhookRequestsPerMinute int

	marketplaceClient marketplace.ClientInterface
	erpClient         erp.ClientInterface
	backfill          *services.BackfillRunner
	settlements       *services.SettlementScheduler
	ingester          *services.StatementIngester
	exporter          *services.ExpenseExporter
	closing           *services.FinancialClosing
}

// SetupDependencies uses the serve options to setup the dependencies for the server.
func (opts *ServeOptions) SetupDependencies(ctx context.Context) error {
	// Route InternalError reports through the crash tracker.
	httperror.SetDefaultReportErrorFunc(opts.CrashTrackerClient.LogAndReportErrors)

	dbConnectionPool, err := db.OpenDBConnectionPoolWithMetrics(ctx, opts.DatabaseDSN, opts.MonitorService)
	if err != nil {
		return fmt.Errorf("connecting to the database: %w", err)
	}
	opts.dbConnectionPool = dbConnectionPool

	opts.Models, err = data.NewModels(dbConnectionPool)
	if err != nil {
		return fmt.Errorf("creating models for Serve: %w", err)
	}

	marketplaceTokenManager := marketplace.NewTokenManager(
		opts.MarketplaceAuthURL, opts.MarketplaceClientID, opts.MarketplaceClientSecret, opts.Models,
	)
	opts.marketplaceClient = marketplace.NewClient(opts.MarketplaceAPIBaseURL, marketplaceTokenManager)

	erpTokenManager := erp.NewTokenManager(
		opts.ERPAuthURL, opts.ERPClientID, opts.ERPClientSecret, opts.ERPSeedRefreshToken, opts.Models,
	)
	opts.erpClient = erp.NewClient(opts.ERPAPIBaseURL, erpTokenManager, queue.DefaultRateLimiter())

	processor := services.NewPaymentProcessor(opts.Models, opts.marketplaceClient)
	releaseStatus := services.NewReleaseStatusChecker(opts.marketplaceClient)
	opts.settlements = services.NewSettlementScheduler(opts.Models, opts.erpClient, releaseStatus)
	if opts.SettlementLookbackDays > 0 {
		opts.settlements.LookbackDays = opts.SettlementLookbackDays
	}
	opts.backfill = services.NewBackfillRunner(opts.Models, processor, opts.settlements, opts.marketplaceClient)
	opts.ingester = services.NewStatementIngester(opts.Models)
	opts.exporter = services.NewExpenseExporter(opts.Models)
	opts.closing = services.NewFinancialClosing(opts.Models, services.NewCoverageChecker(opts.Models, opts.marketplaceClient))

	if opts.WebhookRequestsPerMinute <= 0 {
		opts.WebhookRequestsPerMinute = DefaultWebhookRequestsPerMinute
	}

	return nil
}

func Serve(opts ServeOptions, httpServer HTTPServerInterface) error {
	err := opts.SetupDependencies(context.Background())
	if err != nil {
		return fmt.Errorf("starting dependencies: %w", err)
	}

	listenAddr := fmt.Sprintf(":%d", opts.Port)
	serverConfig := httpserver.Config{
		ListenAddr:          listenAddr,
		Handler:             handleHTTP(opts),
		ShutdownGracePeriod: time.Second * 10,
		ReadTimeout:         time.Second * 5,
		WriteTimeout:        time.Second * 35,
		IdleTimeout:         time.Minute * 2,
		OnStarting: func() {
			log.Info("Starting Marketplace Reconciler Server")
			log.Infof("Listening on %s", listenAddr)
		},
		OnStopping: func() {
			log.Info("Closing the database connection...")
			err := opts.dbConnectionPool.Close()
			if err != nil {
				log.Errorf("error closing database connection: %s", err.Error())
			}

			log.Info("Stopping Marketplace Reconciler Server")
		},
	}
	httpServer.Run(serverConfig)
	return nil
}

func handleHTTP(o ServeOptions) *chi.Mux {
	mux := chi.NewMux()

	// Middleware
	mux.Use(middleware.CorsMiddleware(o.CorsAllowedOrigins))
	mux.Use(chimiddleware.RequestID)
	mux.Use(chimiddleware.RealIP)
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.RecoverHandler)
	mux.Use(middleware.MetricsRequestHandler(o.MonitorService))

	mux.Get("/health", httphandler.HealthHandler{
		GitCommit:        o.GitCommit,
		ServiceID:        ServiceID,
		Version:          o.Version,
		DBConnectionPool: o.dbConnectionPool,
	}.ServeHTTP)

	// The marketplace signs nothing, so the webhook stays unauthenticated and
	// rate-limited. The handler only persists; a scheduler job does the work.
	mux.With(middleware.RateLimitMiddleware(o.WebhookRequestsPerMinute)).
		Post("/webhooks/ml", httphandler.WebhookHandler{Models: o.Models}.PostMarketplaceEvent)

	// Operator API, authenticated by API key.
	mux.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuthenticate(o.Models.APIKeys))

		r.Route("/queue", func(r chi.Router) {
			queueHandler := httphandler.QueueHandler{Models: o.Models}
			r.With(middleware.RequirePermission(data.ReadQueue)).Get("/status", queueHandler.GetStatus)
			r.With(middleware.RequirePermission(data.ReadQueue)).Get("/dead", queueHandler.GetDeadJobs)
			r.With(middleware.RequirePermission(data.WriteQueue)).Post("/retry/{id}", queueHandler.RetryJob)
			r.With(middleware.RequirePermission(data.WriteQueue)).Post("/retry-all-dead", queueHandler.RetryAllDead)
		})

		r.Route("/sellers", func(r chi.Router) {
			sellersHandler := httphandler.SellersHandler{Models: o.Models, Backfill: o.backfill}
			r.With(middleware.RequirePermission(data.ReadSellers)).Get("/", sellersHandler.GetSellers)
			r.With(middleware.RequirePermission(data.ReadSellers)).Get("/{id}", sellersHandler.GetSeller)
			r.With(middleware.RequirePermission(data.WriteSellers)).Post("/", sellersHandler.CreateSeller)
			r.With(middleware.RequirePermission(data.WriteSellers)).Patch("/{id}", sellersHandler.PatchSeller)
			r.With(middleware.RequirePermission(data.WriteSellers)).Post("/{id}/activate", sellersHandler.ActivateSeller)
			r.With(middleware.RequirePermission(data.WriteSellers)).Post("/{id}/suspend", sellersHandler.SuspendSeller)
		})

		r.With(middleware.RequirePermission(data.WriteBackfill)).
			Post("/backfill/{seller}", httphandler.BackfillHandler{Models: o.Models, Backfill: o.backfill}.RunBackfill)

		r.With(middleware.RequirePermission(data.WriteSettlements)).
			Post("/baixas/processar/{seller}", httphandler.SettlementHandler{Models: o.Models, Settlements: o.settlements}.RunSettlements)

		r.With(middleware.RequirePermission(data.WriteStatements)).
			Post("/statement/{seller}/ingest", httphandler.StatementHandler{Models: o.Models, Ingester: o.ingester}.IngestStatement)

		r.Route("/expenses", func(r chi.Router) {
			expensesHandler := httphandler.ExpensesHandler{Models: o.Models, Exporter: o.exporter}
			r.With(middleware.RequirePermission(data.ReadExpenses)).Get("/", expensesHandler.GetExpenses)
			r.With(middleware.RequirePermission(data.WriteExpenses)).Post("/{seller}/export", expensesHandler.ExportExpenses)
			r.With(middleware.RequirePermission(data.WriteExpenses)).Post("/batches/{id}/imported", expensesHandler.ConfirmBatchImport)
		})

		r.Route("/closing", func(r chi.Router) {
			closingHandler := httphandler.ClosingHandler{Models: o.Models, Closing: o.closing}
			r.With(middleware.RequirePermission(data.WriteClosing)).Post("/{seller}", closingHandler.RunClosing)
			r.With(middleware.RequirePermission(data.WriteClosing)).Get("/{seller}", closingHandler.GetClosingStatus)
		})
	})

	return mux
}
