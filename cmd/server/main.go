package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Interne packages
	"crm-automation-api/internal/api"
	"crm-automation-api/internal/api/health"
	"crm-automation-api/internal/auth"
	"crm-automation-api/internal/automation"
	"crm-automation-api/internal/billing"
	"crm-automation-api/internal/config"
	"crm-automation-api/internal/crypto"
	"crm-automation-api/internal/database"
	"crm-automation-api/internal/dispatch"
	"crm-automation-api/internal/logger"
	"crm-automation-api/internal/metrics"
	"crm-automation-api/internal/relay"
	"crm-automation-api/internal/store"
	"crm-automation-api/internal/worker"

	// Externe packages
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// relayClientSlack geeft de relay ruimte om zijn eigen timeout te melden.
const relayClientSlack = 5 * time.Second

// dbPool is wat run nodig heeft van *pgxpool.Pool (en pgxmock in tests).
type dbPool interface {
	database.Querier
	health.Pinger
}

func main() {
	// 1. Laad configuratie (.env + omgeving)
	cfg, err := config.Load()
	if err != nil {
		panic("Could not load config: " + err.Error())
	}

	// 1.5. Initialiseer logger
	log, err := logger.NewLogger(cfg.LoggerOptions())
	if err != nil {
		panic("Could not initialize logger: " + err.Error()) // Can't log if logger fails
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", zap.Error(err), zap.String("component", "main"))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Maak verbinding met de Database
	pool, err := database.ConnectDB(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("could not connect to the database", zap.Error(err))
		return
	}
	defer pool.Close()

	// 2.5. Voer migraties uit
	if err = database.RunMigrations(ctx, pool, cfg.RunMigrations, log); err != nil {
		log.Error("database migrations failed", zap.Error(err))
		return
	}

	app, err := run(cfg, log, pool)
	if err != nil {
		log.Error("could not initialize application", zap.Error(err))
		return
	}

	log.Info("starting API server", zap.String("port", cfg.Port), zap.String("component", "main"))

	serverErr := make(chan error, 1)
	go func() {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			log.Error("could not start server", zap.Error(err))
		}
	case <-ctx.Done():
		log.Info("shutdown signal received", zap.String("component", "main"))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}

	// Wacht tot lopende scheduled runs klaar zijn.
	select {
	case <-app.worker.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn("worker did not stop in time", zap.String("component", "main"))
	}

	// En tot event dispatches die nog in de achtergrond lopen.
	if err := app.automations.Wait(shutdownCtx); err != nil {
		log.Warn("background dispatches did not finish in time", zap.Error(err), zap.String("component", "main"))
	}
}

// application is wat run opbouwt en main weer afsluit.
type application struct {
	server      *http.Server
	worker      *worker.Worker
	automations *automation.Service
}

// run bouwt alle componenten op en start de worker. De HTTP server wordt
// teruggegeven zonder te luisteren.
func run(cfg *config.Config, log *zap.Logger, pool dbPool) (*application, error) {
	// 3. Secrets worden versleuteld opgeslagen
	sealer, err := crypto.NewSealer([]byte(cfg.EncryptionKey))
	if err != nil {
		return nil, err
	}

	// 4. Initialiseer de 'Store' Laag
	dbStore := store.NewStore(pool, sealer)

	// 4.5. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	// 5. Dispatch via de relay
	relayClient := dispatch.NewHTTPRelay(cfg.RelayURL, &http.Client{Timeout: cfg.RelayTimeout + relayClientSlack})
	dispatcher := dispatch.NewDispatcher(relayClient, dbStore, recorder, cfg.RelayTimeout, log)
	automations := automation.NewService(dbStore, dispatcher, automation.RetryPolicy{
		MaxRetries: cfg.DispatchMaxRetries,
		Interval:   cfg.DispatchRetryInterval,
	}, log)

	issuer, err := auth.NewIssuer(cfg.JWTSecretKey)
	if err != nil {
		return nil, err
	}

	// 6. Billing
	provider := billing.NewProviderClient(cfg.BillingAPIBaseURL, cfg.BillingAPIKey, nil)
	receiver := billing.NewReceiver(dbStore, provider, cfg.BillingWebhookSecret, cfg.BillingSignatureTolerance, recorder, log)
	if cfg.BillingWebhookSecret == "" {
		log.Warn("BILLING_WEBHOOK_SECRET is not set, billing webhooks will be rejected", zap.String("component", "main"))
	}

	// 7. Initialiseer en start de Worker
	appWorker, err := worker.NewWorker(dbStore, automations, issuer, cfg.SchedulerSpec, log)
	if err != nil {
		return nil, err
	}
	if err := appWorker.Start(); err != nil {
		return nil, err
	}

	// 8. Initialiseer de API Server
	apiServer := api.NewServer(api.Dependencies{
		Store:          dbStore,
		DB:             pool,
		Automations:    automations,
		Relay:          relay.NewService(cfg.RelayTimeout, log),
		Billing:        receiver,
		Issuer:         issuer,
		Gatherer:       reg,
		PublicBaseURL:  cfg.PublicBaseURL,
		AllowedOrigins: cfg.AllowedOrigin,
	}, log)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      apiServer.Router,
		ReadTimeout:  5 * time.Second,
		// Synchrone paden doen hooguit één relay call (test, relay); events lopen in de achtergrond.
		WriteTimeout: cfg.RelayTimeout + 2*relayClientSlack,
		IdleTimeout:  120 * time.Second,
	}
	return &application{server: server, worker: appWorker, automations: automations}, nil
}
