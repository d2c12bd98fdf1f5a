package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lexledger/internal/api/handlers"
	"lexledger/internal/assistant"
	"lexledger/internal/auth"
	"lexledger/internal/billing"
	"lexledger/internal/config"
	"lexledger/internal/core"
	"lexledger/internal/db"
	"lexledger/internal/external"
	"lexledger/internal/gate"
	"lexledger/internal/ledger"
	"lexledger/internal/ledger/sqlite"
	"lexledger/internal/queue"
	"lexledger/internal/scheduler"
	"lexledger/internal/telemetry"
	"lexledger/internal/types"
)

// ledgerStore is what both drivers provide to the ledger and the scheduler.
type ledgerStore interface {
	ledger.Store
	scheduler.DueAccountLister
}

// storage bundles everything backed by the selected database.
type storage struct {
	ledger ledgerStore
	keys   auth.KeyStore
	events handlers.EventClaimer
	ping   func(ctx context.Context) error
	closer io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// openStorage connects to Postgres or opens the SQLite file according to
// LEDGER_DRIVER.
func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.Database.Driver == "sqlite" {
		store, err := sqlite.New(cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &storage{
			ledger: store,
			keys:   store,
			events: store,
			ping:   store.Ping,
			closer: store,
		}, nil
	}

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return &storage{
		ledger: db.NewLedgerStore(pool),
		keys:   db.NewAPIKeyRepository(pool),
		events: db.NewStripeEventRepository(pool),
		ping:   pool.Ping,
		closer: closerFunc(func() error { pool.Close(); return nil }),
	}, nil
}

// newPool opens a pgx pool tuned from cfg and verifies it with one ping.
func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}
	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// awsClients holds the optional AWS integrations. A nil field disables the
// feature that uses it.
type awsClients struct {
	sqs        queue.SQSSender
	cloudwatch telemetry.CloudWatchClient
}

// newAWSClients builds only the clients the configuration turns on.
func newAWSClients(ctx context.Context, cfg *config.Config) (awsClients, error) {
	var clients awsClients
	if cfg.AWS.BalanceAlertQueue == "" && !cfg.Observability.EnableMetrics {
		return clients, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return clients, err
	}
	if cfg.AWS.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
	}

	if cfg.AWS.BalanceAlertQueue != "" {
		clients.sqs = sqs.NewFromConfig(awsCfg)
	}
	if cfg.Observability.EnableMetrics {
		clients.cloudwatch = cloudwatch.NewFromConfig(awsCfg)
	}
	return clients, nil
}

// buildServer assembles the domain services and mounts every route group.
func buildServer(cfg *config.Config, logger *slog.Logger, st *storage, cloud awsClients) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	srv.Closers = append(srv.Closers, st.closer)
	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{ProbeName: "ledger_db", Fn: st.ping})

	catalog := billing.NewStaticPlanCatalog()

	ledgerOpts := []ledger.Option{}
	var failures assistant.FailureRecorder
	if cloud.cloudwatch != nil {
		collector := telemetry.NewCloudWatchCollector(cloud.cloudwatch, cfg.Observability.MetricNamespace, logger)
		srv.Metrics = collector
		ledgerOpts = append(ledgerOpts, ledger.WithMetrics(collector))
		failures = collector
	}
	if alerts := queue.NewBalanceAlertPublisher(cloud.sqs, cfg.AWS, logger); alerts.Enabled() {
		ledgerOpts = append(ledgerOpts, ledger.WithBalanceObserver(alerts))
	}
	ledgerSvc := ledger.NewService(st.ledger, catalog, logger, ledgerOpts...)
	usageGate := gate.New(ledgerSvc, catalog, logger)

	clients, err := external.NewClientRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}
	actions := assistant.NewService(usageGate, clients.AI, ledgerSvc, failures, logger)

	authn := auth.NewKeyAuthenticator(st.keys, cfg.Auth.ServiceRoleKey, logger)
	srv.Authenticator = authn
	srv.CronVerifier = auth.NewCronVerifier(cfg.Auth.CronSecret)

	resets := scheduler.NewResetScheduler(st.ledger, ledgerSvc, logger)

	plansHandler := handlers.NewPlansHandler(catalog)
	webhookHandler := handlers.NewStripeWebhookHandler(
		clients.StripeVerifier, ledgerSvc, st.events, cfg.Billing.StripeWebhookSecret.Unmask(), logger)
	creditsHandler := handlers.NewCreditsHandler(
		ledgerSvc, usageGate, clients.Checkout, catalog, cfg, srv.Validator, logger)
	actionsHandler := handlers.NewActionsHandler(actions, srv.Validator, logger)
	adminHandler := handlers.NewAdminHandler(ledgerSvc, authn, srv.Validator, logger)
	resetHandler := handlers.NewResetHandler(resets, types.RealClock{}, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		plansHandler.RegisterRoutes,
		webhookHandler.RegisterRoutes,
		func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(srv.RequireAccount)
				creditsHandler.RegisterRoutes(r)
				actionsHandler.RegisterRoutes(r)
			})
			r.Group(func(r chi.Router) {
				r.Use(srv.RequireSystem)
				adminHandler.RegisterRoutes(r)
			})
			r.Group(func(r chi.Router) {
				r.Use(srv.RequireActor(types.ActorTypeSystem, types.ActorTypeCron))
				resetHandler.RegisterRoutes(r)
			})
		},
	)

	if err := srv.MountRoutes(); err != nil {
		return nil, err
	}
	return srv, nil
}
