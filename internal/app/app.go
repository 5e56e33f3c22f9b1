// Package app builds the application context: configuration, store, triage,
// pipeline, workers and HTTP server, wired once at startup and torn down on
// shutdown.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/auth"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/config"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/dispatch"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/httpapi"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/ingest"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/lifecycle"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/store"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/triage"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/workload"
)

// App holds the wired components for one service process.
type App struct {
	Cfg         *config.Config
	Store       store.Store
	Ledger      *workload.Ledger
	Triage      *triage.Service
	Coordinator *lifecycle.Coordinator
	Pipeline    *ingest.Pipeline
	Pool        *dispatch.Pool
	Server      *httpapi.Server
	Logger      zerolog.Logger
}

// NewLogger builds the root logger for the given level.
func NewLogger(level string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		logger = logger.Level(lvl)
	}
	if level == "trace" || level == "debug" {
		logger = logger.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02 15:04:05.000",
		})
	}
	return logger
}

// Build wires the application from configuration.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	var st store.Store
	switch cfg.StoreKind {
	case "memory":
		st = store.NewMemory()
		logger.Warn().Msg("running with in-memory store; state will not survive restart")
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("AEGISHUB_DATABASE_URL is required for the postgres store")
		}
		pg, err := store.NewPostgres(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		st = pg
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.StoreKind)
	}

	var classifier triage.Classifier
	if cfg.GeminiAPIKey != "" {
		gem, err := triage.NewGeminiClassifier(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Warn().Err(err).Msg("Gemini classifier unavailable, triage will use rules only")
		} else {
			classifier = gem
		}
	} else {
		logger.Info().Msg("GEMINI_API_KEY not set, triage will use rules only")
	}
	triageSvc := triage.NewService(classifier, cfg.TriageTimeout, logger)

	ledger := workload.New(st, logger)
	coordinator := lifecycle.New(st, ledger, triageSvc, lifecycle.Options{
		AssignmentWindow: cfg.AssignmentWindow(),
		RejectCooldown:   cfg.RejectCooldown,
	}, logger)

	pipeline := ingest.New(st, triageSvc, ingest.NewOpenMeteoProvider(cfg.WeatherTimeout), nil, ingest.Options{
		DuplicateRadiusM:   cfg.DuplicateRadiusM,
		DuplicateWindow:    cfg.DuplicateWindow(),
		DuplicateThreshold: cfg.DuplicateThreshold,
		FraudThreshold:     cfg.FraudThreshold,
		WeatherTimeout:     cfg.WeatherTimeout,
		STTTimeout:         cfg.STTTimeout,
	}, logger)

	sink := dispatch.Sink(dispatch.NewCoordinatorSink(coordinator, st))
	if cfg.TicketEndpoint != "" {
		sink = dispatch.NewFanoutSink(sink,
			dispatch.NewHTTPSink(cfg.TicketEndpoint, cfg.TicketAuthToken, cfg.DispatchTimeout, logger))
	}
	pool := dispatch.NewPool(st, sink, dispatch.Options{
		Workers:        cfg.DispatchWorkers,
		MaxAttempts:    cfg.DispatchMaxAttempts,
		BaseBackoff:    cfg.DispatchBaseBackoff(),
		MaxBackoff:     cfg.DispatchMaxBackoff,
		FairnessEvery:  cfg.DispatchFairnessEvery,
		DeliverTimeout: cfg.DispatchTimeout,
	}, logger)

	issuer, err := auth.NewIssuer(cfg)
	if err != nil {
		return nil, err
	}

	var oidcVerifier *auth.OIDCVerifier
	if cfg.OIDCIssuer != "" && cfg.OIDCAudience != "" {
		oidcVerifier, err = auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCAudience, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("OIDC verifier not enabled")
		}
	}

	server := httpapi.NewServer(httpapi.Deps{
		Store:       st,
		Coordinator: coordinator,
		Ledger:      ledger,
		Pipeline:    pipeline,
		Pool:        pool,
		Issuer:      issuer,
		OIDC:        oidcVerifier,
	}, cfg, logger)

	return &App{
		Cfg:         cfg,
		Store:       st,
		Ledger:      ledger,
		Triage:      triageSvc,
		Coordinator: coordinator,
		Pipeline:    pipeline,
		Pool:        pool,
		Server:      server,
		Logger:      logger,
	}, nil
}

// Run serves until SIGINT/SIGTERM, then drains in-flight work.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer a.Store.Close()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		a.Pool.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.Coordinator.RunSweepLoop(ctx, a.Cfg.SweepInterval)
	}()
	go func() {
		defer wg.Done()
		a.Ledger.RunReconcileLoop(ctx, a.Cfg.ReconcileInterval)
	}()

	err := a.Server.Start(ctx, a.Cfg.HTTPAddr)
	stop()
	wg.Wait()
	return err
}
