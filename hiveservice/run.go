// Package hiveservice wires configuration, storage, the external agent
// backend and the HTTP API into a runnable service.
package hiveservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hivehq/hive/internal/agents"
	"github.com/hivehq/hive/internal/api"
	"github.com/hivehq/hive/internal/auth"
	"github.com/hivehq/hive/internal/config"
	"github.com/hivehq/hive/internal/factory"
	"github.com/hivehq/hive/internal/health"
	"github.com/hivehq/hive/internal/letta"
	"github.com/hivehq/hive/internal/logger"
	"github.com/hivehq/hive/internal/outbox"
	"github.com/hivehq/hive/internal/reconcile"
	"github.com/hivehq/hive/internal/services"
	"github.com/hivehq/hive/internal/store"
)

// Run starts the hive HTTP server and blocks until shutdown or error.
func Run() error {
	log := logger.New("hive-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Str("letta_base_url", cfg.LettaBaseURL).
		Bool("outbox_in_process", cfg.OutboxInProcess).
		Msg("Hive service starting")

	ctx, stop := newServerContext()
	defer stop()

	st, lettaSvc, err := initDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}

	router, engine := buildRouter(st, lettaSvc, cfg, log)

	svcHealth, err := startHealthCheckers(ctx, cfg, log, st, lettaSvc)
	if err != nil {
		return err
	}

	// Block startup until dependencies report healthy; fail fast otherwise
	if err := waitUntilHealthy(ctx, cfg, svcHealth); err != nil {
		log.Error().Stack().Err(err).Msg("startup health check failed")
		return err
	}

	if cfg.OutboxInProcess {
		// Sharing the router's engine keeps replay and live runs behind
		// the same per-agent locks.
		worker := outbox.NewWorker(st, engine, outbox.Config{
			BatchSize: cfg.OutboxBatchSize,
			Interval:  time.Duration(cfg.OutboxIntervalSeconds) * time.Second,
		}, log)
		go func() {
			if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Stack().Err(err).Msg("outbox worker failed")
			}
		}()
	}

	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Stack().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	}
}

// initDependencies constructs required components and fails fast on missing deps.
func initDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, letta.Service, error) {
	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Store adapter unavailable")
		return nil, nil, err
	}

	lettaSvc, err := factory.NewLetta(cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Agent backend unavailable")
		return nil, nil, err
	}
	return st, lettaSvc, nil
}

// buildRouter wires domain services into the HTTP router. The engine is
// returned alongside so the in-process outbox worker can share it.
func buildRouter(st store.Store, lettaSvc letta.Service, cfg *config.Config, log zerolog.Logger) (http.Handler, *reconcile.Engine) {
	authSvc := auth.NewService(st, cfg.JWTSecret, time.Duration(cfg.TokenTTLHours)*time.Hour)
	userSvc := services.NewUserService(st)
	engine := reconcile.NewEngine(st, lettaSvc, log)
	projectSvc := services.NewProjectService(st, lettaSvc, engine, log)
	mgr := agents.NewManager(st, lettaSvc, log)

	router := api.NewRouter(api.Deps{
		Auth:     authSvc,
		Users:    userSvc,
		Projects: projectSvc,
		Agents:   mgr,
	})
	return router, engine
}

// startHealthCheckers starts component checkers and the service-level aggregator.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, st store.Store, lettaSvc letta.Service) (*health.ServiceHealthChecker, error) {
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	var checkers []health.HealthChecker

	storePinger, ok := st.(health.HealthPinger)
	if !ok {
		return nil, fmt.Errorf("store does not support health probing")
	}
	storeChecker, err := health.NewPingChecker("store", storePinger, log, probeTimeout)
	if err != nil {
		return nil, err
	}
	go storeChecker.Start(ctx, interval)
	checkers = append(checkers, storeChecker)

	if lettaPinger, ok := lettaSvc.(health.HealthPinger); ok {
		lettaChecker, err := health.NewPingChecker("letta", lettaPinger, log, probeTimeout)
		if err != nil {
			return nil, err
		}
		go lettaChecker.Start(ctx, interval)
		checkers = append(checkers, lettaChecker)
	}

	svcHealth := health.NewServiceHealthChecker(log, checkers...)
	go svcHealth.Start(ctx, interval)
	api.BindServiceHealth(svcHealth.IsHealthy)
	return svcHealth, nil
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// calculateStartupHealthTimeout returns the startup health timeout in
// seconds, interval*2 with a minimum of 60 seconds.
func calculateStartupHealthTimeout(healthIntervalSeconds int) int {
	timeout := healthIntervalSeconds * 2
	if timeout < 60 {
		return 60
	}
	return timeout
}

// waitUntilHealthy blocks until service health is healthy or the startup window expires.
func waitUntilHealthy(ctx context.Context, cfg *config.Config, svcHealth *health.ServiceHealthChecker) error {
	timeoutSeconds := calculateStartupHealthTimeout(cfg.HealthIntervalSeconds)
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if svcHealth.IsHealthy() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("startup aborted: dependencies not healthy within %d seconds", timeoutSeconds)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// newServerContext returns a cancellable context bound to SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
