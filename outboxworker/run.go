// Package outboxworker runs the reconciliation-intent sweeper as a
// standalone process, for deployments where the service runs with
// HIVE_OUTBOX_INPROCESS=false.
package outboxworker

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hivehq/hive/internal/config"
	"github.com/hivehq/hive/internal/factory"
	"github.com/hivehq/hive/internal/logger"
	"github.com/hivehq/hive/internal/outbox"
	"github.com/hivehq/hive/internal/reconcile"
)

// Run starts the outbox worker and blocks until shutdown or error.
func Run() error {
	log := logger.New("outbox-worker")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("config")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("store")
		return err
	}

	lettaSvc, err := factory.NewLetta(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("agent backend")
		return err
	}

	engine := reconcile.NewEngine(st, lettaSvc, log)
	w := outbox.NewWorker(st, engine, outbox.Config{
		BatchSize: cfg.OutboxBatchSize,
		Interval:  time.Duration(cfg.OutboxIntervalSeconds) * time.Second,
	}, log)

	if err := w.Run(ctx); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("outbox worker exit")
		return err
	}
	return nil
}
