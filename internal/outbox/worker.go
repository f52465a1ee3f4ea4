// Package outbox replays attach/detach intents that failed during a
// reconciliation run. Replay goes back through the engine so each
// intent is checked against the current desired set before it touches
// the external service.
package outbox

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/hivehq/hive/internal/model"
	"github.com/hivehq/hive/internal/store"
)

// IntentReplayer re-applies a single queued intent against current
// state. Implemented by reconcile.Engine.
type IntentReplayer interface {
	ReplayIntent(ctx context.Context, in *model.OutboxIntent) error
}

// Config controls batch size and polling cadence.
type Config struct {
	BatchSize int           // number of intents to lease per cycle
	Interval  time.Duration // poll interval
}

// Worker drains pending intents against the external agent service.
type Worker struct {
	store    store.Store
	replayer IntentReplayer
	cfg      Config
	log      zerolog.Logger
}

// NewWorker constructs a Worker from dependencies.
func NewWorker(s store.Store, r IntentReplayer, cfg Config, log zerolog.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Worker{store: s, replayer: r, cfg: cfg, log: log}
}

// Run sweeps once immediately (healing anything left over from a prior
// process) and then polls until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Int("batch", w.cfg.BatchSize).Dur("interval", w.cfg.Interval).Msg("outbox worker starting")

	if err := w.ProcessOnce(ctx); err != nil {
		w.log.Error().Err(err).Msg("outbox startup sweep")
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("outbox worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.ProcessOnce(ctx); err != nil {
				// Log and continue; per-intent backoff prevents hot-looping.
				w.log.Error().Err(err).Msg("outbox sweep")
			}
		}
	}
}

// ProcessOnce leases and replays one batch of due intents.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	intents, err := w.store.Outbox().LeaseBatch(ctx, w.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, in := range intents {
		if err := w.replayer.ReplayIntent(ctx, in); err != nil {
			w.log.Warn().Err(err).Str("intent_id", in.ID).Str("op", in.Op).Msg("intent replay failed")
			next := time.Now().UTC().Add(backoff(in.AttemptCount))
			if e := w.store.Outbox().MarkFailed(ctx, in.ID, next); e != nil {
				w.log.Error().Err(e).Str("intent_id", in.ID).Msg("markFailed error")
			}
			continue
		}
		if e := w.store.Outbox().MarkDone(ctx, in.ID); e != nil {
			w.log.Error().Err(e).Str("intent_id", in.ID).Msg("markDone error")
		}
	}
	return nil
}

// backoff doubles per attempt, capped at five minutes.
func backoff(attempts int) time.Duration {
	secs := math.Min(math.Pow(2, float64(attempts+1)), 300)
	return time.Duration(secs) * time.Second
}
