package reaper

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/call-task-engine/internal/config"
	"github.com/acme/call-task-engine/internal/repository"
)

// Reaper deletes tasks stranded in flight past the staleness threshold.
// It is the backstop for crashed dispatch workers and call executions
// that never report an outcome.
type Reaper struct {
	store  repository.TaskStore
	cfg    config.ReaperConfig
	logger *zap.Logger
}

// New constructs a reaper.
func New(store repository.TaskStore, cfg config.ReaperConfig, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{store: store, cfg: cfg, logger: logger}
}

// Run sweeps periodically until cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	interval := r.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("reaper sweep failed", zap.Error(err))
		}
	}
}

// Sweep deletes every in-flight task untouched for longer than the
// staleness threshold.
func (r *Reaper) Sweep(ctx context.Context) error {
	tracer := otel.Tracer("calltask.reaper")
	sctx, span := tracer.Start(ctx, "reaper.sweep")
	defer span.End()

	staleness := r.cfg.Staleness
	if staleness <= 0 {
		staleness = 30 * time.Minute
	}

	cutoff := time.Now().UTC().Add(-staleness)
	reaped, err := r.store.DeleteStale(sctx, cutoff)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("tasks.reaped", len(reaped)))

	if len(reaped) > 0 {
		ids := make([]string, 0, len(reaped))
		for _, id := range reaped {
			ids = append(ids, id.String())
		}
		r.logger.Warn("reaped stale in-flight tasks",
			zap.Int("count", len(reaped)), zap.Strings("task_ids", ids))
	}
	return nil
}
