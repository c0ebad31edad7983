package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/modelstatus/internal/domain"
	"github.com/hamed0406/modelstatus/internal/healthcheck"
)

// ModelSource lists the services a sweep probes.
type ModelSource interface {
	Models(ctx context.Context) ([]domain.ServiceRef, error)
}

// Rechecker periodically starts a sweep over the catalog through the monitor.
type Rechecker struct {
	Logger   *zap.Logger
	Models   ModelSource
	Monitor  *healthcheck.Monitor
	Interval time.Duration
}

func NewRechecker(
	logger *zap.Logger,
	models ModelSource,
	monitor *healthcheck.Monitor,
	interval time.Duration,
) *Rechecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval < 0 {
		interval = 0
	}
	return &Rechecker{
		Logger:   logger,
		Models:   models,
		Monitor:  monitor,
		Interval: interval,
	}
}

// Run starts the loop. It does an immediate pass, then runs each tick.
// Stops when ctx is cancelled.
func (r *Rechecker) Run(ctx context.Context) {
	if r.Interval == 0 {
		// disabled
		r.Logger.Info("rechecker_disabled")
		return
	}
	t := time.NewTicker(r.Interval)
	defer t.Stop()

	// immediate pass
	r.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			r.Logger.Info("rechecker_stopped")
			return
		case <-t.C:
			r.runOnce(ctx)
		}
	}
}

// runOnce sweeps the catalog and waits for the run to end. A sweep that is
// already in progress (for example one started over the API) is left alone,
// including one started while the catalog was being read.
func (r *Rechecker) runOnce(ctx context.Context) {
	if cur := r.Monitor.Current(); cur != nil && cur.InProgress() {
		r.Logger.Info("rechecker_skip_busy", zap.String("run_id", cur.ID()))
		return
	}
	models, err := r.Models.Models(ctx)
	if err != nil {
		r.Logger.Warn("rechecker_models_error", zap.Error(err))
		return
	}

	run, started, err := r.Monitor.StartIfIdle(ctx, models)
	if err != nil {
		r.Logger.Warn("rechecker_start_error", zap.Error(err))
		return
	}
	if !started {
		r.Logger.Info("rechecker_skip_busy", zap.String("run_id", run.ID()))
		return
	}
	final, err := run.Wait(ctx)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// shutting down; the monitor owns the run
	case errors.Is(err, healthcheck.ErrCancelled):
		r.Logger.Info("rechecker_run_cancelled", zap.String("run_id", final.ID))
	case err != nil:
		r.Logger.Warn("rechecker_run_error", zap.String("run_id", final.ID), zap.Error(err))
	default:
		r.Logger.Info("rechecker_checked",
			zap.String("run_id", final.ID),
			zap.String("status", string(final.Status)),
			zap.Int("succeeded", final.Succeeded),
			zap.Int("total", final.Total),
		)
	}
}
