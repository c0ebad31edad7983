// Package healthcheck probes a set of models in sequential batches of
// concurrent probes, retrying rate-limited answers and supporting mid-run
// cancellation.
package healthcheck

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/modelstatus/internal/domain"
	"github.com/hamed0406/modelstatus/internal/probe"
)

// Run is one probing session. It is safe to read from other goroutines.
type Run struct {
	id       string
	opts     Options
	prober   probe.Prober
	services []domain.ServiceRef

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.RWMutex
	outcomes   []domain.ProbeOutcome
	status     domain.AggregateStatus
	cancelled  bool
	inProgress bool
	startedAt  time.Time
	finishedAt *time.Time
	err        error
}

// Start launches a run in the background and returns immediately. The run
// stops early when ctx is done or Cancel is called.
func Start(ctx context.Context, services []domain.ServiceRef, p probe.Prober, opts Options) (*Run, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: nil prober", ErrInvalidOptions)
	}

	r := &Run{
		id:         ulid.Make().String(),
		opts:       opts,
		prober:     p,
		services:   slices.Clone(services),
		done:       make(chan struct{}),
		outcomes:   make([]domain.ProbeOutcome, len(services)),
		status:     domain.StatusChecking,
		inProgress: true,
		startedAt:  time.Now().UTC(),
	}
	for i, s := range r.services {
		r.outcomes[i] = domain.ProbeOutcome{Service: s, State: domain.StatePending}
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	opts.Logger.Info("run_started",
		zap.String("run_id", r.id),
		zap.Int("services", len(services)),
		zap.Int("concurrency", opts.ConcurrencyLimit),
	)
	go r.loop()
	return r, nil
}

// Check runs to completion and returns the final snapshot.
func Check(ctx context.Context, services []domain.ServiceRef, p probe.Prober, opts Options) (domain.BatchRun, error) {
	r, err := Start(ctx, services, p, opts)
	if err != nil {
		return domain.BatchRun{}, err
	}
	return r.Wait(context.Background())
}

func (r *Run) ID() string { return r.id }

// Done is closed once the run goroutine has exited.
func (r *Run) Done() <-chan struct{} { return r.done }

// InProgress is false as soon as Cancel returns.
func (r *Run) InProgress() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inProgress
}

// Cancel stops the run: no new batch or retry starts and in-flight probes
// are aborted. Calling it again, or after the run finished, does nothing.
func (r *Run) Cancel() {
	r.mu.Lock()
	if r.finishedAt != nil || r.cancelled {
		r.mu.Unlock()
		return
	}
	r.cancelled = true
	r.inProgress = false
	r.mu.Unlock()

	r.cancel()
	r.opts.Logger.Info("run_cancelled", zap.String("run_id", r.id))
}

// Wait blocks until the run ends or ctx is done. It returns ErrCancelled for
// a cancelled run and an ErrOrchestration error when the run loop failed;
// the snapshot is valid in every case.
func (r *Run) Wait(ctx context.Context) (domain.BatchRun, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
	r.mu.RLock()
	err, cancelled := r.err, r.cancelled
	r.mu.RUnlock()
	switch {
	case err != nil:
		return r.Snapshot(), err
	case cancelled:
		return r.Snapshot(), ErrCancelled
	}
	return r.Snapshot(), nil
}

// Snapshot returns a copy of the current state.
func (r *Run) Snapshot() domain.BatchRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Run) snapshotLocked() domain.BatchRun {
	snap := domain.BatchRun{
		ID:         r.id,
		Outcomes:   slices.Clone(r.outcomes),
		Cancelled:  r.cancelled,
		InProgress: r.inProgress,
		Status:     r.status,
		Total:      len(r.outcomes),
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
	}
	for _, o := range r.outcomes {
		if o.Resolved() {
			snap.Checked++
		}
		if o.State == domain.StateSuccess {
			snap.Succeeded++
		}
	}
	if r.err != nil {
		snap.Error = r.err.Error()
	}
	return snap
}

func (r *Run) loop() {
	defer r.cancel()
	defer close(r.done)
	defer func() {
		if p := recover(); p != nil {
			r.abort(fmt.Errorf("%w: %v", ErrOrchestration, p))
		}
	}()

	batches := Partition(r.services, r.opts.ConcurrencyLimit)
	for i, batch := range batches {
		if r.ctx.Err() != nil {
			break
		}
		offset := i * r.opts.ConcurrencyLimit
		results := make([]domain.ProbeOutcome, len(batch))

		var g errgroup.Group
		for j, svc := range batch {
			g.Go(func() error {
				results[j] = r.probeOne(svc)
				return nil
			})
		}
		_ = g.Wait()

		r.merge(offset, results)
		r.opts.Logger.Debug("batch_merged",
			zap.String("run_id", r.id),
			zap.Int("batch", i+1),
			zap.Int("batches", len(batches)),
		)

		if i < len(batches)-1 && r.ctx.Err() == nil {
			if !sleep(r.ctx, r.opts.BatchDelay) {
				break
			}
		}
	}
	r.finish()
}

func (r *Run) merge(offset int, results []domain.ProbeOutcome) {
	r.mu.Lock()
	copy(r.outcomes[offset:], results)
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.progress(snap)
}

func (r *Run) finish() {
	now := time.Now().UTC()

	r.mu.Lock()
	// A parent context done after the last merge leaves a complete run.
	if r.ctx.Err() != nil && unfinished(r.outcomes) {
		r.cancelled = true
	}
	if r.cancelled {
		resolved := make([]domain.ProbeOutcome, 0, len(r.outcomes))
		for _, o := range r.outcomes {
			if o.Resolved() {
				resolved = append(resolved, o)
			}
		}
		if len(resolved) > 0 {
			r.status = Classify(resolved)
		}
	} else {
		r.status = Classify(r.outcomes)
	}
	r.inProgress = false
	r.finishedAt = &now
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.opts.Logger.Info("run_finished",
		zap.String("run_id", r.id),
		zap.String("status", string(snap.Status)),
		zap.Int("succeeded", snap.Succeeded),
		zap.Int("checked", snap.Checked),
		zap.Int("total", snap.Total),
		zap.Bool("cancelled", snap.Cancelled),
	)
	r.progress(snap)
}

// unfinished reports whether cancellation left a mark on the outcomes.
func unfinished(outcomes []domain.ProbeOutcome) bool {
	for _, o := range outcomes {
		if !o.Resolved() || o.Reason == string(probe.ReasonCancelled) {
			return true
		}
	}
	return false
}

func (r *Run) abort(err error) {
	now := time.Now().UTC()
	r.mu.Lock()
	r.err = err
	r.inProgress = false
	r.finishedAt = &now
	r.mu.Unlock()
	r.opts.Logger.Error("run_aborted", zap.String("run_id", r.id), zap.Error(err))
}

func (r *Run) progress(snap domain.BatchRun) {
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(snap)
	}
}
