package healthcheck

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/hamed0406/modelstatus/internal/domain"
	"github.com/hamed0406/modelstatus/internal/probe"
)

var ErrMonitorClosed = errors.New("healthcheck: monitor closed")

// Monitor owns the current run. Starting a run retires the previous one
// first, so two runs never write into the same BatchRun.
type Monitor struct {
	log    *zap.Logger
	prober probe.Prober
	opts   Options

	mu        sync.Mutex
	current   *Run
	listeners []func(domain.BatchRun)
	closed    bool
}

func NewMonitor(log *zap.Logger, p probe.Prober, opts Options) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Logger == nil {
		opts.Logger = log
	}
	return &Monitor{log: log, prober: p, opts: opts}
}

// Listen registers fn to receive the final snapshot of every run started
// afterwards, including cancelled ones.
func (m *Monitor) Listen(fn func(domain.BatchRun)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Start cancels the current run, if any, and starts a new one over services.
// The run is detached from ctx cancellation so it can outlive a request;
// use Cancel or Close to stop it.
func (m *Monitor) Start(ctx context.Context, services []domain.ServiceRef) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrMonitorClosed
	}
	if prev := m.current; prev != nil && prev.InProgress() {
		m.log.Info("run_retired", zap.String("run_id", prev.ID()))
		prev.Cancel()
	}
	return m.startLocked(ctx, services)
}

// StartIfIdle starts a run only when no run is in progress. started is false
// and the current run is left alone otherwise.
func (m *Monitor) StartIfIdle(ctx context.Context, services []domain.ServiceRef) (r *Run, started bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrMonitorClosed
	}
	if cur := m.current; cur != nil && cur.InProgress() {
		return cur, false, nil
	}
	r, err = m.startLocked(ctx, services)
	return r, err == nil, err
}

func (m *Monitor) startLocked(ctx context.Context, services []domain.ServiceRef) (*Run, error) {
	r, err := Start(context.WithoutCancel(ctx), services, m.prober, m.opts)
	if err != nil {
		return nil, err
	}
	m.current = r

	listeners := slices.Clone(m.listeners)
	go func() {
		<-r.Done()
		snap := r.Snapshot()
		for _, fn := range listeners {
			fn(snap)
		}
	}()
	return r, nil
}

// Current returns the latest run, or nil before the first Start.
func (m *Monitor) Current() *Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Cancel cancels the current run and returns its snapshot. ok is false when
// no run was ever started.
func (m *Monitor) Cancel() (snap domain.BatchRun, ok bool) {
	r := m.Current()
	if r == nil {
		return domain.BatchRun{}, false
	}
	r.Cancel()
	return r.Snapshot(), true
}

// Close cancels the current run and rejects further starts.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.closed = true
	r := m.current
	m.mu.Unlock()
	if r != nil {
		r.Cancel()
	}
}
