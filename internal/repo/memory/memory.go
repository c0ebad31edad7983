package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hamed0406/modelstatus/internal/domain"
	"github.com/hamed0406/modelstatus/internal/repo"
)

// Store keeps runs and alert state in process memory.
type Store struct {
	mu     sync.RWMutex
	runs   []domain.BatchRun
	alerts map[string]repo.AlertRecord
	max    int
}

// New keeps at most limit runs; limit <= 0 means 500.
func New(limit int) *Store {
	if limit <= 0 {
		limit = 500
	}
	return &Store{
		runs:   make([]domain.BatchRun, 0, 32),
		alerts: make(map[string]repo.AlertRecord),
		max:    limit,
	}
}

func (m *Store) Append(ctx context.Context, r *domain.BatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	cp.Outcomes = slices.Clone(r.Outcomes)
	m.runs = append(m.runs, cp)
	if len(m.runs) > m.max {
		m.runs = slices.Delete(m.runs, 0, len(m.runs)-m.max)
	}
	return nil
}

func (m *Store) Latest(ctx context.Context) (*domain.BatchRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.runs) == 0 {
		return nil, nil
	}
	r := m.runs[len(m.runs)-1]
	return &r, nil
}

func (m *Store) List(ctx context.Context, limit int) ([]domain.BatchRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.runs) {
		limit = len(m.runs)
	}
	out := make([]domain.BatchRun, 0, limit)
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}

func (m *Store) Get(ctx context.Context, scope string) (*repo.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.alerts[scope]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Store) Set(ctx context.Context, scope string, status domain.AggregateStatus, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.alerts[scope]
	rec.Scope = scope
	rec.LastStatus = status
	if !sentAt.IsZero() {
		ts := sentAt
		rec.LastSentAt = &ts
	}
	m.alerts[scope] = rec
	return nil
}

var _ repo.RunStore = (*Store)(nil)
var _ repo.AlertStore = (*Store)(nil)
