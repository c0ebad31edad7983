package repo

import (
	"context"

	"github.com/hamed0406/modelstatus/internal/domain"
)

// RunStore keeps finished status runs.
type RunStore interface {
	Append(ctx context.Context, r *domain.BatchRun) error
	// Latest returns nil, nil when nothing was stored yet.
	Latest(ctx context.Context) (*domain.BatchRun, error)
	// List returns up to limit runs, newest first.
	List(ctx context.Context, limit int) ([]domain.BatchRun, error)
}
