package repo

import (
	"context"
	"time"

	"github.com/hamed0406/modelstatus/internal/domain"
)

// AlertRecord holds the last aggregate status we saw for a scope and the last
// time we sent a notification for it (used for cooldown).
type AlertRecord struct {
	Scope      string
	LastStatus domain.AggregateStatus
	LastSentAt *time.Time
}

// AlertStore is implemented by a persistence layer to store alert state.
type AlertStore interface {
	// Get returns nil, nil if there's no record yet.
	Get(ctx context.Context, scope string) (*AlertRecord, error)
	// Set upserts the record. If sentAt.IsZero() the previous send time is kept.
	Set(ctx context.Context, scope string, status domain.AggregateStatus, sentAt time.Time) error
}
