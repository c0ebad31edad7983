package healthcheck

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/modelstatus/internal/domain"
)

var (
	ErrInvalidOptions = errors.New("healthcheck: invalid options")
	ErrCancelled      = errors.New("healthcheck: run cancelled")
	ErrOrchestration  = errors.New("healthcheck: run aborted")
)

// Options tunes a run. Start from DefaultOptions; a zero Options is rejected.
type Options struct {
	ConcurrencyLimit int           // probes in flight per batch
	BatchDelay       time.Duration // pause between batches, not after the last
	ProbeTimeout     time.Duration // per attempt
	MaxRetries       int           // extra attempts, rate-limited results only
	// Backoff returns the wait before retry number attempt (1-indexed).
	// Nil means DefaultBackoff.
	Backoff func(attempt int) time.Duration

	// OnProgress receives a snapshot after every batch and once when the run
	// finishes. It is called from the run goroutine and must not block long.
	OnProgress func(domain.BatchRun)
	Logger     *zap.Logger
}

func DefaultOptions() Options {
	return Options{
		ConcurrencyLimit: 3,
		BatchDelay:       500 * time.Millisecond,
		ProbeTimeout:     10 * time.Second,
		MaxRetries:       2,
		Backoff:          DefaultBackoff,
	}
}

// DefaultBackoff is linear: 2s before the first retry, 4s before the second.
func DefaultBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * 2 * time.Second
}

func (o Options) validate() (Options, error) {
	switch {
	case o.ConcurrencyLimit < 1:
		return o, fmt.Errorf("%w: concurrency limit %d", ErrInvalidOptions, o.ConcurrencyLimit)
	case o.ProbeTimeout <= 0:
		return o, fmt.Errorf("%w: probe timeout %s", ErrInvalidOptions, o.ProbeTimeout)
	case o.BatchDelay < 0:
		return o, fmt.Errorf("%w: batch delay %s", ErrInvalidOptions, o.BatchDelay)
	case o.MaxRetries < 0:
		return o, fmt.Errorf("%w: max retries %d", ErrInvalidOptions, o.MaxRetries)
	}
	if o.Backoff == nil {
		o.Backoff = DefaultBackoff
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o, nil
}
