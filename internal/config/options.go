package config

import (
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/modelstatus/internal/healthcheck"
)

// ProbeOptions maps the probe settings onto run options.
func (c Config) ProbeOptions(log *zap.Logger) healthcheck.Options {
	o := healthcheck.DefaultOptions()
	o.ConcurrencyLimit = c.Concurrency
	o.BatchDelay = c.BatchDelay
	o.ProbeTimeout = c.ProbeTimeout
	o.MaxRetries = c.MaxRetries
	if step := c.BackoffStep; step > 0 {
		o.Backoff = func(attempt int) time.Duration { return time.Duration(attempt) * step }
	} else {
		o.Backoff = func(int) time.Duration { return 0 }
	}
	o.Logger = log
	return o
}
