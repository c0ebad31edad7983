package healthcheck

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/modelstatus/internal/domain"
	"github.com/hamed0406/modelstatus/internal/probe"
)

// probeOne resolves one service to a terminal outcome. Rate-limited results
// are retried after Backoff(attempt) while retries remain; every wait is cut
// short by cancellation.
func (r *Run) probeOne(svc domain.ServiceRef) (out domain.ProbeOutcome) {
	attempts := 0
	defer func() {
		if p := recover(); p != nil {
			r.opts.Logger.Error("probe_task_panic", zap.String("model", string(svc.ID)), zap.Any("panic", p))
			out = outcomeOf(svc, probe.Failure(probe.ReasonInternal, fmt.Sprintf("internal error: %v", p)), attempts)
		}
	}()

	var res probe.Result
	for retry := 0; ; retry++ {
		if retry > 0 {
			wait := r.opts.Backoff(retry)
			r.opts.Logger.Info("probe_rate_limited",
				zap.String("run_id", r.id),
				zap.String("model", string(svc.ID)),
				zap.Int("retry", retry),
				zap.Duration("backoff", wait),
			)
			if !sleep(r.ctx, wait) {
				res = probe.Cancelled()
				break
			}
		}
		attempts++
		res = r.attempt(svc)
		if res.Kind != probe.KindRateLimited || retry >= r.opts.MaxRetries {
			break
		}
		if r.ctx.Err() != nil {
			res = probe.Cancelled()
			break
		}
	}
	return outcomeOf(svc, res, attempts)
}

// attempt runs a single probe under ProbeTimeout. A probe that ignores its
// context is abandoned at the deadline.
func (r *Run) attempt(svc domain.ServiceRef) probe.Result {
	ctx, cancel := context.WithTimeout(r.ctx, r.opts.ProbeTimeout)
	defer cancel()

	ch := make(chan probe.Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- probe.Failure(probe.ReasonInternal, fmt.Sprintf("probe panic: %v", p))
			}
		}()
		ch <- r.prober.Probe(ctx, svc)
	}()

	select {
	case res := <-ch:
		if res.Kind == probe.KindFailure && !res.Responded && ctx.Err() != nil {
			return r.interrupted()
		}
		return res
	case <-ctx.Done():
		return r.interrupted()
	}
}

// interrupted tells run cancellation apart from the per-attempt deadline.
func (r *Run) interrupted() probe.Result {
	if r.ctx.Err() != nil {
		return probe.Cancelled()
	}
	return probe.TimedOut(r.opts.ProbeTimeout)
}

func outcomeOf(svc domain.ServiceRef, res probe.Result, attempts int) domain.ProbeOutcome {
	now := time.Now().UTC()
	o := domain.ProbeOutcome{
		Service:    svc,
		StatusCode: res.StatusCode,
		Attempts:   attempts,
		CheckedAt:  &now,
	}
	if res.Kind == probe.KindOK {
		o.State = domain.StateSuccess
	} else {
		o.State = domain.StateFailure
		o.Reason = string(res.Reason)
		o.Error = res.Message
		if o.Error == "" {
			o.Error = "Unknown error"
		}
	}
	// Rate-limited answers never carry latency.
	if res.Responded && res.Kind != probe.KindRateLimited {
		ms := res.Latency.Milliseconds()
		o.LatencyMS = &ms
	}
	return o
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
