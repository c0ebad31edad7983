package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hamed0406/modelstatus/internal/domain"
)

// Kind separates the three answers a probe can give. Only KindRateLimited is
// retried.
type Kind int

const (
	KindOK Kind = iota
	KindRateLimited
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "failure"
	}
}

// Reason classifies a failed or rate-limited probe.
type Reason string

const (
	ReasonRateLimited Reason = "rate_limited"
	ReasonTimeout     Reason = "timeout"
	ReasonCancelled   Reason = "cancelled"
	ReasonAuth        Reason = "auth"
	ReasonForbidden   Reason = "forbidden"
	ReasonHTTP        Reason = "http"
	ReasonUnknown     Reason = "unknown"
	ReasonInternal    Reason = "internal"
)

// Result is the outcome of a single probe attempt.
//
// Responded is true when the remote side answered; Latency is only
// meaningful in that case.
type Result struct {
	Kind       Kind
	Reason     Reason
	Message    string
	StatusCode int
	Latency    time.Duration
	Responded  bool
}

func OK(latency time.Duration) Result {
	return Result{Kind: KindOK, Latency: latency, Responded: true}
}

func RateLimited(msg string) Result {
	if msg == "" {
		msg = "429: Rate limited"
	}
	return Result{Kind: KindRateLimited, Reason: ReasonRateLimited, Message: msg, StatusCode: http.StatusTooManyRequests}
}

// Failure is a terminal failure without a response.
func Failure(reason Reason, msg string) Result {
	return Result{Kind: KindFailure, Reason: reason, Message: msg}
}

// HTTPFailure is a terminal failure for a non-2xx, non-429 answer.
func HTTPFailure(status int, msg string, latency time.Duration) Result {
	reason := ReasonHTTP
	switch status {
	case http.StatusUnauthorized:
		reason = ReasonAuth
	case http.StatusForbidden:
		reason = ReasonForbidden
	}
	return Result{Kind: KindFailure, Reason: reason, Message: msg, StatusCode: status, Latency: latency, Responded: true}
}

func TimedOut(timeout time.Duration) Result {
	if timeout <= 0 {
		return Failure(ReasonTimeout, "Request timeout")
	}
	return Failure(ReasonTimeout, fmt.Sprintf("Request timeout (%s)", timeout))
}

func Cancelled() Result {
	return Failure(ReasonCancelled, "Request cancelled")
}

// Prober checks one service. Implementations must return once ctx is done.
type Prober interface {
	Probe(ctx context.Context, svc domain.ServiceRef) Result
}

type ProberFunc func(ctx context.Context, svc domain.ServiceRef) Result

func (f ProberFunc) Probe(ctx context.Context, svc domain.ServiceRef) Result { return f(ctx, svc) }
