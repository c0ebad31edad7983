package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/hamed0406/modelstatus/internal/domain"
	"github.com/hamed0406/modelstatus/internal/openrouter"
)

// CompletionProber checks a model by asking it for a single token.
type CompletionProber struct {
	Client *openrouter.Client
	// Timeout is only used to word timeout messages; the deadline itself
	// comes from ctx.
	Timeout time.Duration
	// Diagnose classifies the API host when the request fails in transport.
	// Nil disables the lookup.
	Diagnose func(ctx context.Context, host string) DNSStatus
}

func NewCompletionProber(c *openrouter.Client, timeout time.Duration) *CompletionProber {
	return &CompletionProber{Client: c, Timeout: timeout, Diagnose: CheckDNS}
}

func (p *CompletionProber) Probe(ctx context.Context, svc domain.ServiceRef) Result {
	zero := 0.0
	start := time.Now()
	_, err := p.Client.Complete(ctx, openrouter.ChatRequest{
		Model:       string(svc.ID),
		Messages:    []openrouter.Message{{Role: "user", Content: "Hi"}},
		MaxTokens:   1,
		Temperature: &zero,
	})
	latency := time.Since(start)
	if err == nil {
		return OK(latency)
	}

	var ae *openrouter.APIError
	switch {
	case errors.Is(err, openrouter.ErrNoAPIKey):
		return Failure(ReasonAuth, "No API key configured")
	case errors.As(err, &ae):
		switch ae.StatusCode {
		case http.StatusTooManyRequests:
			return RateLimited("429: Rate limited")
		case http.StatusUnauthorized:
			return HTTPFailure(ae.StatusCode, "401: Invalid API key", latency)
		case http.StatusForbidden:
			return HTTPFailure(ae.StatusCode, "403: Forbidden", latency)
		default:
			return HTTPFailure(ae.StatusCode, fmt.Sprintf("HTTP %d: %s", ae.StatusCode, http.StatusText(ae.StatusCode)), latency)
		}
	case errors.Is(err, context.Canceled):
		return Cancelled()
	case isTimeout(err):
		return TimedOut(p.Timeout)
	}

	msg := err.Error()
	if p.Diagnose != nil {
		if host := hostOf(p.Client.BaseURL); host != "" {
			if dns := p.Diagnose(ctx, host); dns.Class != DNSResolves {
				msg = fmt.Sprintf("%s dns=%s", msg, dns.Class)
			}
		}
	}
	return Failure(ReasonUnknown, msg)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
