package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hamed0406/modelstatus/internal/domain"
	"github.com/hamed0406/modelstatus/internal/openrouter"
)

var svc = domain.ServiceRef{ID: "meta/llama:free", Name: "Llama", Provider: "Meta"}

func statusServer(t *testing.T, code int) *httptest.Server {
	t.Helper()
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
		if code == http.StatusOK {
			_, _ = w.Write([]byte(`{"id":"gen","choices":[]}`))
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func TestCompletionProber_StatusMapping(t *testing.T) {
	cases := []struct {
		code      int
		kind      Kind
		reason    Reason
		msg       string
		responded bool
	}{
		{http.StatusOK, KindOK, "", "", true},
		{http.StatusTooManyRequests, KindRateLimited, ReasonRateLimited, "429: Rate limited", false},
		{http.StatusUnauthorized, KindFailure, ReasonAuth, "401: Invalid API key", true},
		{http.StatusForbidden, KindFailure, ReasonForbidden, "403: Forbidden", true},
		{http.StatusBadGateway, KindFailure, ReasonHTTP, "HTTP 502: Bad Gateway", true},
	}
	for _, c := range cases {
		s := statusServer(t, c.code)
		p := NewCompletionProber(openrouter.NewClient(s.URL, "k"), 2*time.Second)
		out := p.Probe(context.Background(), svc)
		if out.Kind != c.kind || out.Reason != c.reason || out.Message != c.msg || out.Responded != c.responded {
			t.Fatalf("status %d: got %+v", c.code, out)
		}
		if out.Responded && out.Latency < 0 {
			t.Fatalf("status %d: negative latency %v", c.code, out.Latency)
		}
	}
}

func TestCompletionProber_Timeout(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer s.Close()

	p := NewCompletionProber(openrouter.NewClient(s.URL, "k"), 50*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out := p.Probe(ctx, svc)
	if out.Kind != KindFailure || out.Reason != ReasonTimeout {
		t.Fatalf("want timeout failure, got %+v", out)
	}
	if out.Message != "Request timeout (50ms)" {
		t.Fatalf("unexpected message %q", out.Message)
	}
}

func TestCompletionProber_Cancelled(t *testing.T) {
	s := statusServer(t, http.StatusOK)
	p := NewCompletionProber(openrouter.NewClient(s.URL, "k"), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if out := p.Probe(ctx, svc); out.Reason != ReasonCancelled {
		t.Fatalf("want cancelled, got %+v", out)
	}
}

func TestCompletionProber_NoAPIKey(t *testing.T) {
	p := NewCompletionProber(openrouter.NewClient("http://127.0.0.1:1", ""), time.Second)
	out := p.Probe(context.Background(), svc)
	if out.Reason != ReasonAuth || out.Message != "No API key configured" || out.Responded {
		t.Fatalf("unexpected %+v", out)
	}
}

func TestCompletionProber_TransportErrorDiagnosed(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := s.URL
	s.Close()

	var asked string
	p := NewCompletionProber(openrouter.NewClient(url, "k"), time.Second)
	p.Diagnose = func(_ context.Context, host string) DNSStatus {
		asked = host
		return DNSStatus{Domain: host, Class: DNSNXDomain}
	}
	out := p.Probe(context.Background(), svc)
	if out.Kind != KindFailure || out.Reason != ReasonUnknown || out.Responded {
		t.Fatalf("unexpected %+v", out)
	}
	if asked != "127.0.0.1" {
		t.Fatalf("diagnose asked for %q", asked)
	}
	if !strings.HasSuffix(out.Message, "dns=NXDOMAIN") {
		t.Fatalf("message not annotated: %q", out.Message)
	}
}
