package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hamed0406/modelstatus/internal/domain"
	"github.com/hamed0406/modelstatus/internal/probe"
)

// ---- helpers ----

func services(ids ...string) []domain.ServiceRef {
	out := make([]domain.ServiceRef, len(ids))
	for i, id := range ids {
		out[i] = domain.ServiceRef{ID: domain.ServiceID(id), Name: id, Provider: "test"}
	}
	return out
}

func numbered(n int) []domain.ServiceRef {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("m%d", i)
	}
	return services(ids...)
}

func fastOptions() Options {
	o := DefaultOptions()
	o.BatchDelay = 0
	o.ProbeTimeout = time.Second
	o.Backoff = func(int) time.Duration { return time.Millisecond }
	return o
}

type row struct {
	ID     domain.ServiceID
	State  domain.OutcomeState
	Reason string
}

func rows(run domain.BatchRun) []row {
	out := make([]row, len(run.Outcomes))
	for i, o := range run.Outcomes {
		out[i] = row{o.Service.ID, o.State, o.Reason}
	}
	return out
}

func okProber() probe.Prober {
	return probe.ProberFunc(func(context.Context, domain.ServiceRef) probe.Result {
		return probe.OK(time.Millisecond)
	})
}

// blockUntilCancelled waits for ctx, like a well-behaved network probe.
func blockUntilCancelled(ctx context.Context) probe.Result {
	<-ctx.Done()
	return probe.Cancelled()
}

// ---- tests ----

func TestCheck_EmptyServicesIsHealthy(t *testing.T) {
	run, err := Check(context.Background(), nil, okProber(), fastOptions())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if run.Status != domain.StatusHealthy || run.Total != 0 || run.InProgress || run.Cancelled {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.Percent() != 100 {
		t.Fatalf("percent=%v", run.Percent())
	}
}

func TestStart_InvalidOptions(t *testing.T) {
	bad := []Options{
		{},
		func() Options { o := DefaultOptions(); o.ConcurrencyLimit = 0; return o }(),
		func() Options { o := DefaultOptions(); o.MaxRetries = -1; return o }(),
		func() Options { o := DefaultOptions(); o.BatchDelay = -time.Second; return o }(),
	}
	for i, o := range bad {
		if _, err := Start(context.Background(), numbered(1), okProber(), o); !errors.Is(err, ErrInvalidOptions) {
			t.Fatalf("case %d: want ErrInvalidOptions, got %v", i, err)
		}
	}
	if _, err := Start(context.Background(), numbered(1), nil, DefaultOptions()); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("nil prober: want ErrInvalidOptions, got %v", err)
	}
}

func TestCheck_OrderFollowsInputNotCompletion(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var finished []domain.ServiceID

	p := probe.ProberFunc(func(ctx context.Context, s domain.ServiceRef) probe.Result {
		switch s.ID {
		case "first":
			<-release
		case "second":
			defer close(release)
		}
		mu.Lock()
		finished = append(finished, s.ID)
		mu.Unlock()
		return probe.OK(time.Millisecond)
	})

	run, err := Check(context.Background(), services("first", "second", "third"), p, fastOptions())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if finished[0] == "first" {
		t.Fatalf("test setup: first should finish after second, got %v", finished)
	}
	want := []row{
		{"first", domain.StateSuccess, ""},
		{"second", domain.StateSuccess, ""},
		{"third", domain.StateSuccess, ""},
	}
	if diff := cmp.Diff(want, rows(run)); diff != "" {
		t.Fatalf("outcomes (-want +got):\n%s", diff)
	}
}

func TestCheck_AggregateStatus(t *testing.T) {
	cases := []struct {
		success int
		want    domain.AggregateStatus
	}{
		{4, domain.StatusHealthy},
		{3, domain.StatusDegraded},
		{2, domain.StatusDown},
	}
	for _, c := range cases {
		p := probe.ProberFunc(func(_ context.Context, s domain.ServiceRef) probe.Result {
			var i int
			fmt.Sscanf(string(s.ID), "m%d", &i)
			if i < c.success {
				return probe.OK(time.Millisecond)
			}
			return probe.HTTPFailure(500, "HTTP 500: Internal Server Error", time.Millisecond)
		})
		run, err := Check(context.Background(), numbered(4), p, fastOptions())
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if run.Status != c.want || run.Succeeded != c.success || run.Checked != 4 {
			t.Fatalf("success=%d: got status=%s succeeded=%d checked=%d", c.success, run.Status, run.Succeeded, run.Checked)
		}
	}
}

func TestCheck_BatchesRunSequentiallyUnderLimit(t *testing.T) {
	var inflight, peak atomic.Int32
	var mu sync.Mutex
	var events []string

	p := probe.ProberFunc(func(_ context.Context, s domain.ServiceRef) probe.Result {
		n := inflight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		mu.Lock()
		events = append(events, "start "+string(s.ID))
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		events = append(events, "end "+string(s.ID))
		mu.Unlock()
		inflight.Add(-1)
		return probe.OK(time.Millisecond)
	})

	opts := fastOptions()
	opts.ConcurrencyLimit = 3
	if _, err := Check(context.Background(), numbered(7), p, opts); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if peak.Load() > 3 {
		t.Fatalf("peak in-flight %d exceeds limit", peak.Load())
	}
	// m3 belongs to the second batch and must start after every member of
	// the first batch has ended.
	startM3 := slices.Index(events, "start m3")
	for _, id := range []string{"m0", "m1", "m2"} {
		if end := slices.Index(events, "end "+id); end > startM3 {
			t.Fatalf("%s ended after m3 started: %v", id, events)
		}
	}
}

func TestCheck_RateLimitedIsRetriedWithBackoff(t *testing.T) {
	var calls atomic.Int32
	p := probe.ProberFunc(func(context.Context, domain.ServiceRef) probe.Result {
		if calls.Add(1) <= 2 {
			return probe.RateLimited("")
		}
		return probe.OK(7 * time.Millisecond)
	})
	var mu sync.Mutex
	var waits []int
	opts := fastOptions()
	opts.Backoff = func(attempt int) time.Duration {
		mu.Lock()
		waits = append(waits, attempt)
		mu.Unlock()
		return time.Millisecond
	}

	run, err := Check(context.Background(), numbered(1), p, opts)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	o := run.Outcomes[0]
	if o.State != domain.StateSuccess || o.Attempts != 3 || o.LatencyMS == nil || *o.LatencyMS != 7 {
		t.Fatalf("unexpected outcome: %+v", o)
	}
	if diff := cmp.Diff([]int{1, 2}, waits); diff != "" {
		t.Fatalf("backoff attempts (-want +got):\n%s", diff)
	}
}

func TestCheck_RateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	p := probe.ProberFunc(func(context.Context, domain.ServiceRef) probe.Result {
		calls.Add(1)
		return probe.RateLimited("")
	})
	run, err := Check(context.Background(), numbered(1), p, fastOptions())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("want 1 call + 2 retries, got %d calls", calls.Load())
	}
	o := run.Outcomes[0]
	if o.State != domain.StateFailure || o.Reason != string(probe.ReasonRateLimited) || o.Error != "429: Rate limited" {
		t.Fatalf("unexpected outcome: %+v", o)
	}
	if o.LatencyMS != nil {
		t.Fatalf("rate-limited outcome must not carry latency, got %d", *o.LatencyMS)
	}
	if run.Status != domain.StatusDown {
		t.Fatalf("status=%s", run.Status)
	}
}

func TestDefaultBackoff(t *testing.T) {
	if DefaultBackoff(1) != 2*time.Second || DefaultBackoff(2) != 4*time.Second {
		t.Fatalf("got %v, %v", DefaultBackoff(1), DefaultBackoff(2))
	}
}

func TestCheck_TerminalFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	p := probe.ProberFunc(func(context.Context, domain.ServiceRef) probe.Result {
		calls.Add(1)
		return probe.HTTPFailure(401, "401: Invalid API key", 3*time.Millisecond)
	})
	run, err := Check(context.Background(), numbered(1), p, fastOptions())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	o := run.Outcomes[0]
	if calls.Load() != 1 || o.Reason != string(probe.ReasonAuth) || o.StatusCode != 401 {
		t.Fatalf("calls=%d outcome=%+v", calls.Load(), o)
	}
	if o.LatencyMS == nil || *o.LatencyMS != 3 {
		t.Fatalf("want latency 3ms for an answered probe, got %v", o.LatencyMS)
	}
}

func TestCheck_ProbeIgnoringContextTimesOut(t *testing.T) {
	stuck := make(chan struct{})
	defer close(stuck)
	p := probe.ProberFunc(func(context.Context, domain.ServiceRef) probe.Result {
		<-stuck
		return probe.OK(0)
	})
	opts := fastOptions()
	opts.ProbeTimeout = 20 * time.Millisecond

	start := time.Now()
	run, err := Check(context.Background(), numbered(1), p, opts)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("run not bounded by probe timeout")
	}
	o := run.Outcomes[0]
	if o.Reason != string(probe.ReasonTimeout) || o.Error != "Request timeout (20ms)" || o.LatencyMS != nil {
		t.Fatalf("unexpected outcome: %+v", o)
	}
}

func TestCheck_ProbePanicBecomesFailure(t *testing.T) {
	p := probe.ProberFunc(func(_ context.Context, s domain.ServiceRef) probe.Result {
		if s.ID == "m1" {
			panic("boom")
		}
		return probe.OK(time.Millisecond)
	})
	run, err := Check(context.Background(), numbered(3), p, fastOptions())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	want := []row{
		{"m0", domain.StateSuccess, ""},
		{"m1", domain.StateFailure, string(probe.ReasonInternal)},
		{"m2", domain.StateSuccess, ""},
	}
	if diff := cmp.Diff(want, rows(run)); diff != "" {
		t.Fatalf("outcomes (-want +got):\n%s", diff)
	}
	if run.Status != domain.StatusDegraded {
		t.Fatalf("status=%s", run.Status)
	}
}

func TestRun_CancelMidRun(t *testing.T) {
	var calls atomic.Int32
	secondBatch := make(chan struct{}, 2)
	p := probe.ProberFunc(func(ctx context.Context, s domain.ServiceRef) probe.Result {
		calls.Add(1)
		if s.ID == "m2" || s.ID == "m3" {
			secondBatch <- struct{}{}
			return blockUntilCancelled(ctx)
		}
		return probe.OK(time.Millisecond)
	})
	opts := fastOptions()
	opts.ConcurrencyLimit = 2

	r, err := Start(context.Background(), numbered(6), p, opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-secondBatch
	<-secondBatch

	r.Cancel()
	if r.InProgress() {
		t.Fatalf("run should report not-in-progress right after Cancel")
	}
	r.Cancel() // idempotent

	run, err := r.Wait(context.Background())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("want ErrCancelled, got %v", err)
	}
	want := []row{
		{"m0", domain.StateSuccess, ""},
		{"m1", domain.StateSuccess, ""},
		{"m2", domain.StateFailure, string(probe.ReasonCancelled)},
		{"m3", domain.StateFailure, string(probe.ReasonCancelled)},
		{"m4", domain.StatePending, ""},
		{"m5", domain.StatePending, ""},
	}
	if diff := cmp.Diff(want, rows(run)); diff != "" {
		t.Fatalf("outcomes (-want +got):\n%s", diff)
	}
	if calls.Load() != 4 {
		t.Fatalf("no batch may start after cancel; got %d probe calls", calls.Load())
	}
	if !run.Cancelled || run.InProgress || run.Checked != 4 {
		t.Fatalf("unexpected run: cancelled=%v inProgress=%v checked=%d", run.Cancelled, run.InProgress, run.Checked)
	}
	// 2 of 4 resolved succeeded: not a strict majority.
	if run.Status != domain.StatusDown {
		t.Fatalf("status=%s", run.Status)
	}
}

func TestRun_CancelDuringBatchDelayKeepsResults(t *testing.T) {
	merged := make(chan struct{}, 4)
	opts := fastOptions()
	opts.ConcurrencyLimit = 1
	opts.BatchDelay = time.Hour
	opts.OnProgress = func(domain.BatchRun) { merged <- struct{}{} }

	r, err := Start(context.Background(), numbered(2), okProber(), opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-merged
	before := r.Snapshot()
	r.Cancel()

	run, err := r.Wait(context.Background())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("want ErrCancelled, got %v", err)
	}
	if diff := cmp.Diff(before.Outcomes, run.Outcomes); diff != "" {
		t.Fatalf("resolved outcomes changed after cancel (-before +after):\n%s", diff)
	}
	if run.Outcomes[1].State != domain.StatePending || run.Status != domain.StatusHealthy {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestRun_CancelledBeforeAnyOutcomeStaysChecking(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := Start(ctx, numbered(3), okProber(), fastOptions())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	run, err := r.Wait(context.Background())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("want ErrCancelled, got %v", err)
	}
	if run.Status != domain.StatusChecking || run.Checked != 0 || !run.Cancelled {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestRun_CancelAfterFinishIsNoop(t *testing.T) {
	r, err := Start(context.Background(), numbered(2), okProber(), fastOptions())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := r.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	r.Cancel()
	run, err := r.Wait(context.Background())
	if err != nil || run.Cancelled || run.Status != domain.StatusHealthy {
		t.Fatalf("cancel after finish changed the run: %+v err=%v", run, err)
	}
}

func TestRun_ParentDoneAfterLastMergeStaysComplete(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opts := fastOptions()
	opts.ConcurrencyLimit = 2
	opts.OnProgress = func(s domain.BatchRun) {
		if s.InProgress && s.Checked == s.Total {
			cancel()
		}
	}
	run, err := Check(ctx, numbered(4), okProber(), opts)
	if err != nil {
		t.Fatalf("complete run reported %v", err)
	}
	if run.Cancelled || run.Status != domain.StatusHealthy || run.Succeeded != 4 {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestRun_ParentDoneMidRunIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opts := fastOptions()
	opts.ConcurrencyLimit = 2
	opts.OnProgress = func(s domain.BatchRun) {
		if s.InProgress && s.Checked == 2 {
			cancel()
		}
	}
	run, err := Check(ctx, numbered(4), okProber(), opts)
	if !errors.Is(err, ErrCancelled) || !run.Cancelled || run.Checked != 2 {
		t.Fatalf("want cancelled run with 2 checked, got %+v err=%v", run, err)
	}
}

func TestRun_ProgressAfterEachBatch(t *testing.T) {
	var mu sync.Mutex
	var checked []int
	opts := fastOptions()
	opts.ConcurrencyLimit = 2
	opts.OnProgress = func(s domain.BatchRun) {
		mu.Lock()
		checked = append(checked, s.Checked)
		mu.Unlock()
	}
	if _, err := Check(context.Background(), numbered(5), okProber(), opts); err != nil {
		t.Fatalf("Check: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]int{2, 4, 5, 5}, checked); diff != "" {
		t.Fatalf("progress (-want +got):\n%s", diff)
	}
}

func TestRun_OrchestrationFailureIsDistinct(t *testing.T) {
	opts := fastOptions()
	opts.OnProgress = func(s domain.BatchRun) {
		if s.InProgress {
			panic("reporter bug")
		}
	}
	run, err := Check(context.Background(), numbered(2), okProber(), opts)
	if !errors.Is(err, ErrOrchestration) {
		t.Fatalf("want ErrOrchestration, got %v", err)
	}
	if run.Error == "" || run.InProgress {
		t.Fatalf("unexpected run: %+v", run)
	}
}
