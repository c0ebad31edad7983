package domain

import "time"

type OutcomeState string

const (
	StatePending OutcomeState = "pending"
	StateSuccess OutcomeState = "success"
	StateFailure OutcomeState = "failure"
)

// ProbeOutcome is the result of probing one ServiceRef.
//
// LatencyMS is nil when no response was ever received: the probe timed out,
// was cancelled, failed in transport, ran out of rate-limit retries, or never ran.
type ProbeOutcome struct {
	Service    ServiceRef   `json:"service"`
	State      OutcomeState `json:"state"`
	LatencyMS  *int64       `json:"latency_ms,omitempty"`
	Error      string       `json:"error,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	StatusCode int          `json:"status_code,omitempty"`
	Attempts   int          `json:"attempts,omitempty"`
	CheckedAt  *time.Time   `json:"checked_at,omitempty"`
}

func (o ProbeOutcome) Resolved() bool { return o.State != StatePending }

type AggregateStatus string

const (
	StatusChecking AggregateStatus = "checking"
	StatusHealthy  AggregateStatus = "healthy"
	StatusDegraded AggregateStatus = "degraded"
	StatusDown     AggregateStatus = "down"
)

// Banner is the human-readable headline for a status.
func (s AggregateStatus) Banner() string {
	switch s {
	case StatusHealthy:
		return "All Systems Operational"
	case StatusDegraded:
		return "Partial Service Degradation"
	case StatusDown:
		return "Major Service Outage"
	default:
		return "Checking Services..."
	}
}

// BatchRun is a snapshot of one probing session. Outcomes are in input order.
type BatchRun struct {
	ID         string          `json:"id"`
	Outcomes   []ProbeOutcome  `json:"outcomes"`
	Cancelled  bool            `json:"cancelled"`
	InProgress bool            `json:"in_progress"`
	Status     AggregateStatus `json:"status"`
	Total      int             `json:"total"`
	Checked    int             `json:"checked"`
	Succeeded  int             `json:"succeeded"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Percent of services checked, 0..100. An empty run counts as complete.
func (r BatchRun) Percent() float64 {
	if r.Total == 0 {
		return 100
	}
	return float64(r.Checked) * 100 / float64(r.Total)
}
