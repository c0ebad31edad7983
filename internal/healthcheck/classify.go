package healthcheck

import "github.com/hamed0406/modelstatus/internal/domain"

// Partition splits items into consecutive batches of size, keeping order.
// Only the last batch may be shorter.
func Partition[T any](items []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		out = append(out, items[i:end:end])
	}
	return out
}

// Classify derives the aggregate status from a set of outcomes:
// all succeeded is healthy, a strict majority is degraded, anything else is
// down. An empty set is healthy.
func Classify(outcomes []domain.ProbeOutcome) domain.AggregateStatus {
	total := len(outcomes)
	success := 0
	for _, o := range outcomes {
		if o.State == domain.StateSuccess {
			success++
		}
	}
	switch {
	case success == total:
		return domain.StatusHealthy
	case float64(success) > float64(total)*0.5:
		return domain.StatusDegraded
	default:
		return domain.StatusDown
	}
}
