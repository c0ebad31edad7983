package healthcheck

import (
	"fmt"
	"slices"
	"testing"

	"github.com/hamed0406/modelstatus/internal/domain"
)

func TestPartition_BatchSizes(t *testing.T) {
	for n := 0; n <= 10; n++ {
		items := make([]int, n)
		for i := range items {
			items[i] = i
		}
		for size := 1; size <= 4; size++ {
			batches := Partition(items, size)
			want := (n + size - 1) / size
			if len(batches) != want {
				t.Fatalf("n=%d size=%d: %d batches, want %d", n, size, len(batches), want)
			}
			var flat []int
			for i, b := range batches {
				if i < len(batches)-1 && len(b) != size {
					t.Fatalf("n=%d size=%d: batch %d has %d items", n, size, i, len(b))
				}
				if len(b) == 0 || len(b) > size {
					t.Fatalf("n=%d size=%d: batch %d has %d items", n, size, i, len(b))
				}
				flat = append(flat, b...)
			}
			if !slices.Equal(flat, items) && n > 0 {
				t.Fatalf("n=%d size=%d: order lost: %v", n, size, flat)
			}
		}
	}
}

func outcomes(success, total int) []domain.ProbeOutcome {
	out := make([]domain.ProbeOutcome, total)
	for i := range out {
		out[i] = domain.ProbeOutcome{Service: domain.ServiceRef{ID: domain.ServiceID(fmt.Sprint(i))}, State: domain.StateFailure}
		if i < success {
			out[i].State = domain.StateSuccess
		}
	}
	return out
}

func TestClassify(t *testing.T) {
	cases := []struct {
		success, total int
		want           domain.AggregateStatus
	}{
		{4, 4, domain.StatusHealthy},
		{3, 4, domain.StatusDegraded},
		{2, 4, domain.StatusDown},
		{0, 4, domain.StatusDown},
		{2, 3, domain.StatusDegraded},
		{1, 2, domain.StatusDown},
		{0, 0, domain.StatusHealthy},
	}
	for _, c := range cases {
		if got := Classify(outcomes(c.success, c.total)); got != c.want {
			t.Fatalf("Classify(%d/%d)=%s want %s", c.success, c.total, got, c.want)
		}
	}
}
