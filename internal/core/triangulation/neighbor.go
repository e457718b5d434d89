package triangulation

import (
	"sort"
	"time"

	"github.com/nasaharvest/street2sat/internal/core/domain"
)

// Neighbor identifies the observation used to establish direction of travel.
// Index points into the time-sorted batch. Earlier is true when the neighbor
// comes before the observation in that order.
type Neighbor struct {
	Index   int
	Earlier bool
}

// SortByCaptureTime returns a copy of obs ordered by capture time. Equal
// timestamps keep their input order.
func SortByCaptureTime(obs []*domain.Observation) []*domain.Observation {
	sorted := append([]*domain.Observation(nil), obs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CaptureTime.Before(sorted[j].CaptureTime)
	})
	return sorted
}

// ResolveNeighbors picks the temporal neighbor of every observation in a
// batch already sorted by capture time. The first and last items take their
// single adjacent item. Interior items take the next item only when it is
// strictly closer in time than the previous one.
func ResolveNeighbors(sorted []*domain.Observation) ([]Neighbor, error) {
	n := len(sorted)
	if n < 2 {
		return nil, &domain.InsufficientBatchError{Count: n}
	}

	out := make([]Neighbor, n)
	out[0] = Neighbor{Index: 1}
	out[n-1] = Neighbor{Index: n - 2, Earlier: true}

	for i := 1; i < n-1; i++ {
		prev := absDuration(sorted[i].CaptureTime.Sub(sorted[i-1].CaptureTime))
		next := absDuration(sorted[i+1].CaptureTime.Sub(sorted[i].CaptureTime))
		if next < prev {
			out[i] = Neighbor{Index: i + 1}
		} else {
			out[i] = Neighbor{Index: i - 1, Earlier: true}
		}
	}
	return out, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
