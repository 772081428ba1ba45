package backfill

import (
	"sort"
	"sync"
	"time"

	"github.com/nicktill/capdiff/pkg/sample"
)

// History is a bounded, client-side copy of the series. It has no
// authority; the log can always rebuild it.
type History struct {
	capacity int
	series   sample.Series
	mu       sync.RWMutex
}

// NewHistory creates an empty history holding at most capacity samples.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{capacity: capacity, series: sample.Series{}}
}

// Replace discards the held series and keeps the newest samples of s.
func (h *History) Replace(s []sample.Sample) {
	normalized := sample.Normalize(s)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.series = keepNewest(normalized, h.capacity)
}

// Observe adds a live sample unless its timestamp is already held.
// At capacity the oldest sample is dropped.
func (h *History) Observe(s sample.Sample) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.series); n > 0 && !s.Timestamp.After(h.series[n-1].Timestamp) {
		// Out-of-order or repeated: fall back to a full merge
		before := len(h.series)
		merged := sample.Merge(h.series, []sample.Sample{s})
		if len(merged) == before {
			return false
		}
		h.series = keepNewest(merged, h.capacity)
		return true
	}

	h.series = keepNewest(append(h.series, s), h.capacity)
	return true
}

// MergeOlder folds a backfilled window in and keeps the result contiguous.
// Over capacity the oldest samples of the window are dropped first. Held
// samples are trimmed from the newest end only to leave room for half a
// capacity of older samples. Returns the number of retained samples that
// were new.
func (h *History) MergeOlder(older []sample.Sample) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	held := make(map[int64]struct{}, len(h.series))
	for _, s := range h.series {
		held[s.Timestamp.UnixMilli()] = struct{}{}
	}

	merged := sample.Merge(h.series, older)
	if len(merged) > h.capacity {
		merged = h.trimOlder(merged)
	}

	added := 0
	for _, s := range merged {
		if _, ok := held[s.Timestamp.UnixMilli()]; !ok {
			added++
		}
	}
	h.series = merged
	return added
}

// trimOlder cuts merged down to capacity around the held start.
func (h *History) trimOlder(merged sample.Series) sample.Series {
	heldStart, ok := h.series.Earliest()
	if !ok {
		return keepNewest(merged, h.capacity)
	}

	// merged[:split] is strictly older than anything held
	split := sort.Search(len(merged), func(i int) bool {
		return !merged[i].Timestamp.Before(heldStart)
	})
	rest := len(merged) - split

	room := min(max(h.capacity-rest, h.capacity/2), split)
	keepRest := min(h.capacity-room, rest)

	out := make(sample.Series, 0, room+keepRest)
	out = append(out, merged[split-room:split]...)
	out = append(out, merged[split:split+keepRest]...)
	return out
}

// Snapshot returns a copy of the held series.
func (h *History) Snapshot() sample.Series {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(sample.Series, len(h.series))
	copy(out, h.series)
	return out
}

// Earliest returns the oldest held timestamp, recomputed from the full set.
func (h *History) Earliest() (time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.series.Earliest()
}

// Len returns the number of held samples.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.series)
}

// Capacity returns the maximum number of held samples.
func (h *History) Capacity() int {
	return h.capacity
}

func keepNewest(s sample.Series, capacity int) sample.Series {
	if len(s) <= capacity {
		return s
	}
	out := make(sample.Series, capacity)
	copy(out, s[len(s)-capacity:])
	return out
}
