package sample

import (
	"sort"
	"time"
)

// Series is an ordered sequence of samples, ascending by timestamp,
// with no two samples sharing a timestamp.
type Series []Sample

// Normalize copies samples into a Series: sorted ascending and deduplicated by
// timestamp. When timestamps collide the sample appearing first in the input wins.
func Normalize(samples []Sample) Series {
	if len(samples) == 0 {
		return Series{}
	}

	sorted := make(Series, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	// Single pass: drop anything equal to its immediate predecessor
	out := sorted[:1]
	for _, s := range sorted[1:] {
		if s.Timestamp.Equal(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Merge concatenates incoming with held, then sorts and deduplicates.
// Incoming samples win over held samples with the same timestamp.
func Merge(incoming, held []Sample) Series {
	all := make([]Sample, 0, len(incoming)+len(held))
	all = append(all, incoming...)
	all = append(all, held...)
	return Normalize(all)
}

// Earliest returns the first timestamp in the series.
func (s Series) Earliest() (time.Time, bool) {
	if len(s) == 0 {
		return time.Time{}, false
	}
	return s[0].Timestamp, true
}

// Latest returns the last sample in the series.
func (s Series) Latest() (Sample, bool) {
	if len(s) == 0 {
		return Sample{}, false
	}
	return s[len(s)-1], true
}

// Between returns the samples with start <= timestamp < end.
// The series must already be normalized.
func (s Series) Between(start, end time.Time) Series {
	lo := sort.Search(len(s), func(i int) bool { return !s[i].Timestamp.Before(start) })
	hi := sort.Search(len(s), func(i int) bool { return !s[i].Timestamp.Before(end) })
	if lo >= hi {
		return Series{}
	}
	out := make(Series, hi-lo)
	copy(out, s[lo:hi])
	return out
}
