package bucket

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nicktill/capdiff/pkg/sample"
)

// MaxSlots caps the number of slots a single pass may produce
const MaxSlots = 100_000

var (
	ErrInvalidWidth     = errors.New("bucket width must be positive")
	ErrInvalidTolerance = errors.New("bucket tolerance must not be negative")
	ErrToleranceTooWide = errors.New("bucket tolerance must not exceed half the width")
	ErrTooManySlots     = fmt.Errorf("bucket range exceeds %d slots", MaxSlots)
)

// Point is one slot of a bucketed series. Sample is nil for a gap.
type Point struct {
	SlotTime time.Time
	Sample   *sample.Sample
}

// IsGap reports whether no sample fell within tolerance of the slot.
func (p Point) IsGap() bool {
	return p.Sample == nil
}

// MarshalJSON writes gaps as null so they are never confused with zero.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		SlotTime string         `json:"slotTime"`
		Sample   *sample.Sample `json:"sample"`
	}{
		SlotTime: p.SlotTime.UTC().Format(sample.TimestampLayout),
		Sample:   p.Sample,
	})
}

// Validate checks slot parameters.
func Validate(width, tolerance time.Duration) error {
	if width <= 0 {
		return ErrInvalidWidth
	}
	if tolerance < 0 {
		return ErrInvalidTolerance
	}
	if tolerance > width/2 {
		return ErrToleranceTooWide
	}
	return nil
}

// SlotCount returns the number of slots in start, start+width, ... <= end.
func SlotCount(start, end time.Time, width time.Duration) int {
	if width <= 0 || end.Before(start) {
		return 0
	}
	return int(end.Sub(start)/width) + 1
}

// Bucketize produces one point per slot. Each slot takes the nearest
// sample within tolerance (distance == tolerance matches); on equal distance
// the earlier sample wins. Slots are filled in ascending order and a sample
// claimed by one slot is never offered to a later one.
//
// The input need not be sorted or deduplicated. The output depends only on
// the arguments, so repeated passes give identical results.
func Bucketize(samples []sample.Sample, start, end time.Time, width, tolerance time.Duration) ([]Point, error) {
	if err := Validate(width, tolerance); err != nil {
		return nil, err
	}
	n := SlotCount(start, end, width)
	if n > MaxSlots {
		return nil, ErrTooManySlots
	}

	series := sample.Normalize(samples)
	points := make([]Point, 0, n)
	next := 0 // first sample index still unclaimed

	for i := 0; i < n; i++ {
		slot := start.Add(time.Duration(i) * width)
		p := Point{SlotTime: slot}

		if idx, ok := nearest(series, next, slot, tolerance); ok {
			s := series[idx]
			p.Sample = &s
			next = idx + 1
		}
		points = append(points, p)
	}
	return points, nil
}

// nearest finds the closest unclaimed sample to slot within tolerance
func nearest(series sample.Series, from int, slot time.Time, tolerance time.Duration) (int, bool) {
	if from >= len(series) {
		return 0, false
	}
	rest := series[from:]

	// j is the first sample at or after the slot; j-1 is the last one before it
	j := sort.Search(len(rest), func(k int) bool { return !rest[k].Timestamp.Before(slot) })

	best, bestDist := -1, time.Duration(0)
	if j > 0 {
		if d := slot.Sub(rest[j-1].Timestamp); d <= tolerance {
			best, bestDist = j-1, d
		}
	}
	if j < len(rest) {
		d := rest[j].Timestamp.Sub(slot)
		// Strictly closer; ties stay with the earlier sample
		if d <= tolerance && (best < 0 || d < bestDist) {
			best = j
		}
	}
	if best < 0 {
		return 0, false
	}
	return from + best, true
}

// AlignDown rounds t down to a multiple of width since the Unix epoch.
func AlignDown(t time.Time, width time.Duration) time.Time {
	if width <= 0 {
		return t
	}
	ns := t.UnixNano()
	rem := ns % int64(width)
	if rem < 0 {
		rem += int64(width)
	}
	return time.Unix(0, ns-rem).UTC()
}
