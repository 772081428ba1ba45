package rollup

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/nicktill/capdiff/pkg/bucket"
	"github.com/nicktill/capdiff/pkg/sample"
)

// Resolution names a rollup window
type Resolution string

const (
	Resolution5m Resolution = "5m"
	Resolution1h Resolution = "1h"
	Resolution1d Resolution = "1d"
)

// ErrInvalidResolution is returned for unknown resolution names
var ErrInvalidResolution = errors.New("resolution must be 5m, 1h or 1d")

// ParseResolution validates a resolution name; empty means 1h
func ParseResolution(v string) (Resolution, error) {
	switch r := Resolution(v); r {
	case "":
		return Resolution1h, nil
	case Resolution5m, Resolution1h, Resolution1d:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidResolution, v)
	}
}

// Duration returns the window width
func (r Resolution) Duration() time.Duration {
	switch r {
	case Resolution5m:
		return 5 * time.Minute
	case Resolution1d:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// Aggregate summarizes the differences of one window
type Aggregate struct {
	Timestamp  time.Time
	Resolution Resolution

	Count     uint64
	Sum       float64
	Min       float64
	Max       float64
	First     float64
	Last      float64
	Synthetic uint64

	values []float64
}

// Average calculates the mean difference
func (a *Aggregate) Average() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.Sum / float64(a.Count)
}

// Median returns the 50th percentile of the window's differences
func (a *Aggregate) Median() float64 {
	return CalculatePercentile(a.values, 0.5)
}

type wireAggregate struct {
	Timestamp  string     `json:"timestamp"`
	Resolution Resolution `json:"resolution"`
	Count      uint64     `json:"count"`
	Avg        float64    `json:"avg"`
	Median     float64    `json:"median"`
	Min        float64    `json:"min"`
	Max        float64    `json:"max"`
	First      float64    `json:"first"`
	Last       float64    `json:"last"`
	Synthetic  uint64     `json:"synthetic"`
}

// MarshalJSON includes the derived average and median
func (a Aggregate) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireAggregate{
		Timestamp:  a.Timestamp.UTC().Format(sample.TimestampLayout),
		Resolution: a.Resolution,
		Count:      a.Count,
		Avg:        round(a.Average()),
		Median:     round(a.Median()),
		Min:        a.Min,
		Max:        a.Max,
		First:      a.First,
		Last:       a.Last,
		Synthetic:  a.Synthetic,
	})
}

// Build folds samples into epoch-aligned windows of the given resolution.
// Input order does not matter; duplicates by timestamp count once. Output
// is ascending and contains only non-empty windows.
func Build(samples []sample.Sample, resolution Resolution) []Aggregate {
	series := sample.Normalize(samples)
	width := resolution.Duration()

	var out []Aggregate
	for _, s := range series {
		windowStart := bucket.AlignDown(s.Timestamp, width)
		d := s.Difference()

		if n := len(out); n == 0 || !out[n-1].Timestamp.Equal(windowStart) {
			out = append(out, Aggregate{
				Timestamp:  windowStart,
				Resolution: resolution,
				Min:        d,
				Max:        d,
				First:      d,
			})
		}

		agg := &out[len(out)-1]
		agg.Count++
		agg.Sum += d
		agg.Last = d
		agg.values = append(agg.values, d)
		if d < agg.Min {
			agg.Min = d
		}
		if d > agg.Max {
			agg.Max = d
		}
		if s.IsSynthetic() {
			agg.Synthetic++
		}
	}
	return out
}

// CalculatePercentile computes a percentile from raw values with linear
// interpolation
func CalculatePercentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	index := p * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))

	if lower == upper {
		return sorted[lower]
	}

	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// round keeps derived values at the precision of the inputs' noise floor
func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
