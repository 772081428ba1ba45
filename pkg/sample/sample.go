package sample

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Provenance records where a sample came from.
type Provenance string

const (
	ProvenanceReal      Provenance = "real"      // Parsed from an upstream response
	ProvenanceSynthetic Provenance = "synthetic" // Produced by the fallback generator
)

// TimestampLayout is the wire format for sample timestamps (ISO-8601, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Sample is one timestamped observation of advancing and declining capitalization.
// Values are in billions. Difference is always derived from Up and Down.
type Sample struct {
	Timestamp time.Time
	Up        float64
	Down      float64
	Source    Provenance
}

// New creates a sample. Negative magnitudes are clamped to zero and the
// timestamp is truncated to millisecond precision in UTC.
func New(ts time.Time, up, down float64, source Provenance) Sample {
	return Sample{
		Timestamp: ts.UTC().Truncate(time.Millisecond),
		Up:        clamp(up),
		Down:      clamp(down),
		Source:    source,
	}
}

// Difference returns Up - Down.
func (s Sample) Difference() float64 {
	return s.Up - s.Down
}

// IsSynthetic reports whether the sample came from the fallback generator.
func (s Sample) IsSynthetic() bool {
	return s.Source == ProvenanceSynthetic
}

// wireSample is the JSON shape written to the log and served over HTTP.
type wireSample struct {
	Timestamp string     `json:"timestamp"`
	Up        float64    `json:"upCapitalization"`
	Down      float64    `json:"downCapitalization"`
	Diff      float64    `json:"difference"`
	Source    Provenance `json:"source,omitempty"`
}

// MarshalJSON emits the derived difference alongside its inputs.
func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireSample{
		Timestamp: s.Timestamp.UTC().Format(TimestampLayout),
		Up:        s.Up,
		Down:      s.Down,
		Diff:      s.Difference(),
		Source:    s.Source,
	})
}

// UnmarshalJSON decodes a sample. A stored difference is ignored and
// recomputed from the magnitudes so the two can never diverge.
func (s *Sample) UnmarshalJSON(data []byte) error {
	var w wireSample
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Timestamp == "" {
		return fmt.Errorf("sample: missing timestamp")
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return fmt.Errorf("sample: invalid timestamp %q: %w", w.Timestamp, err)
	}
	if math.IsNaN(w.Up) || math.IsNaN(w.Down) || w.Up < 0 || w.Down < 0 {
		return fmt.Errorf("sample: invalid magnitudes up=%v down=%v", w.Up, w.Down)
	}
	source := w.Source
	if source == "" {
		// Records written before provenance existed carry no flag.
		source = ProvenanceReal
	}
	*s = New(ts, w.Up, w.Down, source)
	return nil
}

func clamp(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}
