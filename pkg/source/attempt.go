package source

import (
	"time"

	"github.com/nicktill/capdiff/pkg/sample"
)

// Outcome classifies one candidate attempt.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeTransport     Outcome = "transport"
	OutcomeStatus        Outcome = "status"
	OutcomeDecode        Outcome = "decode"
	OutcomeShapeMismatch Outcome = "shape_mismatch"
	OutcomeSkipped       Outcome = "skipped" // caller context ended before the attempt
)

// Attempt is the structured result of calling one candidate endpoint.
type Attempt struct {
	Endpoint   string        `json:"endpoint"`
	Outcome    Outcome       `json:"outcome"`
	StatusCode int           `json:"status_code,omitempty"`
	Extractor  string        `json:"extractor,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Report is what a fetch produced plus how it got there.
type Report struct {
	Sample   sample.Sample `json:"sample"`
	Attempts []Attempt     `json:"attempts"`
}

// Synthetic reports whether every candidate failed.
func (r Report) Synthetic() bool {
	return r.Sample.IsSynthetic()
}
