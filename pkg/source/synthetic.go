package source

import (
	"math"
	"math/rand"
	"time"

	"github.com/nicktill/capdiff/pkg/sample"
)

// Synthetic baselines in billions, taken from a representative trading session
const (
	BaselineUp   = 5512.1
	BaselineDown = 15654.3
)

// Generator produces plausible samples when no candidate answers.
// The oscillation is a pure function of the timestamp; only the jitter is random.
type Generator struct {
	// Jitter returns a value in [0, 1). Defaults to math/rand.
	Jitter func() float64
}

// Generate synthesizes a sample for ts.
func (g Generator) Generate(ts time.Time) sample.Sample {
	jitter := g.Jitter
	if jitter == nil {
		jitter = rand.Float64
	}

	ms := float64(ts.UnixMilli())
	up := BaselineUp + math.Sin(ms/120000)*200 + jitter()*100 - 50
	down := BaselineDown + math.Cos(ms/100000)*300 + jitter()*150 - 75

	return sample.New(ts, round1(math.Max(0, up)), round1(math.Max(0, down)), sample.ProvenanceSynthetic)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
