package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/capdiff/pkg/sample"
)

// ErrClosed is returned by operations on a log that has been closed.
var ErrClosed = errors.New("storage: log is closed")

// Log is the durable, append-only sample log.
// Implementations: file (production), badger (embedded KV), memory (testing)
type Log interface {
	// Append commits one sample. A crash may lose the record being written
	// but must never corrupt a previously committed one.
	Append(ctx context.Context, s sample.Sample) error

	// Scan returns every readable sample whose timestamp matches the predicate,
	// in the order the log holds them. Unreadable records are skipped.
	Scan(ctx context.Context, match Predicate) ([]sample.Sample, error)

	// Reset deletes all persisted samples. Resetting an empty log succeeds.
	Reset(ctx context.Context) error

	// Stats returns log statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the log
	Close() error
}

// Predicate selects samples by timestamp.
type Predicate func(ts time.Time) bool

// All matches every sample.
func All() Predicate {
	return func(time.Time) bool { return true }
}

// After matches samples strictly newer than cutoff.
func After(cutoff time.Time) Predicate {
	return func(ts time.Time) bool { return ts.After(cutoff) }
}

// Between matches samples with start <= ts < end.
func Between(start, end time.Time) Predicate {
	return func(ts time.Time) bool { return !ts.Before(start) && ts.Before(end) }
}

// Stats provides log health and usage info
type Stats struct {
	// Readable records
	TotalSamples uint64 `json:"total_samples"`

	// Records that failed to parse
	SkippedRecords uint64 `json:"skipped_records"`

	// Synthetic samples among TotalSamples
	SyntheticSamples uint64 `json:"synthetic_samples"`

	// Storage size in bytes
	SizeBytes uint64 `json:"size_bytes"`

	OldestSample time.Time `json:"oldest_sample,omitempty"`
	NewestSample time.Time `json:"newest_sample,omitempty"`
}

// Observe folds a sample into the stats.
func (st *Stats) Observe(s sample.Sample) {
	st.TotalSamples++
	if s.IsSynthetic() {
		st.SyntheticSamples++
	}
	if st.OldestSample.IsZero() || s.Timestamp.Before(st.OldestSample) {
		st.OldestSample = s.Timestamp
	}
	if st.NewestSample.IsZero() || s.Timestamp.After(st.NewestSample) {
		st.NewestSample = s.Timestamp
	}
}
