package memory

import (
	"context"
	"sync"

	"github.com/nicktill/capdiff/pkg/sample"
	"github.com/nicktill/capdiff/pkg/storage"
)

// Storage keeps samples in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	samples []sample.Sample
	closed  bool
	mu      sync.RWMutex
}

// New creates an in-memory log
func New() *Storage {
	return &Storage{
		samples: make([]sample.Sample, 0, 1024),
	}
}

// Append stores a sample in memory
func (s *Storage) Append(ctx context.Context, smp sample.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	s.samples = append(s.samples, smp)
	return nil
}

// Scan returns matching samples in write order
func (s *Storage) Scan(ctx context.Context, match storage.Predicate) ([]sample.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if match == nil {
		match = storage.All()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}
	results := []sample.Sample{}
	for _, smp := range s.samples {
		if match(smp.Timestamp) {
			results = append(results, smp)
		}
	}
	return results, nil
}

// Reset drops every sample
func (s *Storage) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	s.samples = make([]sample.Sample, 0, 1024)
	return nil
}

// Close marks the log closed
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	stats := &storage.Stats{}
	for _, smp := range s.samples {
		stats.Observe(smp)
	}

	// Rough size estimate (each record ~120 bytes serialized)
	stats.SizeBytes = uint64(len(s.samples)) * 120

	return stats, nil
}
