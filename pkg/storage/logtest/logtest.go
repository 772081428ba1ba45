// Package logtest holds behaviour checks shared by every storage.Log backend.
package logtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nicktill/capdiff/pkg/sample"
	"github.com/nicktill/capdiff/pkg/storage"
)

// Factory returns a fresh, empty log. The suite closes it.
type Factory func(t *testing.T) storage.Log

// Run exercises the storage.Log contract against a backend.
func Run(t *testing.T, newLog Factory) {
	t.Run("AppendThenScan", func(t *testing.T) { testAppendThenScan(t, newLog(t)) })
	t.Run("ScanAfter", func(t *testing.T) { testScanAfter(t, newLog(t)) })
	t.Run("ScanBetween", func(t *testing.T) { testScanBetween(t, newLog(t)) })
	t.Run("ResetEmpties", func(t *testing.T) { testResetEmpties(t, newLog(t)) })
	t.Run("ResetIdempotent", func(t *testing.T) { testResetIdempotent(t, newLog(t)) })
	t.Run("ConcurrentAppends", func(t *testing.T) { testConcurrentAppends(t, newLog(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newLog(t)) })
	t.Run("ClosedLog", func(t *testing.T) { testClosedLog(t, newLog(t)) })
	t.Run("CancelledContext", func(t *testing.T) { testCancelledContext(t, newLog(t)) })
}

var base = time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)

func at(offset time.Duration, up, down float64) sample.Sample {
	return sample.New(base.Add(offset), up, down, sample.ProvenanceReal)
}

func mustAppend(t *testing.T, log storage.Log, samples ...sample.Sample) {
	t.Helper()
	for _, s := range samples {
		if err := log.Append(context.Background(), s); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
}

func mustScan(t *testing.T, log storage.Log, match storage.Predicate) []sample.Sample {
	t.Helper()
	results, err := log.Scan(context.Background(), match)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	return results
}

func testAppendThenScan(t *testing.T, log storage.Log) {
	defer log.Close()

	want := []sample.Sample{at(0, 10, 4), at(time.Second, 11, 5), at(2*time.Second, 12, 6)}
	mustAppend(t, log, want...)

	got := mustScan(t, log, storage.All())
	if len(got) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if !got[i].Timestamp.Equal(want[i].Timestamp) {
			t.Errorf("sample %d: expected timestamp %v, got %v", i, want[i].Timestamp, got[i].Timestamp)
		}
		if got[i].Up != want[i].Up || got[i].Down != want[i].Down {
			t.Errorf("sample %d: expected %v/%v, got %v/%v", i, want[i].Up, want[i].Down, got[i].Up, got[i].Down)
		}
		if got[i].Difference() != want[i].Difference() {
			t.Errorf("sample %d: difference mismatch", i)
		}
	}
}

func testScanAfter(t *testing.T, log storage.Log) {
	defer log.Close()

	mustAppend(t, log, at(0, 1, 0), at(time.Minute, 2, 0), at(2*time.Minute, 3, 0))

	// Strictly after: the sample at the cutoff is excluded
	got := mustScan(t, log, storage.After(base.Add(time.Minute)))
	if len(got) != 1 {
		t.Fatalf("Expected 1 sample, got %d", len(got))
	}
	if got[0].Up != 3 {
		t.Errorf("Expected newest sample, got up=%v", got[0].Up)
	}
}

func testScanBetween(t *testing.T, log storage.Log) {
	defer log.Close()

	mustAppend(t, log, at(0, 1, 0), at(time.Minute, 2, 0), at(2*time.Minute, 3, 0))

	got := mustScan(t, log, storage.Between(base, base.Add(2*time.Minute)))
	if len(got) != 2 {
		t.Fatalf("Expected 2 samples in [start,end), got %d", len(got))
	}
}

func testResetEmpties(t *testing.T, log storage.Log) {
	defer log.Close()

	mustAppend(t, log, at(0, 1, 0), at(time.Second, 2, 0))
	if err := log.Reset(context.Background()); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if got := mustScan(t, log, storage.All()); len(got) != 0 {
		t.Fatalf("Expected empty log after reset, got %d samples", len(got))
	}

	// The log keeps accepting appends after a reset
	mustAppend(t, log, at(time.Hour, 5, 1))
	if got := mustScan(t, log, storage.All()); len(got) != 1 {
		t.Fatalf("Expected 1 sample after reset and append, got %d", len(got))
	}
}

func testResetIdempotent(t *testing.T, log storage.Log) {
	defer log.Close()

	for i := 0; i < 2; i++ {
		if err := log.Reset(context.Background()); err != nil {
			t.Fatalf("Reset %d failed: %v", i, err)
		}
	}
	if got := mustScan(t, log, storage.All()); len(got) != 0 {
		t.Fatalf("Expected empty log, got %d samples", len(got))
	}
}

func testConcurrentAppends(t *testing.T, log storage.Log) {
	defer log.Close()

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				offset := time.Duration(w*perWorker+i) * time.Second
				if err := log.Append(context.Background(), at(offset, float64(i), 1)); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent Append failed: %v", err)
	}
	if got := mustScan(t, log, storage.All()); len(got) != workers*perWorker {
		t.Fatalf("Expected %d samples, got %d", workers*perWorker, len(got))
	}
}

func testStats(t *testing.T, log storage.Log) {
	defer log.Close()

	mustAppend(t, log,
		at(0, 1, 0),
		sample.New(base.Add(time.Minute), 2, 0, sample.ProvenanceSynthetic),
		at(2*time.Minute, 3, 0),
	)

	stats, err := log.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalSamples != 3 {
		t.Errorf("Expected 3 samples, got %d", stats.TotalSamples)
	}
	if stats.SyntheticSamples != 1 {
		t.Errorf("Expected 1 synthetic sample, got %d", stats.SyntheticSamples)
	}
	if !stats.OldestSample.Equal(base) {
		t.Errorf("Expected oldest %v, got %v", base, stats.OldestSample)
	}
	if !stats.NewestSample.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("Expected newest %v, got %v", base.Add(2*time.Minute), stats.NewestSample)
	}
}

func testClosedLog(t *testing.T, log storage.Log) {
	if err := log.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := log.Append(context.Background(), at(0, 1, 0)); err == nil {
		t.Fatal("Expected error appending to closed log")
	}
	if _, err := log.Scan(context.Background(), storage.All()); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("Expected ErrClosed from Scan, got %v", err)
	}
	if _, err := log.Stats(context.Background()); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("Expected ErrClosed from Stats, got %v", err)
	}
}

func testCancelledContext(t *testing.T, log storage.Log) {
	defer log.Close()

	mustAppend(t, log, at(0, 1, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := log.Scan(ctx, storage.All()); err == nil {
		t.Fatal("Expected error scanning with a cancelled context")
	}
	if _, err := log.Stats(ctx); err == nil {
		t.Fatal("Expected error reading stats with a cancelled context")
	}
}
