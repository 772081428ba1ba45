package memory

import (
	"context"
	"testing"
	"time"

	"github.com/nicktill/capdiff/pkg/sample"
	"github.com/nicktill/capdiff/pkg/storage"
	"github.com/nicktill/capdiff/pkg/storage/logtest"
)

func TestMemoryStorage_Conformance(t *testing.T) {
	logtest.Run(t, func(t *testing.T) storage.Log { return New() })
}

func TestMemoryStorage_KeepsWriteOrder(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	// Out-of-order appends come back exactly as written
	for _, offset := range []time.Duration{2 * time.Second, 0, time.Second} {
		if err := store.Append(ctx, sample.New(now.Add(offset), 1, 0, sample.ProvenanceReal)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	results, err := store.Scan(ctx, storage.All())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(results))
	}
	if !results[0].Timestamp.After(results[1].Timestamp) {
		t.Errorf("Expected write order to be preserved")
	}
}

func TestMemoryStorage_NilPredicate(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()
	if err := store.Append(ctx, sample.New(time.Now(), 3, 1, sample.ProvenanceReal)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	results, err := store.Scan(ctx, nil)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("Expected 1 sample, got %d", len(results))
	}
}
