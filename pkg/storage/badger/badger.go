package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/nicktill/capdiff/pkg/sample"
	"github.com/nicktill/capdiff/pkg/storage"
)

// Storage implements storage.Log using BadgerDB (LSM tree).
// Scans return samples in timestamp order, which matches write order for a
// single forward-moving writer.
type Storage struct {
	db     *badger.DB
	closed atomic.Bool
	logger *zap.Logger
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop-friendly defaults)
	MaxMemoryMB int64

	Logger *zap.Logger
}

// New creates a BadgerDB log
func New(cfg Config) (*Storage, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithLogger(badgerLogger{logger.Named("badger").Sugar()})

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// One sample every ten seconds is a tiny workload; keep the memory
	// footprint small. 16 MB memtable is the floor before flushes get noisy.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(1).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20) // 64 MB value log files instead of the 2 GB default

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db, logger: logger}, nil
}

// Append stores one sample. Writes are not cancelled once the transaction starts.
func (s *Storage) Append(ctx context.Context, smp sample.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return storage.ErrClosed
	}

	value, err := json.Marshal(smp)
	if err != nil {
		return fmt.Errorf("failed to encode sample: %w", err)
	}
	key := makeKey(smp.Timestamp, value)

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, value); err != nil {
			return fmt.Errorf("failed to write sample: %w", err)
		}
		return nil
	})
}

// Scan returns matching samples in key (timestamp) order
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) Scan(ctx context.Context, match storage.Predicate) ([]sample.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	if match == nil {
		match = storage.All()
	}

	type scanResult struct {
		results []sample.Sample
		err     error
	}
	done := make(chan scanResult, 1)

	go func() {
		res := scanResult{results: []sample.Sample{}}
		res.err = s.iterate(ctx, true, func(ts time.Time, val []byte) {
			if !match(ts) {
				return
			}
			var smp sample.Sample
			if err := json.Unmarshal(val, &smp); err != nil {
				s.logger.Debug("skipping unreadable record", zap.Error(err))
				return
			}
			res.results = append(res.results, smp)
		})
		done <- res
	}()

	select {
	case res := <-done:
		return res.results, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("scan operation cancelled: %w", ctx.Err())
	}
}

// iterate walks every key, checking ctx every 1000 items
func (s *Storage) iterate(ctx context.Context, values bool, fn func(ts time.Time, val []byte)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = values
		opts.PrefetchSize = 100

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Rewind(); it.Valid(); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}

			item := it.Item()
			ts, ok := parseKey(item.Key())
			if !ok {
				continue
			}
			if !values {
				fn(ts, nil)
				continue
			}
			if err := item.Value(func(val []byte) error {
				fn(ts, val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Reset drops every key
func (s *Storage) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return storage.ErrClosed
	}
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("failed to drop samples: %w", err)
	}
	return nil
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection.
// Returns nil when there was nothing to rewrite.
func (s *Storage) RunGC(discardRatio float64) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Stats returns log statistics
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}

	type statsResult struct {
		stats *storage.Stats
		err   error
	}
	done := make(chan statsResult, 1)

	go func() {
		stats := &storage.Stats{}
		err := s.iterate(ctx, true, func(_ time.Time, val []byte) {
			var smp sample.Sample
			if err := json.Unmarshal(val, &smp); err != nil {
				stats.SkippedRecords++
				return
			}
			stats.Observe(smp)
		})
		if err == nil {
			lsmSize, vlogSize := s.db.Size()
			stats.SizeBytes = uint64(lsmSize + vlogSize)
		}
		done <- statsResult{stats: stats, err: err}
	}()

	select {
	case res := <-done:
		return res.stats, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("stats operation cancelled: %w", ctx.Err())
	}
}

// makeKey creates a sortable key: timestamp + value hash
// Format: [unix nanos (8 bytes)][xxhash of record (8 bytes)]
func makeKey(ts time.Time, value []byte) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[0:8], uint64(ts.UnixNano()))
	binary.BigEndian.PutUint64(key[8:16], xxhash.Sum64(value))
	return key
}

// parseKey extracts the timestamp from a storage key
func parseKey(key []byte) (time.Time, bool) {
	if len(key) != 16 {
		return time.Time{}, false
	}
	tsNano := binary.BigEndian.Uint64(key[0:8])
	return time.Unix(0, int64(tsNano)).UTC(), true
}

// badgerLogger routes badger's internal logging through zap
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.s.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }
