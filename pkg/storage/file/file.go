package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/nicktill/capdiff/pkg/sample"
	"github.com/nicktill/capdiff/pkg/storage"
)

// Log implements storage.Log as a newline-delimited JSON file
type Log struct {
	path   string
	noSync bool
	logger *zap.Logger

	// mu is the single writer serialization point for Append, Reset and Close.
	mu     sync.Mutex
	f      *os.File
	closed bool
}

// Config holds file log configuration
type Config struct {
	// Path to the record file. Parent directories are created on Open.
	Path string

	// NoSync skips fsync after each append (tests only)
	NoSync bool

	Logger *zap.Logger
}

// Open prepares a file log. The record file itself is created on first append.
func Open(cfg Config) (*Log, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file log: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("file log: create directory: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{path: cfg.Path, noSync: cfg.NoSync, logger: logger}, nil
}

// Path returns the record file path
func (l *Log) Path() string {
	return l.path
}

// Append writes one record. Once the write has started it runs to
// completion; ctx is only checked before the write begins.
func (l *Log) Append(ctx context.Context, s sample.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode sample: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return storage.ErrClosed
	}
	if l.f == nil {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log: %w", err)
		}
		l.f = f
	}

	torn, err := hasTornTail(l.f)
	if err != nil {
		return fmt.Errorf("failed to inspect log tail: %w", err)
	}
	if torn {
		// Terminate the partial record so it stays a separate, skippable line
		l.logger.Warn("terminating torn trailing record", zap.String("path", l.path))
		line = append([]byte{'\n'}, line...)
	}

	// One write per record keeps the record boundary atomic under O_APPEND
	if _, err := l.f.Write(line); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	if !l.noSync {
		if err := l.f.Sync(); err != nil {
			return fmt.Errorf("failed to sync log: %w", err)
		}
	}
	return nil
}

// hasTornTail reports whether the file ends without a trailing newline
func hasTornTail(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}

// Scan reads the whole file and returns matching samples in write order.
// Lines that fail to parse are dropped.
func (l *Log) Scan(ctx context.Context, match storage.Predicate) ([]sample.Sample, error) {
	if match == nil {
		match = storage.All()
	}
	results, _, err := l.read(ctx, match)
	return results, err
}

// Stats returns log statistics
func (l *Log) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}
	results, skipped, err := l.read(ctx, storage.All())
	if err != nil {
		return nil, err
	}
	for _, s := range results {
		stats.Observe(s)
	}
	stats.SkippedRecords = skipped

	if info, err := os.Stat(l.path); err == nil {
		stats.SizeBytes = uint64(info.Size())
	}
	return stats, nil
}

// read runs the scan in a goroutine so a slow disk cannot outlive ctx
func (l *Log) read(ctx context.Context, match storage.Predicate) ([]sample.Sample, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, 0, storage.ErrClosed
	}

	type scanResult struct {
		results []sample.Sample
		skipped uint64
		err     error
	}
	done := make(chan scanResult, 1)

	go func() {
		var res scanResult
		res.results, res.skipped, res.err = l.scanFile(ctx, match)
		done <- res
	}()

	select {
	case res := <-done:
		if res.skipped > 0 {
			l.logger.Debug("skipped unreadable records",
				zap.String("path", l.path), zap.Uint64("skipped", res.skipped))
		}
		return res.results, res.skipped, res.err
	case <-ctx.Done():
		return nil, 0, fmt.Errorf("scan operation cancelled: %w", ctx.Err())
	}
}

func (l *Log) scanFile(ctx context.Context, match storage.Predicate) ([]sample.Sample, uint64, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return []sample.Sample{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	results := []sample.Sample{}
	var skipped uint64
	var lineCount int

	reader := bufio.NewReaderSize(f, 64*1024)
	for {
		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, 0, fmt.Errorf("failed to read log: %w", readErr)
		}

		lineCount++
		if lineCount%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}

		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			var s sample.Sample
			if err := json.Unmarshal(line, &s); err != nil {
				skipped++
			} else if match(s.Timestamp) {
				results = append(results, s)
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
	}
	return results, skipped, nil
}

// Reset removes the record file. It holds the writer lock, so it never
// interleaves with an append.
func (l *Log) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return storage.ErrClosed
	}
	if l.f != nil {
		if err := l.f.Close(); err != nil {
			l.logger.Warn("failed to close log before reset", zap.Error(err))
		}
		l.f = nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove log: %w", err)
	}
	return nil
}

// Close releases the append handle
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.f != nil {
		err := l.f.Close()
		l.f = nil
		return err
	}
	return nil
}
