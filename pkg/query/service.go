package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/capdiff/pkg/bucket"
	"github.com/nicktill/capdiff/pkg/config"
	"github.com/nicktill/capdiff/pkg/logging"
	"github.com/nicktill/capdiff/pkg/rollup"
	"github.com/nicktill/capdiff/pkg/sample"
	"github.com/nicktill/capdiff/pkg/storage"
)

var (
	ErrInvalidHours = fmt.Errorf("hours must be a non-negative integer of at most %d", maxHours)
	ErrInvalidRange = errors.New("range end must be after start")
	ErrRangeTooWide = fmt.Errorf("range must not exceed %v", config.MaxQueryWindow)
)

// Config holds service configuration
type Config struct {
	Log storage.Log

	// Now defaults to time.Now
	Now func() time.Time

	// MaxWindow caps Range requests and hour windows; defaults to config.MaxQueryWindow
	MaxWindow time.Duration

	Logger *zap.Logger
}

// Service answers read queries against the log. Results are sorted
// ascending and deduplicated by timestamp.
type Service struct {
	log       storage.Log
	now       func() time.Time
	maxWindow time.Duration
	logger    *zap.Logger
}

// NewService creates a query service
func NewService(cfg Config) *Service {
	s := &Service{
		log:       cfg.Log,
		now:       cfg.Now,
		maxWindow: cfg.MaxWindow,
		logger:    logging.OrNop(cfg.Logger),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.maxWindow <= 0 {
		s.maxWindow = config.MaxQueryWindow
	}
	return s
}

// maxHours keeps hour windows inside the query window and far from
// time.Duration overflow.
const maxHours = int(config.MaxQueryWindow / time.Hour)

func (s *Service) checkHours(hours int) error {
	if hours < 0 || hours > maxHours || time.Duration(hours)*time.Hour > s.maxWindow {
		return ErrInvalidHours
	}
	return nil
}

// Recent returns samples with timestamp > now - hours.
func (s *Service) Recent(ctx context.Context, hours int) ([]sample.Sample, error) {
	if err := s.checkHours(hours); err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-time.Duration(hours) * time.Hour)

	results, err := s.log.Scan(ctx, storage.After(cutoff))
	if err != nil {
		return nil, fmt.Errorf("scan recent: %w", err)
	}
	return sample.Normalize(results), nil
}

// Range returns samples with start <= timestamp < end.
func (s *Service) Range(ctx context.Context, start, end time.Time) ([]sample.Sample, error) {
	if !end.After(start) {
		return nil, ErrInvalidRange
	}
	if end.Sub(start) > s.maxWindow {
		return nil, ErrRangeTooWide
	}

	results, err := s.log.Scan(ctx, storage.Between(start, end))
	if err != nil {
		return nil, fmt.Errorf("scan range: %w", err)
	}
	return sample.Normalize(results), nil
}

// BucketRequest describes a charting pass over the last Hours hours.
type BucketRequest struct {
	Hours     int
	Width     time.Duration
	Tolerance time.Duration
}

// BucketResult is a bucketed window
type BucketResult struct {
	Start  time.Time
	End    time.Time
	Points []bucket.Point
}

// Buckets reads the last Hours hours and spreads them over slots aligned to Width.
func (s *Service) Buckets(ctx context.Context, req BucketRequest) (*BucketResult, error) {
	if err := s.checkHours(req.Hours); err != nil {
		return nil, err
	}
	if err := bucket.Validate(req.Width, req.Tolerance); err != nil {
		return nil, err
	}

	now := s.now()
	start := bucket.AlignDown(now.Add(-time.Duration(req.Hours)*time.Hour), req.Width)
	end := bucket.AlignDown(now, req.Width)
	if bucket.SlotCount(start, end, req.Width) > bucket.MaxSlots {
		return nil, bucket.ErrTooManySlots
	}

	// Include samples just outside the first and last slot that could still match
	results, err := s.log.Scan(ctx, storage.Between(start.Add(-req.Tolerance), end.Add(req.Tolerance+time.Nanosecond)))
	if err != nil {
		return nil, fmt.Errorf("scan buckets: %w", err)
	}

	points, err := bucket.Bucketize(results, start, end, req.Width, req.Tolerance)
	if err != nil {
		return nil, err
	}
	return &BucketResult{Start: start, End: end, Points: points}, nil
}

// Rollup summarizes the last hours hours into windows of the given resolution.
func (s *Service) Rollup(ctx context.Context, hours int, resolution rollup.Resolution) ([]rollup.Aggregate, error) {
	samples, err := s.Recent(ctx, hours)
	if err != nil {
		return nil, err
	}
	return rollup.Build(samples, resolution), nil
}

// Reset deletes every persisted sample.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.log.Reset(ctx); err != nil {
		return fmt.Errorf("reset log: %w", err)
	}
	s.logger.Info("log reset")
	return nil
}

// Stats returns log statistics.
func (s *Service) Stats(ctx context.Context) (*storage.Stats, error) {
	return s.log.Stats(ctx)
}

// IsValidation reports whether err was caused by bad request parameters.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidHours) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrRangeTooWide) ||
		errors.Is(err, bucket.ErrInvalidWidth) ||
		errors.Is(err, bucket.ErrInvalidTolerance) ||
		errors.Is(err, bucket.ErrToleranceTooWide) ||
		errors.Is(err, bucket.ErrTooManySlots) ||
		errors.Is(err, rollup.ErrInvalidResolution)
}
