package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/capdiff/pkg/config"
	"github.com/nicktill/capdiff/pkg/logging"
	"github.com/nicktill/capdiff/pkg/sample"
)

// ErrNoHistory is returned when an older window is requested before
// anything is held.
var ErrNoHistory = errors.New("backfill: no samples held")

// Querier is the read side the coordinator needs. Both the local query
// service and the HTTP client satisfy it.
type Querier interface {
	Recent(ctx context.Context, hours int) ([]sample.Sample, error)
	Range(ctx context.Context, start, end time.Time) ([]sample.Sample, error)
}

// Window returns the half-open range [before-size, before-epsilon).
func Window(before time.Time, size, epsilon time.Duration) (start, end time.Time) {
	return before.Add(-size), before.Add(-epsilon)
}

// Config holds coordinator configuration
type Config struct {
	Querier Querier

	// Capacity bounds the held series; defaults to 1000
	Capacity int

	// Size of each older window; defaults to 24h
	Window time.Duration

	// Epsilon keeps the window strictly before the held start; defaults to 1s
	Epsilon time.Duration

	Logger *zap.Logger
}

// Coordinator keeps a bounded projection of the series and extends it
// backwards one disjoint window at a time.
type Coordinator struct {
	querier Querier
	history *History
	window  time.Duration
	epsilon time.Duration
	logger  *zap.Logger

	// reqMu serializes window requests
	reqMu sync.Mutex

	// cursor is where the next window ends when the held start has not moved
	cursor time.Time
}

// New creates a coordinator
func New(cfg Config) (*Coordinator, error) {
	if cfg.Querier == nil {
		return nil, fmt.Errorf("backfill: querier is required")
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = config.DefaultHistoryCapacity
	}
	window := cfg.Window
	if window <= 0 {
		window = config.DefaultBackfillWindow
	}
	epsilon := cfg.Epsilon
	if epsilon <= 0 {
		epsilon = config.DefaultBackfillEpsilon
	}
	if epsilon >= window {
		return nil, fmt.Errorf("backfill: epsilon %v must be shorter than window %v", epsilon, window)
	}

	return &Coordinator{
		querier: cfg.Querier,
		history: NewHistory(capacity),
		window:  window,
		epsilon: epsilon,
		logger:  logging.OrNop(cfg.Logger),
	}, nil
}

// Rehydrate rebuilds the held series from the last hours of the log.
func (c *Coordinator) Rehydrate(ctx context.Context, hours int) error {
	samples, err := c.querier.Recent(ctx, hours)
	if err != nil {
		return fmt.Errorf("rehydrate: %w", err)
	}

	c.reqMu.Lock()
	c.history.Replace(samples)
	c.cursor = time.Time{}
	c.reqMu.Unlock()

	c.logger.Debug("history rehydrated", zap.Int("count", c.history.Len()))
	return nil
}

// Observe appends a live sample if its timestamp is new.
func (c *Coordinator) Observe(s sample.Sample) bool {
	return c.history.Observe(s)
}

// Result describes one completed backfill request.
type Result struct {
	Start    time.Time `json:"window_start"`
	End      time.Time `json:"window_end"`
	Fetched  int       `json:"fetched"`
	Added    int       `json:"added"`
	Earliest time.Time `json:"earliest"`
}

// FetchOlder returns the samples of the window ending just before before.
// Only timestamps strictly earlier than before are returned.
func (c *Coordinator) FetchOlder(ctx context.Context, before time.Time) ([]sample.Sample, time.Time, time.Time, error) {
	start, end := Window(before, c.window, c.epsilon)
	samples, err := c.querier.Range(ctx, start, end)
	if err != nil {
		return nil, start, end, fmt.Errorf("fetch older window: %w", err)
	}

	out := make([]sample.Sample, 0, len(samples))
	for _, s := range samples {
		if s.Timestamp.Before(before) {
			out = append(out, s)
		}
	}
	return out, start, end, nil
}

// RequestOlderWindow fetches the window before the held start and merges it.
// An empty window moves the cursor back so the next request does not
// repeat it.
func (c *Coordinator) RequestOlderWindow(ctx context.Context) (Result, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	earliest, ok := c.history.Earliest()
	if !ok {
		return Result{}, ErrNoHistory
	}
	before := earliest
	if !c.cursor.IsZero() && c.cursor.Before(before) {
		before = c.cursor
	}

	samples, start, end, err := c.FetchOlder(ctx, before)
	if err != nil {
		return Result{}, err
	}

	added := c.history.MergeOlder(samples)
	newEarliest, _ := c.history.Earliest()

	// Earliest is recomputed over the merged set; only step the cursor
	// when nothing older arrived
	if newEarliest.Before(earliest) {
		c.cursor = time.Time{}
	} else {
		c.cursor = start
	}

	c.logger.Debug("backfilled window",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("fetched", len(samples)),
		zap.Int("added", added))

	return Result{
		Start:    start,
		End:      end,
		Fetched:  len(samples),
		Added:    added,
		Earliest: newEarliest,
	}, nil
}

// ShouldBackfill reports whether the visible left edge is within margin of
// the held start.
func (c *Coordinator) ShouldBackfill(visibleStart time.Time, margin time.Duration) bool {
	earliest, ok := c.history.Earliest()
	if !ok {
		return false
	}
	return !visibleStart.After(earliest.Add(margin))
}

// Series returns a copy of the held series.
func (c *Coordinator) Series() sample.Series {
	return c.history.Snapshot()
}

// History exposes the held projection.
func (c *Coordinator) History() *History {
	return c.history
}
