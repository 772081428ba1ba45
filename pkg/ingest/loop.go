package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nicktill/capdiff/pkg/config"
	"github.com/nicktill/capdiff/pkg/logging"
	"github.com/nicktill/capdiff/pkg/sample"
	"github.com/nicktill/capdiff/pkg/source"
	"github.com/nicktill/capdiff/pkg/storage"
)

// ErrAlreadyStarted is returned by Start on a running loop.
var ErrAlreadyStarted = errors.New("ingest loop already started")

// State is the phase of the current cycle.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateAppending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateAppending:
		return "appending"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Recorder is told the result of every append.
type Recorder interface {
	RecordAppend(s sample.Sample, err error)
}

// Observer receives each newly acquired sample.
type Observer func(s sample.Sample)

// Config holds loop configuration
type Config struct {
	Source source.Fetcher
	Log    storage.Log

	// Schedule is a cron spec; defaults to "@every 10s"
	Schedule string

	// AppendTimeout bounds the wait for a single append
	AppendTimeout time.Duration

	Recorder Recorder
	Logger   *zap.Logger
}

// Loop polls the source on a timer and appends each sample to the log.
// It is the only writer of the log.
type Loop struct {
	source        source.Fetcher
	log           storage.Log
	schedule      cron.Schedule
	appendTimeout time.Duration
	recorder      Recorder
	logger        *zap.Logger

	// cycleMu serializes cycles: timer ticks try-lock and drop, Trigger waits
	cycleMu sync.Mutex

	state  atomic.Int32
	latest atomic.Pointer[sample.Sample]

	cycles  atomic.Uint64
	dropped atomic.Uint64

	obsMu     sync.RWMutex
	observers []Observer

	runMu sync.Mutex
	cron  *cron.Cron
}

// New creates a loop. The schedule is validated here; nothing runs until Start.
func New(cfg Config) (*Loop, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("ingest: source is required")
	}
	if cfg.Log == nil {
		return nil, fmt.Errorf("ingest: log is required")
	}

	spec := cfg.Schedule
	if spec == "" {
		spec = config.DefaultIngestSchedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("ingest: invalid schedule %q: %w", spec, err)
	}

	appendTimeout := cfg.AppendTimeout
	if appendTimeout <= 0 {
		appendTimeout = config.IngestAppendTimeout
	}

	return &Loop{
		source:        cfg.Source,
		log:           cfg.Log,
		schedule:      schedule,
		appendTimeout: appendTimeout,
		recorder:      cfg.Recorder,
		logger:        logging.OrNop(cfg.Logger),
	}, nil
}

// OnSample registers an observer called after every cycle.
func (l *Loop) OnSample(obs Observer) {
	l.obsMu.Lock()
	defer l.obsMu.Unlock()
	l.observers = append(l.observers, obs)
}

// Start begins polling on the configured schedule.
func (l *Loop) Start() error {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	if l.cron != nil {
		return ErrAlreadyStarted
	}

	cl := cronLogger{l.logger.Named("cron").Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(l.schedule, cron.FuncJob(l.Tick))
	c.Start()
	l.cron = c

	l.logger.Info("ingest loop started")
	return nil
}

// Stop halts the timer at a tick boundary and waits for the in-flight
// cycle to finish, or for ctx to expire.
func (l *Loop) Stop(ctx context.Context) error {
	l.runMu.Lock()
	c := l.cron
	l.cron = nil
	l.runMu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return fmt.Errorf("ingest loop stop: %w", ctx.Err())
	}

	// A Trigger from an HTTP request may still hold the cycle lock
	done := make(chan struct{})
	go func() {
		l.cycleMu.Lock()
		l.cycleMu.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("ingest loop stop: %w", ctx.Err())
	}

	l.logger.Info("ingest loop stopped", zap.Uint64("cycles", l.cycles.Load()))
	return nil
}

// Tick runs one timer cycle. A tick that lands while a cycle is still
// running is dropped.
func (l *Loop) Tick() {
	if !l.cycleMu.TryLock() {
		l.dropped.Add(1)
		l.logger.Debug("dropping tick, cycle in progress")
		return
	}
	defer l.cycleMu.Unlock()

	// In-flight cycles run to completion; the source bounds its own I/O
	l.runCycle(context.Background())
}

// Trigger runs one cycle now, waiting for any running cycle first.
func (l *Loop) Trigger(ctx context.Context) (sample.Sample, error) {
	if err := ctx.Err(); err != nil {
		return sample.Sample{}, err
	}
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	return l.runCycle(ctx), nil
}

// runCycle must be called with cycleMu held
func (l *Loop) runCycle(ctx context.Context) sample.Sample {
	l.state.Store(int32(StateFetching))
	defer l.state.Store(int32(StateIdle))

	// Detached from the caller like the append; the source bounds each attempt
	s := l.source.FetchSample(context.WithoutCancel(ctx))

	// Latest is published before the append so readers see it either way
	l.latest.Store(&s)

	l.state.Store(int32(StateAppending))
	// Detached from the caller: an append that started is never cancelled by a disconnecting client
	appendCtx, cancel := context.WithTimeout(context.Background(), l.appendTimeout)
	err := l.log.Append(appendCtx, s)
	cancel()

	if err != nil {
		l.logger.Error("failed to append sample",
			zap.Error(err),
			zap.Time("timestamp", s.Timestamp))
	}
	if l.recorder != nil {
		l.recorder.RecordAppend(s, err)
	}
	l.cycles.Add(1)

	l.obsMu.RLock()
	observers := l.observers
	l.obsMu.RUnlock()
	for _, obs := range observers {
		obs(s)
	}
	return s
}

// Latest returns the most recently acquired sample.
func (l *Loop) Latest() (sample.Sample, bool) {
	s := l.latest.Load()
	if s == nil {
		return sample.Sample{}, false
	}
	return *s, true
}

// State returns the current cycle phase.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Stats is a snapshot of loop counters.
type Stats struct {
	State   string `json:"state"`
	Cycles  uint64 `json:"cycles"`
	Dropped uint64 `json:"dropped_ticks"`
	Running bool   `json:"running"`
}

// Stats returns loop counters.
func (l *Loop) Stats() Stats {
	l.runMu.Lock()
	running := l.cron != nil
	l.runMu.Unlock()

	return Stats{
		State:   l.State().String(),
		Cycles:  l.cycles.Load(),
		Dropped: l.dropped.Load(),
		Running: running,
	}
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	s *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.s.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
