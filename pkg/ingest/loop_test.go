package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nicktill/capdiff/pkg/sample"
	"github.com/nicktill/capdiff/pkg/storage"
	"github.com/nicktill/capdiff/pkg/storage/memory"
)

// stubSource returns samples one second apart
type stubSource struct {
	calls atomic.Int64
	gate  chan struct{} // when set, each fetch waits for a value
}

func (s *stubSource) FetchSample(ctx context.Context) sample.Sample {
	n := s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	ts := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Second)
	return sample.New(ts, float64(n), 1, sample.ProvenanceReal)
}

// slowSource answers after delay, falling back to synthetic when its
// context ends first
type slowSource struct {
	delay time.Duration
}

func (s slowSource) FetchSample(ctx context.Context) sample.Sample {
	ts := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)
	select {
	case <-time.After(s.delay):
		return sample.New(ts, 7000, 3000, sample.ProvenanceReal)
	case <-ctx.Done():
		return sample.New(ts, 5512.1, 15654.3, sample.ProvenanceSynthetic)
	}
}

// failingLog rejects every append
type failingLog struct {
	storage.Log
}

func (failingLog) Append(context.Context, sample.Sample) error {
	return errors.New("disk full")
}

type recordingRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingRecorder) RecordAppend(_ sample.Sample, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func newTestLoop(t *testing.T, src *stubSource, log storage.Log, rec Recorder) *Loop {
	t.Helper()
	loop, err := New(Config{Source: src, Log: log, Recorder: rec, Logger: zap.NewNop()})
	require.NoError(t, err)
	return loop
}

func TestLoop_TriggerAppends(t *testing.T) {
	store := memory.New()
	loop := newTestLoop(t, &stubSource{}, store, nil)

	_, ok := loop.Latest()
	require.False(t, ok)

	s, err := loop.Trigger(context.Background())
	require.NoError(t, err)

	latest, ok := loop.Latest()
	require.True(t, ok)
	require.Equal(t, s, latest)
	require.Equal(t, StateIdle, loop.State())

	stored, err := store.Scan(context.Background(), storage.All())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.True(t, stored[0].Timestamp.Equal(s.Timestamp))
}

func TestLoop_AppendFailureIsSwallowed(t *testing.T) {
	rec := &recordingRecorder{}
	loop := newTestLoop(t, &stubSource{}, failingLog{memory.New()}, rec)

	var observed int
	loop.OnSample(func(sample.Sample) { observed++ })

	s, err := loop.Trigger(context.Background())
	require.NoError(t, err)

	// Latest is exposed even though the append failed
	latest, ok := loop.Latest()
	require.True(t, ok)
	require.Equal(t, s, latest)
	require.Equal(t, 1, observed)

	require.Len(t, rec.errs, 1)
	require.EqualError(t, rec.errs[0], "disk full")
}

func TestLoop_TickDroppedWhileCycleRuns(t *testing.T) {
	src := &stubSource{gate: make(chan struct{})}
	loop := newTestLoop(t, src, memory.New(), nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Trigger(context.Background())
	}()

	require.Eventually(t, func() bool { return loop.State() == StateFetching }, time.Second, time.Millisecond)

	// Re-entrant tick returns immediately without fetching
	loop.Tick()
	require.Equal(t, uint64(1), loop.Stats().Dropped)
	require.Equal(t, int64(1), src.calls.Load())

	src.gate <- struct{}{}
	<-done
	require.Equal(t, uint64(1), loop.Stats().Cycles)
	require.Equal(t, StateIdle, loop.State())
}

func TestLoop_TriggerWaitsForRunningCycle(t *testing.T) {
	src := &stubSource{gate: make(chan struct{}, 2)}
	store := memory.New()
	loop := newTestLoop(t, src, store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop.Trigger(context.Background())
		}()
	}
	src.gate <- struct{}{}
	src.gate <- struct{}{}
	wg.Wait()

	stored, err := store.Scan(context.Background(), storage.All())
	require.NoError(t, err)
	require.Len(t, stored, 2)
}

func TestLoop_StartStop(t *testing.T) {
	store := memory.New()
	loop, err := New(Config{Source: &stubSource{}, Log: store, Schedule: "@every 1s"})
	require.NoError(t, err)

	require.NoError(t, loop.Start())
	require.ErrorIs(t, loop.Start(), ErrAlreadyStarted)
	require.True(t, loop.Stats().Running)

	require.Eventually(t, func() bool { return loop.Stats().Cycles >= 1 }, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Stop(ctx))
	require.False(t, loop.Stats().Running)

	// Stopping twice is harmless
	require.NoError(t, loop.Stop(ctx))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Log: memory.New()})
	require.Error(t, err)

	_, err = New(Config{Source: &stubSource{}})
	require.Error(t, err)

	_, err = New(Config{Source: &stubSource{}, Log: memory.New(), Schedule: "every tuesday"})
	require.Error(t, err)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "fetching", StateFetching.String())
	require.Equal(t, "appending", StateAppending.String())
}

func TestLoop_TriggerOutlivesCallerContext(t *testing.T) {
	log := memory.New()
	loop, err := New(Config{Source: slowSource{delay: 200 * time.Millisecond}, Log: log, Logger: zap.NewNop()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	s, err := loop.Trigger(ctx)
	require.NoError(t, err)
	require.False(t, s.IsSynthetic())

	persisted, err := log.Scan(context.Background(), storage.All())
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	require.Equal(t, sample.ProvenanceReal, persisted[0].Source)
}
