package backfill

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/capdiff/pkg/sample"
)

var now = time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)

// sliceQuerier serves a fixed set of samples
type sliceQuerier struct {
	samples []sample.Sample
	ranges  [][2]time.Time
	err     error
}

func (q *sliceQuerier) Recent(_ context.Context, hours int) ([]sample.Sample, error) {
	if q.err != nil {
		return nil, q.err
	}
	cutoff := now.Add(-time.Duration(hours) * time.Hour)
	var out []sample.Sample
	for _, s := range q.samples {
		if s.Timestamp.After(cutoff) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (q *sliceQuerier) Range(_ context.Context, start, end time.Time) ([]sample.Sample, error) {
	q.ranges = append(q.ranges, [2]time.Time{start, end})
	if q.err != nil {
		return nil, q.err
	}
	var out []sample.Sample
	for _, s := range q.samples {
		if !s.Timestamp.Before(start) && s.Timestamp.Before(end) {
			out = append(out, s)
		}
	}
	return out, nil
}

func hourly(from time.Time, n int) []sample.Sample {
	out := make([]sample.Sample, n)
	for i := range out {
		out[i] = sample.New(from.Add(time.Duration(i)*time.Hour), float64(i), 0, sample.ProvenanceReal)
	}
	return out
}

func newCoordinator(t *testing.T, q Querier, capacity int) *Coordinator {
	t.Helper()
	c, err := New(Config{Querier: q, Capacity: capacity})
	require.NoError(t, err)
	return c
}

func TestWindow(t *testing.T) {
	start, end := Window(now, 24*time.Hour, time.Second)
	assert.Equal(t, now.Add(-24*time.Hour), start)
	assert.Equal(t, now.Add(-time.Second), end)
}

func TestRequestOlderWindow_OnlyOlderSamples(t *testing.T) {
	// Four days of hourly samples
	q := &sliceQuerier{samples: hourly(now.Add(-96*time.Hour), 96)}
	c := newCoordinator(t, q, 1000)

	require.NoError(t, c.Rehydrate(context.Background(), 24))
	held, ok := c.History().Earliest()
	require.True(t, ok)

	res, err := c.RequestOlderWindow(context.Background())
	require.NoError(t, err)

	require.Len(t, q.ranges, 1)
	assert.Equal(t, held.Add(-24*time.Hour), q.ranges[0][0])
	assert.Equal(t, held.Add(-time.Second), q.ranges[0][1])
	assert.Equal(t, 24, res.Fetched)
	assert.Equal(t, 24, res.Added)
	assert.True(t, res.Earliest.Before(held))

	series := c.Series()
	for i := 1; i < len(series); i++ {
		require.True(t, series[i].Timestamp.After(series[i-1].Timestamp))
	}
}

func TestFetchOlder_StrictlyBefore(t *testing.T) {
	at := now.Add(-time.Hour)
	q := &sliceQuerier{samples: []sample.Sample{
		sample.New(at.Add(-2*time.Hour), 1, 0, sample.ProvenanceReal),
		sample.New(at.Add(-500*time.Millisecond), 2, 0, sample.ProvenanceReal),
		sample.New(at, 3, 0, sample.ProvenanceReal),
	}}
	c := newCoordinator(t, q, 10)

	got, _, _, err := c.FetchOlder(context.Background(), at)
	require.NoError(t, err)
	require.Len(t, got, 1)
	for _, s := range got {
		assert.True(t, s.Timestamp.Before(at))
	}
}

func TestRequestOlderWindow_EmptyWindowMovesCursor(t *testing.T) {
	// A gap of almost three days between the old and the recent data
	old := hourly(now.Add(-80*time.Hour), 3)
	recent := hourly(now.Add(-10*time.Hour), 10)
	q := &sliceQuerier{samples: append(old, recent...)}
	c := newCoordinator(t, q, 1000)

	require.NoError(t, c.Rehydrate(context.Background(), 12))

	first, err := c.RequestOlderWindow(context.Background())
	require.NoError(t, err)
	assert.Zero(t, first.Added)

	// The next request continues from the empty window instead of repeating it
	second, err := c.RequestOlderWindow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Start.Add(-24*time.Hour), second.Start)

	third, err := c.RequestOlderWindow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, third.Added)
	assert.True(t, third.Earliest.Equal(old[0].Timestamp))
}

func TestRequestOlderWindow_NoHistory(t *testing.T) {
	c := newCoordinator(t, &sliceQuerier{}, 10)
	_, err := c.RequestOlderWindow(context.Background())
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestRequestOlderWindow_QuerierError(t *testing.T) {
	q := &sliceQuerier{samples: hourly(now.Add(-5*time.Hour), 5)}
	c := newCoordinator(t, q, 10)
	require.NoError(t, c.Rehydrate(context.Background(), 24))

	q.err = errors.New("connection refused")
	_, err := c.RequestOlderWindow(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 5, c.History().Len())
}

func every(from time.Time, step time.Duration, n int) []sample.Sample {
	out := make([]sample.Sample, n)
	for i := range out {
		out[i] = sample.New(from.Add(time.Duration(i)*step), float64(i), 0, sample.ProvenanceReal)
	}
	return out
}

func requireContiguous(t *testing.T, series sample.Series, step time.Duration) {
	t.Helper()
	for i := 1; i < len(series); i++ {
		require.Equal(t, step, series[i].Timestamp.Sub(series[i-1].Timestamp), "hole at index %d", i)
	}
}

func TestRequestOlderWindow_StaysContiguousAtCapacity(t *testing.T) {
	const step = 10 * time.Second
	// Two days at the default ingest cadence
	q := &sliceQuerier{samples: every(now.Add(-48*time.Hour), step, 48*360)}
	c, err := New(Config{Querier: q, Capacity: 1000, Window: 24 * time.Hour, Epsilon: time.Second})
	require.NoError(t, err)

	require.NoError(t, c.Rehydrate(context.Background(), 1))
	require.Equal(t, 359, c.History().Len())
	held := c.Series()
	heldStart, heldEnd := held[0].Timestamp, held[len(held)-1].Timestamp

	res, err := c.RequestOlderWindow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8640, res.Fetched)
	assert.Equal(t, 641, res.Added)

	series := c.Series()
	require.Len(t, series, 1000)
	requireContiguous(t, series, step)
	assert.True(t, series[len(series)-1].Timestamp.Equal(heldEnd), "held samples kept")
	assert.True(t, series[0].Timestamp.Equal(heldStart.Add(-641*step)))

	// Already full: the newest samples make room for older ones
	firstPass := series[0].Timestamp
	res, err = c.RequestOlderWindow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 500, res.Added)

	series = c.Series()
	require.Len(t, series, 1000)
	requireContiguous(t, series, step)
	assert.True(t, series[0].Timestamp.Equal(firstPass.Add(-500*step)))
	assert.True(t, series[len(series)-1].Timestamp.Before(heldEnd))
}

func TestShouldBackfill(t *testing.T) {
	q := &sliceQuerier{samples: hourly(now.Add(-5*time.Hour), 5)}
	c := newCoordinator(t, q, 10)

	assert.False(t, c.ShouldBackfill(now, time.Minute))

	require.NoError(t, c.Rehydrate(context.Background(), 24))
	earliest, _ := c.History().Earliest()

	assert.True(t, c.ShouldBackfill(earliest.Add(30*time.Second), time.Minute))
	assert.False(t, c.ShouldBackfill(earliest.Add(2*time.Hour), time.Minute))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Querier: &sliceQuerier{}, Window: time.Second, Epsilon: time.Second})
	assert.Error(t, err)
}
