package backfill

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/capdiff/pkg/sample"
)

func TestHistory_ObserveDropsOldestAtCapacity(t *testing.T) {
	h := NewHistory(3)
	base := now.Add(-time.Hour)

	for i := 0; i < 5; i++ {
		require.True(t, h.Observe(sample.New(base.Add(time.Duration(i)*10*time.Second), float64(i), 0, sample.ProvenanceReal)))
	}

	series := h.Snapshot()
	require.Len(t, series, 3)
	assert.True(t, series[0].Timestamp.Equal(base.Add(20*time.Second)))
	assert.True(t, series[2].Timestamp.Equal(base.Add(40*time.Second)))
}

func TestHistory_ObserveIgnoresKnownTimestamp(t *testing.T) {
	h := NewHistory(10)
	s := sample.New(now, 5, 1, sample.ProvenanceReal)

	require.True(t, h.Observe(s))
	assert.False(t, h.Observe(sample.New(now, 9, 9, sample.ProvenanceReal)))
	assert.Equal(t, 1, h.Len())
	assert.InDelta(t, 4, h.Snapshot()[0].Difference(), 1e-9)
}

func TestHistory_ObserveOutOfOrder(t *testing.T) {
	h := NewHistory(10)
	require.True(t, h.Observe(sample.New(now, 1, 0, sample.ProvenanceReal)))
	require.True(t, h.Observe(sample.New(now.Add(-time.Second), 2, 0, sample.ProvenanceReal)))

	series := h.Snapshot()
	require.Len(t, series, 2)
	assert.True(t, series[0].Timestamp.Before(series[1].Timestamp))
}

func TestHistory_MergeSharedTimestamp(t *testing.T) {
	h := NewHistory(10)
	h.Replace([]sample.Sample{
		sample.New(now, 1, 0, sample.ProvenanceReal),
		sample.New(now.Add(time.Minute), 2, 0, sample.ProvenanceReal),
	})

	added := h.MergeOlder([]sample.Sample{
		sample.New(now.Add(-time.Minute), 3, 0, sample.ProvenanceReal),
		sample.New(now, 4, 0, sample.ProvenanceReal),
	})

	assert.Equal(t, 1, added)
	series := h.Snapshot()
	require.Len(t, series, 3)
	for i := 1; i < len(series); i++ {
		assert.True(t, series[i].Timestamp.After(series[i-1].Timestamp))
	}
	earliest, ok := h.Earliest()
	require.True(t, ok)
	assert.True(t, earliest.Equal(now.Add(-time.Minute)))
}

func TestHistory_ReplaceKeepsNewest(t *testing.T) {
	h := NewHistory(2)
	h.Replace(hourly(now.Add(-5*time.Hour), 5))

	series := h.Snapshot()
	require.Len(t, series, 2)
	assert.True(t, series[1].Timestamp.Equal(now.Add(-time.Hour)))
	assert.Equal(t, 2, h.Capacity())
}

func TestHistory_MergeOlderAtCapacity(t *testing.T) {
	h := NewHistory(4)
	held := hourly(now.Add(-4*time.Hour), 4)
	h.Replace(held)

	added := h.MergeOlder(hourly(now.Add(-7*time.Hour), 3))
	assert.Equal(t, 2, added)

	series := h.Snapshot()
	require.Len(t, series, 4)
	assert.True(t, series[0].Timestamp.Equal(now.Add(-6*time.Hour)))
	assert.True(t, series[3].Timestamp.Equal(held[1].Timestamp))
	for i := 1; i < len(series); i++ {
		assert.Equal(t, time.Hour, series[i].Timestamp.Sub(series[i-1].Timestamp))
	}
}
