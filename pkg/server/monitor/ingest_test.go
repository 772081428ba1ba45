package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nicktill/capdiff/pkg/sample"
)

var ts = time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)

func realSample() sample.Sample      { return sample.New(ts, 6, 4, sample.ProvenanceReal) }
func syntheticSample() sample.Sample { return sample.New(ts, 6, 4, sample.ProvenanceSynthetic) }

func TestIngestMonitor_RecordSuccess(t *testing.T) {
	im := NewIngestMonitor()
	im.RecordAppend(realSample(), nil)

	status := im.Status()
	assert.True(t, status.Healthy)
	assert.Equal(t, int64(1), status.Appended)
	assert.Zero(t, status.ConsecutiveErrors)
	assert.Empty(t, status.LastError)
	assert.Equal(t, "2024-03-01T02:00:00.000Z", status.LastReal)
}

func TestIngestMonitor_RecordFailure(t *testing.T) {
	im := NewIngestMonitor()
	im.RecordAppend(realSample(), errors.New("disk full"))

	status := im.Status()
	assert.False(t, status.Healthy)
	assert.Equal(t, int64(1), status.Failed)
	assert.Equal(t, 1, status.ConsecutiveErrors)
	assert.Equal(t, "disk full", status.LastError)
}

func TestIngestMonitor_SyntheticStreak(t *testing.T) {
	im := NewIngestMonitor()
	im.RecordAppend(syntheticSample(), nil)
	im.RecordAppend(syntheticSample(), nil)
	assert.Equal(t, 2, im.Status().SyntheticStreak)
	assert.True(t, im.IsHealthy(), "synthetic samples still count as landed appends")

	im.RecordAppend(realSample(), nil)
	assert.Zero(t, im.Status().SyntheticStreak)
}

func TestIngestMonitor_IsHealthy(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*IngestMonitor)
		expected bool
	}{
		{
			name:     "never succeeded",
			setup:    func(*IngestMonitor) {},
			expected: false,
		},
		{
			name: "recent success",
			setup: func(im *IngestMonitor) {
				im.RecordAppend(realSample(), nil)
			},
			expected: true,
		},
		{
			name: "stale success",
			setup: func(im *IngestMonitor) {
				im.RecordAppend(realSample(), nil)
				im.now = func() time.Time { return time.Now().Add(time.Hour) }
			},
			expected: false,
		},
		{
			name: "few failures tolerated",
			setup: func(im *IngestMonitor) {
				im.RecordAppend(realSample(), nil)
				im.RecordAppend(realSample(), errors.New("error 1"))
				im.RecordAppend(realSample(), errors.New("error 2"))
			},
			expected: true,
		},
		{
			name: "too many consecutive errors",
			setup: func(im *IngestMonitor) {
				im.RecordAppend(realSample(), nil)
				for i := 0; i < 4; i++ {
					im.RecordAppend(realSample(), errors.New("error"))
				}
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im := NewIngestMonitor()
			tt.setup(im)
			assert.Equal(t, tt.expected, im.IsHealthy())
		})
	}
}
