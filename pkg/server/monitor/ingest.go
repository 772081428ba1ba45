package monitor

import (
	"sync"
	"time"

	"github.com/nicktill/capdiff/pkg/config"
	"github.com/nicktill/capdiff/pkg/sample"
)

// IngestMonitor tracks append health and how long the source has been
// falling back to synthetic values. It implements ingest.Recorder.
type IngestMonitor struct {
	mu                sync.RWMutex
	now               func() time.Time
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
	appended          int64
	failed            int64
	syntheticStreak   int
	lastReal          time.Time
}

// NewIngestMonitor creates an ingest monitor.
func NewIngestMonitor() *IngestMonitor {
	return &IngestMonitor{now: time.Now}
}

// RecordAppend records the outcome of one append.
func (im *IngestMonitor) RecordAppend(s sample.Sample, err error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	now := im.now()
	im.lastAttempt = now

	if s.IsSynthetic() {
		im.syntheticStreak++
	} else {
		im.syntheticStreak = 0
		im.lastReal = s.Timestamp
	}

	if err != nil {
		im.failed++
		im.consecutiveErrors++
		im.lastError = err.Error()
		return
	}
	im.appended++
	im.lastSuccess = now
	im.consecutiveErrors = 0
	im.lastError = ""
}

// IsHealthy returns true if appends are landing.
// Unhealthy conditions:
//   - Never succeeded
//   - No success within config.IngestStaleAfter
//   - More than config.IngestMaxConsecutiveFails consecutive failures
//
// Synthetic samples do not affect health; the source is allowed to be down.
func (im *IngestMonitor) IsHealthy() bool {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.healthyLocked()
}

func (im *IngestMonitor) healthyLocked() bool {
	if im.lastSuccess.IsZero() {
		return false
	}
	if im.now().Sub(im.lastSuccess) > config.IngestStaleAfter {
		return false
	}
	return im.consecutiveErrors <= config.IngestMaxConsecutiveFails
}

// IngestStatus is the ingest part of the health response.
type IngestStatus struct {
	Healthy           bool   `json:"healthy"`
	Appended          int64  `json:"appended"`
	Failed            int64  `json:"failed"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	SyntheticStreak   int    `json:"synthetic_streak"`
	LastReal          string `json:"last_real,omitempty"`
}

// Status returns current ingest status for health checks.
func (im *IngestMonitor) Status() IngestStatus {
	im.mu.RLock()
	defer im.mu.RUnlock()

	status := IngestStatus{
		Healthy:         im.healthyLocked(),
		Appended:        im.appended,
		Failed:          im.failed,
		SyntheticStreak: im.syntheticStreak,
	}

	if !im.lastSuccess.IsZero() {
		status.LastSuccess = im.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = im.now().Sub(im.lastSuccess).String()
	}
	if !im.lastAttempt.IsZero() {
		status.LastAttempt = im.lastAttempt.Format(time.RFC3339)
	}
	if !im.lastReal.IsZero() {
		status.LastReal = im.lastReal.Format(sample.TimestampLayout)
	}
	if im.consecutiveErrors > 0 {
		status.ConsecutiveErrors = im.consecutiveErrors
		status.LastError = im.lastError
	}

	return status
}
