package monitor

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nicktill/capdiff/pkg/config"
)

// StorageMonitor tracks data directory usage, caching the walk result.
type StorageMonitor struct {
	dataDir       string
	maxBytes      int64
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewStorageMonitor creates a new storage monitor. An empty dataDir
// (memory backend) always reports zero usage.
func NewStorageMonitor(dataDir string, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		dataDir:       dataDir,
		maxBytes:      maxBytes,
		cacheDuration: config.StorageCheckCacheTTL,
	}
}

// GetUsage returns current storage usage in bytes (cached).
func (sm *StorageMonitor) GetUsage() (int64, error) {
	if sm.dataDir == "" {
		return 0, nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	usage, err := calculateDirSize(sm.dataDir)
	if err != nil {
		return 0, err
	}

	sm.cachedUsage = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

// GetLimit returns the configured storage limit in bytes.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

// StorageStatus is served by the storage endpoint.
type StorageStatus struct {
	UsedBytes   int64   `json:"used_bytes"`
	LimitBytes  int64   `json:"limit_bytes"`
	UsedPercent float64 `json:"used_percent"`
	Exceeded    bool    `json:"exceeded"`
}

// Status reports usage against the limit.
func (sm *StorageMonitor) Status() (StorageStatus, error) {
	used, err := sm.GetUsage()
	if err != nil {
		return StorageStatus{}, err
	}
	status := StorageStatus{UsedBytes: used, LimitBytes: sm.maxBytes}
	if sm.maxBytes > 0 {
		status.UsedPercent = float64(used) / float64(sm.maxBytes) * 100
		status.Exceeded = used > sm.maxBytes
	}
	return status, nil
}

// calculateDirSize walks path and sums on-disk sizes.
func calculateDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			actualSize, err := getActualFileSize(filePath, info)
			if err != nil {
				size += info.Size()
			} else {
				size += actualSize
			}
		}
		return nil
	})
	return size, err
}

// getActualFileSize lives in filesize_unix.go and filesize_windows.go
