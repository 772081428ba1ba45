package server

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/capdiff/pkg/config"
	"github.com/nicktill/capdiff/pkg/storage"
	"github.com/nicktill/capdiff/pkg/storage/badger"
)

// gcRunner is the part of the badger backend the GC task needs
type gcRunner interface {
	RunGC(discardRatio float64) error
}

var _ gcRunner = (*badger.Storage)(nil)

// RunBadgerGC runs value log GC periodically to reclaim disk space after
// resets. Other backends return immediately.
func RunBadgerGC(log storage.Log, stop chan bool, wg *sync.WaitGroup, logger *zap.Logger) {
	defer wg.Done()

	store, ok := log.(gcRunner)
	if !ok {
		logger.Debug("storage is not badger, skipping GC")
		return
	}

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	logger.Info("badger GC scheduler started", zap.Duration("interval", config.BadgerGCInterval))

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// Reclaim a vlog file once half of it is garbage
			if err := store.RunGC(0.5); err != nil {
				logger.Warn("badger GC failed", zap.Error(err))
				continue
			}
			logger.Debug("badger GC completed", zap.Duration("took", time.Since(start).Round(time.Millisecond)))
		case <-stop:
			logger.Info("stopping badger GC scheduler")
			return
		}
	}
}
