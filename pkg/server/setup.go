package server

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/nicktill/capdiff/pkg/config"
	"github.com/nicktill/capdiff/pkg/derived"
	"github.com/nicktill/capdiff/pkg/export"
	"github.com/nicktill/capdiff/pkg/ingest"
	"github.com/nicktill/capdiff/pkg/logging"
	"github.com/nicktill/capdiff/pkg/query"
	"github.com/nicktill/capdiff/pkg/server/monitor"
	"github.com/nicktill/capdiff/pkg/source"
	"github.com/nicktill/capdiff/pkg/storage"
	"github.com/nicktill/capdiff/pkg/storage/badger"
	"github.com/nicktill/capdiff/pkg/storage/file"
	"github.com/nicktill/capdiff/pkg/storage/memory"
)

// InitializeLog opens the configured storage backend.
func InitializeLog(s *config.Settings, logger *zap.Logger) (storage.Log, error) {
	logger = logging.OrNop(logger)
	switch s.Storage.Backend {
	case "file":
		l, err := file.Open(file.Config{Path: s.LogPath(), Logger: logger.Named("file")})
		if err != nil {
			return nil, err
		}
		logger.Info("file log ready", zap.String("path", l.Path()))
		return l, nil
	case "badger":
		path := filepath.Join(s.Storage.DataDir, "badger")
		l, err := badger.New(badger.Config{
			Path:        path,
			MaxMemoryMB: s.Storage.MaxMemoryMB,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("badger log ready", zap.String("path", path), zap.Int64("max_memory_mb", s.Storage.MaxMemoryMB))
		return l, nil
	case "memory":
		logger.Warn("memory log in use, samples are lost on exit")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", s.Storage.Backend)
	}
}

// InitializeStorageMonitor watches the data directory against the configured limit.
func InitializeStorageMonitor(s *config.Settings) *monitor.StorageMonitor {
	dir := s.Storage.DataDir
	if s.Storage.Backend == "memory" {
		dir = ""
	}
	return monitor.NewStorageMonitor(dir, s.Storage.MaxStorageMB*1024*1024)
}

// InitializeLoop builds the source adapter and the ingestion loop around it.
func InitializeLoop(s *config.Settings, log storage.Log, recorder ingest.Recorder, logger *zap.Logger) (*ingest.Loop, error) {
	logger = logging.OrNop(logger)
	adapter := source.New(source.Config{
		Endpoints:   s.Source.Endpoints,
		Timeout:     s.Source.Timeout,
		Headers:     s.Source.Headers,
		UnitDivisor: s.Source.UnitDivisor,
		Logger:      logger.Named("source"),
	})
	logger.Info("source adapter ready", zap.Strings("endpoints", adapter.Endpoints()))

	return ingest.New(ingest.Config{
		Source:   adapter,
		Log:      log,
		Schedule: s.Ingest.Schedule,
		Recorder: recorder,
		Logger:   logger.Named("ingest"),
	})
}

// Handlers groups every request handler the router needs.
type Handlers struct {
	Query   *query.Handler
	Ingest  *ingest.Handler
	Derived *derived.Handler
	Export  *export.Handler
	Hub     *ingest.Hub
}

// InitializeHandlers creates and configures all request handlers.
func InitializeHandlers(s *config.Settings, log storage.Log, loop *ingest.Loop, logger *zap.Logger) Handlers {
	logger = logging.OrNop(logger)
	service := query.NewService(query.Config{Log: log, Logger: logger.Named("query")})

	return Handlers{
		Query: query.NewHandler(service, query.HandlerConfig{
			DefaultHours:    s.Query.DefaultHours,
			BackfillWindow:  s.Backfill.Window,
			BackfillEpsilon: s.Backfill.Epsilon,
			Logger:          logger.Named("query"),
		}),
		Ingest:  ingest.NewHandler(loop, service, logger.Named("ingest")),
		Derived: derived.NewHandler(s.Derived.SnapshotPath, logger.Named("derived")),
		Export:  export.NewHandler(service, logger.Named("export")),
		Hub:     ingest.NewHub(logger.Named("ws")),
	}
}
