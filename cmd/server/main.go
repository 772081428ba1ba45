package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nicktill/capdiff/pkg/config"
	"github.com/nicktill/capdiff/pkg/logging"
	"github.com/nicktill/capdiff/pkg/sample"
	"github.com/nicktill/capdiff/pkg/server"
	"github.com/nicktill/capdiff/pkg/server/monitor"
)

func main() {
	configPath := flag.String("config", "capdiff.yaml", "path to YAML config (optional)")
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}
	if err := settings.Validate(); err != nil {
		zap.NewExample().Fatal("invalid config", zap.Error(err))
	}

	logger, err := logging.New(logging.Config{
		Level:       settings.Log.Level,
		Development: settings.Log.Development,
	})
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(settings, logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(settings *config.Settings, logger *zap.Logger) error {
	logger.Info("starting capdiff server",
		zap.String("backend", settings.Storage.Backend),
		zap.String("data_dir", settings.Storage.DataDir),
		zap.Int64("max_storage_mb", settings.Storage.MaxStorageMB))

	log, err := server.InitializeLog(settings, logger.Named("storage"))
	if err != nil {
		return err
	}
	defer func() {
		if err := log.Close(); err != nil {
			logger.Warn("failed to close log", zap.Error(err))
		}
	}()

	storageMonitor := server.InitializeStorageMonitor(settings)
	ingestMonitor := monitor.NewIngestMonitor()

	loop, err := server.InitializeLoop(settings, log, ingestMonitor, logger)
	if err != nil {
		return err
	}

	handlers := server.InitializeHandlers(settings, log, loop, logger)
	loop.OnSample(func(s sample.Sample) { handlers.Hub.Publish(s) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		handlers.Hub.Run(ctx)
	}()

	stopGC := make(chan bool)
	wg.Add(1)
	go server.RunBadgerGC(log, stopGC, &wg, logger.Named("gc"))

	if settings.Ingest.Disabled {
		logger.Warn("ingestion disabled, serving stored samples only")
	} else {
		if err := loop.Start(); err != nil {
			return err
		}
		logger.Info("ingestion loop started", zap.String("schedule", settings.Ingest.Schedule))
	}

	router := mux.NewRouter()
	server.SetupRoutes(router, handlers, loop, storageMonitor, ingestMonitor, settings.Server.Port, logger.Named("http"))

	srv := &http.Server{
		Addr:         ":" + settings.Server.Port,
		Handler:      router,
		ReadTimeout:  settings.Server.ReadTimeout,
		WriteTimeout: settings.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", "http://localhost:"+settings.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serveErr:
		logger.Error("server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	// The in-flight cycle finishes its append before the log is closed
	if err := loop.Stop(shutdownCtx); err != nil {
		logger.Warn("ingestion loop did not stop cleanly", zap.Error(err))
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown warning", zap.Error(err))
	}

	cancel()
	close(stopGC)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("background tasks stopped")
	case <-time.After(5 * time.Second):
		logger.Warn("some background tasks did not stop in time")
	}

	logger.Info("capdiff server exited")
	return nil
}
