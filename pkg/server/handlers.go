package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nicktill/capdiff/pkg/httpx"
	"github.com/nicktill/capdiff/pkg/ingest"
	"github.com/nicktill/capdiff/pkg/logging"
	"github.com/nicktill/capdiff/pkg/server/monitor"
)

var startTime = time.Now()

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string               `json:"status"`
	Version string               `json:"version"`
	Uptime  string               `json:"uptime"`
	Loop    ingest.Stats         `json:"loop"`
	Ingest  monitor.IngestStatus `json:"ingest"`
}

// handleHealth reports degraded when appends stop landing. A stopped loop
// (ingestion disabled) does not count against health.
func handleHealth(loop *ingest.Loop, ingestMonitor *monitor.IngestMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := loop.Stats()
		overallStatus := "healthy"
		statusCode := http.StatusOK

		if stats.Running && !ingestMonitor.IsHealthy() {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.RespondJSON(w, statusCode, HealthResponse{
			Status:  overallStatus,
			Version: "1.0.0",
			Uptime:  time.Since(startTime).String(),
			Loop:    stats,
			Ingest:  ingestMonitor.Status(),
		})
	}
}

// handleStorageUsage returns current data directory usage.
func handleStorageUsage(monitor *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := monitor.Status()
		if err != nil {
			httpx.RespondFailure(w, http.StatusInternalServerError, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, status)
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(
	router *mux.Router,
	h Handlers,
	loop *ingest.Loop,
	storageMonitor *monitor.StorageMonitor,
	ingestMonitor *monitor.IngestMonitor,
	port string,
	logger *zap.Logger,
) {
	router.Use(requestLogger(logging.OrNop(logger)))
	router.Use(corsMiddleware(port))

	api := router.PathPrefix("/v1").Subrouter()

	// Series reads, reset and backfill
	api.HandleFunc("/data", h.Query.HandleRecent).Methods("GET")
	api.HandleFunc("/data", h.Query.HandleReset).Methods("DELETE")
	api.HandleFunc("/data/range", h.Query.HandleRange).Methods("GET")
	api.HandleFunc("/data/buckets", h.Query.HandleBuckets).Methods("GET")
	api.HandleFunc("/data/rollup", h.Query.HandleRollup).Methods("GET")
	api.HandleFunc("/backfill", h.Query.HandleBackfill).Methods("GET")
	api.HandleFunc("/stats", h.Query.HandleStats).Methods("GET")

	// Latest sample and forced cycles
	api.HandleFunc("/market-data", h.Ingest.HandleFetch).Methods("GET")
	api.HandleFunc("/market-data", h.Ingest.HandleRefresh).Methods("POST")
	api.HandleFunc("/ingest/status", h.Ingest.HandleStatus).Methods("GET")

	api.HandleFunc("/chart-data", h.Derived.HandleChartData).Methods("GET")
	api.HandleFunc("/export", h.Export.HandleExport).Methods("GET")

	api.HandleFunc("/storage", handleStorageUsage(storageMonitor)).Methods("GET")
	api.HandleFunc("/health", handleHealth(loop, ingestMonitor)).Methods("GET")

	// WebSocket for live samples
	api.HandleFunc("/ws", h.Hub.HandleStream(loop.Latest)).Methods("GET")

	// Preflight requests must match a route for the middleware chain to run
	api.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowedOrigins := []string{
				"http://localhost:" + port,
				"http://127.0.0.1:" + port,
				"http://localhost:3000",
				"http://127.0.0.1:3000",
			}

			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if origin == allowedOrigin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, If-None-Match")
				w.Header().Set("Access-Control-Expose-Headers", "ETag")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
