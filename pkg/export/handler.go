package export

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/capdiff/pkg/config"
	"github.com/nicktill/capdiff/pkg/httpx"
	"github.com/nicktill/capdiff/pkg/logging"
)

// Handler handles export HTTP endpoints
type Handler struct {
	exporter *Exporter
	logger   *zap.Logger
}

// NewHandler creates a new export handler
func NewHandler(source Ranger, logger *zap.Logger) *Handler {
	return &Handler{
		exporter: NewExporter(source),
		logger:   logging.OrNop(logger),
	}
}

// HandleExport handles GET /v1/export
// Query params:
//   - format: "json" or "csv" (default: json)
//   - start: RFC3339 timestamp (default: 24h before end)
//   - end: RFC3339 timestamp (default: now)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		httpx.RespondFailureString(w, http.StatusBadRequest, "Invalid format. Must be 'json' or 'csv'")
		return
	}

	end, err := parseTimeParam(query.Get("end"), time.Now().UTC())
	if err != nil {
		httpx.RespondFailure(w, http.StatusBadRequest, err)
		return
	}
	start, err := parseTimeParam(query.Get("start"), end.Add(-config.DefaultExportWindow))
	if err != nil {
		httpx.RespondFailure(w, http.StatusBadRequest, err)
		return
	}

	if !start.Before(end) {
		httpx.RespondFailureString(w, http.StatusBadRequest, "start must be before end")
		return
	}
	if end.Sub(start) > config.MaxExportWindow {
		httpx.RespondFailureString(w, http.StatusBadRequest, fmt.Sprintf("Time range too large. Maximum is %v", config.MaxExportWindow))
		return
	}

	opts := ExportOptions{Start: start, End: end, Format: format}

	timestamp := time.Now().Format("20060102-150405")
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=capdiff-export-%s.%s", timestamp, format))

	var result *ExportResult
	if format == "json" {
		result, err = h.exporter.ExportToJSON(r.Context(), w, opts)
	} else {
		result, err = h.exporter.ExportToCSV(r.Context(), w, opts)
	}

	if err != nil {
		// Headers may already be out; this is best effort
		h.logger.Error("export failed", zap.Error(err))
		httpx.RespondFailureString(w, http.StatusInternalServerError, "Export failed")
		return
	}

	h.logger.Info("exported samples",
		zap.Int("count", result.SamplesExported),
		zap.String("format", format),
		zap.String("range", result.TimeRange))
}

// parseTimeParam parses RFC3339 or a zone-less datetime, or returns def when empty
func parseTimeParam(param string, def time.Time) (time.Time, error) {
	if param == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, param); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", param); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q", param)
}
