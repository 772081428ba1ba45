package derived

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/capdiff/pkg/httpx"
	"github.com/nicktill/capdiff/pkg/logging"
	"github.com/nicktill/capdiff/pkg/sample"
)

// Handler serves the series derived from the scraper snapshot
type Handler struct {
	path   string
	now    func() time.Time
	logger *zap.Logger
}

// NewHandler creates a handler reading the snapshot at path
func NewHandler(path string, logger *zap.Logger) *Handler {
	return &Handler{path: path, now: time.Now, logger: logging.OrNop(logger)}
}

// ChartDataResponse is returned by GET /v1/chart-data
type ChartDataResponse struct {
	Success    bool    `json:"success"`
	Data       []Point `json:"data"`
	LastUpdate string  `json:"lastUpdate"`
	Count      int     `json:"count"`
}

// HandleChartData handles GET /v1/chart-data
func (h *Handler) HandleChartData(w http.ResponseWriter, r *http.Request) {
	points, err := ReadFile(h.path)
	switch {
	case errors.Is(err, ErrSnapshotNotFound):
		httpx.RespondFailureString(w, http.StatusNotFound, "Chart data file not found")
		return
	case err != nil:
		h.logger.Error("failed to read chart data", zap.String("path", h.path), zap.Error(err))
		httpx.RespondFailureString(w, http.StatusInternalServerError, "Failed to read chart data")
		return
	}

	httpx.RespondJSON(w, http.StatusOK, ChartDataResponse{
		Success:    true,
		Data:       points,
		LastUpdate: h.now().UTC().Format(sample.TimestampLayout),
		Count:      len(points),
	})
}
