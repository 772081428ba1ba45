package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/capdiff/pkg/config"
	"github.com/nicktill/capdiff/pkg/httpx"
	"github.com/nicktill/capdiff/pkg/logging"
	"github.com/nicktill/capdiff/pkg/sample"
)

// Window returns persisted samples from the last N hours.
type Window interface {
	Recent(ctx context.Context, hours int) ([]sample.Sample, error)
}

// Handler serves the ingest-and-fetch endpoints
type Handler struct {
	loop   *Loop
	window Window
	logger *zap.Logger
}

// NewHandler creates a new ingest handler. window may be nil, in which case
// GET only returns the fresh sample.
func NewHandler(loop *Loop, window Window, logger *zap.Logger) *Handler {
	return &Handler{
		loop:   loop,
		window: window,
		logger: logging.OrNop(logger),
	}
}

// FetchResponse is returned by GET /v1/market-data
type FetchResponse struct {
	Success bool            `json:"success"`
	Data    []sample.Sample `json:"data"`
	Latest  sample.Sample   `json:"latest"`
}

// RefreshResponse is returned by POST /v1/market-data
type RefreshResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Data    sample.Sample `json:"data"`
}

// maxHours bounds the hours parameter to the query window
const maxHours = int(config.MaxQueryWindow / time.Hour)

// HandleFetch runs one cycle and returns the recent window (?hours=N,
// default config.DefaultQueryHours) in ascending order ending with the
// fresh sample. hours=0 returns the fresh sample alone.
func (h *Handler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	hours := config.DefaultQueryHours
	if v := r.URL.Query().Get("hours"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 || parsed > maxHours {
			httpx.RespondFailureString(w, http.StatusBadRequest,
				fmt.Sprintf("invalid hours %q: must be an integer between 0 and %d", v, maxHours))
			return
		}
		hours = parsed
	}

	latest, err := h.loop.Trigger(r.Context())
	if err != nil {
		httpx.RespondFailureString(w, http.StatusServiceUnavailable, "Failed to fetch market data")
		return
	}

	data := sample.Series{latest}
	if hours > 0 && h.window != nil {
		ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
		defer cancel()

		recent, err := h.window.Recent(ctx, hours)
		if err != nil {
			h.logger.Error("failed to read window", zap.Error(err))
			httpx.RespondFailureString(w, http.StatusInternalServerError, "Failed to fetch market data")
			return
		}
		// The fresh sample wins over a persisted copy of itself
		data = sample.Merge([]sample.Sample{latest}, recent)
	}

	httpx.RespondJSON(w, http.StatusOK, FetchResponse{
		Success: true,
		Data:    data,
		Latest:  latest,
	})
}

// HandleRefresh runs one cycle and returns only the fresh sample.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	latest, err := h.loop.Trigger(r.Context())
	if err != nil {
		httpx.RespondFailureString(w, http.StatusServiceUnavailable, "Failed to update market data")
		return
	}

	httpx.RespondJSON(w, http.StatusOK, RefreshResponse{
		Success: true,
		Message: "Data updated successfully",
		Data:    latest,
	})
}

// StatusResponse is returned by GET /v1/ingest/status
type StatusResponse struct {
	Success bool           `json:"success"`
	Loop    Stats          `json:"loop"`
	Latest  *sample.Sample `json:"latest"`
}

// HandleStatus reports loop state without running a cycle.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Success: true, Loop: h.loop.Stats()}
	if s, ok := h.loop.Latest(); ok {
		resp.Latest = &s
	}
	httpx.RespondJSON(w, http.StatusOK, resp)
}
