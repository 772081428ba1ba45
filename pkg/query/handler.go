package query

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/capdiff/pkg/backfill"
	"github.com/nicktill/capdiff/pkg/bucket"
	"github.com/nicktill/capdiff/pkg/config"
	"github.com/nicktill/capdiff/pkg/httpx"
	"github.com/nicktill/capdiff/pkg/logging"
	"github.com/nicktill/capdiff/pkg/rollup"
	"github.com/nicktill/capdiff/pkg/sample"
	"github.com/nicktill/capdiff/pkg/storage"
)

// HandlerConfig holds handler defaults
type HandlerConfig struct {
	DefaultHours    int
	BackfillWindow  time.Duration
	BackfillEpsilon time.Duration
	Logger          *zap.Logger
}

// Handler serves read and reset endpoints
type Handler struct {
	service         *Service
	defaultHours    int
	backfillWindow  time.Duration
	backfillEpsilon time.Duration
	logger          *zap.Logger
}

// NewHandler creates a new query handler
func NewHandler(service *Service, cfg HandlerConfig) *Handler {
	h := &Handler{
		service:         service,
		defaultHours:    cfg.DefaultHours,
		backfillWindow:  cfg.BackfillWindow,
		backfillEpsilon: cfg.BackfillEpsilon,
		logger:          logging.OrNop(cfg.Logger),
	}
	if h.defaultHours <= 0 {
		h.defaultHours = config.DefaultQueryHours
	}
	if h.backfillWindow <= 0 {
		h.backfillWindow = config.DefaultBackfillWindow
	}
	if h.backfillEpsilon <= 0 {
		h.backfillEpsilon = config.DefaultBackfillEpsilon
	}
	return h
}

// DataResponse is the envelope for sample listings
type DataResponse struct {
	Success bool            `json:"success"`
	Count   int             `json:"count"`
	Data    []sample.Sample `json:"data"`
}

// BackfillResponse adds the window bounds to a listing
type BackfillResponse struct {
	Success     bool            `json:"success"`
	Count       int             `json:"count"`
	Data        []sample.Sample `json:"data"`
	WindowStart string          `json:"window_start"`
	WindowEnd   string          `json:"window_end"`
}

// BucketsResponse carries bucketed points; gaps are null samples
type BucketsResponse struct {
	Success   bool           `json:"success"`
	Count     int            `json:"count"`
	Start     string         `json:"start"`
	End       string         `json:"end"`
	Width     string         `json:"width"`
	Tolerance string         `json:"tolerance"`
	Data      []bucket.Point `json:"data"`
}

// RollupResponse carries windowed aggregates of the difference
type RollupResponse struct {
	Success    bool               `json:"success"`
	Count      int                `json:"count"`
	Resolution rollup.Resolution  `json:"resolution"`
	Data       []rollup.Aggregate `json:"data"`
}

// StatsResponse wraps log statistics
type StatsResponse struct {
	Success bool           `json:"success"`
	Stats   *storage.Stats `json:"stats"`
}

// HandleRecent handles GET /v1/data?hours=N
func (h *Handler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	hours, err := parseHours(r.URL.Query().Get("hours"), h.defaultHours)
	if err != nil {
		httpx.RespondFailure(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	samples, err := h.service.Recent(ctx, hours)
	if err != nil {
		h.fail(w, err, "Failed to read data")
		return
	}
	httpx.RespondCacheable(w, r, DataResponse{Success: true, Count: len(samples), Data: samples})
}

// HandleRange handles GET /v1/data/range?start=&end=
func (h *Handler) HandleRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("start") == "" || q.Get("end") == "" {
		httpx.RespondFailureString(w, http.StatusBadRequest, "start and end are required")
		return
	}
	start, err := parseTime(q.Get("start"))
	if err != nil {
		httpx.RespondFailure(w, http.StatusBadRequest, err)
		return
	}
	end, err := parseTime(q.Get("end"))
	if err != nil {
		httpx.RespondFailure(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	samples, err := h.service.Range(ctx, start, end)
	if err != nil {
		h.fail(w, err, "Failed to read data")
		return
	}
	httpx.RespondCacheable(w, r, DataResponse{Success: true, Count: len(samples), Data: samples})
}

// HandleBackfill handles GET /v1/backfill?before=T and returns the window
// [T - window, T - epsilon).
func (h *Handler) HandleBackfill(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query().Get("before")
	if v == "" {
		httpx.RespondFailureString(w, http.StatusBadRequest, "before is required")
		return
	}
	before, err := parseTime(v)
	if err != nil {
		httpx.RespondFailure(w, http.StatusBadRequest, err)
		return
	}

	start, end := backfill.Window(before, h.backfillWindow, h.backfillEpsilon)

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	samples, err := h.service.Range(ctx, start, end)
	if err != nil {
		h.fail(w, err, "Failed to read data")
		return
	}
	httpx.RespondCacheable(w, r, BackfillResponse{
		Success:     true,
		Count:       len(samples),
		Data:        samples,
		WindowStart: start.UTC().Format(sample.TimestampLayout),
		WindowEnd:   end.UTC().Format(sample.TimestampLayout),
	})
}

// HandleBuckets handles GET /v1/data/buckets?hours=&width=&tolerance=
func (h *Handler) HandleBuckets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hours, err := parseHours(q.Get("hours"), h.defaultHours)
	if err != nil {
		httpx.RespondFailure(w, http.StatusBadRequest, err)
		return
	}
	width, err := parseDuration(q.Get("width"), config.DefaultBucketWidth)
	if err != nil {
		httpx.RespondFailure(w, http.StatusBadRequest, err)
		return
	}
	defTolerance := width / 2
	if width == config.DefaultBucketWidth {
		defTolerance = config.DefaultBucketTolerance
	}
	tolerance, err := parseDuration(q.Get("tolerance"), defTolerance)
	if err != nil {
		httpx.RespondFailure(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	res, err := h.service.Buckets(ctx, BucketRequest{Hours: hours, Width: width, Tolerance: tolerance})
	if err != nil {
		h.fail(w, err, "Failed to bucket data")
		return
	}
	httpx.RespondCacheable(w, r, BucketsResponse{
		Success:   true,
		Count:     len(res.Points),
		Start:     res.Start.UTC().Format(sample.TimestampLayout),
		End:       res.End.UTC().Format(sample.TimestampLayout),
		Width:     width.String(),
		Tolerance: tolerance.String(),
		Data:      res.Points,
	})
}

// HandleRollup handles GET /v1/data/rollup?hours=&resolution=
func (h *Handler) HandleRollup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hours, err := parseHours(q.Get("hours"), h.defaultHours)
	if err != nil {
		httpx.RespondFailure(w, http.StatusBadRequest, err)
		return
	}
	resolution, err := rollup.ParseResolution(q.Get("resolution"))
	if err != nil {
		httpx.RespondFailure(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	aggs, err := h.service.Rollup(ctx, hours, resolution)
	if err != nil {
		h.fail(w, err, "Failed to roll up data")
		return
	}
	httpx.RespondCacheable(w, r, RollupResponse{
		Success:    true,
		Count:      len(aggs),
		Resolution: resolution,
		Data:       aggs,
	})
}

// HandleReset handles DELETE /v1/data. Resetting an empty log succeeds.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reset(r.Context()); err != nil {
		h.logger.Error("reset failed", zap.Error(err))
		httpx.RespondFailureString(w, http.StatusInternalServerError, "Failed to reset data")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Data file reset successfully",
	})
}

// HandleStats handles GET /v1/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	stats, err := h.service.Stats(ctx)
	if err != nil {
		h.fail(w, err, "Failed to read stats")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, StatsResponse{Success: true, Stats: stats})
}

// fail maps validation errors to 400 and everything else to 500
func (h *Handler) fail(w http.ResponseWriter, err error, message string) {
	switch {
	case IsValidation(err):
		httpx.RespondFailure(w, http.StatusBadRequest, err)
	case errors.Is(err, context.DeadlineExceeded):
		httpx.RespondFailureString(w, http.StatusGatewayTimeout, message+": timed out")
	default:
		h.logger.Error(message, zap.Error(err))
		httpx.RespondFailureString(w, http.StatusInternalServerError, message)
	}
}
