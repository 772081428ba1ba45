package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/capdiff/pkg/backfill"
	"github.com/nicktill/capdiff/pkg/httpx"
	"github.com/nicktill/capdiff/pkg/query"
	"github.com/nicktill/capdiff/pkg/sample"
	"github.com/nicktill/capdiff/pkg/storage/memory"
)

var now = time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)

func newServer(t *testing.T, samples ...sample.Sample) *httptest.Server {
	t.Helper()

	store := memory.New()
	t.Cleanup(func() { store.Close() })
	for _, s := range samples {
		require.NoError(t, store.Append(context.Background(), s))
	}

	svc := query.NewService(query.Config{Log: store, Now: func() time.Time { return now }})
	qh := query.NewHandler(svc, query.HandlerConfig{})

	latest := sample.New(now, 8, 3, sample.ProvenanceReal)

	r := mux.NewRouter()
	r.HandleFunc("/v1/data", qh.HandleRecent).Methods("GET")
	r.HandleFunc("/v1/data", qh.HandleReset).Methods("DELETE")
	r.HandleFunc("/v1/data/range", qh.HandleRange).Methods("GET")
	r.HandleFunc("/v1/backfill", qh.HandleBackfill).Methods("GET")
	r.HandleFunc("/v1/market-data", func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    []sample.Sample{latest},
			"latest":  latest,
		})
	}).Methods("GET")
	r.HandleFunc("/v1/market-data", func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Data updated successfully",
			"data":    latest,
		})
	}).Methods("POST")

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRecentAndRange(t *testing.T) {
	srv := newServer(t,
		sample.New(now.Add(-2*time.Hour), 10, 5, sample.ProvenanceReal),
		sample.New(now.Add(-30*time.Hour), 1, 4, sample.ProvenanceReal),
	)
	c := New(Config{Endpoint: srv.URL + "/"})
	ctx := context.Background()

	recent, err := c.Recent(ctx, 24)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 5.0, recent[0].Difference())

	inRange, err := c.Range(ctx, now.Add(-31*time.Hour), now.Add(-29*time.Hour))
	require.NoError(t, err)
	require.Len(t, inRange, 1)
	assert.Equal(t, -3.0, inRange[0].Difference())
}

func TestClientBackfill(t *testing.T) {
	srv := newServer(t,
		sample.New(now.Add(-2*time.Hour), 10, 5, sample.ProvenanceReal),
		sample.New(now.Add(-time.Hour), 1, 4, sample.ProvenanceReal),
	)
	c := New(Config{Endpoint: srv.URL})

	page, err := c.Backfill(context.Background(), now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "2024-03-01T11:00:00.000Z", page.WindowStart)
	assert.Equal(t, "2024-03-02T10:59:59.000Z", page.WindowEnd)
}

func TestClientLatestRefreshReset(t *testing.T) {
	srv := newServer(t, sample.New(now.Add(-time.Hour), 1, 1, sample.ProvenanceReal))
	c := New(Config{Endpoint: srv.URL})
	ctx := context.Background()

	latest, err := c.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5.0, latest.Difference())
	assert.True(t, latest.Timestamp.Equal(now))

	refreshed, err := c.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, latest, refreshed)

	require.NoError(t, c.Reset(ctx))
	recent, err := c.Recent(ctx, 24)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestClientStatusError(t *testing.T) {
	srv := newServer(t)
	c := New(Config{Endpoint: srv.URL})

	_, err := c.Recent(context.Background(), -1)
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.NotEmpty(t, se.Message)
}

func TestClientDrivesCoordinator(t *testing.T) {
	srv := newServer(t,
		sample.New(now.Add(-30*time.Hour), 1, 2, sample.ProvenanceReal),
		sample.New(now.Add(-2*time.Hour), 3, 4, sample.ProvenanceReal),
	)

	coord, err := backfill.New(backfill.Config{
		Querier: New(Config{Endpoint: srv.URL}),
		Window:  48 * time.Hour,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, coord.Rehydrate(ctx, 24))
	require.Len(t, coord.Series(), 1)

	res, err := coord.RequestOlderWindow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Len(t, coord.Series(), 2)
}

func TestNewDefaults(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, DefaultEndpoint, c.endpoint)
	assert.Equal(t, 10*time.Second, c.client.Timeout)
}
