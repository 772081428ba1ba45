package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/capdiff/pkg/sample"
)

var fixedNow = time.Date(2024, 3, 1, 2, 30, 0, 0, time.UTC)

func newTestAdapter(endpoints ...string) *Adapter {
	return New(Config{
		Endpoints: endpoints,
		Timeout:   200 * time.Millisecond,
		Now:       func() time.Time { return fixedNow },
		Synthetic: Generator{Jitter: func() float64 { return 0.5 }},
	})
}

func serveJSON(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_UpDownPayload(t *testing.T) {
	srv := serveJSON(t, http.StatusOK, `{"up": 6000000000, "down": 4000000000}`)

	s := newTestAdapter(srv.URL).FetchSample(context.Background())

	assert.Equal(t, sample.ProvenanceReal, s.Source)
	assert.InDelta(t, 6.0, s.Up, 1e-9)
	assert.InDelta(t, 4.0, s.Down, 1e-9)
	assert.InDelta(t, 2.0, s.Difference(), 1e-9)
	assert.True(t, s.Timestamp.Equal(fixedNow))
}

func TestFetch_ExtractorPriority(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		up, down  float64
		extractor string
	}{
		{
			name:      "increase/decrease beats up/down",
			body:      `{"increase": 3e9, "decrease": 1e9, "up": 9e9, "down": 9e9}`,
			up:        3,
			down:      1,
			extractor: "increase_decrease",
		},
		{
			name:      "nested increase/decrease",
			body:      `{"data": {"increase": 2e9, "decrease": 5e9}}`,
			up:        2,
			down:      5,
			extractor: "nested",
		},
		{
			name:      "nested upValue/downValue",
			body:      `{"data": {"upValue": 7e9, "downValue": 1e9}}`,
			up:        7,
			down:      1,
			extractor: "nested",
		},
		{
			name:      "nested beats top-level up/down",
			body:      `{"data": {"upValue": 1e9, "downValue": 2e9}, "up": 8e9, "down": 8e9}`,
			up:        1,
			down:      2,
			extractor: "nested",
		},
		{
			name:      "numeric strings",
			body:      `{"up": "1500000000", "down": "500000000"}`,
			up:        1.5,
			down:      0.5,
			extractor: "up_down",
		},
		{
			name:      "zero is a value",
			body:      `{"increase": 0, "decrease": 4e9}`,
			up:        0,
			down:      4,
			extractor: "increase_decrease",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serveJSON(t, http.StatusOK, tt.body)

			report := newTestAdapter(srv.URL).Fetch(context.Background())

			require.Len(t, report.Attempts, 1)
			assert.Equal(t, OutcomeSuccess, report.Attempts[0].Outcome)
			assert.Equal(t, tt.extractor, report.Attempts[0].Extractor)
			assert.InDelta(t, tt.up, report.Sample.Up, 1e-9)
			assert.InDelta(t, tt.down, report.Sample.Down, 1e-9)
			assert.False(t, report.Synthetic())
		})
	}
}

func TestFetch_FallsThroughCandidates(t *testing.T) {
	broken := serveJSON(t, http.StatusInternalServerError, `oops`)
	wrongShape := serveJSON(t, http.StatusOK, `{"advancers": 12}`)
	garbage := serveJSON(t, http.StatusOK, `not json`)
	good := serveJSON(t, http.StatusOK, `{"up": 2e9, "down": 1e9}`)

	report := newTestAdapter(broken.URL, wrongShape.URL, garbage.URL, good.URL).Fetch(context.Background())

	require.Len(t, report.Attempts, 4)
	assert.Equal(t, OutcomeStatus, report.Attempts[0].Outcome)
	assert.Equal(t, http.StatusInternalServerError, report.Attempts[0].StatusCode)
	assert.Equal(t, OutcomeShapeMismatch, report.Attempts[1].Outcome)
	assert.Equal(t, OutcomeDecode, report.Attempts[2].Outcome)
	assert.Equal(t, OutcomeSuccess, report.Attempts[3].Outcome)
	assert.InDelta(t, 1.0, report.Sample.Difference(), 1e-9)
}

func TestFetch_TimeoutThenSynthetic(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	start := time.Now()
	report := newTestAdapter(slow.URL).Fetch(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, report.Attempts, 1)
	assert.Equal(t, OutcomeTimeout, report.Attempts[0].Outcome)
	assert.True(t, report.Synthetic())
}

func TestFetch_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	report := newTestAdapter(url).Fetch(context.Background())

	require.Len(t, report.Attempts, 1)
	assert.Equal(t, OutcomeTransport, report.Attempts[0].Outcome)
	assert.True(t, report.Synthetic())
}

func TestFetch_SendsHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{"up": 1, "down": 1}`))
	}))
	defer srv.Close()

	newTestAdapter(srv.URL).FetchSample(context.Background())

	assert.Equal(t, "application/json", got.Get("Accept"))
	assert.Equal(t, "https://fireant.vn", got.Get("Referer"))
	assert.NotEmpty(t, got.Get("User-Agent"))
}

func TestFetch_NoCandidates(t *testing.T) {
	report := New(Config{
		Endpoints: []string{},
		Now:       func() time.Time { return fixedNow },
	}).Fetch(context.Background())

	assert.Empty(t, report.Attempts)
	assert.True(t, report.Synthetic())
	assert.InDelta(t, report.Sample.Up-report.Sample.Down, report.Sample.Difference(), 1e-9)
}

func TestFetch_CancelledContextSkipsCandidates(t *testing.T) {
	srv := serveJSON(t, http.StatusOK, `{"up": 1, "down": 1}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := newTestAdapter(srv.URL, srv.URL).Fetch(ctx)

	require.Len(t, report.Attempts, 2)
	assert.Equal(t, OutcomeSkipped, report.Attempts[0].Outcome)
	assert.True(t, report.Synthetic())
}

func TestNew_Defaults(t *testing.T) {
	a := New(Config{})
	assert.Equal(t, DefaultEndpoints, a.Endpoints())
	assert.Equal(t, DefaultTimeout, a.timeout)
	assert.Equal(t, DefaultUnitDivisor, a.divisor)
}
