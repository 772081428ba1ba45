package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/capdiff/pkg/query"
	"github.com/nicktill/capdiff/pkg/sample"
	"github.com/nicktill/capdiff/pkg/storage/memory"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func seeded(t *testing.T, samples ...sample.Sample) *query.Service {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { store.Close() })
	for _, s := range samples {
		require.NoError(t, store.Append(context.Background(), s))
	}
	return query.NewService(query.Config{Log: store})
}

func TestExportToJSON(t *testing.T) {
	svc := seeded(t,
		sample.New(base, 10, 5, sample.ProvenanceReal),
		sample.New(base.Add(time.Minute), 1, 4, sample.ProvenanceSynthetic),
		sample.New(base.Add(2*time.Hour), 9, 9, sample.ProvenanceReal),
	)

	exporter := NewExporter(svc)
	buf := &bytes.Buffer{}
	opts := ExportOptions{Start: base, End: base.Add(time.Hour), Format: "json"}

	result, err := exporter.ExportToJSON(context.Background(), buf, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, result.SamplesExported)
	assert.Equal(t, "json", result.Format)

	var out struct {
		Metadata struct {
			SampleCount int    `json:"sample_count"`
			Format      string `json:"format"`
			Version     string `json:"version"`
		} `json:"metadata"`
		Samples []sample.Sample `json:"samples"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, 2, out.Metadata.SampleCount)
	assert.Equal(t, "json", out.Metadata.Format)
	assert.Equal(t, "1.0", out.Metadata.Version)
	require.Len(t, out.Samples, 2)
	assert.Equal(t, 5.0, out.Samples[0].Difference())
	assert.Equal(t, -3.0, out.Samples[1].Difference())
}

func TestExportToCSV(t *testing.T) {
	svc := seeded(t,
		sample.New(base, 10, 5.5, sample.ProvenanceReal),
		sample.New(base.Add(time.Second), 2, 4, sample.ProvenanceSynthetic),
	)

	exporter := NewExporter(svc)
	buf := &bytes.Buffer{}
	opts := ExportOptions{Start: base, End: base.Add(time.Hour), Format: "csv"}

	result, err := exporter.ExportToCSV(context.Background(), buf, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, result.SamplesExported)

	records, err := csv.NewReader(buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, []string{"timestamp", "upCapitalization", "downCapitalization", "difference", "source"}, records[0])
	assert.Equal(t, []string{"2024-03-01T12:00:00.000Z", "10", "5.5", "4.5", "real"}, records[1])
	assert.Equal(t, []string{"2024-03-01T12:00:01.000Z", "2", "4", "-2", "synthetic"}, records[2])
}

func TestExportEmptyStorage(t *testing.T) {
	exporter := NewExporter(seeded(t))
	buf := &bytes.Buffer{}
	opts := ExportOptions{Start: base, End: base.Add(time.Hour), Format: "json"}

	result, err := exporter.ExportToJSON(context.Background(), buf, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, result.SamplesExported)
}

func TestHandleExport(t *testing.T) {
	now := time.Now().UTC()
	svc := seeded(t,
		sample.New(now.Add(-time.Hour), 6, 4, sample.ProvenanceReal),
		sample.New(now.Add(-48*time.Hour), 1, 1, sample.ProvenanceReal),
	)
	h := NewHandler(svc, nil)

	t.Run("default window csv", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/export?format=csv", nil)
		rec := httptest.NewRecorder()
		h.HandleExport(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), ".csv")
		lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
		assert.Len(t, lines, 2)
	})

	t.Run("explicit range json", func(t *testing.T) {
		start := now.Add(-72 * time.Hour).Format(time.RFC3339)
		req := httptest.NewRequest(http.MethodGet, "/v1/export?start="+start, nil)
		rec := httptest.NewRecorder()
		h.HandleExport(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"sample_count": 2`)
	})

	tests := []struct {
		name  string
		query string
	}{
		{"bad format", "format=xml"},
		{"bad start", "start=yesterday"},
		{"inverted", "start=2024-03-02T00:00:00Z&end=2024-03-01T00:00:00Z"},
		{"too wide", "start=2024-01-01T00:00:00Z&end=2024-03-01T00:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/export?"+tt.query, nil)
			rec := httptest.NewRecorder()
			h.HandleExport(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"success":false`)
		})
	}
}
