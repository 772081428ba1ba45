package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nicktill/capdiff/pkg/sample"
)

// Ranger reads samples with start <= timestamp < end, sorted ascending
type Ranger interface {
	Range(ctx context.Context, start, end time.Time) ([]sample.Sample, error)
}

// Exporter writes the series to downloadable formats
type Exporter struct {
	source Ranger
	now    func() time.Time
}

// NewExporter creates a new exporter
func NewExporter(source Ranger) *Exporter {
	return &Exporter{source: source, now: time.Now}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	// Time range to export, [Start, End)
	Start time.Time
	End   time.Time

	// Format: "json" or "csv"
	Format string
}

// ExportResult contains stats about the export
type ExportResult struct {
	SamplesExported int       `json:"samples_exported"`
	TimeRange       string    `json:"time_range"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

// ExportToJSON exports samples as JSON to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	samples, err := e.source.Range(ctx, opts.Start, opts.End)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}

	// Create export wrapper with metadata
	exportData := struct {
		Metadata struct {
			ExportedAt  time.Time `json:"exported_at"`
			StartTime   time.Time `json:"start_time"`
			EndTime     time.Time `json:"end_time"`
			SampleCount int       `json:"sample_count"`
			Format      string    `json:"format"`
			Version     string    `json:"version"`
		} `json:"metadata"`
		Samples []sample.Sample `json:"samples"`
	}{
		Samples: samples,
	}

	exportData.Metadata.ExportedAt = e.now().UTC()
	exportData.Metadata.StartTime = opts.Start
	exportData.Metadata.EndTime = opts.End
	exportData.Metadata.SampleCount = len(samples)
	exportData.Metadata.Format = "json"
	exportData.Metadata.Version = "1.0"

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(exportData); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return e.result(opts, "json", len(samples)), nil
}

// ExportToCSV exports samples as CSV to the given writer
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	samples, err := e.source.Range(ctx, opts.Start, opts.End)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}

	writer := csv.NewWriter(w)

	header := []string{"timestamp", "upCapitalization", "downCapitalization", "difference", "source"}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, s := range samples {
		row := []string{
			s.Timestamp.UTC().Format(sample.TimestampLayout),
			formatFloat(s.Up),
			formatFloat(s.Down),
			formatFloat(s.Difference()),
			string(s.Source),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return e.result(opts, "csv", len(samples)), nil
}

func (e *Exporter) result(opts ExportOptions, format string, n int) *ExportResult {
	return &ExportResult{
		SamplesExported: n,
		TimeRange:       fmt.Sprintf("%s to %s", opts.Start.Format(time.RFC3339), opts.End.Format(time.RFC3339)),
		Format:          format,
		ExportedAt:      e.now().UTC(),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
