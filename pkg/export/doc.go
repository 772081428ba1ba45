// Package export writes the stored capitalization series to downloadable files.
//
// # Supported Formats
//
// JSON Format:
//   - Every sample with its timestamp, magnitudes, difference and provenance
//   - Export metadata (timestamp, time range, sample count)
//   - Pretty-printed
//
// CSV Format:
//   - One row per sample, fixed columns:
//     timestamp, upCapitalization, downCapitalization, difference, source
//
// # HTTP API
//
// Export endpoint: GET /v1/export
// Query parameters:
//   - format: "json" or "csv" (default: json)
//   - start: RFC3339 timestamp (default: 24h before end)
//   - end: RFC3339 timestamp (default: now)
//
// Example:
//
//	curl "http://localhost:8080/v1/export?format=csv&start=2024-03-01T00:00:00Z" \
//	  -o capdiff.csv
//
// # Usage Limits
//
//   - Maximum export time range: 30 days
//   - Default export window: 24 hours
//
// There is no import endpoint. The ingestion loop is the only writer of the log.
//
// # Data Format
//
//	{
//	  "metadata": {
//	    "exported_at": "2024-03-02T03:00:00Z",
//	    "start_time": "2024-03-01T03:00:00Z",
//	    "end_time": "2024-03-02T03:00:00Z",
//	    "sample_count": 8640,
//	    "format": "json",
//	    "version": "1.0"
//	  },
//	  "samples": [
//	    {
//	      "timestamp": "2024-03-01T03:00:10.000Z",
//	      "upCapitalization": 5512.1,
//	      "downCapitalization": 15654.3,
//	      "difference": -10142.2,
//	      "source": "real"
//	    }
//	  ]
//	}
package export
