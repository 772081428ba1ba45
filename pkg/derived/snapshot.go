package derived

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// ErrSnapshotNotFound is returned when the producer has not written the file yet.
var ErrSnapshotNotFound = errors.New("chart data file not found")

// Tooltip keys and phrase templates written by the chart scraper
const (
	UpKey   = "-100,40"
	DownKey = "-20,40"
)

var (
	upPattern   = regexp.MustCompile(`Tăng: ([\d,.]+) tỷ`)
	downPattern = regexp.MustCompile(`Giảm: ([\d,.]+) tỷ`)
)

// Point is one derived observation. The timestamp is passed through as the
// producer wrote it.
type Point struct {
	Timestamp  string  `json:"timestamp"`
	Up         float64 `json:"upCapitalization"`
	Down       float64 `json:"downCapitalization"`
	Difference float64 `json:"difference"`
}

// entry is decoded loosely; the producer is external
type entry struct {
	Timestamp json.RawMessage `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// phrases returns the string values of the data object. Anything else,
// including a non-object data field, has no phrases.
func (e entry) phrases() map[string]string {
	var raw map[string]interface{}
	if err := json.Unmarshal(e.Data, &raw); err != nil {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if str, ok := v.(string); ok {
			out[k] = str
		}
	}
	return out
}

// timestamp passes a string through unquoted and any other value as written
func (e entry) timestamp() string {
	var str string
	if err := json.Unmarshal(e.Timestamp, &str); err == nil {
		return str
	}
	if string(e.Timestamp) == "null" {
		return ""
	}
	return string(e.Timestamp)
}

// ReadFile parses the snapshot file at path.
func ReadFile(path string) ([]Point, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return Parse(data)
}

// Parse converts snapshot entries to points. A phrase that is missing, is
// not a string, or does not match its template yields zero for that side.
func Parse(data []byte) ([]Point, error) {
	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}

	points := make([]Point, 0, len(entries))
	for _, e := range entries {
		phrases := e.phrases()
		up := match(upPattern, phrases[UpKey])
		down := match(downPattern, phrases[DownKey])
		points = append(points, Point{
			Timestamp:  e.timestamp(),
			Up:         up,
			Down:       down,
			Difference: up - down,
		})
	}
	return points, nil
}

// match extracts the captured amount; thousands separators are dropped
func match(re *regexp.Regexp, phrase string) float64 {
	m := re.FindStringSubmatch(phrase)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0
	}
	return v
}
