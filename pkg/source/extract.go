package source

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// extractor pulls raw up/down magnitudes out of a decoded payload
type extractor struct {
	name string
	fn   func(payload map[string]interface{}) (up, down float64, ok bool)
}

// extractors in priority order; the first structural match wins
var extractors = []extractor{
	{name: "increase_decrease", fn: func(p map[string]interface{}) (float64, float64, bool) {
		return pair(p, "increase", "decrease")
	}},
	{name: "nested", fn: func(p map[string]interface{}) (float64, float64, bool) {
		nested, ok := p["data"].(map[string]interface{})
		if !ok {
			return 0, 0, false
		}
		if up, down, ok := pair(nested, "increase", "decrease"); ok {
			return up, down, true
		}
		return pair(nested, "upValue", "downValue")
	}},
	{name: "up_down", fn: func(p map[string]interface{}) (float64, float64, bool) {
		return pair(p, "up", "down")
	}},
}

// extract runs the extractors against a payload. Both magnitudes must be
// present and numeric; zero is a valid value.
func extract(body []byte) (up, down float64, name string, err error) {
	var payload map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return 0, 0, "", err
	}

	for _, e := range extractors {
		if up, down, ok := e.fn(payload); ok {
			return up, down, e.name, nil
		}
	}
	return 0, 0, "", errNoShape
}

func pair(m map[string]interface{}, upKey, downKey string) (float64, float64, bool) {
	up, ok := number(m[upKey])
	if !ok {
		return 0, 0, false
	}
	down, ok := number(m[downKey])
	if !ok {
		return 0, 0, false
	}
	return up, down, true
}

// number accepts finite JSON numbers and numeric strings
func number(v interface{}) (float64, bool) {
	var f float64
	var err error
	switch n := v.(type) {
	case json.Number:
		f, err = n.Float64()
	case float64:
		f = n
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
