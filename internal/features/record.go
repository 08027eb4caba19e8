// Package features turns raw repository scan records into training matrices.
package features

import (
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Record is one repository snapshot: feature name to numeric, boolean or
// descriptive value. Keys differ between records.
type Record map[string]any

// Number returns the numeric reading of key. Booleans read as 0 or 1.
// Strings, nested values, NaN and infinities are not numeric.
func (r Record) Number(key string) (float64, bool) {
	return numeric(r[key])
}

// Get returns the numeric reading of key or 0
func (r Record) Get(key string) float64 {
	v, _ := r.Number(key)
	return v
}

// String returns a string-valued feature
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Clone returns a shallow copy
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func numeric(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		parsed, err := strconv.ParseFloat(string(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Sample is a raw record tied to the repository it describes
type Sample struct {
	RepoID     string    `json:"repo"`
	URL        string    `json:"url,omitempty"`
	Features   Record    `json:"features"`
	ObservedAt time.Time `json:"observedAt,omitempty"`
}

// ID is the repository identifier used for hashing and de-duplication
func (s Sample) ID() string {
	if s.RepoID != "" {
		return s.RepoID
	}
	return s.URL
}

// Example is a sample with its quality label. Observed marks labels that came
// from user feedback rather than the heuristic label function.
type Example struct {
	RepoID   string  `json:"repo"`
	Features Record  `json:"features"`
	Quality  float64 `json:"quality"`
	Observed bool    `json:"observed,omitempty"`
}

// Labels returns the quality column of examples
func Labels(examples []Example) []float64 {
	y := make([]float64, len(examples))
	for i, ex := range examples {
		y[i] = ex.Quality
	}
	return y
}
