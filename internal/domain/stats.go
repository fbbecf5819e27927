package domain

import (
	"encoding/json"
	"math"
	"strconv"
)

// Statistic suffixes produced by the combined reducer.
const (
	SuffixMean = "_mean"
	SuffixMin  = "_min"
	SuffixMax  = "_max"
)

// Stats are the regional statistics of one annual composite. A nil field
// means the value is absent, which is distinct from zero.
type Stats struct {
	Index IndexName `json:"index"`
	Year  int       `json:"year"`
	Mean  *float64  `json:"mean"`
	Min   *float64  `json:"min"`
	Max   *float64  `json:"max"`
}

// EmptyStats returns all-absent statistics for a year without data.
func EmptyStats(index IndexName, year int) Stats {
	return Stats{Index: index, Year: year}
}

// StatsFromResult reads the combined reduction dictionary. Missing or
// non-numeric keys become absent.
func StatsFromResult(index IndexName, year int, result any) Stats {
	dict, _ := result.(map[string]any)
	name := string(index)
	return Stats{
		Index: index,
		Year:  year,
		Mean:  numberAt(dict, name+SuffixMean),
		Min:   numberAt(dict, name+SuffixMin),
		Max:   numberAt(dict, name+SuffixMax),
	}
}

// MeanFromResult reads a mean reduction dictionary, keyed by the band name.
func MeanFromResult(index IndexName, result any) *float64 {
	dict, _ := result.(map[string]any)
	return numberAt(dict, string(index))
}

// Keyed returns the statistics keyed <INDEX>_mean, <INDEX>_min, <INDEX>_max.
func (s Stats) Keyed() map[string]*float64 {
	name := string(s.Index)
	return map[string]*float64{
		name + SuffixMean: s.Mean,
		name + SuffixMin:  s.Min,
		name + SuffixMax:  s.Max,
	}
}

// Empty reports whether every statistic is absent.
func (s Stats) Empty() bool {
	return s.Mean == nil && s.Min == nil && s.Max == nil
}

// Float returns a pointer to v, or nil when v is NaN or infinite.
func Float(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func numberAt(dict map[string]any, key string) *float64 {
	if dict == nil {
		return nil
	}
	return Number(dict[key])
}

// Number converts a decoded JSON value to a float, or nil if it is not a
// finite number.
func Number(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return Float(n)
	case float32:
		return Float(float64(n))
	case int:
		return Float(float64(n))
	case int64:
		return Float(float64(n))
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil
		}
		return Float(f)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return nil
		}
		return Float(f)
	default:
		return nil
	}
}
