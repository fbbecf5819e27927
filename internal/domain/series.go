package domain

import "fmt"

// Default series range.
const (
	DefaultStartYear = 2000
	DefaultEndYear   = 2025
)

// MaxSeriesYears is the longest range any series may span. Deployments may
// configure a shorter limit.
const MaxSeriesYears = 200

// SeriesPoint is one year of a series. Value is nil when the year had no
// cloud-filtered scenes or the reduction omitted the index.
type SeriesPoint struct {
	Year  int      `json:"year"`
	Value *float64 `json:"value"`
}

// Present reports whether the point carries a value.
func (p SeriesPoint) Present() bool {
	return p.Value != nil
}

// Series is an annual series over a fixed year range. It always holds one
// point per year in ascending order.
type Series struct {
	Index  IndexName     `json:"index"`
	Start  int           `json:"start"`
	End    int           `json:"end"`
	Points []SeriesPoint `json:"points"`
}

// ValidateYearRange checks that start does not exceed end and that the range
// spans at most maxYears years. maxYears outside 1..MaxSeriesYears means
// MaxSeriesYears.
func ValidateYearRange(start, end, maxYears int) error {
	if start > end {
		return &ValidationError{
			Field:      "start",
			Value:      start,
			Constraint: fmt.Sprintf("<= %d", end),
			Message:    "start year must not be after end year",
		}
	}
	if maxYears <= 0 || maxYears > MaxSeriesYears {
		maxYears = MaxSeriesYears
	}
	// A negative span means end-start overflowed.
	if span := end - start; span < 0 || span >= maxYears {
		return &ValidationError{
			Field:      "end",
			Value:      end,
			Constraint: fmt.Sprintf("at most %d years after start", maxYears-1),
			Message:    fmt.Sprintf("year range must span at most %d years", maxYears),
		}
	}
	return nil
}

// NewSeries returns a series with every year absent.
func NewSeries(index IndexName, start, end int) (*Series, error) {
	if !index.Valid() {
		return nil, &UnsupportedIndexError{Name: string(index)}
	}
	if err := ValidateYearRange(start, end, MaxSeriesYears); err != nil {
		return nil, err
	}
	points := make([]SeriesPoint, end-start+1)
	for i := range points {
		points[i].Year = start + i
	}
	return &Series{Index: index, Start: start, End: end, Points: points}, nil
}

// Years returns the years of the series in order.
func (s *Series) Years() []int {
	years := make([]int, len(s.Points))
	for i, p := range s.Points {
		years[i] = p.Year
	}
	return years
}

// Set stores the value of a year. Years outside the range are ignored.
func (s *Series) Set(year int, v *float64) {
	i := year - s.Start
	if i < 0 || i >= len(s.Points) {
		return
	}
	s.Points[i].Value = v
}

// At returns the point of a year.
func (s *Series) At(year int) (SeriesPoint, bool) {
	i := year - s.Start
	if i < 0 || i >= len(s.Points) {
		return SeriesPoint{}, false
	}
	return s.Points[i], true
}

// Present returns the points that carry a value, in year order.
func (s *Series) Present() []SeriesPoint {
	out := make([]SeriesPoint, 0, len(s.Points))
	for _, p := range s.Points {
		if p.Present() {
			out = append(out, p)
		}
	}
	return out
}

// Between returns the present points with from <= year <= to.
func (s *Series) Between(from, to int) []SeriesPoint {
	out := make([]SeriesPoint, 0)
	for _, p := range s.Points {
		if p.Present() && p.Year >= from && p.Year <= to {
			out = append(out, p)
		}
	}
	return out
}
