// Package export renders series and statistics as CSV.
package export

import (
	"io"
	"strconv"

	"github.com/gocarina/gocsv"

	"github.com/jobrunner/cuenca/internal/domain"
)

// SeriesRow is one CSV line of a series. Absent values are empty.
type SeriesRow struct {
	Index  string `csv:"index"`
	Year   int    `csv:"year"`
	Sensor string `csv:"sensor"`
	Value  string `csv:"value"`
}

// StatsRow is one CSV line of a comparison.
type StatsRow struct {
	Index string `csv:"index"`
	Year  int    `csv:"year"`
	Mean  string `csv:"mean"`
	Min   string `csv:"min"`
	Max   string `csv:"max"`
}

// SeriesRows converts a series to CSV rows in year order.
func SeriesRows(s *domain.Series) []*SeriesRow {
	rows := make([]*SeriesRow, 0, len(s.Points))
	for _, p := range s.Points {
		rows = append(rows, &SeriesRow{
			Index:  string(s.Index),
			Year:   p.Year,
			Sensor: domain.ResolveSensor(p.Year).Name,
			Value:  FormatValue(p.Value),
		})
	}
	return rows
}

// StatsRows converts statistics to CSV rows.
func StatsRows(stats []domain.Stats) []*StatsRow {
	rows := make([]*StatsRow, 0, len(stats))
	for _, st := range stats {
		rows = append(rows, &StatsRow{
			Index: string(st.Index),
			Year:  st.Year,
			Mean:  FormatValue(st.Mean),
			Min:   FormatValue(st.Min),
			Max:   FormatValue(st.Max),
		})
	}
	return rows
}

// WriteSeries writes a series as CSV with a header line.
func WriteSeries(w io.Writer, s *domain.Series) error {
	return gocsv.Marshal(SeriesRows(s), w)
}

// WriteStats writes statistics as CSV with a header line.
func WriteStats(w io.Writer, stats []domain.Stats) error {
	return gocsv.Marshal(StatsRows(stats), w)
}

// ReadSeries parses a CSV written by WriteSeries.
func ReadSeries(r io.Reader) ([]*SeriesRow, error) {
	var rows []*SeriesRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// FormatValue renders a value with six decimals, or "" when absent.
func FormatValue(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 6, 64)
}
