package domain

import (
	"math"

	"github.com/montanaflynn/stats"
)

// DefaultCompareYears are the years preselected for multi-year comparison.
var DefaultCompareYears = []int{2023, 2020, 2017}

// Period is a labelled year range used to summarise a series.
type Period struct {
	Label string `json:"label"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Color string `json:"color"`
}

// DefaultPeriods split the record by sensor generation and recent years.
var DefaultPeriods = []Period{
	{Label: "2000–2006", Start: 2000, End: 2006, Color: "red"},
	{Label: "2007–2012", Start: 2007, End: 2012, Color: "orange"},
	{Label: "2013–2025", Start: 2013, End: 2025, Color: "green"},
}

// PeriodSummary describes the distribution of present values in a period.
type PeriodSummary struct {
	Period
	Count  int       `json:"count"`
	Values []float64 `json:"values"`
	Mean   *float64  `json:"mean"`
	Median *float64  `json:"median"`
	Q1     *float64  `json:"q1"`
	Q3     *float64  `json:"q3"`
	Min    *float64  `json:"min"`
	Max    *float64  `json:"max"`
}

// AnomalyClass grades a deviation against the standard deviation.
type AnomalyClass string

// Anomaly classes.
const (
	AnomalyStrong   AnomalyClass = "strong"   // |a| >= σ
	AnomalyModerate AnomalyClass = "moderate" // |a| >= σ/2
	AnomalyWeak     AnomalyClass = "weak"
)

// Anomaly is the deviation of one year from the historical mean.
type Anomaly struct {
	Year      int          `json:"year"`
	Value     float64      `json:"value"`
	Deviation float64      `json:"deviation"`
	Class     AnomalyClass `json:"class"`
	Color     string       `json:"color"`
}

// Analysis is the multi-year view of a series.
type Analysis struct {
	Index     IndexName       `json:"index"`
	Selected  []int           `json:"selected"`
	Series    *Series         `json:"series"`
	Range     []SeriesPoint   `json:"range"`
	Mean      *float64        `json:"mean"`
	StdDev    *float64        `json:"std_dev"`
	Periods   []PeriodSummary `json:"periods"`
	Anomalies []Anomaly       `json:"anomalies"`
}

// Analyze summarises a series. Range holds the present points between the
// earliest and latest selected year. Anomalies use the population standard
// deviation of every present value.
func Analyze(series *Series, selected []int, periods []Period) *Analysis {
	a := &Analysis{
		Index:     series.Index,
		Selected:  selected,
		Series:    series,
		Range:     []SeriesPoint{},
		Periods:   make([]PeriodSummary, 0, len(periods)),
		Anomalies: []Anomaly{},
	}

	if len(selected) > 0 {
		lo, hi := selected[0], selected[0]
		for _, y := range selected[1:] {
			lo, hi = min(lo, y), max(hi, y)
		}
		a.Range = series.Between(lo, hi)
	}

	present := series.Present()
	for _, p := range periods {
		a.Periods = append(a.Periods, summarise(p, series.Between(p.Start, p.End)))
	}

	if len(present) == 0 {
		return a
	}

	values := valuesOf(present)
	mean, _ := stats.Mean(values)
	std, _ := stats.StandardDeviationPopulation(values)
	a.Mean, a.StdDev = Float(mean), Float(std)

	for _, p := range present {
		dev := *p.Value - mean
		class := ClassifyAnomaly(dev, std)
		a.Anomalies = append(a.Anomalies, Anomaly{
			Year:      p.Year,
			Value:     *p.Value,
			Deviation: dev,
			Class:     class,
			Color:     AnomalyColor(dev, class),
		})
	}
	return a
}

// ClassifyAnomaly grades a deviation. With a zero deviation everything is weak.
func ClassifyAnomaly(dev, std float64) AnomalyClass {
	if std <= 0 || math.IsNaN(std) {
		return AnomalyWeak
	}
	switch d := math.Abs(dev); {
	case d >= std:
		return AnomalyStrong
	case d >= 0.5*std:
		return AnomalyModerate
	default:
		return AnomalyWeak
	}
}

// AnomalyColor returns the bar color of a graded deviation; greens above the
// mean, reds at or below it.
func AnomalyColor(dev float64, class AnomalyClass) string {
	positive := dev > 0
	switch class {
	case AnomalyStrong:
		if positive {
			return "darkgreen"
		}
		return "darkred"
	case AnomalyModerate:
		if positive {
			return "green"
		}
		return "red"
	default:
		if positive {
			return "lightgreen"
		}
		return "lightcoral"
	}
}

func summarise(p Period, points []SeriesPoint) PeriodSummary {
	s := PeriodSummary{Period: p, Count: len(points), Values: valuesOf(points)}
	if len(points) == 0 {
		return s
	}
	data := stats.Float64Data(s.Values)
	if v, err := stats.Mean(data); err == nil {
		s.Mean = Float(v)
	}
	if v, err := stats.Median(data); err == nil {
		s.Median = Float(v)
	}
	if q, err := stats.Quartile(data); err == nil {
		s.Q1, s.Q3 = Float(q.Q1), Float(q.Q3)
	}
	if v, err := stats.Min(data); err == nil {
		s.Min = Float(v)
	}
	if v, err := stats.Max(data); err == nil {
		s.Max = Float(v)
	}
	return s
}

func valuesOf(points []SeriesPoint) []float64 {
	values := make([]float64, 0, len(points))
	for _, p := range points {
		if p.Value != nil {
			values = append(values, *p.Value)
		}
	}
	return values
}
