package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jobrunner/cuenca/internal/expr"
)

// Fixed compositing constants.
const (
	CloudCoverProperty = "CLOUD_COVER"
	CloudCoverMax      = 20.0
	Scale              = 30.0
	MaxPixels          = 1e9
)

// CompositeRequest selects an annual index composite.
type CompositeRequest struct {
	Year  int       `json:"year"`
	Index IndexName `json:"index"`
}

// Window returns the annual date window passed to the date filter.
func (r CompositeRequest) Window() (start, end string) {
	return fmt.Sprintf("%04d-01-01", r.Year), fmt.Sprintf("%04d-12-31", r.Year)
}

// Sensor returns the sensor that serves the request year.
func (r CompositeRequest) Sensor() Sensor {
	return ResolveSensor(r.Year)
}

// Validate checks that the index is registered.
func (r CompositeRequest) Validate() error {
	if !r.Index.Valid() {
		return &UnsupportedIndexError{Name: string(r.Index)}
	}
	return nil
}

// FilteredCollection returns the year's scenes over the study area below the
// cloud-cover threshold. Its size decides whether the year has data.
func FilteredCollection(year int, area *StudyArea) expr.ImageCollection {
	req := CompositeRequest{Year: year}
	start, end := req.Window()
	return expr.LoadImageCollection(req.Sensor().CollectionID).
		FilterDate(start, end).
		FilterBounds(area.Geometry()).
		FilterLessThan(CloudCoverProperty, CloudCoverMax)
}

// CanonicalComposite returns the year's median composite renamed to the
// canonical bands.
func CanonicalComposite(year int, area *StudyArea) expr.Image {
	sensor := ResolveSensor(year)
	bands := CanonicalBands()
	return FilteredCollection(year, area).
		Median().
		Select(sensor.RawBands[:]...).
		Rename(bands[:]...)
}

// BuildComposite returns the single-band index image for the request,
// clipped to the study area. The index is validated before anything is built.
func BuildComposite(req CompositeRequest, area *StudyArea) (expr.Image, error) {
	formula, err := FormulaFor(req.Index)
	if err != nil {
		return expr.Image{}, err
	}
	return formula.Apply(CanonicalComposite(req.Year, area)).Clip(area.Geometry()), nil
}

// StatsReducer is mean, min and max combined over shared inputs.
func StatsReducer() expr.Reducer {
	return expr.Mean().Combine(expr.Min()).Combine(expr.Max())
}

// RegionStats reduces an index image to mean, min and max over the study area.
func RegionStats(img expr.Image, area *StudyArea) expr.Node {
	return img.ReduceRegion(StatsReducer(), area.Geometry(), Scale, MaxPixels)
}

// RegionMean reduces an index image to its mean over the study area.
func RegionMean(img expr.Image, area *StudyArea) expr.Node {
	return img.ReduceRegion(expr.Mean(), area.Geometry(), Scale, MaxPixels)
}

// MapTiles is a rendered index layer served by the tile service.
type MapTiles struct {
	Index       IndexName `json:"index"`
	Year        int       `json:"year"`
	Sensor      string    `json:"sensor"`
	MapID       string    `json:"map_id"`
	URL         string    `json:"url"` // template with {z}/{x}/{y}
	Vis         VisParams `json:"vis"`
	Attribution string    `json:"attribution"`
}

// CacheKey builds the content address of an operation over the study area.
func CacheKey(op string, area *StudyArea, args ...any) string {
	parts := make([]string, 0, len(args)+2)
	parts = append(parts, op, area.Fingerprint)
	for _, a := range args {
		switch v := a.(type) {
		case int:
			parts = append(parts, strconv.Itoa(v))
		case []int:
			s := make([]string, len(v))
			for i, y := range v {
				s[i] = strconv.Itoa(y)
			}
			parts = append(parts, strings.Join(s, ","))
		default:
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, "|")
}
