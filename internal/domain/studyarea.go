package domain

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/jobrunner/cuenca/internal/expr"
)

// Study-area sources.
const (
	SourceAsset      = "asset"
	SourceGeoJSON    = "geojson"
	SourceGeoPackage = "geopackage"
)

// StudyArea is the fixed boundary every request is filtered, clipped and
// aggregated by. It is read-only once loaded.
type StudyArea struct {
	Name        string       `json:"name"`
	Source      string       `json:"source"`
	Ref         string       `json:"ref"`
	Fingerprint string       `json:"fingerprint"`
	Outline     orb.Geometry `json:"-"` // nil until known for remote assets
	Center      orb.Point    `json:"center"`
	Zoom        int          `json:"zoom"`
	LoadedAt    time.Time    `json:"loaded_at"`

	geometry expr.Geometry
}

// NewAssetStudyArea references a remote feature-table asset. Requests use
// the remote geometry directly; the outline is attached separately.
func NewAssetStudyArea(name, assetID string) *StudyArea {
	g := expr.TableGeometry(assetID)
	return &StudyArea{
		Name:        name,
		Source:      SourceAsset,
		Ref:         assetID,
		Fingerprint: g.Digest(),
		LoadedAt:    time.Now(),
		geometry:    g,
	}
}

// NewGeometryStudyArea builds a study area from a local polygonal geometry.
func NewGeometryStudyArea(name, source, ref string, outline orb.Geometry) (*StudyArea, error) {
	g, err := expr.GeometryFromOrb(outline)
	if err != nil {
		return nil, &StudyAreaError{Source: source, Ref: ref, Err: err}
	}
	area := &StudyArea{
		Name:        name,
		Source:      source,
		Ref:         ref,
		Fingerprint: g.Digest(),
		Outline:     outline,
		LoadedAt:    time.Now(),
		geometry:    g,
	}
	area.Center = area.Centroid()
	return area, nil
}

// Geometry returns the server-side geometry used as filter and clip bound.
func (a *StudyArea) Geometry() expr.Geometry {
	return a.geometry
}

// HasOutline reports whether the local outline is known.
func (a *StudyArea) HasOutline() bool {
	return a.Outline != nil
}

// Centroid returns the area-weighted centroid of the outline, or Center when
// no outline is known.
func (a *StudyArea) Centroid() orb.Point {
	if a.Outline == nil {
		return a.Center
	}
	c, _ := planar.CentroidArea(a.Outline)
	return c
}

// Bound returns the outline's bounding box.
func (a *StudyArea) Bound() (orb.Bound, bool) {
	if a.Outline == nil {
		return orb.Bound{}, false
	}
	return a.Outline.Bound(), true
}

// String implements fmt.Stringer.
func (a *StudyArea) String() string {
	return fmt.Sprintf("%s (%s %s)", a.Name, a.Source, a.Ref)
}

// MergePolygons combines polygonal geometries into one outline. A single
// polygon is returned as is; anything else becomes a MultiPolygon.
func MergePolygons(geoms ...orb.Geometry) (orb.Geometry, error) {
	var mp orb.MultiPolygon
	for _, g := range geoms {
		switch v := g.(type) {
		case orb.Polygon:
			mp = append(mp, v)
		case orb.MultiPolygon:
			mp = append(mp, v...)
		case orb.Bound:
			mp = append(mp, v.ToPolygon())
		case orb.Collection:
			merged, err := MergePolygons(v...)
			if err != nil {
				return nil, err
			}
			mp = append(mp, toMultiPolygon(merged)...)
		case nil:
		default:
			return nil, fmt.Errorf("%w: %s geometry is not polygonal", ErrInvalidInput, g.GeoJSONType())
		}
	}
	switch len(mp) {
	case 0:
		return nil, fmt.Errorf("%w: no polygons", ErrInvalidInput)
	case 1:
		return mp[0], nil
	}
	return mp, nil
}

func toMultiPolygon(g orb.Geometry) orb.MultiPolygon {
	if p, ok := g.(orb.Polygon); ok {
		return orb.MultiPolygon{p}
	}
	return g.(orb.MultiPolygon)
}
