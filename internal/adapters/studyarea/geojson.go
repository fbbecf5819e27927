package studyarea

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/cuenca/internal/domain"
	"github.com/jobrunner/cuenca/internal/ports/output"
)

// maxGeoJSONSize bounds how much of a boundary file is read.
const maxGeoJSONSize = 64 << 20

// GeoJSONSource loads the study area from a GeoJSON file in object storage.
type GeoJSONSource struct {
	storage output.ObjectStorage
	name    string
	key     string
	logger  *slog.Logger
}

// NewGeoJSONSource creates a source for key. An empty key selects the first
// GeoJSON object in storage.
func NewGeoJSONSource(storage output.ObjectStorage, name, key string, logger *slog.Logger) *GeoJSONSource {
	return &GeoJSONSource{storage: storage, name: name, key: key, logger: logger}
}

// Describe implements output.StudyAreaSource.
func (s *GeoJSONSource) Describe() string {
	if s.key == "" {
		return domain.SourceGeoJSON + ":<first>"
	}
	return domain.SourceGeoJSON + ":" + s.key
}

// Load implements output.StudyAreaSource.
func (s *GeoJSONSource) Load(ctx context.Context) (*domain.StudyArea, error) {
	key, err := resolveKey(ctx, s.storage, s.key, ".geojson", ".json")
	if err != nil {
		return nil, &domain.StudyAreaError{Source: domain.SourceGeoJSON, Ref: s.key, Err: err}
	}

	outline, err := s.read(ctx, key)
	if err != nil {
		return nil, &domain.StudyAreaError{Source: domain.SourceGeoJSON, Ref: key, Err: err}
	}

	area, err := domain.NewGeometryStudyArea(s.name, domain.SourceGeoJSON, key, outline)
	if err != nil {
		return nil, err
	}

	s.logger.Info("study area loaded",
		"source", domain.SourceGeoJSON,
		"key", key,
		"type", outline.GeoJSONType(),
	)
	return area, nil
}

func (s *GeoJSONSource) read(ctx context.Context, key string) (orb.Geometry, error) {
	r, err := s.storage.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(io.LimitReader(r, maxGeoJSONSize))
	if err != nil {
		return nil, err
	}
	return ParseGeoJSON(data)
}

// ParseGeoJSON reads a FeatureCollection, a Feature or a bare geometry and
// merges its polygons into one outline.
func ParseGeoJSON(data []byte) (orb.Geometry, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decoding GeoJSON: %w", err)
	}

	switch probe.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("decoding feature collection: %w", err)
		}
		geoms := make([]orb.Geometry, 0, len(fc.Features))
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
		return domain.MergePolygons(geoms...)

	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("decoding feature: %w", err)
		}
		return domain.MergePolygons(f.Geometry)

	case "":
		return nil, fmt.Errorf("%w: GeoJSON without type", domain.ErrInvalidInput)

	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("decoding geometry: %w", err)
		}
		return domain.MergePolygons(g.Geometry())
	}
}
