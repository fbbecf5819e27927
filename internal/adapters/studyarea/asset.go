// Package studyarea provides the sources a study-area boundary is loaded from.
package studyarea

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/cuenca/internal/domain"
	"github.com/jobrunner/cuenca/internal/ports/output"
)

// AssetSource loads the study area from a remote feature-table asset.
type AssetSource struct {
	backend output.ComputeBackend
	name    string
	assetID string
	logger  *slog.Logger
}

// NewAssetSource creates a source for assetID.
func NewAssetSource(backend output.ComputeBackend, name, assetID string, logger *slog.Logger) *AssetSource {
	return &AssetSource{backend: backend, name: name, assetID: assetID, logger: logger}
}

// Describe implements output.StudyAreaSource.
func (s *AssetSource) Describe() string {
	return domain.SourceAsset + ":" + s.assetID
}

// Load implements output.StudyAreaSource. The asset geometry is evaluated
// once so the outline and centroid are known locally; requests keep using
// the remote table geometry.
func (s *AssetSource) Load(ctx context.Context) (*domain.StudyArea, error) {
	if s.assetID == "" {
		return nil, s.fail(fmt.Errorf("%w: no asset configured", domain.ErrInvalidInput))
	}

	area := domain.NewAssetStudyArea(s.name, s.assetID)

	result, err := s.backend.Compute(ctx, area.Geometry().Node)
	if err != nil {
		return nil, s.fail(err)
	}

	outline, err := geometryFromResult(result)
	if err != nil {
		return nil, s.fail(err)
	}

	area.Outline = outline
	area.Center = area.Centroid()

	s.logger.Info("study area loaded",
		"source", domain.SourceAsset,
		"asset", s.assetID,
		"type", outline.GeoJSONType(),
	)
	return area, nil
}

func (s *AssetSource) fail(err error) error {
	return &domain.StudyAreaError{Source: domain.SourceAsset, Ref: s.assetID, Err: err}
}

// geometryFromResult decodes the GeoJSON geometry returned by a compute call.
func geometryFromResult(result any) (orb.Geometry, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: empty geometry", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("decoding geometry: %w", err)
	}
	return domain.MergePolygons(g.Geometry())
}
