package studyarea

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/jobrunner/cuenca/internal/adapters/geopackage"
	"github.com/jobrunner/cuenca/internal/adapters/storage"
	"github.com/jobrunner/cuenca/internal/domain"
	"github.com/jobrunner/cuenca/internal/ports/output"
)

// GeoPackageSource loads the study area from a polygon layer of a GeoPackage.
type GeoPackageSource struct {
	storage  output.ObjectStorage
	reader   *geopackage.Reader
	name     string
	key      string
	layer    string
	cacheDir string
	logger   *slog.Logger
}

// GeoPackageConfig configures a GeoPackageSource.
type GeoPackageConfig struct {
	Name     string
	Key      string // object key, empty selects the first .gpkg
	Layer    string // empty selects the first feature layer
	CacheDir string // download target for remote storage
}

// NewGeoPackageSource creates a GeoPackage source.
func NewGeoPackageSource(store output.ObjectStorage, cfg GeoPackageConfig, logger *slog.Logger) *GeoPackageSource {
	return &GeoPackageSource{
		storage:  store,
		reader:   geopackage.NewReader(),
		name:     cfg.Name,
		key:      cfg.Key,
		layer:    cfg.Layer,
		cacheDir: cfg.CacheDir,
		logger:   logger,
	}
}

// Describe implements output.StudyAreaSource.
func (s *GeoPackageSource) Describe() string {
	ref := s.key
	if ref == "" {
		ref = "<first>"
	}
	if s.layer != "" {
		ref += "#" + s.layer
	}
	return domain.SourceGeoPackage + ":" + ref
}

// Load implements output.StudyAreaSource.
func (s *GeoPackageSource) Load(ctx context.Context) (*domain.StudyArea, error) {
	key, err := resolveKey(ctx, s.storage, s.key, ".gpkg")
	if err != nil {
		return nil, &domain.StudyAreaError{Source: domain.SourceGeoPackage, Ref: s.key, Err: err}
	}

	path, err := s.localPath(ctx, key)
	if err != nil {
		return nil, &domain.StudyAreaError{Source: domain.SourceGeoPackage, Ref: key, Err: err}
	}

	outline, layer, err := s.reader.ReadOutline(ctx, path, s.layer)
	if err != nil {
		return nil, &domain.StudyAreaError{Source: domain.SourceGeoPackage, Ref: key, Err: err}
	}

	name := s.name
	if name == "" {
		name = geopackage.DerivePackageID(key)
	}

	area, err := domain.NewGeometryStudyArea(name, domain.SourceGeoPackage, key+"#"+layer.Name, outline)
	if err != nil {
		return nil, err
	}

	s.logger.Info("study area loaded",
		"source", domain.SourceGeoPackage,
		"key", key,
		"layer", layer.Name,
		"srid", layer.SRID,
		"features", layer.FeatureCount,
	)
	return area, nil
}

// localPath returns a filesystem path for key, downloading it when the
// storage is not local.
func (s *GeoPackageSource) localPath(ctx context.Context, key string) (string, error) {
	if local := asLocal(s.storage); local != nil {
		return local.FullPath(key), nil
	}

	dest := filepath.Join(s.cacheDir, filepath.Base(key))
	downloaded, err := storage.Fetch(ctx, s.storage, key, dest)
	if err != nil {
		return "", err
	}
	s.logger.Debug("study area file fetched", "key", key, "path", dest, "downloaded", downloaded)
	return dest, nil
}

func asLocal(store output.ObjectStorage) *storage.LocalStorage {
	switch v := store.(type) {
	case *storage.LocalStorage:
		return v
	case *storage.Instrumented:
		return asLocal(v.Unwrap())
	}
	return nil
}
