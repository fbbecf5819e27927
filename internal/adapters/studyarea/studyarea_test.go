package studyarea

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobrunner/cuenca/internal/adapters/geopackage"
	"github.com/jobrunner/cuenca/internal/adapters/storage"
	"github.com/jobrunner/cuenca/internal/domain"
	"github.com/jobrunner/cuenca/internal/expr"
	"github.com/jobrunner/cuenca/internal/ports/output"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

const chiliPolygon = `{"type":"Polygon","coordinates":[[[-71.6,-16.5],[-71.4,-16.5],[-71.4,-16.3],[-71.6,-16.3],[-71.6,-16.5]]]}`

type stubBackend struct {
	result any
	err    error
	nodes  []expr.Node
}

func (b *stubBackend) Initialize(context.Context) error { return nil }

func (b *stubBackend) Compute(_ context.Context, n expr.Node) (any, error) {
	b.nodes = append(b.nodes, n)
	return b.result, b.err
}

func (b *stubBackend) CreateMap(context.Context, expr.Image, domain.VisParams) (*domain.MapTiles, error) {
	return nil, errors.New("not used")
}

func TestAssetSourceLoad(t *testing.T) {
	backend := &stubBackend{result: map[string]any{
		"type":        "Polygon",
		"coordinates": []any{[]any{[]any{-71.6, -16.5}, []any{-71.4, -16.5}, []any{-71.4, -16.3}, []any{-71.6, -16.3}, []any{-71.6, -16.5}}},
		"geodesic":    false,
	}}
	src := NewAssetSource(backend, "Río Chili", "projects/p/assets/uchumayo", logger)

	area, err := src.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.SourceAsset, area.Source)
	assert.True(t, area.HasOutline())
	assert.InDelta(t, -71.5, area.Center[0], 1e-9)
	assert.InDelta(t, -16.4, area.Center[1], 1e-9)

	require.Len(t, backend.nodes, 1)
	assert.Equal(t, "Collection.geometry", backend.nodes[0].Function())
	assert.Equal(t, "asset:projects/p/assets/uchumayo", src.Describe())
}

func TestAssetSourceRemoteFailure(t *testing.T) {
	backend := &stubBackend{err: &domain.RemoteError{Operation: "compute", Code: 404, Message: "asset not found"}}
	_, err := NewAssetSource(backend, "x", "projects/p/assets/missing", logger).Load(context.Background())

	assert.ErrorIs(t, err, domain.ErrStudyAreaUnavailable)
	assert.ErrorIs(t, err, domain.ErrRemote)
}

func TestAssetSourceRequiresAsset(t *testing.T) {
	_, err := NewAssetSource(&stubBackend{}, "x", "", logger).Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrStudyAreaUnavailable)
}

func TestGeoJSONSourceLoad(t *testing.T) {
	dir := t.TempDir()
	fc := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"name":"a"},"geometry":` + chiliPolygon + `},
		{"type":"Feature","properties":{"name":"b"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}}
	]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.geojson"), []byte(fc), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "z.geojson"), []byte(chiliPolygon), 0644))

	// No key configured: the first GeoJSON object by name is used.
	src := NewGeoJSONSource(storage.NewLocalStorage(dir), "Río Chili", "", logger)
	area, err := src.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "b.geojson", area.Ref)
	mp, ok := area.Outline.(orb.MultiPolygon)
	require.True(t, ok, "features should merge into a multipolygon, got %T", area.Outline)
	assert.Len(t, mp, 2)
}

func TestGeoJSONSourceMissingFile(t *testing.T) {
	src := NewGeoJSONSource(storage.NewLocalStorage(t.TempDir()), "x", "missing.geojson", logger)
	_, err := src.Load(context.Background())

	assert.ErrorIs(t, err, domain.ErrStudyAreaUnavailable)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestGeoJSONSourceEmptyStorage(t *testing.T) {
	src := NewGeoJSONSource(storage.NewLocalStorage(t.TempDir()), "x", "", logger)
	_, err := src.Load(context.Background())

	assert.ErrorIs(t, err, domain.ErrStudyAreaUnavailable)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestParseGeoJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType string
		wantErr  bool
	}{
		{"bare polygon", chiliPolygon, "Polygon", false},
		{"feature", `{"type":"Feature","properties":{},"geometry":` + chiliPolygon + `}`, "Polygon", false},
		{"multipolygon", `{"type":"MultiPolygon","coordinates":[[[[0,0],[1,0],[1,1],[0,0]]],[[[2,2],[3,2],[3,3],[2,2]]]]}`, "MultiPolygon", false},
		{"point", `{"type":"Point","coordinates":[1,2]}`, "", true},
		{"no type", `{"coordinates":[1,2]}`, "", true},
		{"not json", `nope`, "", true},
		{"feature without geometry", `{"type":"Feature","properties":{},"geometry":null}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := ParseGeoJSON([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, g.GeoJSONType())
		})
	}
}

func writeGeoPackage(t *testing.T, path string, geoms ...orb.Geometry) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	stmts := []string{
		`CREATE TABLE gpkg_contents (table_name TEXT PRIMARY KEY, data_type TEXT NOT NULL,
			description TEXT, min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE, srs_id INTEGER)`,
		`CREATE TABLE gpkg_geometry_columns (table_name TEXT, column_name TEXT,
			geometry_type_name TEXT, srs_id INTEGER, z TINYINT, m TINYINT)`,
		`CREATE TABLE cuenca (fid INTEGER PRIMARY KEY, geom BLOB)`,
		`INSERT INTO gpkg_contents (table_name, data_type, srs_id) VALUES ('cuenca', 'features', 4326)`,
		`INSERT INTO gpkg_geometry_columns VALUES ('cuenca', 'geom', 'POLYGON', 4326, 0, 0)`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
	for _, g := range geoms {
		blob, err := geopackage.EncodeGeometry(g, geopackage.WGS84)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO cuenca (geom) VALUES (?)`, blob)
		require.NoError(t, err)
	}
}

func TestGeoPackageSourceLoad(t *testing.T) {
	dir := t.TempDir()
	poly := orb.Polygon{{{-71.6, -16.5}, {-71.4, -16.5}, {-71.4, -16.3}, {-71.6, -16.3}, {-71.6, -16.5}}}
	writeGeoPackage(t, filepath.Join(dir, "uchumayo.gpkg"), poly)

	store := storage.NewInstrumented(storage.NewLocalStorage(dir), nil)
	src := NewGeoPackageSource(store, GeoPackageConfig{Key: "uchumayo.gpkg"}, logger)

	area, err := src.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "uchumayo", area.Name)
	assert.Equal(t, "uchumayo.gpkg#cuenca", area.Ref)
	assert.Equal(t, domain.SourceGeoPackage, area.Source)
	assert.InDelta(t, -71.5, area.Center[0], 1e-9)
	assert.Equal(t, "geopackage:uchumayo.gpkg", src.Describe())
}

func TestGeoPackageSourceUnknownLayer(t *testing.T) {
	dir := t.TempDir()
	writeGeoPackage(t, filepath.Join(dir, "uchumayo.gpkg"), orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}})

	src := NewGeoPackageSource(storage.NewLocalStorage(dir), GeoPackageConfig{Layer: "rios"}, logger)
	_, err := src.Load(context.Background())

	assert.ErrorIs(t, err, domain.ErrStudyAreaUnavailable)
	assert.ErrorIs(t, err, domain.ErrLayerNotFound)
}

// remoteStore hides the local storage type so the source downloads a copy.
type remoteStore struct{ output.ObjectStorage }

func TestGeoPackageSourceDownloadsRemoteFile(t *testing.T) {
	dir := t.TempDir()
	poly := orb.Polygon{{{-71.6, -16.5}, {-71.4, -16.5}, {-71.4, -16.3}, {-71.6, -16.3}, {-71.6, -16.5}}}
	writeGeoPackage(t, filepath.Join(dir, "uchumayo.gpkg"), poly)

	cacheDir := t.TempDir()
	src := NewGeoPackageSource(remoteStore{storage.NewLocalStorage(dir)}, GeoPackageConfig{CacheDir: cacheDir}, logger)

	area, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "uchumayo.gpkg#cuenca", area.Ref)
	assert.FileExists(t, filepath.Join(cacheDir, "uchumayo.gpkg"))
	assert.FileExists(t, filepath.Join(cacheDir, "uchumayo.gpkg.version"))
}
