package geopackage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"

	"github.com/jobrunner/cuenca/internal/domain"
)

func TestDerivePackageID(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{
			name: "simple filename",
			path: "/data/test.gpkg",
			want: "test",
		},
		{
			name: "nested path",
			path: "/var/data/geopackages/germany.gpkg",
			want: "germany",
		},
		{
			name: "relative path",
			path: "data/test.gpkg",
			want: "test",
		},
		{
			name: "filename only",
			path: "test.gpkg",
			want: "test",
		},
		{
			name: "different extension",
			path: "/data/test.sqlite",
			want: "test",
		},
		{
			name: "no extension",
			path: "/data/testfile",
			want: "testfile",
		},
		{
			name: "multiple dots",
			path: "/data/test.backup.gpkg",
			want: "test.backup",
		},
		{
			name: "with spaces",
			path: "/data/my package.gpkg",
			want: "my package",
		},
		{
			name: "empty path",
			path: "",
			want: "",
		},
		{
			name: "just extension",
			path: ".gpkg",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DerivePackageID(tt.path); got != tt.want {
				t.Errorf("DerivePackageID(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestGetSpatiaLiteLibraryPaths(t *testing.T) {
	t.Setenv("SPATIALITE_LIBRARY_PATH", "/opt/spatialite/mod_spatialite.so")

	paths := getSpatiaLiteLibraryPaths()
	if len(paths) != 1 || paths[0] != "/opt/spatialite/mod_spatialite.so" {
		t.Errorf("env override ignored: %v", paths)
	}

	t.Setenv("SPATIALITE_LIBRARY_PATH", "")
	if len(getSpatiaLiteLibraryPaths()) < 2 {
		t.Error("expected platform fallbacks")
	}
}

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}}
}

// writePackage creates a minimal GeoPackage with one feature layer per entry.
func writePackage(t *testing.T, layers map[string][]orb.Geometry, srid int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "area.gpkg")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	stmts := []string{
		`CREATE TABLE gpkg_contents (
			table_name TEXT PRIMARY KEY, data_type TEXT NOT NULL, identifier TEXT,
			description TEXT DEFAULT '', min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE, srs_id INTEGER)`,
		`CREATE TABLE gpkg_geometry_columns (
			table_name TEXT NOT NULL, column_name TEXT NOT NULL, geometry_type_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL, z TINYINT NOT NULL, m TINYINT NOT NULL)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatal(err)
		}
	}

	for name, geoms := range layers {
		mustExec(t, db, fmt.Sprintf(`CREATE TABLE "%s" (fid INTEGER PRIMARY KEY, geom BLOB)`, name))
		mustExec(t, db, `INSERT INTO gpkg_contents (table_name, data_type, srs_id) VALUES (?, 'features', ?)`, name, srid)
		mustExec(t, db, `INSERT INTO gpkg_geometry_columns VALUES (?, 'geom', 'MULTIPOLYGON', ?, 0, 0)`, name, srid)
		for _, g := range geoms {
			blob, err := EncodeGeometry(g, int32(srid))
			if err != nil {
				t.Fatal(err)
			}
			mustExec(t, db, fmt.Sprintf(`INSERT INTO "%s" (geom) VALUES (?)`, name), blob)
		}
	}
	return path
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("%s: %v", query, err)
	}
}

func TestReaderLayers(t *testing.T) {
	path := writePackage(t, map[string][]orb.Geometry{
		"cuenca": {square(-71.6, -16.5, 0.1), square(-71.5, -16.4, 0.1)},
		"rios":   {square(0, 0, 1)},
	}, WGS84)

	layers, err := NewReader().Layers(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(layers) != 2 {
		t.Fatalf("expected 2 layers, got %d", len(layers))
	}
	if layers[0].Name != "cuenca" || layers[0].FeatureCount != 2 || layers[0].SRID != WGS84 {
		t.Errorf("unexpected first layer: %+v", layers[0])
	}
}

func TestReaderReadOutline(t *testing.T) {
	path := writePackage(t, map[string][]orb.Geometry{
		"cuenca": {square(-71.6, -16.5, 0.1), orb.MultiPolygon{square(-71.5, -16.4, 0.1)}},
	}, WGS84)

	outline, layer, err := NewReader().ReadOutline(context.Background(), path, "")
	if err != nil {
		t.Fatal(err)
	}
	if layer.Name != "cuenca" {
		t.Errorf("layer = %s", layer.Name)
	}
	mp, ok := outline.(orb.MultiPolygon)
	if !ok || len(mp) != 2 {
		t.Fatalf("expected 2-part multipolygon, got %T", outline)
	}
	b := mp.Bound()
	if b.Min[0] != -71.6 || b.Max[1] > -16.29 {
		t.Errorf("bound = %v", b)
	}
}

func TestReaderReadOutlineMissingLayer(t *testing.T) {
	path := writePackage(t, map[string][]orb.Geometry{"cuenca": {square(0, 0, 1)}}, WGS84)

	_, _, err := NewReader().ReadOutline(context.Background(), path, "nope")
	if !errors.Is(err, domain.ErrLayerNotFound) {
		t.Fatalf("expected ErrLayerNotFound, got %v", err)
	}
}

func TestReaderReadOutlineMissingFile(t *testing.T) {
	_, _, err := NewReader().ReadOutline(context.Background(), filepath.Join(t.TempDir(), "missing.gpkg"), "")
	var se *domain.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}

func TestDecodeGeometry(t *testing.T) {
	blob, err := EncodeGeometry(square(1, 2, 3), WGS84)
	if err != nil {
		t.Fatal(err)
	}
	g, err := DecodeGeometry(blob)
	if err != nil {
		t.Fatal(err)
	}
	if p, ok := g.(orb.Polygon); !ok || !p.Equal(square(1, 2, 3)) {
		t.Errorf("round trip mismatch: %v", g)
	}

	empty := []byte{'G', 'P', 0, 0x01 | 1<<4, 0, 0, 0, 0}
	if g, err := DecodeGeometry(empty); err != nil || g != nil {
		t.Errorf("empty geometry: %v, %v", g, err)
	}

	if _, err := DecodeGeometry([]byte("not a blob")); !errors.Is(err, ErrInvalidBlob) {
		t.Errorf("expected ErrInvalidBlob, got %v", err)
	}

	withEnvelope := append([]byte{'G', 'P', 0, 0x01 | 1<<1, 0, 0, 0, 0}, make([]byte, 32)...)
	withEnvelope = append(withEnvelope, blob[8:]...)
	if g, err := DecodeGeometry(withEnvelope); err != nil || g == nil {
		t.Errorf("envelope geometry: %v, %v", g, err)
	}
}
