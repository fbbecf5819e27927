// Package geopackage reads polygon outlines from GeoPackage files.
package geopackage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/jobrunner/cuenca/internal/domain"
)

// WGS84 is the only SRS outlines are returned in.
const WGS84 = 4326

const spatialDriver = "sqlite3_with_extensions"

// Ensure sqlite3 driver is registered with extension support. SpatiaLite is
// only needed for layers stored in a projected SRS.
func init() {
	sql.Register(spatialDriver, &sqlite3.SQLiteDriver{
		Extensions: getSpatiaLiteLibraryPaths(),
	})
}

// getSpatiaLiteLibraryPaths returns a list of paths to try for loading SpatiaLite.
// The environment variable wins over platform-specific paths.
func getSpatiaLiteLibraryPaths() []string {
	if envPath := os.Getenv("SPATIALITE_LIBRARY_PATH"); envPath != "" {
		return []string{envPath}
	}

	return []string{
		// Alpine Linux (Docker containers)
		"/usr/lib/mod_spatialite.so",
		"/usr/lib/mod_spatialite.so.8",

		// Debian/Ubuntu
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so",
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so",

		// macOS Homebrew
		"/usr/local/lib/mod_spatialite.dylib",
		"/opt/homebrew/lib/mod_spatialite.dylib",

		"mod_spatialite",
	}
}

// Layer describes a feature layer of a GeoPackage.
type Layer struct {
	Name           string
	Description    string
	GeometryColumn string
	GeometryType   string
	SRID           int
	Extent         orb.Bound
	FeatureCount   int64
}

// geographic reports whether the layer needs no reprojection. GeoPackage
// reserves -1 and 0 for undefined cartesian and geographic systems.
func (l Layer) geographic() bool {
	return l.SRID == WGS84 || l.SRID == 0 || l.SRID == -1
}

// Reader reads outlines from GeoPackage files.
type Reader struct{}

// NewReader creates a new GeoPackage reader.
func NewReader() *Reader {
	return &Reader{}
}

// Layers lists the feature layers of the file at path.
func (r *Reader) Layers(ctx context.Context, path string) ([]Layer, error) {
	db, err := openDB(ctx, "sqlite3", path)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}
	defer func() { _ = db.Close() }()

	return readLayers(ctx, db)
}

// ReadOutline merges every polygon of a layer into one outline in WGS84.
// An empty layer name selects the first feature layer.
func (r *Reader) ReadOutline(ctx context.Context, path, layerName string) (orb.Geometry, *Layer, error) {
	db, err := openDB(ctx, "sqlite3", path)
	if err != nil {
		return nil, nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}

	layers, err := readLayers(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	layer, err := pickLayer(layers, layerName)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	var geoms []orb.Geometry
	if layer.geographic() {
		geoms, err = readGeometries(ctx, db, layer)
		_ = db.Close()
	} else {
		_ = db.Close()
		geoms, err = readTransformed(ctx, path, layer)
	}
	if err != nil {
		return nil, nil, err
	}

	outline, err := domain.MergePolygons(geoms...)
	if err != nil {
		return nil, nil, fmt.Errorf("layer %s: %w", layer.Name, err)
	}
	return outline, layer, nil
}

func pickLayer(layers []Layer, name string) (*Layer, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("%w: no feature layers", domain.ErrLayerNotFound)
	}
	if name == "" {
		return &layers[0], nil
	}
	for i := range layers {
		if layers[i].Name == name {
			return &layers[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrLayerNotFound, name)
}

// openDB opens the GeoPackage read-only.
func openDB(ctx context.Context, driver, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// readLayers reads layer information from gpkg_contents.
func readLayers(ctx context.Context, db *sql.DB) ([]Layer, error) {
	query := `
		SELECT
			c.table_name,
			COALESCE(c.description, ''),
			g.column_name,
			g.geometry_type_name,
			g.srs_id,
			COALESCE(c.min_x, 0), COALESCE(c.min_y, 0),
			COALESCE(c.max_x, 0), COALESCE(c.max_y, 0)
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON c.table_name = g.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.table_name
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading layers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var layers []Layer
	for rows.Next() {
		var l Layer
		var minX, minY, maxX, maxY float64

		err := rows.Scan(
			&l.Name, &l.Description, &l.GeometryColumn,
			&l.GeometryType, &l.SRID,
			&minX, &minY, &maxX, &maxY,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning layer: %w", err)
		}
		l.Extent = orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}

		countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, l.Name) //#nosec G201 -- table name from trusted database source
		var count int64
		if err := db.QueryRowContext(ctx, countQuery).Scan(&count); err == nil {
			l.FeatureCount = count
		}

		layers = append(layers, l)
	}

	return layers, rows.Err()
}

// readGeometries decodes the standard GeoPackage binary column directly.
func readGeometries(ctx context.Context, db *sql.DB, layer *Layer) ([]orb.Geometry, error) {
	query := fmt.Sprintf(`SELECT "%s" FROM "%s" WHERE "%s" IS NOT NULL`,
		layer.GeometryColumn, layer.Name, layer.GeometryColumn) //#nosec G201 -- names from trusted database source

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", layer.Name, err)
	}
	defer func() { _ = rows.Close() }()

	var geoms []orb.Geometry
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scanning geometry: %w", err)
		}
		g, err := DecodeGeometry(blob)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", layer.Name, err)
		}
		if g != nil {
			geoms = append(geoms, g)
		}
	}
	return geoms, rows.Err()
}

// readTransformed reprojects a layer to WGS84 through SpatiaLite.
func readTransformed(ctx context.Context, path string, layer *Layer) ([]orb.Geometry, error) {
	db, err := openDB(ctx, spatialDriver, path)
	if err != nil {
		return nil, fmt.Errorf("layer %s uses SRS %d and SpatiaLite is unavailable: %w", layer.Name, layer.SRID, err)
	}
	defer func() { _ = db.Close() }()

	query := fmt.Sprintf(`SELECT AsBinary(Transform(GeomFromGPB("%s"), %d)) FROM "%s" WHERE "%s" IS NOT NULL`,
		layer.GeometryColumn, WGS84, layer.Name, layer.GeometryColumn) //#nosec G201 -- names from trusted database source

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("transforming %s from SRS %d: %w", layer.Name, layer.SRID, err)
	}
	defer func() { _ = rows.Close() }()

	var geoms []orb.Geometry
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scanning geometry: %w", err)
		}
		g, err := wkb.Unmarshal(blob)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", layer.Name, err)
		}
		geoms = append(geoms, g)
	}
	return geoms, rows.Err()
}

// ErrInvalidBlob is returned for bytes that are not a GeoPackage geometry.
var ErrInvalidBlob = errors.New("invalid GeoPackage geometry blob")

// Header flag bits.
const (
	flagEmpty        = 1 << 4
	envelopeMask     = 0x0e
	headerFixedBytes = 8
)

// DecodeGeometry parses a GeoPackage binary geometry: the "GP" header with
// optional envelope followed by WKB. Empty geometries decode to nil.
func DecodeGeometry(blob []byte) (orb.Geometry, error) {
	if len(blob) < headerFixedBytes || blob[0] != 'G' || blob[1] != 'P' {
		return nil, ErrInvalidBlob
	}
	flags := blob[3]
	if flags&flagEmpty != 0 {
		return nil, nil
	}

	var envelope int
	switch (flags & envelopeMask) >> 1 {
	case 0:
	case 1:
		envelope = 32
	case 2, 3:
		envelope = 48
	case 4:
		envelope = 64
	default:
		return nil, fmt.Errorf("%w: envelope indicator", ErrInvalidBlob)
	}

	start := headerFixedBytes + envelope
	if len(blob) <= start {
		return nil, fmt.Errorf("%w: truncated", ErrInvalidBlob)
	}
	return wkb.Unmarshal(blob[start:])
}

// EncodeGeometry writes g as a GeoPackage binary geometry without envelope.
func EncodeGeometry(g orb.Geometry, srid int32) ([]byte, error) {
	body, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	header := make([]byte, headerFixedBytes)
	header[0], header[1] = 'G', 'P'
	header[3] = 0x01 // little endian, no envelope
	binary.LittleEndian.PutUint32(header[4:], uint32(srid))
	return append(header, body...), nil
}

// DerivePackageID derives a package ID from the file path.
// It extracts the filename without extension as the package identifier.
func DerivePackageID(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext)
}
