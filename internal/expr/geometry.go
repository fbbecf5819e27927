package expr

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Geometry is a server-side geometry.
type Geometry struct{ Node }

// GeometryFromOrb encodes a local polygonal geometry. Only areal geometries
// can bound a study area; bounds are converted to polygons.
func GeometryFromOrb(g orb.Geometry) (Geometry, error) {
	switch v := g.(type) {
	case orb.Polygon:
		return constructed("GeometryConstructors.Polygon", v), nil
	case orb.MultiPolygon:
		return constructed("GeometryConstructors.MultiPolygon", v), nil
	case orb.Bound:
		return constructed("GeometryConstructors.Polygon", v.ToPolygon()), nil
	case orb.Ring:
		return constructed("GeometryConstructors.Polygon", orb.Polygon{v}), nil
	case nil:
		return Geometry{}, fmt.Errorf("expr: nil geometry")
	default:
		return Geometry{}, fmt.Errorf("expr: unsupported geometry type %s", g.GeoJSONType())
	}
}

func constructed(function string, coordinates any) Geometry {
	return Geometry{Invoke(function, map[string]Node{
		"coordinates": Constant(coordinates),
		"geodesic":    Constant(false),
	})}
}

// TableGeometry is the union geometry of a remote feature table asset.
func TableGeometry(assetID string) Geometry {
	table := Invoke("Collection.loadTable", map[string]Node{
		"tableId": Constant(assetID),
	})
	return Geometry{Invoke("Collection.geometry", map[string]Node{
		"collection": table,
	})}
}
