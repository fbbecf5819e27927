package expr

// Image is a lazily evaluated raster.
type Image struct{ Node }

// ImageConstant returns an image with a constant value at every pixel.
func ImageConstant(v float64) Image {
	return Image{Invoke("Image.constant", map[string]Node{"value": Constant(v)})}
}

// Select keeps the given bands, in order.
func (i Image) Select(bands ...string) Image {
	return Image{Invoke("Image.select", map[string]Node{
		"input":         i.Node,
		"bandSelectors": Strings(bands...),
	})}
}

// Rename replaces band names positionally.
func (i Image) Rename(names ...string) Image {
	return Image{Invoke("Image.rename", map[string]Node{
		"input": i.Node,
		"names": Strings(names...),
	})}
}

// NormalizedDifference computes (a-b)/(a+b) over two bands.
func (i Image) NormalizedDifference(a, b string) Image {
	return Image{Invoke("Image.normalizedDifference", map[string]Node{
		"input":     i.Node,
		"bandNames": Strings(a, b),
	})}
}

// Add is per-pixel addition.
func (i Image) Add(o Image) Image { return i.binary("Image.add", o) }

// Subtract is per-pixel subtraction.
func (i Image) Subtract(o Image) Image { return i.binary("Image.subtract", o) }

// Multiply is per-pixel multiplication.
func (i Image) Multiply(o Image) Image { return i.binary("Image.multiply", o) }

// Divide is per-pixel division. The engine masks pixels with a zero divisor.
func (i Image) Divide(o Image) Image { return i.binary("Image.divide", o) }

func (i Image) binary(function string, o Image) Image {
	return Image{Invoke(function, map[string]Node{
		"image1": i.Node,
		"image2": o.Node,
	})}
}

// Clip masks the image outside the geometry.
func (i Image) Clip(g Geometry) Image {
	return Image{Invoke("Image.clip", map[string]Node{
		"input":    i.Node,
		"geometry": g.Node,
	})}
}

// ReduceRegion aggregates the image over a geometry. The result evaluates
// to a dictionary keyed by band name (with reducer suffixes when combined).
func (i Image) ReduceRegion(r Reducer, g Geometry, scale float64, maxPixels float64) Node {
	return Invoke("Image.reduceRegion", map[string]Node{
		"image":     i.Node,
		"reducer":   r.Node,
		"geometry":  g.Node,
		"scale":     Constant(scale),
		"maxPixels": Constant(maxPixels),
	})
}
