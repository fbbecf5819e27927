package expr

// ImageCollection is a lazily evaluated stack of images.
type ImageCollection struct{ Node }

// LoadImageCollection references a catalog collection by id.
func LoadImageCollection(id string) ImageCollection {
	return ImageCollection{Invoke("ImageCollection.load", map[string]Node{
		"id": Constant(id),
	})}
}

// FilterDate keeps images acquired in [start, end). Dates are ISO strings.
func (c ImageCollection) FilterDate(start, end string) ImageCollection {
	return c.filter(Invoke("Filter.dateRangeContains", map[string]Node{
		"leftValue": Invoke("DateRange", map[string]Node{
			"start": Constant(start),
			"end":   Constant(end),
		}),
		"rightField": Constant("system:time_start"),
	}))
}

// FilterBounds keeps images whose footprint intersects the geometry.
func (c ImageCollection) FilterBounds(g Geometry) ImageCollection {
	return c.filter(Invoke("Filter.intersects", map[string]Node{
		"leftField":  Constant(".all"),
		"rightValue": g.Node,
	}))
}

// FilterLessThan keeps images whose metadata property is below value.
func (c ImageCollection) FilterLessThan(property string, value float64) ImageCollection {
	return c.filter(Invoke("Filter.lessThan", map[string]Node{
		"leftField":  Constant(property),
		"rightValue": Constant(value),
	}))
}

func (c ImageCollection) filter(f Node) ImageCollection {
	return ImageCollection{Invoke("Collection.filter", map[string]Node{
		"collection": c.Node,
		"filter":     f,
	})}
}

// Median is the per-pixel temporal median. Band names are preserved.
func (c ImageCollection) Median() Image {
	return Image{Invoke("reduce.median", map[string]Node{
		"collection": c.Node,
	})}
}

// Size evaluates to the number of images in the collection.
func (c ImageCollection) Size() Node {
	return Invoke("Collection.size", map[string]Node{
		"collection": c.Node,
	})
}
