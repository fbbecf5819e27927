// Package domain contains the index registry, the sensor epochs and the
// request shapes for composites, statistics and series over the study area.
package domain

import "fmt"

// Band is a canonical reflectance band.
type Band int

// Canonical bands, in the order every composite is renamed into.
const (
	Blue Band = iota
	Green
	Red
	NIR
	SWIR1
	SWIR2
)

var canonicalBands = [6]string{"BLUE", "GREEN", "RED", "NIR", "SWIR1", "SWIR2"}

// String returns the canonical band name.
func (b Band) String() string {
	if b < Blue || b > SWIR2 {
		return fmt.Sprintf("Band(%d)", int(b))
	}
	return canonicalBands[b]
}

// CanonicalBands returns the six canonical band names in order.
func CanonicalBands() [6]string {
	return canonicalBands
}

// EpochBoundaryYear is the last year served by the earlier sensor.
const EpochBoundaryYear = 2011

// Sensor is a satellite source with its surface-reflectance band layout.
// RawBands is positionally aligned with CanonicalBands.
type Sensor struct {
	Name         string    `json:"name"`
	CollectionID string    `json:"collection_id"`
	RawBands     [6]string `json:"raw_bands"`
}

var (
	landsat7 = Sensor{
		Name:         "Landsat 7",
		CollectionID: "LANDSAT/LE07/C02/T1_L2",
		RawBands:     [6]string{"SR_B1", "SR_B2", "SR_B3", "SR_B4", "SR_B5", "SR_B7"},
	}
	landsat8 = Sensor{
		Name:         "Landsat 8",
		CollectionID: "LANDSAT/LC08/C02/T1_L2",
		RawBands:     [6]string{"SR_B2", "SR_B3", "SR_B4", "SR_B5", "SR_B6", "SR_B7"},
	}
)

// ResolveSensor returns the sensor that serves the given year. It is total
// over all integers.
func ResolveSensor(year int) Sensor {
	if year <= EpochBoundaryYear {
		return landsat7
	}
	return landsat8
}

// Rename maps each raw band to its canonical name.
func (s Sensor) Rename() map[string]string {
	m := make(map[string]string, len(s.RawBands))
	for i, raw := range s.RawBands {
		m[raw] = canonicalBands[i]
	}
	return m
}
