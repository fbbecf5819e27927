package domain

import (
	"math"
	"strings"

	"github.com/jobrunner/cuenca/internal/expr"
)

// IndexName identifies a spectral index.
type IndexName string

// Supported indices.
const (
	NDVI  IndexName = "NDVI"
	SAVI  IndexName = "SAVI"
	EVI   IndexName = "EVI"
	GNDVI IndexName = "GNDVI"
	LSWI  IndexName = "LSWI"
	NDWI  IndexName = "NDWI"
	MNDWI IndexName = "MNDWI"
)

// IndexCategory groups indices by what they measure.
type IndexCategory string

// Index categories.
const (
	CategoryVegetation IndexCategory = "vegetation"
	CategoryWater      IndexCategory = "water"
)

// VisParams are the rendering parameters handed to the tile service.
type VisParams struct {
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Palette []string `json:"palette"`
}

// IndexDefinition describes a registered index.
type IndexDefinition struct {
	Name     IndexName     `json:"name"`
	Title    string        `json:"title"`
	Category IndexCategory `json:"category"`
	Formula  Formula       `json:"formula"`
	Vis      VisParams     `json:"vis"`
}

var (
	vegetationVis = VisParams{Min: -0.2, Max: 0.9, Palette: []string{"brown", "yellow", "green"}}

	// Registration order is the display order.
	indexOrder = []IndexName{NDVI, SAVI, EVI, GNDVI, LSWI, NDWI, MNDWI}

	registry = map[IndexName]IndexDefinition{
		NDVI: {
			Title:    "Índice de Vegetación de Diferencia Normalizada",
			Category: CategoryVegetation,
			Formula:  newFormula("(NIR - RED) / (NIR + RED)", nd(NIR, Red)),
			Vis:      vegetationVis,
		},
		SAVI: {
			Title:    "Índice de Vegetación Ajustado al Suelo",
			Category: CategoryVegetation,
			Formula: newFormula("(NIR - RED) / (NIR + RED + 0.5) * 1.5",
				mul(div(sub(band(NIR), band(Red)), add(add(band(NIR), band(Red)), num(0.5))), num(1.5))),
			Vis: vegetationVis,
		},
		EVI: {
			Title:    "Índice de Vegetación Mejorado",
			Category: CategoryVegetation,
			Formula: newFormula("2.5 * (NIR - RED) / (NIR + 6 * RED - 7.5 * BLUE + 1)",
				mul(num(2.5), div(
					sub(band(NIR), band(Red)),
					add(sub(add(band(NIR), mul(num(6), band(Red))), mul(num(7.5), band(Blue))), num(1)),
				))),
			Vis: vegetationVis,
		},
		GNDVI: {
			Title:    "Índice de Vegetación Verde Normalizado",
			Category: CategoryVegetation,
			Formula:  newFormula("(NIR - GREEN) / (NIR + GREEN)", nd(NIR, Green)),
			Vis:      vegetationVis,
		},
		LSWI: {
			Title:    "Índice de Agua en Onda Corta",
			Category: CategoryWater,
			Formula:  newFormula("(NIR - SWIR1) / (NIR + SWIR1)", nd(NIR, SWIR1)),
			Vis:      VisParams{Min: -0.5, Max: 0.8, Palette: []string{"brown", "white", "blue"}},
		},
		NDWI: {
			Title:    "Índice de Agua de Diferencia Normalizada",
			Category: CategoryWater,
			Formula:  newFormula("(GREEN - NIR) / (GREEN + NIR)", nd(Green, NIR)),
			Vis:      VisParams{Min: -0.5, Max: 0.8, Palette: []string{"white", "cyan", "blue"}},
		},
		MNDWI: {
			Title:    "Índice de Agua Modificado",
			Category: CategoryWater,
			Formula:  newFormula("(GREEN - SWIR1) / (GREEN + SWIR1)", nd(Green, SWIR1)),
			Vis:      VisParams{Min: -0.5, Max: 0.8, Palette: []string{"white", "lightblue", "darkblue"}},
		},
	}
)

func init() {
	for name, def := range registry {
		def.Name = name
		def.Formula.index = name
		registry[name] = def
	}
}

// ParseIndexName resolves a user-supplied name, ignoring case and
// surrounding whitespace.
func ParseIndexName(s string) (IndexName, error) {
	name := IndexName(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := registry[name]; !ok {
		return "", &UnsupportedIndexError{Name: s}
	}
	return name, nil
}

// Valid reports whether the index is registered.
func (n IndexName) Valid() bool {
	_, ok := registry[n]
	return ok
}

// AllIndices returns every registered index in display order.
func AllIndices() []IndexName {
	out := make([]IndexName, len(indexOrder))
	copy(out, indexOrder)
	return out
}

// Definitions returns every registered index definition in display order.
func Definitions() []IndexDefinition {
	defs := make([]IndexDefinition, 0, len(indexOrder))
	for _, n := range indexOrder {
		defs = append(defs, registry[n])
	}
	return defs
}

// Lookup returns the definition of an index.
func Lookup(name IndexName) (IndexDefinition, error) {
	def, ok := registry[name]
	if !ok {
		return IndexDefinition{}, &UnsupportedIndexError{Name: string(name)}
	}
	return def, nil
}

// FormulaFor returns the formula of an index.
func FormulaFor(name IndexName) (Formula, error) {
	def, err := Lookup(name)
	if err != nil {
		return Formula{}, err
	}
	return def.Formula, nil
}

// Pixel holds the canonical reflectances of one location, indexed by Band.
type Pixel [6]float64

// Formula is a band-math definition over canonical bands. The same
// definition builds the remote graph and evaluates locally.
type Formula struct {
	index      IndexName
	expression string
	root       term
}

func newFormula(expression string, root term) Formula {
	return Formula{expression: expression, root: root}
}

// Index returns the index the formula belongs to.
func (f Formula) Index() IndexName { return f.index }

// String returns the formula in infix notation.
func (f Formula) String() string { return f.expression }

// MarshalText renders the formula as its infix notation.
func (f Formula) MarshalText() ([]byte, error) { return []byte(f.expression), nil }

// Apply builds the single-band index image from a canonical image.
func (f Formula) Apply(img expr.Image) expr.Image {
	return f.root.image(img).Rename(string(f.index))
}

// Eval computes the index for one pixel. A zero denominator yields NaN.
func (f Formula) Eval(p Pixel) float64 {
	return f.root.eval(p)
}

// Bands returns the canonical bands the formula reads, in band order.
func (f Formula) Bands() []Band {
	seen := map[Band]bool{}
	f.root.bands(seen)
	var out []Band
	for b := Blue; b <= SWIR2; b++ {
		if seen[b] {
			out = append(out, b)
		}
	}
	return out
}

// NormalizedDifference returns (a-b)/(a+b), or NaN when a+b is zero.
func NormalizedDifference(a, b float64) float64 {
	sum := a + b
	if sum == 0 {
		return math.NaN()
	}
	return (a - b) / sum
}

type term interface {
	eval(p Pixel) float64
	image(src expr.Image) expr.Image
	bands(seen map[Band]bool)
}

type bandTerm Band

func band(b Band) term { return bandTerm(b) }

func (t bandTerm) eval(p Pixel) float64 { return p[Band(t)] }
func (t bandTerm) image(src expr.Image) expr.Image { return src.Select(Band(t).String()) }
func (t bandTerm) bands(seen map[Band]bool) { seen[Band(t)] = true }

type numTerm float64

func num(v float64) term { return numTerm(v) }

func (t numTerm) eval(Pixel) float64 { return float64(t) }
func (t numTerm) image(expr.Image) expr.Image { return expr.ImageConstant(float64(t)) }
func (t numTerm) bands(map[Band]bool) {}

type ndTerm struct{ a, b Band }

func nd(a, b Band) term { return ndTerm{a: a, b: b} }

func (t ndTerm) eval(p Pixel) float64 { return NormalizedDifference(p[t.a], p[t.b]) }
func (t ndTerm) image(src expr.Image) expr.Image {
	return src.NormalizedDifference(t.a.String(), t.b.String())
}
func (t ndTerm) bands(seen map[Band]bool) { seen[t.a], seen[t.b] = true, true }

type op byte

const (
	opAdd op = '+'
	opSub op = '-'
	opMul op = '*'
	opDiv op = '/'
)

type binTerm struct {
	op   op
	l, r term
}

func add(l, r term) term { return binTerm{op: opAdd, l: l, r: r} }
func sub(l, r term) term { return binTerm{op: opSub, l: l, r: r} }
func mul(l, r term) term { return binTerm{op: opMul, l: l, r: r} }
func div(l, r term) term { return binTerm{op: opDiv, l: l, r: r} }

func (t binTerm) eval(p Pixel) float64 {
	l, r := t.l.eval(p), t.r.eval(p)
	switch t.op {
	case opAdd:
		return l + r
	case opSub:
		return l - r
	case opMul:
		return l * r
	default:
		if r == 0 {
			return math.NaN()
		}
		return l / r
	}
}

func (t binTerm) image(src expr.Image) expr.Image {
	l, r := t.l.image(src), t.r.image(src)
	switch t.op {
	case opAdd:
		return l.Add(r)
	case opSub:
		return l.Subtract(r)
	case opMul:
		return l.Multiply(r)
	default:
		return l.Divide(r)
	}
}

func (t binTerm) bands(seen map[Band]bool) {
	t.l.bands(seen)
	t.r.bands(seen)
}
