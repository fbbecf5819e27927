package domain

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/jobrunner/cuenca/internal/expr"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestParseIndexName(t *testing.T) {
	tests := []struct {
		input   string
		want    IndexName
		wantErr bool
	}{
		{"NDVI", NDVI, false},
		{"ndvi", NDVI, false},
		{" mndwi ", MNDWI, false},
		{"Evi", EVI, false},
		{"XYZ", "", true},
		{"", "", true},
		{"NDVI2", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseIndexName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseIndexName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				var uerr *UnsupportedIndexError
				if !errors.As(err, &uerr) || uerr.Name != tt.input {
					t.Errorf("expected UnsupportedIndexError naming %q, got %v", tt.input, err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFormulaForUnsupported(t *testing.T) {
	_, err := FormulaFor("XYZ")
	if !errors.Is(err, ErrUnsupportedIndex) {
		t.Fatalf("expected ErrUnsupportedIndex, got %v", err)
	}
}

func TestRegistryComplete(t *testing.T) {
	names := AllIndices()
	if len(names) != 7 {
		t.Fatalf("expected 7 indices, got %d", len(names))
	}
	for _, n := range names {
		def, err := Lookup(n)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", n, err)
		}
		if def.Name != n || def.Formula.Index() != n {
			t.Errorf("%s: definition not bound to its name", n)
		}
		if def.Vis.Min >= def.Vis.Max || len(def.Vis.Palette) != 3 {
			t.Errorf("%s: bad vis params %+v", n, def.Vis)
		}
		if def.Title == "" || def.Formula.String() == "" {
			t.Errorf("%s: missing title or expression", n)
		}
	}
}

func TestFormulaEval(t *testing.T) {
	var p Pixel
	p[Blue], p[Green], p[Red], p[NIR], p[SWIR1], p[SWIR2] = 0.05, 0.08, 0.1, 0.5, 0.3, 0.2

	tests := []struct {
		index IndexName
		want  float64
	}{
		{NDVI, (0.5 - 0.1) / (0.5 + 0.1)},
		{SAVI, (0.5 - 0.1) / (0.5 + 0.1 + 0.5) * 1.5},
		{EVI, 2.5 * (0.5 - 0.1) / (0.5 + 6*0.1 - 7.5*0.05 + 1)},
		{GNDVI, (0.5 - 0.08) / (0.5 + 0.08)},
		{LSWI, (0.5 - 0.3) / (0.5 + 0.3)},
		{NDWI, (0.08 - 0.5) / (0.08 + 0.5)},
		{MNDWI, (0.08 - 0.3) / (0.08 + 0.3)},
	}

	for _, tt := range tests {
		t.Run(string(tt.index), func(t *testing.T) {
			f, err := FormulaFor(tt.index)
			if err != nil {
				t.Fatal(err)
			}
			if got := f.Eval(p); !approx(got, tt.want) {
				t.Errorf("Eval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormulaTotalOverFiniteInput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, n := range AllIndices() {
		f, _ := FormulaFor(n)
		for i := 0; i < 1000; i++ {
			var p Pixel
			for b := range p {
				p[b] = rng.Float64()*2 - 0.5
			}
			v := f.Eval(p)
			if math.IsInf(v, 0) {
				t.Fatalf("%s: infinite result for %v", n, p)
			}
		}
	}
}

func TestFormulaZeroDenominatorIsNaN(t *testing.T) {
	var zero Pixel
	for _, n := range []IndexName{NDVI, GNDVI, LSWI, NDWI, MNDWI} {
		f, _ := FormulaFor(n)
		if v := f.Eval(zero); !math.IsNaN(v) {
			t.Errorf("%s: expected NaN on zero input, got %v", n, v)
		}
	}

	// SAVI's denominator is NIR + RED + 0.5.
	var p Pixel
	p[NIR], p[Red] = 0, -0.5
	if v := registry[SAVI].Formula.Eval(p); !math.IsNaN(v) {
		t.Errorf("SAVI: expected NaN, got %v", v)
	}
}

func TestNormalizedDifferenceProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10000; i++ {
		a, b := rng.Float64()*2-1, rng.Float64()*2-1
		if a+b == 0 {
			continue
		}
		if NormalizedDifference(a, b) != -NormalizedDifference(b, a) {
			t.Fatalf("antisymmetry violated for %v, %v", a, b)
		}
		if a != 0 && NormalizedDifference(a, a) != 0 {
			t.Fatalf("nd(a, a) != 0 for %v", a)
		}
	}
}

func TestFormulaBands(t *testing.T) {
	tests := []struct {
		index IndexName
		want  []Band
	}{
		{NDVI, []Band{Red, NIR}},
		{EVI, []Band{Blue, Red, NIR}},
		{MNDWI, []Band{Green, SWIR1}},
	}
	for _, tt := range tests {
		got := registry[tt.index].Formula.Bands()
		if len(got) != len(tt.want) {
			t.Fatalf("%s: bands = %v, want %v", tt.index, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: bands = %v, want %v", tt.index, got, tt.want)
			}
		}
	}
}

func TestFormulaApplyUsesCanonicalBandsOnly(t *testing.T) {
	canonical := map[string]bool{}
	for _, b := range CanonicalBands() {
		canonical[b] = true
	}

	src := expr.LoadImageCollection("C").Median()
	for _, n := range AllIndices() {
		f, _ := FormulaFor(n)
		img := f.Apply(src)

		if img.Function() != "Image.rename" {
			t.Errorf("%s: output not renamed, root is %s", n, img.Function())
		}
		names, _ := img.Arg("names")
		if len(names.Items()) != 1 || names.Items()[0].Value() != string(n) {
			t.Errorf("%s: output band not named after the index", n)
		}

		img.Walk(func(node expr.Node) bool {
			var arg string
			switch node.Function() {
			case "Image.select":
				arg = "bandSelectors"
			case "Image.normalizedDifference":
				arg = "bandNames"
			default:
				return true
			}
			bands, _ := node.Arg(arg)
			for _, b := range bands.Items() {
				if !canonical[b.Value().(string)] {
					t.Errorf("%s: references non-canonical band %v", n, b.Value())
				}
			}
			return true
		})
	}
}

func TestNDVIUsesNormalizedDifference(t *testing.T) {
	f, _ := FormulaFor(NDVI)
	img := f.Apply(expr.LoadImageCollection("C").Median())
	input, _ := img.Arg("input")
	if input.Function() != "Image.normalizedDifference" {
		t.Fatalf("expected normalizedDifference, got %s", input.Function())
	}
	bands, _ := input.Arg("bandNames")
	items := bands.Items()
	if items[0].Value() != "NIR" || items[1].Value() != "RED" {
		t.Errorf("bands = %v, %v", items[0].Value(), items[1].Value())
	}
}
