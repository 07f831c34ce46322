package processor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/nci/satgate/catalog"
	"github.com/nci/satgate/utils"
)

const indexEpsilon = 1e-10

type spectralIndex struct {
	bands []string
	fn    func(v []float64, params map[string]float64) float64
}

func normalisedDifference(a, b string) spectralIndex {
	return spectralIndex{
		bands: []string{a, b},
		fn: func(v []float64, _ map[string]float64) float64 {
			return (v[0] - v[1]) / (v[0] + v[1] + indexEpsilon)
		},
	}
}

var spectralIndices = map[string]spectralIndex{
	"ndvi":  normalisedDifference("B08", "B04"),
	"ndwi":  normalisedDifference("B03", "B08"),
	"ndbi":  normalisedDifference("B11", "B08"),
	"mndwi": normalisedDifference("B03", "B11"),
	"gndvi": normalisedDifference("B08", "B03"),
	"nbr":   normalisedDifference("B08", "B12"),
	"ndre":  normalisedDifference("B08", "B05"),
	"ndmi":  normalisedDifference("B08", "B11"),
	"evi": {
		bands: []string{"B08", "B04", "B02"},
		fn: func(v []float64, _ map[string]float64) float64 {
			return 2.5 * (v[0] - v[1]) / (v[0] + 6*v[1] - 7.5*v[2] + 1)
		},
	},
	"savi": {
		bands: []string{"B08", "B04"},
		fn: func(v []float64, params map[string]float64) float64 {
			l := 0.5
			if p, ok := params["L"]; ok {
				l = p
			}
			return (1 + l) * (v[0] - v[1]) / (v[0] + v[1] + l)
		},
	},
}

// IndexNames lists the built-in spectral indices.
func IndexNames() []string {
	out := make([]string, 0, len(spectralIndices))
	for k := range spectralIndices {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RequiredBands lists the canonical bands a built-in index reads, nil for
// an unknown name.
func RequiredBands(name string) []string {
	idx, ok := spectralIndices[strings.ToLower(name)]
	if !ok {
		return nil
	}
	return append([]string(nil), idx.bands...)
}

type IndexSpec struct {
	Name       string
	Expression string
	Params     map[string]float64
}

type IndexResult struct {
	Data  *utils.BandArray
	Stats utils.Statistics
}

// IndexBands returns the bands spec needs. A custom expression may name
// any known band.
func IndexBands(spec IndexSpec) ([]string, error) {
	if len(strings.TrimSpace(spec.Expression)) > 0 {
		bm, err := ParseBandMath(spec.Expression, nil)
		if err != nil {
			return nil, err
		}
		return bm.Bands(), nil
	}
	bands := RequiredBands(spec.Name)
	if bands == nil {
		return nil, unknownIndex(spec.Name)
	}
	return bands, nil
}

func unknownIndex(name string) error {
	return &utils.ConfigurationError{Reason: fmt.Sprintf("unknown index %q, want one of %s or an expression", name, strings.Join(IndexNames(), ", "))}
}

// ComputeIndex evaluates a built-in index or a band math expression pixel
// by pixel. A pixel where any input is 0 is NaN in the result.
func ComputeIndex(ctx context.Context, spec IndexSpec, bands map[string]*utils.BandArray) (*IndexResult, error) {
	canonical := make(map[string]*utils.BandArray, len(bands))
	for name, b := range bands {
		c, _ := catalog.Canonical(name)
		canonical[c] = b
	}

	var required []string
	var pixel func(v []float64, i int) (float64, error)

	name := strings.ToLower(spec.Name)
	if len(strings.TrimSpace(spec.Expression)) > 0 {
		supplied := make([]string, 0, len(canonical))
		for c := range canonical {
			supplied = append(supplied, c)
		}
		bm, err := ParseBandMath(spec.Expression, supplied)
		if err != nil {
			return nil, err
		}
		required = bm.Bands()
		if len(name) == 0 {
			name = "custom"
		}

		params := &pixelParams{vars: bm.vars, bands: make(map[string][]float32, len(required))}
		for _, b := range required {
			if arr, ok := canonical[b]; ok {
				params.bands[b] = arr.Data
			}
		}
		pixel = func(_ []float64, i int) (float64, error) {
			params.i = i
			return bm.eval(params)
		}
	} else {
		idx, ok := spectralIndices[name]
		if !ok {
			return nil, unknownIndex(spec.Name)
		}
		required = idx.bands
		pixel = func(v []float64, _ int) (float64, error) {
			return idx.fn(v, spec.Params), nil
		}
	}

	inputs := make([]*utils.BandArray, len(required))
	for k, b := range required {
		arr, ok := canonical[b]
		if !ok || arr == nil {
			return nil, &utils.BandNotFoundError{Scene: name, Band: b}
		}
		inputs[k] = arr
	}
	grid := inputs[0].Grid()
	for _, arr := range inputs[1:] {
		if !arr.Grid().SameShape(grid) {
			return nil, fmt.Errorf("%w: %s is %dx%d, %s is %dx%d", ErrShapeMismatch, arr.Name, arr.Width, arr.Height, inputs[0].Name, grid.Width, grid.Height)
		}
	}

	out := utils.NewBandArray(name, grid)
	nan := float32(math.NaN())
	vals := make([]float64, len(inputs))
	for y := 0; y < grid.Height; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := 0; x < grid.Width; x++ {
			i := y*grid.Width + x
			noData := false
			for k, arr := range inputs {
				v := float64(arr.Data[i])
				if v == 0 || math.IsNaN(v) {
					noData = true
					break
				}
				vals[k] = v
			}
			if noData {
				out.Data[i] = nan
				continue
			}
			r, err := pixel(vals, i)
			if err != nil {
				return nil, &utils.BandMathError{Expression: spec.Expression, Reason: err.Error()}
			}
			out.Data[i] = float32(r)
		}
	}

	return &IndexResult{Data: out, Stats: utils.ComputeStatistics(out.Data)}, nil
}
