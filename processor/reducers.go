package processor

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/nci/satgate/utils"
)

// Reducer folds the values of one pixel across scenes. NaN marks a scene
// without a valid observation; a NaN result is written as 0.
type Reducer func(vals []float64) float64

var reducers = map[string]Reducer{
	"mean":   reduceMean,
	"median": reduceMedian,
	"max":    reduceMax,
	"min":    reduceMin,
	"std":    reduceStd,
	"count":  reduceCount,
	"first":  reduceFirst,
	"last":   reduceLast,
}

// AggregationMethods lists the accepted reduction names.
func AggregationMethods() []string {
	out := make([]string, 0, len(reducers))
	for k := range reducers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func LookupReducer(method string) (Reducer, error) {
	r, ok := reducers[strings.ToLower(strings.TrimSpace(method))]
	if !ok {
		return nil, &utils.ConfigurationError{Reason: fmt.Sprintf("unsupported aggregation method %q, want one of %s", method, strings.Join(AggregationMethods(), ", "))}
	}
	return r, nil
}

func valid(vals []float64) []float64 {
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func reduceMean(vals []float64) float64 {
	v := valid(vals)
	if len(v) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func reduceMedian(vals []float64) float64 {
	v := valid(vals)
	if len(v) == 0 {
		return math.NaN()
	}
	sort.Float64s(v)
	n := len(v)
	if n%2 == 1 {
		return v[n/2]
	}
	return (v[n/2-1] + v[n/2]) / 2
}

func reduceMax(vals []float64) float64 {
	out := math.NaN()
	for _, x := range vals {
		if !math.IsNaN(x) && (math.IsNaN(out) || x > out) {
			out = x
		}
	}
	return out
}

func reduceMin(vals []float64) float64 {
	out := math.NaN()
	for _, x := range vals {
		if !math.IsNaN(x) && (math.IsNaN(out) || x < out) {
			out = x
		}
	}
	return out
}

func reduceStd(vals []float64) float64 {
	v := valid(vals)
	if len(v) == 0 {
		return math.NaN()
	}
	mean := reduceMean(v)
	var ss float64
	for _, x := range v {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(v)))
}

func reduceCount(vals []float64) float64 {
	return float64(len(valid(vals)))
}

func reduceFirst(vals []float64) float64 {
	for _, x := range vals {
		if !math.IsNaN(x) {
			return x
		}
	}
	return math.NaN()
}

func reduceLast(vals []float64) float64 {
	for i := len(vals) - 1; i >= 0; i-- {
		if !math.IsNaN(vals[i]) {
			return vals[i]
		}
	}
	return math.NaN()
}

// ReduceArrays reduces co-registered arrays pixel by pixel, in the order
// given. Exact zeros and NaN are no-data.
func ReduceArrays(name string, arrays []*utils.BandArray, grid utils.Grid, reduce Reducer) (*utils.BandArray, error) {
	out := utils.NewBandArray(name, grid)
	for _, a := range arrays {
		if len(a.Data) != len(out.Data) {
			return nil, fmt.Errorf("%w: %s is %dx%d, grid is %dx%d", ErrShapeMismatch, a.Name, a.Width, a.Height, grid.Width, grid.Height)
		}
	}
	if len(arrays) == 0 {
		return out, nil
	}

	vals := make([]float64, len(arrays))
	for i := range out.Data {
		for k, a := range arrays {
			v := float64(a.Data[i])
			if v == 0 {
				v = math.NaN()
			}
			vals[k] = v
		}
		r := reduce(vals)
		if math.IsNaN(r) || math.IsInf(r, 0) {
			r = 0
		}
		out.Data[i] = float32(r)
	}
	return out, nil
}
