package utils

import (
	"fmt"
	"math"
	"strconv"
)

const TileSize = 256

// TileAddress is a web mercator tile in the XYZ scheme.
type TileAddress struct {
	Z, X, Y int
}

func (a TileAddress) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Z, a.X, a.Y)
}

func (a TileAddress) Valid() bool {
	if a.Z < 0 || a.Z > 30 {
		return false
	}
	n := 1 << uint(a.Z)
	return a.X >= 0 && a.X < n && a.Y >= 0 && a.Y < n
}

// Grid is the pixel lattice a band array lives on: a GDAL style geotransform,
// a CRS (WKT or EPSG:n) and a size.
type Grid struct {
	GeoTransform  [6]float64
	CRS           string
	Width, Height int
}

const gridTolerance = 1e-9

// Equal compares two grids. Transforms are compared with a relative
// tolerance since they round trip through GDAL.
func (g Grid) Equal(o Grid) bool {
	if g.Width != o.Width || g.Height != o.Height || g.CRS != o.CRS {
		return false
	}
	for i := range g.GeoTransform {
		a, b := g.GeoTransform[i], o.GeoTransform[i]
		if math.Abs(a-b) > gridTolerance*math.Max(1, math.Max(math.Abs(a), math.Abs(b))) {
			return false
		}
	}
	return true
}

func (g Grid) SameShape(o Grid) bool {
	return g.Width == o.Width && g.Height == o.Height
}

// Bounds returns minx, miny, maxx, maxy of a north-up grid.
func (g Grid) Bounds() [4]float64 {
	gt := g.GeoTransform
	x0, y0 := gt[0], gt[3]
	x1 := gt[0] + float64(g.Width)*gt[1] + float64(g.Height)*gt[2]
	y1 := gt[3] + float64(g.Width)*gt[4] + float64(g.Height)*gt[5]
	return [4]float64{math.Min(x0, x1), math.Min(y0, y1), math.Max(x0, x1), math.Max(y0, y1)}
}

// BandArray is one band of float32 pixels, row major, with its grid.
// Zero is the no-data value throughout the gateway.
type BandArray struct {
	Name          string
	Data          []float32
	Width, Height int
	GeoTransform  [6]float64
	CRS           string
	NoData        float64
}

func NewBandArray(name string, grid Grid) *BandArray {
	return &BandArray{
		Name:         name,
		Data:         make([]float32, grid.Width*grid.Height),
		Width:        grid.Width,
		Height:       grid.Height,
		GeoTransform: grid.GeoTransform,
		CRS:          grid.CRS,
	}
}

func (b *BandArray) Grid() Grid {
	return Grid{GeoTransform: b.GeoTransform, CRS: b.CRS, Width: b.Width, Height: b.Height}
}

func (b *BandArray) Clone() *BandArray {
	out := *b
	out.Data = make([]float32, len(b.Data))
	copy(out.Data, b.Data)
	return &out
}

// HasData reports whether any pixel holds a valid observation.
func (b *BandArray) HasData() bool {
	for _, v := range b.Data {
		if v != 0 && !math.IsNaN(float64(v)) {
			return true
		}
	}
	return false
}

// BandStack is the result of one multi band read, all bands on one grid.
type BandStack struct {
	Bands []*BandArray
}

func (s *BandStack) Grid() Grid {
	if s == nil || len(s.Bands) == 0 {
		return Grid{}
	}
	return s.Bands[0].Grid()
}

type Statistics struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Count int     `json:"count"`
}

// ComputeStatistics summarises data ignoring NaN and infinities. The
// standard deviation is the population one.
func ComputeStatistics(data []float32) Statistics {
	var st Statistics
	var sum, sumSq float64
	first := true
	for _, f := range data {
		v := float64(f)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if first {
			st.Min, st.Max = v, v
			first = false
		}
		if v < st.Min {
			st.Min = v
		}
		if v > st.Max {
			st.Max = v
		}
		sum += v
		st.Count++
	}
	if st.Count == 0 {
		return st
	}
	st.Mean = sum / float64(st.Count)
	for _, f := range data {
		v := float64(f)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sumSq += (v - st.Mean) * (v - st.Mean)
	}
	st.Std = math.Sqrt(sumSq / float64(st.Count))
	return st
}

// GDALMetadata renders st as the GDAL band statistics metadata items.
func (st Statistics) GDALMetadata() map[string]string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return map[string]string{
		"STATISTICS_MINIMUM": f(st.Min),
		"STATISTICS_MAXIMUM": f(st.Max),
		"STATISTICS_MEAN":    f(st.Mean),
		"STATISTICS_STDDEV":  f(st.Std),
	}
}

// SourceInfo describes a raster source without reading its pixels.
type SourceInfo struct {
	Source    string       `json:"source"`
	Bounds    [4]float64   `json:"bounds"`
	CRS       string       `json:"crs"`
	Width     int          `json:"width"`
	Height    int          `json:"height"`
	BandCount int          `json:"band_count"`
	DataType  string       `json:"dtype"`
	Bands     []Statistics `json:"band_statistics,omitempty"`
}
