package utils

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// DegenerateValue fills a band whose value range collapses to a point.
const DegenerateValue = 128

// AlphaEpsilon is the magnitude at or below which a raw value is no-data.
const AlphaEpsilon = 1e-6

// RescaleMode maps raw pixel values to a linear [lo, hi] window.
type RescaleMode interface {
	window(values []float32) (lo, hi float64)
	// String is the canonical form used in cache keys and parsed by ParseRescale.
	String() string
}

type MinMax struct {
	Min, Max float64
}

func (m MinMax) window([]float32) (float64, float64) { return m.Min, m.Max }

func (m MinMax) String() string {
	return formatFloat(m.Min) + "," + formatFloat(m.Max)
}

// Percentile takes the window from the Low and High percentiles of the
// valid (non zero, non NaN) pixels of the band.
type Percentile struct {
	Low, High float64
}

func (p Percentile) window(values []float32) (float64, float64) {
	valid := make([]float64, 0, len(values))
	for _, v := range values {
		if v != 0 && !math.IsNaN(float64(v)) {
			valid = append(valid, float64(v))
		}
	}
	if len(valid) == 0 {
		return 0, 0
	}
	sort.Float64s(valid)
	return percentile(valid, p.Low), percentile(valid, p.High)
}

func (p Percentile) String() string {
	return "p" + formatFloat(p.Low) + ",p" + formatFloat(p.High)
}

// Divisor scales [0, D] to the full byte range. Sentinel-2 reflectance
// uses D = 3000.
type Divisor struct {
	D float64
}

func (d Divisor) window([]float32) (float64, float64) { return 0, d.D }

func (d Divisor) String() string {
	return "d" + formatFloat(d.D)
}

// percentile interpolates linearly between closest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Rescale converts raw values to bytes. The output is always within
// [0, 255]; NaN maps to 0 and a degenerate window gives DegenerateValue
// everywhere.
func Rescale(values []float32, mode RescaleMode) []uint8 {
	out := make([]uint8, len(values))
	lo, hi := mode.window(values)
	if !(hi > lo) {
		for i := range out {
			out[i] = DegenerateValue
		}
		return out
	}

	span := hi - lo
	for i, v := range values {
		if math.IsNaN(float64(v)) {
			continue
		}
		out[i] = clipByte((float64(v) - lo) / span * 255)
	}
	return out
}

func clipByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}

// AlphaMask derives transparency from the raw, pre-rescale bands: a pixel
// is transparent when every band is NaN or within eps of zero.
func AlphaMask(raw [][]float32, eps float64) []uint8 {
	if len(raw) == 0 {
		return nil
	}
	out := make([]uint8, len(raw[0]))
	for i := range out {
		for _, band := range raw {
			if math.Abs(float64(band[i])) > eps {
				out[i] = 0xFF
				break
			}
		}
	}
	return out
}

// ParseRescale reads the query form of a rescale window: "min,max" for an
// explicit window, "pLow,pHigh" for percentiles, "dN" for a divisor.
func ParseRescale(s string) (RescaleMode, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) == 0 {
		return nil, fmt.Errorf("empty rescale")
	}

	if s[0] == 'd' {
		d, err := strconv.ParseFloat(s[1:], 64)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid rescale divisor %q", s)
		}
		return Divisor{D: d}, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("rescale must be min,max: %q", s)
	}
	lo, hi := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

	if strings.HasPrefix(lo, "p") && strings.HasPrefix(hi, "p") {
		l, err1 := strconv.ParseFloat(lo[1:], 64)
		h, err2 := strconv.ParseFloat(hi[1:], 64)
		if err1 != nil || err2 != nil || l < 0 || h > 100 || l >= h {
			return nil, fmt.Errorf("invalid rescale percentiles %q", s)
		}
		return Percentile{Low: l, High: h}, nil
	}

	l, err := strconv.ParseFloat(lo, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid rescale min %q: %v", lo, err)
	}
	h, err := strconv.ParseFloat(hi, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid rescale max %q: %v", hi, err)
	}
	return MinMax{Min: l, Max: h}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
