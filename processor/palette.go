package processor

import (
	"image/color"
	"math"
	"strings"

	"github.com/nci/satgate/utils"
)

// InterpolateUint8 interpolates the value of a
// byte between two numbers 'a' and 'b' by
// especifying a length and a position 'i'
// along that length.
func InterpolateUint8(a, b uint8, i, sectionLength int) uint8 {
	return a + uint8((i * (int(b) - int(a)) / sectionLength))
}

// InterpolateColor returns an RGBA color where
// the R, G, B, and A components have been
// interpolated from the 'a' and 'b' colors
func InterpolateColor(a, b color.RGBA, i, sectionLength int) color.RGBA {
	return color.RGBA{InterpolateUint8(a.R, b.R, i, sectionLength),
		InterpolateUint8(a.G, b.G, i, sectionLength),
		InterpolateUint8(a.B, b.B, i, sectionLength),
		255}
}

// GradientRGBAPalette returns a palette of 256 colors
// creating an interpolation that goes though
// a list of provided colours.
func GradientRGBAPalette(palette *utils.Palette) ([]color.RGBA, error) {
	if palette == nil || len(palette.Colours) == 0 {
		return nil, nil
	}

	ramp := make([]color.RGBA, 256)

	if palette.Interpolate && len(palette.Colours) > 1 {
		bins := len(palette.Colours) - 1
		sectionLength := 256 / bins
		bonus := 256 - (sectionLength * bins)
		bonusArr := make([]int, bins)
		for i := 0; i < bonus; i++ {
			bonusArr[i] = 1
		}

		index := 0
		for section, upperColour := range palette.Colours[1:] {
			for i := 0; i < sectionLength+bonusArr[section]; i++ {
				ramp[index] = InterpolateColor(palette.Colours[section], upperColour, i, sectionLength)
				index++
			}
		}
	} else {
		bins := len(palette.Colours)
		sectionLength := 256 / bins
		bonus := 256 - (sectionLength * bins)
		bonusArr := make([]int, bins)
		for i := 0; i < bonus; i++ {
			bonusArr[i] = 1
		}

		index := 0
		for section, colour := range palette.Colours {
			for i := 0; i < sectionLength+bonusArr[section]; i++ {
				ramp[index] = colour
				index++
			}
		}
	}

	return ramp, nil
}

// RampMin and RampMax bound the values a colormap covers when the request
// gives no rescale window.
const (
	RampMin = -1.0
	RampMax = 1.0
)

func rgb(r, g, b uint8) color.RGBA { return color.RGBA{r, g, b, 255} }

// Ramps are the named colour ramps accepted by the colormap parameter.
var Ramps = map[string]*utils.Palette{
	"rdylgn": {Interpolate: true, Colours: []color.RGBA{
		rgb(165, 0, 38), rgb(215, 48, 39), rgb(255, 255, 191), rgb(26, 152, 80), rgb(0, 104, 55),
	}},
	"blues": {Interpolate: true, Colours: []color.RGBA{
		rgb(247, 251, 255), rgb(198, 219, 239), rgb(107, 174, 214), rgb(33, 113, 181), rgb(8, 48, 107),
	}},
	"rdbu": {Interpolate: true, Colours: []color.RGBA{
		rgb(103, 0, 31), rgb(214, 96, 77), rgb(247, 247, 247), rgb(67, 147, 195), rgb(5, 48, 97),
	}},
	"heat": {Interpolate: true, Colours: []color.RGBA{
		rgb(0, 0, 4), rgb(81, 18, 124), rgb(183, 55, 121), rgb(252, 137, 97), rgb(252, 253, 191),
	}},
	"greys": {Interpolate: true, Colours: []color.RGBA{
		rgb(0, 0, 0), rgb(255, 255, 255),
	}},
}

// indexRamps holds the default ramp and value range of each index.
var indexRamps = map[string]struct {
	Ramp     string
	Min, Max float64
}{
	"ndvi":  {"rdylgn", -1, 1},
	"gndvi": {"rdylgn", -1, 1},
	"evi":   {"rdylgn", -1, 1},
	"savi":  {"rdylgn", -1, 1},
	"ndre":  {"rdylgn", -1, 1},
	"ndwi":  {"blues", -1, 1},
	"mndwi": {"blues", -1, 1},
	"ndmi":  {"rdbu", -1, 1},
	"nbr":   {"heat", -1, 1},
	"ndbi":  {"heat", -1, 1},
}

// IndexRamp returns the default ramp name and value range for an index.
// Unknown indices get greys over [-1, 1].
func IndexRamp(index string) (string, float64, float64) {
	if r, ok := indexRamps[strings.ToLower(index)]; ok {
		return r.Ramp, r.Min, r.Max
	}
	return "greys", -1, 1
}

// RampPalette returns the 256 colours of a named ramp. Unknown names fall
// back to greys.
func RampPalette(name string) []color.RGBA {
	p, ok := Ramps[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		p = Ramps["greys"]
	}
	ramp, _ := GradientRGBAPalette(p)
	return ramp
}

// ColorizeBytes maps rescaled bytes through a 256 colour ramp.
func ColorizeBytes(scaled []uint8, ramp []color.RGBA) (r, g, b []uint8) {
	r = make([]uint8, len(scaled))
	g = make([]uint8, len(scaled))
	b = make([]uint8, len(scaled))
	for i, v := range scaled {
		c := ramp[v]
		r[i], g[i], b[i] = c.R, c.G, c.B
	}
	return
}

// Colorize maps values linearly from [vmin, vmax] onto a named ramp.
// NaN pixels are transparent.
func Colorize(values []float32, vmin, vmax float64, rampName string) (r, g, b, a []uint8) {
	scaled := utils.Rescale(values, utils.MinMax{Min: vmin, Max: vmax})
	r, g, b = ColorizeBytes(scaled, RampPalette(rampName))
	a = make([]uint8, len(values))
	for i, v := range values {
		if !math.IsNaN(float64(v)) {
			a[i] = 0xFF
		}
	}
	return
}
