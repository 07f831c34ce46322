package processor

import (
	"github.com/nci/satgate/utils"
)

// TileScaler turns raw tile bands into colour planes.
type TileScaler struct {
	In       chan *tileStack
	Out      chan *tilePlanes
	Error    chan error
	Rescale  utils.RescaleMode
	Fallback utils.RescaleMode
	Colormap string
}

func NewTileScaler(rescale, fallback utils.RescaleMode, colormap string, errChan chan error) *TileScaler {
	return &TileScaler{
		In:       make(chan *tileStack, 100),
		Out:      make(chan *tilePlanes, 100),
		Error:    errChan,
		Rescale:  rescale,
		Fallback: fallback,
		Colormap: colormap,
	}
}

func (scl *TileScaler) Run() {
	defer close(scl.Out)
	for stack := range scl.In {
		scl.Out <- ScaleTile(stack, scl.Rescale, scl.Fallback, scl.Colormap)
	}
}

// ScaleTile rescales each band independently. One band is rendered grey,
// or through the ramp when colormap is set; three or more bands use the
// first three as red, green and blue. Alpha comes from the raw values of
// every band.
//
// A nil mode selects fallback, except for a single band with a colormap,
// which is laid over the fixed ramp range so neighbouring tiles agree.
func ScaleTile(stack *tileStack, mode, fallback utils.RescaleMode, colormap string) *tilePlanes {
	out := &tilePlanes{
		Width:        stack.Width,
		Height:       stack.Height,
		Reads:        stack.Reads,
		Placeholders: stack.Placeholders,
	}
	if stack.Empty || len(stack.Raw) == 0 {
		out.Empty = true
		return out
	}

	out.A = utils.AlphaMask(stack.Raw, utils.AlphaEpsilon)
	if transparent(out.A) {
		out.Empty = true
		return out
	}

	colorize := len(stack.Raw) < 3 && len(colormap) > 0
	if colorize && mode == nil {
		var a []uint8
		out.R, out.G, out.B, a = Colorize(stack.Raw[0], RampMin, RampMax, colormap)
		for i := range out.A {
			out.A[i] &= a[i]
		}
		return out
	}
	if mode == nil {
		mode = fallback
	}

	switch {
	case len(stack.Raw) >= 3:
		out.R = utils.Rescale(stack.Raw[0], mode)
		out.G = utils.Rescale(stack.Raw[1], mode)
		out.B = utils.Rescale(stack.Raw[2], mode)
	case colorize:
		scaled := utils.Rescale(stack.Raw[0], mode)
		out.R, out.G, out.B = ColorizeBytes(scaled, RampPalette(colormap))
	default:
		grey := utils.Rescale(stack.Raw[0], mode)
		out.R, out.G, out.B = grey, grey, grey
	}
	return out
}

func transparent(alpha []uint8) bool {
	for _, a := range alpha {
		if a != 0 {
			return false
		}
	}
	return true
}
