package processor

import (
	"github.com/nci/satgate/utils"
)

type PNGEncoder struct {
	In    chan *tilePlanes
	Out   chan *RenderedTile
	Error chan error
}

func NewPNGEncoder(errChan chan error) *PNGEncoder {
	return &PNGEncoder{
		In:    make(chan *tilePlanes, 100),
		Out:   make(chan *RenderedTile, 100),
		Error: errChan,
	}
}

func (enc *PNGEncoder) Run() {
	defer close(enc.Out)

	for planes := range enc.In {
		tile, err := EncodeTile(planes)
		if err != nil {
			enc.Error <- err
			return
		}
		enc.Out <- tile
	}
}

// EncodeTile writes the planes as an RGBA PNG. Empty tiles share the
// cached transparent PNG.
func EncodeTile(planes *tilePlanes) (*RenderedTile, error) {
	tile := &RenderedTile{Empty: planes.Empty, Reads: planes.Reads, Placeholders: planes.Placeholders}

	var err error
	if planes.Empty {
		tile.PNG, err = utils.GetEmptyTile(planes.Height, planes.Width)
	} else {
		tile.PNG, err = utils.EncodeRGBA(planes.R, planes.G, planes.B, planes.A, planes.Width, planes.Height)
	}
	if err != nil {
		return nil, err
	}
	return tile, nil
}
