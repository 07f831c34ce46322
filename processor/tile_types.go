package processor

import (
	"context"
	"errors"

	"github.com/nci/satgate/catalog"
	"github.com/nci/satgate/utils"
)

var (
	// ErrNoData is returned when no scene could be read for any band.
	ErrNoData = errors.New("no readable data")
	// ErrShapeMismatch is a read whose shape differs from the reference
	// grid even after reprojection.
	ErrShapeMismatch = errors.New("band shape does not match the reference grid")
)

// RasterReader reads raster sources. worker/gdalprocess provides the GDAL
// implementation.
type RasterReader interface {
	Tile(ctx context.Context, href string, addr utils.TileAddress, bands []int) (*utils.BandStack, error)
	Preview(ctx context.Context, href string, maxWidth, maxHeight int) (*utils.BandStack, error)
	Part(ctx context.Context, href string, bbox [4]float64, bboxCRS string, width, height int) (*utils.BandStack, error)
	Warp(ctx context.Context, href string, grid utils.Grid) (*utils.BandStack, error)
	Info(ctx context.Context, href string) (*utils.SourceInfo, error)
}

// SceneLookup finds a scene by collection and id. catalog.Catalog
// satisfies it.
type SceneLookup interface {
	GetScene(ctx context.Context, collection, id string) (*catalog.Scene, error)
}

// FallbackResolver synthesises scenes the catalog cannot find.
type FallbackResolver interface {
	FallbackScene(collection, sceneID string) (*catalog.Scene, bool)
}

// SceneRef names one scene contributing to an aggregation or mosaic.
type SceneRef struct {
	ID         string `json:"id" validate:"required"`
	Collection string `json:"collection,omitempty"`
}

// TileRequest selects one rendered tile. Either SceneID names a catalog
// scene and Bands its logical bands, or URL names a single COG and
// BandIndexes its 1-based bands.
type TileRequest struct {
	SceneID     string
	Collection  string
	URL         string
	Addr        utils.TileAddress
	Bands       []string
	BandIndexes []int
	Rescale     utils.RescaleMode
	Colormap    string
}

type RenderedTile struct {
	PNG   []byte
	ETag  string
	Empty bool
	// Reads and Placeholders count band reads attempted and bands that
	// were substituted with zeros.
	Reads        int
	Placeholders int
}

// bandRead is one band of a tile travelling through the pipeline. Index
// keeps the requested band order.
type bandRead struct {
	Addr      utils.TileAddress
	Index     int
	Name      string
	Href      string
	BandIndex int
	Arrays    []*utils.BandArray
	Err       error
}

// placeholder reports whether the read produced nothing usable.
func (b *bandRead) placeholder() bool {
	return len(b.Arrays) == 0
}

// tileStack is the merged, ordered raw bands of one tile.
type tileStack struct {
	Raw           [][]float32
	Empty         bool
	Width, Height int
	Reads         int
	Placeholders  int
}

// tilePlanes are the colour planes handed to the encoder.
type tilePlanes struct {
	R, G, B, A    []uint8
	Width, Height int
	Empty         bool
	Reads         int
	Placeholders  int
}
