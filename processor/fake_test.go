package processor

import (
	"context"
	"fmt"
	"image/color"
	"sync"

	"github.com/nci/satgate/catalog"
	"github.com/nci/satgate/utils"
)

// testGrid is 4x4 pixels over lon/lat 0..1.
var testGrid = utils.Grid{
	GeoTransform: [6]float64{0, 0.25, 0, 1, 0, -0.25},
	CRS:          "EPSG:4326",
	Width:        4,
	Height:       4,
}

func filled(name string, grid utils.Grid, v float32) *utils.BandArray {
	b := utils.NewBandArray(name, grid)
	for i := range b.Data {
		b.Data[i] = v
	}
	return b
}

type fakeReader struct {
	sync.Mutex
	tiles     map[string]float32
	tileErr   map[string]error
	rasters   map[string]*utils.BandArray
	readErr   map[string]error
	warped    map[string]*utils.BandArray
	warpErr   map[string]error
	tileCalls int
	warpCalls int
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		tiles:   map[string]float32{},
		tileErr: map[string]error{},
		rasters: map[string]*utils.BandArray{},
		readErr: map[string]error{},
		warped:  map[string]*utils.BandArray{},
		warpErr: map[string]error{},
	}
}

func (f *fakeReader) Tile(ctx context.Context, href string, addr utils.TileAddress, bands []int) (*utils.BandStack, error) {
	f.Lock()
	defer f.Unlock()
	f.tileCalls++
	if err, ok := f.tileErr[href]; ok {
		return nil, err
	}
	v, ok := f.tiles[href]
	if !ok {
		return nil, &utils.ReadError{Source: href, Err: fmt.Errorf("no such object")}
	}
	grid := utils.Grid{CRS: "EPSG:3857", Width: utils.TileSize, Height: utils.TileSize}
	return &utils.BandStack{Bands: []*utils.BandArray{filled(href, grid, v)}}, nil
}

func (f *fakeReader) raster(href string) (*utils.BandStack, error) {
	f.Lock()
	defer f.Unlock()
	if err, ok := f.readErr[href]; ok {
		return nil, err
	}
	b, ok := f.rasters[href]
	if !ok {
		return nil, &utils.ReadError{Source: href, Err: fmt.Errorf("no such object")}
	}
	return &utils.BandStack{Bands: []*utils.BandArray{b.Clone()}}, nil
}

func (f *fakeReader) Preview(ctx context.Context, href string, maxWidth, maxHeight int) (*utils.BandStack, error) {
	return f.raster(href)
}

func (f *fakeReader) Part(ctx context.Context, href string, bbox [4]float64, bboxCRS string, width, height int) (*utils.BandStack, error) {
	return f.raster(href)
}

func (f *fakeReader) Warp(ctx context.Context, href string, grid utils.Grid) (*utils.BandStack, error) {
	f.Lock()
	defer f.Unlock()
	f.warpCalls++
	if err, ok := f.warpErr[href]; ok {
		return nil, &utils.ReprojectionError{Source: href, Err: err}
	}
	b, ok := f.warped[href]
	if !ok {
		return nil, &utils.ReprojectionError{Source: href, Err: fmt.Errorf("no warped fixture")}
	}
	return &utils.BandStack{Bands: []*utils.BandArray{b.Clone()}}, nil
}

func (f *fakeReader) Info(ctx context.Context, href string) (*utils.SourceInfo, error) {
	st, err := f.raster(href)
	if err != nil {
		return nil, err
	}
	b := st.Bands[0]
	return &utils.SourceInfo{Source: href, CRS: b.CRS, Width: b.Width, Height: b.Height, BandCount: 1}, nil
}

// fakeLookup serves scenes whose assets are "<id>/<band>".
type fakeLookup map[string]*catalog.Scene

func (l fakeLookup) add(id string, bands ...string) {
	s := &catalog.Scene{ID: id, Collection: "sentinel-2-l2a", Assets: map[string]catalog.Asset{}}
	for _, b := range bands {
		s.Assets[b] = catalog.Asset{Href: id + "/" + b}
	}
	l[id] = s
}

func (l fakeLookup) GetScene(ctx context.Context, collection, id string) (*catalog.Scene, error) {
	s, ok := l[id]
	if !ok {
		return nil, catalog.ErrSceneNotFound
	}
	return s, nil
}

type writtenRaster struct {
	bands    []*utils.BandArray
	grid     utils.Grid
	metadata map[string]string
	palette  []color.RGBA
}

type fakeFiles struct {
	sync.Mutex
	written map[string]*writtenRaster
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{written: map[string]*writtenRaster{}}
}

func (f *fakeFiles) WriteRaster(path string, bands []*utils.BandArray, grid utils.Grid, metadata map[string]string) error {
	f.Lock()
	defer f.Unlock()
	f.written[path] = &writtenRaster{bands: bands, grid: grid, metadata: metadata}
	return nil
}

func (f *fakeFiles) WritePaletted(path string, band *utils.BandArray, grid utils.Grid, vmin, vmax float64, palette []color.RGBA) error {
	f.Lock()
	defer f.Unlock()
	f.written[path] = &writtenRaster{bands: []*utils.BandArray{band}, grid: grid, palette: palette}
	return nil
}

func (f *fakeFiles) ReadRaster(path string) (map[string]*utils.BandArray, utils.Grid, error) {
	f.Lock()
	defer f.Unlock()
	w, ok := f.written[path]
	if !ok {
		return nil, utils.Grid{}, fmt.Errorf("%s not found", path)
	}
	out := make(map[string]*utils.BandArray, len(w.bands))
	for _, b := range w.bands {
		out[b.Name] = b
	}
	return out, w.grid, nil
}
