package gdalprocess

import (
	"context"
	"image/color"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/rs/zerolog"

	"github.com/nci/satgate/utils"
)

// writeFixture writes a 100x100 two band GeoTIFF covering lon 0..1,
// lat 0..1.
func writeFixture(t *testing.T) string {
	t.Helper()
	grid := utils.Grid{
		GeoTransform: [6]float64{0, 0.01, 0, 1, 0, -0.01},
		CRS:          "EPSG:4326",
		Width:        100,
		Height:       100,
	}
	red := utils.NewBandArray("B04", grid)
	nir := utils.NewBandArray("B08", grid)
	for i := range red.Data {
		red.Data[i] = 1000
		nir.Data[i] = 3000
	}
	path := filepath.Join(t.TempDir(), "fixture.tif")
	if err := WriteGeoTIFF(path, []*utils.BandArray{red, nir}, grid, WriteOptions{
		Metadata: map[string]string{"SATGATE_TEST": "1"},
	}); err != nil {
		t.Fatalf("WriteGeoTIFF: %v", err)
	}
	return path
}

func newTestReader() *GDALReader {
	return NewGDALReader(ReaderConfig{ReadTimeout: 10 * time.Second}, zerolog.Nop())
}

func TestGeoTIFFRoundTrip(t *testing.T) {
	path := writeFixture(t)

	bands, grid, err := ReadGeoTIFF(path)
	if err != nil {
		t.Fatalf("ReadGeoTIFF: %v", err)
	}
	if grid.Width != 100 || grid.Height != 100 {
		t.Errorf("unexpected grid %+v", grid)
	}
	nir, ok := bands["B08"]
	if !ok {
		t.Fatalf("band descriptions not preserved: %v", bands)
	}
	if nir.Data[5050] != 3000 {
		t.Errorf("unexpected pixel %v", nir.Data[5050])
	}
}

func TestReaderPreview(t *testing.T) {
	path := writeFixture(t)
	stack, err := newTestReader().Preview(context.Background(), path, 50, 50)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(stack.Bands) != 2 {
		t.Fatalf("expected 2 bands, got %d", len(stack.Bands))
	}
	g := stack.Grid()
	if g.Width != 50 || g.Height != 50 {
		t.Errorf("unexpected preview size %dx%d", g.Width, g.Height)
	}
	if g.GeoTransform[1] != 0.02 {
		t.Errorf("unexpected preview pixel size %v", g.GeoTransform[1])
	}
	if stack.Bands[0].Data[0] != 1000 {
		t.Errorf("unexpected preview value %v", stack.Bands[0].Data[0])
	}
}

func TestReaderTile(t *testing.T) {
	path := writeFixture(t)
	r := newTestReader()

	stack, err := r.Tile(context.Background(), path, utils.TileAddress{Z: 8, X: 128, Y: 127}, []int{2})
	if err != nil {
		t.Fatalf("Tile: %v", err)
	}
	if len(stack.Bands) != 1 || len(stack.Bands[0].Data) != utils.TileSize*utils.TileSize {
		t.Fatalf("unexpected tile shape")
	}
	if !stack.Bands[0].HasData() {
		t.Errorf("tile over the fixture should carry data")
	}

	_, err = r.Tile(context.Background(), path, utils.TileAddress{Z: 8, X: 0, Y: 0}, []int{1})
	if !utils.IsOutOfBounds(err) {
		t.Errorf("expected out of bounds, got %v", err)
	}

	_, err = r.Tile(context.Background(), path, utils.TileAddress{Z: 8, X: 128, Y: 127}, []int{3})
	if !utils.IsBandNotFound(err) {
		t.Errorf("expected band not found, got %v", err)
	}
}

func TestReaderInfo(t *testing.T) {
	path := writeFixture(t)
	info, err := newTestReader().Info(context.Background(), path)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.BandCount != 2 || info.Width != 100 || info.DataType != "Float32" {
		t.Errorf("unexpected info %+v", info)
	}
	if len(info.Bands) != 2 || info.Bands[1].Mean != 3000 {
		t.Errorf("unexpected statistics %+v", info.Bands)
	}
}

func TestReaderMissingSource(t *testing.T) {
	_, err := newTestReader().Preview(context.Background(), filepath.Join(t.TempDir(), "missing.tif"), 10, 10)
	if !utils.IsReadError(err) {
		t.Errorf("expected read error, got %v", err)
	}
}

func TestGeoTIFFFilesCreatesDirectories(t *testing.T) {
	grid := utils.Grid{
		GeoTransform: [6]float64{0, 0.1, 0, 1, 0, -0.1},
		CRS:          "EPSG:4326",
		Width:        10,
		Height:       10,
	}
	ndvi := utils.NewBandArray("ndvi", grid)
	for i := range ndvi.Data {
		ndvi.Data[i] = 0.5
	}

	path := filepath.Join(t.TempDir(), "job_1", "ndvi.tif")
	var files GeoTIFFFiles
	if err := files.WriteRaster(path, []*utils.BandArray{ndvi}, grid, utils.ComputeStatistics(ndvi.Data).GDALMetadata()); err != nil {
		t.Fatalf("WriteRaster: %v", err)
	}
	bands, _, err := files.ReadRaster(path)
	if err != nil {
		t.Fatalf("ReadRaster: %v", err)
	}
	if b, ok := bands["ndvi"]; !ok || b.Data[0] != 0.5 {
		t.Errorf("unexpected bands %v", bands)
	}

	ds, err := godal.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()
	if mean := ds.Bands()[0].Metadata("STATISTICS_MEAN"); mean != "0.5" {
		t.Errorf("expected band level STATISTICS_MEAN 0.5, got %q", mean)
	}
	if v := ds.Metadata("STATISTICS_MEAN"); v != "" {
		t.Errorf("statistics should not be dataset metadata, got %q", v)
	}
}

func TestWritePaletted(t *testing.T) {
	grid := utils.Grid{
		GeoTransform: [6]float64{0, 0.1, 0, 1, 0, -0.1},
		CRS:          "EPSG:4326",
		Width:        10,
		Height:       10,
	}
	ndvi := utils.NewBandArray("ndvi", grid)
	for i := range ndvi.Data {
		ndvi.Data[i] = 0.5
	}
	ndvi.Data[1] = float32(math.NaN())

	palette := make([]color.RGBA, 256)
	for i := range palette {
		palette[i] = color.RGBA{uint8(i), 0, 0, 255}
	}

	path := filepath.Join(t.TempDir(), "ndvi_preview.tif")
	if err := WritePaletted(path, ndvi, grid, -1, 1, palette); err != nil {
		t.Fatalf("WritePaletted: %v", err)
	}
	bands, _, err := ReadGeoTIFF(path)
	if err != nil {
		t.Fatalf("ReadGeoTIFF: %v", err)
	}
	b := bands["ndvi"]
	if b == nil {
		t.Fatalf("band description lost: %v", bands)
	}
	if b.Data[0] != 192 {
		t.Errorf("expected palette index 192 for 0.5 over [-1, 1], got %v", b.Data[0])
	}
	if b.Data[1] != 0 {
		t.Errorf("expected NaN to map to the no-data entry, got %v", b.Data[1])
	}
}
