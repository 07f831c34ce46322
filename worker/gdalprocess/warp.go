package gdalprocess

import (
	"fmt"
	"math"
	"strconv"

	"github.com/airbusgeo/godal"

	"github.com/nci/satgate/utils"
)

// originShift is half the circumference of the web mercator sphere.
const originShift = math.Pi * 6378137

// TileBounds returns the EPSG:3857 extent of a tile as minx, miny, maxx, maxy.
func TileBounds(addr utils.TileAddress) [4]float64 {
	n := float64(int64(1) << uint(addr.Z))
	size := 2 * originShift / n
	minX := -originShift + float64(addr.X)*size
	maxY := originShift - float64(addr.Y)*size
	return [4]float64{minX, maxY - size, minX + size, maxY}
}

func intersects(a, b [4]float64) bool {
	return a[0] < b[2] && b[0] < a[2] && a[1] < b[3] && b[1] < a[3]
}

// PreviewSize fits width x height into maxWidth x maxHeight keeping the
// aspect ratio. Sources already inside the box keep their size.
func PreviewSize(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= maxWidth && height <= maxHeight {
		return width, height
	}
	scale := math.Min(float64(maxWidth)/float64(width), float64(maxHeight)/float64(height))
	w := int(math.Round(float64(width) * scale))
	h := int(math.Round(float64(height) * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// ScaleGeoTransform adjusts gt for a source of width x height read into
// an outWidth x outHeight buffer.
func ScaleGeoTransform(gt [6]float64, width, height, outWidth, outHeight int) [6]float64 {
	sx := float64(width) / float64(outWidth)
	sy := float64(height) / float64(outHeight)
	return [6]float64{gt[0], gt[1] * sx, gt[2] * sy, gt[3], gt[4] * sx, gt[5] * sy}
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// warpSwitches builds the gdalwarp arguments producing an in-memory
// float32 dataset on the target extent. Zero is written where the source
// has no data.
func warpSwitches(dstSRS string, extent [4]float64, extentSRS string, width, height int) []string {
	sw := []string{
		"-of", "MEM",
		"-ot", "Float32",
		"-r", "bilinear",
		"-dstnodata", "0",
		"-te", ftoa(extent[0]), ftoa(extent[1]), ftoa(extent[2]), ftoa(extent[3]),
		"-ts", strconv.Itoa(width), strconv.Itoa(height),
	}
	if len(dstSRS) > 0 {
		sw = append(sw, "-t_srs", dstSRS)
	}
	if len(extentSRS) > 0 {
		sw = append(sw, "-te_srs", extentSRS)
	}
	return sw
}

// readBands copies the 1-based bands of ds into band arrays on grid.
func readBands(ds *godal.Dataset, bands []int, grid utils.Grid, names []string) ([]*utils.BandArray, error) {
	all := ds.Bands()
	out := make([]*utils.BandArray, 0, len(bands))
	for i, b := range bands {
		if b < 1 || b > len(all) {
			return nil, fmt.Errorf("band %d out of range 1..%d", b, len(all))
		}
		name := strconv.Itoa(b)
		if i < len(names) {
			name = names[i]
		}
		arr := utils.NewBandArray(name, grid)
		if err := all[b-1].Read(0, 0, arr.Data, grid.Width, grid.Height); err != nil {
			return nil, err
		}
		out = append(out, arr)
	}
	return out, nil
}

// warpTo reprojects ds onto the extent and size of the target and reads
// the requested bands.
func warpTo(ds *godal.Dataset, bands []int, dstSRS string, extent [4]float64, extentSRS string, width, height int) ([]*utils.BandArray, utils.Grid, error) {
	warped, err := ds.Warp("", warpSwitches(dstSRS, extent, extentSRS, width, height))
	if err != nil {
		return nil, utils.Grid{}, err
	}
	defer warped.Close()

	gt, err := warped.GeoTransform()
	if err != nil {
		return nil, utils.Grid{}, err
	}
	grid := utils.Grid{GeoTransform: gt, CRS: warped.Projection(), Width: width, Height: height}
	arrs, err := readBands(warped, bands, grid, nil)
	return arrs, grid, err
}

func allBands(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}
