package gdalprocess

import (
	"image/color"
	"os"
	"path/filepath"

	"github.com/nci/satgate/utils"
)

// GeoTIFFFiles stores job outputs as GeoTIFFs on the local filesystem.
type GeoTIFFFiles struct{}

func (GeoTIFFFiles) WriteRaster(path string, bands []*utils.BandArray, grid utils.Grid, metadata map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return WriteGeoTIFF(path, bands, grid, WriteOptions{Metadata: metadata})
}

func (GeoTIFFFiles) WritePaletted(path string, band *utils.BandArray, grid utils.Grid, vmin, vmax float64, palette []color.RGBA) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return WritePaletted(path, band, grid, vmin, vmax, palette)
}

func (GeoTIFFFiles) ReadRaster(path string) (map[string]*utils.BandArray, utils.Grid, error) {
	return ReadGeoTIFF(path)
}
