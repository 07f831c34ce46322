package gdalprocess

import (
	"fmt"
	"image/color"
	"math"
	"strings"

	"github.com/airbusgeo/godal"

	"github.com/nci/satgate/utils"
)

// WriteOptions carries what goes into a GeoTIFF besides the pixels.
type WriteOptions struct {
	// Metadata is written as dataset level GDAL metadata, except that
	// STATISTICS_* items of a single band output go on the band.
	Metadata map[string]string
}

// WriteGeoTIFF writes bands as an LZW compressed, tiled float32 GeoTIFF on
// grid. Band names become the band descriptions.
func WriteGeoTIFF(path string, bands []*utils.BandArray, grid utils.Grid, opts WriteOptions) error {
	InitGdal()
	if len(bands) == 0 {
		return fmt.Errorf("write %s: no bands", path)
	}
	for _, b := range bands {
		if b.Width != grid.Width || b.Height != grid.Height {
			return fmt.Errorf("write %s: band %s is %dx%d, grid is %dx%d", path, b.Name, b.Width, b.Height, grid.Width, grid.Height)
		}
	}

	ds, err := godal.Create(godal.GTiff, path, len(bands), godal.Float32, grid.Width, grid.Height,
		godal.CreationOption("COMPRESS=LZW", "TILED=YES", "BIGTIFF=IF_SAFER"))
	if err != nil {
		return fmt.Errorf("create %s: %v", path, err)
	}

	if err = setGrid(ds, path, grid); err != nil {
		ds.Close()
		return err
	}

	for i, band := range ds.Bands() {
		src := bands[i]
		if err = band.Write(0, 0, src.Data, grid.Width, grid.Height); err != nil {
			ds.Close()
			return fmt.Errorf("write band %s: %v", src.Name, err)
		}
		if len(src.Name) > 0 {
			band.SetDescription(src.Name)
		}
	}

	for k, v := range opts.Metadata {
		if len(bands) == 1 && strings.HasPrefix(k, "STATISTICS_") {
			err = ds.Bands()[0].SetMetadata(k, v)
		} else {
			err = ds.SetMetadata(k, v)
		}
		if err != nil {
			ds.Close()
			return err
		}
	}

	return ds.Close()
}

// WritePaletted writes band as a single byte band GeoTIFF with a colour
// table. Values in [vmin, vmax] map to entries 1..255 of the table; NaN
// and zero pixels become entry 0, the transparent no-data entry.
func WritePaletted(path string, band *utils.BandArray, grid utils.Grid, vmin, vmax float64, palette []color.RGBA) error {
	InitGdal()
	if len(palette) == 0 {
		return fmt.Errorf("write %s: empty palette", path)
	}
	if band.Width != grid.Width || band.Height != grid.Height {
		return fmt.Errorf("write %s: band %s is %dx%d, grid is %dx%d", path, band.Name, band.Width, band.Height, grid.Width, grid.Height)
	}

	idx := make([]uint8, len(band.Data))
	span := vmax - vmin
	for i, v := range band.Data {
		f := float64(v)
		if v == 0 || math.IsNaN(f) || math.IsInf(f, 0) || span <= 0 {
			continue
		}
		t := (f - vmin) / span
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
		idx[i] = uint8(1 + math.Round(t*254))
	}

	ds, err := godal.Create(godal.GTiff, path, 1, godal.Byte, grid.Width, grid.Height,
		godal.CreationOption("COMPRESS=LZW", "TILED=YES"))
	if err != nil {
		return fmt.Errorf("create %s: %v", path, err)
	}
	if err = setGrid(ds, path, grid); err != nil {
		ds.Close()
		return err
	}

	out := ds.Bands()[0]
	if err = out.Write(0, 0, idx, grid.Width, grid.Height); err != nil {
		ds.Close()
		return fmt.Errorf("write band %s: %v", band.Name, err)
	}
	out.SetDescription(band.Name)
	if err = out.SetNoData(0); err != nil {
		ds.Close()
		return err
	}

	ct := godal.ColorTable{PaletteInterp: godal.RGBPalette, Entries: make([][4]int16, 256)}
	for i := 1; i < 256; i++ {
		c := palette[(i-1)*(len(palette)-1)/254]
		ct.Entries[i] = [4]int16{int16(c.R), int16(c.G), int16(c.B), 255}
	}
	if err = out.SetColorTable(ct); err != nil {
		ds.Close()
		return err
	}
	return ds.Close()
}

func setGrid(ds *godal.Dataset, path string, grid utils.Grid) error {
	if err := ds.SetGeoTransform(grid.GeoTransform); err != nil {
		return err
	}
	if len(grid.CRS) == 0 {
		return nil
	}
	sr, err := godal.NewSpatialRef(grid.CRS)
	if err != nil {
		return &utils.ReprojectionError{Source: path, Err: err}
	}
	defer sr.Close()
	return ds.SetSpatialRef(sr)
}

// ReadGeoTIFF reads every band of a local GeoTIFF at full resolution,
// keyed by band description. Bands without a description are named
// band_<n>.
func ReadGeoTIFF(path string) (map[string]*utils.BandArray, utils.Grid, error) {
	InitGdal()
	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return nil, utils.Grid{}, &utils.ReadError{Source: path, Err: err}
	}
	defer ds.Close()

	st := ds.Structure()
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, utils.Grid{}, &utils.ReadError{Source: path, Err: err}
	}
	grid := utils.Grid{GeoTransform: gt, CRS: ds.Projection(), Width: st.SizeX, Height: st.SizeY}

	out := make(map[string]*utils.BandArray, st.NBands)
	for i, band := range ds.Bands() {
		name := band.Description()
		if len(name) == 0 {
			name = fmt.Sprintf("band_%d", i+1)
		}
		arr := utils.NewBandArray(name, grid)
		if err := band.Read(0, 0, arr.Data, grid.Width, grid.Height); err != nil {
			return nil, utils.Grid{}, &utils.ReadError{Source: path, Err: err}
		}
		out[name] = arr
	}
	return out, grid, nil
}
