package gdalprocess

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/nci/satgate/metrics"
	"github.com/nci/satgate/utils"
)

const (
	DefaultReadTimeout = 20 * time.Second
	infoPreviewSize    = 1024
)

type ReaderConfig struct {
	// Unsigned opens every S3 source without request signing.
	Unsigned      bool
	PublicBuckets []string
	ReadTimeout   time.Duration

	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

// GDALReader reads raster sources with GDAL. Every call opens, reads and
// closes its dataset; nothing is held between calls.
type GDALReader struct {
	cfg      ReaderConfig
	breakers *BreakerPool
	logger   zerolog.Logger
}

func NewGDALReader(cfg ReaderConfig, logger zerolog.Logger) *GDALReader {
	InitGdal()
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	return &GDALReader{
		cfg:      cfg,
		breakers: NewBreakerPool(cfg.BreakerMaxFailures, cfg.BreakerTimeout),
		logger:   logger.With().Str("component", "gdal_reader").Logger(),
	}
}

func (r *GDALReader) openOptions(href string) []godal.OpenOption {
	opts := []godal.OpenOption{godal.RasterOnly()}
	if r.cfg.Unsigned || isPublicBucket(href, r.cfg.PublicBuckets) {
		opts = append(opts, godal.ConfigOption("AWS_NO_SIGN_REQUEST=YES"))
	}
	return opts
}

func (r *GDALReader) open(href string) (*godal.Dataset, error) {
	ds, err := godal.Open(VSIPath(href), r.openOptions(href)...)
	if err != nil {
		return nil, &utils.ReadError{Source: href, Err: err}
	}
	return ds, nil
}

// readWith executes fn under the per read timeout and the breaker of the
// source host. When the timeout fires first the GDAL call keeps running
// and its result is dropped.
func readWith[T any](ctx context.Context, r *GDALReader, op, href string, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}

	start := time.Now()
	defer func() {
		metrics.RasterReads.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var out T
	err := r.breakers.Do(SourceHost(href), func() error {
		ctx, cancel := context.WithTimeout(ctx, r.cfg.ReadTimeout)
		defer cancel()

		done := make(chan result, 1)
		go func() {
			v, err := fn()
			done <- result{v, err}
		}()

		select {
		case res := <-done:
			out = res.v
			return res.err
		case <-ctx.Done():
			return &utils.ReadError{Source: href, Err: ctx.Err()}
		}
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &utils.ReadError{Source: href, Err: err}
	}
	if err != nil {
		metrics.RasterReadErrors.WithLabelValues(errorKind(err)).Inc()
		r.logger.Debug().Err(err).Str("op", op).Str("source", href).Dur("duration", time.Since(start)).Msg("raster read failed")
	}
	return out, err
}

func errorKind(err error) string {
	switch {
	case utils.IsOutOfBounds(err):
		return "out_of_bounds"
	case utils.IsBandNotFound(err):
		return "band_not_found"
	case utils.IsReprojection(err):
		return "reprojection"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "read"
}

// Tile reads the 1-based bands of href warped onto the web mercator tile
// at addr. No bands means all of them.
func (r *GDALReader) Tile(ctx context.Context, href string, addr utils.TileAddress, bands []int) (*utils.BandStack, error) {
	return readWith(ctx, r, "tile", href, func() (*utils.BandStack, error) {
		ds, err := r.open(href)
		if err != nil {
			return nil, err
		}
		defer ds.Close()

		want := bands
		if len(want) == 0 {
			want = allBands(ds.Structure().NBands)
		}
		if err := checkBands(href, ds, want); err != nil {
			return nil, err
		}

		tb := TileBounds(addr)
		srcBounds, err := boundsIn(ds, "EPSG:3857")
		if err != nil {
			return nil, &utils.ReprojectionError{Source: href, Err: err}
		}
		if !intersects(srcBounds, tb) {
			return nil, &utils.OutOfBoundsError{Source: href, Window: "tile " + addr.String()}
		}

		arrs, _, err := warpTo(ds, want, "EPSG:3857", tb, "", utils.TileSize, utils.TileSize)
		if err != nil {
			return nil, &utils.ReadError{Source: href, Err: err}
		}
		return &utils.BandStack{Bands: arrs}, nil
	})
}

// Preview reads every band of href decimated to fit maxWidth x maxHeight.
// GDAL serves the read from the closest overview.
func (r *GDALReader) Preview(ctx context.Context, href string, maxWidth, maxHeight int) (*utils.BandStack, error) {
	return readWith(ctx, r, "preview", href, func() (*utils.BandStack, error) {
		ds, err := r.open(href)
		if err != nil {
			return nil, err
		}
		defer ds.Close()
		return readPreview(ds, href, maxWidth, maxHeight)
	})
}

func readPreview(ds *godal.Dataset, href string, maxWidth, maxHeight int) (*utils.BandStack, error) {
	st := ds.Structure()
	w, h := PreviewSize(st.SizeX, st.SizeY, maxWidth, maxHeight)
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, &utils.ReadError{Source: href, Err: err}
	}
	grid := utils.Grid{
		GeoTransform: ScaleGeoTransform(gt, st.SizeX, st.SizeY, w, h),
		CRS:          ds.Projection(),
		Width:        w,
		Height:       h,
	}

	stack := &utils.BandStack{}
	for i, band := range ds.Bands() {
		arr := utils.NewBandArray(fmt.Sprintf("%d", i+1), grid)
		err := band.Read(0, 0, arr.Data, w, h,
			godal.Window(st.SizeX, st.SizeY),
			godal.Resampling(godal.Bilinear))
		if err != nil {
			return nil, &utils.ReadError{Source: href, Err: err}
		}
		zeroNoData(arr.Data, band)
		stack.Bands = append(stack.Bands, arr)
	}
	return stack, nil
}

// Part reads every band of href over bbox into a width x height grid in
// bboxCRS.
func (r *GDALReader) Part(ctx context.Context, href string, bbox [4]float64, bboxCRS string, width, height int) (*utils.BandStack, error) {
	return readWith(ctx, r, "part", href, func() (*utils.BandStack, error) {
		ds, err := r.open(href)
		if err != nil {
			return nil, err
		}
		defer ds.Close()

		srcBounds, err := boundsIn(ds, bboxCRS)
		if err != nil {
			return nil, &utils.ReprojectionError{Source: href, Err: err}
		}
		if !intersects(srcBounds, bbox) {
			return nil, &utils.OutOfBoundsError{Source: href, Window: fmt.Sprintf("bbox %v", bbox)}
		}

		arrs, _, err := warpTo(ds, allBands(ds.Structure().NBands), bboxCRS, bbox, "", width, height)
		if err != nil {
			return nil, &utils.ReadError{Source: href, Err: err}
		}
		return &utils.BandStack{Bands: arrs}, nil
	})
}

// Warp reprojects every band of href onto grid.
func (r *GDALReader) Warp(ctx context.Context, href string, grid utils.Grid) (*utils.BandStack, error) {
	return readWith(ctx, r, "warp", href, func() (*utils.BandStack, error) {
		ds, err := r.open(href)
		if err != nil {
			return nil, err
		}
		defer ds.Close()

		arrs, _, err := warpTo(ds, allBands(ds.Structure().NBands), grid.CRS, grid.Bounds(), grid.CRS, grid.Width, grid.Height)
		if err != nil {
			return nil, &utils.ReprojectionError{Source: href, Err: err}
		}
		for _, a := range arrs {
			a.GeoTransform = grid.GeoTransform
			a.CRS = grid.CRS
		}
		return &utils.BandStack{Bands: arrs}, nil
	})
}

// Info describes href. Band statistics come from a decimated read and
// exclude no-data.
func (r *GDALReader) Info(ctx context.Context, href string) (*utils.SourceInfo, error) {
	return readWith(ctx, r, "info", href, func() (*utils.SourceInfo, error) {
		ds, err := r.open(href)
		if err != nil {
			return nil, err
		}
		defer ds.Close()

		st := ds.Structure()
		bounds, err := ds.Bounds()
		if err != nil {
			return nil, &utils.ReadError{Source: href, Err: err}
		}
		info := &utils.SourceInfo{
			Source:    href,
			Bounds:    bounds,
			CRS:       ds.Projection(),
			Width:     st.SizeX,
			Height:    st.SizeY,
			BandCount: st.NBands,
			DataType:  st.DataType.String(),
		}

		stack, err := readPreview(ds, href, infoPreviewSize, infoPreviewSize)
		if err != nil {
			return nil, err
		}
		for _, b := range stack.Bands {
			info.Bands = append(info.Bands, utils.ComputeStatistics(withoutZeros(b.Data)))
		}
		return info, nil
	})
}

func checkBands(href string, ds *godal.Dataset, bands []int) error {
	n := ds.Structure().NBands
	for _, b := range bands {
		if b < 1 || b > n {
			return &utils.BandNotFoundError{Scene: href, Band: fmt.Sprintf("%d", b)}
		}
	}
	return nil
}

func boundsIn(ds *godal.Dataset, crs string) ([4]float64, error) {
	sr, err := godal.NewSpatialRef(crs)
	if err != nil {
		return [4]float64{}, err
	}
	defer sr.Close()
	return ds.Bounds(sr)
}

// zeroNoData rewrites the band's declared no-data value to zero.
func zeroNoData(data []float32, band godal.Band) {
	nd, ok := band.NoData()
	if !ok || nd == 0 {
		return
	}
	for i, v := range data {
		if float64(v) == nd || (math.IsNaN(nd) && math.IsNaN(float64(v))) {
			data[i] = 0
		}
	}
}

func withoutZeros(data []float32) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		if v == 0 {
			out[i] = float32(math.NaN())
		} else {
			out[i] = v
		}
	}
	return out
}
