package processor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nci/satgate/utils"
)

var DefaultMosaicBands = []string{"B04", "B03", "B02"}

const DefaultMosaicStrategy = "first"

type mergeFunc func(canvas, data []float32)

// mergeFirst keeps the first non-zero value seen for each pixel.
func mergeFirst(canvas, data []float32) {
	for i, v := range data {
		if v != 0 && canvas[i] == 0 {
			canvas[i] = v
		}
	}
}

// mergeLast lets later non-zero values overwrite earlier ones.
func mergeLast(canvas, data []float32) {
	for i, v := range data {
		if v != 0 {
			canvas[i] = v
		}
	}
}

var canvasMergers = map[string]mergeFunc{
	"first": mergeFirst,
	"last":  mergeLast,
}

var reducedStrategies = map[string]bool{"mean": true, "max": true, "min": true}

func MosaicStrategies() []string {
	out := []string{}
	for k := range canvasMergers {
		out = append(out, k)
	}
	for k := range reducedStrategies {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type MosaicRequest struct {
	Scenes   []SceneRef
	Bands    []string
	Strategy string
	AOI      *AOI
	Output   string
}

type MosaicResult struct {
	Path       string
	Grid       utils.Grid
	Bands      []string
	SceneCount int
}

// BuildMosaic merges the scenes band by band, in caller order, onto the
// grid of the first contributing read and writes a multi-band GeoTIFF.
func (e *Engine) BuildMosaic(ctx context.Context, req MosaicRequest, progress ProgressFunc) (*MosaicResult, error) {
	if len(req.Bands) == 0 {
		req.Bands = DefaultMosaicBands
	}
	strategy := strings.ToLower(strings.TrimSpace(req.Strategy))
	if len(strategy) == 0 {
		strategy = DefaultMosaicStrategy
	}
	merge, isCanvas := canvasMergers[strategy]
	if !isCanvas && !reducedStrategies[strategy] {
		return nil, &utils.ConfigurationError{Reason: fmt.Sprintf("unsupported mosaic strategy %q, want one of %s", req.Strategy, strings.Join(MosaicStrategies(), ", "))}
	}
	if len(req.Scenes) == 0 {
		return nil, &utils.ConfigurationError{Reason: "mosaic needs at least one scene"}
	}
	if len(req.Output) == 0 {
		return nil, &utils.ConfigurationError{Reason: "mosaic output path is empty"}
	}

	scenes, err := e.resolveScenes(ctx, req.Scenes, progress)
	if err != nil {
		return nil, err
	}
	reads, err := e.readScenes(ctx, req.Scenes, scenes, req.Bands, req.AOI, e.previewSize(0), progress)
	if err != nil {
		return nil, err
	}
	grid, found, err := e.coregister(ctx, reads)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoData
	}

	mask := e.aoiMask(req.AOI, grid)

	contributing := make(map[int]bool)
	var out []*utils.BandArray
	var names []string
	for j, band := range req.Bands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var arrays []*utils.BandArray
		for i := range reads {
			r := reads[i][j]
			if !r.ok() {
				continue
			}
			if mask != nil {
				Clip(r.Array, mask)
			}
			if r.Array.HasData() {
				contributing[i] = true
			}
			arrays = append(arrays, r.Array)
		}

		var merged *utils.BandArray
		if isCanvas {
			merged = utils.NewBandArray(band, grid)
			for _, a := range arrays {
				if len(a.Data) != len(merged.Data) {
					return nil, fmt.Errorf("%w: %s", ErrShapeMismatch, a.Name)
				}
				merge(merged.Data, a.Data)
			}
		} else {
			reduce, err := LookupReducer(strategy)
			if err != nil {
				return nil, err
			}
			if merged, err = ReduceArrays(band, arrays, grid, reduce); err != nil {
				return nil, fmt.Errorf("merge %s: %w", band, err)
			}
		}
		progress.report(StageComputing, 60+30*float64(j+1)/float64(len(req.Bands)))

		if !merged.HasData() {
			e.Logger.Info().Str("band", band).Msg("band has no data, left out of mosaic")
			continue
		}
		out = append(out, merged)
		names = append(names, band)
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}

	progress.report(StageSaving, 90)
	if err := e.Files.WriteRaster(req.Output, out, grid, map[string]string{"MOSAIC_STRATEGY": strategy}); err != nil {
		return nil, fmt.Errorf("write mosaic: %w", err)
	}
	progress.report(StageSaving, 100)

	return &MosaicResult{Path: req.Output, Grid: grid, Bands: names, SceneCount: len(contributing)}, nil
}
