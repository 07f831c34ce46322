package processor

import (
	"context"
	"fmt"

	"github.com/nci/satgate/utils"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
)

type AggregationRequest struct {
	Scenes      []SceneRef
	Bands       []string
	Method      string
	AOI         *AOI
	PreviewSize int
}

type AggregationResult struct {
	Bands       map[string]*utils.BandArray
	BandOrder   []string
	Grid        utils.Grid
	Outcome     Outcome
	TotalReads  int
	FailedReads int
}

// Aggregate reduces each band across scenes onto the grid of the first
// readable scene. Some failed reads give a partial outcome; no successful
// read at all gives ErrNoData.
func (e *Engine) Aggregate(ctx context.Context, req AggregationRequest, progress ProgressFunc) (*AggregationResult, error) {
	if len(req.Method) == 0 {
		req.Method = "mean"
	}
	reduce, err := LookupReducer(req.Method)
	if err != nil {
		return nil, err
	}
	if len(req.Scenes) == 0 || len(req.Bands) == 0 {
		return nil, &utils.ConfigurationError{Reason: "aggregation needs at least one scene and one band"}
	}

	scenes, err := e.resolveScenes(ctx, req.Scenes, progress)
	if err != nil {
		return nil, err
	}

	reads, err := e.readScenes(ctx, req.Scenes, scenes, req.Bands, req.AOI, e.previewSize(req.PreviewSize), progress)
	if err != nil {
		return nil, err
	}

	return e.reduceReads(ctx, req.Bands, reads, req.AOI, reduce, progress)
}

func (e *Engine) reduceReads(ctx context.Context, bands []string, reads [][]*sceneRead, aoi *AOI, reduce Reducer, progress ProgressFunc) (*AggregationResult, error) {
	grid, found, err := e.coregister(ctx, reads)
	if err != nil {
		return nil, err
	}

	res := &AggregationResult{Bands: make(map[string]*utils.BandArray, len(bands)), BandOrder: bands, Grid: grid}
	for _, row := range reads {
		for _, r := range row {
			res.TotalReads++
			if !r.ok() {
				res.FailedReads++
			}
		}
	}
	if !found || res.FailedReads == res.TotalReads {
		res.Outcome = OutcomeFailed
		return res, ErrNoData
	}

	mask := e.aoiMask(aoi, grid)

	for j, band := range bands {
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
			arrays = append(arrays, r.Array)
		}

		out, err := ReduceArrays(band, arrays, grid, reduce)
		if err != nil {
			return nil, fmt.Errorf("reduce %s: %w", band, err)
		}
		res.Bands[band] = out
		progress.report(StageComputing, 60+30*float64(j+1)/float64(len(bands)))
	}

	res.Outcome = OutcomeCompleted
	if res.FailedReads > 0 {
		res.Outcome = OutcomePartial
	}
	return res, nil
}
