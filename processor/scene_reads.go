package processor

import (
	"context"
	"fmt"
	"image/color"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nci/satgate/catalog"
	"github.com/nci/satgate/utils"
)

const (
	DefaultMaxConcurrentReads = 5
	DefaultPreviewSize        = 2048
)

// Progress stage labels, each covering a range of the job's progress.
const (
	StageFetchingScenes = "fetching_scenes"
	StageReading        = "reading"
	StageComputing      = "computing"
	StageSaving         = "saving"
)

// ProgressFunc receives stage labels and progress in percent. It may be nil.
type ProgressFunc func(stage string, progress float64)

func (f ProgressFunc) report(stage string, progress float64) {
	if f != nil {
		f(stage, progress)
	}
}

// RasterFiles writes and reads the GeoTIFF outputs of jobs.
type RasterFiles interface {
	WriteRaster(path string, bands []*utils.BandArray, grid utils.Grid, metadata map[string]string) error
	// WritePaletted writes one band through a colour table, for viewing.
	WritePaletted(path string, band *utils.BandArray, grid utils.Grid, vmin, vmax float64, palette []color.RGBA) error
	ReadRaster(path string) (map[string]*utils.BandArray, utils.Grid, error)
}

// Engine runs the multi-scene operations: aggregation, mosaics and the
// reads behind spectral indices.
type Engine struct {
	Reader             RasterReader
	Lookup             SceneLookup
	Fallback           FallbackResolver
	Files              RasterFiles
	MaxConcurrentReads int
	PreviewSize        int
	// AOICentresOnly restricts AOI clipping to cells whose centre falls
	// inside the polygon.
	AOICentresOnly bool
	Logger         zerolog.Logger
}

func (e *Engine) aoiMask(aoi *AOI, grid utils.Grid) []bool {
	if aoi == nil {
		return nil
	}
	if e.AOICentresOnly {
		return aoi.CentreMask(grid)
	}
	return aoi.Mask(grid)
}

func (e *Engine) previewSize(req int) int {
	switch {
	case req > 0:
		return req
	case e.PreviewSize > 0:
		return e.PreviewSize
	}
	return DefaultPreviewSize
}

// sceneRead is the read of one band of one scene.
type sceneRead struct {
	Scene int
	Band  int
	Href  string
	Array *utils.BandArray
	Err   error
}

func (r *sceneRead) ok() bool {
	return r.Err == nil && r.Array != nil
}

// resolveScenes finds every scene, reporting progress over the
// fetching_scenes range. Unknown scenes are nil.
func (e *Engine) resolveScenes(ctx context.Context, refs []SceneRef, progress ProgressFunc) ([]*catalog.Scene, error) {
	scenes := make([]*catalog.Scene, len(refs))
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.Lookup != nil {
			s, err := e.Lookup.GetScene(ctx, ref.Collection, ref.ID)
			if err == nil {
				scenes[i] = s
			} else {
				e.Logger.Debug().Err(err).Str("scene", ref.ID).Msg("catalog lookup failed")
			}
		}
		if scenes[i] == nil && e.Fallback != nil {
			if s, ok := e.Fallback.FallbackScene(ref.Collection, ref.ID); ok {
				scenes[i] = s
			}
		}
		if scenes[i] == nil {
			e.Logger.Warn().Str("scene", ref.ID).Msg("scene not found")
		}
		progress.report(StageFetchingScenes, 30*float64(i+1)/float64(len(refs)))
	}
	return scenes, nil
}

// readScenes reads every (scene, band) pair with bounded concurrency.
// reads[i][j] is band j of scene i. Cancellation is observed between
// reads, never during one.
func (e *Engine) readScenes(ctx context.Context, refs []SceneRef, scenes []*catalog.Scene, bands []string, aoi *AOI, size int, progress ProgressFunc) ([][]*sceneRead, error) {
	reads := make([][]*sceneRead, len(scenes))
	total := len(scenes) * len(bands)
	var mu sync.Mutex
	done := 0

	limit := e.MaxConcurrentReads
	if limit <= 0 {
		limit = DefaultMaxConcurrentReads
	}
	cLimiter := NewConcLimiter(limit)

	var width, height int
	if aoi != nil {
		width, height = aoi.PixelSize(size)
	}

	var ctxErr error
	for i, scene := range scenes {
		reads[i] = make([]*sceneRead, len(bands))
		for j, band := range bands {
			r := &sceneRead{Scene: i, Band: j}
			reads[i][j] = r

			href, found := catalog.Resolve(scene, band)
			if !found {
				r.Err = &utils.BandNotFoundError{Scene: refs[i].ID, Band: band}
				continue
			}
			r.Href = href

			if ctxErr = ctx.Err(); ctxErr != nil {
				break
			}
			if ctxErr = cLimiter.IncreaseContext(ctx); ctxErr != nil {
				break
			}
			go func(r *sceneRead) {
				defer cLimiter.Decrease()

				var stack *utils.BandStack
				var err error
				if aoi != nil {
					stack, err = e.Reader.Part(ctx, r.Href, aoi.BBox(), AOICRS, width, height)
				} else {
					stack, err = e.Reader.Preview(ctx, r.Href, size, size)
				}
				if err == nil && (stack == nil || len(stack.Bands) == 0) {
					err = &utils.ReadError{Source: r.Href, Err: fmt.Errorf("no bands returned")}
				}
				if err != nil {
					r.Err = err
					e.Logger.Warn().Err(err).Str("source", r.Href).Msg("scene read failed")
				} else {
					r.Array = stack.Bands[0]
					r.Array.Name = bands[r.Band]
				}

				mu.Lock()
				done++
				progress.report(StageReading, 30+30*float64(done)/float64(total))
				mu.Unlock()
			}(r)
		}
		if ctxErr != nil {
			break
		}
	}
	cLimiter.Wait()

	if ctxErr != nil {
		return nil, ctxErr
	}
	return reads, nil
}

// coregister picks the reference grid, the grid of the first scene in
// caller order with any valid read, and warps every other valid read onto
// it. A scene that cannot be reprojected loses all its reads.
func (e *Engine) coregister(ctx context.Context, reads [][]*sceneRead) (utils.Grid, bool, error) {
	var ref utils.Grid
	found := false
	for _, row := range reads {
		for _, r := range row {
			if r.ok() {
				ref = r.Array.Grid()
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		return ref, false, nil
	}

	for _, row := range reads {
		for _, r := range row {
			if !r.ok() || r.Array.Grid().Equal(ref) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return ref, true, err
			}

			stack, err := e.Reader.Warp(ctx, r.Href, ref)
			if err == nil && (stack == nil || len(stack.Bands) == 0) {
				err = &utils.ReprojectionError{Source: r.Href, Err: fmt.Errorf("no bands returned")}
			}
			if err != nil {
				e.Logger.Warn().Err(err).Str("source", r.Href).Msg("reprojection failed, dropping scene")
				for _, other := range row {
					if other.Err == nil {
						other.Err = &utils.ReprojectionError{Source: other.Href, Err: err}
						other.Array = nil
					}
				}
				break
			}

			warped := stack.Bands[0]
			if !warped.Grid().SameShape(ref) {
				return ref, true, fmt.Errorf("%w: %s", ErrShapeMismatch, r.Href)
			}
			warped.Name = r.Array.Name
			r.Array = warped
		}
	}
	return ref, true, nil
}
