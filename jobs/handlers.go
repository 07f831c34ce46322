package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nci/satgate/catalog"
	"github.com/nci/satgate/processor"
	"github.com/nci/satgate/utils"
)

// MosaicFile is the name of the GeoTIFF a mosaic job leaves in its
// output directory. Index jobs read it back by mosaic id.
const MosaicFile = "mosaic.tif"

// Processors runs the job types on top of the processing engine.
type Processors struct {
	Engine    *processor.Engine
	Sink      Sink
	OutputDir string
	Logger    zerolog.Logger
}

// Register installs the aggregate, index and mosaic handlers.
func (p *Processors) Register(o *Orchestrator) {
	o.Handle(TypeAggregate, p.Aggregate)
	o.Handle(TypeIndex, p.Index)
	o.Handle(TypeMosaic, p.Mosaic)
}

func (p *Processors) jobDir(jobID string) string {
	return filepath.Join(p.OutputDir, jobID)
}

func (p *Processors) publish(ctx context.Context, jobID, local string) (string, error) {
	if p.Sink == nil {
		return local, nil
	}
	return p.Sink.Publish(ctx, jobID, local)
}

func canonicalBands(bands []string) []string {
	out := make([]string, len(bands))
	for i, b := range bands {
		out[i], _ = catalog.Canonical(b)
	}
	return out
}

func outcomeStatus(o processor.Outcome) Status {
	if o == processor.OutcomePartial {
		return StatusPartial
	}
	return StatusCompleted
}

type AggregateResult struct {
	OutputFile  string   `json:"output_file"`
	Bands       []string `json:"bands"`
	Method      string   `json:"method"`
	Outcome     string   `json:"outcome"`
	FailedReads int      `json:"failed_reads"`
	TotalReads  int      `json:"total_reads"`
}

func (p *Processors) Aggregate(ctx context.Context, job *Job) (*Outcome, error) {
	req := job.Request
	aoi, err := req.aoi()
	if err != nil {
		return nil, err
	}
	method := req.AggregationMethod
	if len(method) == 0 {
		method = "mean"
	}

	res, err := p.Engine.Aggregate(ctx, processor.AggregationRequest{
		Scenes:      req.sceneRefs(),
		Bands:       canonicalBands(req.Bands),
		Method:      method,
		AOI:         aoi,
		PreviewSize: req.PreviewSize,
	}, job.Progress)
	if err != nil {
		return nil, err
	}

	bands := make([]*utils.BandArray, 0, len(res.BandOrder))
	for _, name := range res.BandOrder {
		bands = append(bands, res.Bands[name])
	}

	job.Progress(processor.StageSaving, 90)
	local := filepath.Join(p.jobDir(job.ID), "aggregate_"+method+".tif")
	meta := map[string]string{"AGGREGATION_METHOD": method, "OUTCOME": string(res.Outcome)}
	if err := p.Engine.Files.WriteRaster(local, bands, res.Grid, meta); err != nil {
		return nil, fmt.Errorf("write aggregate: %w", err)
	}
	out, err := p.publish(ctx, job.ID, local)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Status: outcomeStatus(res.Outcome),
		Result: &AggregateResult{
			OutputFile:  out,
			Bands:       res.BandOrder,
			Method:      method,
			Outcome:     string(res.Outcome),
			FailedReads: res.FailedReads,
			TotalReads:  res.TotalReads,
		},
		Message: fmt.Sprintf("%d of %d reads succeeded", res.TotalReads-res.FailedReads, res.TotalReads),
	}, nil
}

type IndexResult struct {
	Type        string           `json:"type"`
	IndexType   string           `json:"index_type"`
	OutputFile  string           `json:"output_file"`
	PreviewFile string           `json:"preview_file,omitempty"`
	Statistics  utils.Statistics `json:"statistics"`
	Width       int              `json:"width"`
	Height      int              `json:"height"`
	CRS         string           `json:"crs"`
}

func (p *Processors) Index(ctx context.Context, job *Job) (*Outcome, error) {
	req := job.Request
	spec := req.IndexSpec()
	needed, err := processor.IndexBands(spec)
	if err != nil {
		return nil, err
	}

	status := StatusCompleted
	var inputs map[string]*utils.BandArray
	if len(req.MosaicID) > 0 {
		job.Progress(processor.StageReading, 30)
		var grid utils.Grid
		inputs, grid, err = p.Engine.Files.ReadRaster(filepath.Join(p.jobDir(req.MosaicID), MosaicFile))
		if err != nil {
			return nil, fmt.Errorf("read mosaic %s: %w", req.MosaicID, err)
		}
		p.Logger.Debug().Str("job_id", job.ID).Str("mosaic", req.MosaicID).Int("width", grid.Width).Int("height", grid.Height).Msg("mosaic loaded")
		job.Progress(processor.StageReading, 60)
	} else {
		aoi, err := req.aoi()
		if err != nil {
			return nil, err
		}
		res, err := p.Engine.Aggregate(ctx, processor.AggregationRequest{
			Scenes:      req.sceneRefs(),
			Bands:       needed,
			Method:      req.AggregationMethod,
			AOI:         aoi,
			PreviewSize: req.PreviewSize,
		}, job.Progress)
		if err != nil {
			return nil, err
		}
		inputs = res.Bands
		status = outcomeStatus(res.Outcome)
	}

	res, err := processor.ComputeIndex(ctx, spec, inputs)
	if err != nil {
		return nil, err
	}
	job.Progress(processor.StageComputing, 90)

	name := res.Data.Name
	dir := p.jobDir(job.ID)
	local := filepath.Join(dir, name+".tif")
	grid := res.Data.Grid()
	if err := p.Engine.Files.WriteRaster(local, []*utils.BandArray{res.Data}, grid, res.Stats.GDALMetadata()); err != nil {
		return nil, fmt.Errorf("write index: %w", err)
	}
	job.Progress(processor.StageSaving, 95)

	ramp, vmin, vmax := processor.IndexRamp(name)
	if len(req.ColorMap) > 0 {
		ramp = req.ColorMap
	}
	previewLocal := filepath.Join(dir, name+"_preview.tif")
	if err := p.Engine.Files.WritePaletted(previewLocal, res.Data, grid, vmin, vmax, processor.RampPalette(ramp)); err != nil {
		return nil, fmt.Errorf("write index preview: %w", err)
	}

	out, err := p.publish(ctx, job.ID, local)
	if err != nil {
		return nil, err
	}
	preview, err := p.publish(ctx, job.ID, previewLocal)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Status: status,
		Result: &IndexResult{
			Type:        "spectral_index",
			IndexType:   name,
			OutputFile:  out,
			PreviewFile: preview,
			Statistics:  res.Stats,
			Width:       grid.Width,
			Height:      grid.Height,
			CRS:         grid.CRS,
		},
	}, nil
}

type MosaicResult struct {
	MosaicID   string   `json:"mosaic_id"`
	MosaicPath string   `json:"mosaic_path"`
	SceneCount int      `json:"scene_count"`
	Bands      []string `json:"bands"`
	Strategy   string   `json:"strategy"`
	FileSize   int64    `json:"file_size"`
	FileHash   string   `json:"file_hash"`
}

func (p *Processors) Mosaic(ctx context.Context, job *Job) (*Outcome, error) {
	req := job.Request
	aoi, err := req.aoi()
	if err != nil {
		return nil, err
	}
	strategy := strings.ToLower(req.Strategy)
	if len(strategy) == 0 {
		strategy = processor.DefaultMosaicStrategy
	}

	local := filepath.Join(p.jobDir(job.ID), MosaicFile)
	res, err := p.Engine.BuildMosaic(ctx, processor.MosaicRequest{
		Scenes:   req.sceneRefs(),
		Bands:    canonicalBands(req.Bands),
		Strategy: strategy,
		AOI:      aoi,
		Output:   local,
	}, job.Progress)
	if err != nil {
		return nil, err
	}

	size, hash, err := fileDigest(local)
	if err != nil {
		return nil, err
	}
	out, err := p.publish(ctx, job.ID, local)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Status: StatusCompleted,
		Result: &MosaicResult{
			MosaicID:   job.ID,
			MosaicPath: out,
			SceneCount: res.SceneCount,
			Bands:      res.Bands,
			Strategy:   strategy,
			FileSize:   size,
			FileHash:   hash,
		},
	}, nil
}

// fileDigest returns the size and hex sha256 of the file at path.
func fileDigest(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
