package processor

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/karlseguin/ccache/v3"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/nci/satgate/catalog"
	"github.com/nci/satgate/metrics"
	"github.com/nci/satgate/utils"
)

type TilePipeline struct {
	Context         context.Context
	Error           chan error
	Reader          RasterReader
	Lookup          SceneLookup
	Fallback        FallbackResolver
	BandConcurrency int
	DefaultRescale  utils.RescaleMode
	Logger          zerolog.Logger
}

func InitTilePipeline(ctx context.Context, reader RasterReader, lookup SceneLookup, fallback FallbackResolver, bandConcurrency int, logger zerolog.Logger, errChan chan error) *TilePipeline {
	return &TilePipeline{
		Context:         ctx,
		Error:           errChan,
		Reader:          reader,
		Lookup:          lookup,
		Fallback:        fallback,
		BandConcurrency: bandConcurrency,
		Logger:          logger,
	}
}

func (tp *TilePipeline) Process(req *TileRequest) chan *RenderedTile {
	i := NewTileIndexer(tp.Context, tp.Lookup, tp.Fallback, tp.Logger, tp.Error)
	go func() {
		i.In <- req
		close(i.In)
	}()

	r := NewTileReader(tp.Context, tp.Reader, tp.BandConcurrency, tp.Logger, tp.Error)
	m := NewTileMerger(tp.Error)
	s := NewTileScaler(req.Rescale, tp.DefaultRescale, req.Colormap, tp.Error)
	enc := NewPNGEncoder(tp.Error)

	r.In = i.Out
	m.In = r.Out
	s.In = m.Out
	enc.In = s.Out

	go i.Run()
	go r.Run()
	go m.Run()
	go s.Run()
	go enc.Run()

	return enc.Out
}

const (
	DefaultBandConcurrency = 5
	DefaultTileCacheTTL    = 10 * time.Minute
	DefaultTileCacheSize   = 1000
)

// DefaultTileBands is true colour for Sentinel-2.
var DefaultTileBands = []string{"B04", "B03", "B02"}

type CompositorConfig struct {
	BandConcurrency   int
	DefaultCollection string
	DefaultRescale    utils.RescaleMode
	CacheTTL          time.Duration
	CacheSize         int64
}

// Compositor renders tiles. Identical requests in flight share one render
// and rendered tiles are cached by ETag.
type Compositor struct {
	reader   RasterReader
	lookup   SceneLookup
	fallback FallbackResolver
	cfg      CompositorConfig
	cache    *ccache.Cache[*RenderedTile]
	group    singleflight.Group
	logger   zerolog.Logger
}

func NewCompositor(reader RasterReader, lookup SceneLookup, fallback FallbackResolver, cfg CompositorConfig, logger zerolog.Logger) *Compositor {
	if cfg.BandConcurrency <= 0 {
		cfg.BandConcurrency = DefaultBandConcurrency
	}
	if cfg.DefaultRescale == nil {
		cfg.DefaultRescale = utils.Percentile{Low: 2, High: 98}
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultTileCacheTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultTileCacheSize
	}
	return &Compositor{
		reader:   reader,
		lookup:   lookup,
		fallback: fallback,
		cfg:      cfg,
		cache:    ccache.New(ccache.Configure[*RenderedTile]().MaxSize(cfg.CacheSize)),
		logger:   logger.With().Str("component", "compositor").Logger(),
	}
}

// Normalise fills in the defaults of req so equivalent requests share one
// ETag.
func (c *Compositor) Normalise(req TileRequest) TileRequest {
	req.Colormap = strings.ToLower(req.Colormap)
	if req.Rescale == nil && len(req.Colormap) == 0 {
		req.Rescale = c.cfg.DefaultRescale
	}
	if len(req.URL) > 0 {
		return req
	}
	if len(req.Collection) == 0 {
		req.Collection = c.cfg.DefaultCollection
	}
	if len(req.Bands) == 0 {
		req.Bands = DefaultTileBands
	}
	bands := make([]string, len(req.Bands))
	for i, b := range req.Bands {
		bands[i], _ = catalog.Canonical(b)
	}
	req.Bands = bands
	return req
}

// TileETag is the quoted blake2b-256 digest of the canonical form of a
// normalised request.
func TileETag(req TileRequest) string {
	idx := make([]string, len(req.BandIndexes))
	for i, b := range req.BandIndexes {
		idx[i] = strconv.Itoa(b)
	}
	rescale := ""
	if req.Rescale != nil {
		rescale = req.Rescale.String()
	}
	canonical := strings.Join([]string{
		req.SceneID,
		req.Collection,
		req.URL,
		req.Addr.String(),
		strings.Join(req.Bands, ",") + strings.Join(idx, ","),
		rescale,
		req.Colormap,
	}, "|")
	sum := blake2b.Sum256([]byte(canonical))
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// ETag computes the tag of req without any I/O.
func (c *Compositor) ETag(req TileRequest) string {
	return TileETag(c.Normalise(req))
}

// ComposeTile renders one tile. No-data conditions give a transparent
// tile, never an error.
func (c *Compositor) ComposeTile(ctx context.Context, req TileRequest) (*RenderedTile, error) {
	start := time.Now()
	defer func() { metrics.TileDuration.Observe(time.Since(start).Seconds()) }()

	if !req.Addr.Valid() {
		return nil, fmt.Errorf("invalid tile address %s", req.Addr)
	}
	req = c.Normalise(req)
	etag := TileETag(req)

	if item := c.cache.Get(etag); item != nil && !item.Expired() {
		metrics.TileRequests.WithLabelValues("cached").Inc()
		return item.Value(), nil
	}

	v, err, _ := c.group.Do(etag, func() (interface{}, error) {
		tile, err := c.render(context.WithoutCancel(ctx), &req)
		if err != nil {
			return nil, err
		}
		tile.ETag = etag
		c.cache.Set(etag, tile, c.cfg.CacheTTL)
		return tile, nil
	})
	if err != nil {
		metrics.TileRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	tile := v.(*RenderedTile)
	if tile.Empty {
		metrics.TileRequests.WithLabelValues("empty").Inc()
	} else {
		metrics.TileRequests.WithLabelValues("rendered").Inc()
	}
	return tile, nil
}

func (c *Compositor) render(ctx context.Context, req *TileRequest) (*RenderedTile, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 100)
	tp := InitTilePipeline(ctx, c.reader, c.lookup, c.fallback, c.cfg.BandConcurrency, c.logger, errChan)
	tp.DefaultRescale = c.cfg.DefaultRescale
	out := tp.Process(req)

	select {
	case tile, ok := <-out:
		// Stages report errors before passing their output on, so any
		// error behind this tile is already queued.
		select {
		case err := <-errChan:
			return nil, err
		default:
		}
		if !ok || tile == nil {
			return nil, errors.New("tile pipeline produced no output")
		}
		return tile, nil
	case err := <-errChan:
		return nil, err
	}
}
