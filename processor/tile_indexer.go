package processor

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/nci/satgate/catalog"
	"github.com/nci/satgate/utils"
)

// TileIndexer turns a tile request into one band read per requested band,
// resolving logical band names to asset hrefs.
type TileIndexer struct {
	Context  context.Context
	In       chan *TileRequest
	Out      chan *bandRead
	Error    chan error
	Lookup   SceneLookup
	Fallback FallbackResolver
	Logger   zerolog.Logger
}

func NewTileIndexer(ctx context.Context, lookup SceneLookup, fallback FallbackResolver, logger zerolog.Logger, errChan chan error) *TileIndexer {
	return &TileIndexer{
		Context:  ctx,
		In:       make(chan *TileRequest, 100),
		Out:      make(chan *bandRead, 100),
		Error:    errChan,
		Lookup:   lookup,
		Fallback: fallback,
		Logger:   logger,
	}
}

func (p *TileIndexer) Run() {
	defer close(p.Out)

	for req := range p.In {
		select {
		case <-p.Context.Done():
			p.Error <- fmt.Errorf("tile indexer context has been cancelled: %v", p.Context.Err())
			return
		default:
		}

		if len(req.URL) > 0 {
			p.indexCOG(req)
			continue
		}
		p.indexScene(req)
	}
}

func (p *TileIndexer) indexCOG(req *TileRequest) {
	if len(req.BandIndexes) == 0 {
		p.Out <- &bandRead{Addr: req.Addr, Index: 0, Name: "cog", Href: req.URL}
		return
	}
	for i, b := range req.BandIndexes {
		p.Out <- &bandRead{Addr: req.Addr, Index: i, Name: strconv.Itoa(b), Href: req.URL, BandIndex: b}
	}
}

func (p *TileIndexer) indexScene(req *TileRequest) {
	scene := p.lookupScene(req.Collection, req.SceneID)
	if scene != nil && !TileTouches(req.Addr, scene.BBox) {
		for i, name := range req.Bands {
			canonical, _ := catalog.Canonical(name)
			p.Out <- &bandRead{Addr: req.Addr, Index: i, Name: canonical,
				Err: &utils.OutOfBoundsError{Source: scene.ID, Window: "tile " + req.Addr.String()}}
		}
		return
	}

	var fallback *catalog.Scene
	fallbackTried := false

	for i, name := range req.Bands {
		canonical, _ := catalog.Canonical(name)
		br := &bandRead{Addr: req.Addr, Index: i, Name: canonical, BandIndex: 1}

		href, ok := catalog.Resolve(scene, name)
		if !ok && p.Fallback != nil {
			if !fallbackTried {
				fallback, _ = p.Fallback.FallbackScene(req.Collection, req.SceneID)
				fallbackTried = true
			}
			href, ok = catalog.Resolve(fallback, name)
		}

		if ok {
			br.Href = href
		} else {
			br.Err = &utils.BandNotFoundError{Scene: req.SceneID, Band: name}
		}
		p.Out <- br
	}
}

// lookupScene asks the catalog first and the public bucket conventions
// second. nil means neither knows the scene.
func (p *TileIndexer) lookupScene(collection, id string) *catalog.Scene {
	if p.Lookup != nil {
		scene, err := p.Lookup.GetScene(p.Context, collection, id)
		if err == nil {
			return scene
		}
		p.Logger.Debug().Err(err).Str("scene", id).Msg("catalog lookup failed, trying public buckets")
	}
	if p.Fallback != nil {
		if scene, ok := p.Fallback.FallbackScene(collection, id); ok {
			return scene
		}
	}
	return nil
}
