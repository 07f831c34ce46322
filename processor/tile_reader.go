package processor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nci/satgate/utils"
)

// TileReader reads the bands of a tile concurrently. Reads that fail in a
// recoverable way leave the band empty, to be replaced by zeros.
type TileReader struct {
	Context context.Context
	In      chan *bandRead
	Out     chan *bandRead
	Error   chan error
	Reader  RasterReader
	Limit   int
	Logger  zerolog.Logger
}

func NewTileReader(ctx context.Context, reader RasterReader, limit int, logger zerolog.Logger, errChan chan error) *TileReader {
	return &TileReader{
		Context: ctx,
		In:      make(chan *bandRead, 100),
		Out:     make(chan *bandRead, 100),
		Error:   errChan,
		Reader:  reader,
		Limit:   limit,
		Logger:  logger,
	}
}

func (tr *TileReader) Run() {
	defer close(tr.Out)

	cLimiter := NewConcLimiter(tr.Limit)
	for br := range tr.In {
		if br.Err != nil {
			tr.logPlaceholder(br)
			tr.Out <- br
			continue
		}

		if err := cLimiter.IncreaseContext(tr.Context); err != nil {
			tr.Error <- fmt.Errorf("tile reader cancelled: %v", err)
			break
		}
		go func(br *bandRead) {
			defer cLimiter.Decrease()
			tr.read(br)
			tr.Out <- br
		}(br)
	}
	cLimiter.Wait()
}

func (tr *TileReader) read(br *bandRead) {
	var bands []int
	if br.BandIndex > 0 {
		bands = []int{br.BandIndex}
	}

	stack, err := tr.Reader.Tile(tr.Context, br.Href, br.Addr, bands)
	if err != nil {
		br.Err = err
		if !utils.IsRecoverable(err) {
			tr.Error <- err
			return
		}
		tr.logPlaceholder(br)
		return
	}
	for _, arr := range stack.Bands {
		arr.Name = br.Name
		br.Arrays = append(br.Arrays, arr)
	}
}

func (tr *TileReader) logPlaceholder(br *bandRead) {
	ev := tr.Logger.Warn()
	if utils.IsOutOfBounds(br.Err) {
		ev = tr.Logger.Debug()
	}
	ev.Err(br.Err).Str("band", br.Name).Str("tile", br.Addr.String()).Msg("band replaced by zeros")
}
