package utils

import (
	"bytes"
	"image"
	"image/png"
	"sync"
)

var (
	emptyTileOnce sync.Once
	emptyTile     []byte
	emptyTileErr  error
)

// GetEmptyTile returns a fully transparent PNG of the given size.
func GetEmptyTile(height, width int) ([]byte, error) {
	if height == TileSize && width == TileSize {
		emptyTileOnce.Do(func() {
			emptyTile, emptyTileErr = renderEmptyTile(height, width)
		})
		return emptyTile, emptyTileErr
	}
	return renderEmptyTile(height, width)
}

func renderEmptyTile(height, width int) ([]byte, error) {
	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, canvas); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
