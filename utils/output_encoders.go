package utils

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
)

// EncodeRGBA packs four byte planes into an RGBA PNG. Fully transparent
// pixels keep zero colour so identical inputs give identical bytes.
func EncodeRGBA(r, g, b, a []uint8, width, height int) ([]byte, error) {
	size := width * height
	if len(r) != size || len(g) != size || len(b) != size || len(a) != size {
		return nil, fmt.Errorf("plane sizes do not match %dx%d", width, height)
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < size; i++ {
		if a[i] == 0 {
			continue
		}
		start := i * 4
		canvas.Pix[start] = r[i]
		canvas.Pix[start+1] = g[i]
		canvas.Pix[start+2] = b[i]
		canvas.Pix[start+3] = a[i]
	}
	return EncodePNG(canvas)
}

func EncodePNG(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := &png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
