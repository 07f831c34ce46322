package processor

import (
	"image/color"
	"math"
	"testing"

	"github.com/nci/satgate/utils"
)

func TestGradientRGBAPalette(t *testing.T) {
	stepped, err := GradientRGBAPalette(&utils.Palette{Colours: []color.RGBA{rgb(255, 0, 0), rgb(0, 0, 255)}})
	if err != nil {
		t.Fatal(err)
	}
	if len(stepped) != 256 {
		t.Fatalf("expected 256 colours, got %d", len(stepped))
	}
	if stepped[127] != rgb(255, 0, 0) || stepped[128] != rgb(0, 0, 255) {
		t.Errorf("expected two flat halves, got %v and %v", stepped[127], stepped[128])
	}

	ramp := RampPalette("greys")
	for i := 1; i < len(ramp); i++ {
		if ramp[i].R < ramp[i-1].R {
			t.Fatalf("greys ramp is not increasing at %d", i)
		}
	}
	if ramp[0] != rgb(0, 0, 0) {
		t.Errorf("expected greys to start black, got %v", ramp[0])
	}

	if got := RampPalette("no-such-ramp"); got[200] != ramp[200] {
		t.Errorf("expected unknown ramp to fall back to greys")
	}
	if p, _ := GradientRGBAPalette(nil); p != nil {
		t.Errorf("expected nil palette for nil input")
	}
}

func TestColorize(t *testing.T) {
	values := []float32{-1, float32(math.NaN()), 1}
	r, g, b, a := Colorize(values, -1, 1, "RdYlGn")

	if r[0] != 165 || g[0] != 0 || b[0] != 38 {
		t.Errorf("expected the low end of rdylgn, got %d,%d,%d", r[0], g[0], b[0])
	}
	if a[0] != 0xFF || a[1] != 0 || a[2] != 0xFF {
		t.Errorf("expected NaN to be transparent, got alpha %v", a)
	}
	if g[2] <= r[2] {
		t.Errorf("expected the high end of rdylgn to be green, got %d,%d,%d", r[2], g[2], b[2])
	}
}

func TestIndexRamp(t *testing.T) {
	name, lo, hi := IndexRamp("NDWI")
	if name != "blues" || lo != -1 || hi != 1 {
		t.Errorf("unexpected ramp for ndwi: %s [%v, %v]", name, lo, hi)
	}
	if name, _, _ := IndexRamp("custom"); name != "greys" {
		t.Errorf("expected greys for an unknown index, got %s", name)
	}
}
