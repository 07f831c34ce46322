package processor

import (
	"errors"
	"testing"

	"github.com/nci/satgate/utils"
)

func TestParseBandMathAccepts(t *testing.T) {
	exprs := []string{
		"(B08 - B04) / (B08 + B04)",
		"-B04 + 2.5 * B08",
		"abs(B08 - B04)",
		"min(B08, B04, 0.3)",
		"max(B08, 1) / 10",
	}
	for _, e := range exprs {
		if _, err := ParseBandMath(e, []string{"B08", "B04"}); err != nil {
			t.Errorf("%q: unexpected error %v", e, err)
		}
	}
}

func TestParseBandMathRejects(t *testing.T) {
	exprs := []string{
		"",
		"B08 > B04",
		"B08 == 1",
		"B08 && B04",
		"B08 > 1 ? B08 : B04",
		"'text'",
		"B08 % 2",
		"B08 ** 2",
		"B08 | 1",
		"!B08",
		"sqrt(B08)",
		"B02 + B08",
		"foo + B08",
		"3 + 4",
	}
	for _, e := range exprs {
		_, err := ParseBandMath(e, []string{"B08", "B04"})
		var bme *utils.BandMathError
		if !errors.As(err, &bme) {
			t.Errorf("%q: expected a band math error, got %v", e, err)
		}
	}
}

func TestParseBandMathAnyKnownBand(t *testing.T) {
	bm, err := ParseBandMath("swir16 - B8A", nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	bands := bm.Bands()
	if len(bands) != 2 || bands[0] != "B11" || bands[1] != "B8A" {
		t.Errorf("expected [B11 B8A], got %v", bands)
	}

	if _, err := ParseBandMath("B99 + 1", nil); err == nil {
		t.Errorf("expected an unknown band to be rejected")
	}
}
