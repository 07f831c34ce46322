package gdalprocess

import (
	"errors"
	"math"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/nci/satgate/utils"
)

func TestTileBounds(t *testing.T) {
	b := TileBounds(utils.TileAddress{Z: 0, X: 0, Y: 0})
	for i, want := range []float64{-originShift, -originShift, originShift, originShift} {
		if math.Abs(b[i]-want) > 1e-6 {
			t.Errorf("z0 bounds[%d] = %v, want %v", i, b[i], want)
		}
	}

	b = TileBounds(utils.TileAddress{Z: 1, X: 1, Y: 0})
	if math.Abs(b[0]) > 1e-6 || math.Abs(b[1]) > 1e-6 {
		t.Errorf("z1 x1 y0 should start at the origin, got %v", b)
	}
	if math.Abs(b[2]-originShift) > 1e-6 || math.Abs(b[3]-originShift) > 1e-6 {
		t.Errorf("z1 x1 y0 should end at the north east corner, got %v", b)
	}
}

func TestIntersects(t *testing.T) {
	a := [4]float64{0, 0, 10, 10}
	if !intersects(a, [4]float64{5, 5, 15, 15}) {
		t.Errorf("overlapping boxes should intersect")
	}
	if intersects(a, [4]float64{10, 0, 20, 10}) {
		t.Errorf("touching boxes should not intersect")
	}
	if intersects(a, [4]float64{-20, -20, -10, -10}) {
		t.Errorf("disjoint boxes should not intersect")
	}
}

func TestPreviewSize(t *testing.T) {
	cases := []struct {
		w, h, mw, mh int
		ew, eh       int
	}{
		{10980, 10980, 2048, 2048, 2048, 2048},
		{1000, 500, 2048, 2048, 1000, 500},
		{4000, 1000, 2048, 2048, 2048, 512},
		{1000, 4000, 2048, 1024, 256, 1024},
	}
	for _, c := range cases {
		w, h := PreviewSize(c.w, c.h, c.mw, c.mh)
		if w != c.ew || h != c.eh {
			t.Errorf("PreviewSize(%d,%d,%d,%d) = %d,%d want %d,%d", c.w, c.h, c.mw, c.mh, w, h, c.ew, c.eh)
		}
	}
}

func TestScaleGeoTransform(t *testing.T) {
	gt := [6]float64{300000, 10, 0, 5000000, 0, -10}
	out := ScaleGeoTransform(gt, 10980, 10980, 2745, 2745)
	if out[0] != gt[0] || out[3] != gt[3] {
		t.Errorf("origin changed: %v", out)
	}
	if math.Abs(out[1]-40) > 1e-9 || math.Abs(out[5]+40) > 1e-9 {
		t.Errorf("unexpected pixel size: %v", out)
	}
}

func TestVSIPath(t *testing.T) {
	cases := map[string]string{
		"https://sentinel-cogs.s3.us-west-2.amazonaws.com/a/B04.tif": "/vsicurl/https://sentinel-cogs.s3.us-west-2.amazonaws.com/a/B04.tif",
		"s3://sentinel-cogs/a/B04.tif":                               "/vsis3/sentinel-cogs/a/B04.tif",
		"gs://bucket/scene.tif":                                      "/vsigs/bucket/scene.tif",
		"/data/scene.tif":                                            "/data/scene.tif",
		"/vsimem/x.tif":                                              "/vsimem/x.tif",
	}
	for in, want := range cases {
		if got := VSIPath(in); got != want {
			t.Errorf("VSIPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSourceHost(t *testing.T) {
	if h := SourceHost("https://Sentinel-Cogs.s3.us-west-2.amazonaws.com/x.tif"); h != "sentinel-cogs.s3.us-west-2.amazonaws.com" {
		t.Errorf("unexpected host %q", h)
	}
	if h := SourceHost("s3://sentinel-cogs/x.tif"); h != "sentinel-cogs" {
		t.Errorf("unexpected bucket host %q", h)
	}
	if h := SourceHost("/data/x.tif"); h != "local" {
		t.Errorf("unexpected local host %q", h)
	}
}

func TestIsPublicBucket(t *testing.T) {
	buckets := []string{"sentinel-cogs"}
	if !isPublicBucket("s3://sentinel-cogs/a.tif", buckets) {
		t.Errorf("sentinel-cogs should be public")
	}
	if isPublicBucket("s3://private/a.tif", buckets) {
		t.Errorf("private bucket reported public")
	}
	if isPublicBucket("https://sentinel-cogs/a.tif", buckets) {
		t.Errorf("only s3 urls name buckets")
	}
}

func TestWarpSwitches(t *testing.T) {
	sw := warpSwitches("EPSG:3857", [4]float64{0, 1, 2, 3}, "EPSG:4326", 256, 128)
	want := []string{"-of", "MEM", "-ot", "Float32", "-r", "bilinear", "-dstnodata", "0",
		"-te", "0", "1", "2", "3", "-ts", "256", "128", "-t_srs", "EPSG:3857", "-te_srs", "EPSG:4326"}
	if len(sw) != len(want) {
		t.Fatalf("got %v, want %v", sw, want)
	}
	for i := range want {
		if sw[i] != want[i] {
			t.Errorf("switch %d = %q, want %q", i, sw[i], want[i])
		}
	}

	sw = warpSwitches("", [4]float64{0, 1, 2, 3}, "", 1, 1)
	for _, s := range sw {
		if s == "-t_srs" || s == "-te_srs" {
			t.Errorf("unexpected %s in %v", s, sw)
		}
	}
}

func TestBreakerTripsOnHostFailures(t *testing.T) {
	p := NewBreakerPool(3, time.Minute)
	failure := &utils.ReadError{Source: "x", Err: errors.New("connection reset")}

	for i := 0; i < 3; i++ {
		if err := p.Do("bad.example.com", func() error { return failure }); err == nil {
			t.Fatalf("expected failure")
		}
	}
	if p.State("bad.example.com") != gobreaker.StateOpen {
		t.Fatalf("breaker should be open after 3 failures")
	}

	called := false
	err := p.Do("bad.example.com", func() error { called = true; return nil })
	if called || !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("open breaker should reject without calling, got %v", err)
	}

	if p.State("good.example.com") != gobreaker.StateClosed {
		t.Errorf("breakers must be per host")
	}
}

func TestBreakerIgnoresEmptyWindows(t *testing.T) {
	p := NewBreakerPool(2, time.Minute)
	oob := &utils.OutOfBoundsError{Source: "x", Window: "tile 1/0/0"}
	for i := 0; i < 5; i++ {
		p.Do("h", func() error { return oob })
	}
	if p.State("h") != gobreaker.StateClosed {
		t.Errorf("out of bounds reads must not trip the breaker")
	}
}
