package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/nci/satgate/utils"
)

// overlappingScenes gives s1 data in the left half and s2 everywhere.
func overlappingScenes(fr *fakeReader) fakeLookup {
	lookup := fakeLookup{}
	lookup.add("s1", "B04", "B03")
	lookup.add("s2", "B04", "B03")

	left := filled("B04", testGrid, 0)
	for row := 0; row < 4; row++ {
		left.Data[row*4] = 10
		left.Data[row*4+1] = 10
	}
	fr.rasters["s1/B04"] = left
	fr.rasters["s2/B04"] = filled("B04", testGrid, 20)
	fr.rasters["s1/B03"] = filled("B03", testGrid, 0)
	fr.rasters["s2/B03"] = filled("B03", testGrid, 0)
	return lookup
}

func TestBuildMosaicStrategies(t *testing.T) {
	tests := []struct {
		strategy    string
		left, right float32
	}{
		{"first", 10, 20},
		{"", 10, 20},
		{"last", 20, 20},
		{"mean", 15, 20},
		{"max", 20, 20},
		{"min", 10, 20},
	}
	for _, tc := range tests {
		fr := newFakeReader()
		e := newTestEngine(fr, overlappingScenes(fr))
		files := e.Files.(*fakeFiles)

		res, err := e.BuildMosaic(context.Background(), MosaicRequest{Scenes: refs("s1", "s2"), Bands: []string{"B04", "B03"}, Strategy: tc.strategy, Output: "out/mosaic.tif"}, nil)
		if err != nil {
			t.Errorf("%q: %v", tc.strategy, err)
			continue
		}
		if len(res.Bands) != 1 || res.Bands[0] != "B04" {
			t.Errorf("%q: the empty B03 should be left out, got %v", tc.strategy, res.Bands)
		}
		if res.SceneCount != 2 {
			t.Errorf("%q: expected 2 contributing scenes, got %d", tc.strategy, res.SceneCount)
		}

		w, ok := files.written["out/mosaic.tif"]
		if !ok {
			t.Errorf("%q: mosaic not written", tc.strategy)
			continue
		}
		data := w.bands[0].Data
		if data[0] != tc.left || data[3] != tc.right {
			t.Errorf("%q: expected left %v right %v, got %v %v", tc.strategy, tc.left, tc.right, data[0], data[3])
		}
	}
}

func TestBuildMosaicUnknownStrategy(t *testing.T) {
	fr := newFakeReader()
	e := newTestEngine(fr, overlappingScenes(fr))

	_, err := e.BuildMosaic(context.Background(), MosaicRequest{Scenes: refs("s1"), Strategy: "median", Output: "m.tif"}, nil)
	if !utils.IsConfiguration(err) {
		t.Errorf("expected a configuration error, got %v", err)
	}
}

func TestBuildMosaicNoData(t *testing.T) {
	fr := newFakeReader()
	lookup := fakeLookup{}
	lookup.add("s1", "B04")
	fr.rasters["s1/B04"] = filled("B04", testGrid, 0)
	e := newTestEngine(fr, lookup)

	_, err := e.BuildMosaic(context.Background(), MosaicRequest{Scenes: refs("s1"), Bands: []string{"B04"}, Output: "m.tif"}, nil)
	if !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestBuildMosaicDefaultBands(t *testing.T) {
	fr := newFakeReader()
	lookup := fakeLookup{}
	lookup.add("s1", "B04", "B03", "B02")
	for _, b := range DefaultMosaicBands {
		fr.rasters["s1/"+b] = filled(b, testGrid, 7)
	}
	e := newTestEngine(fr, lookup)

	res, err := e.BuildMosaic(context.Background(), MosaicRequest{Scenes: refs("s1"), Output: "m.tif"}, nil)
	if err != nil {
		t.Fatalf("mosaic: %v", err)
	}
	if len(res.Bands) != 3 || res.Bands[0] != "B04" || res.Bands[2] != "B02" {
		t.Errorf("expected B04,B03,B02, got %v", res.Bands)
	}
	if !res.Grid.Equal(testGrid) {
		t.Errorf("expected the grid of the first read")
	}
}
