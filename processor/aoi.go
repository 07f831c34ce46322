package processor

import (
	"encoding/json"
	"fmt"
	"math"

	geo "github.com/nci/geometry"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/nci/satgate/utils"
)

// AOICRS is the CRS AOI coordinates are given in.
const AOICRS = "EPSG:4326"

// AOI is a WGS84 area of interest, a Polygon or MultiPolygon.
type AOI struct {
	geom  orb.Geometry
	bound orb.Bound
}

// ParseAOI accepts a GeoJSON Feature or a bare GeoJSON geometry.
func ParseAOI(raw []byte) (*AOI, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, &utils.ConfigurationError{Reason: fmt.Sprintf("aoi is not GeoJSON: %v", err)}
	}
	if head.Type != "Feature" {
		raw = []byte(fmt.Sprintf(`{"type":"Feature","geometry":%s}`, raw))
	}

	var feat geo.Feature
	if err := json.Unmarshal(raw, &feat); err != nil {
		return nil, &utils.ConfigurationError{Reason: fmt.Sprintf("problem unmarshalling aoi: %v", err)}
	}

	switch feat.Geometry.(type) {
	case *geo.Polygon, *geo.MultiPolygon:
	default:
		return nil, &utils.ConfigurationError{Reason: "aoi must be a Polygon or MultiPolygon"}
	}

	geomJSON, err := json.Marshal(feat.Geometry)
	if err != nil {
		return nil, err
	}
	g, err := geojson.UnmarshalGeometry(geomJSON)
	if err != nil {
		return nil, &utils.ConfigurationError{Reason: fmt.Sprintf("invalid aoi geometry: %v", err)}
	}

	a := &AOI{geom: g.Geometry()}
	a.bound = a.geom.Bound()
	if a.bound.Left() >= a.bound.Right() || a.bound.Bottom() >= a.bound.Top() {
		return nil, &utils.ConfigurationError{Reason: "aoi has no area"}
	}
	return a, nil
}

// BBox returns west, south, east, north.
func (a *AOI) BBox() [4]float64 {
	return [4]float64{a.bound.Left(), a.bound.Bottom(), a.bound.Right(), a.bound.Top()}
}

func (a *AOI) WKT() string {
	return wkt.MarshalString(a.geom)
}

// PixelSize returns the read size for the AOI bounding box with the
// longer side set to longSide.
func (a *AOI) PixelSize(longSide int) (int, int) {
	w := a.bound.Right() - a.bound.Left()
	h := a.bound.Top() - a.bound.Bottom()
	if w >= h {
		return longSide, maxInt(1, int(math.Round(float64(longSide)*h/w)))
	}
	return maxInt(1, int(math.Round(float64(longSide)*w/h))), longSide
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (a *AOI) contains(p orb.Point) bool {
	switch g := a.geom.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	}
	return false
}

func (a *AOI) rings() []orb.Ring {
	switch g := a.geom.(type) {
	case orb.Polygon:
		return g
	case orb.MultiPolygon:
		var out []orb.Ring
		for _, p := range g {
			out = append(out, p...)
		}
		return out
	}
	return nil
}

// Mask marks the cells of grid that touch the AOI: cells whose centre is
// inside it and cells crossed by its boundary. grid must be north up and
// in AOICRS.
func (a *AOI) Mask(grid utils.Grid) []bool {
	mask := a.CentreMask(grid)
	for _, ring := range a.rings() {
		for k := 0; k+1 < len(ring); k++ {
			markSegment(mask, grid, ring[k], ring[k+1])
		}
	}
	return mask
}

// CentreMask marks only the cells whose centre is inside the AOI.
func (a *AOI) CentreMask(grid utils.Grid) []bool {
	gt := grid.GeoTransform
	mask := make([]bool, grid.Width*grid.Height)

	for j := 0; j < grid.Height; j++ {
		cy := gt[3] + (float64(j)+0.5)*gt[5]
		if cy < a.bound.Bottom() || cy > a.bound.Top() {
			continue
		}
		for i := 0; i < grid.Width; i++ {
			cx := gt[0] + (float64(i)+0.5)*gt[1]
			if cx < a.bound.Left() || cx > a.bound.Right() {
				continue
			}
			if a.contains(orb.Point{cx, cy}) {
				mask[j*grid.Width+i] = true
			}
		}
	}
	return mask
}

// markSegment marks every cell the segment p-q passes through.
func markSegment(mask []bool, grid utils.Grid, p, q orb.Point) {
	gt := grid.GeoTransform
	col := func(x float64) int { return int(math.Floor((x - gt[0]) / gt[1])) }
	row := func(y float64) int { return int(math.Floor((y - gt[3]) / gt[5])) }

	c0, c1 := col(p[0]), col(q[0])
	r0, r1 := row(p[1]), row(q[1])
	if c0 > c1 {
		c0, c1 = c1, c0
	}
	if r0 > r1 {
		r0, r1 = r1, r0
	}
	c0, c1 = clampInt(c0, 0, grid.Width-1), clampInt(c1, 0, grid.Width-1)
	r0, r1 = clampInt(r0, 0, grid.Height-1), clampInt(r1, 0, grid.Height-1)

	for j := r0; j <= r1; j++ {
		for i := c0; i <= c1; i++ {
			idx := j*grid.Width + i
			if mask[idx] {
				continue
			}
			x0 := gt[0] + float64(i)*gt[1]
			x1 := x0 + gt[1]
			y1 := gt[3] + float64(j)*gt[5]
			y0 := y1 + gt[5]
			if segmentTouchesRect(p, q, math.Min(x0, x1), math.Min(y0, y1), math.Max(x0, x1), math.Max(y0, y1)) {
				mask[idx] = true
			}
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// segmentTouchesRect clips p-q against the rectangle (Liang-Barsky).
// Touching the boundary counts.
func segmentTouchesRect(p, q orb.Point, minX, minY, maxX, maxY float64) bool {
	dx, dy := q[0]-p[0], q[1]-p[1]
	t0, t1 := 0.0, 1.0
	clip := func(den, num float64) bool {
		if den == 0 {
			return num >= 0
		}
		t := num / den
		if den < 0 {
			if t > t1 {
				return false
			}
			if t > t0 {
				t0 = t
			}
		} else {
			if t < t0 {
				return false
			}
			if t < t1 {
				t1 = t
			}
		}
		return true
	}
	return clip(-dx, p[0]-minX) &&
		clip(dx, maxX-p[0]) &&
		clip(-dy, p[1]-minY) &&
		clip(dy, maxY-p[1]) &&
		t0 <= t1
}

// Clip zeroes the pixels of b outside mask.
func Clip(b *utils.BandArray, mask []bool) {
	if len(mask) != len(b.Data) {
		return
	}
	for i, in := range mask {
		if !in {
			b.Data[i] = 0
		}
	}
}
