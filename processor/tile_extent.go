package processor

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/nci/satgate/utils"
)

// TileLonLatBounds returns the WGS84 footprint of a tile as
// west, south, east, north.
func TileLonLatBounds(addr utils.TileAddress) [4]float64 {
	b := maptile.New(uint32(addr.X), uint32(addr.Y), maptile.Zoom(addr.Z)).Bound()
	return [4]float64{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()}
}

// CoveringTiles lists the tiles at zoom z that intersect bbox, given as
// west, south, east, north. At most limit tiles are returned; limit <= 0
// means no limit.
func CoveringTiles(bbox [4]float64, z int, limit int) []utils.TileAddress {
	zoom := maptile.Zoom(z)
	nw := maptile.At(orb.Point{bbox[0], bbox[3]}, zoom)
	se := maptile.At(orb.Point{bbox[2], bbox[1]}, zoom)

	var out []utils.TileAddress
	for y := nw.Y; y <= se.Y; y++ {
		for x := nw.X; x <= se.X; x++ {
			out = append(out, utils.TileAddress{Z: z, X: int(x), Y: int(y)})
			if limit > 0 && len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// SceneBounds reduces a STAC bbox, 2D or 3D, to west, south, east, north.
func SceneBounds(bbox []float64) ([4]float64, bool) {
	switch len(bbox) {
	case 4:
		return [4]float64{bbox[0], bbox[1], bbox[2], bbox[3]}, true
	case 6:
		return [4]float64{bbox[0], bbox[1], bbox[3], bbox[4]}, true
	}
	return [4]float64{}, false
}

// TileTouches reports whether the tile intersects a scene bbox. Unknown
// and antimeridian crossing boxes touch every tile.
func TileTouches(addr utils.TileAddress, bbox []float64) bool {
	b, ok := SceneBounds(bbox)
	if !ok || b[0] > b[2] {
		return true
	}
	t := TileLonLatBounds(addr)
	return t[0] <= b[2] && t[2] >= b[0] && t[1] <= b[3] && t[3] >= b[1]
}

// BoundsCenter returns the centre of bbox with a zoom level suitable for
// TileJSON.
func BoundsCenter(bbox [4]float64, zoom int) [3]float64 {
	c := orb.Bound{Min: orb.Point{bbox[0], bbox[1]}, Max: orb.Point{bbox[2], bbox[3]}}.Center()
	return [3]float64{c.Lon(), c.Lat(), float64(zoom)}
}
