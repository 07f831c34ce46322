package catalog

import (
	"strings"
)

// bandAliases lists, per canonical band, the asset keys that may carry it
// in resolution order. The first alias present in a scene wins.
var bandAliases = map[string][]string{
	"B01": {"B01", "B1", "coastal"},
	"B02": {"B02", "B2", "blue"},
	"B03": {"B03", "B3", "green"},
	"B04": {"B04", "B4", "red"},
	"B05": {"B05", "B5", "rededge1"},
	"B06": {"B06", "B6", "rededge2"},
	"B07": {"B07", "B7", "rededge3"},
	"B08": {"B08", "B8", "nir", "nir08"},
	"B8A": {"B8A", "nir08"},
	"B09": {"B09", "B9", "nir09", "wvp"},
	"B10": {"B10", "cirrus"},
	"B11": {"B11", "swir16", "swir1"},
	"B12": {"B12", "swir22", "swir2"},
}

// aliasIndex maps every lower cased alias to its canonical band. nir08 is
// listed under both B08 (Landsat) and B8A (Sentinel-2) and canonicalises to
// B8A.
var aliasIndex = func() map[string]string {
	idx := make(map[string]string)
	for canonical, aliases := range bandAliases {
		for _, a := range aliases {
			idx[strings.ToLower(a)] = canonical
		}
	}
	idx["nir08"] = "B8A"
	return idx
}()

// Canonical maps any alias, case-insensitively, to its canonical band name.
// Unknown names are returned unchanged with ok false.
func Canonical(band string) (string, bool) {
	c, ok := aliasIndex[strings.ToLower(strings.TrimSpace(band))]
	if !ok {
		return band, false
	}
	return c, true
}

// Aliases returns the resolution order for band.
func Aliases(band string) []string {
	c, ok := Canonical(band)
	if !ok {
		return []string{band}
	}
	return bandAliases[c]
}

// Resolve returns the href of the asset carrying band in scene. A band no
// alias of which is an asset key of the scene is reported with ok false.
func Resolve(scene *Scene, band string) (href string, ok bool) {
	if scene == nil || len(scene.Assets) == 0 {
		return "", false
	}

	keys := make(map[string]string, len(scene.Assets))
	for k, a := range scene.Assets {
		keys[strings.ToLower(k)] = a.Href
	}

	for _, alias := range Aliases(band) {
		if h, found := keys[strings.ToLower(alias)]; found && len(h) > 0 {
			return h, true
		}
	}
	return "", false
}
