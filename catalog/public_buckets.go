package catalog

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v2"
)

//go:embed public_buckets.yaml
var defaultPublicBuckets []byte

type bucketRule struct {
	IDPattern string            `yaml:"id_pattern"`
	Href      string            `yaml:"href"`
	Bands     map[string]string `yaml:"bands"`

	re *regexp.Regexp
}

// PublicBuckets synthesises scenes from the naming conventions of public
// COG buckets.
type PublicBuckets struct {
	rules map[string]*bucketRule
}

func LoadPublicBuckets(data []byte) (*PublicBuckets, error) {
	var doc struct {
		Collections map[string]*bucketRule `yaml:"collections"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse public buckets: %v", err)
	}
	for name, r := range doc.Collections {
		re, err := regexp.Compile(r.IDPattern)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %v", name, err)
		}
		r.re = re
	}
	return &PublicBuckets{rules: doc.Collections}, nil
}

// DefaultPublicBuckets parses the embedded Sentinel-2 and Landsat conventions.
func DefaultPublicBuckets() *PublicBuckets {
	pb, err := LoadPublicBuckets(defaultPublicBuckets)
	if err != nil {
		panic(err)
	}
	return pb
}

// FallbackScene builds a scene whose assets follow the bucket convention of
// collection. ok is false when the collection or id is not recognised.
func (p *PublicBuckets) FallbackScene(collection, sceneID string) (*Scene, bool) {
	r, found := p.rules[collection]
	if !found {
		return nil, false
	}
	m := r.re.FindStringSubmatch(sceneID)
	if m == nil {
		return nil, false
	}

	pairs := []string{"{id}", sceneID}
	for i, name := range r.re.SubexpNames() {
		if i == 0 || len(name) == 0 {
			continue
		}
		nopad := strings.TrimLeft(m[i], "0")
		if len(nopad) == 0 {
			nopad = "0"
		}
		pairs = append(pairs, "{"+name+"}", m[i], "{"+name+"_nopad}", nopad)
	}
	base := strings.NewReplacer(pairs...)

	scene := &Scene{ID: sceneID, Collection: collection, Assets: make(map[string]Asset, len(r.Bands))}
	for canonical, file := range r.Bands {
		href := strings.ReplaceAll(base.Replace(r.Href), "{band}", file)
		scene.Assets[canonical] = Asset{Href: href, Type: "image/tiff; application=geotiff; profile=cloud-optimized"}
	}
	return scene, true
}

func (p *PublicBuckets) Collections() []string {
	out := make([]string, 0, len(p.rules))
	for name := range p.rules {
		out = append(out, name)
	}
	return out
}
