// Package catalog finds scenes: a STAC API client, an optional Postgres
// cache in front of it, the band alias table and the public bucket
// naming conventions used when the catalog cannot answer.
package catalog

import (
	"errors"
	"time"

	json "github.com/goccy/go-json"
)

var ErrSceneNotFound = errors.New("scene not found")

type Asset struct {
	Href  string   `json:"href"`
	Type  string   `json:"type,omitempty"`
	Title string   `json:"title,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Scene is one acquisition. It is read only once built.
type Scene struct {
	ID         string           `json:"id"`
	Collection string           `json:"collection"`
	BBox       []float64        `json:"bbox,omitempty"`
	Geometry   json.RawMessage  `json:"geometry,omitempty"`
	Datetime   time.Time        `json:"datetime"`
	CloudCover *float64         `json:"cloud_cover,omitempty"`
	Platform   string           `json:"platform,omitempty"`
	GSD        float64          `json:"gsd,omitempty"`
	Assets     map[string]Asset `json:"assets"`
}

// stacItem is the wire form of a STAC item.
type stacItem struct {
	ID         string                 `json:"id"`
	Collection string                 `json:"collection"`
	BBox       []float64              `json:"bbox"`
	Geometry   json.RawMessage        `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
	Assets     map[string]Asset       `json:"assets"`
}

func (it *stacItem) toScene() *Scene {
	s := &Scene{
		ID:         it.ID,
		Collection: it.Collection,
		BBox:       it.BBox,
		Geometry:   it.Geometry,
		Assets:     it.Assets,
	}
	if s.Assets == nil {
		s.Assets = map[string]Asset{}
	}
	if dt, ok := it.Properties["datetime"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, dt); err == nil {
			s.Datetime = t
		}
	}
	if cc, ok := it.Properties["eo:cloud_cover"].(float64); ok {
		s.CloudCover = &cc
	}
	if p, ok := it.Properties["platform"].(string); ok {
		s.Platform = p
	}
	if gsd, ok := it.Properties["gsd"].(float64); ok {
		s.GSD = gsd
	}
	return s
}

type Collection struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title,omitempty"`
	Description string                 `json:"description,omitempty"`
	Extent      map[string]interface{} `json:"extent,omitempty"`
}

// SearchRequest selects scenes by footprint, collection, time and cloud cover.
// Geometry, when set, is a GeoJSON geometry and takes precedence over BBox.
type SearchRequest struct {
	BBox          []float64       `json:"bbox,omitempty" validate:"omitempty,len=4"`
	Geometry      json.RawMessage `json:"geometry,omitempty"`
	Collections   []string        `json:"collections,omitempty"`
	Datetime      string          `json:"datetime,omitempty"`
	CloudCoverMax *float64        `json:"cloud_cover_max,omitempty" validate:"omitempty,gte=0,lte=100"`
	Limit         int             `json:"limit,omitempty" validate:"gte=0,lte=1000"`
}

type SearchResult struct {
	Scenes  []*Scene `json:"scenes"`
	Matched int      `json:"matched,omitempty"`
}
