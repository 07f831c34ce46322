package catalog

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const itemJSON = `{
  "id": "S2A_36QWD_20200701_0_L2A",
  "collection": "sentinel-2-l2a",
  "bbox": [33.0, 19.8, 34.0, 20.8],
  "geometry": {"type": "Polygon", "coordinates": [[[33,19.8],[34,19.8],[34,20.8],[33,20.8],[33,19.8]]]},
  "properties": {"datetime": "2020-07-01T08:16:11Z", "eo:cloud_cover": 3.5, "platform": "sentinel-2a", "gsd": 10},
  "assets": {"red": {"href": "https://sentinel-cogs.s3.us-west-2.amazonaws.com/red.tif", "type": "image/tiff"}}
}`

func newTestClient(t *testing.T, h http.HandlerFunc) *STACClient {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewSTACClient(STACClientConfig{URL: srv.URL, DefaultCollection: "sentinel-2-l2a", RateLimit: 100}, zerolog.Nop())
}

func TestBuildSearchPayload(t *testing.T) {
	cc := 20.0
	p := buildSearchPayload(SearchRequest{BBox: []float64{1, 2, 3, 4}, CloudCoverMax: &cc}, "sentinel-2-l2a")
	assert.Equal(t, 10, p.Limit)
	assert.Equal(t, []string{"sentinel-2-l2a"}, p.Collections)
	assert.Equal(t, []float64{1, 2, 3, 4}, p.BBox)
	assert.Contains(t, p.Query, "eo:cloud_cover")

	full := 100.0
	p = buildSearchPayload(SearchRequest{
		BBox:          []float64{1, 2, 3, 4},
		Geometry:      json.RawMessage(`{"type":"Point","coordinates":[1,2]}`),
		CloudCoverMax: &full,
		Limit:         3,
	}, "")
	assert.Nil(t, p.BBox)
	assert.NotEmpty(t, p.Intersects)
	assert.Nil(t, p.Query)
	assert.Equal(t, 3, p.Limit)
	assert.Empty(t, p.Collections)
}

func TestSTACSearch(t *testing.T) {
	var got map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/geo+json")
		io.WriteString(w, `{"type":"FeatureCollection","numberMatched":7,"features":[`+itemJSON+`]}`)
	})

	res, err := c.Search(context.Background(), SearchRequest{BBox: []float64{33, 19, 34, 21}})
	require.NoError(t, err)
	require.Len(t, res.Scenes, 1)
	assert.Equal(t, 7, res.Matched)

	s := res.Scenes[0]
	assert.Equal(t, "S2A_36QWD_20200701_0_L2A", s.ID)
	require.NotNil(t, s.CloudCover)
	assert.InDelta(t, 3.5, *s.CloudCover, 1e-9)
	assert.Equal(t, 2020, s.Datetime.Year())
	assert.Equal(t, "sentinel-2a", s.Platform)

	assert.Equal(t, []interface{}{"sentinel-2-l2a"}, got["collections"])
}

func TestSTACGetScene(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/sentinel-2-l2a/items/S2A_36QWD_20200701_0_L2A" {
			io.WriteString(w, itemJSON)
			return
		}
		http.NotFound(w, r)
	})

	s, err := c.GetScene(context.Background(), "", "S2A_36QWD_20200701_0_L2A")
	require.NoError(t, err)
	href, ok := Resolve(s, "B04")
	require.True(t, ok)
	assert.Equal(t, "https://sentinel-cogs.s3.us-west-2.amazonaws.com/red.tif", href)

	_, err = c.GetScene(context.Background(), "sentinel-2-l2a", "missing")
	assert.ErrorIs(t, err, ErrSceneNotFound)
}

func TestSTACCollections(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"collections":[{"id":"sentinel-2-l2a","title":"Sentinel-2 Level-2A"}]}`)
	})

	cols, err := c.Collections(context.Background())
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "sentinel-2-l2a", cols[0].ID)
}

func TestSTACServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := c.Collections(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSceneNotFound)
}
