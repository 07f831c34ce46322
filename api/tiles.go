package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/CloudyKit/jet"
	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/nci/satgate/metrics"
	"github.com/nci/satgate/processor"
	"github.com/nci/satgate/utils"
)

const (
	tileJSONMinZoom = 0
	tileJSONMaxZoom = 14
	// tileJSONCenterZoom is the zoom clients open a scene at.
	tileJSONCenterZoom = 10
)

// tileQueryParams are forwarded from a tilejson request to its tile urls.
var tileQueryParams = []string{"bands", "rescale", "collection", "colormap"}

const tileJSONSource = `{
  "tilejson": "2.2.0",
  "name": {{ .Name }},
  "scheme": "xyz",
  "tiles": [{{ .TileURL }}],
  "minzoom": {{ .MinZoom }},
  "maxzoom": {{ .MaxZoom }}{{ if .HasBounds }},
  "bounds": [{{ .Bounds }}],
  "center": [{{ .Center }}]{{ end }}
}
`

var tileJSONTemplate *jet.Template

func init() {
	view := jet.NewSet(jet.SafeWriter(func(w io.Writer, b []byte) {
		w.Write(b)
	}))
	var err error
	tileJSONTemplate, err = view.LoadTemplate("tilejson.json", tileJSONSource)
	if err != nil {
		panic(err)
	}
}

// tileJSONData holds pre-encoded JSON fragments for the template.
type tileJSONData struct {
	Name      string
	TileURL   string
	MinZoom   string
	MaxZoom   string
	HasBounds bool
	Bounds    string
	Center    string
}

func joinFloats(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

func quoteJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func requestBase(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); len(fwd) > 0 {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}

func (s *Server) serveTileJSON(w http.ResponseWriter, r *http.Request) {
	sceneID := chi.URLParam(r, "scene_id")
	query := r.URL.Query()
	collection := query.Get("collection")

	scene, err := s.Catalog.GetScene(r.Context(), collection, sceneID)
	if err != nil {
		fail(w, s.Logger, r, catalogError(err))
		return
	}

	fwd := url.Values{}
	for _, k := range tileQueryParams {
		if v := query.Get(k); len(v) > 0 {
			fwd.Set(k, v)
		}
	}
	tileURL := fmt.Sprintf("%s/tiles/%s/{z}/{x}/{y}.png", requestBase(r), url.PathEscape(sceneID))
	if len(fwd) > 0 {
		tileURL += "?" + fwd.Encode()
	}

	data := &tileJSONData{
		Name:    quoteJSON(scene.ID),
		TileURL: quoteJSON(tileURL),
		MinZoom: strconv.Itoa(tileJSONMinZoom),
		MaxZoom: strconv.Itoa(tileJSONMaxZoom),
	}
	if bbox, ok := processor.SceneBounds(scene.BBox); ok {
		center := processor.BoundsCenter(bbox, tileJSONCenterZoom)
		data.HasBounds = true
		data.Bounds = joinFloats(bbox[:])
		data.Center = joinFloats(center[:])
	}

	var buf bytes.Buffer
	if err := tileJSONTemplate.Execute(&buf, make(jet.VarMap), data); err != nil {
		fail(w, s.Logger, r, fmt.Errorf("render tilejson: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(buf.Bytes())
}

// tileParams reads the query parameters shared by both tile modes.
func tileParams(r *http.Request) (rescale utils.RescaleMode, err error) {
	if v := r.URL.Query().Get("rescale"); len(v) > 0 {
		rescale, err = utils.ParseRescale(v)
		if err != nil {
			return nil, &badRequest{msg: err.Error()}
		}
	}
	return rescale, nil
}

func tileAddress(r *http.Request) (utils.TileAddress, error) {
	addr, err := utils.ParseTileAddress(chi.URLParam(r, "z"), chi.URLParam(r, "x"), chi.URLParam(r, "y"))
	if err != nil {
		return addr, &badRequest{msg: err.Error()}
	}
	return addr, nil
}

func (s *Server) serveSceneTile(w http.ResponseWriter, r *http.Request) {
	addr, err := tileAddress(r)
	if err != nil {
		fail(w, s.Logger, r, err)
		return
	}
	rescale, err := tileParams(r)
	if err != nil {
		fail(w, s.Logger, r, err)
		return
	}
	query := r.URL.Query()
	s.writeTile(w, r, processor.TileRequest{
		SceneID:    chi.URLParam(r, "scene_id"),
		Collection: query.Get("collection"),
		Addr:       addr,
		Bands:      utils.ParseList(query.Get("bands")),
		Rescale:    rescale,
		Colormap:   query.Get("colormap"),
	})
}

// serveURLTile renders a tile straight from a COG url. Bands are 1-based
// indexes into the file.
func (s *Server) serveURLTile(w http.ResponseWriter, r *http.Request) {
	addr, err := tileAddress(r)
	if err != nil {
		fail(w, s.Logger, r, err)
		return
	}
	query := r.URL.Query()
	src := query.Get("url")
	if len(src) == 0 {
		fail(w, s.Logger, r, &badRequest{msg: "url is required"})
		return
	}
	if err := s.guard(r.Context(), src); err != nil {
		fail(w, s.Logger, r, err)
		return
	}
	rescale, err := tileParams(r)
	if err != nil {
		fail(w, s.Logger, r, err)
		return
	}
	bands := []int{1, 2, 3}
	if v := query.Get("bands"); len(v) > 0 {
		if bands, err = utils.ParseBandIndexes(v); err != nil {
			fail(w, s.Logger, r, &badRequest{msg: err.Error()})
			return
		}
	}
	s.writeTile(w, r, processor.TileRequest{
		URL:         src,
		Addr:        addr,
		BandIndexes: bands,
		Rescale:     rescale,
		Colormap:    query.Get("colormap"),
	})
}

// etagMatches implements If-None-Match for strong tags: a list of tags or
// "*". Weak tags compare by their opaque part.
func etagMatches(header, etag string) bool {
	if len(header) == 0 {
		return false
	}
	for _, tag := range strings.Split(header, ",") {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
		if tag == "*" || tag == etag {
			return true
		}
	}
	return false
}

func (s *Server) writeTile(w http.ResponseWriter, r *http.Request, req processor.TileRequest) {
	start := time.Now()
	mc := metrics.NewMetricsCollector(s.MetricsLogger)
	defer mc.Log()
	mc.Info.ReqTime = start.Format(utils.ISOFormat)
	mc.Info.URL.RawURL = r.URL.RequestURI()
	mc.Info.RemoteAddr = utils.ParseRemoteAddr(r)
	mc.Info.Tile.SceneID = req.SceneID
	mc.Info.Tile.Collection = req.Collection
	mc.Info.Tile.Bands = req.Bands
	mc.Info.Tile.SetAddr(req.Addr)
	defer func() {
		mc.Info.ReqDuration = time.Since(start)
		mc.Info.Tile.Duration = mc.Info.ReqDuration
	}()

	etag := s.Tiles.ETag(req)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", s.Config.Tiles.MaxAge))
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		metrics.TileRequests.WithLabelValues("not_modified").Inc()
		mc.Info.Tile.NotModified = true
		mc.Info.HTTPStatus = http.StatusNotModified
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	tile, err := s.Tiles.ComposeTile(r.Context(), req)
	if err != nil {
		w.Header().Del("Cache-Control")
		mc.Info.HTTPStatus = errorStatus(err)
		fail(w, s.Logger, r, err)
		return
	}

	mc.Info.HTTPStatus = http.StatusOK
	mc.Info.Tile.Empty = tile.Empty
	mc.Info.Tile.Placeholders = tile.Placeholders
	mc.Info.Reader.NumReads = tile.Reads
	mc.Info.Reader.NumFailed = tile.Placeholders

	if len(tile.ETag) > 0 {
		etag = tile.ETag
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(tile.PNG)))
	w.WriteHeader(http.StatusOK)
	w.Write(tile.PNG)
}
