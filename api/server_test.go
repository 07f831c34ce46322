package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nci/satgate/catalog"
	"github.com/nci/satgate/jobs"
	"github.com/nci/satgate/processor"
	"github.com/nci/satgate/utils"
)

type fakeTiles struct {
	mu       sync.Mutex
	requests []processor.TileRequest
	err      error
	panic    bool
}

func (f *fakeTiles) ETag(req processor.TileRequest) string {
	return fmt.Sprintf(`"%s-%s"`, req.SceneID, req.Addr)
}

func (f *fakeTiles) ComposeTile(ctx context.Context, req processor.TileRequest) (*processor.RenderedTile, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.panic {
		panic("compositor exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &processor.RenderedTile{PNG: []byte("png-bytes"), ETag: f.ETag(req), Reads: 3}, nil
}

func (f *fakeTiles) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeCatalog struct {
	scenes     map[string]*catalog.Scene
	lastSearch catalog.SearchRequest
	searchErr  error
}

func (c *fakeCatalog) Search(ctx context.Context, req catalog.SearchRequest) (*catalog.SearchResult, error) {
	c.lastSearch = req
	if c.searchErr != nil {
		return nil, c.searchErr
	}
	res := &catalog.SearchResult{}
	for _, s := range c.scenes {
		res.Scenes = append(res.Scenes, s)
	}
	res.Matched = len(res.Scenes)
	return res, nil
}

func (c *fakeCatalog) GetScene(ctx context.Context, collection, id string) (*catalog.Scene, error) {
	s, ok := c.scenes[id]
	if !ok {
		return nil, catalog.ErrSceneNotFound
	}
	return s, nil
}

func (c *fakeCatalog) Collections(ctx context.Context) ([]catalog.Collection, error) {
	return []catalog.Collection{{ID: "sentinel-2-l2a"}}, nil
}

type fakeSources struct{}

func (fakeSources) Info(ctx context.Context, href string) (*utils.SourceInfo, error) {
	return &utils.SourceInfo{Source: href, Width: 10980, Height: 10980, BandCount: 1, DataType: "UInt16"}, nil
}

type fakeJobs struct {
	mu      sync.Mutex
	records map[string]*jobs.Record
	last    jobs.JobRequest
}

func (f *fakeJobs) Submit(ctx context.Context, req jobs.JobRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = req
	id := jobs.NewJobID(req.Type)
	f.records[id] = &jobs.Record{JobID: id, Type: req.Type, Status: jobs.StatusPending}
	return id, nil
}

func (f *fakeJobs) Status(ctx context.Context, jobID string) (*jobs.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[jobID]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	return rec, nil
}

func (f *fakeJobs) Cancel(ctx context.Context, jobID string) (*jobs.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[jobID]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	rec.Status = jobs.StatusCancelled
	return rec, nil
}

type staticResolver map[string]string

func (r staticResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	ip, ok := r[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return []net.IPAddr{{IP: net.ParseIP(ip)}}, nil
}

type testServer struct {
	*Server
	tiles   *fakeTiles
	catalog *fakeCatalog
	jobs    *fakeJobs
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := utils.DefaultConfig()
	cfg.Server.RateLimit = 0
	cfg.Security.AllowedDomains = []string{"element84.com"}

	ts := &testServer{
		tiles: &fakeTiles{},
		catalog: &fakeCatalog{scenes: map[string]*catalog.Scene{
			"S2A_1": {ID: "S2A_1", Collection: "sentinel-2-l2a", BBox: []float64{10, 20, 12, 22}},
		}},
		jobs: &fakeJobs{records: map[string]*jobs.Record{}},
	}
	ts.Server = &Server{
		Tiles:   ts.tiles,
		Catalog: ts.catalog,
		Sources: fakeSources{},
		Jobs:    ts.jobs,
		Config:  cfg,
		Resolver: staticResolver{
			"cogs.element84.com":     "93.184.216.34",
			"internal.element84.com": "10.0.0.5",
		},
		Logger: zerolog.Nop(),
	}
	ts.handler = ts.Router()
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if len(body) > 0 {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSceneTile(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/tiles/S2A_1/10/500/300.png?bands=red,green,blue&rescale=0,3000&colormap=viridis", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.Equal(t, `"S2A_1-10/500/300"`, rec.Header().Get("ETag"))
	assert.Equal(t, "png-bytes", rec.Body.String())

	require.Equal(t, 1, ts.tiles.calls())
	req := ts.tiles.requests[0]
	assert.Equal(t, "S2A_1", req.SceneID)
	assert.Equal(t, utils.TileAddress{Z: 10, X: 500, Y: 300}, req.Addr)
	assert.Equal(t, []string{"red", "green", "blue"}, req.Bands)
	assert.Equal(t, utils.MinMax{Min: 0, Max: 3000}, req.Rescale)
	assert.Equal(t, "viridis", req.Colormap)
}

func TestSceneTileNotModified(t *testing.T) {
	ts := newTestServer(t)
	for _, inm := range []string{`"S2A_1-10/500/300"`, `"other", "S2A_1-10/500/300"`, "*"} {
		rec := ts.do(t, http.MethodGet, "/tiles/S2A_1/10/500/300.png", "", map[string]string{"If-None-Match": inm})
		assert.Equal(t, http.StatusNotModified, rec.Code, inm)
		assert.Empty(t, rec.Body.String(), inm)
		assert.Equal(t, `"S2A_1-10/500/300"`, rec.Header().Get("ETag"), inm)
	}
	assert.Equal(t, 0, ts.tiles.calls())

	rec := ts.do(t, http.MethodGet, "/tiles/S2A_1/10/500/300.png", "", map[string]string{"If-None-Match": `"stale"`})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSceneTileBadRequest(t *testing.T) {
	ts := newTestServer(t)
	for _, target := range []string{
		"/tiles/S2A_1/3/8/0.png",
		"/tiles/S2A_1/a/0/0.png",
		"/tiles/S2A_1/-1/0/0.png",
		"/tiles/S2A_1/10/500/300.png?rescale=p5",
	} {
		rec := ts.do(t, http.MethodGet, target, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
	assert.Equal(t, 0, ts.tiles.calls())
}

func TestSceneTileFailures(t *testing.T) {
	ts := newTestServer(t)
	ts.tiles.err = errors.New("pipeline broke")
	rec := ts.do(t, http.MethodGet, "/tiles/S2A_1/1/0/0.png", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pipeline broke")
	assert.Empty(t, rec.Header().Get("Cache-Control"))

	ts.tiles.err = nil
	ts.tiles.panic = true
	rec = ts.do(t, http.MethodGet, "/tiles/S2A_1/1/0/0.png", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestURLTile(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/tiles/5/10/12.png?url=https://cogs.element84.com/a/b.tif", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, ts.tiles.calls())
	assert.Equal(t, "https://cogs.element84.com/a/b.tif", ts.tiles.requests[0].URL)
	assert.Equal(t, []int{1, 2, 3}, ts.tiles.requests[0].BandIndexes)

	rec = ts.do(t, http.MethodGet, "/tiles/5/10/12.png?url=https://cogs.element84.com/a/b.tif&bands=4", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{4}, ts.tiles.requests[1].BandIndexes)

	cases := map[string]int{
		"/tiles/5/10/12.png": http.StatusBadRequest,
		"/tiles/5/10/12.png?url=https://cogs.element84.com/a.tif&bands=0":       http.StatusBadRequest,
		"/tiles/5/10/12.png?url=https://internal.element84.com/a.tif":           http.StatusForbidden,
		"/tiles/5/10/12.png?url=http://169.254.169.254/latest/meta-data":        http.StatusForbidden,
		"/tiles/5/10/12.png?url=file:///etc/passwd":                             http.StatusForbidden,
		"/tiles/5/10/12.png?url=https://a.cogs.element84.com/deeply/nested.tif": http.StatusForbidden,
	}
	for target, want := range cases {
		rec := ts.do(t, http.MethodGet, target, "", nil)
		assert.Equal(t, want, rec.Code, target)
	}
	assert.Equal(t, 2, ts.tiles.calls())
}

func TestTileJSON(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/tiles/S2A_1/tilejson.json?bands=B08,B04,B03", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var doc struct {
		TileJSON string    `json:"tilejson"`
		Name     string    `json:"name"`
		Tiles    []string  `json:"tiles"`
		MinZoom  int       `json:"minzoom"`
		MaxZoom  int       `json:"maxzoom"`
		Bounds   []float64 `json:"bounds"`
		Center   []float64 `json:"center"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc), rec.Body.String())
	assert.Equal(t, "2.2.0", doc.TileJSON)
	assert.Equal(t, "S2A_1", doc.Name)
	require.Len(t, doc.Tiles, 1)
	assert.Equal(t, "http://example.com/tiles/S2A_1/{z}/{x}/{y}.png?bands=B08%2CB04%2CB03", doc.Tiles[0])
	assert.Equal(t, []float64{10, 20, 12, 22}, doc.Bounds)
	assert.Equal(t, []float64{11, 21, 10}, doc.Center)
	assert.Less(t, doc.MinZoom, doc.MaxZoom)

	rec = ts.do(t, http.MethodGet, "/tiles/missing/tilejson.json", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCOGInfo(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/cog/info?url=https://cogs.element84.com/x.tif", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info utils.SourceInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 10980, info.Width)

	rec = ts.do(t, http.MethodGet, "/cog/info?url=https://evil.example.org/x.tif", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSearch(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/search?bbox=10,20,12,22&collections=sentinel-2-l2a&datetime=2024-01-01/2024-02-01&limit=5&cloud_cover_max=20", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := ts.catalog.lastSearch
	assert.Equal(t, []float64{10, 20, 12, 22}, got.BBox)
	assert.Equal(t, []string{"sentinel-2-l2a"}, got.Collections)
	assert.Equal(t, "2024-01-01/2024-02-01", got.Datetime)
	assert.Equal(t, 5, got.Limit)
	require.NotNil(t, got.CloudCoverMax)
	assert.Equal(t, 20.0, *got.CloudCoverMax)

	var res catalog.SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Len(t, res.Scenes, 1)

	body := `{"geometry":{"type":"Point","coordinates":[11,21]},"limit":3}`
	rec = ts.do(t, http.MethodPost, "/search", body, map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"type":"Point","coordinates":[11,21]}`, string(ts.catalog.lastSearch.Geometry))
	assert.Equal(t, 3, ts.catalog.lastSearch.Limit)
}

func TestSearchRejects(t *testing.T) {
	ts := newTestServer(t)
	for _, target := range []string{
		"/search?bbox=1,2,3",
		"/search?limit=many",
		"/search?cloud_cover_max=150",
	} {
		rec := ts.do(t, http.MethodGet, target, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
	rec := ts.do(t, http.MethodPost, "/search", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.catalog.searchErr = errors.New("stac search: 500 Internal Server Error")
	rec = ts.do(t, http.MethodGet, "/search", "", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestScenesAndCollections(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/scenes/sentinel-2-l2a/S2A_1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var scene catalog.Scene
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scene))
	assert.Equal(t, "S2A_1", scene.ID)

	rec = ts.do(t, http.MethodGet, "/scenes/sentinel-2-l2a/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/collections", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sentinel-2-l2a")
}

func TestJobLifecycle(t *testing.T) {
	ts := newTestServer(t)

	body := `{"type":"mosaic","scene_ids":["a","b"],"index_type":"ndvi"}`
	rec := ts.do(t, http.MethodPost, "/jobs/index", body, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var sub submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, jobs.StatusPending, sub.Status)
	assert.True(t, strings.HasPrefix(sub.JobID, "index_"))
	assert.Equal(t, jobs.TypeIndex, ts.jobs.last.Type)
	assert.Equal(t, "/jobs/"+sub.JobID, rec.Header().Get("Location"))

	rec = ts.do(t, http.MethodGet, "/jobs/"+sub.JobID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status jobs.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, sub.JobID, status.JobID)

	rec = ts.do(t, http.MethodDelete, "/jobs/"+sub.JobID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, jobs.StatusCancelled, status.Status)

	rec = ts.do(t, http.MethodGet, "/jobs/index_00000000000000000000000000000000", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/jobs/index_00000000000000000000000000000000", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobSubmitRejects(t *testing.T) {
	ts := newTestServer(t)
	cases := map[string]string{
		"/jobs/aggregate": `{"scene_ids":["a"]}`,
		"/jobs/index":     `{"scene_ids":["a"],"expression":"B04 ** 2"}`,
		"/jobs/mosaic":    `{"scene_ids":["a"],"aoi":{"type":"Point","coordinates":[1,2]}}`,
	}
	for target, body := range cases {
		rec := ts.do(t, http.MethodPost, target, body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
	rec := ts.do(t, http.MethodPost, "/jobs/index", "[", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// withUpstream serves mux and dials every download to it whatever
// the url host is.
func withUpstream(t *testing.T, ts *testServer, mux *http.ServeMux) {
	t.Helper()
	upstream := httptest.NewServer(mux)
	t.Cleanup(upstream.Close)
	ts.HTTPClient = &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, upstream.Listener.Addr().String())
		},
	}}
}

// flipResolver answers with a public address once and loopback after.
type flipResolver struct {
	mu    sync.Mutex
	calls int
}

func (r *flipResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls == 1 {
		return []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}, nil
	}
	return []net.IPAddr{{IP: net.ParseIP("127.0.0.1")}}, nil
}

func TestDownloadDialsOnlyCheckedAddresses(t *testing.T) {
	var hits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("secret"))
	}))
	t.Cleanup(upstream.Close)
	_, port, err := net.SplitHostPort(upstream.Listener.Addr().String())
	require.NoError(t, err)

	ts := newTestServer(t)
	resolver := &flipResolver{}
	ts.Resolver = resolver

	rec := ts.do(t, http.MethodGet, "/download?url=http://flip.element84.com:"+port+"/x.tif", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	assert.Equal(t, 0, hits)
	assert.Equal(t, 2, resolver.calls)
}

func TestDownload(t *testing.T) {
	ts := newTestServer(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/scenes/B04.tif", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tiff-bytes"))
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://10.0.0.5/secret", http.StatusFound)
	})
	withUpstream(t, ts, mux)

	rec := ts.do(t, http.MethodGet, "/download?url=http://cogs.element84.com/scenes/B04.tif", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "tiff-bytes", rec.Body.String())
	assert.Equal(t, `attachment; filename="B04.tif"`, rec.Header().Get("Content-Disposition"))

	rec = ts.do(t, http.MethodGet, "/download?url=http://cogs.element84.com/moved", "", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = ts.do(t, http.MethodGet, "/download?url=http://cogs.element84.com/missing.tif", "", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = ts.do(t, http.MethodGet, "/download?url=http://internal.element84.com/x.tif", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/download", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadFilename(t *testing.T) {
	cases := map[string]string{
		"https://h.element84.com/a/B04.tif":              "B04.tif",
		"https://h.element84.com/a/B04.tif?x=1":          "B04.tif",
		"https://h.element84.com/a/evil\"name;x=y.tif":   "evilnamexy.tif",
		"https://h.element84.com/":                       defaultDownloadName,
		"https://h.element84.com/..":                     defaultDownloadName,
		"https://h.element84.com/a/%0d%0aSet-Cookie.tif": "Set-Cookie.tif",
	}
	for raw, want := range cases {
		assert.Equal(t, want, downloadFilename(raw), raw)
	}
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&utils.ConfigurationError{Reason: "x"}, http.StatusBadRequest},
		{&utils.BandMathError{Expression: "x", Reason: "y"}, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", catalog.ErrSceneNotFound), http.StatusNotFound},
		{jobs.ErrNotFound, http.StatusNotFound},
		{processor.ErrNoData, http.StatusUnprocessableEntity},
		{&utils.URLRejectedError{URL: "x", Reason: "y"}, http.StatusForbidden},
		{&utils.ReadError{Source: "x", Err: errors.New("y")}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, errorStatus(c.err), c.err.Error())
	}
}
