package metrics

import (
	"bytes"
	"fmt"
	"net"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/maptile"

	"github.com/nci/satgate/utils"
)

type URLInfo struct {
	RawURL string            `json:"raw_url"`
	Host   string            `json:"host"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query"`
}

// TileInfo describes how one tile was produced.
type TileInfo struct {
	SceneID      string        `json:"scene_id"`
	Collection   string        `json:"collection"`
	Addr         string        `json:"addr"`
	Bands        []string      `json:"bands"`
	Geometry     string        `json:"geometry"`
	Placeholders int           `json:"placeholders"`
	Empty        bool          `json:"empty"`
	CacheHit     bool          `json:"cache_hit"`
	NotModified  bool          `json:"not_modified"`
	Duration     time.Duration `json:"duration"`

	addr *utils.TileAddress
}

// SetAddr records the tile address; its lon/lat footprint is filled in
// when the record is serialised.
func (t *TileInfo) SetAddr(addr utils.TileAddress) {
	t.addr = &addr
	t.Addr = addr.String()
}

type ReaderInfo struct {
	Duration  time.Duration `json:"duration"`
	NumReads  int           `json:"num_reads"`
	NumFailed int           `json:"num_failed"`
}

type MetricsInfo struct {
	ReqTime     string        `json:"req_time"`
	ReqDuration time.Duration `json:"req_duration"`
	URL         URLInfo       `json:"url"`
	RemoteAddr  string        `json:"remote_addr"`
	RemoteHost  string        `json:"remote_host"`
	RemotePort  string        `json:"remote_port"`
	HTTPStatus  int           `json:"http_status"`
	Tile        *TileInfo     `json:"tile"`
	Reader      *ReaderInfo   `json:"reader"`
}

type MetricsCollector struct {
	Info   *MetricsInfo
	logger Logger
}

func NewMetricsCollector(logger Logger) *MetricsCollector {
	return &MetricsCollector{
		Info: &MetricsInfo{
			Tile:   &TileInfo{},
			Reader: &ReaderInfo{},
		},
		logger: logger,
	}
}

func (m *MetricsCollector) Log() {
	if m.logger != nil {
		m.logger.Log(m.Info)
	}
}

func (i *MetricsInfo) ToJSON() (string, error) {
	i.normaliseNetworkAddr(i.RemoteAddr)
	if err := i.normaliseURL(&i.URL); err != nil {
		return "", fmt.Errorf("normalise url: %v", err)
	}
	i.normaliseGeometry()

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(i); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (i *MetricsInfo) normaliseNetworkAddr(addr string) {
	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		i.RemoteHost = host
		i.RemotePort = port
	} else {
		i.RemoteHost = addr
	}
}

func (i *MetricsInfo) normaliseURL(u *URLInfo) error {
	r, err := url.Parse(u.RawURL)
	if err != nil {
		return err
	}

	u.Host = r.Host
	u.Path = r.Path
	query, err := utils.ParseQuery(r.RawQuery)
	if err != nil {
		return err
	}

	if u.Query == nil {
		u.Query = make(map[string]string)
	}
	for k, v := range query {
		if len(v) == 1 {
			u.Query[k] = v[0]
		} else if len(v) > 1 {
			u.Query[k] = fmt.Sprintf("%v", v)
		} else {
			u.Query[k] = ""
		}
	}
	return nil
}

// normaliseGeometry writes the lon/lat footprint of the tile as WKT.
func (i *MetricsInfo) normaliseGeometry() {
	if i.Tile == nil {
		return
	}
	if i.Tile.addr == nil {
		i.Tile.Geometry = "POLYGON EMPTY"
		return
	}
	a := i.Tile.addr
	tile := maptile.New(uint32(a.X), uint32(a.Y), maptile.Zoom(a.Z))
	i.Tile.Geometry = wkt.MarshalString(tile.Bound().ToPolygon())
}
