package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/nci/satgate/metrics"
)

const DefaultSTACURL = "https://earth-search.aws.element84.com/v1"

const defaultSearchLimit = 10

type STACClientConfig struct {
	URL               string
	DefaultCollection string
	Timeout           time.Duration
	// RateLimit is the sustained requests per second sent to the API.
	RateLimit float64
}

// STACClient talks to a STAC API. Requests are rate limited and go
// through a circuit breaker so a failing API is not hammered.
type STACClient struct {
	baseURL    string
	collection string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     zerolog.Logger
}

func NewSTACClient(cfg STACClientConfig, logger zerolog.Logger) *STACClient {
	if len(cfg.URL) == 0 {
		cfg.URL = DefaultSTACURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	burst := int(cfg.RateLimit)
	if burst < 1 {
		burst = 1
	}

	settings := gobreaker.Settings{
		Name:        "stac",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrSceneNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: metrics.RecordBreakerState,
	}

	return &STACClient{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		collection: cfg.DefaultCollection,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), burst),
		breaker:    gobreaker.NewCircuitBreaker[[]byte](settings),
		logger:     logger.With().Str("component", "stac").Logger(),
	}
}

type searchPayload struct {
	Limit       int                    `json:"limit"`
	Collections []string               `json:"collections,omitempty"`
	BBox        []float64              `json:"bbox,omitempty"`
	Intersects  json.RawMessage        `json:"intersects,omitempty"`
	Datetime    string                 `json:"datetime,omitempty"`
	Query       map[string]interface{} `json:"query,omitempty"`
}

type searchResponse struct {
	Features      []*stacItem `json:"features"`
	NumberMatched int         `json:"numberMatched"`
	Context       *struct {
		Matched int `json:"matched"`
	} `json:"context"`
}

func buildSearchPayload(req SearchRequest, defaultCollection string) searchPayload {
	p := searchPayload{
		Limit:       req.Limit,
		Collections: req.Collections,
		Datetime:    req.Datetime,
	}
	if p.Limit <= 0 {
		p.Limit = defaultSearchLimit
	}
	if len(p.Collections) == 0 && len(defaultCollection) > 0 {
		p.Collections = []string{defaultCollection}
	}
	if len(req.Geometry) > 0 {
		p.Intersects = req.Geometry
	} else if len(req.BBox) == 4 {
		p.BBox = req.BBox
	}
	if req.CloudCoverMax != nil && *req.CloudCoverMax < 100 {
		p.Query = map[string]interface{}{
			"eo:cloud_cover": map[string]float64{"lt": *req.CloudCoverMax},
		}
	}
	return p
}

func (c *STACClient) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	payload, err := json.Marshal(buildSearchPayload(req, c.collection))
	if err != nil {
		return nil, err
	}

	body, err := c.do(ctx, "search", http.MethodPost, c.baseURL+"/search", payload)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	res := &SearchResult{Scenes: make([]*Scene, 0, len(resp.Features)), Matched: resp.NumberMatched}
	if resp.Context != nil && res.Matched == 0 {
		res.Matched = resp.Context.Matched
	}
	for _, it := range resp.Features {
		res.Scenes = append(res.Scenes, it.toScene())
	}
	return res, nil
}

func (c *STACClient) GetScene(ctx context.Context, collection, id string) (*Scene, error) {
	if len(collection) == 0 {
		collection = c.collection
	}
	u := fmt.Sprintf("%s/collections/%s/items/%s", c.baseURL, url.PathEscape(collection), url.PathEscape(id))
	body, err := c.do(ctx, "get_item", http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var it stacItem
	if err := json.Unmarshal(body, &it); err != nil {
		return nil, fmt.Errorf("decode item %s: %w", id, err)
	}
	if len(it.Collection) == 0 {
		it.Collection = collection
	}
	return it.toScene(), nil
}

func (c *STACClient) Collections(ctx context.Context) ([]Collection, error) {
	body, err := c.do(ctx, "collections", http.MethodGet, c.baseURL+"/collections", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Collections []Collection `json:"collections"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode collections: %w", err)
	}
	return resp.Collections, nil
}

func (c *STACClient) do(ctx context.Context, op, method, u string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rd)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/geo+json, application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrSceneNotFound
		}
		if resp.StatusCode/100 != 2 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("stac %s: %s: %s", op, resp.Status, strings.TrimSpace(string(msg)))
		}
		return io.ReadAll(resp.Body)
	})

	switch {
	case err == nil:
		metrics.CatalogRequests.WithLabelValues(op, "ok").Inc()
	case errors.Is(err, ErrSceneNotFound):
		metrics.CatalogRequests.WithLabelValues(op, "not_found").Inc()
	default:
		metrics.CatalogRequests.WithLabelValues(op, "error").Inc()
		c.logger.Warn().Err(err).Str("op", op).Msg("stac request failed")
	}
	return body, err
}
