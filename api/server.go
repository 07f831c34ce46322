// Package api is the HTTP surface of the gateway: tiles, catalog search,
// processing jobs and the guarded download proxy.
package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nci/satgate/catalog"
	"github.com/nci/satgate/jobs"
	"github.com/nci/satgate/metrics"
	"github.com/nci/satgate/processor"
	"github.com/nci/satgate/utils"
)

// TileComposer renders XYZ tiles. processor.Compositor satisfies it.
type TileComposer interface {
	ComposeTile(ctx context.Context, req processor.TileRequest) (*processor.RenderedTile, error)
	ETag(req processor.TileRequest) string
}

// SourceInspector describes a raster without reading its pixels.
type SourceInspector interface {
	Info(ctx context.Context, href string) (*utils.SourceInfo, error)
}

// JobService queues and tracks processing jobs. jobs.Orchestrator
// satisfies it.
type JobService interface {
	Submit(ctx context.Context, req jobs.JobRequest) (string, error)
	Status(ctx context.Context, jobID string) (*jobs.Record, error)
	Cancel(ctx context.Context, jobID string) (*jobs.Record, error)
}

type Server struct {
	Tiles   TileComposer
	Catalog catalog.Catalog
	Sources SourceInspector
	Jobs    JobService
	Config  *utils.Config

	// Resolver defaults to net.DefaultResolver. Without HTTPClient downloads
	// dial only the public addresses Resolver returns.
	Resolver   utils.Resolver
	HTTPClient *http.Client

	MetricsLogger metrics.Logger
	Logger        zerolog.Logger

	downloadOnce sync.Once
	download     *http.Client
}

// Router builds the handler tree. /healthz and /metrics are exempt from
// the per client rate limit.
func (s *Server) Router() http.Handler {
	if s.Config == nil {
		s.Config = utils.DefaultConfig()
	}

	r := chi.NewRouter()
	r.Use(requestLogger(s.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.Config.Server.RateLimit > 0 {
			r.Use(httprate.LimitByIP(s.Config.Server.RateLimit, time.Minute))
		}

		r.Route("/tiles", func(r chi.Router) {
			r.Get("/{scene_id}/tilejson.json", s.serveTileJSON)
			r.Get("/{scene_id}/{z}/{x}/{y}.png", s.serveSceneTile)
			r.Get("/{z}/{x}/{y}.png", s.serveURLTile)
		})
		r.Get("/cog/info", s.serveCOGInfo)

		r.Get("/search", s.serveSearch)
		r.Post("/search", s.serveSearch)
		r.Get("/collections", s.serveCollections)
		r.Get("/scenes/{collection}/{scene_id}", s.serveScene)

		r.Route("/jobs", func(r chi.Router) {
			for _, jobType := range []string{jobs.TypeAggregate, jobs.TypeIndex, jobs.TypeMosaic} {
				r.Post("/"+jobType, s.serveSubmitJob(jobType))
			}
			r.Get("/{job_id}", s.serveJobStatus)
			r.Delete("/{job_id}", s.serveCancelJob)
		})

		r.Get("/download", s.serveDownload)
	})

	return r
}

// guard rejects urls outside the configured allow-list or resolving to
// non public addresses.
func (s *Server) guard(ctx context.Context, raw string) error {
	return utils.GuardURL(ctx, raw, s.Config.Security.AllowedDomains, s.Resolver)
}

// requestLogger logs one line per request and counts it by route pattern.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && len(rctx.RoutePattern()) > 0 {
				route = rctx.RoutePattern()
			}
			metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("remote", utils.ParseRemoteAddr(r)).
				Msg("request")
		})
	}
}
