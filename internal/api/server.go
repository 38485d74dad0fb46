// Package api exposes the crop, card, export and share flows over HTTP.
package api

import (
	"context"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/menta2k/membercard/internal/artifact"
	"github.com/menta2k/membercard/internal/config"
	"github.com/menta2k/membercard/internal/metrics"
	"github.com/menta2k/membercard/pkg/compositor"
	"github.com/menta2k/membercard/pkg/crop"
	"github.com/menta2k/membercard/pkg/export"
	"github.com/menta2k/membercard/pkg/layout"
	"github.com/menta2k/membercard/pkg/membership"
	"github.com/menta2k/membercard/pkg/share"
)

// MemberService is the registration service the form talks to.
type MemberService interface {
	Lookup(ctx context.Context, phone string) (*membership.Record, error)
	Submit(ctx context.Context, app membership.Application) (string, error)
}

// Deps are the collaborators of a Server. Renderer and Store are required;
// the rest have defaults.
type Deps struct {
	Config     *config.Config
	Renderer   *compositor.Renderer
	Template   image.Image
	Store      artifact.Store
	Members    MemberService
	Locator    crop.SubjectLocator
	Dispatcher *share.Dispatcher
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
}

// Server holds the handlers.
type Server struct {
	cfg        *config.Config
	renderer   *compositor.Renderer
	spec       layout.Spec
	template   image.Image
	pipeline   *export.Pipeline
	store      artifact.Store
	members    MemberService
	locator    crop.SubjectLocator
	dispatcher *share.Dispatcher
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
}

// New wires a server.
func New(d Deps) *Server {
	if d.Config == nil {
		d.Config = config.Default()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Dispatcher == nil {
		d.Dispatcher = share.NewDispatcher(d.Logger)
	}
	if d.Metrics == nil {
		reg := prometheus.NewRegistry()
		d.Metrics = metrics.New(reg)
		if d.Gatherer == nil {
			d.Gatherer = reg
		}
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	spec := layout.Default()
	if d.Template != nil {
		b := d.Template.Bounds()
		spec = spec.WithCanonical(b.Dx(), b.Dy())
	}
	pipeline := export.New(d.Renderer, d.Config.ExportSettings(),
		export.WithObserver(d.Metrics),
		export.WithLogger(d.Logger))

	return &Server{
		cfg:        d.Config,
		renderer:   d.Renderer,
		spec:       spec,
		template:   d.Template,
		pipeline:   pipeline,
		store:      d.Store,
		members:    d.Members,
		locator:    d.Locator,
		dispatcher: d.Dispatcher,
		metrics:    d.Metrics,
		gatherer:   d.Gatherer,
		logger:     d.Logger,
	}
}

// Pipeline returns the export pipeline; its stage is empty between requests.
func (s *Server) Pipeline() *export.Pipeline { return s.pipeline }

// Router builds a gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.observe())
	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the API under /api and metrics at /metrics.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.GET("/health", s.health)
		api.GET("/qr", s.qrHandler)
		api.POST("/crop/default", s.defaultRegionHandler)
		api.POST("/crop", s.cropHandler)
		api.POST("/card/preview", s.previewHandler)
		api.POST("/card/export", s.exportHandler)
		api.GET("/artifacts/:id", s.artifactHandler)
		api.POST("/share/plan", s.sharePlanHandler)
		api.POST("/members/lookup", s.lookupHandler)
		api.POST("/members", s.submitHandler)
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
}

// observe records route metrics and logs each request.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		s.metrics.ObserveRequest(route, status, start)

		level := slog.LevelDebug
		if status >= 500 {
			level = slog.LevelError
		}
		s.logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", time.Since(start),
			"errors", strings.Join(c.Errors.Errors(), "; "))
	}
}
