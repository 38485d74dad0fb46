// Package export re-renders a card at its canonical resolution, independent
// of the preview size, and encodes it as a PNG artifact.
package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/disintegration/imaging"
	"github.com/gogpu/gg"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/membercard/pkg/compositor"
	"github.com/menta2k/membercard/pkg/imageio"
	"github.com/menta2k/membercard/pkg/layout"
	"github.com/menta2k/membercard/pkg/types"
)

var (
	// ErrAssetLoad is returned when any image of the card fails to load.
	ErrAssetLoad = errors.New("export: asset failed to load")
	// ErrNotReady is returned when the photo or the code is missing.
	ErrNotReady = errors.New("export: photo and code are required")
)

const (
	DefaultSupersample = 2
	DefaultAttempts    = 3
	DefaultBaseDelay   = 300 * time.Millisecond
)

// Loader resolves one image of the card.
type Loader func(ctx context.Context) (image.Image, error)

// Loaded wraps an image that is already decoded.
func Loaded(img image.Image) Loader {
	return func(context.Context) (image.Image, error) {
		if img == nil {
			return nil, errors.New("no image")
		}
		return img, nil
	}
}

// FromSource loads an image from a file path or an http(s) URL.
func FromSource(src string) Loader {
	return func(ctx context.Context) (image.Image, error) {
		return imageio.Load(ctx, src)
	}
}

// Request describes one export.
type Request struct {
	Layout layout.Spec
	Fields types.CardFields
	// Preview is the on-screen size of the live card when export was requested.
	Preview layout.Size

	// Template is optional; nil uses the built in background.
	Template Loader
	Photo    Loader
	Code     Loader
}

// FromCard builds a request from a live preview card.
func FromCard(card *compositor.Card) Request {
	size := card.Size()
	scene := card.Scene(size)
	req := Request{
		Layout:  scene.Layout,
		Fields:  scene.Fields,
		Preview: size,
	}
	if scene.Template != nil {
		req.Template = Loaded(scene.Template)
	}
	if scene.Photo != nil {
		req.Photo = Loaded(scene.Photo)
	}
	if scene.Code != nil {
		req.Code = Loaded(scene.Code)
	}
	return req
}

// Rasterizer draws a scene onto a surface.
type Rasterizer interface {
	Rasterize(ctx context.Context, dc *gg.Context, scene compositor.Scene) error
}

// RasterizerFunc adapts a function to Rasterizer.
type RasterizerFunc func(ctx context.Context, dc *gg.Context, scene compositor.Scene) error

func (f RasterizerFunc) Rasterize(ctx context.Context, dc *gg.Context, scene compositor.Scene) error {
	return f(ctx, dc, scene)
}

// Observer receives pipeline measurements.
type Observer interface {
	ObserveExport(result string, d time.Duration)
	ObserveRasterAttempt(ok bool)
}

type nopObserver struct{}

func (nopObserver) ObserveExport(string, time.Duration) {}
func (nopObserver) ObserveRasterAttempt(bool)           {}

// Config holds the pipeline tunables.
type Config struct {
	Supersample float64
	Attempts    int
	BaseDelay   time.Duration
}

// DefaultConfig returns 2x supersampling and three attempts 300ms apart.
func DefaultConfig() Config {
	return Config{
		Supersample: DefaultSupersample,
		Attempts:    DefaultAttempts,
		BaseDelay:   DefaultBaseDelay,
	}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStage shares a stage between pipelines.
func WithStage(s *Stage) Option {
	return func(p *Pipeline) { p.stage = s }
}

// WithRasterizer replaces the renderer backed rasterizer.
func WithRasterizer(r Rasterizer) Option {
	return func(p *Pipeline) { p.raster = r }
}

func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// Pipeline renders exports. It is safe for concurrent use; concurrent
// exports are independent and are not ordered against each other.
type Pipeline struct {
	cfg      Config
	stage    *Stage
	raster   Rasterizer
	observer Observer
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates a pipeline drawing with r.
func New(r *compositor.Renderer, cfg Config, opts ...Option) *Pipeline {
	if cfg.Supersample <= 0 {
		cfg.Supersample = DefaultSupersample
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	p := &Pipeline{
		cfg:   cfg,
		stage: NewStage(),
		raster: RasterizerFunc(func(_ context.Context, dc *gg.Context, scene compositor.Scene) error {
			return r.DrawTo(dc, scene)
		}),
		observer: nopObserver{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/menta2k/membercard/pkg/export"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stage returns the stage surfaces are attached to.
func (p *Pipeline) Stage() *Stage { return p.stage }

// Target returns the output pixel size for a layout.
func (p *Pipeline) Target(spec layout.Spec) (int, int) {
	c := spec.Canonical()
	return int(math.Round(c.W * p.cfg.Supersample)), int(math.Round(c.H * p.cfg.Supersample))
}

// Repin returns the text sizes of the canonical render, derived from the
// preview's sizes and the canonical/preview ratio.
func Repin(spec layout.Spec, preview layout.Size) layout.FontSizes {
	if preview.W <= 0 || preview.H <= 0 {
		preview = spec.Canonical()
	}
	return spec.FontSizesFor(preview).Scaled(spec.RepinRatio(preview).Font())
}

// Export renders the request at canonical size times the supersampling
// factor and returns the PNG artifact.
func (p *Pipeline) Export(ctx context.Context, req Request) (art *types.Artifact, err error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "export.card", trace.WithAttributes(
		attribute.Float64("preview.width", req.Preview.W),
		attribute.Float64("preview.height", req.Preview.H),
	))
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		p.observer.ObserveExport(result, time.Since(start))
		span.End()
	}()

	if req.Photo == nil || req.Code == nil {
		return nil, ErrNotReady
	}

	w, h := p.Target(req.Layout)
	surface := p.stage.Attach(w, h)
	defer p.stage.Detach(surface)

	ratio := req.Layout.RepinRatio(req.Preview)
	fonts := Repin(req.Layout, req.Preview).Scaled(p.cfg.Supersample)
	p.logger.Debug("export started",
		"target", fmt.Sprintf("%dx%d", w, h),
		"repin_x", ratio.X, "repin_y", ratio.Y,
		"fonts", fonts)

	assets, err := p.loadAssets(ctx, req)
	if err != nil {
		return nil, err
	}

	scene := compositor.Scene{
		Layout:   req.Layout,
		Fields:   req.Fields,
		Template: assets.template,
		Photo:    assets.photo,
		Code:     assets.code,
		Size:     layout.Size{W: float64(w), H: float64(h)},
		Fonts:    &fonts,
	}
	if err := p.rasterize(ctx, surface, scene); err != nil {
		return nil, err
	}

	dc := surface.Context()
	if err := dc.FlushGPU(); err != nil {
		return nil, fmt.Errorf("export: flush surface: %w", err)
	}
	bitmap := imaging.Clone(dc.Image())
	data, err := imageio.EncodeBytes(bitmap, imageio.FormatPNG, 0)
	if err != nil {
		return nil, fmt.Errorf("export: encode: %w", err)
	}

	p.logger.Info("card exported", "member_id", req.Fields.MemberID, "bytes", len(data))
	return &types.Artifact{
		Data:   data,
		MIME:   imageio.FormatPNG.MIME(),
		Width:  w,
		Height: h,
	}, nil
}

type assetSet struct {
	template image.Image
	photo    image.Image
	code     image.Image
}

// loadAssets resolves every image concurrently and returns only once all of
// them settled.
func (p *Pipeline) loadAssets(ctx context.Context, req Request) (*assetSet, error) {
	var (
		mu  sync.Mutex
		out assetSet
	)
	g, gctx := errgroup.WithContext(ctx)
	load := func(name string, l Loader, dst *image.Image) {
		if l == nil {
			return
		}
		g.Go(func() error {
			img, err := l(gctx)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrAssetLoad, name, err)
			}
			if img == nil || img.Bounds().Empty() {
				return fmt.Errorf("%w: %s: empty image", ErrAssetLoad, name)
			}
			mu.Lock()
			*dst = img
			mu.Unlock()
			return nil
		})
	}
	load("template", req.Template, &out.template)
	load("photo", req.Photo, &out.photo)
	load("code", req.Code, &out.code)

	if err := g.Wait(); err != nil {
		p.logger.Error("export asset load failed", "error", err)
		return nil, err
	}
	return &out, nil
}

func (p *Pipeline) rasterize(ctx context.Context, surface *Surface, scene compositor.Scene) error {
	ctx, span := p.tracer.Start(ctx, "export.rasterize")
	defer span.End()

	attempt := 0
	op := func() error {
		attempt++
		err := p.raster.Rasterize(ctx, surface.Context(), scene)
		p.observer.ObserveRasterAttempt(err == nil)
		return err
	}
	notify := func(err error, next time.Duration) {
		p.logger.Warn("rasterize failed, retrying", "attempt", attempt, "next", next, "error", err)
	}

	policy := backoff.WithContext(retryPolicy(p.cfg.Attempts, p.cfg.BaseDelay), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		span.SetAttributes(attribute.Int("attempts", attempt))
		span.RecordError(err)
		return fmt.Errorf("export: rasterize after %d attempts: %w", attempt, err)
	}
	span.SetAttributes(attribute.Int("attempts", attempt))
	return nil
}
