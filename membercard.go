// Package membercard issues membership card images.
//
// A card is built in three steps. A crop session turns an uploaded photo
// into a portrait crop. The compositor draws the template, the photo, the
// member's QR code and the text block onto one surface, scaling with the
// container it is shown in. The export pipeline re-renders the same card at
// the template's canonical resolution and encodes it as PNG.
//
// Basic usage:
//
//	issuer, err := membercard.New()
//	if err != nil {
//		log.Fatal(err)
//	}
//	photo, err := issuer.Crop(ctx, img, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	card, err := issuer.Card(ctx, fields, photo)
//	if err != nil {
//		log.Fatal(err)
//	}
//	art, err := issuer.Export(ctx, card)
//	if err != nil {
//		log.Fatal(err)
//	}
//	_ = os.WriteFile(export.FileName(fields.MemberID), art.Data, 0o644)
//
// The HTTP service in cmd/membercard-server exposes the same flow.
package membercard

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/menta2k/membercard/pkg/compositor"
	"github.com/menta2k/membercard/pkg/crop"
	"github.com/menta2k/membercard/pkg/export"
	"github.com/menta2k/membercard/pkg/layout"
	"github.com/menta2k/membercard/pkg/qr"
	"github.com/menta2k/membercard/pkg/types"
)

// Version of the membercard library
const Version = "1.0.0"

// Issuer bundles a renderer, a layout and an export pipeline
type Issuer struct {
	renderer *compositor.Renderer
	spec     layout.Spec
	template image.Image
	crop     crop.Config
	locator  crop.SubjectLocator
	codeSize int
	preview  layout.Size
	pipeline *export.Pipeline
	logger   *slog.Logger
}

// Option configures an Issuer
type Option func(*options)

type options struct {
	template   image.Image
	crop       crop.Config
	export     export.Config
	exportOpts []export.Option
	locator    crop.SubjectLocator
	codeSize   int
	preview    layout.Size
	logger     *slog.Logger
}

// WithTemplate sets the card background; its size becomes the canonical
// export size.
func WithTemplate(img image.Image) Option {
	return func(o *options) { o.template = img }
}

// WithCropConfig overrides the crop aspect, default fraction and output format.
func WithCropConfig(cfg crop.Config) Option {
	return func(o *options) { o.crop = cfg }
}

// WithExportConfig overrides the export retry and supersampling settings.
func WithExportConfig(cfg export.Config, opts ...export.Option) Option {
	return func(o *options) {
		o.export = cfg
		o.exportOpts = append(o.exportOpts, opts...)
	}
}

// WithLocator centers default crops on the located subject.
func WithLocator(l crop.SubjectLocator) Option {
	return func(o *options) { o.locator = l }
}

// WithCodeSize sets the side of the generated QR code in pixels.
func WithCodeSize(size int) Option {
	return func(o *options) { o.codeSize = size }
}

// WithPreviewSize sets the live container size cards are laid out at before
// export. The zero size means the canonical size.
func WithPreviewSize(size layout.Size) Option {
	return func(o *options) { o.preview = size }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates an Issuer with the default layout
func New(opts ...Option) (*Issuer, error) {
	o := options{
		crop:     crop.DefaultConfig(),
		export:   export.DefaultConfig(),
		codeSize: qr.DefaultSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	renderer, err := compositor.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("membercard: %w", err)
	}
	spec := layout.Default()
	if o.template != nil {
		b := o.template.Bounds()
		spec = spec.WithCanonical(b.Dx(), b.Dy())
	}
	exportOpts := append([]export.Option{export.WithLogger(o.logger)}, o.exportOpts...)

	return &Issuer{
		renderer: renderer,
		spec:     spec,
		template: o.template,
		crop:     o.crop,
		locator:  o.locator,
		codeSize: o.codeSize,
		preview:  o.preview,
		pipeline: export.New(renderer, o.export, exportOpts...),
		logger:   o.logger,
	}, nil
}

// Layout returns the card layout, scaled to the template when one is set
func (i *Issuer) Layout() layout.Spec { return i.spec }

// Pipeline returns the export pipeline
func (i *Issuer) Pipeline() *export.Pipeline { return i.pipeline }

// Crop flattens region of img, shown at its natural size. A nil region
// selects the default one, centered on the subject when a locator is set.
func (i *Issuer) Crop(ctx context.Context, img image.Image, region *types.CropRegion) (image.Image, error) {
	b := img.Bounds()
	display := types.DisplaySize{W: float64(b.Dx()), H: float64(b.Dy())}

	opts := []crop.Option{crop.WithLogger(i.logger)}
	if region == nil && i.locator != nil {
		opts = append(opts, crop.WithLocator(i.locator))
	}
	sess := crop.NewSession(i.crop, opts...)
	if err := sess.Load(ctx, img, display); err != nil {
		return nil, err
	}
	if region != nil {
		if err := sess.SetRegion(*region); err != nil {
			return nil, err
		}
	}
	if _, err := sess.Confirm(ctx); err != nil {
		return nil, err
	}
	if _, err := sess.Done(); err != nil {
		return nil, err
	}
	return sess.Result(), nil
}

// Card builds a live card and waits for its QR code
func (i *Issuer) Card(ctx context.Context, fields types.CardFields, photo image.Image) (*compositor.Card, error) {
	opts := []compositor.CardOption{
		compositor.WithCodeGenerator(qr.Generate, i.codeSize),
		compositor.WithCardLogger(i.logger),
	}
	if i.template != nil {
		opts = append(opts, compositor.WithTemplate(i.template))
	}
	card := compositor.NewCard(i.renderer, i.spec, opts...)
	card.SetFields(fields)
	if photo != nil {
		card.SetPhoto(photo)
	}
	card.Resize(i.preview)
	if err := card.WaitCode(ctx); err != nil {
		return nil, err
	}
	return card, nil
}

// Export renders card at the canonical resolution as a PNG artifact
func (i *Issuer) Export(ctx context.Context, card *compositor.Card) (*types.Artifact, error) {
	if !card.Ready() {
		return nil, export.ErrNotReady
	}
	return i.pipeline.Export(ctx, export.FromCard(card))
}

// Issue runs crop, compose and export in one call
func (i *Issuer) Issue(ctx context.Context, fields types.CardFields, img image.Image, region *types.CropRegion) (*types.Artifact, error) {
	photo, err := i.Crop(ctx, img, region)
	if err != nil {
		return nil, fmt.Errorf("crop: %w", err)
	}
	card, err := i.Card(ctx, fields, photo)
	if err != nil {
		return nil, fmt.Errorf("card: %w", err)
	}
	return i.Export(ctx, card)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
