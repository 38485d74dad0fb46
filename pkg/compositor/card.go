package compositor

import (
	"context"
	"image"
	"log/slog"
	"sync"

	"github.com/menta2k/membercard/pkg/layout"
	"github.com/menta2k/membercard/pkg/qr"
	"github.com/menta2k/membercard/pkg/types"
)

// CodeGenerator produces the scannable code for a member id.
type CodeGenerator func(memberID string, size int) (image.Image, error)

// CardOption configures a Card.
type CardOption func(*Card)

// WithTemplate sets the background template asset.
func WithTemplate(img image.Image) CardOption {
	return func(c *Card) { c.template = img }
}

// WithCodeGenerator replaces the default QR generator.
func WithCodeGenerator(gen CodeGenerator, size int) CardOption {
	return func(c *Card) {
		c.gen = gen
		if size > 0 {
			c.codeSize = size
		}
	}
}

// WithCardLogger sets the logger used for code generation failures.
func WithCardLogger(l *slog.Logger) CardOption {
	return func(c *Card) { c.logger = l }
}

// Card is the live preview of a membership card. Field changes regenerate
// the code in the background; a result for a member id that is no longer
// current is discarded.
type Card struct {
	renderer *Renderer
	spec     layout.Spec
	template image.Image
	gen      CodeGenerator
	codeSize int
	logger   *slog.Logger

	mu        sync.Mutex
	fields    types.CardFields
	photo     image.Image
	container layout.Size
	code      image.Image
	codeFor   string
	pending   chan struct{}
}

// NewCard creates a card preview for the given layout.
func NewCard(r *Renderer, spec layout.Spec, opts ...CardOption) *Card {
	c := &Card{
		renderer:  r,
		spec:      spec,
		gen:       qr.Generate,
		codeSize:  qr.DefaultSize,
		logger:    slog.Default(),
		container: spec.Canonical(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.template != nil {
		b := c.template.Bounds()
		c.spec = c.spec.WithCanonical(b.Dx(), b.Dy())
		c.container = c.spec.Canonical()
	}
	return c
}

// Layout returns the layout in use, with the canonical size taken from the
// template when one is set.
func (c *Card) Layout() layout.Spec { return c.spec }

// Template returns the background asset, or nil for the built in one.
func (c *Card) Template() image.Image { return c.template }

// SetFields updates the identity fields. A changed member id starts a new
// code generation; an empty id clears the code.
func (c *Card) SetFields(f types.CardFields) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fields = f
	if f.MemberID == c.codeFor {
		return
	}
	c.codeFor = f.MemberID
	c.code = nil
	if f.MemberID == "" {
		c.pending = nil
		return
	}
	done := make(chan struct{})
	c.pending = done
	go c.generate(f.MemberID, done)
}

func (c *Card) generate(id string, done chan struct{}) {
	defer close(done)

	img, err := c.gen(id, c.codeSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codeFor != id {
		return
	}
	if err != nil {
		c.logger.Warn("code generation failed", "member_id", id, "error", err)
		return
	}
	c.code = img
}

// WaitCode blocks until the code for the current member id is settled.
func (c *Card) WaitCode(ctx context.Context) error {
	c.mu.Lock()
	ch := c.pending
	c.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetPhoto sets the committed crop, or clears it with nil.
func (c *Card) SetPhoto(img image.Image) {
	c.mu.Lock()
	c.photo = img
	c.mu.Unlock()
}

// Resize records the container size and returns the font sizes for it.
func (c *Card) Resize(size layout.Size) layout.FontSizes {
	c.mu.Lock()
	defer c.mu.Unlock()
	if size.W > 0 && size.H > 0 {
		c.container = size
	}
	return c.spec.FontSizesFor(c.container)
}

// Size returns the current container size.
func (c *Card) Size() layout.Size {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.container
}

// FontSizes returns the font sizes for the current container.
func (c *Card) FontSizes() layout.FontSizes {
	return c.spec.FontSizesFor(c.Size())
}

// Ready reports whether both the photo and the code are available.
func (c *Card) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.photo != nil && c.code != nil
}

// Fields returns the current identity fields.
func (c *Card) Fields() types.CardFields {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fields
}

// Scene snapshots the card for rendering at size.
func (c *Card) Scene(size layout.Size) Scene {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Scene{
		Layout:   c.spec,
		Fields:   c.fields,
		Template: c.template,
		Photo:    c.photo,
		Code:     c.code,
		Size:     size,
	}
}

// Preview renders the card at the current container size.
func (c *Card) Preview() (*image.NRGBA, error) {
	return c.renderer.Render(c.Scene(c.Size()))
}
