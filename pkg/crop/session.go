// Package crop implements the interactive crop session: a constrained aspect
// region is selected on the displayed photo, confirmed into a flattened image
// at the photo's natural resolution, and either committed or re-cropped.
package crop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"

	"github.com/menta2k/membercard/pkg/imageio"
	"github.com/menta2k/membercard/pkg/types"
)

var (
	ErrNotLoaded    = errors.New("crop: source image not loaded")
	ErrEmptyRegion  = errors.New("crop: region has no area")
	ErrInvalidState = errors.New("crop: invalid state")
	ErrNoContext    = errors.New("crop: no drawable surface for region")
)

// State of a crop session
type State int

const (
	StateIdle State = iota
	StateCropping
	StateConfirmed
	StateCommitted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCropping:
		return "cropping"
	case StateConfirmed:
		return "confirmed-preview"
	case StateCommitted:
		return "committed"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// SubjectLocator finds the subject of a photo as a normalized box.
type SubjectLocator interface {
	Locate(ctx context.Context, img image.Image) (types.Box, error)
}

// Config holds crop session settings
type Config struct {
	// Aspect is the fixed width/height ratio of the region.
	Aspect float64
	// DefaultFraction is the share of the largest fitting region used on load.
	DefaultFraction float64
	Format          imageio.Format
	Quality         int
}

// DefaultConfig returns a square crop encoded as jpeg at quality 90.
func DefaultConfig() Config {
	return Config{
		Aspect:          1,
		DefaultFraction: 0.8,
		Format:          imageio.FormatJPEG,
		Quality:         90,
	}
}

// Option configures a Session
type Option func(*Session)

// WithLocator centers the default region on the located subject.
func WithLocator(l SubjectLocator) Option {
	return func(s *Session) { s.locator = l }
}

// WithCommit registers the caller notified on Done (with the artifact) and
// on Recrop (with nil).
func WithCommit(fn func(*types.Artifact)) Option {
	return func(s *Session) { s.onCommit = fn }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// Session is a single crop interaction. It is not safe for concurrent use.
type Session struct {
	cfg      Config
	locator  SubjectLocator
	onCommit func(*types.Artifact)
	logger   *slog.Logger

	state    State
	src      image.Image
	natural  image.Point
	display  types.DisplaySize
	region   types.CropRegion
	artifact *types.Artifact
	result   image.Image
}

// NewSession creates a session in the idle state.
func NewSession(cfg Config, opts ...Option) *Session {
	if cfg.Aspect <= 0 {
		cfg.Aspect = 1
	}
	if cfg.DefaultFraction <= 0 || cfg.DefaultFraction > 1 {
		cfg.DefaultFraction = DefaultConfig().DefaultFraction
	}
	if cfg.Format == "" {
		cfg.Format = imageio.FormatJPEG
	}
	if cfg.Quality <= 0 {
		cfg.Quality = DefaultConfig().Quality
	}
	s := &Session{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Region returns the current region in the unit it is expressed in.
func (s *Session) Region() types.CropRegion { return s.region }

// Display returns the displayed size the region is relative to.
func (s *Session) Display() types.DisplaySize { return s.display }

// Artifact returns the flattened artifact while in the confirmed state.
func (s *Session) Artifact() *types.Artifact { return s.artifact }

// Result returns the decoded flattened image while in the confirmed state.
func (s *Session) Result() image.Image { return s.result }

// Load sets the source image and its displayed size and computes the default
// region. A zero display means the image is shown at natural size.
func (s *Session) Load(ctx context.Context, img image.Image, display types.DisplaySize) error {
	if s.closed() {
		return fmt.Errorf("%w: load in %s", ErrInvalidState, s.state)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return fmt.Errorf("%w: source has no pixels", ErrNotLoaded)
	}
	if !display.Valid() {
		display = types.DisplaySize{W: float64(b.Dx()), H: float64(b.Dy())}
	}

	var hint *types.Box
	if s.locator != nil {
		box, err := s.locator.Locate(ctx, img)
		if err != nil {
			s.logger.Warn("crop: subject hint unavailable, centering", "error", err)
		} else {
			hint = &box
		}
	}

	s.src = img
	s.natural = b.Size()
	s.display = display
	s.region = DefaultRegion(display, s.cfg.Aspect, s.cfg.DefaultFraction, hint)
	s.state = StateCropping
	s.logger.Debug("crop: image loaded",
		"natural", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()),
		"display", fmt.Sprintf("%.1fx%.1f", display.W, display.H),
		"region", s.region)
	return nil
}

// SetRegion replaces the region, re-deriving its height from its width so
// the aspect holds.
func (s *Session) SetRegion(r types.CropRegion) error {
	if s.state != StateCropping {
		return fmt.Errorf("%w: set region in %s", ErrInvalidState, s.state)
	}
	if err := r.Validate(); err != nil {
		return err
	}
	s.apply(r.ToPixels(s.display), r.Unit)
	return nil
}

// Move drags the region so its top-left corner sits at x, y (current unit).
func (s *Session) Move(x, y float64) error {
	if s.state != StateCropping {
		return fmt.Errorf("%w: move in %s", ErrInvalidState, s.state)
	}
	r := s.region
	r.X, r.Y = x, y
	s.apply(r.ToPixels(s.display), s.region.Unit)
	return nil
}

// ResizeWidth drags a vertical edge; the height follows the aspect.
func (s *Session) ResizeWidth(w float64) error {
	if s.state != StateCropping {
		return fmt.Errorf("%w: resize in %s", ErrInvalidState, s.state)
	}
	r := s.region
	r.Width = w
	s.apply(r.ToPixels(s.display), s.region.Unit)
	return nil
}

// ResizeHeight drags a horizontal edge; the width follows the aspect.
func (s *Session) ResizeHeight(h float64) error {
	if s.state != StateCropping {
		return fmt.Errorf("%w: resize in %s", ErrInvalidState, s.state)
	}
	r := s.region
	r.Height = h
	px := r.ToPixels(s.display)
	px.Width = px.Height * s.cfg.Aspect
	s.apply(px, s.region.Unit)
	return nil
}

func (s *Session) apply(px types.CropRegion, unit types.Unit) {
	px = constrain(px, s.display, s.cfg.Aspect)
	if unit == types.UnitPercent {
		s.region = px.ToPercent(s.display)
		return
	}
	s.region = px
}

// CanConfirm reports whether Confirm would be accepted: the natural size is
// known and the region has area.
func (s *Session) CanConfirm() bool {
	return s.state == StateCropping && s.src != nil && !s.region.IsEmpty()
}

// Confirm flattens the region at natural resolution and encodes it.
func (s *Session) Confirm(ctx context.Context) (*types.Artifact, error) {
	switch {
	case s.state == StateIdle || s.src == nil:
		return nil, ErrNotLoaded
	case s.state != StateCropping:
		return nil, fmt.Errorf("%w: confirm in %s", ErrInvalidState, s.state)
	case s.region.IsEmpty():
		return nil, ErrEmptyRegion
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := Flatten(s.src, s.region, s.display)
	if err != nil {
		return nil, err
	}
	data, err := imageio.EncodeBytes(img, s.cfg.Format, s.cfg.Quality)
	if err != nil {
		return nil, fmt.Errorf("crop: encode: %w", err)
	}

	s.result = img
	s.artifact = &types.Artifact{
		Data:   data,
		MIME:   s.cfg.Format.MIME(),
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
	}
	s.state = StateConfirmed
	s.logger.Debug("crop: confirmed", "width", s.artifact.Width, "height", s.artifact.Height, "bytes", len(data))
	return s.artifact, nil
}

// Done commits the confirmed artifact to the caller and closes the session.
func (s *Session) Done() (*types.Artifact, error) {
	if s.state != StateConfirmed {
		return nil, fmt.Errorf("%w: done in %s", ErrInvalidState, s.state)
	}
	a := s.artifact
	s.state = StateCommitted
	if s.onCommit != nil {
		s.onCommit(a)
	}
	return a, nil
}

// Recrop discards the confirmed artifact, tells the caller it is now empty
// and returns to cropping with the previous region.
func (s *Session) Recrop() error {
	if s.state != StateConfirmed {
		return fmt.Errorf("%w: recrop in %s", ErrInvalidState, s.state)
	}
	s.artifact = nil
	s.result = nil
	s.state = StateCropping
	if s.onCommit != nil {
		s.onCommit(nil)
	}
	return nil
}

// Cancel closes the session without notifying the caller.
func (s *Session) Cancel() {
	if s.state == StateCommitted {
		return
	}
	s.artifact = nil
	s.result = nil
	s.state = StateCancelled
}

func (s *Session) closed() bool {
	return s.state == StateCommitted || s.state == StateCancelled
}

// Flatten cuts the region out of src at src's natural resolution.
func Flatten(src image.Image, r types.CropRegion, display types.DisplaySize) (*image.NRGBA, error) {
	b := src.Bounds()
	rect := NaturalRect(r, display, b.Size())
	if rect.Empty() {
		return nil, ErrNoContext
	}
	return imaging.Crop(src, rect.Add(b.Min)), nil
}

// Preview renders the region as it would look on a screen with the given
// device pixel ratio: the displayed extent times the ratio, sampled from the
// natural pixels.
func Preview(src image.Image, r types.CropRegion, display types.DisplaySize, pixelRatio float64) (*image.NRGBA, error) {
	if pixelRatio <= 0 {
		pixelRatio = 1
	}
	flat, err := Flatten(src, r, display)
	if err != nil {
		return nil, err
	}
	px := r.ToPixels(display)
	w := int(px.Width * pixelRatio)
	h := int(px.Height * pixelRatio)
	if w <= 0 || h <= 0 {
		return nil, ErrEmptyRegion
	}
	return imaging.Resize(flat, w, h, imaging.Lanczos), nil
}
