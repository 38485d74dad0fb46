// Package detection asks a vision model where the person in a portrait is,
// so the default crop region can be centered on them.
package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/membercard/pkg/client"
	"github.com/menta2k/membercard/pkg/imageio"
	"github.com/menta2k/membercard/pkg/types"
)

// ErrNoSubject is returned when the model found nobody usable
var ErrNoSubject = errors.New("detection: no subject found")

// DefaultPrompt asks for the head and shoulders of the person in the photo
const DefaultPrompt = `You locate the person in an ID photo.

Return JSON only:
{
  "primary": {
    "label": "person",
    "confidence": 0.0,
    "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
    "cx": 0.0,
    "cy": 0.0
  },
  "description": "short neutral sentence",
  "tags": ["tag1", "tag2"]
}

RULES
- Coordinates are normalized to [0,1] (NOT pixels), origin top-left.
- The box covers the face and shoulders of the main person.
- Do not guess identities.
- If there is no person, return label "none" with confidence 0.
- JSON only. No markdown, no code fences, no comments.`

// Config controls detection
type Config struct {
	Model         string  `json:"model" yaml:"model"`
	Prompt        string  `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	MaxSide       int     `json:"max_side" yaml:"max_side"`
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
}

// DefaultConfig returns settings for a small local vision model
func DefaultConfig() Config {
	return Config{
		Model:         "minicpm-v",
		Prompt:        DefaultPrompt,
		MaxSide:       768,
		MinConfidence: 0.3,
	}
}

// Detector handles subject detection using vision models
type Detector struct {
	client client.VisionClient
	cfg    Config
}

// NewDetector creates a new detector with a vision client
func NewDetector(c client.VisionClient, cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Prompt == "" {
		cfg.Prompt = def.Prompt
	}
	if cfg.MaxSide <= 0 {
		cfg.MaxSide = def.MaxSide
	}
	return &Detector{client: c, cfg: cfg}
}

// Detect sends a downscaled copy of img to the model and parses the answer
func (d *Detector) Detect(ctx context.Context, img image.Image) (*types.AnalysisResult, error) {
	small := imaging.Fit(img, d.cfg.MaxSide, d.cfg.MaxSide, imaging.Lanczos)
	data, err := imageio.EncodeBytes(small, imageio.FormatJPEG, 85)
	if err != nil {
		return nil, fmt.Errorf("detection: encode image: %w", err)
	}

	raw, err := d.client.Chat(ctx, d.cfg.Model, d.cfg.Prompt, data)
	if err != nil {
		return nil, fmt.Errorf("detection: %w", err)
	}

	result := parseAnalysisResult(raw)
	result.Primary.Box = normalizeBox(result.Primary.Box)
	result.Tags = normalizeTags(result.Tags)
	return validateResult(result), nil
}

// Locate returns the normalized box of the person in img
func (d *Detector) Locate(ctx context.Context, img image.Image) (types.Box, error) {
	result, err := d.Detect(ctx, img)
	if err != nil {
		return types.Box{}, err
	}
	p := result.Primary
	if p.Label == "none" || p.Confidence < d.cfg.MinConfidence || p.Box.W <= 0 || p.Box.H <= 0 {
		return types.Box{}, fmt.Errorf("%w: label %q confidence %.2f", ErrNoSubject, p.Label, p.Confidence)
	}
	return p.Box, nil
}

// validateResult marks fallback answers as "none" and fills a missing center
func validateResult(result *types.AnalysisResult) *types.AnalysisResult {
	label := strings.ToLower(result.Primary.Label)
	if label == "none" {
		result.Primary.Label = "none"
		result.Primary.Confidence = 0
		return result
	}

	fallbackIndicators := []string{"unclear", "parse", "error", "fallback", "non-json"}
	for _, indicator := range fallbackIndicators {
		if strings.Contains(label, indicator) {
			result.Primary.Label = "none"
			result.Primary.Confidence = 0
			return result
		}
	}

	if result.Primary.Cx == 0 && result.Primary.Cy == 0 {
		result.Primary.Cx, result.Primary.Cy = result.Primary.Box.Center()
	}
	return result
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// normalizeBox keeps the box inside the unit square. Boxes clearly given in
// percent are scaled down first.
func normalizeBox(b types.Box) types.Box {
	if b.X > 1 || b.Y > 1 || b.W > 1 || b.H > 1 {
		if b.X <= 100 && b.Y <= 100 && b.W <= 100 && b.H <= 100 {
			b = types.Box{X: b.X / 100, Y: b.Y / 100, W: b.W / 100, H: b.H / 100}
		}
	}
	x := clamp(b.X, 0, 1)
	y := clamp(b.Y, 0, 1)
	return types.Box{
		X: x,
		Y: y,
		W: clamp(b.W, 0, 1-x),
		H: clamp(b.H, 0, 1-y),
	}
}

// normalizeTags ensures tags are cleaned and limited to 5 entries
func normalizeTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 5)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == 5 {
			break
		}
	}
	return out
}
