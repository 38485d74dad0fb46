package types

import (
	"errors"
	"fmt"
	"math"
)

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the center of the box in normalized coordinates
func (b Box) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Primary represents the primary subject detected in an image
type Primary struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
	Cx         float64 `json:"cx"`
	Cy         float64 `json:"cy"`
}

// AnalysisResult contains the complete analysis result from the vision model
type AnalysisResult struct {
	Primary     Primary  `json:"primary"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// Unit is the coordinate unit of a CropRegion
type Unit string

const (
	UnitPercent Unit = "%"
	UnitPixel   Unit = "px"
)

// ErrRegionOutOfRange is returned when a percent region leaves [0,100]
var ErrRegionOutOfRange = errors.New("crop region out of range")

// DisplaySize is the rendered size of an image or container in CSS pixels.
// Fractional sizes are legal (a 50% preview of 733px is 366.5px tall).
type DisplaySize struct {
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// Valid reports whether both dimensions are positive
func (d DisplaySize) Valid() bool {
	return d.W > 0 && d.H > 0
}

// CropRegion is a rectangle relative to the displayed image
type CropRegion struct {
	Unit   Unit    `json:"unit"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsEmpty reports whether the region has no area
func (r CropRegion) IsEmpty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Validate checks the percent invariant; pixel regions are bounded by the
// displayed size and are checked by ToPixels callers instead.
func (r CropRegion) Validate() error {
	if r.Unit != UnitPercent {
		return nil
	}
	for _, v := range []float64{r.X, r.Y, r.Width, r.Height} {
		if v < 0 || v > 100 || math.IsNaN(v) {
			return fmt.Errorf("%w: %+v", ErrRegionOutOfRange, r)
		}
	}
	return nil
}

// ToPixels expresses the region in displayed pixels
func (r CropRegion) ToPixels(d DisplaySize) CropRegion {
	if r.Unit != UnitPercent {
		r.Unit = UnitPixel
		return r
	}
	return CropRegion{
		Unit:   UnitPixel,
		X:      d.W * r.X / 100,
		Y:      d.H * r.Y / 100,
		Width:  d.W * r.Width / 100,
		Height: d.H * r.Height / 100,
	}
}

// ToPercent expresses the region as percentages of the displayed size
func (r CropRegion) ToPercent(d DisplaySize) CropRegion {
	if r.Unit == UnitPercent || !d.Valid() {
		return r
	}
	return CropRegion{
		Unit:   UnitPercent,
		X:      r.X * 100 / d.W,
		Y:      r.Y * 100 / d.H,
		Width:  r.Width * 100 / d.W,
		Height: r.Height * 100 / d.H,
	}
}

// CardFields carries the identity text printed on a card
type CardFields struct {
	MemberID   string `json:"member_id"`
	FullName   string `json:"full_name"`
	SchoolName string `json:"school_name"`
	Year       string `json:"year"`
	Stream     string `json:"stream"`
}

// YearStream is the combined "year - stream" line of the text block
func (f CardFields) YearStream() string {
	switch {
	case f.Year == "":
		return f.Stream
	case f.Stream == "":
		return f.Year
	default:
		return f.Year + " Year - " + f.Stream
	}
}

// Artifact is an encoded image produced once and never mutated
type Artifact struct {
	Data   []byte `json:"-"`
	MIME   string `json:"mime"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Size returns the encoded size in bytes
func (a *Artifact) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}
