// Package vision locates the likely subject of a photo without a model,
// from edge strength and brightness.
package vision

import (
	"context"
	"errors"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/menta2k/membercard/pkg/crop"
	"github.com/menta2k/membercard/pkg/types"
)

// ErrNoRegion is returned when nothing in the image stands out
var ErrNoRegion = errors.New("vision: no salient region")

// SubjectDetector scores sliding windows over a saliency map
type SubjectDetector struct {
	config DetectionConfig
}

// DetectionConfig holds configuration for subject detection
type DetectionConfig struct {
	EdgeThreshold   float64
	ContrastWeight  float64
	ColorWeight     float64
	MinSubjectRatio float64
	// MaxSide bounds the working copy; saliency is computed on a thumbnail.
	MaxSide int
}

// DefaultConfig returns the detector defaults
func DefaultConfig() DetectionConfig {
	return DetectionConfig{
		EdgeThreshold:   0.01,
		ContrastWeight:  0.3,
		ColorWeight:     0.2,
		MinSubjectRatio: 0.01,
		MaxSide:         256,
	}
}

// New creates a new SubjectDetector with default configuration
func New() *SubjectDetector {
	return &SubjectDetector{config: DefaultConfig()}
}

// NewWithConfig creates a new SubjectDetector with custom configuration
func NewWithConfig(config DetectionConfig) *SubjectDetector {
	return &SubjectDetector{config: config}
}

// Region represents a rectangular region of interest in thumbnail pixels
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float64
}

// Center returns the center point of the region
func (r Region) Center() (int, int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Area returns the area of the region
func (r Region) Area() int {
	return r.Width * r.Height
}

// DetectSubjects returns up to ten regions of interest, best first, in the
// coordinates of the thumbnail whose size is also returned.
func (d *SubjectDetector) DetectSubjects(img image.Image) ([]Region, image.Point) {
	thumb := img
	if d.config.MaxSide > 0 {
		b := img.Bounds()
		if b.Dx() > d.config.MaxSide || b.Dy() > d.config.MaxSide {
			thumb = imaging.Fit(img, d.config.MaxSide, d.config.MaxSide, imaging.Box)
		}
	}
	size := thumb.Bounds().Size()

	saliencyMap := d.calculateSaliencyMap(thumb)
	regions := d.findImportantRegions(saliencyMap, size.X, size.Y)
	regions = d.filterAndScoreRegions(regions, size.X, size.Y)
	if len(regions) > 10 {
		regions = regions[:10]
	}
	return regions, size
}

// Locate returns the normalized box of the best scoring region.
func (d *SubjectDetector) Locate(ctx context.Context, img image.Image) (types.Box, error) {
	if err := ctx.Err(); err != nil {
		return types.Box{}, err
	}
	regions, size := d.DetectSubjects(img)
	if len(regions) == 0 || size.X == 0 || size.Y == 0 {
		return types.Box{}, ErrNoRegion
	}
	best := regions[0]
	return types.Box{
		X: float64(best.X) / float64(size.X),
		Y: float64(best.Y) / float64(size.Y),
		W: float64(best.Width) / float64(size.X),
		H: float64(best.Height) / float64(size.Y),
	}, nil
}

func (d *SubjectDetector) calculateSaliencyMap(img image.Image) [][]float64 {
	src := imaging.Clone(img)
	width, height := src.Bounds().Dx(), src.Bounds().Dy()

	saliencyMap := make([][]float64, height)
	for i := range saliencyMap {
		saliencyMap[i] = make([]float64, width)
	}

	at := func(x, y int) (float64, float64, float64) {
		i := src.PixOffset(x, y)
		return float64(src.Pix[i]), float64(src.Pix[i+1]), float64(src.Pix[i+2])
	}
	neighbors := [8][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			r1, g1, b1 := at(x, y)

			var edgeStrength float64
			for _, off := range neighbors {
				r2, g2, b2 := at(x+off[0], y+off[1])
				dr, dg, db := r1-r2, g1-g2, b1-b2
				edgeStrength += math.Sqrt(dr*dr + dg*dg + db*db)
			}
			edgeStrength /= 8 * 255

			brightness := (r1 + g1 + b1) / (3 * 255)
			saliencyMap[y][x] = d.config.ContrastWeight*edgeStrength + d.config.ColorWeight*brightness
		}
	}

	return saliencyMap
}

func (d *SubjectDetector) findImportantRegions(saliencyMap [][]float64, width, height int) []Region {
	var regions []Region

	// Square windows; portraits are roughly as wide as tall at this scale
	minSide := min(width, height)
	for _, windowSize := range []int{minSide / 8, minSide / 6, minSide / 4, minSide / 3} {
		if windowSize < 8 {
			continue
		}
		step := max(windowSize/8, 1)
		for y := 0; y <= height-windowSize; y += step {
			for x := 0; x <= width-windowSize; x += step {
				score := calculateRegionScore(saliencyMap, x, y, windowSize, windowSize)
				if score > d.config.EdgeThreshold {
					regions = append(regions, Region{X: x, Y: y, Width: windowSize, Height: windowSize, Score: score})
				}
			}
		}
	}

	return regions
}

func calculateRegionScore(saliencyMap [][]float64, x, y, width, height int) float64 {
	var totalScore float64
	count := 0

	for ry := y; ry < y+height && ry < len(saliencyMap); ry++ {
		for rx := x; rx < x+width && rx < len(saliencyMap[ry]); rx++ {
			totalScore += saliencyMap[ry][rx]
			count++
		}
	}

	if count == 0 {
		return 0
	}
	return totalScore / float64(count)
}

func (d *SubjectDetector) filterAndScoreRegions(regions []Region, imageWidth, imageHeight int) []Region {
	minArea := int(float64(imageWidth*imageHeight) * d.config.MinSubjectRatio)

	filtered := regions[:0]
	for _, region := range regions {
		if region.Area() >= minArea {
			filtered = append(filtered, region)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })
	return filtered
}

// Chain tries each locator in order and returns the first box found.
type Chain []crop.SubjectLocator

func (c Chain) Locate(ctx context.Context, img image.Image) (types.Box, error) {
	var errs []error
	for _, l := range c {
		box, err := l.Locate(ctx, img)
		if err == nil {
			return box, nil
		}
		if ctx.Err() != nil {
			return types.Box{}, ctx.Err()
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return types.Box{}, ErrNoRegion
	}
	return types.Box{}, errors.Join(errs...)
}
