// Package palette derives background gradient colors from album art.
package palette

import (
	"image"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/bardplayer/bard/internal/domain"
)

const (
	// downscale targets keep extraction cheap without changing the result
	// visibly; nearest keeps quadrant averages deterministic
	gradientSampleSize = 80
	dominantSampleSize = 150

	// pixels darker or brighter than these channel sums are excluded so
	// black borders and white text do not dominate the average
	minChannelSum = 50
	maxChannelSum = 700

	gradientDesaturate = 0.10
	gradientDarken     = 0.65

	dominantDesaturate = 0.60
	dominantDarken     = 0.30
)

// fallback corner color for fully filtered (solid black/white) quadrants
var fallbackCorner = domain.RGB{R: 0.2, G: 0.15, B: 0.2}

// fallback accent for fully filtered images
var fallbackAccent = domain.RGB{R: 0.4, G: 0.3, B: 0.35}

// Extractor computes gradient descriptors from decoded album art
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor creates a new palette extractor
func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract partitions the art into four quadrants, averages each one with
// near-black and near-white pixels excluded, and desaturates/darkens the
// result into the gradient's corner colors. Deterministic: the same art
// always yields bit-identical output. Degenerate input yields a valid
// low-contrast descriptor, never an error.
func (e *Extractor) Extract(art *domain.AlbumArt) domain.GradientDescriptor {
	if art == nil || art.Image == nil {
		return domain.GradientDescriptor{
			Corners: [4]domain.RGB{fallbackCorner, fallbackCorner, fallbackCorner, fallbackCorner},
			Accent:  fallbackAccent,
		}
	}

	desc := domain.GradientDescriptor{Accent: e.dominant(art.Image)}

	img := imaging.Resize(art.Image, gradientSampleSize, gradientSampleSize, imaging.NearestNeighbor)
	bounds := img.Bounds()
	midX := bounds.Min.X + bounds.Dx()/2
	midY := bounds.Min.Y + bounds.Dy()/2

	// per-quadrant sums, filtered and unfiltered
	type acc struct {
		r, g, b float64
		n       float64
	}
	var filtered, all [4]acc

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b := channels(img.At(x, y))

			qi := 0
			if x >= midX {
				qi = 1
			}
			if y >= midY {
				qi += 2
			}

			all[qi].r += r
			all[qi].g += g
			all[qi].b += b
			all[qi].n++

			sum := (r + g + b) * 255
			if sum < minChannelSum || sum > maxChannelSum {
				continue
			}
			filtered[qi].r += r
			filtered[qi].g += g
			filtered[qi].b += b
			filtered[qi].n++
		}
	}

	for i := 0; i < 4; i++ {
		q := filtered[i]
		if q.n == 0 {
			// quadrant is all near-black or near-white; the unfiltered
			// mean still gives a usable low-contrast color
			q = all[i]
		}
		if q.n == 0 {
			desc.Corners[i] = fallbackCorner
			continue
		}
		c := domain.RGB{R: q.r / q.n, G: q.g / q.n, B: q.b / q.n}
		desc.Corners[i] = darken(desaturate(c, gradientDesaturate), gradientDarken)
	}

	return desc
}

// dominant computes the whole-image filtered mean used as accent color
func (e *Extractor) dominant(src image.Image) domain.RGB {
	img := imaging.Resize(src, dominantSampleSize, dominantSampleSize, imaging.NearestNeighbor)
	bounds := img.Bounds()

	var r, g, b, n float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			pr, pg, pb := channels(img.At(x, y))
			sum := (pr + pg + pb) * 255
			if sum < minChannelSum || sum > maxChannelSum {
				continue
			}
			r += pr
			g += pg
			b += pb
			n++
		}
	}
	if n == 0 {
		return fallbackAccent
	}
	c := domain.RGB{R: r / n, G: g / n, B: b / n}
	return darken(desaturate(c, dominantDesaturate), dominantDarken)
}
