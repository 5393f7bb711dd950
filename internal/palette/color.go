package palette

import (
	"image/color"
	"math"

	"github.com/bardplayer/bard/internal/domain"
)

// channels returns the pixel's RGB channels as floats in [0, 1]
func channels(c color.Color) (float64, float64, float64) {
	r, g, b, _ := c.RGBA()
	return float64(r>>8) / 255, float64(g>>8) / 255, float64(b>>8) / 255
}

// desaturate reduces saturation by amount via HSV
func desaturate(c domain.RGB, amount float64) domain.RGB {
	h, s, v := rgbToHSV(c.R, c.G, c.B)
	r, g, b := hsvToRGB(h, s*(1-amount), v)
	return domain.RGB{R: r, G: g, B: b}
}

// darken multiplies all channels by factor
func darken(c domain.RGB, factor float64) domain.RGB {
	return domain.RGB{R: c.R * factor, G: c.G * factor, B: c.B * factor}
}

func rgbToHSV(r, g, b float64) (h, s, v float64) {
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	delta := max - min

	switch {
	case delta == 0:
		h = 0
	case max == r:
		h = 60 * math.Mod((g-b)/delta, 6)
	case max == g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}

	if max > 0 {
		s = delta / max
	}
	return h, s, max
}

func hsvToRGB(h, s, v float64) (float64, float64, float64) {
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	var r, g, b float64
	switch int(h) / 60 {
	case 0:
		r, g, b = c, x, 0
	case 1:
		r, g, b = x, c, 0
	case 2:
		r, g, b = 0, c, x
	case 3:
		r, g, b = 0, x, c
	case 4:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return r + m, g + m, b + m
}
