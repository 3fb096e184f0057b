// Package chroma provides the color primitives used by the greenscreen decision rule
package chroma

import (
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/GriffinCanCode/greenscreen/internal/errors"
)

// MaxDistance is the largest possible summed channel distance (255 per channel).
const MaxDistance = 255 * 3

// RGB is an 8-bit color triple.
type RGB struct {
	R, G, B uint8
}

// String formats the color as #rrggbb.
func (c RGB) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Range is the inclusive box of colors treated as background-colored.
// Darkest <= Lightest per channel is expected but not enforced.
type Range struct {
	Darkest  RGB
	Lightest RGB
}

// DefaultRange matches a typical green screen.
var DefaultRange = Range{
	Darkest:  RGB{R: 0, G: 30, B: 0},
	Lightest: RGB{R: 0, G: 255, B: 0},
}

// ParseHex parses "#rrggbb" or "rrggbb" into an RGB triple.
func ParseHex(s string) (RGB, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 {
		return RGB{}, apperrors.Newf(apperrors.CodeInvalidColorFormat, "color %q must have 6 hex digits", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return RGB{}, apperrors.Wrapf(err, apperrors.CodeInvalidColorFormat, "color %q is not hexadecimal", s)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// ChannelDistance returns how far v lies outside [lo, hi], or 0 inside it.
func ChannelDistance(v, lo, hi uint8) int {
	switch {
	case v < lo:
		return int(lo) - int(v)
	case v > hi:
		return int(v) - int(hi)
	default:
		return 0
	}
}

// Distance returns the summed channel distance of (r, g, b) from the range.
func (rg Range) Distance(r, g, b uint8) int {
	return ChannelDistance(r, rg.Darkest.R, rg.Lightest.R) +
		ChannelDistance(g, rg.Darkest.G, rg.Lightest.G) +
		ChannelDistance(b, rg.Darkest.B, rg.Lightest.B)
}

// Normalized returns Distance scaled into [0, 1].
func (rg Range) Normalized(r, g, b uint8) float64 {
	return float64(rg.Distance(r, g, b)) / MaxDistance
}
