package compositor

import (
	"math"

	apperrors "github.com/GriffinCanCode/greenscreen/internal/errors"
)

// Rows is a half-open band [Min, Max) of foreground frame rows.
type Rows struct {
	Min, Max int
}

// AllRows covers every row of a frame of the given height.
func AllRows(height int) Rows {
	return Rows{Min: 0, Max: height}
}

// Stats describes one compositing pass.
type Stats struct {
	Visited  int // background pixels that landed inside the frame
	Replaced int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Visited += o.Visited
	s.Replaced += o.Replaced
}

// BufferSize returns width*height*BytesPerPixel, or false when either
// dimension is negative or the product does not fit in an int.
func BufferSize(width, height int) (int, bool) {
	if width < 0 || height < 0 {
		return 0, false
	}
	if width > 0 && height > math.MaxInt/BytesPerPixel/width {
		return 0, false
	}
	return width * height * BytesPerPixel, true
}

// CheckFrame validates that fg holds width*height RGBA pixels.
func CheckFrame(fg []byte, width, height int) error {
	size, ok := BufferSize(width, height)
	if !ok {
		return apperrors.Newf(apperrors.CodeInvalidBufferSize, "frame dimensions %dx%d are out of range", width, height)
	}
	if len(fg) != size {
		return apperrors.Newf(apperrors.CodeInvalidBufferSize,
			"frame buffer has %d bytes, want %d for %dx%d", len(fg), size, width, height)
	}
	return nil
}

// Composite returns a new frame where foreground pixels close to the chroma
// range are replaced by the background placed at the configured offset.
// fg is never modified.
func Composite(fg []byte, width, height int, snap Snapshot) ([]byte, Stats, error) {
	if err := CheckFrame(fg, width, height); err != nil {
		return nil, Stats{}, err
	}
	out := make([]byte, len(fg))
	copy(out, fg)
	stats := ApplyRows(out, width, height, snap, AllRows(height))
	return out, stats, nil
}

// ApplyRows composites in place, touching only frame rows inside rows. The
// loop is driven by the background extent; background pixels that map
// outside the frame are dropped. frame must already satisfy CheckFrame.
func ApplyRows(frame []byte, width, height int, snap Snapshot, rows Rows) Stats {
	var stats Stats
	bg := snap.Background
	if bg == nil {
		return stats
	}

	// Clip the background footprint to the frame and to the requested band.
	bx0, bx1 := clip(snap.OffsetX, bg.Width, 0, width)
	by0, by1 := clip(snap.OffsetY, bg.Height, max(rows.Min, 0), min(rows.Max, height))
	if bx0 >= bx1 || by0 >= by1 {
		return stats
	}

	rg := snap.Range
	for by := by0; by < by1; by++ {
		fy := by + snap.OffsetY
		src := bg.Pix[by*bg.Width*BytesPerPixel:]
		dst := frame[fy*width*BytesPerPixel:]
		for bx := bx0; bx < bx1; bx++ {
			fi := (bx + snap.OffsetX) * BytesPerPixel
			stats.Visited++
			if !snap.PreviewOverlay && rg.Normalized(dst[fi], dst[fi+1], dst[fi+2]) >= snap.Tolerance {
				continue
			}
			bi := bx * BytesPerPixel
			copy(dst[fi:fi+BytesPerPixel], src[bi:bi+BytesPerPixel])
			stats.Replaced++
		}
	}
	return stats
}

// clip returns the background index range [b0, b1) whose destination
// offset+b falls within [lo, hi).
func clip(offset, size, lo, hi int) (int, int) {
	b0 := max(lo-offset, 0)
	b1 := min(hi-offset, size)
	return b0, b1
}
