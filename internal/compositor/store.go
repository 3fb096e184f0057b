package compositor

import (
	"image"

	"github.com/corona10/goimagehash"

	"github.com/GriffinCanCode/greenscreen/internal/chroma"
	apperrors "github.com/GriffinCanCode/greenscreen/internal/errors"
)

// Background is an RGBA image owned by a Store. It is never mutated after
// construction; replacing the background swaps the whole value.
type Background struct {
	Pix    []byte
	Width  int
	Height int
	// Hash is a perceptual difference hash of the image, valid when Hashed.
	Hash   uint64
	Hashed bool
}

// NewBackground takes ownership of pix, which must hold width*height RGBA pixels.
func NewBackground(pix []byte, width, height int) (*Background, error) {
	if width <= 0 || height <= 0 {
		return nil, apperrors.Newf(apperrors.CodeInvalidBufferSize, "background dimensions %dx%d must be positive", width, height)
	}
	size, ok := BufferSize(width, height)
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeInvalidBufferSize, "background dimensions %dx%d are out of range", width, height)
	}
	if len(pix) != size {
		return nil, apperrors.Newf(apperrors.CodeInvalidBufferSize,
			"background buffer has %d bytes, want %d for %dx%d", len(pix), size, width, height)
	}
	bg := &Background{Pix: pix, Width: width, Height: height}
	if h, err := goimagehash.DifferenceHash(bg.Image()); err == nil {
		bg.Hash, bg.Hashed = h.GetHash(), true
	}
	return bg, nil
}

// Image views the background as an *image.NRGBA without copying.
func (b *Background) Image() *image.NRGBA {
	return &image.NRGBA{
		Pix:    b.Pix,
		Stride: b.Width * BytesPerPixel,
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}
}

// HashString formats the perceptual hash, or "" when none was computed.
func (b *Background) HashString() string {
	if !b.Hashed {
		return ""
	}
	return goimagehash.NewImageHash(b.Hash, goimagehash.DHash).ToString()
}

// SameAs reports whether two backgrounds are perceptually identical.
func (b *Background) SameAs(other *Background) bool {
	if b == nil || other == nil || !b.Hashed || !other.Hashed {
		return false
	}
	h1 := goimagehash.NewImageHash(b.Hash, goimagehash.DHash)
	h2 := goimagehash.NewImageHash(other.Hash, goimagehash.DHash)
	dist, err := h1.Distance(h2)
	return err == nil && dist == 0 && b.Width == other.Width && b.Height == other.Height
}

// Snapshot is an immutable view of the configuration for one compositing pass.
type Snapshot struct {
	Range          chroma.Range
	Tolerance      float64
	OffsetX        int
	OffsetY        int
	PreviewOverlay bool
	Background     *Background
}

// DefaultSnapshot returns the process-start configuration.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Range:     chroma.DefaultRange,
		Tolerance: DefaultTolerance,
	}
}

// Patch is a partial configuration update; nil fields are left unchanged.
type Patch struct {
	X              *int
	Y              *int
	PreviewOverlay *bool
	Tolerance      *float64
	DarkestChroma  *string
	LightestChroma *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.X == nil && p.Y == nil && p.PreviewOverlay == nil &&
		p.Tolerance == nil && p.DarkestChroma == nil && p.LightestChroma == nil
}

// Store holds the mutable configuration of one compositor. It is not safe for
// concurrent use; a single worker goroutine owns each Store.
type Store struct {
	cur Snapshot
}

// NewStore creates a store seeded with initial.
func NewStore(initial Snapshot) *Store {
	return &Store{cur: initial}
}

// SetBackground replaces the background wholesale.
func (s *Store) SetBackground(bg *Background) {
	s.cur.Background = bg
}

// ClearBackground removes the background. Idempotent.
func (s *Store) ClearBackground() {
	s.cur.Background = nil
}

// Update merges p into the configuration. Colors are parsed before anything
// is applied, so a bad color leaves the store unchanged.
func (s *Store) Update(p Patch) error {
	next := s.cur

	if p.DarkestChroma != nil {
		c, err := chroma.ParseHex(*p.DarkestChroma)
		if err != nil {
			return err
		}
		next.Range.Darkest = c
	}
	if p.LightestChroma != nil {
		c, err := chroma.ParseHex(*p.LightestChroma)
		if err != nil {
			return err
		}
		next.Range.Lightest = c
	}
	if p.X != nil {
		next.OffsetX = *p.X
	}
	if p.Y != nil {
		next.OffsetY = *p.Y
	}
	if p.PreviewOverlay != nil {
		next.PreviewOverlay = *p.PreviewOverlay
	}
	if p.Tolerance != nil {
		next.Tolerance = *p.Tolerance
	}

	s.cur = next
	return nil
}

// Snapshot returns the current configuration. The background is shared but
// immutable, so the snapshot stays valid after later updates.
func (s *Store) Snapshot() Snapshot {
	return s.cur
}
