// Package compositor implements chroma-key configuration and frame compositing
package compositor

// Compositor constants
const (
	// Bytes per RGBA pixel
	BytesPerPixel = 4

	// Default maximum normalized distance that still counts as replaceable
	DefaultTolerance = 0.05
)
