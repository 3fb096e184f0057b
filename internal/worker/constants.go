// Package worker runs compositing off the caller's goroutine
package worker

// Worker configuration defaults
const (
	// Pending commands buffered per worker
	DefaultQueueSize = 8

	// Largest accepted frame (4K UHD)
	DefaultMaxFramePixels = 3840 * 2160
)
