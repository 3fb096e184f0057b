// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection sliding window for the WebSocket rate limit
	RateLimitWindow = time.Second

	// Deadline for writing one reply to a WebSocket client
	WriteTimeout = 5 * time.Second

	// Extra bytes allowed on top of the largest frame (envelope, base64 growth)
	MessageOverhead = 64 << 10

	// Limit for JSON request bodies on the REST API
	MaxJSONBody = 64 << 10
)
