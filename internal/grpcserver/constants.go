// Package grpcserver serves the compositor configuration, health, and reflection services over gRPC
package grpcserver

import "time"

// ServiceName names the configuration service and its health entry.
const ServiceName = "greenscreen.Compositor"

// Server configuration defaults
const (
	// Keepalive configuration
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	// Health check configuration
	DefaultHealthCheckInterval = 5 * time.Second
	HealthCheckTimeout         = 2 * time.Second
)
