// Package config handles process configuration
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/greenscreen/internal/chroma"
	"github.com/GriffinCanCode/greenscreen/internal/compositor"
)

type Config struct {
	HTTPAddr       string
	GRPCAddr       string
	LogLevel       slog.Level
	DarkestChroma  string
	LightestChroma string
	Tolerance      float64
	Workers        int
	QueueSize      int
	MaxFramePixels int
	WSRateLimit    int // messages per second per connection
	MaxUploadBytes int64
}

func Load() *Config {
	return &Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8000"),
		GRPCAddr:       getEnv("GRPC_ADDR", ":50061"),
		LogLevel:       getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		DarkestChroma:  getEnv("DARKEST_CHROMA", chroma.DefaultRange.Darkest.String()),
		LightestChroma: getEnv("LIGHTEST_CHROMA", chroma.DefaultRange.Lightest.String()),
		Tolerance:      getEnvFloat("CHROMA_TOLERANCE", compositor.DefaultTolerance),
		Workers:        getEnvInt("COMPOSITOR_WORKERS", 1),
		QueueSize:      getEnvInt("COMMAND_QUEUE_SIZE", 8),
		MaxFramePixels: getEnvInt("MAX_FRAME_PIXELS", 3840*2160),
		WSRateLimit:    getEnvInt("WS_RATE_LIMIT", 240),
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 32<<20)),
	}
}

// InitialSnapshot is the configuration every ConfigStore replica starts from.
// Unparseable colors fall back to the built-in range.
func (c *Config) InitialSnapshot() compositor.Snapshot {
	snap := compositor.DefaultSnapshot()
	snap.Tolerance = c.Tolerance

	if d, err := chroma.ParseHex(c.DarkestChroma); err == nil {
		snap.Range.Darkest = d
	} else {
		slog.Warn("invalid DARKEST_CHROMA, using default", "value", c.DarkestChroma, "error", err)
	}
	if l, err := chroma.ParseHex(c.LightestChroma); err == nil {
		snap.Range.Lightest = l
	} else {
		slog.Warn("invalid LIGHTEST_CHROMA, using default", "value", c.LightestChroma, "error", err)
	}
	return snap
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvLevel(key string, def slog.Level) slog.Level {
	if v := os.Getenv(key); v != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(strings.ToUpper(v))); err == nil {
			return l
		}
	}
	return def
}
