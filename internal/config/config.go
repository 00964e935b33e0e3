// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Upload   UploadConfig
	Batch    BatchConfig
	Generate GenerateConfig
	Export   ExportConfig
	Session  SessionConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including running batches (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// UploadConfig holds limits for uploaded files.
type UploadConfig struct {
	// MaxFileSize is the largest participant CSV accepted, in bytes (default: 10MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"10485760"`

	// MaxImageSize is the largest background image accepted, in bytes (default: 15MB)
	MaxImageSize int64 `env:"UPLOAD_MAX_IMAGE_SIZE" default:"15728640"`

	// MaxImagePixels caps width*height of a background image (default: 40M)
	MaxImagePixels int64 `env:"UPLOAD_MAX_IMAGE_PIXELS" default:"40000000"`
}

// BatchConfig bounds generation and export batches.
type BatchConfig struct {
	// MaxConcurrent is the number of batches allowed to run at once (default: 2)
	MaxConcurrent int `env:"BATCH_MAX_CONCURRENT" default:"2"`

	// MaxWaitTime is how long a request waits for a batch slot (default: 30s)
	MaxWaitTime time.Duration `env:"BATCH_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration of one background batch (default: 30m)
	Timeout time.Duration `env:"BATCH_TIMEOUT" default:"30m"`
}

// GenerateConfig tunes barcode generation.
type GenerateConfig struct {
	// YieldEvery is the number of barcodes derived between yields (default: 10)
	YieldEvery int `env:"GENERATE_YIELD_EVERY" default:"10"`
}

// ExportConfig tunes card export.
type ExportConfig struct {
	// Scale is the rasterization multiplier (default: 6)
	Scale int `env:"EXPORT_SCALE" default:"6"`

	// YieldDelay is the pause after every exported card (default: 100ms)
	YieldDelay time.Duration `env:"EXPORT_YIELD_DELAY" default:"100ms"`

	// CompressionLevel is the DEFLATE level of the archive, 0-9 (default: 6)
	CompressionLevel int `env:"EXPORT_COMPRESSION_LEVEL" default:"6"`

	// ArchivePrefix starts every archive file name (default: marathon-bib-cards)
	ArchivePrefix string `env:"EXPORT_ARCHIVE_PREFIX" default:"marathon-bib-cards"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	// TTL is the idle time before a session expires (default: 2h)
	TTL time.Duration `env:"SESSION_TTL" default:"2h"`

	// SweepInterval is how often expired sessions are removed (default: 10m)
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" default:"10m"`

	// Max is the number of sessions held at once (default: 100)
	Max int `env:"SESSION_MAX" default:"100"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the sustained rate per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// Burst is the number of requests allowed above the sustained rate (default: 20)
	Burst int `env:"RATE_LIMIT_BURST" default:"20"`

	// BatchLimit is requests per minute for generate and export endpoints (default: 10)
	BatchLimit int `env:"RATE_LIMIT_BATCH" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey protects the /api routes with an X-API-Key header (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
