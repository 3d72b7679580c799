// Package config provides centralized configuration management for sheetpreview.
// Configuration is read from environment variables, a .env file and an optional
// YAML file, with defaults for everything except secrets. Load validates the
// result so misconfiguration fails at startup.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Ingest  IngestConfig
	Admin   AdminConfig
	Logging LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 127.0.0.1)
	Host string `env:"SERVER_HOST" default:"127.0.0.1"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading the request (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response, exports included (default: 5m)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"5m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds preview requests (default: 30s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"30s"`
}

// StorageConfig holds the preview database settings.
type StorageConfig struct {
	// Path is the SQLite database file (default: data_preview.sqlite)
	Path string `env:"SQLITE_DB" default:"data_preview.sqlite"`
}

// IngestConfig holds dataset ingestion settings.
type IngestConfig struct {
	// Root is the directory scanned for dataset files (default: data)
	Root string `env:"DATA_PREVIEW_ROOT" default:"data"`

	// BatchSize is the number of rows per INSERT statement (default: 500)
	BatchSize int `env:"INGEST_BATCH_SIZE" default:"500"`

	// Parallelism is the number of dataset files ingested concurrently (default: 4)
	Parallelism int `env:"INGEST_PARALLELISM" default:"4"`

	// Strategy is the table refresh strategy: swap or truncate (default: swap)
	Strategy string `env:"INGEST_STRATEGY" default:"swap"`

	// Timeout bounds one ingestion run (default: 10m)
	Timeout time.Duration `env:"INGEST_TIMEOUT" default:"10m"`
}

// AdminConfig holds settings of the admin ingestion endpoint.
type AdminConfig struct {
	// SharedSecret is compared with the X-Admin-Secret header. When empty,
	// only loopback clients may trigger ingestion.
	SharedSecret string `env:"ADMIN_SHARED_SECRET"`

	// RatePerMinute limits ingestion triggers across all clients (default: 6)
	RatePerMinute int `env:"ADMIN_RATE_PER_MINUTE" default:"6"`

	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Real-IP / X-Forwarded-For headers are believed
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
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
