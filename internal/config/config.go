// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config holds the layered Koanf-based configuration for Todograph.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Graph    GraphConfig    `koanf:"graph"`
	Sync     SyncConfig     `koanf:"sync"`
	Security SecurityConfig `koanf:"security"`
	API      APIConfig      `koanf:"api"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`          // read/write timeouts
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"` // graceful shutdown wait
}

// DatabaseConfig holds settings for the DuckDB system of record.
type DatabaseConfig struct {
	Path      string `koanf:"path"`       // database file path; empty means in-memory
	MaxMemory string `koanf:"max_memory"` // DuckDB memory limit (e.g. "1GB")
	Threads   int    `koanf:"threads"`    // 0 = runtime.NumCPU()
}

// GraphConfig holds settings for the Neo4j graph mirror.
type GraphConfig struct {
	URI      string `koanf:"uri"`      // bolt://host:7687
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// WriteTimeout bounds each synchronous mirror write so a slow or
	// unreachable graph store cannot stall a mutation response.
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// Circuit breaker: after BreakerFailures consecutive failures the
	// breaker opens for BreakerCooldown and synchronous mirror writes are
	// skipped; the reconciler remains the only retry path while open.
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`
}

// SyncConfig holds settings for the synchronizer and its reconciler.
type SyncConfig struct {
	QueuePath      string        `koanf:"queue_path"`      // badger dir for the pending queue; empty means in-memory
	Interval       time.Duration `koanf:"interval"`        // reconcile sweep period
	MaxRetries     int           `koanf:"max_retries"`     // attempts before dead-letter
	InitialBackoff time.Duration `koanf:"initial_backoff"` // first retry delay
	MaxBackoff     time.Duration `koanf:"max_backoff"`     // backoff cap
	RatePerSecond  float64       `koanf:"rate_per_second"` // mirror writes per second during a sweep; 0 = unlimited
}

// SecurityConfig holds authentication settings.
type SecurityConfig struct {
	JWTSecret       string        `koanf:"jwt_secret"`
	SessionTimeout  time.Duration `koanf:"session_timeout"`
	BcryptCost      int           `koanf:"bcrypt_cost"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`   // requests per window per IP
	RateLimitWindow time.Duration `koanf:"rate_limit_window"` //
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// APIConfig holds API behavior settings.
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for invalid or dangerous values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}

	if c.Graph.URI == "" {
		return fmt.Errorf("graph.uri is required")
	}
	if c.Graph.WriteTimeout <= 0 {
		return fmt.Errorf("graph.write_timeout must be positive, got %s", c.Graph.WriteTimeout)
	}
	if c.Graph.BreakerFailures == 0 {
		return fmt.Errorf("graph.breaker_failures must be positive")
	}

	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval)
	}
	if c.Sync.MaxRetries <= 0 {
		return fmt.Errorf("sync.max_retries must be positive, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.InitialBackoff <= 0 {
		return fmt.Errorf("sync.initial_backoff must be positive, got %s", c.Sync.InitialBackoff)
	}
	if c.Sync.MaxBackoff < c.Sync.InitialBackoff {
		return fmt.Errorf("sync.max_backoff must be >= sync.initial_backoff")
	}

	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters")
	}
	if c.Security.BcryptCost < 4 || c.Security.BcryptCost > 31 {
		return fmt.Errorf("security.bcrypt_cost must be between 4 and 31, got %d", c.Security.BcryptCost)
	}

	if c.API.DefaultPageSize <= 0 || c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("api page sizes invalid: default=%d max=%d", c.API.DefaultPageSize, c.API.MaxPageSize)
	}

	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	return nil
}

// Addr returns the server listen address in host:port form.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
