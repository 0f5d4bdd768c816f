// Todograph - todo backend with a relational system of record and a graph mirror
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validTestConfig returns a default config patched to pass validation.
func validTestConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.JWTSecret = strings.Repeat("s", 32)
	return cfg
}

func TestDefaultConfig_ValidatesWithSecret(t *testing.T) {
	cfg := validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults (with secret) to validate, got %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"empty graph uri", func(c *Config) { c.Graph.URI = "" }, "graph.uri"},
		{"zero write timeout", func(c *Config) { c.Graph.WriteTimeout = 0 }, "graph.write_timeout"},
		{"zero breaker failures", func(c *Config) { c.Graph.BreakerFailures = 0 }, "graph.breaker_failures"},
		{"zero sync interval", func(c *Config) { c.Sync.Interval = 0 }, "sync.interval"},
		{"zero max retries", func(c *Config) { c.Sync.MaxRetries = 0 }, "sync.max_retries"},
		{"backoff inversion", func(c *Config) { c.Sync.MaxBackoff = c.Sync.InitialBackoff / 2 }, "sync.max_backoff"},
		{"short jwt secret", func(c *Config) { c.Security.JWTSecret = "short" }, "jwt_secret"},
		{"bcrypt cost too low", func(c *Config) { c.Security.BcryptCost = 2 }, "bcrypt_cost"},
		{"bad page sizes", func(c *Config) { c.API.MaxPageSize = 1 }, "page sizes"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q, got nil", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", strings.Repeat("x", 32))
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("NEO4J_URI", "bolt://graph.internal:7687")
	t.Setenv("SYNC_MAX_RETRIES", "7")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("expected HTTP_PORT override, got %d", cfg.Server.Port)
	}
	if cfg.Graph.URI != "bolt://graph.internal:7687" {
		t.Errorf("expected NEO4J_URI override, got %q", cfg.Graph.URI)
	}
	if cfg.Sync.MaxRetries != 7 {
		t.Errorf("expected SYNC_MAX_RETRIES override, got %d", cfg.Sync.MaxRetries)
	}
	if len(cfg.Security.CORSOrigins) != 2 || cfg.Security.CORSOrigins[1] != "https://b.example" {
		t.Errorf("expected comma-split CORS origins, got %v", cfg.Security.CORSOrigins)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 4242
sync:
  interval: 5s
graph:
  uri: bolt://filehost:7687
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("JWT_SECRET", strings.Repeat("x", 32))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 4242 {
		t.Errorf("expected file port 4242, got %d", cfg.Server.Port)
	}
	if cfg.Sync.Interval != 5*time.Second {
		t.Errorf("expected file sync interval 5s, got %s", cfg.Sync.Interval)
	}
	if cfg.Graph.URI != "bolt://filehost:7687" {
		t.Errorf("expected file graph uri, got %q", cfg.Graph.URI)
	}
}

func TestLoad_MissingSecretFails(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "nope.yaml"))
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected Load to fail without JWT secret")
	}
}

func TestEnvTransformFunc_UnmappedSkipped(t *testing.T) {
	if got := envTransformFunc("PATH"); got != "" {
		t.Errorf("expected unmapped env var to be skipped, got %q", got)
	}
	if got := envTransformFunc("NEO4J_PASSWORD"); got != "graph.password" {
		t.Errorf("envTransformFunc(NEO4J_PASSWORD) = %q", got)
	}
}
