// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies that defaultConfig() returns proper defaults
func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Params.Port != 80 {
		t.Errorf("Params.Port = %d, want 80", cfg.Params.Port)
	}
	if !cfg.Params.VerboseLog || !cfg.Params.DownloadPasswordOnly || !cfg.Params.PublishPasswordChecksum {
		t.Errorf("params flags = %+v, want all enabled", cfg.Params)
	}
	if cfg.Params.DownloadSpeedLimit != 1000000 {
		t.Errorf("Params.DownloadSpeedLimit = %d, want 1e6", cfg.Params.DownloadSpeedLimit)
	}
	if cfg.Server.IdleTimeout != 5*time.Minute {
		t.Errorf("Server.IdleTimeout = %v, want 5m", cfg.Server.IdleTimeout)
	}
	if cfg.Upstream.Timeout != 5*time.Second || cfg.Upstream.BreakerFailures != 5 {
		t.Errorf("Upstream = %+v", cfg.Upstream)
	}
	want := []string{"ip-api", "freegeoip", "nekudo", "sypexgeo", "ipapi.co"}
	if !reflect.DeepEqual(cfg.Geo.Providers, want) {
		t.Errorf("Geo.Providers = %v, want %v", cfg.Geo.Providers, want)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

// TestEnvTransformFunc verifies environment variable name transformations
func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"HTTP_PORT", "server.port"},
		{"HTTP_IDLE_TIMEOUT", "server.idle_timeout"},
		{"ACSERVER_EXECUTABLE", "wrapper.executable"},
		{"ACSERVER_PRESET", "wrapper.preset_dir"},
		{"VERBOSE_LOG", "params.verboseLog"},
		{"DOWNLOAD_SPEED_LIMIT", "params.downloadSpeedLimit"},
		{"UPSTREAM_TIMEOUT", "upstream.timeout"},
		{"GEO_PROVIDERS", "geo.providers"},
		{"RATE_LIMIT_REQUESTS", "security.rate_limit_reqs"},
		{"DISABLE_RATE_LIMIT", "security.rate_limit_disabled"},
		{"METRICS_ENABLED", "metrics.enabled"},
		{"log_level", "logging.level"},

		// Unknown (should return empty)
		{"RANDOM_VAR", ""},
		{"PATH", ""},
		{"HOME", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := envTransformFunc(tt.input)
			if result != tt.expected {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

// TestFindConfigFile verifies config file discovery
func TestFindConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	origWD, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWD) })

	t.Run("no config file exists", func(t *testing.T) {
		t.Setenv(ConfigPathEnvVar, "")
		if result := findConfigFile(); result != "" {
			t.Errorf("findConfigFile() = %q, want empty string", result)
		}
	})

	t.Run("config.yaml exists", func(t *testing.T) {
		t.Setenv(ConfigPathEnvVar, "")
		if err := os.WriteFile("config.yaml", []byte("logging:\n  level: debug\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		defer os.Remove("config.yaml")
		if result := findConfigFile(); result != "config.yaml" {
			t.Errorf("findConfigFile() = %q, want config.yaml", result)
		}
	})

	t.Run("CONFIG_PATH wins", func(t *testing.T) {
		custom := filepath.Join(tmpDir, "custom.yaml")
		if err := os.WriteFile(custom, []byte("{}\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv(ConfigPathEnvVar, custom)
		if result := findConfigFile(); result != custom {
			t.Errorf("findConfigFile() = %q, want %q", result, custom)
		}
	})
}

// presetDir creates a preset directory, with a params file when params is
// non-empty.
func presetDir(t *testing.T, params string) string {
	t.Helper()
	dir := t.TempDir()
	if params != "" {
		if err := os.WriteFile(filepath.Join(dir, ParamsFileName), []byte(params), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	fn := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(fn, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return fn
}

func TestLoad_WithoutParamsFile(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "")
	dir := presetDir(t, "")

	cfg, err := Load(Overrides{PresetDir: dir, Executable: "/opt/ac/acServer"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort() != 80 {
		t.Errorf("HTTPPort = %d, want 80", cfg.HTTPPort())
	}
	if cfg.Wrapper.Executable != "/opt/ac/acServer" || cfg.Wrapper.PresetDir != dir {
		t.Errorf("Wrapper = %+v", cfg.Wrapper)
	}
	if cfg.ContentDir() != filepath.Join(dir, "cm_content") {
		t.Errorf("ContentDir = %q", cfg.ContentDir())
	}
}

func TestLoad_ParamsFile(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "")
	dir := presetDir(t, `{
		// written by the server manager
		"port": 8081,
		"verboseLog": false,
		"downloadSpeedLimit": 5e5,
		"downloadPasswordOnly": false,
		"description": "Sunday league",
	}`)

	cfg, err := Load(Overrides{PresetDir: dir})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := cfg.Params
	if p.Port != 8081 || p.VerboseLog || p.DownloadSpeedLimit != 500000 || p.DownloadPasswordOnly {
		t.Errorf("Params = %+v", p)
	}
	if !p.PublishPasswordChecksum {
		t.Error("unset params keys should keep their defaults")
	}
	if p.Description != "Sunday league" {
		t.Errorf("Description = %q", p.Description)
	}
	if cfg.Addr() != "0.0.0.0:8081" {
		t.Errorf("Addr = %q", cfg.Addr())
	}
}

func TestLoad_Precedence(t *testing.T) {
	dir := presetDir(t, `{"port": 8081, "description": "from params", "verboseLog": false}`)
	yml := writeYAML(t, `
params:
  description: from yaml
upstream:
  timeout: 2s
logging:
  level: warn
`)
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("VERBOSE_LOG", "true")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(Overrides{PresetDir: dir, ConfigFile: yml, LogLevel: "debug"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Params.Description != "from yaml" {
		t.Errorf("Description = %q, yaml should override params", cfg.Params.Description)
	}
	if cfg.Params.Port != 8081 || cfg.HTTPPort() != 9000 {
		t.Errorf("Params.Port = %d HTTPPort = %d, want 8081 and 9000", cfg.Params.Port, cfg.HTTPPort())
	}
	if !cfg.Params.VerboseLog {
		t.Error("environment should override params file")
	}
	if cfg.Upstream.Timeout != 2*time.Second {
		t.Errorf("Upstream.Timeout = %v", cfg.Upstream.Timeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, command line should win", cfg.Logging.Level)
	}
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(cfg.Security.CORSOrigins, want) {
		t.Errorf("CORSOrigins = %v, want %v", cfg.Security.CORSOrigins, want)
	}
}

func TestLoad_PresetFromEnvironment(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "")
	dir := presetDir(t, `{"port": 8090}`)
	t.Setenv("ACSERVER_PRESET", dir)

	cfg, err := Load(Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Params.Port != 8090 {
		t.Errorf("Params.Port = %d, params file of the env preset should be read", cfg.Params.Port)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name   string
		params string
		env    map[string]string
		substr string
	}{
		{"broken params", `{"port": }`, nil, ParamsFileName},
		{"bad port", `{"port": 70000}`, nil, "validation"},
		{"bad log level", "", map[string]string{"LOG_LEVEL": "loud"}, "logging.level"},
		{"unknown provider", "", map[string]string{"GEO_PROVIDERS": "ip-api,bogus"}, "validation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(ConfigPathEnvVar, "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(Overrides{PresetDir: presetDir(t, tt.params)})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("error %q does not mention %q", err, tt.substr)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"server port", func(c *Config) { c.Server.Port = 8080 }, true},
		{"missing executable", func(c *Config) { c.Wrapper.Executable = "" }, false},
		{"zero upstream timeout", func(c *Config) { c.Upstream.Timeout = 0 }, false},
		{"breaker without timeout", func(c *Config) { c.Upstream.BreakerTimeout = 0 }, false},
		{"breaker disabled", func(c *Config) { c.Upstream.BreakerFailures = 0; c.Upstream.BreakerTimeout = 0 }, true},
		{"rate limit without window", func(c *Config) { c.Security.RateLimitWindow = 0 }, false},
		{"rate limit disabled", func(c *Config) { c.Security.RateLimitWindow = 0; c.Security.RateLimitDisabled = true }, true},
		{"no geo providers", func(c *Config) { c.Geo.Providers = nil }, false},
		{"geo disabled", func(c *Config) { c.Geo.Enabled = false; c.Geo.Providers = nil }, true},
		{"geo url override", func(c *Config) { c.Geo.URLs = map[string]string{"ip-api": "http://127.0.0.1:9999/json"} }, true},
		{"geo url not http", func(c *Config) { c.Geo.URLs = map[string]string{"ip-api": "ftp://example.com"} }, false},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, false},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected error")
			}
		})
	}
}
