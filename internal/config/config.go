// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"
)

// File names inside the preset directory.
const (
	ParamsFileName = "cm_wrapper_params.json"
	ContentDirName = "cm_content"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Wrapper  WrapperConfig  `koanf:"wrapper"`
	Params   ParamsConfig   `koanf:"params"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Geo      GeoConfig      `koanf:"geo"`
	Security SecurityConfig `koanf:"security"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds the gateway listener settings. A zero Port means the
// port from the wrapper params file is used.
//
// Environment Variables:
//   - HTTP_HOST: bind address (default: 0.0.0.0)
//   - HTTP_PORT: listen port, overrides params.port
//   - HTTP_READ_TIMEOUT, HTTP_WRITE_TIMEOUT: per-request deadlines (default: none)
//   - HTTP_IDLE_TIMEOUT: keep-alive idle timeout (default: 5m)
type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port" validate:"min=0,max=65535"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"min=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"min=0"`
	IdleTimeout  time.Duration `koanf:"idle_timeout" validate:"min=0"`
}

// WrapperConfig locates the wrapped server and the files served next to it.
//
// Environment Variables:
//   - ACSERVER_EXECUTABLE: wrapped server binary
//   - ACSERVER_PRESET: preset directory with server_cfg.ini and entry_list.ini
//   - ACSERVER_USE_PTY: run the server on a pseudo-terminal (default: true)
//   - ACSERVER_STOP_TIMEOUT: grace period before the server is killed (default: 5s)
//   - TEMPLATES_DIR, STATIC_DIR: page templates and static files
type WrapperConfig struct {
	Executable   string        `koanf:"executable" validate:"required"`
	PresetDir    string        `koanf:"preset_dir" validate:"required"`
	TemplatesDir string        `koanf:"templates_dir"`
	StaticDir    string        `koanf:"static_dir"`
	UsePTY       bool          `koanf:"use_pty"`
	StopTimeout  time.Duration `koanf:"stop_timeout" validate:"min=0"`
}

// ParamsConfig mirrors cm_wrapper_params.json. The keys keep the file's
// camelCase spelling.
type ParamsConfig struct {
	Port                    int    `koanf:"port" validate:"min=1,max=65535"`
	VerboseLog              bool   `koanf:"verboseLog"`
	DownloadSpeedLimit      int    `koanf:"downloadSpeedLimit" validate:"min=0"`
	DownloadPasswordOnly    bool   `koanf:"downloadPasswordOnly"`
	PublishPasswordChecksum bool   `koanf:"publishPasswordChecksum"`
	Description             string `koanf:"description"`
}

// UpstreamConfig tunes calls to the wrapped server's own HTTP API.
type UpstreamConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"min=0"`
}

// GeoConfig controls location lookup. Providers are tried in order; URLs
// overrides a provider's endpoint by name.
type GeoConfig struct {
	Enabled   bool              `koanf:"enabled"`
	Timeout   time.Duration     `koanf:"timeout" validate:"gt=0"`
	Providers []string          `koanf:"providers" validate:"dive,oneof=ip-api freegeoip nekudo sypexgeo ipapi.co"`
	URLs      map[string]string `koanf:"urls"`
}

// SecurityConfig holds the /api/ rate limit and CORS settings.
type SecurityConfig struct {
	RateLimitReqs     int           `koanf:"rate_limit_reqs" validate:"min=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"min=0"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path" validate:"omitempty,startswith=/"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format" validate:"oneof=json console"`

	// Caller adds file:line to every entry.
	Caller bool `koanf:"caller"`
}

// HTTPPort is the port the gateway listens on.
func (c *Config) HTTPPort() int {
	if c.Server.Port > 0 {
		return c.Server.Port
	}
	return c.Params.Port
}

// Addr is the gateway listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.HTTPPort()))
}

// ContentDir is where the content catalog and archives live.
func (c *Config) ContentDir() string {
	return filepath.Join(c.Wrapper.PresetDir, ContentDirName)
}

// String summarises the configuration for the startup log.
func (c *Config) String() string {
	return fmt.Sprintf("listen=%s preset=%s executable=%s pty=%t geo=%t metrics=%t",
		c.Addr(), c.Wrapper.PresetDir, c.Wrapper.Executable, c.Wrapper.UsePTY, c.Geo.Enabled, c.Metrics.Enabled)
}
