// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/acwrapper/internal/jsonc"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/acwrapper/config.yaml",
	"/etc/acwrapper/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values. The
// params block matches what the wrapper assumes when the preset has no
// cm_wrapper_params.json.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        0, // use params.port
			IdleTimeout: 5 * time.Minute,
		},
		Wrapper: WrapperConfig{
			Executable:   "acServer",
			PresetDir:    "preset",
			TemplatesDir: "templates",
			StaticDir:    "static",
			UsePTY:       true,
			StopTimeout:  5 * time.Second,
		},
		Params: ParamsConfig{
			Port:                    80,
			VerboseLog:              true,
			DownloadSpeedLimit:      1e6,
			DownloadPasswordOnly:    true,
			PublishPasswordChecksum: true,
		},
		Upstream: UpstreamConfig{
			Host:            "127.0.0.1",
			Timeout:         5 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  10 * time.Second,
		},
		Geo: GeoConfig{
			Enabled:   true,
			Timeout:   5 * time.Second,
			Providers: []string{"ip-api", "freegeoip", "nekudo", "sypexgeo", "ipapi.co"},
		},
		Security: SecurityConfig{
			RateLimitReqs:   120,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Overrides are values set on the command line. Empty fields are ignored.
type Overrides struct {
	Executable   string
	PresetDir    string
	TemplatesDir string
	StaticDir    string
	ConfigFile   string
	LogLevel     string
}

func (o Overrides) apply(k *koanf.Koanf) error {
	set := map[string]string{
		"wrapper.executable":    o.Executable,
		"wrapper.preset_dir":    o.PresetDir,
		"wrapper.templates_dir": o.TemplatesDir,
		"wrapper.static_dir":    o.StaticDir,
		"logging.level":         o.LogLevel,
	}
	for key, v := range set {
		if v == "" {
			continue
		}
		if err := k.Set(key, v); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

// Load builds the configuration from, in increasing priority: defaults,
// the preset's cm_wrapper_params.json, a YAML config file, environment
// variables and command-line overrides.
//
// The preset directory can itself come from any layer above the params
// file, so the layers are resolved once to find it and again with the
// params file in place.
func Load(o Overrides) (*Config, error) {
	k, err := loadLayers(nil, o)
	if err != nil {
		return nil, err
	}

	paramsPath := filepath.Join(k.String("wrapper.preset_dir"), ParamsFileName)
	params, err := loadParamsFile(paramsPath)
	if err != nil {
		return nil, err
	}
	if params != nil {
		if k, err = loadLayers(params, o); err != nil {
			return nil, err
		}
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadLayers(params *koanf.Koanf, o Overrides) (*koanf.Koanf, error) {
	k := koanf.New(".")

	// Layer 1: defaults
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: wrapper params file
	if params != nil {
		if err := k.MergeAt(params, "params"); err != nil {
			return nil, fmt.Errorf("failed to merge wrapper params: %w", err)
		}
	}

	// Layer 3: config file
	configPath := o.ConfigFile
	if configPath == "" {
		configPath = findConfigFile()
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 4: environment
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Layer 5: command line
	if err := o.apply(k); err != nil {
		return nil, err
	}
	return k, nil
}

// loadParamsFile reads the wrapper params file. It returns nil, nil when
// the file does not exist.
func loadParamsFile(path string) (*koanf.Koanf, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied preset directory
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	std, err := jsonc.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	pk := koanf.New(".")
	if err := pk.Load(rawbytes.Provider(std), json.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return pk, nil
}

// findConfigFile searches for a config file in the default locations.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists configuration paths that should be parsed as
// comma-separated slices when they arrive as strings from the environment.
var sliceConfigPaths = []string{
	"security.cors_origins",
	"geo.providers",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to config paths.
// Variables not listed here are ignored.
var envMappings = map[string]string{
	// Gateway listener
	"http_host":          "server.host",
	"http_port":          "server.port",
	"http_read_timeout":  "server.read_timeout",
	"http_write_timeout": "server.write_timeout",
	"http_idle_timeout":  "server.idle_timeout",

	// Wrapped server
	"acserver_executable":   "wrapper.executable",
	"acserver_preset":       "wrapper.preset_dir",
	"acserver_use_pty":      "wrapper.use_pty",
	"acserver_stop_timeout": "wrapper.stop_timeout",
	"templates_dir":         "wrapper.templates_dir",
	"static_dir":            "wrapper.static_dir",

	// Wrapper params
	"verbose_log":               "params.verboseLog",
	"download_speed_limit":      "params.downloadSpeedLimit",
	"download_password_only":    "params.downloadPasswordOnly",
	"publish_password_checksum": "params.publishPasswordChecksum",
	"server_description":        "params.description",

	// Internal API
	"upstream_host":             "upstream.host",
	"upstream_timeout":          "upstream.timeout",
	"upstream_breaker_failures": "upstream.breaker_failures",
	"upstream_breaker_timeout":  "upstream.breaker_timeout",

	// Geo lookup
	"geo_enabled":   "geo.enabled",
	"geo_timeout":   "geo.timeout",
	"geo_providers": "geo.providers",

	// API protection
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"cors_origins":        "security.cors_origins",

	"metrics_enabled": "metrics.enabled",
	"metrics_path":    "metrics.path",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
