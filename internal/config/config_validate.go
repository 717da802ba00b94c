// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package config

import (
	"fmt"

	"github.com/tomtom215/acwrapper/internal/logging"
	"github.com/tomtom215/acwrapper/internal/validation"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	if err := c.validateServer(); err != nil {
		return err
	}

	if err := c.validateGeo(); err != nil {
		return err
	}

	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.HTTPPort() < 1 {
		return fmt.Errorf("no listen port: set params.port or HTTP_PORT")
	}
	if c.Upstream.BreakerFailures > 0 && c.Upstream.BreakerTimeout <= 0 {
		return fmt.Errorf("upstream.breaker_timeout must be positive when the breaker is enabled")
	}
	if !c.Security.RateLimitDisabled && c.Security.RateLimitReqs > 0 && c.Security.RateLimitWindow <= 0 {
		return fmt.Errorf("security.rate_limit_window must be positive when rate limiting is enabled")
	}
	return nil
}

// validateGeo validates provider overrides (only if enabled)
func (c *Config) validateGeo() error {
	if !c.Geo.Enabled {
		return nil
	}
	if len(c.Geo.Providers) == 0 {
		return fmt.Errorf("geo.providers must not be empty when geo lookup is enabled")
	}
	for name, u := range c.Geo.URLs {
		if err := validateHTTPURL(u, "geo.urls."+name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid logging.level %q: must be trace, debug, info, warn or error", c.Logging.Level)
	}
	return nil
}
