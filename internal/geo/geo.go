// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

// Package geo determines the host's public IP and location by asking a
// chain of free geolocation services in order until one answers.
package geo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/acwrapper/internal/logging"
	"github.com/tomtom215/acwrapper/internal/metrics"
)

// ErrNoProvider is returned when every provider failed.
var ErrNoProvider = errors.New("no geolocation provider answered")

// Info is the normalised location of this host.
type Info struct {
	IP          string `json:"ip"`
	City        string `json:"city"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
}

// Provider looks up the caller's own public address.
type Provider interface {
	Lookup(ctx context.Context) (*Info, error)

	// Name returns the provider name for logging and metrics.
	Name() string
}

// Resolver tries providers in order, stopping at the first success.
type Resolver struct {
	providers []Provider
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewResolver creates a resolver. timeout bounds each provider attempt;
// zero means no per-attempt limit beyond ctx.
func NewResolver(providers []Provider, timeout time.Duration) *Resolver {
	return &Resolver{
		providers: providers,
		timeout:   timeout,
		logger:    logging.WithComponent("geo"),
	}
}

// Resolve returns the first provider result. Later providers are not
// contacted once one succeeds.
func (r *Resolver) Resolve(ctx context.Context) (*Info, error) {
	for i, p := range r.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r.logger.Info().
			Int("attempt", i+1).
			Int("of", len(r.providers)).
			Str("provider", p.Name()).
			Msg("Resolving geo params")

		info, err := r.lookup(ctx, p)
		metrics.RecordGeoAttempt(p.Name(), err)
		if err == nil {
			return info, nil
		}
		r.logger.Warn().Err(err).Str("provider", p.Name()).Msg("Geo provider failed")
	}
	return nil, ErrNoProvider
}

func (r *Resolver) lookup(ctx context.Context, p Provider) (*Info, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	info, err := p.Lookup(ctx)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("%s: empty result", p.Name())
	}
	return info, nil
}
