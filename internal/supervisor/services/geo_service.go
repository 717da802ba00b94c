// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package services

import (
	"context"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/acwrapper/internal/geo"
	"github.com/tomtom215/acwrapper/internal/logging"
)

// GeoResolver is satisfied by *geo.Resolver.
type GeoResolver interface {
	Resolve(ctx context.Context) (*geo.Info, error)
}

// GeoService looks up the host's location once at startup and hands the
// result to onResult. Failure is logged and not retried; the status
// document then carries no location.
type GeoService struct {
	resolver GeoResolver
	onResult func(*geo.Info)
	name     string
}

// NewGeoService creates the one-shot geo lookup service.
func NewGeoService(resolver GeoResolver, onResult func(*geo.Info)) *GeoService {
	return &GeoService{resolver: resolver, onResult: onResult, name: "geo-lookup"}
}

// Serve implements suture.Service.
func (s *GeoService) Serve(ctx context.Context) error {
	info, err := s.resolver.Resolve(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Warn().Err(err).Msg("Geo params unavailable")
		return suture.ErrDoNotRestart
	}

	logging.Info().
		Str("ip", info.IP).
		Str("city", info.City).
		Str("country", info.CountryCode).
		Msg("Geo params resolved")
	if s.onResult != nil {
		s.onResult(info)
	}
	return suture.ErrDoNotRestart
}

// String implements fmt.Stringer for logging.
func (s *GeoService) String() string {
	return s.name
}
