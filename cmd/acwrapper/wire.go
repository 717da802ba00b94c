// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/tomtom215/acwrapper/internal/acserver"
	"github.com/tomtom215/acwrapper/internal/app"
	"github.com/tomtom215/acwrapper/internal/config"
	"github.com/tomtom215/acwrapper/internal/content"
	"github.com/tomtom215/acwrapper/internal/gateway"
	"github.com/tomtom215/acwrapper/internal/geo"
	"github.com/tomtom215/acwrapper/internal/logging"
	"github.com/tomtom215/acwrapper/internal/status"
	"github.com/tomtom215/acwrapper/internal/supervisor"
	"github.com/tomtom215/acwrapper/internal/supervisor/services"
)

// wrapper holds the long-lived components for one run.
type wrapper struct {
	cfg      *config.Config
	preset   *acserver.Preset
	catalog  *content.Catalog
	upstream *status.Upstream
	app      *app.App
	gateway  *gateway.Gateway
	geo      *geo.Resolver

	mu    sync.Mutex
	cache *status.Cache
	where *geo.Info
}

func newWrapper(cfg *config.Config) (*wrapper, error) {
	preset, err := acserver.LoadPreset(cfg.Wrapper.PresetDir, cfg.HTTPPort())
	if err != nil {
		return nil, fmt.Errorf("load preset: %w", err)
	}
	logging.Info().
		Str("preset", preset.Dir).
		Str("name", preset.Name).
		Str("track", preset.TrackID).
		Bool("guid_mode", preset.GUIDMode).
		Msg("Preset loaded")

	w := &wrapper{
		cfg:    cfg,
		preset: preset,
		app:    app.New(),
		upstream: status.NewUpstream(status.UpstreamConfig{
			Host:            cfg.Upstream.Host,
			Timeout:         cfg.Upstream.Timeout,
			BreakerFailures: cfg.Upstream.BreakerFailures,
			BreakerTimeout:  cfg.Upstream.BreakerTimeout,
		}, nil),
	}

	w.catalog, err = content.Load(cfg.ContentDir())
	switch {
	case err == nil:
		logging.Info().Str("dir", w.catalog.Dir()).Msg("Content catalog loaded")
	case errors.Is(err, os.ErrNotExist):
		logging.Info().Str("dir", cfg.ContentDir()).Msg("No custom content")
	default:
		logging.Warn().Err(err).Msg("Content catalog unavailable")
	}

	w.gateway, err = gateway.New(gateway.Config{
		TemplatesDir:       cfg.Wrapper.TemplatesDir,
		StaticDir:          cfg.Wrapper.StaticDir,
		DownloadSpeedLimit: cfg.Params.DownloadSpeedLimit,
		CORSOrigins:        cfg.Security.CORSOrigins,
		RateLimitRequests:  cfg.Security.RateLimitReqs,
		RateLimitWindow:    cfg.Security.RateLimitWindow,
		RateLimitDisabled:  cfg.Security.RateLimitDisabled,
		MetricsEnabled:     cfg.Metrics.Enabled,
		MetricsPath:        cfg.Metrics.Path,
	}, w.app, w.app)
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}
	if w.catalog != nil {
		w.gateway.SetContent(w.catalog)
	}
	if cfg.Params.DownloadPasswordOnly {
		w.gateway.SetDownloadPassword(preset.Password)
	}

	if cfg.Geo.Enabled {
		w.geo, err = newGeoResolver(cfg.Geo)
		if err != nil {
			return nil, err
		}
	}
	return w, nil
}

func newGeoResolver(cfg config.GeoConfig) (*geo.Resolver, error) {
	providers, err := geo.Providers(cfg.Providers, cfg.URLs, &http.Client{Timeout: cfg.Timeout})
	if err != nil {
		return nil, err
	}
	return geo.NewResolver(providers, cfg.Timeout), nil
}

// run serves until ctx is cancelled or the wrapped server cannot start.
func (w *wrapper) run(ctx context.Context) error {
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		// Covers the wrapped server's SIGTERM grace period plus gateway drain.
		ShutdownTimeout: w.cfg.Wrapper.StopTimeout + 10*time.Second,
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	tree.AddProcessService(services.NewACServerService(acserver.Options{
		Executable:  w.cfg.Wrapper.Executable,
		Preset:      w.preset,
		UsePTY:      w.cfg.Wrapper.UsePTY,
		Verbose:     w.cfg.Params.VerboseLog,
		StopTimeout: w.cfg.Wrapper.StopTimeout,
	}, services.ACServerHooks{
		OnStart: w.attach,
		OnExit:  w.detach,
	}))
	if w.geo != nil {
		tree.AddProcessService(services.NewGeoService(w.geo, w.setGeo))
	}

	server := gateway.NewServer(w.cfg.Addr(), w.gateway.Handler(),
		w.cfg.Server.ReadTimeout, w.cfg.Server.WriteTimeout, w.cfg.Server.IdleTimeout)
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	return tree.Serve(ctx)
}

// attach builds a status cache over a freshly started server and starts
// answering with it.
func (w *wrapper) attach(sup *acserver.Supervisor) {
	cache := status.NewCache(sup, w.upstream, status.Options{
		WrapperPort:             w.cfg.HTTPPort(),
		Description:             w.cfg.Params.Description,
		DownloadPasswordOnly:    w.cfg.Params.DownloadPasswordOnly,
		PublishPasswordChecksum: w.cfg.Params.PublishPasswordChecksum,
	})
	if w.catalog != nil {
		cache.SetCatalog(w.catalog)
	}

	w.mu.Lock()
	w.cache = cache
	where := w.where
	w.mu.Unlock()

	if where != nil {
		cache.SetGeo(where)
	}
	w.app.Attach(cache)
}

func (w *wrapper) detach(_ *acserver.Supervisor, err error) {
	w.app.Detach()
	if err != nil {
		logging.Error().Err(err).Msg("Wrapped server is gone; status requests now answer 503")
	}
}

// setGeo records the lookup result. It may arrive before the server has
// started.
func (w *wrapper) setGeo(info *geo.Info) {
	w.mu.Lock()
	w.where = info
	cache := w.cache
	w.mu.Unlock()

	if cache != nil {
		cache.SetGeo(info)
	}
}
