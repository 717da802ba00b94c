// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

// Package app answers gateway requests from the status cache of the
// wrapped server.
package app

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/acwrapper/internal/acserver"
	"github.com/tomtom215/acwrapper/internal/gateway"
	"github.com/tomtom215/acwrapper/internal/logging"
	"github.com/tomtom215/acwrapper/internal/status"
)

// API paths serving the status document. Both return the same body.
const (
	InformationPath = "/api/information"
	DetailsPath     = "/api/details"
)

// StatusSource builds status documents. *status.Cache implements it.
type StatusSource interface {
	GetDocument(ctx context.Context, requester string) (map[string]interface{}, error)
	GetResponse(ctx context.Context, requester string) (*status.Response, error)
}

// App implements gateway.APIHandler and gateway.WebHandler.
type App struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	status StatusSource
}

var (
	_ gateway.APIHandler = (*App)(nil)
	_ gateway.WebHandler = (*App)(nil)
)

// New returns an App with no server attached.
func New() *App {
	return &App{logger: logging.WithComponent("app")}
}

// Attach sets the status source of the running server.
func (a *App) Attach(src StatusSource) {
	a.mu.Lock()
	a.status = src
	a.mu.Unlock()
}

// Detach drops the status source; requests answer 503 until the next Attach.
func (a *App) Detach() {
	a.Attach(nil)
}

func (a *App) source() StatusSource {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// ServeAPI answers /api/ requests.
func (a *App) ServeAPI(ctx context.Context, path string, params gateway.Params) (*gateway.Reply, error) {
	if path != InformationPath && path != DetailsPath {
		if isControlMethod(params.Method) {
			return nil, gateway.ErrMethodNotAllowed
		}
		return nil, gateway.ErrNotFound
	}

	switch params.Method {
	case http.MethodGet, http.MethodHead:
	default:
		return nil, gateway.ErrMethodNotAllowed
	}

	src := a.source()
	if src == nil {
		return nil, gateway.Error(http.StatusServiceUnavailable, "server is not running")
	}

	resp, err := src.GetResponse(ctx, params.Get("guid"))
	if err != nil {
		return nil, a.mapError(err)
	}
	return &gateway.Reply{
		JSON:         resp.JSON,
		Compressed:   resp.Compressed,
		LastModified: resp.LastModified,
	}, nil
}

// ServeWeb returns the status document as page data.
func (a *App) ServeWeb(ctx context.Context, _ string, params gateway.Params) (interface{}, error) {
	src := a.source()
	if src == nil {
		return nil, gateway.Error(http.StatusServiceUnavailable, "server is not running")
	}
	doc, err := src.GetDocument(ctx, params.Get("guid"))
	if err != nil {
		return nil, a.mapError(err)
	}
	return doc, nil
}

// mapError turns "not running" conditions into 503 and leaves everything
// else for the gateway to answer with 500.
func (a *App) mapError(err error) error {
	switch {
	case errors.Is(err, acserver.ErrNotRunning):
		return gateway.Error(http.StatusServiceUnavailable, "server is starting")
	case errors.Is(err, acserver.ErrStopped):
		return gateway.Error(http.StatusServiceUnavailable, "server is stopped")
	case errors.Is(err, status.ErrUpstream):
		a.logger.Warn().Err(err).Msg("Status document unavailable")
	}
	return err
}

func isControlMethod(m string) bool {
	switch m {
	case "STATUS", "LOG", "START", "STOP", "RESTART", "RESET":
		return true
	}
	return false
}
