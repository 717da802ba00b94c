// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package services

import (
	"context"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/acwrapper/internal/acserver"
	"github.com/tomtom215/acwrapper/internal/logging"
)

// ACServerHooks are called around one run of the wrapped server. Any of
// them may be nil.
type ACServerHooks struct {
	// OnStart runs after the process is launched, before any output is read.
	OnStart func(*acserver.Supervisor)

	// OnReady runs once the server has reported its internal HTTP port.
	OnReady func(*acserver.Supervisor)

	// OnExit runs after the process is gone. err is the exit error, or
	// nil when the service was shut down.
	OnExit func(sup *acserver.Supervisor, err error)
}

// ACServerService runs the wrapped server as a supervised service.
//
// The server is started once. When it exits on its own the service
// returns suture.ErrDoNotRestart; restarting is left to the operator. When
// it cannot be started the whole tree is terminated.
type ACServerService struct {
	opts  acserver.Options
	hooks ACServerHooks
	start func(acserver.Options) (*acserver.Supervisor, error)
	name  string
}

// NewACServerService creates the wrapped server service.
func NewACServerService(opts acserver.Options, hooks ACServerHooks) *ACServerService {
	return &ACServerService{
		opts:  opts,
		hooks: hooks,
		start: acserver.Start,
		name:  "acserver",
	}
}

// Serve implements suture.Service.
func (s *ACServerService) Serve(ctx context.Context) error {
	sup, err := s.start(s.opts)
	if err != nil {
		logging.Error().Err(err).Str("executable", s.opts.Executable).Msg("Failed to start wrapped server")
		return suture.ErrTerminateSupervisorTree
	}

	if s.hooks.OnStart != nil {
		s.hooks.OnStart(sup)
	}
	if s.hooks.OnReady != nil {
		sup.OnReady(func() { s.hooks.OnReady(sup) })
	}

	select {
	case <-ctx.Done():
		if err := sup.Stop(); err != nil {
			logging.Warn().Err(err).Msg("Wrapped server did not stop cleanly")
		}
		<-sup.Done()
		if s.hooks.OnExit != nil {
			s.hooks.OnExit(sup, nil)
		}
		return ctx.Err()

	case <-sup.Done():
		if s.hooks.OnExit != nil {
			s.hooks.OnExit(sup, sup.ExitErr())
		}
		return suture.ErrDoNotRestart
	}
}

// String implements fmt.Stringer for logging.
func (s *ACServerService) String() string {
	return s.name
}
