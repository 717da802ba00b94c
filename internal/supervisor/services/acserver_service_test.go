// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/acwrapper/internal/acserver"
)

func scriptServer(t *testing.T, body string) acserver.Options {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake server")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "acServer")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil { //nolint:gosec // test executable
		t.Fatal(err)
	}
	return acserver.Options{
		Executable:  path,
		Preset:      &acserver.Preset{Dir: dir, ServerConfigPath: "cfg.tmp", EntryListPath: "entry_list.ini"},
		StopTimeout: 2 * time.Second,
	}
}

func TestACServerService_String(t *testing.T) {
	svc := NewACServerService(acserver.Options{}, ACServerHooks{})
	if svc.String() != "acserver" {
		t.Errorf("String() = %q", svc.String())
	}
}

func TestACServerService_StartFailureTerminatesTree(t *testing.T) {
	svc := NewACServerService(acserver.Options{Executable: "missing"}, ACServerHooks{
		OnStart: func(*acserver.Supervisor) { t.Error("OnStart called for a server that never started") },
	})
	svc.start = func(acserver.Options) (*acserver.Supervisor, error) {
		return nil, errors.New("exec: not found")
	}

	if err := svc.Serve(context.Background()); !errors.Is(err, suture.ErrTerminateSupervisorTree) {
		t.Errorf("Serve() = %v, want ErrTerminateSupervisorTree", err)
	}
}

func TestACServerService_ExitIsNotRestarted(t *testing.T) {
	opts := scriptServer(t, "echo \"Starting HTTP server on port  8123\"\nsleep 0.2\nexit 3\n")

	var started, ready atomic.Bool
	exitCh := make(chan error, 1)
	svc := NewACServerService(opts, ACServerHooks{
		OnStart: func(*acserver.Supervisor) { started.Store(true) },
		OnReady: func(*acserver.Supervisor) { ready.Store(true) },
		OnExit:  func(_ *acserver.Supervisor, err error) { exitCh <- err },
	})

	done := make(chan error, 1)
	go func() { done <- svc.Serve(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, suture.ErrDoNotRestart) {
			t.Errorf("Serve() = %v, want ErrDoNotRestart", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after the server exited")
	}

	if !started.Load() {
		t.Error("OnStart not called")
	}
	if !ready.Load() {
		t.Error("OnReady not called")
	}
	if err := <-exitCh; err == nil {
		t.Error("OnExit got nil error for a non-zero exit")
	}
}

func TestACServerService_CancelStopsServer(t *testing.T) {
	opts := scriptServer(t, "exec sleep 30\n")

	var sup atomic.Pointer[acserver.Supervisor]
	exitCh := make(chan error, 1)
	svc := NewACServerService(opts, ACServerHooks{
		OnStart: func(s *acserver.Supervisor) { sup.Store(s) },
		OnExit:  func(_ *acserver.Supervisor, err error) { exitCh <- err },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for sup.Load() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if err := <-exitCh; err != nil {
		t.Errorf("OnExit error = %v, want nil on shutdown", err)
	}
	if s := sup.Load(); s == nil || !s.Stopped() {
		t.Error("server was not stopped")
	}
}
