// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

// mockService counts starts and fails the first failCount runs.
type mockService struct {
	name      string
	starts    atomic.Int32
	failCount int32
	result    error
}

func (m *mockService) Serve(ctx context.Context) error {
	n := m.starts.Add(1)
	if n <= m.failCount {
		return errors.New("mock failure")
	}
	if m.result != nil {
		return m.result
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockService) String() string { return m.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitStarts(t *testing.T, svc *mockService, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for svc.starts.Load() < want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := svc.starts.Load(); got < want {
		t.Fatalf("%s started %d times, want at least %d", svc.name, got, want)
	}
}

func TestSupervisorTreeConstruction(t *testing.T) {
	t.Run("creates hierarchical supervisor tree", func(t *testing.T) {
		tree, err := NewSupervisorTree(testLogger(), TreeConfig{
			FailureThreshold: 5,
			FailureBackoff:   time.Second,
			ShutdownTimeout:  10 * time.Second,
		})
		if err != nil {
			t.Fatalf("failed to create tree: %v", err)
		}
		if tree.Root() == nil {
			t.Error("root supervisor should not be nil")
		}
	})

	t.Run("applies default values for zero config", func(t *testing.T) {
		tree, err := NewSupervisorTree(testLogger(), TreeConfig{})
		if err != nil {
			t.Fatalf("failed to create tree: %v", err)
		}
		if tree.config != DefaultTreeConfig() {
			t.Errorf("config = %+v, want defaults", tree.config)
		}
	})
}

func TestSupervisorTreeLifecycle(t *testing.T) {
	t.Run("starts both layers and stops on cancel", func(t *testing.T) {
		tree, err := NewSupervisorTree(testLogger(), TreeConfig{
			FailureBackoff:  100 * time.Millisecond,
			ShutdownTimeout: time.Second,
		})
		if err != nil {
			t.Fatalf("failed to create tree: %v", err)
		}

		process := &mockService{name: "mock-process"}
		api := &mockService{name: "mock-api"}
		tree.AddProcessService(process)
		tree.AddAPIService(api)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := tree.ServeBackground(ctx)

		waitStarts(t, process, 1)
		waitStarts(t, api, 1)
		cancel()

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("unexpected error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("tree did not shut down in time")
		}
	})

	t.Run("ServeBackground returns channel", func(t *testing.T) {
		tree, _ := NewSupervisorTree(testLogger(), TreeConfig{ShutdownTimeout: time.Second})

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		select {
		case err := <-tree.ServeBackground(ctx):
			if err != nil && !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("unexpected error: %v", err)
			}
		case <-time.After(time.Second):
			t.Error("did not receive from error channel")
		}
	})
}

func TestSupervisorTreeFailureHandling(t *testing.T) {
	t.Run("failing service is restarted", func(t *testing.T) {
		tree, _ := NewSupervisorTree(testLogger(), TreeConfig{
			FailureThreshold: 10,
			FailureBackoff:   10 * time.Millisecond,
			ShutdownTimeout:  time.Second,
		})

		failing := &mockService{name: "failing", failCount: 2}
		stable := &mockService{name: "stable"}
		tree.AddProcessService(failing)
		tree.AddAPIService(stable)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := tree.ServeBackground(ctx)

		waitStarts(t, failing, 3)
		if stable.starts.Load() != 1 {
			t.Errorf("stable service started %d times, want 1", stable.starts.Load())
		}
		cancel()
		<-errCh
	})

	t.Run("do not restart leaves the gateway running", func(t *testing.T) {
		tree, _ := NewSupervisorTree(testLogger(), TreeConfig{ShutdownTimeout: time.Second})

		exited := &mockService{name: "exited", result: suture.ErrDoNotRestart}
		api := &mockService{name: "api"}
		tree.AddProcessService(exited)
		tree.AddAPIService(api)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := tree.ServeBackground(ctx)

		waitStarts(t, exited, 1)
		waitStarts(t, api, 1)
		time.Sleep(50 * time.Millisecond)

		if got := exited.starts.Load(); got != 1 {
			t.Errorf("exited service started %d times, want 1", got)
		}
		select {
		case err := <-errCh:
			t.Fatalf("tree stopped early: %v", err)
		default:
		}
		cancel()
		<-errCh
	})

	t.Run("terminate ends the tree", func(t *testing.T) {
		tree, _ := NewSupervisorTree(testLogger(), TreeConfig{ShutdownTimeout: time.Second})

		tree.AddProcessService(&mockService{name: "broken", result: suture.ErrTerminateSupervisorTree})
		tree.AddAPIService(&mockService{name: "api"})

		select {
		case <-tree.ServeBackground(context.Background()):
		case <-time.After(2 * time.Second):
			t.Fatal("tree kept running after a terminate request")
		}
	})
}

func TestDefaultTreeConfig(t *testing.T) {
	config := DefaultTreeConfig()

	if config.FailureThreshold != 5.0 {
		t.Errorf("expected FailureThreshold 5.0, got %f", config.FailureThreshold)
	}
	if config.FailureDecay != 30.0 {
		t.Errorf("expected FailureDecay 30.0, got %f", config.FailureDecay)
	}
	if config.FailureBackoff != 15*time.Second {
		t.Errorf("expected FailureBackoff 15s, got %v", config.FailureBackoff)
	}
	if config.ShutdownTimeout != 10*time.Second {
		t.Errorf("expected ShutdownTimeout 10s, got %v", config.ShutdownTimeout)
	}
}
