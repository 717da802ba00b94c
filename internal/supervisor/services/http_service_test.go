// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package services

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

var _ suture.Service = (*HTTPServerService)(nil)

// fakeServer blocks in ListenAndServe until Shutdown unless listenErr is set.
type fakeServer struct {
	listenErr   error
	shutdownErr error
	started     chan struct{}
	closed      chan struct{}
	shutdowns   atomic.Int32
}

func newFakeServer() *fakeServer {
	return &fakeServer{started: make(chan struct{}), closed: make(chan struct{})}
}

func (f *fakeServer) ListenAndServe() error {
	close(f.started)
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.closed
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	if f.shutdowns.Add(1) == 1 {
		close(f.closed)
	}
	return f.shutdownErr
}

func TestNewHTTPServerService(t *testing.T) {
	tests := []struct {
		timeout time.Duration
		want    time.Duration
	}{
		{30 * time.Second, 30 * time.Second},
		{0, 10 * time.Second},
		{-time.Second, 10 * time.Second},
	}
	for _, tt := range tests {
		svc := NewHTTPServerService(newFakeServer(), tt.timeout)
		if svc.shutdownTimeout != tt.want {
			t.Errorf("timeout %v: shutdownTimeout = %v, want %v", tt.timeout, svc.shutdownTimeout, tt.want)
		}
	}
	if s := NewHTTPServerService(newFakeServer(), 0).String(); s != "http-server" {
		t.Errorf("String() = %q", s)
	}
}

func TestHTTPServerService_Serve(t *testing.T) {
	bindErr := errors.New("bind: address already in use")
	stuck := errors.New("context deadline exceeded")

	tests := []struct {
		name        string
		listenErr   error
		shutdownErr error
		cancel      bool
		want        error
	}{
		{name: "cancel shuts down", cancel: true, want: context.Canceled},
		{name: "listen failure", listenErr: bindErr, want: bindErr},
		{name: "shutdown failure", shutdownErr: stuck, cancel: true, want: stuck},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeServer()
			srv.listenErr = tt.listenErr
			srv.shutdownErr = tt.shutdownErr
			svc := NewHTTPServerService(srv, time.Second)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			errCh := make(chan error, 1)
			go func() { errCh <- svc.Serve(ctx) }()

			<-srv.started
			if tt.cancel {
				cancel()
			}

			select {
			case err := <-errCh:
				if !errors.Is(err, tt.want) {
					t.Errorf("Serve() = %v, want %v", err, tt.want)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Serve did not return")
			}
			if tt.cancel && srv.shutdowns.Load() != 1 {
				t.Errorf("Shutdown called %d times", srv.shutdowns.Load())
			}
		})
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func TestHTTPServerService_RealServer(t *testing.T) {
	addr := freeAddr(t)
	srv := &http.Server{
		Addr: addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "ok")
		}),
		ReadHeaderTimeout: time.Second,
	}

	sup := suture.New("test", suture.Spec{Timeout: 2 * time.Second})
	sup.Add(NewHTTPServerService(srv, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := sup.ServeBackground(ctx)

	var resp *http.Response
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://" + addr + "/")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never answered: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("body = %q", body)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	if _, err := http.Get("http://" + addr + "/"); err == nil {
		t.Error("server still answering after shutdown")
	}
}
