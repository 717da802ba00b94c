// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package status

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/acwrapper/internal/logging"
	"github.com/tomtom215/acwrapper/internal/metrics"
)

// ErrUpstream wraps every failure talking to the wrapped server's own API.
var ErrUpstream = errors.New("wrapped server api request failed")

// Internal API paths of the wrapped server.
const (
	InformationPath = "/INFO"
	PlayersPath     = "/JSON|-1"
)

const maxUpstreamBody = 8 << 20

// UpstreamConfig configures the internal API client.
type UpstreamConfig struct {
	Host    string
	Timeout time.Duration

	// BreakerFailures consecutive failures open the breaker for
	// BreakerTimeout. Zero failures disables the breaker.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultUpstreamConfig returns the production defaults.
func DefaultUpstreamConfig() UpstreamConfig {
	return UpstreamConfig{
		Host:            "127.0.0.1",
		Timeout:         5 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  10 * time.Second,
	}
}

// Upstream fetches the information and live players documents from the
// wrapped server over loopback HTTP.
type Upstream struct {
	cfg    UpstreamConfig
	client *http.Client
	cb     *gobreaker.CircuitBreaker[[]byte]
	name   string
}

// NewUpstream creates a client. A nil client uses a keep-alive client
// dedicated to loopback calls.
func NewUpstream(cfg UpstreamConfig, client *http.Client) *Upstream {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	u := &Upstream{cfg: cfg, client: client, name: "acserver-api"}
	if cfg.BreakerFailures > 0 {
		u.cb = newBreaker(u.name, cfg)
	}
	return u
}

func newBreaker(name string, cfg UpstreamConfig) *gobreaker.CircuitBreaker[[]byte] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			trip := counts.ConsecutiveFailures >= cfg.BreakerFailures
			if trip {
				logging.Warn().Uint32("failures", counts.ConsecutiveFailures).Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return trip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("from", from.String()).Str("to", to.String()).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// Information fetches GET /INFO.
func (u *Upstream) Information(ctx context.Context, port int) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := u.fetchJSON(ctx, port, InformationPath, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s: empty document", ErrUpstream, InformationPath)
	}
	return doc, nil
}

// Players fetches GET /JSON|-1.
func (u *Upstream) Players(ctx context.Context, port int) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := u.fetchJSON(ctx, port, PlayersPath, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (u *Upstream) fetchJSON(ctx context.Context, port int, path string, v interface{}) error {
	body, err := u.fetch(ctx, port, path)
	metrics.RecordUpstream(path, err)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %w", ErrUpstream, path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrUpstream, path, err)
	}
	return nil
}

func (u *Upstream) fetch(ctx context.Context, port int, path string) ([]byte, error) {
	if u.cb == nil {
		return u.get(ctx, port, path)
	}

	body, err := u.cb.Execute(func() ([]byte, error) {
		return u.get(ctx, port, path)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(u.name, "rejected").Inc()
	case err != nil:
		metrics.CircuitBreakerRequests.WithLabelValues(u.name, "failure").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(u.name, "success").Inc()
	}
	return body, err
}

func (u *Upstream) get(ctx context.Context, port int, path string) ([]byte, error) {
	if u.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+u.cfg.Host+":"+strconv.Itoa(port)+"/", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	// The players path contains a literal '|' the server expects unescaped.
	req.URL.Opaque = path

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
