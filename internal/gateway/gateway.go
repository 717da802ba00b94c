// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

/*
Package gateway is the wrapper's public HTTP front end.

Requests are routed by path prefix:

	/content/...  downloadable content archives, optionally password protected
	/api/...      JSON answered by an APIHandler
	anything else a mustache template page when templates/<name>.mustache
	              exists, otherwise a file from the static directory

Files are served with single byte-range and If-Modified-Since support and
may be throttled to a configured byte rate. Handler errors are mapped to
HTTP statuses through StatusError; everything else is a 500.
*/
package gateway

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tomtom215/acwrapper/internal/identity"
	"github.com/tomtom215/acwrapper/internal/logging"
	"github.com/tomtom215/acwrapper/internal/middleware"
)

// Control verbs understood by the wrapped server's tooling. Registering
// them lets HandleFunc routes receive them.
var controlMethods = []string{"STATUS", "LOG", "START", "STOP", "RESTART", "RESET"}

func init() {
	for _, m := range controlMethods {
		chi.RegisterMethod(m)
	}
}

// Config holds the gateway settings.
type Config struct {
	TemplatesDir string
	StaticDir    string

	// DownloadSpeedLimit is the per-download byte rate; 0 disables throttling.
	DownloadSpeedLimit int

	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitDisabled bool

	MetricsEnabled bool
	MetricsPath    string
}

// Gateway routes HTTP requests to content files, the API handler and pages.
type Gateway struct {
	cfg       Config
	api       APIHandler
	web       WebHandler
	templates *templateSet
	logger    zerolog.Logger

	mu       sync.RWMutex
	content  ContentSource
	password string
}

// New creates a gateway. web may be nil when no template pages are used.
func New(cfg Config, api APIHandler, web WebHandler) (*Gateway, error) {
	if api == nil {
		return nil, errors.New("gateway: api handler is required")
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	return &Gateway{
		cfg:       cfg,
		api:       api,
		web:       web,
		templates: newTemplateSet(cfg.TemplatesDir),
		logger:    logging.WithComponent("gateway"),
	}, nil
}

// SetContent installs the content source used for /content/ requests.
func (g *Gateway) SetContent(src ContentSource) {
	g.mu.Lock()
	g.content = src
	g.mu.Unlock()
}

// SetDownloadPassword protects /content/ with a token derived from
// password. An empty password disables the check.
func (g *Gateway) SetDownloadPassword(password string) {
	g.mu.Lock()
	g.password = password
	g.mu.Unlock()
	g.logger.Info().Bool("protected", password != "").Msg("Content download password updated")
}

func (g *Gateway) downloadToken() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.password == "" {
		return ""
	}
	return identity.DownloadToken(g.password)
}

func (g *Gateway) contentSource() ContentSource {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.content
}

// Handler builds the chi router.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.Recoverer(g.renderPanic))
	r.Use(chimiddleware.GetHead)

	if g.cfg.MetricsEnabled {
		r.Handle(g.cfg.MetricsPath, promhttp.Handler())
	}

	r.Route("/content", func(r chi.Router) {
		r.Use(g.requireDownloadPassword)
		r.Get("/car/{id}", g.serveContent(carFile))
		r.Get("/skin/{carID}/{id}", g.serveContent(skinFile))
		r.Get("/weather/{id}", g.serveContent(weatherFile))
		r.Get("/track", g.serveContent(trackFile))
		r.NotFound(g.notFoundJSON)
		r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
			g.writeJSONError(w, r, ErrMethodNotAllowed)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(g.cors())
		r.Use(g.rateLimit())
		r.HandleFunc("/*", g.serveAPI)
	})

	r.With(middleware.Compression).Get("/*", g.servePage)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		g.writeHTMLError(w, r, ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		g.writeHTMLError(w, r, ErrMethodNotAllowed)
	})

	return r
}

func (g *Gateway) cors() func(http.Handler) http.Handler {
	origins := g.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Last-Modified"},
		MaxAge:         300,
	})
}

func (g *Gateway) rateLimit() func(http.Handler) http.Handler {
	if g.cfg.RateLimitDisabled || g.cfg.RateLimitRequests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	window := g.cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	return httprate.Limit(
		g.cfg.RateLimitRequests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			g.writeJSONError(w, r, Error(http.StatusTooManyRequests, "rate limit exceeded"))
		}),
	)
}

// renderPanic answers a recovered panic in the format of the route.
func (g *Gateway) renderPanic(w http.ResponseWriter, r *http.Request, err error) {
	if isJSONRoute(r.URL.Path) {
		g.writeJSONError(w, r, err)
		return
	}
	g.writeHTMLError(w, r, err)
}

func isJSONRoute(p string) bool {
	return p == "/api" || p == "/content" ||
		strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/content/")
}

// NewServer wraps the gateway in an http.Server. Zero timeouts fall back
// to five minutes of idle time and no read or write deadline.
func NewServer(addr string, h http.Handler, readTimeout, writeTimeout, idleTimeout time.Duration) *http.Server {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
}
