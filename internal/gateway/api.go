// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/acwrapper/internal/logging"
	"github.com/tomtom215/acwrapper/internal/metrics"
	"github.com/tomtom215/acwrapper/internal/middleware"
)

// Reply is what an API handler answers with. Exactly one of File, Blob,
// the JSON bodies or Data is used, checked in that order; an empty Reply
// is answered 204.
type Reply struct {
	// File is a path to stream with range support.
	File string
	// Blob is sent as application/octet-stream.
	Blob []byte

	// JSON is a serialised document; Compressed, when set, is the same
	// document gzipped and is preferred for clients that accept gzip.
	JSON         []byte
	Compressed   []byte
	LastModified time.Time

	// Data is encoded as JSON on the fly.
	Data interface{}
}

// APIHandler answers requests under /api/.
type APIHandler interface {
	ServeAPI(ctx context.Context, path string, params Params) (*Reply, error)
}

// WebHandler supplies template data for rendered pages.
type WebHandler interface {
	ServeWeb(ctx context.Context, path string, params Params) (interface{}, error)
}

// ContentSource resolves downloadable content archives. Each lookup returns
// "" when there is no such file.
type ContentSource interface {
	CarFile(id string) string
	SkinFile(carID, id string) string
	WeatherFile(id string) string
	TrackFile() string
}

func (g *Gateway) serveAPI(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	params, err := readParams(w, r)
	if err != nil {
		g.writeJSONError(w, r, err)
		return
	}

	reply, err := g.api.ServeAPI(r.Context(), r.URL.Path, params)
	if err == nil && reply == nil {
		err = errors.New("api handler returned no reply")
	}
	if err != nil {
		g.writeJSONError(w, r, err)
		return
	}
	g.writeReply(w, r, reply)

	logging.Ctx(r.Context()).Debug().
		Str("path", r.URL.Path).
		Dur("serve_time", time.Since(start)).
		Msg("API request served")
}

func (g *Gateway) writeReply(w http.ResponseWriter, r *http.Request, reply *Reply) {
	switch {
	case reply.File != "":
		if err := g.serveFile(w, r, reply.File, "api"); err != nil {
			g.writeJSONError(w, r, err)
		}
		return

	case reply.Blob != nil:
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(reply.Blob)))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			n, _ := w.Write(reply.Blob)
			metrics.ContentBytesServed.WithLabelValues("api").Add(float64(n))
		}
		return
	}

	if !reply.LastModified.IsZero() && modifiedWithin(r, reply.LastModified) {
		w.Header().Set("Last-Modified", reply.LastModified.UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusNotModified)
		return
	}

	lastModified := reply.LastModified
	if lastModified.IsZero() {
		lastModified = time.Now()
	}
	h := w.Header()

	switch {
	case reply.Compressed != nil && middleware.AcceptsGzip(r):
		h.Set("Content-Type", "application/json; charset=utf-8")
		h.Set("Content-Encoding", "gzip")
		h.Set("Vary", "Accept-Encoding")
		h.Set("Last-Modified", lastModified.UTC().Format(http.TimeFormat))
		h.Set("Content-Length", strconv.Itoa(len(reply.Compressed)))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write(reply.Compressed)
		}

	case reply.JSON != nil:
		middleware.Compression(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Last-Modified", lastModified.UTC().Format(http.TimeFormat))
			w.WriteHeader(http.StatusOK)
			if r.Method != http.MethodHead {
				_, _ = w.Write(reply.JSON)
			}
		})).ServeHTTP(w, r)

	case reply.Data != nil:
		data, err := json.Marshal(reply.Data)
		if err != nil {
			g.writeJSONError(w, r, err)
			return
		}
		h.Set("Content-Type", "application/json; charset=utf-8")
		h.Set("Last-Modified", lastModified.UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write(data)
		}

	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// requireDownloadPassword rejects content requests without the download
// token when a download password is configured.
func (g *Gateway) requireDownloadPassword(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := g.downloadToken()
		if token != "" {
			given := r.URL.Query().Get("password")
			if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
				g.writeJSONError(w, r, ErrForbidden)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) serveContent(lookup func(ContentSource, *http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src := g.contentSource()
		if src == nil {
			g.writeJSONError(w, r, Error(http.StatusNotFound, "content is not available"))
			return
		}
		name := lookup(src, r)
		if name == "" {
			g.writeJSONError(w, r, ErrNotFound)
			return
		}
		if err := g.serveFile(w, r, name, "content"); err != nil {
			g.writeJSONError(w, r, err)
		}
	}
}

func carFile(c ContentSource, r *http.Request) string {
	return c.CarFile(chi.URLParam(r, "id"))
}

func skinFile(c ContentSource, r *http.Request) string {
	return c.SkinFile(chi.URLParam(r, "carID"), chi.URLParam(r, "id"))
}

func weatherFile(c ContentSource, r *http.Request) string {
	return c.WeatherFile(chi.URLParam(r, "id"))
}

func trackFile(c ContentSource, _ *http.Request) string {
	return c.TrackFile()
}

func (g *Gateway) writeJSONError(w http.ResponseWriter, r *http.Request, err error) {
	code, message := statusOf(err)
	if code >= http.StatusInternalServerError {
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("API request failed")
	}
	w.Header().Del("Content-Length")
	w.Header().Del("Last-Modified")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// notFoundJSON answers unmatched content routes.
func (g *Gateway) notFoundJSON(w http.ResponseWriter, r *http.Request) {
	g.writeJSONError(w, r, ErrNotFound)
}
