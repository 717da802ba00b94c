// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/tomtom215/acwrapper/internal/logging"
)

// PanicRenderer writes the 500 response for a recovered panic.
type PanicRenderer func(w http.ResponseWriter, r *http.Request, err error)

// Recoverer turns a handler panic into a logged 500 so the listener keeps
// serving. http.ErrAbortHandler is re-raised, as net/http expects.
func Recoverer(render PanicRenderer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel compared by identity
					panic(rec)
				}

				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("%v", rec)
				}
				logging.Ctx(r.Context()).Error().
					Err(err).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("Recovered from handler panic")

				if render != nil {
					render(w, r, err)
					return
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
