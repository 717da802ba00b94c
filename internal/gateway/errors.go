// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package gateway

import (
	"errors"
	"net/http"
)

// StatusError is an error with an HTTP status. Handlers return it for
// client-facing failures; any other error is answered with 500.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.Code)
}

// Common statuses.
var (
	ErrForbidden        = &StatusError{Code: http.StatusForbidden}
	ErrNotFound         = &StatusError{Code: http.StatusNotFound}
	ErrMethodNotAllowed = &StatusError{Code: http.StatusMethodNotAllowed}
)

// Error returns a StatusError with the given code and message.
func Error(code int, message string) error {
	return &StatusError{Code: code, Message: message}
}

// statusOf maps err to an HTTP status and a client-safe message.
func statusOf(err error) (int, string) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code, se.Error()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// pageMessage is the heading and hint shown on HTML error pages.
func pageMessage(code int) (title, hint string) {
	switch code {
	case http.StatusNotFound:
		return "File Not Found", "Make sure path is correct."
	case http.StatusInternalServerError:
		return "Internal Error", "Try again later?"
	case http.StatusServiceUnavailable:
		return "Service Unavailable", "The server is starting, try again in a moment."
	default:
		return http.StatusText(code), ""
	}
}
