// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package gateway

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// maxBodyBytes caps request bodies read into Params.Data.
const maxBodyBytes = 64 << 20

// Params are the request inputs handed to API and page handlers.
type Params struct {
	Query url.Values

	// Method is the _method query value when given, else the HTTP method.
	Method string

	// Data is the request body for POST, PUT and PATCH.
	Data []byte
}

// Get returns the first value for key.
func (p Params) Get(key string) string {
	return p.Query.Get(key)
}

func readParams(w http.ResponseWriter, r *http.Request) (Params, error) {
	p := Params{Query: r.URL.Query(), Method: r.Method}
	if m := p.Query.Get("_method"); m != "" {
		p.Method = m
	}

	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			return p, &StatusError{Code: http.StatusBadRequest, Message: fmt.Sprintf("read body: %v", err)}
		}
		p.Data = data
	}
	return p, nil
}
