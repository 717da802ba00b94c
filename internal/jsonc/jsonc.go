// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

// Package jsonc loads hand-edited JSON files that may contain // and /* */
// comments and trailing commas. Input is standardised to plain JSON by
// hujson and then decoded; nothing in the file is ever executed.
package jsonc

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/tailscale/hujson"
)

// Standardize converts JSON-with-comments to strict JSON.
func Standardize(data []byte) ([]byte, error) {
	out, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parse relaxed json: %w", err)
	}
	return out, nil
}

// Unmarshal standardises data and decodes it into v.
func Unmarshal(data []byte, v interface{}) error {
	std, err := Standardize(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(std, v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// ReadFile reads path and decodes it into v. A missing file is reported
// with an error wrapping os.ErrNotExist.
func ReadFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
