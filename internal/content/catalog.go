// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

// Package content reads the packed-content catalog that lets clients
// download cars, skins, weather and the track they are missing.
//
// The catalog lives in <preset>/cm_content/content.json:
//
//	{
//	  "cars": { "<carID>": { "file": "car.zip", "skins": { "<skinID>": { "file": "skin.zip" } } } },
//	  "weather": { "<weatherID>": { "file": "weather.zip" } },
//	  "track": { "file": "track.zip" },
//	  "trackBase": { "file": "base.zip" }
//	}
//
// Entries may carry any other fields; they are published as is. "file"
// keys are private and never leave this package except as absolute paths.
package content

import (
	"fmt"
	"path/filepath"

	"github.com/tomtom215/acwrapper/internal/jsonc"
)

// FileName is the catalog file inside the content directory.
const FileName = "content.json"

const fileKey = "file"

// Catalog is a loaded content.json. It is read-only after Load.
type Catalog struct {
	dir      string
	entries  map[string]interface{}
	filtered map[string]interface{}
}

// Load reads dir/content.json. A missing file returns an error wrapping
// os.ErrNotExist.
func Load(dir string) (*Catalog, error) {
	var entries map[string]interface{}
	if err := jsonc.ReadFile(filepath.Join(dir, FileName), &entries); err != nil {
		return nil, fmt.Errorf("load content catalog: %w", err)
	}
	if entries == nil {
		entries = make(map[string]interface{})
	}
	if _, ok := entries["cars"].(map[string]interface{}); !ok {
		entries["cars"] = make(map[string]interface{})
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return &Catalog{dir: abs, entries: entries, filtered: filter(entries)}, nil
}

// Dir returns the content directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// Filtered returns a fresh copy of the catalog with every "file" key
// removed. Callers may modify it.
func (c *Catalog) Filtered() map[string]interface{} {
	return deepCopy(c.filtered).(map[string]interface{})
}

// CarFile returns the archive path for a car, or "" when there is none.
func (c *Catalog) CarFile(id string) string {
	return c.fileOf(object(c.entries, "cars"), id)
}

// SkinFile returns the archive path for a car skin, or "".
func (c *Catalog) SkinFile(carID, id string) string {
	car := object(object(c.entries, "cars"), carID)
	return c.fileOf(object(car, "skins"), id)
}

// WeatherFile returns the archive path for a weather preset, or "".
func (c *Catalog) WeatherFile(id string) string {
	return c.fileOf(object(c.entries, "weather"), id)
}

// TrackFile returns the archive path for the track, or "".
func (c *Catalog) TrackFile() string {
	return c.fileOf(c.entries, "track")
}

func (c *Catalog) fileOf(parent map[string]interface{}, id string) string {
	name, _ := object(parent, id)[fileKey].(string)
	if name == "" {
		return ""
	}
	return filepath.Join(c.dir, filepath.FromSlash(name))
}

func object(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]interface{})
	return v
}

func filter(entries map[string]interface{}) map[string]interface{} {
	out := deepCopy(entries).(map[string]interface{})

	for _, car := range object(out, "cars") {
		carObj, ok := car.(map[string]interface{})
		if !ok {
			continue
		}
		delete(carObj, fileKey)
		for _, skin := range object(carObj, "skins") {
			if skinObj, ok := skin.(map[string]interface{}); ok {
				delete(skinObj, fileKey)
			}
		}
	}
	for _, w := range object(out, "weather") {
		if wObj, ok := w.(map[string]interface{}); ok {
			delete(wObj, fileKey)
		}
	}
	delete(object(out, "track"), fileKey)
	delete(object(out, "trackBase"), fileKey)
	return out
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[k] = deepCopy(e)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, e := range t {
			s[i] = deepCopy(e)
		}
		return s
	default:
		return v
	}
}
