// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

// Package ini reads the wrapped server's INI files (server_cfg.ini,
// entry_list.ini). Sections are [UPPERCASE] names, entries are KEY=VALUE,
// and both ";" and "//" start a line comment.
package ini

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// File is a parsed INI document.
type File struct {
	sections map[string]Section
	order    []string
}

// Section holds the entries of one [NAME] block.
type Section map[string]string

// Parse parses data.
func Parse(data []byte) *File {
	f := &File{sections: make(map[string]Section)}
	var current Section

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := stripComment(sc.Text())
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if line[0] == '[' {
			name := line[1:]
			if end := strings.IndexByte(name, ']'); end >= 0 {
				name = name[:end]
			}
			if _, ok := f.sections[name]; !ok {
				f.order = append(f.order, name)
			}
			current = make(Section)
			f.sections[name] = current
			continue
		}

		if current == nil {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		current[key] = strings.TrimSpace(value)
	}
	return f
}

// Load reads and parses path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data), nil
}

func stripComment(line string) string {
	cut := len(line)
	if i := strings.IndexByte(line, ';'); i >= 0 {
		cut = i
	}
	if i := strings.Index(line[:cut], "//"); i >= 0 {
		cut = i
	}
	return line[:cut]
}

// Section returns the named section, or nil.
func (f *File) Section(name string) Section {
	return f.sections[name]
}

// Has reports whether the named section exists.
func (f *File) Has(name string) bool {
	_, ok := f.sections[name]
	return ok
}

// Sections returns section names in file order.
func (f *File) Sections() []string {
	return append([]string(nil), f.order...)
}

// Get returns the value for key, "" when the section or key is missing.
func (s Section) Get(key string) string {
	if s == nil {
		return ""
	}
	return s[key]
}

// Lookup returns the value and whether it is present.
func (s Section) Lookup(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s[key]
	return v, ok
}

// Float parses key as a number. Missing or empty values parse as 0;
// malformed values report ok=false.
func (s Section) Float(key string) (v float64, ok bool) {
	raw := strings.TrimSpace(s.Get(key))
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FloatOr returns Float(key), or def when the value is malformed.
func (s Section) FloatOr(key string, def float64) float64 {
	if v, ok := s.Float(key); ok {
		return v
	}
	return def
}

// Flag reports whether key is set to anything other than "0". A missing
// key counts as enabled.
func (s Section) Flag(key string) bool {
	return s.Get(key) != "0"
}
