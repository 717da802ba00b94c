// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package gateway

import (
	"errors"
	"fmt"
	"html"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cbroglie/mustache"
	"github.com/goccy/go-json"

	"github.com/tomtom215/acwrapper/internal/logging"
)

const (
	templateExt  = ".mustache"
	baseTemplate = "base"
	pageTitle    = "AC Server"
)

// templateSet loads .mustache files from a directory, reparsing a file
// only when its modification time changes.
type templateSet struct {
	dir string

	mu    sync.Mutex
	cache map[string]cachedTemplate
}

type cachedTemplate struct {
	modTime time.Time
	tmpl    *mustache.Template
}

func newTemplateSet(dir string) *templateSet {
	return &templateSet{dir: dir, cache: make(map[string]cachedTemplate)}
}

// filename maps a page name to its template path, or "" when the name
// would escape the template directory.
func (ts *templateSet) filename(name string) string {
	if ts.dir == "" || name == "" || strings.Contains(name, "\\") {
		return ""
	}
	clean := path.Clean("/" + name)[1:]
	if clean == "" || clean != name {
		return ""
	}
	return filepath.Join(ts.dir, filepath.FromSlash(clean)+templateExt)
}

// has reports whether a template file exists for name.
func (ts *templateSet) has(name string) bool {
	fn := ts.filename(name)
	if fn == "" {
		return false
	}
	st, err := os.Stat(fn)
	return err == nil && !st.IsDir()
}

func (ts *templateSet) load(name string) (*mustache.Template, error) {
	fn := ts.filename(name)
	if fn == "" {
		return nil, fs.ErrNotExist
	}
	st, err := os.Stat(fn)
	if err != nil {
		return nil, err
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if c, ok := ts.cache[name]; ok && c.modTime.Equal(st.ModTime()) {
		return c.tmpl, nil
	}
	tmpl, err := mustache.ParseFile(fn)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	ts.cache[name] = cachedTemplate{modTime: st.ModTime(), tmpl: tmpl}
	return tmpl, nil
}

func (ts *templateSet) render(name string, data interface{}) (string, error) {
	tmpl, err := ts.load(name)
	if err != nil {
		return "", err
	}
	out, err := tmpl.Render(data)
	if err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return out, nil
}

// renderPage renders name inside the base layout.
func (ts *templateSet) renderPage(name string, data interface{}) (string, error) {
	content, err := ts.render(name, data)
	if err != nil {
		return "", err
	}
	return ts.render(baseTemplate, map[string]interface{}{
		"title":   pageTitle,
		"content": content,
	})
}

// servePage renders templates/<name>.mustache for the request path, or
// falls back to a static file.
func (g *Gateway) servePage(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")
	if name == "" {
		name = "index"
	}

	if !g.templates.has(name) {
		g.serveStatic(w, r)
		return
	}

	params, err := readParams(w, r)
	if err != nil {
		g.writeHTMLError(w, r, err)
		return
	}
	if g.web == nil {
		g.writeHTMLError(w, r, errors.New("web handler is not set"))
		return
	}
	data, err := g.web.ServeWeb(r.Context(), r.URL.Path, params)
	if err != nil {
		g.writeHTMLError(w, r, err)
		return
	}
	page, err := g.templates.renderPage(name, templateData(data))
	if err != nil {
		g.writeHTMLError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte(page))
	}
}

// templateData normalises handler output for mustache, which walks maps
// and exported fields but not json tags.
func templateData(data interface{}) interface{} {
	switch data.(type) {
	case nil, map[string]interface{}:
		return data
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return data
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return data
	}
	return out
}

func (g *Gateway) serveStatic(w http.ResponseWriter, r *http.Request) {
	if g.cfg.StaticDir == "" {
		g.writeHTMLError(w, r, ErrNotFound)
		return
	}
	rel := path.Clean("/" + r.URL.Path)
	name := filepath.Join(g.cfg.StaticDir, filepath.FromSlash(rel))
	if err := g.serveFile(w, r, name, "static"); err != nil {
		g.writeHTMLError(w, r, err)
	}
}

// writeHTMLError renders an error page through the base layout, falling
// back to bare HTML if the layout is unavailable.
func (g *Gateway) writeHTMLError(w http.ResponseWriter, r *http.Request, err error) {
	code, _ := statusOf(err)
	title, hint := pageMessage(code)
	if code >= http.StatusInternalServerError {
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Page request failed")
	}

	content := fmt.Sprintf("<h1>%d %s</h1>", code, html.EscapeString(title))
	if hint != "" {
		content += "<pre>" + html.EscapeString(hint) + "</pre>"
	}

	page, rerr := g.templates.render(baseTemplate, map[string]interface{}{
		"title":   title,
		"content": content,
	})
	if rerr != nil {
		page = content
	}

	w.Header().Del("Content-Length")
	w.Header().Del("Last-Modified")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte(page))
	}
}
