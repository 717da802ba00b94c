// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/acwrapper/internal/logging"
	"github.com/tomtom215/acwrapper/internal/metrics"
)

// Only the first range of a Range header is honoured.
var rangeHeader = regexp.MustCompile(`^bytes=(\d+)(?:-(\d+))?`)

// modifiedWithin reports whether the If-Modified-Since header is within one
// second of modTime in either direction.
func modifiedWithin(r *http.Request, modTime time.Time) bool {
	h := r.Header.Get("If-Modified-Since")
	if h == "" || modTime.IsZero() {
		return false
	}
	since, err := http.ParseTime(h)
	if err != nil {
		return false
	}
	d := since.Sub(modTime)
	return d > -time.Second && d < time.Second
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// serveFile streams name with single-range and If-Modified-Since support.
// It returns ErrNotFound for missing files and directories; nothing has
// been written then.
func (g *Gateway) serveFile(w http.ResponseWriter, r *http.Request, name, kind string) error {
	f, err := os.Open(name) //nolint:gosec // callers resolve name inside a configured root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return ErrNotFound
		}
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}
	if stat.IsDir() {
		return ErrNotFound
	}

	size := stat.Size()
	modTime := stat.ModTime()
	h := w.Header()
	h.Set("Content-Type", contentType(name))

	start, length := int64(0), size
	status := http.StatusOK

	if m := rangeHeader.FindStringSubmatch(r.Header.Get("Range")); m != nil {
		start, _ = strconv.ParseInt(m[1], 10, 64)
		end := size - 1
		if m[2] != "" {
			if e, err := strconv.ParseInt(m[2], 10, 64); err == nil && e < end {
				end = e
			}
		}
		if start >= size || start > end {
			h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return nil
		}
		length = end - start + 1
		status = http.StatusPartialContent
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		h.Set("Accept-Ranges", "bytes")
	} else {
		if modifiedWithin(r, modTime) {
			h.Del("Content-Type")
			h.Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
			w.WriteHeader(http.StatusNotModified)
			return nil
		}
		h.Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
	}

	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return nil
	}

	body := io.Reader(io.NewSectionReader(f, start, length))
	if g.cfg.DownloadSpeedLimit > 0 {
		body = newThrottledReader(r.Context(), body, g.cfg.DownloadSpeedLimit)
	}
	n, err := io.Copy(w, body)
	metrics.ContentBytesServed.WithLabelValues(kind).Add(float64(n))
	if err != nil {
		// Headers are gone; all we can do is log and drop the connection.
		logging.Ctx(r.Context()).Warn().Err(err).Str("file", name).Int64("sent", n).Msg("Download interrupted")
	}
	return nil
}

// throttledReader limits reads to a byte rate.
type throttledReader struct {
	ctx context.Context
	r   io.Reader
	lim *rate.Limiter
}

func newThrottledReader(ctx context.Context, r io.Reader, bytesPerSecond int) *throttledReader {
	burst := bytesPerSecond
	if burst > 32*1024 {
		burst = 32 * 1024
	}
	lim := rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
	return &throttledReader{ctx: ctx, r: r, lim: lim}
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if len(p) > t.lim.Burst() {
		p = p[:t.lim.Burst()]
	}
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.lim.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
