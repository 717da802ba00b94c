// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

// Package status builds the public status document for the wrapped server.
//
// The document is the wrapped server's own /INFO and /JSON|-1 output merged
// with everything the sidecar knows that the server does not report: live
// weather and grip parsed from its log, geo location, the content catalog,
// password checksums and so on. Building it costs two loopback HTTP calls
// and a serialisation, so the result is cached and rebuilt only after the
// supervisor reports the state dirty. Concurrent requests during a rebuild
// share it.
//
// Raw player identities never appear in the document. In GUID mode each
// car carries an opaque placeholder that GetResponse rewrites to true or
// false for the requesting player by a byte scan over the cached JSON.
// Page data from GetDocument and Snapshot.Document is always resolved.
package status

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/acwrapper/internal/acserver"
	"github.com/tomtom215/acwrapper/internal/geo"
	"github.com/tomtom215/acwrapper/internal/identity"
	"github.com/tomtom215/acwrapper/internal/logging"
	"github.com/tomtom215/acwrapper/internal/metrics"
)

// Source is the live server state the cache reads from. *acserver.Supervisor
// implements it.
type Source interface {
	Endpoint() (int, error)
	State() acserver.State
	Preset() *acserver.Preset
	Dirty() (bool, uint64)
	MarkClean(generation uint64)
	MarkDirty()
}

// Catalog supplies the public content listing. *content.Catalog implements it.
type Catalog interface {
	Filtered() map[string]interface{}
}

// Options holds the operator-supplied document settings.
type Options struct {
	WrapperPort             int
	Description             string
	DownloadPasswordOnly    bool
	PublishPasswordChecksum bool
}

// Snapshot is one built status document. It is immutable once published.
type Snapshot struct {
	// Document is the page form of the document. In GUID mode every
	// IsRequestedGUID is already false.
	Document map[string]interface{}

	// JSON carries unresolved placeholders in GUID mode; send it only
	// through GetResponse.
	JSON         []byte
	Compressed   []byte // nil in GUID mode
	LastModified time.Time
	GUIDMode     bool
}

// Response is the body to send one requester.
type Response struct {
	JSON         []byte
	Compressed   []byte
	LastModified time.Time
}

// Cache serves status documents, rebuilding them when the source is dirty.
type Cache struct {
	src      Source
	upstream *Upstream
	opts     Options
	logger   zerolog.Logger

	mu      sync.RWMutex
	geo     *geo.Info
	catalog Catalog

	snap  atomic.Pointer[Snapshot]
	group singleflight.Group
}

// NewCache creates a cache over src.
func NewCache(src Source, upstream *Upstream, opts Options) *Cache {
	return &Cache{
		src:      src,
		upstream: upstream,
		opts:     opts,
		logger:   logging.WithComponent("status"),
	}
}

// SetGeo records the resolved location and forces a rebuild.
func (c *Cache) SetGeo(info *geo.Info) {
	c.mu.Lock()
	c.geo = info
	c.mu.Unlock()
	c.src.MarkDirty()
}

// SetCatalog sets or clears the content catalog and forces a rebuild.
func (c *Cache) SetCatalog(catalog Catalog) {
	c.mu.Lock()
	c.catalog = catalog
	c.mu.Unlock()
	c.src.MarkDirty()
}

// Current returns the last built snapshot without rebuilding, or nil.
func (c *Cache) Current() *Snapshot {
	return c.snap.Load()
}

// GetSnapshot returns the current document, rebuilding it first if the
// source is dirty. It fails with acserver.ErrNotRunning or
// acserver.ErrStopped when the server cannot be queried, and with an error
// wrapping ErrUpstream when a rebuild fails; the source stays dirty then.
func (c *Cache) GetSnapshot(ctx context.Context) (*Snapshot, error) {
	if _, err := c.src.Endpoint(); err != nil {
		return nil, err
	}

	if dirty, _ := c.src.Dirty(); !dirty {
		if s := c.snap.Load(); s != nil {
			return s, nil
		}
	}

	// The rebuild outlives any single caller so that joiners are not
	// failed by the first caller going away.
	rebuildCtx := context.WithoutCancel(ctx)
	v, err, shared := c.group.Do("rebuild", func() (interface{}, error) {
		return c.rebuild(rebuildCtx)
	})
	if shared {
		metrics.SnapshotSharedRebuilds.Inc()
	}
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// GetDocument returns the document as page data for requester, with every
// IsRequestedGUID resolved.
func (c *Cache) GetDocument(ctx context.Context, requester string) (map[string]interface{}, error) {
	s, err := c.GetSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if !s.GUIDMode || requester == "" {
		return s.Document, nil
	}
	return decodeDocument(identity.ResolvePlaceholders(s.JSON, requester))
}

// GetResponse returns the document body for one requester. In GUID mode
// every car's IsRequestedGUID is resolved for requester; otherwise every
// requester gets the same precomputed bodies.
func (c *Cache) GetResponse(ctx context.Context, requester string) (*Response, error) {
	s, err := c.GetSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	if s.GUIDMode {
		metrics.SnapshotResponsesTotal.WithLabelValues("per_requester").Inc()
		return &Response{
			JSON:         identity.ResolvePlaceholders(s.JSON, requester),
			LastModified: s.LastModified,
		}, nil
	}

	metrics.SnapshotResponsesTotal.WithLabelValues("shared").Inc()
	return &Response{JSON: s.JSON, Compressed: s.Compressed, LastModified: s.LastModified}, nil
}

func (c *Cache) rebuild(ctx context.Context) (snap *Snapshot, err error) {
	start := time.Now()
	defer func() { metrics.RecordRebuild(time.Since(start), err) }()

	// Read the generation first: changes that land while we fetch keep
	// the source dirty.
	_, generation := c.src.Dirty()

	port, err := c.src.Endpoint()
	if err != nil {
		return nil, err
	}

	info, err := c.upstream.Information(ctx, port)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Snapshot rebuild failed")
		return nil, err
	}
	players, err := c.upstream.Players(ctx, port)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Snapshot rebuild failed")
		return nil, err
	}

	preset := c.src.Preset()
	doc := c.merge(info, players, c.src.State(), preset)

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	snap = &Snapshot{
		Document:     doc,
		JSON:         data,
		LastModified: time.Now(),
		GUIDMode:     preset.GUIDMode,
	}
	if preset.GUIDMode {
		if snap.Document, err = decodeDocument(identity.ResolvePlaceholders(data, "")); err != nil {
			return nil, err
		}
	} else {
		if snap.Compressed, err = compress(data); err != nil {
			return nil, err
		}
	}

	c.snap.Store(snap)
	c.src.MarkClean(generation)
	c.logger.Debug().Int("bytes", len(data)).Dur("took", time.Since(start)).Msg("Snapshot rebuilt")
	return snap, nil
}

func decodeDocument(data []byte) (map[string]interface{}, error) {
	var doc map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return doc, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	return buf.Bytes(), nil
}
