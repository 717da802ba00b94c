// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package status

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/acwrapper/internal/acserver"
	"github.com/tomtom215/acwrapper/internal/geo"
	"github.com/tomtom215/acwrapper/internal/identity"
)

// fakeSource mimics the supervisor's dirty/generation bookkeeping.
type fakeSource struct {
	mu         sync.Mutex
	port       int
	err        error
	state      acserver.State
	preset     *acserver.Preset
	dirty      bool
	generation uint64
}

func (f *fakeSource) Endpoint() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.port, f.err
}

func (f *fakeSource) State() acserver.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSource) Preset() *acserver.Preset { return f.preset }

func (f *fakeSource) Dirty() (bool, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty, f.generation
}

func (f *fakeSource) MarkClean(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen == f.generation {
		f.dirty = false
	}
}

func (f *fakeSource) MarkDirty() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirty = true
	f.generation++
}

type fakeCatalog map[string]interface{}

func (c fakeCatalog) Filtered() map[string]interface{} {
	out := make(map[string]interface{}, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

const (
	infoBody    = `{"name":"Sunday Cup ℹ8050","track":"ks_nordschleife-endurance","port":9600,"clients":2,"country":["na","na"]}`
	playersBody = `{"Cars":[{"DriverName":"Alice","IsRequestedGUID":false},{"DriverName":"Bob","IsRequestedGUID":false},{"DriverName":"","IsRequestedGUID":false}]}`
)

type upstreamServer struct {
	*httptest.Server
	info    atomic.Int32
	players atomic.Int32

	mu      sync.Mutex
	fail    bool
	gate    chan struct{}
	entered chan struct{}
}

func newUpstreamServer(t *testing.T) *upstreamServer {
	t.Helper()
	u := &upstreamServer{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		fail, gate, entered := u.fail, u.gate, u.entered
		u.mu.Unlock()

		if fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		switch r.URL.Path {
		case InformationPath:
			u.info.Add(1)
			if entered != nil {
				entered <- struct{}{}
			}
			if gate != nil {
				select {
				case <-gate:
				case <-r.Context().Done():
					return
				}
			}
			_, _ = io.WriteString(w, infoBody)
		case PlayersPath:
			u.players.Add(1)
			_, _ = io.WriteString(w, playersBody)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstreamServer) port(t *testing.T) int {
	t.Helper()
	_, p, err := net.SplitHostPort(u.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(p)
	return port
}

func newTestCache(t *testing.T, up *upstreamServer, guidMode bool) (*Cache, *fakeSource) {
	t.Helper()
	src := &fakeSource{
		port:  up.port(t),
		dirty: true,
		state: acserver.State{
			HTTPPort:     up.port(t),
			SessionType:  2,
			AmbientTemp:  21.5,
			RoadTemp:     30.1,
			WeatherID:    "3_clear",
			Grip:         0.9,
			SlotIdentity: map[int]string{0: "G1", 1: "G2"},
			SlotPublicID: map[int]string{0: identity.PublicID("G1"), 1: identity.PublicID("G2")},
		},
		preset: &acserver.Preset{
			Name:             "Sunday Cup ℹ8050",
			TrackID:          "ks_nordschleife",
			Password:         "qwerty",
			AdminPassword:    "admin",
			Frequency:        18,
			MaxContactsPerKm: -1,
			GUIDMode:         guidMode,
			Durations:        []float64{600, 1800},
		},
	}
	cfg := DefaultUpstreamConfig()
	cfg.Timeout = time.Second
	cfg.BreakerFailures = 0
	c := NewCache(src, NewUpstream(cfg, nil), Options{
		WrapperPort:             8050,
		Description:             "Weekly race",
		DownloadPasswordOnly:    true,
		PublishPasswordChecksum: true,
	})
	return c, src
}

func decode(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, data)
	}
	return doc
}

func TestCache_Document(t *testing.T) {
	up := newUpstreamServer(t)
	c, _ := newTestCache(t, up, false)
	c.SetGeo(&geo.Info{IP: "1.2.3.4", City: "Turin", Country: "Italy", CountryCode: "IT"})
	c.SetCatalog(fakeCatalog{"cars": map[string]interface{}{}, "password": false})

	s, err := c.GetSnapshot(context.Background())
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	doc := decode(t, s.JSON)

	checks := map[string]interface{}{
		"name":               "Sunday Cup",
		"ip":                 "1.2.3.4",
		"city":               "Turin",
		"session":            float64(2),
		"trackBase":          "ks_nordschleife",
		"wrappedPort":        float64(8050),
		"ambientTemperature": 21.5,
		"roadTemperature":    30.1,
		"currentWeatherId":   "3_clear",
		"grip":               0.9,
		"frequency":          float64(18),
		"description":        "Weekly race",
		"clients":            float64(2),
	}
	for k, want := range checks {
		if doc[k] != want {
			t.Errorf("%s = %v, want %v", k, doc[k], want)
		}
	}

	if _, ok := doc["maxContactsPerKm"]; ok {
		t.Error("maxContactsPerKm of -1 must be omitted")
	}
	country, _ := doc["country"].([]interface{})
	if len(country) != 2 || country[0] != "Italy" || country[1] != "IT" {
		t.Errorf("country = %v", doc["country"])
	}
	checksum, _ := doc["passwordChecksum"].([]interface{})
	if len(checksum) != 2 || checksum[0] != identity.PasswordChecksum("Sunday Cup", "qwerty") {
		t.Errorf("passwordChecksum = %v", doc["passwordChecksum"])
	}
	if content, _ := doc["content"].(map[string]interface{}); content["password"] != true {
		t.Errorf("content = %v", doc["content"])
	}

	cars := doc["players"].(map[string]interface{})["Cars"].([]interface{})
	first := cars[0].(map[string]interface{})
	if first["ID"] != identity.PublicID("G1") {
		t.Errorf("car 0 ID = %v", first["ID"])
	}
	if _, ok := first["IsRequestedGUID"]; ok {
		t.Error("IsRequestedGUID must be removed outside GUID mode")
	}
	if _, ok := cars[2].(map[string]interface{})["ID"]; ok {
		t.Error("car without a known slot must not carry an ID")
	}
	if bytes.Contains(s.JSON, []byte("G1")) {
		t.Error("raw identity leaked into the document")
	}
}

func TestCache_NonGUIDResponses(t *testing.T) {
	up := newUpstreamServer(t)
	c, _ := newTestCache(t, up, false)
	ctx := context.Background()

	a, err := c.GetResponse(ctx, "G1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.GetResponse(ctx, "G2")
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(a.JSON, b.JSON) || !bytes.Equal(a.Compressed, b.Compressed) {
		t.Error("non-GUID responses must be identical for every requester")
	}
	if !a.LastModified.Equal(b.LastModified) {
		t.Error("LastModified changed without a rebuild")
	}
	if up.info.Load() != 1 || up.players.Load() != 1 {
		t.Errorf("upstream calls = %d/%d, want 1/1", up.info.Load(), up.players.Load())
	}

	zr, err := gzip.NewReader(bytes.NewReader(a.Compressed))
	if err != nil {
		t.Fatalf("compressed body: %v", err)
	}
	plain, _ := io.ReadAll(zr)
	if !bytes.Equal(plain, a.JSON) {
		t.Error("compressed body does not match JSON")
	}
}

func TestCache_GUIDResponses(t *testing.T) {
	up := newUpstreamServer(t)
	c, _ := newTestCache(t, up, true)
	ctx := context.Background()

	flags := func(requester string) []interface{} {
		r, err := c.GetResponse(ctx, requester)
		if err != nil {
			t.Fatal(err)
		}
		if r.Compressed != nil {
			t.Error("GUID mode must not serve a shared compressed body")
		}
		cars := decode(t, r.JSON)["players"].(map[string]interface{})["Cars"].([]interface{})
		out := make([]interface{}, len(cars))
		for i, car := range cars {
			out[i] = car.(map[string]interface{})["IsRequestedGUID"]
		}
		return out
	}

	tests := []struct {
		requester string
		want      []interface{}
	}{
		{"G1", []interface{}{true, false, false}},
		{"G2", []interface{}{false, true, false}},
		{"G3", []interface{}{false, false, false}},
		{"", []interface{}{false, false, false}},
	}
	for _, tt := range tests {
		t.Run("requester="+tt.requester, func(t *testing.T) {
			got := flags(tt.requester)
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("car %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}

	if up.info.Load() != 1 {
		t.Errorf("GUID responses rebuilt the snapshot: %d upstream calls", up.info.Load())
	}
}

func TestCache_GUIDPageDocument(t *testing.T) {
	up := newUpstreamServer(t)
	c, _ := newTestCache(t, up, true)
	ctx := context.Background()

	flags := func(doc map[string]interface{}) []interface{} {
		cars := doc["players"].(map[string]interface{})["Cars"].([]interface{})
		out := make([]interface{}, len(cars))
		for i, car := range cars {
			out[i] = car.(map[string]interface{})["IsRequestedGUID"]
		}
		return out
	}

	s, err := c.GetSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	page, err := json.Marshal(s.Document)
	if err != nil {
		t.Fatal(err)
	}
	for _, leak := range []string{"G1", identity.Placeholder("G1"), identity.Placeholder("G2")} {
		if bytes.Contains(page, []byte(leak)) {
			t.Errorf("page document contains %q: %s", leak, page)
		}
	}
	for i, f := range flags(s.Document) {
		if f != false {
			t.Errorf("snapshot car %d IsRequestedGUID = %v, want false", i, f)
		}
	}

	tests := []struct {
		requester string
		want      []interface{}
	}{
		{"", []interface{}{false, false, false}},
		{"G2", []interface{}{false, true, false}},
		{"G9", []interface{}{false, false, false}},
	}
	for _, tt := range tests {
		doc, err := c.GetDocument(ctx, tt.requester)
		if err != nil {
			t.Fatalf("GetDocument(%q): %v", tt.requester, err)
		}
		got := flags(doc)
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Errorf("requester %q car %d = %v, want %v", tt.requester, i, got[i], tt.want[i])
			}
		}
	}
}

func TestCache_RebuildOnlyWhenDirty(t *testing.T) {
	up := newUpstreamServer(t)
	c, src := newTestCache(t, up, false)
	ctx := context.Background()

	first, err := c.GetSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	again, _ := c.GetSnapshot(ctx)
	if first != again {
		t.Error("clean source must return the cached snapshot")
	}

	src.MarkDirty()
	third, err := c.GetSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if third == first {
		t.Error("dirty source must trigger a rebuild")
	}
	if up.info.Load() != 2 {
		t.Errorf("upstream info calls = %d, want 2", up.info.Load())
	}
}

func TestCache_UpstreamFailureKeepsDirty(t *testing.T) {
	up := newUpstreamServer(t)
	up.fail = true
	c, src := newTestCache(t, up, false)

	_, err := c.GetSnapshot(context.Background())
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
	if dirty, _ := src.Dirty(); !dirty {
		t.Error("failed rebuild must leave the source dirty")
	}
	if c.Current() != nil {
		t.Error("no snapshot should be published after a failure")
	}

	up.mu.Lock()
	up.fail = false
	up.mu.Unlock()
	if _, err := c.GetSnapshot(context.Background()); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
}

func TestCache_NotRunning(t *testing.T) {
	up := newUpstreamServer(t)
	c, src := newTestCache(t, up, false)

	for _, want := range []error{acserver.ErrNotRunning, acserver.ErrStopped} {
		src.mu.Lock()
		src.err = want
		src.mu.Unlock()
		if _, err := c.GetResponse(context.Background(), ""); !errors.Is(err, want) {
			t.Errorf("err = %v, want %v", err, want)
		}
	}
	if up.info.Load() != 0 {
		t.Error("upstream must not be contacted when the server is not running")
	}
}

func TestCache_ChangeDuringRebuildStaysDirty(t *testing.T) {
	up := newUpstreamServer(t)
	c, src := newTestCache(t, up, false)

	up.mu.Lock()
	up.gate = make(chan struct{})
	up.entered = make(chan struct{}, 1)
	gate, entered := up.gate, up.entered
	up.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := c.GetSnapshot(context.Background())
		done <- err
	}()

	<-entered
	src.MarkDirty() // a log line arrives mid-rebuild
	close(gate)

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if dirty, _ := src.Dirty(); !dirty {
		t.Error("change during rebuild was lost")
	}
}

func TestCache_ConcurrentRequestsShareRebuild(t *testing.T) {
	up := newUpstreamServer(t)
	c, _ := newTestCache(t, up, false)

	up.mu.Lock()
	up.gate = make(chan struct{})
	up.entered = make(chan struct{}, 1)
	gate, entered := up.gate, up.entered
	up.mu.Unlock()

	const callers = 10
	results := make(chan *Snapshot, callers)
	var wg sync.WaitGroup
	call := func() {
		defer wg.Done()
		s, err := c.GetSnapshot(context.Background())
		if err != nil {
			t.Error(err)
		}
		results <- s
	}

	wg.Add(1)
	go call()
	<-entered

	wg.Add(callers - 1)
	for i := 1; i < callers; i++ {
		go call()
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(results)

	var first *Snapshot
	for s := range results {
		if first == nil {
			first = s
		}
		if s != first {
			t.Error("callers received different snapshots")
		}
	}
	if n := up.info.Load(); n != 1 {
		t.Errorf("upstream info calls = %d, want 1", n)
	}
}

func TestUpstream_Timeout(t *testing.T) {
	up := newUpstreamServer(t)
	up.gate = make(chan struct{})
	defer close(up.gate)

	cfg := DefaultUpstreamConfig()
	cfg.Timeout = 50 * time.Millisecond
	cfg.BreakerFailures = 0
	u := NewUpstream(cfg, nil)

	start := time.Now()
	_, err := u.Information(context.Background(), up.port(t))
	if !errors.Is(err, ErrUpstream) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want ErrUpstream wrapping a deadline", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout not applied")
	}
}

func TestUpstream_BreakerOpens(t *testing.T) {
	cfg := DefaultUpstreamConfig()
	cfg.BreakerFailures = 2
	cfg.BreakerTimeout = time.Minute
	u := NewUpstream(cfg, nil)

	var hits atomic.Int32
	counting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer counting.Close()
	_, p, _ := net.SplitHostPort(counting.Listener.Addr().String())
	port, _ := strconv.Atoi(p)

	for i := 0; i < 4; i++ {
		if _, err := u.Information(context.Background(), port); !errors.Is(err, ErrUpstream) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	if hits.Load() != 2 {
		t.Errorf("server hit %d times, want 2 before the breaker opened", hits.Load())
	}
}
