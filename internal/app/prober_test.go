package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samvad-hq/archive-probe/internal/config"
	"github.com/samvad-hq/archive-probe/internal/status"
	"github.com/samvad-hq/archive-probe/pkg/httpclient"
	"github.com/samvad-hq/archive-probe/pkg/publishers"
	"github.com/samvad-hq/archive-probe/pkg/targets"
)

type fakeResponse struct {
	statusLine string
}

func (f fakeResponse) StatusLine() string { return f.statusLine }
func (f fakeResponse) StatusCode() int    { return 0 }

// scriptedRequester answers with the next status line each call; "" means fail.
type scriptedRequester struct {
	mu    sync.Mutex
	lines []string
}

func (s *scriptedRequester) Request(context.Context, string, string) (httpclient.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line := s.lines[0]
	if len(s.lines) > 1 {
		s.lines = s.lines[1:]
	}
	if line == "" {
		return nil, errors.New("dial tcp: connection refused")
	}
	return fakeResponse{statusLine: line}, nil
}

// memoryStore keeps results in a map and can inject errors.
type memoryStore struct {
	results map[string]status.Result
	saveErr error
	closed  bool
}

func (m *memoryStore) Close() error {
	m.closed = true
	return nil
}

func (m *memoryStore) LastResult(id string) (status.Result, bool, error) {
	r, ok := m.results[id]
	return r, ok, nil
}

func (m *memoryStore) SaveResult(res status.Result) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.results == nil {
		m.results = make(map[string]status.Result)
	}
	m.results[res.TargetID] = res
	return nil
}

// fakePublisher records published events and can inject errors.
type fakePublisher struct {
	events    []publishers.Event
	delivered []publishers.Event
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, evt publishers.Event) (int, error) {
	f.events = append(f.events, evt)
	if f.err != nil {
		return 0, f.err
	}
	f.delivered = append(f.delivered, evt)
	return 1, nil
}

// closingRequester answers 200 OK and records Close calls.
type closingRequester struct {
	closed int
}

func (c *closingRequester) Request(context.Context, string, string) (httpclient.Response, error) {
	return fakeResponse{statusLine: "200 OK"}, nil
}

func (c *closingRequester) Close() error {
	c.closed++
	return nil
}

// recordingLogger keeps every Info entry's object keyed by message.
type recordingLogger struct {
	info map[string][]interface{}
}

func (r *recordingLogger) InfoObj(msg, _ string, obj interface{}) {
	if r.info == nil {
		r.info = make(map[string][]interface{})
	}
	r.info[msg] = append(r.info[msg], obj)
}
func (r *recordingLogger) DebugObj(string, string, interface{}) {}
func (r *recordingLogger) WarnObj(string, string, interface{})  {}
func (r *recordingLogger) ErrorObj(string, string, interface{}) {}

func newTestProber(t *testing.T, reqs map[string]httpclient.Requester, store *memoryStore, pub *fakePublisher) *Prober {
	t.Helper()
	list := make([]targets.Target, 0, len(reqs))
	for _, id := range []string{"alpha", "beta"} {
		if _, ok := reqs[id]; ok {
			list = append(list, targets.Target{ID: id, Name: strings.ToUpper(id), BaseURL: "http://" + id + ".example"})
		}
	}
	p := New(&config.Config{RunOnce: true}, list, store, pub, nil)
	return p.WithRequesterFactory(func(tgt targets.Target) (httpclient.Requester, error) {
		return reqs[tgt.ID], nil
	})
}

func TestRunOncePublishesOnlyOnChange(t *testing.T) {
	store := &memoryStore{}
	pub := &fakePublisher{}
	p := newTestProber(t, map[string]httpclient.Requester{
		"alpha": &scriptedRequester{lines: []string{"200 OK", "200 OK", "404 Not Found"}},
	}, store, pub)

	for i := 0; i < 3; i++ {
		if _, err := p.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce #%d: %v", i, err)
		}
	}

	if len(pub.events) != 2 {
		t.Fatalf("expected first sighting and one change, got %d events", len(pub.events))
	}
	first, change := pub.events[0], pub.events[1]
	if first.Current != status.Connected || first.TargetName != "ALPHA" {
		t.Fatalf("unexpected first event %+v", first)
	}
	if change.Previous != status.Connected || change.Current != status.NotFound || change.StatusLine != "404 Not Found" {
		t.Fatalf("unexpected change event %+v", change)
	}
	if store.results["alpha"].Status != status.NotFound {
		t.Fatalf("expected latest result stored, got %+v", store.results["alpha"])
	}
}

func TestRunOnceClassifiesEveryTarget(t *testing.T) {
	p := newTestProber(t, map[string]httpclient.Requester{
		"alpha": &scriptedRequester{lines: []string{"500 Internal Server Error"}},
		"beta":  &scriptedRequester{lines: []string{""}},
	}, &memoryStore{}, &fakePublisher{})

	results, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Status != status.Connected {
		t.Fatalf("expected 500 to count as connected, got %s", results[0].Status)
	}
	if results[1].Status != status.Unknown || !strings.Contains(results[1].Error, "connection refused") {
		t.Fatalf("expected unknown with error, got %+v", results[1])
	}
}

func TestRunOnceRequesterBuildFailureIsUnknown(t *testing.T) {
	log := &recordingLogger{}
	builds := 0
	p := New(&config.Config{}, []targets.Target{{ID: "alpha", Name: "A"}}, &memoryStore{}, &fakePublisher{}, log)
	p.WithRequesterFactory(func(targets.Target) (httpclient.Requester, error) {
		builds++
		return nil, errors.New("bad base url")
	})

	for i := 0; i < 2; i++ {
		results, err := p.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if results[0].Status != status.Unknown || !strings.Contains(results[0].Error, "bad base url") {
			t.Fatalf("unexpected result %+v", results[0])
		}
	}
	if builds != 2 {
		t.Fatalf("expected failed builds to be retried each pass, got %d builds", builds)
	}

	entries := log.info["target probed"]
	if len(entries) != 2 {
		t.Fatalf("expected 2 target log entries, got %d", len(entries))
	}
	for _, e := range entries {
		fields := e.(map[string]any)
		if msg, _ := fields["error"].(string); !strings.Contains(msg, "bad base url") {
			t.Fatalf("expected build error in log entry, got %v", fields)
		}
	}
}

func TestRunOnceRedeliversChangeAfterSinkFailure(t *testing.T) {
	store := &memoryStore{}
	pub := &fakePublisher{}
	p := newTestProber(t, map[string]httpclient.Requester{
		"alpha": &scriptedRequester{lines: []string{"200 OK", "404 Not Found", "404 Not Found"}},
	}, store, pub)

	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	pub.err = errors.New("sink down")
	if _, err := p.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected publish error while sink is down")
	}
	if got := store.results["alpha"].Status; got != status.Connected {
		t.Fatalf("undelivered change must not be stored, got %s", got)
	}

	pub.err = nil
	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("third pass: %v", err)
	}

	if len(pub.delivered) != 2 {
		t.Fatalf("expected first sighting and change delivered, got %d", len(pub.delivered))
	}
	change := pub.delivered[1]
	if change.Previous != status.Connected || change.Current != status.NotFound {
		t.Fatalf("unexpected redelivered event %+v", change)
	}
	if got := store.results["alpha"].Status; got != status.NotFound {
		t.Fatalf("expected change stored after delivery, got %s", got)
	}
}

func TestRunReusesOneRequesterPerTarget(t *testing.T) {
	built := map[string]*closingRequester{}
	calls := 0
	list := []targets.Target{{ID: "alpha", Name: "A"}, {ID: "beta", Name: "B"}}
	p := New(&config.Config{RunOnce: true}, list, &memoryStore{}, &fakePublisher{}, nil)
	p.WithRequesterFactory(func(tgt targets.Target) (httpclient.Requester, error) {
		calls++
		req := &closingRequester{}
		built[tgt.ID] = req
		return req, nil
	})

	for i := 0; i < 5; i++ {
		if _, err := p.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected one requester per target, got %d builds", calls)
	}

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected Run to reuse cached requesters, got %d builds", calls)
	}
	for id, req := range built {
		if req.closed != 1 {
			t.Fatalf("expected requester for %s closed once, got %d", id, req.closed)
		}
	}
}

func TestRunOnceAggregatesBookkeepingErrors(t *testing.T) {
	store := &memoryStore{saveErr: errors.New("disk full")}
	pub := &fakePublisher{}
	p := newTestProber(t, map[string]httpclient.Requester{
		"alpha": &scriptedRequester{lines: []string{"200 OK"}},
		"beta":  &scriptedRequester{lines: []string{"404 Not Found"}},
	}, store, pub)

	results, err := p.RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(results) != 2 || results[1].Status != status.NotFound {
		t.Fatalf("classification must not depend on storage, got %+v", results)
	}
	if len(pub.delivered) != 2 {
		t.Fatalf("expected first sightings delivered before the save failed, got %d", len(pub.delivered))
	}

	pubErr := &fakePublisher{err: errors.New("sink down")}
	p = newTestProber(t, map[string]httpclient.Requester{
		"alpha": &scriptedRequester{lines: []string{"200 OK"}},
	}, &memoryStore{}, pubErr)
	if _, err := p.RunOnce(context.Background()); err == nil || !strings.Contains(err.Error(), "sink down") {
		t.Fatalf("expected publish error, got %v", err)
	}
}

func TestRunOnceStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestProber(t, map[string]httpclient.Requester{
		"alpha": &scriptedRequester{lines: []string{"200 OK"}},
	}, &memoryStore{}, &fakePublisher{})

	results, err := p.RunOnce(ctx)
	if err != nil || len(results) != 0 {
		t.Fatalf("expected no work on cancelled context, got %v / %v", results, err)
	}
}

func TestRunEmptyTargets(t *testing.T) {
	store := &memoryStore{}
	p := New(&config.Config{RunOnce: true}, nil, store, nil, nil)
	if err := p.Run(context.Background()); err == nil {
		t.Fatalf("expected error when targets list empty")
	}
	if !store.closed {
		t.Fatalf("expected store to be closed")
	}
}

func TestRunLoopExitsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	store := &memoryStore{}
	p := New(&config.Config{ProbeInterval: 20 * time.Millisecond}, []targets.Target{{ID: "alpha", Name: "A"}}, store, &fakePublisher{}, nil)
	p.WithRequesterFactory(func(targets.Target) (httpclient.Requester, error) {
		return &scriptedRequester{lines: []string{"200 OK"}}, nil
	})

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !store.closed {
		t.Fatalf("expected store to be closed on exit")
	}
}

func TestNewProberRunOnceAgainstHTTPServer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(status.Path, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	live := httptest.NewServer(mux)
	defer live.Close()
	missing := httptest.NewServer(http.NotFoundHandler())
	defer missing.Close()

	var hook []string
	var hookMu sync.Mutex
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hookMu.Lock()
		hook = append(hook, r.Method)
		hookMu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer sink.Close()

	dir := t.TempDir()
	targetsFile := filepath.Join(dir, "targets.yaml")
	writeTestFile(t, targetsFile, `
targets:
  - id: live
    name: Live
    base_url: `+live.URL+`
  - id: missing
    name: Missing
    base_url: `+missing.URL+`
`)
	publishersFile := filepath.Join(dir, "publishers.yaml")
	writeTestFile(t, publishersFile, `
publishers:
  - id: hook
    type: http
    http:
      url: `+sink.URL+`
`)

	cfg := &config.Config{
		TargetsFile:            targetsFile,
		PublishersFile:         publishersFile,
		RunOnce:                true,
		ProbeInterval:          time.Minute,
		StorageType:            "bbolt",
		BBoltPath:              filepath.Join(dir, "data", "probe.db"),
		StorageTTL:             time.Hour,
		StorageCleanupInterval: time.Hour,
	}

	for pass := 0; pass < 2; pass++ {
		p, err := NewProber(context.Background(), cfg, nil)
		if err != nil {
			t.Fatalf("NewProber: %v", err)
		}
		if err := p.Run(context.Background()); err != nil {
			t.Fatalf("Run pass %d: %v", pass, err)
		}
	}

	hookMu.Lock()
	defer hookMu.Unlock()
	if len(hook) != 2 {
		t.Fatalf("expected one event per target across both passes, got %d", len(hook))
	}
}

func TestNewProberRequiresConfig(t *testing.T) {
	if _, err := NewProber(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	if _, err := NewProber(context.Background(), &config.Config{TargetsFile: "/nonexistent/targets.yaml"}, nil); err == nil {
		t.Fatalf("expected error for missing targets file")
	}
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
