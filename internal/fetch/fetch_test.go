package fetch

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/clinformatics/rxmeta/internal/observability/metrics"
)

// scriptedTransport serves canned responses and counts remote calls.
type scriptedTransport struct {
	mu        sync.Mutex
	responses map[string][]byte
	errs      map[string]error
	calls     map[string]int
	delay     time.Duration
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{
		responses: make(map[string][]byte),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (s *scriptedTransport) Get(ctx context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	s.calls[url]++
	err := s.errs[url]
	body := s.responses[url]
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, &StatusError{Code: http.StatusNotFound, URL: url}
	}
	return body, nil
}

func (s *scriptedTransport) callCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

func newTestFetcher(t *testing.T, transport Transport) (*Fetcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rxcui.cache")
	cache, err := OpenFileCache(path, nil)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	cfg := Config{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
	return New(cache, transport, nil, cfg, nil, nil), path
}

func TestFetchCachesResponse(t *testing.T) {
	transport := newScriptedTransport()
	transport.responses["u1"] = []byte(`{"a":1}`)
	f, _ := newTestFetcher(t, transport)

	first, err := f.Fetch(context.Background(), "u1")
	if err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}

	second, err := f.Fetch(context.Background(), "u1")
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}

	if string(first) != string(second) {
		t.Errorf("cache returned different body: %q vs %q", first, second)
	}
	if n := transport.callCount("u1"); n != 1 {
		t.Errorf("expected 1 remote call, got %d", n)
	}
}

func TestFetchWriteBeforeReturn(t *testing.T) {
	transport := newScriptedTransport()
	transport.responses["u1"] = []byte(`{"a":1}`)
	f, path := newTestFetcher(t, transport)

	if _, err := f.Fetch(context.Background(), "u1"); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	// A fresh cache over the same file must serve the entry with no remote.
	cache, err := OpenFileCache(path, nil)
	if err != nil {
		t.Fatalf("reopen cache: %v", err)
	}
	defer cache.Close()

	body, ok, err := cache.Get("u1")
	if err != nil {
		t.Fatalf("cache get: %v", err)
	}
	if !ok {
		t.Fatal("expected entry persisted before Fetch returned")
	}
	if string(body) != `{"a":1}` {
		t.Errorf("unexpected persisted body %q", body)
	}
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	transport := newScriptedTransport()
	transport.errs["u1"] = &StatusError{Code: http.StatusServiceUnavailable, URL: "u1"}
	f, _ := newTestFetcher(t, transport)

	_, err := f.Fetch(context.Background(), "u1")
	if !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable, got %v", err)
	}
	if n := transport.callCount("u1"); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	transport := newScriptedTransport()
	f, _ := newTestFetcher(t, transport) // 404 for unknown URLs

	_, err := f.Fetch(context.Background(), "missing")
	if !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("expected wrapped unavailable error, got %v", err)
	}
	if n := transport.callCount("missing"); n != 1 {
		t.Errorf("expected 1 attempt for a 404, got %d", n)
	}
}

func TestConcurrentFetchesCollapse(t *testing.T) {
	transport := newScriptedTransport()
	transport.responses["u1"] = []byte(`{"a":1}`)
	transport.delay = 20 * time.Millisecond
	f, _ := newTestFetcher(t, transport)

	var wg sync.WaitGroup
	var failures int64
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.Fetch(context.Background(), "u1"); err != nil {
				atomic.AddInt64(&failures, 1)
			}
		}()
	}
	wg.Wait()

	if failures != 0 {
		t.Fatalf("%d concurrent fetches failed", failures)
	}
	if n := transport.callCount("u1"); n != 1 {
		t.Errorf("expected concurrent fetches to collapse to 1 remote call, got %d", n)
	}
}

// unregisteredMetrics builds counters outside the default registry so tests
// can read them in isolation.
func unregisteredMetrics() *metrics.Metrics {
	return &metrics.Metrics{
		RemoteRequests: prometheus.NewCounter(prometheus.CounterOpts{Name: "remote_requests"}),
		RemoteFailures: prometheus.NewCounter(prometheus.CounterOpts{Name: "remote_failures"}),
		CacheHits:      prometheus.NewCounter(prometheus.CounterOpts{Name: "cache_hits"}),
		CacheMisses:    prometheus.NewCounter(prometheus.CounterOpts{Name: "cache_misses"}),
		FetchDuration:  prometheus.NewHistogram(prometheus.HistogramOpts{Name: "fetch_duration"}),
	}
}

func TestConcurrentFetchesCountOneMiss(t *testing.T) {
	transport := newScriptedTransport()
	transport.responses["u1"] = []byte(`{"a":1}`)
	transport.delay = 20 * time.Millisecond

	path := filepath.Join(t.TempDir(), "rxcui.cache")
	cache, err := OpenFileCache(path, nil)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	m := unregisteredMetrics()
	cfg := Config{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
	f := New(cache, transport, nil, cfg, m, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.Fetch(context.Background(), "u1"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	// One remote call means one miss, however many callers collapsed onto it.
	if got := testutil.ToFloat64(m.CacheMisses); got != 1 {
		t.Errorf("cache misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RemoteRequests); got != 1 {
		t.Errorf("remote requests = %v, want 1", got)
	}
}

func TestCacheRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cache")
	if err := os.WriteFile(path, []byte("url-only\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFileCache(path, nil); err == nil {
		t.Error("expected malformed cache file to fail open")
	}
}

func TestCacheFormatRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rt.cache")
	cache, err := OpenFileCache(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	entries := map[string]string{
		"https://example/a": `{"x":1}`,
		"https://example/b": `{"y":[1,2,3]}`,
	}
	for url, body := range entries {
		if err := cache.Put(url, []byte(body)); err != nil {
			t.Fatalf("put %s: %v", url, err)
		}
	}
	cache.Close()

	reopened, err := OpenFileCache(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.Len() != len(entries) {
		t.Fatalf("expected %d entries, got %d", len(entries), reopened.Len())
	}
	for url, body := range entries {
		got, ok, err := reopened.Get(url)
		if err != nil || !ok {
			t.Fatalf("get %s: ok=%v err=%v", url, ok, err)
		}
		if string(got) != body {
			t.Errorf("entry %s: got %q want %q", url, got, body)
		}
	}
}
