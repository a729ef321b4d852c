package offlinecache_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"strings"
	"testing"
	"time"

	offlinecache "github.com/audiomark/offline-cache"
	"github.com/audiomark/offline-cache/caches/local"
)

// errorTransport simulates a dead network.
type errorTransport struct{}

func (errorTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("network unreachable")
}

func newLayer(t *testing.T, wrapped http.RoundTripper) (*http.Client, *offlinecache.Registry, *offlinecache.Transport) {
	t.Helper()

	registry := offlinecache.NewRegistry(offlinecache.DefaultConfig(), local.NewProvider())
	rt := offlinecache.New(registry, nil, nil)(wrapped)
	ct, ok := rt.(*offlinecache.Transport)
	if !ok {
		t.Fatalf("expected *offlinecache.Transport, got %T", rt)
	}
	return &http.Client{Transport: rt}, registry, ct
}

func seed(t *testing.T, registry *offlinecache.Registry, scope offlinecache.Scope, key, body string) {
	t.Helper()

	resp := &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
	raw, err := httputil.DumpResponse(resp, true)
	if err != nil {
		t.Fatalf("dumping seed response: %v", err)
	}

	store, err := registry.Open(context.Background(), scope)
	if err != nil {
		t.Fatalf("opening %s namespace: %v", scope, err)
	}
	if err := store.Set(context.Background(), key, &offlinecache.Item{Response: raw, StoredAt: time.Now()}); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}
}

func cachedBody(t *testing.T, registry *offlinecache.Registry, scope offlinecache.Scope, key string) (string, bool) {
	t.Helper()

	store, err := registry.Open(context.Background(), scope)
	if err != nil {
		t.Fatalf("opening %s namespace: %v", scope, err)
	}
	item, err := store.Get(context.Background(), key)
	if err != nil {
		return "", false
	}
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(item.Response)), nil)
	if err != nil {
		t.Fatalf("decoding cached response: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading cached body: %v", err)
	}
	return string(body), true
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return string(body)
}

func TestCacheFirstFetchesOnce(t *testing.T) {
	t.Parallel()

	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requestCount++
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("audio bytes"))
	}))
	defer server.Close()

	client, _, _ := newLayer(t, http.DefaultTransport)
	url := server.URL + "/api/audio/abc123/file"

	resp1, err := client.Get(url)
	if err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if got := readBody(t, resp1); got != "audio bytes" {
		t.Errorf("expected audio bytes, got %q", got)
	}

	resp2, err := client.Get(url)
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	if got := readBody(t, resp2); got != "audio bytes" {
		t.Errorf("expected cached audio bytes, got %q", got)
	}

	if requestCount != 1 {
		t.Errorf("expected 1 network fetch across two requests, got %d", requestCount)
	}
}

func TestSWRServesCachedWithoutAwaitingNetwork(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("fresh page"))
	}))
	defer server.Close()

	client, registry, ct := newLayer(t, http.DefaultTransport)
	url := server.URL + "/audios/abc123/listen"
	seed(t, registry, offlinecache.ScopeDynamic, "GET#"+url, "stale page")

	start := time.Now()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	elapsed := time.Since(start)

	if got := readBody(t, resp); got != "stale page" {
		t.Errorf("expected the cached page, got %q", got)
	}
	if elapsed > time.Second {
		t.Errorf("cached response was delayed by the background refresh: %v", elapsed)
	}

	// Let the background refresh complete and verify it updated the cache.
	close(release)
	ct.Wait()

	if got, ok := cachedBody(t, registry, offlinecache.ScopeDynamic, "GET#"+url); !ok || got != "fresh page" {
		t.Errorf("expected refreshed cache entry %q, got %q (found=%v)", "fresh page", got, ok)
	}
}

func TestContentKeyedQueriesAreDistinct(t *testing.T) {
	t.Parallel()

	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(string(body) + "#serial-" + string(rune('0'+requestCount))))
	}))
	defer server.Close()

	client, registry, ct := newLayer(t, http.DefaultTransport)
	url := server.URL + "/api/trpc/marker.getMarkers"

	post := func(body string) string {
		req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
		if err != nil {
			t.Fatalf("building request: %v", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		return readBody(t, resp)
	}

	first := post(`{"audioId":"x"}`)
	second := post(`{"audioId":"y"}`)
	ct.Wait()

	if first == second {
		t.Fatalf("expected distinct responses for distinct bodies, both were %q", first)
	}

	store, err := registry.Open(context.Background(), offlinecache.ScopeQuery)
	if err != nil {
		t.Fatalf("opening query namespace: %v", err)
	}
	keys, err := store.Keys(context.Background())
	if err != nil {
		t.Fatalf("listing query namespace: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 distinct cache entries, got %d: %v", len(keys), keys)
	}

	// The repeat of the first body is served from its own cache slot.
	third := post(`{"audioId":"x"}`)
	if third != first {
		t.Errorf("expected the first cached payload %q, got %q", first, third)
	}
	ct.Wait()
}

func TestNon200ResponsesAreNeverCached(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "gone") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, registry, ct := newLayer(t, http.DefaultTransport)

	urls := []string{
		server.URL + "/api/audio/gone/file",       // cache-first
		server.URL + "/assets/gone.css",           // cache-first static
		server.URL + "/audios/gone/listen",        // stale-while-revalidate
		server.URL + "/api/playlists",             // network-first
		server.URL + "/api/trpc/marker.getMarkers", // content-keyed
	}
	for _, u := range urls {
		resp, err := client.Get(u)
		if err != nil {
			t.Fatalf("request %s failed: %v", u, err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			t.Fatalf("test server should not return 200 for %s", u)
		}
	}
	ct.Wait()

	for _, scope := range offlinecache.Scopes {
		store, err := registry.Open(context.Background(), scope)
		if err != nil {
			t.Fatalf("opening %s namespace: %v", scope, err)
		}
		keys, err := store.Keys(context.Background())
		if err != nil {
			t.Fatalf("listing %s namespace: %v", scope, err)
		}
		if len(keys) != 0 {
			t.Errorf("expected empty %s namespace, found keys %v", scope, keys)
		}
	}
}

func TestNavigationFallsBackToOfflinePage(t *testing.T) {
	t.Parallel()

	client, registry, _ := newLayer(t, errorTransport{})
	seed(t, registry, offlinecache.ScopeStatic,
		"GET#https://example.com/offline.html", "<h1>offline page</h1>")

	req, err := http.NewRequest(http.MethodGet, "https://example.com/playlists", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("navigation must not surface a transport error: %v", err)
	}
	if got := readBody(t, resp); got != "<h1>offline page</h1>" {
		t.Errorf("expected the pre-cached offline page, got %q", got)
	}
}

func TestAPIFallsBackToPlain503(t *testing.T) {
	t.Parallel()

	client, _, _ := newLayer(t, errorTransport{})

	resp, err := client.Get("https://example.com/api/playlists")
	if err != nil {
		t.Fatalf("API call must not surface a transport error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("expected plain-text fallback, got %q", ct)
	}
}

func TestQueryMissReturnsJSON503(t *testing.T) {
	t.Parallel()

	client, _, _ := newLayer(t, errorTransport{})

	req, err := http.NewRequest(http.MethodPost,
		"https://example.com/api/trpc/marker.getMarkers", strings.NewReader(`{"audioId":"x"}`))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("query must not surface a transport error: %v", err)
	}

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON fallback, got %q", ct)
	}
	if got := readBody(t, resp); got != `{"error":"Offline - data not cached"}` {
		t.Errorf("unexpected fallback body %q", got)
	}
}

func TestNetworkFirstFallsBackToCache(t *testing.T) {
	t.Parallel()

	client, registry, _ := newLayer(t, errorTransport{})
	url := "https://example.com/api/playlists"
	seed(t, registry, offlinecache.ScopeGeneric, "GET#"+url, `[{"id":"p1"}]`)

	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if got := readBody(t, resp); got != `[{"id":"p1"}]` {
		t.Errorf("expected the cached payload, got %q", got)
	}
}

func TestPassThroughNeverTouchesNamespaces(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("created"))
	}))
	defer server.Close()

	client, registry, ct := newLayer(t, http.DefaultTransport)

	resp, err := client.Post(server.URL+"/api/audio", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	ct.Wait()

	for _, scope := range offlinecache.Scopes {
		store, err := registry.Open(context.Background(), scope)
		if err != nil {
			t.Fatalf("opening %s namespace: %v", scope, err)
		}
		keys, err := store.Keys(context.Background())
		if err != nil {
			t.Fatalf("listing %s namespace: %v", scope, err)
		}
		if len(keys) != 0 {
			t.Errorf("mutation leaked into %s namespace: %v", scope, keys)
		}
	}
}
