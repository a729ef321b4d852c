package offlinecache

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
	"sync"
	"time"

	"github.com/audiomark/offline-cache/caches"
	"github.com/audiomark/offline-cache/metrics"
)

// Transport implements http.RoundTripper and dispatches each request to one
// of the four caching strategies based on the classifier's decision. It is
// the steady-state serving path: once the lifecycle has installed and
// activated the current version, every request the page issues flows
// through here.
type Transport struct {
	Wrapped http.RoundTripper

	registry *Registry
	cfg      Config
	logger   *slog.Logger
	tracker  *metrics.Tracker

	wg sync.WaitGroup
}

// New creates a transport middleware that adds the offline caching layer to
// an HTTP RoundTripper. Responses are stored in the registry's versioned
// namespaces; cache writes are best-effort and never fail the request.
//
// If the logger is nil, a no-op logger writing to io.Discard is used.
// If the tracker is nil, latency and hit-ratio tracking is skipped.
func New(
	registry *Registry,
	tracker *metrics.Tracker,
	logger *slog.Logger,
) func(http.RoundTripper) http.RoundTripper {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return func(rt http.RoundTripper) http.RoundTripper {
		return &Transport{
			Wrapped:  rt,
			registry: registry,
			cfg:      registry.cfg,
			logger:   logger,
			tracker:  tracker,
		}
	}
}

// RoundTrip classifies the request and executes the matching strategy.
// Pass-through requests reach the wrapped transport untouched.
func (c *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	d := Classify(c.cfg, r)
	if d.Strategy == StrategyPassThrough {
		return c.Wrapped.RoundTrip(r)
	}

	start := time.Now()
	defer func() {
		if c.tracker != nil {
			c.tracker.Record(d.Strategy.String(), time.Since(start))
		}
	}()

	switch d.Strategy {
	case StrategyCacheFirst:
		return c.cacheFirst(r, d)
	case StrategyNetworkFirst:
		return c.networkFirst(r, d)
	case StrategySWR:
		return c.staleWhileRevalidate(r, d, caches.Key(r))
	default: // StrategySWRContentKeyed
		return c.staleWhileRevalidate(r, d, caches.ContentKey(r))
	}
}

// Wait blocks until every detached cache write and background refresh has
// finished. Used at shutdown so in-flight stores are not torn down mid-write.
func (c *Transport) Wait() {
	c.wg.Wait()
}

// cacheFirst serves audio and static assets: a cached copy is returned
// without touching the network. On a miss the network response is stored
// before it is handed back, so the second request never fetches again.
// Network failure with no cached copy propagates to the caller.
func (c *Transport) cacheFirst(r *http.Request, d Decision) (*http.Response, error) {
	ctx := r.Context()
	key := caches.Key(r)

	if resp, ok := c.lookup(ctx, d.Scope, key, r); ok {
		c.hit(d.Scope)
		return resp, nil
	}
	c.miss(d.Scope)

	resp, err := c.Wrapped.RoundTrip(r)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusOK {
		c.store(ctx, d.Scope, key, resp)
	}
	return resp, nil
}

// networkFirst serves API calls and plain navigations: the network is always
// tried first and successful responses refresh the cache without delaying
// the caller. On network failure the cache is consulted; if that misses too,
// a response is synthesized so the caller never sees a raw transport error.
func (c *Transport) networkFirst(r *http.Request, d Decision) (*http.Response, error) {
	ctx := r.Context()
	key := caches.Key(r)

	resp, err := c.Wrapped.RoundTrip(r)
	if err == nil {
		if resp.StatusCode == http.StatusOK {
			c.storeDetached(ctx, d.Scope, key, resp)
		}
		return resp, nil
	}

	c.logger.DebugContext(ctx, "network fetch failed, falling back to cache",
		"url", r.URL.String(), "error", err)

	if cached, ok := c.lookup(ctx, d.Scope, key, r); ok {
		c.hit(d.Scope)
		return cached, nil
	}
	c.miss(d.Scope)

	if d.Navigation {
		return c.offlinePage(ctx, r), nil
	}
	return synthesize(r, http.StatusServiceUnavailable,
		"text/plain; charset=utf-8", "Offline"), nil
}

// staleWhileRevalidate serves listen pages and cacheable queries: a cached
// copy is returned immediately and a detached network fetch refreshes the
// namespace for next time. Without a cached copy the network fetch is
// awaited; on total failure queries get a JSON 503 and pages the offline
// fallback document.
func (c *Transport) staleWhileRevalidate(r *http.Request, d Decision, key string) (*http.Response, error) {
	ctx := r.Context()

	if cached, ok := c.lookup(ctx, d.Scope, key, r); ok {
		c.hit(d.Scope)
		c.refreshDetached(r, d.Scope, key)
		return cached, nil
	}
	c.miss(d.Scope)

	resp, err := c.Wrapped.RoundTrip(r)
	if err == nil {
		if resp.StatusCode == http.StatusOK {
			c.storeDetached(ctx, d.Scope, key, resp)
		}
		return resp, nil
	}

	c.logger.DebugContext(ctx, "network fetch failed with no cached copy",
		"url", r.URL.String(), "error", err)

	if d.Strategy == StrategySWRContentKeyed {
		return synthesize(r, http.StatusServiceUnavailable,
			"application/json", `{"error":"Offline - data not cached"}`), nil
	}
	return c.offlinePage(ctx, r), nil
}

// lookup reads and decodes a cached response. Read and decode failures are
// treated as cache misses.
func (c *Transport) lookup(ctx context.Context, scope Scope, key string, r *http.Request) (*http.Response, bool) {
	store, err := c.registry.Open(ctx, scope)
	if err != nil {
		c.logger.WarnContext(ctx, "opening cache namespace failed",
			"scope", string(scope), "error", err)
		return nil, false
	}

	item, err := store.Get(ctx, key)
	if err != nil {
		return nil, false
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(item.Response)), r)
	if err != nil {
		c.logger.WarnContext(ctx, "decoding cached response failed",
			"key", key, "error", err)
		return nil, false
	}
	return resp, true
}

// store persists a 200 response under the given key, reading and restoring
// its body so the caller can still consume it. Failures are logged and
// swallowed; the response already in flight is unaffected.
func (c *Transport) store(ctx context.Context, scope Scope, key string, resp *http.Response) {
	store, err := c.registry.Open(ctx, scope)
	if err != nil {
		c.logger.WarnContext(ctx, "opening cache namespace failed",
			"scope", string(scope), "error", err)
		return
	}

	raw, err := httputil.DumpResponse(resp, true)
	if err != nil {
		c.logger.WarnContext(ctx, "serializing response failed", "key", key, "error", err)
		return
	}

	if err := store.Set(ctx, key, &Item{Response: raw, StoredAt: time.Now().UTC()}); err != nil {
		c.logger.WarnContext(ctx, "caching response failed", "key", key, "error", err)
	}
}

// storeDetached serializes the response in-path (the body cannot be read
// concurrently with the caller) but performs the namespace write in a
// detached task, so returning the response is never blocked on storage.
func (c *Transport) storeDetached(ctx context.Context, scope Scope, key string, resp *http.Response) {
	raw, err := httputil.DumpResponse(resp, true)
	if err != nil {
		c.logger.WarnContext(ctx, "serializing response failed", "key", key, "error", err)
		return
	}

	storeCtx := context.WithoutCancel(ctx)
	c.detach(func() {
		store, err := c.registry.Open(storeCtx, scope)
		if err != nil {
			c.logger.Warn("opening cache namespace failed", "scope", string(scope), "error", err)
			return
		}
		if err := store.Set(storeCtx, key, &Item{Response: raw, StoredAt: time.Now().UTC()}); err != nil {
			c.logger.Warn("caching response failed", "key", key, "error", err)
		}
	})
}

// refreshDetached re-fetches the request in the background and stores a
// fresh 200 under the same key. The caller already holds the cached
// response; the refresh only serves the next request.
func (c *Transport) refreshDetached(r *http.Request, scope Scope, key string) {
	req := r.Clone(context.WithoutCancel(r.Context()))
	if r.GetBody != nil {
		body, err := r.GetBody()
		if err == nil {
			req.Body = body
		}
	}

	c.detach(func() {
		resp, err := c.Wrapped.RoundTrip(req)
		if err != nil {
			c.logger.Debug("background refresh failed", "url", req.URL.String(), "error", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return
		}
		c.store(req.Context(), scope, key, resp)
	})
}

// detach runs fn in a tracked goroutine that never lets a panic escape to
// the runtime.
func (c *Transport) detach(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				c.logger.Error("detached cache task panicked", "panic", rec)
			}
		}()
		fn()
	}()
}

// offlinePage serves the pre-cached offline document for failed navigations,
// synthesizing a minimal placeholder if install never ran on this profile.
func (c *Transport) offlinePage(ctx context.Context, r *http.Request) *http.Response {
	u := *r.URL
	u.Path = c.cfg.OfflinePagePath
	u.RawQuery = ""
	key := http.MethodGet + "#" + u.String()

	if cached, ok := c.lookup(ctx, ScopeStatic, key, r); ok {
		return cached
	}

	return synthesize(r, http.StatusServiceUnavailable,
		"text/html; charset=utf-8", "<!doctype html><title>Offline</title><h1>You are offline</h1>")
}

func (c *Transport) hit(scope Scope) {
	if c.tracker != nil {
		c.tracker.Hit(string(scope))
	}
}

func (c *Transport) miss(scope Scope) {
	if c.tracker != nil {
		c.tracker.Miss(string(scope))
	}
}

// synthesize builds a minimal response owned entirely by this layer, used
// when both the network and the cache have nothing to offer.
func synthesize(r *http.Request, status int, contentType, body string) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", contentType)

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}
}
