package offlinecache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
	"sync"
	"time"
)

// Phase is the lifecycle state of one worker version.
type Phase int

const (
	// PhaseNew is the state before install has run.
	PhaseNew Phase = iota
	// PhaseInstalled means the static namespace is fully pre-populated and
	// this version may take over once activated.
	PhaseInstalled
	// PhaseActive means stale namespaces are gone and this version serves
	// all requests.
	PhaseActive
)

// Lifecycle drives a cache version through install, activation and
// steady-state. Install pre-populates the static namespace from the
// manifest; activation deletes every namespace left over from a previous
// version. Version-string change is the only eviction mechanism.
type Lifecycle struct {
	registry *Registry
	network  http.RoundTripper
	origin   string
	logger   *slog.Logger

	mu          sync.Mutex
	phase       Phase
	skipWaiting bool
}

// NewLifecycle builds a lifecycle manager. origin is the single origin the
// app is served from, eg. "https://audiomark.app"; manifest paths are
// resolved against it. A nil logger discards output.
func NewLifecycle(registry *Registry, network http.RoundTripper, origin string, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Lifecycle{
		registry: registry,
		network:  network,
		origin:   strings.TrimSuffix(origin, "/"),
		logger:   logger,
	}
}

// State returns the current lifecycle phase.
func (l *Lifecycle) State() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// Install fetches every manifest entry and writes the set into the static
// namespace. The phase fails if any entry fails to fetch: a partial static
// cache would mask missing assets later, so nothing is persisted unless
// everything fetched. On success the version is eligible to skip waiting.
func (l *Lifecycle) Install(ctx context.Context) error {
	type entry struct {
		key string
		raw []byte
	}

	entries := make([]entry, 0, len(l.registry.cfg.PrecacheManifest))
	for _, p := range l.registry.cfg.PrecacheManifest {
		url := l.origin + p
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("building manifest request %s: %w", url, err)
		}

		resp, err := l.network.RoundTrip(req)
		if err != nil {
			return fmt.Errorf("fetching manifest entry %s: %w", url, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("fetching manifest entry %s: unexpected status %d", url, resp.StatusCode)
		}

		raw, err := httputil.DumpResponse(resp, true)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("serializing manifest entry %s: %w", url, err)
		}
		entries = append(entries, entry{key: http.MethodGet + "#" + url, raw: raw})
	}

	store, err := l.registry.Open(ctx, ScopeStatic)
	if err != nil {
		return fmt.Errorf("opening static namespace: %w", err)
	}
	for _, e := range entries {
		if err := store.Set(ctx, e.key, &Item{Response: e.raw, StoredAt: time.Now().UTC()}); err != nil {
			return fmt.Errorf("pre-caching %s: %w", e.key, err)
		}
	}

	l.mu.Lock()
	l.phase = PhaseInstalled
	l.skipWaiting = true
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "install complete",
		"version", l.registry.cfg.Version, "precached", len(entries))
	return nil
}

// Activate enumerates every existing namespace and deletes the ones that
// belong to this app but carry a stale version tag. Afterwards this version
// claims steady-state serving.
func (l *Lifecycle) Activate(ctx context.Context) error {
	names, err := l.registry.Names(ctx)
	if err != nil {
		return fmt.Errorf("enumerating namespaces: %w", err)
	}

	for _, name := range names {
		if !l.registry.IsStale(name) {
			continue
		}
		l.logger.InfoContext(ctx, "deleting stale namespace", "name", name)
		if err := l.registry.Drop(ctx, name); err != nil {
			return fmt.Errorf("deleting stale namespace %s: %w", name, err)
		}
	}

	l.mu.Lock()
	l.phase = PhaseActive
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "activation complete", "version", l.registry.cfg.Version)
	return nil
}

// SkipWaiting forces the install-to-activate transition for an installed
// version instead of waiting for the previous one to wind down.
func (l *Lifecycle) SkipWaiting(ctx context.Context) error {
	l.mu.Lock()
	phase := l.phase
	l.mu.Unlock()

	if phase != PhaseInstalled {
		return nil
	}
	return l.Activate(ctx)
}
