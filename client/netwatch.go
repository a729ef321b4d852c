package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// NetWatcher exposes an online/offline boolean for UI messaging. It carries
// no retry logic; recovery is inherent to the network-first and SWR
// strategies.
type NetWatcher struct {
	probe    func(ctx context.Context) bool
	interval time.Duration
	logger   *slog.Logger

	online  atomic.Bool
	changes chan bool
}

// NewNetWatcher builds a watcher around a connectivity probe. A nil probe
// reports always-online; a nil logger discards output.
func NewNetWatcher(probe func(ctx context.Context) bool, interval time.Duration, logger *slog.Logger) *NetWatcher {
	if probe == nil {
		probe = func(context.Context) bool { return true }
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	w := &NetWatcher{
		probe:    probe,
		interval: interval,
		logger:   logger,
		changes:  make(chan bool, 1),
	}
	w.online.Store(true)
	return w
}

// ProbeURL returns a probe that issues a HEAD request against the origin
// with a short timeout.
func ProbeURL(client *http.Client, url string) func(ctx context.Context) bool {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) bool {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}

// Run probes on the configured interval until the context is cancelled,
// publishing transitions on Changes.
func (w *NetWatcher) Run(ctx context.Context) {
	w.check(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// Online reports the last probed connectivity state.
func (w *NetWatcher) Online() bool {
	return w.online.Load()
}

// Changes delivers online/offline transitions. The channel is buffered; a
// missed transition is superseded by the next one.
func (w *NetWatcher) Changes() <-chan bool {
	return w.changes
}

func (w *NetWatcher) check(ctx context.Context) {
	online := w.probe(ctx)
	if w.online.Swap(online) == online {
		return
	}

	w.logger.Debug("network status changed", "online", online)
	select {
	case w.changes <- online:
	default:
	}
}
