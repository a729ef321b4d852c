package client

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	offlinecache "github.com/audiomark/offline-cache"
	"github.com/audiomark/offline-cache/metastore"
)

// DefaultDispatchDelay spaces out pre-fetch commands so a large playlist
// does not saturate the network with parallel jobs.
const DefaultDispatchDelay = 250 * time.Millisecond

// Prefetcher turns "make this playlist available offline" into a sequence
// of CACHE_FOR_OFFLINE commands: one per member audio plus one for the
// playlist's own listen page.
//
// The progress counter advances on dispatch, not on worker acknowledgement,
// so displayed progress can run ahead of actual caching completion. Tabs
// that want ground truth subscribe for CACHE_COMPLETE broadcasts instead.
type Prefetcher struct {
	control *offlinecache.Controller
	routes  Routes
	delay   time.Duration
	logger  *slog.Logger

	mu         sync.Mutex
	completed  int
	total      int
	dispatched bool
}

// NewPrefetcher builds the bulk pre-fetch hook. A zero delay falls back to
// DefaultDispatchDelay; a nil logger discards output.
func NewPrefetcher(control *offlinecache.Controller, routes Routes, delay time.Duration, logger *slog.Logger) *Prefetcher {
	if delay <= 0 {
		delay = DefaultDispatchDelay
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Prefetcher{
		control: control,
		routes:  routes,
		delay:   delay,
		logger:  logger,
	}
}

// PlaylistForOffline dispatches the whole pre-fetch batch for a playlist.
// Dispatches are fire-and-forget; once issued there is no way to cancel the
// worker-side jobs, and a context cancellation only stops further
// dispatches.
func (p *Prefetcher) PlaylistForOffline(ctx context.Context, playlist metastore.PlaylistSnapshot) error {
	jobs := make([]offlinecache.Message, 0, len(playlist.AudioIDs)+1)
	for _, audioID := range playlist.AudioIDs {
		jobs = append(jobs, offlinecache.Message{
			Type:     offlinecache.MsgCacheForOffline,
			PageURL:  p.routes.AudioListenPage(audioID),
			AudioURL: p.routes.AudioFile(audioID),
			TRPCURLs: []string{p.routes.MarkersQuery(audioID)},
		})
	}
	jobs = append(jobs, offlinecache.Message{
		Type:    offlinecache.MsgCacheForOffline,
		PageURL: p.routes.PlaylistListenPage(playlist.ID),
	})

	p.mu.Lock()
	p.completed = 0
	p.total = len(jobs)
	p.dispatched = false
	p.mu.Unlock()

	for i, job := range jobs {
		if i > 0 {
			select {
			case <-time.After(p.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := p.control.Send(ctx, job); err != nil {
			return err
		}

		p.mu.Lock()
		p.completed++
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.dispatched = true
	p.mu.Unlock()

	p.logger.Debug("playlist pre-fetch dispatched",
		"playlist", playlist.ID, "jobs", len(jobs))
	return nil
}

// Progress returns the optimistic (completed, total) dispatch counter.
func (p *Prefetcher) Progress() (completed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed, p.total
}

// AvailableOffline reports whether the whole batch has been dispatched.
func (p *Prefetcher) AvailableOffline() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dispatched
}
