package client

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/audiomark/offline-cache/metastore"
)

// Mirror copies domain data into the offline snapshot store as a side
// effect of normal page loads. Writes run detached so rendering is never
// blocked on local storage; failures are logged and swallowed.
type Mirror struct {
	store  *metastore.Store
	logger *slog.Logger

	wg sync.WaitGroup
}

// NewMirror builds a mirror over the snapshot store. A nil logger discards
// output; a nil store turns every hook into a no-op.
func NewMirror(store *metastore.Store, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Mirror{store: store, logger: logger}
}

// AudioLoaded mirrors a freshly fetched audio entity.
func (m *Mirror) AudioLoaded(a metastore.AudioSnapshot) {
	m.detach(func(ctx context.Context) {
		if err := m.store.PutAudio(ctx, a); err != nil {
			m.logger.Warn("mirroring audio snapshot failed", "id", a.ID, "error", err)
		}
	})
}

// MarkersLoaded mirrors a freshly fetched marker set.
func (m *Mirror) MarkersLoaded(markers []metastore.MarkerSnapshot) {
	m.detach(func(ctx context.Context) {
		for _, marker := range markers {
			if err := m.store.PutMarker(ctx, marker); err != nil {
				m.logger.Warn("mirroring marker snapshot failed", "id", marker.ID, "error", err)
			}
		}
	})
}

// PlaylistLoaded mirrors a freshly fetched playlist.
func (m *Mirror) PlaylistLoaded(p metastore.PlaylistSnapshot) {
	m.detach(func(ctx context.Context) {
		if err := m.store.PutPlaylist(ctx, p); err != nil {
			m.logger.Warn("mirroring playlist snapshot failed", "id", p.ID, "error", err)
		}
	})
}

// Wait blocks until every in-flight mirror write has finished.
func (m *Mirror) Wait() {
	m.wg.Wait()
}

func (m *Mirror) detach(fn func(ctx context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(context.Background())
	}()
}
