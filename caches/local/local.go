// Package local provides in-memory cache namespaces, used in tests and as
// the default backend when no persistent storage is configured.
package local

import (
	"context"
	"sync"

	offlinecache "github.com/audiomark/offline-cache"
)

// Store is a map-backed cache namespace guarded by an RWMutex.
type Store struct {
	mu    sync.RWMutex
	items map[string]*offlinecache.Item
}

// NewStore creates an empty in-memory namespace.
func NewStore() *Store {
	return &Store{items: make(map[string]*offlinecache.Item)}
}

func (s *Store) Get(_ context.Context, key string) (*offlinecache.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, found := s.items[key]
	if !found {
		return nil, offlinecache.ErrNotFound
	}
	return item, nil
}

func (s *Store) Set(_ context.Context, key string, item *offlinecache.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = item
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

func (s *Store) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	return keys, nil
}

// Provider hands out in-memory namespaces by name.
type Provider struct {
	mu     sync.Mutex
	stores map[string]*Store
}

// NewProvider creates an empty in-memory namespace provider.
func NewProvider() *Provider {
	return &Provider{stores: make(map[string]*Store)}
}

func (p *Provider) Open(_ context.Context, name string) (offlinecache.Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	store, found := p.stores[name]
	if !found {
		store = NewStore()
		p.stores[name] = store
	}
	return store, nil
}

func (p *Provider) Names(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.stores))
	for n := range p.stores {
		names = append(names, n)
	}
	return names, nil
}

func (p *Provider) Drop(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.stores, name)
	return nil
}
