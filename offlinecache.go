// Package offlinecache implements the offline caching layer for the
// audio-marker app: a strategy-dispatching HTTP cache over named, versioned
// cache namespaces, plus the lifecycle and control protocol that keep those
// namespaces populated across deploys.
package offlinecache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("cache item not found")
)

// Item is a stored request/response pair. Response holds the full wire form
// of the response (status line, headers, body) as produced by
// httputil.DumpResponse.
type Item struct {
	Response []byte
	StoredAt time.Time
}

// Store is a single cache namespace. Implementations must provide atomic
// per-key writes; concurrent writers to the same key race and the last
// write wins.
type Store interface {
	Get(ctx context.Context, key string) (*Item, error)
	Set(ctx context.Context, key string, item *Item) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Provider creates and enumerates cache namespaces by name. Namespaces are
// created lazily on first Open and destroyed with Drop during activation
// cleanup.
type Provider interface {
	Open(ctx context.Context, name string) (Store, error)
	Names(ctx context.Context) ([]string, error)
	Drop(ctx context.Context, name string) error
}
