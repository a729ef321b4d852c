// Package postgres provides PostgreSQL-backed cache namespaces, for
// deployments where the cache must be shared across hosts.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"time"

	_ "github.com/lib/pq"

	offlinecache "github.com/audiomark/offline-cache"
)

var (
	// ErrPingFailed is returned if the initial ping to the database returns an error
	ErrPingFailed = errors.New("ping returned error")
)

var (
	//go:embed create_table.sql
	queryCreateTable string
	//go:embed fetch_item.sql
	queryFetchItem string
	//go:embed upsert_item.sql
	queryUpsertItem string
	//go:embed delete_item.sql
	queryDeleteItem string
	//go:embed list_keys.sql
	queryListKeys string
	//go:embed list_namespaces.sql
	queryListNamespaces string
	//go:embed drop_namespace.sql
	queryDropNamespace string
)

// Provider stores every namespace in one cache_entries table keyed by
// (namespace, cache_key). Upserts are atomic per key, which gives the
// last-write-wins discipline the strategies rely on.
type Provider struct {
	db *sql.DB

	now func() time.Time
}

// New creates a PostgreSQL-backed provider. It verifies the connection and
// creates the cache table if missing.
func New(ctx context.Context, db *sql.DB) (*Provider, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(ErrPingFailed, err)
	}

	if _, err := db.ExecContext(ctx, queryCreateTable); err != nil {
		return nil, err
	}

	return &Provider{
		db: db,

		now: time.Now,
	}, nil
}

func (p *Provider) Open(_ context.Context, name string) (offlinecache.Store, error) {
	return &Store{provider: p, namespace: name}, nil
}

func (p *Provider) Names(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, queryListNamespaces)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (p *Provider) Drop(ctx context.Context, name string) error {
	_, err := p.db.ExecContext(ctx, queryDropNamespace, name)
	return err
}

// Store is a single namespace view over the provider's table.
type Store struct {
	provider  *Provider
	namespace string
}

func (s *Store) Get(ctx context.Context, key string) (*offlinecache.Item, error) {
	row := s.provider.db.QueryRowContext(ctx, queryFetchItem, s.namespace, key)

	var item offlinecache.Item
	if err := row.Scan(&item.Response, &item.StoredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, offlinecache.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) Set(ctx context.Context, key string, item *offlinecache.Item) error {
	storedAt := item.StoredAt
	if storedAt.IsZero() {
		storedAt = s.provider.now().UTC()
	}

	_, err := s.provider.db.ExecContext(ctx, queryUpsertItem, s.namespace, key, item.Response, storedAt)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.provider.db.ExecContext(ctx, queryDeleteItem, s.namespace, key)
	return err
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.provider.db.QueryContext(ctx, queryListKeys, s.namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
