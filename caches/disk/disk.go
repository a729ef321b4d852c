// Package disk provides filesystem-backed cache namespaces, sized for audio
// blobs that should survive process restarts.
package disk

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	offlinecache "github.com/audiomark/offline-cache"
)

// Store is one on-disk namespace. Entries are fanned out into 256
// subdirectories by the first byte of the hashed key, with a sidecar .meta
// file carrying the original key and store time. Writes go to a temp file
// and are renamed into place, so a partially written entry is never
// observable; a file lock makes that safe across processes sharing the
// cache directory.
type Store struct {
	dir    string
	lock   *flock.Flock
	logger *slog.Logger
}

func newStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating namespace directory: %w", err)
	}
	return &Store{
		dir:    dir,
		lock:   flock.New(filepath.Join(dir, ".lock")),
		logger: logger,
	}, nil
}

func (s *Store) entryPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	hexKey := hex.EncodeToString(sum[:])
	return filepath.Join(s.dir, hexKey[:2], hexKey)
}

func (s *Store) Get(_ context.Context, key string) (*offlinecache.Item, error) {
	path := s.entryPath(key)

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, offlinecache.ErrNotFound
		}
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}

	item := &offlinecache.Item{Response: raw}
	if meta, err := readMeta(path + ".meta"); err == nil {
		item.StoredAt = meta.storedAt
	} else {
		s.logger.Warn("cache entry missing metadata", "path", path, "error", err)
	}
	return item, nil
}

func (s *Store) Set(_ context.Context, key string, item *offlinecache.Item) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquiring namespace lock: %w", err)
	}
	defer s.lock.Unlock()

	path := s.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating fan-out directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, item.Response, 0o644); err != nil {
		return fmt.Errorf("writing temp entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming entry: %w", err)
	}

	if err := writeMeta(path+".meta", key, item.StoredAt); err != nil {
		// Data is in place; a lost sidecar only costs the key listing.
		s.logger.Warn("writing cache metadata failed", "path", path, "error", err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquiring namespace lock: %w", err)
	}
	defer s.lock.Unlock()

	path := s.entryPath(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing entry: %w", err)
	}
	if err := os.Remove(path + ".meta"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing metadata: %w", err)
	}
	return nil
}

func (s *Store) Keys(_ context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".meta") {
			return nil
		}
		meta, err := readMeta(path)
		if err != nil {
			s.logger.Warn("skipping corrupt cache metadata", "path", path, "error", err)
			return nil
		}
		keys = append(keys, meta.key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking namespace directory: %w", err)
	}
	return keys, nil
}

type meta struct {
	key      string
	storedAt time.Time
}

// Sidecar format: key:<base64>\ntime:<unix>\n. The key is base64-encoded
// because content-keyed entries can embed arbitrary request bodies.
func writeMeta(path, key string, storedAt time.Time) error {
	content := fmt.Sprintf("key:%s\ntime:%d\n",
		base64.StdEncoding.EncodeToString([]byte(key)), storedAt.Unix())

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing temp metadata: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming metadata: %w", err)
	}
	return nil
}

func readMeta(path string) (*meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m meta
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "key:"):
			raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(line, "key:"))
			if err != nil {
				return nil, fmt.Errorf("decoding key: %w", err)
			}
			m.key = string(raw)
		case strings.HasPrefix(line, "time:"):
			unix, err := strconv.ParseInt(strings.TrimPrefix(line, "time:"), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing time: %w", err)
			}
			m.storedAt = time.Unix(unix, 0).UTC()
		}
	}
	if m.key == "" {
		return nil, fmt.Errorf("metadata missing key field")
	}
	return &m, nil
}

// Provider maps namespace names to directories under a common root.
type Provider struct {
	root   string
	logger *slog.Logger
}

// NewProvider creates a disk provider rooted at dir. A nil logger falls
// back to slog.Default.
func NewProvider(dir string, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving cache root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}
	return &Provider{root: abs, logger: logger}, nil
}

func (p *Provider) Open(_ context.Context, name string) (offlinecache.Store, error) {
	return newStore(filepath.Join(p.root, name), p.logger)
}

func (p *Provider) Names(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return nil, fmt.Errorf("reading cache root: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (p *Provider) Drop(_ context.Context, name string) error {
	if err := os.RemoveAll(filepath.Join(p.root, name)); err != nil {
		return fmt.Errorf("removing namespace directory: %w", err)
	}
	return nil
}
