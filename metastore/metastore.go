// Package metastore persists denormalized snapshots of domain entities
// (audio metadata, markers, playlist membership) for offline rendering.
// It is separate from the HTTP response cache: the response cache stores
// opaque bytes, this store holds structured rows the UI can read when both
// network and response cache miss.
package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// AudioSnapshot is a denormalized copy of an audio entity.
type AudioSnapshot struct {
	ID              string
	Title           string
	DurationSeconds float64
	FileURL         string
	CachedAt        time.Time
}

// MarkerSnapshot is a timestamped marker on an audio.
type MarkerSnapshot struct {
	ID              string
	AudioID         string
	Label           string
	PositionSeconds float64
	CachedAt        time.Time
}

// PlaylistSnapshot is a playlist with its member audio ids.
type PlaylistSnapshot struct {
	ID       string
	Name     string
	AudioIDs []string
	CachedAt time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS audio_snapshots (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	duration_seconds REAL NOT NULL,
	file_url TEXT NOT NULL,
	cached_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS marker_snapshots (
	id TEXT PRIMARY KEY,
	audio_id TEXT NOT NULL,
	label TEXT NOT NULL,
	position_seconds REAL NOT NULL,
	cached_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_marker_snapshots_audio_id ON marker_snapshots (audio_id);
CREATE TABLE IF NOT EXISTS playlist_snapshots (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	audio_ids_json TEXT NOT NULL,
	cached_at INTEGER NOT NULL
);
`

// Store provides SQLite-backed persistence for offline snapshots.
//
// Every method tolerates a nil or unopened store: reads report not-found
// and writes are dropped. Environments without local storage degrade to
// "nothing cached" instead of surfacing storage errors to the UI.
type Store struct {
	sqlDB *sql.DB

	now func() time.Time
}

// Open opens and migrates an offline snapshot SQLite store.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) unavailable() bool {
	return s == nil || s.sqlDB == nil
}

func (s *Store) cachedAt(t time.Time) int64 {
	if t.IsZero() {
		t = s.now()
	}
	return t.UnixMilli()
}

// PutAudio upserts an audio snapshot by id. Last write wins.
func (s *Store) PutAudio(ctx context.Context, a AudioSnapshot) error {
	if s.unavailable() || a.ID == "" {
		return nil
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO audio_snapshots (id, title, duration_seconds, file_url, cached_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			duration_seconds = excluded.duration_seconds,
			file_url = excluded.file_url,
			cached_at = excluded.cached_at`,
		a.ID, a.Title, a.DurationSeconds, a.FileURL, s.cachedAt(a.CachedAt),
	)
	if err != nil {
		return fmt.Errorf("put audio snapshot: %w", err)
	}
	return nil
}

// GetAudio loads an audio snapshot by id.
func (s *Store) GetAudio(ctx context.Context, id string) (AudioSnapshot, bool, error) {
	if s.unavailable() {
		return AudioSnapshot{}, false, nil
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, title, duration_seconds, file_url, cached_at
		 FROM audio_snapshots WHERE id = ?`, id)

	var a AudioSnapshot
	var cachedAt int64
	if err := row.Scan(&a.ID, &a.Title, &a.DurationSeconds, &a.FileURL, &cachedAt); err != nil {
		if err == sql.ErrNoRows {
			return AudioSnapshot{}, false, nil
		}
		return AudioSnapshot{}, false, fmt.Errorf("get audio snapshot: %w", err)
	}
	a.CachedAt = time.UnixMilli(cachedAt).UTC()
	return a, true, nil
}

// ListAudios returns every audio snapshot.
func (s *Store) ListAudios(ctx context.Context) ([]AudioSnapshot, error) {
	if s.unavailable() {
		return nil, nil
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, title, duration_seconds, file_url, cached_at
		 FROM audio_snapshots ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list audio snapshots: %w", err)
	}
	defer rows.Close()

	var out []AudioSnapshot
	for rows.Next() {
		var a AudioSnapshot
		var cachedAt int64
		if err := rows.Scan(&a.ID, &a.Title, &a.DurationSeconds, &a.FileURL, &cachedAt); err != nil {
			return nil, fmt.Errorf("scan audio snapshot: %w", err)
		}
		a.CachedAt = time.UnixMilli(cachedAt).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAudio removes an audio snapshot by id.
func (s *Store) DeleteAudio(ctx context.Context, id string) error {
	if s.unavailable() {
		return nil
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM audio_snapshots WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete audio snapshot: %w", err)
	}
	return nil
}

// PutMarker upserts a marker snapshot by id. Last write wins.
func (s *Store) PutMarker(ctx context.Context, m MarkerSnapshot) error {
	if s.unavailable() || m.ID == "" {
		return nil
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO marker_snapshots (id, audio_id, label, position_seconds, cached_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			audio_id = excluded.audio_id,
			label = excluded.label,
			position_seconds = excluded.position_seconds,
			cached_at = excluded.cached_at`,
		m.ID, m.AudioID, m.Label, m.PositionSeconds, s.cachedAt(m.CachedAt),
	)
	if err != nil {
		return fmt.Errorf("put marker snapshot: %w", err)
	}
	return nil
}

// MarkersForAudio returns every marker snapshot for one audio, ordered by
// position.
func (s *Store) MarkersForAudio(ctx context.Context, audioID string) ([]MarkerSnapshot, error) {
	if s.unavailable() {
		return nil, nil
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, audio_id, label, position_seconds, cached_at
		 FROM marker_snapshots WHERE audio_id = ? ORDER BY position_seconds`, audioID)
	if err != nil {
		return nil, fmt.Errorf("list marker snapshots: %w", err)
	}
	defer rows.Close()

	var out []MarkerSnapshot
	for rows.Next() {
		var m MarkerSnapshot
		var cachedAt int64
		if err := rows.Scan(&m.ID, &m.AudioID, &m.Label, &m.PositionSeconds, &cachedAt); err != nil {
			return nil, fmt.Errorf("scan marker snapshot: %w", err)
		}
		m.CachedAt = time.UnixMilli(cachedAt).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMarker removes a marker snapshot by id.
func (s *Store) DeleteMarker(ctx context.Context, id string) error {
	if s.unavailable() {
		return nil
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM marker_snapshots WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete marker snapshot: %w", err)
	}
	return nil
}

// PutPlaylist upserts a playlist snapshot by id. Last write wins.
func (s *Store) PutPlaylist(ctx context.Context, p PlaylistSnapshot) error {
	if s.unavailable() || p.ID == "" {
		return nil
	}

	audioIDs, err := json.Marshal(p.AudioIDs)
	if err != nil {
		return fmt.Errorf("encode playlist members: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO playlist_snapshots (id, name, audio_ids_json, cached_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			audio_ids_json = excluded.audio_ids_json,
			cached_at = excluded.cached_at`,
		p.ID, p.Name, string(audioIDs), s.cachedAt(p.CachedAt),
	)
	if err != nil {
		return fmt.Errorf("put playlist snapshot: %w", err)
	}
	return nil
}

// GetPlaylist loads a playlist snapshot by id.
func (s *Store) GetPlaylist(ctx context.Context, id string) (PlaylistSnapshot, bool, error) {
	if s.unavailable() {
		return PlaylistSnapshot{}, false, nil
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, audio_ids_json, cached_at
		 FROM playlist_snapshots WHERE id = ?`, id)

	var p PlaylistSnapshot
	var audioIDs string
	var cachedAt int64
	if err := row.Scan(&p.ID, &p.Name, &audioIDs, &cachedAt); err != nil {
		if err == sql.ErrNoRows {
			return PlaylistSnapshot{}, false, nil
		}
		return PlaylistSnapshot{}, false, fmt.Errorf("get playlist snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(audioIDs), &p.AudioIDs); err != nil {
		return PlaylistSnapshot{}, false, fmt.Errorf("decode playlist members: %w", err)
	}
	p.CachedAt = time.UnixMilli(cachedAt).UTC()
	return p, true, nil
}

// ListPlaylists returns every playlist snapshot.
func (s *Store) ListPlaylists(ctx context.Context) ([]PlaylistSnapshot, error) {
	if s.unavailable() {
		return nil, nil
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, name, audio_ids_json, cached_at
		 FROM playlist_snapshots ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list playlist snapshots: %w", err)
	}
	defer rows.Close()

	var out []PlaylistSnapshot
	for rows.Next() {
		var p PlaylistSnapshot
		var audioIDs string
		var cachedAt int64
		if err := rows.Scan(&p.ID, &p.Name, &audioIDs, &cachedAt); err != nil {
			return nil, fmt.Errorf("scan playlist snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(audioIDs), &p.AudioIDs); err != nil {
			return nil, fmt.Errorf("decode playlist members: %w", err)
		}
		p.CachedAt = time.UnixMilli(cachedAt).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePlaylist removes a playlist snapshot by id.
func (s *Store) DeletePlaylist(ctx context.Context, id string) error {
	if s.unavailable() {
		return nil
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM playlist_snapshots WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete playlist snapshot: %w", err)
	}
	return nil
}
