package client_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/audiomark/offline-cache/client"
	"github.com/audiomark/offline-cache/metastore"
)

func TestMirrorWritesSnapshots(t *testing.T) {
	store, err := metastore.Open(filepath.Join(t.TempDir(), "snapshots.db"))
	if err != nil {
		t.Fatalf("opening snapshot store: %v", err)
	}
	defer store.Close()

	mirror := client.NewMirror(store, nil)
	mirror.AudioLoaded(metastore.AudioSnapshot{ID: "audio-1", Title: "Take one"})
	mirror.MarkersLoaded([]metastore.MarkerSnapshot{
		{ID: "m-1", AudioID: "audio-1", Label: "intro", PositionSeconds: 1},
		{ID: "m-2", AudioID: "audio-1", Label: "outro", PositionSeconds: 90},
	})
	mirror.PlaylistLoaded(metastore.PlaylistSnapshot{ID: "playlist-1", Name: "Drafts", AudioIDs: []string{"audio-1"}})
	mirror.Wait()

	ctx := context.Background()
	audio, ok, err := store.GetAudio(ctx, "audio-1")
	if err != nil || !ok {
		t.Fatalf("expected mirrored audio, ok=%v err=%v", ok, err)
	}
	if audio.Title != "Take one" {
		t.Errorf("unexpected title: %s", audio.Title)
	}

	markers, err := store.MarkersForAudio(ctx, "audio-1")
	if err != nil {
		t.Fatalf("listing markers: %v", err)
	}
	if len(markers) != 2 {
		t.Errorf("expected 2 mirrored markers, got %d", len(markers))
	}

	playlist, ok, err := store.GetPlaylist(ctx, "playlist-1")
	if err != nil || !ok {
		t.Fatalf("expected mirrored playlist, ok=%v err=%v", ok, err)
	}
	if len(playlist.AudioIDs) != 1 || playlist.AudioIDs[0] != "audio-1" {
		t.Errorf("unexpected playlist members: %v", playlist.AudioIDs)
	}
}

func TestMirrorToleratesNilStore(t *testing.T) {
	mirror := client.NewMirror(nil, nil)
	mirror.AudioLoaded(metastore.AudioSnapshot{ID: "audio-1"})
	mirror.PlaylistLoaded(metastore.PlaylistSnapshot{ID: "playlist-1"})
	mirror.Wait()
}
