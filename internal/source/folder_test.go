package source

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"live-playout/internal/ffmpeg"
	"live-playout/internal/platform/logger"
	"live-playout/internal/playout"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func mediaDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.mp4"))
	touch(t, filepath.Join(dir, "b.MKV"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "sub", "c.mp4"))
	return dir
}

func TestNewMediaStore_filtersExtensions(t *testing.T) {
	dir := mediaDir(t)
	store, err := NewMediaStore(dir, []string{"mp4", ".mkv"})
	if err != nil {
		t.Fatalf("NewMediaStore: %v", err)
	}

	want := []string{
		filepath.Join(dir, "a.mp4"),
		filepath.Join(dir, "b.MKV"),
		filepath.Join(dir, "sub", "c.mp4"),
	}
	got := store.Files()
	if len(got) != len(want) {
		t.Fatalf("files = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("files[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestMediaStore_addRemove(t *testing.T) {
	dir := mediaDir(t)
	store, err := NewMediaStore(dir, []string{"mp4"})
	if err != nil {
		t.Fatalf("NewMediaStore: %v", err)
	}

	if store.Add(filepath.Join(dir, "x.txt")) {
		t.Error("Add should reject a non-media file")
	}
	if !store.Add(filepath.Join(dir, "0.mp4")) {
		t.Error("Add should accept a new media file")
	}
	if store.Add(filepath.Join(dir, "0.mp4")) {
		t.Error("Add should ignore a duplicate")
	}
	if store.Files()[0] != filepath.Join(dir, "0.mp4") {
		t.Errorf("files not sorted: %v", store.Files())
	}

	if n := store.Remove(filepath.Join(dir, "sub")); n != 1 {
		t.Errorf("removing a folder removed %d files, want 1", n)
	}
	if store.Contains(filepath.Join(dir, "sub", "c.mp4")) {
		t.Error("file under removed folder still listed")
	}
	if store.Len() != 2 {
		t.Errorf("Len = %d, want 2", store.Len())
	}
}

func newTestFolder(t *testing.T, store *MediaStore, probe ProbeFunc) *Folder {
	t.Helper()
	return NewFolder(FolderOptions{
		Store: store,
		Args:  ffmpeg.Default(),
		Log:   logger.Discard(),
		Probe: probe,
	})
}

func tenSeconds(context.Context, string) (time.Duration, error) { return 10 * time.Second, nil }

func TestFolder_loopsForever(t *testing.T) {
	dir := mediaDir(t)
	store, err := NewMediaStore(dir, []string{"mp4"})
	if err != nil {
		t.Fatalf("NewMediaStore: %v", err)
	}
	f := newTestFolder(t, store, tenSeconds)
	ctx := context.Background()

	want := []string{"a.mp4", "c.mp4", "a.mp4", "c.mp4"}
	for i, w := range want {
		item, err := f.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if filepath.Base(item.Source) != w {
			t.Errorf("item %d = %s, want %s", i, item.Source, w)
		}
		if item.Index != i {
			t.Errorf("item %d index = %d", i, item.Index)
		}
		if item.Length() != 10*time.Second {
			t.Errorf("item %d length = %v", i, item.Length())
		}
	}
	if f.Mode() != playout.ModeFolder {
		t.Errorf("Mode = %v, want folder", f.Mode())
	}
}

func TestFolder_skipsUnreadable(t *testing.T) {
	dir := mediaDir(t)
	store, err := NewMediaStore(dir, []string{"mp4"})
	if err != nil {
		t.Fatalf("NewMediaStore: %v", err)
	}
	bad := filepath.Join(dir, "a.mp4")
	f := newTestFolder(t, store, func(_ context.Context, path string) (time.Duration, error) {
		if path == bad {
			return 0, errors.New("invalid data")
		}
		return 5 * time.Second, nil
	})

	for i := 0; i < 3; i++ {
		item, err := f.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if item.Source == bad || item.Filler {
			t.Errorf("pull %d = %+v, want c.mp4", i, item)
		}
	}
}

func TestFolder_emptyYieldsFiller(t *testing.T) {
	store, err := NewMediaStore(t.TempDir(), []string{"mp4"})
	if err != nil {
		t.Fatalf("NewMediaStore: %v", err)
	}
	f := newTestFolder(t, store, tenSeconds)

	item, err := f.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !item.Filler || item.Length() <= 0 {
		t.Errorf("want filler, got %+v", item)
	}

	// Media that shows up later is picked up on the next round.
	path := filepath.Join(store.Root(), "new.mp4")
	store.Add(path)
	item, _ = f.Next(context.Background())
	if item.Source != path {
		t.Errorf("got %s, want %s", item.Source, path)
	}
}

func TestFolder_shuffleKeepsEveryFile(t *testing.T) {
	dir := mediaDir(t)
	store, err := NewMediaStore(dir, []string{"mp4", "mkv"})
	if err != nil {
		t.Fatalf("NewMediaStore: %v", err)
	}
	f := NewFolder(FolderOptions{
		Store:   store,
		Args:    ffmpeg.Default(),
		Log:     logger.Discard(),
		Probe:   tenSeconds,
		Shuffle: true,
		Rand:    rand.New(rand.NewPCG(1, 2)),
	})

	seen := map[string]bool{}
	for i := 0; i < store.Len(); i++ {
		item, err := f.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		seen[item.Source] = true
	}
	if len(seen) != store.Len() {
		t.Errorf("one shuffled round played %d distinct files, want %d", len(seen), store.Len())
	}
}

func TestFolder_requestReplayIgnored(t *testing.T) {
	dir := mediaDir(t)
	store, _ := NewMediaStore(dir, []string{"mp4"})
	f := newTestFolder(t, store, tenSeconds)

	first, _ := f.Next(context.Background())
	f.RequestReplay()
	second, _ := f.Next(context.Background())
	if first.Source == second.Source {
		t.Errorf("RequestReplay should not repeat %s in folder mode", first.Source)
	}
}
