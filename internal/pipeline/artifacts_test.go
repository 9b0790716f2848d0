package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestArtifactStore_SaveAndResolve(t *testing.T) {
	store, err := NewArtifactStore(filepath.Join(t.TempDir(), "audio"))
	if err != nil {
		t.Fatalf("NewArtifactStore: %v", err)
	}

	name, err := store.Save([]byte("OggS-data"), "ogg")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(name, "tts_") || !strings.HasSuffix(name, ".ogg") {
		t.Errorf("name = %q, want tts_<uuid>.ogg", name)
	}

	p, err := store.Path(name)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	data, _ := os.ReadFile(p)
	if string(data) != "OggS-data" {
		t.Errorf("content = %q", data)
	}
	if ContentType(name) != "audio/ogg" {
		t.Errorf("ContentType = %q", ContentType(name))
	}
}

func TestArtifactStore_RejectsForeignNames(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewArtifactStore(dir)
	os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("x"), 0o644)

	for _, name := range []string{"secret.txt", "../etc/passwd", "tts_missing.ogg", "tts_/../secret.txt"} {
		if _, err := store.Path(name); err != ErrArtifactNotFound {
			t.Errorf("Path(%q) err = %v, want ErrArtifactNotFound", name, err)
		}
	}
}

func TestArtifactStore_Purge(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewArtifactStore(dir)
	oldName, _ := store.Save([]byte("a"), "mp3")
	newName, _ := store.Save([]byte("b"), "mp3")

	past := time.Now().Add(-48 * time.Hour)
	os.Chtimes(filepath.Join(dir, oldName), past, past)

	n, err := store.Purge(24*time.Hour, time.Now())
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	if _, err := store.Path(oldName); err == nil {
		t.Error("old artifact survived")
	}
	if _, err := store.Path(newName); err != nil {
		t.Error("fresh artifact removed")
	}
}

func TestNewJanitor_InvalidSchedule(t *testing.T) {
	store, _ := NewArtifactStore(t.TempDir())
	if _, err := NewJanitor(store, "every tuesday-ish", time.Hour); err == nil {
		t.Error("expected schedule error")
	}
	j, err := NewJanitor(store, "@every 10m", time.Hour)
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}
	j.Start()
	j.Sweep()
	j.Stop()
}
