package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrArtifactNotFound = errors.New("artifact not found")

const artifactPrefix = "tts_"

// ArtifactStore persists synthesized speech as files that the telephony
// provider fetches back through GET /audio/{filename}.
type ArtifactStore struct {
	dir string
}

func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &ArtifactStore{dir: dir}, nil
}

// Save writes data under a fresh tts_<uuid>.<ext> name and returns the name.
func (a *ArtifactStore) Save(data []byte, ext string) (string, error) {
	name := artifactPrefix + uuid.NewString() + "." + strings.TrimPrefix(ext, ".")
	tmp, err := os.CreateTemp(a.dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err = os.Rename(tmp.Name(), filepath.Join(a.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("publish artifact: %w", err)
	}
	return name, nil
}

// Path resolves a public artifact name to a file on disk. Names that are not
// plain artifact names, or that do not exist, yield ErrArtifactNotFound.
func (a *ArtifactStore) Path(name string) (string, error) {
	if name != filepath.Base(name) || !strings.HasPrefix(name, artifactPrefix) {
		return "", ErrArtifactNotFound
	}
	p := filepath.Join(a.dir, name)
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrArtifactNotFound
	}
	return p, nil
}

// Purge removes artifacts last modified before now-retention.
func (a *ArtifactStore) Purge(retention time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return 0, fmt.Errorf("read audio dir: %w", err)
	}
	cutoff := now.Add(-retention)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), artifactPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err = os.Remove(filepath.Join(a.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// ContentType maps an artifact extension to its MIME type.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	}
	return "application/octet-stream"
}
