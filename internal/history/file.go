package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"streampulse/internal/models"
)

// FileStore persists the history map as a single JSON document, written to a
// temporary file and renamed into place so a crash mid-save never truncates
// the previous snapshot.
type FileStore struct {
	path string
}

// NewFileStore prepares a JSON snapshot store at path, creating the parent
// directory when missing.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("history snapshot path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("prepare snapshot directory: %w", err)
	}
	return &FileStore{path: abs}, nil
}

// Load reads the snapshot file. A missing or empty file yields an empty map.
func (s *FileStore) Load(_ context.Context, now time.Time) (map[string][]models.Sample, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string][]models.Sample{}, nil
		}
		return nil, fmt.Errorf("open history snapshot %s: %w", s.path, err)
	}
	defer file.Close()

	var histories map[string][]models.Sample
	if err := json.NewDecoder(file).Decode(&histories); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string][]models.Sample{}, nil
		}
		return nil, fmt.Errorf("decode history snapshot %s: %w", s.path, err)
	}
	return trimLoaded(histories, now), nil
}

// Save writes the snapshot atomically.
func (s *FileStore) Save(_ context.Context, histories map[string][]models.Sample) error {
	data, err := json.Marshal(histories)
	if err != nil {
		return fmt.Errorf("encode history snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write history snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace history snapshot: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}
