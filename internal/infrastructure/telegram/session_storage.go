package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gotd/td/session"
	"github.com/moby/sys/atomicwriter"
)

// FileSessionStorage implements session.Storage over a single session file
type FileSessionStorage struct {
	filePath string
}

// NewFileSessionStorage creates a file-based session storage for filePath
func NewFileSessionStorage(filePath string) (*FileSessionStorage, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileSessionStorage{filePath: filePath}, nil
}

// LoadSession loads session data from file
func (s *FileSessionStorage) LoadSession(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	// An empty file is a session that was never stored
	if len(data) == 0 {
		return nil, session.ErrNotFound
	}

	return data, nil
}

// StoreSession replaces the session file atomically
func (s *FileSessionStorage) StoreSession(_ context.Context, data []byte) error {
	if err := atomicwriter.WriteFile(s.filePath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// FilePath returns the path to the session file
func (s *FileSessionStorage) FilePath() string {
	return s.filePath
}

var _ session.Storage = (*FileSessionStorage)(nil)
