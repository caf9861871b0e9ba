package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/buildgrid/platform/shared/apperrors"
)

// LocalBackend stores files on the local filesystem under a root directory.
type LocalBackend struct {
	root string
}

// NewLocalBackend creates a filesystem backend rooted at dir.
func NewLocalBackend(dir string) (*LocalBackend, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &LocalBackend{root: abs}, nil
}

// resolve maps a relative logical path to an absolute one and requires it
// to stay under the root. Defense in depth behind the bucket's own check.
func (l *LocalBackend) resolve(relPath string) (string, error) {
	abs, err := filepath.Abs(filepath.Join(l.root, filepath.FromSlash(relPath)))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(abs, l.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: path escapes storage root", apperrors.ErrForbidden)
	}
	return abs, nil
}

// Write stores content, creating parent directories lazily.
func (l *LocalBackend) Write(relPath string, content []byte) error {
	abs, err := l.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(abs, content, 0o644)
}

// Read returns the file bytes, or ErrNotFound for missing files.
func (l *LocalBackend) Read(relPath string) ([]byte, error) {
	abs, err := l.resolve(relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.ErrNotFound
	}
	return data, err
}

// Delete removes one file. Missing files yield ErrNotFound.
func (l *LocalBackend) Delete(relPath string) error {
	abs, err := l.resolve(relPath)
	if err != nil {
		return err
	}
	err = os.Remove(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return apperrors.ErrNotFound
	}
	return err
}

// List walks the prefix directory and returns relative logical paths.
func (l *LocalBackend) List(prefix string) ([]string, error) {
	abs, err := l.resolve(prefix)
	if err != nil {
		return nil, err
	}

	var out []string
	walkErr := filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(walkErr, fs.ErrNotExist) {
		return nil, nil
	}
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}
