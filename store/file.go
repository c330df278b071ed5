package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultExt is the extension of document files.
const DefaultExt = ".txt"

// FileBackend stores each document as a plain text file <Dir>/<key><Ext>.
// Saves go through a temporary file in the same directory followed by a
// rename, so a crash leaves either the old or the new file in place.
type FileBackend struct {
	Dir string
	Ext string
}

// NewFileBackend creates a FileBackend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{Dir: dir, Ext: DefaultExt}
}

func (b *FileBackend) ValidateKey(key string) error {
	switch {
	case key == "", key == ".", key == "..":
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	case strings.ContainsAny(key, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidKey, key)
	}
	return nil
}

// Location returns the file path for key.
func (b *FileBackend) Location(key string) string {
	return filepath.Join(b.Dir, key+b.Ext)
}

func (b *FileBackend) Load(_ context.Context, key string) (string, time.Time, error) {
	if err := b.ValidateKey(key); err != nil {
		return "", time.Time{}, err
	}
	path := b.Location(key)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", time.Time{}, ErrNotFound
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read %s: %w", path, err)
	}
	st, err := os.Stat(path)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return string(data), st.ModTime(), nil
}

func (b *FileBackend) Save(ctx context.Context, key, content string) (time.Time, error) {
	if err := b.ValidateKey(key); err != nil {
		return time.Time{}, err
	}
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return time.Time{}, fmt.Errorf("create %s: %w", b.Dir, err)
	}

	path := b.Location(key)
	tmp, err := os.CreateTemp(b.Dir, "."+key+".*.tmp")
	if err != nil {
		return time.Time{}, fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return time.Time{}, fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return time.Time{}, fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return time.Time{}, fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return time.Time{}, fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return time.Time{}, fmt.Errorf("rename %s: %w", path, err)
	}
	committed = true

	st, err := os.Stat(path)
	if err != nil {
		return time.Now(), nil
	}
	return st.ModTime(), nil
}
