package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"

	"github.com/alimasry/go-notepad/diff"
)

// Document is the authoritative state of one document. Content and version
// change together under mu, and every write is persisted before it becomes
// visible.
type Document struct {
	key     string
	backend Backend
	hook    func(Snapshot)

	mu       sync.RWMutex
	loaded   bool
	content  string
	version  int64
	modified time.Time
	hash     uint64
}

func newDocument(key string, backend Backend, hook func(Snapshot)) *Document {
	return &Document{key: key, backend: backend, hook: hook}
}

// Key returns the document key.
func (d *Document) Key() string { return d.key }

// load reads the backing content once. A failed load leaves the document
// unloaded so the next caller retries.
func (d *Document) load(ctx context.Context) error {
	d.mu.RLock()
	loaded := d.loaded
	d.mu.RUnlock()
	if loaded {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded {
		return nil
	}

	content, modified, err := d.backend.Load(ctx, d.key)
	switch {
	case errors.Is(err, ErrNotFound):
		content, modified = "", time.Time{}
	case err != nil:
		return &StorageError{Key: d.key, Op: "load", Err: err}
	}
	if !utf8.ValidString(content) {
		log.Printf("store: document %q is not valid UTF-8, replacing invalid bytes", d.key)
		content = strings.ToValidUTF8(content, string(utf8.RuneError))
	}

	d.content = content
	d.modified = modified
	d.hash = xxhash.Sum64String(content)
	d.version = 0
	d.loaded = true
	return nil
}

// Read returns the current content and version.
func (d *Document) Read() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshotLocked()
}

// Version returns the current version.
func (d *Document) Version() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Info describes the document and where it is stored.
func (d *Document) Info() FileInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.infoLocked()
}

func (d *Document) infoLocked() FileInfo {
	return FileInfo{
		Key:      d.key,
		Location: d.backend.Location(d.key),
		Size:     len(d.content),
		Modified: d.modified,
		Version:  d.version,
		Hash:     fmt.Sprintf("%016x", d.hash),
	}
}

// WriteFull replaces the content if expected matches the current version
// and returns the new version. A stale expected version yields a
// *ConflictError carrying the current content.
func (d *Document) WriteFull(ctx context.Context, content string, expected int64) (int64, error) {
	info, err := d.ReplaceContent(ctx, content, expected)
	return info.Version, err
}

// ReplaceContent is WriteFull returning the info of the committed state.
func (d *Document) ReplaceContent(ctx context.Context, content string, expected int64) (FileInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkVersionLocked(expected); err != nil {
		return FileInfo{}, err
	}
	return d.commitLocked(ctx, content)
}

// WriteIncremental applies ops to the current content if expected matches
// the current version and returns the new version. Ops must have been
// computed against the content of version expected.
func (d *Document) WriteIncremental(ctx context.Context, ops []diff.Operation, expected int64) (int64, error) {
	info, err := d.ApplyChanges(ctx, ops, expected)
	return info.Version, err
}

// ApplyChanges is WriteIncremental returning the info of the committed state.
func (d *Document) ApplyChanges(ctx context.Context, ops []diff.Operation, expected int64) (FileInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkVersionLocked(expected); err != nil {
		return FileInfo{}, err
	}
	content, err := diff.Apply(d.content, ops)
	if err != nil {
		return FileInfo{}, fmt.Errorf("document %q: %w", d.key, err)
	}
	return d.commitLocked(ctx, content)
}

func (d *Document) checkVersionLocked(expected int64) error {
	if expected != d.version {
		return &ConflictError{Key: d.key, Expected: expected, Version: d.version, Content: d.content}
	}
	return nil
}

// commitLocked persists content and only then advances the in-memory state.
func (d *Document) commitLocked(ctx context.Context, content string) (FileInfo, error) {
	if !utf8.ValidString(content) {
		return FileInfo{}, fmt.Errorf("document %q: %w", d.key, ErrInvalidContent)
	}
	modified, err := d.backend.Save(ctx, d.key, content)
	if err != nil {
		return FileInfo{}, &StorageError{Key: d.key, Op: "save", Err: err}
	}

	d.content = content
	d.version++
	d.modified = modified
	d.hash = xxhash.Sum64String(content)

	if d.hook != nil {
		d.hook(d.snapshotLocked())
	}
	return d.infoLocked(), nil
}

func (d *Document) snapshotLocked() Snapshot {
	return Snapshot{
		Key:      d.key,
		Content:  d.content,
		Version:  d.version,
		Modified: d.modified,
		Hash:     d.hash,
	}
}
