// Package store holds versioned documents, the registry that owns them, and
// the backends they persist to.
package store

import (
	"context"
	"time"
)

// Backend persists the content of documents. Each key maps to exactly one
// backing location, written only by the Document registered for that key.
type Backend interface {
	// ValidateKey reports whether key can name a backing location.
	ValidateKey(key string) error

	// Load returns the stored content for key, or ErrNotFound.
	Load(ctx context.Context, key string) (content string, modified time.Time, err error)

	// Save replaces the stored content for key. Readers of the backing
	// location observe either the old or the new content, never a mix.
	Save(ctx context.Context, key, content string) (modified time.Time, err error)

	// Location describes where key is stored.
	Location(key string) string
}

// Snapshot is a consistent view of a document: Content is exactly the
// content committed together with Version.
type Snapshot struct {
	Key      string
	Content  string
	Version  int64
	Modified time.Time
	Hash     uint64
}

// FileInfo describes a document and its backing location.
type FileInfo struct {
	Key      string    `json:"key"`
	Location string    `json:"path"`
	Size     int       `json:"size"`
	Modified time.Time `json:"modified"`
	Version  int64     `json:"version"`
	Hash     string    `json:"hash"`
}
