package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithCommitHook installs fn on every document. fn runs after each
// successful write while the document is still locked, so it must not
// block or call back into the document.
func WithCommitHook(fn func(Snapshot)) RegistryOption {
	return func(r *Registry) { r.hook = fn }
}

// Registry maps document keys to their single live Document. Documents are
// created on first access and kept for the lifetime of the registry, so all
// callers for a key contend on the same lock.
type Registry struct {
	backend Backend
	hook    func(Snapshot)

	mu   sync.RWMutex
	docs map[string]*Document
}

// NewRegistry creates a registry whose documents persist to backend.
func NewRegistry(backend Backend, opts ...RegistryOption) *Registry {
	r := &Registry{
		backend: backend,
		docs:    make(map[string]*Document),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the document for key, loading it from the backend on first
// access. A missing backing location yields an empty document at version 0.
func (r *Registry) Get(ctx context.Context, key string) (*Document, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if err := r.backend.ValidateKey(key); err != nil {
		return nil, err
	}

	d := r.lookupOrCreate(key)
	// Loading happens outside the registry lock so a slow backend only
	// delays callers of this key.
	if err := d.load(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *Registry) lookupOrCreate(key string) *Document {
	r.mu.RLock()
	d, ok := r.docs[key]
	r.mu.RUnlock()
	if ok {
		return d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.docs[key]; ok {
		return d
	}
	d = newDocument(key, r.backend, r.hook)
	r.docs[key] = d
	return d
}

// Keys returns the keys of all documents accessed so far, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.docs))
	for k := range r.docs {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	slices.Sort(keys)
	return keys
}

// Len returns the number of registered documents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}
