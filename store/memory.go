package store

import (
	"context"
	"sync"
	"time"
)

type memRecord struct {
	content  string
	modified time.Time
}

// MemoryBackend is an in-memory implementation of Backend.
type MemoryBackend struct {
	mu      sync.RWMutex
	docs    map[string]memRecord
	saveErr error
	saves   int
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]memRecord)}
}

func (b *MemoryBackend) ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}

func (b *MemoryBackend) Load(_ context.Context, key string) (string, time.Time, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.docs[key]
	if !ok {
		return "", time.Time{}, ErrNotFound
	}
	return rec.content, rec.modified, nil
}

func (b *MemoryBackend) Save(_ context.Context, key, content string) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.saveErr != nil {
		return time.Time{}, b.saveErr
	}
	now := time.Now()
	b.docs[key] = memRecord{content: content, modified: now}
	b.saves++
	return now, nil
}

func (b *MemoryBackend) Location(key string) string {
	return "memory://" + key
}

// Put stores content for key directly, bypassing any Document.
func (b *MemoryBackend) Put(key, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs[key] = memRecord{content: content, modified: time.Now()}
}

// FailSaves makes every following Save return err. A nil err restores
// normal behaviour.
func (b *MemoryBackend) FailSaves(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saveErr = err
}

// Saves returns the number of successful saves.
func (b *MemoryBackend) Saves() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.saves
}
