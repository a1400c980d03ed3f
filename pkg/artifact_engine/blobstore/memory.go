package blobstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Client for tests and blob-store-less local
// runs. Uploads happen through Put instead of an HTTP PUT; the credential it
// issues carries a synthetic URL.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put stores data under key, standing in for the caller's out-of-band
// upload. Keys are append-only: a second Put on the same key is rejected.
func (s *MemoryStore) Put(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; ok {
		return fmt.Errorf("key %s already written", key)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[key] = cp
	return nil
}

// IssueUploadCredential returns a synthetic credential for key.
func (s *MemoryStore) IssueUploadCredential(_ context.Context, key string, ttl time.Duration) (*UploadCredential, error) {
	return &UploadCredential{
		URL:       "memory://" + key,
		Method:    "PUT",
		ExpiresAt: time.Now().UTC().Add(ttl),
	}, nil
}

// Exists reports whether Put has been called for key.
func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[key]
	return ok, nil
}

// HeadSize returns the stored size for key, or ErrNotFound.
func (s *MemoryStore) HeadSize(_ context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return 0, ErrNotFound
	}
	return int64(len(data)), nil
}
