// Package blobstore abstracts the content store that holds artifact payloads.
// The engine never writes blob bytes itself: it issues time-boxed upload
// credentials scoped to a single key, and checks existence afterwards. Keys
// are append-only; no backend may overwrite or reuse one.
package blobstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by HeadSize when no blob exists at the key.
var ErrNotFound = errors.New("blob not found")

// UploadCredential authorizes one direct PUT to a single blob key.
type UploadCredential struct {
	URL       string
	Method    string
	Headers   map[string]string
	ExpiresAt time.Time
}

// Client is the blob-store collaborator consumed by the upload coordinator.
// Implementations must give read-after-write consistency for Exists/HeadSize
// on a key they just issued a credential for.
type Client interface {
	// IssueUploadCredential returns a presigned write handle for key,
	// valid for ttl.
	IssueUploadCredential(ctx context.Context, key string, ttl time.Duration) (*UploadCredential, error)
	// Exists reports whether a blob is present at key.
	Exists(ctx context.Context, key string) (bool, error)
	// HeadSize returns the byte size of the blob at key, or ErrNotFound.
	HeadSize(ctx context.Context, key string) (int64, error)
}
