// Package blobkey derives storage keys for artifact blobs. A key namespaces
// the blob under tenant and owning entity and ends in a random suffix, so
// keys are non-guessable and never collide in practice. Resolution is pure
// computation: no store is consulted here. The unique index on blob_key and
// a regenerate-on-collision loop in the coordinator are the backstop.
package blobkey

import (
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/teris-io/shortid"
)

// Resolve derives the storage key for a new blob. Layout:
//
//	<tenant>/<ownerType>/<ownerId>/<uuid>-<shortid>/<sanitized filename>
//
// The uuid carries the entropy; the shortid keeps keys visually distinct in
// bucket listings without adding length a uuid alone would need.
func Resolve(tenantID, ownerEntityType, ownerEntityID, fileName string) string {
	suffix := uuid.NewString() + "-" + shortid.MustGenerate()
	return path.Join(
		sanitize(tenantID),
		sanitize(ownerEntityType),
		sanitize(ownerEntityID),
		suffix,
		sanitizeFileName(fileName),
	)
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return "blob"
	}
	return sanitize(name)
}
