package models

import "time"

// CallerContext identifies the authenticated caller for authorization
// checks. Subject comes from the JWT sub claim, Scopes from the scope claim;
// AuthMethod mirrors the middleware's auth_method context key.
type CallerContext struct {
	Subject    string
	Scopes     []string
	AuthMethod string
}

// BeginUploadInput is the body of POST /artifacts/begin-upload. RootId is
// empty for a fresh chain; NewVersionParams sets it from the path instead.
// Owner fields are required for fresh chains only, so the handler validates
// them conditionally instead of a binding tag.
type BeginUploadInput struct {
	OwnerEntityType string            `json:"ownerEntityType,omitempty"`
	OwnerEntityId   string            `json:"ownerEntityId,omitempty"`
	RootId          string            `json:"rootId,omitempty"`
	FileName        string            `json:"fileName" binding:"required"`
	ContentFormat   string            `json:"contentFormat,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// NewVersionParams is the request of POST /artifacts/:rootId/new-version.
type NewVersionParams struct {
	RootId        string            `path:"id"`
	FileName      string            `json:"fileName" binding:"required"`
	ContentFormat string            `json:"contentFormat,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// UploadCredentialView is the caller-facing shape of a presigned upload.
type UploadCredentialView struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// BeginUploadResult is returned by begin-upload and new-version. The
// version number is provisional until ConfirmUpload wins finalization.
type BeginUploadResult struct {
	VersionId          string               `json:"versionId"`
	RootId             string               `json:"rootId"`
	ProvisionalVersion int                  `json:"provisionalVersion"`
	BlobKey            string               `json:"blobKey"`
	UploadCredential   UploadCredentialView `json:"uploadCredential"`
	ExpiresAt          time.Time            `json:"expiresAt"`
}

// ConfirmUploadParams is the request of POST /artifacts/:versionId/confirm.
type ConfirmUploadParams struct {
	VersionId     string `path:"id"`
	ByteSize      int64  `json:"byteSize"`
	ContentFormat string `json:"contentFormat,omitempty"`
}

// AbandonParams is the request of POST /artifacts/:versionId/abandon.
type AbandonParams struct {
	VersionId string `path:"id"`
}

// ListChainParams is the request of GET /artifacts/:rootId/versions.
type ListChainParams struct {
	RootId         string `path:"id"`
	IncludePending bool   `query:"includePending"`
}

// AsOfParams is the request of GET /artifacts/:rootId/as-of. At is an
// RFC 3339 timestamp; parsing happens in the handler so a malformed value
// surfaces as a 400 with the offending parameter named.
type AsOfParams struct {
	RootId string `path:"id"`
	At     string `query:"at" binding:"required"`
}

// RootParams addresses a chain by its root id.
type RootParams struct {
	RootId string `path:"id"`
}
