package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// VersionStatus is the lifecycle state of an ArtifactVersion row.
type VersionStatus string

const (
	// StatusPending means metadata is reserved but the blob upload has not
	// been confirmed yet. Pending rows are invisible to chain reads.
	StatusPending VersionStatus = "pending"
	// StatusActive means the row is finalized. The active row with
	// IsCurrent=true is the chain's current version.
	StatusActive VersionStatus = "active"
	// StatusSuperseded means a later version was finalized for the chain.
	StatusSuperseded VersionStatus = "superseded"
	// StatusAbandoned means the pending row was given up on, either by the
	// caller or by the reap sweep. Terminal.
	StatusAbandoned VersionStatus = "abandoned"
)

// MetadataSchemaVersion tags the wire shape of Metadata so future shapes can
// be told apart from rows written today.
const MetadataSchemaVersion = 1

// Metadata carries the caller-supplied descriptive attributes of a version
// (name, description, tags). Stored as a single JSON column.
type Metadata struct {
	SchemaVersion int               `json:"schemaVersion"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// Value implements driver.Valuer so gorm can persist Metadata as JSON.
func (m Metadata) Value() (driver.Value, error) {
	if m.SchemaVersion == 0 {
		m.SchemaVersion = MetadataSchemaVersion
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{SchemaVersion: MetadataSchemaVersion}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("metadata column is neither []byte nor string")
	}
	if len(data) == 0 {
		*m = Metadata{SchemaVersion: MetadataSchemaVersion}
		return nil
	}
	return json.Unmarshal(data, m)
}

// IsEmpty reports whether no attributes were supplied, which triggers
// inheritance from the chain's current version on reserve.
func (m Metadata) IsEmpty() bool {
	return len(m.Attributes) == 0
}

// ArtifactVersion is one immutable row of a version chain. Rows sharing a
// RootId form one chain; exactly one finalized row per chain has
// IsCurrent=true and ValidTo=nil.
type ArtifactVersion struct {
	Id              string        `gorm:"column:id;primaryKey" json:"id"`
	RootId          string        `gorm:"column:root_id;index:idx_root_current;index:idx_root_version" json:"rootId"`
	VersionNumber   int           `gorm:"column:version_number;index:idx_root_version" json:"versionNumber"`
	OwnerEntityType string        `gorm:"column:owner_entity_type;index:idx_owner" json:"ownerEntityType"`
	OwnerEntityId   string        `gorm:"column:owner_entity_id;index:idx_owner" json:"ownerEntityId"`
	FileName        string        `gorm:"column:file_name" json:"fileName,omitempty"`
	BlobKey         string        `gorm:"column:blob_key;uniqueIndex" json:"blobKey"`
	ByteSize        int64         `gorm:"column:byte_size" json:"byteSize"`
	ContentFormat   string        `gorm:"column:content_format" json:"contentFormat,omitempty"`
	Status          VersionStatus `gorm:"column:status;index" json:"status"`
	IsCurrent       bool          `gorm:"column:is_current;index:idx_root_current" json:"isCurrent"`
	ValidFrom       *time.Time    `gorm:"column:valid_from" json:"validFrom,omitempty"`
	ValidTo         *time.Time    `gorm:"column:valid_to" json:"validTo,omitempty"`
	Metadata        Metadata      `gorm:"column:metadata;type:text" json:"metadata"`
	// CredentialExpiresAt bounds the upload handshake: ConfirmUpload after
	// this instant fails even if the blob exists.
	CredentialExpiresAt time.Time `gorm:"column:credential_expires_at" json:"-"`
	CreatedAt           time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt           time.Time `gorm:"column:updated_at" json:"-"`
}

// Finalized reports whether the row has left the pending/abandoned limbo.
func (v *ArtifactVersion) Finalized() bool {
	return v.Status == StatusActive || v.Status == StatusSuperseded
}
