package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrChainNotFound means no finalized version exists for the root id.
	ErrChainNotFound = errors.New("artifact chain not found")
	// ErrVersionNotFound means no row exists for the version id.
	ErrVersionNotFound = errors.New("artifact version not found")
	// ErrChainConflict means another version was finalized for the same
	// chain since this one was reserved. The caller retries from
	// begin-upload against the new current version.
	ErrChainConflict = errors.New("chain was updated concurrently")
	// ErrInvalidVersionState means the row is not in a state that allows
	// the requested transition, e.g. confirming an already-active row.
	ErrInvalidVersionState = errors.New("version is not in a valid state for this operation")
)

// VersionRepository is the only writer of artifact_versions rows. Finalize
// is the single locking operation: it closes the chain's current row and
// opens the next one in one transaction, so there is no observable instant
// with zero or two current rows.
type VersionRepository interface {
	// ReserveVersion creates a pending row. rootID == "" starts a fresh
	// chain at version 1; otherwise the row gets a provisional number of
	// current+1, recomputed at finalize time.
	ReserveVersion(ctx context.Context, rootID string, in ReserveInput) (*models.ArtifactVersion, error)
	// FinalizeVersion activates a pending row and supersedes the previous
	// current row of the chain atomically.
	FinalizeVersion(ctx context.Context, versionID string, byteSize int64, contentFormat string) (*models.ArtifactVersion, error)
	// AbandonVersion marks a pending row abandoned. Idempotent.
	AbandonVersion(ctx context.Context, versionID string) error

	GetVersion(ctx context.Context, versionID string) (*models.ArtifactVersion, error)
	GetCurrent(ctx context.Context, rootID string) (*models.ArtifactVersion, error)
	GetAsOf(ctx context.Context, rootID string, at time.Time) (*models.ArtifactVersion, error)
	ListChain(ctx context.Context, rootID string, includePending bool) ([]models.ArtifactVersion, error)

	// BlobKeyInUse reports whether any row references the key already.
	BlobKeyInUse(ctx context.Context, key string) (bool, error)
	// StalePending lists pending rows whose credential expired before the
	// cutoff, for the reap sweep.
	StalePending(ctx context.Context, cutoff time.Time) ([]models.ArtifactVersion, error)
}

// ReserveInput carries the caller-side fields of a reservation.
type ReserveInput struct {
	OwnerEntityType string
	OwnerEntityId   string
	FileName        string
	BlobKey         string
	ContentFormat   string
	Metadata        models.Metadata
	ExpiresAt       time.Time
}

type versionRepository struct {
	db *gorm.DB
}

func NewVersionRepository(db *gorm.DB) VersionRepository {
	return &versionRepository{db: db}
}

func (r *versionRepository) ReserveVersion(ctx context.Context, rootID string, in ReserveInput) (*models.ArtifactVersion, error) {
	row := &models.ArtifactVersion{
		Id:                  uuid.NewString(),
		OwnerEntityType:     in.OwnerEntityType,
		OwnerEntityId:       in.OwnerEntityId,
		FileName:            in.FileName,
		BlobKey:             in.BlobKey,
		ContentFormat:       in.ContentFormat,
		Status:              models.StatusPending,
		Metadata:            in.Metadata,
		CredentialExpiresAt: in.ExpiresAt,
	}
	if row.Metadata.SchemaVersion == 0 {
		row.Metadata.SchemaVersion = models.MetadataSchemaVersion
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rootID == "" {
			row.RootId = row.Id
			row.VersionNumber = 1
		} else {
			cur, err := currentRow(tx, rootID, false)
			if err != nil {
				return err
			}
			row.RootId = rootID
			// Advisory: recomputed under lock at finalize time.
			row.VersionNumber = cur.VersionNumber + 1
			row.OwnerEntityType = cur.OwnerEntityType
			row.OwnerEntityId = cur.OwnerEntityId
			if row.Metadata.IsEmpty() {
				row.Metadata = cur.Metadata
			}
		}
		return tx.Create(row).Error
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *versionRepository) FinalizeVersion(ctx context.Context, versionID string, byteSize int64, contentFormat string) (*models.ArtifactVersion, error) {
	var out *models.ArtifactVersion
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.ArtifactVersion
		if err := lockingScope(tx).First(&row, "id = ?", versionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrVersionNotFound
			}
			return err
		}
		if row.Status != models.StatusPending {
			return fmt.Errorf("%w: version %s is %s", ErrInvalidVersionState, row.Id, row.Status)
		}

		now := time.Now().UTC()
		if row.VersionNumber > 1 {
			cur, err := currentRow(tx, row.RootId, true)
			if err != nil {
				return err
			}
			// Recompute under lock. A different number means another
			// reservation won finalization first.
			if cur.VersionNumber+1 != row.VersionNumber {
				return fmt.Errorf("%w: current is v%d, reserved as v%d",
					ErrChainConflict, cur.VersionNumber, row.VersionNumber)
			}
			res := tx.Model(&models.ArtifactVersion{}).
				Where("id = ? AND is_current = ?", cur.Id, true).
				Updates(map[string]interface{}{
					"status":     models.StatusSuperseded,
					"is_current": false,
					"valid_to":   now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return fmt.Errorf("%w: current row changed during finalize", ErrChainConflict)
			}
		}

		res := tx.Model(&models.ArtifactVersion{}).
			Where("id = ? AND status = ?", row.Id, models.StatusPending).
			Updates(map[string]interface{}{
				"status":         models.StatusActive,
				"is_current":     true,
				"valid_from":     now,
				"byte_size":      byteSize,
				"content_format": contentFormat,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%w: version %s left pending during finalize", ErrInvalidVersionState, row.Id)
		}

		row.Status = models.StatusActive
		row.IsCurrent = true
		row.ValidFrom = &now
		row.ByteSize = byteSize
		row.ContentFormat = contentFormat
		out = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *versionRepository) AbandonVersion(ctx context.Context, versionID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.ArtifactVersion
		if err := tx.First(&row, "id = ?", versionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrVersionNotFound
			}
			return err
		}
		switch row.Status {
		case models.StatusAbandoned:
			// Already done; second call is a no-op.
			return nil
		case models.StatusPending:
			return tx.Model(&models.ArtifactVersion{}).
				Where("id = ? AND status = ?", row.Id, models.StatusPending).
				Update("status", models.StatusAbandoned).Error
		default:
			return fmt.Errorf("%w: cannot abandon %s version %s", ErrInvalidVersionState, row.Status, row.Id)
		}
	})
}

func (r *versionRepository) GetVersion(ctx context.Context, versionID string) (*models.ArtifactVersion, error) {
	var row models.ArtifactVersion
	err := r.db.WithContext(ctx).First(&row, "id = ?", versionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *versionRepository) GetCurrent(ctx context.Context, rootID string) (*models.ArtifactVersion, error) {
	return currentRow(r.db.WithContext(ctx), rootID, false)
}

func (r *versionRepository) GetAsOf(ctx context.Context, rootID string, at time.Time) (*models.ArtifactVersion, error) {
	var row models.ArtifactVersion
	err := r.db.WithContext(ctx).
		Where("root_id = ? AND status IN ?", rootID, []models.VersionStatus{models.StatusActive, models.StatusSuperseded}).
		Where("valid_from <= ?", at).
		Where("(valid_to IS NULL OR valid_to > ?)", at).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *versionRepository) ListChain(ctx context.Context, rootID string, includePending bool) ([]models.ArtifactVersion, error) {
	statuses := []models.VersionStatus{models.StatusActive, models.StatusSuperseded}
	if includePending {
		statuses = append(statuses, models.StatusPending, models.StatusAbandoned)
	}

	var rows []models.ArtifactVersion
	err := r.db.WithContext(ctx).
		Where("root_id = ? AND status IN ?", rootID, statuses).
		Order("version_number DESC, created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrChainNotFound
	}
	return rows, nil
}

func (r *versionRepository) BlobKeyInUse(ctx context.Context, key string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ArtifactVersion{}).
		Where("blob_key = ?", key).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *versionRepository) StalePending(ctx context.Context, cutoff time.Time) ([]models.ArtifactVersion, error) {
	var rows []models.ArtifactVersion
	err := r.db.WithContext(ctx).
		Where("status = ? AND credential_expires_at < ?", models.StatusPending, cutoff).
		Order("credential_expires_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// currentRow reads the single active current row of a chain. With forUpdate
// it takes a row-level lock so concurrent finalizations for the same chain
// serialize; sqlite has no FOR UPDATE and serializes writers on its own.
func currentRow(tx *gorm.DB, rootID string, forUpdate bool) (*models.ArtifactVersion, error) {
	q := tx
	if forUpdate {
		q = lockingScope(tx)
	}
	var row models.ArtifactVersion
	err := q.
		Where("root_id = ? AND is_current = ? AND status = ?", rootID, true, models.StatusActive).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChainNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func lockingScope(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
