package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/blobstore"
	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/helpers/blobkey"
	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/models"
	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/repositories"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrCredentialExpired means confirm arrived after the upload window
	// closed. Terminal for this reservation, even if the blob exists.
	ErrCredentialExpired = errors.New("upload credential expired")
	// ErrBlobNotFound means confirm arrived but no blob exists at the
	// reserved key.
	ErrBlobNotFound = errors.New("no blob found at reserved key")
	// ErrForbidden means the authorization checker denied the write.
	ErrForbidden = errors.New("caller may not write to this entity")
	// ErrStorageUnavailable wraps transient blob-store failures. Retryable.
	ErrStorageUnavailable = errors.New("blob store unavailable")
)

// Authorizer is the external RBAC collaborator consulted before any
// reservation is made.
type Authorizer interface {
	CanWrite(ctx context.Context, caller models.CallerContext, ownerEntityType, ownerEntityID string) bool
}

// AllowAll grants every write. Used when authorization is enforced upstream
// (gateway scopes) and in tests.
type AllowAll struct{}

func (AllowAll) CanWrite(context.Context, models.CallerContext, string, string) bool { return true }

// UploadServiceConfig tunes the upload handshake.
type UploadServiceConfig struct {
	// TenantID namespaces blob keys for this deployment.
	TenantID string
	// CredentialTTL bounds the window between begin and confirm.
	CredentialTTL time.Duration
	// PendingTTL is how long an unconfirmed reservation survives before
	// the reap sweep abandons it.
	PendingTTL time.Duration
}

func (c *UploadServiceConfig) applyDefaults() {
	if c.TenantID == "" {
		c.TenantID = "default"
	}
	if c.CredentialTTL <= 0 {
		c.CredentialTTL = 15 * time.Minute
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = time.Hour
	}
}

// UploadService coordinates the two-phase upload handshake: reserve metadata
// plus issue a presigned credential, then verify the blob and finalize.
type UploadService struct {
	repo  repositories.VersionRepository
	blobs blobstore.Client
	authz Authorizer
	cfg   UploadServiceConfig
}

func NewUploadService(repo repositories.VersionRepository, blobs blobstore.Client, authz Authorizer, cfg UploadServiceConfig) *UploadService {
	cfg.applyDefaults()
	if authz == nil {
		authz = AllowAll{}
	}
	return &UploadService{repo: repo, blobs: blobs, authz: authz, cfg: cfg}
}

// BeginUpload resolves a blob key, reserves a pending version row and issues
// an upload credential scoped to exactly that key. With a root id set it
// reserves the next version of an existing chain.
func (s *UploadService) BeginUpload(ctx context.Context, caller models.CallerContext, in *models.BeginUploadInput) (*models.BeginUploadResult, error) {
	ownerType, ownerID := in.OwnerEntityType, in.OwnerEntityId
	if in.RootId != "" {
		// New versions inherit the owner from the chain; verify against
		// the actual owner, not caller-supplied fields.
		cur, err := s.repo.GetCurrent(ctx, in.RootId)
		if err != nil {
			return nil, err
		}
		ownerType, ownerID = cur.OwnerEntityType, cur.OwnerEntityId
	}
	if !s.authz.CanWrite(ctx, caller, ownerType, ownerID) {
		return nil, fmt.Errorf("%w: %s/%s", ErrForbidden, ownerType, ownerID)
	}

	key, err := s.resolveFreeKey(ctx, ownerType, ownerID, in.FileName)
	if err != nil {
		return nil, err
	}

	cred, err := s.blobs.IssueUploadCredential(ctx, key, s.cfg.CredentialTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: issue upload credential: %v", ErrStorageUnavailable, err)
	}

	row, err := s.repo.ReserveVersion(ctx, in.RootId, repositories.ReserveInput{
		OwnerEntityType: ownerType,
		OwnerEntityId:   ownerID,
		FileName:        in.FileName,
		BlobKey:         key,
		ContentFormat:   in.ContentFormat,
		Metadata: models.Metadata{
			SchemaVersion: models.MetadataSchemaVersion,
			Attributes:    in.Attributes,
		},
		ExpiresAt: cred.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	return &models.BeginUploadResult{
		VersionId:          row.Id,
		RootId:             row.RootId,
		ProvisionalVersion: row.VersionNumber,
		BlobKey:            row.BlobKey,
		UploadCredential: models.UploadCredentialView{
			URL:       cred.URL,
			Method:    cred.Method,
			Headers:   cred.Headers,
			ExpiresAt: cred.ExpiresAt,
		},
		ExpiresAt: cred.ExpiresAt,
	}, nil
}

// ConfirmUpload verifies the blob exists behind the reservation and runs the
// atomic close-current/open-next transition. ChainConflict from the
// repository means another confirm won; the caller retries from BeginUpload.
func (s *UploadService) ConfirmUpload(ctx context.Context, versionID string, byteSize int64, contentFormat string) (*models.ArtifactVersion, error) {
	row, err := s.repo.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if row.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: version %s is %s", repositories.ErrInvalidVersionState, row.Id, row.Status)
	}
	if time.Now().UTC().After(row.CredentialExpiresAt) {
		return nil, fmt.Errorf("%w: expired at %s", ErrCredentialExpired, row.CredentialExpiresAt.Format(time.RFC3339))
	}

	ok, err := s.blobs.Exists(ctx, row.BlobKey)
	if err != nil {
		return nil, fmt.Errorf("%w: blob existence check: %v", ErrStorageUnavailable, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, row.BlobKey)
	}

	if byteSize <= 0 {
		// Caller did not observe a size; trust the store's head.
		byteSize, err = s.blobs.HeadSize(ctx, row.BlobKey)
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, row.BlobKey)
			}
			return nil, fmt.Errorf("%w: blob size check: %v", ErrStorageUnavailable, err)
		}
	}
	if contentFormat == "" {
		contentFormat = row.ContentFormat
	}

	return s.repo.FinalizeVersion(ctx, versionID, byteSize, contentFormat)
}

// AbandonUpload gives up a reservation. Idempotent.
func (s *UploadService) AbandonUpload(ctx context.Context, versionID string) error {
	return s.repo.AbandonVersion(ctx, versionID)
}

// ReapStale abandons pending rows whose upload window closed longer than
// PendingTTL ago. Status is the sole decision input: a row that was
// finalized in the meantime is simply not in the stale list, and a confirm
// racing the sweep loses to whichever commit lands first.
func (s *UploadService) ReapStale(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.cfg.PendingTTL)
	rows, err := s.repo.StalePending(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	const maxConcurrent = 4
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	g, ctx := errgroup.WithContext(ctx)

	for _, row := range rows {
		row := row // capture
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := s.repo.AbandonVersion(ctx, row.Id); err != nil {
				if errors.Is(err, repositories.ErrInvalidVersionState) {
					// Finalized between listing and abandon; leave it.
					return nil
				}
				log.Printf("[reap] abandon version=%s failed: %v", row.Id, err)
				return err
			}
			log.Printf("[reap] abandoned version=%s key=%s", row.Id, row.BlobKey)
			return nil
		})
	}

	return g.Wait()
}

// resolveFreeKey resolves a blob key and regenerates on the (cosmically
// unlikely) collision with an existing row.
func (s *UploadService) resolveFreeKey(ctx context.Context, ownerType, ownerID, fileName string) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		key := blobkey.Resolve(s.cfg.TenantID, ownerType, ownerID, fileName)
		inUse, err := s.repo.BlobKeyInUse(ctx, key)
		if err != nil {
			return "", err
		}
		if !inUse {
			return key, nil
		}
	}
	return "", errors.New("could not resolve an unused blob key")
}
