package services

import (
	"context"
	"time"

	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/models"
	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/repositories"
)

// HistoryService is the read side of the engine: ordered chains, current
// version and point-in-time snapshots. No writes go through here.
type HistoryService struct {
	repo repositories.VersionRepository
}

func NewHistoryService(repo repositories.VersionRepository) *HistoryService {
	return &HistoryService{repo: repo}
}

// ListChain returns every finalized version of a chain, newest first.
// includePending adds pending and abandoned rows for audit views.
func (s *HistoryService) ListChain(ctx context.Context, rootID string, includePending bool) ([]models.ArtifactVersion, error) {
	return s.repo.ListChain(ctx, rootID, includePending)
}

// GetCurrent returns the chain's single current version.
func (s *HistoryService) GetCurrent(ctx context.Context, rootID string) (*models.ArtifactVersion, error) {
	return s.repo.GetCurrent(ctx, rootID)
}

// GetAsOf returns the version whose validity interval contains at.
func (s *HistoryService) GetAsOf(ctx context.Context, rootID string, at time.Time) (*models.ArtifactVersion, error) {
	return s.repo.GetAsOf(ctx, rootID, at)
}
