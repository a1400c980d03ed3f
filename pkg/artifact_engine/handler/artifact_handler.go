package handler

import (
	"errors"
	"fmt"
	"time"

	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/helpers/problem"
	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/middleware"
	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/models"
	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/repositories"
	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/services"
	"github.com/gin-gonic/gin"
)

// ArtifactsAPIController binds HTTP requests to the upload and history
// services.
type ArtifactsAPIController struct {
	Uploads *services.UploadService
	History *services.HistoryService
}

// NewArtifactsAPIController creates a new controller
func NewArtifactsAPIController(uploads *services.UploadService, history *services.HistoryService) *ArtifactsAPIController {
	return &ArtifactsAPIController{Uploads: uploads, History: history}
}

// BeginUpload handles POST /artifacts/begin-upload
func (c *ArtifactsAPIController) BeginUpload(ctx *gin.Context, body *models.BeginUploadInput) (*models.BeginUploadResult, error) {
	if invalids := validateBeginUpload(body); len(invalids) > 0 {
		return nil, problem.NewBadRequest("body", "Invalid input", invalids...)
	}
	res, err := c.Uploads.BeginUpload(ctx.Request.Context(), middleware.CallerFromContext(ctx), body)
	if err != nil {
		return nil, mapUploadError(body.RootId, err)
	}
	return res, nil
}

// BeginNewVersion handles POST /artifacts/:id/new-version
func (c *ArtifactsAPIController) BeginNewVersion(ctx *gin.Context, params *models.NewVersionParams) (*models.BeginUploadResult, error) {
	body := &models.BeginUploadInput{
		RootId:        params.RootId,
		FileName:      params.FileName,
		ContentFormat: params.ContentFormat,
		Attributes:    params.Attributes,
	}
	res, err := c.Uploads.BeginUpload(ctx.Request.Context(), middleware.CallerFromContext(ctx), body)
	if err != nil {
		return nil, mapUploadError(params.RootId, err)
	}
	return res, nil
}

// ConfirmUpload handles POST /artifacts/:id/confirm
func (c *ArtifactsAPIController) ConfirmUpload(ctx *gin.Context, params *models.ConfirmUploadParams) (*models.ArtifactVersion, error) {
	row, err := c.Uploads.ConfirmUpload(ctx.Request.Context(), params.VersionId, params.ByteSize, params.ContentFormat)
	if err != nil {
		return nil, mapUploadError(params.VersionId, err)
	}
	return row, nil
}

// AbandonUpload handles POST /artifacts/:id/abandon
func (c *ArtifactsAPIController) AbandonUpload(ctx *gin.Context, params *models.AbandonParams) error {
	if err := c.Uploads.AbandonUpload(ctx.Request.Context(), params.VersionId); err != nil {
		return mapUploadError(params.VersionId, err)
	}
	return nil
}

// ListChain handles GET /artifacts/:id/versions
func (c *ArtifactsAPIController) ListChain(ctx *gin.Context, params *models.ListChainParams) ([]models.ArtifactVersion, error) {
	rows, err := c.History.ListChain(ctx.Request.Context(), params.RootId, params.IncludePending)
	if err != nil {
		return nil, mapUploadError(params.RootId, err)
	}
	ctx.Header("X-Total-Count", fmt.Sprintf("%d", len(rows)))
	return rows, nil
}

// GetCurrent handles GET /artifacts/:id/current
func (c *ArtifactsAPIController) GetCurrent(ctx *gin.Context, params *models.RootParams) (*models.ArtifactVersion, error) {
	row, err := c.History.GetCurrent(ctx.Request.Context(), params.RootId)
	if err != nil {
		return nil, mapUploadError(params.RootId, err)
	}
	return row, nil
}

// GetAsOf handles GET /artifacts/:id/as-of?at=<RFC 3339>
func (c *ArtifactsAPIController) GetAsOf(ctx *gin.Context, params *models.AsOfParams) (*models.ArtifactVersion, error) {
	at, err := time.Parse(time.RFC3339, params.At)
	if err != nil {
		return nil, problem.NewBadRequest("at", "timestamp must be RFC 3339",
			problem.InvalidParam{Name: "at", Reason: err.Error()})
	}
	row, err := c.History.GetAsOf(ctx.Request.Context(), params.RootId, at)
	if err != nil {
		return nil, mapUploadError(params.RootId, err)
	}
	return row, nil
}

// validateBeginUpload enforces the fields a reservation cannot do without.
// Owner fields are only required for fresh chains; new versions inherit the
// owner from the chain itself.
func validateBeginUpload(body *models.BeginUploadInput) []problem.InvalidParam {
	var invalids []problem.InvalidParam
	if body.FileName == "" {
		invalids = append(invalids, problem.InvalidParam{Name: "fileName", Reason: "is required"})
	}
	if body.RootId == "" {
		if body.OwnerEntityType == "" {
			invalids = append(invalids, problem.InvalidParam{Name: "ownerEntityType", Reason: "is required"})
		}
		if body.OwnerEntityId == "" {
			invalids = append(invalids, problem.InvalidParam{Name: "ownerEntityId", Reason: "is required"})
		}
	}
	return invalids
}

// mapUploadError translates engine sentinels into problem responses.
// ChainConflict keeps its retry hint: the caller lost to a concurrent
// writer and should begin a fresh upload against the new current version.
func mapUploadError(location string, err error) error {
	switch {
	case errors.Is(err, repositories.ErrChainNotFound),
		errors.Is(err, repositories.ErrVersionNotFound):
		return problem.NewNotFound(location, err.Error())
	case errors.Is(err, services.ErrForbidden):
		return problem.NewForbidden(location, err.Error())
	case errors.Is(err, repositories.ErrChainConflict):
		return problem.NewConflict(location,
			"someone else updated this artifact first, please retry the upload")
	case errors.Is(err, repositories.ErrInvalidVersionState):
		return problem.NewConflict(location, err.Error())
	case errors.Is(err, services.ErrCredentialExpired):
		return problem.NewGone(location, err.Error())
	case errors.Is(err, services.ErrBlobNotFound):
		return problem.NewPreconditionFailed(location, err.Error())
	case errors.Is(err, services.ErrStorageUnavailable):
		return problem.NewServiceUnavailable(err.Error())
	default:
		return err
	}
}
