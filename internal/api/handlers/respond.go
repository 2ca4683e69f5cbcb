package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/reserve/internal/models"
	"github.com/your-org/reserve/internal/storage"
	"github.com/your-org/reserve/internal/upload"
	"github.com/your-org/reserve/pkg/dto"
)

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type SightingStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	ListGallery(ctx context.Context, viewerID uuid.UUID) ([]models.GalleryEntry, error)
	SearchSightings(ctx context.Context, query string, viewerID uuid.UUID) ([]models.GalleryEntry, error)
	DeleteSighting(ctx context.Context, id, userID uuid.UUID) (*models.Sighting, error)
	ArchiveKeyFor(ctx context.Context, filename string) (string, error)
}

type CommentStore interface {
	AddComment(ctx context.Context, c *models.Comment) error
	ListComments(ctx context.Context, sightingID uuid.UUID) ([]models.Comment, error)
	DeleteComment(ctx context.Context, sightingID, commentID, userID uuid.UUID) error
}

type LikeStore interface {
	Like(ctx context.Context, sightingID, userID uuid.UUID) error
	Unlike(ctx context.Context, sightingID, userID uuid.UUID) error
	CountLikes(ctx context.Context, sightingID uuid.UUID) (int, error)
}

type ContactStore interface {
	CreateContact(ctx context.Context, m *models.ContactMessage) error
}

// Pipeline is the upload orchestrator.
type Pipeline interface {
	Process(ctx context.Context, req upload.UploadRequest) (*upload.UploadResult, error)
	Finalize(ctx context.Context, req upload.FinalizeRequest) (*models.Sighting, error)
}

// Archive is the object storage copy of sighting images.
type Archive interface {
	GetObject(ctx context.Context, key string) (*storage.Object, error)
	DeleteObject(ctx context.Context, key string) error
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, dto.ErrorResponse{Success: false, Message: message})
}

func respondInternal(c *gin.Context, msg string, err error) {
	slog.Error(msg, "error", err, "path", c.FullPath())
	respondError(c, http.StatusInternalServerError, "Internal Server Error")
}

func respondUploadError(c *gin.Context, err error) {
	ue := upload.AsError(err)
	status := ue.Status()
	if status >= http.StatusInternalServerError {
		slog.Error("upload pipeline failed", "status", status, "error", err)
	} else {
		slog.Warn("upload request rejected", "status", status, "error", err)
	}
	respondError(c, status, ue.Message)
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func imageURL(filename string) string {
	return "/uploads/" + filename
}

func toCommentResponse(cm models.Comment) dto.CommentResponse {
	return dto.CommentResponse{
		ID:         cm.ID,
		SightingID: cm.SightingID,
		UserID:     cm.UserID,
		Username:   cm.Username,
		Text:       cm.Text,
		CreatedAt:  cm.CreatedAt.Format(time.RFC3339),
	}
}

func toSightingResponse(e models.GalleryEntry) dto.SightingResponse {
	r := dto.SightingResponse{
		ID:            e.ID,
		SpeciesName:   e.SpeciesName,
		Description:   e.Description,
		ImageFilename: e.ImageFilename,
		ImageURL:      imageURL(e.ImageFilename),
		Latitude:      e.Latitude,
		Longitude:     e.Longitude,
		UserID:        e.UserID,
		Username:      e.Username,
		Confidence:    e.Confidence,
		LikeCount:     e.LikeCount,
		UserHasLiked:  e.UserHasLiked,
		CreatedAt:     e.CreatedAt.Format(time.RFC3339),
	}
	for _, cm := range e.Comments {
		r.Comments = append(r.Comments, toCommentResponse(cm))
	}
	return r
}
