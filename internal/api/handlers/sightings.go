package handlers

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/reserve/internal/auth"
	"github.com/your-org/reserve/internal/blob"
	"github.com/your-org/reserve/internal/models"
	"github.com/your-org/reserve/internal/storage"
	"github.com/your-org/reserve/internal/upload"
	"github.com/your-org/reserve/pkg/dto"
)

// multipart overhead allowed on top of the image limits
const formOverhead = 1 << 20

type SightingHandler struct {
	pipeline Pipeline
	store    SightingStore
	blobs    *blob.Store
	archive  Archive // nil when object storage is disabled
	maxBytes int64
}

func NewSightingHandler(pipeline Pipeline, store SightingStore, blobs *blob.Store, archive Archive, maxBytes int64) *SightingHandler {
	return &SightingHandler{pipeline: pipeline, store: store, blobs: blobs, archive: archive, maxBytes: maxBytes}
}

// DetectSpecies stores an uploaded image (file and/or base64 crop) and
// returns the classifier's species guess.
func (h *SightingHandler) DetectSpecies(c *gin.Context) {
	if h.maxBytes > 0 {
		// a crop and the original, with base64 expansion on the crop
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes*3+formOverhead)
	}

	var form dto.DetectSpeciesRequest
	if err := c.ShouldBind(&form); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, "Image is too large.")
			return
		}
		respondError(c, http.StatusBadRequest, "Invalid upload form")
		return
	}

	req := upload.UploadRequest{
		CroppedImage: form.CroppedImage,
		SpeciesName:  form.SpeciesName,
		Latitude:     form.Latitude,
		Longitude:    form.Longitude,
	}
	req.UserID, _ = auth.UserID(c)

	fh, err := c.FormFile(upload.ImageField)
	switch {
	case err == nil:
		req.Image = blob.FromFileHeader(fh)
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, "Image is too large.")
			return
		}
		respondError(c, http.StatusBadRequest, "Invalid image upload")
		return
	}

	res, err := h.pipeline.Process(c.Request.Context(), req)
	if err != nil {
		respondUploadError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.DetectSpeciesResponse{
		Success:       true,
		ImageFilename: res.ImageFilename,
		PredictedName: res.PredictedName,
		Confidence:    res.Confidence,
	})
}

// Finalize persists a reviewed sighting with its description.
func (h *SightingHandler) Finalize(c *gin.Context) {
	var form dto.FinalizeSightingRequest
	if err := c.ShouldBind(&form); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid sighting form")
		return
	}

	userID, _ := auth.UserID(c)
	req := upload.FinalizeRequest{
		SpeciesName:   form.SpeciesName,
		ImageFilename: form.ImageFilename,
		Latitude:      form.Latitude,
		Longitude:     form.Longitude,
		PredictedName: form.PredictedName,
		Confidence:    form.Confidence,
		UserID:        userID,
	}
	if u, err := h.store.GetUser(c.Request.Context(), userID); err == nil && u != nil {
		req.Username = u.Username
	}

	s, err := h.pipeline.Finalize(c.Request.Context(), req)
	if err != nil {
		respondUploadError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FinalizeSightingResponse{
		Success:  true,
		Sighting: toSightingResponse(models.GalleryEntry{Sighting: *s, Username: req.Username}),
	})
}

// List returns the gallery.
func (h *SightingHandler) List(c *gin.Context) {
	userID, _ := auth.UserID(c)
	entries, err := h.store.ListGallery(c.Request.Context(), userID)
	if err != nil {
		respondInternal(c, "list gallery", err)
		return
	}
	c.JSON(http.StatusOK, dto.SightingListResponse{Success: true, Sightings: toSightingResponses(entries)})
}

// Search matches the query against species names and descriptions.
func (h *SightingHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	userID, _ := auth.UserID(c)

	entries, err := h.store.SearchSightings(c.Request.Context(), query, userID)
	if err != nil {
		respondInternal(c, "search sightings", err)
		return
	}
	c.JSON(http.StatusOK, dto.SightingListResponse{Success: true, Sightings: toSightingResponses(entries), Query: query})
}

func toSightingResponses(entries []models.GalleryEntry) []dto.SightingResponse {
	resp := make([]dto.SightingResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toSightingResponse(e))
	}
	return resp
}

// Delete removes the caller's own sighting and its image copies.
func (h *SightingHandler) Delete(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	userID, _ := auth.UserID(c)

	s, err := h.store.DeleteSighting(c.Request.Context(), id, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(c, http.StatusNotFound, "Sighting not found")
			return
		}
		respondInternal(c, "delete sighting", err)
		return
	}

	if err := h.blobs.Remove(s.ImageFilename); err != nil {
		slog.Warn("remove sighting image", "sighting_id", s.ID, "file", s.ImageFilename, "error", err)
	}
	if s.ArchiveKey != "" && h.archive != nil {
		if err := h.archive.DeleteObject(c.Request.Context(), s.ArchiveKey); err != nil {
			slog.Warn("remove archived image", "sighting_id", s.ID, "key", s.ArchiveKey, "error", err)
		}
	}

	slog.Info("sighting deleted", "sighting_id", s.ID, "user_id", userID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ServeImage serves an uploaded image from the upload directory, falling
// back to the object storage archive.
func (h *SightingHandler) ServeImage(c *gin.Context) {
	name := c.Param("filename")
	if err := blob.ValidName(name); err != nil {
		respondError(c, http.StatusBadRequest, "invalid filename")
		return
	}

	ok, err := h.blobs.Exists(name)
	if err != nil {
		respondInternal(c, "stat image", err)
		return
	}
	if ok {
		c.Header("Cache-Control", "private, max-age=86400")
		c.File(h.blobs.Path(name))
		return
	}

	if h.archive == nil {
		respondError(c, http.StatusNotFound, "image not found")
		return
	}
	key, err := h.store.ArchiveKeyFor(c.Request.Context(), name)
	if err != nil {
		respondInternal(c, "get archive key", err)
		return
	}
	if key == "" {
		respondError(c, http.StatusNotFound, "image not found")
		return
	}

	obj, err := h.archive.GetObject(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(c, http.StatusNotFound, "image not found")
			return
		}
		respondInternal(c, "get archived image", err)
		return
	}
	defer obj.Close()

	c.Header("Cache-Control", "private, max-age=86400")
	c.DataFromReader(http.StatusOK, obj.Size, obj.ContentType, obj, nil)
}
