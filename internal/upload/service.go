// Package upload runs the sighting pipeline: store the image, classify it
// with a single fallback, and later finalize it into a persisted sighting
// with an encyclopedia description.
package upload

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/your-org/reserve/internal/blob"
	"github.com/your-org/reserve/internal/classifier"
	"github.com/your-org/reserve/internal/models"
	"github.com/your-org/reserve/internal/observability"
)

const (
	ImageField   = "image"
	CroppedField = "croppedImage"
)

type Describer interface {
	Resolve(ctx context.Context, name string) string
}

type SightingWriter interface {
	CreateSighting(ctx context.Context, s *models.Sighting) error
}

type EventPublisher interface {
	PublishSighting(ctx context.Context, ev models.SightingEvent) error
}

type UploadRequest struct {
	Image        blob.Source // nil when only a crop was sent
	CroppedImage string      // base64 data URI
	SpeciesName  string
	Latitude     string
	Longitude    string
	UserID       uuid.UUID
}

type UploadResult struct {
	ImageFilename string   `json:"imageFilename"`
	PredictedName string   `json:"predictedName"`
	Confidence    *float64 `json:"confidence,omitempty"`
}

type FinalizeRequest struct {
	SpeciesName   string
	ImageFilename string
	Latitude      string
	Longitude     string
	PredictedName string // classifier label returned by Process
	Confidence    string // classifier confidence returned by Process
	UserID        uuid.UUID
	Username      string
}

type Service struct {
	blobs      *blob.Store
	classifier classifier.Classifier
	describer  Describer
	writer     SightingWriter
	publisher  EventPublisher // optional
}

func NewService(blobs *blob.Store, c classifier.Classifier, d Describer, w SightingWriter, p EventPublisher) *Service {
	return &Service{blobs: blobs, classifier: c, describer: d, writer: w, publisher: p}
}

// Process stores the uploaded image and returns the predicted species name.
// A decoded crop is preferred for classification; when both a crop and the
// original are sent, the crop is temporary and removed before returning.
func (s *Service) Process(ctx context.Context, req UploadRequest) (res *UploadResult, err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		observability.UploadsProcessed.WithLabelValues(outcome).Inc()
	}()

	hasCrop := strings.TrimSpace(req.CroppedImage) != ""
	if req.Image == nil && !hasCrop {
		return nil, validationError("No image uploaded.")
	}
	if _, _, err := parseCoordinates(req.Latitude, req.Longitude); err != nil {
		return nil, err
	}

	// The crop is decoded first so a malformed data URI leaves nothing behind.
	var crop *blob.Temp
	var stored string
	if hasCrop {
		if req.Image != nil {
			crop, err = s.blobs.AcquireCrop(req.CroppedImage)
			if err != nil {
				return nil, blobError(err)
			}
			defer crop.Release()
		} else {
			stored, err = s.blobs.SaveDataURI(CroppedField, req.CroppedImage)
			if err != nil {
				return nil, blobError(err)
			}
		}
	}
	if req.Image != nil {
		stored, err = s.blobs.SaveUpload(ImageField, req.Image)
		if err != nil {
			return nil, blobError(err)
		}
	}

	defer func() {
		if err == nil {
			return
		}
		if rmErr := s.blobs.Remove(stored); rmErr != nil {
			slog.Warn("remove upload after failed classification", "file", stored, "error", rmErr)
		}
	}()

	primary, fallback := s.blobs.Path(stored), ""
	if crop != nil {
		primary, fallback = crop.Path(), s.blobs.Path(stored)
	}

	result, err := s.classify(ctx, primary, fallback)
	if err != nil {
		return nil, err
	}

	predicted := strings.TrimSpace(result.Label)
	if predicted == "" {
		predicted = strings.TrimSpace(req.SpeciesName)
	}

	slog.Info("upload classified",
		"user_id", req.UserID,
		"file", stored,
		"predicted", predicted,
		"used_crop", crop != nil,
	)

	return &UploadResult{
		ImageFilename: stored,
		PredictedName: predicted,
		Confidence:    result.Confidence,
	}, nil
}

// classify runs the primary attempt and at most one fallback on the
// original upload. Credential and availability failures never fall back.
func (s *Service) classify(ctx context.Context, primary, fallback string) (*classifier.Result, error) {
	res, err := s.classifier.Classify(ctx, primary)
	if err == nil {
		return res, nil
	}

	switch classifier.KindOf(err) {
	case classifier.KindUnauthorized:
		return nil, &Error{Kind: KindUnauthorized, Message: "Unauthorized: Invalid or missing API key", Err: err}
	case classifier.KindUnavailable:
		return nil, &Error{Kind: KindUnavailable, Message: "Classification service is temporarily unavailable. Please try again later.", Err: err}
	}

	if fallback == "" {
		return nil, &Error{Kind: KindClassification, Message: "Failed to classify image", Err: err}
	}

	slog.Warn("classification of cropped image failed, retrying with original",
		"kind", classifier.KindOf(err),
		"error", err,
	)

	res, ferr := s.classifier.Classify(ctx, fallback)
	if ferr != nil {
		observability.ClassificationFallbacks.WithLabelValues("failed").Inc()
		return nil, &Error{Kind: KindClassification, Message: "Failed to classify image", Err: errors.Join(err, ferr)}
	}
	observability.ClassificationFallbacks.WithLabelValues("recovered").Inc()
	return res, nil
}

// Finalize resolves a description for the confirmed species name and
// persists the sighting.
func (s *Service) Finalize(ctx context.Context, req FinalizeRequest) (*models.Sighting, error) {
	species := strings.TrimSpace(req.SpeciesName)
	if species == "" {
		return nil, validationError("Species name is required")
	}

	if err := blob.ValidName(req.ImageFilename); err != nil {
		return nil, validationError("Image filename is invalid")
	}
	ok, err := s.blobs.Exists(req.ImageFilename)
	if err != nil {
		return nil, &Error{Kind: KindInternal, Message: "Internal Server Error", Err: err}
	}
	if !ok {
		return nil, validationError("Image not found")
	}

	lat, lng, err := parseCoordinates(req.Latitude, req.Longitude)
	if err != nil {
		return nil, err
	}
	confidence, err := parseConfidence(req.Confidence)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(strings.TrimSpace(req.PredictedName), species) {
		// the user edited the label
		confidence = nil
	}

	sighting := &models.Sighting{
		SpeciesName:   species,
		Description:   s.describer.Resolve(ctx, species),
		ImageFilename: req.ImageFilename,
		Latitude:      lat,
		Longitude:     lng,
		UserID:        req.UserID,
		Confidence:    confidence,
	}

	if err := s.writer.CreateSighting(ctx, sighting); err != nil {
		return nil, &Error{Kind: KindPersistence, Message: "Database Error", Err: err}
	}
	observability.SightingsCreated.Inc()

	if s.publisher != nil {
		ev := models.SightingEvent{
			SightingID:    sighting.ID,
			UserID:        sighting.UserID,
			Username:      req.Username,
			SpeciesName:   sighting.SpeciesName,
			ImageFilename: sighting.ImageFilename,
			Latitude:      sighting.Latitude,
			Longitude:     sighting.Longitude,
			CreatedAt:     sighting.CreatedAt,
		}
		if err := s.publisher.PublishSighting(ctx, ev); err != nil {
			slog.Error("failed to publish sighting", "sighting_id", sighting.ID, "error", err)
		}
	}

	return sighting, nil
}

// parseCoordinates returns both coordinates or neither. Blank values on
// either side drop the pair.
func parseCoordinates(latRaw, lngRaw string) (*float64, *float64, error) {
	latRaw, lngRaw = strings.TrimSpace(latRaw), strings.TrimSpace(lngRaw)
	if latRaw == "" || lngRaw == "" {
		return nil, nil, nil
	}
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil || math.IsNaN(lat) || math.IsInf(lat, 0) {
		return nil, nil, validationError("Latitude must be a number")
	}
	lng, err := strconv.ParseFloat(lngRaw, 64)
	if err != nil || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return nil, nil, validationError("Longitude must be a number")
	}
	return &lat, &lng, nil
}

func parseConfidence(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	c, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(c) || c < 0 || c > 1 {
		return nil, validationError("Confidence must be a number between 0 and 1")
	}
	return &c, nil
}
