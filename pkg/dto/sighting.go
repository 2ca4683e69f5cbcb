package dto

import (
	"github.com/google/uuid"
)

// ErrorResponse is the envelope for every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// DetectSpeciesRequest is the multipart form of POST /detect_species.
// The image file itself is read separately from the "image" field.
type DetectSpeciesRequest struct {
	CroppedImage string `form:"croppedImage"`
	SpeciesName  string `form:"speciesName"`
	Latitude     string `form:"latitude"`
	Longitude    string `form:"longitude"`
}

type DetectSpeciesResponse struct {
	Success       bool     `json:"success"`
	ImageFilename string   `json:"imageFilename"`
	PredictedName string   `json:"predictedName"`
	Confidence    *float64 `json:"confidence,omitempty"`
}

// FinalizeSightingRequest echoes predictedName and confidence from the
// detect response; the confidence is kept only for an unedited name.
type FinalizeSightingRequest struct {
	SpeciesName   string `form:"speciesName" json:"speciesName"`
	ImageFilename string `form:"imageFilename" json:"imageFilename"`
	Latitude      string `form:"latitude" json:"latitude"`
	Longitude     string `form:"longitude" json:"longitude"`
	PredictedName string `form:"predictedName" json:"predictedName"`
	Confidence    string `form:"confidence" json:"confidence"`
}

type SightingResponse struct {
	ID            uuid.UUID         `json:"id"`
	SpeciesName   string            `json:"speciesName"`
	Description   string            `json:"description"`
	ImageFilename string            `json:"imageFilename"`
	ImageURL      string            `json:"imageUrl"`
	Latitude      *float64          `json:"latitude"`
	Longitude     *float64          `json:"longitude"`
	UserID        uuid.UUID         `json:"userId"`
	Username      string            `json:"username,omitempty"`
	Confidence    *float64          `json:"confidence,omitempty"`
	LikeCount     int               `json:"likeCount"`
	UserHasLiked  bool              `json:"userHasLiked"`
	Comments      []CommentResponse `json:"comments,omitempty"`
	CreatedAt     string            `json:"createdAt"`
}

type FinalizeSightingResponse struct {
	Success  bool             `json:"success"`
	Sighting SightingResponse `json:"sighting"`
}

type SightingListResponse struct {
	Success   bool               `json:"success"`
	Sightings []SightingResponse `json:"sightings"`
	Query     string             `json:"query,omitempty"`
}
