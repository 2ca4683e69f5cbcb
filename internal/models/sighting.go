package models

import (
	"time"

	"github.com/google/uuid"
)

type Sighting struct {
	ID            uuid.UUID `json:"id" db:"id"`
	SpeciesName   string    `json:"speciesName" db:"species_name"`
	Description   string    `json:"description" db:"description"`
	ImageFilename string    `json:"imageFilename" db:"image_filename"`
	Latitude      *float64  `json:"latitude,omitempty" db:"latitude"`
	Longitude     *float64  `json:"longitude,omitempty" db:"longitude"`
	UserID        uuid.UUID `json:"userId" db:"user_id"`
	Confidence    *float64  `json:"confidence,omitempty" db:"confidence"`
	ArchiveKey    string    `json:"archiveKey,omitempty" db:"archive_key"` // MinIO key once archived
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// GalleryEntry is a sighting as shown in the gallery, with its social data.
type GalleryEntry struct {
	Sighting
	Username     string    `json:"username"`
	LikeCount    int       `json:"likeCount"`
	UserHasLiked bool      `json:"userHasLiked"`
	Comments     []Comment `json:"comments"`
}

// SightingEvent is the message published to NATS when a sighting is created.
type SightingEvent struct {
	SightingID    uuid.UUID `json:"sighting_id"`
	UserID        uuid.UUID `json:"user_id"`
	Username      string    `json:"username,omitempty"`
	SpeciesName   string    `json:"species_name"`
	ImageFilename string    `json:"image_filename"`
	Latitude      *float64  `json:"latitude,omitempty"`
	Longitude     *float64  `json:"longitude,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
