package dto

import "github.com/google/uuid"

type CommentRequest struct {
	Text string `form:"text" json:"text" binding:"required,max=2000"`
}

type CommentResponse struct {
	ID         uuid.UUID `json:"id"`
	SightingID uuid.UUID `json:"sightingId"`
	UserID     uuid.UUID `json:"userId"`
	Username   string    `json:"username"`
	Text       string    `json:"text"`
	CreatedAt  string    `json:"createdAt"`
}

type LikesResponse struct {
	Success    bool      `json:"success"`
	SightingID uuid.UUID `json:"sightingId"`
	LikeCount  int       `json:"likeCount"`
}

type ContactRequest struct {
	Name    string `form:"name" json:"name" binding:"required,max=200"`
	Email   string `form:"email" json:"email" binding:"required,email"`
	Message string `form:"message" json:"message" binding:"required,max=5000"`
}

// WSEvent is a WebSocket message for the live sighting map.
type WSEvent struct {
	Type        string    `json:"type"` // sighting_created
	SightingID  uuid.UUID `json:"sightingId"`
	UserID      uuid.UUID `json:"userId"`
	Username    string    `json:"username,omitempty"`
	SpeciesName string    `json:"speciesName"`
	ImageURL    string    `json:"imageUrl"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	CreatedAt   string    `json:"createdAt"`
}
