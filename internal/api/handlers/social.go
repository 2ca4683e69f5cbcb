package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/reserve/internal/auth"
	"github.com/your-org/reserve/internal/models"
	"github.com/your-org/reserve/internal/storage"
	"github.com/your-org/reserve/pkg/dto"
)

type CommentHandler struct {
	store CommentStore
}

func NewCommentHandler(store CommentStore) *CommentHandler {
	return &CommentHandler{store: store}
}

func (h *CommentHandler) List(c *gin.Context) {
	sightingID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	comments, err := h.store.ListComments(c.Request.Context(), sightingID)
	if err != nil {
		respondInternal(c, "list comments", err)
		return
	}

	resp := make([]dto.CommentResponse, 0, len(comments))
	for _, cm := range comments {
		resp = append(resp, toCommentResponse(cm))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "comments": resp})
}

func (h *CommentHandler) Add(c *gin.Context) {
	sightingID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req dto.CommentRequest
	if err := c.ShouldBind(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		respondError(c, http.StatusBadRequest, "Comment text is required")
		return
	}

	userID, _ := auth.UserID(c)
	cm := &models.Comment{SightingID: sightingID, UserID: userID, Text: strings.TrimSpace(req.Text)}
	if err := h.store.AddComment(c.Request.Context(), cm); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(c, http.StatusNotFound, "Sighting not found")
			return
		}
		respondInternal(c, "add comment", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "comment": toCommentResponse(*cm)})
}

func (h *CommentHandler) Delete(c *gin.Context) {
	sightingID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	commentID, ok := parseUUIDParam(c, "commentId")
	if !ok {
		return
	}

	userID, _ := auth.UserID(c)
	if err := h.store.DeleteComment(c.Request.Context(), sightingID, commentID, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(c, http.StatusNotFound, "Comment not found")
			return
		}
		respondInternal(c, "delete comment", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type LikeHandler struct {
	store LikeStore
}

func NewLikeHandler(store LikeStore) *LikeHandler {
	return &LikeHandler{store: store}
}

func (h *LikeHandler) Like(c *gin.Context) {
	h.toggle(c, true)
}

func (h *LikeHandler) Unlike(c *gin.Context) {
	h.toggle(c, false)
}

func (h *LikeHandler) toggle(c *gin.Context, like bool) {
	sightingID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	userID, _ := auth.UserID(c)

	var err error
	if like {
		err = h.store.Like(c.Request.Context(), sightingID, userID)
	} else {
		err = h.store.Unlike(c.Request.Context(), sightingID, userID)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(c, http.StatusNotFound, "Sighting not found")
			return
		}
		respondInternal(c, "toggle like", err)
		return
	}
	h.Count(c)
}

func (h *LikeHandler) Count(c *gin.Context) {
	sightingID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	n, err := h.store.CountLikes(c.Request.Context(), sightingID)
	if err != nil {
		respondInternal(c, "count likes", err)
		return
	}
	c.JSON(http.StatusOK, dto.LikesResponse{Success: true, SightingID: sightingID, LikeCount: n})
}

type ContactHandler struct {
	store ContactStore
}

func NewContactHandler(store ContactStore) *ContactHandler {
	return &ContactHandler{store: store}
}

func (h *ContactHandler) Submit(c *gin.Context) {
	var req dto.ContactRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	m := &models.ContactMessage{
		Name:    strings.TrimSpace(req.Name),
		Email:   strings.TrimSpace(req.Email),
		Message: strings.TrimSpace(req.Message),
	}
	if err := h.store.CreateContact(c.Request.Context(), m); err != nil {
		respondInternal(c, "save contact message", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Thank you for contacting us!"})
}

// Points lists the map's points of interest.
func Points(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "points": models.ReservePoints})
}
