package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/reserve/internal/auth"
	"github.com/your-org/reserve/internal/models"
	"github.com/your-org/reserve/internal/storage"
	"github.com/your-org/reserve/pkg/dto"
)

type UserHandler struct {
	users UserStore
}

func NewUserHandler(users UserStore) *UserHandler {
	return &UserHandler{users: users}
}

func toUserResponse(u *models.User) dto.UserResponse {
	return dto.UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
	}
}

func (h *UserHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondInternal(c, "hash password", err)
		return
	}

	u := &models.User{
		Username:     strings.TrimSpace(req.Username),
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
	}
	if err := h.users.CreateUser(c.Request.Context(), u); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			respondError(c, http.StatusConflict, "Username or email already exists")
			return
		}
		respondInternal(c, "create user", err)
		return
	}

	slog.Info("user registered", "user_id", u.ID, "username", u.Username)
	c.JSON(http.StatusCreated, gin.H{"success": true, "user": toUserResponse(u)})
}

func (h *UserHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Username and password are required")
		return
	}

	u, err := h.users.GetUserByUsername(c.Request.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		respondInternal(c, "get user", err)
		return
	}
	if u == nil || !auth.CheckPassword(u.PasswordHash, req.Password) {
		respondError(c, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	if err := auth.Login(c, u.ID); err != nil {
		respondInternal(c, "save session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": toUserResponse(u)})
}

func (h *UserHandler) Logout(c *gin.Context) {
	if err := auth.Logout(c); err != nil {
		respondInternal(c, "clear session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out successfully"})
}

func (h *UserHandler) Me(c *gin.Context) {
	userID, _ := auth.UserID(c)
	u, err := h.users.GetUser(c.Request.Context(), userID)
	if err != nil {
		respondInternal(c, "get user", err)
		return
	}
	if u == nil {
		respondError(c, http.StatusUnauthorized, "Please log in to continue")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": toUserResponse(u)})
}
