package dto

import "github.com/google/uuid"

type RegisterRequest struct {
	Username  string `form:"username" json:"username" binding:"required,min=3,max=50,alphanum"`
	FirstName string `form:"firstName" json:"firstName" binding:"max=100"`
	LastName  string `form:"lastName" json:"lastName" binding:"max=100"`
	Email     string `form:"email" json:"email" binding:"required,email"`
	Password  string `form:"password" json:"password" binding:"required,min=8,max=72"`
}

type LoginRequest struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
}
