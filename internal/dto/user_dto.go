package dto

import (
	"time"

	"github.com/trustapp/trust-go-api/internal/models"
)

// UserCreateRequest is the onboarding payload.
type UserCreateRequest struct {
	Nickname string `json:"nickname" validate:"required,min=2,max=64"`
	Role     string `json:"role" validate:"required,oneof=USER COUNSELOR ADMIN"`
}

// UserResponse is the serialized representation of a user.
type UserResponse struct {
	ID       string    `json:"id"`
	Nickname string    `json:"nickname"`
	Role     string    `json:"role"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// NewUserResponse converts a model into a DTO.
func NewUserResponse(user models.User) UserResponse {
	return UserResponse{
		ID:       user.ID,
		Nickname: user.Nickname,
		Role:     string(user.Role),
		IsOnline: user.IsOnline,
		LastSeen: user.LastSeen,
	}
}

// PresenceResponse reports the online-users count.
type PresenceResponse struct {
	OnlineUsers int    `json:"online_users"`
	Mode        string `json:"mode"`
}
