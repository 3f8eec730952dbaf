package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/filingdesk/filingdesk/internal/shared"
)

// User represents a registered account.
type User struct {
	ID           uuid.UUID
	Name         string
	Email        string
	GSTIN        string
	PasswordHash string
	Role         shared.Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterInput carries a registration request from JSON or a form.
type RegisterInput struct {
	Name     string `json:"name" validate:"required,min=2"`
	Email    string `json:"email" validate:"required,email"`
	GSTIN    string `json:"gstin" validate:"required,len=15"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"omitempty,oneof=user admin"`
}

// UserView is the public JSON representation; it never carries the hash.
type UserView struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	GSTIN     string      `json:"gstin"`
	Role      shared.Role `json:"role"`
	CreatedAt time.Time   `json:"created_at"`
}

// View converts u to its public representation.
func (u User) View() UserView {
	return UserView{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		GSTIN:     u.GSTIN,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}
