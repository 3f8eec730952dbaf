package auth

import (
	"time"

	"github.com/google/uuid"

	"github.com/filingdesk/filingdesk/internal/shared"
)

// Account is the credential view of a user.
type Account struct {
	ID           uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	Role         shared.Role
	CreatedAt    time.Time
}

// Principal returns the identity that acts on requests for this account.
func (a Account) Principal() shared.Principal {
	return shared.Principal{ID: a.ID, Role: a.Role}
}

// Credentials is a login request.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Me is the JSON body returned by login and /me.
type Me struct {
	ID    uuid.UUID   `json:"id"`
	Name  string      `json:"name"`
	Email string      `json:"email"`
	Role  shared.Role `json:"role"`
}

// Me converts the account to its public JSON form.
func (a Account) Me() Me {
	return Me{ID: a.ID, Name: a.Name, Email: a.Email, Role: a.Role}
}
