package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/filingdesk/filingdesk/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	Taken(ctx context.Context, email, gstin string) (emailTaken, gstinTaken bool, err error)
	Create(ctx context.Context, user User) error
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// maxPasswordBytes is the longest input bcrypt will hash.
const maxPasswordBytes = 72

// Options tunes registration.
type Options struct {
	AllowAdminSignup bool
	BcryptCost       int
}

// Service handles user business logic.
type Service struct {
	repo     RepositoryPort
	validate *validator.Validate
	opts     Options
	now      func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, opts Options) *Service {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		repo:     repo,
		validate: shared.NewValidator(),
		opts:     opts,
		now:      time.Now,
	}
}

// Register validates input, rejects duplicates and stores the account with a
// bcrypt hash. This is the only place passwords are hashed.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	in = normalizeRegister(in)

	verr := shared.NewValidationError()
	if err := shared.CollectValidation(s.validate.Struct(in), verr, nil); err != nil {
		return nil, err
	}
	role, err := shared.ParseRole(in.Role)
	if err != nil {
		verr.Add("role", "must be one of: user, admin")
	}
	if role == shared.RoleAdmin && !s.opts.AllowAdminSignup {
		verr.Add("role", "admin accounts cannot be self-registered")
	}
	if len(in.Password) > maxPasswordBytes {
		verr.Add("password", fmt.Sprintf("must be at most %d bytes", maxPasswordBytes))
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	emailTaken, gstinTaken, err := s.repo.Taken(ctx, in.Email, in.GSTIN)
	if err != nil {
		return nil, err
	}
	if emailTaken {
		return nil, &DuplicateError{Field: "email"}
	}
	if gstinTaken {
		return nil, &DuplicateError{Field: "gstin"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.opts.BcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		verr.Add("password", fmt.Sprintf("must be at most %d bytes", maxPasswordBytes))
		return nil, verr
	}
	if err != nil {
		return nil, fmt.Errorf("users: hash password: %w", err)
	}
	now := s.now().UTC()
	user := User{
		ID:           uuid.New(),
		Name:         in.Name,
		Email:        in.Email,
		GSTIN:        in.GSTIN,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.FindByID(ctx, id)
}

func normalizeRegister(in RegisterInput) RegisterInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.GSTIN = strings.ToUpper(strings.TrimSpace(in.GSTIN))
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))
	return in
}
