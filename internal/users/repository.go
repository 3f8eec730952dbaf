package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/filingdesk/filingdesk/internal/platform/db"
	"github.com/filingdesk/filingdesk/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, name, email, gstin, password_hash, role, created_at, updated_at`

// Taken reports which of email and gstin already belong to an account.
func (r *Repository) Taken(ctx context.Context, email, gstin string) (bool, bool, error) {
	var emailTaken, gstinTaken bool
	err := r.pool.QueryRow(ctx, `SELECT
		EXISTS(SELECT 1 FROM users WHERE email = $1),
		EXISTS(SELECT 1 FROM users WHERE gstin = $2)`, email, gstin).Scan(&emailTaken, &gstinTaken)
	if err != nil {
		return false, false, fmt.Errorf("users: check taken: %w", err)
	}
	return emailTaken, gstinTaken, nil
}

// Create inserts a new account. Unique violations surface as DuplicateError.
func (r *Repository) Create(ctx context.Context, user User) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO users (id, name, email, gstin, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Name, user.Email, user.GSTIN, user.PasswordHash, string(user.Role), user.CreatedAt, user.UpdatedAt)
	if constraint, ok := db.UniqueViolation(err); ok {
		if constraint == "users_gstin_key" {
			return &DuplicateError{Field: "gstin"}
		}
		return &DuplicateError{Field: "email"}
	}
	if err != nil {
		return fmt.Errorf("users: insert: %w", err)
	}
	return nil
}

// FindByID loads one account.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// FindByEmail loads one account by its login email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		user User
		role string
	)
	if err := row.Scan(&user.ID, &user.Name, &user.Email, &user.GSTIN, &user.PasswordHash, &role, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("users: scan: %w", err)
	}
	parsed, err := shared.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("users: %w", err)
	}
	user.Role = parsed
	return &user, nil
}

var _ RepositoryPort = (*Repository)(nil)
