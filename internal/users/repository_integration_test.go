//go:build integration

package users_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/filingdesk/filingdesk/internal/platform/db/dbtest"
	"github.com/filingdesk/filingdesk/internal/platform/httpx"
	"github.com/filingdesk/filingdesk/internal/shared"
	"github.com/filingdesk/filingdesk/internal/users"
)

func TestPostgresRegistration(t *testing.T) {
	pool := dbtest.Start(t)
	ctx := context.Background()
	repo := users.NewRepository(pool)
	svc := users.NewService(repo, users.Options{BcryptCost: bcrypt.MinCost})

	owner, err := svc.Register(ctx, users.RegisterInput{
		Name: "Owner", Email: "owner@example.test", GSTIN: "27AAPFU0939F1ZV", Password: "long-password",
	})
	require.NoError(t, err)
	assert.Equal(t, shared.RoleUser, owner.Role)

	t.Run("duplicate gstin is rejected without a row", func(t *testing.T) {
		_, err := svc.Register(ctx, users.RegisterInput{
			Name: "Copy", Email: "copy@example.test", GSTIN: "27AAPFU0939F1ZV", Password: "long-password",
		})
		assert.ErrorIs(t, err, httpx.ErrDuplicate)
		var n int
		require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM users WHERE email = 'copy@example.test'").Scan(&n))
		assert.Zero(t, n)
	})

	t.Run("unique indexes name the clashing field", func(t *testing.T) {
		now := time.Now().UTC()
		err := repo.Create(ctx, users.User{
			ID: uuid.New(), Name: "Race", Email: "race@example.test", GSTIN: "27AAPFU0939F1ZV",
			PasswordHash: "x", Role: shared.RoleUser, CreatedAt: now, UpdatedAt: now,
		})
		var dup *users.DuplicateError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "gstin", dup.Field)

		err = repo.Create(ctx, users.User{
			ID: uuid.New(), Name: "Race", Email: "owner@example.test", GSTIN: "29ABCDE1234F1Z5",
			PasswordHash: "x", Role: shared.RoleUser, CreatedAt: now, UpdatedAt: now,
		})
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "email", dup.Field)
	})

	t.Run("lookups", func(t *testing.T) {
		byEmail, err := repo.FindByEmail(ctx, "owner@example.test")
		require.NoError(t, err)
		assert.Equal(t, owner.ID, byEmail.ID)

		_, err = repo.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, users.ErrUserNotFound)
	})
}
