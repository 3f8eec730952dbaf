package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filingdesk/filingdesk/internal/auth"
	"github.com/filingdesk/filingdesk/internal/platform/httpx"
	"github.com/filingdesk/filingdesk/internal/shared"
)

func TestAuthenticateNormalizesEmail(t *testing.T) {
	repo := newStubRepo()
	want := repo.add(t, "Asha", "asha@example.test", "pw-123456", shared.RoleUser)
	svc := auth.NewService(repo)

	got, err := svc.Authenticate(context.Background(), auth.Credentials{Email: " Asha@Example.TEST ", Password: "pw-123456"})
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
}

func TestAuthenticateUnknownEmail(t *testing.T) {
	svc := auth.NewService(newStubRepo())
	_, err := svc.Authenticate(context.Background(), auth.Credentials{Email: "ghost@example.test", Password: "x"})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	assert.ErrorIs(t, err, httpx.ErrUnauthorized)
}

func TestAuthenticateMissingFields(t *testing.T) {
	svc := auth.NewService(newStubRepo())
	_, err := svc.Authenticate(context.Background(), auth.Credentials{})

	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "is required", verr.Fields["email"])
	assert.Equal(t, "is required", verr.Fields["password"])
}

func TestLookup(t *testing.T) {
	repo := newStubRepo()
	account := repo.add(t, "Asha", "asha@example.test", "pw-123456", shared.RoleAdmin)
	svc := auth.NewService(repo)

	got, err := svc.Lookup(context.Background(), account.ID.String())
	require.NoError(t, err)
	assert.True(t, got.Principal().IsAdmin())

	_, err = svc.Lookup(context.Background(), "garbage")
	assert.ErrorIs(t, err, httpx.ErrUnauthorized)

	_, err = svc.Lookup(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, httpx.ErrUnauthorized)
}
