//go:build integration

package shared_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filingdesk/filingdesk/internal/platform/db"
	"github.com/filingdesk/filingdesk/internal/platform/db/dbtest"
	"github.com/filingdesk/filingdesk/internal/shared"
)

func TestIdempotencyStore(t *testing.T) {
	pool := dbtest.Start(t)
	ctx := context.Background()

	owner, other := uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{owner, other} {
		_, err := pool.Exec(ctx, `INSERT INTO users (id, name, email, gstin, password_hash, role, created_at, updated_at)
			VALUES ($1, 'U', $2, $3, 'x', 'user', NOW(), NOW())`, id, id.String()+"@example.test", id.String()[:15])
		require.NoError(t, err)
	}
	claim := func(actor uuid.UUID, key, resourceID string) error {
		return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
			return shared.ClaimIdempotencyKey(ctx, tx, "filings.create", actor, key, resourceID)
		})
	}
	store := shared.NewIdempotencyStore(pool)

	t.Run("first claim wins", func(t *testing.T) {
		require.NoError(t, claim(owner, "k-1", "first"))
		assert.ErrorIs(t, claim(owner, "k-1", "second"), shared.ErrIdempotencyConflict)

		id, found, err := store.Lookup(ctx, "filings.create", owner, "k-1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "first", id)
	})

	t.Run("keys are scoped per actor", func(t *testing.T) {
		_, found, err := store.Lookup(ctx, "filings.create", other, "k-1")
		require.NoError(t, err)
		assert.False(t, found)
		require.NoError(t, claim(other, "k-1", "theirs"))
	})

	t.Run("rolled back claims leave no binding", func(t *testing.T) {
		err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
			require.NoError(t, shared.ClaimIdempotencyKey(ctx, tx, "filings.create", owner, "k-2", "lost"))
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)
		_, found, err := store.Lookup(ctx, "filings.create", owner, "k-2")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("cleanup removes expired keys", func(t *testing.T) {
		removed, err := store.Cleanup(ctx, -time.Minute)
		require.NoError(t, err)
		assert.EqualValues(t, 2, removed)
	})
}
