package shared

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/filingdesk/filingdesk/internal/platform/db"
	"github.com/filingdesk/filingdesk/internal/platform/httpx"
)

// IdempotencyHeader carries the client-chosen key of a retryable create.
const IdempotencyHeader = "Idempotency-Key"

// MaxIdempotencyKeyLength bounds keys accepted from clients.
const MaxIdempotencyKeyLength = 128

// IdempotencyStore maps (module, actor, key) to the resource created for it.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// ErrIdempotencyKeyInvalid rejects empty or oversized keys.
var ErrIdempotencyKeyInvalid = errors.New("idempotency key must be 1-128 characters")

// NormalizeIdempotencyKey trims key and checks its length.
func NormalizeIdempotencyKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > MaxIdempotencyKeyLength {
		return "", ErrIdempotencyKeyInvalid
	}
	return key, nil
}

// Lookup returns the resource recorded for key, if any.
func (s *IdempotencyStore) Lookup(ctx context.Context, module string, actor uuid.UUID, key string) (string, bool, error) {
	var resourceID string
	err := s.pool.QueryRow(ctx,
		`SELECT resource_id FROM idempotency_keys WHERE module = $1 AND actor_id = $2 AND key = $3`,
		module, actor, key).Scan(&resourceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return resourceID, true, nil
}

// ErrIdempotencyConflict reports that another request already claimed the key.
var ErrIdempotencyConflict = fmt.Errorf("%w: idempotency key already used", httpx.ErrDuplicate)

const idempotencyKeysPK = "idempotency_keys_pkey"

// ClaimIdempotencyKey records resourceID under key inside tx. A concurrent
// claim of the same key blocks until tx ends and then fails with
// ErrIdempotencyConflict, so only one request can create the resource.
func ClaimIdempotencyKey(ctx context.Context, tx pgx.Tx, module string, actor uuid.UUID, key, resourceID string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO idempotency_keys (key, module, actor_id, resource_id, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		key, module, actor, resourceID)
	if constraint, ok := db.UniqueViolation(err); ok && constraint == idempotencyKeysPK {
		return ErrIdempotencyConflict
	}
	return err
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
