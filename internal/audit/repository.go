package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads audit_logs.
type Repository interface {
	Timeline(ctx context.Context, q Query) ([]TimelineRow, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a pgx-backed audit reader.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// Timeline returns entries newest first. A zero Limit returns every match.
func (r *repository) Timeline(ctx context.Context, q Query) ([]TimelineRow, error) {
	var conditions []string
	var args []any
	add := func(expr string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(expr, len(args)))
	}

	if !q.From.IsZero() {
		add("a.occurred_at >= $%d", q.From)
	}
	if !q.Until.IsZero() {
		add("a.occurred_at < $%d", q.Until)
	}
	if q.Actor != "" {
		add("LOWER(u.email) = $%d", strings.ToLower(q.Actor))
	}
	if q.Entity != "" {
		add("a.entity = $%d", q.Entity)
	}
	if q.EntityID != "" {
		add("a.entity_id = $%d", q.EntityID)
	}
	if q.Action != "" {
		add("a.action = $%d", q.Action)
	}

	query := `SELECT a.occurred_at, a.actor_id, COALESCE(u.email, ''), a.action, a.entity, a.entity_id, a.meta
		FROM audit_logs a
		LEFT JOIN users u ON u.id = a.actor_id`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY a.occurred_at DESC, a.id DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit, q.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var t TimelineRow
		err := row.Scan(&t.At, &t.ActorID, &t.ActorEmail, &t.Action, &t.Entity, &t.EntityID, &t.Meta)
		return t, err
	})
}
