package filings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/filingdesk/filingdesk/internal/platform/db"
	"github.com/filingdesk/filingdesk/internal/shared"
)

const (
	invoiceNoConstraint  = "filings_invoice_no_key"
	serializationFailure = "40001"
)

// Repository defines the interface for filing persistence.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Filing, error)
	List(ctx context.Context, filter ListFilter) ([]Filing, int, error)
	CountByStatus(ctx context.Context, owner *uuid.UUID) (Stats, error)

	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	// LockHeader loads the filing header and locks it for the transaction.
	LockHeader(ctx context.Context, id uuid.UUID) (*Filing, error)
	// ClaimIdempotencyKey binds a client key to the filing being created. It
	// returns shared.ErrIdempotencyConflict when the key is already bound.
	ClaimIdempotencyKey(ctx context.Context, actor uuid.UUID, key string, filingID uuid.UUID) error
	InvoiceNoTaken(ctx context.Context, invoiceNo string, exclude uuid.UUID) (bool, error)
	InsertFiling(ctx context.Context, f Filing) error
	UpdateFiling(ctx context.Context, f Filing) error
	DeleteItems(ctx context.Context, filingID uuid.UUID) error
	InsertItem(ctx context.Context, filingID uuid.UUID, item Item) error
	DeleteFiling(ctx context.Context, id uuid.UUID) error
}

// repository implements Repository using pgxpool.
type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// txRepository implements TxRepository.
type txRepository struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction. Storage-level
// uniqueness and serialization failures are mapped to domain conflicts.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	return mapStorageError(err)
}

func mapStorageError(err error) error {
	if err == nil {
		return nil
	}
	if constraint, ok := db.UniqueViolation(err); ok && constraint == invoiceNoConstraint {
		return ErrDuplicateInvoice
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == serializationFailure {
		return ErrConcurrentUpdate
	}
	return err
}

const headerColumns = `f.id, f.shipment_id, f.invoice_no, f.invoice_date, f.port_code,
	COALESCE(f.exporter_gstin, ''), f.import_export_flag, f.total_invoice_value, f.currency_code,
	f.status, f.created_by, f.created_at, f.updated_at`

func scanHeader(row pgx.Row, extra ...any) (*Filing, error) {
	var (
		f      Filing
		status string
	)
	dest := []any{
		&f.ID, &f.ShipmentID, &f.InvoiceNo, &f.InvoiceDate, &f.PortCode,
		&f.ExporterGSTIN, &f.ImportExportFlag, &f.TotalInvoiceValue, &f.CurrencyCode,
		&status, &f.CreatedBy, &f.CreatedAt, &f.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	f.Status = Status(status)
	return &f, nil
}

// Get loads a filing with its items and creator.
func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Filing, error) {
	var name, email string
	row := r.pool.QueryRow(ctx, `SELECT `+headerColumns+`, u.name, u.email
		FROM filings f
		JOIN users u ON u.id = f.created_by
		WHERE f.id = $1`, id)
	f, err := scanHeader(row, &name, &email)
	if err != nil {
		return nil, err
	}
	f.CreatedByName = name
	f.CreatedByEmail = email

	items, err := r.items(ctx, id)
	if err != nil {
		return nil, err
	}
	f.Items = items
	f.ItemCount = len(items)
	f.ItemsSum = f.ItemsTotal()
	return f, nil
}

func (r *repository) items(ctx context.Context, filingID uuid.UUID) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, COALESCE(item_id, ''), commodity_desc, hs_code, quantity, unit_code,
		unit_price, line_item_value, origin_country_code, net_mass, gross_mass, line_order
		FROM filing_items
		WHERE filing_id = $1
		ORDER BY line_order, id`, filingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			item             Item
			netMass, grossMs decimal.NullDecimal
		)
		if err := rows.Scan(&item.ID, &item.ItemRef, &item.CommodityDesc, &item.HSCode, &item.Quantity, &item.UnitCode,
			&item.UnitPrice, &item.LineItemValue, &item.OriginCountryCode, &netMass, &grossMs, &item.LineOrder); err != nil {
			return nil, err
		}
		if netMass.Valid {
			item.NetMass = &netMass.Decimal
		}
		if grossMs.Valid {
			item.GrossMass = &grossMs.Decimal
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// List returns filing headers ordered by most recently updated.
func (r *repository) List(ctx context.Context, filter ListFilter) ([]Filing, int, error) {
	var conditions []string
	var args []any
	argPos := 1

	if filter.Owner != nil {
		conditions = append(conditions, fmt.Sprintf("f.created_by = $%d", argPos))
		args = append(args, *filter.Owner)
		argPos++
	}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("f.status = $%d", argPos))
		args = append(args, string(*filter.Status))
		argPos++
	}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf(
			`(LOWER(f.invoice_no) LIKE $%d ESCAPE '\' OR LOWER(f.shipment_id) LIKE $%d ESCAPE '\')`, argPos, argPos))
		args = append(args, containsPattern(filter.Search))
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM filings f `+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s, u.name, u.email, agg.item_count, agg.items_total
		FROM filings f
		JOIN users u ON u.id = f.created_by
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS item_count, COALESCE(SUM(i.line_item_value), 0) AS items_total
			FROM filing_items i WHERE i.filing_id = f.id
		) agg ON TRUE
		%s
		ORDER BY f.updated_at DESC, f.id
		LIMIT $%d OFFSET $%d`, headerColumns, whereClause, argPos, argPos+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var filings []Filing
	for rows.Next() {
		var (
			name, email string
			count       int
			sum         decimal.Decimal
		)
		f, err := scanHeader(rows, &name, &email, &count, &sum)
		if err != nil {
			return nil, 0, err
		}
		f.CreatedByName = name
		f.CreatedByEmail = email
		f.ItemCount = count
		f.ItemsSum = sum
		filings = append(filings, *f)
	}
	return filings, total, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a LIKE pattern matching search as a literal
// substring, case-insensitively.
func containsPattern(search string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(search)) + "%"
}

// CountByStatus returns status counts, optionally limited to one owner.
func (r *repository) CountByStatus(ctx context.Context, owner *uuid.UUID) (Stats, error) {
	query := `SELECT status, COUNT(*) FROM filings`
	var args []any
	if owner != nil {
		query += ` WHERE created_by = $1`
		args = append(args, *owner)
	}
	query += ` GROUP BY status`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, err
		}
		stats.Add(Status(status), n)
	}
	return stats, rows.Err()
}

// LockHeader loads the header with FOR UPDATE.
func (t *txRepository) LockHeader(ctx context.Context, id uuid.UUID) (*Filing, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+headerColumns+` FROM filings f WHERE f.id = $1 FOR UPDATE`, id)
	return scanHeader(row)
}

// ClaimIdempotencyKey inserts the key row as part of the create transaction.
func (t *txRepository) ClaimIdempotencyKey(ctx context.Context, actor uuid.UUID, key string, filingID uuid.UUID) error {
	return shared.ClaimIdempotencyKey(ctx, t.tx, IdempotencyModule, actor, key, filingID.String())
}

// InvoiceNoTaken reports whether another filing uses invoiceNo.
func (t *txRepository) InvoiceNoTaken(ctx context.Context, invoiceNo string, exclude uuid.UUID) (bool, error) {
	var taken bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM filings WHERE invoice_no = $1 AND id <> $2)`, invoiceNo, exclude).Scan(&taken)
	return taken, err
}

// InsertFiling inserts the header row.
func (t *txRepository) InsertFiling(ctx context.Context, f Filing) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO filings (id, shipment_id, invoice_no, invoice_date, port_code, exporter_gstin,
		import_export_flag, total_invoice_value, currency_code, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13)`,
		f.ID, f.ShipmentID, f.InvoiceNo, f.InvoiceDate, f.PortCode, f.ExporterGSTIN,
		f.ImportExportFlag, f.TotalInvoiceValue, f.CurrencyCode, string(f.Status), f.CreatedBy, f.CreatedAt, f.UpdatedAt)
	return err
}

// UpdateFiling rewrites every mutable header column. created_by and
// created_at never change.
func (t *txRepository) UpdateFiling(ctx context.Context, f Filing) error {
	tag, err := t.tx.Exec(ctx, `UPDATE filings SET shipment_id = $2, invoice_no = $3, invoice_date = $4, port_code = $5,
		exporter_gstin = NULLIF($6, ''), import_export_flag = $7, total_invoice_value = $8, currency_code = $9,
		status = $10, updated_at = $11
		WHERE id = $1`,
		f.ID, f.ShipmentID, f.InvoiceNo, f.InvoiceDate, f.PortCode, f.ExporterGSTIN,
		f.ImportExportFlag, f.TotalInvoiceValue, f.CurrencyCode, string(f.Status), f.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteItems removes every line of a filing.
func (t *txRepository) DeleteItems(ctx context.Context, filingID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM filing_items WHERE filing_id = $1`, filingID)
	return err
}

// InsertItem inserts one line.
func (t *txRepository) InsertItem(ctx context.Context, filingID uuid.UUID, item Item) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO filing_items (id, filing_id, item_id, commodity_desc, hs_code, quantity, unit_code,
		unit_price, line_item_value, origin_country_code, net_mass, gross_mass, line_order)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		item.ID, filingID, item.ItemRef, item.CommodityDesc, item.HSCode, item.Quantity, item.UnitCode,
		item.UnitPrice, item.LineItemValue, item.OriginCountryCode, nullDecimal(item.NetMass), nullDecimal(item.GrossMass), item.LineOrder)
	return err
}

// DeleteFiling removes the header; items go with it through ON DELETE CASCADE.
func (t *txRepository) DeleteFiling(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM filings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
