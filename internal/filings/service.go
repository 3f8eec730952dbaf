package filings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/filingdesk/filingdesk/internal/platform/httpx"
	"github.com/filingdesk/filingdesk/internal/shared"
)

const tracerName = "github.com/filingdesk/filingdesk/internal/filings"

// IdempotencyModule namespaces filing keys in the idempotency store.
const IdempotencyModule = "filings.create"

// OperationRecorder receives the outcome of every engine operation.
type OperationRecorder interface {
	ObserveFilingOperation(op, result string)
}

// Service implements the filing lifecycle: validation, authorization,
// status transitions and persistence of the filing aggregate.
type Service struct {
	repo      Repository
	validator *Validator
	audit     shared.AuditRecorder
	recorder  OperationRecorder
	logger    *slog.Logger
	tracer    trace.Tracer
	stats     singleflight.Group
	now       func() time.Time
}

// NewService creates a new filing service. audit and recorder may be nil.
func NewService(repo Repository, audit shared.AuditRecorder, recorder OperationRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		validator: NewValidator(),
		audit:     audit,
		recorder:  recorder,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
}

// Create validates the payload and stores a new draft owned by p.
func (s *Service) Create(ctx context.Context, p *shared.Principal, payload Payload) (*Filing, error) {
	return s.CreateIdempotent(ctx, p, "", payload)
}

// CreateIdempotent is Create with a client key claimed in the same
// transaction as the insert. A key p already used fails with
// shared.ErrIdempotencyConflict and stores nothing. An empty key disables
// the claim.
func (s *Service) CreateIdempotent(ctx context.Context, p *shared.Principal, key string, payload Payload) (_ *Filing, err error) {
	ctx, done := s.begin(ctx, "create", p)
	defer func() { done(err) }()

	if err := Authorize(p, ActionCreate, nil); err != nil {
		return nil, err
	}
	draft, err := s.validator.Validate(payload)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	filing := Filing{
		ID:        uuid.New(),
		CreatedBy: p.ID,
		Status:    InitialStatus(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyDraft(&filing, draft)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if key != "" {
			if err := tx.ClaimIdempotencyKey(ctx, p.ID, key, filing.ID); err != nil {
				return err
			}
		}
		taken, err := tx.InvoiceNoTaken(ctx, filing.InvoiceNo, filing.ID)
		if err != nil {
			return fmt.Errorf("check invoice_no: %w", err)
		}
		if taken {
			return ErrDuplicateInvoice
		}
		if err := tx.InsertFiling(ctx, filing); err != nil {
			return err
		}
		return insertItems(ctx, tx, filing.ID, filing.Items)
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, p, "filing.create", filing.ID, map[string]any{"invoice_no": filing.InvoiceNo, "items": len(filing.Items)})
	return s.repo.Get(ctx, filing.ID)
}

// Get returns one filing when p may read it.
func (s *Service) Get(ctx context.Context, p *shared.Principal, id uuid.UUID) (_ *Filing, err error) {
	ctx, done := s.begin(ctx, "get", p, attribute.String("filing.id", id.String()))
	defer func() { done(err) }()

	if p == nil {
		return nil, ErrUnauthenticated
	}
	filing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(p, ActionRead, filing); err != nil {
		return nil, err
	}
	return filing, nil
}

// List returns one page of filings within the requested scope.
func (s *Service) List(ctx context.Context, p *shared.Principal, req ListRequest) (_ ListResult, err error) {
	ctx, done := s.begin(ctx, "list", p, attribute.String("filing.scope", req.Scope.String()))
	defer func() { done(err) }()

	if err := Authorize(p, ActionList, nil); err != nil {
		return ListResult{}, err
	}
	if err := AuthorizeScope(p, req.Scope); err != nil {
		return ListResult{}, err
	}

	filter := ListFilter{Search: strings.TrimSpace(req.Search)}
	if req.Scope == ScopeOwn {
		owner := p.ID
		filter.Owner = &owner
	}
	if req.Status != "" {
		status, err := ParseStatus(req.Status)
		if err != nil {
			verr := shared.NewValidationError()
			verr.Add("status", "must be one of: draft, submitted, error")
			return ListResult{}, verr
		}
		filter.Status = &status
	}
	page, perPage := shared.NormalizePage(req.Page, req.PerPage)
	filter.Limit = perPage
	filter.Offset = (page - 1) * perPage

	filings, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return ListResult{}, fmt.Errorf("list filings: %w", err)
	}
	return ListResult{Filings: filings, Pagination: shared.NewPagination(page, perPage, total)}, nil
}

// Update replaces the header and the whole item set of a filing.
func (s *Service) Update(ctx context.Context, p *shared.Principal, id uuid.UUID, payload Payload) (_ *Filing, err error) {
	ctx, done := s.begin(ctx, "update", p, attribute.String("filing.id", id.String()))
	defer func() { done(err) }()

	if p == nil {
		return nil, ErrUnauthenticated
	}

	var previous Status
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockHeader(ctx, id)
		if err != nil {
			return err
		}
		if err := Authorize(p, ActionUpdate, current); err != nil {
			return err
		}
		draft, err := s.validator.Validate(payload)
		if err != nil {
			return err
		}
		next, err := NextStatus(*p, current.Status, draft.Status)
		if err != nil {
			return err
		}
		taken, err := tx.InvoiceNoTaken(ctx, draft.InvoiceNo, id)
		if err != nil {
			return fmt.Errorf("check invoice_no: %w", err)
		}
		if taken {
			return ErrDuplicateInvoice
		}

		previous = current.Status
		updated := *current
		applyDraft(&updated, draft)
		updated.Status = next
		updated.UpdatedAt = s.now().UTC()

		if err := tx.UpdateFiling(ctx, updated); err != nil {
			return err
		}
		if err := tx.DeleteItems(ctx, id); err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		return insertItems(ctx, tx, id, updated.Items)
	})
	if err != nil {
		return nil, err
	}

	filing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.record(ctx, p, "filing.update", id, map[string]any{
		"invoice_no":  filing.InvoiceNo,
		"status_from": string(previous),
		"status_to":   string(filing.Status),
		"items":       len(filing.Items),
	})
	return filing, nil
}

// Delete removes a filing and, through the cascade, its items.
func (s *Service) Delete(ctx context.Context, p *shared.Principal, id uuid.UUID) (err error) {
	ctx, done := s.begin(ctx, "delete", p, attribute.String("filing.id", id.String()))
	defer func() { done(err) }()

	if p == nil {
		return ErrUnauthenticated
	}

	var invoiceNo string
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockHeader(ctx, id)
		if err != nil {
			return err
		}
		if err := Authorize(p, ActionDelete, current); err != nil {
			return err
		}
		invoiceNo = current.InvoiceNo
		return tx.DeleteFiling(ctx, id)
	})
	if err != nil {
		return err
	}

	s.record(ctx, p, "filing.delete", id, map[string]any{"invoice_no": invoiceNo})
	return nil
}

// Stats counts filings per status within scope. Identical concurrent
// requests share one query.
func (s *Service) Stats(ctx context.Context, p *shared.Principal, scope Scope) (_ Stats, err error) {
	ctx, done := s.begin(ctx, "stats", p, attribute.String("filing.scope", scope.String()))
	defer func() { done(err) }()

	if err := AuthorizeScope(p, scope); err != nil {
		return Stats{}, err
	}
	key := "all"
	var owner *uuid.UUID
	if scope == ScopeOwn {
		id := p.ID
		owner = &id
		key = "own:" + id.String()
	}
	v, err, _ := s.stats.Do(key, func() (any, error) {
		return s.repo.CountByStatus(context.WithoutCancel(ctx), owner)
	})
	if err != nil {
		return Stats{}, fmt.Errorf("count filings: %w", err)
	}
	return v.(Stats), nil
}

func applyDraft(f *Filing, d Draft) {
	f.ShipmentID = d.ShipmentID
	f.InvoiceNo = d.InvoiceNo
	f.InvoiceDate = d.InvoiceDate
	f.PortCode = d.PortCode
	f.ExporterGSTIN = d.ExporterGSTIN
	f.ImportExportFlag = d.ImportExportFlag
	f.TotalInvoiceValue = d.TotalInvoiceValue
	f.CurrencyCode = d.CurrencyCode
	f.Items = make([]Item, len(d.Items))
	for i, item := range d.Items {
		item.ID = uuid.New()
		item.LineOrder = i
		f.Items[i] = item
	}
}

func insertItems(ctx context.Context, tx TxRepository, filingID uuid.UUID, items []Item) error {
	for _, item := range items {
		if err := tx.InsertItem(ctx, filingID, item); err != nil {
			return fmt.Errorf("insert item %d: %w", item.LineOrder, err)
		}
	}
	return nil
}

// begin starts the span for op and returns a completion func that records
// the outcome on the span and the operation recorder.
func (s *Service) begin(ctx context.Context, op string, p *shared.Principal, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if p != nil {
		attrs = append(attrs, attribute.String("principal.role", p.Role.String()))
	}
	ctx, span := s.tracer.Start(ctx, "filings."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		result := "ok"
		if err != nil {
			kind := httpx.KindOf(err)
			result = string(kind)
			if kind == httpx.KindInternal {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetAttributes(attribute.String("filing.rejected", result))
			}
		}
		if s.recorder != nil {
			s.recorder.ObserveFilingOperation(op, result)
		}
		span.End()
	}
}

func (s *Service) record(ctx context.Context, p *shared.Principal, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  p.ID,
		Action:   action,
		Entity:   "filing",
		EntityID: id.String(),
		Meta:     meta,
		At:       s.now().UTC(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.String("filing_id", id.String()), slog.Any("error", err))
	}
}
