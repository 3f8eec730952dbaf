package filings

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/filingdesk/filingdesk/internal/shared"
)

// memRepo is an in-memory Repository with copy-on-write transactions and
// a unique index on invoice_no.
type memRepo struct {
	mu      sync.Mutex
	filings map[uuid.UUID]Filing
	users   map[uuid.UUID]string
	keys    map[string]string

	// skipInvoiceCheck makes InvoiceNoTaken report false so only the
	// unique index can catch a duplicate.
	skipInvoiceCheck bool
	failItemInsertAt int
	countCalls       int
	countGate        chan struct{}
}

func newMemRepo() *memRepo {
	return &memRepo{
		filings:          make(map[uuid.UUID]Filing),
		users:            make(map[uuid.UUID]string),
		keys:             make(map[string]string),
		failItemInsertAt: -1,
	}
}

func cloneFiling(f Filing) Filing {
	f.Items = append([]Item(nil), f.Items...)
	return f
}

func (m *memRepo) Get(_ context.Context, id uuid.UUID) (*Filing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.filings[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneFiling(f)
	out.CreatedByName = m.users[f.CreatedBy]
	out.ItemCount = len(out.Items)
	out.ItemsSum = out.ItemsTotal()
	return &out, nil
}

func (m *memRepo) List(_ context.Context, filter ListFilter) ([]Filing, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []Filing
	for _, f := range m.filings {
		if filter.Owner != nil && f.CreatedBy != *filter.Owner {
			continue
		}
		if filter.Status != nil && f.Status != *filter.Status {
			continue
		}
		if filter.Search != "" {
			q := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(f.InvoiceNo), q) && !strings.Contains(strings.ToLower(f.ShipmentID), q) {
				continue
			}
		}
		header := cloneFiling(f)
		header.CreatedByName = m.users[f.CreatedBy]
		header.ItemCount = len(f.Items)
		header.ItemsSum = header.ItemsTotal()
		header.Items = nil
		matched = append(matched, header)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].UpdatedAt.After(matched[j].UpdatedAt) })
	total := len(matched)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

func (m *memRepo) CountByStatus(_ context.Context, owner *uuid.UUID) (Stats, error) {
	if m.countGate != nil {
		<-m.countGate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countCalls++
	var stats Stats
	for _, f := range m.filings {
		if owner != nil && f.CreatedBy != *owner {
			continue
		}
		stats.Add(f.Status, 1)
	}
	return stats, nil
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	snapshot := make(map[uuid.UUID]Filing, len(m.filings))
	for id, f := range m.filings {
		snapshot[id] = cloneFiling(f)
	}
	m.mu.Unlock()

	tx := &memTx{repo: m, filings: snapshot, keys: map[string]string{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, id := range tx.keys {
		if _, ok := m.keys[k]; ok {
			return shared.ErrIdempotencyConflict
		}
		m.keys[k] = id
	}
	m.filings = snapshot
	return nil
}

func idempotencyKey(module string, actor uuid.UUID, key string) string {
	return module + "|" + actor.String() + "|" + key
}

// Lookup reads committed key bindings, standing in for shared.IdempotencyStore.
func (m *memRepo) Lookup(_ context.Context, module string, actor uuid.UUID, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.keys[idempotencyKey(module, actor, key)]
	return id, ok, nil
}

type memTx struct {
	repo    *memRepo
	filings map[uuid.UUID]Filing
	keys    map[string]string
	inserts int
}

func (t *memTx) ClaimIdempotencyKey(_ context.Context, actor uuid.UUID, key string, filingID uuid.UUID) error {
	k := idempotencyKey(IdempotencyModule, actor, key)
	t.repo.mu.Lock()
	_, taken := t.repo.keys[k]
	t.repo.mu.Unlock()
	if _, pending := t.keys[k]; taken || pending {
		return shared.ErrIdempotencyConflict
	}
	t.keys[k] = filingID.String()
	return nil
}

func (t *memTx) LockHeader(_ context.Context, id uuid.UUID) (*Filing, error) {
	f, ok := t.filings[id]
	if !ok {
		return nil, ErrNotFound
	}
	header := cloneFiling(f)
	header.Items = nil
	return &header, nil
}

func (t *memTx) InvoiceNoTaken(_ context.Context, invoiceNo string, exclude uuid.UUID) (bool, error) {
	if t.repo.skipInvoiceCheck {
		return false, nil
	}
	for id, f := range t.filings {
		if id != exclude && f.InvoiceNo == invoiceNo {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) uniqueInvoice(f Filing) error {
	for id, other := range t.filings {
		if id != f.ID && other.InvoiceNo == f.InvoiceNo {
			return ErrDuplicateInvoice
		}
	}
	return nil
}

func (t *memTx) InsertFiling(_ context.Context, f Filing) error {
	if err := t.uniqueInvoice(f); err != nil {
		return err
	}
	f.Items = nil
	t.filings[f.ID] = f
	return nil
}

func (t *memTx) UpdateFiling(_ context.Context, f Filing) error {
	existing, ok := t.filings[f.ID]
	if !ok {
		return ErrNotFound
	}
	if err := t.uniqueInvoice(f); err != nil {
		return err
	}
	f.Items = existing.Items
	f.CreatedBy = existing.CreatedBy
	f.CreatedAt = existing.CreatedAt
	t.filings[f.ID] = f
	return nil
}

func (t *memTx) DeleteItems(_ context.Context, filingID uuid.UUID) error {
	f := t.filings[filingID]
	f.Items = nil
	t.filings[filingID] = f
	return nil
}

func (t *memTx) InsertItem(_ context.Context, filingID uuid.UUID, item Item) error {
	if t.repo.failItemInsertAt >= 0 && t.inserts == t.repo.failItemInsertAt {
		return errItemInsert
	}
	t.inserts++
	f := t.filings[filingID]
	f.Items = append(f.Items, item)
	t.filings[filingID] = f
	return nil
}

func (t *memTx) DeleteFiling(_ context.Context, id uuid.UUID) error {
	if _, ok := t.filings[id]; !ok {
		return ErrNotFound
	}
	delete(t.filings, id)
	return nil
}

type storageError string

func (e storageError) Error() string { return string(e) }

const errItemInsert = storageError("insert item: connection reset")

func (m *memRepo) itemCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range m.filings {
		n += len(f.Items)
	}
	return n
}
