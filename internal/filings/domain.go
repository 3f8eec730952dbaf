package filings

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/filingdesk/filingdesk/internal/shared"
)

// Status represents the lifecycle state of a filing.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusError     Status = "error"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusDraft, StatusSubmitted, StatusError}

// ParseStatus converts user input into a Status.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusDraft, StatusSubmitted, StatusError:
		return s, nil
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

// CanEdit reports whether an owner may still change the filing.
func (s Status) CanEdit() bool {
	return s == StatusDraft
}

func (s Status) String() string { return string(s) }

// Filing is the aggregate root: an invoice header and its line items.
type Filing struct {
	ID                uuid.UUID
	ShipmentID        string
	InvoiceNo         string
	InvoiceDate       time.Time
	PortCode          string
	ExporterGSTIN     string
	ImportExportFlag  string
	TotalInvoiceValue decimal.Decimal
	CurrencyCode      string
	Status            Status
	CreatedBy         uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time

	// Read model fields filled by the repository.
	CreatedByName  string
	CreatedByEmail string
	ItemCount      int
	ItemsSum       decimal.Decimal

	Items []Item
}

// Item is one line of a filing.
type Item struct {
	ID                uuid.UUID
	ItemRef           string
	CommodityDesc     string
	HSCode            string
	Quantity          decimal.Decimal
	UnitCode          string
	UnitPrice         decimal.Decimal
	LineItemValue     decimal.Decimal
	OriginCountryCode string
	NetMass           *decimal.Decimal
	GrossMass         *decimal.Decimal
	LineOrder         int
}

// IsOwnedBy reports whether the principal created the filing.
func (f *Filing) IsOwnedBy(p shared.Principal) bool {
	return f.CreatedBy == p.ID
}

// ItemsTotal sums the line values. When items are not loaded the
// repository-computed sum is used.
func (f *Filing) ItemsTotal() decimal.Decimal {
	if len(f.Items) == 0 {
		return f.ItemsSum
	}
	total := decimal.Zero
	for _, item := range f.Items {
		total = total.Add(item.LineItemValue)
	}
	return total
}

// TotalMatchesItems reports whether the header total equals the line sum.
// A mismatch is allowed and only flagged to the user.
func (f *Filing) TotalMatchesItems() bool {
	return f.TotalInvoiceValue.Equal(f.ItemsTotal())
}

// Scope selects which filings a listing covers.
type Scope int

const (
	// ScopeOwn limits results to the principal's filings.
	ScopeOwn Scope = iota
	// ScopeAll covers every filing and requires the admin role.
	ScopeAll
)

func (s Scope) String() string {
	if s == ScopeAll {
		return "all"
	}
	return "own"
}

// DefaultScope is the scope user-facing routes apply for a principal.
func DefaultScope(p shared.Principal) Scope {
	if p.IsAdmin() {
		return ScopeAll
	}
	return ScopeOwn
}

// ListRequest describes a filing listing.
type ListRequest struct {
	Scope   Scope
	Status  string
	Search  string
	Page    int
	PerPage int
}

// ListFilter is the storage-level form of a listing after authorization.
type ListFilter struct {
	Owner  *uuid.UUID
	Status *Status
	Search string
	Limit  int
	Offset int
}

// ListResult holds one page of filings.
type ListResult struct {
	Filings    []Filing
	Pagination shared.Pagination
}

// Stats counts filings per status.
type Stats struct {
	Total     int `json:"total"`
	Draft     int `json:"draft"`
	Submitted int `json:"submitted"`
	Error     int `json:"error"`
}

// Add increments the counter for status.
func (s *Stats) Add(status Status, n int) {
	s.Total += n
	switch status {
	case StatusDraft:
		s.Draft += n
	case StatusSubmitted:
		s.Submitted += n
	case StatusError:
		s.Error += n
	}
}
