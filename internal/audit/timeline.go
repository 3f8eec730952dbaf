package audit

import (
	"time"

	"github.com/google/uuid"
)

// TimelineFilters narrows the audit trail. To is inclusive of the whole day.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	Actor    string
	Entity   string
	EntityID string
	Action   string
	Page     int
	PageSize int
}

// TimelineRow is one audit entry joined with its actor.
type TimelineRow struct {
	At         time.Time      `json:"at"`
	ActorID    uuid.UUID      `json:"actor_id"`
	ActorEmail string         `json:"actor_email,omitempty"`
	Action     string         `json:"action"`
	Entity     string         `json:"entity"`
	EntityID   string         `json:"entity_id"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// PagingInfo describes a window without a total count.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Query is what the repository receives.
type Query struct {
	From     time.Time
	Until    time.Time
	Actor    string
	Entity   string
	EntityID string
	Action   string
	Limit    int
	Offset   int
}
