// Package audithttp exposes the audit trail to administrators.
package audithttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/filingdesk/filingdesk/internal/audit"
	"github.com/filingdesk/filingdesk/internal/platform/httpx"
	"github.com/filingdesk/filingdesk/internal/shared"
)

const (
	dateLayout       = "2006-01-02"
	defaultDateRange = 7 * 24 * time.Hour
	maxDateRange     = 90 * 24 * time.Hour
)

// TimelineService is the read side of the audit trail.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error)
}

// Handler serves audit queries.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	now     func() time.Time
}

// NewHandler builds an audit handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, now: time.Now}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		httpx.LogAndRespond(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		httpx.LogAndRespond(w, r, h.logger, err)
		return
	}
	body, err := audit.WriteCSV(rows)
	if err != nil {
		httpx.LogAndRespond(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-trail.csv"`)
	if _, err := w.Write(body); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

// parseFilters defaults to the last seven days and caps ranges at ninety.
func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	query := r.URL.Query()
	verr := shared.NewValidationError()

	to := h.now().UTC().Truncate(24 * time.Hour)
	if v := strings.TrimSpace(query.Get("to")); v != "" {
		parsed, err := time.Parse(dateLayout, v)
		if err != nil {
			verr.Add("to", "must be a date (YYYY-MM-DD)")
		}
		to = parsed
	}
	from := to.Add(-defaultDateRange)
	if v := strings.TrimSpace(query.Get("from")); v != "" {
		parsed, err := time.Parse(dateLayout, v)
		if err != nil {
			verr.Add("from", "must be a date (YYYY-MM-DD)")
		}
		from = parsed
	}
	if verr.Empty() {
		if from.After(to) {
			verr.Add("from", "must not be after to")
		} else if to.Sub(from) > maxDateRange {
			verr.Add("from", "range must not exceed 90 days")
		}
	}

	page := positiveInt(query.Get("page"), 1, "page", verr)
	pageSize := positiveInt(query.Get("page_size"), 0, "page_size", verr)

	if err := verr.OrNil(); err != nil {
		return audit.TimelineFilters{}, err
	}
	return audit.TimelineFilters{
		From:     from,
		To:       to,
		Actor:    strings.TrimSpace(query.Get("actor")),
		Entity:   strings.TrimSpace(query.Get("entity")),
		EntityID: strings.TrimSpace(query.Get("entity_id")),
		Action:   strings.TrimSpace(query.Get("action")),
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func positiveInt(raw string, fallback int, field string, verr *shared.ValidationError) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		verr.Add(field, "must be a positive integer")
		return fallback
	}
	return n
}
