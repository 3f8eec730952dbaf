package filings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/filingdesk/filingdesk/internal/platform/httpx"
	"github.com/filingdesk/filingdesk/internal/shared"
)

// IdempotencyStore resolves a client key to the filing it created.
type IdempotencyStore interface {
	Lookup(ctx context.Context, module string, actor uuid.UUID, key string) (string, bool, error)
}

// Handler serves the filing JSON API.
type Handler struct {
	logger  *slog.Logger
	service *Service
	idem    IdempotencyStore
}

// NewHandler creates a new handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// WithIdempotency makes POST honour the Idempotency-Key header: a repeated
// key from the same user returns the filing created by the first request.
func (h *Handler) WithIdempotency(store IdempotencyStore) *Handler {
	h.idem = store
	return h
}

// MountRoutes registers the user-facing routes. Listings use the caller's
// default scope.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list(nil))
	r.Post("/", h.create)
	r.Get("/stats", h.stats(nil))
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
}

// MountAdminRoutes registers the admin listings, always with ScopeAll.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	all := ScopeAll
	r.Get("/", h.list(&all))
	r.Get("/stats", h.stats(&all))
}

func (h *Handler) list(fixed *Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := shared.PrincipalFromContext(r.Context())
		req := listRequestFromQuery(r)
		req.Scope = scopeFor(p, fixed)
		result, err := h.service.List(r.Context(), p, req)
		if err != nil {
			httpx.LogAndRespond(w, r, h.logger, err)
			return
		}
		httpx.JSON(w, http.StatusOK, NewListResponse(result))
	}
}

func (h *Handler) stats(fixed *Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := shared.PrincipalFromContext(r.Context())
		stats, err := h.service.Stats(r.Context(), p, scopeFor(p, fixed))
		if err != nil {
			httpx.LogAndRespond(w, r, h.logger, err)
			return
		}
		httpx.JSON(w, http.StatusOK, stats)
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	p := shared.PrincipalFromContext(r.Context())
	key := ""
	if raw := r.Header.Get(shared.IdempotencyHeader); raw != "" && h.idem != nil && p != nil {
		normalized, err := shared.NormalizeIdempotencyKey(raw)
		if err != nil {
			verr := shared.NewValidationError()
			verr.Add("idempotency_key", "must be 1-128 characters")
			httpx.RespondError(w, verr)
			return
		}
		key = normalized
		if h.replayed(w, r, p, key) {
			return
		}
	}

	var payload Payload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filing, err := h.service.CreateIdempotent(r.Context(), p, key, payload)
	// A lost claim means the winning request has committed its binding.
	if errors.Is(err, shared.ErrIdempotencyConflict) && h.replayed(w, r, p, key) {
		return
	}
	if err != nil {
		httpx.LogAndRespond(w, r, h.logger, err)
		return
	}
	w.Header().Set("Location", Path(filing.ID))
	httpx.JSON(w, http.StatusCreated, NewFilingView(filing))
}

// replayed answers with the filing already bound to key and reports whether
// it wrote a response.
func (h *Handler) replayed(w http.ResponseWriter, r *http.Request, p *shared.Principal, key string) bool {
	resourceID, found, err := h.idem.Lookup(r.Context(), IdempotencyModule, p.ID, key)
	if err != nil {
		httpx.LogAndRespond(w, r, h.logger, err)
		return true
	}
	if !found {
		return false
	}
	h.replay(w, r, p, resourceID)
	return true
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, p *shared.Principal, resourceID string) {
	id, err := uuid.Parse(resourceID)
	if err != nil {
		httpx.LogAndRespond(w, r, h.logger, fmt.Errorf("filings: stored idempotent id %q: %w", resourceID, err))
		return
	}
	filing, err := h.service.Get(r.Context(), p, id)
	if err != nil {
		httpx.LogAndRespond(w, r, h.logger, err)
		return
	}
	w.Header().Set("Location", Path(filing.ID))
	w.Header().Set("Idempotent-Replayed", "true")
	httpx.JSON(w, http.StatusCreated, NewFilingView(filing))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filing, err := h.service.Get(r.Context(), shared.PrincipalFromContext(r.Context()), id)
	if err != nil {
		httpx.LogAndRespond(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewFilingView(filing))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var payload Payload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filing, err := h.service.Update(r.Context(), shared.PrincipalFromContext(r.Context()), id, payload)
	if err != nil {
		httpx.LogAndRespond(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewFilingView(filing))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), shared.PrincipalFromContext(r.Context()), id); err != nil {
		httpx.LogAndRespond(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func scopeFor(p *shared.Principal, fixed *Scope) Scope {
	if fixed != nil {
		return *fixed
	}
	if p == nil {
		return ScopeOwn
	}
	return DefaultScope(*p)
}

func parseID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		verr := shared.NewValidationError()
		verr.Add("id", "must be a UUID")
		return uuid.Nil, verr
	}
	return id, nil
}

func listRequestFromQuery(r *http.Request) ListRequest {
	q := r.URL.Query()
	return ListRequest{
		Status:  q.Get("status"),
		Search:  q.Get("q"),
		Page:    atoi(q.Get("page")),
		PerPage: atoi(q.Get("per_page")),
	}
}

func atoi(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

// Path returns the canonical API location of a filing.
func Path(id uuid.UUID) string {
	return fmt.Sprintf("/api/filings/%s", id)
}
