package users

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/filingdesk/filingdesk/internal/platform/httpx"
)

// Handler exposes the registration API.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.register)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var in RegisterInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.Register(r.Context(), in)
	if err != nil {
		httpx.LogAndRespond(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "user registered", slog.String("user_id", user.ID.String()), slog.String("role", user.Role.String()))
	httpx.JSON(w, http.StatusCreated, user.View())
}
