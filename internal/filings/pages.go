package filings

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/filingdesk/filingdesk/internal/platform/httpx"
	"github.com/filingdesk/filingdesk/internal/shared"
	"github.com/filingdesk/filingdesk/internal/view"
)

// PagesHandler serves the HTML dashboard over the same Service as the API.
// One instance is mounted per area: the user dashboard and the admin area.
type PagesHandler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	base      string
	scope     *Scope
}

// NewPagesHandler builds a pages handler mounted at base. A nil scope uses
// each principal's default scope.
func NewPagesHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, base string, scope *Scope) *PagesHandler {
	return &PagesHandler{
		logger:    logger,
		service:   service,
		templates: templates,
		csrf:      csrf,
		base:      base,
		scope:     scope,
	}
}

// MountRoutes registers dashboard routes.
func (h *PagesHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.index)
	r.Get("/filings/new", h.showNew)
	r.Post("/filings", h.create)
	r.Get("/filings/{id}", h.show)
	r.Post("/filings/{id}", h.update)
	r.Post("/filings/{id}/delete", h.delete)
}

type listPage struct {
	Base        string
	Result      ListResult
	Stats       Stats
	Status      string
	Search      string
	Statuses    []Status
	ShowCreator bool
}

type formPage struct {
	Base     string
	Filing   *Filing
	Form     Payload
	Errors   map[string]string
	Action   string
	CanEdit  bool
	IsAdmin  bool
	Statuses []Status
}

func (h *PagesHandler) index(w http.ResponseWriter, r *http.Request) {
	p := shared.PrincipalFromContext(r.Context())
	req := listRequestFromQuery(r)
	req.Scope = scopeFor(p, h.scope)

	result, err := h.service.List(r.Context(), p, req)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	stats, err := h.service.Stats(r.Context(), p, req.Scope)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, "pages/filings_list.html", "Filings", http.StatusOK, listPage{
		Base:        h.base,
		Result:      result,
		Stats:       stats,
		Status:      req.Status,
		Search:      req.Search,
		Statuses:    Statuses,
		ShowCreator: req.Scope == ScopeAll,
	})
}

func (h *PagesHandler) showNew(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, http.StatusOK, formPage{
		Form:    Payload{ImportExportFlag: "E", Items: []ItemPayload{{}}},
		Action:  h.base + "/filings",
		CanEdit: true,
	})
}

func (h *PagesHandler) create(w http.ResponseWriter, r *http.Request) {
	payload, err := PayloadFromForm(r)
	if err != nil {
		h.renderError(w, r, httpx.ErrValidation)
		return
	}
	filing, err := h.service.Create(r.Context(), shared.PrincipalFromContext(r.Context()), payload)
	if err != nil {
		h.renderFormError(w, r, err, formPage{Form: payload, Action: h.base + "/filings", CanEdit: true})
		return
	}
	h.redirectWithFlash(w, r, h.filingPath(filing.ID), shared.FlashSuccess, "Filing "+filing.InvoiceNo+" created as draft")
}

func (h *PagesHandler) show(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.renderError(w, r, httpx.ErrNotFound)
		return
	}
	p := shared.PrincipalFromContext(r.Context())
	filing, err := h.service.Get(r.Context(), p, id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.renderForm(w, r, http.StatusOK, formPage{
		Filing:  filing,
		Form:    PayloadFromFiling(filing),
		Action:  h.filingPath(filing.ID),
		CanEdit: CanEdit(p, filing),
	})
}

func (h *PagesHandler) update(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.renderError(w, r, httpx.ErrNotFound)
		return
	}
	payload, err := PayloadFromForm(r)
	if err != nil {
		h.renderError(w, r, httpx.ErrValidation)
		return
	}
	p := shared.PrincipalFromContext(r.Context())
	filing, err := h.service.Update(r.Context(), p, id, payload)
	if err != nil {
		if errors.Is(err, httpx.ErrForbidden) || errors.Is(err, httpx.ErrNotFound) {
			h.renderError(w, r, err)
			return
		}
		current, getErr := h.service.Get(r.Context(), p, id)
		if getErr != nil {
			h.renderError(w, r, getErr)
			return
		}
		h.renderFormError(w, r, err, formPage{Filing: current, Form: payload, Action: h.filingPath(id), CanEdit: true})
		return
	}
	h.redirectWithFlash(w, r, h.filingPath(filing.ID), shared.FlashSuccess, "Filing "+filing.InvoiceNo+" saved")
}

func (h *PagesHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.renderError(w, r, httpx.ErrNotFound)
		return
	}
	if err := h.service.Delete(r.Context(), shared.PrincipalFromContext(r.Context()), id); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.redirectWithFlash(w, r, h.base, shared.FlashSuccess, "Filing deleted")
}

func (h *PagesHandler) filingPath(id uuid.UUID) string {
	return h.base + "/filings/" + id.String()
}

func (h *PagesHandler) renderFormError(w http.ResponseWriter, r *http.Request, err error, page formPage) {
	kind := httpx.KindOf(err)
	if kind == httpx.KindInternal || kind == httpx.KindUnauthorized {
		h.renderError(w, r, err)
		return
	}
	page.Errors = map[string]string{}
	var fe httpx.FieldErrorer
	if errors.As(err, &fe) {
		for k, v := range fe.FieldErrors() {
			page.Errors[k] = v
		}
	}
	if errors.Is(err, ErrDuplicateInvoice) {
		page.Errors["invoice_no"] = "is already used by another filing"
	}
	if len(page.Errors) == 0 {
		page.Errors["general"] = err.Error()
	}
	if len(page.Form.Items) == 0 {
		page.Form.Items = []ItemPayload{{}}
	}
	h.renderForm(w, r, httpx.StatusOf(kind), page)
}

func (h *PagesHandler) renderForm(w http.ResponseWriter, r *http.Request, status int, page formPage) {
	p := shared.PrincipalFromContext(r.Context())
	page.Base = h.base
	page.IsAdmin = p != nil && p.IsAdmin()
	page.Statuses = Statuses
	title := "New filing"
	if page.Filing != nil {
		title = "Filing " + page.Filing.InvoiceNo
	}
	h.render(w, r, "pages/filing_form.html", title, status, page)
}

func (h *PagesHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	kind := httpx.KindOf(err)
	if kind == httpx.KindUnauthorized {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	status := httpx.StatusOf(kind)
	message := err.Error()
	if kind == httpx.KindInternal {
		h.logger.ErrorContext(r.Context(), "filing page failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		message = "Something went wrong. Please try again."
	}
	h.render(w, r, "pages/error.html", http.StatusText(status), status, map[string]any{
		"Status":  status,
		"Message": message,
		"Back":    h.base,
	})
}

func (h *PagesHandler) render(w http.ResponseWriter, r *http.Request, page, title string, status int, data any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Viewer:      view.ViewerFromContext(r.Context()),
		Data:        data,
	}
	if err := h.templates.Render(w, page, status, viewData); err != nil {
		h.logger.ErrorContext(r.Context(), "render template", slog.String("page", page), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *PagesHandler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
