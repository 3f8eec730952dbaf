package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/filingdesk/filingdesk/internal/platform/httpx"
	"github.com/filingdesk/filingdesk/internal/shared"
	"github.com/filingdesk/filingdesk/internal/users"
	"github.com/filingdesk/filingdesk/internal/view"
)

// Registrar creates accounts for the signup page.
type Registrar interface {
	Register(ctx context.Context, in users.RegisterInput) (*users.User, error)
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger           *slog.Logger
	service          *Service
	registrar        Registrar
	templates        *view.Engine
	sessionManager   *shared.SessionManager
	csrfManager      *shared.CSRFManager
	allowAdminSignup bool
	throttle         []func(http.Handler) http.Handler
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, registrar Registrar, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager, allowAdminSignup bool) *Handler {
	return &Handler{
		logger:           logger,
		service:          service,
		registrar:        registrar,
		templates:        templates,
		sessionManager:   sessions,
		csrfManager:      csrf,
		allowAdminSignup: allowAdminSignup,
	}
}

// Throttle installs middleware on the credential and signup posts only.
func (h *Handler) Throttle(mw ...func(http.Handler) http.Handler) *Handler {
	h.throttle = append(h.throttle, mw...)
	return h
}

// MountRoutes registers the HTML auth routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.With(h.throttle...).Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/signup", h.showSignup)
	r.With(h.throttle...).Post("/signup", h.handleSignup)
}

// MountAPIRoutes registers the JSON auth routes.
func (h *Handler) MountAPIRoutes(r chi.Router) {
	r.With(h.throttle...).Post("/login", h.apiLogin)
	r.Post("/logout", h.apiLogout)
	r.Get("/me", h.apiMe)
}

type loginPage struct {
	Email  string
	Errors map[string]string
}

type signupPage struct {
	Name       string
	Email      string
	GSTIN      string
	Role       string
	AllowAdmin bool
	Errors     map[string]string
}

// HomePath is where a principal lands after signing in.
func HomePath(p *shared.Principal) string {
	if p == nil {
		return "/auth/login"
	}
	if p.IsAdmin() {
		return "/admin"
	}
	return "/dashboard"
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	if p := shared.PrincipalFromContext(r.Context()); p != nil {
		http.Redirect(w, r, HomePath(p), http.StatusSeeOther)
		return
	}
	h.render(w, r, "pages/login.html", "Sign in", http.StatusOK, loginPage{Errors: map[string]string{}})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	creds := Credentials{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	account, err := h.signIn(w, r, creds)
	if err != nil {
		page := loginPage{Email: creds.Email, Errors: map[string]string{}}
		status := httpx.StatusOf(httpx.KindOf(err))
		var fe httpx.FieldErrorer
		switch {
		case errors.As(err, &fe):
			page.Errors = fe.FieldErrors()
		case errors.Is(err, httpx.ErrUnauthorized):
			page.Errors["general"] = "Invalid email or password"
		default:
			h.logger.ErrorContext(r.Context(), "login failed", slog.Any("error", err))
			page.Errors["general"] = "Sign in is unavailable, please try again"
		}
		h.render(w, r, "pages/login.html", "Sign in", status, page)
		return
	}
	h.flash(r, shared.FlashSuccess, "Welcome back, "+account.Name)
	p := account.Principal()
	http.Redirect(w, r, HomePath(&p), http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.signOut(r)
	http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
}

func (h *Handler) showSignup(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/signup.html", "Create account", http.StatusOK, signupPage{
		Role:       string(shared.RoleUser),
		AllowAdmin: h.allowAdminSignup,
		Errors:     map[string]string{},
	})
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	in := users.RegisterInput{
		Name:     r.PostFormValue("name"),
		Email:    r.PostFormValue("email"),
		GSTIN:    r.PostFormValue("gstin"),
		Password: r.PostFormValue("password"),
		Role:     r.PostFormValue("role"),
	}
	if _, err := h.registrar.Register(r.Context(), in); err != nil {
		page := signupPage{
			Name:       in.Name,
			Email:      in.Email,
			GSTIN:      in.GSTIN,
			Role:       in.Role,
			AllowAdmin: h.allowAdminSignup,
			Errors:     map[string]string{},
		}
		var fe httpx.FieldErrorer
		if errors.As(err, &fe) {
			page.Errors = fe.FieldErrors()
		} else {
			h.logger.ErrorContext(r.Context(), "signup failed", slog.Any("error", err))
			page.Errors["general"] = "Registration is unavailable, please try again"
		}
		h.render(w, r, "pages/signup.html", "Create account", httpx.StatusOf(httpx.KindOf(err)), page)
		return
	}
	h.flash(r, shared.FlashSuccess, "Account created, please sign in")
	http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
}

func (h *Handler) apiLogin(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := httpx.DecodeJSON(r, &creds); err != nil {
		httpx.RespondError(w, err)
		return
	}
	account, err := h.signIn(w, r, creds)
	if err != nil {
		httpx.LogAndRespond(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account.Me())
}

func (h *Handler) apiLogout(w http.ResponseWriter, r *http.Request) {
	if shared.PrincipalFromContext(r.Context()) == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	h.signOut(r)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) apiMe(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())
	if account == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	httpx.JSON(w, http.StatusOK, account.Me())
}

// signIn authenticates creds and binds the account to a renewed session.
func (h *Handler) signIn(w http.ResponseWriter, r *http.Request, creds Credentials) (*Account, error) {
	account, err := h.service.Authenticate(r.Context(), creds)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			h.logger.InfoContext(r.Context(), "login rejected", slog.String("remote", r.RemoteAddr))
		}
		return nil, err
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return nil, errors.New("auth: session missing during login")
	}
	sess.Renew()
	h.csrfManager.Rotate(sess)
	sess.SetUser(account.ID.String())

	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, account.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.WarnContext(r.Context(), "register session", slog.Any("error", err))
	}
	h.logger.InfoContext(r.Context(), "login succeeded", slog.String("user_id", account.ID.String()))
	return account, nil
}

func (h *Handler) signOut(r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return
	}
	if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
		h.logger.WarnContext(r.Context(), "remove session", slog.Any("error", err))
	}
	h.sessionManager.Destroy(sess)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, page, title string, status int, data any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(sess)
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

func (h *Handler) flash(r *http.Request, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
}
