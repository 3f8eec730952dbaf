package rbac

import (
	"log/slog"
	"net/http"

	"github.com/filingdesk/filingdesk/internal/platform/httpx"
	"github.com/filingdesk/filingdesk/internal/shared"
)

// DenyMode selects how a rejected request is answered.
type DenyMode int

const (
	// DenyProblem answers with an application/problem+json body.
	DenyProblem DenyMode = iota
	// DenyPage redirects anonymous visitors to the login page and renders a
	// plain 403 for signed-in users lacking the role.
	DenyPage
)

// LoginPath is where DenyPage sends anonymous visitors.
const LoginPath = "/auth/login"

// Middleware gates routes on the resolved shared.Principal.
type Middleware struct {
	Logger *slog.Logger
	Deny   DenyMode
}

// RequirePrincipal rejects requests without a signed-in user.
func (m Middleware) RequirePrincipal() func(http.Handler) http.Handler {
	return m.RequireRole()
}

// RequireRole ensures the current user holds one of roles. With no roles any
// signed-in user passes.
func (m Middleware) RequireRole(roles ...shared.Role) func(http.Handler) http.Handler {
	allowed := make(map[shared.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := shared.PrincipalFromContext(r.Context())
			if p == nil {
				m.unauthorized(w, r)
				return
			}
			if len(allowed) > 0 {
				if _, ok := allowed[p.Role]; !ok {
					if m.Logger != nil {
						m.Logger.InfoContext(r.Context(), "rbac role denied",
							slog.String("user_id", p.ID.String()),
							slog.String("role", string(p.Role)),
							slog.String("path", r.URL.Path))
					}
					m.forbidden(w)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) unauthorized(w http.ResponseWriter, r *http.Request) {
	if m.Deny == DenyPage {
		http.Redirect(w, r, LoginPath, http.StatusSeeOther)
		return
	}
	httpx.RespondError(w, httpx.ErrUnauthorized)
}

func (m Middleware) forbidden(w http.ResponseWriter) {
	if m.Deny == DenyPage {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	httpx.RespondError(w, httpx.ErrForbidden)
}
