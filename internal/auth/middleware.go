package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/filingdesk/filingdesk/internal/platform/httpx"
	"github.com/filingdesk/filingdesk/internal/shared"
	"github.com/filingdesk/filingdesk/internal/view"
)

// PrincipalMiddleware resolves the session user into a shared.Principal.
// Anonymous requests pass through without one; sessions pointing at a
// deleted account are signed out.
func PrincipalMiddleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			if sess == nil || sess.User() == "" {
				next.ServeHTTP(w, r)
				return
			}
			account, err := service.Lookup(r.Context(), sess.User())
			if err != nil {
				if errors.Is(err, httpx.ErrUnauthorized) {
					sess.SetUser("")
					next.ServeHTTP(w, r)
					return
				}
				logger.ErrorContext(r.Context(), "resolve principal", slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			ctx := shared.ContextWithPrincipal(r.Context(), account.Principal())
			ctx = ContextWithAccount(ctx, account)
			ctx = view.ContextWithViewer(ctx, &view.Viewer{Name: account.Name, Email: account.Email, Role: account.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
