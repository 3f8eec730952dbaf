package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/filingdesk/filingdesk/internal/shared"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func request(p *shared.Principal) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	if p != nil {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), *p))
	}
	return req
}

func TestRequireRole(t *testing.T) {
	user := &shared.Principal{ID: uuid.New(), Role: shared.RoleUser}
	admin := &shared.Principal{ID: uuid.New(), Role: shared.RoleAdmin}

	cases := []struct {
		name     string
		mode     DenyMode
		roles    []shared.Role
		who      *shared.Principal
		status   int
		location string
	}{
		{"anonymous api", DenyProblem, nil, nil, http.StatusUnauthorized, ""},
		{"anonymous page", DenyPage, nil, nil, http.StatusSeeOther, LoginPath},
		{"any signed-in user", DenyProblem, nil, user, http.StatusOK, ""},
		{"user on admin api", DenyProblem, []shared.Role{shared.RoleAdmin}, user, http.StatusForbidden, ""},
		{"user on admin page", DenyPage, []shared.Role{shared.RoleAdmin}, user, http.StatusForbidden, ""},
		{"admin on admin api", DenyProblem, []shared.Role{shared.RoleAdmin}, admin, http.StatusOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mw := Middleware{Deny: tc.mode}
			rr := httptest.NewRecorder()
			mw.RequireRole(tc.roles...)(okHandler).ServeHTTP(rr, request(tc.who))

			assert.Equal(t, tc.status, rr.Code)
			if tc.location != "" {
				assert.Equal(t, tc.location, rr.Header().Get("Location"))
			}
		})
	}
}

func TestRequirePrincipalProblemBody(t *testing.T) {
	rr := httptest.NewRecorder()
	Middleware{}.RequirePrincipal()(okHandler).ServeHTTP(rr, request(nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), `"type":"unauthorized"`)
}
