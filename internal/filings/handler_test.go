package filings

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filingdesk/filingdesk/internal/platform/httpx"
	"github.com/filingdesk/filingdesk/internal/shared"
)

func newAPIRouter(f *fixture) chi.Router {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc)
	r := chi.NewRouter()
	r.Route("/api/filings", h.MountRoutes)
	r.Route("/api/admin/filings", h.MountAdminRoutes)
	return r
}

func apiRequest(t testing.TB, p *shared.Principal, method, target string, body any) *http.Request {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if p != nil {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), *p))
	}
	return req
}

func serveAPI(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	return problem
}

func TestAPICreateReturnsCreatedFiling(t *testing.T) {
	f := newFixture(t)
	router := newAPIRouter(f)

	rr := serveAPI(router, apiRequest(t, f.owner, http.MethodPost, "/api/filings", samplePayload("INV-API-1", 2)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var view FilingView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, "INV-API-1", view.InvoiceNo)
	assert.Equal(t, StatusDraft, view.Status)
	assert.Len(t, view.Items, 2)
	assert.Equal(t, Path(view.ID), rr.Header().Get("Location"))
	assert.Contains(t, rr.Body.String(), `"created_at"`)
	assert.Contains(t, rr.Body.String(), `"total_matches_items":false`)
}

func TestAPICreateAcceptsNumericAmounts(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{
		"shipment_id":         "SHP-9",
		"invoice_no":          "INV-NUM",
		"invoice_date":        "2024-05-01",
		"port_code":           "INNSA1",
		"import_export_flag":  "I",
		"total_invoice_value": 250.5,
		"currency_code":       "EUR",
		"items": []map[string]any{{
			"commodity_desc":      "Valves",
			"hs_code":             "84818090",
			"quantity":            10,
			"unit_code":           "NOS",
			"unit_price":          25.05,
			"line_item_value":     250.5,
			"origin_country_code": "DE",
		}},
	}
	rr := serveAPI(newAPIRouter(f), apiRequest(t, f.owner, http.MethodPost, "/api/filings", body))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"total_matches_items":true`)
}

func TestAPICreateValidationProblem(t *testing.T) {
	f := newFixture(t)
	payload := samplePayload("INV-BAD", 1)
	payload.Items[0].HSCode = ""
	payload.ImportExportFlag = "X"

	rr := serveAPI(newAPIRouter(f), apiRequest(t, f.owner, http.MethodPost, "/api/filings", payload))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	problem := decodeProblem(t, rr)
	assert.Equal(t, "validation", problem.Type)
	assert.Equal(t, "is required", problem.Errors["items[0].hs_code"])
	assert.Contains(t, problem.Errors, "import_export_flag")
}

func TestAPICreateMalformedJSON(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/filings", bytes.NewBufferString("{"))
	req = req.WithContext(shared.ContextWithPrincipal(req.Context(), *f.owner))

	rr := serveAPI(newAPIRouter(f), req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAPICreateDuplicateConflict(t *testing.T) {
	f := newFixture(t)
	router := newAPIRouter(f)
	f.create(t, f.owner, "INV-DUP", 1)

	rr := serveAPI(router, apiRequest(t, f.other, http.MethodPost, "/api/filings", samplePayload("INV-DUP", 1)))
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "conflict", decodeProblem(t, rr).Type)
}

func TestAPIGetStatusCodes(t *testing.T) {
	f := newFixture(t)
	router := newAPIRouter(f)
	filing := f.create(t, f.owner, "INV-GET", 1)

	cases := []struct {
		name   string
		who    *shared.Principal
		target string
		status int
	}{
		{"owner", f.owner, Path(filing.ID), http.StatusOK},
		{"admin", f.admin, Path(filing.ID), http.StatusOK},
		{"other user", f.other, Path(filing.ID), http.StatusForbidden},
		{"anonymous", nil, Path(filing.ID), http.StatusUnauthorized},
		{"missing", f.owner, Path(uuid.New()), http.StatusNotFound},
		{"malformed id", f.owner, "/api/filings/not-a-uuid", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serveAPI(router, apiRequest(t, tc.who, http.MethodGet, tc.target, nil))
			assert.Equal(t, tc.status, rr.Code, rr.Body.String())
		})
	}
}

func TestAPIUpdateAndLock(t *testing.T) {
	f := newFixture(t)
	router := newAPIRouter(f)
	filing := f.create(t, f.owner, "INV-UPD", 1)

	payload := samplePayload("INV-UPD", 3)
	payload.Status = "submitted"
	rr := serveAPI(router, apiRequest(t, f.owner, http.MethodPut, Path(filing.ID), payload))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var view FilingView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, StatusSubmitted, view.Status)
	assert.Len(t, view.Items, 3)

	rr = serveAPI(router, apiRequest(t, f.owner, http.MethodPut, Path(filing.ID), samplePayload("INV-UPD", 1)))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = serveAPI(router, apiRequest(t, f.admin, http.MethodPut, Path(filing.ID), samplePayload("INV-UPD", 1)))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAPIDelete(t *testing.T) {
	f := newFixture(t)
	router := newAPIRouter(f)
	filing := f.create(t, f.owner, "INV-DEL", 3)

	rr := serveAPI(router, apiRequest(t, f.other, http.MethodDelete, Path(filing.ID), nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = serveAPI(router, apiRequest(t, f.owner, http.MethodDelete, Path(filing.ID), nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.String())

	rr = serveAPI(router, apiRequest(t, f.owner, http.MethodGet, Path(filing.ID), nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAPIListScopedByRole(t *testing.T) {
	f := newFixture(t)
	router := newAPIRouter(f)
	f.create(t, f.owner, "INV-L1", 1)
	f.create(t, f.owner, "INV-L2", 1)
	f.create(t, f.other, "INV-L3", 1)

	decode := func(rr *httptest.ResponseRecorder) ListResponse {
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var resp ListResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		return resp
	}

	own := decode(serveAPI(router, apiRequest(t, f.owner, http.MethodGet, "/api/filings", nil)))
	assert.Equal(t, 2, own.Pagination.Total)

	all := decode(serveAPI(router, apiRequest(t, f.admin, http.MethodGet, "/api/admin/filings?per_page=1", nil)))
	assert.Equal(t, 3, all.Pagination.Total)
	assert.Len(t, all.Filings, 1)

	filtered := decode(serveAPI(router, apiRequest(t, f.admin, http.MethodGet, "/api/filings?q=inv-l3", nil)))
	assert.Equal(t, 1, filtered.Pagination.Total)
}

func TestAPIStats(t *testing.T) {
	f := newFixture(t)
	router := newAPIRouter(f)
	f.create(t, f.owner, "INV-S1", 1)
	f.create(t, f.other, "INV-S2", 1)

	rr := serveAPI(router, apiRequest(t, f.owner, http.MethodGet, "/api/filings/stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var own Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &own))
	assert.Equal(t, 1, own.Total)

	rr = serveAPI(router, apiRequest(t, f.admin, http.MethodGet, "/api/admin/filings/stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var all Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &all))
	assert.Equal(t, 2, all.Total)
	assert.Equal(t, 2, all.Draft)
}

// staleLookup reports the first misses lookups as unbound, like a read that
// ran before a concurrent create committed its key.
type staleLookup struct {
	*memRepo
	misses int
}

func (s *staleLookup) Lookup(ctx context.Context, module string, actor uuid.UUID, key string) (string, bool, error) {
	if s.misses > 0 {
		s.misses--
		return "", false, nil
	}
	return s.memRepo.Lookup(ctx, module, actor, key)
}

func newIdempotentRouter(f *fixture, store IdempotencyStore) chi.Router {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc).WithIdempotency(store)
	router := chi.NewRouter()
	router.Route("/api/filings", h.MountRoutes)
	return router
}

func TestAPICreateIdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t)
	router := newIdempotentRouter(f, f.repo)

	send := func(p *shared.Principal, key string) *httptest.ResponseRecorder {
		req := apiRequest(t, p, http.MethodPost, "/api/filings", samplePayload("INV-IDEM", 1))
		req.Header.Set(shared.IdempotencyHeader, key)
		return serveAPI(router, req)
	}

	first := send(f.owner, "retry-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := send(f.owner, "retry-1")
	require.Equal(t, http.StatusCreated, second.Code, second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, first.Header().Get("Location"), second.Header().Get("Location"))

	other := send(f.other, "retry-1")
	assert.Equal(t, http.StatusConflict, other.Code, "keys are scoped per user")

	tooLong := send(f.owner, strings.Repeat("k", shared.MaxIdempotencyKeyLength+1))
	assert.Equal(t, http.StatusBadRequest, tooLong.Code)
}

func TestAPICreateReplaysWhenKeyClaimedAfterLookup(t *testing.T) {
	f := newFixture(t)
	router := newIdempotentRouter(f, &staleLookup{memRepo: f.repo, misses: 2})

	send := func() *httptest.ResponseRecorder {
		req := apiRequest(t, f.owner, http.MethodPost, "/api/filings", samplePayload("INV-RACE", 1))
		req.Header.Set(shared.IdempotencyHeader, "race-1")
		return serveAPI(router, req)
	}

	first := send()
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := send()
	require.Equal(t, http.StatusCreated, second.Code, second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, first.Header().Get("Location"), second.Header().Get("Location"))
	assert.Len(t, f.repo.filings, 1)
}

func TestAPIConcurrentCreatesWithOneKeyStoreOneFiling(t *testing.T) {
	f := newFixture(t)
	router := newIdempotentRouter(f, f.repo)

	const n = 8
	responses := make([]*httptest.ResponseRecorder, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range responses {
		i := i
		req := apiRequest(t, f.owner, http.MethodPost, "/api/filings", samplePayload("INV-BURST", 2))
		req.Header.Set(shared.IdempotencyHeader, "burst-1")
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			responses[i] = serveAPI(router, req)
		}()
	}
	close(start)
	wg.Wait()

	location := responses[0].Header().Get("Location")
	replays := 0
	for _, rr := range responses {
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		assert.Equal(t, location, rr.Header().Get("Location"))
		if rr.Header().Get("Idempotent-Replayed") == "true" {
			replays++
		}
	}
	assert.Equal(t, n-1, replays)
	assert.Len(t, f.repo.filings, 1)
}
