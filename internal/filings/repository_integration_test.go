//go:build integration

package filings_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/filingdesk/filingdesk/internal/audit"
	"github.com/filingdesk/filingdesk/internal/filings"
	"github.com/filingdesk/filingdesk/internal/platform/db/dbtest"
	"github.com/filingdesk/filingdesk/internal/platform/httpx"
	"github.com/filingdesk/filingdesk/internal/shared"
	"github.com/filingdesk/filingdesk/internal/users"
)

func register(t *testing.T, svc *users.Service, name, email, gstin, role string) *shared.Principal {
	t.Helper()
	u, err := svc.Register(context.Background(), users.RegisterInput{
		Name: name, Email: email, GSTIN: gstin, Password: "long-password", Role: role,
	})
	require.NoError(t, err)
	return &shared.Principal{ID: u.ID, Role: u.Role}
}

func payload(invoiceNo string, items int) filings.Payload {
	p := filings.Payload{
		ShipmentID:        "SHP-1",
		InvoiceNo:         invoiceNo,
		InvoiceDate:       "2024-01-31",
		PortCode:          "INNSA1",
		ExporterGSTIN:     "27AAPFU0939F1ZV",
		ImportExportFlag:  "E",
		TotalInvoiceValue: "99.95",
		CurrencyCode:      "USD",
	}
	for i := 0; i < items; i++ {
		p.Items = append(p.Items, filings.ItemPayload{
			ItemID:            "L" + string(rune('1'+i)),
			CommodityDesc:     "Spices",
			HSCode:            "0910",
			Quantity:          "1.5",
			UnitCode:          "KGS",
			UnitPrice:         "10",
			LineItemValue:     "15",
			OriginCountryCode: "IN",
			NetMass:           "1.5",
		})
	}
	return p
}

func TestPostgresRoundTrip(t *testing.T) {
	pool := dbtest.Start(t)
	ctx := context.Background()

	userSvc := users.NewService(users.NewRepository(pool), users.Options{AllowAdminSignup: true, BcryptCost: bcrypt.MinCost})
	owner := register(t, userSvc, "Owner", "owner@example.test", "27AAPFU0939F1ZV", "")
	other := register(t, userSvc, "Other", "other@example.test", "29ABCDE1234F1Z5", "")
	admin := register(t, userSvc, "Admin", "admin@example.test", "07AAACB1234C1Z1", "admin")

	svc := filings.NewService(filings.NewRepository(pool), shared.NewAuditLogger(pool), nil, slog.Default())

	created, err := svc.Create(ctx, owner, payload("INV-PG-1", 3))
	require.NoError(t, err)
	assert.Len(t, created.Items, 3)
	assert.Equal(t, "Owner", created.CreatedByName)
	require.NotNil(t, created.Items[0].NetMass)

	t.Run("duplicate invoice is a conflict", func(t *testing.T) {
		_, err := svc.Create(ctx, other, payload("INV-PG-1", 1))
		assert.ErrorIs(t, err, filings.ErrDuplicateInvoice)
	})

	t.Run("list aggregates item counts", func(t *testing.T) {
		result, err := svc.List(ctx, admin, filings.ListRequest{Scope: filings.ScopeAll})
		require.NoError(t, err)
		require.Len(t, result.Filings, 1)
		assert.Equal(t, 3, result.Filings[0].ItemCount)
		assert.Equal(t, "45", result.Filings[0].ItemsSum.String())
		assert.Equal(t, "owner@example.test", result.Filings[0].CreatedByEmail)
	})

	t.Run("update replaces items", func(t *testing.T) {
		p := payload("INV-PG-1", 1)
		p.Status = "submitted"
		updated, err := svc.Update(ctx, owner, created.ID, p)
		require.NoError(t, err)
		assert.Equal(t, filings.StatusSubmitted, updated.Status)
		assert.Len(t, updated.Items, 1)

		_, err = svc.Update(ctx, owner, created.ID, payload("INV-PG-1", 1))
		assert.ErrorIs(t, err, httpx.ErrForbidden)
	})

	t.Run("stats by status", func(t *testing.T) {
		stats, err := svc.Stats(ctx, admin, filings.ScopeAll)
		require.NoError(t, err)
		assert.Equal(t, filings.Stats{Total: 1, Submitted: 1}, stats)
	})

	t.Run("delete cascades items", func(t *testing.T) {
		require.NoError(t, svc.Delete(ctx, admin, created.ID))
		var items int
		require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM filing_items WHERE filing_id = $1", created.ID).Scan(&items))
		assert.Zero(t, items)
		_, err := svc.Get(ctx, admin, created.ID)
		assert.ErrorIs(t, err, httpx.ErrNotFound)

		var audits int
		require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs WHERE entity_id = $1", created.ID.String()).Scan(&audits))
		assert.Equal(t, 3, audits)

		trail, err := audit.NewService(audit.NewRepository(pool)).Export(ctx, audit.TimelineFilters{
			Entity: "filing", EntityID: created.ID.String(),
		})
		require.NoError(t, err)
		require.Len(t, trail, 3)
		assert.Equal(t, "filing.delete", trail[0].Action)
		assert.Equal(t, "admin@example.test", trail[0].ActorEmail)
		assert.Equal(t, "owner@example.test", trail[2].ActorEmail)
	})

	t.Run("concurrent creates with one key store one filing", func(t *testing.T) {
		const n = 6
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := range errs {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = svc.CreateIdempotent(ctx, owner, "burst-1", payload("INV-PG-BURST", 1))
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, shared.ErrIdempotencyConflict)
		}
		assert.Equal(t, 1, succeeded)

		id, found, err := shared.NewIdempotencyStore(pool).Lookup(ctx, filings.IdempotencyModule, owner.ID, "burst-1")
		require.NoError(t, err)
		require.True(t, found)
		stored, err := svc.Get(ctx, owner, uuid.MustParse(id))
		require.NoError(t, err)
		assert.Equal(t, "INV-PG-BURST", stored.InvoiceNo)
	})

	t.Run("search matches wildcards literally", func(t *testing.T) {
		_, err := svc.Create(ctx, owner, payload("INV%PCT", 1))
		require.NoError(t, err)

		for search, want := range map[string]int{"%": 1, "_": 0, `\`: 0, "inv%p": 1, "pg-burst": 1} {
			result, err := svc.List(ctx, admin, filings.ListRequest{Scope: filings.ScopeAll, Search: search})
			require.NoError(t, err)
			assert.Equal(t, want, result.Pagination.Total, search)
		}
	})
}
