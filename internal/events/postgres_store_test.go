//go:build integration

package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartpulse/cartpulse/internal/pagination"
	"github.com/cartpulse/cartpulse/internal/testutil"
)

func seedPG(t *testing.T, store *PostgresStore, evts ...*Event) {
	t.Helper()
	ctx := context.Background()
	for i, e := range evts {
		if e.ID == "" {
			e.ID = "evt_pg_" + string(rune('a'+i)) + time.Now().Format("150405.000000000")
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC().Add(time.Duration(i-len(evts)) * time.Minute)
		}
		require.NoError(t, store.Insert(ctx, e))
	}
}

func TestPostgresEvents_SessionRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	seedPG(t, store,
		&Event{MerchantID: "mer_pg1", SessionID: "sess-1", Type: TypeStepViewed, Step: "cart", DeviceType: "mobile"},
		&Event{MerchantID: "mer_pg1", SessionID: "sess-1", Type: TypeStepCompleted, Step: "cart"},
		&Event{MerchantID: "mer_pg1", SessionID: "sess-2", Type: TypeStepViewed, Step: "cart"},
	)

	evts, err := store.ListBySession(ctx, "mer_pg1", "sess-1")
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, TypeStepViewed, evts[0].Type)
	assert.Equal(t, "mobile", evts[0].DeviceType)
	assert.Equal(t, "", evts[0].Location)
	assert.True(t, evts[0].CreatedAt.Before(evts[1].CreatedAt))

	other, err := store.ListBySession(ctx, "mer_other", "sess-1")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestPostgresEvents_CountAndRevenue(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	now := time.Now().UTC()
	seedPG(t, store,
		&Event{MerchantID: "mer_pg2", SessionID: "s1", Type: TypeCheckoutCompleted, RevenueCents: 5000, CreatedAt: now.Add(-48 * time.Hour)},
		&Event{MerchantID: "mer_pg2", SessionID: "s2", Type: TypeCheckoutCompleted, RevenueCents: 2500, CreatedAt: now.Add(-1 * time.Hour)},
		&Event{MerchantID: "mer_pg2", SessionID: "s3", Type: TypeStepViewed, Step: "cart", CreatedAt: now.Add(-1 * time.Hour)},
	)

	n, err := store.CountSince(ctx, "mer_pg2", now.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	series, err := store.DailyRevenue(ctx, "mer_pg2", 7)
	require.NoError(t, err)
	require.Len(t, series, 2)
	var total int64
	for _, d := range series {
		total += d.RevenueCents
	}
	assert.Equal(t, int64(7500), total)
	assert.True(t, series[0].Date.Before(series[1].Date))
}

func TestPostgresEvents_FunnelAndSessions(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	now := time.Now().UTC()
	seedPG(t, store,
		&Event{MerchantID: "mer_pg3", SessionID: "live", Type: TypeStepViewed, Step: "cart", CreatedAt: now.Add(-10 * time.Minute)},
		&Event{MerchantID: "mer_pg3", SessionID: "live", Type: TypeStepCompleted, Step: "cart", CreatedAt: now.Add(-9 * time.Minute)},
		&Event{MerchantID: "mer_pg3", SessionID: "done", Type: TypeStepViewed, Step: "cart", CreatedAt: now.Add(-20 * time.Minute)},
		&Event{MerchantID: "mer_pg3", SessionID: "done", Type: TypeCheckoutCompleted, RevenueCents: 100, CreatedAt: now.Add(-15 * time.Minute)},
	)

	counts, err := store.FunnelCounts(ctx, "mer_pg3", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, counts["cart"].Viewed)
	assert.Equal(t, 1, counts["cart"].Completed)

	active, err := store.ActiveSessionIDs(ctx, "mer_pg3", now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, active)

	ended, err := store.EndedSessionIDs(ctx, "mer_pg3", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"done"}, ended)

	priors, err := store.MerchantPriors(ctx, "mer_pg3")
	require.NoError(t, err)
	assert.Equal(t, 1, priors.Completions)
	assert.Equal(t, 0, priors.Abandonments)
	assert.Equal(t, 1.0, priors.ConversionRate)
	assert.InDelta(t, 300, priors.AvgCheckoutSeconds, 1)
}

func TestPostgresEvents_ListPageCursor(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		seedPG(t, store, &Event{
			ID:         "evt_page_" + string(rune('a'+i)),
			MerchantID: "mer_pg4",
			SessionID:  "s",
			Type:       TypeStepViewed,
			Step:       "cart",
			CreatedAt:  now.Add(time.Duration(-i) * time.Minute),
		})
	}

	first, err := store.ListPage(ctx, "mer_pg4", nil, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)

	cursor := &pagination.Cursor{CreatedAt: first[2].CreatedAt, ID: first[2].ID}
	second, err := store.ListPage(ctx, "mer_pg4", cursor, 3)
	require.NoError(t, err)
	require.Len(t, second, 2)

	seen := make(map[string]bool)
	for _, e := range append(first, second...) {
		assert.False(t, seen[e.ID], "page overlap on %s", e.ID)
		seen[e.ID] = true
	}
}
