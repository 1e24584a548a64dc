package snapstore

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/ledgerd/internal/database"
	"github.com/aristath/ledgerd/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:    "file:" + t.Name() + "?mode=memory&cache=shared",
		Profile: database.ProfileLedger,
		Name:    "snapshots",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return New(db.Conn(), zerolog.Nop())
}

func sampleSnapshot(accountID, date string, source domain.SnapshotSource) *domain.AccountStateSnapshot {
	d, _ := time.Parse("2006-01-02", date)
	return &domain.AccountStateSnapshot{
		AccountID:    accountID,
		SnapshotDate: d,
		Currency:     "USD",
		CashBalances: map[domain.Currency]decimal.Decimal{"USD": decimal.NewFromInt(100)},
		Positions: map[string]*domain.Position{
			"SEC:AAPL:UNKNOWN": {
				AssetID:        "SEC:AAPL:UNKNOWN",
				Currency:       "USD",
				Quantity:       decimal.NewFromInt(10),
				TotalCostBasis: decimal.NewFromInt(1500),
				InceptionDate:  d,
				Lots: []*domain.Lot{
					{ID: "lot1", AcquiredAt: d, Quantity: decimal.NewFromInt(10), CostBasis: decimal.NewFromInt(1500), AcquisitionPrice: decimal.NewFromInt(150)},
				},
			},
		},
		CostBasis:       decimal.NewFromInt(1500),
		NetContribution: decimal.NewFromInt(2000),
		CalculatedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Source:          source,
	}
}

func TestStore_SaveAndGetRoundTrips(t *testing.T) {
	store := newTestStore(t)

	snap := sampleSnapshot("acc1", "2024-01-10", domain.SourceCalculated)
	require.NoError(t, store.Save([]*domain.AccountStateSnapshot{snap}))

	got, err := store.Get("acc1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].CostBasis.Equal(decimal.NewFromInt(1500)))
	assert.Len(t, got[0].Positions, 1)
	assert.Len(t, got[0].Positions["SEC:AAPL:UNKNOWN"].Lots, 1)
}

func TestStore_LatestBefore(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save([]*domain.AccountStateSnapshot{
		sampleSnapshot("acc1", "2024-01-05", domain.SourceCalculated),
		sampleSnapshot("acc1", "2024-01-10", domain.SourceCalculated),
	}))

	snap, err := store.LatestBefore("acc1", parseDate("2024-01-08"))
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "2024-01-05", snap.SnapshotDate.Format("2006-01-02"))
}

func TestStore_DeleteCalculatedInRangePreservesAnchors(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save([]*domain.AccountStateSnapshot{
		sampleSnapshot("acc1", "2024-01-05", domain.SourceCalculated),
		sampleSnapshot("acc1", "2024-01-06", domain.SourceManualEntry),
	}))

	require.NoError(t, store.DeleteCalculatedInRange("acc1", parseDate("2024-01-01"), parseDate("2024-01-31")))

	got, err := store.Get("acc1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.SourceManualEntry, got[0].Source)
}

func TestStore_OverwriteAllForAccountPreservesAnchorDates(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save([]*domain.AccountStateSnapshot{
		sampleSnapshot("acc1", "2024-01-05", domain.SourceCalculated),
		sampleSnapshot("acc1", "2024-01-06", domain.SourceManualEntry),
	}))

	anchorOverwriteAttempt := sampleSnapshot("acc1", "2024-01-06", domain.SourceCalculated)
	anchorOverwriteAttempt.CostBasis = decimal.NewFromInt(999999)
	newCalculated := sampleSnapshot("acc1", "2024-01-07", domain.SourceCalculated)

	require.NoError(t, store.OverwriteAllForAccount("acc1", []*domain.AccountStateSnapshot{anchorOverwriteAttempt, newCalculated}))

	got, err := store.Get("acc1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	byDate := map[string]*domain.AccountStateSnapshot{}
	for _, s := range got {
		byDate[s.SnapshotDate.Format("2006-01-02")] = s
	}
	require.Contains(t, byDate, "2024-01-06")
	require.Contains(t, byDate, "2024-01-07")
	assert.Equal(t, domain.SourceManualEntry, byDate["2024-01-06"].Source)
	assert.False(t, byDate["2024-01-06"].CostBasis.Equal(decimal.NewFromInt(999999)))
}

func TestStore_GetAnchorDatesAndEarliestNonCalculated(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save([]*domain.AccountStateSnapshot{
		sampleSnapshot("acc1", "2024-01-05", domain.SourceCalculated),
		sampleSnapshot("acc1", "2024-01-06", domain.SourceManualEntry),
		sampleSnapshot("acc1", "2024-01-20", domain.SourceBrokerImport),
	}))

	anchors, err := store.GetAnchorDates("acc1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, anchors, 2)

	earliest, err := store.EarliestNonCalculated("acc1")
	require.NoError(t, err)
	require.NotNil(t, earliest)
	assert.Equal(t, "2024-01-06", earliest.Format("2006-01-02"))
}

func parseDate(s string) time.Time {
	d, _ := time.Parse("2006-01-02", s)
	return d
}
