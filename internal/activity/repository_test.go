package activity

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

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:    "file:" + t.Name() + "?mode=memory&cache=shared",
		Profile: database.ProfileLedger,
		Name:    "snapshots",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return NewRepository(db.Conn(), zerolog.Nop())
}

func parseDate(s string) time.Time {
	d, _ := time.Parse("2006-01-02", s)
	return d
}

func sampleActivity(id, accountID, assetID string, date string, order int) *domain.Activity {
	return &domain.Activity{
		ID:              id,
		AccountID:       accountID,
		AssetID:         assetID,
		ActivityType:    domain.ActivityBuy,
		ActivityDate:    parseDate(date),
		Quantity:        decimal.NewFromInt(10),
		UnitPrice:       decimal.NewFromInt(150),
		Amount:          decimal.Zero,
		Fee:             decimal.NewFromInt(5),
		Currency:        "USD",
		FXRateDirection: domain.FXRateActivityToPosition,
		InsertionOrder:  order,
	}
}

func TestRepository_SaveAndLoadRoundTrips(t *testing.T) {
	repo := newTestRepository(t)

	rate := decimal.NewFromFloat(1.35)
	act := sampleActivity("a1", "acc1", "SEC:AAPL:XNAS", "2024-01-10", 1)
	act.FXRate = &rate
	act.IsExternalFlow = true

	require.NoError(t, repo.Save([]*domain.Activity{act}))

	loaded, err := repo.ActivitiesForAccount("acc1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, domain.ActivityBuy, got.ActivityType)
	assert.Equal(t, parseDate("2024-01-10"), got.ActivityDate)
	assert.True(t, got.Quantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, got.Fee.Equal(decimal.NewFromInt(5)))
	require.NotNil(t, got.FXRate)
	assert.True(t, got.FXRate.Equal(rate))
	assert.True(t, got.IsExternalFlow)
}

func TestRepository_ActivitiesOrderedByDateThenInsertion(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.Save([]*domain.Activity{
		sampleActivity("a2", "acc1", "SEC:AAPL:XNAS", "2024-01-10", 2),
		sampleActivity("a1", "acc1", "SEC:AAPL:XNAS", "2024-01-05", 1),
		sampleActivity("a3", "acc1", "SEC:AAPL:XNAS", "2024-01-10", 3),
	}))

	loaded, err := repo.ActivitiesForAccount("acc1")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, "a1", loaded[0].ID)
	assert.Equal(t, "a2", loaded[1].ID)
	assert.Equal(t, "a3", loaded[2].ID)
}

func TestRepository_ActivityDateRangesExcludesCash(t *testing.T) {
	repo := newTestRepository(t)

	dep := sampleActivity("dep1", "acc1", "CASH:USD", "2024-01-01", 1)
	dep.ActivityType = domain.ActivityDeposit

	require.NoError(t, repo.Save([]*domain.Activity{
		dep,
		sampleActivity("a1", "acc1", "SEC:AAPL:XNAS", "2024-01-05", 2),
		sampleActivity("a2", "acc1", "SEC:AAPL:XNAS", "2024-03-01", 3),
	}))

	ranges, err := repo.ActivityDateRanges()
	require.NoError(t, err)

	require.Contains(t, ranges, "SEC:AAPL:XNAS")
	assert.NotContains(t, ranges, "CASH:USD")
	assert.Equal(t, parseDate("2024-01-05"), ranges["SEC:AAPL:XNAS"].First)
	assert.Equal(t, parseDate("2024-03-01"), ranges["SEC:AAPL:XNAS"].Last)
}

func TestRepository_AccountsRoundTrip(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.SaveAccount(domain.Account{ID: "acc1", Currency: "USD", Active: true}))
	require.NoError(t, repo.SaveAccount(domain.Account{ID: "acc2", Currency: "CAD", Active: false}))

	active, err := repo.ActiveAccounts()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "acc1", active[0].ID)

	account, ok, err := repo.Account("acc2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Currency("CAD"), account.Currency)
	assert.False(t, account.Active)

	_, ok, err = repo.Account("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepository_DeleteRemovesActivity(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.Save([]*domain.Activity{
		sampleActivity("a1", "acc1", "SEC:AAPL:XNAS", "2024-01-05", 1),
	}))
	require.NoError(t, repo.Delete("a1"))

	loaded, err := repo.ActivitiesForAccount("acc1")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
