package quotesync

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/ledgerd/internal/database"
	"github.com/aristath/ledgerd/internal/domain"
)

func newTestStateStore(t *testing.T) *SqliteStateStore {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:    "file:" + t.Name() + "?mode=memory&cache=shared",
		Profile: database.ProfileCache,
		Name:    "quotesync",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return NewSqliteStateStore(db.Conn(), zerolog.Nop())
}

func TestStateStore_UpsertAndGetRoundTrips(t *testing.T) {
	store := newTestStateStore(t)

	st := &domain.QuoteSyncState{
		Symbol:            "SEC:AAPL:XNAS",
		DataSource:        "yahoo",
		IsActive:          true,
		FirstActivityDate: dp("2024-01-10"),
		LatestQuoteDate:   dp("2025-02-20"),
		SyncPriority:      domain.CategoryActive.SyncPriority(),
	}
	require.NoError(t, store.Upsert([]*domain.QuoteSyncState{st}))

	got, err := store.Get("SEC:AAPL:XNAS")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsActive)
	assert.Equal(t, day("2024-01-10"), *got.FirstActivityDate)
	assert.Nil(t, got.EarliestQuoteDate)
	assert.Equal(t, day("2025-02-20"), *got.LatestQuoteDate)
}

func TestStateStore_GetMissingReturnsNil(t *testing.T) {
	store := newTestStateStore(t)

	got, err := store.Get("nothing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStateStore_AllOrderedByPriority(t *testing.T) {
	store := newTestStateStore(t)

	require.NoError(t, store.Upsert([]*domain.QuoteSyncState{
		{Symbol: "LOW", SyncPriority: 1},
		{Symbol: "HIGH", SyncPriority: 4},
	}))

	all, err := store.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "HIGH", all[0].Symbol)
	assert.Equal(t, "LOW", all[1].Symbol)
}

func TestStateStore_UpdateQuoteRangeOnlyWidens(t *testing.T) {
	store := newTestStateStore(t)

	require.NoError(t, store.Upsert([]*domain.QuoteSyncState{{
		Symbol:            "X",
		EarliestQuoteDate: dp("2024-01-10"),
		LatestQuoteDate:   dp("2024-06-01"),
		LastError:         "stale failure",
	}}))

	require.NoError(t, store.UpdateQuoteRange("X", day("2024-03-01"), day("2024-08-01")))

	got, err := store.Get("X")
	require.NoError(t, err)
	assert.Equal(t, day("2024-01-10"), *got.EarliestQuoteDate, "earliest never moves forward")
	assert.Equal(t, day("2024-08-01"), *got.LatestQuoteDate)
	assert.Empty(t, got.LastError, "success clears the last error")
}

func TestStateStore_DeleteRemovesState(t *testing.T) {
	store := newTestStateStore(t)

	require.NoError(t, store.Upsert([]*domain.QuoteSyncState{{Symbol: "GONE"}}))
	require.NoError(t, store.Delete("GONE"))

	got, err := store.Get("GONE")
	require.NoError(t, err)
	assert.Nil(t, got)
}
