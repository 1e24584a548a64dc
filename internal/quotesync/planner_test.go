package quotesync

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/ledgerd/internal/domain"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func dp(s string) *time.Time {
	t := day(s)
	return &t
}

type memStateStore struct {
	states map[string]*domain.QuoteSyncState
}

func newMemStateStore(states ...*domain.QuoteSyncState) *memStateStore {
	m := &memStateStore{states: map[string]*domain.QuoteSyncState{}}
	for _, st := range states {
		m.states[st.Symbol] = st
	}
	return m
}

func (m *memStateStore) All() ([]*domain.QuoteSyncState, error) {
	out := make([]*domain.QuoteSyncState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st)
	}
	return out, nil
}

func (m *memStateStore) Get(symbol string) (*domain.QuoteSyncState, error) {
	return m.states[symbol], nil
}

func (m *memStateStore) Upsert(states []*domain.QuoteSyncState) error {
	for _, st := range states {
		m.states[st.Symbol] = st
	}
	return nil
}

func (m *memStateStore) Delete(symbol string) error {
	delete(m.states, symbol)
	return nil
}

type memRanges map[string]DateRange

func (m memRanges) ActivityDateRanges() (map[string]DateRange, error) { return m, nil }
func (m memRanges) QuoteDateRanges() (map[string]DateRange, error)    { return m, nil }

type memHoldings map[string]bool

func (m memHoldings) OpenSymbols() (map[string]bool, error) { return m, nil }

type memAssets map[string]*domain.Asset

func (m memAssets) AssetForSymbol(symbol string) (*domain.Asset, bool) {
	a, ok := m[symbol]
	return a, ok
}

var testCfg = Config{BufferDays: 5, GraceDays: 30, DefaultHistoryDays: 365}

func newTestPlanner(states *memStateStore, activities memRanges, quotes memRanges, holdings memHoldings, assets memAssets) *Planner {
	return NewPlanner(states, holdings, activities, quotes, assets, testCfg, zerolog.Nop())
}

// An active symbol fetches only from latest_quote_date+1.
func TestPlanner_ActivePlan(t *testing.T) {
	states := newMemStateStore(&domain.QuoteSyncState{
		Symbol:            "X",
		IsActive:          true,
		FirstActivityDate: dp("2024-01-10"),
		EarliestQuoteDate: dp("2024-01-01"),
		LatestQuoteDate:   dp("2025-02-20"),
	})
	p := newTestPlanner(states, memRanges{}, memRanges{}, memHoldings{}, memAssets{})

	plan, err := p.BuildPlan(day("2025-03-01"))
	require.NoError(t, err)
	require.Len(t, plan, 1)

	assert.Equal(t, domain.CategoryActive, plan[0].Category)
	assert.Equal(t, day("2025-02-21"), plan[0].Start)
	assert.Equal(t, day("2025-03-01"), plan[0].End)
}

// Moving first_activity behind the held quote history flips
// the symbol to backfill.
func TestPlanner_BackfillPlan(t *testing.T) {
	states := newMemStateStore(&domain.QuoteSyncState{
		Symbol:            "X",
		IsActive:          true,
		FirstActivityDate: dp("2023-12-20"),
		EarliestQuoteDate: dp("2024-01-01"),
		LatestQuoteDate:   dp("2025-02-20"),
	})
	p := newTestPlanner(states, memRanges{}, memRanges{}, memHoldings{}, memAssets{})

	plan, err := p.BuildPlan(day("2025-03-01"))
	require.NoError(t, err)
	require.Len(t, plan, 1)

	assert.Equal(t, domain.CategoryNeedsBackfill, plan[0].Category)
	assert.Equal(t, day("2023-12-15"), plan[0].Start)
	assert.Equal(t, day("2024-01-01"), plan[0].End)
}

func TestPlanner_NewSymbolUsesBufferedActivityStart(t *testing.T) {
	states := newMemStateStore(&domain.QuoteSyncState{
		Symbol:            "Y",
		IsActive:          true,
		FirstActivityDate: dp("2025-01-10"),
	})
	p := newTestPlanner(states, memRanges{}, memRanges{}, memHoldings{}, memAssets{})

	plan, err := p.BuildPlan(day("2025-03-01"))
	require.NoError(t, err)
	require.Len(t, plan, 1)

	assert.Equal(t, domain.CategoryNew, plan[0].Category)
	assert.Equal(t, day("2025-01-05"), plan[0].Start)
	assert.Equal(t, day("2025-03-01"), plan[0].End)
}

func TestPlanner_ClosedBeyondGraceIsSkipped(t *testing.T) {
	states := newMemStateStore(&domain.QuoteSyncState{
		Symbol:             "Z",
		IsActive:           false,
		FirstActivityDate:  dp("2024-01-01"),
		EarliestQuoteDate:  dp("2023-12-27"),
		LatestQuoteDate:    dp("2024-06-01"),
		PositionClosedDate: dp("2024-06-01"),
	})
	p := newTestPlanner(states, memRanges{}, memRanges{}, memHoldings{}, memAssets{})

	plan, err := p.BuildPlan(day("2025-03-01"))
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestPlanner_RecentlyClosedWithinGrace(t *testing.T) {
	states := newMemStateStore(&domain.QuoteSyncState{
		Symbol:             "Z",
		IsActive:           false,
		FirstActivityDate:  dp("2024-01-01"),
		EarliestQuoteDate:  dp("2023-12-27"),
		LatestQuoteDate:    dp("2025-02-01"),
		PositionClosedDate: dp("2025-02-20"),
	})
	p := newTestPlanner(states, memRanges{}, memRanges{}, memHoldings{}, memAssets{})

	plan, err := p.BuildPlan(day("2025-03-01"))
	require.NoError(t, err)
	require.Len(t, plan, 1)

	assert.Equal(t, domain.CategoryRecentlyClosed, plan[0].Category)
	assert.Equal(t, day("2025-02-02"), plan[0].Start)
	assert.Equal(t, day("2025-03-01"), plan[0].End)
}

func TestPlanner_ManualDataSourceIsSkipped(t *testing.T) {
	states := newMemStateStore(&domain.QuoteSyncState{
		Symbol:     "M",
		DataSource: domain.DataSourceManual,
		IsActive:   true,
	})
	p := newTestPlanner(states, memRanges{}, memRanges{}, memHoldings{}, memAssets{})

	plan, err := p.BuildPlan(day("2025-03-01"))
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestPlanner_PlanOrderedByPriority(t *testing.T) {
	states := newMemStateStore(
		&domain.QuoteSyncState{
			Symbol: "NEW", IsActive: true, FirstActivityDate: dp("2025-01-10"),
		},
		&domain.QuoteSyncState{
			Symbol: "ACT", IsActive: true,
			FirstActivityDate: dp("2024-01-10"), EarliestQuoteDate: dp("2024-01-05"),
			LatestQuoteDate: dp("2025-02-20"),
		},
		&domain.QuoteSyncState{
			Symbol: "BACK", IsActive: true,
			FirstActivityDate: dp("2023-01-10"), EarliestQuoteDate: dp("2024-01-01"),
			LatestQuoteDate: dp("2025-02-20"),
		},
	)
	p := newTestPlanner(states, memRanges{}, memRanges{}, memHoldings{}, memAssets{})

	plan, err := p.BuildPlan(day("2025-03-01"))
	require.NoError(t, err)
	require.Len(t, plan, 3)

	assert.Equal(t, "ACT", plan[0].Symbol)
	assert.Equal(t, "BACK", plan[1].Symbol)
	assert.Equal(t, "NEW", plan[2].Symbol)
}

func TestPlanner_RefreshCreatesStatesAndMarksForexActive(t *testing.T) {
	states := newMemStateStore()
	activities := memRanges{
		"AAPL":   {First: day("2024-01-10"), Last: day("2024-06-01")},
		"EURUSD": {First: day("2024-02-01"), Last: day("2024-02-01")},
	}
	quotes := memRanges{
		"AAPL": {First: day("2024-01-05"), Last: day("2025-02-28")},
	}
	holdings := memHoldings{"AAPL": true}
	assets := memAssets{
		"EURUSD": {ID: "EURUSD", Kind: domain.AssetKindForex},
	}
	p := newTestPlanner(states, activities, quotes, holdings, assets)

	require.NoError(t, p.RefreshSyncState(day("2025-03-01")))

	aapl, err := states.Get("AAPL")
	require.NoError(t, err)
	require.NotNil(t, aapl)
	assert.True(t, aapl.IsActive)
	assert.Equal(t, day("2024-01-10"), *aapl.FirstActivityDate)
	assert.Equal(t, day("2025-02-28"), *aapl.LatestQuoteDate)

	fx, err := states.Get("EURUSD")
	require.NoError(t, err)
	require.NotNil(t, fx)
	assert.True(t, fx.IsActive, "forex assets are active regardless of holdings")
}

func TestPlanner_RefreshSkipsManualAssets(t *testing.T) {
	states := newMemStateStore()
	activities := memRanges{"PRIV": {First: day("2024-01-10"), Last: day("2024-06-01")}}
	assets := memAssets{"PRIV": {ID: "PRIV", DataSource: domain.DataSourceManual}}
	p := newTestPlanner(states, activities, memRanges{}, memHoldings{}, assets)

	require.NoError(t, p.RefreshSyncState(day("2025-03-01")))

	st, err := states.Get("PRIV")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestPlanner_OnNewActivityPromotesBackfill(t *testing.T) {
	states := newMemStateStore(&domain.QuoteSyncState{
		Symbol:            "AAPL",
		IsActive:          true,
		FirstActivityDate: dp("2024-01-10"),
		EarliestQuoteDate: dp("2024-01-05"),
		LatestQuoteDate:   dp("2025-02-28"),
		SyncPriority:      domain.CategoryActive.SyncPriority(),
	})
	p := newTestPlanner(states, memRanges{}, memRanges{}, memHoldings{}, memAssets{})

	require.NoError(t, p.OnNewActivity("AAPL", day("2023-06-01")))

	st, _ := states.Get("AAPL")
	assert.Equal(t, day("2023-06-01"), *st.FirstActivityDate)
	assert.Equal(t, domain.CategoryNeedsBackfill.SyncPriority(), st.SyncPriority)
	assert.True(t, st.IsActive)
}

func TestPlanner_OnActivityDeletedRemovesEmptyState(t *testing.T) {
	states := newMemStateStore(&domain.QuoteSyncState{Symbol: "GONE", IsActive: true})
	p := newTestPlanner(states, memRanges{}, memRanges{}, memHoldings{}, memAssets{})

	require.NoError(t, p.OnActivityDeleted("GONE"))

	st, _ := states.Get("GONE")
	assert.Nil(t, st)
}

func TestPlanner_OnActivityDeletedRecomputesRange(t *testing.T) {
	states := newMemStateStore(&domain.QuoteSyncState{
		Symbol:            "AAPL",
		IsActive:          true,
		FirstActivityDate: dp("2023-01-01"),
		LastActivityDate:  dp("2024-06-01"),
	})
	activities := memRanges{"AAPL": {First: day("2024-01-10"), Last: day("2024-06-01")}}
	p := newTestPlanner(states, activities, memRanges{}, memHoldings{}, memAssets{})

	require.NoError(t, p.OnActivityDeleted("AAPL"))

	st, _ := states.Get("AAPL")
	require.NotNil(t, st)
	assert.Equal(t, day("2024-01-10"), *st.FirstActivityDate)
}
