package snapshot

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/ledgerd/internal/domain"
)

func keyframe(accountID, date string, netContribution float64) *domain.AccountStateSnapshot {
	return &domain.AccountStateSnapshot{
		AccountID:       accountID,
		SnapshotDate:    day(date),
		Currency:        "USD",
		CashBalances:    map[domain.Currency]decimal.Decimal{},
		Positions:       map[string]*domain.Position{},
		NetContribution: d(netContribution),
		Source:          domain.SourceCalculated,
	}
}

func TestProjector_GapFillsBetweenKeyframes(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Save([]*domain.AccountStateSnapshot{
		keyframe("acc1", "2024-01-02", 100),
		keyframe("acc1", "2024-01-05", 200),
	}))

	p := NewProjector(store)
	series, err := p.GetDailyHoldingsSnapshots("acc1", day("2024-01-01"), day("2024-01-07"))
	require.NoError(t, err)

	// 2024-01-01 has no anchor and no keyframe yet: skipped.
	require.Len(t, series, 6)

	assert.Equal(t, day("2024-01-02"), series[0].SnapshotDate)
	assert.True(t, series[0].NetContribution.Equal(d(100)))

	// Days 3 and 4 carry the Jan 2 keyframe forward with rewritten dates.
	assert.Equal(t, day("2024-01-03"), series[1].SnapshotDate)
	assert.True(t, series[1].NetContribution.Equal(d(100)))
	assert.Equal(t, day("2024-01-04"), series[2].SnapshotDate)

	// Jan 5 onward carries the new keyframe.
	assert.Equal(t, day("2024-01-05"), series[3].SnapshotDate)
	assert.True(t, series[3].NetContribution.Equal(d(200)))
	assert.Equal(t, day("2024-01-07"), series[5].SnapshotDate)
	assert.True(t, series[5].NetContribution.Equal(d(200)))

	for _, snap := range series {
		assert.Equal(t, domain.SourceSynthetic, snap.Source, "projected rows are marked derived")
	}
}

func TestProjector_UsesAnchorBeforeRange(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Save([]*domain.AccountStateSnapshot{
		keyframe("acc1", "2023-12-20", 50),
	}))

	p := NewProjector(store)
	series, err := p.GetDailyHoldingsSnapshots("acc1", day("2024-01-01"), day("2024-01-03"))
	require.NoError(t, err)

	require.Len(t, series, 3)
	for i, snap := range series {
		assert.Equal(t, day("2024-01-01").AddDate(0, 0, i), snap.SnapshotDate)
		assert.True(t, snap.NetContribution.Equal(d(50)))
	}
}

func TestProjector_EmptyAccountYieldsEmptySeries(t *testing.T) {
	p := NewProjector(newMemStore())
	series, err := p.GetDailyHoldingsSnapshots("nobody", day("2024-01-01"), day("2024-01-05"))
	require.NoError(t, err)
	assert.Empty(t, series)
}
