package provider

import (
	"sort"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/ledgerd/internal/domain"
)

func q(symbol, date string, close int64) *domain.Quote {
	return &domain.Quote{
		ID:        domain.QuoteID(symbol, day(date)),
		Symbol:    symbol,
		Timestamp: day(date),
		Close:     decimal.NewFromInt(close),
		Currency:  "USD",
	}
}

func TestFillMissingQuotes_CarriesForwardOverGaps(t *testing.T) {
	quotes := []*domain.Quote{
		q("AAPL", "2025-02-03", 180),
		q("AAPL", "2025-02-06", 184),
	}

	filled := FillMissingQuotes(quotes, map[string]bool{"AAPL": true}, day("2025-02-03"), day("2025-02-07"))
	require.Len(t, filled, 5)

	sort.Slice(filled, func(i, j int) bool { return filled[i].Timestamp.Before(filled[j].Timestamp) })
	assert.True(t, filled[1].Close.Equal(decimal.NewFromInt(180)), "Feb 4 carries Feb 3")
	assert.True(t, filled[2].Close.Equal(decimal.NewFromInt(180)), "Feb 5 carries Feb 3")
	assert.True(t, filled[3].Close.Equal(decimal.NewFromInt(184)))
	assert.True(t, filled[4].Close.Equal(decimal.NewFromInt(184)), "Feb 7 carries Feb 6")
	assert.Equal(t, day("2025-02-04"), filled[1].Timestamp, "timestamp is rewritten to the emitted day")
}

func TestFillMissingQuotes_SeedsFromBeforeRange(t *testing.T) {
	quotes := []*domain.Quote{
		q("AAPL", "2025-01-30", 175),
	}

	filled := FillMissingQuotes(quotes, map[string]bool{"AAPL": true}, day("2025-02-03"), day("2025-02-04"))
	require.Len(t, filled, 2)
	assert.True(t, filled[0].Close.Equal(decimal.NewFromInt(175)))
}

func TestFillMissingQuotes_SkipsDaysBeforeFirstQuote(t *testing.T) {
	quotes := []*domain.Quote{
		q("AAPL", "2025-02-05", 182),
	}

	filled := FillMissingQuotes(quotes, map[string]bool{"AAPL": true}, day("2025-02-03"), day("2025-02-06"))
	require.Len(t, filled, 2, "no rows before the first known quote")
	assert.Equal(t, day("2025-02-05"), filled[0].Timestamp)
}

func TestFillMissingQuotes_IgnoresUnrequiredSymbols(t *testing.T) {
	quotes := []*domain.Quote{
		q("MSFT", "2025-02-03", 410),
	}

	filled := FillMissingQuotes(quotes, map[string]bool{"AAPL": true}, day("2025-02-03"), day("2025-02-04"))
	assert.Empty(t, filled)
}
