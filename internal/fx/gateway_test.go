package fx

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/ledgerd/internal/domain"
)

func TestGateway_SameCurrencyIsAlwaysOne(t *testing.T) {
	g := NewGateway(nil, zerolog.Nop())

	rate, err := g.Rate("USD", "USD", time.Now())
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))
}

func TestGateway_RateNotFoundWhenSourceEmpty(t *testing.T) {
	g := NewGateway(NewMemoryRateSource(), zerolog.Nop())

	_, err := g.Rate("USD", "CAD", time.Now())
	require.Error(t, err)

	var notFound *domain.RateNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestGateway_RateOrFallback(t *testing.T) {
	g := NewGateway(NewMemoryRateSource(), zerolog.Nop())

	rate, usedFallback := g.RateOrFallback("USD", "CAD", time.Now())
	assert.True(t, usedFallback)
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))
}

func TestGateway_ResolvesKnownRate(t *testing.T) {
	src := NewMemoryRateSource()
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	src.Set("USD", "CAD", day, decimal.NewFromFloat(1.30))

	g := NewGateway(src, zerolog.Nop())

	rate, usedFallback := g.RateOrFallback("USD", "CAD", day)
	assert.False(t, usedFallback)
	assert.True(t, rate.Equal(decimal.NewFromFloat(1.30)))
}

func TestGateway_RegisterPairIsIdempotentAndIgnoresSameCurrency(t *testing.T) {
	g := NewGateway(nil, zerolog.Nop())

	g.RegisterPair("USD", "CAD")
	g.RegisterPair("USD", "CAD")
	g.RegisterPair("EUR", "EUR")

	pairs := g.RegisteredPairs()
	require.Len(t, pairs, 1)
	assert.Equal(t, domain.Currency("USD"), pairs[0][0])
	assert.Equal(t, domain.Currency("CAD"), pairs[0][1])
}
