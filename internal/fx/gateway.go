// Package fx implements the currency rate gateway: rate lookups by
// (from, to, date) with a deterministic fallback contract, and a pair-registry
// hint for whatever rate-source subsystem backs it. Callers decide whether to
// substitute 1.0 for an unknown pair; the gateway itself never fabricates a
// rate.
package fx

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerd/internal/domain"
)

// RateSource resolves a historical rate for (from, to, date). Implementations
// back onto whatever market-data/FX provider is available; the gateway adds
// the same-currency short-circuit and pair-registration bookkeeping on top.
type RateSource interface {
	Rate(from, to domain.Currency, date time.Time) (decimal.Decimal, bool)
}

// Gateway resolves FX rates for the holdings calculator and the snapshot
// aggregation layer.
type Gateway struct {
	mu       sync.RWMutex
	source   RateSource
	pairs    map[pairKey]bool
	log      zerolog.Logger
}

type pairKey struct {
	from, to domain.Currency
}

// NewGateway builds a Gateway over the given rate source. A nil source is
// valid: every lookup other than same-currency then resolves to RateNotFound,
// which is the documented, observable, non-fatal outcome.
func NewGateway(source RateSource, log zerolog.Logger) *Gateway {
	return &Gateway{
		source: source,
		pairs:  make(map[pairKey]bool),
		log:    log.With().Str("component", "fx_gateway").Logger(),
	}
}

// Rate returns 1 if from == to; otherwise looks up a historical rate and
// returns domain.RateNotFound when none is known. It never silently
// fabricates a fallback rate.
func (g *Gateway) Rate(from, to domain.Currency, date time.Time) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	g.mu.RLock()
	source := g.source
	g.mu.RUnlock()

	if source != nil {
		if rate, ok := source.Rate(from, to, date); ok {
			return rate, nil
		}
	}

	return decimal.Zero, &domain.RateNotFound{
		From: string(from),
		To:   string(to),
		Date: date.Format("2006-01-02"),
	}
}

// RateOrFallback falls back to 1.0 on RateNotFound, reporting that the
// fallback was used so the caller can record a warning diagnostic. This is
// the only place in the engine allowed to substitute a rate of 1.0 for an
// unknown pair.
func (g *Gateway) RateOrFallback(from, to domain.Currency, date time.Time) (decimal.Decimal, bool) {
	rate, err := g.Rate(from, to, date)
	if err != nil {
		g.log.Warn().
			Str("from", string(from)).
			Str("to", string(to)).
			Time("date", date).
			Msg("fx rate not found, falling back to 1.0")
		return decimal.NewFromInt(1), true
	}
	return rate, false
}

// RegisterPair hints that a (from, to) pair should be tracked by whatever rate
// source subsystem backs this gateway. Idempotent; safe for concurrent use.
func (g *Gateway) RegisterPair(from, to domain.Currency) {
	if from == to {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pairs[pairKey{from, to}] = true
}

// RegisteredPairs returns the set of (from, to) pairs registered so far, for
// tests and for a rate-source subsystem that wants to know what to prefetch.
func (g *Gateway) RegisteredPairs() [][2]domain.Currency {
	g.mu.RLock()
	defer g.mu.RUnlock()
	pairs := make([][2]domain.Currency, 0, len(g.pairs))
	for k := range g.pairs {
		pairs = append(pairs, [2]domain.Currency{k.from, k.to})
	}
	return pairs
}
