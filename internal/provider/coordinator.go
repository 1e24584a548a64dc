package provider

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/aristath/ledgerd/internal/quotesync"
)

// QuoteStore persists fetched quotes.
type QuoteStore interface {
	Save(quotes []*domain.Quote) error
}

// SyncStateSink receives the observed quote range after a successful save.
type SyncStateSink interface {
	UpdateQuoteRange(symbol string, earliest, latest time.Time) error
	RecordSyncError(symbol string, message string) error
}

// AssetLookup resolves the asset behind a tracked symbol, for the
// provider-specific quote_symbol remapping.
type AssetLookup interface {
	AssetForSymbol(symbol string) (*domain.Asset, bool)
}

// Coordinator executes sync plans. Outstanding provider requests are bounded
// by maxInFlight; when saturated, remaining plan entries wait their turn in
// the order the planner emitted them (priority order).
type Coordinator struct {
	registry    Registry
	quotes      QuoteStore
	states      SyncStateSink
	assets      AssetLookup
	maxInFlight int
	timeout     time.Duration
	log         zerolog.Logger
}

// NewCoordinator builds a Coordinator.
func NewCoordinator(registry Registry, quotes QuoteStore, states SyncStateSink, assets AssetLookup, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		registry:    registry,
		quotes:      quotes,
		states:      states,
		assets:      assets,
		maxInFlight: 4,
		timeout:     30 * time.Second,
		log:         log.With().Str("component", "market_data_coordinator").Logger(),
	}
}

// fetchGroup is a set of plan entries sharing (data_source, start, end), so a
// single bulk provider call covers all of them.
type fetchGroup struct {
	dataSource string
	start, end time.Time
	symbols    []string
}

// Execute runs the plan, returning the number of quotes written and the
// per-symbol failures. A provider failure never aborts the batch.
func (c *Coordinator) Execute(ctx context.Context, plan []quotesync.PlanEntry) (int, []*domain.ProviderError) {
	groups := groupByRange(plan)

	written := 0
	var failures []*domain.ProviderError

	sem := make(chan struct{}, c.maxInFlight)
	results := make(chan fetchResult, len(groups))

	for _, g := range groups {
		sem <- struct{}{}
		go func(g fetchGroup) {
			defer func() { <-sem }()
			results <- c.fetchGroup(ctx, g)
		}(g)
	}

	for range groups {
		res := <-results
		failures = append(failures, res.failures...)
		if len(res.quotes) == 0 {
			continue
		}
		n, errs := c.saveAndUpdateState(res.quotes)
		written += n
		failures = append(failures, errs...)
	}

	c.log.Info().
		Int("plan_entries", len(plan)).
		Int("quotes_written", written).
		Int("failures", len(failures)).
		Msg("sync plan executed")

	return written, failures
}

type fetchResult struct {
	quotes   []*domain.Quote
	failures []*domain.ProviderError
}

func (c *Coordinator) fetchGroup(ctx context.Context, g fetchGroup) fetchResult {
	provider, ok := c.registry.ProviderFor(g.dataSource)
	if !ok {
		var failures []*domain.ProviderError
		for _, symbol := range g.symbols {
			failures = append(failures, &domain.ProviderError{
				Symbol: symbol,
				Err:    fmt.Errorf("no provider registered for data source %q", g.dataSource),
			})
		}
		return fetchResult{failures: failures}
	}

	// Translate tracked symbols to the provider's quote symbols, keeping the
	// reverse mapping for the post-fetch remap.
	providerSymbols := make([]string, 0, len(g.symbols))
	reverse := make(map[string]string, len(g.symbols))
	for _, symbol := range g.symbols {
		ps := c.quoteSymbolFor(symbol)
		providerSymbols = append(providerSymbols, ps)
		reverse[ps] = symbol
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	quotes, failures := provider.FetchHistory(fetchCtx, Request{Symbols: providerSymbols, Start: g.start, End: g.end})

	// Remap provider rows back to tracked symbols and regenerate quote ids.
	for _, q := range quotes {
		if tracked, ok := reverse[q.Symbol]; ok {
			q.Symbol = tracked
		}
		q.ID = domain.QuoteID(q.Symbol, q.Timestamp)
	}
	for _, f := range failures {
		if tracked, ok := reverse[f.Symbol]; ok {
			f.Symbol = tracked
		}
	}

	return fetchResult{quotes: quotes, failures: failures}
}

func (c *Coordinator) quoteSymbolFor(symbol string) string {
	if c.assets == nil {
		return symbol
	}
	if asset, ok := c.assets.AssetForSymbol(symbol); ok && asset.QuoteSymbol != "" {
		return asset.QuoteSymbol
	}
	return symbol
}

// saveAndUpdateState sorts the batch for determinism, persists it, and feeds
// each symbol's observed (earliest, latest) back into the sync state.
func (c *Coordinator) saveAndUpdateState(quotes []*domain.Quote) (int, []*domain.ProviderError) {
	sort.SliceStable(quotes, func(i, j int) bool {
		if quotes[i].Symbol != quotes[j].Symbol {
			return quotes[i].Symbol < quotes[j].Symbol
		}
		if !quotes[i].Timestamp.Equal(quotes[j].Timestamp) {
			return quotes[i].Timestamp.Before(quotes[j].Timestamp)
		}
		return quotes[i].DataSource < quotes[j].DataSource
	})

	if err := c.quotes.Save(quotes); err != nil {
		var failures []*domain.ProviderError
		for symbol := range observedRanges(quotes) {
			failures = append(failures, &domain.ProviderError{Symbol: symbol, Err: err})
			if c.states != nil {
				_ = c.states.RecordSyncError(symbol, err.Error())
			}
		}
		return 0, failures
	}

	var failures []*domain.ProviderError
	if c.states != nil {
		for symbol, r := range observedRanges(quotes) {
			if err := c.states.UpdateQuoteRange(symbol, r.First, r.Last); err != nil {
				failures = append(failures, &domain.ProviderError{Symbol: symbol, Err: err})
			}
		}
	}

	return len(quotes), failures
}

func observedRanges(quotes []*domain.Quote) map[string]quotesync.DateRange {
	ranges := make(map[string]quotesync.DateRange)
	for _, q := range quotes {
		r, ok := ranges[q.Symbol]
		if !ok {
			ranges[q.Symbol] = quotesync.DateRange{First: q.Timestamp, Last: q.Timestamp}
			continue
		}
		if q.Timestamp.Before(r.First) {
			r.First = q.Timestamp
		}
		if q.Timestamp.After(r.Last) {
			r.Last = q.Timestamp
		}
		ranges[q.Symbol] = r
	}
	return ranges
}

// groupByRange buckets plan entries by identical (data_source, start, end) so
// bulk provider APIs serve every symbol in the bucket with one call. Buckets
// preserve the plan's priority order.
func groupByRange(plan []quotesync.PlanEntry) []fetchGroup {
	type key struct {
		dataSource string
		start, end string
	}
	index := map[key]int{}
	var groups []fetchGroup

	for _, entry := range plan {
		k := key{entry.DataSource, entry.Start.Format("2006-01-02"), entry.End.Format("2006-01-02")}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, fetchGroup{dataSource: entry.DataSource, start: entry.Start, end: entry.End})
		}
		groups[i].symbols = append(groups[i].symbols, entry.Symbol)
	}

	return groups
}
