package provider

import (
	"time"

	"github.com/aristath/ledgerd/internal/domain"
)

// FillMissingQuotes densifies a sparse quote series: for every calendar day in
// [start, end] and every required symbol, emit the most recent quote at or
// before that day with the timestamp rewritten to the emitted day. Quotes
// before start seed the carry-forward so a symbol whose last trade predates
// the range still gets values. Days before a symbol's first known quote are
// skipped. The result is not persisted.
func FillMissingQuotes(quotes []*domain.Quote, requiredSymbols map[string]bool, start, end time.Time) []*domain.Quote {
	if len(requiredSymbols) == 0 {
		return nil
	}

	byDay := make(map[string]map[string]*domain.Quote)
	lastKnown := make(map[string]*domain.Quote)
	for _, q := range quotes {
		if !requiredSymbols[q.Symbol] {
			continue
		}
		day := q.Timestamp.Format("2006-01-02")
		if q.Timestamp.Before(start) {
			// Seed the carry-forward with the newest pre-range quote.
			if prev, ok := lastKnown[q.Symbol]; !ok || q.Timestamp.After(prev.Timestamp) {
				lastKnown[q.Symbol] = q
			}
			continue
		}
		if byDay[day] == nil {
			byDay[day] = make(map[string]*domain.Quote)
		}
		if prev, ok := byDay[day][q.Symbol]; !ok || q.Timestamp.After(prev.Timestamp) {
			byDay[day][q.Symbol] = q
		}
	}

	var filled []*domain.Quote
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if daily, ok := byDay[d.Format("2006-01-02")]; ok {
			for symbol, q := range daily {
				lastKnown[symbol] = q
			}
		}
		for symbol := range requiredSymbols {
			last, ok := lastKnown[symbol]
			if !ok {
				continue
			}
			clone := *last
			clone.Timestamp = d
			clone.ID = domain.QuoteID(symbol, d)
			filled = append(filled, &clone)
		}
	}

	return filled
}
