package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerd/internal/domain"
)

// MemoryProvider serves quotes from a fixed table, useful for tests and for
// seeding an instance from an offline price dump. Symbols without data report
// a ProviderError per the coordinator's failure contract.
type MemoryProvider struct {
	name   string
	quotes map[string][]*domain.Quote // provider symbol -> quotes, ascending
}

// NewMemoryProvider builds an empty provider with the given registry name.
func NewMemoryProvider(name string) *MemoryProvider {
	return &MemoryProvider{name: name, quotes: make(map[string][]*domain.Quote)}
}

// Name implements Provider.
func (m *MemoryProvider) Name() string { return m.name }

// Add records one quote point for a provider symbol.
func (m *MemoryProvider) Add(symbol string, date time.Time, close decimal.Decimal, currency domain.Currency) {
	m.quotes[symbol] = append(m.quotes[symbol], &domain.Quote{
		Symbol:     symbol,
		Timestamp:  date,
		Close:      close,
		Currency:   currency,
		DataSource: m.name,
	})
}

// FetchHistory implements Provider.
func (m *MemoryProvider) FetchHistory(_ context.Context, req Request) ([]*domain.Quote, []*domain.ProviderError) {
	var out []*domain.Quote
	var failures []*domain.ProviderError

	for _, symbol := range req.Symbols {
		points, ok := m.quotes[symbol]
		if !ok {
			failures = append(failures, &domain.ProviderError{
				Symbol: symbol,
				Err:    errNoData,
			})
			continue
		}
		for _, q := range points {
			if q.Timestamp.Before(req.Start) || q.Timestamp.After(req.End) {
				continue
			}
			clone := *q
			out = append(out, &clone)
		}
	}

	return out, failures
}

type noDataError struct{}

func (noDataError) Error() string { return "no quote data for symbol" }

var errNoData = noDataError{}
