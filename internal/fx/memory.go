package fx

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerd/internal/domain"
)

// MemoryRateSource is a simple date-keyed rate table, useful for tests and for
// seeding the gateway from a batch FX feed. Not safe for concurrent writes
// without external synchronization; reads are safe.
type MemoryRateSource struct {
	rates map[string]decimal.Decimal // key: from|to|yyyy-mm-dd
}

// NewMemoryRateSource builds an empty in-memory rate table.
func NewMemoryRateSource() *MemoryRateSource {
	return &MemoryRateSource{rates: make(map[string]decimal.Decimal)}
}

// Set records the rate for (from, to) on the given date.
func (m *MemoryRateSource) Set(from, to domain.Currency, date time.Time, rate decimal.Decimal) {
	m.rates[key(from, to, date)] = rate
}

// Rate implements RateSource.
func (m *MemoryRateSource) Rate(from, to domain.Currency, date time.Time) (decimal.Decimal, bool) {
	rate, ok := m.rates[key(from, to, date)]
	return rate, ok
}

func key(from, to domain.Currency, date time.Time) string {
	return string(from) + "|" + string(to) + "|" + date.Format("2006-01-02")
}
