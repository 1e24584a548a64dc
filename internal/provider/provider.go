// Package provider implements the market-data coordinator: executing a sync
// plan against a registry of market-data providers, remapping
// provider-specific symbols back to tracked symbols, and feeding observed
// quote ranges back into the quote-sync state.
package provider

import (
	"context"
	"time"

	"github.com/aristath/ledgerd/internal/domain"
)

// Request is one provider fetch: tracked symbols sharing a date range,
// already translated to the provider's own symbols by the coordinator.
type Request struct {
	Symbols []string
	Start   time.Time
	End     time.Time
}

// Provider fetches historical quotes for a batch of symbols. A failed symbol
// within an otherwise successful batch is reported in the second return
// value, never as a hard error.
type Provider interface {
	Name() string
	FetchHistory(ctx context.Context, req Request) ([]*domain.Quote, []*domain.ProviderError)
}

// Registry resolves the provider serving a data-source tag.
type Registry interface {
	ProviderFor(dataSource string) (Provider, bool)
}

// StaticRegistry is a fixed data-source -> provider table with an optional
// default for untagged symbols.
type StaticRegistry struct {
	providers       map[string]Provider
	defaultProvider Provider
}

// NewStaticRegistry builds a registry; defaultProvider may be nil.
func NewStaticRegistry(providers map[string]Provider, defaultProvider Provider) *StaticRegistry {
	return &StaticRegistry{providers: providers, defaultProvider: defaultProvider}
}

// ProviderFor implements Registry.
func (r *StaticRegistry) ProviderFor(dataSource string) (Provider, bool) {
	if p, ok := r.providers[dataSource]; ok {
		return p, true
	}
	if r.defaultProvider != nil {
		return r.defaultProvider, true
	}
	return nil, false
}
