// Package asset holds the in-process asset registry: canonical-id keyed
// records created lazily on first reference, shared read-mostly by the
// normalizer, the holdings calculator, and the sync planner.
package asset

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgerd/internal/domain"
)

// Registry is a concurrency-safe map of canonical asset ids to Asset records.
// Assets are minimal at creation and enriched in place as more is learned
// about them (provider quote symbol, data source tag).
type Registry struct {
	mu     sync.RWMutex
	assets map[string]*domain.Asset
	log    zerolog.Logger
}

// NewRegistry builds an empty Registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		assets: make(map[string]*domain.Asset),
		log:    log.With().Str("component", "asset_registry").Logger(),
	}
}

// GetOrCreate implements the "created on first reference" lifecycle: an
// existing record is returned as-is, otherwise a minimal one is created.
func (r *Registry) GetOrCreate(assetID string, kind domain.AssetKind, listingCurrency domain.Currency, dataSource string) (*domain.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if asset, ok := r.assets[assetID]; ok {
		return asset, nil
	}

	asset := &domain.Asset{
		ID:              assetID,
		ListingCurrency: listingCurrency,
		Kind:            kind,
		DataSource:      dataSource,
	}
	r.assets[assetID] = asset
	r.log.Debug().Str("asset_id", assetID).Msg("asset created on first reference")
	return asset, nil
}

// Get returns the asset for a canonical id, implementing the holdings
// calculator's AssetLookup.
func (r *Registry) Get(assetID string) (*domain.Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	asset, ok := r.assets[assetID]
	return asset, ok
}

// AssetForSymbol resolves a tracked symbol (a canonical asset id in this
// engine) for the sync planner and the market-data coordinator.
func (r *Registry) AssetForSymbol(symbol string) (*domain.Asset, bool) {
	return r.Get(symbol)
}

// SetQuoteSymbol records a provider-specific quote symbol for an asset.
func (r *Registry) SetQuoteSymbol(assetID, quoteSymbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if asset, ok := r.assets[assetID]; ok {
		asset.QuoteSymbol = quoteSymbol
	}
}
