package snapshot

import (
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerd/internal/domain"
)

// HoldingsView answers "which symbols have an open position right now" for
// the quote sync planner, reading each active account's latest keyframe.
type HoldingsView struct {
	store    SnapshotStore
	accounts AccountSource
}

// NewHoldingsView builds a HoldingsView.
func NewHoldingsView(store SnapshotStore, accounts AccountSource) *HoldingsView {
	return &HoldingsView{store: store, accounts: accounts}
}

// OpenSymbols returns the set of asset ids with a non-zero position in any
// active account's most recent keyframe. Cash positions are excluded.
func (v *HoldingsView) OpenSymbols() (map[string]bool, error) {
	accounts, err := v.accounts.ActiveAccounts()
	if err != nil {
		return nil, err
	}

	open := make(map[string]bool)
	for _, account := range accounts {
		snap, err := v.store.LatestBefore(account.ID, farFuture)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			continue
		}
		for assetID, pos := range snap.Positions {
			if domain.ParseAssetKind(assetID) == domain.AssetKindCash {
				continue
			}
			if pos.Quantity.GreaterThan(decimal.Zero) {
				open[assetID] = true
			}
		}
	}
	return open, nil
}
