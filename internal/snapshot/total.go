package snapshot

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/aristath/ledgerd/internal/money"
)

// aggregateTotal builds, for every date that appears as a keyframe in any
// active account, a TOTAL snapshot by carry-forward-merging each account's
// most recent keyframe at or before that date.
func (s *Service) aggregateTotal(accounts []domain.Account) error {
	if len(accounts) == 0 {
		return nil
	}

	dateSet := map[string]time.Time{}
	for _, account := range accounts {
		snaps, err := s.store.Get(account.ID, time.Time{}, time.Time{})
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			dateSet[snap.SnapshotDate.Format("2006-01-02")] = snap.SnapshotDate
		}
	}
	if len(dateSet) == 0 {
		return nil
	}

	dates := make([]time.Time, 0, len(dateSet))
	for _, d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	totals := make([]*domain.AccountStateSnapshot, 0, len(dates))
	for _, d := range dates {
		total, err := s.mergeAccountsAsOf(accounts, d)
		if err != nil {
			return err
		}
		totals = append(totals, total)
	}

	// Overwrite rather than upsert so TOTAL rows for dates that no longer
	// have any account keyframe do not linger from earlier aggregations.
	return s.store.OverwriteAllForAccount(domain.TotalAccountID, totals)
}

func (s *Service) mergeAccountsAsOf(accounts []domain.Account, date time.Time) (*domain.AccountStateSnapshot, error) {
	total := &domain.AccountStateSnapshot{
		AccountID:    domain.TotalAccountID,
		SnapshotDate: date,
		Currency:     s.base,
		CashBalances: map[domain.Currency]decimal.Decimal{},
		Positions:    map[string]*domain.Position{},
		Source:       domain.SourceCalculated,
		CalculatedAt: date,
	}

	for _, account := range accounts {
		snap, err := s.store.LatestBefore(account.ID, date)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			continue
		}

		rate, _ := s.fx.RateOrFallback(account.Currency, s.base, date)

		for cur, bal := range snap.CashBalances {
			total.CashBalances[cur] = total.CashBalances[cur].Add(bal)
		}
		for assetID, pos := range snap.Positions {
			mergePosition(total, assetID, pos)
		}

		total.CostBasis = total.CostBasis.Add(money.Convert(snap.CostBasis, rate))
		total.NetContribution = total.NetContribution.Add(money.Convert(snap.NetContribution, rate))
		total.CashTotalAccountCurrency = total.CashTotalAccountCurrency.Add(money.Convert(snap.CashTotalAccountCurrency, rate))
	}

	total.NetContributionBase = total.NetContribution
	total.CashTotalBaseCurrency = total.CashTotalAccountCurrency

	for _, pos := range total.Positions {
		sort.SliceStable(pos.Lots, func(i, j int) bool {
			return pos.Lots[i].AcquiredAt.Before(pos.Lots[j].AcquiredAt)
		})
	}

	return total, nil
}

// mergePosition folds one account's position for assetID into the running
// TOTAL snapshot: quantities and cost bases sum, lots concatenate and
// re-point to the TOTAL position, inception is the minimum.
func mergePosition(total *domain.AccountStateSnapshot, assetID string, pos *domain.Position) {
	merged, ok := total.Positions[assetID]
	if !ok {
		merged = &domain.Position{
			AssetID:       assetID,
			AccountID:     domain.TotalAccountID,
			Currency:      pos.Currency,
			InceptionDate: pos.InceptionDate,
		}
		total.Positions[assetID] = merged
	} else if pos.InceptionDate.Before(merged.InceptionDate) {
		merged.InceptionDate = pos.InceptionDate
	}

	merged.Quantity = merged.Quantity.Add(pos.Quantity)
	merged.TotalCostBasis = merged.TotalCostBasis.Add(pos.TotalCostBasis)

	for _, lot := range pos.Lots {
		clone := *lot
		clone.PositionID = assetID + "_" + domain.TotalAccountID
		merged.Lots = append(merged.Lots, &clone)
	}
}
