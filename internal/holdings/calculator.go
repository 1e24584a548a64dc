// Package holdings implements the cost-basis calculator: the pure,
// synchronous function that advances one account's snapshot by one day's
// worth of activities, with FIFO lot accounting and multi-currency cash
// balances.
package holdings

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/aristath/ledgerd/internal/money"
)

// RateGateway is the subset of fx.Gateway the calculator depends on.
type RateGateway interface {
	Rate(from, to domain.Currency, date time.Time) (decimal.Decimal, error)
	RateOrFallback(from, to domain.Currency, date time.Time) (decimal.Decimal, bool)
}

// AssetLookup resolves an asset's listing currency and kind, needed to set a
// new position's currency on first creation.
type AssetLookup interface {
	Get(assetID string) (*domain.Asset, bool)
}

// Diagnostic is a non-fatal warning recorded while processing a day, e.g. an
// FX rate that fell back to 1.0.
type Diagnostic struct {
	ActivityID string
	Message    string
}

// Calculator implements C3.
type Calculator struct {
	fx     RateGateway
	assets AssetLookup
	log    zerolog.Logger
}

// NewCalculator builds a Calculator.
func NewCalculator(fx RateGateway, assets AssetLookup, log zerolog.Logger) *Calculator {
	return &Calculator{fx: fx, assets: assets, log: log.With().Str("component", "holdings_calculator").Logger()}
}

// CalculateNextHoldings advances prev (the latest keyframe at or before
// day-1, or a blank snapshot at inception) by activitiesOnDay, producing the
// end-of-day snapshot. It is a pure function: all collaborators (fx, assets)
// are read-only for the duration of the call.
func (c *Calculator) CalculateNextHoldings(
	prev *domain.AccountStateSnapshot,
	account domain.Account,
	activitiesOnDay []*domain.Activity,
	day time.Time,
	baseCurrency domain.Currency,
) (*domain.AccountStateSnapshot, []Diagnostic, error) {
	next := cloneSnapshot(prev, account, day)

	if prev != nil && prev.Currency != "" && prev.Currency != account.Currency {
		return nil, nil, &domain.StructuralError{
			AccountID: account.ID,
			Reason:    "activity references account currency " + string(account.Currency) + " but snapshot currency is " + string(prev.Currency),
		}
	}

	sorted := make([]*domain.Activity, len(activitiesOnDay))
	copy(sorted, activitiesOnDay)
	sort.SliceStable(sorted, func(i, j int) bool {
		oi, oj := sorted[i].ActivityType.Ordinal(), sorted[j].ActivityType.Ordinal()
		if oi != oj {
			return oi < oj
		}
		return sorted[i].InsertionOrder < sorted[j].InsertionOrder
	})

	var diagnostics []Diagnostic
	positionOverrideRate := map[string]decimal.Decimal{} // positionID -> P->A override for this day's derived fields

	for _, act := range sorted {
		diags, err := c.applyActivity(next, account, act, day, positionOverrideRate)
		diagnostics = append(diagnostics, diags...)
		if err != nil {
			return nil, diagnostics, err
		}
	}

	c.computeDerivedFields(next, account, day, baseCurrency, positionOverrideRate, &diagnostics)

	return next, diagnostics, nil
}

func cloneSnapshot(prev *domain.AccountStateSnapshot, account domain.Account, day time.Time) *domain.AccountStateSnapshot {
	next := &domain.AccountStateSnapshot{
		AccountID:       account.ID,
		SnapshotDate:    day,
		Currency:        account.Currency,
		CashBalances:    map[domain.Currency]decimal.Decimal{},
		Positions:       map[string]*domain.Position{},
		CostBasis:       decimal.Zero,
		NetContribution: decimal.Zero,
		Source:          domain.SourceCalculated,
	}
	if prev == nil {
		return next
	}
	next.NetContribution = prev.NetContribution
	for cur, bal := range prev.CashBalances {
		next.CashBalances[cur] = bal
	}
	for id, pos := range prev.Positions {
		clone := &domain.Position{
			AssetID:        pos.AssetID,
			AccountID:      pos.AccountID,
			Currency:       pos.Currency,
			Quantity:       pos.Quantity,
			TotalCostBasis: pos.TotalCostBasis,
			InceptionDate:  pos.InceptionDate,
			Lots:           make([]*domain.Lot, len(pos.Lots)),
		}
		for i, lot := range pos.Lots {
			l := *lot
			clone.Lots[i] = &l
		}
		next.Positions[id] = clone
	}
	return next
}

func (c *Calculator) applyActivity(next *domain.AccountStateSnapshot, account domain.Account, act *domain.Activity, day time.Time, overrideRates map[string]decimal.Decimal) ([]Diagnostic, error) {
	var diags []Diagnostic
	record := func(msg string) {
		diags = append(diags, Diagnostic{ActivityID: act.ID, Message: msg})
	}

	switch act.ActivityType {
	case domain.ActivityBuy:
		return diags, c.applyBuy(next, account, act, day, overrideRates, record)

	case domain.ActivitySell:
		return diags, c.applySell(next, act, day, record)

	case domain.ActivityDeposit:
		next.CashBalances[act.Currency] = next.CashBalances[act.Currency].Add(act.Amount).Sub(act.Fee)
		rate := c.activityToAccountRate(act, account.Currency, day, record)
		next.NetContribution = next.NetContribution.Add(act.Amount.Mul(rate))
		return diags, nil

	case domain.ActivityWithdrawal:
		next.CashBalances[act.Currency] = next.CashBalances[act.Currency].Sub(act.Amount).Sub(act.Fee)
		rate := c.activityToAccountRate(act, account.Currency, day, record)
		next.NetContribution = next.NetContribution.Sub(act.Amount.Mul(rate))
		return diags, nil

	case domain.ActivityDividend, domain.ActivityInterest:
		next.CashBalances[act.Currency] = next.CashBalances[act.Currency].Add(act.Amount).Sub(act.Fee)
		return diags, nil

	case domain.ActivityFee:
		next.CashBalances[act.Currency] = next.CashBalances[act.Currency].Sub(act.Fee)
		return diags, nil

	case domain.ActivityTax:
		next.CashBalances[act.Currency] = next.CashBalances[act.Currency].Sub(act.Amount)
		return diags, nil

	case domain.ActivityTransferIn:
		return diags, c.applyTransferIn(next, account, act, day, overrideRates, record)

	case domain.ActivityTransferOut:
		return diags, c.applyTransferOut(next, account, act, day, record)

	case domain.ActivitySplit:
		return diags, c.applySplit(next, act, record)
	}

	return diags, nil
}

// rateOrFallback prefers an explicit activity override (already applied by
// the caller where relevant) and otherwise defers to the gateway, recording a
// diagnostic when it falls back to 1.0.
func (c *Calculator) rateOrFallback(from, to domain.Currency, day time.Time, record func(string)) (decimal.Decimal, bool) {
	if from == to {
		return decimal.NewFromInt(1), false
	}
	rate, usedFallback := c.fx.RateOrFallback(from, to, day)
	if usedFallback {
		record("fx rate " + string(from) + "->" + string(to) + " not found, used 1.0 fallback")
	}
	return rate, usedFallback
}

func (c *Calculator) assetListingCurrency(assetID string, activityCurrency domain.Currency) domain.Currency {
	if c.assets != nil {
		if asset, ok := c.assets.Get(assetID); ok {
			return asset.ListingCurrency
		}
	}
	if lc := domain.AssetListingCurrency(assetID); lc != "" {
		return lc
	}
	return activityCurrency
}

func (c *Calculator) getOrCreatePosition(next *domain.AccountStateSnapshot, act *domain.Activity, day time.Time) *domain.Position {
	pos, ok := next.Positions[act.AssetID]
	if ok {
		return pos
	}
	pos = &domain.Position{
		AssetID:       act.AssetID,
		AccountID:     next.AccountID,
		Currency:      c.assetListingCurrency(act.AssetID, act.Currency),
		InceptionDate: day,
	}
	next.Positions[act.AssetID] = pos
	return pos
}

// activityToAccountRate resolves the C->A conversion rate for a cash leg
// feeding net_contribution. An explicit, non-zero fx_rate on the activity wins
// over the gateway: imported transactions carry the rate the broker actually
// applied, and replay must honor it even when the gateway knows a different
// market rate for that day.
func (c *Calculator) activityToAccountRate(act *domain.Activity, accountCurrency domain.Currency, day time.Time, record func(string)) decimal.Decimal {
	if act.Currency == accountCurrency {
		return decimal.NewFromInt(1)
	}
	if act.FXRate != nil && !act.FXRate.IsZero() {
		return *act.FXRate
	}
	rate, _ := c.rateOrFallback(act.Currency, accountCurrency, day, record)
	return rate
}

// activityToPositionRate resolves the C->P conversion rate for a BUY/transfer
// leg. When the activity currency already equals the position currency there
// is nothing to convert — the rate is always 1, even if the activity carries
// an fx_rate override (that override has no C->P conversion to apply to, so
// the caller instead stashes it for the position's P->A derived-field
// conversion; see recordPositionOverride). Otherwise an explicit, non-zero
// override wins outright; failing that, the gateway is consulted.
func (c *Calculator) activityToPositionRate(act *domain.Activity, positionCurrency domain.Currency, day time.Time, record func(string)) decimal.Decimal {
	if act.Currency == positionCurrency {
		return decimal.NewFromInt(1)
	}
	if act.FXRate != nil && !act.FXRate.IsZero() && act.FXRateDirection == domain.FXRateActivityToPosition {
		return *act.FXRate
	}
	rate, _ := c.rateOrFallback(act.Currency, positionCurrency, day, record)
	return rate
}

// recordPositionOverride stashes an activity's fx_rate override for reuse in
// computeDerivedFields's P->A cost_basis conversion, when the override had no
// C->P leg to apply to (activity currency == position currency).
func recordPositionOverride(overrideRates map[string]decimal.Decimal, act *domain.Activity, pos *domain.Position) {
	if act.Currency == pos.Currency && act.FXRate != nil && !act.FXRate.IsZero() && act.FXRateDirection == domain.FXRateActivityToPosition {
		overrideRates[pos.ID()] = *act.FXRate
	}
}

func (c *Calculator) applyBuy(next *domain.AccountStateSnapshot, account domain.Account, act *domain.Activity, day time.Time, overrideRates map[string]decimal.Decimal, record func(string)) error {
	pos := c.getOrCreatePosition(next, act, day)

	rate := c.activityToPositionRate(act, pos.Currency, day, record)
	recordPositionOverride(overrideRates, act, pos)

	unitPriceP := act.UnitPrice.Mul(rate)
	feeP := act.Fee.Mul(rate)

	lot := &domain.Lot{
		ID:               act.ID,
		PositionID:       pos.ID(),
		AcquiredAt:       day,
		Quantity:         act.Quantity,
		CostBasis:        act.Quantity.Mul(unitPriceP).Add(feeP),
		AcquisitionPrice: unitPriceP,
		AcquisitionFees:  feeP,
	}
	pos.Lots = append(pos.Lots, lot)
	pos.Quantity = pos.Quantity.Add(act.Quantity)
	pos.TotalCostBasis = pos.TotalCostBasis.Add(lot.CostBasis)

	charge := act.Quantity.Mul(act.UnitPrice).Add(act.Fee)
	next.CashBalances[act.Currency] = next.CashBalances[act.Currency].Sub(charge)

	return nil
}

func (c *Calculator) applySell(next *domain.AccountStateSnapshot, act *domain.Activity, day time.Time, record func(string)) error {
	pos, ok := next.Positions[act.AssetID]
	if !ok {
		return &domain.StructuralError{AccountID: next.AccountID, Reason: "sell of " + act.AssetID + " with no open position"}
	}

	consumedBasis, err := consumeLotsFIFO(pos, act.Quantity)
	if err != nil {
		return err
	}
	pos.TotalCostBasis = pos.TotalCostBasis.Sub(consumedBasis)

	proceeds := act.Quantity.Mul(act.UnitPrice).Sub(act.Fee)
	next.CashBalances[act.Currency] = next.CashBalances[act.Currency].Add(proceeds)

	return nil
}

// consumeLotsFIFO removes qty from pos's oldest lots first, proportionally
// reducing the final partially-consumed lot's cost basis, and returns the
// total cost basis removed.
func consumeLotsFIFO(pos *domain.Position, qty decimal.Decimal) (decimal.Decimal, error) {
	remaining := qty
	consumedBasis := decimal.Zero
	var kept []*domain.Lot

	for _, lot := range pos.Lots {
		if remaining.LessThanOrEqual(decimal.Zero) {
			kept = append(kept, lot)
			continue
		}
		if lot.Quantity.LessThanOrEqual(remaining) {
			consumedBasis = consumedBasis.Add(lot.CostBasis)
			remaining = remaining.Sub(lot.Quantity)
			continue // lot fully consumed, dropped
		}
		fraction := remaining.Div(lot.Quantity)
		partialBasis := lot.CostBasis.Mul(fraction)
		consumedBasis = consumedBasis.Add(partialBasis)
		lot.CostBasis = lot.CostBasis.Sub(partialBasis)
		lot.Quantity = lot.Quantity.Sub(remaining)
		remaining = decimal.Zero
		kept = append(kept, lot)
	}

	if remaining.GreaterThan(decimal.Zero) {
		return decimal.Zero, &domain.StructuralError{
			AccountID: pos.AccountID,
			Reason:    "oversell of " + pos.AssetID + ": short by " + remaining.String(),
		}
	}

	pos.Lots = kept
	pos.Quantity = pos.Quantity.Sub(qty)
	return consumedBasis, nil
}

func (c *Calculator) applyTransferIn(next *domain.AccountStateSnapshot, account domain.Account, act *domain.Activity, day time.Time, overrideRates map[string]decimal.Decimal, record func(string)) error {
	external := act.IsExternalFlow

	if domain.ParseAssetKind(act.AssetID) == domain.AssetKindCash {
		next.CashBalances[act.Currency] = next.CashBalances[act.Currency].Add(act.Amount).Sub(act.Fee)
		if external {
			rate := c.activityToAccountRate(act, account.Currency, day, record)
			next.NetContribution = next.NetContribution.Add(act.Amount.Mul(rate))
		}
		return nil
	}

	pos := c.getOrCreatePosition(next, act, day)
	rate := c.activityToPositionRate(act, pos.Currency, day, record)
	recordPositionOverride(overrideRates, act, pos)

	unitPriceP := act.UnitPrice.Mul(rate)
	feeP := act.Fee.Mul(rate)
	basis := act.Quantity.Mul(unitPriceP).Add(feeP)

	lot := &domain.Lot{
		ID:               act.ID,
		PositionID:       pos.ID(),
		AcquiredAt:       day,
		Quantity:         act.Quantity,
		CostBasis:        basis,
		AcquisitionPrice: unitPriceP,
		AcquisitionFees:  feeP,
	}
	pos.Lots = append(pos.Lots, lot)
	pos.Quantity = pos.Quantity.Add(act.Quantity)
	pos.TotalCostBasis = pos.TotalCostBasis.Add(basis)

	if external {
		next.NetContribution = next.NetContribution.Add(basis.Mul(c.positionToAccountRate(act, pos, account.Currency, day, record)))
	}

	return nil
}

// positionToAccountRate resolves the P->A rate for an external asset
// transfer's net_contribution move. When the activity currency equals the
// position currency, an explicit fx_rate had no C->P leg to serve, so it is
// read as the P->A rate instead; otherwise the gateway converts.
func (c *Calculator) positionToAccountRate(act *domain.Activity, pos *domain.Position, accountCurrency domain.Currency, day time.Time, record func(string)) decimal.Decimal {
	if pos.Currency == accountCurrency {
		return decimal.NewFromInt(1)
	}
	if act.Currency == pos.Currency && act.FXRate != nil && !act.FXRate.IsZero() {
		return *act.FXRate
	}
	rate, _ := c.rateOrFallback(pos.Currency, accountCurrency, day, record)
	return rate
}

func (c *Calculator) applyTransferOut(next *domain.AccountStateSnapshot, account domain.Account, act *domain.Activity, day time.Time, record func(string)) error {
	external := act.IsExternalFlow

	if domain.ParseAssetKind(act.AssetID) == domain.AssetKindCash {
		next.CashBalances[act.Currency] = next.CashBalances[act.Currency].Sub(act.Amount).Sub(act.Fee)
		if external {
			rate := c.activityToAccountRate(act, account.Currency, day, record)
			next.NetContribution = next.NetContribution.Sub(act.Amount.Mul(rate))
		}
		return nil
	}

	pos, ok := next.Positions[act.AssetID]
	if !ok {
		return &domain.StructuralError{AccountID: next.AccountID, Reason: "transfer-out of " + act.AssetID + " with no open position"}
	}
	consumedBasis, err := consumeLotsFIFO(pos, act.Quantity)
	if err != nil {
		return err
	}
	pos.TotalCostBasis = pos.TotalCostBasis.Sub(consumedBasis)

	if external {
		next.NetContribution = next.NetContribution.Sub(consumedBasis.Mul(c.positionToAccountRate(act, pos, account.Currency, day, record)))
	}

	return nil
}

func (c *Calculator) applySplit(next *domain.AccountStateSnapshot, act *domain.Activity, record func(string)) error {
	pos, ok := next.Positions[act.AssetID]
	if !ok {
		return &domain.StructuralError{AccountID: next.AccountID, Reason: "split of " + act.AssetID + " with no open position"}
	}
	ratio := act.Amount
	if ratio.IsZero() {
		return &domain.StructuralError{AccountID: next.AccountID, Reason: "split of " + act.AssetID + " with zero ratio"}
	}

	total := decimal.Zero
	for _, lot := range pos.Lots {
		lot.Quantity = lot.Quantity.Mul(ratio)
		lot.AcquisitionPrice = lot.AcquisitionPrice.Div(ratio)
		total = total.Add(lot.Quantity)
	}
	pos.Quantity = total
	return nil
}

// computeDerivedFields computes the cash/cost-basis totals in the account and
// base currencies, all FX conversions going through the gateway (with the 1.0
// fallback) unless a per-position override rate was captured while processing
// the day's activities.
func (c *Calculator) computeDerivedFields(next *domain.AccountStateSnapshot, account domain.Account, day time.Time, baseCurrency domain.Currency, overrideRates map[string]decimal.Decimal, diagnostics *[]Diagnostic) {
	record := func(msg string) { *diagnostics = append(*diagnostics, Diagnostic{Message: msg}) }

	cashTotalA := decimal.Zero
	cashTotalBase := decimal.Zero
	for cur, bal := range next.CashBalances {
		rateA, _ := c.rateOrFallback(cur, account.Currency, day, record)
		cashTotalA = cashTotalA.Add(money.Convert(bal, rateA))
		rateBase, _ := c.rateOrFallback(cur, baseCurrency, day, record)
		cashTotalBase = cashTotalBase.Add(money.Convert(bal, rateBase))
	}
	next.CashTotalAccountCurrency = cashTotalA
	next.CashTotalBaseCurrency = cashTotalBase

	costBasis := decimal.Zero
	for _, pos := range next.Positions {
		var rate decimal.Decimal
		if override, ok := overrideRates[pos.ID()]; ok {
			rate = override
		} else {
			rate, _ = c.rateOrFallback(pos.Currency, account.Currency, day, record)
		}
		costBasis = costBasis.Add(money.Convert(pos.TotalCostBasis, rate))
	}
	next.CostBasis = costBasis

	rateToBase, _ := c.rateOrFallback(account.Currency, baseCurrency, day, record)
	next.NetContributionBase = money.Convert(next.NetContribution, rateToBase)
}
