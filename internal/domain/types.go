// Package domain provides the shared types that flow between the ledger engine's
// components: currencies, activity kinds, asset identity, and the snapshot/sync
// tagged variants described by the engine's data model.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency is an ISO 4217 currency code, or a research/test sentinel.
type Currency string

// ActivityType is the canonical set of brokerage activity kinds the normalizer
// and holdings calculator understand.
type ActivityType string

const (
	ActivityBuy         ActivityType = "BUY"
	ActivitySell        ActivityType = "SELL"
	ActivityDeposit     ActivityType = "DEPOSIT"
	ActivityWithdrawal  ActivityType = "WITHDRAWAL"
	ActivityDividend    ActivityType = "DIVIDEND"
	ActivityInterest    ActivityType = "INTEREST"
	ActivityFee         ActivityType = "FEE"
	ActivityTax         ActivityType = "TAX"
	ActivityTransferIn  ActivityType = "TRANSFER_IN"
	ActivityTransferOut ActivityType = "TRANSFER_OUT"
	ActivitySplit       ActivityType = "SPLIT"
)

// CashOnlyActivityTypes returns true for activity types that always settle in cash,
// independent of the referenced asset.
func CashOnlyActivityTypes(t ActivityType) bool {
	switch t {
	case ActivityDeposit, ActivityWithdrawal, ActivityInterest, ActivityDividend,
		ActivityFee, ActivityTax:
		return true
	default:
		return false
	}
}

// activityOrdinal establishes the within-day processing order:
// splits first, then inflows, then trades (buy before sell), then outflows.
func activityOrdinal(t ActivityType) int {
	switch t {
	case ActivitySplit:
		return 0
	case ActivityDeposit, ActivityTransferIn, ActivityDividend, ActivityInterest:
		return 1
	case ActivityBuy:
		return 2
	case ActivitySell:
		return 3
	case ActivityWithdrawal, ActivityTransferOut, ActivityFee, ActivityTax:
		return 4
	default:
		return 5
	}
}

// Ordinal exposes activityOrdinal for callers that need to sort activities
// the same way the holdings calculator does.
func (t ActivityType) Ordinal() int { return activityOrdinal(t) }

// AssetKind classifies an Asset for canonical-id construction and sync behavior.
type AssetKind string

const (
	AssetKindSecurity AssetKind = "security"
	AssetKindCrypto   AssetKind = "crypto"
	AssetKindCash     AssetKind = "cash"
	AssetKindForex    AssetKind = "forex"
)

// SnapshotSource tags the provenance of a persisted keyframe.
type SnapshotSource string

const (
	SourceCalculated    SnapshotSource = "CALCULATED"
	SourceManualEntry   SnapshotSource = "MANUAL_ENTRY"
	SourceBrokerImport  SnapshotSource = "BROKER_IMPORTED"
	SourceCSVImport     SnapshotSource = "CSV_IMPORT"
	SourceSynthetic     SnapshotSource = "SYNTHETIC"
	TotalAccountID                    = "TOTAL"
	DataSourceManual    string        = "MANUAL"
)

// IsAnchor reports whether a snapshot with this source is immutable across rebuilds.
func (s SnapshotSource) IsAnchor() bool { return s != SourceCalculated }

// SyncCategory is the derived (never persisted) classification of a tracked symbol
// used by the quote sync planner.
type SyncCategory string

const (
	CategoryNew             SyncCategory = "New"
	CategoryActive          SyncCategory = "Active"
	CategoryNeedsBackfill   SyncCategory = "NeedsBackfill"
	CategoryRecentlyClosed  SyncCategory = "RecentlyClosed"
	CategoryClosed          SyncCategory = "Closed"
)

// syncPriority orders plan entries: Active > NeedsBackfill > New > RecentlyClosed.
func (c SyncCategory) syncPriority() int {
	switch c {
	case CategoryActive:
		return 4
	case CategoryNeedsBackfill:
		return 3
	case CategoryNew:
		return 2
	case CategoryRecentlyClosed:
		return 1
	default:
		return 0
	}
}

// SyncPriority exposes syncPriority for plan ordering in internal/quotesync.
func (c SyncCategory) SyncPriority() int { return c.syncPriority() }

// FXRateDirection states which conversion an activity's explicit fx_rate
// expresses: "activity currency -> position currency" (asset legs:
// BUY/SELL/transfers of securities) or "activity currency -> account currency"
// (cash legs feeding net_contribution / cash totals). The normalizer sets this
// per call-site so the calculator never has to guess.
type FXRateDirection string

const (
	FXRateActivityToPosition FXRateDirection = "ACTIVITY_TO_POSITION"
	FXRateActivityToAccount  FXRateDirection = "ACTIVITY_TO_ACCOUNT"
)

// Account is the identity referenced, never mutated, by the core.
type Account struct {
	ID       string
	Currency Currency
	Active   bool
}

// Asset is the canonical tradable/cash unit referenced by activities and positions.
type Asset struct {
	ID             string
	ListingCurrency Currency
	Kind           AssetKind
	DataSource     string
	QuoteSymbol    string // provider-specific symbol, if different from ID's symbol part
}

// Activity is a single normalized brokerage event.
type Activity struct {
	ID              string
	AccountID       string
	AssetID         string
	ActivityType    ActivityType
	ActivityDate    time.Time
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	Amount          decimal.Decimal
	Fee             decimal.Decimal
	Currency        Currency
	FXRate          *decimal.Decimal
	FXRateDirection FXRateDirection
	IsExternalFlow  bool
	InsertionOrder  int // tie-break for same-day, same-ordinal activities
}

// Lot is an open FIFO tax lot belonging to a Position.
type Lot struct {
	ID               string
	PositionID       string
	AcquiredAt       time.Time
	Quantity         decimal.Decimal
	CostBasis        decimal.Decimal // remaining cost basis, in position currency
	AcquisitionPrice decimal.Decimal // per-share, in position currency
	AcquisitionFees  decimal.Decimal // in position currency
	FXRateToPosition *decimal.Decimal
}

// Position is the open holding in one asset within one account.
type Position struct {
	AssetID        string
	AccountID      string
	Currency       Currency // position currency (P); fixed at creation
	Quantity       decimal.Decimal
	TotalCostBasis decimal.Decimal
	Lots           []*Lot
	InceptionDate  time.Time
}

// ID is the {asset_id}_{account_id} composite position identity.
func (p *Position) ID() string { return p.AssetID + "_" + p.AccountID }

// AverageCost derives avg_cost = total_cost_basis / quantity (zero when flat).
func (p *Position) AverageCost() decimal.Decimal {
	if p.Quantity.IsZero() {
		return decimal.Zero
	}
	return p.TotalCostBasis.Div(p.Quantity)
}

// AccountStateSnapshot is a persisted per-account (or TOTAL) keyframe.
type AccountStateSnapshot struct {
	AccountID                string
	SnapshotDate             time.Time
	Currency                 Currency
	CashBalances             map[Currency]decimal.Decimal
	Positions                map[string]*Position
	CostBasis                decimal.Decimal // in account currency
	NetContribution          decimal.Decimal // in account currency
	NetContributionBase      decimal.Decimal
	CashTotalAccountCurrency decimal.Decimal
	CashTotalBaseCurrency    decimal.Decimal
	CalculatedAt             time.Time
	Source                   SnapshotSource
}

// Key is the {account_id}_{date} composite snapshot identity.
func (s *AccountStateSnapshot) Key() string {
	return s.AccountID + "_" + s.SnapshotDate.Format("2006-01-02")
}

// Quote is one historical market-data point for a tracked symbol.
type Quote struct {
	ID         string
	Symbol     string
	Timestamp  time.Time
	Close      decimal.Decimal
	Currency   Currency
	DataSource string
}

// QuoteID builds the canonical {yyyymmdd}_{symbol} quote identity used when
// remapping provider rows back to tracked symbols.
func QuoteID(symbol string, ts time.Time) string {
	return ts.UTC().Format("20060102") + "_" + symbol
}

// QuoteSyncState is the per-symbol synchronization state tracked by the quote sync planner.
type QuoteSyncState struct {
	Symbol             string
	DataSource         string
	IsActive           bool
	FirstActivityDate  *time.Time
	LastActivityDate   *time.Time
	EarliestQuoteDate  *time.Time
	LatestQuoteDate    *time.Time
	PositionClosedDate *time.Time
	SyncPriority       int
	LastError          string
}
