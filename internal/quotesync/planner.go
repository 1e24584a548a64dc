// Package quotesync implements the quote sync planner: the per-symbol
// sync-state machine that classifies every tracked symbol into a
// synchronization category and derives the minimal date range to fetch.
// Category derivation is a pure function over the persisted state so it
// stays trivially testable.
package quotesync

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgerd/internal/domain"
)

// recentQuoteWindowDays bounds "has recent quotes" for the Active category: a
// closed-but-in-grace symbol keeps syncing like an active one only while its
// latest quote is at most this many days old.
const recentQuoteWindowDays = 7

// Config carries the sync tuning knobs read from the environment.
type Config struct {
	BufferDays         int // QUOTE_HISTORY_BUFFER_DAYS
	GraceDays          int // CLOSED_POSITION_GRACE_PERIOD_DAYS
	DefaultHistoryDays int // lookback when no activity date is known
}

// DateRange is an inclusive (first, last) pair of observed dates.
type DateRange struct {
	First time.Time
	Last  time.Time
}

// PlanEntry is one symbol's minimal fetch request.
type PlanEntry struct {
	Symbol     string
	DataSource string
	Category   domain.SyncCategory
	Start      time.Time
	End        time.Time
	Priority   int
}

// StateStore persists QuoteSyncState rows keyed by symbol.
type StateStore interface {
	All() ([]*domain.QuoteSyncState, error)
	Get(symbol string) (*domain.QuoteSyncState, error)
	Upsert(states []*domain.QuoteSyncState) error
	Delete(symbol string) error
}

// HoldingsView reports which symbols currently have an open position.
type HoldingsView interface {
	OpenSymbols() (map[string]bool, error)
}

// ActivityRanges reports the (first, last) activity date per symbol.
type ActivityRanges interface {
	ActivityDateRanges() (map[string]DateRange, error)
}

// QuoteRanges reports the (earliest, latest) stored quote date per symbol.
type QuoteRanges interface {
	QuoteDateRanges() (map[string]DateRange, error)
}

// AssetView resolves the asset record behind a symbol, for data-source tags
// and forex detection during a refresh.
type AssetView interface {
	AssetForSymbol(symbol string) (*domain.Asset, bool)
}

// Planner implements C6.
type Planner struct {
	states     StateStore
	holdings   HoldingsView
	activities ActivityRanges
	quotes     QuoteRanges
	assets     AssetView
	cfg        Config
	log        zerolog.Logger
}

// NewPlanner builds a Planner.
func NewPlanner(states StateStore, holdings HoldingsView, activities ActivityRanges, quotes QuoteRanges, assets AssetView, cfg Config, log zerolog.Logger) *Planner {
	return &Planner{
		states:     states,
		holdings:   holdings,
		activities: activities,
		quotes:     quotes,
		assets:     assets,
		cfg:        cfg,
		log:        log.With().Str("component", "quote_sync_planner").Logger(),
	}
}

// DetermineCategory derives the sync category for a state as of today. Never
// persisted: the category is recomputed from the state on every plan build.
func DetermineCategory(st *domain.QuoteSyncState, today time.Time, cfg Config) domain.SyncCategory {
	if st.LatestQuoteDate == nil {
		return domain.CategoryNew
	}

	if needsBackfill(st, cfg.BufferDays) {
		return domain.CategoryNeedsBackfill
	}

	closed := !st.IsActive && st.PositionClosedDate != nil
	if closed {
		if daysBetween(*st.PositionClosedDate, today) > cfg.GraceDays {
			return domain.CategoryClosed
		}
		if daysBetween(*st.LatestQuoteDate, today) <= recentQuoteWindowDays {
			return domain.CategoryActive
		}
		return domain.CategoryRecentlyClosed
	}

	return domain.CategoryActive
}

// needsBackfill reports whether the held quote history does not reach back to
// first_activity_date - buffer.
func needsBackfill(st *domain.QuoteSyncState, bufferDays int) bool {
	if st.EarliestQuoteDate == nil || st.FirstActivityDate == nil {
		return false
	}
	want := st.FirstActivityDate.AddDate(0, 0, -bufferDays)
	return st.EarliestQuoteDate.After(want)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// BuildPlan derives the minimal fetch plan for every tracked symbol as of
// today, ordered descending by sync priority.
func (p *Planner) BuildPlan(today time.Time) ([]PlanEntry, error) {
	states, err := p.states.All()
	if err != nil {
		return nil, err
	}

	var plan []PlanEntry
	for _, st := range states {
		if st.DataSource == domain.DataSourceManual {
			continue
		}
		category := DetermineCategory(st, today, p.cfg)
		if category == domain.CategoryClosed {
			continue
		}
		entry, ok := p.planEntry(st, category, today)
		if !ok {
			continue
		}
		plan = append(plan, entry)
	}

	sort.SliceStable(plan, func(i, j int) bool {
		if plan[i].Priority != plan[j].Priority {
			return plan[i].Priority > plan[j].Priority
		}
		return plan[i].Symbol < plan[j].Symbol
	})

	return plan, nil
}

// planEntry computes the (start, end) range per category; entries whose start
// falls after their end are dropped (nothing to fetch).
func (p *Planner) planEntry(st *domain.QuoteSyncState, category domain.SyncCategory, today time.Time) (PlanEntry, bool) {
	var start, end time.Time

	switch category {
	case domain.CategoryActive:
		if st.LatestQuoteDate != nil {
			start = st.LatestQuoteDate.AddDate(0, 0, 1)
		} else {
			start = p.historyStart(st, today)
		}
		end = today

	case domain.CategoryNew:
		start = p.historyStart(st, today)
		end = today

	case domain.CategoryNeedsBackfill:
		start = st.FirstActivityDate.AddDate(0, 0, -p.cfg.BufferDays)
		end = *st.EarliestQuoteDate

	case domain.CategoryRecentlyClosed:
		start = st.LatestQuoteDate.AddDate(0, 0, 1)
		end = today

	default:
		return PlanEntry{}, false
	}

	if start.After(end) {
		return PlanEntry{}, false
	}

	return PlanEntry{
		Symbol:     st.Symbol,
		DataSource: st.DataSource,
		Category:   category,
		Start:      start,
		End:        end,
		Priority:   category.SyncPriority(),
	}, true
}

// historyStart is first_activity_date - buffer, or the default lookback when
// no activity date is known yet.
func (p *Planner) historyStart(st *domain.QuoteSyncState, today time.Time) time.Time {
	if st.FirstActivityDate != nil {
		return st.FirstActivityDate.AddDate(0, 0, -p.cfg.BufferDays)
	}
	return today.AddDate(0, 0, -p.cfg.DefaultHistoryDays)
}

// RefreshSyncState rebuilds every symbol's state from current holdings,
// per-symbol activity date ranges, and stored quote date ranges. New symbols
// get a state created unless their asset is tagged MANUAL; forex assets are
// always marked active since their rates are needed regardless of holdings.
func (p *Planner) RefreshSyncState(today time.Time) error {
	open, err := p.holdings.OpenSymbols()
	if err != nil {
		return err
	}
	activityRanges, err := p.activities.ActivityDateRanges()
	if err != nil {
		return err
	}
	quoteRanges, err := p.quotes.QuoteDateRanges()
	if err != nil {
		return err
	}

	existing, err := p.states.All()
	if err != nil {
		return err
	}
	bySymbol := make(map[string]*domain.QuoteSyncState, len(existing))
	for _, st := range existing {
		bySymbol[st.Symbol] = st
	}

	var updated []*domain.QuoteSyncState
	for symbol, ar := range activityRanges {
		st, ok := bySymbol[symbol]
		if !ok {
			dataSource := ""
			if p.assets != nil {
				if asset, found := p.assets.AssetForSymbol(symbol); found {
					dataSource = asset.DataSource
				}
			}
			if dataSource == domain.DataSourceManual {
				continue
			}
			st = &domain.QuoteSyncState{Symbol: symbol, DataSource: dataSource}
		}

		first, last := ar.First, ar.Last
		st.FirstActivityDate = &first
		st.LastActivityDate = &last

		if qr, ok := quoteRanges[symbol]; ok {
			earliest, latest := qr.First, qr.Last
			st.EarliestQuoteDate = &earliest
			st.LatestQuoteDate = &latest
		}

		st.IsActive = open[symbol] || p.isForex(symbol)
		if st.IsActive {
			st.PositionClosedDate = nil
		} else if st.PositionClosedDate == nil {
			closed := last
			st.PositionClosedDate = &closed
		}

		st.SyncPriority = DetermineCategory(st, today, p.cfg).SyncPriority()
		updated = append(updated, st)
	}

	p.log.Debug().Int("symbols", len(updated)).Msg("sync state refreshed")
	return p.states.Upsert(updated)
}

func (p *Planner) isForex(symbol string) bool {
	if p.assets == nil {
		return false
	}
	asset, ok := p.assets.AssetForSymbol(symbol)
	return ok && asset.Kind == domain.AssetKindForex
}

// OnNewActivity extends the symbol's activity range for a newly recorded
// activity; an activity predating the held quote history promotes the symbol
// to backfill priority. Cash symbols need FX rates, not quotes, and are
// ignored here.
func (p *Planner) OnNewActivity(symbol string, date time.Time) error {
	if symbol == "" || domain.ParseAssetKind(symbol) == domain.AssetKindCash {
		return nil
	}
	st, err := p.states.Get(symbol)
	if err != nil {
		return err
	}
	if st == nil {
		dataSource := ""
		if p.assets != nil {
			if asset, found := p.assets.AssetForSymbol(symbol); found {
				dataSource = asset.DataSource
			}
		}
		if dataSource == domain.DataSourceManual {
			return nil
		}
		st = &domain.QuoteSyncState{
			Symbol:       symbol,
			DataSource:   dataSource,
			SyncPriority: domain.CategoryNew.SyncPriority(),
		}
	}

	if st.FirstActivityDate == nil || date.Before(*st.FirstActivityDate) {
		d := date
		st.FirstActivityDate = &d
	}
	if st.LastActivityDate == nil || date.After(*st.LastActivityDate) {
		d := date
		st.LastActivityDate = &d
	}

	p.promoteIfBackfillNeeded(st, date)
	st.IsActive = true
	st.PositionClosedDate = nil

	return p.states.Upsert([]*domain.QuoteSyncState{st})
}

// OnActivityDateChange re-runs the backfill check against the activity's new
// date after an edit. An untracked symbol gets a fresh state rather than
// being dropped on the floor. Cash symbols are ignored.
func (p *Planner) OnActivityDateChange(symbol string, oldDate, newDate time.Time) error {
	if symbol == "" || domain.ParseAssetKind(symbol) == domain.AssetKindCash {
		return nil
	}
	st, err := p.states.Get(symbol)
	if err != nil {
		return err
	}
	if st == nil {
		p.log.Warn().Str("symbol", symbol).Msg("activity date changed for untracked symbol, creating sync state")
		st = &domain.QuoteSyncState{
			Symbol:       symbol,
			SyncPriority: domain.CategoryNew.SyncPriority(),
		}
	}

	if st.FirstActivityDate == nil || newDate.Before(*st.FirstActivityDate) {
		d := newDate
		st.FirstActivityDate = &d
	}
	if st.LastActivityDate == nil || newDate.After(*st.LastActivityDate) {
		d := newDate
		st.LastActivityDate = &d
	}

	p.promoteIfBackfillNeeded(st, newDate)

	return p.states.Upsert([]*domain.QuoteSyncState{st})
}

// OnActivityDeleted recomputes the symbol's date range from the remaining
// activities, deleting the state when none remain.
func (p *Planner) OnActivityDeleted(symbol string) error {
	if symbol == "" || domain.ParseAssetKind(symbol) == domain.AssetKindCash {
		return nil
	}
	activityRanges, err := p.activities.ActivityDateRanges()
	if err != nil {
		return err
	}

	ar, ok := activityRanges[symbol]
	if !ok {
		return p.states.Delete(symbol)
	}

	st, err := p.states.Get(symbol)
	if err != nil {
		return err
	}
	if st == nil {
		return nil
	}

	first, last := ar.First, ar.Last
	st.FirstActivityDate = &first
	st.LastActivityDate = &last

	return p.states.Upsert([]*domain.QuoteSyncState{st})
}

// promoteIfBackfillNeeded raises the state's priority to the backfill tier
// when date predates the held quote history minus the buffer window.
func (p *Planner) promoteIfBackfillNeeded(st *domain.QuoteSyncState, date time.Time) {
	if st.EarliestQuoteDate == nil {
		return
	}
	threshold := st.EarliestQuoteDate.AddDate(0, 0, -p.cfg.BufferDays)
	if date.Before(threshold) {
		st.SyncPriority = domain.CategoryNeedsBackfill.SyncPriority()
	}
}
