// Package snapshot is the orchestration layer that drives the holdings
// calculator day-by-day over an account's activity history, persists the
// resulting keyframes, and aggregates the portfolio TOTAL. Per-account
// errors are collected rather than aborting the batch. The daily projector
// gap-fills keyframes into a dense series on the read path.
package snapshot

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/aristath/ledgerd/internal/holdings"
)

// ActivitySource loads all activities for one account, unsorted.
type ActivitySource interface {
	ActivitiesForAccount(accountID string) ([]*domain.Activity, error)
}

// AccountSource resolves the set of accounts to recalculate.
type AccountSource interface {
	ActiveAccounts() ([]domain.Account, error)
	Account(accountID string) (domain.Account, bool, error)
}

// SnapshotStore is the subset of snapstore.Store the service depends on.
type SnapshotStore interface {
	Get(accountID string, start, end time.Time) ([]*domain.AccountStateSnapshot, error)
	LatestBefore(accountID string, date time.Time) (*domain.AccountStateSnapshot, error)
	DeleteCalculatedInRange(accountID string, start, end time.Time) error
	OverwriteAllForAccount(accountID string, newSnapshots []*domain.AccountStateSnapshot) error
	GetAnchorDates(accountID string, start, end time.Time) ([]time.Time, error)
	EarliestNonCalculated(accountID string) (*time.Time, error)
	Save(snapshots []*domain.AccountStateSnapshot) error
}

// RateGateway is the subset of fx.Gateway the TOTAL aggregation step depends on.
type RateGateway interface {
	RateOrFallback(from, to domain.Currency, date time.Time) (decimal.Decimal, bool)
}

// farFuture bounds an unbounded "delete everything up to today" range; it is
// a sentinel, never a real snapshot date.
var farFuture = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
var farPast = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)

// Service implements C5.
type Service struct {
	store      SnapshotStore
	calc       *holdings.Calculator
	activities ActivitySource
	accounts   AccountSource
	fx         RateGateway
	base       domain.Currency
	log        zerolog.Logger
}

// NewService builds a Service.
func NewService(store SnapshotStore, calc *holdings.Calculator, activities ActivitySource, accounts AccountSource, fx RateGateway, baseCurrency domain.Currency, log zerolog.Logger) *Service {
	return &Service{
		store:      store,
		calc:       calc,
		activities: activities,
		accounts:   accounts,
		fx:         fx,
		base:       baseCurrency,
		log:        log.With().Str("component", "snapshot_service").Logger(),
	}
}

// CalculateHoldingsSnapshots recalculates the given accounts (or all active
// accounts when accountIDs is empty), then aggregates the portfolio TOTAL.
// Per-account errors are collected and do not abort the remaining accounts.
func (s *Service) CalculateHoldingsSnapshots(accountIDs []string) (int, []error) {
	return s.run(accountIDs, false)
}

// ForceRecalculateHoldingsSnapshots is identical to CalculateHoldingsSnapshots
// but first deletes every CALCULATED keyframe in each account's full span;
// non-calculated anchors are preserved (DeleteCalculatedInRange never touches
// them).
func (s *Service) ForceRecalculateHoldingsSnapshots(accountIDs []string) (int, []error) {
	return s.run(accountIDs, true)
}

func (s *Service) run(accountIDs []string, force bool) (int, []error) {
	targets, err := s.resolveAccounts(accountIDs)
	if err != nil {
		return 0, []error{err}
	}

	var errs []error
	written := 0

	for _, account := range targets {
		n, err := s.recalculateAccount(account, force)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		written += n
	}

	// The TOTAL always spans every active account, even when only a subset
	// was recalculated: carry-forward merging needs the untouched accounts too.
	totalAccounts, err := s.accounts.ActiveAccounts()
	if err != nil {
		errs = append(errs, err)
		return written, errs
	}
	if err := s.aggregateTotal(totalAccounts); err != nil {
		errs = append(errs, err)
	}

	return written, errs
}

func (s *Service) resolveAccounts(accountIDs []string) ([]domain.Account, error) {
	if len(accountIDs) == 0 {
		return s.accounts.ActiveAccounts()
	}
	accounts := make([]domain.Account, 0, len(accountIDs))
	for _, id := range accountIDs {
		account, ok, err := s.accounts.Account(id)
		if err != nil {
			return nil, err
		}
		if ok {
			accounts = append(accounts, account)
		}
	}
	return accounts, nil
}

func (s *Service) recalculateAccount(account domain.Account, force bool) (int, error) {
	activities, err := s.activities.ActivitiesForAccount(account.ID)
	if err != nil {
		return 0, err
	}
	if len(activities) == 0 {
		// No activity log but manually-entered snapshots: the account is in
		// holdings mode and its state is whatever the user recorded.
		if anchor, err := s.store.EarliestNonCalculated(account.ID); err == nil && anchor != nil {
			s.log.Debug().Str("account_id", account.ID).Msg("account in holdings mode, skipping recalculation")
		}
		return 0, nil
	}

	byDate := groupByUTCDate(activities)
	dates := sortedDates(byDate)
	earliest := dates[0]

	if force {
		if err := s.store.DeleteCalculatedInRange(account.ID, farPast, farFuture); err != nil {
			return 0, err
		}
	}

	running, err := s.findAnchor(account, earliest)
	if err != nil {
		return 0, err
	}

	keyframes := make([]*domain.AccountStateSnapshot, 0, len(dates))
	for _, d := range dates {
		next, _, err := s.calc.CalculateNextHoldings(running, account, byDate[d.Format("2006-01-02")], d, s.base)
		if err != nil {
			return 0, err
		}
		keyframes = append(keyframes, next)
		running = next
	}

	if err := s.store.OverwriteAllForAccount(account.ID, keyframes); err != nil {
		return 0, err
	}
	return len(keyframes), nil
}

// findAnchor returns the latest non-calculated snapshot at or before the
// earliest activity date, or a blank snapshot dated the day before if no
// anchor exists.
func (s *Service) findAnchor(account domain.Account, earliest time.Time) (*domain.AccountStateSnapshot, error) {
	anchorDates, err := s.store.GetAnchorDates(account.ID, farPast, earliest)
	if err != nil {
		return nil, err
	}
	if len(anchorDates) > 0 {
		last := anchorDates[len(anchorDates)-1]
		return s.store.LatestBefore(account.ID, last)
	}
	return &domain.AccountStateSnapshot{
		AccountID:    account.ID,
		SnapshotDate: earliest.AddDate(0, 0, -1),
		Currency:     account.Currency,
		CashBalances: map[domain.Currency]decimal.Decimal{},
		Positions:    map[string]*domain.Position{},
		Source:       domain.SourceSynthetic,
	}, nil
}

// groupByUTCDate buckets activities by their UTC-midnight activity_date;
// day boundaries are always UTC so replays are timezone-independent.
func groupByUTCDate(activities []*domain.Activity) map[string][]*domain.Activity {
	groups := make(map[string][]*domain.Activity)
	for _, act := range activities {
		key := act.ActivityDate.Format("2006-01-02")
		groups[key] = append(groups[key], act)
	}
	return groups
}

func sortedDates(byDate map[string][]*domain.Activity) []time.Time {
	dates := make([]time.Time, 0, len(byDate))
	for key := range byDate {
		d, _ := time.Parse("2006-01-02", key)
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}
