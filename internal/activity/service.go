package activity

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgerd/internal/domain"
)

// AccountLookup resolves the account an ingested activity belongs to; the
// account currency feeds the normalizer's FX-pair registration.
type AccountLookup interface {
	Account(accountID string) (domain.Account, bool, error)
}

// ActivitySink persists normalized activities; satisfied by Repository.
type ActivitySink interface {
	Save(activities []*domain.Activity) error
}

// SyncNotifier receives per-symbol activity events so the quote sync state
// stays current without a full refresh; satisfied by quotesync.Planner.
type SyncNotifier interface {
	OnNewActivity(symbol string, date time.Time) error
}

// Service is the ingestion path: every incoming record goes through the
// normalizer (asset-id resolution, kind inference, FX-pair registration)
// before it reaches the activity log, and the sync planner hears about each
// new tradable symbol.
type Service struct {
	normalizer *Normalizer
	accounts   AccountLookup
	sink       ActivitySink
	sync       SyncNotifier
	log        zerolog.Logger
}

// NewService builds a Service. sync may be nil when no quote sync is wired.
func NewService(normalizer *Normalizer, accounts AccountLookup, sink ActivitySink, sync SyncNotifier, log zerolog.Logger) *Service {
	return &Service{
		normalizer: normalizer,
		accounts:   accounts,
		sink:       sink,
		sync:       sync,
		log:        log.With().Str("component", "activity_service").Logger(),
	}
}

// Ingest normalizes and persists a batch of raw activities. The batch is
// all-or-nothing up to the save: a record that fails to normalize rejects the
// whole batch so a partial import never reaches the ledger.
func (s *Service) Ingest(raws []RawActivity) (int, error) {
	if len(raws) == 0 {
		return 0, nil
	}

	normalized := make([]*domain.Activity, 0, len(raws))
	for _, raw := range raws {
		account, ok, err := s.accounts.Account(raw.AccountID)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("activity %s references unknown account %s", raw.ID, raw.AccountID)
		}

		// Insertion order 0 lets the repository assign the log position.
		act, _, err := s.normalizer.Normalize(raw, account.Currency, 0)
		if err != nil {
			return 0, err
		}
		normalized = append(normalized, act)
	}

	if err := s.sink.Save(normalized); err != nil {
		return 0, err
	}

	if s.sync != nil {
		for _, act := range normalized {
			if domain.ParseAssetKind(act.AssetID) == domain.AssetKindCash {
				continue
			}
			if err := s.sync.OnNewActivity(act.AssetID, act.ActivityDate); err != nil {
				s.log.Warn().Err(err).Str("symbol", act.AssetID).Msg("sync state update failed")
			}
		}
	}

	s.log.Info().Int("count", len(normalized)).Msg("activities ingested")
	return len(normalized), nil
}
