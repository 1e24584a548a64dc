package snapstore

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/ledgerd/internal/domain"
)

// Reader is the subset of Store a read cache fronts.
type Reader interface {
	Get(accountID string, start, end time.Time) ([]*domain.AccountStateSnapshot, error)
	LatestBefore(accountID string, date time.Time) (*domain.AccountStateSnapshot, error)
}

// CachedReader wraps a Reader with an in-process msgpack-encoded cache keyed
// by (account_id, date-range). Encoding through msgpack (rather than holding
// live pointers) guarantees a cache hit can never be mutated by a caller
// holding onto a returned snapshot. Decimal fields travel as strings inside
// the encoded blob; decimal.Decimal itself has unexported fields msgpack
// cannot reflect over.
type CachedReader struct {
	inner Reader
	mu    sync.RWMutex
	get   map[string][]byte
	log   zerolog.Logger
}

// NewCachedReader wraps inner with an empty cache.
func NewCachedReader(inner Reader, log zerolog.Logger) *CachedReader {
	return &CachedReader{
		inner: inner,
		get:   make(map[string][]byte),
		log:   log.With().Str("component", "snapshot_read_cache").Logger(),
	}
}

func getCacheKey(accountID string, start, end time.Time) string {
	return accountID + "|" + start.Format("2006-01-02") + "|" + end.Format("2006-01-02")
}

// snapshotBlob is the msgpack wire shape of one cached snapshot.
type snapshotBlob struct {
	AccountID                string
	SnapshotDate             time.Time
	Currency                 string
	CashBalances             map[string]string
	Positions                map[string]positionBlob
	CostBasis                string
	NetContribution          string
	NetContributionBase      string
	CashTotalAccountCurrency string
	CashTotalBaseCurrency    string
	CalculatedAt             time.Time
	Source                   string
}

type positionBlob struct {
	AssetID        string
	AccountID      string
	Currency       string
	Quantity       string
	TotalCostBasis string
	InceptionDate  time.Time
	Lots           []lotBlob
}

type lotBlob struct {
	ID               string
	PositionID       string
	AcquiredAt       time.Time
	Quantity         string
	CostBasis        string
	AcquisitionPrice string
	AcquisitionFees  string
}

// Get serves from cache when present, otherwise delegates and populates the
// cache with the msgpack-encoded result.
func (c *CachedReader) Get(accountID string, start, end time.Time) ([]*domain.AccountStateSnapshot, error) {
	key := getCacheKey(accountID, start, end)

	c.mu.RLock()
	raw, hit := c.get[key]
	c.mu.RUnlock()

	if hit {
		var blobs []snapshotBlob
		if err := msgpack.Unmarshal(raw, &blobs); err == nil {
			return decodeSnapshots(blobs)
		}
		c.log.Warn().Msg("cache decode failed, falling back to store")
	}

	snapshots, err := c.inner.Get(accountID, start, end)
	if err != nil {
		return nil, err
	}

	if raw, err := msgpack.Marshal(encodeSnapshots(snapshots)); err == nil {
		c.mu.Lock()
		c.get[key] = raw
		c.mu.Unlock()
	}

	return snapshots, nil
}

// LatestBefore is not cached: every call goes straight to the wrapped
// reader.
func (c *CachedReader) LatestBefore(accountID string, date time.Time) (*domain.AccountStateSnapshot, error) {
	return c.inner.LatestBefore(accountID, date)
}

// Invalidate drops every cached entry for accountID. Writes go to the Store
// directly and do not call it; cached entries remain until it is called.
func (c *CachedReader) Invalidate(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := accountID + "|"
	for key := range c.get {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.get, key)
		}
	}
}

func encodeSnapshots(snapshots []*domain.AccountStateSnapshot) []snapshotBlob {
	blobs := make([]snapshotBlob, 0, len(snapshots))
	for _, snap := range snapshots {
		b := snapshotBlob{
			AccountID:                snap.AccountID,
			SnapshotDate:             snap.SnapshotDate,
			Currency:                 string(snap.Currency),
			CashBalances:             make(map[string]string, len(snap.CashBalances)),
			Positions:                make(map[string]positionBlob, len(snap.Positions)),
			CostBasis:                snap.CostBasis.String(),
			NetContribution:          snap.NetContribution.String(),
			NetContributionBase:      snap.NetContributionBase.String(),
			CashTotalAccountCurrency: snap.CashTotalAccountCurrency.String(),
			CashTotalBaseCurrency:    snap.CashTotalBaseCurrency.String(),
			CalculatedAt:             snap.CalculatedAt,
			Source:                   string(snap.Source),
		}
		for cur, bal := range snap.CashBalances {
			b.CashBalances[string(cur)] = bal.String()
		}
		for id, pos := range snap.Positions {
			pb := positionBlob{
				AssetID:        pos.AssetID,
				AccountID:      pos.AccountID,
				Currency:       string(pos.Currency),
				Quantity:       pos.Quantity.String(),
				TotalCostBasis: pos.TotalCostBasis.String(),
				InceptionDate:  pos.InceptionDate,
				Lots:           make([]lotBlob, len(pos.Lots)),
			}
			for i, lot := range pos.Lots {
				pb.Lots[i] = lotBlob{
					ID:               lot.ID,
					PositionID:       lot.PositionID,
					AcquiredAt:       lot.AcquiredAt,
					Quantity:         lot.Quantity.String(),
					CostBasis:        lot.CostBasis.String(),
					AcquisitionPrice: lot.AcquisitionPrice.String(),
					AcquisitionFees:  lot.AcquisitionFees.String(),
				}
			}
			b.Positions[id] = pb
		}
		blobs = append(blobs, b)
	}
	return blobs
}

func decodeSnapshots(blobs []snapshotBlob) ([]*domain.AccountStateSnapshot, error) {
	snapshots := make([]*domain.AccountStateSnapshot, 0, len(blobs))
	for _, b := range blobs {
		snap := &domain.AccountStateSnapshot{
			AccountID:    b.AccountID,
			SnapshotDate: b.SnapshotDate,
			Currency:     domain.Currency(b.Currency),
			CashBalances: make(map[domain.Currency]decimal.Decimal, len(b.CashBalances)),
			Positions:    make(map[string]*domain.Position, len(b.Positions)),
			CalculatedAt: b.CalculatedAt,
			Source:       domain.SnapshotSource(b.Source),
		}
		var err error
		if snap.CostBasis, err = decimal.NewFromString(b.CostBasis); err != nil {
			return nil, err
		}
		if snap.NetContribution, err = decimal.NewFromString(b.NetContribution); err != nil {
			return nil, err
		}
		if snap.NetContributionBase, err = decimal.NewFromString(b.NetContributionBase); err != nil {
			return nil, err
		}
		if snap.CashTotalAccountCurrency, err = decimal.NewFromString(b.CashTotalAccountCurrency); err != nil {
			return nil, err
		}
		if snap.CashTotalBaseCurrency, err = decimal.NewFromString(b.CashTotalBaseCurrency); err != nil {
			return nil, err
		}
		for cur, bal := range b.CashBalances {
			v, err := decimal.NewFromString(bal)
			if err != nil {
				return nil, err
			}
			snap.CashBalances[domain.Currency(cur)] = v
		}
		for id, pb := range b.Positions {
			pos := &domain.Position{
				AssetID:       pb.AssetID,
				AccountID:     pb.AccountID,
				Currency:      domain.Currency(pb.Currency),
				InceptionDate: pb.InceptionDate,
				Lots:          make([]*domain.Lot, len(pb.Lots)),
			}
			if pos.Quantity, err = decimal.NewFromString(pb.Quantity); err != nil {
				return nil, err
			}
			if pos.TotalCostBasis, err = decimal.NewFromString(pb.TotalCostBasis); err != nil {
				return nil, err
			}
			for i, lb := range pb.Lots {
				lot := &domain.Lot{
					ID:         lb.ID,
					PositionID: lb.PositionID,
					AcquiredAt: lb.AcquiredAt,
				}
				if lot.Quantity, err = decimal.NewFromString(lb.Quantity); err != nil {
					return nil, err
				}
				if lot.CostBasis, err = decimal.NewFromString(lb.CostBasis); err != nil {
					return nil, err
				}
				if lot.AcquisitionPrice, err = decimal.NewFromString(lb.AcquisitionPrice); err != nil {
					return nil, err
				}
				if lot.AcquisitionFees, err = decimal.NewFromString(lb.AcquisitionFees); err != nil {
					return nil, err
				}
				pos.Lots[i] = lot
			}
			snap.Positions[id] = pos
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}
