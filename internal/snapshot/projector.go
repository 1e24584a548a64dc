package snapshot

import (
	"sort"
	"time"

	"github.com/aristath/ledgerd/internal/domain"
)

// KeyframeReader is the read-only slice of the Snapshot Store the projector
// needs; satisfied by both snapstore.Store and its cached reader.
type KeyframeReader interface {
	Get(accountID string, start, end time.Time) ([]*domain.AccountStateSnapshot, error)
	LatestBefore(accountID string, date time.Time) (*domain.AccountStateSnapshot, error)
}

// Projector is the daily holdings projector: a pure read-side gap-filling
// transformation over persisted keyframes. No persistence of its own.
type Projector struct {
	store KeyframeReader
}

// NewProjector builds a Projector over a keyframe reader.
func NewProjector(store KeyframeReader) *Projector {
	return &Projector{store: store}
}

// GetDailyHoldingsSnapshots emits one snapshot per calendar day in
// [start, end], each equal to the most recent keyframe at or before that day.
// Emitted rows are not persisted; snapshot_date is rewritten to the emitted
// day and source is reported as SYNTHETIC regardless of the underlying
// keyframe's original source.
func (p *Projector) GetDailyHoldingsSnapshots(accountID string, start, end time.Time) ([]*domain.AccountStateSnapshot, error) {
	anchor, err := p.store.LatestBefore(accountID, start)
	if err != nil {
		return nil, err
	}
	keyframes, err := p.store.Get(accountID, start, end)
	if err != nil {
		return nil, err
	}

	sort.Slice(keyframes, func(i, j int) bool { return keyframes[i].SnapshotDate.Before(keyframes[j].SnapshotDate) })

	var result []*domain.AccountStateSnapshot
	current := anchor
	idx := 0

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		for idx < len(keyframes) && !keyframes[idx].SnapshotDate.After(d) {
			current = keyframes[idx]
			idx++
		}
		if current == nil {
			continue
		}
		emitted := *current
		emitted.SnapshotDate = d
		emitted.Source = domain.SourceSynthetic
		result = append(result, &emitted)
	}

	return result, nil
}
