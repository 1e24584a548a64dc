package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgerd/internal/analytics"
	"github.com/aristath/ledgerd/internal/domain"
	"github.com/aristath/ledgerd/internal/provider"
	"github.com/aristath/ledgerd/internal/quotesync"
	"github.com/aristath/ledgerd/internal/snapshot"
)

// RecalculateSnapshotsJob drives the Snapshot Service over all active
// accounts on a schedule.
type RecalculateSnapshotsJob struct {
	service *snapshot.Service
	log     zerolog.Logger
}

// NewRecalculateSnapshotsJob builds the job.
func NewRecalculateSnapshotsJob(service *snapshot.Service, log zerolog.Logger) *RecalculateSnapshotsJob {
	return &RecalculateSnapshotsJob{service: service, log: log.With().Str("job", "recalculate_snapshots").Logger()}
}

// Name implements Job.
func (j *RecalculateSnapshotsJob) Name() string { return "recalculate_snapshots" }

// Run implements Job. Per-account errors are logged and folded into one
// error so the scheduler records the failure without losing the accounts
// that succeeded.
func (j *RecalculateSnapshotsJob) Run() error {
	written, errs := j.service.CalculateHoldingsSnapshots(nil)
	j.log.Info().Int("keyframes", written).Int("errors", len(errs)).Msg("snapshot recalculation finished")
	if len(errs) > 0 {
		for _, err := range errs {
			j.log.Error().Err(err).Msg("account recalculation failed")
		}
		return fmt.Errorf("%d account(s) failed to recalculate", len(errs))
	}
	return nil
}

// SyncQuotesJob refreshes the sync state, builds the minimal plan, and
// executes it through the coordinator.
type SyncQuotesJob struct {
	planner     *quotesync.Planner
	coordinator *provider.Coordinator
	log         zerolog.Logger
}

// NewSyncQuotesJob builds the job.
func NewSyncQuotesJob(planner *quotesync.Planner, coordinator *provider.Coordinator, log zerolog.Logger) *SyncQuotesJob {
	return &SyncQuotesJob{planner: planner, coordinator: coordinator, log: log.With().Str("job", "sync_quotes").Logger()}
}

// Name implements Job.
func (j *SyncQuotesJob) Name() string { return "sync_quotes" }

// Run implements Job.
func (j *SyncQuotesJob) Run() error {
	today := todayUTC()

	if err := j.planner.RefreshSyncState(today); err != nil {
		return err
	}

	plan, err := j.planner.BuildPlan(today)
	if err != nil {
		return err
	}
	if len(plan) == 0 {
		j.log.Debug().Msg("nothing to sync")
		return nil
	}

	written, failures := j.coordinator.Execute(context.Background(), plan)
	j.log.Info().Int("quotes", written).Int("failures", len(failures)).Msg("quote sync finished")
	for _, f := range failures {
		j.log.Warn().Str("symbol", f.Symbol).Err(f).Msg("symbol failed to sync")
	}
	return nil
}

// ReportVolatilityJob logs the portfolio TOTAL's trailing volatility, a
// cheap health signal that the daily series is evolving sanely.
type ReportVolatilityJob struct {
	projector  *snapshot.Projector
	windowDays int
	log        zerolog.Logger
}

// NewReportVolatilityJob builds the job.
func NewReportVolatilityJob(projector *snapshot.Projector, windowDays int, log zerolog.Logger) *ReportVolatilityJob {
	return &ReportVolatilityJob{
		projector:  projector,
		windowDays: windowDays,
		log:        log.With().Str("job", "report_volatility").Logger(),
	}
}

// Name implements Job.
func (j *ReportVolatilityJob) Name() string { return "report_volatility" }

// Run implements Job.
func (j *ReportVolatilityJob) Run() error {
	vol, err := analytics.TrailingVolatility(j.projector, domain.TotalAccountID, todayUTC(), j.windowDays)
	if err != nil {
		return err
	}
	j.log.Info().Float64("volatility", vol).Int("window_days", j.windowDays).Msg("portfolio daily-return volatility")
	return nil
}

func todayUTC() time.Time {
	y, m, d := time.Now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
