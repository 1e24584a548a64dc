package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgerd/internal/activity"
	"github.com/aristath/ledgerd/internal/asset"
	"github.com/aristath/ledgerd/internal/config"
	"github.com/aristath/ledgerd/internal/database"
	"github.com/aristath/ledgerd/internal/domain"
	"github.com/aristath/ledgerd/internal/fx"
	"github.com/aristath/ledgerd/internal/holdings"
	"github.com/aristath/ledgerd/internal/provider"
	"github.com/aristath/ledgerd/internal/quotesync"
	"github.com/aristath/ledgerd/internal/scheduler"
	"github.com/aristath/ledgerd/internal/snapshot"
	"github.com/aristath/ledgerd/internal/snapstore"
	"github.com/aristath/ledgerd/pkg/logger"
)

func main() {
	importPath := flag.String("import", "", "CSV activity file to ingest before recalculating")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.LogLevel)
	logger.SetGlobalLogger(log)

	log.Info().Str("instance", cfg.InstanceID).Str("base_currency", cfg.BaseCurrency).Msg("Starting ledgerd")

	ledgerDB, err := database.Open(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "snapshots",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	syncDB, err := database.Open(database.Config{
		Path:    filepath.Join(cfg.DataDir, "quotesync.db"),
		Profile: database.ProfileCache,
		Name:    "quotesync",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open quote sync database")
	}
	defer syncDB.Close()

	for _, db := range []*database.DB{ledgerDB, syncDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("db", db.Name()).Msg("Failed to run migrations")
		}
	}

	// Core wiring: FX gateway, asset registry, holdings calculator, stores.
	rates := fx.NewMemoryRateSource()
	gateway := fx.NewGateway(rates, log)
	assets := asset.NewRegistry(log)
	calc := holdings.NewCalculator(gateway, assets, log)

	store := snapstore.New(ledgerDB.Conn(), log)
	repo := activity.NewRepository(ledgerDB.Conn(), log)
	base := domain.Currency(cfg.BaseCurrency)
	service := snapshot.NewService(store, calc, repo, repo, gateway, base, log)
	cache := snapstore.NewCachedReader(store, log)
	projector := snapshot.NewProjector(cache)

	// Quote sync wiring: state store, planner, provider coordinator.
	states := quotesync.NewSqliteStateStore(syncDB.Conn(), log)
	quotes := provider.NewSqliteQuoteStore(syncDB.Conn(), log)
	holdingsView := snapshot.NewHoldingsView(store, repo)
	planner := quotesync.NewPlanner(states, holdingsView, repo, quotes, assets, quotesync.Config{
		BufferDays:         cfg.QuoteHistoryBufferDays,
		GraceDays:          cfg.ClosedPositionGraceDays,
		DefaultHistoryDays: cfg.DefaultHistoryDays,
	}, log)
	registry := provider.NewStaticRegistry(map[string]provider.Provider{}, nil)
	coordinator := provider.NewCoordinator(registry, quotes, states, assets, log)

	// Ingestion path: every incoming activity runs through the normalizer
	// (asset-id resolution, FX-pair registration) and notifies the planner.
	normalizer := activity.NewNormalizer(assets, gateway, log)
	ingest := activity.NewService(normalizer, repo, repo, planner, log)

	if *importPath != "" {
		importActivities(ingest, *importPath, log)
	}

	// One-shot recalculation on startup, then periodic background work.
	recalcJob := scheduler.NewRecalculateSnapshotsJob(service, log)
	syncJob := scheduler.NewSyncQuotesJob(planner, coordinator, log)
	volJob := scheduler.NewReportVolatilityJob(projector, 30, log)

	sched := scheduler.New(log)
	if err := sched.RunNow(recalcJob); err != nil {
		log.Error().Err(err).Msg("Initial recalculation reported failures")
	}

	if err := sched.AddJob("0 0 22 * * *", recalcJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register recalculation job")
	}
	if err := sched.AddJob("0 30 22 * * *", syncJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register quote sync job")
	}
	if err := sched.AddJob("0 0 23 * * *", volJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register volatility report job")
	}

	sched.Start()
	defer sched.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
}

func importActivities(ingest *activity.Service, path string, log zerolog.Logger) {
	f, err := os.Open(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to open import file")
	}
	defer f.Close()

	raws, err := activity.ReadCSV(f)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to parse import file")
	}

	n, err := ingest.Ingest(raws)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to ingest activities")
	}
	log.Info().Int("count", n).Str("path", path).Msg("Activities imported")
}
