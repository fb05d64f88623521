// Command researchd is the long-running research-pipeline server: it
// wires the on-disk stores, the policy engine, the feature resolver,
// the job runner, and the HTTP transport, then serves until a signal
// requests shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/fishbro/internal/bars"
	"github.com/aristath/fishbro/internal/bars/csvsource"
	"github.com/aristath/fishbro/internal/config"
	"github.com/aristath/fishbro/internal/features"
	"github.com/aristath/fishbro/internal/governance"
	"github.com/aristath/fishbro/internal/registry"
	"github.com/aristath/fishbro/internal/resolver"
	"github.com/aristath/fishbro/internal/runner"
	"github.com/aristath/fishbro/internal/server"
	"github.com/aristath/fishbro/internal/shared"
	"github.com/aristath/fishbro/internal/snapshot"
	"github.com/aristath/fishbro/internal/store"
	"github.com/aristath/fishbro/internal/workerpool"
	"github.com/aristath/fishbro/pkg/logger"
)

// datasetReloadJob periodically re-syncs the in-memory dataset cache
// from the on-disk registry, so newly registered snapshots become
// visible to job submission without a process restart.
type datasetReloadJob struct {
	datasets *registry.Datasets
}

func (j datasetReloadJob) Name() string { return "reload_datasets" }

func (j datasetReloadJob) Run() error {
	j.datasets.Reload()
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	catalog, err := store.OpenCatalog(cfg.CatalogDBPath, cfg.LedgerDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open catalog")
	}
	defer catalog.Close()

	seasons, err := governance.NewSeasonStore(cfg.SeasonIndexRoot)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open season store")
	}
	batches, err := governance.NewBatchStore(cfg.ArtifactsRoot)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open batch store")
	}
	policy := governance.NewEngine(seasons.IsFrozen)

	datasetRegistry, err := snapshot.OpenRegistry(cfg.DatasetRegistryRoot)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open dataset registry")
	}
	datasets := registry.NewDatasets(datasetRegistry)
	datasets.Reload()

	// Strategies are never bootstrapped here: the core has no business
	// knowing about any concrete strategy. A deployment's own wiring
	// layer calls Strategies.Bootstrap before traffic is accepted.
	strategies := registry.NewStrategies()

	sharedStore := shared.NewStore(cfg.SharedRoot, csvsource.Source{}, features.StandardRegistryForTimeframes(bars.Timeframes), bars.DefaultSession)
	res := resolver.New(sharedStore.Manifests(), sharedStore, sharedStore.Bundles())
	run := runner.New(res, strategies)

	scheduler := workerpool.NewScheduler(log)
	if err := scheduler.AddJob("@every 5m", datasetReloadJob{datasets: datasets}); err != nil {
		log.Fatal().Err(err).Msg("failed to register dataset reload job")
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := server.New(server.Config{
		Log:                 log,
		Port:                cfg.Port,
		DevMode:             cfg.DevMode,
		OutputsRoot:         cfg.OutputsRoot,
		ArtifactsRoot:       cfg.ArtifactsRoot,
		ExportsRoot:         cfg.ExportsRoot,
		PortfolioRoot:       cfg.PortfolioRoot,
		SnapshotsRoot:       cfg.SnapshotsRoot,
		DatasetRegistryRoot: cfg.DatasetRegistryRoot,
		Runner:              run,
		Seasons:             seasons,
		Batches:             batches,
		Policy:              policy,
		Strategies:          strategies,
		Datasets:            datasets,
		Catalog:             catalog,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("researchd started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("researchd stopped")
}
