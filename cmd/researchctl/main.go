// Command researchctl is a one-shot administrative CLI over the
// season/batch governance store and the policy decision ledger: the
// maintenance operations an operator runs outside the HTTP surface
// (freezing a season, rebuilding a season's batch index, inspecting the
// catalog) without standing up the full server.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aristath/fishbro/internal/candidates"
	"github.com/aristath/fishbro/internal/config"
	"github.com/aristath/fishbro/internal/governance"
	"github.com/aristath/fishbro/internal/portfolio"
	"github.com/aristath/fishbro/internal/store"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: researchctl <command> [args]

commands:
  freeze-season <season>            freeze a season, blocking further RESEARCH_MUTATE actions against it
  freeze-batch <season> <batch_id>  freeze a single batch's one-way frozen bit
  rebuild-index <season> <batch...> rebuild a season's batch index from an explicit batch_id list
  list-seasons                      list every season known to the catalog
  list-batches <season>             list every batch recorded for a season
  list-decisions <season>           list every recorded policy decision for a season
  verify-export <season>            re-hash an exported season's tree against its manifest
  verify-plan <plan_id>             re-hash a plan package against its manifest`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var runErr error
	switch cmd {
	case "freeze-season":
		runErr = freezeSeason(cfg.SeasonIndexRoot, cfg.CatalogDBPath, cfg.LedgerDBPath, args)
	case "freeze-batch":
		runErr = freezeBatch(cfg.ArtifactsRoot, cfg.CatalogDBPath, cfg.LedgerDBPath, args)
	case "rebuild-index":
		runErr = rebuildIndex(cfg.SeasonIndexRoot, args)
	case "list-seasons":
		runErr = listSeasons(cfg.CatalogDBPath, cfg.LedgerDBPath)
	case "list-batches":
		runErr = listBatches(cfg.CatalogDBPath, cfg.LedgerDBPath, args)
	case "list-decisions":
		runErr = listDecisions(cfg.CatalogDBPath, cfg.LedgerDBPath, args)
	case "verify-export":
		runErr = verifyExport(cfg.ExportsRoot, args)
	case "verify-plan":
		runErr = verifyPlan(cfg.PortfolioRoot, args)
	default:
		usage()
		os.Exit(2)
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "researchctl:", runErr)
		os.Exit(1)
	}
}

func freezeSeason(seasonRoot, catalogPath, ledgerPath string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("freeze-season requires exactly one argument: <season>")
	}
	season := args[0]

	seasons, err := governance.NewSeasonStore(seasonRoot)
	if err != nil {
		return err
	}
	now := time.Now()
	if err := seasons.Freeze(season, now); err != nil {
		return err
	}

	catalog, err := store.OpenCatalog(catalogPath, ledgerPath)
	if err != nil {
		return err
	}
	defer catalog.Close()

	ctx := context.Background()
	if err := catalog.UpsertSeason(ctx, store.SeasonRow{Season: season, Frozen: true, UpdatedAt: now, CreatedAt: now}); err != nil {
		return err
	}
	fmt.Printf("season %s frozen\n", season)
	return nil
}

func freezeBatch(artifactsRoot, catalogPath, ledgerPath string, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("freeze-batch requires exactly two arguments: <season> <batch_id>")
	}
	season, batchID := args[0], args[1]

	batches, err := governance.NewBatchStore(artifactsRoot)
	if err != nil {
		return err
	}
	now := time.Now()
	if err := batches.Freeze(batchID, season, now); err != nil {
		return err
	}

	catalog, err := store.OpenCatalog(catalogPath, ledgerPath)
	if err != nil {
		return err
	}
	defer catalog.Close()

	ctx := context.Background()
	if err := catalog.UpsertBatch(ctx, store.BatchRow{BatchID: batchID, Season: season, Frozen: true, CreatedAt: now, UpdatedAt: now}); err != nil {
		return err
	}
	fmt.Printf("batch %s (season %s) frozen\n", batchID, season)
	return nil
}

func rebuildIndex(seasonRoot string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("rebuild-index requires a season and zero or more batch ids")
	}
	season, batchIDs := args[0], args[1:]

	seasons, err := governance.NewSeasonStore(seasonRoot)
	if err != nil {
		return err
	}
	if err := seasons.RebuildIndex(season, batchIDs, time.Now()); err != nil {
		return err
	}
	fmt.Printf("season %s index rebuilt with %d batch(es)\n", season, len(batchIDs))
	return nil
}

func listSeasons(catalogPath, ledgerPath string) error {
	catalog, err := store.OpenCatalog(catalogPath, ledgerPath)
	if err != nil {
		return err
	}
	defer catalog.Close()

	rows, err := catalog.ListSeasons(context.Background())
	if err != nil {
		return err
	}
	for _, r := range rows {
		fmt.Printf("%s\tfrozen=%v\tnote=%q\tupdated_at=%s\n", r.Season, r.Frozen, r.Note, r.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func listBatches(catalogPath, ledgerPath string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("list-batches requires exactly one argument: <season>")
	}
	catalog, err := store.OpenCatalog(catalogPath, ledgerPath)
	if err != nil {
		return err
	}
	defer catalog.Close()

	rows, err := catalog.ListBatches(context.Background(), args[0])
	if err != nil {
		return err
	}
	for _, r := range rows {
		fmt.Printf("%s\tfrozen=%v\tupdated_at=%s\n", r.BatchID, r.Frozen, r.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func verifyExport(exportsRoot string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("verify-export requires exactly one argument: <season>")
	}
	if err := candidates.VerifyExport(exportsRoot, args[0]); err != nil {
		return err
	}
	fmt.Printf("export for season %s verified\n", args[0])
	return nil
}

func verifyPlan(portfolioRoot string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("verify-plan requires exactly one argument: <plan_id>")
	}
	if err := portfolio.VerifyPlan(portfolioRoot, args[0]); err != nil {
		return err
	}
	fmt.Printf("plan %s verified\n", args[0])
	return nil
}

func listDecisions(catalogPath, ledgerPath string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("list-decisions requires exactly one argument: <season>")
	}
	catalog, err := store.OpenCatalog(catalogPath, ledgerPath)
	if err != nil {
		return err
	}
	defer catalog.Close()

	rows, err := catalog.ListDecisions(context.Background(), args[0])
	if err != nil {
		return err
	}
	for _, r := range rows {
		fmt.Printf("%s\taction=%s\tallowed=%v\trisk=%s\treason=%q\tdecided_at=%s\n",
			r.Season, r.Action, r.Allowed, r.Risk, r.Reason, r.DecidedAt.Format(time.RFC3339))
	}
	return nil
}
