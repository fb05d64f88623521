// Package replay implements the zero-write read side of the pipeline:
// top-K, per-batch, and leaderboard views over a season's walk-forward
// results, read either from the live artifacts tree or from a frozen
// season's export tree. Every function here only reads. The package does
// not import pkg/atomicfile itself, but it imports internal/governance,
// whose stores do write; LiveBatches only calls Index on the SeasonStore
// it is given.
package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/aristath/fishbro/internal/governance"
	"github.com/aristath/fishbro/internal/wfs"
)

// Card is one fold result, carrying the batch/strategy/dataset context
// it was produced under.
type Card struct {
	BatchID    string             `json:"batch_id"`
	StrategyID string             `json:"strategy_id"`
	DatasetID  string             `json:"dataset_id"`
	SplitIndex int                `json:"split_index"`
	CandidateID string            `json:"candidate_id"`
	Score      float64            `json:"score"`
	Metrics    map[string]float64 `json:"metrics"`
}

// BatchView is one batch's full set of cards, in ranked order.
type BatchView struct {
	BatchID string `json:"batch_id"`
	Cards   []Card `json:"cards"`
}

// batchSummaryFile is the on-disk shape of a batch's summary.json, one
// wfs.Summary per successful job in the batch.
type batchSummaryFile struct {
	BatchID string        `json:"batch_id"`
	Results []wfs.Summary `json:"results"`
}

// readBatchSummaries decodes a batch's summary.json from dir.
func readBatchSummaries(dir string) ([]wfs.Summary, error) {
	data, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	if err != nil {
		return nil, err
	}
	var file batchSummaryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("replay: parse summary.json in %s: %w", dir, err)
	}
	return file.Results, nil
}

func cardsFromSummaries(batchID string, summaries []wfs.Summary) []Card {
	var cards []Card
	for _, s := range summaries {
		for _, fold := range s.TopK {
			cards = append(cards, Card{
				BatchID: batchID, StrategyID: s.StrategyID, DatasetID: s.DatasetID,
				SplitIndex: fold.SplitIndex, CandidateID: fold.CandidateID,
				Score: fold.Score, Metrics: fold.Metrics,
			})
		}
	}
	return cards
}

// less is the fixed canonical ordering: score descending, then
// candidate_id ascending as a deterministic tiebreak.
func less(a, b Card) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.CandidateID < b.CandidateID
}

func sortCards(cards []Card) []Card {
	sorted := append([]Card{}, cards...)
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	return sorted
}

// LiveBatches lists the season's current batch ids from the season
// index (unfrozen or frozen, whatever the live state is) and reads each
// batch's cards from the artifacts tree.
func LiveBatches(artifactsRoot string, seasons *governance.SeasonStore, season string) ([]BatchView, error) {
	idx, err := seasons.Index(season)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, nil
	}
	var views []BatchView
	for _, batchID := range idx.Batches {
		summaries, err := readBatchSummaries(filepath.Join(artifactsRoot, batchID))
		if err != nil {
			return nil, err
		}
		views = append(views, BatchView{BatchID: batchID, Cards: sortCards(cardsFromSummaries(batchID, summaries))})
	}
	return views, nil
}

// ExportBatches reads the same view from a frozen season's export tree
// instead of the live artifacts tree.
func ExportBatches(exportsRoot, season string) ([]BatchView, error) {
	batchesDir := filepath.Join(exportsRoot, "seasons", season, "batches")
	entries, err := os.ReadDir(batchesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)

	var views []BatchView
	for _, batchID := range ids {
		summaries, err := readBatchSummaries(filepath.Join(batchesDir, batchID))
		if err != nil {
			return nil, err
		}
		views = append(views, BatchView{BatchID: batchID, Cards: sortCards(cardsFromSummaries(batchID, summaries))})
	}
	return views, nil
}

// TopK flattens every batch's cards and returns the k best by the
// canonical ordering key, across the whole season.
func TopK(views []BatchView, k int) []Card {
	var all []Card
	for _, v := range views {
		all = append(all, v.Cards...)
	}
	sorted := sortCards(all)
	if k > 0 && len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

// Leaderboard groups every batch's cards by strategy_id, each group
// ranked by the canonical ordering key.
func Leaderboard(views []BatchView) map[string][]Card {
	grouped := map[string][]Card{}
	for _, v := range views {
		for _, c := range v.Cards {
			grouped[c.StrategyID] = append(grouped[c.StrategyID], c)
		}
	}
	for strategyID, cards := range grouped {
		grouped[strategyID] = sortCards(cards)
	}
	return grouped
}
