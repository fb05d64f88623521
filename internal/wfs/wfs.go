// Package wfs implements the Walk-Forward Split engine: it carves a
// feature bundle's covered bars into deterministic train/test folds,
// invokes a strategy's capability function on each, and aggregates the
// results into a ranked summary and a replay index. No wall-clock input
// ever enters a computation; ties break on a fixed deterministic key.
package wfs

import (
	"fmt"
	"sort"

	"github.com/aristath/fishbro/internal/errs"
	"github.com/aristath/fishbro/internal/features"
	"github.com/aristath/fishbro/internal/registry"
)

// Config controls how a bundle's bars are sliced into folds.
type Config struct {
	TrainBars int
	TestBars  int
	Embargo   int // bars skipped between train and test windows
	TopK      int
}

// Split is one walk-forward fold expressed as index bounds into the
// reference timeframe's timestamp array.
type Split struct {
	Index      int
	TrainStart int
	TrainEnd   int
	TestStart  int
	TestEnd    int
}

// BuildSplits derives the deterministic fold boundaries for nBars total
// bars. Folds walk forward by TestBars each step; the last fold that
// still fits entirely within nBars is kept.
func BuildSplits(nBars int, cfg Config) []Split {
	var splits []Split
	idx := 0
	trainStart := 0
	for {
		trainEnd := trainStart + cfg.TrainBars
		testStart := trainEnd + cfg.Embargo
		testEnd := testStart + cfg.TestBars
		if testEnd > nBars {
			break
		}
		splits = append(splits, Split{Index: idx, TrainStart: trainStart, TrainEnd: trainEnd, TestStart: testStart, TestEnd: testEnd})
		idx++
		trainStart += cfg.TestBars
	}
	return splits
}

// referenceTimeframe picks the deterministic timeframe to size folds
// against: the smallest timeframe present in the bundle, so the split
// boundaries are as fine-grained as the finest required feature.
func referenceTimeframe(bundle features.Bundle) int {
	min := -1
	for k := range bundle.Series {
		if min == -1 || k.TimeframeMin < min {
			min = k.TimeframeMin
		}
	}
	return min
}

func referenceLength(bundle features.Bundle, tf int) int {
	max := 0
	for k, s := range bundle.Series {
		if k.TimeframeMin != tf {
			continue
		}
		if len(s.Timestamps) > max {
			max = len(s.Timestamps)
		}
	}
	return max
}

// FoldResult is one split's strategy invocation outcome.
type FoldResult struct {
	SplitIndex int                `json:"split_index"`
	CandidateID string           `json:"candidate_id"`
	Score      float64            `json:"score"`
	Metrics    map[string]float64 `json:"metrics"`
}

// Summary is the ranked top-K plus aggregate metrics over all folds.
type Summary struct {
	StrategyID string             `json:"strategy_id"`
	DatasetID  string             `json:"dataset_id"`
	TopK       []FoldResult       `json:"top_k"`
	Aggregate  map[string]float64 `json:"aggregate_metrics"`
}

// Index records which job (fold) produced which candidate, preserving
// the fold ordering used to build Summary.TopK.
type Index struct {
	Folds []FoldResult `json:"folds"`
}

func candidateID(strategyID, datasetID string, splitIdx int) string {
	return fmt.Sprintf("%s_%s_fold%04d", strategyID, datasetID, splitIdx)
}

// Run checks the strategy's feature requirements against the bundle,
// then invokes the strategy once per split, producing a deterministically
// ordered Summary and the underlying fold Index.
func Run(spec registry.StrategySpec, bundle features.Bundle, datasetID string, cfg Config, params map[string]any) (Summary, Index, error) {
	reqs := spec.FeatureRequirements()
	for _, req := range reqs.Required {
		key := features.Key{Name: req.Name, TimeframeMin: req.TimeframeMin}
		if _, ok := bundle.Series[key]; !ok {
			return Summary{}, Index{}, &errs.MissingFeatures{Missing: []errs.FeatureRef{req}}
		}
	}

	tf := referenceTimeframe(bundle)
	n := referenceLength(bundle, tf)
	splits := BuildSplits(n, cfg)

	var folds []FoldResult
	for _, split := range splits {
		input := registry.StrategyInput{
			DatasetID: datasetID, Bundle: bundle, FoldIndex: split.Index,
			TestStart: split.TestStart, TestEnd: split.TestEnd,
		}
		out, err := spec.Fn(input, params)
		if err != nil {
			return Summary{}, Index{}, fmt.Errorf("wfs: strategy %s fold %d: %w", spec.StrategyID, split.Index, err)
		}
		folds = append(folds, FoldResult{
			SplitIndex:  split.Index,
			CandidateID: candidateID(spec.StrategyID, datasetID, split.Index),
			Score:       out.Score,
			Metrics:     out.Metrics,
		})
	}

	topK := rankedTopK(folds, cfg.TopK)
	aggregate := aggregateMetrics(folds)

	return Summary{StrategyID: spec.StrategyID, DatasetID: datasetID, TopK: topK, Aggregate: aggregate},
		Index{Folds: folds}, nil
}

// rankedTopK sorts folds by score descending, breaking ties on
// candidate_id ascending (a fixed, deterministic tiebreak independent of
// invocation order), and truncates to k.
func rankedTopK(folds []FoldResult, k int) []FoldResult {
	sorted := append([]FoldResult{}, folds...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].CandidateID < sorted[j].CandidateID
	})
	if k > 0 && len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

func aggregateMetrics(folds []FoldResult) map[string]float64 {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, f := range folds {
		for name, v := range f.Metrics {
			sums[name] += v
			counts[name]++
		}
	}
	out := make(map[string]float64, len(sums))
	for name, sum := range sums {
		out[name] = sum / float64(counts[name])
	}
	return out
}
