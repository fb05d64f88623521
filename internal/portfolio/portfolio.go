// Package portfolio implements the Portfolio Planner: candidate
// selection under per-strategy/per-dataset caps, bucket_equal weighting
// with iterative clip/renormalize, and the four-file hash-chained plan
// package. A second build with identical inputs is idempotent; it never
// rewrites an existing plan directory.
package portfolio

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/fishbro/internal/candidates"
)

// Config is the planner's full input configuration.
type Config struct {
	TopN           int
	MaxPerStrategy int
	MaxPerDataset  int
	Weighting      string // only "bucket_equal" is implemented
	BucketBy       []string
	MaxWeight      float64
	MinWeight      float64
}

// DefaultBucketBy is used when Config.BucketBy is empty.
var DefaultBucketBy = []string{"dataset_id"}

const maxClipIterations = 50

// Select applies the top_n/max_per_strategy/max_per_dataset constraints
// over the canonically sorted candidate list, returning the admitted
// universe in canonical order.
func Select(all []candidates.Candidate, cfg Config) []candidates.Candidate {
	sorted := candidates.Sort(all)
	var universe []candidates.Candidate
	perStrategy := map[string]int{}
	perDataset := map[string]int{}

	for _, c := range sorted {
		if cfg.TopN > 0 && len(universe) >= cfg.TopN {
			break
		}
		if cfg.MaxPerStrategy > 0 && perStrategy[c.StrategyID] >= cfg.MaxPerStrategy {
			continue
		}
		if cfg.MaxPerDataset > 0 && perDataset[c.DatasetID] >= cfg.MaxPerDataset {
			continue
		}
		universe = append(universe, c)
		perStrategy[c.StrategyID]++
		perDataset[c.DatasetID]++
	}
	return universe
}

func bucketKey(c candidates.Candidate, bucketBy []string) string {
	var key string
	for _, field := range bucketBy {
		switch field {
		case "dataset_id":
			key += "|" + c.DatasetID
		case "strategy_id":
			key += "|" + c.StrategyID
		case "source_batch":
			key += "|" + c.SourceBatch
		}
	}
	return key
}

// Weights maps candidate_id to its final (quantized) weight.
type Weights map[string]float64

// ClipEvent records one clipping action for the constraints report.
type ClipEvent struct {
	CandidateID string  `json:"candidate_id"`
	Bound       string  `json:"bound"` // "max" or "min"
	Value       float64 `json:"value"`
}

// ConstraintsReport summarizes what the weighting pass had to adjust.
type ConstraintsReport struct {
	Clipped              []ClipEvent `json:"clipped"`
	RenormalizationFactor float64    `json:"renormalization_factor"`
	Iterations            int        `json:"iterations"`
}

// BucketSummary reports one bucket's membership and total weight.
type BucketSummary struct {
	Key          string   `json:"bucket_key"`
	CandidateIDs []string `json:"candidate_ids"`
	TotalWeight  float64  `json:"total_weight"`
}

// Weight applies bucket_equal weighting to universe: each bucket (keyed
// by BucketBy, default [dataset_id]) gets weight 1/|buckets|, split
// equally among its members; weights are then iteratively clipped to
// [MinWeight, MaxWeight] and renormalized until stable.
func Weight(universe []candidates.Candidate, cfg Config) (Weights, []BucketSummary, ConstraintsReport) {
	bucketBy := cfg.BucketBy
	if len(bucketBy) == 0 {
		bucketBy = DefaultBucketBy
	}

	buckets := map[string][]candidates.Candidate{}
	var bucketOrder []string
	for _, c := range universe {
		key := bucketKey(c, bucketBy)
		if _, seen := buckets[key]; !seen {
			bucketOrder = append(bucketOrder, key)
		}
		buckets[key] = append(buckets[key], c)
	}

	weights := Weights{}
	nBuckets := float64(len(buckets))
	for _, key := range bucketOrder {
		members := buckets[key]
		bucketWeight := 0.0
		if nBuckets > 0 {
			bucketWeight = 1.0 / nBuckets
		}
		per := bucketWeight / float64(len(members))
		for _, c := range members {
			weights[c.CandidateID] = per
		}
	}

	report := ConstraintsReport{}
	if cfg.MaxWeight > 0 || cfg.MinWeight > 0 {
		report = clipAndRenormalize(weights, cfg)
	}

	for id, w := range weights {
		weights[id] = quantize12(w)
	}

	var summaries []BucketSummary
	for _, key := range bucketOrder {
		members := buckets[key]
		ids := make([]string, len(members))
		total := 0.0
		for i, c := range members {
			ids[i] = c.CandidateID
			total += weights[c.CandidateID]
		}
		summaries = append(summaries, BucketSummary{Key: key, CandidateIDs: ids, TotalWeight: quantize12(total)})
	}

	return weights, summaries, report
}

// clipAndRenormalize projects the weight vector into [MinWeight,
// MaxWeight] and rescales it back onto the simplex, iterating until a
// pass clips nothing. The weight vector itself is a gonum mat.VecDense
// so the clip and renormalize steps are vector ops (SetVec/AtVec/
// ScaleVec, mat.Sum) rather than a hand-rolled map walk.
func clipAndRenormalize(weights Weights, cfg Config) ConstraintsReport {
	ids := sortedKeys(weights)
	if len(ids) == 0 {
		return ConstraintsReport{}
	}

	vec := mat.NewVecDense(len(ids), nil)
	for i, id := range ids {
		vec.SetVec(i, weights[id])
	}

	var clipped []ClipEvent
	for iter := 0; iter < maxClipIterations; iter++ {
		changed := false
		for i, id := range ids {
			w := vec.AtVec(i)
			if cfg.MaxWeight > 0 && w > cfg.MaxWeight {
				vec.SetVec(i, cfg.MaxWeight)
				clipped = append(clipped, ClipEvent{CandidateID: id, Bound: "max", Value: cfg.MaxWeight})
				changed = true
			} else if cfg.MinWeight > 0 && w < cfg.MinWeight {
				vec.SetVec(i, cfg.MinWeight)
				clipped = append(clipped, ClipEvent{CandidateID: id, Bound: "min", Value: cfg.MinWeight})
				changed = true
			}
		}
		sum := mat.Sum(vec)
		if sum == 0 {
			break
		}
		if !changed && floatsEqual(sum, 1.0) {
			writeBackWeights(weights, ids, vec)
			return ConstraintsReport{Clipped: clipped, RenormalizationFactor: 1.0, Iterations: iter + 1}
		}
		factor := 1.0 / sum
		vec.ScaleVec(factor, vec)
		if !changed {
			writeBackWeights(weights, ids, vec)
			return ConstraintsReport{Clipped: clipped, RenormalizationFactor: factor, Iterations: iter + 1}
		}
	}
	writeBackWeights(weights, ids, vec)
	return ConstraintsReport{Clipped: clipped, RenormalizationFactor: 1.0, Iterations: maxClipIterations}
}

func writeBackWeights(weights Weights, ids []string, vec *mat.VecDense) {
	for i, id := range ids {
		weights[id] = vec.AtVec(i)
	}
}

func sortedKeys(w Weights) []string {
	out := make([]string, 0, len(w))
	for k := range w {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func floatsEqual(a, b float64) bool {
	const eps = 1e-9
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < eps
}

// quantize12 matches pkg/canon's float quantization so in-memory weight
// values agree with what gets written to disk.
func quantize12(f float64) float64 {
	const scale = 1e12
	return math.Round(f*scale) / scale
}
