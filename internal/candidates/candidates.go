// Package candidates builds research candidates from WFS fold results,
// enforces the research/execution metadata boundary, and defines the
// canonical ordering every top-K, leaderboard, and export output shares.
package candidates

import (
	"sort"
	"strings"

	"github.com/aristath/fishbro/internal/errs"
	"github.com/aristath/fishbro/pkg/canon"
)

// DefaultForbiddenMetadataKeys are the venue-identifying keys a research
// candidate's metadata bag must never carry — the research/execution
// boundary.
var DefaultForbiddenMetadataKeys = []string{"symbol", "timeframe", "session_profile", "market", "exchange", "trading"}

// Candidate is one ranked strategy/dataset/param outcome.
type Candidate struct {
	CandidateID  string         `json:"candidate_id"`
	StrategyID   string         `json:"strategy_id"`
	DatasetID    string         `json:"dataset_id"`
	ParamHash    string         `json:"param_hash"`
	ResearchScore float64       `json:"research_score"`
	SourceBatch  string         `json:"source_batch"`
	Params       map[string]any `json:"params"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// New constructs a Candidate, rejecting any metadata key (case
// insensitive) that appears in forbidden. A nil forbidden list uses
// DefaultForbiddenMetadataKeys.
func New(candidateID, strategyID, datasetID, sourceBatch string, params map[string]any, score float64, metadata map[string]any, forbidden []string) (Candidate, error) {
	if forbidden == nil {
		forbidden = DefaultForbiddenMetadataKeys
	}
	forbiddenSet := make(map[string]struct{}, len(forbidden))
	for _, k := range forbidden {
		forbiddenSet[strings.ToLower(k)] = struct{}{}
	}
	for key := range metadata {
		if _, blocked := forbiddenSet[strings.ToLower(key)]; blocked {
			return Candidate{}, &errs.ContractViolation{Reason: "metadata key '" + key + "' crosses the research/execution boundary"}
		}
	}

	paramHash, err := canon.HashValue(params)
	if err != nil {
		return Candidate{}, err
	}

	return Candidate{
		CandidateID: candidateID, StrategyID: strategyID, DatasetID: datasetID,
		ParamHash: paramHash, ResearchScore: score, SourceBatch: sourceBatch,
		Params: params, Metadata: metadata,
	}, nil
}

// canonicalParams renders a candidate's params as canonical JSON text, used
// only as an ordering key (never as a hash).
func canonicalParams(c Candidate) string {
	b, err := canon.Marshal(c.Params)
	if err != nil {
		return ""
	}
	return string(b)
}

// Less implements the canonical candidate ordering: score desc ->
// strategy_id asc -> dataset_id asc -> source_batch asc -> canonical
// (params) asc -> candidate_id asc.
func Less(a, b Candidate) bool {
	if a.ResearchScore != b.ResearchScore {
		return a.ResearchScore > b.ResearchScore
	}
	if a.StrategyID != b.StrategyID {
		return a.StrategyID < b.StrategyID
	}
	if a.DatasetID != b.DatasetID {
		return a.DatasetID < b.DatasetID
	}
	if a.SourceBatch != b.SourceBatch {
		return a.SourceBatch < b.SourceBatch
	}
	pa, pb := canonicalParams(a), canonicalParams(b)
	if pa != pb {
		return pa < pb
	}
	return a.CandidateID < b.CandidateID
}

// Sort returns a new slice ordered by the canonical key.
func Sort(in []Candidate) []Candidate {
	out := append([]Candidate{}, in...)
	sort.Slice(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

// TopK returns the first k candidates of the canonically sorted input.
func TopK(in []Candidate, k int) []Candidate {
	sorted := Sort(in)
	if k > 0 && len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}
