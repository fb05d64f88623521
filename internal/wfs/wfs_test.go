package wfs

import (
	"testing"

	"github.com/aristath/fishbro/internal/errs"
	"github.com/aristath/fishbro/internal/features"
	"github.com/aristath/fishbro/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSplits_WalksForwardWithEmbargo(t *testing.T) {
	cfg := Config{TrainBars: 50, TestBars: 10, Embargo: 5, TopK: 3}
	splits := BuildSplits(100, cfg)
	require.NotEmpty(t, splits)
	first := splits[0]
	assert.Equal(t, 0, first.TrainStart)
	assert.Equal(t, 50, first.TrainEnd)
	assert.Equal(t, 55, first.TestStart)
	assert.Equal(t, 65, first.TestEnd)
}

func bundleWithTimestamps(tf, n int) features.Bundle {
	ts := make([]int64, n)
	vals := make([]float64, n)
	for i := range ts {
		ts[i] = int64(i * 60)
		vals[i] = float64(i)
	}
	return features.Bundle{Series: map[features.Key]features.Series{
		{Name: "atr_14", TimeframeMin: tf}: {Timestamps: ts, Values: vals},
	}}
}

func scoringSpec(id string, scoreByFold map[int]float64) registry.StrategySpec {
	return registry.StrategySpec{
		StrategyID: id,
		FeatureRequirements: func() features.Requirements {
			return features.Requirements{Required: []features.Requirement{{Name: "atr_14", TimeframeMin: 60}}}
		},
		Fn: func(input registry.StrategyInput, params map[string]any) (registry.StrategyOutput, error) {
			return registry.StrategyOutput{Score: scoreByFold[input.FoldIndex], Metrics: map[string]float64{"sharpe": scoreByFold[input.FoldIndex]}}, nil
		},
	}
}

func TestRun_ProducesRankedTopKAndIndex(t *testing.T) {
	bundle := bundleWithTimestamps(60, 200)
	spec := scoringSpec("sma", map[int]float64{0: 0.5, 1: 0.9, 2: 0.3})
	cfg := Config{TrainBars: 50, TestBars: 10, Embargo: 0, TopK: 2}

	summary, index, err := Run(spec, bundle, "ds1", cfg, nil)
	require.NoError(t, err)
	require.Len(t, summary.TopK, 2)
	assert.Equal(t, 0.9, summary.TopK[0].Score)
	assert.Greater(t, len(index.Folds), 2)
}

func TestRun_MissingFeatureRequirementFails(t *testing.T) {
	bundle := features.Bundle{Series: map[features.Key]features.Series{}}
	spec := scoringSpec("sma", nil)
	_, _, err := Run(spec, bundle, "ds1", Config{TrainBars: 10, TestBars: 5, TopK: 1}, nil)
	require.Error(t, err)
	var mf *errs.MissingFeatures
	assert.ErrorAs(t, err, &mf)
}

func TestRankedTopK_TiesBreakOnCandidateIDAscending(t *testing.T) {
	folds := []FoldResult{
		{CandidateID: "b", Score: 1.0},
		{CandidateID: "a", Score: 1.0},
	}
	out := rankedTopK(folds, 2)
	assert.Equal(t, "a", out[0].CandidateID)
	assert.Equal(t, "b", out[1].CandidateID)
}
