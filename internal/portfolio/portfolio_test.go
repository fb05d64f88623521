package portfolio

import (
	"testing"

	"github.com/aristath/fishbro/internal/candidates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func specExampleCandidates(t *testing.T) []candidates.Candidate {
	t.Helper()
	a, err := candidates.New("cA1", "stratA", "ds1", "b1", nil, 0.9, nil, nil)
	require.NoError(t, err)
	b, err := candidates.New("cB1", "stratB", "ds1", "b2", nil, 0.9, nil, nil)
	require.NoError(t, err)
	c, err := candidates.New("cA2", "stratA", "ds2", "b1", nil, 0.8, nil, nil)
	require.NoError(t, err)
	return []candidates.Candidate{a, b, c}
}

func TestSelect_SpecExampleUniverseOrdering(t *testing.T) {
	cfg := Config{TopN: 10, MaxPerStrategy: 5, MaxPerDataset: 5}
	universe := Select(specExampleCandidates(t), cfg)
	require.Len(t, universe, 3)
	assert.Equal(t, "cA1", universe[0].CandidateID)
	assert.Equal(t, "cB1", universe[1].CandidateID)
	assert.Equal(t, "cA2", universe[2].CandidateID)
}

func TestWeight_SpecExampleBucketEqualSplit(t *testing.T) {
	cfg := Config{BucketBy: []string{"dataset_id"}}
	universe := Select(specExampleCandidates(t), Config{TopN: 10, MaxPerStrategy: 5, MaxPerDataset: 5})
	weights, buckets, _ := Weight(universe, cfg)

	assert.InDelta(t, 0.25, weights["cA1"], 1e-9)
	assert.InDelta(t, 0.25, weights["cB1"], 1e-9)
	assert.InDelta(t, 0.5, weights["cA2"], 1e-9)
	assert.Len(t, buckets, 2)
}

func TestWeight_ClipsAboveMaxAndRenormalizes(t *testing.T) {
	universe := Select(specExampleCandidates(t), Config{TopN: 10, MaxPerStrategy: 5, MaxPerDataset: 5})
	cfg := Config{BucketBy: []string{"dataset_id"}, MaxWeight: 0.35}
	weights, _, report := Weight(universe, cfg)

	sum := 0.0
	for _, w := range weights {
		assert.LessOrEqual(t, w, 0.35+1e-6)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.NotEmpty(t, report.Clipped)
}

func TestDerivePlanID_DeterministicAndStable(t *testing.T) {
	source := Source{ExportManifestSHA256: "abc", CandidatesSHA256: "def"}
	cfg := Config{TopN: 10, MaxPerStrategy: 5, MaxPerDataset: 5, Weighting: "bucket_equal"}

	id1, err := DerivePlanID(source, cfg)
	require.NoError(t, err)
	id2, err := DerivePlanID(source, cfg)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestBuildAndWrite_IdempotentRerun(t *testing.T) {
	dir := t.TempDir()
	universe := specExampleCandidates(t)
	source := Source{ExportManifestSHA256: "abc", CandidatesSHA256: "def"}
	cfg := Config{TopN: 10, MaxPerStrategy: 5, MaxPerDataset: 5, BucketBy: []string{"dataset_id"}}

	plan, err := Build(universe, source, cfg)
	require.NoError(t, err)

	id1, err := Write(dir, plan)
	require.NoError(t, err)

	id2, err := Write(dir, plan)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestComputeQuality_GradesGreenForWellDiversifiedPlan(t *testing.T) {
	plan := Plan{
		Weights: Weights{"a": 0.1, "b": 0.1, "c": 0.1, "d": 0.1, "e": 0.1, "f": 0.1, "g": 0.1, "h": 0.1, "i": 0.1, "j": 0.1},
		Buckets: []BucketSummary{{Key: "ds1"}, {Key: "ds2"}},
	}
	q := ComputeQuality(plan, 2)
	assert.Equal(t, GradeGreen, q.Grade)
}

func TestWriteQuality_NoOpWhenUnchanged(t *testing.T) {
	dir := t.TempDir()
	quality := Quality{Top1Score: 0.9, EffectiveN: 5, BucketCoverage: 1, Grade: GradeGreen}

	require.NoError(t, WriteQuality(dir, quality))
	require.NoError(t, WriteQuality(dir, quality)) // second call must not error or rewrite
}

func TestRenderPlanView_ProducesMarkdownTable(t *testing.T) {
	plan := Plan{PlanID: "plan_abc", Buckets: []BucketSummary{{Key: "ds1", CandidateIDs: []string{"c1"}, TotalWeight: 0.5}}}
	quality := Quality{Grade: GradeYellow}

	view, markdown := RenderPlanView(plan, quality)
	assert.Equal(t, "plan_abc", view.PlanID)
	assert.Contains(t, markdown, "ds1")
}
