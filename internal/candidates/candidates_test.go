package candidates

import (
	"testing"

	"github.com/aristath/fishbro/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsForbiddenMetadataKey(t *testing.T) {
	_, err := New("c1", "sma", "ds1", "b1", map[string]any{"window": 20}, 0.9,
		map[string]any{"Symbol": "AAPL"}, nil)
	require.Error(t, err)
	var cv *errs.ContractViolation
	assert.ErrorAs(t, err, &cv)
}

func TestNew_AllowsCleanMetadata(t *testing.T) {
	c, err := New("c1", "sma", "ds1", "b1", map[string]any{"window": 20}, 0.9,
		map[string]any{"note": "trial run"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, c.ParamHash)
}

func TestSort_CanonicalOrderingFromSpecExample(t *testing.T) {
	a, _ := New("cA1", "stratA", "ds1", "b1", map[string]any{"p": 1}, 0.9, nil, nil)
	b, _ := New("cB1", "stratB", "ds1", "b2", map[string]any{"p": 1}, 0.9, nil, nil)
	c, _ := New("cA2", "stratA", "ds2", "b1", map[string]any{"p": 1}, 0.8, nil, nil)

	sorted := Sort([]Candidate{c, b, a})
	require.Len(t, sorted, 3)
	assert.Equal(t, "cA1", sorted[0].CandidateID)
	assert.Equal(t, "cB1", sorted[1].CandidateID)
	assert.Equal(t, "cA2", sorted[2].CandidateID)
}

func TestTopK_Truncates(t *testing.T) {
	a, _ := New("c1", "s", "d", "b", nil, 0.9, nil, nil)
	b, _ := New("c2", "s", "d", "b", nil, 0.8, nil, nil)
	c, _ := New("c3", "s", "d", "b", nil, 0.7, nil, nil)

	top := TopK([]Candidate{a, b, c}, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "c1", top[0].CandidateID)
}
