package registry

import (
	"testing"

	"github.com/aristath/fishbro/internal/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dummySpec(id string) StrategySpec {
	return StrategySpec{
		StrategyID: id,
		Version:    "v1",
		FeatureRequirements: func() features.Requirements {
			return features.Requirements{Required: []features.Requirement{{Name: "atr_14", TimeframeMin: 60}}}
		},
		Fn: func(input StrategyInput, params map[string]any) (StrategyOutput, error) {
			return StrategyOutput{Score: 1.0}, nil
		},
	}
}

func TestBootstrap_IdempotentReplace(t *testing.T) {
	reg := NewStrategies()
	require.NoError(t, reg.Bootstrap(dummySpec("sma")))
	require.NoError(t, reg.Bootstrap(dummySpec("sma"))) // re-bootstrap, no error

	spec, ok := reg.Get("sma")
	require.True(t, ok)
	assert.Equal(t, "sma", spec.StrategyID)
}

func TestBootstrap_RejectsMissingFn(t *testing.T) {
	reg := NewStrategies()
	bad := dummySpec("x")
	bad.Fn = nil
	err := reg.Bootstrap(bad)
	require.Error(t, err)
}

func TestGet_UnknownStrategyNotFound(t *testing.T) {
	reg := NewStrategies()
	_, ok := reg.Get("nope")
	assert.False(t, ok)
}

func TestReload_ClearsRegistry(t *testing.T) {
	reg := NewStrategies()
	require.NoError(t, reg.Bootstrap(dummySpec("sma")))
	reg.Reload()
	_, ok := reg.Get("sma")
	assert.False(t, ok)
}

func TestPrimed_TrueOnlyAfterBootstrap(t *testing.T) {
	reg := NewStrategies()
	assert.False(t, reg.Primed())
	require.NoError(t, reg.Bootstrap(dummySpec("sma")))
	assert.True(t, reg.Primed())
}

func TestIDs_SortedAscending(t *testing.T) {
	reg := NewStrategies()
	require.NoError(t, reg.Bootstrap(dummySpec("zscore"), dummySpec("atr_breakout"), dummySpec("momentum_v1")))
	assert.Equal(t, []string{"atr_breakout", "momentum_v1", "zscore"}, reg.IDs())
}
