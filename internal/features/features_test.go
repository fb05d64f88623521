package features

import (
	"math"
	"testing"

	"github.com/aristath/fishbro/internal/bars"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeBars(n int, base float64) []bars.Bar {
	out := make([]bars.Bar, n)
	for i := 0; i < n; i++ {
		c := base + float64(i)*0.1
		out[i] = bars.Bar{TimestampUnix: int64(i * 60), Open: c, High: c + 0.2, Low: c - 0.2, Close: c, Volume: 100 + float64(i)}
	}
	return out
}

func TestSafeDiv_ZeroDenominatorYieldsNaN(t *testing.T) {
	assert.True(t, math.IsNaN(SafeDiv(1, 0)))
	assert.Equal(t, 2.0, SafeDiv(4, 2))
}

func TestATR_WarmupIsTripleWindow(t *testing.T) {
	b := makeBars(60, 100)
	out := ATR(b, 14)
	for i := 0; i < 42; i++ {
		assert.True(t, math.IsNaN(out[i]), "index %d should be NaN", i)
	}
}

func TestRollingReturns_LogAndSimple(t *testing.T) {
	b := makeBars(10, 100)
	logRet := RollingReturns(b, true)
	simpleRet := RollingReturns(b, false)
	assert.True(t, math.IsNaN(logRet[0]))
	assert.True(t, math.IsNaN(simpleRet[0]))
	assert.False(t, math.IsNaN(logRet[1]))
	assert.False(t, math.IsNaN(simpleRet[1]))
}

func TestRollingZScore_WarmupIsWindow(t *testing.T) {
	values := make([]float64, 30)
	for i := range values {
		values[i] = float64(i)
	}
	out := RollingZScore(values, 10)
	for i := 0; i < 9; i++ {
		assert.True(t, math.IsNaN(out[i]))
	}
	assert.False(t, math.IsNaN(out[9]))
}

func TestSessionVWAP_MonotonicWeighting(t *testing.T) {
	b := makeBars(5, 100)
	out := SessionVWAP(b)
	require.Len(t, out, 5)
	for i, v := range out {
		assert.False(t, math.IsNaN(v))
		if i > 0 {
			assert.Greater(t, v, out[i-1], "rising prices must raise the cumulative VWAP at index %d", i)
		}
	}
}

func TestDonchianChannel_BoundsContainAllCloses(t *testing.T) {
	b := makeBars(40, 100)
	upper, lower := DonchianChannel(b, 20)
	for i := 19; i < 40; i++ {
		assert.GreaterOrEqual(t, upper[i], b[i].High)
		assert.LessOrEqual(t, lower[i], b[i].Low)
	}
}

func TestPercentileRank_BoundedZeroOne(t *testing.T) {
	b := makeBars(60, 100)
	out := PercentileRank(b, 50)
	for i := 49; i < 60; i++ {
		assert.GreaterOrEqual(t, out[i], 0.0)
		assert.LessOrEqual(t, out[i], 1.0)
	}
}

func TestStandardRegistry_BuildFull(t *testing.T) {
	reg := StandardRegistry(60)
	b := makeBars(200, 100)
	barsByTF := map[int][]bars.Bar{60: b}
	reqs := []Requirement{{Name: "atr_14", TimeframeMin: 60}, {Name: "zscore_20", TimeframeMin: 60}}

	bundle, manifest, err := BuildFull(reg, barsByTF, reqs)
	require.NoError(t, err)
	assert.Len(t, bundle.Series, 2)
	assert.Equal(t, modeFull, manifest.Mode)
}

func TestBuildFull_MissingRequirementFails(t *testing.T) {
	reg := StandardRegistry(60)
	barsByTF := map[int][]bars.Bar{60: makeBars(10, 100)}
	reqs := []Requirement{{Name: "nope", TimeframeMin: 60}}

	_, _, err := BuildFull(reg, barsByTF, reqs)
	require.Error(t, err)
}

func TestBuildIncremental_SplicesOntoPrefix(t *testing.T) {
	reg := StandardRegistry(60)
	b1 := makeBars(100, 100)
	barsByTF1 := map[int][]bars.Bar{60: b1}
	reqs := []Requirement{{Name: "atr_14", TimeframeMin: 60}}

	bundle1, _, err := BuildFull(reg, barsByTF1, reqs)
	require.NoError(t, err)

	b2 := makeBars(130, 100) // first 100 identical by construction, 30 new
	barsByTF2 := map[int][]bars.Bar{60: b2}

	bundle2, manifest2, err := BuildIncremental(reg, bundle1, barsByTF2, reqs, map[int]int{60: 100})
	require.NoError(t, err)
	assert.Equal(t, modeIncrement, manifest2.Mode)
	assert.NotEmpty(t, manifest2.LookbackRewindByTF)

	fullRebuild, _, err := BuildFull(reg, barsByTF2, reqs)
	require.NoError(t, err)

	key := Key{Name: "atr_14", TimeframeMin: 60}
	assert.Equal(t, fullRebuild.Series[key].Values, bundle2.Series[key].Values)
}
