package bars

import (
	"testing"

	"github.com/aristath/fishbro/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minuteBars(startMinute, count int) []RawBar {
	out := make([]RawBar, count)
	for i := 0; i < count; i++ {
		ts := int64((startMinute + i) * 60)
		out[i] = RawBar{TimestampUnix: ts, Open: 1, High: 1.5, Low: 0.5, Close: 1.2, Volume: 10}
	}
	return out
}

func TestNormalize_SortsAndDropsOutOfSession(t *testing.T) {
	raw := []RawBar{
		{TimestampUnix: 120, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
		{TimestampUnix: 60, Open: 2, High: 2, Low: 2, Close: 2, Volume: 1},
		{TimestampUnix: 0, Open: 3, High: 3, Low: 3, Close: 3, Volume: 1}, // minute 0, before the open
	}
	session := Session{OpenMinute: 1, CloseMinute: 24 * 60}
	out := Normalize(raw, session)
	require.Len(t, out, 2)
	assert.Equal(t, int64(60), out[0].TimestampUnix)
	assert.Equal(t, int64(120), out[1].TimestampUnix)
}

func TestNormalize_DeduplicatesSameTimestamp(t *testing.T) {
	raw := []RawBar{
		{TimestampUnix: 60, Close: 1},
		{TimestampUnix: 60, Close: 2},
	}
	out := Normalize(raw, DefaultSession)
	require.Len(t, out, 1)
	assert.Equal(t, 2.0, out[0].Close)
}

func TestResample_AggregatesOHLCV(t *testing.T) {
	raw := minuteBars(0, 30) // 30 one-minute bars starting at minute 0
	normalized := Normalize(raw, DefaultSession)
	out := Resample(normalized, 15, DefaultSession)
	require.Len(t, out, 2)
	assert.Equal(t, int64(0), out[0].TimestampUnix)
	assert.Equal(t, int64(900), out[1].TimestampUnix)
	assert.InDelta(t, 150.0, out[0].Volume, 1e-9) // 15 bars * 10 volume
}

func TestBuildFull_ProducesAllTimeframes(t *testing.T) {
	raw := minuteBars(0, 500)
	result, err := BuildFull(raw, DefaultSession)
	require.NoError(t, err)
	for _, tf := range Timeframes {
		assert.NotEmpty(t, result.Resampled[tf], "timeframe %d", tf)
	}
	assert.NotEmpty(t, result.Manifest.FingerprintIndex.Days)
}

func TestBuildIncremental_NoChangeReturnsCachedShape(t *testing.T) {
	raw := minuteBars(0, 100)
	full, err := BuildFull(raw, DefaultSession)
	require.NoError(t, err)

	incr, err := BuildIncremental(full, raw, DefaultSession)
	require.NoError(t, err)
	assert.Equal(t, modeIncrement, incr.Manifest.Mode)
}

func TestBuildIncremental_AppendOnlyMatchesFullOverCoveredRange(t *testing.T) {
	firstDay := minuteBars(0, 200)
	full, err := BuildFull(firstDay, DefaultSession)
	require.NoError(t, err)

	secondDay := minuteBars(1440, 200) // next calendar day, 1440 minutes later
	allBars := append(append([]RawBar{}, firstDay...), secondDay...)

	incr, err := BuildIncremental(full, allBars, DefaultSession)
	require.NoError(t, err)

	fromScratch, err := BuildFull(allBars, DefaultSession)
	require.NoError(t, err)

	assert.Equal(t, fromScratch.Normalized, incr.Normalized)
	for _, tf := range Timeframes {
		assert.Equal(t, fromScratch.Resampled[tf], incr.Resampled[tf])
	}
}

func TestBuildIncremental_HistoricalChangeRejected(t *testing.T) {
	raw := minuteBars(0, 100)
	full, err := BuildFull(raw, DefaultSession)
	require.NoError(t, err)

	mutated := minuteBars(0, 100)
	mutated[0].Close = 999

	_, err = BuildIncremental(full, mutated, DefaultSession)
	require.Error(t, err)
	var rejected *errs.IncrementalRejected
	assert.ErrorAs(t, err, &rejected)
}
