package shared

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/fishbro/internal/bars"
	"github.com/aristath/fishbro/internal/features"
	"github.com/aristath/fishbro/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	raw []bars.RawBar
}

func (f fakeSource) ReadRawBars(ctx context.Context, path string) ([]bars.RawBar, error) {
	return f.raw, nil
}

func minuteRawBars(n int) []bars.RawBar {
	out := make([]bars.RawBar, n)
	for i := 0; i < n; i++ {
		ts := int64(i * 60)
		out[i] = bars.RawBar{TimestampUnix: ts, Open: 1, High: 1.5, Low: 0.5, Close: 1.2, Volume: 10}
	}
	return out
}

func testRegistry() *features.Registry {
	reg := features.NewRegistry()
	reg.Bind("ret_simple", 15, features.Spec{Name: "ret_simple", TimeframeMin: 15, Window: 1, Family: features.FamilyOther},
		func(b []bars.Bar) []float64 { return features.RollingReturns(b, false) })
	return reg
}

func newTestStore(t *testing.T, raw []bars.RawBar) *Store {
	t.Helper()
	return NewStore(t.TempDir(), fakeSource{raw: raw}, testRegistry(), bars.DefaultSession)
}

func TestManifests_NotFoundBeforeBuild(t *testing.T) {
	store := newTestStore(t, minuteRawBars(30))
	info, ok, err := store.Manifests().Load("2026Q1", "ds1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "", info.TSDtype)
}

func TestBuild_WritesBarsAndFeaturesCaches(t *testing.T) {
	store := newTestStore(t, minuteRawBars(60))
	err := store.Build(context.Background(), "2026Q1", "ds1", resolver.BuildContext{TxtPath: "fixture.json"})
	require.NoError(t, err)

	info, ok, err := store.Manifests().Load("2026Q1", "ds1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "datetime64[s]", info.TSDtype)
	assert.Equal(t, "drop", info.BreaksPolicy)

	bundle, err := store.Bundles().Load("2026Q1", "ds1", []features.Requirement{{Name: "ret_simple", TimeframeMin: 15}})
	require.NoError(t, err)
	series, ok := bundle.Series[features.Key{Name: "ret_simple", TimeframeMin: 15}]
	require.True(t, ok)
	assert.NotEmpty(t, series.Values)
}

func TestBuild_IncrementalRunExtendsExistingCache(t *testing.T) {
	store := newTestStore(t, minuteRawBars(60))
	require.NoError(t, store.Build(context.Background(), "2026Q1", "ds1", resolver.BuildContext{TxtPath: "fixture.json"}))

	store.Source = fakeSource{raw: minuteRawBars(90)}
	require.NoError(t, store.Build(context.Background(), "2026Q1", "ds1", resolver.BuildContext{TxtPath: "fixture.json"}))

	_, ok, err := store.Manifests().Load("2026Q1", "ds1")
	require.NoError(t, err)
	assert.True(t, ok)

	manifestPath := filepath.Join(store.datasetDir("2026Q1", "ds1"), "features", featuresManifestFile)
	data, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	var manifest features.Manifest
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, "INCREMENTAL", manifest.Mode)
	assert.NotEmpty(t, manifest.LookbackRewindByTF)
}

func TestBuild_RejectsMissingTxtPath(t *testing.T) {
	store := newTestStore(t, minuteRawBars(10))
	err := store.Build(context.Background(), "2026Q1", "ds1", resolver.BuildContext{})
	require.Error(t, err)
}

func TestDatasetDir_NestsUnderSeasonAndDataset(t *testing.T) {
	store := newTestStore(t, nil)
	got := store.datasetDir("2026Q1", "ds1")
	assert.Equal(t, filepath.Join(store.Root, "2026Q1", "ds1"), got)
}
