package resolver

import (
	"context"
	"testing"

	"github.com/aristath/fishbro/internal/errs"
	"github.com/aristath/fishbro/internal/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeManifests struct {
	info   ManifestInfo
	exists bool
	err    error
}

func (f fakeManifests) Load(season, datasetID string) (ManifestInfo, bool, error) {
	return f.info, f.exists, f.err
}

type fakeBuilder struct {
	called bool
	err    error
	onBuild func()
}

func (f *fakeBuilder) Build(ctx context.Context, season, datasetID string, bc BuildContext) error {
	f.called = true
	if f.onBuild != nil {
		f.onBuild()
	}
	return f.err
}

type fakeBundles struct {
	bundle features.Bundle
	err    error
}

func (f fakeBundles) Load(season, datasetID string, reqs []features.Requirement) (features.Bundle, error) {
	return f.bundle, f.err
}

func reqs(name string, tf int) features.Requirement {
	return features.Requirement{Name: name, TimeframeMin: tf}
}

func bundleWith(keys ...features.Key) features.Bundle {
	b := features.Bundle{Series: map[features.Key]features.Series{}}
	for _, k := range keys {
		b.Series[k] = features.Series{}
	}
	return b
}

func TestResolve_MissingManifestNoBuildFails(t *testing.T) {
	r := New(fakeManifests{exists: false}, &fakeBuilder{}, fakeBundles{})
	required := features.Requirements{Required: []features.Requirement{reqs("atr_14", 60)}}

	_, built, err := r.Resolve(context.Background(), "s1", "ds1", required, false, nil)
	require.Error(t, err)
	assert.False(t, built)
	var mf *errs.MissingFeatures
	assert.ErrorAs(t, err, &mf)
}

func TestResolve_ManifestMismatchOnTSDtype(t *testing.T) {
	r := New(fakeManifests{exists: true, info: ManifestInfo{TSDtype: "wrong", BreaksPolicy: "drop"}}, &fakeBuilder{}, fakeBundles{})
	required := features.Requirements{Required: []features.Requirement{reqs("atr_14", 60)}}

	_, _, err := r.Resolve(context.Background(), "s1", "ds1", required, false, nil)
	require.Error(t, err)
	var mm *errs.ManifestMismatch
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, "ts_dtype", mm.Field)
}

func TestResolve_HappyPathNoBuildNeeded(t *testing.T) {
	key := features.Key{Name: "atr_14", TimeframeMin: 60}
	r := New(
		fakeManifests{exists: true, info: ManifestInfo{TSDtype: "datetime64[s]", BreaksPolicy: "drop"}},
		&fakeBuilder{},
		fakeBundles{bundle: bundleWith(key)},
	)
	required := features.Requirements{Required: []features.Requirement{reqs("atr_14", 60)}}

	bundle, built, err := r.Resolve(context.Background(), "s1", "ds1", required, false, nil)
	require.NoError(t, err)
	assert.False(t, built)
	assert.Contains(t, bundle.Series, key)
}

func TestResolve_MissingWithAllowBuildButNoContextFails(t *testing.T) {
	r := New(
		fakeManifests{exists: true, info: ManifestInfo{TSDtype: "datetime64[s]", BreaksPolicy: "drop"}},
		&fakeBuilder{},
		fakeBundles{bundle: features.Bundle{Series: map[features.Key]features.Series{}}},
	)
	required := features.Requirements{Required: []features.Requirement{reqs("atr_14", 60)}}

	_, _, err := r.Resolve(context.Background(), "s1", "ds1", required, true, nil)
	require.Error(t, err)
	var bna *errs.BuildNotAllowed
	assert.ErrorAs(t, err, &bna)
}

func TestResolve_BuildsAndReresolvesWhenMissing(t *testing.T) {
	key := features.Key{Name: "atr_14", TimeframeMin: 60}
	builder := &fakeBuilder{}
	bundles := fakeBundles{bundle: features.Bundle{Series: map[features.Key]features.Series{}}}
	manifests := fakeManifests{exists: false}
	r := New(manifests, builder, bundles)

	// Simulate the builder's effect by swapping the bundle loader's
	// backing bundle after Build is invoked.
	r.Bundles = &swappingBundles{before: bundles, after: fakeBundles{bundle: bundleWith(key)}}
	builder.onBuild = func() {
		r.Bundles.(*swappingBundles).built = true
	}

	required := features.Requirements{Required: []features.Requirement{reqs("atr_14", 60)}}
	bc := &BuildContext{TxtPath: "/data/raw.txt"}

	bundle, built, err := r.Resolve(context.Background(), "s1", "ds1", required, true, bc)
	require.NoError(t, err)
	assert.True(t, built)
	assert.True(t, builder.called)
	assert.Contains(t, bundle.Series, key)
}

type swappingBundles struct {
	before, after fakeBundles
	built         bool
}

func (s *swappingBundles) Load(season, datasetID string, reqs []features.Requirement) (features.Bundle, error) {
	if s.built {
		return s.after.Load(season, datasetID, reqs)
	}
	return s.before.Load(season, datasetID, reqs)
}
