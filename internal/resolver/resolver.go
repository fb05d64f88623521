// Package resolver implements the Feature Resolver contract: given a
// season, dataset, and a strategy's feature requirements, it loads (or,
// when permitted, builds) the feature bundle those requirements need. The
// resolver never reads the raw ingest input itself — only the features
// manifest and, through the injected Builder, the bars/feature pipeline.
package resolver

import (
	"context"
	"fmt"

	"github.com/aristath/fishbro/internal/errs"
	"github.com/aristath/fishbro/internal/features"
)

// ManifestInfo is the subset of a features manifest the resolver contract
// checks before trusting a cache.
type ManifestInfo struct {
	TSDtype      string
	BreaksPolicy string
}

// ManifestLoader loads the recorded features manifest for (season,
// datasetID), if one exists.
type ManifestLoader interface {
	Load(season, datasetID string) (ManifestInfo, bool, error)
}

// BuildContext carries what a build needs beyond (season, dataset): the
// Feature Resolver never reads it itself, only passes it to Builder.
type BuildContext struct {
	TxtPath string
}

// Builder runs the bars/feature pipeline for (season, datasetID) under
// bc, leaving a fresh manifest and feature cache on disk.
type Builder interface {
	Build(ctx context.Context, season, datasetID string, bc BuildContext) error
}

// BundleLoader loads a feature bundle for the given requirement set after
// a manifest is known to exist.
type BundleLoader interface {
	Load(season, datasetID string, reqs []features.Requirement) (features.Bundle, error)
}

// Resolver wires the three collaborators the contract depends on.
type Resolver struct {
	Manifests ManifestLoader
	Builder   Builder
	Bundles   BundleLoader
}

// New builds a Resolver from its three collaborators.
func New(manifests ManifestLoader, builder Builder, bundles BundleLoader) *Resolver {
	return &Resolver{Manifests: manifests, Builder: builder, Bundles: bundles}
}

func allRefs(reqs features.Requirements) []features.Requirement {
	return append(append([]features.Requirement{}, reqs.Required...), reqs.Optional...)
}

func missingFrom(bundle features.Bundle, reqs []features.Requirement) []errs.FeatureRef {
	var missing []errs.FeatureRef
	for _, req := range reqs {
		key := features.Key{Name: req.Name, TimeframeMin: req.TimeframeMin}
		if _, ok := bundle.Series[key]; !ok {
			missing = append(missing, req)
		}
	}
	return missing
}

// Resolve runs the ordered resolver contract checks (a)-(e) and returns
// the resolved bundle plus whether a build was performed.
func (r *Resolver) Resolve(ctx context.Context, season, datasetID string, reqs features.Requirements, allowBuild bool, bc *BuildContext) (features.Bundle, bool, error) {
	required := reqs.Required

	// (a) load the manifest.
	info, exists, err := r.Manifests.Load(season, datasetID)
	if err != nil {
		return features.Bundle{}, false, fmt.Errorf("resolver: load manifest: %w", err)
	}
	if !exists {
		if !allowBuild {
			return features.Bundle{}, false, &errs.MissingFeatures{Missing: required}
		}
		return r.buildAndReresolve(ctx, season, datasetID, required, bc)
	}

	// (b) validate fixed policy fields.
	if info.TSDtype != "datetime64[s]" {
		return features.Bundle{}, false, &errs.ManifestMismatch{Field: "ts_dtype", Want: "datetime64[s]", Got: info.TSDtype}
	}
	if info.BreaksPolicy != "drop" {
		return features.Bundle{}, false, &errs.ManifestMismatch{Field: "breaks_policy", Want: "drop", Got: info.BreaksPolicy}
	}

	// (c) compute the missing set from requirements already on disk.
	bundle, err := r.Bundles.Load(season, datasetID, allRefs(reqs))
	if err != nil {
		return features.Bundle{}, false, fmt.Errorf("resolver: load bundle: %w", err)
	}
	missing := missingFrom(bundle, required)
	if len(missing) == 0 {
		return bundle, false, nil
	}
	if !allowBuild {
		return features.Bundle{}, false, &errs.MissingFeatures{Missing: missing}
	}

	return r.buildAndReresolve(ctx, season, datasetID, required, bc)
}

// buildAndReresolve implements contract steps (d)-(e): require a Build
// Context, invoke the builder, then reload the bundle.
func (r *Resolver) buildAndReresolve(ctx context.Context, season, datasetID string, required []features.Requirement, bc *BuildContext) (features.Bundle, bool, error) {
	if bc == nil || bc.TxtPath == "" {
		return features.Bundle{}, false, &errs.BuildNotAllowed{Reason: "allow_build is set but no Build Context with txt_path was supplied"}
	}
	if err := r.Builder.Build(ctx, season, datasetID, *bc); err != nil {
		return features.Bundle{}, false, fmt.Errorf("resolver: build: %w", err)
	}
	bundle, err := r.Bundles.Load(season, datasetID, required)
	if err != nil {
		return features.Bundle{}, false, fmt.Errorf("resolver: reload bundle after build: %w", err)
	}
	if missing := missingFrom(bundle, required); len(missing) > 0 {
		return features.Bundle{}, false, &errs.MissingFeatures{Missing: missing}
	}
	return bundle, true, nil
}
