// Package shared is the on-disk cache under outputs/shared/{season}/{dataset_id}/:
// a bars cache and a feature cache, built through internal/bars and
// internal/features and persisted with pkg/atomicfile. It supplies the
// three collaborators internal/resolver needs (ManifestLoader, Builder,
// BundleLoader) against a concrete BarSource and feature registry.
package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aristath/fishbro/internal/bars"
	"github.com/aristath/fishbro/internal/errs"
	"github.com/aristath/fishbro/internal/features"
	"github.com/aristath/fishbro/internal/resolver"
	"github.com/aristath/fishbro/pkg/atomicfile"
	"github.com/aristath/fishbro/pkg/canon"
)

const (
	barsManifestFile     = "bars_manifest.json"
	normalizedFile        = "normalized.json"
	featuresManifestFile = "features_manifest.json"
)

func resampledFile(tfMin int) string { return fmt.Sprintf("resampled_%dm.json", tfMin) }
func featuresFile(tfMin int) string  { return fmt.Sprintf("features_%dm.json", tfMin) }

// Store is the disk-backed shared bars/features cache for one outputs
// root, built against a concrete ingest source and feature registry.
type Store struct {
	Root     string
	Source   bars.BarSource
	Registry *features.Registry
	Session  bars.Session
}

// NewStore builds a Store rooted at root (normally outputs/shared).
func NewStore(root string, source bars.BarSource, registry *features.Registry, session bars.Session) *Store {
	return &Store{Root: root, Source: source, Registry: registry, Session: session}
}

func (s *Store) datasetDir(season, datasetID string) string {
	return filepath.Join(s.Root, season, datasetID)
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("shared: parse %s: %w", path, err)
	}
	return true, nil
}

// Manifests returns the resolver.ManifestLoader view over the store.
func (s *Store) Manifests() resolver.ManifestLoader { return manifestLoaderAdapter{s} }

// Bundles returns the resolver.BundleLoader view over the store.
func (s *Store) Bundles() resolver.BundleLoader { return bundleLoaderAdapter{s} }

type manifestLoaderAdapter struct{ store *Store }

func (a manifestLoaderAdapter) Load(season, datasetID string) (resolver.ManifestInfo, bool, error) {
	path := filepath.Join(a.store.datasetDir(season, datasetID), "features", featuresManifestFile)
	var manifest features.Manifest
	ok, err := readJSON(path, &manifest)
	if err != nil || !ok {
		return resolver.ManifestInfo{}, ok, err
	}
	return resolver.ManifestInfo{TSDtype: manifest.TSDtype, BreaksPolicy: manifest.BreaksPolicy}, true, nil
}

type bundleLoaderAdapter struct{ store *Store }

func (a bundleLoaderAdapter) Load(season, datasetID string, reqs []features.Requirement) (features.Bundle, error) {
	return a.store.loadBundle(season, datasetID, reqs)
}

// cachedSeriesFile is the on-disk shape of one timeframe's feature cache.
type cachedSeriesFile struct {
	Series map[string]features.Series `json:"series"`
}

func (s *Store) loadBundle(season, datasetID string, reqs []features.Requirement) (features.Bundle, error) {
	bundle := features.Bundle{Series: map[features.Key]features.Series{}, TSDtype: "datetime64[s]", BreaksPolicy: "drop"}
	byTF := map[int][]features.Requirement{}
	for _, req := range reqs {
		byTF[req.TimeframeMin] = append(byTF[req.TimeframeMin], req)
	}
	dir := filepath.Join(s.datasetDir(season, datasetID), "features")
	for tf, tfReqs := range byTF {
		var file cachedSeriesFile
		ok, err := readJSON(filepath.Join(dir, featuresFile(tf)), &file)
		if err != nil {
			return features.Bundle{}, err
		}
		if !ok {
			continue
		}
		for _, req := range tfReqs {
			series, found := file.Series[req.Name]
			if !found {
				continue
			}
			bundle.Series[features.Key{Name: req.Name, TimeframeMin: tf}] = series
		}
	}
	return bundle, nil
}

func (s *Store) loadCachedBars(barsDir string) (bars.Result, bool) {
	var manifest bars.Manifest
	ok, err := readJSON(filepath.Join(barsDir, barsManifestFile), &manifest)
	if err != nil || !ok {
		return bars.Result{}, false
	}
	var normalized []bars.Bar
	if ok, err := readJSON(filepath.Join(barsDir, normalizedFile), &normalized); err != nil || !ok {
		return bars.Result{}, false
	}
	resampled := make(map[int][]bars.Bar, len(manifest.Timeframes))
	for _, tf := range manifest.Timeframes {
		var tfBars []bars.Bar
		if ok, err := readJSON(filepath.Join(barsDir, resampledFile(tf)), &tfBars); err != nil || !ok {
			return bars.Result{}, false
		}
		resampled[tf] = tfBars
	}
	return bars.Result{Normalized: normalized, Resampled: resampled, Manifest: manifest}, true
}

func (s *Store) writeBars(barsDir string, result bars.Result) error {
	scope := atomicfile.NewScope(barsDir, []string{barsManifestFile, normalizedFile}, []string{"resampled_"})
	if err := atomicfile.MkdirAll(scope); err != nil {
		return err
	}

	normalizedData, err := json.Marshal(result.Normalized)
	if err != nil {
		return fmt.Errorf("shared: marshal normalized bars: %w", err)
	}
	if err := atomicfile.Write(scope, normalizedFile, normalizedData); err != nil {
		return err
	}

	fileHashes := map[string]string{}
	fileHashes[normalizedFile] = canon.SHA256Hex(normalizedData)

	for tf, tfBars := range result.Resampled {
		data, err := json.Marshal(tfBars)
		if err != nil {
			return fmt.Errorf("shared: marshal resampled bars: %w", err)
		}
		name := resampledFile(tf)
		if err := atomicfile.Write(scope, name, data); err != nil {
			return err
		}
		fileHashes[name] = canon.SHA256Hex(data)
	}

	manifest := result.Manifest
	manifest.FileSHA256 = fileHashes
	manifestHash, err := canon.HashValue(manifest)
	if err != nil {
		return fmt.Errorf("shared: hash bars manifest: %w", err)
	}
	manifest.ManifestSHA256 = manifestHash
	manifestData, err := canon.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("shared: marshal bars manifest: %w", err)
	}
	return atomicfile.Write(scope, barsManifestFile, manifestData)
}

func (s *Store) writeFeatures(featuresDir string, bundle features.Bundle, manifest features.Manifest) error {
	scope := atomicfile.NewScope(featuresDir, []string{featuresManifestFile}, []string{"features_"})
	if err := atomicfile.MkdirAll(scope); err != nil {
		return err
	}

	byTF := map[int]map[string]features.Series{}
	for key, series := range bundle.Series {
		if byTF[key.TimeframeMin] == nil {
			byTF[key.TimeframeMin] = map[string]features.Series{}
		}
		byTF[key.TimeframeMin][key.Name] = series
	}

	fileHashes := map[string]string{}
	for tf, seriesByName := range byTF {
		data, err := json.Marshal(cachedSeriesFile{Series: seriesByName})
		if err != nil {
			return fmt.Errorf("shared: marshal feature cache: %w", err)
		}
		name := featuresFile(tf)
		if err := atomicfile.Write(scope, name, data); err != nil {
			return err
		}
		fileHashes[name] = canon.SHA256Hex(data)
	}

	manifest.FileSHA256 = fileHashes
	manifestHash, err := canon.HashValue(manifest)
	if err != nil {
		return fmt.Errorf("shared: hash features manifest: %w", err)
	}
	manifest.ManifestSHA256 = manifestHash
	manifestData, err := canon.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("shared: marshal features manifest: %w", err)
	}
	return atomicfile.Write(scope, featuresManifestFile, manifestData)
}

// Build implements resolver.Builder: it runs the ingest collaborator,
// rebuilds (or incrementally extends) the bars cache, then rebuilds (or
// incrementally extends) the feature bank against the registry's full
// requirement set — the resolver re-resolves against whatever this
// leaves on disk.
func (s *Store) Build(ctx context.Context, season, datasetID string, bc resolver.BuildContext) error {
	if bc.TxtPath == "" {
		return &errs.BuildNotAllowed{Reason: "build context missing txt_path"}
	}
	raw, err := s.Source.ReadRawBars(ctx, bc.TxtPath)
	if err != nil {
		return fmt.Errorf("shared: read raw bars: %w", err)
	}

	dir := s.datasetDir(season, datasetID)
	barsDir := filepath.Join(dir, "bars")
	featuresDir := filepath.Join(dir, "features")

	cachedBars, hadCache := s.loadCachedBars(barsDir)
	var barsResult bars.Result
	if hadCache {
		barsResult, err = bars.BuildIncremental(cachedBars, raw, s.Session)
	} else {
		barsResult, err = bars.BuildFull(raw, s.Session)
	}
	if err != nil {
		return err
	}
	if err := s.writeBars(barsDir, barsResult); err != nil {
		return err
	}

	reqs := s.Registry.All()
	bundle, manifest, err := s.buildFeatures(season, datasetID, cachedBars, hadCache, barsResult, reqs)
	if err != nil {
		return err
	}
	return s.writeFeatures(featuresDir, bundle, manifest)
}

// buildFeatures mirrors the bars cache's FULL/INCREMENTAL branch: with no
// prior bars cache there is nothing to splice onto, so it rebuilds the
// whole bank; otherwise it loads the previously cached series and extends
// only the tail each timeframe's resampled array actually grew or changed.
func (s *Store) buildFeatures(season, datasetID string, cachedBars bars.Result, hadCache bool, barsResult bars.Result, reqs []features.Requirement) (features.Bundle, features.Manifest, error) {
	if !hadCache {
		return features.BuildFull(s.Registry, barsResult.Resampled, reqs)
	}
	cachedBundle, err := s.loadBundle(season, datasetID, reqs)
	if err != nil {
		return features.Bundle{}, features.Manifest{}, err
	}
	if len(cachedBundle.Series) == 0 {
		return features.BuildFull(s.Registry, barsResult.Resampled, reqs)
	}

	appendStartIdxByTF := make(map[int]int, len(barsResult.Resampled))
	for tf, newBars := range barsResult.Resampled {
		appendStartIdxByTF[tf] = appendStartIdx(cachedBars.Resampled[tf], newBars)
	}
	return features.BuildIncremental(s.Registry, cachedBundle, barsResult.Resampled, reqs, appendStartIdxByTF)
}

// appendStartIdx finds the first index at which newBars diverges from
// oldBars: the first bar whose timestamp or OHLCV values differ, so a
// trailing bucket that the new data extended is recomputed, not kept.
func appendStartIdx(oldBars, newBars []bars.Bar) int {
	n := len(oldBars)
	if len(newBars) < n {
		n = len(newBars)
	}
	for i := 0; i < n; i++ {
		if oldBars[i] != newBars[i] {
			return i
		}
	}
	return n
}
