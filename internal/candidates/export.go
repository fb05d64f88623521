package candidates

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/aristath/fishbro/internal/errs"
	"github.com/aristath/fishbro/pkg/atomicfile"
	"github.com/aristath/fishbro/pkg/canon"
	"github.com/aristath/fishbro/pkg/manifest"
)

// BatchArtifacts is the raw per-batch payload an export copies verbatim.
type BatchArtifacts struct {
	BatchID  string
	Metadata map[string]any
	Index    map[string]any
	Summary  map[string]any
}

// ExportResult describes the tree written under exports/seasons/{season}.
type ExportResult struct {
	Dir            string
	SeasonIndex    map[string]any
	ReplayIndex    map[string]any
	ManifestSHA256 string
}

const (
	fileMetadata     = "metadata.json"
	fileIndex        = "index.json"
	fileSummary      = "summary.json"
	fileSeasonIndex  = "season_index.json"
	fileReplayIndex  = "replay_index.json"
	fileExportManifest = "manifest.json"
)

// Export writes a frozen season's batches into exports/seasons/{season}/.
// It never overwrites an existing export directory.
func Export(exportsRoot, season string, batches []BatchArtifacts) (ExportResult, error) {
	seasonDir := filepath.Join(exportsRoot, "seasons", season)
	if _, err := os.Stat(seasonDir); err == nil {
		return ExportResult{}, &errs.Duplicate{ID: "export:" + season}
	}

	sorted := append([]BatchArtifacts{}, batches...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].BatchID < sorted[j].BatchID })

	var seasonBatches []map[string]any
	var replayBatches []map[string]any

	for _, b := range sorted {
		batchDir := filepath.Join(seasonDir, "batches", b.BatchID)
		scope := atomicfile.NewScope(batchDir, []string{fileMetadata, fileIndex, fileSummary}, nil)
		if err := atomicfile.MkdirAll(scope); err != nil {
			return ExportResult{}, err
		}
		if err := writeJSON(scope, fileMetadata, b.Metadata); err != nil {
			return ExportResult{}, err
		}
		if err := writeJSON(scope, fileIndex, b.Index); err != nil {
			return ExportResult{}, err
		}
		if err := writeJSON(scope, fileSummary, b.Summary); err != nil {
			return ExportResult{}, err
		}

		seasonBatches = append(seasonBatches, map[string]any{"batch_id": b.BatchID, "metadata": b.Metadata})
		replayBatches = append(replayBatches, map[string]any{"batch_id": b.BatchID, "summary": b.Summary, "index": b.Index})
	}

	seasonIndex := map[string]any{"season": season, "batches": seasonBatches}
	replayIndex := map[string]any{"season": season, "batches": replayBatches}

	topScope := atomicfile.NewScope(seasonDir, []string{fileSeasonIndex, fileReplayIndex, fileExportManifest}, nil)
	if err := atomicfile.MkdirAll(topScope); err != nil {
		return ExportResult{}, err
	}
	if err := writeJSON(topScope, fileSeasonIndex, seasonIndex); err != nil {
		return ExportResult{}, err
	}
	if err := writeJSON(topScope, fileReplayIndex, replayIndex); err != nil {
		return ExportResult{}, err
	}

	fileHashes, filesDigest, err := manifest.HashDir(seasonDir, fileExportManifest)
	if err != nil {
		return ExportResult{}, err
	}

	manifestBody := map[string]any{
		"season":              season,
		"batch_count":         len(sorted),
		"files_sha256":        fileHashes,
		"files_sha256_digest": filesDigest,
	}
	stamped, err := canon.Stamp(manifestBody, "manifest_sha256")
	if err != nil {
		return ExportResult{}, err
	}
	if err := writeJSON(topScope, fileExportManifest, stamped); err != nil {
		return ExportResult{}, err
	}

	return ExportResult{
		Dir: seasonDir, SeasonIndex: seasonIndex, ReplayIndex: replayIndex,
		ManifestSHA256: stamped["manifest_sha256"].(string),
	}, nil
}

func writeJSON(scope atomicfile.WriteScope, name string, v any) error {
	b, err := canon.Marshal(v)
	if err != nil {
		return fmt.Errorf("candidates: marshal %s: %w", name, err)
	}
	return atomicfile.Write(scope, name, b)
}

// VerifyExport re-hashes an exported season's tree and checks it against
// the recorded manifest: every file present, every hash matching, and the
// manifest's own self-hash intact. Returns *manifest.TamperDetected on any
// mismatch.
func VerifyExport(exportsRoot, season string) error {
	seasonDir := filepath.Join(exportsRoot, "seasons", season)
	data, err := os.ReadFile(filepath.Join(seasonDir, fileExportManifest))
	if err != nil {
		if os.IsNotExist(err) {
			return &errs.NotFound{Path: "export:" + season}
		}
		return err
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return fmt.Errorf("candidates: parse export manifest: %w", err)
	}

	rawFiles, _ := body["files_sha256"].(map[string]any)
	recordedFiles := make(manifest.FileHashes, len(rawFiles))
	for path, hash := range rawFiles {
		recordedFiles[path], _ = hash.(string)
	}
	recordedDigest, _ := body["files_sha256_digest"].(string)

	return manifest.Verify(seasonDir, recordedFiles, recordedDigest, body, "manifest_sha256", fileExportManifest)
}

// ReadReplayIndex reads the replay_index.json from an export tree. This
// and every function below it performs no filesystem writes.
func ReadReplayIndex(exportsRoot, season string) (map[string]any, error) {
	path := filepath.Join(exportsRoot, "seasons", season, fileReplayIndex)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errs.NotFound{Path: path}
		}
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Leaderboard groups every candidate across a replay index's batches by
// strategy_id, each group canonically sorted.
func Leaderboard(replayIndex map[string]any, candidatesByBatch map[string][]Candidate) map[string][]Candidate {
	grouped := map[string][]Candidate{}
	batches, _ := replayIndex["batches"].([]any)
	for _, raw := range batches {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		batchID, _ := entry["batch_id"].(string)
		for _, c := range candidatesByBatch[batchID] {
			grouped[c.StrategyID] = append(grouped[c.StrategyID], c)
		}
	}
	for strategyID, list := range grouped {
		grouped[strategyID] = Sort(list)
	}
	return grouped
}
