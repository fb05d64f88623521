// Package snapshot creates immutable raw->normalized bar snapshots and
// maintains the append-only dataset registry that points at them.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/fishbro/internal/errs"
	"github.com/aristath/fishbro/pkg/atomicfile"
	"github.com/aristath/fishbro/pkg/canon"
)

// Bar is the canonical normalized-bar shape stored in every snapshot.
type Bar struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Stats summarizes a normalized bar set.
type Stats struct {
	Count       int     `json:"count"`
	MinTS       int64   `json:"min_timestamp"`
	MaxTS       int64   `json:"max_timestamp"`
	MinPrice    float64 `json:"min_price"`
	MaxPrice    float64 `json:"max_price"`
	TotalVolume float64 `json:"total_volume"`
}

// Manifest describes a snapshot directory.
type Manifest struct {
	Symbol          string    `json:"symbol"`
	Timeframe       string    `json:"timeframe"`
	RawSHA256       string    `json:"raw_sha256"`
	NormalizedSHA256 string   `json:"normalized_sha256"`
	Stats           Stats     `json:"stats"`
	CreatedAt       time.Time `json:"created_at"`
	ManifestSHA256  string    `json:"manifest_sha256"`
}

// Result is returned by Create.
type Result struct {
	SnapshotID string
	Dir        string
	Manifest   Manifest
}

const (
	fileRaw        = "raw.json"
	fileNormalized = "normalized.json"
	fileManifest   = "manifest.json"
)

// ComputeStats derives aggregate stats from a normalized bar slice; bars
// must already be sorted by timestamp ascending.
func ComputeStats(bars []Bar) Stats {
	if len(bars) == 0 {
		return Stats{}
	}
	s := Stats{Count: len(bars), MinTS: bars[0].Timestamp, MaxTS: bars[len(bars)-1].Timestamp}
	s.MinPrice = bars[0].Low
	s.MaxPrice = bars[0].High
	for _, b := range bars {
		if b.Low < s.MinPrice {
			s.MinPrice = b.Low
		}
		if b.High > s.MaxPrice {
			s.MaxPrice = b.High
		}
		s.TotalVolume += b.Volume
	}
	return s
}

// ComputeSnapshotID is a pure function of the normalized bar content: it
// canonically hashes raw and normalized bars and derives the
// content-addressed snapshot directory name, `{symbol}_{timeframe}_
// {normalized_sha256[:12]}`. Calling it twice with identical input yields
// identical IDs and SHAs. The dataset registry's dataset_id additionally
// prefixes this with "snapshot_" (see DatasetID).
func ComputeSnapshotID(symbol, timeframe string, rawBars, normalizedBars []Bar) (snapshotID, rawSHA, normalizedSHA string, err error) {
	rawSHA, err = canon.HashValue(rawBars)
	if err != nil {
		return "", "", "", fmt.Errorf("snapshot: hash raw bars: %w", err)
	}
	normalizedSHA, err = canon.HashValue(normalizedBars)
	if err != nil {
		return "", "", "", fmt.Errorf("snapshot: hash normalized bars: %w", err)
	}
	prefix := normalizedSHA
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	snapshotID = fmt.Sprintf("%s_%s_%s", symbol, timeframe, prefix)
	return snapshotID, rawSHA, normalizedSHA, nil
}

// DatasetID derives the dataset registry's id from a snapshot directory
// name: "snapshot_{symbol}_{timeframe}_{normalized_sha256[:12]}".
func DatasetID(snapshotID string) string {
	return "snapshot_" + snapshotID
}

// Create writes a new immutable snapshot directory under root. It fails
// with errs.Duplicate if the directory already exists — a snapshot is
// never overwritten.
func Create(root, symbol, timeframe string, rawBars, normalizedBars []Bar, now time.Time) (Result, error) {
	snapshotID, rawSHA, normalizedSHA, err := ComputeSnapshotID(symbol, timeframe, rawBars, normalizedBars)
	if err != nil {
		return Result{}, err
	}
	dir := filepath.Join(root, snapshotID)
	if _, statErr := os.Stat(dir); statErr == nil {
		return Result{}, &errs.Duplicate{ID: snapshotID}
	}

	stats := ComputeStats(normalizedBars)
	body := map[string]any{
		"symbol":            symbol,
		"timeframe":         timeframe,
		"raw_sha256":        rawSHA,
		"normalized_sha256": normalizedSHA,
		"stats":             stats,
		"created_at":        now.UTC().Format(time.RFC3339),
	}
	stamped, err := canon.Stamp(body, "manifest_sha256")
	if err != nil {
		return Result{}, fmt.Errorf("snapshot: stamp manifest: %w", err)
	}

	scope := atomicfile.NewScope(dir, []string{fileRaw, fileNormalized, fileManifest}, nil)
	if err := atomicfile.MkdirAll(scope); err != nil {
		return Result{}, err
	}

	rawBytes, err := canon.Marshal(rawBars)
	if err != nil {
		return Result{}, err
	}
	if err := atomicfile.Write(scope, fileRaw, rawBytes); err != nil {
		return Result{}, err
	}
	normalizedBytes, err := canon.Marshal(normalizedBars)
	if err != nil {
		return Result{}, err
	}
	if err := atomicfile.Write(scope, fileNormalized, normalizedBytes); err != nil {
		return Result{}, err
	}
	manifestBytes, err := canon.Marshal(stamped)
	if err != nil {
		return Result{}, err
	}
	if err := atomicfile.Write(scope, fileManifest, manifestBytes); err != nil {
		return Result{}, err
	}

	manifest := Manifest{
		Symbol: symbol, Timeframe: timeframe, RawSHA256: rawSHA, NormalizedSHA256: normalizedSHA,
		Stats: stats, CreatedAt: now.UTC(), ManifestSHA256: stamped["manifest_sha256"].(string),
	}
	return Result{SnapshotID: snapshotID, Dir: dir, Manifest: manifest}, nil
}
