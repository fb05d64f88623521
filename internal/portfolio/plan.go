package portfolio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aristath/fishbro/internal/candidates"
	"github.com/aristath/fishbro/internal/errs"
	"github.com/aristath/fishbro/pkg/atomicfile"
	"github.com/aristath/fishbro/pkg/canon"
	"github.com/aristath/fishbro/pkg/manifest"
)

const (
	filePlan         = "portfolio_plan.json"
	filePlanManifest = "plan_manifest.json"
	filePlanMetadata = "plan_metadata.json"
	filePlanChecks   = "plan_checksums.json"
)

// PlanScope builds the write scope for a plan directory: the planner
// pre-permits the four fixed names plus any future "plan_"-prefixed file.
func PlanScope(dir string) atomicfile.WriteScope {
	return atomicfile.NewScope(dir, []string{filePlan, filePlanManifest, filePlanMetadata, filePlanChecks}, []string{"plan_"})
}

// Source names the two hashed inputs a plan is derived from.
type Source struct {
	ExportManifestSHA256 string `json:"export_manifest_sha256"`
	CandidatesSHA256     string `json:"candidates_sha256"`
}

// Plan is the full planner output for one build.
type Plan struct {
	PlanID      string               `json:"plan_id"`
	Source      Source               `json:"source"`
	Config      Config               `json:"config"`
	Universe    []candidates.Candidate `json:"universe"`
	Weights     Weights              `json:"weights"`
	Buckets     []BucketSummary      `json:"buckets"`
	Constraints ConstraintsReport    `json:"constraints"`
}

// DerivePlanID computes the deterministic plan_id from the two source
// SHAs and the canonical config.
func DerivePlanID(source Source, cfg Config) (string, error) {
	hash, err := canon.HashValue(map[string]any{
		"export_manifest_sha256": source.ExportManifestSHA256,
		"candidates_sha256":      source.CandidatesSHA256,
		"config":                 cfg,
	})
	if err != nil {
		return "", err
	}
	prefix := hash
	if len(prefix) > 16 {
		prefix = prefix[:16]
	}
	return "plan_" + prefix, nil
}

// Build runs selection and weighting and derives the plan, without
// writing anything to disk.
func Build(all []candidates.Candidate, source Source, cfg Config) (Plan, error) {
	universe := Select(all, cfg)
	weights, buckets, constraints := Weight(universe, cfg)

	planID, err := DerivePlanID(source, cfg)
	if err != nil {
		return Plan{}, err
	}

	return Plan{
		PlanID: planID, Source: source, Config: cfg,
		Universe: universe, Weights: weights, Buckets: buckets, Constraints: constraints,
	}, nil
}

// Write persists a Plan's four-file package under plansRoot/{plan_id}/.
// If the directory already exists, Write compares the freshly computed
// manifest hash against the recorded one: identical inputs are a no-op
// (idempotent), any mismatch is a TamperDetected failure — the directory
// is never rewritten either way.
func Write(plansRoot string, plan Plan) (string, error) {
	dir := filepath.Join(plansRoot, plan.PlanID)
	scope := PlanScope(dir)

	metadata := map[string]any{"plan_id": plan.PlanID, "source": plan.Source, "config": plan.Config}
	planBody := map[string]any{"plan_id": plan.PlanID, "universe": plan.Universe, "weights": plan.Weights, "buckets": plan.Buckets, "constraints": plan.Constraints}

	planBytes, err := canon.Marshal(planBody)
	if err != nil {
		return "", err
	}
	metadataBytes, err := canon.Marshal(metadata)
	if err != nil {
		return "", err
	}
	checksums := map[string]any{
		filePlan:         canon.SHA256Hex(planBytes),
		filePlanMetadata: canon.SHA256Hex(metadataBytes),
	}
	checksumBytes, err := canon.Marshal(checksums)
	if err != nil {
		return "", err
	}

	manifestBody := map[string]any{
		"plan_id":     plan.PlanID,
		"file_sha256": map[string]any{filePlan: checksums[filePlan], filePlanMetadata: checksums[filePlanMetadata], filePlanChecks: canon.SHA256Hex(checksumBytes)},
	}
	stamped, err := canon.Stamp(manifestBody, "manifest_sha256")
	if err != nil {
		return "", err
	}
	manifestBytes, err := canon.Marshal(stamped)
	if err != nil {
		return "", err
	}

	if _, statErr := os.Stat(dir); statErr == nil {
		existing, err := os.ReadFile(filepath.Join(dir, filePlanManifest))
		if err != nil {
			return "", fmt.Errorf("portfolio: read existing plan manifest: %w", err)
		}
		if string(existing) == string(manifestBytes) {
			return plan.PlanID, nil
		}
		return "", &errs.TamperDetected{Reason: "plan " + plan.PlanID + " already exists with different content"}
	}

	if err := atomicfile.MkdirAll(scope); err != nil {
		return "", err
	}
	if err := atomicfile.Write(scope, filePlan, planBytes); err != nil {
		return "", err
	}
	if err := atomicfile.Write(scope, filePlanMetadata, metadataBytes); err != nil {
		return "", err
	}
	if err := atomicfile.Write(scope, filePlanChecks, checksumBytes); err != nil {
		return "", err
	}
	if err := atomicfile.Write(scope, filePlanManifest, manifestBytes); err != nil {
		return "", err
	}
	return plan.PlanID, nil
}

// VerifyPlan re-hashes a written plan directory's three content files and
// checks them against plan_manifest.json's recorded per-file hashes and
// self-hash, catching any out-of-band edit to a plan package.
func VerifyPlan(plansRoot, planID string) error {
	dir := filepath.Join(plansRoot, planID)
	data, err := os.ReadFile(filepath.Join(dir, filePlanManifest))
	if err != nil {
		if os.IsNotExist(err) {
			return &errs.NotFound{Path: "plan:" + planID}
		}
		return err
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return fmt.Errorf("portfolio: parse plan manifest: %w", err)
	}

	rawFiles, _ := body["file_sha256"].(map[string]any)
	recordedFiles := make(manifest.FileHashes, len(rawFiles))
	for name, hash := range rawFiles {
		recordedFiles[name], _ = hash.(string)
	}

	return manifest.Verify(dir, recordedFiles, "", body, "manifest_sha256", filePlanManifest)
}
