package portfolio

import (
	"os"
	"path/filepath"

	"github.com/aristath/fishbro/pkg/atomicfile"
	"github.com/aristath/fishbro/pkg/canon"
)

const (
	fileQuality         = "plan_quality.json"
	fileQualityChecks   = "plan_quality_checksums.json"
	fileQualityManifest = "plan_quality_manifest.json"
)

// Grade is the fixed GREEN/YELLOW/RED quality band.
type Grade string

const (
	GradeGreen  Grade = "GREEN"
	GradeYellow Grade = "YELLOW"
	GradeRed    Grade = "RED"
)

// Quality is the computed plan-quality record.
type Quality struct {
	Top1Score           float64 `json:"top1_score"`
	EffectiveN          float64 `json:"effective_n"`
	BucketCoverage      float64 `json:"bucket_coverage"`
	ConstraintsPressure float64 `json:"constraints_pressure"`
	Grade               Grade   `json:"grade"`
}

// Grade thresholds: fixed, not configurable, per spec.
const (
	effectiveNGreen  = 5.0
	effectiveNYellow = 2.0
	pressureGreen    = 0.1
	pressureYellow   = 0.3
)

// ComputeQuality derives the grading metrics from a built plan.
func ComputeQuality(plan Plan, totalBucketsAvailable int) Quality {
	var top1 float64
	if len(plan.Universe) > 0 {
		top1 = plan.Universe[0].ResearchScore
	}

	sumSq := 0.0
	for _, w := range plan.Weights {
		sumSq += w * w
	}
	effectiveN := 0.0
	if sumSq > 0 {
		effectiveN = 1.0 / sumSq
	}

	coverage := 0.0
	if totalBucketsAvailable > 0 {
		coverage = float64(len(plan.Buckets)) / float64(totalBucketsAvailable)
	}

	pressure := 0.0
	if len(plan.Weights) > 0 {
		pressure = float64(len(plan.Constraints.Clipped)) / float64(len(plan.Weights))
	}

	grade := gradeFor(effectiveN, pressure)

	return Quality{
		Top1Score: top1, EffectiveN: effectiveN, BucketCoverage: coverage,
		ConstraintsPressure: pressure, Grade: grade,
	}
}

func gradeFor(effectiveN, pressure float64) Grade {
	if effectiveN >= effectiveNGreen && pressure <= pressureGreen {
		return GradeGreen
	}
	if effectiveN >= effectiveNYellow && pressure <= pressureYellow {
		return GradeYellow
	}
	return GradeRed
}

func qualityScope(planDir string) atomicfile.WriteScope {
	return atomicfile.NewScope(planDir, []string{fileQuality, fileQualityChecks, fileQualityManifest}, nil)
}

// WriteQuality writes the three-file quality package. If the files
// already exist with byte-identical content for this quality value, it
// is a filesystem no-op — mtimes are left untouched.
func WriteQuality(planDir string, quality Quality) error {
	scope := qualityScope(planDir)

	qualityBytes, err := canon.Marshal(quality)
	if err != nil {
		return err
	}
	checksums := map[string]any{fileQuality: canon.SHA256Hex(qualityBytes)}
	checksumBytes, err := canon.Marshal(checksums)
	if err != nil {
		return err
	}
	manifestBody := map[string]any{
		"file_sha256": map[string]any{fileQuality: checksums[fileQuality], fileQualityChecks: canon.SHA256Hex(checksumBytes)},
	}
	stamped, err := canon.Stamp(manifestBody, "manifest_sha256")
	if err != nil {
		return err
	}
	manifestBytes, err := canon.Marshal(stamped)
	if err != nil {
		return err
	}

	if unchanged(planDir, map[string][]byte{
		fileQuality: qualityBytes, fileQualityChecks: checksumBytes, fileQualityManifest: manifestBytes,
	}) {
		return nil
	}

	if err := atomicfile.Write(scope, fileQuality, qualityBytes); err != nil {
		return err
	}
	if err := atomicfile.Write(scope, fileQualityChecks, checksumBytes); err != nil {
		return err
	}
	return atomicfile.Write(scope, fileQualityManifest, manifestBytes)
}

// unchanged reports whether every named file under dir already holds the
// given bytes, so a rewrite can be skipped entirely (no open/write/rename
// at all, leaving mtime untouched).
func unchanged(dir string, wants map[string][]byte) bool {
	for name, want := range wants {
		got, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil || string(got) != string(want) {
			return false
		}
	}
	return true
}
