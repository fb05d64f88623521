package portfolio

import (
	"fmt"
	"strings"

	"github.com/aristath/fishbro/pkg/atomicfile"
	"github.com/aristath/fishbro/pkg/canon"
)

const (
	fileView         = "plan_view.json"
	fileViewMD       = "plan_view.md"
	fileViewChecks   = "plan_view_checksums.json"
	fileViewManifest = "plan_view_manifest.json"
)

// View is the read-oriented projection of a plan plus its quality grade.
type View struct {
	PlanID  string  `json:"plan_id"`
	Grade   Grade   `json:"grade"`
	Weights Weights `json:"weights"`
	Buckets []BucketSummary `json:"buckets"`
}

// RenderPlanView derives a View and its markdown rendering from a Plan
// and Quality. It performs no filesystem IO — the caller decides whether
// and where to write the result.
func RenderPlanView(plan Plan, quality Quality) (View, string) {
	view := View{PlanID: plan.PlanID, Grade: quality.Grade, Weights: plan.Weights, Buckets: plan.Buckets}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Plan %s\n\n", plan.PlanID)
	fmt.Fprintf(&sb, "Grade: **%s**\n\n", quality.Grade)
	fmt.Fprintf(&sb, "| Bucket | Candidates | Weight |\n|---|---|---|\n")
	for _, b := range plan.Buckets {
		fmt.Fprintf(&sb, "| %s | %d | %.12f |\n", b.Key, len(b.CandidateIDs), b.TotalWeight)
	}
	return view, sb.String()
}

func viewScope(planDir string) atomicfile.WriteScope {
	return atomicfile.NewScope(planDir, []string{fileView, fileViewMD, fileViewChecks, fileViewManifest}, nil)
}

// WritePlanView writes the four view files under planDir: plan_view.json,
// plan_view.md, plan_view_checksums.json, plan_view_manifest.json.
func WritePlanView(planDir string, plan Plan, quality Quality) error {
	view, markdown := RenderPlanView(plan, quality)
	scope := viewScope(planDir)

	viewBytes, err := canon.Marshal(view)
	if err != nil {
		return err
	}
	checksums := map[string]any{
		fileView:   canon.SHA256Hex(viewBytes),
		fileViewMD: canon.SHA256Hex([]byte(markdown)),
	}
	checksumBytes, err := canon.Marshal(checksums)
	if err != nil {
		return err
	}
	manifestBody := map[string]any{
		"file_sha256": map[string]any{
			fileView: checksums[fileView], fileViewMD: checksums[fileViewMD],
			fileViewChecks: canon.SHA256Hex(checksumBytes),
		},
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
		fileView: viewBytes, fileViewMD: []byte(markdown), fileViewChecks: checksumBytes, fileViewManifest: manifestBytes,
	}) {
		return nil
	}

	if err := atomicfile.Write(scope, fileView, viewBytes); err != nil {
		return err
	}
	if err := atomicfile.Write(scope, fileViewMD, []byte(markdown)); err != nil {
		return err
	}
	if err := atomicfile.Write(scope, fileViewChecks, checksumBytes); err != nil {
		return err
	}
	return atomicfile.Write(scope, fileViewManifest, manifestBytes)
}
