// Package runner is the orchestration core: reject-missing-fingerprint,
// resolve features, run the WFS engine, emit batch artifacts, and update
// the season index. RunJob and RunBatch perform no IO of their own —
// every filesystem touch goes through the injected collaborators;
// WriteArtifacts writes the batch files through pkg/atomicfile and
// appends to the season index through the SeasonStore it is given.
package runner

import (
	"context"

	"github.com/aristath/fishbro/internal/errs"
	"github.com/aristath/fishbro/internal/registry"
	"github.com/aristath/fishbro/internal/resolver"
	"github.com/aristath/fishbro/internal/wfs"
)

// Job is one unit of research work submitted to the runner.
type Job struct {
	Season          string
	DatasetID       string
	DataFingerprint string
	StrategyID      string
	Params          map[string]any
	WFSConfig       wfs.Config
	AllowBuild      bool
	BuildContext    *resolver.BuildContext
}

// JobResult is the outcome of running a single Job.
type JobResult struct {
	Job            Job
	Summary        wfs.Summary
	Index          wfs.Index
	BuildPerformed bool
}

// StrategyGetter is the read-only strategy lookup the runner consumes.
type StrategyGetter interface {
	Get(strategyID string) (registry.StrategySpec, bool)
}

// Runner wires the Feature Resolver and strategy registry into the
// end-to-end job pipeline described in spec §4.12.
type Runner struct {
	Resolver   *resolver.Resolver
	Strategies StrategyGetter
}

// New builds a Runner from its collaborators.
func New(res *resolver.Resolver, strategies StrategyGetter) *Runner {
	return &Runner{Resolver: res, Strategies: strategies}
}

// RunJob executes the single-threaded, CPU-bound sequential pipeline for
// one job: (1) reject a missing/empty fingerprint, (2) resolve the
// feature bundle under the job's allow_build flag, (3) run the WFS
// engine over the resolved bundle.
func (r *Runner) RunJob(ctx context.Context, job Job) (JobResult, error) {
	if job.DataFingerprint == "" {
		return JobResult{}, &errs.ContractViolation{Reason: "job has missing or empty data_fingerprint"}
	}

	spec, ok := r.Strategies.Get(job.StrategyID)
	if !ok {
		return JobResult{}, &errs.NotFound{Path: "strategy:" + job.StrategyID}
	}

	reqs := spec.FeatureRequirements()
	bundle, built, err := r.Resolver.Resolve(ctx, job.Season, job.DatasetID, reqs, job.AllowBuild, job.BuildContext)
	if err != nil {
		return JobResult{}, err
	}

	summary, index, err := wfs.Run(spec, bundle, job.DatasetID, job.WFSConfig, job.Params)
	if err != nil {
		return JobResult{}, err
	}

	return JobResult{Job: job, Summary: summary, Index: index, BuildPerformed: built}, nil
}
