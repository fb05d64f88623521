package runner

import (
	"context"
	"path/filepath"
	"time"

	"github.com/aristath/fishbro/internal/governance"
	"github.com/aristath/fishbro/pkg/atomicfile"
	"github.com/aristath/fishbro/pkg/canon"
)

const (
	fileBatchMetadata  = "metadata.json"
	fileBatchIndex     = "index.json"
	fileBatchSummary   = "summary.json"
	fileBatchExecution = "execution.json"
)

// BatchConfig names the jobs a batch groups and the season it belongs
// to.
type BatchConfig struct {
	Season string
	Jobs   []Job
}

// BatchOutcome is one job's pipeline result or error, keyed by its
// position in BatchConfig.Jobs.
type BatchOutcome struct {
	Job     Job
	Result  JobResult
	Err     string
	Success bool
}

// BatchResult is the full artifact set written for one batch run.
type BatchResult struct {
	BatchID  string
	Season   string
	Outcomes []BatchOutcome
	StartedAt time.Time
	EndedAt   time.Time
}

// DeriveBatchID computes a deterministic batch_id from the ordered job
// list: identical job sets (in identical order) always produce the same
// id.
func DeriveBatchID(cfg BatchConfig) (string, error) {
	hash, err := canon.HashValue(map[string]any{"season": cfg.Season, "jobs": cfg.Jobs})
	if err != nil {
		return "", err
	}
	prefix := hash
	if len(prefix) > 16 {
		prefix = prefix[:16]
	}
	return "batch_" + prefix, nil
}

// RunBatch executes every job in cfg sequentially (parallelism across
// jobs, when wanted, is the workerpool package's concern — each job
// itself always stays a single sequential pipeline) and collects their
// outcomes. A job failure does not abort the batch; it is recorded in
// the outcome and the batch continues.
func (r *Runner) RunBatch(ctx context.Context, cfg BatchConfig, now time.Time) (BatchResult, error) {
	batchID, err := DeriveBatchID(cfg)
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{BatchID: batchID, Season: cfg.Season, StartedAt: now.UTC()}
	for _, job := range cfg.Jobs {
		jr, err := r.RunJob(ctx, job)
		if err != nil {
			result.Outcomes = append(result.Outcomes, BatchOutcome{Job: job, Err: err.Error(), Success: false})
			continue
		}
		result.Outcomes = append(result.Outcomes, BatchOutcome{Job: job, Result: jr, Success: true})
	}
	result.EndedAt = time.Now().UTC()
	if result.EndedAt.Before(result.StartedAt) {
		result.EndedAt = result.StartedAt
	}
	return result, nil
}

func batchScope(dir string) atomicfile.WriteScope {
	return atomicfile.NewScope(dir, []string{fileBatchMetadata, fileBatchIndex, fileBatchSummary, fileBatchExecution}, nil)
}

// WriteArtifacts persists a batch's metadata.json, index.json,
// summary.json, execution.json under artifactsRoot/{batch_id}/, then —
// subject to season freeze — appends the batch to the season index.
func WriteArtifacts(artifactsRoot string, result BatchResult, seasons *governance.SeasonStore, now time.Time) error {
	dir := filepath.Join(artifactsRoot, result.BatchID)
	scope := batchScope(dir)
	if err := atomicfile.MkdirAll(scope); err != nil {
		return err
	}

	metadata := map[string]any{
		"batch_id": result.BatchID,
		"season":   result.Season,
		"jobs":     jobsMetadata(result.Outcomes),
	}
	index := map[string]any{
		"batch_id": result.BatchID,
		"folds":    indexPayload(result.Outcomes),
	}
	summary := map[string]any{
		"batch_id": result.BatchID,
		"results":  summaryPayload(result.Outcomes),
	}
	execution := map[string]any{
		"batch_id":   result.BatchID,
		"started_at": result.StartedAt,
		"ended_at":   result.EndedAt,
		"failed":     failedJobs(result.Outcomes),
	}

	if err := writeJSONFile(scope, dir, fileBatchMetadata, metadata); err != nil {
		return err
	}
	if err := writeJSONFile(scope, dir, fileBatchIndex, index); err != nil {
		return err
	}
	if err := writeJSONFile(scope, dir, fileBatchSummary, summary); err != nil {
		return err
	}
	if err := writeJSONFile(scope, dir, fileBatchExecution, execution); err != nil {
		return err
	}

	return seasons.AppendBatch(result.Season, result.BatchID, now)
}

func writeJSONFile(scope atomicfile.WriteScope, dir, name string, body any) error {
	data, err := canon.Marshal(body)
	if err != nil {
		return err
	}
	return atomicfile.Write(scope, name, data)
}

func jobsMetadata(outcomes []BatchOutcome) []map[string]any {
	out := make([]map[string]any, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, map[string]any{
			"season":           o.Job.Season,
			"dataset_id":       o.Job.DatasetID,
			"strategy_id":      o.Job.StrategyID,
			"data_fingerprint": o.Job.DataFingerprint,
			"params":           o.Job.Params,
		})
	}
	return out
}

func indexPayload(outcomes []BatchOutcome) []any {
	out := make([]any, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Success {
			out = append(out, o.Result.Index)
		}
	}
	return out
}

func summaryPayload(outcomes []BatchOutcome) []any {
	out := make([]any, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Success {
			out = append(out, o.Result.Summary)
		}
	}
	return out
}

func failedJobs(outcomes []BatchOutcome) []map[string]any {
	var out []map[string]any
	for _, o := range outcomes {
		if !o.Success {
			out = append(out, map[string]any{"strategy_id": o.Job.StrategyID, "dataset_id": o.Job.DatasetID, "error": o.Err})
		}
	}
	return out
}
