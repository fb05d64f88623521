package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/fishbro/internal/errs"
	"github.com/aristath/fishbro/internal/resolver"
	"github.com/aristath/fishbro/internal/runner"
	"github.com/aristath/fishbro/internal/wfs"
)

type jobRequest struct {
	DatasetID       string         `json:"dataset_id"`
	DataFingerprint string         `json:"data_fingerprint"`
	StrategyID      string         `json:"strategy_id"`
	Params          map[string]any `json:"params"`
	AllowBuild      bool           `json:"allow_build"`
	TxtPath         string         `json:"txt_path,omitempty"`
	WFSConfig       wfs.Config     `json:"wfs_config"`
}

type batchRequest struct {
	Season string       `json:"season"`
	Jobs   []jobRequest `json:"jobs"`
}

func (s *Server) setupJobsRoutes(r chi.Router) {
	r.Post("/batch", s.handlePostJobsBatch)
}

// handlePostJobsBatch validates every job has a non-empty fingerprint
// before running the batch; a malformed request never reaches the
// policy engine or the runner.
func (s *Server) handlePostJobsBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &errs.ContractViolation{Reason: "malformed request body: " + err.Error()})
		return
	}
	if req.Season == "" {
		writeError(w, &errs.ContractViolation{Reason: "season is required"})
		return
	}
	if len(req.Jobs) == 0 {
		writeError(w, &errs.ContractViolation{Reason: "jobs must be non-empty"})
		return
	}
	for _, j := range req.Jobs {
		if j.DataFingerprint == "" {
			writeError(w, &errs.ContractViolation{Reason: "job for dataset " + j.DatasetID + " has missing or empty data_fingerprint"})
			return
		}
	}

	decision := s.cfg.Policy.Decide("submit_batch", req.Season)
	s.recordDecision(r.Context(), decision)
	if !decision.Allowed {
		writeError(w, &errs.PolicyDenied{Action: decision.Action, Reason: decision.Reason})
		return
	}

	jobs := make([]runner.Job, 0, len(req.Jobs))
	for _, j := range req.Jobs {
		var bc *resolver.BuildContext
		if j.TxtPath != "" {
			bc = &resolver.BuildContext{TxtPath: j.TxtPath}
		}
		jobs = append(jobs, runner.Job{
			Season:          req.Season,
			DatasetID:       j.DatasetID,
			DataFingerprint: j.DataFingerprint,
			StrategyID:      j.StrategyID,
			Params:          j.Params,
			AllowBuild:      j.AllowBuild,
			WFSConfig:       j.WFSConfig,
			BuildContext:    bc,
		})
	}

	now := time.Now()
	result, err := s.cfg.Runner.RunBatch(r.Context(), runner.BatchConfig{Season: req.Season, Jobs: jobs}, now)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := runner.WriteArtifacts(s.cfg.ArtifactsRoot, result, s.cfg.Seasons, now); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id": result.BatchID,
		"season":   result.Season,
		"jobs":     len(result.Outcomes),
	})
}
