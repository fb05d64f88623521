package server

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/fishbro/internal/errs"
	"github.com/aristath/fishbro/internal/snapshot"
)

type createSnapshotRequest struct {
	Symbol         string         `json:"symbol"`
	Timeframe      string         `json:"timeframe"`
	RawBars        []snapshot.Bar `json:"raw_bars"`
	NormalizedBars []snapshot.Bar `json:"normalized_bars"`
}

type registerSnapshotRequest struct {
	Symbol         string         `json:"symbol"`
	Timeframe      string         `json:"timeframe"`
	RawBars        []snapshot.Bar `json:"raw_bars"`
	NormalizedBars []snapshot.Bar `json:"normalized_bars"`
}

func (s *Server) setupDatasetsRoutes(r chi.Router) {
	r.Get("/snapshots", s.handleGetDatasetsSnapshots)
	r.Post("/snapshots", s.handlePostDatasetsSnapshots)
	r.Post("/registry/register_snapshot", s.handlePostDatasetsRegisterSnapshot)
}

// handleGetDatasetsSnapshots lists registered snapshots sorted by
// dataset_id; zero-write. With no registry root on disk it answers an
// empty list without opening the registry, since opening creates the
// root directory; otherwise opening only reads the index file.
func (s *Server) handleGetDatasetsSnapshots(w http.ResponseWriter, r *http.Request) {
	if _, err := os.Stat(s.cfg.DatasetRegistryRoot); os.IsNotExist(err) {
		writeJSON(w, http.StatusOK, []snapshot.Entry{})
		return
	}
	reg, err := snapshot.OpenRegistry(s.cfg.DatasetRegistryRoot)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reg.All())
}

// handlePostDatasetsSnapshots creates an immutable snapshot directory;
// 409 if its content-addressed id already exists.
func (s *Server) handlePostDatasetsSnapshots(w http.ResponseWriter, r *http.Request) {
	var req createSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &errs.ContractViolation{Reason: "malformed request body: " + err.Error()})
		return
	}
	if req.Symbol == "" || req.Timeframe == "" {
		writeError(w, &errs.ContractViolation{Reason: "symbol and timeframe are required"})
		return
	}

	decision := s.cfg.Policy.Decide("snapshot_create", "")
	s.recordDecision(r.Context(), decision)
	if !decision.Allowed {
		writeError(w, &errs.PolicyDenied{Action: decision.Action, Reason: decision.Reason})
		return
	}

	result, err := snapshot.Create(s.cfg.SnapshotsRoot, req.Symbol, req.Timeframe, req.RawBars, req.NormalizedBars, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshot_id": result.SnapshotID, "dir": result.Dir})
}

// handlePostDatasetsRegisterSnapshot creates the content-addressed
// snapshot and appends it to the append-only dataset registry; 409 if the
// snapshot directory already exists or the resulting dataset_id is
// already registered.
func (s *Server) handlePostDatasetsRegisterSnapshot(w http.ResponseWriter, r *http.Request) {
	var req registerSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &errs.ContractViolation{Reason: "malformed request body: " + err.Error()})
		return
	}
	if req.Symbol == "" || req.Timeframe == "" {
		writeError(w, &errs.ContractViolation{Reason: "symbol and timeframe are required"})
		return
	}

	decision := s.cfg.Policy.Decide("dataset_register", "")
	s.recordDecision(r.Context(), decision)
	if !decision.Allowed {
		writeError(w, &errs.PolicyDenied{Action: decision.Action, Reason: decision.Reason})
		return
	}

	entry, err := snapshot.RegisterSnapshot(s.cfg.DatasetRegistryRoot, s.cfg.SnapshotsRoot, req.Symbol, req.Timeframe, req.RawBars, req.NormalizedBars, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
