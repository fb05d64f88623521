package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/fishbro/internal/candidates"
	"github.com/aristath/fishbro/internal/errs"
	"github.com/aristath/fishbro/internal/replay"
)

func (s *Server) setupSeasonsRoutes(r chi.Router) {
	r.Post("/{season}/freeze", s.handlePostSeasonFreeze)
	r.Post("/{season}/batches/{batchID}/freeze", s.handlePostBatchFreeze)
	r.Post("/{season}/export", s.handlePostSeasonExport)
	r.Get("/{season}/compare/topk", s.handleGetSeasonCompareTopK)
	r.Get("/{season}/compare/batches", s.handleGetSeasonCompareBatches)
	r.Get("/{season}/compare/leaderboard", s.handleGetSeasonCompareLeaderboard)
}

func (s *Server) setupExportsRoutes(r chi.Router) {
	r.Route("/seasons/{season}", func(r chi.Router) {
		r.Get("/compare/topk", s.handleGetExportCompareTopK)
		r.Get("/compare/batches", s.handleGetExportCompareBatches)
		r.Get("/compare/leaderboard", s.handleGetExportCompareLeaderboard)
		r.Get("/verify", s.handleGetExportVerify)
	})
}

// handleGetExportVerify re-hashes an exported season's tree against its
// recorded manifest, reporting 409 if anything was altered out of band.
func (s *Server) handleGetExportVerify(w http.ResponseWriter, r *http.Request) {
	season := chi.URLParam(r, "season")
	if err := candidates.VerifyExport(s.cfg.ExportsRoot, season); err != nil {
		writeError(w, asTamperDetected(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"season": season, "verified": true})
}

func (s *Server) handlePostSeasonFreeze(w http.ResponseWriter, r *http.Request) {
	season := chi.URLParam(r, "season")
	decision := s.cfg.Policy.Decide("season_freeze", season)
	s.recordDecision(r.Context(), decision)
	if !decision.Allowed {
		writeError(w, &errs.PolicyDenied{Action: decision.Action, Reason: decision.Reason})
		return
	}
	if err := s.cfg.Seasons.Freeze(season, time.Now()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"season": season, "frozen": true})
}

// handlePostBatchFreeze sets the one-way frozen bit on a single batch,
// independent of its season's own freeze state.
func (s *Server) handlePostBatchFreeze(w http.ResponseWriter, r *http.Request) {
	season := chi.URLParam(r, "season")
	batchID := chi.URLParam(r, "batchID")

	decision := s.cfg.Policy.Decide("batch_freeze", season)
	s.recordDecision(r.Context(), decision)
	if !decision.Allowed {
		writeError(w, &errs.PolicyDenied{Action: decision.Action, Reason: decision.Reason})
		return
	}
	if err := s.cfg.Batches.Freeze(batchID, season, time.Now()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch_id": batchID, "season": season, "frozen": true})
}

func (s *Server) handlePostSeasonExport(w http.ResponseWriter, r *http.Request) {
	season := chi.URLParam(r, "season")

	frozen, err := s.cfg.Seasons.IsFrozen(season)
	if err != nil {
		writeError(w, err)
		return
	}
	if !frozen {
		writeError(w, &errs.PolicyDenied{Action: "season_export", Reason: "season " + season + " is not frozen"})
		return
	}

	decision := s.cfg.Policy.Decide("season_export", season)
	s.recordDecision(r.Context(), decision)
	if !decision.Allowed {
		writeError(w, &errs.PolicyDenied{Action: decision.Action, Reason: decision.Reason})
		return
	}

	idx, err := s.cfg.Seasons.Index(season)
	if err != nil {
		writeError(w, err)
		return
	}
	if idx == nil {
		writeError(w, &errs.NotFound{Path: "season:" + season})
		return
	}

	batches := make([]candidates.BatchArtifacts, 0, len(idx.Batches))
	for _, batchID := range idx.Batches {
		artifacts, err := readBatchArtifacts(s.cfg.ArtifactsRoot, batchID)
		if err != nil {
			writeError(w, err)
			return
		}
		batches = append(batches, artifacts)
	}

	result, err := candidates.Export(s.cfg.ExportsRoot, season, batches)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"season":          season,
		"dir":             result.Dir,
		"manifest_sha256": result.ManifestSHA256,
	})
}

func readBatchArtifacts(artifactsRoot, batchID string) (candidates.BatchArtifacts, error) {
	dir := filepath.Join(artifactsRoot, batchID)
	metadata, err := readJSONMap(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return candidates.BatchArtifacts{}, err
	}
	index, err := readJSONMap(filepath.Join(dir, "index.json"))
	if err != nil {
		return candidates.BatchArtifacts{}, err
	}
	summary, err := readJSONMap(filepath.Join(dir, "summary.json"))
	if err != nil {
		return candidates.BatchArtifacts{}, err
	}
	return candidates.BatchArtifacts{BatchID: batchID, Metadata: metadata, Index: index, Summary: summary}, nil
}

func readJSONMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func topKFromQuery(r *http.Request) int {
	if v := r.URL.Query().Get("k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 10
}

func (s *Server) handleGetSeasonCompareTopK(w http.ResponseWriter, r *http.Request) {
	season := chi.URLParam(r, "season")
	views, err := replay.LiveBatches(s.cfg.ArtifactsRoot, s.cfg.Seasons, season)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, replay.TopK(views, topKFromQuery(r)))
}

func (s *Server) handleGetSeasonCompareBatches(w http.ResponseWriter, r *http.Request) {
	season := chi.URLParam(r, "season")
	views, err := replay.LiveBatches(s.cfg.ArtifactsRoot, s.cfg.Seasons, season)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetSeasonCompareLeaderboard(w http.ResponseWriter, r *http.Request) {
	season := chi.URLParam(r, "season")
	views, err := replay.LiveBatches(s.cfg.ArtifactsRoot, s.cfg.Seasons, season)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, replay.Leaderboard(views))
}

func (s *Server) handleGetExportCompareTopK(w http.ResponseWriter, r *http.Request) {
	season := chi.URLParam(r, "season")
	views, err := replay.ExportBatches(s.cfg.ExportsRoot, season)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, replay.TopK(views, topKFromQuery(r)))
}

func (s *Server) handleGetExportCompareBatches(w http.ResponseWriter, r *http.Request) {
	season := chi.URLParam(r, "season")
	views, err := replay.ExportBatches(s.cfg.ExportsRoot, season)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetExportCompareLeaderboard(w http.ResponseWriter, r *http.Request) {
	season := chi.URLParam(r, "season")
	views, err := replay.ExportBatches(s.cfg.ExportsRoot, season)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, replay.Leaderboard(views))
}
