package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/fishbro/internal/candidates"
	"github.com/aristath/fishbro/internal/errs"
	"github.com/aristath/fishbro/internal/portfolio"
	"github.com/aristath/fishbro/pkg/manifest"
)

func (s *Server) setupPortfolioRoutes(r chi.Router) {
	r.Get("/plans", s.handleGetPortfolioPlans)
	r.Post("/plans", s.handlePostPortfolioPlans)
	r.Get("/plans/{id}", s.handleGetPortfolioPlan)
	r.Get("/plans/{id}/verify", s.handleGetPortfolioPlanVerify)
}

// asTamperDetected maps pkg/manifest's tamper error onto the core error
// kind the transport already knows how to classify, so a verification
// failure reports 409 like every other tamper finding instead of 500.
func asTamperDetected(err error) error {
	var t *manifest.TamperDetected
	if errors.As(err, &t) {
		return &errs.TamperDetected{Reason: t.Reason}
	}
	return err
}

type planBuildRequest struct {
	Candidates []candidates.Candidate `json:"candidates"`
	Source     portfolio.Source       `json:"source"`
	Config     portfolio.Config       `json:"config"`
	TotalBucketsAvailable int         `json:"total_buckets_available"`
}

// handlePostPortfolioPlans builds a plan and writes only under the new
// plan's own directory scope.
func (s *Server) handlePostPortfolioPlans(w http.ResponseWriter, r *http.Request) {
	var req planBuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &errs.ContractViolation{Reason: "malformed request body: " + err.Error()})
		return
	}

	decision := s.cfg.Policy.Decide("plan_build", "")
	s.recordDecision(r.Context(), decision)
	if !decision.Allowed {
		writeError(w, &errs.PolicyDenied{Action: decision.Action, Reason: decision.Reason})
		return
	}

	plan, err := portfolio.Build(req.Candidates, req.Source, req.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := portfolio.Write(s.cfg.PortfolioRoot, plan); err != nil {
		writeError(w, err)
		return
	}

	planDir := filepath.Join(s.cfg.PortfolioRoot, plan.PlanID)
	quality := portfolio.ComputeQuality(plan, req.TotalBucketsAvailable)
	if err := portfolio.WriteQuality(planDir, quality); err != nil {
		writeError(w, err)
		return
	}
	if err := portfolio.WritePlanView(planDir, plan, quality); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"plan_id": plan.PlanID, "grade": quality.Grade})
}

// handleGetPortfolioPlans lists every plan by reading plan_manifest.json
// files under the portfolio root; it never writes.
func (s *Server) handleGetPortfolioPlans(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.cfg.PortfolioRoot)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, []string{})
			return
		}
		writeError(w, err)
		return
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.cfg.PortfolioRoot, e.Name(), "plan_manifest.json")); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	writeJSON(w, http.StatusOK, ids)
}

// handleGetPortfolioPlan reads a plan's portfolio_plan.json and
// plan_metadata.json, plus plan_quality.json and plan_view.json when
// present (null otherwise); it never writes.
func (s *Server) handleGetPortfolioPlan(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "id")
	planDir := filepath.Join(s.cfg.PortfolioRoot, planID)

	plan, err := readJSONMap(filepath.Join(planDir, "portfolio_plan.json"))
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, &errs.NotFound{Path: "plan:" + planID})
			return
		}
		writeError(w, err)
		return
	}
	metadata, err := readJSONMap(filepath.Join(planDir, "plan_metadata.json"))
	if err != nil {
		writeError(w, err)
		return
	}
	quality, _ := readJSONMap(filepath.Join(planDir, "plan_quality.json"))
	view, _ := readJSONMap(filepath.Join(planDir, "plan_view.json"))

	writeJSON(w, http.StatusOK, map[string]any{
		"plan_id":  planID,
		"plan":     plan,
		"metadata": metadata,
		"quality":  quality,
		"view":     view,
	})
}

// handleGetPortfolioPlanVerify re-hashes a plan package against its
// recorded manifest, reporting 409 if anything was altered out of band.
func (s *Server) handleGetPortfolioPlanVerify(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "id")
	if err := portfolio.VerifyPlan(s.cfg.PortfolioRoot, planID); err != nil {
		writeError(w, asTamperDetected(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plan_id": planID, "verified": true})
}
