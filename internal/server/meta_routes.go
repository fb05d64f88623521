package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

func (s *Server) setupMetaRoutes(r chi.Router) {
	r.Get("/datasets", s.handleGetMetaDatasets)
	r.Get("/strategies", s.handleGetMetaStrategies)
	r.Get("/system", s.handleGetMetaSystem)
}

// handleGetMetaDatasets returns the in-memory dataset registry loaded at
// startup; 503 if the process hasn't primed it yet.
func (s *Server) handleGetMetaDatasets(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Datasets == nil || !s.cfg.Datasets.Primed() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"reason": "dataset registry not primed"})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Datasets.All())
}

// handleGetMetaStrategies returns the in-memory strategy registry loaded
// at startup; 503 if the process hasn't primed it yet.
func (s *Server) handleGetMetaStrategies(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Strategies == nil || !s.cfg.Strategies.Primed() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"reason": "strategy registry not primed"})
		return
	}
	ids := s.cfg.Strategies.IDs()
	writeJSON(w, http.StatusOK, ids)
}

// handleGetMetaSystem reports process host load, for an operator to
// judge whether it's safe to submit another batch. A stats collection
// failure degrades to a zeroed reading rather than failing the request.
func (s *Server) handleGetMetaSystem(w http.ResponseWriter, r *http.Request) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read cpu percent")
		cpuPercent = []float64{0}
	}
	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	memUsedPercent := 0.0
	if memStat, err := mem.VirtualMemory(); err != nil {
		s.log.Warn().Err(err).Msg("failed to read memory stats")
	} else {
		memUsedPercent = memStat.UsedPercent
	}

	writeJSON(w, http.StatusOK, map[string]float64{
		"cpu_percent": cpuAvg,
		"mem_percent": memUsedPercent,
	})
}
