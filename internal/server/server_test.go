package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/fishbro/internal/governance"
	"github.com/aristath/fishbro/internal/registry"
	"github.com/aristath/fishbro/internal/snapshot"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	root := t.TempDir()

	seasons, err := governance.NewSeasonStore(filepath.Join(root, "season_index"))
	require.NoError(t, err)
	batches, err := governance.NewBatchStore(filepath.Join(root, "artifacts"))
	require.NoError(t, err)
	policy := governance.NewEngine(seasons.IsFrozen)

	datasetRegistryRoot := filepath.Join(root, "datasets")
	snapReg, err := snapshot.OpenRegistry(datasetRegistryRoot)
	require.NoError(t, err)
	datasets := registry.NewDatasets(snapReg)

	strategies := registry.NewStrategies()

	return New(Config{
		Log:                 zerolog.Nop(),
		Port:                0,
		DevMode:             true,
		OutputsRoot:         root,
		ArtifactsRoot:       filepath.Join(root, "artifacts"),
		ExportsRoot:         filepath.Join(root, "exports"),
		PortfolioRoot:       filepath.Join(root, "portfolio"),
		SnapshotsRoot:       filepath.Join(root, "snapshots"),
		DatasetRegistryRoot: datasetRegistryRoot,
		Seasons:             seasons,
		Batches:             batches,
		Policy:              policy,
		Strategies:          strategies,
		Datasets:            datasets,
	})
}

func doRequest(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth_ReportsOK(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetaDatasets_ServiceUnavailableBeforePrime(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/meta/datasets")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetaDatasets_OKAfterReload(t *testing.T) {
	s := newTestServer(t)
	s.cfg.Datasets.Reload()
	rec := doRequest(s, http.MethodGet, "/meta/datasets")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body []any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body)
}

func TestMetaStrategies_OKAfterBootstrap(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.cfg.Strategies.Bootstrap())
	rec := doRequest(s, http.MethodGet, "/meta/strategies")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetaSystem_ReportsCPUAndMemPercent(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/meta/system")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	_, hasCPU := body["cpu_percent"]
	_, hasMem := body["mem_percent"]
	assert.True(t, hasCPU)
	assert.True(t, hasMem)
}

func TestGetDatasetsSnapshots_EmptyBeforeAnyRegistration(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/datasets/snapshots")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body []any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body)
}

func TestGetPortfolioPlans_EmptyBeforeAnyPlanWritten(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/portfolio/plans")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body []any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body)
}

func TestGetPortfolioPlan_NotFoundForUnknownID(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/portfolio/plans/does-not-exist")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostBatchFreeze_SetsFrozenBit(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/seasons/2026Q1/batches/b1/freeze")
	assert.Equal(t, http.StatusOK, rec.Code)

	frozen, err := s.cfg.Batches.IsFrozen("b1")
	require.NoError(t, err)
	assert.True(t, frozen)
}

func TestGetExportVerify_NotFoundForUnknownSeason(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/exports/seasons/no-such-season/verify")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPortfolioPlanVerify_NotFoundForUnknownPlan(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/portfolio/plans/no-such-plan/verify")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
