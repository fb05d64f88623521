package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearResearchEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"OUTPUTS_ROOT", "SHARED_ROOT", "ARTIFACTS_ROOT", "EXPORTS_ROOT",
		"PORTFOLIO_ROOT", "SNAPSHOTS_ROOT", "DATASET_REGISTRY_ROOT", "SEASON_INDEX_ROOT",
		"CATALOG_DB_PATH", "LEDGER_DB_PATH", "ENABLE_LIVE", "LIVE_TOKEN_PATH",
		"LOG_LEVEL", "LOG_PRETTY", "HTTP_PORT", "WORKER_POOL_SIZE", "DEV_MODE",
	}
	for _, k := range keys {
		orig, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, orig)
			} else {
				os.Unsetenv(k)
			}
		})
	}
}

func TestLoad_DefaultsRootedAtOutputs(t *testing.T) {
	clearResearchEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./outputs", cfg.OutputsRoot)
	assert.Equal(t, filepath.Join("outputs", "shared"), cfg.SharedRoot)
	assert.Equal(t, filepath.Join("outputs", "artifacts"), cfg.ArtifactsRoot)
	assert.Equal(t, filepath.Join("outputs", "exports"), cfg.ExportsRoot)
	assert.Equal(t, filepath.Join("outputs", "portfolio"), cfg.PortfolioRoot)
	assert.Equal(t, filepath.Join("outputs", "snapshots"), cfg.SnapshotsRoot)
	assert.Equal(t, filepath.Join("outputs", "datasets"), cfg.DatasetRegistryRoot)
	assert.Equal(t, filepath.Join("outputs", "season_index"), cfg.SeasonIndexRoot)
	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, 10, cfg.WorkerPoolSize)
	assert.False(t, cfg.EnableLive)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_OutputsRootOverridesDerivedRoots(t *testing.T) {
	clearResearchEnv(t)
	os.Setenv("OUTPUTS_ROOT", "/tmp/research-outputs")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/research-outputs", cfg.OutputsRoot)
	assert.Equal(t, filepath.Join("/tmp/research-outputs", "shared"), cfg.SharedRoot)
	assert.Equal(t, filepath.Join("/tmp/research-outputs", "datasets"), cfg.DatasetRegistryRoot)
}

func TestLoad_ExplicitRootsOverrideOutputsRootDerivation(t *testing.T) {
	clearResearchEnv(t)
	os.Setenv("OUTPUTS_ROOT", "/tmp/research-outputs")
	os.Setenv("SNAPSHOTS_ROOT", "/tmp/custom-snapshots")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/custom-snapshots", cfg.SnapshotsRoot)
}

func TestLoad_EnableLiveAndTokenPath(t *testing.T) {
	clearResearchEnv(t)
	os.Setenv("ENABLE_LIVE", "true")
	os.Setenv("LIVE_TOKEN_PATH", "/tmp/live.token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.EnableLive)
	assert.Equal(t, "/tmp/live.token", cfg.LiveTokenPath)
}

func TestLoad_InvalidIntAndBoolFallBackToDefault(t *testing.T) {
	clearResearchEnv(t)
	os.Setenv("HTTP_PORT", "not-a-number")
	os.Setenv("DEV_MODE", "not-a-bool")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Port)
	assert.False(t, cfg.DevMode)
}

func TestValidate_RejectsEmptyOutputsRoot(t *testing.T) {
	cfg := &Config{OutputsRoot: "", CatalogDBPath: "x"}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_RejectsEmptyCatalogDBPath(t *testing.T) {
	cfg := &Config{OutputsRoot: "./outputs", CatalogDBPath: ""}
	err := cfg.Validate()
	require.Error(t, err)
}
