// Package config loads research-pipeline configuration from the
// environment (with an optional .env file), following the same
// getEnv/fallback idiom the rest of this codebase's ancestry uses.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the full set of knobs cmd/researchd and cmd/researchctl
// need to assemble the pipeline's collaborators.
type Config struct {
	// OutputsRoot is the base of the outputs/ tree (shared, artifacts,
	// exports, portfolio, snapshots, datasets, season_index).
	OutputsRoot string

	SharedRoot      string
	ArtifactsRoot   string
	ExportsRoot     string
	PortfolioRoot   string
	SnapshotsRoot   string
	DatasetRegistryRoot string
	SeasonIndexRoot string

	// CatalogDBPath and LedgerDBPath back internal/store's two SQLite
	// profiles: the standard season/batch catalog and the append-only
	// policy decision ledger.
	CatalogDBPath string
	LedgerDBPath  string

	// EnableLive and LiveTokenPath hold ENABLE_LIVE and LIVE_TOKEN_PATH as
	// parsed here. governance.Engine does not read these fields: it reads
	// both environment variables itself and arms only on ENABLE_LIVE=1.
	EnableLive    bool
	LiveTokenPath string

	LogLevel  string
	LogPretty bool

	Port           int
	WorkerPoolSize int
	DevMode        bool
}

// Load reads configuration from the environment, with a ".env" file
// loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	outputsRoot := getEnv("OUTPUTS_ROOT", "./outputs")

	cfg := &Config{
		OutputsRoot:         outputsRoot,
		SharedRoot:          getEnv("SHARED_ROOT", filepath.Join(outputsRoot, "shared")),
		ArtifactsRoot:       getEnv("ARTIFACTS_ROOT", filepath.Join(outputsRoot, "artifacts")),
		ExportsRoot:         getEnv("EXPORTS_ROOT", filepath.Join(outputsRoot, "exports")),
		PortfolioRoot:       getEnv("PORTFOLIO_ROOT", filepath.Join(outputsRoot, "portfolio")),
		SnapshotsRoot:       getEnv("SNAPSHOTS_ROOT", filepath.Join(outputsRoot, "snapshots")),
		DatasetRegistryRoot: getEnv("DATASET_REGISTRY_ROOT", filepath.Join(outputsRoot, "datasets")),
		SeasonIndexRoot:     getEnv("SEASON_INDEX_ROOT", filepath.Join(outputsRoot, "season_index")),

		CatalogDBPath: getEnv("CATALOG_DB_PATH", filepath.Join(outputsRoot, "catalog.db")),
		LedgerDBPath:  getEnv("LEDGER_DB_PATH", filepath.Join(outputsRoot, "ledger.db")),

		EnableLive:    getEnvAsBool("ENABLE_LIVE", false),
		LiveTokenPath: getEnv("LIVE_TOKEN_PATH", filepath.Join(outputsRoot, "live.token")),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),

		Port:           getEnvAsInt("HTTP_PORT", 8090),
		WorkerPoolSize: getEnvAsInt("WORKER_POOL_SIZE", 10),
		DevMode:        getEnvAsBool("DEV_MODE", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required configuration is present.
func (c *Config) Validate() error {
	if c.OutputsRoot == "" {
		return fmt.Errorf("OUTPUTS_ROOT is required")
	}
	if c.CatalogDBPath == "" {
		return fmt.Errorf("CATALOG_DB_PATH is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
