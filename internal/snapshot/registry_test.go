package snapshot

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aristath/fishbro/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterSnapshot_AppendsAndPersists(t *testing.T) {
	root := t.TempDir()
	registryRoot := filepath.Join(root, "registry")
	snapshotsRoot := filepath.Join(root, "snapshots")
	bars := sampleBars()
	now := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	entry, err := RegisterSnapshot(registryRoot, snapshotsRoot, "AAPL", "60m", bars, bars, now)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", entry.Symbol)
	assert.True(t, strings.HasPrefix(entry.DatasetID, "snapshot_AAPL_60m_"))
	assert.False(t, strings.HasPrefix(filepath.Base(entry.SnapshotDir), "snapshot_"))

	reg, err := OpenRegistry(registryRoot)
	require.NoError(t, err)
	got, ok := reg.Lookup(entry.DatasetID)
	require.True(t, ok)
	assert.Equal(t, entry.DatasetID, got.DatasetID)
}

func TestRegister_RejectsDuplicateID(t *testing.T) {
	root := t.TempDir()
	reg, err := OpenRegistry(root)
	require.NoError(t, err)

	e := Entry{DatasetID: "x_1m_abc", Symbol: "X", Timeframe: "1m", CreatedAt: time.Now()}
	require.NoError(t, reg.Register(e))

	err = reg.Register(e)
	require.Error(t, err)
	var dup *errs.Duplicate
	assert.ErrorAs(t, err, &dup)
}

func TestAll_ReturnsSortedByDatasetID(t *testing.T) {
	root := t.TempDir()
	reg, err := OpenRegistry(root)
	require.NoError(t, err)

	require.NoError(t, reg.Register(Entry{DatasetID: "b_1m_2", CreatedAt: time.Now()}))
	require.NoError(t, reg.Register(Entry{DatasetID: "a_1m_1", CreatedAt: time.Now()}))

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a_1m_1", all[0].DatasetID)
	assert.Equal(t, "b_1m_2", all[1].DatasetID)
}

func TestDefaultRegistryRoot_EnvOverride(t *testing.T) {
	t.Setenv("DATASET_REGISTRY_ROOT", "/tmp/custom-datasets")
	assert.Equal(t, "/tmp/custom-datasets", DefaultRegistryRoot())
}
