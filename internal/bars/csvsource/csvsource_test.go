package csvsource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRawBars_CSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bars.csv")
	content := "timestamp,open,high,low,close,volume\n1,1.0,1.5,0.9,1.2,100\n2,1.2,1.6,1.0,1.4,120\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	out, err := Source{}.ReadRawBars(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(1), out[0].TimestampUnix)
	assert.Equal(t, 1.4, out[1].Close)
}

func TestReadRawBars_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bars.json")
	content := `[{"timestamp":1,"open":1,"high":1.5,"low":0.9,"close":1.2,"volume":100}]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	out, err := Source{}.ReadRawBars(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 100.0, out[0].Volume)
}

func TestReadRawBars_MissingFile(t *testing.T) {
	_, err := Source{}.ReadRawBars(context.Background(), "/nonexistent/path.csv")
	require.Error(t, err)
}
