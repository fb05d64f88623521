package registry

import (
	"testing"

	"github.com/aristath/fishbro/internal/snapshot"
	"github.com/stretchr/testify/assert"
)

type fakeDatasetSource struct {
	entries []snapshot.Entry
}

func (f fakeDatasetSource) All() []snapshot.Entry { return f.entries }

func TestDatasets_ReloadAndGet(t *testing.T) {
	source := fakeDatasetSource{entries: []snapshot.Entry{
		{DatasetID: "AAPL_60m_abc", NormalizedSHA256: "deadbeef"},
	}}
	d := NewDatasets(source)
	d.Reload()

	e, ok := d.Get("AAPL_60m_abc")
	assert.True(t, ok)
	assert.Equal(t, "deadbeef", e.NormalizedSHA256)
}

func TestDatasets_PrimedAndAllSortedByID(t *testing.T) {
	source := fakeDatasetSource{entries: []snapshot.Entry{
		{DatasetID: "MSFT_60m_zzz"},
		{DatasetID: "AAPL_60m_abc"},
	}}
	d := NewDatasets(source)
	assert.False(t, d.Primed())

	d.Reload()
	assert.True(t, d.Primed())

	all := d.All()
	assert.Len(t, all, 2)
	assert.Equal(t, "AAPL_60m_abc", all[0].DatasetID)
	assert.Equal(t, "MSFT_60m_zzz", all[1].DatasetID)
}

func TestDatasets_FingerprintMatches(t *testing.T) {
	source := fakeDatasetSource{entries: []snapshot.Entry{
		{DatasetID: "AAPL_60m_abc", NormalizedSHA256: "deadbeef"},
	}}
	d := NewDatasets(source)
	d.Reload()

	assert.True(t, d.FingerprintMatches("AAPL_60m_abc", "deadbeef"))
	assert.False(t, d.FingerprintMatches("AAPL_60m_abc", "wrong"))
	assert.False(t, d.FingerprintMatches("AAPL_60m_abc", ""))
	assert.False(t, d.FingerprintMatches("unknown", "deadbeef"))
}
