package registry

import (
	"sort"
	"sync"

	"github.com/aristath/fishbro/internal/snapshot"
)

// DatasetSource loads the authoritative append-only dataset registry, the
// one persisted by internal/snapshot.Registry.
type DatasetSource interface {
	All() []snapshot.Entry
}

// Datasets is an in-memory read cache over the on-disk dataset registry,
// avoiding a disk read on every job submission. Reload re-synchronizes
// from the source of truth; it never itself mutates the on-disk registry.
type Datasets struct {
	mu     sync.RWMutex
	byID   map[string]snapshot.Entry
	source DatasetSource
	primed bool
}

// NewDatasets builds a Datasets cache backed by source; call Reload to
// populate it.
func NewDatasets(source DatasetSource) *Datasets {
	return &Datasets{byID: map[string]snapshot.Entry{}, source: source}
}

// Reload re-reads every entry from source into the in-memory cache.
func (d *Datasets) Reload() {
	entries := d.source.All()
	byID := make(map[string]snapshot.Entry, len(entries))
	for _, e := range entries {
		byID[e.DatasetID] = e
	}
	d.mu.Lock()
	d.byID = byID
	d.primed = true
	d.mu.Unlock()
}

// Primed reports whether Reload has run at least once.
func (d *Datasets) Primed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.primed
}

// All returns every cached entry sorted by dataset_id.
func (d *Datasets) All() []snapshot.Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]snapshot.Entry, 0, len(d.byID))
	for _, e := range d.byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DatasetID < out[j].DatasetID })
	return out
}

// Get returns the cached entry for datasetID, and whether it was found.
func (d *Datasets) Get(datasetID string) (snapshot.Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.byID[datasetID]
	return e, ok
}

// FingerprintMatches reports whether datasetID is registered and its
// normalized_sha256 matches fingerprint — the job-submission invariant
// from the data model: a job without a matching fingerprint is rejected.
func (d *Datasets) FingerprintMatches(datasetID, fingerprint string) bool {
	e, ok := d.Get(datasetID)
	if !ok || fingerprint == "" {
		return false
	}
	return e.NormalizedSHA256 == fingerprint
}
