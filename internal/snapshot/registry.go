package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aristath/fishbro/internal/errs"
	"github.com/aristath/fishbro/pkg/atomicfile"
)

const registryFileName = "datasets_index.json"

// DefaultRegistryRoot resolves the dataset registry root: DATASET_REGISTRY_ROOT
// overrides the default "./data/datasets".
func DefaultRegistryRoot() string {
	if v := os.Getenv("DATASET_REGISTRY_ROOT"); v != "" {
		return v
	}
	return filepath.Join("data", "datasets")
}

// Entry is one append-only dataset registry row.
type Entry struct {
	DatasetID        string    `json:"dataset_id"`
	Symbol           string    `json:"symbol"`
	Timeframe        string    `json:"timeframe"`
	RawSHA256        string    `json:"raw_sha256"`
	NormalizedSHA256 string    `json:"normalized_sha256"`
	ManifestSHA256   string    `json:"manifest_sha256"`
	SnapshotDir      string    `json:"snapshot_dir"`
	CreatedAt        time.Time `json:"created_at"`
}

// Registry is the append-only dataset index held in memory and persisted
// as a single JSON file under root.
type Registry struct {
	root    string
	path    string
	scope   atomicfile.WriteScope
	entries []Entry
	byID    map[string]int
}

// OpenRegistry loads (or initializes) the dataset registry at root.
func OpenRegistry(root string) (*Registry, error) {
	scope := atomicfile.NewScope(root, []string{registryFileName}, nil)
	if err := atomicfile.MkdirAll(scope); err != nil {
		return nil, err
	}
	r := &Registry{root: root, path: filepath.Join(root, registryFileName), scope: scope, byID: map[string]int{}}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("snapshot: read dataset registry: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("snapshot: parse dataset registry: %w", err)
	}
	r.entries = entries
	for i, e := range entries {
		r.byID[e.DatasetID] = i
	}
	return r, nil
}

// Lookup returns the registered entry for a dataset_id, if any.
func (r *Registry) Lookup(datasetID string) (Entry, bool) {
	i, ok := r.byID[datasetID]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// All returns every registered entry, ordered by dataset_id ascending.
func (r *Registry) All() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].DatasetID < out[j].DatasetID })
	return out
}

// Register appends a new dataset entry. It fails with errs.Duplicate if
// the dataset_id is already present — the registry never overwrites a row.
func (r *Registry) Register(e Entry) error {
	if _, exists := r.byID[e.DatasetID]; exists {
		return &errs.Duplicate{ID: e.DatasetID}
	}
	r.entries = append(r.entries, e)
	r.byID[e.DatasetID] = len(r.entries) - 1

	data, err := json.Marshal(r.entries)
	if err != nil {
		r.entries = r.entries[:len(r.entries)-1]
		delete(r.byID, e.DatasetID)
		return fmt.Errorf("snapshot: marshal dataset registry: %w", err)
	}
	if err := atomicfile.Write(r.scope, registryFileName, data); err != nil {
		r.entries = r.entries[:len(r.entries)-1]
		delete(r.byID, e.DatasetID)
		return err
	}
	return nil
}

// RegisterSnapshot is the convenience path used by the ingest pipeline: it
// creates the snapshot directory and registers it atomically against the
// registry's in-memory duplicate check.
func RegisterSnapshot(registryRoot, snapshotsRoot, symbol, timeframe string, rawBars, normalizedBars []Bar, now time.Time) (Entry, error) {
	reg, err := OpenRegistry(registryRoot)
	if err != nil {
		return Entry{}, err
	}
	result, err := Create(snapshotsRoot, symbol, timeframe, rawBars, normalizedBars, now)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{
		DatasetID:        DatasetID(result.SnapshotID),
		Symbol:           symbol,
		Timeframe:        timeframe,
		RawSHA256:        result.Manifest.RawSHA256,
		NormalizedSHA256: result.Manifest.NormalizedSHA256,
		ManifestSHA256:   result.Manifest.ManifestSHA256,
		SnapshotDir:      result.Dir,
		CreatedAt:        now.UTC(),
	}
	if err := reg.Register(entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}
