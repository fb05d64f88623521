// Package governance implements the season/batch state machine and the
// policy engine that gates every mutating action at the boundary.
package governance

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aristath/fishbro/internal/errs"
	"github.com/aristath/fishbro/pkg/atomicfile"
)

const (
	seasonIndexFile    = "season_index.json"
	seasonMetadataFile = "season_metadata.json"
)

// SeasonMetadata is the per-season frozen bit plus descriptive fields.
type SeasonMetadata struct {
	Season    string    `json:"season"`
	Frozen    bool      `json:"frozen"`
	Tags      []string  `json:"tags"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SeasonIndex lists a season's batches in canonical (batch_id ascending)
// order.
type SeasonIndex struct {
	Season    string    `json:"season"`
	Batches   []string  `json:"batches"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SeasonStore persists season metadata and index files under
// root/{season}/. Reads of a season that was never created return
// (nil, nil) rather than a NotFound error — only an actual IO failure
// is surfaced as an error.
type SeasonStore struct {
	root string
}

// NewSeasonStore eagerly creates root and returns a store rooted there.
func NewSeasonStore(root string) (*SeasonStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &SeasonStore{root: root}, nil
}

func (s *SeasonStore) seasonDir(season string) string {
	return filepath.Join(s.root, season)
}

func (s *SeasonStore) scope(season string) atomicfile.WriteScope {
	return atomicfile.NewScope(s.seasonDir(season), []string{seasonIndexFile, seasonMetadataFile}, nil)
}

// Metadata reads a season's metadata. A season with no metadata file
// yet returns (nil, nil).
func (s *SeasonStore) Metadata(season string) (*SeasonMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.seasonDir(season), seasonMetadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var meta SeasonMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Index reads a season's batch index. A season with no index file yet
// returns (nil, nil).
func (s *SeasonStore) Index(season string) (*SeasonIndex, error) {
	data, err := os.ReadFile(filepath.Join(s.seasonDir(season), seasonIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var idx SeasonIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, err
	}
	return &idx, nil
}

// IsFrozen reports whether a season is frozen. A season that does not
// exist yet is treated as not frozen.
func (s *SeasonStore) IsFrozen(season string) (bool, error) {
	meta, err := s.Metadata(season)
	if err != nil {
		return false, err
	}
	if meta == nil {
		return false, nil
	}
	return meta.Frozen, nil
}

func (s *SeasonStore) writeMetadata(meta SeasonMetadata) error {
	scope := s.scope(meta.Season)
	if err := atomicfile.MkdirAll(scope); err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.Write(scope, seasonMetadataFile, data)
}

func (s *SeasonStore) writeIndex(idx SeasonIndex) error {
	scope := s.scope(idx.Season)
	if err := atomicfile.MkdirAll(scope); err != nil {
		return err
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.Write(scope, seasonIndexFile, data)
}

// EnsureSeason creates a season's metadata and index if they do not
// already exist. It is idempotent: calling it on an existing season is
// a no-op.
func (s *SeasonStore) EnsureSeason(season string, now time.Time) error {
	meta, err := s.Metadata(season)
	if err != nil {
		return err
	}
	if meta != nil {
		return nil
	}
	if err := s.writeMetadata(SeasonMetadata{Season: season, CreatedAt: now.UTC(), UpdatedAt: now.UTC()}); err != nil {
		return err
	}
	return s.writeIndex(SeasonIndex{Season: season, Batches: []string{}, UpdatedAt: now.UTC()})
}

// Freeze sets the one-way frozen bit on a season. Freezing an
// already-frozen season is a no-op, not an error.
func (s *SeasonStore) Freeze(season string, now time.Time) error {
	if err := s.EnsureSeason(season, now); err != nil {
		return err
	}
	meta, err := s.Metadata(season)
	if err != nil {
		return err
	}
	if meta.Frozen {
		return nil
	}
	meta.Frozen = true
	meta.UpdatedAt = now.UTC()
	return s.writeMetadata(*meta)
}

// AppendBatch appends a batch id to a season's index in canonical
// (batch_id ascending) order. It rejects with FrozenViolation if the
// season is frozen — this is a defense-in-depth check; the Policy
// Engine is expected to reject the action before the store is reached.
func (s *SeasonStore) AppendBatch(season, batchID string, now time.Time) error {
	if err := s.EnsureSeason(season, now); err != nil {
		return err
	}
	frozen, err := s.IsFrozen(season)
	if err != nil {
		return err
	}
	if frozen {
		return &errs.FrozenViolation{Season: season}
	}
	idx, err := s.Index(season)
	if err != nil {
		return err
	}
	for _, b := range idx.Batches {
		if b == batchID {
			return nil
		}
	}
	idx.Batches = append(idx.Batches, batchID)
	sort.Strings(idx.Batches)
	idx.UpdatedAt = now.UTC()
	return s.writeIndex(*idx)
}

// RebuildIndex recomputes a season's batch list from scratch. It is a
// RESEARCH_MUTATE action: a frozen season rejects it with
// FrozenViolation.
func (s *SeasonStore) RebuildIndex(season string, batchIDs []string, now time.Time) error {
	frozen, err := s.IsFrozen(season)
	if err != nil {
		return err
	}
	if frozen {
		return &errs.FrozenViolation{Season: season}
	}
	sorted := append([]string(nil), batchIDs...)
	sort.Strings(sorted)
	return s.writeIndex(SeasonIndex{Season: season, Batches: sorted, UpdatedAt: now.UTC()})
}
