package governance

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/fishbro/pkg/atomicfile"
)

const batchRecordFile = "batch_record.json"

// BatchRecord is the per-batch freeze bit and ownership record.
type BatchRecord struct {
	BatchID   string    `json:"batch_id"`
	Season    string    `json:"season"`
	Frozen    bool      `json:"frozen"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BatchStore persists one BatchRecord per batch under root/{batch_id}/.
type BatchStore struct {
	root string
}

// NewBatchStore eagerly creates root and returns a store rooted there.
func NewBatchStore(root string) (*BatchStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &BatchStore{root: root}, nil
}

func (b *BatchStore) batchDir(batchID string) string {
	return filepath.Join(b.root, batchID)
}

func (b *BatchStore) scope(batchID string) atomicfile.WriteScope {
	return atomicfile.NewScope(b.batchDir(batchID), []string{batchRecordFile}, nil)
}

// Record reads a batch's record. A batch that has never been created
// returns (nil, nil).
func (b *BatchStore) Record(batchID string) (*BatchRecord, error) {
	data, err := os.ReadFile(filepath.Join(b.batchDir(batchID), batchRecordFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rec BatchRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (b *BatchStore) write(rec BatchRecord) error {
	scope := b.scope(rec.BatchID)
	if err := atomicfile.MkdirAll(scope); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.Write(scope, batchRecordFile, data)
}

// EnsureBatch creates a batch record if it does not already exist.
// Idempotent.
func (b *BatchStore) EnsureBatch(batchID, season string, now time.Time) error {
	rec, err := b.Record(batchID)
	if err != nil {
		return err
	}
	if rec != nil {
		return nil
	}
	return b.write(BatchRecord{BatchID: batchID, Season: season, CreatedAt: now.UTC(), UpdatedAt: now.UTC()})
}

// IsFrozen reports whether a batch is frozen. A batch that does not
// exist yet is treated as not frozen.
func (b *BatchStore) IsFrozen(batchID string) (bool, error) {
	rec, err := b.Record(batchID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	return rec.Frozen, nil
}

// Freeze sets the one-way frozen bit on a batch. Freezing an
// already-frozen batch is a no-op.
func (b *BatchStore) Freeze(batchID, season string, now time.Time) error {
	if err := b.EnsureBatch(batchID, season, now); err != nil {
		return err
	}
	rec, err := b.Record(batchID)
	if err != nil {
		return err
	}
	if rec.Frozen {
		return nil
	}
	rec.Frozen = true
	rec.UpdatedAt = now.UTC()
	return b.write(*rec)
}
