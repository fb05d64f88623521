package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const catalogSchema = `
CREATE TABLE IF NOT EXISTS seasons (
	season TEXT PRIMARY KEY,
	frozen INTEGER NOT NULL DEFAULT 0,
	note TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS batches (
	batch_id TEXT PRIMARY KEY,
	season TEXT NOT NULL,
	frozen INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_batches_season ON batches(season);
`

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS policy_decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	decision_id TEXT NOT NULL,
	action TEXT NOT NULL,
	season TEXT NOT NULL,
	allowed INTEGER NOT NULL,
	reason TEXT NOT NULL,
	risk TEXT NOT NULL,
	decided_at TEXT NOT NULL
);
`

// Catalog is the query-convenience layer over the season/batch/policy
// catalog database. Its season and batch rows mirror writes that
// internal/governance already made to the filesystem and can be rebuilt
// from those files; the policy decision ledger is recorded only here.
type Catalog struct {
	standard *DB
	ledger   *DB
}

// OpenCatalog opens (or creates) the standard catalog database and the
// append-only policy decision ledger, applying their schemas.
func OpenCatalog(standardPath, ledgerPath string) (*Catalog, error) {
	standard, err := Open(Config{Path: standardPath, Profile: ProfileStandard, Name: "catalog"})
	if err != nil {
		return nil, err
	}
	ledger, err := Open(Config{Path: ledgerPath, Profile: ProfileLedger, Name: "policy_ledger"})
	if err != nil {
		_ = standard.Close()
		return nil, err
	}
	c := &Catalog{standard: standard, ledger: ledger}
	if err := c.migrate(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) migrate() error {
	if _, err := c.standard.conn.Exec(catalogSchema); err != nil {
		return fmt.Errorf("store: migrate catalog schema: %w", err)
	}
	if _, err := c.ledger.conn.Exec(ledgerSchema); err != nil {
		return fmt.Errorf("store: migrate ledger schema: %w", err)
	}
	return nil
}

// Close closes both underlying databases.
func (c *Catalog) Close() error {
	err1 := c.standard.Close()
	err2 := c.ledger.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// SeasonRow mirrors a season's current catalog state.
type SeasonRow struct {
	Season    string
	Frozen    bool
	Note      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertSeason records (or updates) a season row. The catalog is a
// derived index, so this is always called after the authoritative
// filesystem write already succeeded.
func (c *Catalog) UpsertSeason(ctx context.Context, row SeasonRow) error {
	_, err := c.standard.ExecContext(ctx, `
		INSERT INTO seasons (season, frozen, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(season) DO UPDATE SET
			frozen = excluded.frozen,
			note = excluded.note,
			updated_at = excluded.updated_at
	`, row.Season, boolToInt(row.Frozen), row.Note, row.CreatedAt.UTC().Format(time.RFC3339), row.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

// ListSeasons returns every season row ordered by season ascending.
func (c *Catalog) ListSeasons(ctx context.Context) ([]SeasonRow, error) {
	rows, err := c.standard.QueryContext(ctx, `SELECT season, frozen, note, created_at, updated_at FROM seasons ORDER BY season ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SeasonRow
	for rows.Next() {
		var r SeasonRow
		var frozen int
		var created, updated string
		if err := rows.Scan(&r.Season, &frozen, &r.Note, &created, &updated); err != nil {
			return nil, err
		}
		r.Frozen = frozen != 0
		r.CreatedAt, _ = time.Parse(time.RFC3339, created)
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// BatchRow mirrors a batch's current catalog state.
type BatchRow struct {
	BatchID   string
	Season    string
	Frozen    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertBatch records (or updates) a batch row.
func (c *Catalog) UpsertBatch(ctx context.Context, row BatchRow) error {
	_, err := c.standard.ExecContext(ctx, `
		INSERT INTO batches (batch_id, season, frozen, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(batch_id) DO UPDATE SET
			frozen = excluded.frozen,
			updated_at = excluded.updated_at
	`, row.BatchID, row.Season, boolToInt(row.Frozen), row.CreatedAt.UTC().Format(time.RFC3339), row.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

// ListBatches returns every batch row for season, ordered by batch_id
// ascending.
func (c *Catalog) ListBatches(ctx context.Context, season string) ([]BatchRow, error) {
	rows, err := c.standard.QueryContext(ctx, `SELECT batch_id, season, frozen, created_at, updated_at FROM batches WHERE season = ? ORDER BY batch_id ASC`, season)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BatchRow
	for rows.Next() {
		var r BatchRow
		var frozen int
		var created, updated string
		if err := rows.Scan(&r.BatchID, &r.Season, &frozen, &created, &updated); err != nil {
			return nil, err
		}
		r.Frozen = frozen != 0
		r.CreatedAt, _ = time.Parse(time.RFC3339, created)
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PolicyDecisionRow is one recorded policy engine verdict. DecisionID is
// a random external identifier (not content-derived — the decision
// itself isn't a reproducible artifact, just an audit event), minted on
// insert the same way the teacher mints a recommendation row's UUID.
type PolicyDecisionRow struct {
	DecisionID string
	Action     string
	Season     string
	Allowed    bool
	Reason     string
	Risk       string
	DecidedAt  time.Time
}

// RecordDecision appends a policy decision to the audit trail. The
// ledger is append-only: there is no update or delete path.
func (c *Catalog) RecordDecision(ctx context.Context, row PolicyDecisionRow) error {
	decisionID := row.DecisionID
	if decisionID == "" {
		decisionID = uuid.New().String()
	}
	_, err := c.ledger.ExecContext(ctx, `
		INSERT INTO policy_decisions (decision_id, action, season, allowed, reason, risk, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, decisionID, row.Action, row.Season, boolToInt(row.Allowed), row.Reason, row.Risk, row.DecidedAt.UTC().Format(time.RFC3339))
	return err
}

// ListDecisions returns every recorded decision for season, oldest
// first.
func (c *Catalog) ListDecisions(ctx context.Context, season string) ([]PolicyDecisionRow, error) {
	rows, err := c.ledger.QueryContext(ctx, `SELECT decision_id, action, season, allowed, reason, risk, decided_at FROM policy_decisions WHERE season = ? ORDER BY id ASC`, season)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PolicyDecisionRow
	for rows.Next() {
		var r PolicyDecisionRow
		var allowed int
		var decided string
		if err := rows.Scan(&r.DecisionID, &r.Action, &r.Season, &allowed, &r.Reason, &r.Risk, &decided); err != nil {
			return nil, err
		}
		r.Allowed = allowed != 0
		r.DecidedAt, _ = time.Parse(time.RFC3339, decided)
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
