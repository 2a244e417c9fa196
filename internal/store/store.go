// Package store provides SQLite-backed persistence for the kernel's
// dynamics: workcell lifecycle records, proof history, tick metrics, and
// coordination leases. Schema and access style follow the teacher's
// internal/store/store.go (raw SQL schema constant, pragma-tuned Open,
// incremental migrate() for existing databases, per-table CRUD methods).
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cyntra-dev/cyntra/internal/proof"
)

// Store wraps the kernel's SQLite state database.
type Store struct {
	db *sql.DB
}

// WorkcellRecord is a persisted workcell lifecycle row.
type WorkcellRecord struct {
	ID           int64
	WorkcellID   string
	IssueID      string
	BranchName   string
	Path         string
	BaseCommit   string
	SpeculateTag string
	Status       string // running, completed, failed, cleaned_up
	CreatedAt    time.Time
	CompletedAt  sql.NullTime
}

// ProofRecord is a persisted PatchProof, kept alongside its raw JSON so
// `cyntra history`/`cyntra stats` can reconstruct the full proof without a
// second join across metadata/verification tables.
type ProofRecord struct {
	ID         int64
	WorkcellID string
	IssueID    string
	Status     string
	Confidence float64
	AllPassed  bool
	DurationMS int64
	CostUSD    float64
	Toolchain  string
	Model      string
	ProofJSON  string
	CreatedAt  time.Time
}

// TickMetric is a persisted snapshot of one Scheduler.Tick call.
type TickMetric struct {
	ID         int64
	TickAt     time.Time
	Ready      int
	Dispatched int
	Speculated int
	InFlight   int
}

// Lease is a coordination lock row (see internal/coordination).
type Lease struct {
	Name       string
	HolderID   string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS workcells (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	workcell_id TEXT NOT NULL UNIQUE,
	issue_id TEXT NOT NULL,
	branch_name TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL DEFAULT '',
	base_commit TEXT NOT NULL DEFAULT '',
	speculate_tag TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'running',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS proofs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	workcell_id TEXT NOT NULL,
	issue_id TEXT NOT NULL,
	status TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	all_passed BOOLEAN NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0,
	toolchain TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	proof_json TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS tick_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tick_at DATETIME NOT NULL DEFAULT (datetime('now')),
	ready INTEGER NOT NULL DEFAULT 0,
	dispatched INTEGER NOT NULL DEFAULT 0,
	speculated INTEGER NOT NULL DEFAULT 0,
	in_flight INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS leases (
	name TEXT PRIMARY KEY,
	holder_id TEXT NOT NULL,
	acquired_at DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workcells_issue ON workcells(issue_id);
CREATE INDEX IF NOT EXISTS idx_workcells_status ON workcells(status);
CREATE INDEX IF NOT EXISTS idx_proofs_issue ON proofs(issue_id);
CREATE INDEX IF NOT EXISTS idx_proofs_created ON proofs(created_at);
CREATE INDEX IF NOT EXISTS idx_tick_metrics_at ON tick_metrics(tick_at);
CREATE INDEX IF NOT EXISTS idx_leases_expires ON leases(expires_at);
`

// Open creates or opens a SQLite database at dbPath and ensures the schema exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// migrate applies incremental schema migrations for existing databases.
func migrate(db *sql.DB) error {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('workcells') WHERE name = 'speculate_tag'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("check speculate_tag column: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE workcells ADD COLUMN speculate_tag TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("add speculate_tag column: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced queries (e.g. the API's
// stats handlers, which need ad hoc aggregation the methods below don't
// cover).
func (s *Store) DB() *sql.DB {
	return s.db
}

// RecordWorkcellCreated inserts a new workcell row.
func (s *Store) RecordWorkcellCreated(workcellID, issueID, branchName, path, baseCommit, speculateTag string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO workcells (workcell_id, issue_id, branch_name, path, base_commit, speculate_tag) VALUES (?, ?, ?, ?, ?, ?)`,
		workcellID, issueID, branchName, path, baseCommit, speculateTag,
	)
	if err != nil {
		return 0, fmt.Errorf("store: record workcell: %w", err)
	}
	return res.LastInsertId()
}

// UpdateWorkcellStatus transitions a workcell's status, stamping
// completed_at when it leaves the running state.
func (s *Store) UpdateWorkcellStatus(workcellID, status string) error {
	var err error
	if status == "running" {
		_, err = s.db.Exec(`UPDATE workcells SET status = ? WHERE workcell_id = ?`, status, workcellID)
	} else {
		_, err = s.db.Exec(
			`UPDATE workcells SET status = ?, completed_at = datetime('now') WHERE workcell_id = ?`,
			status, workcellID,
		)
	}
	if err != nil {
		return fmt.Errorf("store: update workcell status: %w", err)
	}
	return nil
}

const workcellCols = `id, workcell_id, issue_id, branch_name, path, base_commit, speculate_tag, status, created_at, completed_at`

// GetWorkcell returns a single workcell row by its workcell_id.
func (s *Store) GetWorkcell(workcellID string) (*WorkcellRecord, error) {
	rows, err := s.queryWorkcells(`SELECT `+workcellCols+` FROM workcells WHERE workcell_id = ?`, workcellID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ListRunningWorkcells returns all workcells currently running.
func (s *Store) ListRunningWorkcells() ([]WorkcellRecord, error) {
	return s.queryWorkcells(`SELECT ` + workcellCols + ` FROM workcells WHERE status = 'running'`)
}

// ListAllWorkcells returns every workcell ever created, newest first.
func (s *Store) ListAllWorkcells() ([]WorkcellRecord, error) {
	return s.queryWorkcells(`SELECT ` + workcellCols + ` FROM workcells ORDER BY created_at DESC`)
}

// ListWorkcellsByIssue returns every workcell ever created for an issue,
// newest first — speculate groups leave several rows per issue.
func (s *Store) ListWorkcellsByIssue(issueID string) ([]WorkcellRecord, error) {
	return s.queryWorkcells(`SELECT `+workcellCols+` FROM workcells WHERE issue_id = ? ORDER BY created_at DESC`, issueID)
}

func (s *Store) queryWorkcells(query string, args ...any) ([]WorkcellRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query workcells: %w", err)
	}
	defer rows.Close()

	var out []WorkcellRecord
	for rows.Next() {
		var w WorkcellRecord
		if err := rows.Scan(
			&w.ID, &w.WorkcellID, &w.IssueID, &w.BranchName, &w.Path, &w.BaseCommit,
			&w.SpeculateTag, &w.Status, &w.CreatedAt, &w.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan workcell: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// RecordProof persists a finished PatchProof. proofJSON is the output of
// proof.ToJSON, stored verbatim so history/stats can round-trip the full
// record without re-deriving it from the summary columns.
func (s *Store) RecordProof(p proof.PatchProof, proofJSON string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO proofs (workcell_id, issue_id, status, confidence, all_passed, duration_ms, cost_usd, toolchain, model, proof_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.WorkcellID, p.IssueID, string(p.Status), p.Confidence, p.Verification.AllPassed,
		p.Metadata.DurationMS, p.Metadata.CostUSD, p.Metadata.Toolchain, p.Metadata.Model, proofJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("store: record proof: %w", err)
	}
	return res.LastInsertId()
}

const proofCols = `id, workcell_id, issue_id, status, confidence, all_passed, duration_ms, cost_usd, toolchain, model, proof_json, created_at`

// ListProofsByIssue returns every proof ever recorded for an issue, newest first.
func (s *Store) ListProofsByIssue(issueID string) ([]ProofRecord, error) {
	return s.queryProofs(`SELECT `+proofCols+` FROM proofs WHERE issue_id = ? ORDER BY created_at DESC`, issueID)
}

// ListRecentProofs returns the most recent proofs, newest first, capped at limit.
func (s *Store) ListRecentProofs(limit int) ([]ProofRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryProofs(`SELECT `+proofCols+` FROM proofs ORDER BY created_at DESC LIMIT ?`, limit)
}

func (s *Store) queryProofs(query string, args ...any) ([]ProofRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query proofs: %w", err)
	}
	defer rows.Close()

	var out []ProofRecord
	for rows.Next() {
		var p ProofRecord
		if err := rows.Scan(
			&p.ID, &p.WorkcellID, &p.IssueID, &p.Status, &p.Confidence, &p.AllPassed,
			&p.DurationMS, &p.CostUSD, &p.Toolchain, &p.Model, &p.ProofJSON, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan proof: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordTick persists a snapshot of one scheduler tick for the stats API.
func (s *Store) RecordTick(ready, dispatched, speculated, inFlight int) error {
	_, err := s.db.Exec(
		`INSERT INTO tick_metrics (ready, dispatched, speculated, in_flight) VALUES (?, ?, ?, ?)`,
		ready, dispatched, speculated, inFlight,
	)
	if err != nil {
		return fmt.Errorf("store: record tick: %w", err)
	}
	return nil
}

// RecentTicks returns the most recent tick snapshots, newest first.
func (s *Store) RecentTicks(limit int) ([]TickMetric, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, tick_at, ready, dispatched, speculated, in_flight FROM tick_metrics ORDER BY tick_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query tick metrics: %w", err)
	}
	defer rows.Close()

	var out []TickMetric
	for rows.Next() {
		var t TickMetric
		if err := rows.Scan(&t.ID, &t.TickAt, &t.Ready, &t.Dispatched, &t.Speculated, &t.InFlight); err != nil {
			return nil, fmt.Errorf("store: scan tick metric: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AcquireLease attempts to take (or renew) a named coordination lease for
// holderID, succeeding only if the lease is unheld or already expired.
// Mirrors the claim_leases upsert-with-ownership-check discipline the
// teacher uses for bead claims, generalized to a single named resource
// instead of one row per bead.
func (s *Store) AcquireLease(name, holderID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expires := now.Add(ttl)

	res, err := s.db.Exec(
		`INSERT INTO leases (name, holder_id, acquired_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   holder_id = excluded.holder_id,
		   acquired_at = excluded.acquired_at,
		   expires_at = excluded.expires_at
		 WHERE leases.expires_at < ? OR leases.holder_id = excluded.holder_id`,
		name, holderID, now, expires, now,
	)
	if err != nil {
		return false, fmt.Errorf("store: acquire lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: acquire lease rows affected: %w", err)
	}
	return affected > 0, nil
}

// ReleaseLease drops a lease this holder currently owns.
func (s *Store) ReleaseLease(name, holderID string) error {
	_, err := s.db.Exec(`DELETE FROM leases WHERE name = ? AND holder_id = ?`, name, holderID)
	if err != nil {
		return fmt.Errorf("store: release lease: %w", err)
	}
	return nil
}

// GetLease returns the current holder of a named lease, if any.
func (s *Store) GetLease(name string) (*Lease, error) {
	var l Lease
	err := s.db.QueryRow(`SELECT name, holder_id, acquired_at, expires_at FROM leases WHERE name = ?`, name).
		Scan(&l.Name, &l.HolderID, &l.AcquiredAt, &l.ExpiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get lease: %w", err)
	}
	return &l, nil
}
