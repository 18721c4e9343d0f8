package storage

// sqlite.go — persistence for the trade-job state machine.
//
// Tables:
//   trade_jobs            — one row per (event, side) job
//   signals               — one row per placed or intended order
//   order_events          — append-only order audit trail
//   position_groups       — per-event inventory aggregates
//   position_group_audit  — append-only group audit trail
//   daily_summaries       — per-day operational snapshot
//
// All timestamps are stored as ISO-8601 UTC strings so ordering stays
// unambiguous across process restarts.

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS trade_jobs (
    id               TEXT PRIMARY KEY,
    event_id         TEXT NOT NULL,
    away_team        TEXT NOT NULL DEFAULT '',
    home_team        TEXT NOT NULL DEFAULT '',
    pick_team        TEXT NOT NULL DEFAULT '',
    tip_off          TEXT,
    execute_after    TEXT NOT NULL,
    execute_before   TEXT NOT NULL,
    status           TEXT NOT NULL DEFAULT 'pending',
    side             TEXT NOT NULL,
    paired_job_id    TEXT NOT NULL DEFAULT '',
    bothside_gid     TEXT NOT NULL DEFAULT '',
    merge_status     TEXT NOT NULL DEFAULT 'none',
    retry_count      INTEGER NOT NULL DEFAULT 0,
    error_message    TEXT NOT NULL DEFAULT '',
    p_low            REAL NOT NULL DEFAULT 0,
    confidence       TEXT NOT NULL DEFAULT 'low',
    dca_group_id     TEXT NOT NULL DEFAULT '',
    dca_entries_done INTEGER NOT NULL DEFAULT 0,
    dca_max_entries  INTEGER NOT NULL DEFAULT 1,
    dca_slice_usd    REAL NOT NULL DEFAULT 0,
    dca_budget_usd   REAL NOT NULL DEFAULT 0,
    created_at       TEXT NOT NULL,
    updated_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS trade_jobs_status ON trade_jobs(status);
CREATE INDEX IF NOT EXISTS trade_jobs_event  ON trade_jobs(event_id);
CREATE UNIQUE INDEX IF NOT EXISTS trade_jobs_event_side_active
    ON trade_jobs(event_id, side)
    WHERE status IN ('pending','executing','dca_active');

CREATE TABLE IF NOT EXISTS signals (
    id                     TEXT PRIMARY KEY,
    job_id                 TEXT NOT NULL,
    event_id               TEXT NOT NULL,
    condition_id           TEXT NOT NULL DEFAULT '',
    token_id               TEXT NOT NULL DEFAULT '',
    role                   TEXT NOT NULL,
    bothside_gid           TEXT NOT NULL DEFAULT '',
    dca_seq                INTEGER NOT NULL DEFAULT 0,
    target_price           REAL NOT NULL DEFAULT 0,
    kelly_size_usd         REAL NOT NULL DEFAULT 0,
    order_id               TEXT NOT NULL DEFAULT '',
    order_status           TEXT NOT NULL DEFAULT 'pending',
    fill_price             REAL NOT NULL DEFAULT 0,
    filled_shares          REAL NOT NULL DEFAULT 0,
    shares_merged          REAL NOT NULL DEFAULT 0,
    merge_recovery_usd     REAL NOT NULL DEFAULT 0,
    order_placed_at        TEXT,
    order_replace_count    INTEGER NOT NULL DEFAULT 0,
    order_last_checked_at  TEXT,
    order_original_price   REAL NOT NULL DEFAULT 0,
    created_at             TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS signals_job    ON signals(job_id);
CREATE INDEX IF NOT EXISTS signals_event  ON signals(event_id);
CREATE INDEX IF NOT EXISTS signals_status ON signals(order_status);

CREATE TABLE IF NOT EXISTS order_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    signal_id  TEXT NOT NULL,
    order_id   TEXT NOT NULL DEFAULT '',
    kind       TEXT NOT NULL,
    price      REAL NOT NULL DEFAULT 0,
    best_ask   REAL NOT NULL DEFAULT 0,
    note       TEXT NOT NULL DEFAULT '',
    at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS order_events_signal ON order_events(signal_id);

CREATE TABLE IF NOT EXISTS position_groups (
    id            TEXT PRIMARY KEY,
    event_id      TEXT NOT NULL UNIQUE,
    state         TEXT NOT NULL DEFAULT 'building',
    m_target      REAL NOT NULL DEFAULT 0,
    d_target      REAL NOT NULL DEFAULT 0,
    q_dir         REAL NOT NULL DEFAULT 0,
    q_opp         REAL NOT NULL DEFAULT 0,
    merged_qty    REAL NOT NULL DEFAULT 0,
    d_max         REAL NOT NULL DEFAULT 0,
    dir_cost_usd  REAL NOT NULL DEFAULT 0,
    opp_cost_usd  REAL NOT NULL DEFAULT 0,
    won           INTEGER NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL,
    settled_at    TEXT
);

CREATE INDEX IF NOT EXISTS position_groups_state ON position_groups(state);

CREATE TABLE IF NOT EXISTS position_group_audit (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    group_id      TEXT NOT NULL,
    reason        TEXT NOT NULL,
    before_state  TEXT NOT NULL DEFAULT '',
    after_state   TEXT NOT NULL DEFAULT '',
    d             REAL NOT NULL DEFAULT 0,
    m             REAL NOT NULL DEFAULT 0,
    d_max         REAL NOT NULL DEFAULT 0,
    merge_amount  REAL NOT NULL DEFAULT 0,
    note          TEXT NOT NULL DEFAULT '',
    at            TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS group_audit_group ON position_group_audit(group_id);

CREATE TABLE IF NOT EXISTS daily_summaries (
    date              TEXT PRIMARY KEY,
    jobs_executed     INTEGER NOT NULL DEFAULT 0,
    jobs_skipped      INTEGER NOT NULL DEFAULT 0,
    jobs_expired      INTEGER NOT NULL DEFAULT 0,
    jobs_failed       INTEGER NOT NULL DEFAULT 0,
    orders_placed     INTEGER NOT NULL DEFAULT 0,
    orders_filled     INTEGER NOT NULL DEFAULT 0,
    orders_replaced   INTEGER NOT NULL DEFAULT 0,
    orders_expired    INTEGER NOT NULL DEFAULT 0,
    merge_qty         REAL NOT NULL DEFAULT 0,
    merge_recovery    REAL NOT NULL DEFAULT 0,
    realized_pnl      REAL NOT NULL DEFAULT 0,
    capital_deployed  REAL NOT NULL DEFAULT 0
);
`

// SQLiteStorage implements ports.Storage using SQLite (pure Go, no CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at the given path and
// applies the schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// ─── Time helpers ────────────────────────────────────────────────────────────

// tstr formats a time as an ISO-8601 UTC string, or nil for zero times.
// Whole-second precision: variable-length fractional seconds break the
// lexicographic ordering the window queries rely on.
func tstr(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// tptr is tstr for optional times.
func tptr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return tstr(*t)
}

// parseTime parses a stored ISO-8601 string, returning the zero time for
// NULL or unparseable values.
func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, ns.String)
	}
	return t
}
