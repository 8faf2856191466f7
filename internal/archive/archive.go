// Package archive persists completed runs to SQLite so traces can be
// inspected and exported after the fact.
package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kestrel-ir/kestrel/internal/budget"
	"github.com/kestrel-ir/kestrel/internal/controller"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	query         TEXT NOT NULL,
	budget_json   TEXT NOT NULL,
	consumed_json TEXT NOT NULL,
	doc_count     INTEGER NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trace_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	component    TEXT NOT NULL,
	action       TEXT NOT NULL,
	details_json TEXT,
	created_at   TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// #endregion schema

// #region types

// RunRecord is one archived run's summary row.
type RunRecord struct {
	RunID     string
	Query     string
	Budget    map[string]float64
	Consumed  map[string]float64
	DocCount  int
	CreatedAt time.Time
}

// EventRecord is one archived trace event.
type EventRecord struct {
	Seq       int
	Component string
	Action    string
	Details   map[string]any
	CreatedAt time.Time
}

// #endregion types

// #region store-struct
// Store manages archived runs in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// Open opens a SQLite database and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion close

// #region save-run
// SaveRun writes the run summary and its full trace atomically.
func (s *Store) SaveRun(out *controller.Output, b budget.Budget) error {
	if out == nil || out.Trace == nil {
		return fmt.Errorf("save run: nil output")
	}

	budgetJSON, err := json.Marshal(b.Limits)
	if err != nil {
		return fmt.Errorf("marshal budget: %w", err)
	}
	consumedJSON, err := json.Marshal(out.Consumed)
	if err != nil {
		return fmt.Errorf("marshal consumed: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (run_id, query, budget_json, consumed_json, doc_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		out.Trace.RunID, out.Query, string(budgetJSON), string(consumedJSON),
		len(out.Documents), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for seq, ev := range out.Trace.Events {
		var detailsPtr interface{}
		if len(ev.Details) > 0 {
			detailsJSON, err := json.Marshal(ev.Details)
			if err != nil {
				return fmt.Errorf("marshal event %d details: %w", seq, err)
			}
			detailsPtr = string(detailsJSON)
		}
		_, err = tx.Exec(
			`INSERT INTO trace_events (run_id, seq, component, action, details_json, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			out.Trace.RunID, seq, ev.Component, ev.Action, detailsPtr,
			ev.Timestamp.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert event %d: %w", seq, err)
		}
	}

	return tx.Commit()
}

// #endregion save-run

// #region get-run
// GetRun retrieves a run summary by id.
func (s *Store) GetRun(runID string) (RunRecord, error) {
	var rec RunRecord
	var budgetJSON, consumedJSON, createdStr string

	err := s.db.QueryRow(
		`SELECT run_id, query, budget_json, consumed_json, doc_count, created_at
		 FROM runs WHERE run_id = ?`, runID,
	).Scan(&rec.RunID, &rec.Query, &budgetJSON, &consumedJSON, &rec.DocCount, &createdStr)
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", runID, err)
	}

	if err := json.Unmarshal([]byte(budgetJSON), &rec.Budget); err != nil {
		return RunRecord{}, fmt.Errorf("unmarshal budget: %w", err)
	}
	if err := json.Unmarshal([]byte(consumedJSON), &rec.Consumed); err != nil {
		return RunRecord{}, fmt.Errorf("unmarshal consumed: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

// #endregion get-run

// #region list-runs
// ListRuns returns the most recent runs.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, query, budget_json, consumed_json, doc_count, created_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var budgetJSON, consumedJSON, createdStr string
		if err := rows.Scan(&rec.RunID, &rec.Query, &budgetJSON, &consumedJSON, &rec.DocCount, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(budgetJSON), &rec.Budget); err != nil {
			return nil, fmt.Errorf("unmarshal budget: %w", err)
		}
		if err := json.Unmarshal([]byte(consumedJSON), &rec.Consumed); err != nil {
			return nil, fmt.Errorf("unmarshal consumed: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion list-runs

// #region get-trace
// GetTrace returns a run's events in sequence order.
func (s *Store) GetTrace(runID string) ([]EventRecord, error) {
	rows, err := s.db.Query(
		`SELECT seq, component, action, details_json, created_at
		 FROM trace_events WHERE run_id = ? ORDER BY seq ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get trace %s: %w", runID, err)
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var ev EventRecord
		var detailsJSON sql.NullString
		var createdStr string
		if err := rows.Scan(&ev.Seq, &ev.Component, &ev.Action, &detailsJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if detailsJSON.Valid {
			if err := json.Unmarshal([]byte(detailsJSON.String), &ev.Details); err != nil {
				return nil, fmt.Errorf("unmarshal event details: %w", err)
			}
		}
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// #endregion get-trace

// #region actions
// Actions returns just the action names of a run's trace, in order.
func (s *Store) Actions(runID string) ([]string, error) {
	events, err := s.GetTrace(runID)
	if err != nil {
		return nil, err
	}
	actions := make([]string, len(events))
	for i, ev := range events {
		actions[i] = ev.Action
	}
	return actions, nil
}

// #endregion actions
