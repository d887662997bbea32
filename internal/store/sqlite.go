package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/merchantiq/matchd/internal/engine"
	"github.com/merchantiq/matchd/internal/escalation"
	"github.com/merchantiq/matchd/internal/model"
	"github.com/merchantiq/matchd/internal/tiebreak"
)

// SQLite persists states, decisions, and tickets in a single database file.
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type SQLite struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Pass ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLite, error) {
	connStr := path
	if path == ":memory:" {
		// Shared cache so every pooled connection sees the same database.
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflow_states (
		candidate_id INTEGER PRIMARY KEY,
		status TEXT NOT NULL,
		iterations INTEGER NOT NULL DEFAULT 0,
		confidence REAL NOT NULL DEFAULT 0,
		versions TEXT NOT NULL DEFAULT '[]',
		failures TEXT NOT NULL DEFAULT '[]',
		confirmed INTEGER NOT NULL DEFAULT 0,
		excluded INTEGER NOT NULL DEFAULT 0,
		review INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		candidate_id INTEGER NOT NULL,
		record_id INTEGER NOT NULL,
		iteration INTEGER NOT NULL,
		score REAL NOT NULL,
		recommendation TEXT NOT NULL,
		factors TEXT NOT NULL DEFAULT '[]',
		logged_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_candidate ON decisions(candidate_id);

	CREATE TABLE IF NOT EXISTS resolutions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id INTEGER NOT NULL,
		candidate_id INTEGER,
		manual_review INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL,
		logged_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS escalation_tickets (
		id TEXT PRIMARY KEY,
		candidate_ids TEXT NOT NULL,
		reason TEXT NOT NULL,
		iteration_count INTEGER NOT NULL,
		priority TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SaveState implements engine.WorkflowStore with an upsert per candidate.
func (s *SQLite) SaveState(ctx context.Context, state *engine.WorkflowState) error {
	versions, err := json.Marshal(state.Versions)
	if err != nil {
		return fmt.Errorf("marshal versions: %w", err)
	}
	failures, err := json.Marshal(state.Failures)
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_states
			(candidate_id, status, iterations, confidence, versions, failures,
			 confirmed, excluded, review, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(candidate_id) DO UPDATE SET
			status = excluded.status,
			iterations = excluded.iterations,
			confidence = excluded.confidence,
			versions = excluded.versions,
			failures = excluded.failures,
			confirmed = excluded.confirmed,
			excluded = excluded.excluded,
			review = excluded.review,
			updated_at = excluded.updated_at`,
		state.CandidateID, string(state.Status), state.Iterations, state.Confidence,
		string(versions), string(failures),
		state.Counts.Confirmed, state.Counts.Excluded, state.Counts.Review,
		state.StartedAt, state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save state for candidate %d: %w", state.CandidateID, err)
	}
	return nil
}

// GetState implements engine.WorkflowStore. A missing candidate returns
// (nil, nil).
func (s *SQLite) GetState(ctx context.Context, candidateID int64) (*engine.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT candidate_id, status, iterations, confidence, versions, failures,
		       confirmed, excluded, review, started_at, updated_at
		FROM workflow_states WHERE candidate_id = ?`, candidateID)

	state, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return state, err
}

// ListStates implements engine.WorkflowStore, ordered by candidate id.
func (s *SQLite) ListStates(ctx context.Context) ([]*engine.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT candidate_id, status, iterations, confidence, versions, failures,
		       confirmed, excluded, review, started_at, updated_at
		FROM workflow_states ORDER BY candidate_id`)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	defer rows.Close()

	var out []*engine.WorkflowState
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*engine.WorkflowState, error) {
	var (
		state              engine.WorkflowState
		status             string
		versions, failures string
	)
	err := row.Scan(
		&state.CandidateID, &status, &state.Iterations, &state.Confidence,
		&versions, &failures,
		&state.Counts.Confirmed, &state.Counts.Excluded, &state.Counts.Review,
		&state.StartedAt, &state.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	state.Status = engine.Status(status)
	if err := json.Unmarshal([]byte(versions), &state.Versions); err != nil {
		return nil, fmt.Errorf("unmarshal versions for candidate %d: %w", state.CandidateID, err)
	}
	if err := json.Unmarshal([]byte(failures), &state.Failures); err != nil {
		return nil, fmt.Errorf("unmarshal failures for candidate %d: %w", state.CandidateID, err)
	}
	return &state, nil
}

// AppendDecisions implements engine.DecisionLog. All rows for one call are
// written in a single transaction.
func (s *SQLite) AppendDecisions(ctx context.Context, candidateID int64, iteration int, decisions []model.Decision) error {
	if len(decisions) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin decisions tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, d := range decisions {
		factors, err := json.Marshal(d.Factors)
		if err != nil {
			return fmt.Errorf("marshal factors: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO decisions
				(candidate_id, record_id, iteration, score, recommendation, factors, logged_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			candidateID, d.RecordID, iteration, d.Score, string(d.Recommendation),
			string(factors), now,
		)
		if err != nil {
			return fmt.Errorf("insert decision for record %d: %w", d.RecordID, err)
		}
	}
	return tx.Commit()
}

// AppendResolutions implements engine.DecisionLog.
func (s *SQLite) AppendResolutions(ctx context.Context, resolutions []tiebreak.Resolution) error {
	if len(resolutions) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin resolutions tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, r := range resolutions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO resolutions (record_id, candidate_id, manual_review, reason, logged_at)
			VALUES (?, ?, ?, ?, ?)`,
			r.RecordID, r.CandidateID, r.ManualReview, r.Reason, now,
		)
		if err != nil {
			return fmt.Errorf("insert resolution for record %d: %w", r.RecordID, err)
		}
	}
	return tx.Commit()
}

// AppendTicket implements escalation.TicketStore.
func (s *SQLite) AppendTicket(ctx context.Context, ticket escalation.Ticket) error {
	ids := make([]string, len(ticket.CandidateIDs))
	for i, id := range ticket.CandidateIDs {
		ids[i] = fmt.Sprintf("%d", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalation_tickets
			(id, candidate_ids, reason, iteration_count, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ticket.ID, strings.Join(ids, ","), ticket.Reason,
		ticket.IterationCount, ticket.Priority, ticket.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ticket %s: %w", ticket.ID, err)
	}
	return nil
}

// Decisions returns the audit trail for one candidate in append order.
func (s *SQLite) Decisions(ctx context.Context, candidateID int64) ([]model.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT candidate_id, record_id, score, recommendation, factors
		FROM decisions WHERE candidate_id = ? ORDER BY id`, candidateID)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		var (
			d       model.Decision
			rec     string
			factors string
		)
		if err := rows.Scan(&d.CandidateID, &d.RecordID, &d.Score, &rec, &factors); err != nil {
			return nil, err
		}
		d.Recommendation = model.Recommendation(rec)
		if err := json.Unmarshal([]byte(factors), &d.Factors); err != nil {
			return nil, fmt.Errorf("unmarshal factors: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
