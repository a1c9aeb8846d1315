// Package store keeps incident events and segmentation results in SQLite.
//
// The database runs in WAL mode so a scheduled job can read events while an
// import is appending to the same file.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/phaseseg/internal/types"

	_ "modernc.org/sqlite"
)

// Store manages all SQLite operations.
type Store struct {
	db   *sql.DB
	path string
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) retry(ctx context.Context, fn func() error) error {
	return retryOp(ctx, defaultRetryConfig, fn)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		incident_id     TEXT NOT NULL,
		timestamp       TEXT NOT NULL,
		insert_sequence INTEGER NOT NULL DEFAULT 0,
		actor           TEXT NOT NULL DEFAULT '',
		description     TEXT NOT NULL DEFAULT '',
		is_completion   INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_events_incident ON events(incident_id, insert_sequence);

	CREATE TABLE IF NOT EXISTS labels (
		run_id          TEXT NOT NULL,
		incident_id     TEXT NOT NULL,
		insert_sequence INTEGER NOT NULL,
		position        INTEGER NOT NULL,
		timestamp       TEXT NOT NULL,
		actor           TEXT NOT NULL,
		phase           TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_labels_run ON labels(run_id, incident_id);

	CREATE TABLE IF NOT EXISTS summaries (
		run_id      TEXT NOT NULL,
		incident_id TEXT NOT NULL,
		body        TEXT NOT NULL,
		metrics     TEXT,
		PRIMARY KEY (run_id, incident_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// InsertEvents appends raw events in a single transaction.
func (s *Store) InsertEvents(ctx context.Context, events []types.RawEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.retry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO events (incident_id, timestamp, insert_sequence, actor, description, is_completion)
			 VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range events {
			var completion sql.NullBool
			if e.Completion != nil {
				completion = sql.NullBool{Bool: *e.Completion, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, string(e.IncidentID), e.Timestamp, e.InsertSequence, e.Actor, e.Description, completion); err != nil {
				return fmt.Errorf("insert event %s/%d: %w", e.IncidentID, e.InsertSequence, err)
			}
		}
		return tx.Commit()
	})
}

// ListIncidentIDs returns every incident with stored events, ordered by ID.
func (s *Store) ListIncidentIDs(ctx context.Context) ([]types.IncidentID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT incident_id FROM events ORDER BY incident_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []types.IncidentID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, types.IncidentID(id))
	}
	return ids, rows.Err()
}

// LoadEvents returns the raw events of one incident, or of every incident
// when id is empty, in insertion order.
func (s *Store) LoadEvents(ctx context.Context, id types.IncidentID) ([]types.RawEvent, error) {
	query := `SELECT incident_id, timestamp, insert_sequence, actor, description, is_completion FROM events`
	var args []any
	if id != "" {
		query += ` WHERE incident_id = ?`
		args = append(args, string(id))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []types.RawEvent
	for rows.Next() {
		var e types.RawEvent
		var incident string
		var completion sql.NullBool
		if err := rows.Scan(&incident, &e.Timestamp, &e.InsertSequence, &e.Actor, &e.Description, &completion); err != nil {
			return nil, err
		}
		e.IncidentID = types.IncidentID(incident)
		if completion.Valid {
			v := completion.Bool
			e.Completion = &v
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ReadEvents returns every stored event.
func (s *Store) ReadEvents(ctx context.Context) ([]types.RawEvent, error) {
	return s.LoadEvents(ctx, "")
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// WriteResults stores the labels, summaries and metrics of a run. Writing
// the same run twice replaces its earlier rows.
func (s *Store) WriteResults(ctx context.Context, out *types.RunOutput) error {
	metrics := make(map[types.IncidentID]types.IncidentMetrics, len(out.Metrics))
	for _, m := range out.Metrics {
		metrics[m.IncidentID] = m
	}

	err := s.retry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		runID := string(out.RunID)
		if _, err := tx.ExecContext(ctx, `DELETE FROM labels WHERE run_id = ?`, runID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM summaries WHERE run_id = ?`, runID); err != nil {
			return err
		}

		labelStmt, err := tx.PrepareContext(ctx,
			`INSERT INTO labels (run_id, incident_id, insert_sequence, position, timestamp, actor, phase)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer labelStmt.Close()
		for _, e := range out.Events {
			if _, err := labelStmt.ExecContext(ctx, runID, string(e.IncidentID), e.InsertSequence, e.Position, e.Timestamp, e.Actor, string(e.Phase)); err != nil {
				return fmt.Errorf("insert label: %w", err)
			}
		}

		sumStmt, err := tx.PrepareContext(ctx,
			`INSERT INTO summaries (run_id, incident_id, body, metrics) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer sumStmt.Close()
		for _, sum := range out.Summaries {
			body, err := json.Marshal(sum)
			if err != nil {
				return fmt.Errorf("marshal summary: %w", err)
			}
			var metricsBody sql.NullString
			if m, ok := metrics[sum.IncidentID]; ok {
				data, err := json.Marshal(m)
				if err != nil {
					return fmt.Errorf("marshal metrics: %w", err)
				}
				metricsBody = sql.NullString{String: string(data), Valid: true}
			}
			if _, err := sumStmt.ExecContext(ctx, runID, string(sum.IncidentID), string(body), metricsBody); err != nil {
				return fmt.Errorf("insert summary: %w", err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("save results for run %s: %w", out.RunID, err)
	}
	slog.Debug("stored run results", "run_id", out.RunID, "labels", len(out.Events), "summaries", len(out.Summaries))
	return nil
}

// ListSummaries returns the summaries stored for a run ordered by incident.
func (s *Store) ListSummaries(ctx context.Context, runID types.RunID) ([]types.IncidentSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM summaries WHERE run_id = ? ORDER BY incident_id`, string(runID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.IncidentSummary
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var sum types.IncidentSummary
		if err := json.Unmarshal([]byte(body), &sum); err != nil {
			return nil, fmt.Errorf("unmarshal summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// PhaseCounts returns the number of labels per phase for a run.
func (s *Store) PhaseCounts(ctx context.Context, runID types.RunID) (map[types.Phase]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT phase, COUNT(*) FROM labels WHERE run_id = ? GROUP BY phase`, string(runID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[types.Phase]int)
	for rows.Next() {
		var phase string
		var n int
		if err := rows.Scan(&phase, &n); err != nil {
			return nil, err
		}
		counts[types.Phase(phase)] = n
	}
	return counts, rows.Err()
}
