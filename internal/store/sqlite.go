package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/consensus-crawler/internal/model"
	"github.com/sells-group/consensus-crawler/internal/volatility"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS subjects (
	id                TEXT PRIMARY KEY,
	status            TEXT NOT NULL DEFAULT 'pending',
	last_processed_at DATETIME
);

CREATE TABLE IF NOT EXISTS query_results (
	id            TEXT PRIMARY KEY,
	subject       TEXT NOT NULL,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	prompt_type   TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	response      TEXT,
	error_class   TEXT,
	error_message TEXT,
	latency_ms    INTEGER NOT NULL DEFAULT 0,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	attempts      INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_results_subject ON query_results(subject, created_at);

CREATE TABLE IF NOT EXISTS volatility_scores (
	subject       TEXT PRIMARY KEY,
	score         REAL NOT NULL,
	components    TEXT NOT NULL,
	tier          TEXT NOT NULL,
	calculated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	name       TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// Migrate creates the schema if missing.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertSubject inserts or updates a subject row.
func (s *SQLiteStore) UpsertSubject(ctx context.Context, sub model.Subject) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subjects (id, status, last_processed_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, last_processed_at = excluded.last_processed_at`,
		sub.ID, sub.Status, sub.LastProcessedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert subject %s", sub.ID)
	}
	return nil
}

// ListPendingSubjects returns up to limit subjects in pending status.
func (s *SQLiteStore) ListPendingSubjects(ctx context.Context, limit int) ([]model.Subject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, last_processed_at FROM subjects
		WHERE status = ? ORDER BY id LIMIT ?`,
		model.StatusPending, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending subjects")
	}
	defer rows.Close()

	var out []model.Subject
	for rows.Next() {
		var sub model.Subject
		var processed sql.NullTime
		if err := rows.Scan(&sub.ID, &sub.Status, &processed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan subject")
		}
		if processed.Valid {
			t := processed.Time
			sub.LastProcessedAt = &t
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// UpdateSubjectStatus sets a subject's lifecycle status and, when non-nil,
// its last-processed timestamp.
func (s *SQLiteStore) UpdateSubjectStatus(ctx context.Context, id string, status model.SubjectStatus, processedAt *time.Time) error {
	var err error
	if processedAt != nil {
		_, err = s.db.ExecContext(ctx,
			`UPDATE subjects SET status = ?, last_processed_at = ? WHERE id = ?`,
			status, *processedAt, id,
		)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE subjects SET status = ? WHERE id = ?`,
			status, id,
		)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: update subject %s", id)
	}
	return nil
}

// AppendResults appends query results in a single transaction.
func (s *SQLiteStore) AppendResults(ctx context.Context, results []model.QueryResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin append")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO query_results
		(id, subject, provider, model, prompt_type, outcome, response, error_class, error_message, latency_ms, input_tokens, output_tokens, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare append")
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Subject, r.Provider, r.Model, r.PromptType, r.Outcome,
			r.Response, r.ErrorClass, r.ErrorMessage,
			r.LatencyMS, r.InputTokens, r.OutputTokens, r.Attempts, r.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: append result %s", r.Key())
		}
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit append")
	}
	return nil
}

// ListResults returns a subject's results created at or after since.
func (s *SQLiteStore) ListResults(ctx context.Context, subject string, since time.Time) ([]model.QueryResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, provider, model, prompt_type, outcome, response, error_class, error_message, latency_ms, input_tokens, output_tokens, attempts, created_at
		FROM query_results WHERE subject = ? AND created_at >= ? ORDER BY created_at`,
		subject, since,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list results %s", subject)
	}
	defer rows.Close()

	var out []model.QueryResult
	for rows.Next() {
		var r model.QueryResult
		var response, errClass, errMsg sql.NullString
		if err := rows.Scan(
			&r.ID, &r.Subject, &r.Provider, &r.Model, &r.PromptType, &r.Outcome,
			&response, &errClass, &errMsg,
			&r.LatencyMS, &r.InputTokens, &r.OutputTokens, &r.Attempts, &r.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		r.Response = response.String
		r.ErrorClass = errClass.String
		r.ErrorMessage = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveVolatility upserts a subject's volatility score.
func (s *SQLiteStore) SaveVolatility(ctx context.Context, score volatility.Score) error {
	components, err := json.Marshal(score.Components)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal components")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO volatility_scores (subject, score, components, tier, calculated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(subject) DO UPDATE SET
			score = excluded.score, components = excluded.components,
			tier = excluded.tier, calculated_at = excluded.calculated_at`,
		score.Subject, score.Score, string(components), score.Tier, score.CalculatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save volatility %s", score.Subject)
	}
	return nil
}

// GetVolatility returns a subject's volatility score, or nil if absent.
func (s *SQLiteStore) GetVolatility(ctx context.Context, subject string) (*volatility.Score, error) {
	var score volatility.Score
	var components string
	err := s.db.QueryRowContext(ctx, `
		SELECT subject, score, components, tier, calculated_at
		FROM volatility_scores WHERE subject = ?`,
		subject,
	).Scan(&score.Subject, &score.Score, &components, &score.Tier, &score.CalculatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get volatility %s", subject)
	}
	if err := json.Unmarshal([]byte(components), &score.Components); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal components")
	}
	return &score, nil
}

// LoadCheckpoint returns the named checkpoint document, or nil if absent.
func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, name string) ([]byte, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM checkpoints WHERE name = ?`, name,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load checkpoint %s", name)
	}
	return []byte(doc), nil
}

// SaveCheckpoint upserts the named checkpoint document.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, name string, doc []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (name, doc, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		name, string(doc), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save checkpoint %s", name)
	}
	return nil
}

// DeleteCheckpoint removes the named checkpoint. Operator action only.
func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE name = ?`, name); err != nil {
		return eris.Wrapf(err, "sqlite: delete checkpoint %s", name)
	}
	return nil
}
