package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/consensus-crawler/internal/db"
	"github.com/sells-group/consensus-crawler/internal/model"
	"github.com/sells-group/consensus-crawler/internal/volatility"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS subjects (
	id                TEXT PRIMARY KEY,
	status            TEXT NOT NULL DEFAULT 'pending',
	last_processed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS query_results (
	id            UUID PRIMARY KEY,
	subject       TEXT NOT NULL,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	prompt_type   TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	response      TEXT,
	error_class   TEXT,
	error_message TEXT,
	latency_ms    BIGINT NOT NULL DEFAULT 0,
	input_tokens  BIGINT NOT NULL DEFAULT 0,
	output_tokens BIGINT NOT NULL DEFAULT 0,
	attempts      INT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_results_subject ON query_results(subject, created_at);

CREATE TABLE IF NOT EXISTS volatility_scores (
	subject       TEXT PRIMARY KEY,
	score         DOUBLE PRECISION NOT NULL,
	components    JSONB NOT NULL,
	tier          TEXT NOT NULL,
	calculated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	name       TEXT PRIMARY KEY,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the schema if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertSubject inserts or updates a subject row.
func (s *PostgresStore) UpsertSubject(ctx context.Context, sub model.Subject) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subjects (id, status, last_processed_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, last_processed_at = EXCLUDED.last_processed_at`,
		sub.ID, sub.Status, sub.LastProcessedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert subject %s", sub.ID)
	}
	return nil
}

// ListPendingSubjects returns up to limit subjects in pending status.
func (s *PostgresStore) ListPendingSubjects(ctx context.Context, limit int) ([]model.Subject, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, status, last_processed_at FROM subjects
		WHERE status = $1 ORDER BY id LIMIT $2`,
		model.StatusPending, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending subjects")
	}
	defer rows.Close()

	var out []model.Subject
	for rows.Next() {
		var sub model.Subject
		if err := rows.Scan(&sub.ID, &sub.Status, &sub.LastProcessedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan subject")
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// UpdateSubjectStatus sets a subject's lifecycle status and, when non-nil,
// its last-processed timestamp.
func (s *PostgresStore) UpdateSubjectStatus(ctx context.Context, id string, status model.SubjectStatus, processedAt *time.Time) error {
	var err error
	if processedAt != nil {
		_, err = s.pool.Exec(ctx,
			`UPDATE subjects SET status = $1, last_processed_at = $2 WHERE id = $3`,
			status, *processedAt, id,
		)
	} else {
		_, err = s.pool.Exec(ctx,
			`UPDATE subjects SET status = $1 WHERE id = $2`,
			status, id,
		)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: update subject %s", id)
	}
	return nil
}

var resultColumns = []string{
	"id", "subject", "provider", "model", "prompt_type", "outcome",
	"response", "error_class", "error_message",
	"latency_ms", "input_tokens", "output_tokens", "attempts", "created_at",
}

// AppendResults bulk-appends query results via COPY.
func (s *PostgresStore) AppendResults(ctx context.Context, results []model.QueryResult) error {
	rows := make([][]any, len(results))
	for i, r := range results {
		rows[i] = []any{
			r.ID, r.Subject, r.Provider, r.Model, r.PromptType, r.Outcome,
			r.Response, r.ErrorClass, r.ErrorMessage,
			r.LatencyMS, r.InputTokens, r.OutputTokens, r.Attempts, r.CreatedAt,
		}
	}
	if _, err := db.CopyFrom(ctx, s.pool, "query_results", resultColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: append results")
	}
	return nil
}

// ListResults returns a subject's results created at or after since.
func (s *PostgresStore) ListResults(ctx context.Context, subject string, since time.Time) ([]model.QueryResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subject, provider, model, prompt_type, outcome, response, error_class, error_message, latency_ms, input_tokens, output_tokens, attempts, created_at
		FROM query_results WHERE subject = $1 AND created_at >= $2 ORDER BY created_at`,
		subject, since,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list results %s", subject)
	}
	defer rows.Close()

	var out []model.QueryResult
	for rows.Next() {
		var r model.QueryResult
		var response, errClass, errMsg *string
		if err := rows.Scan(
			&r.ID, &r.Subject, &r.Provider, &r.Model, &r.PromptType, &r.Outcome,
			&response, &errClass, &errMsg,
			&r.LatencyMS, &r.InputTokens, &r.OutputTokens, &r.Attempts, &r.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		if response != nil {
			r.Response = *response
		}
		if errClass != nil {
			r.ErrorClass = *errClass
		}
		if errMsg != nil {
			r.ErrorMessage = *errMsg
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveVolatility upserts a subject's volatility score.
func (s *PostgresStore) SaveVolatility(ctx context.Context, score volatility.Score) error {
	components, err := json.Marshal(score.Components)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal components")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO volatility_scores (subject, score, components, tier, calculated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject) DO UPDATE SET
			score = EXCLUDED.score, components = EXCLUDED.components,
			tier = EXCLUDED.tier, calculated_at = EXCLUDED.calculated_at`,
		score.Subject, score.Score, components, score.Tier, score.CalculatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save volatility %s", score.Subject)
	}
	return nil
}

// GetVolatility returns a subject's volatility score, or nil if absent.
func (s *PostgresStore) GetVolatility(ctx context.Context, subject string) (*volatility.Score, error) {
	var score volatility.Score
	var components []byte
	err := s.pool.QueryRow(ctx, `
		SELECT subject, score, components, tier, calculated_at
		FROM volatility_scores WHERE subject = $1`,
		subject,
	).Scan(&score.Subject, &score.Score, &components, &score.Tier, &score.CalculatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get volatility %s", subject)
	}
	if err := json.Unmarshal(components, &score.Components); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal components")
	}
	return &score, nil
}

// LoadCheckpoint returns the named checkpoint document, or nil if absent.
func (s *PostgresStore) LoadCheckpoint(ctx context.Context, name string) ([]byte, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM checkpoints WHERE name = $1`, name,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load checkpoint %s", name)
	}
	return doc, nil
}

// SaveCheckpoint upserts the named checkpoint document.
func (s *PostgresStore) SaveCheckpoint(ctx context.Context, name string, doc []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (name, doc, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		name, doc, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save checkpoint %s", name)
	}
	return nil
}

// DeleteCheckpoint removes the named checkpoint. Operator action only.
func (s *PostgresStore) DeleteCheckpoint(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE name = $1`, name); err != nil {
		return eris.Wrapf(err, "postgres: delete checkpoint %s", name)
	}
	return nil
}
