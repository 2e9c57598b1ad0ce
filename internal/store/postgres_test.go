package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/consensus-crawler/internal/model"
	"github.com/sells-group/consensus-crawler/internal/volatility"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_UpsertSubject(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO subjects`).
		WithArgs("acme.com", model.StatusPending, (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertSubject(context.Background(), model.Subject{ID: "acme.com", Status: model.StatusPending})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListPendingSubjects(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"id", "status", "last_processed_at"}).
		AddRow("acme.com", model.StatusPending, (*time.Time)(nil)).
		AddRow("beta.io", model.StatusPending, (*time.Time)(nil))
	mock.ExpectQuery(`SELECT id, status, last_processed_at FROM subjects`).
		WithArgs(model.StatusPending, 10).
		WillReturnRows(rows)

	got, err := s.ListPendingSubjects(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "acme.com", got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSubjectStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectExec(`UPDATE subjects SET status = \$1, last_processed_at = \$2 WHERE id = \$3`).
		WithArgs(model.StatusCompleted, now, "acme.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateSubjectStatus(context.Background(), "acme.com", model.StatusCompleted, &now)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSubjectStatus_NoTimestamp(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE subjects SET status = \$1 WHERE id = \$2`).
		WithArgs(model.StatusProcessing, "acme.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateSubjectStatus(context.Background(), "acme.com", model.StatusProcessing, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendResults_CopyFrom(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"query_results"}, resultColumns).
		WillReturnResult(2)

	results := []model.QueryResult{
		{ID: uuid.NewString(), Subject: "acme.com", Provider: "openai", PromptType: model.PromptBusinessAnalysis, Outcome: model.OutcomeSuccess, CreatedAt: time.Now()},
		{ID: uuid.NewString(), Subject: "acme.com", Provider: "groq", PromptType: model.PromptBusinessAnalysis, Outcome: model.OutcomeError, ErrorClass: "auth", CreatedAt: time.Now()},
	}
	err := s.AppendResults(context.Background(), results)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetVolatility_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT subject, score, components, tier, calculated_at`).
		WithArgs("unknown.com").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetVolatility(context.Background(), "unknown.com")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetVolatility_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"subject", "score", "components", "tier", "calculated_at"}).
		AddRow("acme.com", 0.93, []byte(`{"memoryDrift":1,"seoOpportunity":1}`), volatility.TierMaximum, now)
	mock.ExpectQuery(`SELECT subject, score, components, tier, calculated_at`).
		WithArgs("acme.com").
		WillReturnRows(rows)

	got, err := s.GetVolatility(context.Background(), "acme.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, volatility.TierMaximum, got.Tier)
	assert.InDelta(t, 1.0, got.Components.MemoryDrift, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveVolatility_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO volatility_scores`).
		WithArgs("acme.com", pgxmock.AnyArg(), pgxmock.AnyArg(), volatility.TierEfficient, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	score := volatility.NewScore("acme.com", volatility.Components{}, time.Now())
	err := s.SaveVolatility(context.Background(), score)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Checkpoint_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT doc FROM checkpoints`).
		WithArgs("crawl").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.LoadCheckpoint(context.Background(), "crawl")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Checkpoint_SaveAndDelete(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	doc := []byte(`{"completed":[]}`)
	mock.ExpectExec(`INSERT INTO checkpoints`).
		WithArgs("crawl", doc, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM checkpoints`).
		WithArgs("crawl").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.SaveCheckpoint(context.Background(), "crawl", doc))
	require.NoError(t, s.DeleteCheckpoint(context.Background(), "crawl"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS subjects`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
