// Package store defines the persistence interface for the crawl engine and
// its sqlite and postgres backends.
package store

import (
	"context"
	"time"

	"github.com/sells-group/consensus-crawler/internal/model"
	"github.com/sells-group/consensus-crawler/internal/volatility"
)

// Store is the durable collaborator of the batch runner: subject lifecycle,
// append-only query results, volatility scores, and the checkpoint document.
type Store interface {
	// Subjects
	UpsertSubject(ctx context.Context, s model.Subject) error
	ListPendingSubjects(ctx context.Context, limit int) ([]model.Subject, error)
	UpdateSubjectStatus(ctx context.Context, id string, status model.SubjectStatus, processedAt *time.Time) error

	// Query results (append-only)
	AppendResults(ctx context.Context, results []model.QueryResult) error
	ListResults(ctx context.Context, subject string, since time.Time) ([]model.QueryResult, error)

	// Volatility scores
	SaveVolatility(ctx context.Context, score volatility.Score) error
	GetVolatility(ctx context.Context, subject string) (*volatility.Score, error)

	// Checkpoint document, stored as opaque JSON. Load returns nil when no
	// checkpoint exists.
	LoadCheckpoint(ctx context.Context, name string) ([]byte, error)
	SaveCheckpoint(ctx context.Context, name string, doc []byte) error
	DeleteCheckpoint(ctx context.Context, name string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
