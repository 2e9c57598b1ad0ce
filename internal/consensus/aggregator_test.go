package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/consensus-crawler/internal/model"
	"github.com/sells-group/consensus-crawler/internal/registry"
	"github.com/sells-group/consensus-crawler/internal/resilience"
	"github.com/sells-group/consensus-crawler/internal/store"
	"github.com/sells-group/consensus-crawler/internal/volatility"
)

// resultStore stubs Store with canned results.
type resultStore struct {
	results    []model.QueryResult
	gotSince   time.Time
	gotSubject string
}

func (s *resultStore) UpsertSubject(context.Context, model.Subject) error { return nil }
func (s *resultStore) ListPendingSubjects(context.Context, int) ([]model.Subject, error) {
	return nil, nil
}
func (s *resultStore) UpdateSubjectStatus(context.Context, string, model.SubjectStatus, *time.Time) error {
	return nil
}
func (s *resultStore) AppendResults(context.Context, []model.QueryResult) error { return nil }
func (s *resultStore) ListResults(_ context.Context, subject string, since time.Time) ([]model.QueryResult, error) {
	s.gotSubject = subject
	s.gotSince = since
	return s.results, nil
}
func (s *resultStore) SaveVolatility(context.Context, volatility.Score) error { return nil }
func (s *resultStore) GetVolatility(context.Context, string) (*volatility.Score, error) {
	return nil, nil
}
func (s *resultStore) LoadCheckpoint(context.Context, string) ([]byte, error) { return nil, nil }
func (s *resultStore) SaveCheckpoint(context.Context, string, []byte) error   { return nil }
func (s *resultStore) DeleteCheckpoint(context.Context, string) error         { return nil }
func (s *resultStore) Migrate(context.Context) error                          { return nil }
func (s *resultStore) Close() error                                           { return nil }

var _ store.Store = (*resultStore)(nil)

func opinionRow(provider, response string, at time.Time) model.QueryResult {
	return model.QueryResult{
		Subject:   "acme.com",
		Provider:  provider,
		Outcome:   model.OutcomeSuccess,
		Response:  response,
		Attempts:  1,
		CreatedAt: at,
	}
}

// longOpinion pads a rating sentence past the short-response penalty.
func longOpinion(score string) string {
	pad := " The assessment considers market position, technical depth, and growth trajectory over the coming quarters in considerable detail, covering both strengths and weaknesses observed across public signals."
	return "Overall rating: " + score + " out of 100." + pad
}

func testAggregator(st store.Store) *Aggregator {
	keys := registry.NewKeyring()
	reg := registry.New(keys, resilience.NewLimiterSet())
	return NewAggregator(st, reg)
}

func TestAggregator_Aggregate_EqualOpinions(t *testing.T) {
	now := time.Now()
	st := &resultStore{results: []model.QueryResult{
		opinionRow("openai", longOpinion("80"), now),
		opinionRow("anthropic", longOpinion("80"), now),
		opinionRow("groq", longOpinion("80"), now),
	}}

	c, err := testAggregator(st).Aggregate(context.Background(), "acme.com")
	require.NoError(t, err)

	assert.InDelta(t, 80.0, c.Score, 1e-9)
	assert.InDelta(t, 1.0, c.Convergence, 1e-9, "identical opinions converge fully")
	assert.Equal(t, 3, c.Providers)
	assert.Equal(t, "acme.com", st.gotSubject)
	for _, op := range c.Opinions {
		assert.False(t, op.Outlier)
	}
}

func TestAggregator_Aggregate_WeightedMean(t *testing.T) {
	now := time.Now()
	st := &resultStore{results: []model.QueryResult{
		opinionRow("a", longOpinion("60"), now),
		opinionRow("b", longOpinion("80"), now),
		opinionRow("c", longOpinion("100"), now),
	}}

	c, err := testAggregator(st).Aggregate(context.Background(), "acme.com")
	require.NoError(t, err)

	// Equal weights and confidences reduce to the plain mean.
	assert.InDelta(t, 80.0, c.Score, 1e-9)
	assert.Greater(t, c.Convergence, 0.0)
	assert.Less(t, c.Convergence, 1.0)
}

func TestAggregator_Aggregate_LatestPerProviderWins(t *testing.T) {
	now := time.Now()
	st := &resultStore{results: []model.QueryResult{
		opinionRow("openai", longOpinion("20"), now.Add(-time.Hour)),
		opinionRow("openai", longOpinion("90"), now),
		opinionRow("anthropic", longOpinion("90"), now),
		opinionRow("groq", longOpinion("90"), now),
	}}

	c, err := testAggregator(st).Aggregate(context.Background(), "acme.com")
	require.NoError(t, err)

	assert.Equal(t, 3, c.Providers)
	assert.InDelta(t, 90.0, c.Score, 1e-9, "stale openai opinion superseded")
}

func TestAggregator_Aggregate_ErrorRowsIgnored(t *testing.T) {
	now := time.Now()
	st := &resultStore{results: []model.QueryResult{
		opinionRow("a", longOpinion("70"), now),
		opinionRow("b", longOpinion("70"), now),
		{Subject: "acme.com", Provider: "c", Outcome: model.OutcomeError, ErrorClass: "auth", CreatedAt: now},
	}}

	_, err := testAggregator(st).Aggregate(context.Background(), "acme.com")
	assert.ErrorIs(t, err, ErrInsufficientProviders, "error rows contribute no opinion")
}

func TestAggregator_Aggregate_InsufficientProviders(t *testing.T) {
	now := time.Now()
	st := &resultStore{results: []model.QueryResult{
		opinionRow("openai", longOpinion("80"), now),
		opinionRow("groq", longOpinion("75"), now),
	}}

	_, err := testAggregator(st).Aggregate(context.Background(), "acme.com")
	assert.ErrorIs(t, err, ErrInsufficientProviders)
}

func TestAggregator_Aggregate_NoNumericOpinion(t *testing.T) {
	now := time.Now()
	st := &resultStore{results: []model.QueryResult{
		opinionRow("a", longOpinion("80"), now),
		opinionRow("b", longOpinion("80"), now),
		opinionRow("c", "It is impossible to rate this domain without more context.", now),
	}}

	_, err := testAggregator(st).Aggregate(context.Background(), "acme.com")
	assert.ErrorIs(t, err, ErrInsufficientProviders, "responses without a number carry no opinion")
}

func TestAggregator_Aggregate_FreshnessWindow(t *testing.T) {
	st := &resultStore{}
	agg := testAggregator(st)

	_, err := agg.Aggregate(context.Background(), "acme.com")
	require.Error(t, err)

	// The since bound reflects the configured freshness window.
	wantSince := time.Now().Add(-agg.Freshness)
	assert.WithinDuration(t, wantSince, st.gotSince, time.Minute)
}

func TestAggregator_Aggregate_ProviderWeights(t *testing.T) {
	now := time.Now()
	st := &resultStore{results: []model.QueryResult{
		opinionRow("heavy", longOpinion("100"), now),
		opinionRow("light1", longOpinion("50"), now),
		opinionRow("light2", longOpinion("50"), now),
	}}

	keys := registry.NewKeyring()
	reg := registry.New(keys, resilience.NewLimiterSet())
	require.NoError(t, reg.Register(registry.ProviderConfig{Name: "heavy", Weight: 3.0, RequestsPerInterval: 10, Interval: time.Minute}))

	agg := NewAggregator(st, reg)
	c, err := agg.Aggregate(context.Background(), "acme.com")
	require.NoError(t, err)

	// heavy: 100*3, light: 50*1 each -> (300+100)/5 = 80.
	assert.InDelta(t, 80.0, c.Score, 1e-9)
}

func TestAggregator_Aggregate_FlagsOutlier(t *testing.T) {
	now := time.Now()
	st := &resultStore{results: []model.QueryResult{
		opinionRow("a", longOpinion("70"), now),
		opinionRow("b", longOpinion("70"), now),
		opinionRow("c", longOpinion("70"), now),
		opinionRow("d", longOpinion("70"), now),
		opinionRow("e", longOpinion("70"), now),
		opinionRow("f", longOpinion("70"), now),
		opinionRow("g", longOpinion("70"), now),
		opinionRow("h", longOpinion("5"), now),
	}}

	agg := testAggregator(st)
	c, err := agg.Aggregate(context.Background(), "acme.com")
	require.NoError(t, err)

	outliers := 0
	for _, op := range c.Opinions {
		if op.Outlier {
			outliers++
			assert.Equal(t, "h", op.Provider)
		}
	}
	assert.Equal(t, 1, outliers)
}
