// Package consensus aggregates per-provider opinions about a subject into a
// single weighted score with a convergence measure and outlier flags.
package consensus

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/consensus-crawler/internal/model"
	"github.com/sells-group/consensus-crawler/internal/registry"
	"github.com/sells-group/consensus-crawler/internal/store"
)

// ErrInsufficientProviders is returned when fewer providers contributed
// than the aggregator's minimum.
var ErrInsufficientProviders = eris.New("consensus: insufficient providers")

// Opinion is one provider's extracted view of a subject.
type Opinion struct {
	Provider   string    `json:"provider"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	Weight     float64   `json:"weight"`
	Outlier    bool      `json:"outlier"`
	ObservedAt time.Time `json:"observedAt"`
}

// Consensus is the aggregated verdict for a subject.
type Consensus struct {
	Subject      string    `json:"subject"`
	Score        float64   `json:"score"`
	Convergence  float64   `json:"convergence"`
	Providers    int       `json:"providers"`
	Opinions     []Opinion `json:"opinions"`
	CalculatedAt time.Time `json:"calculatedAt"`
}

// Aggregator computes consensus from stored query results.
type Aggregator struct {
	store store.Store
	reg   *registry.Registry

	// Freshness bounds which results count; older rows are ignored.
	Freshness time.Duration
	// MinProviders is the floor below which no consensus is produced.
	MinProviders int
	// OutlierZ is the |z-score| beyond which an opinion is flagged.
	OutlierZ float64

	now func() time.Time
}

// NewAggregator creates an Aggregator with a 7-day freshness window, a
// 3-provider minimum, and a 2.5 sigma outlier threshold.
func NewAggregator(st store.Store, reg *registry.Registry) *Aggregator {
	return &Aggregator{
		store:        st,
		reg:          reg,
		Freshness:    7 * 24 * time.Hour,
		MinProviders: 3,
		OutlierZ:     2.5,
		now:          time.Now,
	}
}

// Aggregate loads the subject's recent results and folds them into a
// consensus. Only successful calls count, and only the latest result per
// provider.
func (a *Aggregator) Aggregate(ctx context.Context, subject string) (*Consensus, error) {
	since := a.now().Add(-a.Freshness)
	rows, err := a.store.ListResults(ctx, subject, since)
	if err != nil {
		return nil, eris.Wrapf(err, "consensus: list results for %s", subject)
	}

	latest := latestPerProvider(rows)
	opinions := make([]Opinion, 0, len(latest))
	for _, row := range latest {
		score, ok := extractScore(row.Response)
		if !ok {
			zap.L().Debug("no numeric opinion in response",
				zap.String("subject", subject),
				zap.String("provider", row.Provider),
			)
			continue
		}
		opinions = append(opinions, Opinion{
			Provider:   row.Provider,
			Score:      score,
			Confidence: confidenceFor(row),
			Weight:     a.weightFor(row.Provider),
			ObservedAt: row.CreatedAt,
		})
	}

	if len(opinions) < a.MinProviders {
		return nil, eris.Wrapf(ErrInsufficientProviders, "%s: %d of %d", subject, len(opinions), a.MinProviders)
	}

	sort.Slice(opinions, func(i, j int) bool { return opinions[i].Provider < opinions[j].Provider })
	flagOutliers(opinions, a.OutlierZ)

	var weightedSum, weightSum float64
	for _, op := range opinions {
		w := op.Weight * op.Confidence
		weightedSum += op.Score * w
		weightSum += w
	}
	if weightSum == 0 {
		return nil, eris.Wrapf(ErrInsufficientProviders, "%s: zero effective weight", subject)
	}

	return &Consensus{
		Subject:      subject,
		Score:        weightedSum / weightSum,
		Convergence:  convergence(opinions),
		Providers:    len(opinions),
		Opinions:     opinions,
		CalculatedAt: a.now().UTC(),
	}, nil
}

// latestPerProvider keeps the newest successful result per provider.
func latestPerProvider(rows []model.QueryResult) []model.QueryResult {
	byProvider := make(map[string]model.QueryResult)
	for _, row := range rows {
		if row.Outcome != model.OutcomeSuccess {
			continue
		}
		best, seen := byProvider[row.Provider]
		if !seen || row.CreatedAt.After(best.CreatedAt) {
			byProvider[row.Provider] = row
		}
	}
	out := make([]model.QueryResult, 0, len(byProvider))
	for _, row := range byProvider {
		out = append(out, row)
	}
	return out
}

var scorePattern = regexp.MustCompile(`\b(\d{1,3}(?:\.\d+)?)\b`)

// extractScore pulls the first number in [0, 100] out of a response. Model
// answers vary wildly in shape; the leading figure is the rating by
// convention of the prompts.
func extractScore(text string) (float64, bool) {
	for _, m := range scorePattern.FindAllString(text, 10) {
		v, err := strconv.ParseFloat(m, 64)
		if err != nil {
			continue
		}
		if v >= 0 && v <= 100 {
			return v, true
		}
	}
	return 0, false
}

// confidenceFor scales trust in one result. Responses that needed retries
// or came back very short are trusted less.
func confidenceFor(row model.QueryResult) float64 {
	conf := 1.0
	if row.Attempts > 1 {
		conf -= 0.1 * float64(row.Attempts-1)
	}
	if len(row.Response) < 200 {
		conf -= 0.2
	}
	if conf < 0.1 {
		conf = 0.1
	}
	return conf
}

func (a *Aggregator) weightFor(provider string) float64 {
	if cfg, ok := a.reg.Get(provider); ok && cfg.Weight > 0 {
		return cfg.Weight
	}
	return 1.0
}

// flagOutliers marks opinions more than zLimit standard deviations from the
// unweighted mean. With fewer than three opinions no flagging is possible.
func flagOutliers(opinions []Opinion, zLimit float64) {
	if len(opinions) < 3 {
		return
	}
	mean, stddev := scoreStats(opinions)
	if stddev == 0 {
		return
	}
	for i := range opinions {
		if math.Abs(opinions[i].Score-mean)/stddev > zLimit {
			opinions[i].Outlier = true
		}
	}
}

// convergence maps opinion spread to [0, 1]: 1 means full agreement, 0
// means scores scattered across the whole scale.
func convergence(opinions []Opinion) float64 {
	_, stddev := scoreStats(opinions)
	c := 1 - (stddev/100)/0.5
	if c < 0 {
		return 0
	}
	return c
}

func scoreStats(opinions []Opinion) (mean, stddev float64) {
	if len(opinions) == 0 {
		return 0, 0
	}
	for _, op := range opinions {
		mean += op.Score
	}
	mean /= float64(len(opinions))
	var variance float64
	for _, op := range opinions {
		d := op.Score - mean
		variance += d * d
	}
	variance /= float64(len(opinions))
	return mean, math.Sqrt(variance)
}
