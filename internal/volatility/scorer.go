// Package volatility computes per-subject volatility scores and maps them to
// processing tiers that control how much of the provider fleet a subject
// gets.
package volatility

import (
	"math"
	"time"

	"github.com/sells-group/consensus-crawler/internal/model"
)

// Component weights. Fixed; they sum to 1.
const (
	weightMemoryDrift           = 0.25
	weightSentimentVariance     = 0.20
	weightTemporalDecay         = 0.15
	weightSEOOpportunity        = 0.25
	weightCompetitiveVolatility = 0.15
)

// Components are the five volatility signals, each in [0,1].
type Components struct {
	MemoryDrift           float64 `json:"memoryDrift"`
	SentimentVariance     float64 `json:"sentimentVariance"`
	TemporalDecay         float64 `json:"temporalDecay"`
	SEOOpportunity        float64 `json:"seoOpportunity"`
	CompetitiveVolatility float64 `json:"competitiveVolatility"`
}

// Aggregate returns the weighted sum of the components, clamped to [0,1].
func (c Components) Aggregate() float64 {
	s := c.MemoryDrift*weightMemoryDrift +
		c.SentimentVariance*weightSentimentVariance +
		c.TemporalDecay*weightTemporalDecay +
		c.SEOOpportunity*weightSEOOpportunity +
		c.CompetitiveVolatility*weightCompetitiveVolatility
	return clamp01(s)
}

// Score is a subject's computed volatility. Derived data, recomputed
// periodically; never authoritative for subject lifecycle state.
type Score struct {
	Subject      string     `json:"subject"`
	Components   Components `json:"components"`
	Score        float64    `json:"score"`
	Tier         Tier       `json:"tier"`
	CalculatedAt time.Time  `json:"calculated_at"`
}

// NewScore aggregates components into a Score for a subject.
func NewScore(subject string, c Components, now time.Time) Score {
	agg := c.Aggregate()
	return Score{
		Subject:      subject,
		Components:   c,
		Score:        agg,
		Tier:         ScoreToTier(agg),
		CalculatedAt: now,
	}
}

// ComponentsFromResults derives volatility components from a subject's
// stored query results. These are deliberately coarse heuristics over
// response shape: length variance stands in for disagreement, coverage for
// competitive pressure, staleness for decay. A subject with no history
// scores low and lands in the efficient tier.
func ComponentsFromResults(results []model.QueryResult, fleetSize int, now time.Time) Components {
	c := Components{SEOOpportunity: 0.5}

	var lengths []float64
	providers := make(map[string]bool)
	var newest time.Time
	for _, r := range results {
		if r.Outcome != model.OutcomeSuccess {
			continue
		}
		lengths = append(lengths, float64(len(r.Response)))
		providers[r.Provider] = true
		if r.CreatedAt.After(newest) {
			newest = r.CreatedAt
		}
	}

	if len(lengths) == 0 {
		c.TemporalDecay = 1
		return c
	}

	mean, stddev := meanStddev(lengths)
	if mean > 0 {
		// Coefficient of variation of response lengths, clamped.
		cv := stddev / mean
		c.SentimentVariance = clamp01(cv)
		// Drift: fraction of responses further than 20% from the mean.
		var drifted int
		for _, l := range lengths {
			if math.Abs(l-mean)/mean > 0.2 {
				drifted++
			}
		}
		c.MemoryDrift = clamp01(float64(drifted) / float64(len(lengths)))
	}

	if fleetSize > 0 {
		c.CompetitiveVolatility = clamp01(float64(len(providers)) / float64(fleetSize))
	}

	ageDays := now.Sub(newest).Hours() / 24
	c.TemporalDecay = clamp01(ageDays / 30)

	return c
}

func meanStddev(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
