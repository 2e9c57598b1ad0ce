package model

import (
	"fmt"
	"time"
)

// Outcome is the terminal disposition of a provider call.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// QueryResult is the append-only unit of durable output: one provider's
// answer (or terminal failure) for one (subject, provider, promptType) key.
type QueryResult struct {
	ID           string     `json:"id"`
	Subject      string     `json:"subject"`
	Provider     string     `json:"provider"`
	Model        string     `json:"model"`
	PromptType   PromptType `json:"prompt_type"`
	Outcome      Outcome    `json:"outcome"`
	Response     string     `json:"response,omitempty"`
	ErrorClass   string     `json:"error_class,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	LatencyMS    int64      `json:"latency_ms"`
	InputTokens  int64      `json:"input_tokens"`
	OutputTokens int64      `json:"output_tokens"`
	Attempts     int        `json:"attempts"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Key returns the checkpoint key for this result.
func (r QueryResult) Key() string {
	return ResultKey(r.Subject, r.Provider, r.PromptType)
}

// ResultKey builds the canonical checkpoint key for a
// (subject, provider, promptType) triple.
func ResultKey(subject, provider string, pt PromptType) string {
	return fmt.Sprintf("%s|%s|%s", subject, provider, pt)
}
