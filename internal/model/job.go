package model

import "time"

// PromptType identifies one of the fixed analysis prompts sent per subject.
type PromptType string

const (
	PromptBusinessAnalysis    PromptType = "business_analysis"
	PromptContentStrategy     PromptType = "content_strategy"
	PromptTechnicalAssessment PromptType = "technical_assessment"
)

// AllPromptTypes returns the prompt types in their canonical execution order.
func AllPromptTypes() []PromptType {
	return []PromptType{
		PromptBusinessAnalysis,
		PromptContentStrategy,
		PromptTechnicalAssessment,
	}
}

// CallSpec is a single (provider, prompt type) pair within a job.
type CallSpec struct {
	Provider   string     `json:"provider"`
	PromptType PromptType `json:"prompt_type"`
}

// ProcessingJob is the unit of work for one subject in one crawl cycle.
// Calls execute sequentially in order; the job is discarded after a
// terminal outcome.
type ProcessingJob struct {
	Subject   string     `json:"subject"`
	Calls     []CallSpec `json:"calls"`
	Attempt   int        `json:"attempt"`
	CreatedAt time.Time  `json:"created_at"`
}
