// Package model defines the core domain types shared across the crawl engine.
package model

import (
	"strings"
	"time"
)

// SubjectStatus is the lifecycle state of a subject.
type SubjectStatus string

const (
	StatusPending    SubjectStatus = "pending"
	StatusProcessing SubjectStatus = "processing"
	StatusCompleted  SubjectStatus = "completed"
	StatusFailed     SubjectStatus = "failed"
)

// Subject is the entity being evaluated — a domain name in this system.
// Subjects are created by ingestion and mutated only by the batch runner.
type Subject struct {
	ID              string        `json:"id"`
	Status          SubjectStatus `json:"status"`
	LastProcessedAt *time.Time    `json:"last_processed_at,omitempty"`
}

// NormalizeSubject canonicalizes a raw domain string: lowercase, trimmed,
// scheme and leading www. stripped, trailing dot and path removed.
func NormalizeSubject(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	for _, prefix := range []string{"https://", "http://"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimPrefix(s, "www.")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSuffix(s, ".")
}
