// Package runner drives the checkpointed crawl batch: bounded-concurrency
// dispatch over subjects, sequential provider calls per subject, and
// single-writer checkpoint persistence enabling idempotent resume.
package runner

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/consensus-crawler/internal/model"
)

// Stats are the aggregate counters carried in the checkpoint and reported
// in the final run summary.
type Stats struct {
	Total        int            `json:"total"`
	Success      int            `json:"success"`
	Failed       int            `json:"failed"`
	Skipped      int            `json:"skipped"`
	ErrorClasses map[string]int `json:"error_classes,omitempty"`
}

func (s *Stats) countError(class string) {
	if s.ErrorClasses == nil {
		s.ErrorClasses = make(map[string]int)
	}
	s.ErrorClasses[class]++
}

// Checkpoint records which (subject, provider, promptType) keys have already
// been executed. Owned exclusively by the batch runner's coordinator; every
// mutation happens on that single goroutine.
type Checkpoint struct {
	completed map[string]struct{}
	Stats     Stats
	Timestamp time.Time
}

// NewCheckpoint creates an empty checkpoint.
func NewCheckpoint() *Checkpoint {
	return &Checkpoint{completed: make(map[string]struct{})}
}

// Has reports whether a key has already been executed.
func (c *Checkpoint) Has(key string) bool {
	_, ok := c.completed[key]
	return ok
}

// Add marks a key executed.
func (c *Checkpoint) Add(key string) {
	c.completed[key] = struct{}{}
}

// Len returns the number of completed keys.
func (c *Checkpoint) Len() int {
	return len(c.completed)
}

// JobDone reports whether every call of a job is already checkpointed.
func (c *Checkpoint) JobDone(job model.ProcessingJob) bool {
	for _, call := range job.Calls {
		if !c.Has(model.ResultKey(job.Subject, call.Provider, call.PromptType)) {
			return false
		}
	}
	return true
}

// checkpointDoc is the durable JSON shape:
// {"completed": [[subject, provider, promptType], ...], "stats": {...}, "timestamp": ...}
type checkpointDoc struct {
	Completed [][3]string `json:"completed"`
	Stats     Stats       `json:"stats"`
	Timestamp time.Time   `json:"timestamp"`
}

// MarshalJSON serializes the checkpoint to its wire shape.
func (c *Checkpoint) MarshalJSON() ([]byte, error) {
	doc := checkpointDoc{
		Completed: make([][3]string, 0, len(c.completed)),
		Stats:     c.Stats,
		Timestamp: c.Timestamp,
	}
	for key := range c.completed {
		parts := strings.SplitN(key, "|", 3)
		if len(parts) != 3 {
			continue
		}
		doc.Completed = append(doc.Completed, [3]string{parts[0], parts[1], parts[2]})
	}
	return json.Marshal(doc)
}

// UnmarshalJSON restores a checkpoint from its wire shape.
func (c *Checkpoint) UnmarshalJSON(data []byte) error {
	var doc checkpointDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return eris.Wrap(err, "checkpoint: unmarshal")
	}
	c.completed = make(map[string]struct{}, len(doc.Completed))
	for _, triple := range doc.Completed {
		c.Add(model.ResultKey(triple[0], triple[1], model.PromptType(triple[2])))
	}
	c.Stats = doc.Stats
	c.Timestamp = doc.Timestamp
	return nil
}
