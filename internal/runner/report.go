package runner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Summary reports what a single run did. Stats covers only this run's
// calls; CheckpointKeys reflects the cumulative checkpoint afterward.
type Summary struct {
	CheckpointName  string
	Stats           Stats
	SubjectsSkipped int
	CheckpointKeys  int
	Duration        time.Duration
}

// Log writes the run summary at info level.
func (s *Summary) Log() {
	zap.L().Info("run summary",
		zap.String("checkpoint", s.CheckpointName),
		zap.Int("total", s.Stats.Total),
		zap.Int("success", s.Stats.Success),
		zap.Int("failed", s.Stats.Failed),
		zap.Int("skipped", s.Stats.Skipped),
		zap.Int("subjects_skipped", s.SubjectsSkipped),
		zap.Int("checkpoint_keys", s.CheckpointKeys),
		zap.Duration("duration", s.Duration),
	)
}

// String renders a human-readable report for CLI output.
func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run finished in %s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "  calls:     %d total, %d ok, %d failed, %d skipped\n",
		s.Stats.Total, s.Stats.Success, s.Stats.Failed, s.Stats.Skipped)
	fmt.Fprintf(&b, "  subjects already done: %d\n", s.SubjectsSkipped)
	fmt.Fprintf(&b, "  checkpoint: %q (%d keys)\n", s.CheckpointName, s.CheckpointKeys)
	if len(s.Stats.ErrorClasses) > 0 {
		classes := make([]string, 0, len(s.Stats.ErrorClasses))
		for c := range s.Stats.ErrorClasses {
			classes = append(classes, c)
		}
		sort.Strings(classes)
		b.WriteString("  errors by class:\n")
		for _, c := range classes {
			fmt.Fprintf(&b, "    %-12s %d\n", c, s.Stats.ErrorClasses[c])
		}
	}
	return b.String()
}
