package orchestrator

import (
	"time"

	"github.com/Lllllllleong/commentingestflow/internal/models"
)

// WaitPolicy computes the cooldown between batches. The wait is the longest
// of the fixed cooldown, any retry-after hint a worker reported, and the
// time the batch's requests take out of an hourly request budget.
type WaitPolicy struct {
	Cooldown        time.Duration
	RequestsPerHour int
}

// Duration returns the wait after batch. A batch whose ranges were all
// skipped made no upstream requests and needs no wait.
func (p WaitPolicy) Duration(batch models.WorkBatch, results []models.RangeResult) time.Duration {
	skipped := make(map[string]bool, len(results))
	var hint time.Duration
	for _, r := range results {
		skipped[r.ChunkID] = r.Skipped
		hint = max(hint, r.RetryAfter)
	}

	requests := 0
	for _, w := range batch.Workers {
		if skipped[w.ChunkID()] {
			continue
		}
		// One list call for the page and one detail call per item.
		requests += 1 + w.Len()
	}
	if requests == 0 {
		return hint
	}

	var budget time.Duration
	if p.RequestsPerHour > 0 {
		budget = time.Duration(requests) * time.Hour / time.Duration(p.RequestsPerHour)
	}
	return max(p.Cooldown, hint, budget)
}
