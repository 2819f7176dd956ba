package orchestrator

import (
	"testing"
	"time"

	"github.com/Lllllllleong/commentingestflow/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestWaitPolicy(t *testing.T) {
	batch := models.WorkBatch{Workers: []models.WorkRange{
		{Start: 0, End: 50},
		{Start: 50, End: 100},
	}}
	done := func(retryAfter time.Duration, skipped ...bool) []models.RangeResult {
		out := make([]models.RangeResult, len(batch.Workers))
		for i, w := range batch.Workers {
			out[i] = models.RangeResult{ChunkID: w.ChunkID(), Start: w.Start, End: w.End}
			if i < len(skipped) {
				out[i].Skipped = skipped[i]
			}
		}
		out[0].RetryAfter = retryAfter
		return out
	}

	tests := []struct {
		name    string
		policy  WaitPolicy
		results []models.RangeResult
		want    time.Duration
	}{
		{"cooldown only", WaitPolicy{Cooldown: time.Minute}, done(0), time.Minute},
		{"hint wins", WaitPolicy{Cooldown: time.Minute}, done(5 * time.Minute), 5 * time.Minute},
		// 2 list calls and 100 detail calls at 1020 per hour.
		{"request budget", WaitPolicy{Cooldown: time.Second, RequestsPerHour: 1020}, done(0), 6 * time.Minute},
		{"partly skipped", WaitPolicy{Cooldown: time.Second, RequestsPerHour: 1020}, done(0, true), 3 * time.Minute},
		{"all skipped", WaitPolicy{Cooldown: time.Minute, RequestsPerHour: 1020}, done(0, true, true), 0},
		{"all skipped keeps hint", WaitPolicy{Cooldown: time.Minute}, done(time.Second, true, true), time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Duration(batch, tt.results))
		})
	}
}
