package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/Lllllllleong/commentingestflow/internal/models"
	"github.com/Lllllllleong/commentingestflow/internal/partition"
	"github.com/Lllllllleong/commentingestflow/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// partitioned returns a plan at SelectBatch over total items.
func partitioned(t *testing.T, total, pageSize, pagesPerSet, workers int) models.Plan {
	t.Helper()
	res, err := partition.Partition(partition.Params{TotalItems: total, PageSize: pageSize, PagesPerSet: pagesPerSet, Concurrency: workers})
	require.NoError(t, err)
	plan := models.Plan{DocumentID: "doc1", ObjectID: "obj1", TotalComments: total, Phase: models.PhasePartitioned}
	plan, err = Next(plan, Outcome{Kind: Partitioned, Batches: res.Batches, ExpectedSets: res.ExpectedSets})
	require.NoError(t, err)
	return plan
}

func results(batch models.WorkBatch, marker string, hasMore bool) []models.RangeResult {
	out := make([]models.RangeResult, len(batch.Workers))
	for i, w := range batch.Workers {
		out[i] = models.RangeResult{ChunkID: w.ChunkID(), Start: w.Start, End: w.End, ItemCount: w.Len(), LastModifiedMarker: marker}
	}
	out[len(out)-1].HasMore = hasMore
	return out
}

// runBatch walks plan from SelectBatch to Decide.
func runBatch(t *testing.T, plan models.Plan, marker string, hasMore bool) models.Plan {
	t.Helper()
	batch, ok := plan.Batch()
	require.True(t, ok)
	for _, o := range []Outcome{
		{Kind: Selected},
		{Kind: Dispatched, Results: results(batch, marker, hasMore)},
		{Kind: Completed},
	} {
		var err error
		plan, err = Next(plan, o)
		require.NoError(t, err)
	}
	require.Equal(t, models.PhaseDecide, plan.Phase)
	return plan
}

func TestNext_InitToPartitioned(t *testing.T) {
	plan := models.Plan{DocumentID: "doc1", Phase: models.PhaseInit}
	next, err := Next(plan, Outcome{Kind: Described, Info: upstream.DocumentInfo{ObjectID: "obj1", TotalItems: 42}})
	require.NoError(t, err)
	assert.Equal(t, models.PhasePartitioned, next.Phase)
	assert.Equal(t, "obj1", next.ObjectID)
	assert.Equal(t, 42, next.TotalComments)
	assert.Equal(t, models.PhaseInit, plan.Phase, "input plan is not modified")
}

func TestNext_PartitionsIntoBatches(t *testing.T) {
	plan := partitioned(t, 250, 50, 20, 3)
	assert.Equal(t, models.PhaseSelectBatch, plan.Phase)
	assert.Equal(t, 2, plan.TotalBatches)
	assert.Equal(t, 1, plan.ExpectedSets)
	assert.Len(t, plan.WorkBatches[0].Workers, 3)
	assert.Len(t, plan.WorkBatches[1].Workers, 2)
}

func TestNext_ZeroBatchesGoStraightToCombine(t *testing.T) {
	plan := partitioned(t, 0, 50, 20, 3)
	assert.Equal(t, models.PhaseCombine, plan.Phase)

	done, err := Next(plan, Outcome{Kind: Combined, ArtifactURI: "mem://x"})
	require.NoError(t, err)
	assert.Equal(t, models.PhaseDone, done.Phase)
	assert.Equal(t, 100, done.Progress)
}

func TestNext_FullLoop(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	plan := partitioned(t, 250, 50, 20, 3)

	plan = runBatch(t, plan, "2024-01-01T00:00:00Z", true)
	assert.Equal(t, 50, plan.Progress)
	assert.Equal(t, 1, plan.BatchesCompleted)
	require.Equal(t, MoreWork, Decide(plan, 3))

	plan, err := Next(plan, Outcome{Kind: Decided, Decision: MoreWork, Wait: time.Minute, At: at})
	require.NoError(t, err)
	assert.Equal(t, models.PhaseWait, plan.Phase)
	assert.Equal(t, at.Add(time.Minute), plan.WaitUntil)

	plan, err = Next(plan, Outcome{Kind: Waited})
	require.NoError(t, err)
	assert.Equal(t, models.PhaseSelectBatch, plan.Phase)
	assert.Equal(t, 1, plan.CurrentBatch)
	assert.Empty(t, plan.BatchResults)
	assert.True(t, plan.WaitUntil.IsZero())
	assert.Empty(t, plan.LastModifiedDate, "same set keeps the cursor")

	plan = runBatch(t, plan, "2024-01-02T00:00:00Z", false)
	assert.Equal(t, 99, plan.Progress, "running progress is capped")
	require.Equal(t, Combine, Decide(plan, 3))

	plan, err = Next(plan, Outcome{Kind: Decided, Decision: Combine})
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCombine, plan.Phase)

	plan, err = Next(plan, Outcome{Kind: Combined})
	require.NoError(t, err)
	assert.Equal(t, models.PhaseDone, plan.Phase)
	assert.Equal(t, 100, plan.Progress)
	assert.Equal(t, 2, plan.BatchesCompleted)

	_, err = Next(plan, Outcome{Kind: Waited})
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestNext_CursorMovesOnNewSet(t *testing.T) {
	plan := partitioned(t, 8, 2, 2, 2)
	require.Equal(t, 2, plan.ExpectedSets)

	plan = runBatch(t, plan, "2024-01-05T00:00:00Z", true)
	plan, err := Next(plan, Outcome{Kind: Decided, Decision: MoreWork})
	require.NoError(t, err)
	plan, err = Next(plan, Outcome{Kind: Waited})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-05T00:00:00Z", plan.LastModifiedDate)
}

func TestNext_EmptyMarkerKeepsCursor(t *testing.T) {
	plan := partitioned(t, 8, 2, 2, 2)
	plan.LastModifiedDate = "2024-01-01T00:00:00Z"

	plan = runBatch(t, plan, "", false)
	plan, err := Next(plan, Outcome{Kind: Decided, Decision: MoreWork})
	require.NoError(t, err)
	plan, err = Next(plan, Outcome{Kind: Waited})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00Z", plan.LastModifiedDate)
}

func TestNext_DecidedAppendsBatches(t *testing.T) {
	plan := partitioned(t, 4, 2, 20, 2)
	plan = runBatch(t, plan, "m", true)

	appended, err := partition.Extend(plan.WorkBatches, 4, partition.Params{TotalItems: 6, PageSize: 2, PagesPerSet: 20, Concurrency: 2})
	require.NoError(t, err)
	plan, err = Next(plan, Outcome{Kind: Decided, Decision: MoreWork, Appended: appended, NewTotal: 6})
	require.NoError(t, err)
	assert.Equal(t, 2, plan.TotalBatches)
	assert.Equal(t, 6, plan.TotalComments)
	assert.Equal(t, 1, plan.Extensions)
	assert.Equal(t, models.PhaseWait, plan.Phase)
}

func TestNext_MoreWorkWithoutBatchIsRejected(t *testing.T) {
	plan := partitioned(t, 4, 2, 20, 2)
	plan = runBatch(t, plan, "m", true)
	_, err := Next(plan, Outcome{Kind: Decided, Decision: MoreWork})
	assert.ErrorIs(t, err, ErrUnexpectedOutcome)
}

func TestNext_OutcomeMustMatchPhase(t *testing.T) {
	plan := partitioned(t, 4, 2, 20, 2)
	_, err := Next(plan, Outcome{Kind: Combined})
	assert.ErrorIs(t, err, ErrUnexpectedOutcome)
}

func TestNext_Failed(t *testing.T) {
	plan := partitioned(t, 4, 2, 20, 2)
	plan, err := Next(plan, Outcome{Kind: Selected})
	require.NoError(t, err)

	failed, err := Next(plan, Outcome{Kind: Failed, Err: errors.New("boom")})
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFailed, failed.Phase)
	assert.Equal(t, models.PhaseDispatch, failed.FailedPhase)
	assert.Equal(t, "boom", failed.Error)
}

func TestDecide(t *testing.T) {
	plan := partitioned(t, 4, 2, 20, 2)
	plan = runBatch(t, plan, "m", true)

	assert.Equal(t, MoreWork, Decide(plan, 1), "final range has more and extensions remain")
	plan.Extensions = 1
	assert.Equal(t, Combine, Decide(plan, 1), "extensions exhausted")

	plan.Extensions = 0
	plan.BatchResults[len(plan.BatchResults)-1].HasMore = false
	assert.Equal(t, Combine, Decide(plan, 1))
}

func TestRelaunch(t *testing.T) {
	tests := []struct {
		failedIn models.Phase
		want     models.Phase
	}{
		{models.PhaseInit, models.PhaseInit},
		{models.PhasePartitioned, models.PhaseInit},
		{models.PhaseDispatch, models.PhaseSelectBatch},
		{models.PhaseAwaitCompletion, models.PhaseSelectBatch},
		{models.PhaseDecide, models.PhaseSelectBatch},
		{models.PhaseCombine, models.PhaseCombine},
	}
	for _, tt := range tests {
		t.Run(string(tt.failedIn), func(t *testing.T) {
			plan := models.Plan{
				DocumentID:   "doc1",
				ExecutionID:  "exec-1",
				Phase:        models.PhaseFailed,
				FailedPhase:  tt.failedIn,
				Error:        "boom",
				CurrentBatch: 3,
				Progress:     40,
				BatchResults: []models.RangeResult{{ChunkID: "chunk-0-1"}},
			}
			next := Relaunch(plan, "exec-2")
			assert.Equal(t, tt.want, next.Phase)
			assert.Equal(t, "exec-2", next.ExecutionID)
			assert.Equal(t, 3, next.CurrentBatch)
			assert.Equal(t, 40, next.Progress)
			assert.Empty(t, next.Error)
			assert.Empty(t, next.FailedPhase)
			assert.Empty(t, next.BatchResults)
		})
	}
}

func TestRelaunch_RunningPlanOnlyChangesOwner(t *testing.T) {
	plan := models.Plan{DocumentID: "doc1", ExecutionID: "exec-1", Phase: models.PhaseWait, CurrentBatch: 2}
	next := Relaunch(plan, "exec-2")
	assert.Equal(t, models.PhaseWait, next.Phase)
	assert.Equal(t, "exec-2", next.ExecutionID)
}

func TestRunningProgress(t *testing.T) {
	assert.Equal(t, 0, RunningProgress(0, 0))
	assert.Equal(t, 0, RunningProgress(0, 3))
	assert.Equal(t, 33, RunningProgress(1, 3))
	assert.Equal(t, 66, RunningProgress(2, 3))
	assert.Equal(t, 99, RunningProgress(3, 3))
}
