// Package orchestrator drives one document's ingestion as an explicit state
// machine. Every step reads the persisted Plan, performs the effect of the
// current phase, and stores the Plan that Next computes from the outcome, so
// any process can pick up an execution where the last one stopped.
package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/commentingestflow/internal/models"
	"github.com/Lllllllleong/commentingestflow/internal/upstream"
)

var (
	// ErrTerminal is returned by Next for a plan that already finished.
	ErrTerminal = errors.New("orchestrator: plan is terminal")

	// ErrUnexpectedOutcome is returned by Next when an outcome does not
	// belong to the plan's phase.
	ErrUnexpectedOutcome = errors.New("orchestrator: outcome does not match phase")

	// ErrIncompleteBatch is returned when a batch finished without a result
	// for every range.
	ErrIncompleteBatch = errors.New("orchestrator: batch has ranges without results")
)

// OutcomeKind tags what the effect of a phase produced.
type OutcomeKind int

const (
	// Described: Init fetched the document. Carries Info.
	Described OutcomeKind = iota
	// Partitioned: the item space was split. Carries Batches and ExpectedSets.
	Partitioned
	// Selected: the batch at CurrentBatch exists.
	Selected
	// Dispatched: every range of the batch returned. Carries Results.
	Dispatched
	// Completed: the batch's results were checked.
	Completed
	// Decided: Decide ran. Carries Decision, Wait, At and any Appended batches.
	Decided
	// Waited: the cooldown elapsed.
	Waited
	// Combined: the artifact was written. Carries ArtifactURI.
	Combined
	// Failed: the phase failed terminally. Carries Err.
	Failed
)

// Decision is the two-way branch taken after a batch.
type Decision int

const (
	// MoreWork loops through Wait to the next batch.
	MoreWork Decision = iota
	// Combine merges the chunks and finishes.
	Combine
)

func (d Decision) String() string {
	if d == MoreWork {
		return "MORE_WORK"
	}
	return "COMBINE"
}

// Outcome is the tagged result of one phase's effect.
type Outcome struct {
	Kind OutcomeKind

	Info         upstream.DocumentInfo
	Batches      []models.WorkBatch
	ExpectedSets int
	Results      []models.RangeResult
	Decision     Decision
	Wait         time.Duration
	At           time.Time
	// Appended batches extend the plan when the upstream grew; NewTotal is
	// the recounted item total they cover.
	Appended    []models.WorkBatch
	NewTotal    int
	ArtifactURI string
	Err         error
}

// Next computes the plan that follows plan given the outcome of its current
// phase. It does not modify plan.
func Next(plan models.Plan, o Outcome) (models.Plan, error) {
	if plan.Phase.Terminal() {
		return plan, ErrTerminal
	}
	next := plan.Clone()

	if o.Kind == Failed {
		next.FailedPhase = plan.Phase
		next.Phase = models.PhaseFailed
		if o.Err != nil {
			next.Error = o.Err.Error()
		}
		return next, nil
	}

	switch {
	case plan.Phase == models.PhaseInit && o.Kind == Described:
		next.ObjectID = o.Info.ObjectID
		next.TotalComments = o.Info.TotalItems
		next.Phase = models.PhasePartitioned

	case plan.Phase == models.PhasePartitioned && o.Kind == Partitioned:
		next.WorkBatches = o.Batches
		next.TotalBatches = len(o.Batches)
		next.ExpectedSets = o.ExpectedSets
		next.CurrentBatch = 0
		next.BatchesCompleted = 0
		next.Phase = models.PhaseSelectBatch
		if next.TotalBatches == 0 {
			next.Phase = models.PhaseCombine
		}

	case plan.Phase == models.PhaseSelectBatch && o.Kind == Selected:
		next.Phase = models.PhaseDispatch

	case plan.Phase == models.PhaseDispatch && o.Kind == Dispatched:
		next.BatchResults = append([]models.RangeResult(nil), o.Results...)
		next.Phase = models.PhaseAwaitCompletion

	case plan.Phase == models.PhaseAwaitCompletion && o.Kind == Completed:
		next.BatchesCompleted = max(next.BatchesCompleted, plan.CurrentBatch+1)
		next.Progress = max(plan.Progress, RunningProgress(next.BatchesCompleted, next.TotalBatches))
		next.Phase = models.PhaseDecide

	case plan.Phase == models.PhaseDecide && o.Kind == Decided:
		if o.Decision == Combine {
			next.Phase = models.PhaseCombine
			break
		}
		if len(o.Appended) > 0 {
			next.WorkBatches = append(next.WorkBatches, o.Appended...)
			next.TotalBatches = len(next.WorkBatches)
			next.TotalComments = o.NewTotal
			next.Extensions++
		}
		if next.CurrentBatch+1 >= next.TotalBatches {
			return plan, fmt.Errorf("%w: more work decided with no batch after %d", ErrUnexpectedOutcome, plan.CurrentBatch)
		}
		next.WaitUntil = o.At.Add(o.Wait)
		next.Phase = models.PhaseWait

	case plan.Phase == models.PhaseWait && o.Kind == Waited:
		// The cursor moves only when the next batch starts a new set, so
		// batches appended to the current set still page from its start.
		if b, ok := plan.Batch(); ok && plan.CurrentBatch+1 < len(plan.WorkBatches) &&
			plan.WorkBatches[plan.CurrentBatch+1].Set != b.Set {
			if cursor := setCursor(plan); cursor != "" {
				next.LastModifiedDate = cursor
			}
		}
		next.CurrentBatch++
		next.BatchResults = nil
		next.WaitUntil = time.Time{}
		next.Phase = models.PhaseSelectBatch

	case plan.Phase == models.PhaseCombine && o.Kind == Combined:
		next.BatchesCompleted = next.TotalBatches
		next.Progress = 100
		next.Phase = models.PhaseDone

	default:
		return plan, fmt.Errorf("%w: phase %s, outcome %d", ErrUnexpectedOutcome, plan.Phase, o.Kind)
	}
	return next, nil
}

// Decide reports whether the plan has more work after the current batch:
// either a later batch exists, or the final range saw more upstream data
// than was partitioned and extensions remain.
func Decide(plan models.Plan, maxExtensions int) Decision {
	if plan.CurrentBatch+1 < plan.TotalBatches {
		return MoreWork
	}
	if plan.Extensions < maxExtensions && finalHasMore(plan) {
		return MoreWork
	}
	return Combine
}

// Relaunch prepares a failed plan for a new execution. Completed batches are
// kept: the run resumes at the batch that failed, or at Combine if only the
// merge failed. A plan that failed before partitioning starts over.
func Relaunch(plan models.Plan, executionID string) models.Plan {
	next := plan.Clone()
	next.ExecutionID = executionID
	if plan.Phase != models.PhaseFailed {
		return next
	}
	switch plan.FailedPhase {
	case models.PhaseInit, models.PhasePartitioned, "":
		next.Phase = models.PhaseInit
	case models.PhaseCombine:
		next.Phase = models.PhaseCombine
	default:
		next.Phase = models.PhaseSelectBatch
	}
	next.BatchResults = nil
	next.WaitUntil = time.Time{}
	next.Error = ""
	next.FailedPhase = ""
	return next
}

// RunningProgress is the percentage reported while an execution is still
// running: completed batches over total, floored, capped at 99.
func RunningProgress(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return min(99, completed*100/total)
}

// setCursor is the marker reported by the range that ended the current set.
func setCursor(plan models.Plan) string {
	b, ok := plan.Batch()
	if !ok {
		return ""
	}
	for _, w := range b.Workers {
		if !w.LastInSet {
			continue
		}
		for _, r := range plan.BatchResults {
			if r.ChunkID == w.ChunkID() {
				return r.LastModifiedMarker
			}
		}
	}
	return ""
}

// finalHasMore reports whether the range with the highest end in the
// current batch saw more data upstream.
func finalHasMore(plan models.Plan) bool {
	var last *models.RangeResult
	for i := range plan.BatchResults {
		if last == nil || plan.BatchResults[i].End > last.End {
			last = &plan.BatchResults[i]
		}
	}
	return last != nil && last.HasMore
}
