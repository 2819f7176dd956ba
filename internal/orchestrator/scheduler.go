package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/commentingestflow/internal/models"
	"github.com/Lllllllleong/commentingestflow/internal/partition"
	"github.com/Lllllllleong/commentingestflow/internal/store"
	"github.com/Lllllllleong/commentingestflow/internal/upstream"
	"github.com/avast/retry-go"
	"golang.org/x/sync/errgroup"
)

// RangeProcessor runs one work range to completion.
type RangeProcessor interface {
	ProcessRange(ctx context.Context, req models.ProcessRangeRequest) (models.RangeResult, error)
}

// Combiner merges a document's chunks and returns the artifact URI.
type Combiner interface {
	Combine(ctx context.Context, documentID, executionID string) (string, error)
}

// Notifier publishes progress events. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, event models.ProgressEvent) error
}

// Clock is the scheduler's source of time.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Config tunes partitioning, pacing and retries.
type Config struct {
	PageSize        int
	PagesPerSet     int
	WorkersPerBatch int
	Wait            WaitPolicy
	MaxExtensions   int
	// RetryAttempts and RetryDelay bound retries of upstream calls made by
	// the scheduler itself.
	RetryAttempts   int
	RetryDelay      time.Duration
	CombineAttempts int
	CombineDelay    time.Duration
}

// Deps are the scheduler's collaborators. Notifier and Clock are optional.
type Deps struct {
	Documents   store.Documents
	Plans       store.Plans
	Checkpoints store.Checkpoints
	Source      upstream.Source
	Workers     RangeProcessor
	Combiner    Combiner
	Notifier    Notifier
	Clock       Clock
}

// Scheduler advances document executions one phase at a time.
type Scheduler struct {
	cfg  Config
	deps Deps
}

// New validates cfg and deps and returns a Scheduler.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Documents == nil || deps.Plans == nil || deps.Checkpoints == nil {
		return nil, errors.New("orchestrator: documents, plans and checkpoints stores are required")
	}
	if deps.Source == nil || deps.Workers == nil || deps.Combiner == nil {
		return nil, errors.New("orchestrator: source, workers and combiner are required")
	}
	if cfg.PageSize <= 0 {
		return nil, partition.ErrInvalidPageSize
	}
	cfg.WorkersPerBatch = max(cfg.WorkersPerBatch, 1)
	cfg.RetryAttempts = max(cfg.RetryAttempts, 1)
	cfg.CombineAttempts = max(cfg.CombineAttempts, 1)
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	return &Scheduler{cfg: cfg, deps: deps}, nil
}

// Advance runs the document's execution forward until it has to wait or
// ends. It returns the stored plan and how long the caller should wait
// before calling again; zero with a terminal plan means the execution is
// over. Phase failures end in a Failed plan, not an error; an error means
// the plan could not be read or stored and the call may be repeated.
func (s *Scheduler) Advance(ctx context.Context, documentID, executionID string) (models.Plan, time.Duration, error) {
	logCtx := slog.With("documentId", documentID, "executionId", executionID)

	plan, err := s.load(ctx, logCtx, documentID, executionID)
	if err != nil {
		return models.Plan{}, 0, err
	}

	for !plan.Phase.Terminal() {
		if plan.Phase == models.PhaseWait {
			if remaining := plan.WaitUntil.Sub(s.deps.Clock.Now()); remaining > 0 {
				logCtx.Info("Waiting before next batch.", "batch", plan.CurrentBatch+1, "wait", remaining.String())
				return plan, remaining, nil
			}
		}

		outcome := s.step(ctx, logCtx, plan)
		next, err := Next(plan, outcome)
		if err != nil {
			return plan, 0, err
		}
		if err := s.commit(ctx, logCtx, plan, next, outcome); err != nil {
			return plan, 0, err
		}
		plan = next
	}
	return plan, 0, nil
}

// Run advances the execution until it ends, sleeping through every wait.
func (s *Scheduler) Run(ctx context.Context, documentID, executionID string) (models.Plan, error) {
	for {
		plan, wait, err := s.Advance(ctx, documentID, executionID)
		if err != nil {
			return plan, err
		}
		if plan.Phase.Terminal() {
			return plan, nil
		}
		if err := s.deps.Clock.Sleep(ctx, wait); err != nil {
			return plan, err
		}
	}
}

// load returns the plan to continue. A missing plan starts at Init. A plan
// from another execution is taken over, and relaunched if it had failed.
func (s *Scheduler) load(ctx context.Context, logCtx *slog.Logger, documentID, executionID string) (models.Plan, error) {
	stored, err := s.deps.Plans.Get(ctx, documentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		plan := models.Plan{DocumentID: documentID, ExecutionID: executionID, Phase: models.PhaseInit}
		logCtx.Info("Starting new execution.")
		return plan, s.start(ctx, plan)
	case err != nil:
		return models.Plan{}, err
	}

	plan := *stored
	if plan.ExecutionID == executionID || plan.Phase == models.PhaseDone {
		return plan, nil
	}
	previous := plan.ExecutionID
	plan = Relaunch(plan, executionID)
	logCtx.Info("Taking over execution.", "previousExecutionId", previous, "phase", plan.Phase, "currentBatch", plan.CurrentBatch)
	if err := s.deps.Plans.Put(ctx, plan); err != nil {
		return models.Plan{}, err
	}
	return plan, s.start(ctx, plan)
}

// start marks the document running and announces its current progress.
func (s *Scheduler) start(ctx context.Context, plan models.Plan) error {
	progress := plan.Progress
	now := s.deps.Clock.Now()
	if err := s.deps.Documents.Update(ctx, plan.DocumentID, store.DocumentPatch{
		Status:    models.StatusRunning,
		Progress:  &progress,
		UpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("failed to mark document running: %w", err)
	}
	s.notify(ctx, models.ProgressUpdate{
		DocumentID:  plan.DocumentID,
		ExecutionID: plan.ExecutionID,
		Status:      models.StatusRunning,
		Phase:       plan.Phase,
		Progress:    plan.Progress,
		Timestamp:   now,
	})
	return nil
}

// step performs the effect of the plan's current phase.
func (s *Scheduler) step(ctx context.Context, logCtx *slog.Logger, plan models.Plan) Outcome {
	switch plan.Phase {
	case models.PhaseInit:
		var info upstream.DocumentInfo
		err := s.retryUpstream(ctx, func() error {
			var err error
			info, err = s.deps.Source.Describe(ctx, plan.DocumentID)
			return err
		})
		if err != nil {
			return failed(fmt.Errorf("failed to describe document: %w", err))
		}
		logCtx.Info("Document described.", "objectId", info.ObjectID, "totalItems", info.TotalItems)
		return Outcome{Kind: Described, Info: info}

	case models.PhasePartitioned:
		res, err := partition.Partition(s.params(plan.TotalComments))
		if err != nil {
			return failed(fmt.Errorf("failed to partition %d items: %w", plan.TotalComments, err))
		}
		logCtx.Info("Work partitioned.", "batches", len(res.Batches), "sets", res.ExpectedSets, "workers", res.TotalWorkers)
		return Outcome{Kind: Partitioned, Batches: res.Batches, ExpectedSets: res.ExpectedSets}

	case models.PhaseSelectBatch:
		if _, ok := plan.Batch(); !ok {
			return failed(fmt.Errorf("no batch %d in a plan of %d", plan.CurrentBatch, len(plan.WorkBatches)))
		}
		return Outcome{Kind: Selected}

	case models.PhaseDispatch:
		results, err := s.dispatch(ctx, logCtx, plan)
		if err != nil {
			return failed(err)
		}
		return Outcome{Kind: Dispatched, Results: results}

	case models.PhaseAwaitCompletion:
		if err := checkResults(plan); err != nil {
			return failed(err)
		}
		return Outcome{Kind: Completed}

	case models.PhaseDecide:
		return s.decide(ctx, logCtx, plan)

	case models.PhaseWait:
		return Outcome{Kind: Waited}

	case models.PhaseCombine:
		var uri string
		err := retry.Do(
			func() error {
				var err error
				uri, err = s.deps.Combiner.Combine(ctx, plan.DocumentID, plan.ExecutionID)
				return err
			},
			retry.Context(ctx),
			retry.Attempts(uint(s.cfg.CombineAttempts)),
			retry.Delay(s.cfg.CombineDelay),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				logCtx.Warn("Combine failed, will retry.", "attempt", n+1, "error", err)
			}),
		)
		if err != nil {
			return failed(fmt.Errorf("combine failed: %w", err))
		}
		logCtx.Info("Combine complete.", "artifactUri", uri)
		return Outcome{Kind: Combined, ArtifactURI: uri}
	}
	return failed(fmt.Errorf("no step for phase %q", plan.Phase))
}

// dispatch runs every range of the current batch concurrently. Ranges that
// already have a checkpoint are not fetched again. The first failure
// cancels the rest of the batch.
func (s *Scheduler) dispatch(ctx context.Context, logCtx *slog.Logger, plan models.Plan) ([]models.RangeResult, error) {
	batch, _ := plan.Batch()
	logCtx.Info("Dispatching batch.", "batch", batch.BatchIndex, "totalBatches", plan.TotalBatches, "ranges", len(batch.Workers), "set", batch.Set)

	results := make([]models.RangeResult, len(batch.Workers))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.WorkersPerBatch)
	for i, w := range batch.Workers {
		eg.Go(func() error {
			cp, err := s.deps.Checkpoints.Get(gctx, plan.DocumentID, w.ChunkID())
			if err == nil {
				logCtx.Info("Range already checkpointed; skipping.", "chunkId", w.ChunkID())
				results[i] = models.RangeResult{
					ChunkID:            cp.ChunkID,
					Start:              cp.Start,
					End:                cp.End,
					LastModifiedMarker: cp.LastModifiedMarker,
					ItemCount:          cp.ItemCount,
					HasMore:            cp.HasMore,
					Skipped:            true,
				}
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("range [%d,%d): failed to read checkpoint: %w", w.Start, w.End, err)
			}

			res, err := s.deps.Workers.ProcessRange(gctx, models.ProcessRangeRequest{
				DocumentID:       plan.DocumentID,
				ObjectID:         plan.ObjectID,
				ExecutionID:      plan.ExecutionID,
				WorkRange:        w,
				LastModifiedDate: plan.LastModifiedDate,
			})
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		logCtx.Error("Batch failed", "batch", batch.BatchIndex, "error", err)
		return nil, err
	}
	return results, nil
}

func (s *Scheduler) decide(ctx context.Context, logCtx *slog.Logger, plan models.Plan) Outcome {
	batch, _ := plan.Batch()
	o := Outcome{
		Kind:     Decided,
		Decision: Decide(plan, s.cfg.MaxExtensions),
		Wait:     s.cfg.Wait.Duration(batch, plan.BatchResults),
		At:       s.deps.Clock.Now(),
	}
	if o.Decision == MoreWork && plan.CurrentBatch+1 >= plan.TotalBatches {
		appended, total, err := s.extend(ctx, plan)
		if err != nil {
			return failed(err)
		}
		if len(appended) == 0 {
			o.Decision = Combine
		} else {
			logCtx.Info("Final range has more data; extending plan.", "previousTotal", plan.TotalComments, "newTotal", total, "batches", len(appended))
			o.Appended, o.NewTotal = appended, total
		}
	}
	logCtx.Info("Batch decided.", "batch", plan.CurrentBatch, "decision", o.Decision.String(), "wait", o.Wait.String())
	return o
}

// extend is called when the final range saw more data than was planned.
// It recounts the upstream and returns the batches covering items past the
// plan's total. The plan grows by at least one page: a set read from a
// cursor repeats the items that share the cursor's timestamp, which pushes
// items past the last planned range even when the count did not change.
func (s *Scheduler) extend(ctx context.Context, plan models.Plan) ([]models.WorkBatch, int, error) {
	var total int
	err := s.retryUpstream(ctx, func() error {
		var err error
		total, err = s.deps.Source.Count(ctx, plan.ObjectID)
		return err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to recount items: %w", err)
	}
	total = max(total, plan.TotalComments+s.cfg.PageSize)
	appended, err := partition.Extend(plan.WorkBatches, plan.TotalComments, s.params(total))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to extend partition: %w", err)
	}
	return appended, total, nil
}

func (s *Scheduler) params(total int) partition.Params {
	return partition.Params{
		TotalItems:  total,
		PageSize:    s.cfg.PageSize,
		PagesPerSet: s.cfg.PagesPerSet,
		Concurrency: s.cfg.WorkersPerBatch,
	}
}

func (s *Scheduler) retryUpstream(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(uint(s.cfg.RetryAttempts)),
		retry.Delay(s.cfg.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(upstream.IsRetryable),
	)
}

// commit stores next: the document first, then the plan, then the event.
func (s *Scheduler) commit(ctx context.Context, logCtx *slog.Logger, prev, next models.Plan, o Outcome) error {
	now := s.deps.Clock.Now()
	next.UpdatedAt = now

	patch, changed := documentPatch(prev, next, o)
	if changed {
		patch.UpdatedAt = now
		if err := s.deps.Documents.Update(ctx, next.DocumentID, patch); err != nil {
			return fmt.Errorf("failed to update document: %w", err)
		}
	}
	if err := s.deps.Plans.Put(ctx, next); err != nil {
		return err
	}

	switch {
	case next.Phase == models.PhaseFailed:
		logCtx.Error("Execution failed", "phase", prev.Phase, "error", next.Error)
		s.notify(ctx, models.Failure{
			DocumentID:  next.DocumentID,
			ExecutionID: next.ExecutionID,
			Error:       next.Error,
			Timestamp:   now,
		})
	case next.Phase == models.PhaseDone || next.Progress != prev.Progress:
		status := models.StatusRunning
		if next.Phase == models.PhaseDone {
			status = models.StatusSucceeded
			logCtx.Info("Execution complete.")
		}
		s.notify(ctx, models.ProgressUpdate{
			DocumentID:  next.DocumentID,
			ExecutionID: next.ExecutionID,
			Status:      status,
			Phase:       next.Phase,
			Progress:    next.Progress,
			Timestamp:   now,
		})
	}
	return nil
}

func (s *Scheduler) notify(ctx context.Context, event models.ProgressEvent) {
	if s.deps.Notifier == nil {
		return
	}
	if err := s.deps.Notifier.Notify(ctx, event); err != nil {
		slog.Warn("Failed to publish progress event", "documentId", event.DocID(), "error", err)
	}
}

func documentPatch(prev, next models.Plan, o Outcome) (store.DocumentPatch, bool) {
	var patch store.DocumentPatch
	changed := false
	if o.Kind == Described {
		total := o.Info.TotalItems
		patch.ObjectID = o.Info.ObjectID
		patch.Title = o.Info.Title
		patch.TotalItems = &total
		changed = true
	}
	if len(o.Appended) > 0 {
		total := next.TotalComments
		patch.TotalItems = &total
		changed = true
	}
	if next.Progress != prev.Progress {
		progress := next.Progress
		patch.Progress = &progress
		changed = true
	}
	switch next.Phase {
	case models.PhaseFailed:
		details := next.Error
		patch.Status = models.StatusFailed
		patch.ErrorDetails = &details
		changed = true
	case models.PhaseDone:
		patch.Status = models.StatusSucceeded
		patch.ArtifactURI = o.ArtifactURI
		changed = true
	}
	return patch, changed
}

func checkResults(plan models.Plan) error {
	batch, ok := plan.Batch()
	if !ok || len(plan.BatchResults) != len(batch.Workers) {
		return fmt.Errorf("%w: batch %d", ErrIncompleteBatch, plan.CurrentBatch)
	}
	for i, w := range batch.Workers {
		if plan.BatchResults[i].ChunkID != w.ChunkID() {
			return fmt.Errorf("%w: batch %d has no result for %s", ErrIncompleteBatch, plan.CurrentBatch, w.ChunkID())
		}
	}
	return nil
}

func failed(err error) Outcome {
	return Outcome{Kind: Failed, Err: err}
}
