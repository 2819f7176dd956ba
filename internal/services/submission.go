package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Lllllllleong/commentingestflow/internal/gcp"
	"github.com/Lllllllleong/commentingestflow/internal/models"
	"github.com/Lllllllleong/commentingestflow/internal/store"
	"golang.org/x/sync/errgroup"
)

// SubmissionConfig holds configuration for the submission service.
type SubmissionConfig struct {
	ProjectID        string
	WorkflowID       string
	WorkflowLocation string
}

// SubmissionFunction registers documents and starts one ingestion workflow
// per document.
type SubmissionFunction struct {
	documents store.Documents
	launcher  Launcher
	now       func() time.Time
}

type workflowArgument struct {
	DocumentID string `json:"documentId"`
}

// NewSubmission creates a SubmissionFunction instance.
func NewSubmission(ctx context.Context) (*SubmissionFunction, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	config := SubmissionConfig{
		ProjectID:        projectID,
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", "comment-ingestion-orchestrator"),
	}

	stores, _, err := gcp.NewFirestoreStores(ctx, config.ProjectID)
	if err != nil {
		return nil, err
	}
	launcher, err := gcp.NewWorkflowLauncher(ctx, config.ProjectID, config.WorkflowLocation, config.WorkflowID)
	if err != nil {
		return nil, err
	}
	slog.Info("Submission logic initialized.", "workflowId", config.WorkflowID)
	return NewSubmissionWithDeps(stores.Documents, launcher), nil
}

// NewSubmissionWithDeps creates a SubmissionFunction.
func NewSubmissionWithDeps(documents store.Documents, launcher Launcher) *SubmissionFunction {
	return &SubmissionFunction{
		documents: documents,
		launcher:  launcher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit starts ingestion for each listed document. A document that is
// queued, running or done keeps its execution; a failed one is relaunched.
// Per-document failures are reported in the results, not returned.
func (f *SubmissionFunction) Submit(ctx context.Context, req *models.SubmissionRequest) (*models.SubmissionResponse, error) {
	var ids []string
	seen := make(map[string]bool)
	for _, id := range req.DocumentIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: documentIds must list at least one document", ErrInvalidRequest)
	}

	results := make([]models.SubmissionResult, len(ids))
	var eg errgroup.Group
	eg.SetLimit(5)
	for i, id := range ids {
		eg.Go(func() error {
			results[i] = f.submitOne(ctx, id)
			return nil
		})
	}
	_ = eg.Wait()

	return &models.SubmissionResponse{
		Message: fmt.Sprintf("Submitted %d document(s).", len(ids)),
		Results: results,
	}, nil
}

func (f *SubmissionFunction) submitOne(ctx context.Context, documentID string) models.SubmissionResult {
	logCtx := slog.With("documentId", documentID)

	doc, claimed, err := f.documents.Claim(ctx, documentID, f.now())
	if err != nil {
		logCtx.Error("Failed to claim document", "error", err)
		return models.SubmissionResult{DocumentID: documentID, Status: models.StatusFailed, Error: err.Error()}
	}
	if !claimed {
		logCtx.Info("Document already has an execution. Skipping.", "status", doc.Status)
		return models.SubmissionResult{DocumentID: documentID, ExecutionID: doc.WorkflowExecutionID, Status: doc.Status}
	}

	execution, err := f.launcher.Start(ctx, workflowArgument{DocumentID: documentID})
	if err != nil {
		err = f.handleError(ctx, logCtx, documentID, "failed to trigger workflow execution", err)
		return models.SubmissionResult{DocumentID: documentID, Status: models.StatusFailed, Error: err.Error()}
	}
	if err := f.documents.Update(ctx, documentID, store.DocumentPatch{WorkflowExecutionID: execution, UpdatedAt: f.now()}); err != nil {
		logCtx.Error("Failed to record workflow execution", "error", err, "execution", execution)
	}
	logCtx.Info("Hand-off to workflow complete.", "execution", execution)
	return models.SubmissionResult{DocumentID: documentID, ExecutionID: execution, Status: models.StatusQueued}
}

// Status returns the public view of a document. It returns
// store.ErrNotFound for unknown documents.
func (f *SubmissionFunction) Status(ctx context.Context, documentID string) (*models.StatusResponse, error) {
	if documentID == "" {
		return nil, fmt.Errorf("%w: documentId is required", ErrInvalidRequest)
	}
	doc, err := f.documents.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	res := &models.StatusResponse{
		DocumentID: doc.DocumentID,
		Status:     doc.Status,
		Progress:   doc.Progress,
		Error:      doc.ErrorDetails,
	}
	if doc.Status == models.StatusSucceeded {
		res.Analysis = doc.Analysis
	}
	return res, nil
}

func (f *SubmissionFunction) handleError(ctx context.Context, logCtx *slog.Logger, documentID, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if err := f.documents.Update(ctx, documentID, store.DocumentPatch{
		Status:       models.StatusFailed,
		ErrorDetails: &fullError,
		UpdatedAt:    f.now(),
	}); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s", fullError)
}
