package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Lllllllleong/commentingestflow/internal/mock"
	"github.com/Lllllllleong/commentingestflow/internal/models"
	"github.com/Lllllllleong/commentingestflow/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSubmissionFixture() (*SubmissionFunction, *mock.Documents, *mock.Launcher) {
	docs := mock.NewDocuments()
	launcher := &mock.Launcher{}
	f := NewSubmissionWithDeps(docs, launcher)
	f.now = func() time.Time { return fixedNow }
	return f, docs, launcher
}

func TestSubmit_StartsOneExecutionPerDocument(t *testing.T) {
	f, docs, launcher := newSubmissionFixture()

	res, err := f.Submit(context.Background(), &models.SubmissionRequest{DocumentIDs: []string{"doc1", " doc1 ", ""}})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, models.SubmissionResult{DocumentID: "doc1", ExecutionID: "executions/exec-1", Status: models.StatusQueued}, res.Results[0])
	assert.Equal(t, []any{workflowArgument{DocumentID: "doc1"}}, launcher.Calls())

	doc, err := docs.Get(context.Background(), "doc1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, doc.Status)
	assert.Equal(t, "executions/exec-1", doc.WorkflowExecutionID)

	res, err = f.Submit(context.Background(), &models.SubmissionRequest{DocumentIDs: []string{"doc1"}})
	require.NoError(t, err)
	assert.Equal(t, "executions/exec-1", res.Results[0].ExecutionID)
	assert.Len(t, launcher.Calls(), 1, "a queued document is not started twice")
}

func TestSubmit_RelaunchesFailedDocument(t *testing.T) {
	f, docs, launcher := newSubmissionFixture()
	docs.Seed(models.Document{DocumentID: "doc1", Status: models.StatusFailed, ErrorDetails: "boom", WorkflowExecutionID: "executions/old"})

	res, err := f.Submit(context.Background(), &models.SubmissionRequest{DocumentIDs: []string{"doc1"}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, res.Results[0].Status)
	assert.Len(t, launcher.Calls(), 1)

	doc, _ := docs.Get(context.Background(), "doc1")
	assert.Empty(t, doc.ErrorDetails)
	assert.Equal(t, "executions/exec-1", doc.WorkflowExecutionID)
}

func TestSubmit_LaunchFailureMarksDocumentFailed(t *testing.T) {
	f, docs, launcher := newSubmissionFixture()
	launcher.Err = errors.New("quota exceeded")

	res, err := f.Submit(context.Background(), &models.SubmissionRequest{DocumentIDs: []string{"doc1", "doc2"}})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	for _, r := range res.Results {
		assert.Equal(t, models.StatusFailed, r.Status)
		assert.Contains(t, r.Error, "quota exceeded")
	}
	doc, _ := docs.Get(context.Background(), "doc2")
	assert.Equal(t, models.StatusFailed, doc.Status)
	assert.Contains(t, doc.ErrorDetails, "failed to trigger workflow execution")
}

func TestSubmit_RequiresDocuments(t *testing.T) {
	f, _, _ := newSubmissionFixture()
	_, err := f.Submit(context.Background(), &models.SubmissionRequest{DocumentIDs: []string{" "}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestStatus(t *testing.T) {
	f, docs, _ := newSubmissionFixture()
	docs.Seed(models.Document{DocumentID: "running", Status: models.StatusRunning, Progress: 40, Analysis: "partial"})
	docs.Seed(models.Document{DocumentID: "done", Status: models.StatusSucceeded, Progress: 100, Analysis: "summary"})

	res, err := f.Status(context.Background(), "running")
	require.NoError(t, err)
	assert.Equal(t, &models.StatusResponse{DocumentID: "running", Status: models.StatusRunning, Progress: 40}, res)

	res, err = f.Status(context.Background(), "done")
	require.NoError(t, err)
	assert.Equal(t, "summary", res.Analysis)

	_, err = f.Status(context.Background(), "unknown")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
