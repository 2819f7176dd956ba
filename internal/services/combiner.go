package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/commentingestflow/internal/gcp"
	"github.com/Lllllllleong/commentingestflow/internal/models"
	"github.com/Lllllllleong/commentingestflow/internal/store"
)

// Launcher starts a workflow execution and returns its name.
type Launcher interface {
	Start(ctx context.Context, argument any) (string, error)
}

// CombinerConfig holds configuration for the combiner service.
type CombinerConfig struct {
	ProjectID          string
	RawDataBucket      string
	AnalysisWorkflowID string
	WorkflowLocation   string
}

// CombinerFunction merges every chunk of a document into the final
// artifact.
type CombinerFunction struct {
	documents   store.Documents
	checkpoints store.Checkpoints
	blobs       store.Blobs
	trigger     Launcher
	now         func() time.Time
}

// Output keys of a combined document.
func CommentsKey(documentID string) string    { return documentID + "/final/comments.csv" }
func AttachmentsKey(documentID string) string { return documentID + "/final/attachments.csv" }
func ManifestKey(documentID string) string    { return documentID + "/final/manifest.json" }

// NewCombiner creates a CombinerFunction instance. The downstream trigger is
// only wired when ANALYSIS_WORKFLOW_ID is set.
func NewCombiner(ctx context.Context) (*CombinerFunction, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	config := CombinerConfig{
		ProjectID:          projectID,
		RawDataBucket:      gcp.GetEnv("RAW_DATA_BUCKET", ""),
		AnalysisWorkflowID: gcp.GetEnv("ANALYSIS_WORKFLOW_ID", ""),
		WorkflowLocation:   gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
	}
	if config.RawDataBucket == "" {
		return nil, fmt.Errorf("RAW_DATA_BUCKET must be set")
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	stores, _, err := gcp.NewFirestoreStores(ctx, config.ProjectID)
	if err != nil {
		return nil, err
	}

	var trigger Launcher
	if config.AnalysisWorkflowID != "" {
		launcher, err := gcp.NewWorkflowLauncher(ctx, config.ProjectID, config.WorkflowLocation, config.AnalysisWorkflowID)
		if err != nil {
			return nil, err
		}
		trigger = launcher
	}

	return NewCombinerWithDeps(stores.Documents, stores.Checkpoints, gcp.NewBlobStore(storageClient, config.RawDataBucket), trigger), nil
}

// NewCombinerWithDeps creates a CombinerFunction. trigger may be nil.
func NewCombinerWithDeps(documents store.Documents, checkpoints store.Checkpoints, blobs store.Blobs, trigger Launcher) *CombinerFunction {
	return &CombinerFunction{
		documents:   documents,
		checkpoints: checkpoints,
		blobs:       blobs,
		trigger:     trigger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type manifest struct {
	DocumentID        string          `json:"documentId"`
	ChunkCount        int             `json:"chunkCount"`
	TotalComments     int             `json:"totalComments"`
	TotalAttachments  int             `json:"totalAttachments"`
	DuplicatesDropped int             `json:"duplicatesDropped"`
	Comments          string          `json:"comments"`
	Attachments       string          `json:"attachments"`
	Chunks            []manifestChunk `json:"chunks"`
}

type manifestChunk struct {
	ChunkID            string `json:"chunkId"`
	Start              int    `json:"start"`
	End                int    `json:"end"`
	ItemCount          int    `json:"itemCount"`
	LastModifiedMarker string `json:"lastModifiedMarker"`
}

// Process merges the chunks behind every checkpoint of the document. The
// outputs depend only on the checkpoints and chunks, so running it twice
// writes identical bytes.
func (f *CombinerFunction) Process(ctx context.Context, req *models.CombineRequest) (*models.CombineResponse, error) {
	if req.DocumentID == "" {
		return nil, fmt.Errorf("%w: documentId is required", ErrInvalidRequest)
	}
	logCtx := slog.With("documentId", req.DocumentID, "executionId", req.ExecutionID)
	logCtx.Info("Starting combine.")

	cps, err := f.checkpoints.List(ctx, req.DocumentID)
	if err != nil {
		logCtx.Error("Failed to list checkpoints", "error", err)
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(cps) == 0 {
		logCtx.Warn("No checkpoints found. Writing an empty artifact.")
	}

	// Checkpoints come ordered by range, so on equal modification times the
	// later chunk wins.
	merged := make(map[string]models.Comment)
	m := manifest{DocumentID: req.DocumentID, ChunkCount: len(cps)}
	for _, cp := range cps {
		chunk, err := f.readChunk(ctx, cp)
		if err != nil {
			logCtx.Error("Failed to read chunk", "error", err, "chunkId", cp.ChunkID)
			return nil, err
		}
		m.Chunks = append(m.Chunks, manifestChunk{
			ChunkID:            cp.ChunkID,
			Start:              cp.Start,
			End:                cp.End,
			ItemCount:          len(chunk.Comments),
			LastModifiedMarker: cp.LastModifiedMarker,
		})
		for _, c := range chunk.Comments {
			prev, seen := merged[c.CommentID]
			if seen {
				m.DuplicatesDropped++
				if prev.LastModifiedDate > c.LastModifiedDate {
					continue
				}
			}
			merged[c.CommentID] = c
		}
	}

	comments := make([]models.Comment, 0, len(merged))
	for _, c := range merged {
		comments = append(comments, c)
	}
	sort.Slice(comments, func(i, j int) bool {
		if comments[i].LastModifiedDate != comments[j].LastModifiedDate {
			return comments[i].LastModifiedDate < comments[j].LastModifiedDate
		}
		return comments[i].CommentID < comments[j].CommentID
	})

	commentsCSV, attachmentsCSV, attachments, err := encodeCSV(comments)
	if err != nil {
		return nil, err
	}
	m.TotalComments = len(comments)
	m.TotalAttachments = attachments
	m.Comments = f.blobs.URI(CommentsKey(req.DocumentID))
	m.Attachments = f.blobs.URI(AttachmentsKey(req.DocumentID))
	manifestJSON, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}

	outputs := []struct {
		key, contentType string
		data             []byte
	}{
		{CommentsKey(req.DocumentID), "text/csv", commentsCSV},
		{AttachmentsKey(req.DocumentID), "text/csv", attachmentsCSV},
		{ManifestKey(req.DocumentID), "application/json", manifestJSON},
	}
	for _, out := range outputs {
		if err := f.blobs.Write(ctx, out.key, out.contentType, out.data); err != nil {
			logCtx.Error("Failed to write output", "error", err, "object", out.key)
			return nil, err
		}
	}

	artifactURI := f.blobs.URI(CommentsKey(req.DocumentID))
	done := 100
	if err := f.documents.Update(ctx, req.DocumentID, store.DocumentPatch{
		Status:      models.StatusSucceeded,
		Progress:    &done,
		ArtifactURI: artifactURI,
		UpdatedAt:   f.now(),
	}); err != nil {
		logCtx.Error("Failed to mark document succeeded", "error", err)
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	logCtx.Info("Combine complete.", "chunks", len(cps), "comments", len(comments), "attachments", attachments, "duplicatesDropped", m.DuplicatesDropped)

	f.triggerDownstream(ctx, logCtx, req, artifactURI)

	return &models.CombineResponse{
		Status:           "success",
		ArtifactURI:      artifactURI,
		ChunkCount:       len(cps),
		TotalComments:    len(comments),
		TotalAttachments: attachments,
	}, nil
}

// Combine runs Process in-process for the scheduler.
func (f *CombinerFunction) Combine(ctx context.Context, documentID, executionID string) (string, error) {
	res, err := f.Process(ctx, &models.CombineRequest{DocumentID: documentID, ExecutionID: executionID})
	if err != nil {
		return "", err
	}
	return res.ArtifactURI, nil
}

func (f *CombinerFunction) readChunk(ctx context.Context, cp models.Checkpoint) (models.Chunk, error) {
	data, err := f.blobs.Read(ctx, cp.BlobKey)
	if errors.Is(err, store.ErrNotFound) {
		return models.Chunk{}, fmt.Errorf("%w: %s", ErrMissingChunk, cp.ChunkID)
	}
	if err != nil {
		return models.Chunk{}, fmt.Errorf("failed to read chunk %s: %w", cp.ChunkID, err)
	}
	var chunk models.Chunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return models.Chunk{}, fmt.Errorf("failed to decode chunk %s: %w", cp.ChunkID, err)
	}
	return chunk, nil
}

// triggerDownstream starts the analysis workflow. The artifact is already
// complete, so a failure here is logged and not returned.
func (f *CombinerFunction) triggerDownstream(ctx context.Context, logCtx *slog.Logger, req *models.CombineRequest, artifactURI string) {
	if f.trigger == nil {
		return
	}
	name, err := f.trigger.Start(ctx, models.AnalyzeRequest{
		DocumentID:  req.DocumentID,
		ArtifactURI: artifactURI,
		ExecutionID: req.ExecutionID,
	})
	if err != nil {
		logCtx.Error("Failed to trigger downstream analysis", "error", err)
		return
	}
	logCtx.Info("Triggered downstream analysis.", "execution", name)
}

var (
	commentsHeader    = []string{"commentId", "commentOnDocumentId", "postedDate", "lastModifiedDate", "attachmentCount", "text"}
	attachmentsHeader = []string{"commentId", "attachmentId", "docOrder", "title", "fileFormat", "fileUrl", "size", "modifyDate"}
)

func encodeCSV(comments []models.Comment) (commentsCSV, attachmentsCSV []byte, attachments int, err error) {
	var cbuf, abuf bytes.Buffer
	cw, aw := csv.NewWriter(&cbuf), csv.NewWriter(&abuf)
	if err := cw.Write(commentsHeader); err != nil {
		return nil, nil, 0, err
	}
	if err := aw.Write(attachmentsHeader); err != nil {
		return nil, nil, 0, err
	}
	for _, c := range comments {
		if err := cw.Write([]string{
			c.CommentID,
			c.CommentOnDocumentID,
			c.PostedDate,
			c.LastModifiedDate,
			strconv.Itoa(len(c.Attachments)),
			c.Text,
		}); err != nil {
			return nil, nil, 0, err
		}
		for _, a := range c.Attachments {
			attachments++
			if err := aw.Write([]string{
				c.CommentID,
				a.AttachmentID,
				strconv.Itoa(a.DocOrder),
				a.Title,
				a.FileFormat,
				a.FileURL,
				strconv.FormatInt(a.Size, 10),
				a.ModifyDate,
			}); err != nil {
				return nil, nil, 0, err
			}
		}
	}
	cw.Flush()
	aw.Flush()
	if err := cw.Error(); err != nil {
		return nil, nil, 0, fmt.Errorf("failed to encode comments csv: %w", err)
	}
	if err := aw.Error(); err != nil {
		return nil, nil, 0, fmt.Errorf("failed to encode attachments csv: %w", err)
	}
	return cbuf.Bytes(), abuf.Bytes(), attachments, nil
}
