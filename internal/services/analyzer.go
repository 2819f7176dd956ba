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
)

// Generator produces text from a stored file.
type Generator interface {
	Generate(ctx context.Context, fileURI, mimeType string) (string, error)
}

// AnalyzerConfig holds configuration for the analyzer service.
type AnalyzerConfig struct {
	ProjectID      string
	VertexAIRegion string
	Model          string
}

// AnalyzerFunction runs the downstream analysis of a combined artifact and
// attaches the result to the document.
type AnalyzerFunction struct {
	documents store.Documents
	generator Generator
	now       func() time.Time
}

// NewAnalyzer creates an AnalyzerFunction instance.
func NewAnalyzer(ctx context.Context) (*AnalyzerFunction, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	config := AnalyzerConfig{
		ProjectID:      projectID,
		VertexAIRegion: gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		Model:          gcp.GetEnv("VERTEX_AI_MODEL", ""),
	}

	stores, _, err := gcp.NewFirestoreStores(ctx, config.ProjectID)
	if err != nil {
		return nil, err
	}
	vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion, config.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}
	return NewAnalyzerWithDeps(stores.Documents, vertexClient), nil
}

// NewAnalyzerWithDeps creates an AnalyzerFunction.
func NewAnalyzerWithDeps(documents store.Documents, generator Generator) *AnalyzerFunction {
	return &AnalyzerFunction{
		documents: documents,
		generator: generator,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// Process handles the analysis of one combined comments CSV.
func (f *AnalyzerFunction) Process(ctx context.Context, req *models.AnalyzeRequest) (*models.AnalyzeResponse, error) {
	if req.DocumentID == "" || req.ArtifactURI == "" {
		return nil, fmt.Errorf("%w: documentId and artifactUri are required", ErrInvalidRequest)
	}
	logCtx := slog.With("documentId", req.DocumentID, "executionId", req.ExecutionID)
	logCtx.Info("Starting analysis.", "artifactUri", req.ArtifactURI)

	analysis, err := f.generator.Generate(ctx, req.ArtifactURI, "text/csv")
	if err != nil {
		logCtx.Error("Call to Vertex AI for analysis failed", "error", err)
		return nil, err
	}

	lower := strings.ToLower(analysis)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			logCtx.Error("LLM refusal detected", "response", analysis)
			return nil, ErrRefusal
		}
	}
	if analysis == "" {
		logCtx.Warn("No analysis text extracted from response.")
		return &models.AnalyzeResponse{Status: "empty"}, nil
	}

	if err := f.documents.Update(ctx, req.DocumentID, store.DocumentPatch{Analysis: analysis, UpdatedAt: f.now()}); err != nil {
		logCtx.Error("Failed to store analysis", "error", err)
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	logCtx.Info("Analysis complete.", "length", len(analysis))
	return &models.AnalyzeResponse{Status: "success"}, nil
}
