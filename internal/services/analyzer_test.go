package services

import (
	"context"
	"testing"
	"time"

	"github.com/Lllllllleong/commentingestflow/internal/mock"
	"github.com/Lllllllleong/commentingestflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze_StoresAnalysis(t *testing.T) {
	docs := mock.NewDocuments()
	docs.Seed(models.Document{DocumentID: "doc1", Status: models.StatusSucceeded})
	gen := &mock.Generator{Response: "## Themes\n- cost"}
	f := NewAnalyzerWithDeps(docs, gen)
	stampedAt := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return stampedAt }

	res, err := f.Process(context.Background(), &models.AnalyzeRequest{DocumentID: "doc1", ArtifactURI: "gs://raw/doc1/final/comments.csv"})
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, []string{"text/csv gs://raw/doc1/final/comments.csv"}, gen.Requests())

	doc, _ := docs.Get(context.Background(), "doc1")
	assert.Equal(t, "## Themes\n- cost", doc.Analysis)
	assert.Equal(t, stampedAt, doc.UpdatedAt)
}

func TestAnalyze_Refusal(t *testing.T) {
	docs := mock.NewDocuments()
	docs.Seed(models.Document{DocumentID: "doc1"})
	f := NewAnalyzerWithDeps(docs, &mock.Generator{Response: "As a large language model, I cannot help."})

	_, err := f.Process(context.Background(), &models.AnalyzeRequest{DocumentID: "doc1", ArtifactURI: "gs://raw/x.csv"})
	assert.ErrorIs(t, err, ErrRefusal)
	doc, _ := docs.Get(context.Background(), "doc1")
	assert.Empty(t, doc.Analysis)
}

func TestAnalyze_RequiresArtifact(t *testing.T) {
	f := NewAnalyzerWithDeps(mock.NewDocuments(), &mock.Generator{})
	_, err := f.Process(context.Background(), &models.AnalyzeRequest{DocumentID: "doc1"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
