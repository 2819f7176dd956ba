package store

import (
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/commentingestflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentUpdates_UsesPatchTime(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	progress := 0
	updates := documentUpdates(DocumentPatch{
		Status:    models.StatusRunning,
		Progress:  &progress,
		UpdatedAt: at,
	})

	assert.Equal(t, []firestore.Update{
		{Path: "updatedAt", Value: at},
		{Path: "status", Value: models.StatusRunning},
		{Path: "progress", Value: 0},
	}, updates)
}

func TestDocumentUpdates_DefaultsToWallClock(t *testing.T) {
	before := time.Now().UTC()
	updates := documentUpdates(DocumentPatch{ArtifactURI: "gs://raw/doc1/final/comments.csv"})

	require.Len(t, updates, 2)
	assert.Equal(t, "updatedAt", updates[0].Path)
	stamped, ok := updates[0].Value.(time.Time)
	require.True(t, ok)
	assert.False(t, stamped.Before(before))
	assert.Equal(t, firestore.Update{Path: "artifactUri", Value: "gs://raw/doc1/final/comments.csv"}, updates[1])
}
