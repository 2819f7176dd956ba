// Package store defines the durable surfaces the ingestion core reads and
// writes, and their Firestore implementation.
//
// Every write is keyed by documentId, (documentId, chunkId) or connectionId
// and overwrites in place, so concurrent writers never contend on one key.
package store

import (
	"context"
	"time"

	"github.com/Lllllllleong/commentingestflow/internal/models"
)

// DocumentPatch lists the Document fields to change. Zero values are left
// untouched; pointer fields distinguish "set to zero" from "unchanged".
type DocumentPatch struct {
	Status              models.Status
	Progress            *int
	ErrorDetails        *string
	ObjectID            string
	Title               string
	TotalItems          *int
	ArtifactURI         string
	Analysis            string
	WorkflowExecutionID string
	// UpdatedAt stamps the write. Zero uses the store's wall clock.
	UpdatedAt time.Time
}

// Documents stores ingestion job records.
type Documents interface {
	// Get returns ErrNotFound when the document does not exist.
	Get(ctx context.Context, documentID string) (*models.Document, error)
	// Claim atomically reserves the document for a new execution. It creates
	// a QUEUED record when none exists, moves a FAILED record back to QUEUED,
	// and otherwise leaves the record alone and reports claimed=false.
	Claim(ctx context.Context, documentID string, now time.Time) (doc *models.Document, claimed bool, err error)
	Update(ctx context.Context, documentID string, patch DocumentPatch) error
}

// Plans stores the execution state snapshot of each document's workflow.
type Plans interface {
	// Get returns ErrNotFound when no plan has been written yet.
	Get(ctx context.Context, documentID string) (*models.Plan, error)
	Put(ctx context.Context, plan models.Plan) error
}

// Checkpoints stores per-chunk completion records.
type Checkpoints interface {
	Put(ctx context.Context, cp models.Checkpoint) error
	// Get returns ErrNotFound when the chunk has no checkpoint.
	Get(ctx context.Context, documentID, chunkID string) (*models.Checkpoint, error)
	// List returns every checkpoint of a document ordered by (Start, End).
	List(ctx context.Context, documentID string) ([]models.Checkpoint, error)
}

// Connections is the live-progress subscriber registry.
type Connections interface {
	Put(ctx context.Context, conn models.Connection) error
	// Delete is not an error when the connection is already gone.
	Delete(ctx context.Context, connectionID string) error
	// List returns connections that have not expired at now.
	List(ctx context.Context, now time.Time) ([]models.Connection, error)
}

// Blobs is a key-addressed object store.
type Blobs interface {
	Write(ctx context.Context, key, contentType string, data []byte) error
	// Read returns ErrNotFound when the object does not exist.
	Read(ctx context.Context, key string) ([]byte, error)
	URI(key string) string
}
