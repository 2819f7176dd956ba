package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/commentingestflow/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	checkpointsCollection = "checkpoints"
	stateCollection       = "state"
	planDocID             = "plan"
)

// Firestore groups the record stores kept in one Firestore database:
//
//	{documents}/{documentId}                          Document
//	{documents}/{documentId}/state/plan               Plan
//	{documents}/{documentId}/checkpoints/{chunkId}    Checkpoint
//	{connections}/{connectionId}                      Connection
//
// Checkpoints and connections carry expireAt for a Firestore TTL policy.
type Firestore struct {
	Documents   *DocumentStore
	Plans       *PlanStore
	Checkpoints *CheckpointStore
	Connections *ConnectionStore
}

// NewFirestore wraps a client. documentsCollection and connectionsCollection
// name the top-level collections.
func NewFirestore(client *firestore.Client, documentsCollection, connectionsCollection string) *Firestore {
	docs := client.Collection(documentsCollection)
	return &Firestore{
		Documents:   &DocumentStore{client: client, docs: docs},
		Plans:       &PlanStore{docs: docs},
		Checkpoints: &CheckpointStore{docs: docs},
		Connections: &ConnectionStore{conns: client.Collection(connectionsCollection)},
	}
}

// DocumentStore implements Documents.
type DocumentStore struct {
	client *firestore.Client
	docs   *firestore.CollectionRef
}

// PlanStore implements Plans.
type PlanStore struct {
	docs *firestore.CollectionRef
}

// CheckpointStore implements Checkpoints.
type CheckpointStore struct {
	docs *firestore.CollectionRef
}

// ConnectionStore implements Connections.
type ConnectionStore struct {
	conns *firestore.CollectionRef
}

var (
	_ Documents   = (*DocumentStore)(nil)
	_ Plans       = (*PlanStore)(nil)
	_ Checkpoints = (*CheckpointStore)(nil)
	_ Connections = (*ConnectionStore)(nil)
)

// Get implements Documents.
func (s *DocumentStore) Get(ctx context.Context, documentID string) (*models.Document, error) {
	snap, err := s.docs.Doc(documentID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document %s: %w", documentID, err)
	}
	var doc models.Document
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", documentID, err)
	}
	return &doc, nil
}

// Claim implements Documents.
func (s *DocumentStore) Claim(ctx context.Context, documentID string, now time.Time) (*models.Document, bool, error) {
	ref := s.docs.Doc(documentID)
	var (
		result  models.Document
		claimed bool
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		claimed = false
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err != nil || !snap.Exists() {
			result = models.Document{
				DocumentID: documentID,
				Status:     models.StatusQueued,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			claimed = true
			return tx.Create(ref, result)
		}
		if err := snap.DataTo(&result); err != nil {
			return err
		}
		if result.Status != models.StatusFailed {
			return nil
		}
		result.Status = models.StatusQueued
		result.ErrorDetails = ""
		result.UpdatedAt = now
		claimed = true
		return tx.Update(ref, []firestore.Update{
			{Path: "status", Value: models.StatusQueued},
			{Path: "errorDetails", Value: firestore.Delete},
			{Path: "updatedAt", Value: now},
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim document %s: %w", documentID, err)
	}
	return &result, claimed, nil
}

// Update implements Documents.
func (s *DocumentStore) Update(ctx context.Context, documentID string, patch DocumentPatch) error {
	if _, err := s.docs.Doc(documentID).Update(ctx, documentUpdates(patch)); err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update document %s: %w", documentID, err)
	}
	return nil
}

func documentUpdates(patch DocumentPatch) []firestore.Update {
	updatedAt := patch.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	updates := []firestore.Update{{Path: "updatedAt", Value: updatedAt}}
	if patch.Status != "" {
		updates = append(updates, firestore.Update{Path: "status", Value: patch.Status})
	}
	if patch.Progress != nil {
		updates = append(updates, firestore.Update{Path: "progress", Value: *patch.Progress})
	}
	if patch.ErrorDetails != nil {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: *patch.ErrorDetails})
	}
	if patch.ObjectID != "" {
		updates = append(updates, firestore.Update{Path: "objectId", Value: patch.ObjectID})
	}
	if patch.Title != "" {
		updates = append(updates, firestore.Update{Path: "title", Value: patch.Title})
	}
	if patch.TotalItems != nil {
		updates = append(updates, firestore.Update{Path: "totalItems", Value: *patch.TotalItems})
	}
	if patch.ArtifactURI != "" {
		updates = append(updates, firestore.Update{Path: "artifactUri", Value: patch.ArtifactURI})
	}
	if patch.Analysis != "" {
		updates = append(updates, firestore.Update{Path: "analysis", Value: patch.Analysis})
	}
	if patch.WorkflowExecutionID != "" {
		updates = append(updates, firestore.Update{Path: "workflowExecutionId", Value: patch.WorkflowExecutionID})
	}
	return updates
}

// Get implements Plans.
func (s *PlanStore) Get(ctx context.Context, documentID string) (*models.Plan, error) {
	snap, err := s.docs.Doc(documentID).Collection(stateCollection).Doc(planDocID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get plan for %s: %w", documentID, err)
	}
	var plan models.Plan
	if err := snap.DataTo(&plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan for %s: %w", documentID, err)
	}
	return &plan, nil
}

// Put implements Plans.
func (s *PlanStore) Put(ctx context.Context, plan models.Plan) error {
	ref := s.docs.Doc(plan.DocumentID).Collection(stateCollection).Doc(planDocID)
	if _, err := ref.Set(ctx, plan); err != nil {
		return fmt.Errorf("failed to save plan for %s: %w", plan.DocumentID, err)
	}
	return nil
}

// Put implements Checkpoints.
func (s *CheckpointStore) Put(ctx context.Context, cp models.Checkpoint) error {
	ref := s.docs.Doc(cp.DocumentID).Collection(checkpointsCollection).Doc(cp.ChunkID)
	if _, err := ref.Set(ctx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint %s/%s: %w", cp.DocumentID, cp.ChunkID, err)
	}
	return nil
}

// Get implements Checkpoints.
func (s *CheckpointStore) Get(ctx context.Context, documentID, chunkID string) (*models.Checkpoint, error) {
	snap, err := s.docs.Doc(documentID).Collection(checkpointsCollection).Doc(chunkID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get checkpoint %s/%s: %w", documentID, chunkID, err)
	}
	var cp models.Checkpoint
	if err := snap.DataTo(&cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s/%s: %w", documentID, chunkID, err)
	}
	return &cp, nil
}

// List implements Checkpoints.
func (s *CheckpointStore) List(ctx context.Context, documentID string) ([]models.Checkpoint, error) {
	it := s.docs.Doc(documentID).Collection(checkpointsCollection).
		OrderBy("start", firestore.Asc).
		OrderBy("end", firestore.Asc).
		Documents(ctx)
	defer it.Stop()

	var out []models.Checkpoint
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list checkpoints for %s: %w", documentID, err)
		}
		var cp models.Checkpoint
		if err := snap.DataTo(&cp); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint %s: %w", snap.Ref.ID, err)
		}
		out = append(out, cp)
	}
	return out, nil
}

// Put implements Connections.
func (s *ConnectionStore) Put(ctx context.Context, conn models.Connection) error {
	if _, err := s.conns.Doc(conn.ConnectionID).Set(ctx, conn); err != nil {
		return fmt.Errorf("failed to store connection %s: %w", conn.ConnectionID, err)
	}
	return nil
}

// Delete implements Connections.
func (s *ConnectionStore) Delete(ctx context.Context, connectionID string) error {
	if _, err := s.conns.Doc(connectionID).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("failed to delete connection %s: %w", connectionID, err)
	}
	return nil
}

// List implements Connections.
func (s *ConnectionStore) List(ctx context.Context, now time.Time) ([]models.Connection, error) {
	// TTL deletion runs lazily, so expired records are filtered here as well.
	it := s.conns.Where("expireAt", ">", now).Documents(ctx)
	defer it.Stop()

	var out []models.Connection
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list connections: %w", err)
		}
		var conn models.Connection
		if err := snap.DataTo(&conn); err != nil {
			return nil, fmt.Errorf("failed to decode connection %s: %w", snap.Ref.ID, err)
		}
		out = append(out, conn)
	}
	return out, nil
}
