package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/commentingestflow/internal/store"
)

// Collection names used when the environment does not override them.
const (
	DefaultDocumentsCollection   = "documents"
	DefaultConnectionsCollection = "connections"
)

// NewFirestoreStores creates a Firestore client for the project and wraps it
// in the record stores. Collection names come from FIRESTORE_COLLECTION and
// CONNECTIONS_COLLECTION. The caller owns the returned client.
func NewFirestoreStores(ctx context.Context, projectID string) (*store.Firestore, *firestore.Client, error) {
	if projectID == "" {
		return nil, nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	stores := store.NewFirestore(
		client,
		GetEnv("FIRESTORE_COLLECTION", DefaultDocumentsCollection),
		GetEnv("CONNECTIONS_COLLECTION", DefaultConnectionsCollection),
	)
	return stores, client, nil
}
