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
	"github.com/google/uuid"
)

// Gateway event types.
const (
	EventConnect    = "CONNECT"
	EventDisconnect = "DISCONNECT"
)

// ConnectionsFunction maintains the subscriber registry for the websocket
// gateway.
type ConnectionsFunction struct {
	connections store.Connections
	ttl         time.Duration
	now         func() time.Time
}

// NewConnections creates a ConnectionsFunction instance.
func NewConnections(ctx context.Context) (*ConnectionsFunction, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	ttl, err := gcp.GetEnvDuration("CONNECTION_TTL", 2*time.Hour)
	if err != nil {
		return nil, err
	}
	stores, _, err := gcp.NewFirestoreStores(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return NewConnectionsWithDeps(stores.Connections, ttl), nil
}

// NewConnectionsWithDeps creates a ConnectionsFunction over registry.
func NewConnectionsWithDeps(registry store.Connections, ttl time.Duration) *ConnectionsFunction {
	return &ConnectionsFunction{
		connections: registry,
		ttl:         ttl,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Process registers or removes a connection. A connect without an id gets a
// generated one.
func (f *ConnectionsFunction) Process(ctx context.Context, req *models.ConnectionRequest) (*models.ConnectionResponse, error) {
	switch strings.ToUpper(req.EventType) {
	case EventConnect:
		id := req.ConnectionID
		if id == "" {
			id = uuid.NewString()
		}
		now := f.now()
		if err := f.connections.Put(ctx, models.Connection{
			ConnectionID: id,
			ConnectedAt:  now,
			ExpireAt:     now.Add(f.ttl),
		}); err != nil {
			slog.Error("Failed to store connection", "connectionId", id, "error", err)
			return nil, err
		}
		slog.Info("Connection registered.", "connectionId", id)
		return &models.ConnectionResponse{ConnectionID: id, Status: "connected"}, nil

	case EventDisconnect:
		if req.ConnectionID == "" {
			return nil, fmt.Errorf("%w: connectionId is required to disconnect", ErrInvalidRequest)
		}
		if err := f.connections.Delete(ctx, req.ConnectionID); err != nil {
			slog.Error("Failed to delete connection", "connectionId", req.ConnectionID, "error", err)
			return nil, err
		}
		slog.Info("Connection removed.", "connectionId", req.ConnectionID)
		return &models.ConnectionResponse{ConnectionID: req.ConnectionID, Status: "disconnected"}, nil

	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidRequest, req.EventType)
	}
}
