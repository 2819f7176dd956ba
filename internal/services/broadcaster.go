package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Lllllllleong/commentingestflow/internal/gcp"
	"github.com/Lllllllleong/commentingestflow/internal/models"
	"github.com/Lllllllleong/commentingestflow/internal/store"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/idtoken"
)

// Sender pushes one message to one subscriber connection. It returns
// ErrConnectionGone when the connection no longer exists.
type Sender interface {
	Send(ctx context.Context, connectionID string, msg models.OutboundMessage) error
}

// BroadcasterConfig holds configuration for the progress broadcaster.
type BroadcasterConfig struct {
	ProjectID   string
	CallbackURL string
	// MaxConcurrentSends caps in-flight deliveries.
	MaxConcurrentSends int
}

// BroadcasterFunction fans progress events out to every live connection.
type BroadcasterFunction struct {
	connections store.Connections
	sender      Sender
	config      BroadcasterConfig
	now         func() time.Time
}

// BroadcastResult counts the outcome of one broadcast.
type BroadcastResult struct {
	Delivered int
	Pruned    int
}

// NewBroadcaster creates a BroadcasterFunction instance that pushes through
// the websocket gateway at WEBSOCKET_CALLBACK_URL.
func NewBroadcaster(ctx context.Context) (*BroadcasterFunction, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	callbackURL := gcp.GetEnv("WEBSOCKET_CALLBACK_URL", "")
	if callbackURL == "" {
		return nil, fmt.Errorf("WEBSOCKET_CALLBACK_URL environment variable must be set")
	}
	concurrency, err := gcp.GetEnvInt("BROADCAST_CONCURRENCY", 10)
	if err != nil {
		return nil, err
	}
	config := BroadcasterConfig{
		ProjectID:          projectID,
		CallbackURL:        callbackURL,
		MaxConcurrentSends: concurrency,
	}

	stores, _, err := gcp.NewFirestoreStores(ctx, config.ProjectID)
	if err != nil {
		return nil, err
	}
	httpClient, err := idtoken.NewClient(ctx, config.CallbackURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create id token client: %w", err)
	}

	f := NewBroadcasterWithDeps(stores.Connections, NewHTTPSender(config.CallbackURL, httpClient), config)
	slog.Info("Progress broadcaster initialized.", "callbackUrl", config.CallbackURL)
	return f, nil
}

// NewBroadcasterWithDeps creates a BroadcasterFunction over the given
// registry and sender.
func NewBroadcasterWithDeps(connections store.Connections, sender Sender, config BroadcasterConfig) *BroadcasterFunction {
	if config.MaxConcurrentSends < 1 {
		config.MaxConcurrentSends = 1
	}
	return &BroadcasterFunction{
		connections: connections,
		sender:      sender,
		config:      config,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Process delivers event to every unexpired connection. A connection whose
// delivery fails for any reason is deleted; delivery failures never fail
// the broadcast. Only a failure to read the registry is returned.
func (f *BroadcasterFunction) Process(ctx context.Context, event models.ProgressEvent) (*BroadcastResult, error) {
	msg := event.Message()
	logCtx := slog.With("documentId", event.DocID(), "type", msg.Type)

	conns, err := f.connections.List(ctx, f.now())
	if err != nil {
		logCtx.Error("Failed to list connections", "error", err)
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	if len(conns) == 0 {
		logCtx.Info("No active connections.")
		return &BroadcastResult{}, nil
	}

	var delivered, pruned atomic.Int64
	var eg errgroup.Group
	eg.SetLimit(f.config.MaxConcurrentSends)
	for _, conn := range conns {
		eg.Go(func() error {
			if err := f.sender.Send(ctx, conn.ConnectionID, msg); err != nil {
				logCtx.Warn("Delivery failed; pruning connection.", "connectionId", conn.ConnectionID, "error", err)
				if err := f.connections.Delete(ctx, conn.ConnectionID); err != nil {
					logCtx.Error("Failed to delete stale connection", "connectionId", conn.ConnectionID, "error", err)
				}
				pruned.Add(1)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = eg.Wait()

	res := &BroadcastResult{Delivered: int(delivered.Load()), Pruned: int(pruned.Load())}
	logCtx.Info("Broadcast complete.", "delivered", res.Delivered, "pruned", res.Pruned)
	return res, nil
}
