package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/commentingestflow/internal/models"
	"github.com/Lllllllleong/commentingestflow/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	broadcasterInstance *services.BroadcasterFunction
	once                sync.Once
	initErr             error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Register the CloudEvent function. The orchestrator posts progress
	// events here.
	functions.CloudEvent("BroadcastProgress", broadcastProgress)
}

// main is required by the Go Functions Framework.
func main() {}

// broadcastProgress fans one progress event out to every live connection.
func broadcastProgress(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		broadcasterInstance, initErr = services.NewBroadcaster(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	event, err := models.DecodeEvent(e.Type(), e.Data())
	if err != nil {
		// Redelivery cannot fix a bad payload, so it is dropped.
		slog.Error("Dropping undecodable event", "error", err, "id", e.ID(), "type", e.Type())
		return nil
	}

	res, err := broadcasterInstance.Process(ctx, event)
	if err != nil {
		return fmt.Errorf("broadcast %s: %w", e.ID(), err)
	}
	slog.Info("Broadcast complete.", "documentId", event.DocID(), "delivered", res.Delivered, "pruned", res.Pruned)
	return nil
}
