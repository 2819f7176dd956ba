package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/commentingestflow/internal/models"
	"github.com/Lllllllleong/commentingestflow/internal/services"
)

var (
	connectionsInstance *services.ConnectionsFunction
	once                sync.Once
	initErr             error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleConnection", handleConnection)
}

func main() {}

// handleConnection registers and removes progress subscribers.
func handleConnection(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		connectionsInstance, initErr = services.NewConnections(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Connections initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.ConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := connectionsInstance.Process(r.Context(), &req)
	if errors.Is(err, services.ErrInvalidRequest) {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err, "connectionId", res.ConnectionID)
	}
}
