package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/commentingestflow/internal/models"
	"github.com/Lllllllleong/commentingestflow/internal/services"
)

var (
	workerInstance *services.WorkerFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleProcessRange", handleProcessRange)
}

// main is required by the Go Functions Framework.
func main() {}

// handleProcessRange fetches one work range. Failures answer 422 when a
// retry cannot help and 503 otherwise, so the caller knows which to retry.
func handleProcessRange(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		workerInstance, initErr = services.NewWorker(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Worker initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.ProcessRangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	status := http.StatusOK
	res, err := workerInstance.Process(r.Context(), &req)
	if err != nil {
		// Already logged with context in Process.
		kind := services.ErrorKind(err)
		status = http.StatusServiceUnavailable
		if kind == models.ErrorKindMalformed {
			status = http.StatusUnprocessableEntity
		}
		res = &models.ProcessRangeResponse{
			Status:    "error",
			Result:    models.RangeResult{ChunkID: req.WorkRange.ChunkID(), Start: req.WorkRange.Start, End: req.WorkRange.End},
			ErrorKind: kind,
			Error:     err.Error(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err, "documentId", req.DocumentID, "chunkId", req.WorkRange.ChunkID())
	}
}
