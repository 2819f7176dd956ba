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
	"github.com/Lllllllleong/commentingestflow/internal/orchestrator"
)

var (
	scheduler *orchestrator.Scheduler
	once      sync.Once
	initErr   error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleAdvance", handleAdvance)
}

func main() {}

// handleAdvance is called by the ingestion workflow in a loop. Each call
// runs the document's execution until it must wait, and tells the workflow
// how long to sleep before calling again.
func handleAdvance(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		scheduler, initErr = orchestrator.NewFromEnv(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Orchestrator initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.AdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	if req.DocumentID == "" || req.ExecutionID == "" {
		http.Error(w, "Bad Request: documentId and executionId are required", http.StatusBadRequest)
		return
	}

	plan, wait, err := scheduler.Advance(r.Context(), req.DocumentID, req.ExecutionID)
	if err != nil {
		// The workflow retries the call; the stored plan is unchanged.
		slog.Error("Failed to advance execution", "error", err, "documentId", req.DocumentID, "executionId", req.ExecutionID)
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		return
	}

	waitSeconds := int64(wait.Seconds())
	if wait > 0 && waitSeconds == 0 {
		waitSeconds = 1
	}
	res := models.AdvanceResponse{
		DocumentID:   plan.DocumentID,
		Phase:        plan.Phase,
		Done:         plan.Phase.Terminal(),
		WaitSeconds:  waitSeconds,
		CurrentBatch: plan.CurrentBatch,
		TotalBatches: plan.TotalBatches,
		Progress:     plan.Progress,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error(
			"Failed to write response",
			"error", err,
			"documentId", req.DocumentID,
			"executionId", req.ExecutionID,
		)
	}
}
