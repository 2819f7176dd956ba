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
	"github.com/Lllllllleong/commentingestflow/internal/store"
)

var (
	submissionInstance *services.SubmissionFunction
	once               sync.Once
	initErr            error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleSubmission", handleSubmission)
}

// main is required by the Go Functions Framework.
func main() {}

// handleSubmission accepts POST {"documentIds": [...]} to start ingestion
// and GET ?documentId= to read a document's status.
func handleSubmission(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		submissionInstance, initErr = services.NewSubmission(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Submission initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var (
		res any
		err error
	)
	switch r.Method {
	case http.MethodPost:
		var req models.SubmissionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Warn("Could not decode request body", "error", err)
			http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
			return
		}
		res, err = submissionInstance.Submit(r.Context(), &req)
	case http.MethodGet:
		res, err = submissionInstance.Status(r.Context(), r.URL.Query().Get("documentId"))
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	case err != nil:
		slog.Error("Submission request failed", "error", err)
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodPost {
		w.WriteHeader(http.StatusAccepted)
	}
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
