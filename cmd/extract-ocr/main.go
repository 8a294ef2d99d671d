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

	"github.com/Lllllllleong/extractocr/internal/logging"
	"github.com/Lllllllleong/extractocr/internal/models"
	"github.com/Lllllllleong/extractocr/internal/services"
)

var (
	extractOcrInstance *services.ExtractOcrFunction
	once               sync.Once
	initErr            error
)

func init() {
	logging.Setup(os.Stdout)

	functions.HTTP("HandleExtractOcr", handleExtractOcr)
}

// main is required by the Go Functions Framework.
func main() {}

// handleExtractOcr runs one extraction job. The Cloud Workflow job runner
// calls it with the job arguments as JSON body.
func handleExtractOcr(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		extractOcrInstance, initErr = services.NewExtractOcr(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.ExtractOcrRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := extractOcrInstance.Process(r.Context(), req)
	if errors.Is(err, services.ErrUnknownMode) {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err, "jobId", req.JobID)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}
