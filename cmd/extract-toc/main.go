package main

import (
	"context"
	"encoding/json"
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
	extractTocInstance *services.ExtractTocFunction
	once               sync.Once
	initErr            error
)

func init() {
	logging.Setup(os.Stdout)

	functions.HTTP("HandleExtractToc", handleExtractToc)
}

// main is required by the Go Functions Framework.
func main() {}

func handleExtractToc(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		extractTocInstance, initErr = services.NewExtractToc(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.ExtractTocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	if req.MediaID <= 0 {
		http.Error(w, "Bad Request: mediaId is required", http.StatusBadRequest)
		return
	}

	res, err := extractTocInstance.Process(r.Context(), req)
	if err != nil {
		slog.Error("Table of contents extraction failed", "error", err, "mediaId", req.MediaID)
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err, "mediaId", req.MediaID)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}
