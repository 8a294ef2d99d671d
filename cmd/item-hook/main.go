package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/extractocr/internal/logging"
	"github.com/Lllllllleong/extractocr/internal/models"
	"github.com/Lllllllleong/extractocr/internal/services"
)

var (
	itemHookInstance *services.ItemHookFunction
	once             sync.Once
	initErr          error
)

func init() {
	logging.Setup(os.Stdout)

	// The host publishes one event each time an item is created or updated.
	functions.CloudEvent("OnItemSaved", onItemSaved)
}

// main is required by the Go Functions Framework.
func main() {}

func onItemSaved(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		itemHookInstance, initErr = services.NewItemHook(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var event models.ItemEvent
	if err := json.Unmarshal(e.Data(), &event); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	if _, err := itemHookInstance.OnItemSaved(ctx, event); err != nil {
		slog.Error("Item hook failed", "error", err, "itemId", event.ItemID, "eventId", e.ID())
		return err
	}
	return nil
}
