package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Lllllllleong/extractocr/internal/config"
	"github.com/Lllllllleong/extractocr/internal/models"
	"github.com/Lllllllleong/extractocr/internal/store"
)

// Dispatcher starts a run in the job runner.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload any) (string, error)
}

// ItemHookFunction reacts to saved items: an item holding a pdf without its
// artifact gets a run limited to that item.
type ItemHookFunction struct {
	settings   config.Settings
	store      store.Store
	persister  *Persister
	dispatcher Dispatcher
}

// NewItemHook wires the hook from the environment.
func NewItemHook(ctx context.Context) (*ItemHookFunction, error) {
	b, err := newBackend(ctx)
	if err != nil {
		return nil, err
	}
	if b.dispatcher == nil {
		return nil, fmt.Errorf("no workflow dispatcher configured")
	}
	slog.Info("Item hook logic initialized.")
	return b.itemHook(), nil
}

// NewItemHookFunction assembles the hook from its parts.
func NewItemHookFunction(settings config.Settings, s store.Store, p *Persister, d Dispatcher) *ItemHookFunction {
	return &ItemHookFunction{settings: settings, store: s, persister: p, dispatcher: d}
}

// OnItemSaved dispatches a "missing" run for the item when one of its pdfs
// has no artifact. It returns the job id, or "" when nothing was dispatched.
func (h *ItemHookFunction) OnItemSaved(ctx context.Context, event models.ItemEvent) (string, error) {
	logCtx := slog.With("itemId", event.ItemID, "action", event.Action)
	if event.ItemID <= 0 {
		return "", fmt.Errorf("invalid item id %d", event.ItemID)
	}

	media, err := h.store.ItemMedia(ctx, event.ItemID)
	if err != nil {
		return "", fmt.Errorf("failed to read media of item %d: %w", event.ItemID, err)
	}

	pending := 0
	for _, m := range media {
		if !store.IsPdf(m) {
			continue
		}
		name := ArtifactName(m, h.settings.Format.Extension())
		exists, _, err := h.persister.Existing(ctx, m, name, h.settings.CreateMedia)
		if err != nil {
			return "", fmt.Errorf("failed to check artifact of media %d: %w", m.ID, err)
		}
		if !exists {
			pending++
		}
	}
	if pending == 0 {
		logCtx.Info("No pdf without text layer, nothing to do.")
		return "", nil
	}

	req := models.ExtractOcrRequest{
		JobID:  uuid.NewString(),
		Mode:   ModeMissing,
		ItemID: event.ItemID,
		Manual: true,
	}
	execution, err := h.dispatcher.Dispatch(ctx, req)
	if err != nil {
		return "", err
	}
	logCtx.Info("Dispatched extraction.", "jobId", req.JobID, "execution", execution, "pending", pending)
	return req.JobID, nil
}
