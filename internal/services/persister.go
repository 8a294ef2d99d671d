package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Lllllllleong/extractocr/internal/config"
	"github.com/Lllllllleong/extractocr/internal/filestore"
	"github.com/Lllllllleong/extractocr/internal/models"
	"github.com/Lllllllleong/extractocr/internal/store"
)

// PropertyIsFormatOf links an artifact to the pdf it was extracted from.
const PropertyIsFormatOf = "dcterms:isFormatOf"

// Persister stores artifacts, either as new media of the item or as one
// file per item in the index directory.
type Persister struct {
	Settings config.Settings
	Store    store.Store
	Files    filestore.Files
	Stager   Stager
}

// Prepare checks the destination of the artifacts before a run.
func (p *Persister) Prepare(ctx context.Context, createMedia bool) error {
	if createMedia {
		return p.Stager.Prepare(ctx)
	}
	return ensureWritableDir(p.Settings.IndexDir)
}

// IndexPath is the file of an item in the index directory.
func (p *Persister) IndexPath(itemID int) string {
	return filepath.Join(p.Settings.IndexDir, fmt.Sprintf("%d.%s", itemID, p.Settings.Format.Extension()))
}

// Existing reports whether the item of pdf already holds an artifact named
// name. The media is returned when the artifact is a resource.
func (p *Persister) Existing(ctx context.Context, pdf models.Media, name string, createMedia bool) (bool, *models.Media, error) {
	if !createMedia {
		_, err := os.Stat(p.IndexPath(pdf.ItemID))
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil, nil
		}
		if err != nil {
			return false, nil, err
		}
		return true, nil, nil
	}

	m, err := p.Store.FindMediaBySource(ctx, pdf.ItemID, name, p.Settings.Format.Extension())
	if errors.Is(err, store.ErrNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return true, m, nil
}

// Remove deletes an existing artifact before it is extracted again.
func (p *Persister) Remove(ctx context.Context, pdf models.Media, existing *models.Media) error {
	if existing == nil {
		err := os.Remove(p.IndexPath(pdf.ItemID))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove index file: %w", err)
		}
		return nil
	}

	if err := p.Store.DeleteMedia(ctx, existing.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to delete media %d: %w", existing.ID, err)
	}
	if existing.StorageID != "" {
		if err := p.Files.Remove(ctx, existing.Filename()); err != nil {
			return fmt.Errorf("failed to remove file of media %d: %w", existing.ID, err)
		}
	}
	return nil
}

// Persist stores the artifact and writes its text back to the configured
// resources. When any step fails, what was stored for this pdf is removed
// again so that a later run in missing mode picks the pdf up.
func (p *Persister) Persist(ctx context.Context, logCtx *slog.Logger, run *Run, pdf models.Media, a *Artifact) error {
	if run.CreateMedia {
		created, err := p.createMedia(ctx, logCtx, run, pdf, a)
		if err != nil {
			return err
		}
		if err := p.writeBack(ctx, logCtx, run, pdf, a); err != nil {
			if created != nil {
				p.discard(ctx, logCtx, created)
			}
			return err
		}
		return nil
	}

	if err := p.writeIndexFile(pdf, a); err != nil {
		return err
	}
	if err := p.writeBack(ctx, logCtx, run, pdf, a); err != nil {
		if rmErr := os.Remove(p.IndexPath(pdf.ItemID)); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			logCtx.Warn("Failed to remove index file.", "file", p.IndexPath(pdf.ItemID), "error", rmErr)
		}
		return err
	}
	return nil
}

func (p *Persister) writeIndexFile(pdf models.Media, a *Artifact) error {
	if a.Empty {
		return nil
	}
	if err := os.MkdirAll(p.Settings.IndexDir, 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	return filestore.CopyFile(a.Path, p.IndexPath(pdf.ItemID), false)
}

// createMedia stages the artifact, ingests the staged copy into the files
// store and creates the media last of its item. It returns nil media for an
// empty artifact.
func (p *Persister) createMedia(ctx context.Context, logCtx *slog.Logger, run *Run, pdf models.Media, a *Artifact) (*models.Media, error) {
	if a.Empty {
		return nil, nil
	}
	format := a.Format
	staged, err := p.Stager.Stage(ctx, a.Path, format.Extension(), format.MediaType())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := p.Stager.Remove(context.WithoutCancel(ctx), staged); err != nil {
			logCtx.Warn("Failed to remove staged file.", "staged", staged, "error", err)
		}
	}()
	logCtx.Info("Staged artifact.", "ingestUrl", p.Stager.URL(run.BaseURI, staged))

	source, err := p.Stager.Localize(ctx, staged, filepath.Dir(a.Path))
	if err != nil {
		return nil, err
	}

	m := models.Media{
		ItemID:    pdf.ItemID,
		Source:    a.SourceName,
		StorageID: strings.ReplaceAll(uuid.NewString(), "-", ""),
		Extension: format.Extension(),
	}
	if p.Settings.ContentStore.Has(config.StoreArtifactMedia) && a.Text != "" {
		m.Values = append(m.Values, p.contentValue(a.Text))
	}
	if p.Settings.LinkSource {
		m.Values = append(m.Values, models.Value{
			Property:   PropertyIsFormatOf,
			Type:       models.ValueResource,
			ResourceID: pdf.ID,
		})
	}

	if err := p.Files.Put(ctx, source, m.Filename(), format.MediaType()); err != nil {
		return nil, fmt.Errorf("failed to ingest %s: %w", a.SourceName, err)
	}
	created, err := p.Store.CreateMedia(ctx, m)
	if err != nil {
		p.removeFile(ctx, logCtx, m.Filename())
		return nil, fmt.Errorf("failed to create media %s: %w", a.SourceName, err)
	}
	logCtx.Info("Created media.", "newMediaId", created.ID, "source", created.Source)

	if err := p.MoveLast(ctx, created.ItemID, created.ID); err != nil {
		p.discard(ctx, logCtx, created)
		return nil, err
	}
	if err := p.Store.SetMediaType(ctx, created.ID, format.MediaType()); err != nil {
		p.discard(ctx, logCtx, created)
		return nil, fmt.Errorf("failed to set media type of media %d: %w", created.ID, err)
	}
	return created, nil
}

// discard deletes a media created by this run and its file.
func (p *Persister) discard(ctx context.Context, logCtx *slog.Logger, m *models.Media) {
	ctx = context.WithoutCancel(ctx)
	if err := p.Store.DeleteMedia(ctx, m.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		logCtx.Error("Failed to delete partial media.", "newMediaId", m.ID, "error", err)
	} else {
		logCtx.Warn("Deleted partial media.", "newMediaId", m.ID)
	}
	p.removeFile(ctx, logCtx, m.Filename())
}

func (p *Persister) removeFile(ctx context.Context, logCtx *slog.Logger, name string) {
	if err := p.Files.Remove(ctx, name); err != nil {
		logCtx.Warn("Failed to remove ingested file.", "file", name, "error", err)
	}
}

// MoveLast renumbers the media of an item so that mediaID comes last. All
// positions are written in one transaction.
func (p *Persister) MoveLast(ctx context.Context, itemID, mediaID int) error {
	siblings, err := p.Store.ItemMedia(ctx, itemID)
	if err != nil {
		return fmt.Errorf("failed to read media of item %d: %w", itemID, err)
	}
	if len(siblings) <= 1 {
		return nil
	}

	positions := make(map[int]int, len(siblings))
	key := 0
	found := false
	for _, m := range siblings {
		if m.ID == mediaID {
			found = true
			continue
		}
		key++
		positions[m.ID] = key
	}
	if !found {
		return fmt.Errorf("media %d of item %d: %w", mediaID, itemID, store.ErrNotFound)
	}
	positions[mediaID] = key + 1

	if err := p.Store.UpdatePositions(ctx, itemID, positions); err != nil {
		return fmt.Errorf("failed to reorder media of item %d: %w", itemID, err)
	}
	return nil
}

func (p *Persister) contentValue(text string) models.Value {
	return models.Value{
		Property: p.Settings.ContentProperty,
		Type:     models.ValueLiteral,
		Value:    text,
		Lang:     p.Settings.ContentLanguage,
	}
}

// writeBack appends the text to the pdf and to the item unless the same
// value is already there. The item is left alone for manual runs.
func (p *Persister) writeBack(ctx context.Context, logCtx *slog.Logger, run *Run, pdf models.Media, a *Artifact) error {
	if a.Text == "" {
		return nil
	}
	v := p.contentValue(a.Text)

	var refs []models.ResourceRef
	if p.Settings.ContentStore.Has(config.StorePdfMedia) {
		refs = append(refs, models.MediaRef(pdf.ID))
	}
	if p.Settings.ContentStore.Has(config.StoreItem) && !run.Manual {
		refs = append(refs, models.ItemRef(pdf.ItemID))
	}
	for _, ref := range refs {
		added, err := store.AppendValueOnce(ctx, p.Store, ref, v)
		if err != nil {
			return err
		}
		if !added {
			logCtx.Info("Text already stored.", "kind", ref.Kind, "resourceId", ref.ID)
		}
	}
	return nil
}
