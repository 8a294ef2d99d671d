// Package store defines the resource store the extraction jobs read items
// and media from and write derived media and metadata to.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Lllllllleong/extractocr/internal/idrange"
	"github.com/Lllllllleong/extractocr/internal/models"
)

// ErrNotFound is returned when a resource does not exist.
var ErrNotFound = errors.New("resource not found")

// PdfMediaTypes are the media types of source pdfs, the legacy one included.
var PdfMediaTypes = []string{"application/pdf", "text/pdf"}

// PdfExtension is the extension of source pdfs.
const PdfExtension = "pdf"

// Store is the resource store of the host.
type Store interface {
	// SearchPDFs returns the pdf media whose item id is in ranges, ordered
	// by item id then media id.
	SearchPDFs(ctx context.Context, ranges idrange.Ranges) ([]models.Media, error)
	Item(ctx context.Context, id int) (*models.Item, error)
	Media(ctx context.Context, id int) (*models.Media, error)
	// ItemMedia returns the media of an item ordered by position.
	ItemMedia(ctx context.Context, itemID int) ([]models.Media, error)
	// FindMediaBySource returns the media of an item with the given source
	// name and extension, or ErrNotFound.
	FindMediaBySource(ctx context.Context, itemID int, source, extension string) (*models.Media, error)
	// CreateMedia adds a media after the existing media of its item.
	CreateMedia(ctx context.Context, m models.Media) (*models.Media, error)
	DeleteMedia(ctx context.Context, id int) error
	// UpdatePositions sets the position of several media of one item in a
	// single transaction.
	UpdatePositions(ctx context.Context, itemID int, positions map[int]int) error
	SetMediaType(ctx context.Context, id int, mediaType string) error
	AppendValue(ctx context.Context, ref models.ResourceRef, v models.Value) error
}

// Values returns the values of the item or media ref points at.
func Values(ctx context.Context, s Store, ref models.ResourceRef) ([]models.Value, error) {
	switch ref.Kind {
	case models.KindItem:
		item, err := s.Item(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return item.Values, nil
	case models.KindMedia:
		m, err := s.Media(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return m.Values, nil
	}
	return nil, fmt.Errorf("unknown resource kind %q", ref.Kind)
}

// AppendValueOnce appends v unless the resource already holds the same
// value. It reports whether a value was added.
func AppendValueOnce(ctx context.Context, s Store, ref models.ResourceRef, v models.Value) (bool, error) {
	values, err := Values(ctx, s, ref)
	if err != nil {
		return false, fmt.Errorf("failed to read values of %s %d: %w", ref.Kind, ref.ID, err)
	}
	for _, existing := range values {
		if existing.Same(v) {
			return false, nil
		}
	}
	if err := s.AppendValue(ctx, ref, v); err != nil {
		return false, fmt.Errorf("failed to append value to %s %d: %w", ref.Kind, ref.ID, err)
	}
	return true, nil
}

// IsPdf reports whether a media is a source pdf.
func IsPdf(m models.Media) bool {
	if m.Extension != PdfExtension {
		return false
	}
	for _, t := range PdfMediaTypes {
		if m.MediaType == t {
			return true
		}
	}
	return false
}
