// Package docstore implements store.Store on Firestore. Items and media are
// documents keyed by their numeric id; new ids come from a counters
// document updated in the same transaction as the insert.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"cloud.google.com/go/firestore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/extractocr/internal/idrange"
	"github.com/Lllllllleong/extractocr/internal/models"
	"github.com/Lllllllleong/extractocr/internal/store"
)

// Config names the collections used by the store.
type Config struct {
	ItemsCollection    string
	MediaCollection    string
	CountersCollection string
}

// Store implements store.Store backed by Firestore.
type Store struct {
	client *firestore.Client
	config Config
}

var _ store.Store = (*Store)(nil)

// New returns a store using client.
func New(client *firestore.Client, config Config) *Store {
	if config.ItemsCollection == "" {
		config.ItemsCollection = "items"
	}
	if config.MediaCollection == "" {
		config.MediaCollection = "media"
	}
	if config.CountersCollection == "" {
		config.CountersCollection = "counters"
	}
	return &Store{client: client, config: config}
}

func (s *Store) itemDoc(id int) *firestore.DocumentRef {
	return s.client.Collection(s.config.ItemsCollection).Doc(strconv.Itoa(id))
}

func (s *Store) mediaDoc(id int) *firestore.DocumentRef {
	return s.client.Collection(s.config.MediaCollection).Doc(strconv.Itoa(id))
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (s *Store) Item(ctx context.Context, id int) (*models.Item, error) {
	snap, err := s.itemDoc(id).Get(ctx)
	if notFound(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %d: %w", id, err)
	}
	var item models.Item
	if err := snap.DataTo(&item); err != nil {
		return nil, fmt.Errorf("failed to decode item %d: %w", id, err)
	}
	return &item, nil
}

func (s *Store) Media(ctx context.Context, id int) (*models.Media, error) {
	snap, err := s.mediaDoc(id).Get(ctx)
	if notFound(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media %d: %w", id, err)
	}
	var m models.Media
	if err := snap.DataTo(&m); err != nil {
		return nil, fmt.Errorf("failed to decode media %d: %w", id, err)
	}
	return &m, nil
}

// SearchPDFs runs one query per range, at most four at a time, and merges
// the results.
func (s *Store) SearchPDFs(ctx context.Context, ranges idrange.Ranges) ([]models.Media, error) {
	if len(ranges) == 0 {
		ranges = idrange.Ranges{{}}
	}

	results := make([][]models.Media, len(ranges))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i, r := range ranges {
		eg.Go(func() error {
			q := s.client.Collection(s.config.MediaCollection).
				Where("extension", "==", store.PdfExtension).
				Where("mediaType", "in", store.PdfMediaTypes)
			if r.From > 0 {
				q = q.Where("itemId", ">=", r.From)
			}
			if r.To > 0 {
				q = q.Where("itemId", "<=", r.To)
			}
			media, err := collectMedia(q.Documents(gctx))
			if err != nil {
				return fmt.Errorf("range %s: %w", r, err)
			}
			results[i] = media
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("failed to search pdf media: %w", err)
	}

	seen := make(map[int]bool)
	var out []models.Media
	for _, media := range results {
		for _, m := range media {
			if !seen[m.ID] {
				seen[m.ID] = true
				out = append(out, m)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ItemMedia(ctx context.Context, itemID int) ([]models.Media, error) {
	q := s.client.Collection(s.config.MediaCollection).Where("itemId", "==", itemID).OrderBy("position", firestore.Asc)
	media, err := collectMedia(q.Documents(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list media of item %d: %w", itemID, err)
	}
	return media, nil
}

func (s *Store) FindMediaBySource(ctx context.Context, itemID int, source, extension string) (*models.Media, error) {
	q := s.client.Collection(s.config.MediaCollection).
		Where("itemId", "==", itemID).
		Where("source", "==", source).
		Where("extension", "==", extension).
		Limit(1)
	media, err := collectMedia(q.Documents(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to find media by source: %w", err)
	}
	if len(media) == 0 {
		return nil, store.ErrNotFound
	}
	return &media[0], nil
}

func collectMedia(it *firestore.DocumentIterator) ([]models.Media, error) {
	defer it.Stop()
	var out []models.Media
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		var m models.Media
		if err := snap.DataTo(&m); err != nil {
			return nil, fmt.Errorf("failed to decode media %s: %w", snap.Ref.ID, err)
		}
		out = append(out, m)
	}
}

type counter struct {
	Next int `firestore:"next"`
}

func (s *Store) CreateMedia(ctx context.Context, m models.Media) (*models.Media, error) {
	counterRef := s.client.Collection(s.config.CountersCollection).Doc(s.config.MediaCollection)
	siblings := s.client.Collection(s.config.MediaCollection).
		Where("itemId", "==", m.ItemID).
		OrderBy("position", firestore.Desc).
		Limit(1)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(s.itemDoc(m.ItemID)); err != nil {
			if notFound(err) {
				return fmt.Errorf("item %d: %w", m.ItemID, store.ErrNotFound)
			}
			return err
		}

		var c counter
		snap, err := tx.Get(counterRef)
		if err != nil && !notFound(err) {
			return err
		}
		if err == nil {
			if err := snap.DataTo(&c); err != nil {
				return err
			}
		}
		if c.Next == 0 {
			c.Next = 1
		}

		last, err := tx.Documents(siblings).GetAll()
		if err != nil {
			return err
		}
		m.Position = 1
		if len(last) > 0 {
			var prev models.Media
			if err := last[0].DataTo(&prev); err != nil {
				return err
			}
			m.Position = prev.Position + 1
		}

		m.ID = c.Next
		if err := tx.Set(counterRef, counter{Next: c.Next + 1}); err != nil {
			return err
		}
		return tx.Create(s.mediaDoc(m.ID), m)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create media: %w", err)
	}
	return &m, nil
}

func (s *Store) DeleteMedia(ctx context.Context, id int) error {
	_, err := s.mediaDoc(id).Delete(ctx, firestore.Exists)
	if notFound(err) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete media %d: %w", id, err)
	}
	return nil
}

// UpdatePositions writes every position in one transaction.
func (s *Store) UpdatePositions(ctx context.Context, itemID int, positions map[int]int) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for id := range positions {
			snap, err := tx.Get(s.mediaDoc(id))
			if notFound(err) {
				return fmt.Errorf("media %d: %w", id, store.ErrNotFound)
			}
			if err != nil {
				return err
			}
			var m models.Media
			if err := snap.DataTo(&m); err != nil {
				return err
			}
			if m.ItemID != itemID {
				return fmt.Errorf("media %d of item %d: %w", id, itemID, store.ErrNotFound)
			}
		}
		for id, position := range positions {
			if err := tx.Update(s.mediaDoc(id), []firestore.Update{{Path: "position", Value: position}}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update positions of item %d: %w", itemID, err)
	}
	return nil
}

func (s *Store) SetMediaType(ctx context.Context, id int, mediaType string) error {
	_, err := s.mediaDoc(id).Update(ctx, []firestore.Update{{Path: "mediaType", Value: mediaType}})
	if notFound(err) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to set media type of %d: %w", id, err)
	}
	return nil
}

func (s *Store) AppendValue(ctx context.Context, ref models.ResourceRef, v models.Value) error {
	var doc *firestore.DocumentRef
	switch ref.Kind {
	case models.KindItem:
		doc = s.itemDoc(ref.ID)
	case models.KindMedia:
		doc = s.mediaDoc(ref.ID)
	default:
		return fmt.Errorf("unknown resource kind %q", ref.Kind)
	}

	_, err := doc.Update(ctx, []firestore.Update{{Path: "values", Value: firestore.ArrayUnion(v)}})
	if notFound(err) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to append value to %s %d: %w", ref.Kind, ref.ID, err)
	}
	return nil
}
