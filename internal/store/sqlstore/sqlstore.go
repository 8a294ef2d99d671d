// Package sqlstore implements store.Store on a local SQLite file. It backs
// local runs and tests; production runs use the Firestore store.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Lllllllleong/extractocr/internal/idrange"
	"github.com/Lllllllleong/extractocr/internal/models"
	"github.com/Lllllllleong/extractocr/internal/store"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Store implements store.Store backed by a SQLite file.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New opens the SQLite file at dbPath. All queries go through a single
// connection so that writers never see SQLITE_BUSY.
func New(dbPath string) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		panic(fmt.Sprintf("sqlstore: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Init creates the tables.
func (s *Store) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identifier TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS media (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			item_id INTEGER NOT NULL REFERENCES items(id),
			position INTEGER NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			storage_id TEXT NOT NULL DEFAULT '',
			extension TEXT NOT NULL DEFAULT '',
			media_type TEXT NOT NULL DEFAULT '',
			identifier TEXT NOT NULL DEFAULT '',
			width INTEGER NOT NULL DEFAULT 0,
			height INTEGER NOT NULL DEFAULT 0,
			UNIQUE (item_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS media_source ON media (item_id, source, extension)`,
		`CREATE TABLE IF NOT EXISTS resource_values (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			resource_id INTEGER NOT NULL,
			property TEXT NOT NULL,
			type TEXT NOT NULL,
			value TEXT NOT NULL DEFAULT '',
			lang TEXT NOT NULL DEFAULT '',
			value_resource_id INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS resource_values_owner ON resource_values (kind, resource_id)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// CreateItem inserts an item. A zero id is assigned by the database.
func (s *Store) CreateItem(ctx context.Context, item models.Item) (*models.Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if item.ID > 0 {
		res, err = tx.ExecContext(ctx, `INSERT INTO items (id, identifier) VALUES (?, ?)`, item.ID, item.Identifier)
	} else {
		res, err = tx.ExecContext(ctx, `INSERT INTO items (identifier) VALUES (?)`, item.Identifier)
	}
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	ref := models.ItemRef(int(id))
	for _, v := range item.Values {
		if err := insertValue(ctx, tx, ref, v); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.Item(ctx, int(id))
}

func (s *Store) Item(ctx context.Context, id int) (*models.Item, error) {
	item := models.Item{ID: id}
	err := s.db.QueryRowContext(ctx, `SELECT identifier FROM items WHERE id = ?`, id).Scan(&item.Identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item %d: %w", id, err)
	}
	if item.Values, err = s.values(ctx, models.ItemRef(id)); err != nil {
		return nil, err
	}
	return &item, nil
}

const mediaColumns = `id, item_id, position, source, storage_id, extension, media_type, identifier, width, height`

func scanMedia(row interface{ Scan(...any) error }) (models.Media, error) {
	var m models.Media
	err := row.Scan(&m.ID, &m.ItemID, &m.Position, &m.Source, &m.StorageID, &m.Extension,
		&m.MediaType, &m.Identifier, &m.Width, &m.Height)
	return m, err
}

func (s *Store) Media(ctx context.Context, id int) (*models.Media, error) {
	m, err := scanMedia(s.db.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get media %d: %w", id, err)
	}
	if m.Values, err = s.values(ctx, models.MediaRef(id)); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) SearchPDFs(ctx context.Context, ranges idrange.Ranges) ([]models.Media, error) {
	query := `SELECT ` + mediaColumns + ` FROM media WHERE extension = ? AND media_type IN (?, ?)`
	args := []any{store.PdfExtension, store.PdfMediaTypes[0], store.PdfMediaTypes[1]}

	if len(ranges) > 0 {
		clauses := make([]string, 0, len(ranges))
		for _, r := range ranges {
			var parts []string
			if r.From > 0 {
				parts = append(parts, "item_id >= ?")
				args = append(args, r.From)
			}
			if r.To > 0 {
				parts = append(parts, "item_id <= ?")
				args = append(args, r.To)
			}
			if len(parts) == 0 {
				parts = append(parts, "1 = 1")
			}
			clauses = append(clauses, "("+strings.Join(parts, " AND ")+")")
		}
		query += " AND (" + strings.Join(clauses, " OR ") + ")"
	}
	query += " ORDER BY item_id, id"

	return s.queryMedia(ctx, query, args...)
}

func (s *Store) ItemMedia(ctx context.Context, itemID int) ([]models.Media, error) {
	return s.queryMedia(ctx, `SELECT `+mediaColumns+` FROM media WHERE item_id = ? ORDER BY position, id`, itemID)
}

func (s *Store) FindMediaBySource(ctx context.Context, itemID int, source, extension string) (*models.Media, error) {
	var id int
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM media WHERE item_id = ? AND source = ? AND extension = ? ORDER BY id LIMIT 1`,
		itemID, source, extension).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find media by source: %w", err)
	}
	return s.Media(ctx, id)
}

func (s *Store) queryMedia(ctx context.Context, query string, args ...any) ([]models.Media, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query media: %w", err)
	}
	var out []models.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan media: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("query media: %w", err)
	}
	rows.Close()

	for i := range out {
		if out[i].Values, err = s.values(ctx, models.MediaRef(out[i].ID)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) CreateMedia(ctx context.Context, m models.Media) (*models.Media, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE id = ?`, m.ItemID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check item: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("item %d: %w", m.ItemID, store.ErrNotFound)
	}

	var position int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), 0) + 1 FROM media WHERE item_id = ?`, m.ItemID).Scan(&position); err != nil {
		return nil, fmt.Errorf("next position: %w", err)
	}
	if m.StorageID == "" {
		m.StorageID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO media (item_id, position, source, storage_id, extension, media_type, identifier, width, height)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ItemID, position, m.Source, m.StorageID, m.Extension, m.MediaType, m.Identifier, m.Width, m.Height)
	if err != nil {
		return nil, fmt.Errorf("insert media: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert media: %w", err)
	}
	for _, v := range m.Values {
		if err := insertValue(ctx, tx, models.MediaRef(int(id)), v); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.Media(ctx, int(id))
}

func (s *Store) DeleteMedia(ctx context.Context, id int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete media %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM resource_values WHERE kind = ? AND resource_id = ?`, models.KindMedia, id); err != nil {
		return fmt.Errorf("delete values of media %d: %w", id, err)
	}
	return tx.Commit()
}

// UpdatePositions moves the media to negative positions first so that a
// swap never breaks the (item_id, position) unique index mid-transaction.
func (s *Store) UpdatePositions(ctx context.Context, itemID int, positions map[int]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for id := range positions {
		res, err := tx.ExecContext(ctx, `UPDATE media SET position = ? WHERE id = ? AND item_id = ?`, -id, id, itemID)
		if err != nil {
			return fmt.Errorf("park media %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("media %d of item %d: %w", id, itemID, store.ErrNotFound)
		}
	}
	for id, position := range positions {
		if _, err := tx.ExecContext(ctx, `UPDATE media SET position = ? WHERE id = ?`, position, id); err != nil {
			return fmt.Errorf("position media %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) SetMediaType(ctx context.Context, id int, mediaType string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE media SET media_type = ? WHERE id = ?`, mediaType, id)
	if err != nil {
		return fmt.Errorf("set media type of %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AppendValue(ctx context.Context, ref models.ResourceRef, v models.Value) error {
	table := "items"
	if ref.Kind == models.KindMedia {
		table = "media"
	} else if ref.Kind != models.KindItem {
		return fmt.Errorf("unknown resource kind %q", ref.Kind)
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE id = ?`, ref.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check %s %d: %w", ref.Kind, ref.ID, err)
	}
	if exists == 0 {
		return store.ErrNotFound
	}
	return insertValue(ctx, s.db, ref, v)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertValue(ctx context.Context, db execer, ref models.ResourceRef, v models.Value) error {
	_, err := db.ExecContext(ctx, `INSERT INTO resource_values (kind, resource_id, property, type, value, lang, value_resource_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ref.Kind, ref.ID, v.Property, v.Type, v.Value, v.Lang, v.ResourceID)
	if err != nil {
		return fmt.Errorf("insert value: %w", err)
	}
	return nil
}

func (s *Store) values(ctx context.Context, ref models.ResourceRef) ([]models.Value, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT property, type, value, lang, value_resource_id
		FROM resource_values WHERE kind = ? AND resource_id = ? ORDER BY id`, ref.Kind, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("query values: %w", err)
	}
	defer rows.Close()

	var out []models.Value
	for rows.Next() {
		var v models.Value
		if err := rows.Scan(&v.Property, &v.Type, &v.Value, &v.Lang, &v.ResourceID); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
