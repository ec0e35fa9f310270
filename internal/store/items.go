package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/popis/internal/model"
)

const itemColumns = `id, name, description, category, unit_of_measure, par_level, current_quantity,
	image_mime, created_by, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner, item *model.Item) error {
	var description, imageMime sql.NullString
	err := row.Scan(&item.ID, &item.Name, &description, &item.Category, &item.UnitOfMeasure,
		&item.ParLevel, &item.CurrentQuantity, &imageMime, &item.CreatedBy,
		&item.CreatedAt, &item.UpdatedAt, &item.DeletedAt)
	if err != nil {
		return err
	}
	item.Description = description.String
	item.ImageMime = imageMime.String
	return nil
}

// CreateItem validates in and creates a new item.
func CreateItem(ctx context.Context, db *sql.DB, in model.ItemInput, createdBy *int64) (*model.Item, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	result, err := db.ExecContext(ctx,
		`INSERT INTO items (name, description, category, unit_of_measure, par_level, current_quantity, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.Name, nullString(in.Description), in.Category, in.UnitOfMeasure, in.ParLevel, in.CurrentQuantity, createdBy,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: an item named %q already exists", model.ErrValidation, in.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting item id: %w", err)
	}

	return GetItem(ctx, db, id)
}

// GetItem returns an item by ID, including soft-deleted items.
func GetItem(ctx context.Context, db *sql.DB, id int64) (*model.Item, error) {
	return getItem(ctx, db, id)
}

func getItem(ctx context.Context, q querier, id int64) (*model.Item, error) {
	item := &model.Item{}
	err := scanItem(q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id), item)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// ListItems returns non-deleted items matching f, ordered by category and name.
func ListItems(ctx context.Context, db *sql.DB, f model.ItemFilter) ([]model.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE deleted_at IS NULL`
	var args []any

	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		query += ` AND (name LIKE ? OR description LIKE ?)`
		like := "%" + s + "%"
		args = append(args, like, like)
	}
	if f.LowStock {
		query += ` AND par_level - current_quantity > ?`
		args = append(args, f.Threshold)
	}
	query += ` ORDER BY category, name`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	items := []model.Item{}
	for rows.Next() {
		var item model.Item
		if err := scanItem(rows, &item); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		item.MarkLowStock(f.Threshold)
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateItem updates an item's metadata. The current quantity is left alone.
func UpdateItem(ctx context.Context, db *sql.DB, id int64, in model.ItemInput) error {
	if err := in.Validate(); err != nil {
		return err
	}

	result, err := db.ExecContext(ctx,
		`UPDATE items SET name = ?, description = ?, category = ?, unit_of_measure = ?, par_level = ?,
		        updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL`,
		in.Name, nullString(in.Description), in.Category, in.UnitOfMeasure, in.ParLevel, id,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: an item named %q already exists", model.ErrValidation, in.Name)
	}
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	return expectRow(result, "item", id)
}

// DeleteItem soft-deletes an item. Count lines that reference it are kept.
func DeleteItem(ctx context.Context, db *sql.DB, id int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE items SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return expectRow(result, "item", id)
}

// SetItemImage sets an item's image data.
func SetItemImage(ctx context.Context, db *sql.DB, id int64, image []byte, mime string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE items SET image = ?, image_mime = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL`,
		image, mime, id,
	)
	if err != nil {
		return fmt.Errorf("setting item image: %w", err)
	}
	return expectRow(result, "item", id)
}

// GetItemImage returns an item's image data and MIME type. Both are empty
// when the item has no image.
func GetItemImage(ctx context.Context, db *sql.DB, id int64) ([]byte, string, error) {
	var image []byte
	var mime sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT image, image_mime FROM items WHERE id = ?`, id,
	).Scan(&image, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting item image: %w", err)
	}
	return image, mime.String, nil
}
