package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/popis/internal/model"
)

// AdjustStock sets an item's current quantity and records the change in the
// stock ledger. Setting the quantity it already has is a no-op and returns nil.
func AdjustStock(ctx context.Context, db *sql.DB, itemID int64, newQty int, reason string, adjustedBy *int64) (*model.Adjustment, error) {
	if newQty < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative", model.ErrValidation)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = model.ReasonManual
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := setStock(ctx, tx, itemID, nil, newQty, reason, adjustedBy)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing adjustment: %w", err)
	}
	if id == 0 {
		return nil, nil
	}
	return getAdjustment(ctx, db, id)
}

// setStock writes newQty to the item and appends a ledger row. It returns the
// ledger row id, or 0 when the quantity did not change.
func setStock(ctx context.Context, q querier, itemID int64, countID *int64, newQty int, reason string, adjustedBy *int64) (int64, error) {
	var current int
	err := q.QueryRowContext(ctx,
		`SELECT current_quantity FROM items WHERE id = ? AND deleted_at IS NULL`, itemID,
	).Scan(&current)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: item %d", model.ErrNotFound, itemID)
	}
	if err != nil {
		return 0, fmt.Errorf("checking current quantity: %w", err)
	}
	if current == newQty {
		return 0, nil
	}

	_, err = q.ExecContext(ctx,
		`UPDATE items SET current_quantity = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		newQty, itemID,
	)
	if err != nil {
		return 0, fmt.Errorf("updating stock: %w", err)
	}

	result, err := q.ExecContext(ctx,
		`INSERT INTO adjustments (item_id, count_id, previous_quantity, new_quantity, delta, reason, adjusted_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		itemID, countID, current, newQty, newQty-current, reason, adjustedBy,
	)
	if err != nil {
		return 0, fmt.Errorf("recording adjustment: %w", err)
	}
	return result.LastInsertId()
}

const adjustmentQuery = `SELECT a.id, a.item_id, a.count_id, a.previous_quantity, a.new_quantity, a.delta,
	        a.reason, a.adjusted_by, a.adjusted_at, i.name, COALESCE(u.username, '')
	 FROM adjustments a
	 JOIN items i ON i.id = a.item_id
	 LEFT JOIN users u ON u.id = a.adjusted_by`

func getAdjustment(ctx context.Context, db *sql.DB, id int64) (*model.Adjustment, error) {
	rows, err := db.QueryContext(ctx, adjustmentQuery+` WHERE a.id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("getting adjustment: %w", err)
	}
	defer rows.Close()

	adjustments, err := scanAdjustments(rows)
	if err != nil || len(adjustments) == 0 {
		return nil, err
	}
	return &adjustments[0], nil
}

// ListAdjustments returns the stock ledger of an item, newest first.
func ListAdjustments(ctx context.Context, db *sql.DB, itemID int64) ([]model.Adjustment, error) {
	rows, err := db.QueryContext(ctx,
		adjustmentQuery+` WHERE a.item_id = ? ORDER BY a.id DESC`, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing adjustments: %w", err)
	}
	defer rows.Close()

	return scanAdjustments(rows)
}

func scanAdjustments(rows *sql.Rows) ([]model.Adjustment, error) {
	adjustments := []model.Adjustment{}
	for rows.Next() {
		var a model.Adjustment
		var reason sql.NullString
		if err := rows.Scan(&a.ID, &a.ItemID, &a.CountID, &a.PreviousQuantity, &a.NewQuantity, &a.Delta,
			&reason, &a.AdjustedBy, &a.AdjustedAt, &a.ItemName, &a.AdjustedByName); err != nil {
			return nil, fmt.Errorf("scanning adjustment: %w", err)
		}
		a.Reason = reason.String
		adjustments = append(adjustments, a)
	}
	return adjustments, rows.Err()
}
