package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/erazemk/popis/internal/count"
	"github.com/erazemk/popis/internal/model"
)

const countQuery = `SELECT c.id, c.count_date, c.status, c.created_by, c.notes, c.rejection_reason,
	        c.submitted_at, c.reviewed_at, c.reviewed_by, c.version, c.created_at, c.updated_at,
	        COALESCE(cu.username, ''), COALESCE(ru.username, '')
	 FROM counts c
	 LEFT JOIN users cu ON cu.id = c.created_by
	 LEFT JOIN users ru ON ru.id = c.reviewed_by`

func scanCount(row rowScanner, c *model.Count) error {
	var notes, reason sql.NullString
	err := row.Scan(&c.ID, &c.CountDate, &c.Status, &c.CreatedBy, &notes, &reason,
		&c.SubmittedAt, &c.ReviewedAt, &c.ReviewedBy, &c.Version, &c.CreatedAt, &c.UpdatedAt,
		&c.CreatedByName, &c.ReviewedByName)
	if err != nil {
		return err
	}
	c.Notes = notes.String
	c.RejectionReason = reason.String
	return nil
}

// CreateCount validates in and stores it as a new draft owned by actor.
// Lines without an expected quantity take the item's par level.
func CreateCount(ctx context.Context, db *sql.DB, actor model.Actor, in model.CountInput, now time.Time) (*model.Count, error) {
	ctx, span := tracer.Start(ctx, "store.create_count",
		trace.WithAttributes(
			attribute.Int64("actor.id", actor.UserID),
			attribute.Int("line.count", len(in.Items)),
		),
	)
	defer span.End()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	lines := make([]model.CountItem, 0, len(in.Items))
	for _, li := range in.Items {
		line, err := resolveLine(ctx, tx, li)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	c, err := count.New(actor, in.CountDate, in.Notes, lines, now)
	if err != nil {
		return nil, err
	}

	var drafts int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM counts WHERE created_by = ? AND count_date = ? AND status = ?`,
		actor.UserID, c.CountDate, string(model.StatusDraft),
	).Scan(&drafts)
	if err != nil {
		return nil, fmt.Errorf("checking open drafts: %w", err)
	}
	if drafts > 0 {
		return nil, fmt.Errorf("%w: you already have a draft count for %s", model.ErrValidation, c.CountDate)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO counts (count_date, status, created_by, notes, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)`,
		c.CountDate, string(c.Status), c.CreatedBy, nullString(c.Notes), now.UTC(), now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating count: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting count id: %w", err)
	}

	for _, line := range c.Items {
		if err := insertLine(ctx, tx, id, line); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing count: %w", err)
	}

	span.SetAttributes(attribute.Int64("count.id", id))
	return GetCount(ctx, db, id)
}

// GetCount returns a count with its lines, or nil if there is none.
func GetCount(ctx context.Context, db *sql.DB, id int64) (*model.Count, error) {
	return loadCount(ctx, db, id)
}

func loadCount(ctx context.Context, q querier, id int64) (*model.Count, error) {
	c := &model.Count{}
	err := scanCount(q.QueryRowContext(ctx, countQuery+` WHERE c.id = ?`, id), c)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting count: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT ci.id, ci.count_id, ci.item_id, ci.expected_quantity, ci.actual_quantity, ci.discrepancy,
		        ci.notes, ci.created_at, ci.updated_at, i.name, i.unit_of_measure
		 FROM count_items ci
		 JOIN items i ON i.id = ci.item_id
		 WHERE ci.count_id = ?
		 ORDER BY ci.id`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("getting count items: %w", err)
	}
	defer rows.Close()

	c.Items = []model.CountItem{}
	for rows.Next() {
		var line model.CountItem
		var notes sql.NullString
		if err := rows.Scan(&line.ID, &line.CountID, &line.ItemID, &line.ExpectedQuantity, &line.ActualQuantity,
			&line.Discrepancy, &notes, &line.CreatedAt, &line.UpdatedAt, &line.ItemName, &line.UnitOfMeasure); err != nil {
			return nil, fmt.Errorf("scanning count item: %w", err)
		}
		line.Notes = notes.String
		c.Items = append(c.Items, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading count items: %w", err)
	}

	count.Summarize(c)
	return c, nil
}

// ListCounts returns counts matching f without their lines, newest first.
func ListCounts(ctx context.Context, db *sql.DB, f model.CountFilter) ([]model.Count, error) {
	query := countQuery + ` WHERE 1=1`
	var args []any

	if f.Status != "" {
		query += ` AND c.status = ?`
		args = append(args, string(f.Status))
	}
	if f.CreatedBy > 0 {
		query += ` AND c.created_by = ?`
		args = append(args, f.CreatedBy)
	}
	if f.From != "" {
		query += ` AND c.count_date >= ?`
		args = append(args, f.From)
	}
	if f.To != "" {
		query += ` AND c.count_date <= ?`
		args = append(args, f.To)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + s + "%"
		query += ` AND (c.notes LIKE ? OR cu.username LIKE ? OR c.count_date LIKE ? OR EXISTS (
			SELECT 1 FROM count_items ci JOIN items i ON i.id = ci.item_id
			WHERE ci.count_id = c.id AND i.name LIKE ?))`
		args = append(args, like, like, like, like)
	}

	query += ` ORDER BY c.count_date DESC, c.id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing counts: %w", err)
	}
	defer rows.Close()

	counts := []model.Count{}
	for rows.Next() {
		var c model.Count
		if err := scanCount(rows, &c); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading counts: %w", err)
	}
	rows.Close()

	if err := summarizeCounts(ctx, db, counts); err != nil {
		return nil, err
	}
	return counts, nil
}

// summaryBatch bounds the ids bound per query, well under SQLite's variable limit.
const summaryBatch = 500

// summarizeCounts fills the item count and total discrepancy of listed counts
// from their lines, without attaching the lines themselves.
func summarizeCounts(ctx context.Context, q querier, counts []model.Count) error {
	lines := make(map[int64][]model.CountItem, len(counts))
	for start := 0; start < len(counts); start += summaryBatch {
		batch := counts[start:min(start+summaryBatch, len(counts))]
		ids := make([]any, len(batch))
		for i, c := range batch {
			ids[i] = c.ID
		}
		if err := loadLineQuantities(ctx, q, ids, lines); err != nil {
			return err
		}
	}

	for i := range counts {
		counts[i].ItemCount = len(lines[counts[i].ID])
		counts[i].TotalDiscrepancy = count.TotalDiscrepancy(lines[counts[i].ID])
	}
	return nil
}

func loadLineQuantities(ctx context.Context, q querier, ids []any, into map[int64][]model.CountItem) error {
	rows, err := q.QueryContext(ctx,
		`SELECT count_id, expected_quantity, actual_quantity FROM count_items
		 WHERE count_id IN (?`+strings.Repeat(`, ?`, len(ids)-1)+`)`, ids...,
	)
	if err != nil {
		return fmt.Errorf("summarizing counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line model.CountItem
		if err := rows.Scan(&line.CountID, &line.ExpectedQuantity, &line.ActualQuantity); err != nil {
			return fmt.Errorf("scanning count line: %w", err)
		}
		into[line.CountID] = append(into[line.CountID], line)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading count lines: %w", err)
	}
	return nil
}

// SubmitCount moves a draft to review.
func SubmitCount(ctx context.Context, db *sql.DB, id int64, actor model.Actor, notes string, now time.Time) (*model.Count, error) {
	return mutateCount(ctx, db, id, actor, "submit", func(_ *sql.Tx, c *model.Count) (*model.Count, error) {
		return count.Submit(c, actor, notes, now)
	}, nil)
}

// ApproveCount accepts a submitted count. With applyToStock, every line's
// actual quantity becomes its item's current quantity in the same transaction.
func ApproveCount(ctx context.Context, db *sql.DB, id int64, actor model.Actor, applyToStock bool, now time.Time) (*model.Count, error) {
	var after func(context.Context, *sql.Tx, *model.Count) error
	if applyToStock {
		after = func(ctx context.Context, tx *sql.Tx, c *model.Count) error {
			return applyCount(ctx, tx, c, actor)
		}
	}
	return mutateCount(ctx, db, id, actor, "approve", func(_ *sql.Tx, c *model.Count) (*model.Count, error) {
		return count.Approve(c, actor, now)
	}, after)
}

// RejectCount sends a submitted count back with a reason.
func RejectCount(ctx context.Context, db *sql.DB, id int64, actor model.Actor, reason string, now time.Time) (*model.Count, error) {
	return mutateCount(ctx, db, id, actor, "reject", func(_ *sql.Tx, c *model.Count) (*model.Count, error) {
		return count.Reject(c, actor, reason, now)
	}, nil)
}

// AddCountLine adds an item to a draft count.
func AddCountLine(ctx context.Context, db *sql.DB, id int64, actor model.Actor, in model.CountLineInput, now time.Time) (*model.Count, error) {
	return mutateCount(ctx, db, id, actor, "add_line", func(tx *sql.Tx, c *model.Count) (*model.Count, error) {
		if err := count.CheckEditable(c, actor); err != nil {
			return nil, err
		}
		line, err := resolveLine(ctx, tx, in)
		if err != nil {
			return nil, err
		}
		return count.AddItem(c, actor, line, now)
	}, nil)
}

// UpdateCountLine changes the actual quantity or notes of a draft count's line.
func UpdateCountLine(ctx context.Context, db *sql.DB, id, itemID int64, actor model.Actor, upd count.LineUpdate, now time.Time) (*model.Count, error) {
	return mutateCount(ctx, db, id, actor, "update_line", func(_ *sql.Tx, c *model.Count) (*model.Count, error) {
		return count.UpdateItem(c, actor, itemID, upd, now)
	}, nil)
}

// RemoveCountLine removes an item from a draft count.
func RemoveCountLine(ctx context.Context, db *sql.DB, id, itemID int64, actor model.Actor, now time.Time) (*model.Count, error) {
	return mutateCount(ctx, db, id, actor, "remove_line", func(_ *sql.Tx, c *model.Count) (*model.Count, error) {
		return count.RemoveItem(c, actor, itemID, now)
	}, nil)
}

// DeleteCount deletes a draft count and its lines.
func DeleteCount(ctx context.Context, db *sql.DB, id int64, actor model.Actor) error {
	ctx, span := tracer.Start(ctx, "store.delete_count",
		trace.WithAttributes(attribute.Int64("count.id", id)),
	)
	defer span.End()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	c, err := loadCount(ctx, tx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("%w: count %d", model.ErrNotFound, id)
	}
	if !count.CanView(c, actor) {
		return fmt.Errorf("%w: count %d belongs to another user", model.ErrForbidden, id)
	}
	if err := count.CheckDelete(c, actor); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM counts WHERE id = ? AND status = ? AND version = ?`,
		id, string(c.Status), c.Version,
	)
	if err != nil {
		return fmt.Errorf("deleting count: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: count %d changed concurrently", model.ErrInvalidTransition, id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing count deletion: %w", err)
	}
	return nil
}

// mutateCount loads a count inside a transaction, applies op through the
// lifecycle engine and writes the result back guarded by the status and
// version it was loaded with. after runs inside the same transaction.
func mutateCount(
	ctx context.Context, db *sql.DB, id int64, actor model.Actor, name string,
	op func(*sql.Tx, *model.Count) (*model.Count, error),
	after func(context.Context, *sql.Tx, *model.Count) error,
) (*model.Count, error) {
	ctx, span := tracer.Start(ctx, "store."+name+"_count",
		trace.WithAttributes(
			attribute.Int64("count.id", id),
			attribute.Int64("actor.id", actor.UserID),
			attribute.String("actor.role", actor.Role),
		),
	)
	defer span.End()

	next, err := func() (*model.Count, error) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback()

		cur, err := loadCount(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if cur == nil {
			return nil, fmt.Errorf("%w: count %d", model.ErrNotFound, id)
		}
		if !count.CanView(cur, actor) {
			return nil, fmt.Errorf("%w: count %d belongs to another user", model.ErrForbidden, id)
		}
		span.SetAttributes(attribute.String("count.status.before", string(cur.Status)))

		next, err := op(tx, cur)
		if err != nil {
			return nil, err
		}
		if err := saveCount(ctx, tx, cur, next); err != nil {
			return nil, err
		}
		if after != nil {
			if err := after(ctx, tx, next); err != nil {
				return nil, err
			}
		}

		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing count: %w", err)
		}
		return next, nil
	}()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("count.status", string(next.Status)))
	return GetCount(ctx, db, id)
}

// saveCount writes next over cur. Zero affected rows means another writer
// moved the count first.
func saveCount(ctx context.Context, tx *sql.Tx, cur, next *model.Count) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE counts SET status = ?, notes = ?, rejection_reason = ?, submitted_at = ?, reviewed_at = ?,
		        reviewed_by = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND status = ? AND version = ?`,
		string(next.Status), nullString(next.Notes), nullString(next.RejectionReason), utcPtr(next.SubmittedAt),
		utcPtr(next.ReviewedAt), next.ReviewedBy, next.UpdatedAt.UTC(),
		cur.ID, string(cur.Status), cur.Version,
	)
	if err != nil {
		return fmt.Errorf("updating count: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: count %d changed concurrently", model.ErrInvalidTransition, cur.ID)
	}

	return syncLines(ctx, tx, cur, next)
}

// syncLines makes the stored lines of a count match next.Items.
func syncLines(ctx context.Context, tx *sql.Tx, cur, next *model.Count) error {
	old := make(map[int64]model.CountItem, len(cur.Items))
	for _, line := range cur.Items {
		old[line.ItemID] = line
	}

	for _, line := range next.Items {
		prev, ok := old[line.ItemID]
		delete(old, line.ItemID)
		switch {
		case !ok || line.ID == 0:
			if err := insertLine(ctx, tx, cur.ID, line); err != nil {
				return err
			}
		case prev.ActualQuantity != line.ActualQuantity || prev.Notes != line.Notes:
			_, err := tx.ExecContext(ctx,
				`UPDATE count_items SET actual_quantity = ?, discrepancy = ?, notes = ?, updated_at = ?
				 WHERE id = ?`,
				line.ActualQuantity, line.Discrepancy, nullString(line.Notes), line.UpdatedAt.UTC(), line.ID,
			)
			if err != nil {
				return fmt.Errorf("updating count item: %w", err)
			}
		}
	}

	for _, line := range old {
		if _, err := tx.ExecContext(ctx, `DELETE FROM count_items WHERE id = ?`, line.ID); err != nil {
			return fmt.Errorf("removing count item: %w", err)
		}
	}
	return nil
}

func insertLine(ctx context.Context, q querier, countID int64, line model.CountItem) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO count_items (count_id, item_id, expected_quantity, actual_quantity, discrepancy, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		countID, line.ItemID, line.ExpectedQuantity, line.ActualQuantity, line.Discrepancy,
		nullString(line.Notes), line.CreatedAt.UTC(), line.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("adding count item: %w", err)
	}
	return nil
}

// resolveLine turns a line request into a count line, checking that the item
// exists and snapshotting its par level when no expected quantity is given.
func resolveLine(ctx context.Context, q querier, in model.CountLineInput) (model.CountItem, error) {
	item, err := getItem(ctx, q, in.ItemID)
	if err != nil {
		return model.CountItem{}, err
	}
	if item == nil || item.DeletedAt != nil {
		return model.CountItem{}, fmt.Errorf("%w: item %d", model.ErrNotFound, in.ItemID)
	}

	line := model.CountItem{
		ItemID:           item.ID,
		ExpectedQuantity: item.ParLevel,
		ActualQuantity:   in.ActualQuantity,
		Notes:            in.Notes,
		ItemName:         item.Name,
		UnitOfMeasure:    item.UnitOfMeasure,
	}
	if in.ExpectedQuantity != nil {
		line.ExpectedQuantity = *in.ExpectedQuantity
	}
	return line, nil
}

// applyCount sets each counted item's stock to the counted quantity. Items
// deleted since the count was taken are skipped.
func applyCount(ctx context.Context, tx *sql.Tx, c *model.Count, actor model.Actor) error {
	countID := c.ID
	by := actor.UserID
	for _, line := range c.Items {
		_, err := setStock(ctx, tx, line.ItemID, &countID, line.ActualQuantity, model.ReasonCountApproved, &by)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("applying count %d to stock: %w", c.ID, err)
		}
	}
	return nil
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
