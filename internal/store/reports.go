package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/popis/internal/count"
	"github.com/erazemk/popis/internal/model"
)

// GetCountStats aggregates counts by status. A positive createdBy restricts
// the totals to that user's counts.
func GetCountStats(ctx context.Context, db *sql.DB, createdBy int64) (*model.CountStats, error) {
	where, args := ``, []any{}
	if createdBy > 0 {
		where, args = ` WHERE c.created_by = ?`, append(args, createdBy)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT c.status, COUNT(*) FROM counts c`+where+` GROUP BY c.status`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("counting counts by status: %w", err)
	}
	defer rows.Close()

	stats := &model.CountStats{ByStatus: make(map[model.Status]int, len(model.Statuses))}
	for _, s := range model.Statuses {
		stats.ByStatus[s] = 0
	}
	for rows.Next() {
		var status model.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning count stats: %w", err)
		}
		stats.ByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading count stats: %w", err)
	}
	rows.Close()

	lineRows, err := db.QueryContext(ctx,
		`SELECT ci.expected_quantity, ci.actual_quantity
		 FROM count_items ci JOIN counts c ON c.id = ci.count_id`+where, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("summing discrepancies: %w", err)
	}
	defer lineRows.Close()

	var lines []model.CountItem
	for lineRows.Next() {
		var line model.CountItem
		if err := lineRows.Scan(&line.ExpectedQuantity, &line.ActualQuantity); err != nil {
			return nil, fmt.Errorf("scanning count line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, fmt.Errorf("reading count lines: %w", err)
	}
	stats.TotalDiscrepancy = count.TotalDiscrepancy(lines)

	stats.Pending = stats.ByStatus[model.StatusSubmitted]
	stats.Approved = stats.ByStatus[model.StatusApproved]
	return stats, nil
}

// ItemTotals returns the number of active items and how many are low on stock.
func ItemTotals(ctx context.Context, db *sql.DB, threshold int) (total, low int, err error) {
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN par_level - current_quantity > ? THEN 1 ELSE 0 END), 0)
		 FROM items WHERE deleted_at IS NULL`, threshold,
	).Scan(&total, &low)
	if err != nil {
		return 0, 0, fmt.Errorf("counting items: %w", err)
	}
	return total, low, nil
}

const discrepancyQuery = `SELECT c.id, c.count_date, ci.item_id, i.name, ci.expected_quantity, ci.actual_quantity, ci.discrepancy
	 FROM count_items ci
	 JOIN counts c ON c.id = ci.count_id
	 JOIN items i ON i.id = ci.item_id
	 WHERE c.status = ?`

func scanDiscrepancies(rows *sql.Rows) ([]model.DiscrepancyLine, error) {
	lines := []model.DiscrepancyLine{}
	for rows.Next() {
		var d model.DiscrepancyLine
		if err := rows.Scan(&d.CountID, &d.CountDate, &d.ItemID, &d.ItemName,
			&d.ExpectedQuantity, &d.ActualQuantity, &d.Discrepancy); err != nil {
			return nil, fmt.Errorf("scanning discrepancy: %w", err)
		}
		d.VariancePercent = count.VariancePercent(model.CountItem{
			ExpectedQuantity: d.ExpectedQuantity,
			ActualQuantity:   d.ActualQuantity,
		})
		lines = append(lines, d)
	}
	return lines, rows.Err()
}

// TopDiscrepancies returns the largest absolute discrepancies of approved
// counts dated on or after since.
func TopDiscrepancies(ctx context.Context, db *sql.DB, since string, limit int) ([]model.DiscrepancyLine, error) {
	rows, err := db.QueryContext(ctx,
		discrepancyQuery+` AND c.count_date >= ? AND ci.discrepancy != 0
		 ORDER BY ABS(ci.discrepancy) DESC, c.count_date DESC
		 LIMIT ?`,
		string(model.StatusApproved), since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing top discrepancies: %w", err)
	}
	defer rows.Close()

	return scanDiscrepancies(rows)
}

// DiscrepancyReport groups, per item, the significant lines of approved
// counts between from and to whose variance is at least minVariance percent.
func DiscrepancyReport(ctx context.Context, db *sql.DB, from, to string, minVariance float64) ([]model.ItemDiscrepancies, error) {
	rows, err := db.QueryContext(ctx,
		discrepancyQuery+` AND c.count_date >= ? AND c.count_date <= ?
		 ORDER BY i.name, ci.item_id, c.count_date`,
		string(model.StatusApproved), from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("building discrepancy report: %w", err)
	}
	defer rows.Close()

	lines, err := scanDiscrepancies(rows)
	if err != nil {
		return nil, err
	}

	report := []model.ItemDiscrepancies{}
	for _, d := range lines {
		line := model.CountItem{ExpectedQuantity: d.ExpectedQuantity, ActualQuantity: d.ActualQuantity}
		if !count.Significant(line) || d.VariancePercent < minVariance {
			continue
		}
		if n := len(report); n == 0 || report[n-1].ItemID != d.ItemID {
			report = append(report, model.ItemDiscrepancies{ItemID: d.ItemID, ItemName: d.ItemName})
		}
		last := &report[len(report)-1]
		last.Discrepancies = append(last.Discrepancies, d)
	}
	return report, nil
}
