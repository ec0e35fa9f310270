package api

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/erazemk/popis/internal/model"
	"github.com/erazemk/popis/internal/store"
)

const exportSheet = "Counts"

var exportHeader = []string{"ID", "Date", "Status", "Created by", "Items", "Total discrepancy", "Reviewed by", "Reviewed at"}

func exportRow(c model.Count) []any {
	reviewedAt := ""
	if c.ReviewedAt != nil {
		reviewedAt = c.ReviewedAt.UTC().Format(time.RFC3339)
	}
	return []any{c.ID, c.CountDate, string(c.Status), c.CreatedByName, c.ItemCount, c.TotalDiscrepancy, c.ReviewedByName, reviewedAt}
}

// Export handles GET /api/counts/export?format=csv|xlsx. It honours the same
// filters as List without paging.
func (h *CountsHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		jsonError(w, http.StatusBadRequest, "format must be csv or xlsx")
		return
	}

	f, err := h.filter(r)
	if err != nil {
		writeError(w, err, "invalid filter")
		return
	}
	f.Limit, f.Offset = 0, 0

	counts, err := store.ListCounts(r.Context(), h.DB, f)
	if err != nil {
		writeError(w, err, "failed to list counts")
		return
	}

	name := fmt.Sprintf("counts-%s.%s", h.now().Format("20060102"), format)
	if format == "xlsx" {
		err = writeXLSX(w, name, counts)
	} else {
		err = writeCSV(w, name, counts)
	}
	if err != nil {
		// Headers are already sent.
		slog.Error("failed to write export", "format", format, "error", err)
		return
	}
	slog.Info("counts exported", "user", GetClaims(r.Context()).Username, "format", format, "rows", len(counts))
}

func writeCSV(w http.ResponseWriter, name string, counts []model.Count) error {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	record := make([]string, len(exportHeader))
	for _, c := range counts {
		for i, v := range exportRow(c) {
			record[i] = fmt.Sprint(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(w http.ResponseWriter, name string, counts []model.Count) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	header := make([]any, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	if err := f.SetRowStyle(exportSheet, 1, 1, bold); err != nil {
		return fmt.Errorf("styling header: %w", err)
	}

	for i, c := range counts {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := exportRow(c)
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	return f.Write(w)
}
