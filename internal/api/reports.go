package api

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/erazemk/popis/internal/model"
	"github.com/erazemk/popis/internal/store"
)

// ReportsHandler serves the dashboard and the manager reports.
type ReportsHandler struct {
	DB       *sql.DB
	Settings *SettingsHandler
	Now      func() time.Time
}

const (
	managerWindow   = 7 * 24 * time.Hour
	staffWindow     = 30 * 24 * time.Hour
	topDiscrepancyN = 5
)

type managerDashboard struct {
	TotalItems       int                     `json:"total_items"`
	LowStockCount    int                     `json:"low_stock_count"`
	PendingApprovals int                     `json:"pending_approvals"`
	RecentCounts     []model.Count           `json:"recent_counts"`
	TopDiscrepancies []model.DiscrepancyLine `json:"top_discrepancies"`
}

type staffDashboard struct {
	ActiveCounts []model.Count `json:"active_counts"`
	RecentCounts []model.Count `json:"recent_counts"`
}

func (h *ReportsHandler) today() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

// Dashboard handles GET /api/dashboard. Reviewers get stock and approval
// totals, staff get their own drafts and recent counts.
func (h *ReportsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFrom(r)
	now := h.today()

	if !model.CanReview(actor.Role) {
		active, err := store.ListCounts(ctx, h.DB, model.CountFilter{Status: model.StatusDraft, CreatedBy: actor.UserID})
		if err != nil {
			writeError(w, err, "failed to list active counts")
			return
		}
		recent, err := store.ListCounts(ctx, h.DB, model.CountFilter{
			CreatedBy: actor.UserID,
			From:      now.Add(-staffWindow).Format(model.DateLayout),
		})
		if err != nil {
			writeError(w, err, "failed to list recent counts")
			return
		}
		jsonResponse(w, http.StatusOK, staffDashboard{ActiveCounts: active, RecentCounts: recent})
		return
	}

	var d managerDashboard
	var err error
	d.TotalItems, d.LowStockCount, err = store.ItemTotals(ctx, h.DB, h.Settings.LowStockThreshold(ctx))
	if err != nil {
		writeError(w, err, "failed to count items")
		return
	}
	stats, err := store.GetCountStats(ctx, h.DB, 0)
	if err != nil {
		writeError(w, err, "failed to get count stats")
		return
	}
	d.PendingApprovals = stats.Pending

	since := now.Add(-managerWindow).Format(model.DateLayout)
	if d.RecentCounts, err = store.ListCounts(ctx, h.DB, model.CountFilter{From: since}); err != nil {
		writeError(w, err, "failed to list recent counts")
		return
	}
	if d.TopDiscrepancies, err = store.TopDiscrepancies(ctx, h.DB, since, topDiscrepancyN); err != nil {
		writeError(w, err, "failed to list top discrepancies")
		return
	}
	jsonResponse(w, http.StatusOK, d)
}

// dateRange reads from (required) and to (default today).
func (h *ReportsHandler) dateRange(r *http.Request) (from, to string, err error) {
	from, to = r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if to == "" {
		to = h.today().Format(model.DateLayout)
	}
	if _, err := time.Parse(model.DateLayout, from); err != nil {
		return "", "", errInvalidDate
	}
	if _, err := time.Parse(model.DateLayout, to); err != nil {
		return "", "", errInvalidDate
	}
	return from, to, nil
}

// Counts handles GET /api/reports/counts.
func (h *ReportsHandler) Counts(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.dateRange(r)
	if err != nil {
		writeError(w, err, "invalid date range")
		return
	}

	counts, err := store.ListCounts(r.Context(), h.DB, model.CountFilter{From: from, To: to})
	if err != nil {
		writeError(w, err, "failed to build count report")
		return
	}
	jsonResponse(w, http.StatusOK, counts)
}

// Discrepancies handles GET /api/reports/discrepancies.
func (h *ReportsHandler) Discrepancies(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.dateRange(r)
	if err != nil {
		writeError(w, err, "invalid date range")
		return
	}

	minVariance := 10.0
	if v := r.URL.Query().Get("min_variance"); v != "" {
		minVariance, err = strconv.ParseFloat(v, 64)
		if err != nil || minVariance <= 0 || minVariance > 100 {
			jsonError(w, http.StatusBadRequest, "min_variance must be in (0, 100]")
			return
		}
	}

	report, err := store.DiscrepancyReport(r.Context(), h.DB, from, to, minVariance)
	if err != nil {
		writeError(w, err, "failed to build discrepancy report")
		return
	}
	jsonResponse(w, http.StatusOK, report)
}
