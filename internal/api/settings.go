package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/erazemk/popis/internal/store"
)

const settingLowStockThreshold = "low_stock_threshold"

// SettingsHandler serves runtime settings. The low-stock threshold stored in
// the database overrides the configured default.
type SettingsHandler struct {
	DB                       *sql.DB
	DefaultLowStockThreshold int
}

type settingsResponse struct {
	LowStockThreshold int `json:"low_stock_threshold"`
}

type updateSettingsRequest struct {
	LowStockThreshold *int `json:"low_stock_threshold"`
}

// LowStockThreshold returns the effective threshold. A broken stored value
// falls back to the default.
func (h *SettingsHandler) LowStockThreshold(ctx context.Context) int {
	v, err := store.GetSetting(ctx, h.DB, settingLowStockThreshold)
	if err != nil {
		slog.Error("failed to read low stock threshold", "error", err)
		return h.DefaultLowStockThreshold
	}
	if v == "" {
		return h.DefaultLowStockThreshold
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		slog.Warn("ignoring invalid low stock threshold", "value", v)
		return h.DefaultLowStockThreshold
	}
	return n
}

// Get handles GET /api/settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, settingsResponse{LowStockThreshold: h.LowStockThreshold(r.Context())})
}

// Update handles PUT /api/settings.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.LowStockThreshold != nil {
		if *req.LowStockThreshold < 0 {
			jsonError(w, http.StatusBadRequest, "low_stock_threshold must not be negative")
			return
		}
		if err := store.PutSetting(r.Context(), h.DB, settingLowStockThreshold, strconv.Itoa(*req.LowStockThreshold)); err != nil {
			writeError(w, err, "failed to store settings")
			return
		}
		slog.Info("low stock threshold updated", "user", GetClaims(r.Context()).Username, "threshold", *req.LowStockThreshold)
	}
	h.Get(w, r)
}
