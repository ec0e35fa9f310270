package api

import (
	"bytes"
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/erazemk/popis/internal/imaging"
	"github.com/erazemk/popis/internal/model"
	"github.com/erazemk/popis/internal/store"
)

// ItemsHandler handles item CRUD, images and stock corrections.
type ItemsHandler struct {
	DB       *sql.DB
	Settings *SettingsHandler
}

type adjustRequest struct {
	Quantity *int   `json:"quantity"`
	Reason   string `json:"reason"`
}

type adjustResponse struct {
	Item       *model.Item       `json:"item"`
	Adjustment *model.Adjustment `json:"adjustment"`
}

// List handles GET /api/items.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lowStock, _ := strconv.ParseBool(q.Get("low_stock"))
	h.list(w, r, model.ItemFilter{
		Category: q.Get("category"),
		Search:   q.Get("q"),
		LowStock: lowStock,
	})
}

// LowStock handles GET /api/items/low-stock.
func (h *ItemsHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, model.ItemFilter{LowStock: true})
}

func (h *ItemsHandler) list(w http.ResponseWriter, r *http.Request, f model.ItemFilter) {
	f.Threshold = h.Settings.LowStockThreshold(r.Context())
	items, err := store.ListItems(r.Context(), h.DB, f)
	if err != nil {
		writeError(w, err, "failed to list items")
		return
	}
	jsonResponse(w, http.StatusOK, items)
}

// Categories handles GET /api/items/categories.
func (h *ItemsHandler) Categories(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, model.Categories)
}

// Create handles POST /api/items.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.ItemInput
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims := GetClaims(r.Context())
	item, err := store.CreateItem(r.Context(), h.DB, req, &claims.UserID)
	if err != nil {
		writeError(w, err, "failed to create item")
		return
	}
	item.MarkLowStock(h.Settings.LowStockThreshold(r.Context()))

	slog.Info("item created", "user", claims.Username, "item", item.Name)
	jsonResponse(w, http.StatusCreated, item)
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	item, err := store.GetItem(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, err, "failed to get item")
		return
	}
	if item == nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}
	item.MarkLowStock(h.Settings.LowStockThreshold(r.Context()))
	jsonResponse(w, http.StatusOK, item)
}

// Update handles PUT /api/items/{id}.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var req model.ItemInput
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := store.UpdateItem(r.Context(), h.DB, id, req); err != nil {
		writeError(w, err, "failed to update item")
		return
	}

	h.Get(w, r)
}

// Delete handles DELETE /api/items/{id}.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	if err := store.DeleteItem(r.Context(), h.DB, id); err != nil {
		writeError(w, err, "failed to delete item")
		return
	}

	slog.Info("item deleted", "user", GetClaims(r.Context()).Username, "item_id", id)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "item deleted"})
}

// Adjust handles POST /api/items/{id}/adjust.
func (h *ItemsHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var req adjustRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Quantity == nil {
		jsonError(w, http.StatusBadRequest, "quantity required")
		return
	}

	claims := GetClaims(r.Context())
	adj, err := store.AdjustStock(r.Context(), h.DB, id, *req.Quantity, req.Reason, &claims.UserID)
	if err != nil {
		writeError(w, err, "failed to adjust stock")
		return
	}

	item, err := store.GetItem(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, err, "failed to get item")
		return
	}
	item.MarkLowStock(h.Settings.LowStockThreshold(r.Context()))

	if adj != nil {
		slog.Info("stock adjusted", "user", claims.Username, "item", item.Name,
			"from", adj.PreviousQuantity, "to", adj.NewQuantity)
	}
	jsonResponse(w, http.StatusOK, adjustResponse{Item: item, Adjustment: adj})
}

// UploadImage handles PUT /api/items/{id}/image. The photo is re-encoded
// and downscaled before it is stored.
func (h *ItemsHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	maxBytes := imaging.PhotoOptions.MaxBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	photo, err := imaging.Process(file, imaging.PhotoOptions)
	if err != nil {
		writeError(w, err, "failed to process image")
		return
	}

	if err := store.SetItemImage(r.Context(), h.DB, id, photo.Data, imaging.MIME); err != nil {
		writeError(w, err, "failed to save image")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"message": "image uploaded",
		"width":   photo.Width,
		"height":  photo.Height,
	})
}

// GetImage handles GET /api/items/{id}/image. ?size=thumb returns a small
// rendition for lists.
func (h *ItemsHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	data, mime, err := store.GetItemImage(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, err, "failed to get image")
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "no image")
		return
	}

	if r.URL.Query().Get("size") == "thumb" {
		thumb, err := imaging.Process(bytes.NewReader(data), imaging.ThumbnailOptions)
		if err != nil {
			writeError(w, err, "failed to create thumbnail")
			return
		}
		data, mime = thumb.Data, imaging.MIME
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}

// GetHistory handles GET /api/items/{id}/history.
func (h *ItemsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	history, err := store.ListAdjustments(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, err, "failed to get item history")
		return
	}
	jsonResponse(w, http.StatusOK, history)
}
