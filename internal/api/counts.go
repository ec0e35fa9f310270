package api

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/erazemk/popis/internal/count"
	"github.com/erazemk/popis/internal/model"
	"github.com/erazemk/popis/internal/store"
)

// CountsHandler handles the count lifecycle endpoints. Staff only ever see
// their own counts.
type CountsHandler struct {
	DB  *sql.DB
	Now func() time.Time
}

type submitRequest struct {
	Notes string `json:"notes"`
}

type approveRequest struct {
	ApplyToStock *bool `json:"apply_to_stock"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type updateLineRequest struct {
	ActualQuantity *int    `json:"actual_quantity"`
	Notes          *string `json:"notes"`
}

const maxListLimit = 500

var (
	errInvalidDate   = fmt.Errorf("%w: dates must be formatted as YYYY-MM-DD", model.ErrValidation)
	errInvalidPaging = fmt.Errorf("%w: invalid limit or offset", model.ErrValidation)
)

func (h *CountsHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

// filter reads the list query parameters. Staff are pinned to their own
// counts whatever they ask for.
func (h *CountsHandler) filter(r *http.Request) (model.CountFilter, error) {
	q := r.URL.Query()
	f := model.CountFilter{
		Search: q.Get("q"),
		From:   q.Get("from"),
		To:     q.Get("to"),
	}
	if s := q.Get("status"); s != "" {
		status, err := model.ParseStatus(s)
		if err != nil {
			return f, err
		}
		f.Status = status
	}
	for _, d := range []string{f.From, f.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(model.DateLayout, d); err != nil {
			return f, errInvalidDate
		}
	}

	var err error
	if f.Limit, err = queryInt(r, "limit", 0); err != nil || f.Limit < 0 || f.Limit > maxListLimit {
		return f, errInvalidPaging
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil || f.Offset < 0 {
		return f, errInvalidPaging
	}

	if actor := actorFrom(r); !model.CanReview(actor.Role) {
		f.CreatedBy = actor.UserID
	}
	return f, nil
}

// List handles GET /api/counts.
func (h *CountsHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := h.filter(r)
	if err != nil {
		writeError(w, err, "invalid filter")
		return
	}

	counts, err := store.ListCounts(r.Context(), h.DB, f)
	if err != nil {
		writeError(w, err, "failed to list counts")
		return
	}
	jsonResponse(w, http.StatusOK, counts)
}

// Stats handles GET /api/counts/stats.
func (h *CountsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var createdBy int64
	if actor := actorFrom(r); !model.CanReview(actor.Role) {
		createdBy = actor.UserID
	}

	stats, err := store.GetCountStats(r.Context(), h.DB, createdBy)
	if err != nil {
		writeError(w, err, "failed to get count stats")
		return
	}
	jsonResponse(w, http.StatusOK, stats)
}

// Create handles POST /api/counts.
func (h *CountsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CountInput
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	actor := actorFrom(r)
	c, err := store.CreateCount(r.Context(), h.DB, actor, req, h.now())
	if err != nil {
		writeError(w, err, "failed to create count")
		return
	}

	slog.Info("count created", "user", GetClaims(r.Context()).Username, "count_id", c.ID,
		"date", c.CountDate, "items", c.ItemCount)
	jsonResponse(w, http.StatusCreated, c)
}

// Get handles GET /api/counts/{id}.
func (h *CountsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid count id")
		return
	}

	c, err := store.GetCount(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, err, "failed to get count")
		return
	}
	if c == nil {
		jsonError(w, http.StatusNotFound, "count not found")
		return
	}
	if !count.CanView(c, actorFrom(r)) {
		jsonError(w, http.StatusForbidden, "not allowed to view this count")
		return
	}
	jsonResponse(w, http.StatusOK, c)
}

// Delete handles DELETE /api/counts/{id}.
func (h *CountsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid count id")
		return
	}

	if err := store.DeleteCount(r.Context(), h.DB, id, actorFrom(r)); err != nil {
		writeError(w, err, "failed to delete count")
		return
	}

	slog.Info("count deleted", "user", GetClaims(r.Context()).Username, "count_id", id)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "count deleted"})
}

// AddItem handles POST /api/counts/{id}/items.
func (h *CountsHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid count id")
		return
	}

	var req model.CountLineInput
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := store.AddCountLine(r.Context(), h.DB, id, actorFrom(r), req, h.now())
	if err != nil {
		writeError(w, err, "failed to add count item")
		return
	}
	jsonResponse(w, http.StatusOK, c)
}

// UpdateItem handles PUT /api/counts/{id}/items/{itemID}.
func (h *CountsHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid count id")
		return
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var req updateLineRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	upd := count.LineUpdate{ActualQuantity: req.ActualQuantity, Notes: req.Notes}
	c, err := store.UpdateCountLine(r.Context(), h.DB, id, itemID, actorFrom(r), upd, h.now())
	if err != nil {
		writeError(w, err, "failed to update count item")
		return
	}
	jsonResponse(w, http.StatusOK, c)
}

// RemoveItem handles DELETE /api/counts/{id}/items/{itemID}.
func (h *CountsHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid count id")
		return
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	c, err := store.RemoveCountLine(r.Context(), h.DB, id, itemID, actorFrom(r), h.now())
	if err != nil {
		writeError(w, err, "failed to remove count item")
		return
	}
	jsonResponse(w, http.StatusOK, c)
}

// Submit handles POST /api/counts/{id}/submit. The body is optional.
func (h *CountsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid count id")
		return
	}

	var req submitRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			jsonError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	c, err := store.SubmitCount(r.Context(), h.DB, id, actorFrom(r), req.Notes, h.now())
	if err != nil {
		writeError(w, err, "failed to submit count")
		return
	}

	slog.Info("count submitted", "user", GetClaims(r.Context()).Username, "count_id", id)
	jsonResponse(w, http.StatusOK, c)
}

// Approve handles POST /api/counts/{id}/approve. Stock is updated from the
// counted quantities unless apply_to_stock is false.
func (h *CountsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid count id")
		return
	}

	var req approveRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			jsonError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	apply := req.ApplyToStock == nil || *req.ApplyToStock

	c, err := store.ApproveCount(r.Context(), h.DB, id, actorFrom(r), apply, h.now())
	if err != nil {
		writeError(w, err, "failed to approve count")
		return
	}

	slog.Info("count approved", "user", GetClaims(r.Context()).Username, "count_id", id,
		"applied_to_stock", apply, "total_discrepancy", c.TotalDiscrepancy)
	jsonResponse(w, http.StatusOK, c)
}

// Reject handles POST /api/counts/{id}/reject.
func (h *CountsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid count id")
		return
	}

	var req rejectRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := store.RejectCount(r.Context(), h.DB, id, actorFrom(r), req.Reason, h.now())
	if err != nil {
		writeError(w, err, "failed to reject count")
		return
	}

	slog.Info("count rejected", "user", GetClaims(r.Context()).Username, "count_id", id)
	jsonResponse(w, http.StatusOK, c)
}
