package handler

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"autodelivery-api/internal/model"
	"autodelivery-api/internal/service"
	"autodelivery-api/pkg/apierror"
	"autodelivery-api/pkg/response"

	"github.com/go-chi/chi/v5"
)

// PoolHandler serves the seller's pool management endpoints.
type PoolHandler struct {
	pool         *service.PoolService
	maxBodyBytes int64
}

// NewPoolHandler creates a new pool handler.
func NewPoolHandler(pool *service.PoolService, maxBodyBytes int64) *PoolHandler {
	return &PoolHandler{pool: pool, maxBodyBytes: maxBodyBytes}
}

// ImportRequest is the JSON form of a bulk import.
type ImportRequest struct {
	Text string `json:"text"`
}

func scopeFromURL(r *http.Request) (model.Scope, error) {
	itemType, err := model.ParseItemType(chi.URLParam(r, "item_type"))
	if err != nil {
		return model.Scope{}, err
	}
	return model.Scope{ProductID: chi.URLParam(r, "product_id"), ItemType: itemType}, nil
}

// AddItem handles POST /api/v1/products/{product_id}/pool/{item_type}/items
func (h *PoolHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := requireSeller(w, r)
	if !ok {
		return
	}
	scope, err := scopeFromURL(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var payload model.Payload
	if apiErr := decodeJSON(w, r, h.maxBodyBytes, &payload); apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	item, err := h.pool.AddItem(r.Context(), sellerID, scope, payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, item)
}

// Import handles POST /api/v1/products/{product_id}/pool/{item_type}/import
//
// The body is either the pasted text itself or, with a JSON content type,
// an ImportRequest.
func (h *PoolHandler) Import(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := requireSeller(w, r)
	if !ok {
		return
	}
	scope, err := scopeFromURL(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var text string
	if isJSON(r) {
		var req ImportRequest
		if apiErr := decodeJSON(w, r, h.maxBodyBytes, &req); apiErr != nil {
			response.Error(w, apiErr)
			return
		}
		text = req.Text
	} else {
		if h.maxBodyBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
		}
		body, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, apierror.PayloadTooLarge("request body too large"))
				return
			}
			response.Error(w, apierror.BadRequest("failed to read request body"))
			return
		}
		text = string(body)
	}

	result, err := h.pool.Import(r.Context(), sellerID, scope, text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, result)
}

// ListItems handles GET /api/v1/products/{product_id}/pool/{item_type}/items
func (h *PoolHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := requireSeller(w, r)
	if !ok {
		return
	}
	scope, err := scopeFromURL(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items, err := h.pool.ListItems(r.Context(), sellerID, scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []model.PoolItem{}
	}
	response.List(w, items, len(items))
}

// GetStock handles GET /api/v1/products/{product_id}/pool/{item_type}/stock
func (h *PoolHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := requireSeller(w, r)
	if !ok {
		return
	}
	scope, err := scopeFromURL(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	stock, err := h.pool.Stock(r.Context(), sellerID, scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, stock)
}

// DeleteItem handles DELETE /api/v1/pool/items/{item_id}
func (h *PoolHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := requireSeller(w, r)
	if !ok {
		return
	}

	if err := h.pool.DeleteItem(r.Context(), sellerID, chi.URLParam(r, "item_id")); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}
