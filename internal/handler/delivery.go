package handler

import (
	"net/http"

	"autodelivery-api/internal/model"
	"autodelivery-api/internal/service"
	"autodelivery-api/pkg/response"

	"github.com/go-chi/chi/v5"
)

// DeliveryHandler serves delivered records to buyers, sellers and erasure jobs.
type DeliveryHandler struct {
	deliveries *service.DeliveryService
}

// NewDeliveryHandler creates a new delivery handler.
func NewDeliveryHandler(deliveries *service.DeliveryService) *DeliveryHandler {
	return &DeliveryHandler{deliveries: deliveries}
}

// Get handles GET /api/v1/deliveries/{delivery_id}
func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireBuyer(w, r)
	if !ok {
		return
	}

	d, err := h.deliveries.Get(r.Context(), chi.URLParam(r, "delivery_id"), buyerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, d)
}

// Reveal handles POST /api/v1/deliveries/{delivery_id}/reveal
func (h *DeliveryHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireBuyer(w, r)
	if !ok {
		return
	}

	d, err := h.deliveries.Reveal(r.Context(), chi.URLParam(r, "delivery_id"), buyerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, d)
}

// ListMine handles GET /api/v1/buyers/me/deliveries
func (h *DeliveryHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireBuyer(w, r)
	if !ok {
		return
	}

	list, err := h.deliveries.ListForBuyer(r.Context(), buyerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.DeliveredItem{}
	}
	response.List(w, list, len(list))
}

// ListForProduct handles GET /api/v1/products/{product_id}/deliveries
func (h *DeliveryHandler) ListForProduct(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := requireSeller(w, r)
	if !ok {
		return
	}

	list, err := h.deliveries.ListForProduct(r.Context(), sellerID, chi.URLParam(r, "product_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.DeliveredItem{}
	}
	response.List(w, list, len(list))
}

// EraseBuyer handles DELETE /api/v1/buyers/{buyer_id}/deliveries
func (h *DeliveryHandler) EraseBuyer(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.deliveries.EraseBuyer(r.Context(), chi.URLParam(r, "buyer_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, map[string]int64{"deleted": deleted})
}
