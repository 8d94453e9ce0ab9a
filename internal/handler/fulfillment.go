package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"autodelivery-api/internal/model"
	"autodelivery-api/internal/service"
	"autodelivery-api/pkg/apierror"
	"autodelivery-api/pkg/response"
)

// FulfillmentHandler serves the order subsystem's claim calls.
type FulfillmentHandler struct {
	engine       *service.AllocationEngine
	maxBodyBytes int64
}

// NewFulfillmentHandler creates a new fulfillment handler.
func NewFulfillmentHandler(engine *service.AllocationEngine, maxBodyBytes int64) *FulfillmentHandler {
	return &FulfillmentHandler{engine: engine, maxBodyBytes: maxBodyBytes}
}

// Claim handles POST /api/v1/fulfillment/claims
//
// A delivered claim answers 200, an out-of-stock claim answers 202 so the
// caller routes the order to manual fulfillment. Credentials in the returned
// delivery are masked; the buyer reveals them through the delivery endpoints.
func (h *FulfillmentHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req model.ClaimRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		response.Error(w, err)
		return
	}

	result, err := h.engine.Claim(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if result.OutOfStock() {
		response.Accepted(w, result)
		return
	}

	shown := *result
	if result.Delivery != nil {
		d := *result.Delivery
		d.DeliveredData = service.MaskPayload(d.DeliveredData)
		shown.Delivery = &d
	}
	response.OK(w, shown)
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst interface{}) *apierror.Error {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apierror.PayloadTooLarge("request body too large")
		}
		return apierror.BadRequest("invalid JSON")
	}
	return nil
}
