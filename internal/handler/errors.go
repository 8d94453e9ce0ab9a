package handler

import (
	"errors"
	"net/http"

	"autodelivery-api/internal/importer"
	"autodelivery-api/internal/logger"
	"autodelivery-api/internal/middleware"
	"autodelivery-api/internal/model"
	"autodelivery-api/pkg/apierror"
	"autodelivery-api/pkg/response"

	"go.uber.org/zap"
)

// toAPIError maps domain errors onto the API error envelope.
func toAPIError(err error) *apierror.Error {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		details := make([]apierror.FieldError, 0, len(ve.Fields))
		for _, f := range ve.Fields {
			details = append(details, apierror.FieldError{Field: f.Field, Message: f.Message})
		}
		return apierror.ValidationError(ve.Message, details...)
	case errors.Is(err, importer.ErrTooManyLines):
		return apierror.ValidationError(err.Error(), apierror.FieldError{Field: "text", Message: "too many lines"})
	case errors.Is(err, model.ErrImmutableRecord):
		return apierror.ImmutableRecord("record is assigned or delivered and cannot be changed")
	case errors.Is(err, model.ErrNotFound):
		return apierror.NotFound("")
	case errors.Is(err, model.ErrForbidden):
		return apierror.Forbidden("")
	}

	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return apierror.InternalError("")
}

// writeError logs unexpected failures and writes the mapped error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", zap.Error(err))
	}
	response.Error(w, apiErr)
}

func requireSeller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := middleware.SellerID(r.Context())
	if id == "" {
		response.Error(w, apierror.Unauthorized("X-Seller-ID header is required"))
		return "", false
	}
	return id, true
}

func requireBuyer(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := middleware.BuyerID(r.Context())
	if id == "" {
		response.Error(w, apierror.Unauthorized("X-Buyer-ID header is required"))
		return "", false
	}
	return id, true
}
