package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"autodelivery-api/pkg/apierror"
	"autodelivery-api/pkg/response"
)

const (
	sellerIDKey contextKey = "seller_id"
	buyerIDKey  contextKey = "buyer_id"
	adminKey    contextKey = "admin"
)

// Identity headers asserted by the marketplace gateway.
const (
	HeaderAPIKey   = "X-API-Key"
	HeaderSellerID = "X-Seller-ID"
	HeaderBuyerID  = "X-Buyer-ID"
)

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	APIKeys []string
	// AdminKeys authenticate like APIKeys and also unlock RequireAdmin routes.
	AdminKeys []string
	// PublicPaths bypass the key check.
	PublicPaths []string
}

// NewAuthMiddleware authenticates service callers by API key and stores the
// acting seller and buyer identities in the request context.
// With no keys configured every caller is accepted and treated as admin.
func NewAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	open := len(cfg.APIKeys) == 0 && len(cfg.AdminKeys) == 0

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if open {
				ctx = context.WithValue(ctx, adminKey, true)
			} else if !isPublic(r.URL.Path, cfg.PublicPaths) {
				apiKey := r.Header.Get(HeaderAPIKey)
				if apiKey == "" {
					auth := r.Header.Get("Authorization")
					if strings.HasPrefix(auth, "Bearer ") {
						apiKey = strings.TrimPrefix(auth, "Bearer ")
					}
				}

				if apiKey == "" {
					response.Error(w, apierror.Unauthorized("Authentication required. Use the X-API-Key header."))
					return
				}
				admin := isValidKey(apiKey, cfg.AdminKeys)
				if !admin && !isValidKey(apiKey, cfg.APIKeys) {
					response.Error(w, apierror.Unauthorized("Invalid API key"))
					return
				}
				ctx = context.WithValue(ctx, adminKey, admin)
			}

			if seller := strings.TrimSpace(r.Header.Get(HeaderSellerID)); seller != "" {
				ctx = context.WithValue(ctx, sellerIDKey, seller)
			}
			if buyer := strings.TrimSpace(r.Header.Get(HeaderBuyerID)); buyer != "" {
				ctx = context.WithValue(ctx, buyerIDKey, buyer)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects callers that did not authenticate with an admin key.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAdmin(r.Context()) {
			response.Error(w, apierror.Forbidden("Admin API key required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IsAdmin reports whether the request authenticated with an admin key.
func IsAdmin(ctx context.Context) bool {
	admin, _ := ctx.Value(adminKey).(bool)
	return admin
}

func isPublic(path string, public []string) bool {
	for _, p := range public {
		if path == p {
			return true
		}
	}
	return false
}

// isValidKey checks if the provided key is in the valid keys list.
func isValidKey(key string, validKeys []string) bool {
	for _, valid := range validKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}

// SellerID returns the acting seller asserted for the request, or "".
func SellerID(ctx context.Context) string {
	id, _ := ctx.Value(sellerIDKey).(string)
	return id
}

// BuyerID returns the acting buyer asserted for the request, or "".
func BuyerID(ctx context.Context) string {
	id, _ := ctx.Value(buyerIDKey).(string)
	return id
}
