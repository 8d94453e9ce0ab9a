package router

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"autodelivery-api/internal/cache"
	"autodelivery-api/internal/events"
	"autodelivery-api/internal/handler"
	"autodelivery-api/internal/metrics"
	"autodelivery-api/internal/middleware"
	"autodelivery-api/internal/model"
	"autodelivery-api/internal/repository"
	"autodelivery-api/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testKey  = "test-key"
	adminKey = "admin-key"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    *struct {
		Total int `json:"total"`
	} `json:"meta"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details []struct {
			Field string `json:"field"`
		} `json:"details"`
	} `json:"error"`
}

type stack struct {
	mux    *chi.Mux
	engine *service.AllocationEngine
}

func newStack(t *testing.T) *stack {
	t.Helper()

	log := zap.NewNop()
	repo, err := repository.NewSQLiteFulfillmentRepository(filepath.Join(t.TempDir(), "http.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	c := cache.NewMemoryCache()
	t.Cleanup(func() { c.Close() })

	m := metrics.New()
	stock := service.NewStockMonitor(repo, c, service.StockConfig{LowThreshold: 5, CacheTTL: time.Minute}, log)
	pool := service.NewPoolService(repo, nil, stock, m, service.PoolConfig{MaxImportLines: 100}, log)
	engine := service.NewAllocationEngine(repo, nil, stock, events.NopPublisher{}, m, service.EngineConfig{}, log)
	deliveries := service.NewDeliveryService(repo, nil, m, log)
	sweeper := service.NewStockSweeper(stock, events.NopPublisher{}, m, service.SweeperConfig{}, log)

	mux := New(Config{
		Logger:             log,
		Metrics:            m,
		Handler:            handler.New("autodelivery-api", "test", repo),
		FulfillmentHandler: handler.NewFulfillmentHandler(engine, 1024),
		PoolHandler:        handler.NewPoolHandler(pool, 1024),
		DeliveryHandler:    handler.NewDeliveryHandler(deliveries),
		AdminHandler:       handler.NewAdminHandler(repo, stock, sweeper, "sqlite"),
		AuthMiddleware: middleware.NewAuthMiddleware(middleware.AuthConfig{
			APIKeys:   []string{testKey},
			AdminKeys: []string{adminKey},
		}),
		AdminMiddleware: middleware.RequireAdmin,
	})
	return &stack{mux: mux, engine: engine}
}

type call struct {
	method      string
	path        string
	body        string
	contentType string
	seller      string
	buyer       string
	key         string
	noKey       bool
}

func (s *stack) do(t *testing.T, c call) (int, envelope) {
	t.Helper()

	var body io.Reader
	if c.body != "" {
		body = strings.NewReader(c.body)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.contentType != "" {
		req.Header.Set("Content-Type", c.contentType)
	}
	if !c.noKey {
		key := c.key
		if key == "" {
			key = testKey
		}
		req.Header.Set(middleware.HeaderAPIKey, key)
	}
	if c.seller != "" {
		req.Header.Set(middleware.HeaderSellerID, c.seller)
	}
	if c.buyer != "" {
		req.Header.Set(middleware.HeaderBuyerID, c.buyer)
	}

	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

const poolPath = "/api/v1/products/prod-1/pool/account"

func (s *stack) importAccounts(t *testing.T, text string) model.ImportResult {
	t.Helper()
	code, env := s.do(t, call{method: http.MethodPost, path: poolPath + "/import", body: text, contentType: "text/plain", seller: "seller-1"})
	require.Equal(t, http.StatusOK, code)
	return decode[model.ImportResult](t, env)
}

func (s *stack) claim(t *testing.T, orderID, buyerID string) (int, model.ClaimResult) {
	t.Helper()
	body := `{"order_id":"` + orderID + `","buyer_id":"` + buyerID + `","product_id":"prod-1","item_type":"account"}`
	code, env := s.do(t, call{method: http.MethodPost, path: "/api/v1/fulfillment/claims", body: body, contentType: "application/json"})
	s.engine.Wait()
	if code >= 400 {
		return code, model.ClaimResult{}
	}
	return code, decode[model.ClaimResult](t, env)
}

func TestPublicRoutes(t *testing.T) {
	s := newStack(t)

	code, env := s.do(t, call{method: http.MethodGet, path: "/api/v1/health", noKey: true})
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	code, env = s.do(t, call{method: http.MethodGet, path: "/api/v1/ready", noKey: true})
	assert.Equal(t, http.StatusOK, code)
	ready := decode[handler.ReadyResponse](t, env)
	assert.True(t, ready.Ready)

	code, _ = s.do(t, call{method: http.MethodGet, path: "/api/status", noKey: true})
	assert.Equal(t, http.StatusOK, code)

	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "autodelivery_http_requests_total")
}

func TestAuthRequired(t *testing.T) {
	s := newStack(t)

	code, env := s.do(t, call{method: http.MethodGet, path: poolPath + "/items", seller: "seller-1", noKey: true})
	assert.Equal(t, http.StatusUnauthorized, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	code, env = s.do(t, call{method: http.MethodGet, path: poolPath + "/items"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Contains(t, env.Error.Message, "X-Seller-ID")
}

func TestPoolEndpoints(t *testing.T) {
	s := newStack(t)

	code, env := s.do(t, call{
		method: http.MethodPost, path: poolPath + "/items",
		body: `{"email":"a@x.com","password":"p1"}`, contentType: "application/json", seller: "seller-1",
	})
	require.Equal(t, http.StatusCreated, code)
	item := decode[model.PoolItem](t, env)
	assert.Equal(t, 0, item.DisplayOrder)
	assert.Equal(t, "seller-1", item.SellerID)

	code, env = s.do(t, call{
		method: http.MethodPost, path: poolPath + "/items",
		body: `{"email":"b@x.com"}`, contentType: "application/json", seller: "seller-1",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	require.NotEmpty(t, env.Error.Details)
	assert.Equal(t, "password", env.Error.Details[0].Field)

	res := s.importAccounts(t, "b@x.com:p2\nBADLINE\nc@x.com:p3")
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Skipped)

	code, env = s.do(t, call{
		method: http.MethodPost, path: poolPath + "/import",
		body: `{"text":"d@x.com|p4"}`, contentType: "application/json", seller: "seller-1",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, decode[model.ImportResult](t, env).Created)

	code, env = s.do(t, call{method: http.MethodGet, path: poolPath + "/items", seller: "seller-1"})
	require.Equal(t, http.StatusOK, code)
	items := decode[[]model.PoolItem](t, env)
	require.Len(t, items, 4)
	assert.Equal(t, 4, env.Meta.Total)
	assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com"},
		[]string{items[0].Payload.Email, items[1].Payload.Email, items[2].Payload.Email, items[3].Payload.Email})

	code, env = s.do(t, call{method: http.MethodGet, path: poolPath + "/stock", seller: "seller-1"})
	require.Equal(t, http.StatusOK, code)
	stock := decode[model.Stock](t, env)
	assert.Equal(t, 4, stock.Available)
	assert.Equal(t, 4, stock.Total)
	assert.True(t, stock.LowStock)

	code, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/products/prod-1/pool/voucher/items", seller: "seller-1"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestImportBodyLimits(t *testing.T) {
	s := newStack(t)

	code, env := s.do(t, call{
		method: http.MethodPost, path: poolPath + "/import",
		body: strings.Repeat("x", 2048), contentType: "text/plain", seller: "seller-1",
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", env.Error.Code)

	code, env = s.do(t, call{
		method: http.MethodPost, path: poolPath + "/import",
		body: strings.Repeat("a\n", 101), contentType: "text/plain", seller: "seller-1",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestClaimFlow(t *testing.T) {
	s := newStack(t)
	s.importAccounts(t, "a@x.com:p1\nb@x.com:p2")

	code, first := s.claim(t, "order-1", "buyer-1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.ClaimStatusDelivered, first.Status)
	require.NotNil(t, first.Delivery)
	assert.Equal(t, "a***@x.com", first.Delivery.DeliveredData.Email)
	assert.Equal(t, "********", first.Delivery.DeliveredData.Password)

	code, replay := s.claim(t, "order-1", "buyer-1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, first.Delivery.ID, replay.Delivery.ID)

	code, _ = s.claim(t, "order-2", "buyer-2")
	require.Equal(t, http.StatusOK, code)

	code, pending := s.claim(t, "order-3", "buyer-3")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, model.ClaimStatusPendingManual, pending.Status)
	assert.Nil(t, pending.Delivery)

	code, _ = s.claim(t, "", "buyer-3")
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := s.do(t, call{method: http.MethodPost, path: "/api/v1/fulfillment/claims", body: "{", contentType: "application/json"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "BAD_REQUEST", env.Error.Code)
}

func TestDeliveryEndpoints(t *testing.T) {
	s := newStack(t)
	s.importAccounts(t, "alice@x.com:secret")

	_, claimed := s.claim(t, "order-1", "buyer-1")
	require.NotNil(t, claimed.Delivery)
	path := "/api/v1/deliveries/" + claimed.Delivery.ID

	code, env := s.do(t, call{method: http.MethodGet, path: path, buyer: "buyer-1"})
	require.Equal(t, http.StatusOK, code)
	masked := decode[model.DeliveredItem](t, env)
	assert.False(t, masked.IsRevealed)
	assert.Equal(t, "********", masked.DeliveredData.Password)

	code, _ = s.do(t, call{method: http.MethodGet, path: path, buyer: "buyer-2"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/deliveries/missing", buyer: "buyer-1"})
	assert.Equal(t, http.StatusNotFound, code)

	code, env = s.do(t, call{method: http.MethodPost, path: path + "/reveal", buyer: "buyer-1"})
	require.Equal(t, http.StatusOK, code)
	revealed := decode[model.DeliveredItem](t, env)
	assert.True(t, revealed.IsRevealed)
	assert.Equal(t, "secret", revealed.DeliveredData.Password)

	code, env = s.do(t, call{method: http.MethodGet, path: "/api/v1/buyers/me/deliveries", buyer: "buyer-1"})
	require.Equal(t, http.StatusOK, code)
	library := decode[[]model.DeliveredItem](t, env)
	require.Len(t, library, 1)
	assert.Equal(t, "secret", library[0].DeliveredData.Password)

	code, env = s.do(t, call{method: http.MethodGet, path: "/api/v1/products/prod-1/deliveries", seller: "seller-1"})
	require.Equal(t, http.StatusOK, code)
	audit := decode[[]model.DeliveredItem](t, env)
	require.Len(t, audit, 1)
	assert.True(t, audit[0].IsRevealed)
	assert.Equal(t, "********", audit[0].DeliveredData.Password)

	code, env = s.do(t, call{method: http.MethodDelete, path: "/api/v1/pool/items/" + claimed.Delivery.PoolItemID, seller: "seller-1"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "IMMUTABLE_RECORD", env.Error.Code)

	code, env = s.do(t, call{method: http.MethodDelete, path: "/api/v1/buyers/buyer-1/deliveries"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	code, env = s.do(t, call{method: http.MethodDelete, path: "/api/v1/buyers/buyer-1/deliveries", key: adminKey})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(1), decode[map[string]int64](t, env)["deleted"])

	code, _ = s.do(t, call{method: http.MethodGet, path: path, buyer: "buyer-1"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPoolOwnership(t *testing.T) {
	s := newStack(t)
	s.importAccounts(t, "alice@x.com:secret")

	code, env := s.do(t, call{method: http.MethodGet, path: poolPath + "/items", seller: "seller-2"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Nil(t, env.Data)

	code, _ = s.do(t, call{
		method: http.MethodPost, path: poolPath + "/import",
		body: "mallory@x.com:pw", contentType: "text/plain", seller: "seller-2",
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/products/prod-1/deliveries", seller: "seller-2"})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(t, call{method: http.MethodGet, path: poolPath + "/items", seller: "seller-1"})
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]model.PoolItem](t, env), 1)
}

func TestDeleteUnassignedItem(t *testing.T) {
	s := newStack(t)
	s.importAccounts(t, "a@x.com:p1")

	_, env := s.do(t, call{method: http.MethodGet, path: poolPath + "/items", seller: "seller-1"})
	items := decode[[]model.PoolItem](t, env)
	require.Len(t, items, 1)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/pool/items/"+items[0].ID, nil)
	req.Header.Set(middleware.HeaderAPIKey, testKey)
	req.Header.Set(middleware.HeaderSellerID, "seller-2")
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	req.Header.Set(middleware.HeaderSellerID, "seller-1")
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAdminEndpoints(t *testing.T) {
	s := newStack(t)
	s.importAccounts(t, "a@x.com:p1")

	for _, path := range []string{"/api/v1/admin/stats", "/api/v1/admin/stock", "/api/v1/admin/health"} {
		code, _ := s.do(t, call{method: http.MethodGet, path: path})
		assert.Equal(t, http.StatusForbidden, code, path)
	}
	code, _ := s.do(t, call{method: http.MethodPost, path: "/api/v1/admin/stock/sweep"})
	assert.Equal(t, http.StatusForbidden, code)

	code, env := s.do(t, call{method: http.MethodGet, path: "/api/v1/admin/stats", key: adminKey})
	require.Equal(t, http.StatusOK, code)
	stats := decode[map[string]interface{}](t, env)
	assert.Equal(t, "sqlite", stats["store_type"])
	assert.Contains(t, stats, "store")
	assert.Contains(t, stats, "stock")

	code, env = s.do(t, call{method: http.MethodGet, path: "/api/v1/admin/stock", key: adminKey})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, env.Meta.Total)

	code, env = s.do(t, call{method: http.MethodPost, path: "/api/v1/admin/stock/sweep", key: adminKey})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, decode[map[string]int](t, env)["alerts"])
}
