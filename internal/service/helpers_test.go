package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"autodelivery-api/internal/cache"
	"autodelivery-api/internal/events"
	"autodelivery-api/internal/metrics"
	"autodelivery-api/internal/model"
	"autodelivery-api/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fakeCatalog struct {
	products map[string]*model.ProductInfo
	err      error
}

func (c *fakeCatalog) GetProduct(_ context.Context, productID string) (*model.ProductInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	info, ok := c.products[productID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return info, nil
}

type fixture struct {
	repo      *repository.SQLiteFulfillmentRepository
	cache     *cache.MemoryCache
	publisher *recordingPublisher
	metrics   *metrics.Metrics
	stock     *StockMonitor
	pool      *PoolService
	engine    *AllocationEngine
	delivery  *DeliveryService
}

func newFixture(t *testing.T, catalog repository.ProductCatalog) *fixture {
	t.Helper()

	repo, err := repository.NewSQLiteFulfillmentRepository(filepath.Join(t.TempDir(), "svc.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	c := cache.NewMemoryCache()
	t.Cleanup(func() { c.Close() })

	f := &fixture{
		repo:      repo,
		cache:     c,
		publisher: &recordingPublisher{},
		metrics:   metrics.New(),
	}
	log := zap.NewNop()
	f.stock = NewStockMonitor(repo, c, StockConfig{LowThreshold: model.DefaultLowStockThreshold, CacheTTL: time.Minute}, log)
	f.pool = NewPoolService(repo, catalog, f.stock, f.metrics, PoolConfig{MaxImportLines: 100}, log)
	f.engine = NewAllocationEngine(repo, catalog, f.stock, f.publisher, f.metrics, EngineConfig{RetryBaseDelay: time.Millisecond}, log)
	f.delivery = NewDeliveryService(repo, catalog, f.metrics, log)
	return f
}

func (f *fixture) seedAccounts(t *testing.T, productID string, n int) []model.PoolItem {
	t.Helper()

	var text string
	for i := 0; i < n; i++ {
		text += fmt.Sprintf("user%d@example.com:pass%d\n", i, i)
	}
	res, err := f.pool.Import(context.Background(), "seller-1", accountScope(productID), text)
	require.NoError(t, err)
	require.Equal(t, n, res.Created)

	items, err := f.repo.ListItems(context.Background(), accountScope(productID))
	require.NoError(t, err)
	return items
}

func accountScope(productID string) model.Scope {
	return model.Scope{ProductID: productID, ItemType: model.ItemTypeAccount}
}

func accountClaim(orderID, buyerID, productID string) model.ClaimRequest {
	return model.ClaimRequest{OrderID: orderID, BuyerID: buyerID, ProductID: productID, ItemType: model.ItemTypeAccount}
}
