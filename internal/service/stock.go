package service

import (
	"context"
	"encoding/json"
	"time"

	"autodelivery-api/internal/cache"
	"autodelivery-api/internal/model"
	"autodelivery-api/internal/repository"

	"go.uber.org/zap"
)

// StockConfig holds stock monitor settings.
type StockConfig struct {
	LowThreshold int
	CacheTTL     time.Duration
}

// StockMonitor derives availability views from the pool. Reads may be served
// from cache for up to CacheTTL; every write path invalidates its scope.
type StockMonitor struct {
	repo   repository.FulfillmentRepository
	cache  cache.Cache
	config StockConfig
	logger *zap.Logger
}

type stockCounts struct {
	Available int `json:"a"`
	Assigned  int `json:"s"`
}

// NewStockMonitor creates a stock monitor. c may be nil to disable caching.
func NewStockMonitor(repo repository.FulfillmentRepository, c cache.Cache, config StockConfig, logger *zap.Logger) *StockMonitor {
	if config.LowThreshold < 0 {
		config.LowThreshold = model.DefaultLowStockThreshold
	}
	return &StockMonitor{
		repo:   repo,
		cache:  c,
		config: config,
		logger: logger.Named("stock"),
	}
}

// LowThreshold returns the configured low-stock threshold.
func (m *StockMonitor) LowThreshold() int {
	return m.config.LowThreshold
}

func stockKey(scope model.Scope) string {
	return "stock:" + scope.String()
}

// GetStock returns the stock view of a scope, read through the cache.
func (m *StockMonitor) GetStock(ctx context.Context, scope model.Scope) (model.Stock, error) {
	if _, err := model.ParseItemType(string(scope.ItemType)); err != nil {
		return model.Stock{}, err
	}
	if m.cache == nil || m.config.CacheTTL <= 0 {
		return m.FreshStock(ctx, scope)
	}

	raw, err := m.cache.GetOrSet(ctx, stockKey(scope), m.config.CacheTTL, func() ([]byte, error) {
		available, assigned, err := m.repo.CountStock(ctx, scope)
		if err != nil {
			return nil, err
		}
		return json.Marshal(stockCounts{Available: available, Assigned: assigned})
	})
	if err != nil {
		return model.Stock{}, err
	}

	var counts stockCounts
	if err := json.Unmarshal(raw, &counts); err != nil {
		m.logger.Warn("Discarding unreadable stock cache entry", zap.String("scope", scope.String()), zap.Error(err))
		m.Invalidate(ctx, scope)
		return m.FreshStock(ctx, scope)
	}
	return model.NewStock(scope, counts.Available, counts.Assigned, m.config.LowThreshold), nil
}

// FreshStock reads the scope's counts straight from storage.
func (m *StockMonitor) FreshStock(ctx context.Context, scope model.Scope) (model.Stock, error) {
	available, assigned, err := m.repo.CountStock(ctx, scope)
	if err != nil {
		return model.Stock{}, err
	}
	return model.NewStock(scope, available, assigned, m.config.LowThreshold), nil
}

// ListStock returns fresh views of every scope that has items.
func (m *StockMonitor) ListStock(ctx context.Context) ([]model.Stock, error) {
	counts, err := m.repo.ListStock(ctx)
	if err != nil {
		return nil, err
	}

	stocks := make([]model.Stock, 0, len(counts))
	for _, c := range counts {
		stocks = append(stocks, model.NewStock(c.Scope, c.Available, c.Assigned, m.config.LowThreshold))
	}
	return stocks, nil
}

// Invalidate drops the cached view of a scope. Failures are logged only.
func (m *StockMonitor) Invalidate(ctx context.Context, scope model.Scope) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Delete(ctx, stockKey(scope)); err != nil {
		m.logger.Warn("Failed to invalidate stock cache", zap.String("scope", scope.String()), zap.Error(err))
	}
}
