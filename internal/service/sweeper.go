package service

import (
	"context"
	"sync"
	"time"

	"autodelivery-api/internal/events"
	"autodelivery-api/internal/metrics"
	"autodelivery-api/internal/model"

	"go.uber.org/zap"
)

// SweeperConfig holds configuration for the stock sweeper.
type SweeperConfig struct {
	// Interval is how often every scope is re-read.
	// Default: 1 minute
	Interval time.Duration

	// InitialDelay postpones the first sweep after Start.
	InitialDelay time.Duration
}

// StockSweeper periodically re-reads every scope and publishes a low or out
// alert when a scope's level changes. Alerts raised by claims cover the hot
// path; the sweeper catches imports, deletions and missed notifications.
type StockSweeper struct {
	monitor   *StockMonitor
	publisher events.Publisher
	metrics   *metrics.Metrics
	config    SweeperConfig
	logger    *zap.Logger

	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex

	sweepMu sync.Mutex
	levels  map[model.Scope]model.StockLevel
}

// NewStockSweeper creates a new stock sweeper.
func NewStockSweeper(monitor *StockMonitor, publisher events.Publisher, m *metrics.Metrics, config SweeperConfig, logger *zap.Logger) *StockSweeper {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &StockSweeper{
		monitor:   monitor,
		publisher: publisher,
		metrics:   m,
		config:    config,
		logger:    logger.Named("sweeper"),
		stopCh:    make(chan struct{}),
		levels:    make(map[model.Scope]model.StockLevel),
	}
}

// Start begins the sweep loop.
func (s *StockSweeper) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	s.logger.Info("Stock sweeper started", zap.Duration("interval", s.config.Interval))

	go func() {
		select {
		case <-time.After(s.config.InitialDelay):
			s.sweep()
		case <-s.stopCh:
			return
		}
		s.run()
	}()
}

func (s *StockSweeper) run() {
	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stopCh:
			s.logger.Info("Stock sweeper stopped")
			return
		}
	}
}

func (s *StockSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Interval)
	defer cancel()

	if _, err := s.RunNow(ctx); err != nil {
		s.logger.Error("Stock sweep failed", zap.Error(err))
	}
}

// Stop stops the sweep loop.
func (s *StockSweeper) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
	})
}

// RunNow sweeps immediately and returns the number of alerts published.
func (s *StockSweeper) RunNow(ctx context.Context) (int, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	stocks, err := s.monitor.ListStock(ctx)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, stock := range stocks {
		scope := model.Scope{ProductID: stock.ProductID, ItemType: stock.ItemType}
		s.metrics.SetStockAvailable(stock.ProductID, string(stock.ItemType), stock.Available)

		level := stock.Level()
		prev, seen := s.levels[scope]
		s.levels[scope] = level
		if level == model.StockLevelOK || (seen && prev == level) {
			continue
		}

		alert, _ := events.StockAlert(stock)
		if err := s.publisher.Publish(ctx, alert); err != nil {
			s.logger.Warn("Failed to publish stock alert", zap.String("scope", scope.String()), zap.Error(err))
			// Retry on the next sweep.
			delete(s.levels, scope)
			continue
		}
		published++
	}

	if published > 0 {
		s.logger.Info("Stock alerts published", zap.Int("alerts", published), zap.Int("scopes", len(stocks)))
	}
	return published, nil
}
