package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"autodelivery-api/internal/events"
	"autodelivery-api/internal/metrics"
	"autodelivery-api/internal/model"
	"autodelivery-api/internal/repository"

	"go.uber.org/zap"
)

// DefaultMaxClaimAttempts bounds the retries of a claim that hit a storage conflict.
const DefaultMaxClaimAttempts = 5

// EngineConfig holds allocation engine settings.
type EngineConfig struct {
	MaxAttempts    int
	RetryBaseDelay time.Duration
	PublishTimeout time.Duration
}

// AllocationEngine hands each paid order exactly one pool item.
type AllocationEngine struct {
	repo      repository.FulfillmentRepository
	catalog   repository.ProductCatalog
	stock     *StockMonitor
	publisher events.Publisher
	metrics   *metrics.Metrics
	config    EngineConfig
	logger    *zap.Logger

	// pending tracks notification goroutines so shutdown can drain them.
	pending sync.WaitGroup
}

// NewAllocationEngine creates the engine. catalog may be nil.
func NewAllocationEngine(
	repo repository.FulfillmentRepository,
	catalog repository.ProductCatalog,
	stock *StockMonitor,
	publisher events.Publisher,
	m *metrics.Metrics,
	config EngineConfig,
	logger *zap.Logger,
) *AllocationEngine {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxClaimAttempts
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = 10 * time.Millisecond
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 5 * time.Second
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &AllocationEngine{
		repo:      repo,
		catalog:   catalog,
		stock:     stock,
		publisher: publisher,
		metrics:   m,
		config:    config,
		logger:    logger.Named("allocation"),
	}
}

func validateClaim(req model.ClaimRequest) error {
	var fields []model.FieldError
	for _, f := range []struct{ name, value string }{
		{"order_id", req.OrderID},
		{"buyer_id", req.BuyerID},
		{"product_id", req.ProductID},
	} {
		if strings.TrimSpace(f.value) == "" {
			fields = append(fields, model.FieldError{Field: f.name, Message: "is required"})
		}
	}
	if len(fields) > 0 {
		return model.NewValidationError("invalid claim", fields...)
	}
	_, err := model.ParseItemType(string(req.ItemType))
	return err
}

// Claim delivers an item for the order, or reports pending_manual when the pool
// is exhausted. Calling it again for a delivered order returns the same record.
func (e *AllocationEngine) Claim(ctx context.Context, req model.ClaimRequest) (*model.ClaimResult, error) {
	start := time.Now()

	if err := validateClaim(req); err != nil {
		return nil, err
	}

	log := e.logger.With(
		zap.String("order_id", req.OrderID),
		zap.String("scope", req.Scope().String()),
	)

	existing, err := e.repo.GetDeliveryByOrder(ctx, req.OrderID)
	if err == nil {
		return e.replayed(existing, start, log), nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		e.metrics.ObserveClaim(metrics.OutcomeError, time.Since(start))
		return nil, fmt.Errorf("failed to check existing delivery: %w", err)
	}

	info := e.lookupProduct(ctx, req.ProductID, log)
	var guide string
	if info != nil {
		if info.DeliveryMode == model.DeliveryModeManual {
			return e.pendingManual(req, manualByMode, start, log), nil
		}
		// Paid orders are never rejected on catalog data.
		if t, ok := info.DeliveryMode.PoolItemType(); ok && t != req.ItemType {
			log.Warn("Claim item type does not match product delivery mode",
				zap.String("delivery_mode", string(info.DeliveryMode)),
				zap.String("expected_item_type", string(t)))
			return e.pendingManual(req, manualByMismatch, start, log), nil
		}
		guide = info.UsageGuide
	}

	for attempt := 1; ; attempt++ {
		claimed, err := e.repo.Claim(ctx, req, guide)
		switch {
		case err == nil:
			return e.delivered(ctx, claimed, start, log), nil

		case errors.Is(err, model.ErrDuplicateOrder):
			// A concurrent claim for the same order won.
			winner, gerr := e.repo.GetDeliveryByOrder(ctx, req.OrderID)
			if gerr != nil {
				e.metrics.ObserveClaim(metrics.OutcomeError, time.Since(start))
				return nil, fmt.Errorf("failed to load winning delivery: %w", gerr)
			}
			return e.replayed(winner, start, log), nil

		case errors.Is(err, model.ErrPoolEmpty):
			return e.pendingManual(req, manualByStockout, start, log), nil

		case errors.Is(err, model.ErrClaimConflict):
			if attempt >= e.config.MaxAttempts {
				log.Warn("Claim conflicts exhausted retries", zap.Int("attempts", attempt), zap.Error(err))
				return e.pendingManual(req, manualByConflict, start, log), nil
			}
			e.metrics.IncClaimRetry()
			if werr := e.backoff(ctx, attempt); werr != nil {
				e.metrics.ObserveClaim(metrics.OutcomeError, time.Since(start))
				return nil, werr
			}

		default:
			e.metrics.ObserveClaim(metrics.OutcomeError, time.Since(start))
			log.Error("Claim failed", zap.Error(err))
			return nil, fmt.Errorf("failed to claim pool item: %w", err)
		}
	}
}

func (e *AllocationEngine) lookupProduct(ctx context.Context, productID string, log *zap.Logger) *model.ProductInfo {
	if e.catalog == nil {
		return nil
	}
	info, err := e.catalog.GetProduct(ctx, productID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			log.Warn("Product catalog lookup failed, continuing without usage guide", zap.Error(err))
		}
		return nil
	}
	return info
}

// backoff sleeps base*2^(attempt-1) plus up to base of jitter.
func (e *AllocationEngine) backoff(ctx context.Context, attempt int) error {
	base := e.config.RetryBaseDelay
	delay := base<<(attempt-1) + rand.N(base)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *AllocationEngine) delivered(ctx context.Context, claimed *repository.ClaimedItem, start time.Time, log *zap.Logger) *model.ClaimResult {
	d := claimed.DeliveredItem
	e.metrics.ObserveClaim(metrics.OutcomeDelivered, time.Since(start))
	log.Info("Item delivered",
		zap.String("delivery_id", d.ID),
		zap.String("pool_item_id", d.PoolItemID),
		zap.Int("available", claimed.Available))

	scope := model.Scope{ProductID: d.ProductID, ItemType: d.DeliveryType}
	e.stock.Invalidate(ctx, scope)

	// Counts are from the claim transaction: exactly one claim lands on each boundary.
	stock := model.NewStock(scope, claimed.Available, claimed.Assigned, e.stock.LowThreshold())
	e.metrics.SetStockAvailable(scope.ProductID, string(scope.ItemType), stock.Available)
	crossed := stock.Available == 0 || stock.Available == e.stock.LowThreshold()

	e.notify(func(ctx context.Context) {
		e.publish(ctx, events.ItemDelivered(d), log)
		if !crossed {
			return
		}
		if alert, ok := events.StockAlert(stock); ok {
			e.publish(ctx, alert, log)
		}
	})

	return &model.ClaimResult{Status: model.ClaimStatusDelivered, Delivery: d}
}

func (e *AllocationEngine) replayed(d *model.DeliveredItem, start time.Time, log *zap.Logger) *model.ClaimResult {
	e.metrics.ObserveClaim(metrics.OutcomeReplayed, time.Since(start))
	log.Info("Order already delivered, returning existing record", zap.String("delivery_id", d.ID))
	return &model.ClaimResult{Status: model.ClaimStatusDelivered, Delivery: d}
}

// Reasons an order is handed to manual fulfillment.
const (
	manualByMode     = "manual_delivery_mode"
	manualByMismatch = "item_type_mismatch"
	manualByStockout = "out_of_stock"
	manualByConflict = "claim_conflicts"
)

func (e *AllocationEngine) pendingManual(req model.ClaimRequest, reason string, start time.Time, log *zap.Logger) *model.ClaimResult {
	e.metrics.ObserveClaim(metrics.OutcomePendingManual, time.Since(start))
	log.Warn("Order falls back to manual fulfillment", zap.String("reason", reason))

	e.notify(func(ctx context.Context) {
		e.publish(ctx, events.PendingManual(req), log)
		if reason != manualByStockout {
			return
		}

		stock, err := e.stock.FreshStock(ctx, req.Scope())
		if err != nil {
			log.Warn("Failed to read stock after stockout", zap.Error(err))
			return
		}
		if alert, ok := events.StockAlert(stock); ok {
			e.publish(ctx, alert, log)
		}
	})

	return &model.ClaimResult{Status: model.ClaimStatusPendingManual}
}

// notify runs fn in the background with its own timeout; the claim result
// never waits on it.
func (e *AllocationEngine) notify(fn func(ctx context.Context)) {
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.config.PublishTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (e *AllocationEngine) publish(ctx context.Context, event events.Event, log *zap.Logger) {
	if err := e.publisher.Publish(ctx, event); err != nil {
		log.Warn("Failed to publish event", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

// Wait blocks until every background notification has finished.
func (e *AllocationEngine) Wait() {
	e.pending.Wait()
}
