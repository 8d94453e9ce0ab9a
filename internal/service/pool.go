package service

import (
	"context"
	"strings"

	"autodelivery-api/internal/importer"
	"autodelivery-api/internal/metrics"
	"autodelivery-api/internal/model"
	"autodelivery-api/internal/repository"

	"go.uber.org/zap"
)

// PoolService handles seller-side pool management: single adds, bulk imports,
// listing and deletion.
type PoolService struct {
	repo    repository.FulfillmentRepository
	guard   sellerGuard
	val     *importer.Validator
	parser  *importer.Parser
	stock   *StockMonitor
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// PoolConfig holds pool service settings.
type PoolConfig struct {
	MaxImportLines int
}

// NewPoolService creates a new pool service. catalog may be nil.
func NewPoolService(
	repo repository.FulfillmentRepository,
	catalog repository.ProductCatalog,
	stock *StockMonitor,
	m *metrics.Metrics,
	config PoolConfig,
	logger *zap.Logger,
) *PoolService {
	val := importer.NewValidator()
	return &PoolService{
		repo:    repo,
		guard:   sellerGuard{catalog: catalog, owners: repo},
		val:     val,
		parser:  importer.NewParser(val, config.MaxImportLines),
		stock:   stock,
		metrics: m,
		logger:  logger.Named("pool"),
	}
}

func validateScope(sellerID string, scope model.Scope) error {
	var fields []model.FieldError
	if strings.TrimSpace(sellerID) == "" {
		fields = append(fields, model.FieldError{Field: "seller_id", Message: "is required"})
	}
	if strings.TrimSpace(scope.ProductID) == "" {
		fields = append(fields, model.FieldError{Field: "product_id", Message: "is required"})
	}
	if len(fields) > 0 {
		return model.NewValidationError("invalid pool scope", fields...)
	}
	_, err := model.ParseItemType(string(scope.ItemType))
	return err
}

// AddItem validates a single payload and appends it to the end of the scope's pool.
func (s *PoolService) AddItem(ctx context.Context, sellerID string, scope model.Scope, payload model.Payload) (*model.PoolItem, error) {
	if err := validateScope(sellerID, scope); err != nil {
		return nil, err
	}

	clean, err := s.val.Normalize(scope.ItemType, payload)
	if err != nil {
		return nil, err
	}

	if err := s.guard.authorize(ctx, sellerID, scope.ProductID); err != nil {
		return nil, err
	}

	item := &model.PoolItem{
		ProductID: scope.ProductID,
		SellerID:  sellerID,
		ItemType:  scope.ItemType,
		Payload:   clean,
	}
	if err := s.repo.AddItems(ctx, []*model.PoolItem{item}); err != nil {
		return nil, err
	}
	s.stock.Invalidate(ctx, scope)

	s.logger.Info("Pool item added",
		zap.String("scope", scope.String()),
		zap.String("item_id", item.ID),
		zap.Int("display_order", item.DisplayOrder),
	)
	return item, nil
}

// Import parses pasted text line by line and stores every valid line in one
// batch. Invalid lines are reported and skipped; they never block the rest.
func (s *PoolService) Import(ctx context.Context, sellerID string, scope model.Scope, text string) (*model.ImportResult, error) {
	if err := validateScope(sellerID, scope); err != nil {
		return nil, err
	}

	batch, err := s.parser.Parse(scope.ItemType, text)
	if err != nil {
		return nil, err
	}

	if err := s.guard.authorize(ctx, sellerID, scope.ProductID); err != nil {
		return nil, err
	}

	if len(batch.Payloads) > 0 {
		items := make([]*model.PoolItem, len(batch.Payloads))
		for i, p := range batch.Payloads {
			items[i] = &model.PoolItem{
				ProductID: scope.ProductID,
				SellerID:  sellerID,
				ItemType:  scope.ItemType,
				Payload:   p,
			}
		}
		if err := s.repo.AddItems(ctx, items); err != nil {
			return nil, err
		}
		s.stock.Invalidate(ctx, scope)
	}

	s.metrics.ObserveImport(len(batch.Payloads), batch.Skipped)
	s.logger.Info("Bulk import finished",
		zap.String("scope", scope.String()),
		zap.Int("created", len(batch.Payloads)),
		zap.Int("skipped", batch.Skipped),
	)

	return &model.ImportResult{
		Created: len(batch.Payloads),
		Skipped: batch.Skipped,
		Errors:  batch.Errors,
	}, nil
}

// ListItems returns the scope's items in consumption order.
func (s *PoolService) ListItems(ctx context.Context, sellerID string, scope model.Scope) ([]model.PoolItem, error) {
	if err := validateScope(sellerID, scope); err != nil {
		return nil, err
	}
	if err := s.guard.authorize(ctx, sellerID, scope.ProductID); err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx, scope)
}

// Stock returns the scope's availability for its seller.
func (s *PoolService) Stock(ctx context.Context, sellerID string, scope model.Scope) (model.Stock, error) {
	if err := validateScope(sellerID, scope); err != nil {
		return model.Stock{}, err
	}
	if err := s.guard.authorize(ctx, sellerID, scope.ProductID); err != nil {
		return model.Stock{}, err
	}
	return s.stock.GetStock(ctx, scope)
}

// DeleteItem removes one of the seller's unassigned items.
func (s *PoolService) DeleteItem(ctx context.Context, sellerID, itemID string) error {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.SellerID != sellerID {
		return model.ErrForbidden
	}
	if item.IsAssigned {
		return model.ErrImmutableRecord
	}

	if err := s.repo.DeleteItem(ctx, itemID); err != nil {
		return err
	}
	s.stock.Invalidate(ctx, model.Scope{ProductID: item.ProductID, ItemType: item.ItemType})

	s.logger.Info("Pool item deleted", zap.String("item_id", itemID), zap.String("product_id", item.ProductID))
	return nil
}
