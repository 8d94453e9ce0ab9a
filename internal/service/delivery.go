package service

import (
	"context"
	"strings"
	"time"

	"autodelivery-api/internal/metrics"
	"autodelivery-api/internal/model"
	"autodelivery-api/internal/repository"

	"go.uber.org/zap"
)

// DeliveryService serves delivered records to buyers and sellers.
type DeliveryService struct {
	repo    repository.FulfillmentRepository
	guard   sellerGuard
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewDeliveryService creates a new delivery service. catalog may be nil.
func NewDeliveryService(
	repo repository.FulfillmentRepository,
	catalog repository.ProductCatalog,
	m *metrics.Metrics,
	logger *zap.Logger,
) *DeliveryService {
	return &DeliveryService{
		repo:    repo,
		guard:   sellerGuard{catalog: catalog, owners: repo},
		metrics: m,
		logger:  logger.Named("delivery"),
		now:     time.Now,
	}
}

func (s *DeliveryService) ownedBy(ctx context.Context, deliveryID, buyerID string) (*model.DeliveredItem, error) {
	if strings.TrimSpace(buyerID) == "" {
		return nil, model.NewValidationError("buyer identity is required",
			model.FieldError{Field: "buyer_id", Message: "is required"})
	}

	d, err := s.repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if d.BuyerID != buyerID {
		return nil, model.ErrForbidden
	}
	return d, nil
}

// Get returns one of the buyer's deliveries, masked unless revealed.
func (s *DeliveryService) Get(ctx context.Context, deliveryID, buyerID string) (*model.DeliveredItem, error) {
	d, err := s.ownedBy(ctx, deliveryID, buyerID)
	if err != nil {
		return nil, err
	}
	shown := presentDelivery(*d)
	return &shown, nil
}

// Reveal marks the delivery as viewed and returns it unmasked. Revealing
// twice returns the record unchanged.
func (s *DeliveryService) Reveal(ctx context.Context, deliveryID, buyerID string) (*model.DeliveredItem, error) {
	d, err := s.ownedBy(ctx, deliveryID, buyerID)
	if err != nil {
		return nil, err
	}
	if d.IsRevealed {
		return d, nil
	}

	revealed, err := s.repo.MarkRevealed(ctx, deliveryID, s.now())
	if err != nil {
		return nil, err
	}

	s.metrics.IncReveal()
	s.logger.Info("Delivery revealed", zap.String("delivery_id", deliveryID), zap.String("buyer_id", buyerID))
	return revealed, nil
}

// ListForBuyer returns the buyer's library, newest first.
func (s *DeliveryService) ListForBuyer(ctx context.Context, buyerID string) ([]model.DeliveredItem, error) {
	if strings.TrimSpace(buyerID) == "" {
		return nil, model.NewValidationError("buyer identity is required",
			model.FieldError{Field: "buyer_id", Message: "is required"})
	}

	deliveries, err := s.repo.ListDeliveriesByBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	for i := range deliveries {
		deliveries[i] = presentDelivery(deliveries[i])
	}
	return deliveries, nil
}

// ListForProduct returns the product's delivery audit trail for its seller.
// Credentials are always masked; is_revealed shows whether the buyer looked.
func (s *DeliveryService) ListForProduct(ctx context.Context, sellerID, productID string) ([]model.DeliveredItem, error) {
	if err := s.guard.authorize(ctx, sellerID, productID); err != nil {
		return nil, err
	}

	deliveries, err := s.repo.ListDeliveriesByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	for i := range deliveries {
		deliveries[i].DeliveredData = MaskPayload(deliveries[i].DeliveredData)
	}
	return deliveries, nil
}

// EraseBuyer deletes every delivery record of a buyer as part of account erasure.
func (s *DeliveryService) EraseBuyer(ctx context.Context, buyerID string) (int64, error) {
	if strings.TrimSpace(buyerID) == "" {
		return 0, model.NewValidationError("buyer id is required",
			model.FieldError{Field: "buyer_id", Message: "is required"})
	}

	deleted, err := s.repo.DeleteDeliveriesByBuyer(ctx, buyerID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Buyer deliveries erased", zap.String("buyer_id", buyerID), zap.Int64("deleted", deleted))
	return deleted, nil
}
