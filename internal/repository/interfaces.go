package repository

import (
	"context"
	"time"

	"autodelivery-api/internal/model"
)

// StockCount is the raw per-scope aggregate the stock monitor derives its view from.
type StockCount struct {
	Scope     model.Scope
	Available int
	Assigned  int
}

// ClaimedItem is a fresh delivery plus the scope's stock as counted inside the
// claim transaction, after this claim's assignment.
type ClaimedItem struct {
	*model.DeliveredItem
	Available int
	Assigned  int
}

// FulfillmentRepository owns the pool_items and delivered_items collections.
// Claim is the only method that flips is_assigned.
type FulfillmentRepository interface {
	// AddItems inserts a batch atomically, assigning display orders that
	// continue the scope's sequence. ID, DisplayOrder and CreatedAt are set on the items.
	AddItems(ctx context.Context, items []*model.PoolItem) error

	// GetItem returns a pool item by ID.
	GetItem(ctx context.Context, id string) (*model.PoolItem, error)

	// DeleteItem removes an unassigned pool item.
	DeleteItem(ctx context.Context, id string) error

	// ListItems returns a scope ordered by display_order, created_at.
	ListItems(ctx context.Context, scope model.Scope) ([]model.PoolItem, error)

	// CountStock returns available and assigned counts from one aggregate read.
	CountStock(ctx context.Context, scope model.Scope) (available, assigned int, err error)

	// ListStock returns counts for every scope that has at least one item.
	ListStock(ctx context.Context) ([]StockCount, error)

	// Claim atomically assigns the lowest-ordered available item of the request's
	// scope to the order and records the delivery in the same transaction.
	// Concurrent claims on one scope observe distinct post-claim counts.
	Claim(ctx context.Context, req model.ClaimRequest, usageGuide string) (*ClaimedItem, error)

	// GetProductSeller returns the seller owning a product's pool items,
	// or model.ErrNotFound when the product has none.
	GetProductSeller(ctx context.Context, productID string) (string, error)

	// GetDelivery returns a delivery record by ID.
	GetDelivery(ctx context.Context, id string) (*model.DeliveredItem, error)

	// GetDeliveryByOrder returns the delivery record for an order.
	GetDeliveryByOrder(ctx context.Context, orderID string) (*model.DeliveredItem, error)

	// ListDeliveriesByBuyer returns a buyer's library, newest first.
	ListDeliveriesByBuyer(ctx context.Context, buyerID string) ([]model.DeliveredItem, error)

	// ListDeliveriesByProduct returns a product's delivery audit trail, newest first.
	ListDeliveriesByProduct(ctx context.Context, productID string) ([]model.DeliveredItem, error)

	// MarkRevealed sets is_revealed once. Revealing twice is a no-op.
	MarkRevealed(ctx context.Context, id string, at time.Time) (*model.DeliveredItem, error)

	// DeleteDeliveriesByBuyer erases a buyer's delivery records.
	DeleteDeliveriesByBuyer(ctx context.Context, buyerID string) (int64, error)

	// GetStats returns statistics about the fulfillment database.
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Ping checks the storage connection.
	Ping(ctx context.Context) error

	// Close closes the repository connection.
	Close() error
}

// ProductCatalog reads product-level metadata owned by the marketplace.
type ProductCatalog interface {
	// GetProduct returns catalog metadata for a product.
	GetProduct(ctx context.Context, productID string) (*model.ProductInfo, error)
}
