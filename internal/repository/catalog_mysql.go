package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"autodelivery-api/internal/model"
)

// MySQLProductCatalog implements ProductCatalog using the marketplace MySQL database.
// The catalog is read-only from this service's point of view.
type MySQLProductCatalog struct {
	db *sql.DB
}

// NewMySQLProductCatalog creates a new MySQL product catalog.
func NewMySQLProductCatalog(db *sql.DB) *MySQLProductCatalog {
	return &MySQLProductCatalog{db: db}
}

// GetProduct returns seller, delivery mode and usage guide for a product.
func (c *MySQLProductCatalog) GetProduct(ctx context.Context, productID string) (*model.ProductInfo, error) {
	query := `
		SELECT id, seller_id, delivery_mode, COALESCE(usage_guide, '')
		FROM products
		WHERE id = ? AND deleted_at IS NULL
		LIMIT 1`

	var info model.ProductInfo
	err := c.db.QueryRowContext(ctx, query, productID).Scan(
		&info.ProductID,
		&info.SellerID,
		&info.DeliveryMode,
		&info.UsageGuide,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	return &info, nil
}

// Ensure MySQLProductCatalog implements ProductCatalog
var _ ProductCatalog = (*MySQLProductCatalog)(nil)
