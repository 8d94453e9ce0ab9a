package service

import (
	"context"
	"errors"
	"fmt"

	"autodelivery-api/internal/model"
	"autodelivery-api/internal/repository"
)

// productOwners reports which seller stocked a product.
type productOwners interface {
	GetProductSeller(ctx context.Context, productID string) (string, error)
}

// sellerGuard checks product ownership against the catalog. Without a catalog
// the first seller to stock a product owns it.
type sellerGuard struct {
	catalog repository.ProductCatalog
	owners  productOwners
}

func (g sellerGuard) authorize(ctx context.Context, sellerID, productID string) error {
	if g.catalog == nil {
		return g.authorizeByPool(ctx, sellerID, productID)
	}

	info, err := g.catalog.GetProduct(ctx, productID)
	if errors.Is(err, model.ErrNotFound) {
		return model.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check product ownership: %w", err)
	}
	if info.SellerID != sellerID {
		return model.ErrForbidden
	}
	return nil
}

func (g sellerGuard) authorizeByPool(ctx context.Context, sellerID, productID string) error {
	owner, err := g.owners.GetProductSeller(ctx, productID)
	if errors.Is(err, model.ErrNotFound) {
		// Unstocked product: the caller becomes its owner on first write.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check product ownership: %w", err)
	}
	if owner != sellerID {
		return model.ErrForbidden
	}
	return nil
}
