package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"autodelivery-api/internal/model"
	"autodelivery-api/pkg/uid"

	"go.uber.org/zap"
	"modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteFulfillmentRepository implements FulfillmentRepository using SQLite.
// All writes go through a single connection, so a claim's UPDATE ... RETURNING
// and the delivery insert can never interleave with another claim.
type SQLiteFulfillmentRepository struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewSQLiteFulfillmentRepository creates a new SQLite fulfillment repository.
// dbPath is the path to the SQLite database file (e.g., "./data/fulfillment.db")
func NewSQLiteFulfillmentRepository(dbPath string, logger *zap.Logger) (*SQLiteFulfillmentRepository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite only supports 1 writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createSQLiteTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info("SQLite fulfillment repository initialized", zap.String("path", dbPath))
	return &SQLiteFulfillmentRepository{db: db, logger: logger}, nil
}

func createSQLiteTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS pool_items (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		seller_id TEXT NOT NULL DEFAULT '',
		item_type TEXT NOT NULL CHECK (item_type IN ('account', 'license_key', 'download')),
		payload TEXT NOT NULL,
		is_assigned INTEGER NOT NULL DEFAULT 0,
		assigned_to TEXT,
		assigned_buyer TEXT,
		assigned_at DATETIME,
		display_order INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pool_items_claim
		ON pool_items(product_id, item_type, is_assigned, display_order, created_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_pool_items_assigned_to
		ON pool_items(assigned_to) WHERE assigned_to IS NOT NULL;

	CREATE TRIGGER IF NOT EXISTS trg_pool_items_assigned_update
	BEFORE UPDATE ON pool_items WHEN OLD.is_assigned = 1
	BEGIN
		SELECT RAISE(ABORT, 'assigned pool item is immutable');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_pool_items_assigned_delete
	BEFORE DELETE ON pool_items WHEN OLD.is_assigned = 1
	BEGIN
		SELECT RAISE(ABORT, 'assigned pool item is immutable');
	END;

	CREATE TABLE IF NOT EXISTS delivered_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL UNIQUE,
		buyer_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		pool_item_id TEXT NOT NULL UNIQUE REFERENCES pool_items(id),
		delivery_type TEXT NOT NULL,
		delivered_data TEXT NOT NULL,
		usage_guide TEXT NOT NULL DEFAULT '',
		delivered_at DATETIME NOT NULL,
		is_revealed INTEGER NOT NULL DEFAULT 0,
		revealed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_delivered_items_buyer ON delivered_items(buyer_id, delivered_at);
	CREATE INDEX IF NOT EXISTS idx_delivered_items_product ON delivered_items(product_id, delivered_at);

	CREATE TRIGGER IF NOT EXISTS trg_delivered_items_immutable
	BEFORE UPDATE ON delivered_items
	WHEN NEW.delivered_data IS NOT OLD.delivered_data
		OR NEW.order_id IS NOT OLD.order_id
		OR NEW.pool_item_id IS NOT OLD.pool_item_id
		OR (OLD.is_revealed = 1 AND NEW.is_revealed = 0)
	BEGIN
		SELECT RAISE(ABORT, 'delivered item is immutable');
	END;
	`
	_, err := db.Exec(query)
	return err
}

// AddItems inserts a batch of pool items in one transaction.
func (r *SQLiteFulfillmentRepository) AddItems(ctx context.Context, items []*model.PoolItem) error {
	if len(items) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	next := map[model.Scope]int{}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pool_items (id, product_id, seller_id, item_type, payload, is_assigned, display_order, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, item := range items {
		scope := model.Scope{ProductID: item.ProductID, ItemType: item.ItemType}
		order, ok := next[scope]
		if !ok {
			err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(display_order) + 1, 0) FROM pool_items WHERE product_id = ? AND item_type = ?`,
				scope.ProductID, string(scope.ItemType),
			).Scan(&order)
			if err != nil {
				return fmt.Errorf("failed to read display order: %w", err)
			}
		}
		next[scope] = order + 1

		payload, err := encodePayload(item.Payload)
		if err != nil {
			return err
		}

		if item.ID == "" {
			item.ID = uid.New()
		}
		item.DisplayOrder = order
		item.CreatedAt = now
		item.IsAssigned = false

		if _, err := stmt.ExecContext(ctx, item.ID, item.ProductID, item.SellerID, string(item.ItemType),
			string(payload), item.DisplayOrder, item.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert pool item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetItem returns a pool item by ID.
func (r *SQLiteFulfillmentRepository) GetItem(ctx context.Context, id string) (*model.PoolItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, err := scanPoolItem(r.db.QueryRowContext(ctx,
		`SELECT `+poolItemColumns+` FROM pool_items WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pool item: %w", err)
	}
	return item, nil
}

// DeleteItem removes an unassigned pool item.
func (r *SQLiteFulfillmentRepository) DeleteItem(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, err := r.db.ExecContext(ctx, `DELETE FROM pool_items WHERE id = ? AND is_assigned = 0`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pool item: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if deleted == 1 {
		return nil
	}

	var assigned bool
	err = r.db.QueryRowContext(ctx, `SELECT is_assigned FROM pool_items WHERE id = ?`, id).Scan(&assigned)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check pool item: %w", err)
	}
	return model.ErrImmutableRecord
}

// ListItems returns a scope in consumption order.
func (r *SQLiteFulfillmentRepository) ListItems(ctx context.Context, scope model.Scope) ([]model.PoolItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+poolItemColumns+` FROM pool_items
		WHERE product_id = ? AND item_type = ?
		ORDER BY display_order, created_at, id`,
		scope.ProductID, string(scope.ItemType))
	if err != nil {
		return nil, fmt.Errorf("failed to list pool items: %w", err)
	}
	return collectPoolItems(rows)
}

// CountStock returns available and assigned counts for a scope.
func (r *SQLiteFulfillmentRepository) CountStock(ctx context.Context, scope model.Scope) (int, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var available, assigned int
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN is_assigned = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_assigned = 1 THEN 1 ELSE 0 END), 0)
		FROM pool_items
		WHERE product_id = ? AND item_type = ?`,
		scope.ProductID, string(scope.ItemType),
	).Scan(&available, &assigned)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count stock: %w", err)
	}
	return available, assigned, nil
}

// ListStock returns counts for every scope.
func (r *SQLiteFulfillmentRepository) ListStock(ctx context.Context) ([]StockCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, item_type,
			SUM(CASE WHEN is_assigned = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN is_assigned = 1 THEN 1 ELSE 0 END)
		FROM pool_items
		GROUP BY product_id, item_type
		ORDER BY product_id, item_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock: %w", err)
	}
	return collectStock(rows)
}

// Claim assigns the next available item to the order and records the delivery.
func (r *SQLiteFulfillmentRepository) Claim(ctx context.Context, req model.ClaimRequest, usageGuide string) (*ClaimedItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifySQLiteError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	// Selection and assignment are one statement; the outer is_assigned check
	// makes the UPDATE a no-op if the candidate was taken.
	var (
		itemID  string
		payload []byte
	)
	err = tx.QueryRowContext(ctx, `
		UPDATE pool_items
		SET is_assigned = 1, assigned_to = ?, assigned_buyer = ?, assigned_at = ?
		WHERE id = (
			SELECT id FROM pool_items
			WHERE product_id = ? AND item_type = ? AND is_assigned = 0
			ORDER BY display_order, created_at, id
			LIMIT 1
		) AND is_assigned = 0
		RETURNING id, payload`,
		req.OrderID, req.BuyerID, now, req.ProductID, string(req.ItemType),
	).Scan(&itemID, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrPoolEmpty
		}
		return nil, classifySQLiteError(fmt.Errorf("failed to claim pool item: %w", err))
	}

	data, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}

	delivery := &model.DeliveredItem{
		ID:            uid.New(),
		OrderID:       req.OrderID,
		BuyerID:       req.BuyerID,
		ProductID:     req.ProductID,
		PoolItemID:    itemID,
		DeliveryType:  req.ItemType,
		DeliveredData: data,
		UsageGuide:    usageGuide,
		DeliveredAt:   now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO delivered_items (id, order_id, buyer_id, product_id, pool_item_id, delivery_type,
			delivered_data, usage_guide, delivered_at, is_revealed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		delivery.ID, delivery.OrderID, delivery.BuyerID, delivery.ProductID, delivery.PoolItemID,
		string(delivery.DeliveryType), string(payload), delivery.UsageGuide, delivery.DeliveredAt)
	if err != nil {
		return nil, classifySQLiteError(fmt.Errorf("failed to insert delivery: %w", err))
	}

	claimed := &ClaimedItem{DeliveredItem: delivery}
	err = tx.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN is_assigned = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_assigned = 1 THEN 1 ELSE 0 END), 0)
		FROM pool_items
		WHERE product_id = ? AND item_type = ?`,
		req.ProductID, string(req.ItemType),
	).Scan(&claimed.Available, &claimed.Assigned)
	if err != nil {
		return nil, fmt.Errorf("failed to count stock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, classifySQLiteError(fmt.Errorf("failed to commit claim: %w", err))
	}
	return claimed, nil
}

// GetProductSeller returns the seller that stocked the product first.
func (r *SQLiteFulfillmentRepository) GetProductSeller(ctx context.Context, productID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sellerID string
	err := r.db.QueryRowContext(ctx,
		`SELECT seller_id FROM pool_items WHERE product_id = ? ORDER BY created_at, display_order LIMIT 1`,
		productID,
	).Scan(&sellerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", model.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get product seller: %w", err)
	}
	return sellerID, nil
}

// GetDelivery returns a delivery record by ID.
func (r *SQLiteFulfillmentRepository) GetDelivery(ctx context.Context, id string) (*model.DeliveredItem, error) {
	return r.getDeliveryWhere(ctx, "id", id)
}

// GetDeliveryByOrder returns the delivery record for an order.
func (r *SQLiteFulfillmentRepository) GetDeliveryByOrder(ctx context.Context, orderID string) (*model.DeliveredItem, error) {
	return r.getDeliveryWhere(ctx, "order_id", orderID)
}

func (r *SQLiteFulfillmentRepository) getDeliveryWhere(ctx context.Context, column, value string) (*model.DeliveredItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, err := scanDelivery(r.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM delivered_items WHERE `+column+` = ?`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return d, nil
}

// ListDeliveriesByBuyer returns a buyer's deliveries, newest first.
func (r *SQLiteFulfillmentRepository) ListDeliveriesByBuyer(ctx context.Context, buyerID string) ([]model.DeliveredItem, error) {
	return r.listDeliveriesWhere(ctx, "buyer_id", buyerID)
}

// ListDeliveriesByProduct returns a product's deliveries, newest first.
func (r *SQLiteFulfillmentRepository) ListDeliveriesByProduct(ctx context.Context, productID string) ([]model.DeliveredItem, error) {
	return r.listDeliveriesWhere(ctx, "product_id", productID)
}

func (r *SQLiteFulfillmentRepository) listDeliveriesWhere(ctx context.Context, column, value string) ([]model.DeliveredItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM delivered_items WHERE `+column+` = ? ORDER BY delivered_at DESC, id`, value)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return collectDeliveries(rows)
}

// MarkRevealed flips is_revealed to true if it is not already.
func (r *SQLiteFulfillmentRepository) MarkRevealed(ctx context.Context, id string, at time.Time) (*model.DeliveredItem, error) {
	r.mu.Lock()
	_, err := r.db.ExecContext(ctx,
		`UPDATE delivered_items SET is_revealed = 1, revealed_at = ? WHERE id = ? AND is_revealed = 0`,
		at.UTC(), id)
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to reveal delivery: %w", err)
	}

	return r.GetDelivery(ctx, id)
}

// DeleteDeliveriesByBuyer erases every delivery record of a buyer.
func (r *SQLiteFulfillmentRepository) DeleteDeliveriesByBuyer(ctx context.Context, buyerID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, err := r.db.ExecContext(ctx, `DELETE FROM delivered_items WHERE buyer_id = ?`, buyerID)
	if err != nil {
		return 0, fmt.Errorf("failed to erase deliveries: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		r.logger.Info("Erased buyer deliveries", zap.String("buyer_id", buyerID), zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

// GetStats returns statistics about the fulfillment database.
func (r *SQLiteFulfillmentRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]interface{})

	var poolTotal, poolAssigned int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(is_assigned), 0) FROM pool_items`).Scan(&poolTotal, &poolAssigned); err != nil {
		return nil, err
	}
	stats["pool_items_total"] = poolTotal
	stats["pool_items_assigned"] = poolAssigned

	var deliveries, revealed int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(is_revealed), 0) FROM delivered_items`).Scan(&deliveries, &revealed); err != nil {
		return nil, err
	}
	stats["deliveries_total"] = deliveries
	stats["deliveries_revealed"] = revealed

	var lastDelivery sql.NullString
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(delivered_at) FROM delivered_items`).Scan(&lastDelivery); err == nil && lastDelivery.Valid {
		stats["last_delivery"] = lastDelivery.String
	}

	// Database file size (approximate from page count)
	var pageCount, pageSize int64
	r.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	r.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
	stats["db_size_bytes"] = pageCount * pageSize

	return stats, nil
}

// Ping checks the database connection.
func (r *SQLiteFulfillmentRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLiteFulfillmentRepository) Close() error {
	return r.db.Close()
}

// classifySQLiteError maps driver errors onto the claim error taxonomy.
func classifySQLiteError(err error) error {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return err
	}

	code := serr.Code()
	switch {
	case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return fmt.Errorf("%w: %v", model.ErrDuplicateOrder, err)
	case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %v", model.ErrClaimConflict, err)
	}
	return err
}

// Ensure SQLiteFulfillmentRepository implements FulfillmentRepository
var _ FulfillmentRepository = (*SQLiteFulfillmentRepository)(nil)
