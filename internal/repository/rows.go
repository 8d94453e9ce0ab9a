package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"autodelivery-api/internal/model"
)

const poolItemColumns = `id, product_id, seller_id, item_type, payload, is_assigned,
	assigned_to, assigned_buyer, assigned_at, display_order, created_at`

const deliveryColumns = `id, order_id, buyer_id, product_id, pool_item_id, delivery_type,
	delivered_data, usage_guide, delivered_at, is_revealed, revealed_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func encodePayload(p model.Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

func decodePayload(data []byte) (model.Payload, error) {
	var p model.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return model.Payload{}, fmt.Errorf("failed to decode payload: %w", err)
	}
	return p, nil
}

func scanPoolItem(s rowScanner) (*model.PoolItem, error) {
	var (
		item          model.PoolItem
		itemType      string
		payload       []byte
		assignedTo    sql.NullString
		assignedBuyer sql.NullString
		assignedAt    sql.NullTime
	)

	if err := s.Scan(
		&item.ID,
		&item.ProductID,
		&item.SellerID,
		&itemType,
		&payload,
		&item.IsAssigned,
		&assignedTo,
		&assignedBuyer,
		&assignedAt,
		&item.DisplayOrder,
		&item.CreatedAt,
	); err != nil {
		return nil, err
	}

	p, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	item.Payload = p
	item.ItemType = model.ItemType(itemType)
	if assignedTo.Valid {
		item.AssignedTo = &assignedTo.String
	}
	if assignedBuyer.Valid {
		item.AssignedBuyer = &assignedBuyer.String
	}
	if assignedAt.Valid {
		t := assignedAt.Time
		item.AssignedAt = &t
	}
	return &item, nil
}

func scanDelivery(s rowScanner) (*model.DeliveredItem, error) {
	var (
		d            model.DeliveredItem
		deliveryType string
		data         []byte
		revealedAt   sql.NullTime
	)

	if err := s.Scan(
		&d.ID,
		&d.OrderID,
		&d.BuyerID,
		&d.ProductID,
		&d.PoolItemID,
		&deliveryType,
		&data,
		&d.UsageGuide,
		&d.DeliveredAt,
		&d.IsRevealed,
		&revealedAt,
	); err != nil {
		return nil, err
	}

	p, err := decodePayload(data)
	if err != nil {
		return nil, err
	}
	d.DeliveredData = p
	d.DeliveryType = model.ItemType(deliveryType)
	if revealedAt.Valid {
		t := revealedAt.Time
		d.RevealedAt = &t
	}
	return &d, nil
}

func collectPoolItems(rows *sql.Rows) ([]model.PoolItem, error) {
	defer rows.Close()

	items := []model.PoolItem{}
	for rows.Next() {
		item, err := scanPoolItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pool item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pool items: %w", err)
	}
	return items, nil
}

func collectDeliveries(rows *sql.Rows) ([]model.DeliveredItem, error) {
	defer rows.Close()

	deliveries := []model.DeliveredItem{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		deliveries = append(deliveries, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deliveries: %w", err)
	}
	return deliveries, nil
}

func collectStock(rows *sql.Rows) ([]StockCount, error) {
	defer rows.Close()

	counts := []StockCount{}
	for rows.Next() {
		var (
			c        StockCount
			itemType string
		)
		if err := rows.Scan(&c.Scope.ProductID, &itemType, &c.Available, &c.Assigned); err != nil {
			return nil, fmt.Errorf("failed to scan stock: %w", err)
		}
		c.Scope.ItemType = model.ItemType(itemType)
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stock: %w", err)
	}
	return counts, nil
}
