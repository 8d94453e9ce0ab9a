package model

import "time"

// DeliveredItem is the immutable snapshot handed to a buyer by a successful claim.
type DeliveredItem struct {
	ID            string     `json:"id"`
	OrderID       string     `json:"order_id"`
	BuyerID       string     `json:"buyer_id"`
	ProductID     string     `json:"product_id"`
	PoolItemID    string     `json:"pool_item_id"`
	DeliveryType  ItemType   `json:"delivery_type"`
	DeliveredData Payload    `json:"delivered_data"`
	UsageGuide    string     `json:"usage_guide,omitempty"`
	DeliveredAt   time.Time  `json:"delivered_at"`
	IsRevealed    bool       `json:"is_revealed"`
	RevealedAt    *time.Time `json:"revealed_at,omitempty"`
}

// ClaimRequest is what the order subsystem asserts when an order is paid.
type ClaimRequest struct {
	OrderID   string   `json:"order_id"`
	BuyerID   string   `json:"buyer_id"`
	ProductID string   `json:"product_id"`
	ItemType  ItemType `json:"item_type"`
}

// Scope returns the pool scope the request claims from.
func (r ClaimRequest) Scope() Scope {
	return Scope{ProductID: r.ProductID, ItemType: r.ItemType}
}

// ClaimStatus is the outcome of a claim.
type ClaimStatus string

const (
	ClaimStatusDelivered     ClaimStatus = "delivered"
	ClaimStatusPendingManual ClaimStatus = "pending_manual"
)

// ClaimResult is either a delivery or the out-of-stock signal.
type ClaimResult struct {
	Status   ClaimStatus    `json:"status"`
	Delivery *DeliveredItem `json:"delivery,omitempty"`
}

// OutOfStock reports whether the claim must fall back to manual fulfillment.
func (r ClaimResult) OutOfStock() bool {
	return r.Status == ClaimStatusPendingManual
}

// DeliveryMode is a product's configured fulfillment strategy.
type DeliveryMode string

const (
	DeliveryModeAutoAccount  DeliveryMode = "auto_account"
	DeliveryModeAutoLicense  DeliveryMode = "auto_license"
	DeliveryModeAutoDownload DeliveryMode = "auto_download"
	DeliveryModeStaticFile   DeliveryMode = "static_file"
	DeliveryModeManual       DeliveryMode = "manual"
)

// PoolItemType returns the item type an auto mode draws from the pool.
// ok is false for modes that do not use a pool.
func (m DeliveryMode) PoolItemType() (ItemType, bool) {
	switch m {
	case DeliveryModeAutoAccount:
		return ItemTypeAccount, true
	case DeliveryModeAutoLicense:
		return ItemTypeLicenseKey, true
	case DeliveryModeAutoDownload:
		return ItemTypeDownload, true
	}
	return "", false
}

// ProductInfo is product-level metadata owned by the marketplace catalog.
type ProductInfo struct {
	ProductID    string       `json:"product_id"`
	SellerID     string       `json:"seller_id"`
	DeliveryMode DeliveryMode `json:"delivery_mode"`
	UsageGuide   string       `json:"usage_guide,omitempty"`
}
