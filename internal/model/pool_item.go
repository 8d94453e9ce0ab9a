package model

import (
	"fmt"
	"time"
)

// ItemType identifies what kind of credential a pool item carries.
type ItemType string

const (
	ItemTypeAccount    ItemType = "account"
	ItemTypeLicenseKey ItemType = "license_key"
	ItemTypeDownload   ItemType = "download"
)

// ItemTypes lists every supported item type.
var ItemTypes = []ItemType{ItemTypeAccount, ItemTypeLicenseKey, ItemTypeDownload}

// ParseItemType validates a raw item type string.
func ParseItemType(s string) (ItemType, error) {
	switch t := ItemType(s); t {
	case ItemTypeAccount, ItemTypeLicenseKey, ItemTypeDownload:
		return t, nil
	}
	return "", NewValidationError("unsupported item type", FieldError{
		Field:   "item_type",
		Message: fmt.Sprintf("must be one of account, license_key, download (got %q)", s),
	})
}

// Payload holds the type-tagged credential data of a pool item.
// Only the fields belonging to the item's type are populated.
type Payload struct {
	// account
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
	Notes    string `json:"notes,omitempty"`

	// license_key
	Key           string `json:"key,omitempty"`
	ActivationURL string `json:"activation_url,omitempty"`

	// download
	FileURL  string `json:"file_url,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

// PoolItem is one unit of fulfillable inventory owned by a seller's product.
type PoolItem struct {
	ID            string     `json:"id"`
	ProductID     string     `json:"product_id"`
	SellerID      string     `json:"seller_id"`
	ItemType      ItemType   `json:"item_type"`
	Payload       Payload    `json:"payload"`
	IsAssigned    bool       `json:"is_assigned"`
	AssignedTo    *string    `json:"assigned_to,omitempty"`
	AssignedBuyer *string    `json:"assigned_buyer,omitempty"`
	AssignedAt    *time.Time `json:"assigned_at,omitempty"`
	DisplayOrder  int        `json:"display_order"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Scope identifies the set of pool items a claim draws from.
type Scope struct {
	ProductID string   `json:"product_id"`
	ItemType  ItemType `json:"item_type"`
}

// String renders the scope as "product:type", used for cache keys and log fields.
func (s Scope) String() string {
	return s.ProductID + ":" + string(s.ItemType)
}
