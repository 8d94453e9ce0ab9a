package model

// DefaultLowStockThreshold is the available count at or below which a scope is low on stock.
const DefaultLowStockThreshold = 5

// StockLevel classifies a scope's availability.
type StockLevel string

const (
	StockLevelOK  StockLevel = "ok"
	StockLevelLow StockLevel = "low"
	StockLevelOut StockLevel = "out"
)

// Stock is the derived availability view of one scope.
type Stock struct {
	ProductID  string   `json:"product_id"`
	ItemType   ItemType `json:"item_type"`
	Available  int      `json:"available"`
	Assigned   int      `json:"assigned"`
	Total      int      `json:"total"`
	LowStock   bool     `json:"low_stock"`
	OutOfStock bool     `json:"out_of_stock"`
}

// NewStock derives the view from raw counts. Total is always available + assigned.
func NewStock(scope Scope, available, assigned, lowThreshold int) Stock {
	return Stock{
		ProductID:  scope.ProductID,
		ItemType:   scope.ItemType,
		Available:  available,
		Assigned:   assigned,
		Total:      available + assigned,
		LowStock:   available > 0 && available <= lowThreshold,
		OutOfStock: available == 0,
	}
}

// Level returns the alert level for the stock.
func (s Stock) Level() StockLevel {
	switch {
	case s.OutOfStock:
		return StockLevelOut
	case s.LowStock:
		return StockLevelLow
	default:
		return StockLevelOK
	}
}

// ImportResult reports the outcome of a bulk import.
type ImportResult struct {
	Created int         `json:"created"`
	Skipped int         `json:"skipped"`
	Errors  []LineError `json:"errors,omitempty"`
}

// LineError describes why one bulk import line was skipped.
type LineError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}
