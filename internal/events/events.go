// Package events publishes seller-facing fulfillment notifications.
// Events never carry credential data.
package events

import (
	"context"
	"time"

	"autodelivery-api/internal/model"
	"autodelivery-api/pkg/uid"
)

// Type names an event on the wire.
type Type string

const (
	TypeItemDelivered Type = "fulfillment.item_delivered"
	TypePendingManual Type = "fulfillment.pending_manual"
	TypeStockLow      Type = "fulfillment.stock_low"
	TypeStockOut      Type = "fulfillment.stock_out"
)

// Event is the envelope written to every transport.
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	ProductID  string         `json:"product_id"`
	ItemType   model.ItemType `json:"item_type"`
	OrderID    string         `json:"order_id,omitempty"`
	BuyerID    string         `json:"buyer_id,omitempty"`
	DeliveryID string         `json:"delivery_id,omitempty"`
	Available  *int           `json:"available,omitempty"`
}

// Publisher delivers events to a downstream transport.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

func newEvent(t Type, scope model.Scope) Event {
	return Event{
		ID:         uid.New(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
		ProductID:  scope.ProductID,
		ItemType:   scope.ItemType,
	}
}

// ItemDelivered reports a successful claim.
func ItemDelivered(d *model.DeliveredItem) Event {
	e := newEvent(TypeItemDelivered, model.Scope{ProductID: d.ProductID, ItemType: d.DeliveryType})
	e.OrderID = d.OrderID
	e.BuyerID = d.BuyerID
	e.DeliveryID = d.ID
	return e
}

// PendingManual reports a claim that fell back to manual fulfillment.
func PendingManual(req model.ClaimRequest) Event {
	e := newEvent(TypePendingManual, req.Scope())
	e.OrderID = req.OrderID
	e.BuyerID = req.BuyerID
	return e
}

// StockAlert reports a scope entering the low or out level. ok is false for
// StockLevelOK, which has no alert.
func StockAlert(stock model.Stock) (Event, bool) {
	var t Type
	switch stock.Level() {
	case model.StockLevelLow:
		t = TypeStockLow
	case model.StockLevelOut:
		t = TypeStockOut
	default:
		return Event{}, false
	}

	e := newEvent(t, model.Scope{ProductID: stock.ProductID, ItemType: stock.ItemType})
	available := stock.Available
	e.Available = &available
	return e, true
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

var _ Publisher = NopPublisher{}
