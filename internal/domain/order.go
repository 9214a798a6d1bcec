// Package domain holds the order record model, money arithmetic and the
// error taxonomy shared by the ingestion and query paths.
package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderItem is one persisted line of an order.
type OrderItem struct {
	Product   string          `json:"product"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"price"`
}

// LineTotal returns quantity × unit price for the item.
func (i OrderItem) LineTotal() decimal.Decimal {
	return LineTotal(i.Quantity, i.UnitPrice)
}

// Order is the normalized record stored for every order-created event.
// Total is always derived from Items and never taken from the outside.
type Order struct {
	OrderID    int64           `json:"orderId"`
	CustomerID int64           `json:"customerId"`
	Items      []OrderItem     `json:"items"`
	Total      decimal.Decimal `json:"total"`
}

// NewOrder builds an order and computes its total from the items.
func NewOrder(orderID, customerID int64, items []OrderItem) Order {
	lines := make([]decimal.Decimal, 0, len(items))
	for _, it := range items {
		lines = append(lines, it.LineTotal())
	}
	return Order{
		OrderID:    orderID,
		CustomerID: customerID,
		Items:      items,
		Total:      Sum(lines...),
	}
}

// OrdersSummary is the aggregate over every order of a customer,
// independent of any page being viewed.
type OrdersSummary struct {
	TotalOnOrders decimal.Decimal `json:"totalOnOrders"`
}

// OrderRepository is the durable store for order records.
//
// Save must treat OrderID as a unique key: saving an order whose id already
// exists is a no-op. Every failure, including a cancelled context, is
// reported as ErrStoreUnavailable.
type OrderRepository interface {
	Save(ctx context.Context, order Order) error
	FindByCustomerID(ctx context.Context, customerID int64, page PageRequest) (OrderPage, error)
}
