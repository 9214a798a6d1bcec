// Package messaging defines the inbound order event and its mapping to the
// persisted order record.
package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nsridhar76/go-orderms/internal/domain"
)

// EventOrderCreated names the event carried on the order topic.
const EventOrderCreated = "order.created"

// OrderItemEvent is one line of an inbound order. The wire labels are the
// ones used by the upstream order producer.
type OrderItemEvent struct {
	Product  string          `json:"produto"`
	Quantity int             `json:"quantidade"`
	Price    decimal.Decimal `json:"preco"`
}

// OrderCreatedEvent is the Kafka message published when an order is placed.
type OrderCreatedEvent struct {
	OrderID    int64            `json:"codigoPedido"`
	CustomerID int64            `json:"codigoCliente"`
	Items      []OrderItemEvent `json:"itens"`
}

// DecodeOrderCreated parses a message value. Malformed JSON is an ErrMapping.
func DecodeOrderCreated(value []byte) (OrderCreatedEvent, error) {
	var ev OrderCreatedEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return OrderCreatedEvent{}, fmt.Errorf("%w: decode: %w", domain.ErrMapping, err)
	}
	return ev, nil
}

// ToOrder maps the event onto an order record, preserving item order and
// computing the total. An event without items, or with a non-positive
// quantity or negative price, is an ErrMapping.
func (e OrderCreatedEvent) ToOrder() (domain.Order, error) {
	if len(e.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: order %d has no items", domain.ErrMapping, e.OrderID)
	}

	items := make([]domain.OrderItem, 0, len(e.Items))
	for i, it := range e.Items {
		if it.Quantity <= 0 {
			return domain.Order{}, fmt.Errorf("%w: order %d item %d: quantity %d", domain.ErrMapping, e.OrderID, i, it.Quantity)
		}
		if it.Price.IsNegative() {
			return domain.Order{}, fmt.Errorf("%w: order %d item %d: price %s", domain.ErrMapping, e.OrderID, i, it.Price)
		}
		items = append(items, domain.OrderItem{
			Product:   it.Product,
			Quantity:  it.Quantity,
			UnitPrice: it.Price,
		})
	}

	return domain.NewOrder(e.OrderID, e.CustomerID, items), nil
}
