// Package memory is an in-process order store. It backs the service when no
// database is configured and serves as the reference store in tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/nsridhar76/go-orderms/internal/aggregate"
	"github.com/nsridhar76/go-orderms/internal/domain"
)

// Store keeps orders keyed by order id. The first save of an id wins.
type Store struct {
	mu     sync.RWMutex
	orders map[int64]domain.Order
}

// New returns an empty store.
func New() *Store {
	return &Store{orders: make(map[int64]domain.Order)}
}

func (s *Store) Save(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: save order %d: %w", domain.ErrStoreUnavailable, order.OrderID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.OrderID]; ok {
		return nil
	}
	order.Items = slices.Clone(order.Items)
	s.orders[order.OrderID] = order
	return nil
}

func (s *Store) FindByCustomerID(ctx context.Context, customerID int64, page domain.PageRequest) (domain.OrderPage, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderPage{}, fmt.Errorf("%w: find orders of customer %d: %w", domain.ErrStoreUnavailable, customerID, err)
	}

	s.mu.RLock()
	var matched []domain.Order
	for _, o := range s.orders {
		if o.CustomerID == customerID {
			matched = append(matched, o)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b domain.Order) int {
		switch {
		case a.OrderID < b.OrderID:
			return -1
		case a.OrderID > b.OrderID:
			return 1
		}
		return 0
	})

	total := int64(len(matched))
	start := min(page.Offset(), total)
	end := min(start+int64(page.Size), total)
	return domain.NewOrderPage(matched[start:end], page, total), nil
}

// Aggregate evaluates the match and group stages over the stored orders.
func (s *Store) Aggregate(ctx context.Context, p aggregate.Pipeline) (aggregate.Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("%w: aggregate %s: %w", domain.ErrStoreUnavailable, p.Collection, err)
	}
	if p.Collection != aggregate.OrdersCollection {
		return nil, false, fmt.Errorf("%w: memory: unknown collection %q", domain.ErrStoreUnavailable, p.Collection)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	found := false
	sum := decimal.Zero
	for _, o := range s.orders {
		v, err := field(o, p.Match.Field)
		if err != nil {
			return nil, false, err
		}
		if !matches(v, p.Match.Value) {
			continue
		}
		found = true
		add, err := field(o, p.Group.Sum)
		if err != nil {
			return nil, false, err
		}
		d, ok := add.(decimal.Decimal)
		if !ok {
			return nil, false, fmt.Errorf("%w: memory: field %q is not summable", domain.ErrStoreUnavailable, p.Group.Sum)
		}
		sum = sum.Add(d)
	}
	if !found {
		return nil, false, nil
	}
	return aggregate.Document{p.Group.As: sum}, true, nil
}

func field(o domain.Order, name string) (any, error) {
	switch name {
	case "orderId":
		return o.OrderID, nil
	case "customerId":
		return o.CustomerID, nil
	case "total":
		return o.Total, nil
	}
	return nil, fmt.Errorf("%w: memory: unknown field %q", domain.ErrStoreUnavailable, name)
}

func matches(v, want any) bool {
	switch w := want.(type) {
	case int:
		return v == any(int64(w))
	case decimal.Decimal:
		d, ok := v.(decimal.Decimal)
		return ok && d.Equal(w)
	}
	return v == want
}
