// Package service holds the order use cases: recording an order from its
// creation event, and listing a customer's orders with their summary.
package service

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/nsridhar76/go-orderms/internal/aggregate"
	"github.com/nsridhar76/go-orderms/internal/domain"
	"github.com/nsridhar76/go-orderms/internal/messaging"
)

// OrdersResult is one page of a customer's orders plus the summary over all
// of them.
type OrdersResult struct {
	Page    domain.OrderPage
	Summary domain.OrdersSummary
}

// Orders records and lists orders.
type Orders struct {
	repo       domain.OrderRepository
	aggregates aggregate.Runner
	logger     *slog.Logger
}

// NewOrders wires the service to its store. The repository and the
// aggregation runner are usually the same store value.
func NewOrders(repo domain.OrderRepository, aggregates aggregate.Runner, logger *slog.Logger) *Orders {
	return &Orders{repo: repo, aggregates: aggregates, logger: logger}
}

// SaveFromEvent maps the event to an order record and saves it once.
func (s *Orders) SaveFromEvent(ctx context.Context, ev messaging.OrderCreatedEvent) (domain.Order, error) {
	order, err := ev.ToOrder()
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.repo.Save(ctx, order); err != nil {
		return domain.Order{}, err
	}

	s.logger.InfoContext(ctx, "order saved",
		slog.Int64("order_id", order.OrderID),
		slog.Int64("customer_id", order.CustomerID),
		slog.Int("items", len(order.Items)),
		slog.String("total", order.Total.String()),
	)
	return order, nil
}

// ListOrders fetches one page of the customer's orders and, concurrently,
// the total over every order the customer has.
func (s *Orders) ListOrders(ctx context.Context, customerID int64, page domain.PageRequest) (OrdersResult, error) {
	if err := page.Validate(); err != nil {
		return OrdersResult{}, err
	}

	var res OrdersResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.repo.FindByCustomerID(gctx, customerID, page)
		if err != nil {
			return err
		}
		res.Page = p
		return nil
	})
	g.Go(func() error {
		total, err := aggregate.Total(gctx, s.aggregates, aggregate.CustomerTotal(customerID))
		if err != nil {
			return err
		}
		res.Summary = domain.OrdersSummary{TotalOnOrders: total}
		return nil
	})
	if err := g.Wait(); err != nil {
		return OrdersResult{}, err
	}
	return res, nil
}
