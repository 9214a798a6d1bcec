// Command order-seed publishes one order-created event, for exercising a
// local orderms deployment.
//
//	order-seed -brokers localhost:9092 -order 1001 -customer 1 lápis:100:1.10 caderno:10:1.00
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nsridhar76/go-orderms/internal/logging"
	"github.com/nsridhar76/go-orderms/internal/messaging"
	"github.com/nsridhar76/go-orderms/internal/messaging/kafka"
)

func main() {
	brokers := flag.String("brokers", "localhost:9092", "comma-separated Kafka brokers")
	topic := flag.String("topic", "order-created", "topic to publish to")
	orderID := flag.Int64("order", 0, "order code")
	customerID := flag.Int64("customer", 0, "customer code")
	timeout := flag.Duration("timeout", 10*time.Second, "publish timeout")
	flag.Parse()

	logger := logging.New(os.Stderr, "text", "info")

	items, err := parseItems(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "order-seed: %v\n", err)
		os.Exit(2)
	}
	ev := messaging.OrderCreatedEvent{OrderID: *orderID, CustomerID: *customerID, Items: items}
	if _, err := ev.ToOrder(); err != nil {
		fmt.Fprintf(os.Stderr, "order-seed: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	p := kafka.NewPublisher(strings.Split(*brokers, ","), *topic)
	defer func() { _ = p.Close() }()

	if err := p.PublishOrderCreated(ctx, ev); err != nil {
		logger.Error("publish failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("order published",
		slog.String("topic", *topic),
		slog.Int64("order_id", ev.OrderID),
		slog.Int("items", len(ev.Items)),
	)
}

// parseItems reads product:quantity:price arguments.
func parseItems(args []string) ([]messaging.OrderItemEvent, error) {
	items := make([]messaging.OrderItemEvent, 0, len(args))
	for _, arg := range args {
		i := strings.LastIndex(arg, ":")
		j := strings.LastIndex(arg[:max(i, 0)], ":")
		if i < 0 || j < 0 {
			return nil, fmt.Errorf("item %q: want product:quantity:price", arg)
		}
		qty, err := strconv.Atoi(arg[j+1 : i])
		if err != nil {
			return nil, fmt.Errorf("item %q: quantity: %w", arg, err)
		}
		price, err := decimal.NewFromString(arg[i+1:])
		if err != nil {
			return nil, fmt.Errorf("item %q: price: %w", arg, err)
		}
		items = append(items, messaging.OrderItemEvent{Product: arg[:j], Quantity: qty, Price: price})
	}
	return items, nil
}
