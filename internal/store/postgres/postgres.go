// Package postgres stores order records in PostgreSQL through pgx and runs
// aggregation pipelines as SQL on the server.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nsridhar76/go-orderms/internal/aggregate"
	"github.com/nsridhar76/go-orderms/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS tb_orders (
    order_id    BIGINT PRIMARY KEY,
    customer_id BIGINT NOT NULL,
    items       JSONB NOT NULL,
    total       NUMERIC NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tb_orders_customer_id ON tb_orders(customer_id);
`

// columns maps record field names to tb_orders columns. Pipelines may only
// reference these fields.
var columns = map[string]string{
	"orderId":    "order_id",
	"customerId": "customer_id",
	"total":      "total",
}

// dbtx is the part of *pgxpool.Pool the store queries through.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Store implements domain.OrderRepository and aggregate.Runner.
type Store struct {
	pool *pgxpool.Pool
	db   dbtx
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// EnsureSchema creates tb_orders and its index when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Save inserts the order. An order id that is already stored is left as is.
func (s *Store) Save(ctx context.Context, order domain.Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("%w: encode items of order %d: %w", domain.ErrStoreUnavailable, order.OrderID, err)
	}

	const query = `
		INSERT INTO tb_orders (order_id, customer_id, items, total)
		VALUES ($1, $2, $3::text::jsonb, $4::text::numeric)
		ON CONFLICT (order_id) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query, order.OrderID, order.CustomerID, string(items), order.Total.String()); err != nil {
		return fmt.Errorf("%w: save order %d: %w", domain.ErrStoreUnavailable, order.OrderID, err)
	}
	return nil
}

// FindByCustomerID counts and pages inside one read-only snapshot so that
// TotalElements always describes the rows the page was cut from.
func (s *Store) FindByCustomerID(ctx context.Context, customerID int64, page domain.PageRequest) (domain.OrderPage, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.OrderPage{}, fmt.Errorf("%w: begin read of customer %d: %w", domain.ErrStoreUnavailable, customerID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var total int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM tb_orders WHERE customer_id = $1`, customerID).Scan(&total); err != nil {
		return domain.OrderPage{}, fmt.Errorf("%w: count orders of customer %d: %w", domain.ErrStoreUnavailable, customerID, err)
	}

	const query = `
		SELECT order_id, customer_id, items::text, total::text
		FROM tb_orders
		WHERE customer_id = $1
		ORDER BY order_id
		LIMIT $2 OFFSET $3
	`
	rows, err := tx.Query(ctx, query, customerID, page.Size, page.Offset())
	if err != nil {
		return domain.OrderPage{}, fmt.Errorf("%w: find orders of customer %d: %w", domain.ErrStoreUnavailable, customerID, err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return domain.OrderPage{}, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return domain.OrderPage{}, fmt.Errorf("%w: find orders of customer %d: %w", domain.ErrStoreUnavailable, customerID, err)
	}

	return domain.NewOrderPage(orders, page, total), nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o            domain.Order
		items, total string
	)
	if err := row.Scan(&o.OrderID, &o.CustomerID, &items, &total); err != nil {
		return domain.Order{}, fmt.Errorf("%w: scan order: %w", domain.ErrStoreUnavailable, err)
	}
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return domain.Order{}, fmt.Errorf("%w: decode items of order %d: %w", domain.ErrStoreUnavailable, o.OrderID, err)
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: decode total of order %d: %w", domain.ErrStoreUnavailable, o.OrderID, err)
	}
	o.Total = d
	return o, nil
}

// Aggregate runs p as a single grouped SELECT. No row comes back when no
// record matched.
func (s *Store) Aggregate(ctx context.Context, p aggregate.Pipeline) (aggregate.Document, bool, error) {
	query, args, err := renderAggregate(p)
	if err != nil {
		return nil, false, err
	}

	var sum *string
	err = s.db.QueryRow(ctx, query, args...).Scan(&sum)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: aggregate %s: %w", domain.ErrStoreUnavailable, p, err)
	}

	doc := aggregate.Document{p.Group.As: nil}
	if sum != nil {
		doc[p.Group.As] = *sum
	}
	return doc, true, nil
}

// renderAggregate translates a pipeline into SQL. HAVING without GROUP BY
// folds all matched rows into one group and drops it when nothing matched.
func renderAggregate(p aggregate.Pipeline) (string, []any, error) {
	if p.Collection != aggregate.OrdersCollection {
		return "", nil, fmt.Errorf("%w: postgres: unknown collection %q", domain.ErrStoreUnavailable, p.Collection)
	}
	matchCol, ok := columns[p.Match.Field]
	if !ok {
		return "", nil, fmt.Errorf("%w: postgres: unknown field %q", domain.ErrStoreUnavailable, p.Match.Field)
	}
	sumCol, ok := columns[p.Group.Sum]
	if !ok {
		return "", nil, fmt.Errorf("%w: postgres: unknown field %q", domain.ErrStoreUnavailable, p.Group.Sum)
	}

	query := fmt.Sprintf(
		"SELECT SUM(%s)::text FROM %s WHERE %s = $1 HAVING COUNT(*) > 0",
		sumCol, p.Collection, matchCol,
	)
	return query, []any{p.Match.Value}, nil
}
