// Package aggregate builds the grouped-sum queries the order stores run
// server-side, and extracts their scalar results.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nsridhar76/go-orderms/internal/domain"
)

// OrdersCollection is the collection (table) holding order records.
const OrdersCollection = "tb_orders"

// Match keeps the records whose Field equals Value.
type Match struct {
	Field string
	Value any
}

// Group folds every matched record into a single bucket holding the sum of
// the Sum field under the name As.
type Group struct {
	Sum string
	As  string
}

// Pipeline is a match stage followed by a single-bucket group stage.
type Pipeline struct {
	Collection string
	Match      Match
	Group      Group
}

// CustomerTotal sums the total of every order of the customer.
func CustomerTotal(customerID int64) Pipeline {
	return Pipeline{
		Collection: OrdersCollection,
		Match:      Match{Field: "customerId", Value: customerID},
		Group:      Group{Sum: "total", As: "total"},
	}
}

// String renders the pipeline in document-store notation, e.g.
//
//	[{"$match":{"customerId":1}},{"$group":{"_id":null,"total":{"$sum":"$total"}}}]
func (p Pipeline) String() string {
	group := map[string]any{"_id": nil}
	group[p.Group.As] = map[string]any{"$sum": "$" + p.Group.Sum}
	stages := []map[string]any{
		{"$match": map[string]any{p.Match.Field: p.Match.Value}},
		{"$group": group},
	}
	b, err := json.Marshal(stages)
	if err != nil {
		return fmt.Sprintf("%s: %v", p.Collection, err)
	}
	return string(b)
}

// Document is one result row of an aggregation.
type Document map[string]any

// Runner executes a pipeline against a store. found is false when no record
// matched, in which case the document is nil.
type Runner interface {
	Aggregate(ctx context.Context, p Pipeline) (doc Document, found bool, err error)
}

// Total runs p and returns its summed field. A pipeline that matched nothing
// yields zero. Runner errors are returned unchanged.
func Total(ctx context.Context, r Runner, p Pipeline) (decimal.Decimal, error) {
	doc, found, err := r.Aggregate(ctx, p)
	if err != nil {
		return decimal.Zero, err
	}
	if !found {
		return decimal.Zero, nil
	}
	return toDecimal(doc[p.Group.As])
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, nil
	case decimal.Decimal:
		return x, nil
	case string:
		d, err := decimal.NewFromString(x)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: aggregate result %q: %w", domain.ErrStoreUnavailable, x, err)
		}
		return d, nil
	case int64:
		return decimal.NewFromInt(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: aggregate result of type %T", domain.ErrStoreUnavailable, v)
	}
}
