package aggregate

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsridhar76/go-orderms/internal/domain"
)

type stubRunner struct {
	doc   Document
	found bool
	err   error
	got   []Pipeline
}

func (s *stubRunner) Aggregate(_ context.Context, p Pipeline) (Document, bool, error) {
	s.got = append(s.got, p)
	return s.doc, s.found, s.err
}

func TestCustomerTotal(t *testing.T) {
	p := CustomerTotal(42)

	assert.Equal(t, "tb_orders", p.Collection)
	assert.Equal(t, Match{Field: "customerId", Value: int64(42)}, p.Match)
	assert.Equal(t, Group{Sum: "total", As: "total"}, p.Group)
	assert.Equal(t,
		`[{"$match":{"customerId":42}},{"$group":{"_id":null,"total":{"$sum":"$total"}}}]`,
		p.String())
}

func TestTotal(t *testing.T) {
	ctx := context.Background()

	t.Run("decimal result", func(t *testing.T) {
		r := &stubRunner{doc: Document{"total": decimal.RequireFromString("55.75")}, found: true}
		got, err := Total(ctx, r, CustomerTotal(1))
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("55.75").Equal(got))
		require.Len(t, r.got, 1)
		assert.Equal(t, CustomerTotal(1), r.got[0])
	})

	t.Run("text result", func(t *testing.T) {
		r := &stubRunner{doc: Document{"total": "120.00"}, found: true}
		got, err := Total(ctx, r, CustomerTotal(1))
		require.NoError(t, err)
		assert.Equal(t, "120.00", got.StringFixed(2))
	})

	t.Run("no match is zero", func(t *testing.T) {
		got, err := Total(ctx, &stubRunner{}, CustomerTotal(1))
		require.NoError(t, err)
		assert.True(t, got.IsZero())
	})

	t.Run("runner error propagates", func(t *testing.T) {
		want := errors.Join(domain.ErrStoreUnavailable, context.DeadlineExceeded)
		_, err := Total(ctx, &stubRunner{err: want}, CustomerTotal(1))
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("unexpected type", func(t *testing.T) {
		_, err := Total(ctx, &stubRunner{doc: Document{"total": 1.5}, found: true}, CustomerTotal(1))
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	})
}
