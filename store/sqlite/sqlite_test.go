package sqlite_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sales-engine/crm"
	"github.com/warp/sales-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func order(id, quoteID string, state crm.OrderState) *crm.Order {
	return &crm.Order{ID: id, QuoteID: quoteID, StateCode: state, OrderNumber: crm.DocumentNumber("ORD", id)}
}

// =============================================================================
// ENTITY STORE TESTS
// =============================================================================

func TestSQLite_PutGetRoundTrip(t *testing.T) {
	// GIVEN: An order with a decimal total saved through the typed helper
	ctx := context.Background()
	store := newTestStore(t)
	o := order("o1", "q1", crm.OrderActive)
	o.TotalAmount = crm.Money("1080.50")
	require.NoError(t, crm.Save(ctx, store, o))

	// WHEN: Loading it back
	got, err := crm.Load[crm.Order](ctx, store, crm.TypeOrder, "o1")

	// THEN: Fields and refs survive
	require.NoError(t, err)
	assert.Equal(t, "q1", got.QuoteID)
	assert.True(t, crm.Money("1080.50").Equal(got.TotalAmount))

	rec, err := store.Get(ctx, crm.TypeOrder, "o1")
	require.NoError(t, err)
	assert.Equal(t, "q1", rec.Refs["quoteid"])
}

func TestSQLite_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), crm.TypeOrder, "nope")
	assert.ErrorIs(t, err, crm.ErrRecordNotFound)
	assert.ErrorIs(t, store.Remove(context.Background(), crm.TypeOrder, "nope"), crm.ErrRecordNotFound)
}

func TestSQLite_ListByRefKeepsInsertionOrderAcrossUpdates(t *testing.T) {
	// GIVEN: Orders b, a, c where b and c come from q1, and b is updated last
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, crm.Save(ctx, store, order("b", "q1", crm.OrderActive)))
	require.NoError(t, crm.Save(ctx, store, order("a", "q2", crm.OrderActive)))
	require.NoError(t, crm.Save(ctx, store, order("c", "q1", crm.OrderActive)))
	require.NoError(t, crm.Save(ctx, store, order("b", "q1", crm.OrderSubmitted)))

	// WHEN: Listing by quote
	recs, err := store.List(ctx, crm.TypeOrder, crm.Filter{"quoteid": "q1"})

	// THEN: Only q1 orders, in first-insertion order
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[0].ID)
	assert.Equal(t, "c", recs[1].ID)

	n, err := store.Count(ctx, crm.TypeOrder)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSQLite_UpdateRewritesRefIndex(t *testing.T) {
	// GIVEN: An invoice indexed under statecode Active
	ctx := context.Background()
	store := newTestStore(t)
	inv := &crm.Invoice{ID: "i1", SalesOrderID: "o1", StateCode: crm.InvoiceActive}
	require.NoError(t, crm.Save(ctx, store, inv))

	// WHEN: It moves to Paid
	inv.StateCode = crm.InvoicePaid
	require.NoError(t, crm.Save(ctx, store, inv))

	// THEN: The old index entry is gone
	active, err := store.List(ctx, crm.TypeInvoice, crm.Filter{"statecode": "Active"})
	require.NoError(t, err)
	assert.Empty(t, active)
	paid, err := store.List(ctx, crm.TypeInvoice, crm.Filter{"statecode": "Paid", "salesorderid": "o1"})
	require.NoError(t, err)
	assert.Len(t, paid, 1)
}

func TestSQLite_RemoveDropsRefs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, crm.Save(ctx, store, order("o1", "q1", crm.OrderActive)))

	require.NoError(t, store.Remove(ctx, crm.TypeOrder, "o1"))

	recs, err := store.List(ctx, crm.TypeOrder, crm.Filter{"quoteid": "q1"})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestSQLite_WithTxRollsBack(t *testing.T) {
	// GIVEN: A stored order
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, crm.Save(ctx, store, order("o1", "q1", crm.OrderActive)))

	// WHEN: An atomic unit writes, reads its own write, then fails
	boom := errors.New("boom")
	err := crm.Atomic(ctx, store, func(ctx context.Context, tx crm.EntityStore) error {
		require.NoError(t, crm.Save(ctx, tx, &crm.Invoice{ID: "i1", SalesOrderID: "o1", StateCode: crm.InvoiceActive}))
		require.NoError(t, tx.Remove(ctx, crm.TypeOrder, "o1"))
		found, err := crm.Find[crm.Invoice](ctx, tx, crm.TypeInvoice, crm.Filter{"salesorderid": "o1"})
		require.NoError(t, err)
		assert.Len(t, found, 1)
		return boom
	})

	// THEN: Both writes are undone
	assert.ErrorIs(t, err, boom)
	_, err = store.Get(ctx, crm.TypeInvoice, "i1")
	assert.ErrorIs(t, err, crm.ErrRecordNotFound)
	_, err = store.Get(ctx, crm.TypeOrder, "o1")
	assert.NoError(t, err)
}

func TestSQLite_WithTxCommits(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	err := store.WithTx(ctx, func(tx crm.EntityStore) error {
		return crm.Save(ctx, tx, order("o1", "q1", crm.OrderActive))
	})
	require.NoError(t, err)

	_, err = store.Get(ctx, crm.TypeOrder, "o1")
	assert.NoError(t, err)
}

func TestSQLite_Reset(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, crm.Save(ctx, store, order("o1", "q1", crm.OrderActive)))

	require.NoError(t, store.Reset(ctx))

	n, err := store.Count(ctx, crm.TypeOrder)
	require.NoError(t, err)
	assert.Zero(t, n)
}
