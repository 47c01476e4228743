package redis_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sales-engine/crm"
	"github.com/warp/sales-engine/store/redis"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// newTestStore needs a live server: REDIS_URL=redis://localhost:6379/15 go test ./store/redis
func newTestStore(t *testing.T) *redis.Store {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	store, err := redis.New(ctx, url, "crmtest:"+crm.NewID())
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Reset(ctx)
		store.Close()
	})
	return store
}

func detail(id, quoteID string, n int) *crm.QuoteDetail {
	return &crm.QuoteDetail{ID: id, QuoteID: quoteID, LineItem: crm.LineItem{LineItemNumber: n}}
}

// =============================================================================
// ENTITY STORE TESTS
// =============================================================================

func TestRedis_PutGetRemove(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, crm.Save(ctx, store, detail("d1", "q1", 1)))

	got, err := crm.Load[crm.QuoteDetail](ctx, store, crm.TypeQuoteDetail, "d1")
	require.NoError(t, err)
	assert.Equal(t, "q1", got.QuoteID)

	require.NoError(t, store.Remove(ctx, crm.TypeQuoteDetail, "d1"))
	_, err = store.Get(ctx, crm.TypeQuoteDetail, "d1")
	assert.ErrorIs(t, err, crm.ErrRecordNotFound)
	assert.ErrorIs(t, store.Remove(ctx, crm.TypeQuoteDetail, "d1"), crm.ErrRecordNotFound)
}

func TestRedis_ListByRefInInsertionOrder(t *testing.T) {
	// GIVEN: Lines on two quotes, one moved to another quote after insertion
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, crm.Save(ctx, store, detail("c", "q1", 1)))
	require.NoError(t, crm.Save(ctx, store, detail("a", "q1", 2)))
	require.NoError(t, crm.Save(ctx, store, detail("b", "q2", 1)))
	require.NoError(t, crm.Save(ctx, store, detail("a", "q2", 2)))

	// WHEN: Listing by quote
	q1, err := store.List(ctx, crm.TypeQuoteDetail, crm.Filter{"quoteid": "q1"})
	require.NoError(t, err)
	q2, err := store.List(ctx, crm.TypeQuoteDetail, crm.Filter{"quoteid": "q2"})
	require.NoError(t, err)

	// THEN: The stale index entry is gone and order is first insertion
	require.Len(t, q1, 1)
	assert.Equal(t, "c", q1[0].ID)
	require.Len(t, q2, 2)
	assert.Equal(t, "a", q2[0].ID)
	assert.Equal(t, "b", q2[1].ID)
}

func TestRedis_TxReadsOwnWritesAndRollsBack(t *testing.T) {
	// GIVEN: One committed line
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, crm.Save(ctx, store, detail("d1", "q1", 1)))

	// WHEN: A transaction adds a line, removes the committed one, lists, then fails
	boom := errors.New("boom")
	err := crm.Atomic(ctx, store, func(ctx context.Context, tx crm.EntityStore) error {
		require.NoError(t, crm.Save(ctx, tx, detail("d2", "q1", 2)))
		require.NoError(t, tx.Remove(ctx, crm.TypeQuoteDetail, "d1"))
		recs, err := tx.List(ctx, crm.TypeQuoteDetail, crm.Filter{"quoteid": "q1"})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "d2", recs[0].ID)
		return boom
	})

	// THEN: Redis never saw the buffered writes
	assert.ErrorIs(t, err, boom)
	recs, err := store.List(ctx, crm.TypeQuoteDetail, crm.Filter{"quoteid": "q1"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "d1", recs[0].ID)
}

func TestRedis_TxCommitsAtomically(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	err := store.WithTx(ctx, func(tx crm.EntityStore) error {
		if err := crm.Save(ctx, tx, detail("d1", "q1", 1)); err != nil {
			return err
		}
		return crm.Save(ctx, tx, detail("d2", "q1", 2))
	})
	require.NoError(t, err)

	lines, err := crm.LoadLines[crm.QuoteDetail](ctx, store, crm.TypeQuoteDetail, "quoteid", "q1")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "d1", lines[0].ID)
}
