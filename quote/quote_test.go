package quote_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sales-engine/crm"
	"github.com/warp/sales-engine/crm/store"
	"github.com/warp/sales-engine/factory"
	"github.com/warp/sales-engine/quote"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.June, 2, 14, 0, 0, 0, time.UTC)

type fixture struct {
	ctx    context.Context
	engine *factory.Engine
	opp    *crm.Opportunity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		engine: factory.NewEngine(store.NewTxMemory(), factory.Options{Clock: crm.FixedClock(testNow)}),
	}
	acct, err := f.engine.Customers.CreateAccount(f.ctx, crm.NewAccount{Name: "Contoso"})
	require.NoError(t, err)
	f.opp, err = f.engine.Opportunities.Create(f.ctx, crm.NewOpportunity{
		Name:           "Fleet renewal",
		CustomerID:     acct.ID,
		CustomerIDType: crm.CustomerAccount,
		EstimatedValue: crm.Money("5000"),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) draft(t *testing.T) *crm.Quote {
	t.Helper()
	q, err := f.engine.Quotes.Create(f.ctx, crm.NewQuote{OpportunityID: f.opp.ID, PaymentTermsCode: "Net45"})
	require.NoError(t, err)
	return q
}

func line(qty, price string) crm.LineInput {
	return crm.LineInput{ProductDescription: "Widget", Quantity: crm.Money(qty), PricePerUnit: crm.Money(price)}
}

func sumExtended(lines []*crm.QuoteDetail) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.ExtendedAmount)
	}
	return total
}

// assertHeaderMatchesLines checks that the header total equals the sum of line
// extended amounts (no freight on these quotes).
func (f *fixture) assertHeaderMatchesLines(t *testing.T, quoteID string) *crm.Quote {
	t.Helper()
	q, err := f.engine.Quotes.Get(f.ctx, quoteID)
	require.NoError(t, err)
	lines, err := f.engine.Quotes.Lines(f.ctx, quoteID)
	require.NoError(t, err)
	assert.True(t, sumExtended(lines).Equal(q.TotalAmount), "header %s, lines %s", q.TotalAmount, sumExtended(lines))
	return q
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_InheritsFromOpportunity(t *testing.T) {
	f := newFixture(t)

	q := f.draft(t)

	assert.Equal(t, crm.QuoteDraft, q.StateCode)
	assert.Equal(t, f.opp.CustomerID, q.CustomerID)
	assert.Equal(t, crm.CustomerAccount, q.CustomerIDType)
	assert.Equal(t, "Fleet renewal", q.Name)
	assert.Regexp(t, `^QUO-[0-9A-F]{8}$`, q.QuoteNumber)
	assert.True(t, q.TotalAmount.IsZero())
}

func TestCreate_Rejects(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Quotes.Create(f.ctx, crm.NewQuote{OpportunityID: "ghost"})
	assert.True(t, crm.IsNotFound(err))

	_, err = f.engine.Quotes.Create(f.ctx, crm.NewQuote{OpportunityID: f.opp.ID, FreightAmount: crm.Money("-1")})
	assert.ErrorIs(t, err, crm.ErrValidation)
}

// =============================================================================
// LINES
// =============================================================================

func TestLines_HeaderTracksEveryMutation(t *testing.T) {
	// GIVEN: A draft quote
	// WHEN: Lines are added, repriced and removed
	// THEN: totalamount equals the sum of extended amounts after every step

	f := newFixture(t)
	q := f.draft(t)

	a, err := f.engine.Quotes.AddLine(f.ctx, q.ID, line("2", "100"))
	require.NoError(t, err)
	assert.Equal(t, 1, a.LineItemNumber)
	f.assertHeaderMatchesLines(t, q.ID)

	b, err := f.engine.Quotes.AddLine(f.ctx, q.ID, crm.LineInput{
		Quantity:             crm.Money("10"),
		PricePerUnit:         crm.Money("100"),
		ManualDiscountAmount: crm.Money("50"),
		VolumeDiscountAmount: crm.Money("25"),
		Tax:                  crm.Money("70"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, b.LineItemNumber)
	assert.True(t, crm.Money("995").Equal(b.ExtendedAmount))
	got := f.assertHeaderMatchesLines(t, q.ID)
	assert.True(t, crm.Money("1195").Equal(got.TotalAmount))
	assert.True(t, crm.Money("75").Equal(got.DiscountAmount))
	assert.True(t, crm.Money("70").Equal(got.TotalTax))
	assert.True(t, crm.Money("1200").Equal(got.TotalLineItemAmount))

	_, err = f.engine.Quotes.UpdateLine(f.ctx, q.ID, a.ID, line("3", "100"))
	require.NoError(t, err)
	got = f.assertHeaderMatchesLines(t, q.ID)
	assert.True(t, crm.Money("1295").Equal(got.TotalAmount))

	require.NoError(t, f.engine.Quotes.RemoveLine(f.ctx, q.ID, b.ID))
	got = f.assertHeaderMatchesLines(t, q.ID)
	assert.True(t, crm.Money("300").Equal(got.TotalAmount))

	c, err := f.engine.Quotes.AddLine(f.ctx, q.ID, line("1", "1"))
	require.NoError(t, err)
	assert.Equal(t, 2, c.LineItemNumber)
}

func TestLines_InvalidLineLeavesHeaderUntouched(t *testing.T) {
	f := newFixture(t)
	q := f.draft(t)
	_, err := f.engine.Quotes.AddLine(f.ctx, q.ID, line("1", "100"))
	require.NoError(t, err)

	_, err = f.engine.Quotes.AddLine(f.ctx, q.ID, crm.LineInput{Quantity: crm.Money("1"), PricePerUnit: crm.Money("10"), ManualDiscountAmount: crm.Money("11")})
	assert.ErrorIs(t, err, crm.ErrValidation)

	got := f.assertHeaderMatchesLines(t, q.ID)
	assert.True(t, crm.Money("100").Equal(got.TotalAmount))
}

func TestLines_MissingLine_NotFound(t *testing.T) {
	f := newFixture(t)
	q := f.draft(t)

	_, err := f.engine.Quotes.UpdateLine(f.ctx, q.ID, "ghost", line("1", "1"))
	assert.True(t, crm.IsNotFound(err))
	assert.True(t, crm.IsNotFound(f.engine.Quotes.RemoveLine(f.ctx, q.ID, "ghost")))
}

func TestLines_InheritHeaderOwner(t *testing.T) {
	// GIVEN: A draft quote owned by u1
	f := newFixture(t)
	q, err := f.engine.Quotes.Create(f.ctx, crm.NewQuote{OpportunityID: f.opp.ID, OwnerID: "u1"})
	require.NoError(t, err)

	// WHEN: Adding a line
	d, err := f.engine.Quotes.AddLine(f.ctx, q.ID, line("1", "100"))
	require.NoError(t, err)

	// THEN: The stored line carries the same owner
	assert.Equal(t, "u1", d.OwnerID)
	lines, err := f.engine.Quotes.Lines(f.ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "u1", lines[0].OwnerID)
}

func TestUpdate_FreightRecomputesTotal(t *testing.T) {
	f := newFixture(t)
	q := f.draft(t)
	_, err := f.engine.Quotes.AddLine(f.ctx, q.ID, line("1", "100"))
	require.NoError(t, err)

	freight := crm.Money("15")
	got, err := f.engine.Quotes.Update(f.ctx, q.ID, crm.DocumentUpdate{FreightAmount: &freight})
	require.NoError(t, err)

	assert.True(t, crm.Money("100").Equal(got.TotalAmountLessFreight))
	assert.True(t, crm.Money("115").Equal(got.TotalAmount))
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func TestActivate_NeedsLines(t *testing.T) {
	f := newFixture(t)
	q := f.draft(t)

	_, err := f.engine.Quotes.Activate(f.ctx, q.ID)
	assert.ErrorIs(t, err, crm.ErrValidation)

	_, err = f.engine.Quotes.AddLine(f.ctx, q.ID, line("1", "100"))
	require.NoError(t, err)
	got, err := f.engine.Quotes.Activate(f.ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, crm.QuoteActive, got.StateCode)
}

func TestActiveQuote_IsLocked(t *testing.T) {
	f := newFixture(t)
	q := f.draft(t)
	l, err := f.engine.Quotes.AddLine(f.ctx, q.ID, line("1", "100"))
	require.NoError(t, err)
	_, err = f.engine.Quotes.Activate(f.ctx, q.ID)
	require.NoError(t, err)

	_, err = f.engine.Quotes.AddLine(f.ctx, q.ID, line("1", "1"))
	assert.ErrorIs(t, err, crm.ErrInvalidState)
	_, err = f.engine.Quotes.UpdateLine(f.ctx, q.ID, l.ID, line("1", "1"))
	assert.ErrorIs(t, err, crm.ErrInvalidState)
	assert.ErrorIs(t, f.engine.Quotes.Delete(f.ctx, q.ID), crm.ErrInvalidState)
	_, err = f.engine.Quotes.Activate(f.ctx, q.ID)
	assert.ErrorIs(t, err, crm.ErrInvalidState)
}

func TestWin_CopiesLinesVerbatimIntoOrder(t *testing.T) {
	// GIVEN: An active quote with two priced lines
	// WHEN: Won
	// THEN: The quote is Won and one order carries identical lines and totals

	f := newFixture(t)
	q := f.draft(t)
	_, err := f.engine.Quotes.AddLine(f.ctx, q.ID, line("2", "100"))
	require.NoError(t, err)
	_, err = f.engine.Quotes.AddLine(f.ctx, q.ID, crm.LineInput{
		ProductDescription: "Support", Quantity: crm.Money("1"), PricePerUnit: crm.Money("50"), Tax: crm.Money("5"),
	})
	require.NoError(t, err)
	_, err = f.engine.Quotes.Activate(f.ctx, q.ID)
	require.NoError(t, err)

	res, err := f.engine.Quotes.Win(f.ctx, q.ID)
	require.NoError(t, err)

	assert.Equal(t, crm.QuoteWon, res.Quote.StateCode)
	assert.Equal(t, crm.OrderActive, res.Order.StateCode)
	assert.Equal(t, q.ID, res.Order.QuoteID)
	assert.Equal(t, res.Quote.Totals, res.Order.Totals)
	assert.Equal(t, "Net45", res.Order.PaymentTermsCode)

	quoteLines, err := f.engine.Quotes.Lines(f.ctx, q.ID)
	require.NoError(t, err)
	orderLines, err := f.engine.Orders.Lines(f.ctx, res.Order.ID)
	require.NoError(t, err)
	require.Len(t, orderLines, len(quoteLines))
	for i := range quoteLines {
		assert.Equal(t, quoteLines[i].LineItem, orderLines[i].LineItem)
		assert.Equal(t, quoteLines[i].ID, orderLines[i].QuoteDetailID)
	}
}

func TestWin_RequiresActive(t *testing.T) {
	f := newFixture(t)
	q := f.draft(t)

	_, err := f.engine.Quotes.Win(f.ctx, q.ID)
	assert.ErrorIs(t, err, crm.ErrInvalidState)

	orders, err := f.engine.Orders.ListByQuote(f.ctx, q.ID)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

// failingOrders refuses every order.
type failingOrders struct{}

func (failingOrders) CreateFromQuote(context.Context, *crm.Quote, []*crm.QuoteDetail) (*crm.Order, error) {
	return nil, errors.New("order store unavailable")
}

func TestWin_RollsBackWhenOrderCreationFails(t *testing.T) {
	// GIVEN: An active quote and an order service that fails
	// WHEN: Winning the quote
	// THEN: The quote stays Active

	f := newFixture(t)
	q := f.draft(t)
	_, err := f.engine.Quotes.AddLine(f.ctx, q.ID, line("1", "100"))
	require.NoError(t, err)
	_, err = f.engine.Quotes.Activate(f.ctx, q.ID)
	require.NoError(t, err)

	svc := quote.NewService(f.engine.Store, failingOrders{})
	_, err = svc.Win(f.ctx, q.ID)
	require.Error(t, err)

	got, err := f.engine.Quotes.Get(f.ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, crm.QuoteActive, got.StateCode)
}

func TestLose_AppendsReason(t *testing.T) {
	f := newFixture(t)
	q, err := f.engine.Quotes.Create(f.ctx, crm.NewQuote{OpportunityID: f.opp.ID, Description: "Initial offer"})
	require.NoError(t, err)
	_, err = f.engine.Quotes.AddLine(f.ctx, q.ID, line("1", "100"))
	require.NoError(t, err)
	_, err = f.engine.Quotes.Activate(f.ctx, q.ID)
	require.NoError(t, err)

	got, err := f.engine.Quotes.Lose(f.ctx, q.ID, "Went with competitor")
	require.NoError(t, err)

	assert.Equal(t, crm.QuoteLost, got.StateCode)
	assert.Equal(t, "Initial offer\nWent with competitor", got.Description)

	_, err = f.engine.Quotes.Win(f.ctx, q.ID)
	assert.ErrorIs(t, err, crm.ErrInvalidState)
}

func TestDelete_DraftCascadesLines(t *testing.T) {
	f := newFixture(t)
	q := f.draft(t)
	_, err := f.engine.Quotes.AddLine(f.ctx, q.ID, line("1", "100"))
	require.NoError(t, err)

	require.NoError(t, f.engine.Quotes.Delete(f.ctx, q.ID))

	recs, err := f.engine.Store.List(f.ctx, crm.TypeQuoteDetail, crm.Filter{"quoteid": q.ID})
	require.NoError(t, err)
	assert.Empty(t, recs)
}
