package lead_test

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
	"github.com/warp/sales-engine/lead"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.April, 1, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *factory.Engine {
	t.Helper()
	return factory.NewEngine(store.NewTxMemory(), factory.Options{Clock: crm.FixedClock(testNow)})
}

func count(t *testing.T, s crm.EntityStore, typ crm.EntityType) int {
	t.Helper()
	recs, err := s.List(context.Background(), typ, nil)
	require.NoError(t, err)
	return len(recs)
}

func b2bLead(t *testing.T, e *factory.Engine) *crm.Lead {
	t.Helper()
	l, err := e.Leads.Create(context.Background(), crm.NewLead{
		FirstName:      "Ana",
		LastName:       "Diaz",
		CompanyName:    "Contoso",
		Subject:        "Fleet renewal",
		EstimatedValue: crm.Money("50000"),
	})
	require.NoError(t, err)
	return l
}

func b2cLead(t *testing.T, e *factory.Engine) *crm.Lead {
	t.Helper()
	l, err := e.Leads.Create(context.Background(), crm.NewLead{
		FirstName:      "Sam",
		LastName:       "Lee",
		EstimatedValue: crm.Money("1200"),
	})
	require.NoError(t, err)
	return l
}

// =============================================================================
// CREATE + UPDATE
// =============================================================================

func TestCreate_NeedsLastNameOrCompany(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Leads.Create(context.Background(), crm.NewLead{FirstName: "Only"})
	assert.ErrorIs(t, err, crm.ErrValidation)

	l, err := e.Leads.Create(context.Background(), crm.NewLead{CompanyName: "Northwind"})
	require.NoError(t, err)
	assert.Equal(t, crm.LeadOpen, l.StateCode)
	assert.Equal(t, testNow, l.CreatedOn)
}

func TestCreate_RejectsNegativeValue(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Leads.Create(context.Background(), crm.NewLead{LastName: "Lee", EstimatedValue: crm.Money("-1")})
	var verr *crm.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Problems, "estimatedvalue must not be negative")
}

func TestUpdate_OnlyWhileOpen(t *testing.T) {
	// GIVEN: A lead that was disqualified
	// WHEN: Updating it
	// THEN: InvalidStateError

	e := newTestEngine(t)
	ctx := context.Background()
	l := b2cLead(t, e)

	subject := "Kitchen remodel"
	updated, err := e.Leads.Update(ctx, l.ID, crm.LeadUpdate{Subject: &subject})
	require.NoError(t, err)
	assert.Equal(t, subject, updated.Subject)

	_, err = e.Leads.Disqualify(ctx, l.ID, "")
	require.NoError(t, err)

	_, err = e.Leads.Update(ctx, l.ID, crm.LeadUpdate{Subject: &subject})
	assert.ErrorIs(t, err, crm.ErrInvalidState)
}

// =============================================================================
// QUALIFY
// =============================================================================

func TestQualify_B2B_CreatesExactlyOneAccount(t *testing.T) {
	// GIVEN: An open lead with a company name
	// WHEN: Qualified with account and contact creation
	// THEN: One account, one contact under it, and one opportunity on the account

	e := newTestEngine(t)
	ctx := context.Background()
	l := b2bLead(t, e)

	res, err := e.Leads.Qualify(ctx, l.ID, crm.QualifyOptions{CreateAccount: true, CreateContact: true})
	require.NoError(t, err)

	assert.Equal(t, 1, count(t, e.Store, crm.TypeAccount))
	assert.Equal(t, 1, count(t, e.Store, crm.TypeContact))
	assert.Equal(t, 1, count(t, e.Store, crm.TypeOpportunity))

	assert.Equal(t, "Contoso", res.Account.Name)
	assert.Equal(t, l.ID, res.Account.OriginatingLeadID)
	assert.Equal(t, res.Account.ID, res.Contact.ParentCustomerID)

	assert.Equal(t, res.Account.ID, res.Opportunity.CustomerID)
	assert.Equal(t, crm.CustomerAccount, res.Opportunity.CustomerIDType)
	assert.Equal(t, "Fleet renewal", res.Opportunity.Name)
	assert.True(t, decimal.RequireFromString("50000").Equal(res.Opportunity.EstimatedValue))
	assert.Equal(t, crm.StageQualify, res.Opportunity.SalesStage)

	stored, err := e.Leads.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, crm.LeadQualified, stored.StateCode)
	assert.Equal(t, res.Opportunity.ID, stored.QualifyingOpportunityID)
	assert.Equal(t, res.Account.ID, stored.ParentAccountID)
	assert.Equal(t, res.Contact.ID, stored.ParentContactID)
}

func TestQualify_B2C_NeverCreatesAccount(t *testing.T) {
	// GIVEN: A lead without a company
	// WHEN: Qualified with contact creation
	// THEN: No account exists and the opportunity is billed to the contact

	e := newTestEngine(t)
	ctx := context.Background()
	l := b2cLead(t, e)

	res, err := e.Leads.Qualify(ctx, l.ID, crm.QualifyOptions{CreateContact: true})
	require.NoError(t, err)

	assert.Equal(t, 0, count(t, e.Store, crm.TypeAccount))
	assert.Nil(t, res.Account)
	assert.Equal(t, res.Contact.ID, res.Opportunity.CustomerID)
	assert.Equal(t, crm.CustomerContact, res.Opportunity.CustomerIDType)
	assert.Equal(t, "Sam Lee", res.Opportunity.Name)
}

func TestQualify_B2C_AccountRequestRejectedWithoutSideEffects(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	l := b2cLead(t, e)

	_, err := e.Leads.Qualify(ctx, l.ID, crm.QualifyOptions{CreateAccount: true, CreateContact: true})
	assert.ErrorIs(t, err, crm.ErrValidation)

	assert.Equal(t, 0, count(t, e.Store, crm.TypeAccount))
	assert.Equal(t, 0, count(t, e.Store, crm.TypeContact))
	stored, err := e.Leads.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, crm.LeadOpen, stored.StateCode)
}

func TestQualify_OptionConflicts(t *testing.T) {
	cases := map[string]struct {
		lead func(*testing.T, *factory.Engine) *crm.Lead
		opts crm.QualifyOptions
	}{
		"private lead without customer": {b2cLead, crm.QualifyOptions{}},
		"account conflict":              {b2bLead, crm.QualifyOptions{CreateAccount: true, ExistingAccountID: "acct-1"}},
		"contact conflict":              {b2bLead, crm.QualifyOptions{CreateContact: true, ExistingContactID: "contact-1"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			e := newTestEngine(t)
			l := tc.lead(t, e)

			_, err := e.Leads.Qualify(context.Background(), l.ID, tc.opts)
			assert.ErrorIs(t, err, crm.ErrValidation)
			assert.Equal(t, 0, count(t, e.Store, crm.TypeAccount))
			assert.Equal(t, 0, count(t, e.Store, crm.TypeOpportunity))
		})
	}
}

func TestQualify_B2B_EveryOptionSetEndsWithOneAccount(t *testing.T) {
	// GIVEN: A company lead and each way of choosing its customer records
	// WHEN: Qualifying
	// THEN: Exactly one account exists, it is the opportunity's customer and the lead's parent

	cases := map[string]func(*testing.T, *factory.Engine) crm.QualifyOptions{
		"nothing requested": func(*testing.T, *factory.Engine) crm.QualifyOptions {
			return crm.QualifyOptions{}
		},
		"contact only": func(*testing.T, *factory.Engine) crm.QualifyOptions {
			return crm.QualifyOptions{CreateContact: true}
		},
		"existing contact only": func(t *testing.T, e *factory.Engine) crm.QualifyOptions {
			c, err := e.Customers.CreateContact(context.Background(), crm.NewContact{LastName: "Diaz"})
			require.NoError(t, err)
			return crm.QualifyOptions{ExistingContactID: c.ID}
		},
		"existing account only": func(t *testing.T, e *factory.Engine) crm.QualifyOptions {
			a, err := e.Customers.CreateAccount(context.Background(), crm.NewAccount{Name: "Contoso"})
			require.NoError(t, err)
			return crm.QualifyOptions{ExistingAccountID: a.ID}
		},
		"create account": func(*testing.T, *factory.Engine) crm.QualifyOptions {
			return crm.QualifyOptions{CreateAccount: true}
		},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			e := newTestEngine(t)
			ctx := context.Background()
			l := b2bLead(t, e)

			res, err := e.Leads.Qualify(ctx, l.ID, opts(t, e))
			require.NoError(t, err)

			assert.Equal(t, 1, count(t, e.Store, crm.TypeAccount))
			require.NotNil(t, res.Account)
			assert.Equal(t, res.Account.ID, res.Opportunity.CustomerID)
			assert.Equal(t, crm.CustomerAccount, res.Opportunity.CustomerIDType)
			assert.Equal(t, res.Account.ID, res.Lead.ParentAccountID)
		})
	}
}

func TestQualify_LinksExistingAccount(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	acct, err := e.Customers.CreateAccount(ctx, crm.NewAccount{Name: "Contoso"})
	require.NoError(t, err)
	l := b2bLead(t, e)

	res, err := e.Leads.Qualify(ctx, l.ID, crm.QualifyOptions{ExistingAccountID: acct.ID, CreateContact: true})
	require.NoError(t, err)

	assert.Equal(t, 1, count(t, e.Store, crm.TypeAccount))
	assert.Equal(t, acct.ID, res.Opportunity.CustomerID)
	assert.Equal(t, acct.ID, res.Contact.ParentCustomerID)
}

func TestQualify_MissingExistingAccount_NotFound(t *testing.T) {
	e := newTestEngine(t)
	l := b2bLead(t, e)

	_, err := e.Leads.Qualify(context.Background(), l.ID, crm.QualifyOptions{ExistingAccountID: "nope", CreateContact: true})
	assert.True(t, crm.IsNotFound(err))
	assert.Equal(t, 0, count(t, e.Store, crm.TypeContact))
}

func TestQualify_Twice_InvalidState(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	l := b2bLead(t, e)

	_, err := e.Leads.Qualify(ctx, l.ID, crm.QualifyOptions{CreateAccount: true})
	require.NoError(t, err)

	_, err = e.Leads.Qualify(ctx, l.ID, crm.QualifyOptions{CreateAccount: true})
	assert.ErrorIs(t, err, crm.ErrInvalidState)
	assert.Equal(t, 1, count(t, e.Store, crm.TypeAccount))
}

// failingOpportunities lets customer creation succeed and then fails.
type failingOpportunities struct{}

func (failingOpportunities) Create(context.Context, crm.NewOpportunity) (*crm.Opportunity, error) {
	return nil, errors.New("opportunity store unavailable")
}

func TestQualify_RollsBackWhenOpportunityFails(t *testing.T) {
	// GIVEN: Account and contact creation succeed but opportunity creation fails
	// WHEN: Qualifying
	// THEN: The account and contact are rolled back and the lead stays open

	e := newTestEngine(t)
	ctx := context.Background()
	l := b2bLead(t, e)

	svc := lead.NewService(e.Store, e.Customers, failingOpportunities{})
	_, err := svc.Qualify(ctx, l.ID, crm.QualifyOptions{CreateAccount: true, CreateContact: true})
	require.Error(t, err)

	assert.Equal(t, 0, count(t, e.Store, crm.TypeAccount))
	assert.Equal(t, 0, count(t, e.Store, crm.TypeContact))
	stored, err := e.Leads.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, crm.LeadOpen, stored.StateCode)
	assert.Empty(t, stored.QualifyingOpportunityID)
}

// =============================================================================
// DISQUALIFY
// =============================================================================

func TestDisqualify(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	l := b2cLead(t, e)

	got, err := e.Leads.Disqualify(ctx, l.ID, "  ")
	require.NoError(t, err)
	assert.Equal(t, crm.LeadDisqualified, got.StateCode)
	assert.Equal(t, "Disqualified", got.StatusCode)

	_, err = e.Leads.Qualify(ctx, l.ID, crm.QualifyOptions{CreateContact: true})
	assert.ErrorIs(t, err, crm.ErrInvalidState)
	assert.Equal(t, 0, count(t, e.Store, crm.TypeContact))
}

func TestDisqualify_Missing(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Leads.Disqualify(context.Background(), "missing", "No budget")
	var nf *crm.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, crm.TypeLead, nf.Type)
}
