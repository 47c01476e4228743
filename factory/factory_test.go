package factory_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sales-engine/crm"
	"github.com/warp/sales-engine/crm/store"
	"github.com/warp/sales-engine/factory"
)

// =============================================================================
// PAYMENT TERMS
// =============================================================================

func TestParsePaymentTerms_ExtendsStandardTable(t *testing.T) {
	// GIVEN: A table adding Net90 and overriding Net30
	// WHEN: Parsed
	// THEN: New and overridden codes apply, untouched codes keep their days

	terms, err := factory.ParsePaymentTerms(`{
		"default_days": 20,
		"terms": [{"code": "Net90", "days": 90}, {"code": "net30", "days": 31}]
	}`)
	require.NoError(t, err)

	assert.Equal(t, 90, terms.DueDays("NET90"))
	assert.Equal(t, 31, terms.DueDays("Net30"))
	assert.Equal(t, 45, terms.DueDays("Net45"))
	assert.Equal(t, 20, terms.DueDays("unknown"))
}

func TestParsePaymentTerms_Rejects(t *testing.T) {
	cases := map[string]string{
		"malformed":     `{"terms": [`,
		"negative days": `{"terms": [{"code": "net5", "days": -5}]}`,
		"empty code":    `{"terms": [{"code": " ", "days": 5}]}`,
		"duplicate":     `{"terms": [{"code": "net5", "days": 5}, {"code": "NET5", "days": 6}]}`,
		"default":       `{"default_days": -1}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := factory.ParsePaymentTerms(raw)
			assert.Error(t, err)
		})
	}
}

func TestPaymentTermsToJSON_SortedRoundTrip(t *testing.T) {
	terms := crm.NewPaymentTerms(0)
	terms.Set("net7", 7)

	pj := factory.PaymentTermsToJSON(terms)
	assert.Equal(t, crm.DefaultDueDays, pj.DefaultDays)
	require.Len(t, pj.Terms, 5)
	assert.Equal(t, "net15", pj.Terms[0].Code)
	assert.Equal(t, "net7", pj.Terms[4].Code)

	back, err := factory.PaymentTermsFromJSON(pj)
	require.NoError(t, err)
	assert.Equal(t, terms.Codes(), back.Codes())
}

func TestLoadPaymentTerms_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terms.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"terms": [{"code": "net10", "days": 10}]}`), 0o600))

	terms, err := factory.LoadPaymentTerms(path, 30)
	require.NoError(t, err)
	assert.Equal(t, 10, terms.DueDays("net10"))

	_, err = factory.LoadPaymentTerms(filepath.Join(t.TempDir(), "missing.json"), 30)
	assert.Error(t, err)
}

func TestLoadPaymentTerms_DefaultDays(t *testing.T) {
	// GIVEN: One file without default_days and one with it
	dir := t.TempDir()
	bare := filepath.Join(dir, "bare.json")
	require.NoError(t, os.WriteFile(bare, []byte(`{"terms": [{"code": "net10", "days": 10}]}`), 0o600))
	explicit := filepath.Join(dir, "explicit.json")
	require.NoError(t, os.WriteFile(explicit, []byte(`{"default_days": 20, "terms": []}`), 0o600))

	// WHEN: Loading both with a configured fallback of 45 days
	bareTerms, err := factory.LoadPaymentTerms(bare, 45)
	require.NoError(t, err)
	explicitTerms, err := factory.LoadPaymentTerms(explicit, 45)
	require.NoError(t, err)

	// THEN: The fallback only applies when the file leaves the default out
	assert.Equal(t, 45, bareTerms.DefaultDays())
	assert.Equal(t, 45, bareTerms.DueDays("unknown"))
	assert.Equal(t, 10, bareTerms.DueDays("net10"))
	assert.Equal(t, 20, explicitTerms.DefaultDays())
}

// =============================================================================
// ENGINE WIRING
// =============================================================================

func TestNewEngine_SharesStoreAndClock(t *testing.T) {
	// GIVEN: An engine with a fixed clock
	// WHEN: A B2B lead is qualified through it
	// THEN: Customer and opportunity records land in the same store with the fixed timestamps

	now := time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)
	engine := factory.NewEngine(store.NewTxMemory(), factory.Options{Clock: crm.FixedClock(now)})
	ctx := context.Background()

	l, err := engine.Leads.Create(ctx, crm.NewLead{LastName: "Diaz", CompanyName: "Fabrikam"})
	require.NoError(t, err)
	res, err := engine.Leads.Qualify(ctx, l.ID, crm.QualifyOptions{CreateAccount: true})
	require.NoError(t, err)

	acct, err := engine.Customers.GetAccount(ctx, res.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, now, acct.CreatedOn)

	opp, err := engine.Opportunities.Get(ctx, res.Opportunity.ID)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, opp.CustomerID)
	assert.Equal(t, crm.DefaultDueDays, engine.Terms.DueDays(""))
}

func TestNewEngine_CollaboratorsShareStore(t *testing.T) {
	// GIVEN: An engine over one store
	s := store.NewTxMemory()
	engine := factory.NewEngine(s, factory.Options{})

	// THEN: Every collaborator that runs inside another service's transaction
	// is the wired service itself, built on that same store
	assert.Same(t, engine.Orders, engine.Invoices.Orders)
	assert.Same(t, engine.Orders, engine.Quotes.Orders)
	assert.Same(t, engine.Customers, engine.Leads.Customers)
	assert.Same(t, engine.Opportunities, engine.Leads.Opportunities)
	for name, got := range map[string]crm.EntityStore{
		"customers":     engine.Customers.Store,
		"leads":         engine.Leads.Store,
		"opportunities": engine.Opportunities.Store,
		"quotes":        engine.Quotes.Store,
		"orders":        engine.Orders.Store,
		"invoices":      engine.Invoices.Store,
	} {
		assert.Same(t, s, got, name)
	}
}
