/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with a realistic
	pipeline for demos and UI work. Every scenario drives the real lifecycle
	services, so the data always satisfies the ledger invariants.

AVAILABLE SCENARIOS:

	b2b-pipeline:     Company lead qualified to account + contact, quote won,
	                  order fulfilled, invoice partly paid
	b2c-pipeline:     Private lead qualified to a contact only, invoice paid
	overdue-invoices: Two invoices issued 45 days ago, one settled

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Walk lead → opportunity → quote → order → invoice through the services
 3. Return the ids created so the caller can continue from them

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "b2b-pipeline"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase handler
  - factory/engine.go: Service wiring
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/warp/sales-engine/crm"
	"github.com/warp/sales-engine/factory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "b2b-pipeline",
		Name:        "B2B Pipeline",
		Description: "Company lead through account, quote, order and a partly paid invoice",
		Category:    "pipeline",
	},
	{
		ID:          "b2c-pipeline",
		Name:        "B2C Pipeline",
		Description: "Private buyer qualified to a contact only, invoice paid in full",
		Category:    "pipeline",
	},
	{
		ID:          "overdue-invoices",
		Name:        "Overdue Invoices",
		Description: "Invoices issued 45 days ago on Net30 terms, one still owing",
		Category:    "billing",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[LoadScenarioRequest](w, r)
	if !ok {
		return
	}

	var load func(context.Context, *factory.Engine) (map[string]string, error)
	switch req.ScenarioID {
	case "b2b-pipeline":
		load = loadB2BPipeline
	case "b2c-pipeline":
		load = loadB2CPipeline
	case "overdue-invoices":
		load = h.loadOverdueInvoices
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		h.writeServiceError(w, err)
		return
	}

	created, err := load(ctx, h.Engine)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	h.logger().Info("scenario loaded", "scenario", req.ScenarioID)

	writeJSON(w, http.StatusOK, ScenarioResult{Status: "loaded", Scenario: req.ScenarioID, Created: created})
}

func (h *Handler) reset(ctx context.Context) error {
	resetter, ok := h.Engine.Store.(Resetter)
	if !ok {
		return errors.New("store does not support reset")
	}
	if err := resetter.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadB2BPipeline(ctx context.Context, e *factory.Engine) (map[string]string, error) {
	lead, err := e.Leads.Create(ctx, crm.NewLead{
		FirstName:         "Ana",
		LastName:          "Ruiz",
		CompanyName:       "Acme",
		Subject:           "Acme warehouse scanners",
		JobTitle:          "Operations Director",
		EmailAddress1:     "ana.ruiz@acme.example",
		BudgetStatus:      "Approved",
		PurchaseTimeframe: "This Quarter",
		EstimatedValue:    crm.Money("12000"),
	})
	if err != nil {
		return nil, err
	}
	qualified, err := e.Leads.Qualify(ctx, lead.ID, crm.QualifyOptions{CreateAccount: true, CreateContact: true})
	if err != nil {
		return nil, err
	}
	opp := qualified.Opportunity
	for i := 0; i < 2; i++ {
		if opp, err = e.Opportunities.MoveToNextStage(ctx, opp.ID); err != nil {
			return nil, err
		}
	}

	q, err := e.Quotes.Create(ctx, crm.NewQuote{
		OpportunityID:    opp.ID,
		PaymentTermsCode: "Net30",
		FreightAmount:    crm.Money("150"),
		BillTo:           crm.Address{Name: "Acme AP", Line1: "1 Main St", City: "Springfield", Country: "US"},
	})
	if err != nil {
		return nil, err
	}
	lines := []crm.LineInput{
		{ProductDescription: "Handheld scanner", Quantity: crm.Money("20"), PricePerUnit: crm.Money("450"), VolumeDiscountAmount: crm.Money("500"), Tax: crm.Money("680")},
		{ProductDescription: "Charging dock", Quantity: crm.Money("5"), PricePerUnit: crm.Money("120"), Tax: crm.Money("48")},
		{ProductDescription: "Onboarding", Quantity: crm.Money("1"), PricePerUnit: crm.Money("900"), ManualDiscountAmount: crm.Money("100")},
	}
	for _, in := range lines {
		if _, err := e.Quotes.AddLine(ctx, q.ID, in); err != nil {
			return nil, err
		}
	}
	if _, err := e.Quotes.Activate(ctx, q.ID); err != nil {
		return nil, err
	}
	won, err := e.Quotes.Win(ctx, q.ID)
	if err != nil {
		return nil, err
	}
	if _, err := e.Opportunities.Close(ctx, opp.ID, crm.CloseRequest{StateCode: crm.OpportunityWon, ActualValue: &won.Quote.TotalAmount}); err != nil {
		return nil, err
	}

	inv, err := fulfillAndInvoice(ctx, e, won.Order.ID)
	if err != nil {
		return nil, err
	}
	if _, err := e.Invoices.RecordPayment(ctx, inv.ID, crm.Payment{Amount: crm.Money("5000")}); err != nil {
		return nil, err
	}

	return map[string]string{
		"leadid":        lead.ID,
		"accountid":     qualified.Account.ID,
		"contactid":     qualified.Contact.ID,
		"opportunityid": opp.ID,
		"quoteid":       q.ID,
		"salesorderid":  won.Order.ID,
		"invoiceid":     inv.ID,
	}, nil
}

func loadB2CPipeline(ctx context.Context, e *factory.Engine) (map[string]string, error) {
	lead, err := e.Leads.Create(ctx, crm.NewLead{
		FirstName:      "Sam",
		LastName:       "Lee",
		Subject:        "Home office setup",
		EstimatedValue: crm.Money("1800"),
	})
	if err != nil {
		return nil, err
	}
	qualified, err := e.Leads.Qualify(ctx, lead.ID, crm.QualifyOptions{CreateContact: true})
	if err != nil {
		return nil, err
	}

	q, err := e.Quotes.Create(ctx, crm.NewQuote{OpportunityID: qualified.Opportunity.ID, PaymentTermsCode: "Net15"})
	if err != nil {
		return nil, err
	}
	if _, err := e.Quotes.AddLine(ctx, q.ID, crm.LineInput{ProductDescription: "Standing desk", Quantity: crm.Money("1"), PricePerUnit: crm.Money("1200"), Tax: crm.Money("96")}); err != nil {
		return nil, err
	}
	if _, err := e.Quotes.AddLine(ctx, q.ID, crm.LineInput{ProductDescription: "Monitor arm", Quantity: crm.Money("2"), PricePerUnit: crm.Money("150"), Tax: crm.Money("24")}); err != nil {
		return nil, err
	}
	if _, err := e.Quotes.Activate(ctx, q.ID); err != nil {
		return nil, err
	}
	won, err := e.Quotes.Win(ctx, q.ID)
	if err != nil {
		return nil, err
	}
	inv, err := fulfillAndInvoice(ctx, e, won.Order.ID)
	if err != nil {
		return nil, err
	}
	if _, err := e.Invoices.MarkAsPaid(ctx, inv.ID, nil); err != nil {
		return nil, err
	}

	return map[string]string{
		"leadid":        lead.ID,
		"contactid":     qualified.Contact.ID,
		"opportunityid": qualified.Opportunity.ID,
		"quoteid":       q.ID,
		"salesorderid":  won.Order.ID,
		"invoiceid":     inv.ID,
	}, nil
}

// loadOverdueInvoices bills two orders as if 45 days had passed.
func (h *Handler) loadOverdueInvoices(ctx context.Context, e *factory.Engine) (map[string]string, error) {
	past := factory.NewEngine(e.Store, factory.Options{
		Clock:  crm.FixedClock(h.Clock.Now().AddDate(0, 0, -45)),
		Logger: h.Logger,
		Terms:  e.Terms,
	})
	acct, err := past.Customers.CreateAccount(ctx, crm.NewAccount{Name: "Globex"})
	if err != nil {
		return nil, err
	}

	created := map[string]string{"accountid": acct.ID}
	for i, amount := range []string{"2400", "760"} {
		o, err := past.Orders.Create(ctx, crm.NewOrder{
			Name:             fmt.Sprintf("Globex order %d", i+1),
			CustomerID:       acct.ID,
			CustomerIDType:   crm.CustomerAccount,
			PaymentTermsCode: "Net30",
		})
		if err != nil {
			return nil, err
		}
		if _, err := past.Orders.AddLine(ctx, o.ID, crm.LineInput{ProductDescription: "Consulting", Quantity: crm.Money("1"), PricePerUnit: crm.Money(amount)}); err != nil {
			return nil, err
		}
		inv, err := fulfillAndInvoice(ctx, past, o.ID)
		if err != nil {
			return nil, err
		}
		created[fmt.Sprintf("invoiceid%d", i+1)] = inv.ID
	}

	if _, err := e.Invoices.MarkAsPaid(ctx, created["invoiceid2"], nil); err != nil {
		return nil, err
	}
	return created, nil
}

func fulfillAndInvoice(ctx context.Context, e *factory.Engine, orderID string) (*crm.Invoice, error) {
	if _, err := e.Orders.Submit(ctx, orderID); err != nil {
		return nil, err
	}
	if _, err := e.Orders.Fulfill(ctx, orderID); err != nil {
		return nil, err
	}
	return e.Invoices.CreateFromOrder(ctx, orderID)
}
