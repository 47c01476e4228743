/*
Package factory assembles the sales pipeline.

PURPOSE:
  Every lifecycle service shares one store so that cascaded operations
  (lead qualification, quote win) join a single atomic unit. NewEngine
  builds the services, wires their collaborators and applies a common
  clock and logger.

USAGE:
  engine := factory.NewEngine(store.NewTxMemory(), factory.Options{})
  lead, _ := engine.Leads.Create(ctx, crm.NewLead{CompanyName: "Contoso"})
  res, _ := engine.Leads.Qualify(ctx, lead.ID, crm.QualifyOptions{CreateAccount: true})

  Terms may come from ParsePaymentTerms for a custom due-date table.

SEE ALSO:
  - terms.go: JSON payment-terms tables
  - crm/store.go: Atomic and TxStore
*/
package factory

import (
	"log/slog"

	"github.com/warp/sales-engine/crm"
	"github.com/warp/sales-engine/customer"
	"github.com/warp/sales-engine/invoice"
	"github.com/warp/sales-engine/lead"
	"github.com/warp/sales-engine/opportunity"
	"github.com/warp/sales-engine/order"
	"github.com/warp/sales-engine/quote"
)

// Options configures NewEngine. Zero values mean time.Now, slog.Default
// and the standard payment-terms table.
type Options struct {
	Clock  crm.Clock
	Logger *slog.Logger
	Terms  *crm.PaymentTerms
}

// Engine holds the wired lifecycle services.
type Engine struct {
	Store         crm.EntityStore
	Terms         *crm.PaymentTerms
	Customers     *customer.Service
	Leads         *lead.Service
	Opportunities *opportunity.Service
	Quotes        *quote.Service
	Orders        *order.Service
	Invoices      *invoice.Service
}

// NewEngine builds every service over s. Collaborators are passed the same
// services, so cross-service calls join the caller's transaction.
func NewEngine(s crm.EntityStore, opts Options) *Engine {
	terms := opts.Terms
	if terms == nil {
		terms = crm.NewPaymentTerms(crm.DefaultDueDays)
	}

	customers := customer.NewService(s)
	customers.Clock, customers.Logger = opts.Clock, opts.Logger

	opportunities := opportunity.NewService(s)
	opportunities.Clock, opportunities.Logger = opts.Clock, opts.Logger

	leads := lead.NewService(s, customers, opportunities)
	leads.Clock, leads.Logger = opts.Clock, opts.Logger

	orders := order.NewService(s)
	orders.Clock, orders.Logger = opts.Clock, opts.Logger

	quotes := quote.NewService(s, orders)
	quotes.Clock, quotes.Logger = opts.Clock, opts.Logger

	invoices := invoice.NewService(s, orders, terms)
	invoices.Clock, invoices.Logger = opts.Clock, opts.Logger

	return &Engine{
		Store:         s,
		Terms:         terms,
		Customers:     customers,
		Leads:         leads,
		Opportunities: opportunities,
		Quotes:        quotes,
		Orders:        orders,
		Invoices:      invoices,
	}
}
