/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/accounts, /api/contacts   Customers
  /api/leads                     Lead qualification
  /api/opportunities             Stage engine
  /api/quotes, /api/orders,
  /api/invoices                  Documents with lines
  /api/paymentterms              Due-date table
  /api/scenarios                 Demo scenarios (dev only)

SECURITY NOTE:
  Authentication happens upstream. The AccessGate sees the caller's role
  from the X-Role header.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/sales-engine/crm"
)

// DefaultCORSOrigins are used when NewRouter gets no origins.
var DefaultCORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins ...string) *chi.Mux {
	if len(corsOrigins) == 0 {
		corsOrigins = DefaultCORSOrigins
	}
	e := h.Engine

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", RoleHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", handleCreate(h, crm.TypeAccount, e.Customers.CreateAccount))
			r.Get("/{id}", handleGet(h, crm.TypeAccount, e.Customers.GetAccount))
			r.Get("/{id}/contacts", h.ListAccountContacts)
		})

		r.Route("/contacts", func(r chi.Router) {
			r.Get("/", h.ListContacts)
			r.Post("/", handleCreate(h, crm.TypeContact, e.Customers.CreateContact))
			r.Get("/{id}", handleGet(h, crm.TypeContact, e.Customers.GetContact))
			r.Put("/{id}/account", h.LinkContact)
		})

		r.Route("/leads", func(r chi.Router) {
			r.Get("/", h.ListLeads)
			r.Post("/", handleCreate(h, crm.TypeLead, e.Leads.Create))
			r.Get("/{id}", handleGet(h, crm.TypeLead, e.Leads.Get))
			r.Put("/{id}", handleUpdate(h, crm.TypeLead, e.Leads.Update))
			r.Post("/{id}/qualify", h.QualifyLead)
			r.Post("/{id}/disqualify", handleReason(h, crm.TypeLead, "disqualify", e.Leads.Disqualify))
		})

		r.Route("/opportunities", func(r chi.Router) {
			r.Get("/", h.ListOpportunities)
			r.Post("/", handleCreate(h, crm.TypeOpportunity, e.Opportunities.Create))
			r.Get("/{id}", handleGet(h, crm.TypeOpportunity, e.Opportunities.Get))
			r.Put("/{id}", handleUpdate(h, crm.TypeOpportunity, e.Opportunities.Update))
			r.Delete("/{id}", handleDelete(h, crm.TypeOpportunity, e.Opportunities.Delete))
			r.Post("/{id}/next-stage", handleVerb(h, crm.TypeOpportunity, "next-stage", e.Opportunities.MoveToNextStage))
			r.Post("/{id}/previous-stage", handleVerb(h, crm.TypeOpportunity, "previous-stage", e.Opportunities.MoveToPreviousStage))
			r.Post("/{id}/close", h.CloseOpportunity)
		})

		r.Route("/quotes", func(r chi.Router) {
			r.Get("/", h.ListQuotes)
			r.Post("/", handleCreate(h, crm.TypeQuote, e.Quotes.Create))
			r.Get("/{id}", handleDocument(h, crm.TypeQuote, e.Quotes.Get, e.Quotes.Lines))
			r.Put("/{id}", handleUpdate(h, crm.TypeQuote, e.Quotes.Update))
			r.Delete("/{id}", handleDelete(h, crm.TypeQuote, e.Quotes.Delete))
			r.Post("/{id}/lines", handleAddLine(h, crm.TypeQuote, e.Quotes.AddLine))
			r.Put("/{id}/lines/{lineID}", handleUpdateLine(h, crm.TypeQuote, e.Quotes.UpdateLine))
			r.Delete("/{id}/lines/{lineID}", handleRemoveLine(h, crm.TypeQuote, e.Quotes.RemoveLine))
			r.Post("/{id}/activate", handleVerb(h, crm.TypeQuote, "activate", e.Quotes.Activate))
			r.Post("/{id}/win", handleVerb(h, crm.TypeQuote, "win", e.Quotes.Win))
			r.Post("/{id}/lose", handleReason(h, crm.TypeQuote, "lose", e.Quotes.Lose))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Post("/", handleCreate(h, crm.TypeOrder, e.Orders.Create))
			r.Get("/{id}", handleDocument(h, crm.TypeOrder, e.Orders.Get, e.Orders.Lines))
			r.Put("/{id}", handleUpdate(h, crm.TypeOrder, e.Orders.Update))
			r.Delete("/{id}", handleDelete(h, crm.TypeOrder, e.Orders.Delete))
			r.Post("/{id}/lines", handleAddLine(h, crm.TypeOrder, e.Orders.AddLine))
			r.Put("/{id}/lines/{lineID}", handleUpdateLine(h, crm.TypeOrder, e.Orders.UpdateLine))
			r.Delete("/{id}/lines/{lineID}", handleRemoveLine(h, crm.TypeOrder, e.Orders.RemoveLine))
			r.Post("/{id}/submit", handleVerb(h, crm.TypeOrder, "submit", e.Orders.Submit))
			r.Post("/{id}/fulfill", handleVerb(h, crm.TypeOrder, "fulfill", e.Orders.Fulfill))
			r.Post("/{id}/cancel", handleReason(h, crm.TypeOrder, "cancel", e.Orders.Cancel))
			r.Post("/{id}/invoice", h.InvoiceOrder)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Get("/overdue", h.ListOverdueInvoices)
			r.Get("/{id}", handleDocument(h, crm.TypeInvoice, e.Invoices.Get, e.Invoices.Lines))
			r.Put("/{id}", handleUpdate(h, crm.TypeInvoice, e.Invoices.Update))
			r.Delete("/{id}", handleDelete(h, crm.TypeInvoice, e.Invoices.Delete))
			r.Post("/{id}/lines", handleAddLine(h, crm.TypeInvoice, e.Invoices.AddLine))
			r.Put("/{id}/lines/{lineID}", handleUpdateLine(h, crm.TypeInvoice, e.Invoices.UpdateLine))
			r.Delete("/{id}/lines/{lineID}", handleRemoveLine(h, crm.TypeInvoice, e.Invoices.RemoveLine))
			r.Post("/{id}/pay", h.MarkInvoicePaid)
			r.Post("/{id}/payments", h.RecordInvoicePayment)
			r.Post("/{id}/close", handleVerb(h, crm.TypeInvoice, "close", e.Invoices.Close))
			r.Post("/{id}/cancel", handleReason(h, crm.TypeInvoice, "cancel", e.Invoices.Cancel))
		})

		r.Get("/paymentterms", h.GetPaymentTerms)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
