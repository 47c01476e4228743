/*
handlers.go - HTTP API handlers for the sales pipeline

PURPOSE:
  Exposes the lifecycle services over REST. Handlers parse the request,
  consult the access gate, call one service operation and serialize the
  result. No business rule lives here.

ENDPOINTS:
  Customers:
    GET/POST /api/accounts                 List (?) / create accounts
    GET      /api/accounts/{id}/contacts   Contacts of an account
    GET/POST /api/contacts                 List (?accountid=) / create contacts
    PUT      /api/contacts/{id}/account    Link contact to account

  Leads:
    GET/POST /api/leads                    List (?company=) / create
    POST     /api/leads/{id}/qualify       Qualify into customer + opportunity
    POST     /api/leads/{id}/disqualify    Disqualify with reason

  Opportunities:
    POST     /api/opportunities/{id}/next-stage|previous-stage|close

  Quotes, orders, invoices:
    GET      /api/{docs}/{id}              Header with lines
    POST     /api/{docs}/{id}/lines        Add line
    PUT/DEL  /api/{docs}/{id}/lines/{lid}  Reprice / remove line
    POST     /api/quotes/{id}/activate|win|lose
    POST     /api/orders/{id}/submit|fulfill|cancel|invoice
    POST     /api/invoices/{id}/pay|payments|close|cancel
    GET      /api/invoices/overdue         (?asof=RFC3339)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors (every problem in details), malformed body
  - 403: Access gate denied
  - 404: Entity not found
  - 409: Operation not allowed in the entity's current state
  - 422: Cross-entity precondition failed
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - gate.go: Access gate
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/sales-engine/crm"
	"github.com/warp/sales-engine/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter is implemented by stores that can drop all data.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *factory.Engine
	Gate   AccessGate
	Clock  crm.Clock
	Logger *slog.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler that allows every caller.
func NewHandler(engine *factory.Engine) *Handler {
	return &Handler{Engine: engine, Gate: AllowAll{}}
}

func (h *Handler) logger() *slog.Logger { return crm.LoggerOrDefault(h.Logger) }

// =============================================================================
// GENERIC HANDLERS
// =============================================================================

func handleCreate[In, Out any](h *Handler, t crm.EntityType, create func(context.Context, In) (Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.allow(w, r, t, "create", "") {
			return
		}
		in, ok := decode[In](w, r)
		if !ok {
			return
		}
		out, err := create(r.Context(), in)
		h.respond(w, http.StatusCreated, out, err)
	}
}

func handleGet[Out any](h *Handler, t crm.EntityType, get func(context.Context, string) (Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !h.allow(w, r, t, "read", id) {
			return
		}
		out, err := get(r.Context(), id)
		h.respond(w, http.StatusOK, out, err)
	}
}

func handleDocument[H, L any](h *Handler, t crm.EntityType, get func(context.Context, string) (H, error), lines func(context.Context, string) ([]L, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !h.allow(w, r, t, "read", id) {
			return
		}
		header, err := get(r.Context(), id)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		ls, err := lines(r.Context(), id)
		if ls == nil {
			ls = []L{}
		}
		h.respond(w, http.StatusOK, DocumentDTO[H, L]{Header: header, Lines: ls}, err)
	}
}

func handleUpdate[In, Out any](h *Handler, t crm.EntityType, update func(context.Context, string, In) (Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !h.allow(w, r, t, "update", id) {
			return
		}
		in, ok := decode[In](w, r)
		if !ok {
			return
		}
		out, err := update(r.Context(), id, in)
		h.respond(w, http.StatusOK, out, err)
	}
}

func handleDelete(h *Handler, t crm.EntityType, del func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !h.allow(w, r, t, "delete", id) {
			return
		}
		if err := del(r.Context(), id); err != nil {
			h.writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleVerb runs a body-less transition such as activate or submit.
func handleVerb[Out any](h *Handler, t crm.EntityType, op string, verb func(context.Context, string) (Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !h.allow(w, r, t, op, id) {
			return
		}
		out, err := verb(r.Context(), id)
		h.respond(w, http.StatusOK, out, err)
	}
}

// handleReason runs a transition that takes an optional {"reason": "..."} body.
func handleReason[Out any](h *Handler, t crm.EntityType, op string, verb func(context.Context, string, string) (Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !h.allow(w, r, t, op, id) {
			return
		}
		req, ok := decode[ReasonRequest](w, r)
		if !ok {
			return
		}
		out, err := verb(r.Context(), id, req.Reason)
		h.respond(w, http.StatusOK, out, err)
	}
}

func handleAddLine[L any](h *Handler, t crm.EntityType, add func(context.Context, string, crm.LineInput) (L, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !h.allow(w, r, t, "update", id) {
			return
		}
		in, ok := decode[crm.LineInput](w, r)
		if !ok {
			return
		}
		out, err := add(r.Context(), id, in)
		h.respond(w, http.StatusCreated, out, err)
	}
}

func handleUpdateLine[L any](h *Handler, t crm.EntityType, update func(context.Context, string, string, crm.LineInput) (L, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !h.allow(w, r, t, "update", id) {
			return
		}
		in, ok := decode[crm.LineInput](w, r)
		if !ok {
			return
		}
		out, err := update(r.Context(), id, chi.URLParam(r, "lineID"), in)
		h.respond(w, http.StatusOK, out, err)
	}
}

func handleRemoveLine(h *Handler, t crm.EntityType, remove func(context.Context, string, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !h.allow(w, r, t, "update", id) {
			return
		}
		if err := remove(r.Context(), id, chi.URLParam(r, "lineID")); err != nil {
			h.writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// =============================================================================
// LIST HANDLERS (query filters)
// =============================================================================

// ListAccounts returns all accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, crm.TypeAccount, "read", "") {
		return
	}
	out, err := h.Engine.Customers.ListAccounts(r.Context())
	h.respond(w, http.StatusOK, out, err)
}

// ListContacts returns contacts, optionally of one account.
func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, crm.TypeContact, "read", "") {
		return
	}
	ctx := r.Context()
	var (
		out []*crm.Contact
		err error
	)
	if accountID := r.URL.Query().Get("accountid"); accountID != "" {
		out, err = h.Engine.Customers.ListContactsByAccount(ctx, accountID)
	} else {
		out, err = h.Engine.Customers.ListContacts(ctx)
	}
	h.respond(w, http.StatusOK, out, err)
}

// ListAccountContacts returns the contacts under /accounts/{id}.
func (h *Handler) ListAccountContacts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.allow(w, r, crm.TypeContact, "read", "") {
		return
	}
	if _, err := h.Engine.Customers.GetAccount(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	out, err := h.Engine.Customers.ListContactsByAccount(r.Context(), id)
	h.respond(w, http.StatusOK, out, err)
}

// LinkContact sets a contact's parent account.
func (h *Handler) LinkContact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.allow(w, r, crm.TypeContact, "update", id) {
		return
	}
	req, ok := decode[LinkContactRequest](w, r)
	if !ok {
		return
	}
	out, err := h.Engine.Customers.LinkContactToAccount(r.Context(), id, req.AccountID)
	h.respond(w, http.StatusOK, out, err)
}

// ListLeads returns leads, optionally for one company.
func (h *Handler) ListLeads(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, crm.TypeLead, "read", "") {
		return
	}
	var (
		out []*crm.Lead
		err error
	)
	if company := r.URL.Query().Get("company"); company != "" {
		out, err = h.Engine.Leads.ListByCompany(r.Context(), company)
	} else {
		out, err = h.Engine.Leads.List(r.Context())
	}
	h.respond(w, http.StatusOK, out, err)
}

// ListOpportunities returns opportunities, filtered by ?customerid= or ?leadid=.
func (h *Handler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, crm.TypeOpportunity, "read", "") {
		return
	}
	q := r.URL.Query()
	ctx := r.Context()
	var (
		out []*crm.Opportunity
		err error
	)
	switch {
	case q.Get("customerid") != "":
		out, err = h.Engine.Opportunities.ListByCustomer(ctx, q.Get("customerid"))
	case q.Get("leadid") != "":
		out, err = h.Engine.Opportunities.ListByLead(ctx, q.Get("leadid"))
	default:
		out, err = h.Engine.Opportunities.List(ctx)
	}
	h.respond(w, http.StatusOK, out, err)
}

// ListQuotes returns quotes, optionally of one opportunity.
func (h *Handler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, crm.TypeQuote, "read", "") {
		return
	}
	var (
		out []*crm.Quote
		err error
	)
	if oppID := r.URL.Query().Get("opportunityid"); oppID != "" {
		out, err = h.Engine.Quotes.ListByOpportunity(r.Context(), oppID)
	} else {
		out, err = h.Engine.Quotes.List(r.Context())
	}
	h.respond(w, http.StatusOK, out, err)
}

// ListOrders returns orders, filtered by ?quoteid= or ?opportunityid=.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, crm.TypeOrder, "read", "") {
		return
	}
	q := r.URL.Query()
	ctx := r.Context()
	var (
		out []*crm.Order
		err error
	)
	switch {
	case q.Get("quoteid") != "":
		out, err = h.Engine.Orders.ListByQuote(ctx, q.Get("quoteid"))
	case q.Get("opportunityid") != "":
		out, err = h.Engine.Orders.ListByOpportunity(ctx, q.Get("opportunityid"))
	default:
		out, err = h.Engine.Orders.List(ctx)
	}
	h.respond(w, http.StatusOK, out, err)
}

// ListInvoices returns invoices, filtered by ?salesorderid= or ?customerid=.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, crm.TypeInvoice, "read", "") {
		return
	}
	q := r.URL.Query()
	ctx := r.Context()
	var (
		out []*crm.Invoice
		err error
	)
	switch {
	case q.Get("salesorderid") != "":
		out, err = h.Engine.Invoices.ListByOrder(ctx, q.Get("salesorderid"))
	case q.Get("customerid") != "":
		out, err = h.Engine.Invoices.ListByCustomer(ctx, q.Get("customerid"))
	default:
		out, err = h.Engine.Invoices.List(ctx)
	}
	h.respond(w, http.StatusOK, out, err)
}

// ListOverdueInvoices returns invoices overdue as of ?asof= (default now).
func (h *Handler) ListOverdueInvoices(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, crm.TypeInvoice, "read", "") {
		return
	}
	asOf := h.Clock.Now()
	if raw := r.URL.Query().Get("asof"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid asof, expected RFC3339", err)
			return
		}
		asOf = t
	}
	out, err := h.Engine.Invoices.ListOverdue(r.Context(), asOf)
	h.respond(w, http.StatusOK, out, err)
}

// =============================================================================
// LIFECYCLE HANDLERS WITH BODIES
// =============================================================================

// QualifyLead converts a lead per the posted options.
func (h *Handler) QualifyLead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.allow(w, r, crm.TypeLead, "qualify", id) {
		return
	}
	opts, ok := decode[crm.QualifyOptions](w, r)
	if !ok {
		return
	}
	out, err := h.Engine.Leads.Qualify(r.Context(), id, opts)
	h.respond(w, http.StatusOK, out, err)
}

// CloseOpportunity closes as Won or Lost.
func (h *Handler) CloseOpportunity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.allow(w, r, crm.TypeOpportunity, "close", id) {
		return
	}
	req, ok := decode[crm.CloseRequest](w, r)
	if !ok {
		return
	}
	out, err := h.Engine.Opportunities.Close(r.Context(), id, req)
	h.respond(w, http.StatusOK, out, err)
}

// InvoiceOrder bills a fulfilled order.
func (h *Handler) InvoiceOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.allow(w, r, crm.TypeInvoice, "create", "") {
		return
	}
	out, err := h.Engine.Invoices.CreateFromOrder(r.Context(), id)
	h.respond(w, http.StatusCreated, out, err)
}

// MarkInvoicePaid settles an invoice in full.
func (h *Handler) MarkInvoicePaid(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.allow(w, r, crm.TypeInvoice, "pay", id) {
		return
	}
	req, ok := decode[MarkPaidRequest](w, r)
	if !ok {
		return
	}
	out, err := h.Engine.Invoices.MarkAsPaid(r.Context(), id, req.DatePaid)
	h.respond(w, http.StatusOK, out, err)
}

// RecordInvoicePayment applies a partial or full payment.
func (h *Handler) RecordInvoicePayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.allow(w, r, crm.TypeInvoice, "pay", id) {
		return
	}
	p, ok := decode[crm.Payment](w, r)
	if !ok {
		return
	}
	out, err := h.Engine.Invoices.RecordPayment(r.Context(), id, p)
	h.respond(w, http.StatusOK, out, err)
}

// GetPaymentTerms returns the due-date table.
func (h *Handler) GetPaymentTerms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, factory.PaymentTermsToJSON(h.Engine.Terms))
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into T. An empty body yields the zero value.
func decode[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if r.Body == nil {
		return v, true
	}
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return v, false
	}
	return v, true
}

func (h *Handler) respond(w http.ResponseWriter, status int, data any, err error) {
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, status, data)
}

// writeServiceError maps the crm error taxonomy onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var (
		pre  *crm.PreconditionError
		verr *crm.ValidationError
	)
	switch {
	case errors.As(err, &pre):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "precondition"})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Code: "validation", Details: verr.Problems})
	case errors.Is(err, crm.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, crm.ErrInvalidState):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "invalid_state"})
	default:
		h.logger().Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
