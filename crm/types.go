/*
Package crm provides the core of the sales pipeline engine.

PURPOSE:
  This package holds the shapes every lifecycle package shares: the entity
  records that move through Lead → Opportunity → Quote → Order → Invoice,
  the error taxonomy, the Entity Store contract and the Line Item Ledger.
  Lifecycle packages (lead, opportunity, quote, order, invoice) depend on
  crm; crm depends on none of them.

KEY CONCEPTS IN THIS FILE (types.go):
  - EntityType: Which keyed collection a record lives in
  - Audit: createdon/modifiedon/ownerid carried by every entity
  - Address: Bill-to / ship-to blocks copied forward between documents
  - Clock: Injectable time source so tests can pin createdon and due dates

DESIGN PRINCIPLES:
  1. Precision: Every monetary field is decimal.Decimal, zero by default
  2. Storage-agnostic: Entities serialize to JSON records; backends never see Go types
  3. Explicit wiring: Services receive their store and siblings at construction

SEE ALSO:
  - entities.go: Entity definitions
  - ledger.go: Line amount calculation and aggregation
  - store.go: Entity Store contract and transaction scoping
*/
package crm

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENTITY TYPES
// =============================================================================

// EntityType names a keyed collection in the Entity Store.
type EntityType string

const (
	TypeLead          EntityType = "lead"
	TypeAccount       EntityType = "account"
	TypeContact       EntityType = "contact"
	TypeOpportunity   EntityType = "opportunity"
	TypeQuote         EntityType = "quote"
	TypeQuoteDetail   EntityType = "quotedetail"
	TypeOrder         EntityType = "salesorder"
	TypeOrderDetail   EntityType = "salesorderdetail"
	TypeInvoice       EntityType = "invoice"
	TypeInvoiceDetail EntityType = "invoicedetail"
)

// CustomerType says which collection an opportunity's customerid points into.
type CustomerType string

const (
	CustomerAccount CustomerType = "account"
	CustomerContact CustomerType = "contact"
)

// =============================================================================
// AUDIT + SHARED VALUE TYPES
// =============================================================================

// Audit fields common to every entity.
type Audit struct {
	CreatedOn  time.Time `json:"createdon"`
	ModifiedOn time.Time `json:"modifiedon"`
	OwnerID    string    `json:"ownerid,omitempty"`
}

// Touch stamps modifiedon, and createdon on first write.
func (a *Audit) Touch(now time.Time) {
	if a.CreatedOn.IsZero() {
		a.CreatedOn = now
	}
	a.ModifiedOn = now
}

// Address is a postal address block on quotes, orders and invoices.
type Address struct {
	Name            string `json:"name,omitempty"`
	Line1           string `json:"line1,omitempty"`
	Line2           string `json:"line2,omitempty"`
	City            string `json:"city,omitempty"`
	StateOrProvince string `json:"stateorprovince,omitempty"`
	PostalCode      string `json:"postalcode,omitempty"`
	Country         string `json:"country,omitempty"`
}

// =============================================================================
// IDENTIFIERS + TIME
// =============================================================================

// NewID returns a fresh opaque entity identifier.
func NewID() string {
	return uuid.NewString()
}

// DocumentNumber builds a human-readable number such as "ORD-1A2B3C4D" from an id.
func DocumentNumber(prefix, id string) string {
	compact := strings.ReplaceAll(id, "-", "")
	if len(compact) > 8 {
		compact = compact[:8]
	}
	return prefix + "-" + strings.ToUpper(compact)
}

// Clock returns the current time. Services default to time.Now.
type Clock func() time.Time

// Now returns c() or time.Now() when c is nil, always in UTC.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

// FixedClock always returns t. Used by tests and demo scenarios.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// LoggerOrDefault returns l, or slog.Default() when l is nil.
func LoggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// =============================================================================
// MONEY HELPERS
// =============================================================================

// Money parses a decimal literal and panics on malformed input.
// Use only with constants (tests, scenarios).
func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// AppendNote appends note to existing on a new line, never overwriting.
func AppendNote(existing, note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return existing
	}
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}
