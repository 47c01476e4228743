/*
Package order implements the Order Lifecycle.

PURPOSE:
  A sales order is a committed purchase, created directly or by winning a
  quote. Lines stay editable until the order is submitted.

STATE MACHINE:
  Active ──Submit──▶ Submitted ──Fulfill──▶ Fulfilled
    │                    │
    └──────Cancel────────┴──▶ Canceled

  - Lines and header are editable only while Active
  - Fulfill sets datefulfilled
  - Cancel appends the reason to the description; nothing is overwritten
  - Fulfilling never creates an invoice; that is an explicit call on the
    invoice service

FROM A QUOTE:
  CreateFromQuote copies the header (customer, addresses, payment terms,
  freight, totals) and every line verbatim. Amounts are not recomputed, so
  the order total always equals the quote total. Each order line keeps the
  quotedetailid it came from.

SEE ALSO:
  - quote: Calls CreateFromQuote on win
  - invoice: Reads fulfilled orders through OrderReader
*/
package order

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/warp/sales-engine/crm"
)

// Service runs order transitions.
type Service struct {
	Store  crm.EntityStore
	Clock  crm.Clock
	Logger *slog.Logger
}

func NewService(store crm.EntityStore) *Service {
	return &Service{Store: store}
}

func (s *Service) logger() *slog.Logger { return crm.LoggerOrDefault(s.Logger) }

// =============================================================================
// CREATE
// =============================================================================

// Create stores a new active order with no lines.
func (s *Service) Create(ctx context.Context, in crm.NewOrder) (*crm.Order, error) {
	if err := crm.ValidateFreight(in.FreightAmount); err != nil {
		return nil, err
	}

	o := newOrder(s.Clock.Now(), in.OwnerID)
	o.Document = crm.Document{
		Name:             strings.TrimSpace(in.Name),
		OpportunityID:    in.OpportunityID,
		CustomerID:       in.CustomerID,
		CustomerIDType:   in.CustomerIDType,
		Description:      in.Description,
		BillTo:           in.BillTo,
		ShipTo:           in.ShipTo,
		PaymentTermsCode: in.PaymentTermsCode,
	}
	o.Totals.Apply(crm.Aggregate(nil), in.FreightAmount)
	if o.Name == "" {
		o.Name = o.OrderNumber
	}

	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		if o.OpportunityID != "" {
			if _, err := crm.Load[crm.Opportunity](ctx, tx, crm.TypeOpportunity, o.OpportunityID); err != nil {
				return err
			}
		}
		if o.CustomerID != "" {
			if err := crm.CheckCustomer(ctx, tx, o.CustomerIDType, o.CustomerID); err != nil {
				return err
			}
		}
		return crm.Save(ctx, tx, o)
	})
	if err != nil {
		return nil, err
	}
	s.logger().Info("order created", "order_id", o.ID)
	return o, nil
}

// CreateFromQuote creates the order for a won quote, copying lines verbatim.
func (s *Service) CreateFromQuote(ctx context.Context, q *crm.Quote, lines []*crm.QuoteDetail) (*crm.Order, error) {
	if q.StateCode != crm.QuoteWon {
		return nil, &crm.PreconditionError{Type: crm.TypeQuote, ID: q.ID, Message: "quote is not won"}
	}

	now := s.Clock.Now()
	o := newOrder(now, q.OwnerID)
	o.QuoteID = q.ID
	o.Document = q.Document

	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		existing, err := tx.List(ctx, crm.TypeOrder, crm.Filter{"quoteid": q.ID})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return &crm.PreconditionError{Type: crm.TypeQuote, ID: q.ID, Message: "quote already has an order"}
		}

		for _, ql := range lines {
			d := &crm.OrderDetail{
				ID:            crm.NewID(),
				SalesOrderID:  o.ID,
				QuoteDetailID: ql.ID,
				LineItem:      ql.LineItem,
			}
			d.OwnerID = ql.OwnerID
			d.Touch(now)
			if err := crm.Save(ctx, tx, d); err != nil {
				return err
			}
		}
		return crm.Save(ctx, tx, o)
	})
	if err != nil {
		return nil, err
	}
	s.logger().Info("order created from quote", "order_id", o.ID, "quote_id", q.ID, "lines", len(lines))
	return o, nil
}

func newOrder(now time.Time, ownerID string) *crm.Order {
	id := crm.NewID()
	o := &crm.Order{
		ID:          id,
		OrderNumber: crm.DocumentNumber("ORD", id),
		StateCode:   crm.OrderActive,
		StatusCode:  "New",
	}
	o.OwnerID = ownerID
	o.Touch(now)
	return o
}

// =============================================================================
// READ
// =============================================================================

func (s *Service) Get(ctx context.Context, id string) (*crm.Order, error) {
	return crm.Load[crm.Order](ctx, crm.Resolve(ctx, s.Store), crm.TypeOrder, id)
}

func (s *Service) List(ctx context.Context) ([]*crm.Order, error) {
	return crm.Find[crm.Order](ctx, crm.Resolve(ctx, s.Store), crm.TypeOrder, nil)
}

// ListByQuote returns the order created from a quote (at most one).
func (s *Service) ListByQuote(ctx context.Context, quoteID string) ([]*crm.Order, error) {
	return crm.Find[crm.Order](ctx, crm.Resolve(ctx, s.Store), crm.TypeOrder, crm.Filter{"quoteid": quoteID})
}

func (s *Service) ListByOpportunity(ctx context.Context, opportunityID string) ([]*crm.Order, error) {
	return crm.Find[crm.Order](ctx, crm.Resolve(ctx, s.Store), crm.TypeOrder, crm.Filter{"opportunityid": opportunityID})
}

// Lines returns an order's lines in line-number order.
func (s *Service) Lines(ctx context.Context, orderID string) ([]*crm.OrderDetail, error) {
	store := crm.Resolve(ctx, s.Store)
	if _, err := crm.Load[crm.Order](ctx, store, crm.TypeOrder, orderID); err != nil {
		return nil, err
	}
	return loadLines(ctx, store, orderID)
}

func loadLines(ctx context.Context, store crm.EntityStore, orderID string) ([]*crm.OrderDetail, error) {
	return crm.LoadLines[crm.OrderDetail](ctx, store, crm.TypeOrderDetail, "salesorderid", orderID)
}

// =============================================================================
// UPDATE + DELETE (Active only)
// =============================================================================

// Update patches an active order's header. A freight change recomputes totals.
func (s *Service) Update(ctx context.Context, id string, in crm.DocumentUpdate) (*crm.Order, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var order *crm.Order
	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		o, err := loadInState(ctx, tx, id, "update", crm.OrderActive)
		if err != nil {
			return err
		}
		if in.Apply(&o.Document) {
			lines, err := loadLines(ctx, tx, id)
			if err != nil {
				return err
			}
			crm.Recompute(&o.Totals, lines, o.FreightAmount)
		}
		o.Touch(s.Clock.Now())
		order = o
		return crm.Save(ctx, tx, o)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Delete removes an active order and its lines.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		if _, err := loadInState(ctx, tx, id, "delete", crm.OrderActive); err != nil {
			return err
		}
		if err := crm.DeleteLines(ctx, tx, crm.TypeOrderDetail, "salesorderid", id); err != nil {
			return err
		}
		return crm.Delete(ctx, tx, crm.TypeOrder, id)
	})
	if err != nil {
		return err
	}
	s.logger().Info("order deleted", "order_id", id)
	return nil
}

// =============================================================================
// LINES (Active only)
// =============================================================================

// AddLine appends a priced line and recomputes the header.
func (s *Service) AddLine(ctx context.Context, orderID string, in crm.LineInput) (*crm.OrderDetail, error) {
	var detail *crm.OrderDetail
	err := s.editLines(ctx, orderID, "add lines to", func(ctx context.Context, tx crm.EntityStore, owner string, lines []*crm.OrderDetail) ([]*crm.OrderDetail, error) {
		var err error
		detail, lines, err = crm.InsertLine(ctx, tx, lines, in, s.Clock.Now(), func(item crm.LineItem) *crm.OrderDetail {
			return &crm.OrderDetail{ID: crm.NewID(), SalesOrderID: orderID, LineItem: item, Audit: crm.Audit{OwnerID: owner}}
		})
		return lines, err
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// UpdateLine reprices an existing line, keeping its line number.
func (s *Service) UpdateLine(ctx context.Context, orderID, lineID string, in crm.LineInput) (*crm.OrderDetail, error) {
	var detail *crm.OrderDetail
	err := s.editLines(ctx, orderID, "change lines of", func(ctx context.Context, tx crm.EntityStore, owner string, lines []*crm.OrderDetail) ([]*crm.OrderDetail, error) {
		var err error
		detail, err = crm.ReplaceLine(ctx, tx, lines, crm.TypeOrderDetail, lineID, in, s.Clock.Now())
		return lines, err
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// RemoveLine deletes a line and recomputes the header.
func (s *Service) RemoveLine(ctx context.Context, orderID, lineID string) error {
	return s.editLines(ctx, orderID, "remove lines from", func(ctx context.Context, tx crm.EntityStore, owner string, lines []*crm.OrderDetail) ([]*crm.OrderDetail, error) {
		return crm.DropLine(ctx, tx, lines, crm.TypeOrderDetail, lineID)
	})
}

func (s *Service) editLines(
	ctx context.Context,
	orderID, action string,
	fn func(ctx context.Context, tx crm.EntityStore, owner string, lines []*crm.OrderDetail) ([]*crm.OrderDetail, error),
) error {
	return crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		o, err := loadInState(ctx, tx, orderID, action, crm.OrderActive)
		if err != nil {
			return err
		}
		lines, err := loadLines(ctx, tx, orderID)
		if err != nil {
			return err
		}
		lines, err = fn(ctx, tx, o.OwnerID, lines)
		if err != nil {
			return err
		}
		crm.Recompute(&o.Totals, lines, o.FreightAmount)
		o.Touch(s.Clock.Now())
		return crm.Save(ctx, tx, o)
	})
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Submit locks an active order's lines.
func (s *Service) Submit(ctx context.Context, id string) (*crm.Order, error) {
	return s.transition(ctx, id, "submit", []crm.OrderState{crm.OrderActive}, func(o *crm.Order, now time.Time) {
		o.StateCode = crm.OrderSubmitted
		o.StatusCode = "Pending"
		o.SubmitDate = &now
	})
}

// Fulfill completes a submitted order and stamps datefulfilled.
func (s *Service) Fulfill(ctx context.Context, id string) (*crm.Order, error) {
	return s.transition(ctx, id, "fulfill", []crm.OrderState{crm.OrderSubmitted}, func(o *crm.Order, now time.Time) {
		o.StateCode = crm.OrderFulfilled
		o.StatusCode = "Complete"
		o.DateFulfilled = &now
	})
}

// Cancel cancels an active or submitted order, appending the reason.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*crm.Order, error) {
	return s.transition(ctx, id, "cancel", []crm.OrderState{crm.OrderActive, crm.OrderSubmitted}, func(o *crm.Order, _ time.Time) {
		o.StateCode = crm.OrderCanceled
		o.StatusCode = "Canceled"
		o.Description = crm.AppendNote(o.Description, reason)
	})
}

func (s *Service) transition(ctx context.Context, id, action string, from []crm.OrderState, apply func(*crm.Order, time.Time)) (*crm.Order, error) {
	now := s.Clock.Now()
	var order *crm.Order
	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		o, err := loadInState(ctx, tx, id, action, from...)
		if err != nil {
			return err
		}
		apply(o, now)
		o.Touch(now)
		order = o
		return crm.Save(ctx, tx, o)
	})
	if err != nil {
		return nil, err
	}
	s.logger().Info("order "+action, "order_id", order.ID, "state", order.StateCode)
	return order, nil
}

func loadInState(ctx context.Context, tx crm.EntityStore, id, action string, allowed ...crm.OrderState) (*crm.Order, error) {
	o, err := crm.Load[crm.Order](ctx, tx, crm.TypeOrder, id)
	if err != nil {
		return nil, err
	}
	for _, st := range allowed {
		if o.StateCode == st {
			return o, nil
		}
	}
	return nil, crm.InvalidState(crm.TypeOrder, id, string(o.StateCode), "cannot %s an order in this state", action)
}
