/*
Package invoice implements the Invoice Lifecycle.

PURPOSE:
  An invoice bills a fulfilled order. It tracks what has been paid and what
  is still owed, and when it falls due.

STATE MACHINE:
  Active ──Close──▶ Closed
    │                 │
    ├──MarkAsPaid / RecordPayment (balance reaches 0)──▶ Paid
    └──Cancel─────────┴──────────────────────────────────▶ Canceled

  - Lines and header are editable only while Active
  - Paid invoices cannot be canceled
  - Cancel appends the reason to the description

CREATION:
  CreateFromOrder requires a Fulfilled order with at least one line. It
  copies addresses, payment terms, totals and every line (with the
  salesorderdetailid it came from). Nothing is written when a check fails.

  duedate      = createdon + payment-terms days (30 when absent or unknown)
  totalpaid    = 0
  totalbalance = totalamount

BALANCE INVARIANT:
  totalbalance = totalamount − totalpaid, after every line edit, freight
  change and payment.

SEE ALSO:
  - order: The source of every invoice
  - crm/paymentterms.go: Due-date table
*/
package invoice

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/sales-engine/crm"
)

// OrderReader reads the order an invoice is created from. It must be built on
// the same store as the invoice Service: CreateFromOrder calls it inside its
// transaction, and only reads on that store resolve to the open transaction.
// On SQLite a reader over another handle would block on the write lock.
type OrderReader interface {
	Get(ctx context.Context, id string) (*crm.Order, error)
	Lines(ctx context.Context, orderID string) ([]*crm.OrderDetail, error)
}

// Service runs invoice transitions.
type Service struct {
	Store  crm.EntityStore
	Orders OrderReader
	Terms  *crm.PaymentTerms
	Clock  crm.Clock
	Logger *slog.Logger
}

func NewService(store crm.EntityStore, orders OrderReader, terms *crm.PaymentTerms) *Service {
	return &Service{Store: store, Orders: orders, Terms: terms}
}

func (s *Service) logger() *slog.Logger { return crm.LoggerOrDefault(s.Logger) }

// =============================================================================
// CREATE
// =============================================================================

// CreateFromOrder bills a fulfilled order.
func (s *Service) CreateFromOrder(ctx context.Context, orderID string) (*crm.Invoice, error) {
	var inv *crm.Invoice
	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		order, err := s.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if order.StateCode != crm.OrderFulfilled {
			return crm.InvalidState(crm.TypeOrder, orderID, string(order.StateCode), "order not fulfilled")
		}
		lines, err := s.Orders.Lines(ctx, orderID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return &crm.PreconditionError{Type: crm.TypeOrder, ID: orderID, Message: "order has no lines"}
		}
		if err := s.checkNotInvoiced(ctx, tx, orderID); err != nil {
			return err
		}

		now := s.Clock.Now()
		id := crm.NewID()
		inv = &crm.Invoice{
			ID:            id,
			InvoiceNumber: crm.DocumentNumber("INV", id),
			SalesOrderID:  order.ID,
			StateCode:     crm.InvoiceActive,
			StatusCode:    "New",
			TotalPaid:     decimal.Zero,
			TotalBalance:  order.TotalAmount,
			Document:      order.Document,
		}
		inv.OwnerID = order.OwnerID
		inv.Touch(now)
		inv.DueDate = s.dueDate(inv.CreatedOn, inv.PaymentTermsCode)

		for _, ol := range lines {
			d := &crm.InvoiceDetail{
				ID:                 crm.NewID(),
				InvoiceID:          inv.ID,
				SalesOrderDetailID: ol.ID,
				LineItem:           ol.LineItem,
			}
			d.OwnerID = ol.OwnerID
			d.Touch(now)
			if err := crm.Save(ctx, tx, d); err != nil {
				return err
			}
		}
		return crm.Save(ctx, tx, inv)
	})
	if err != nil {
		return nil, err
	}
	s.logger().Info("invoice created from order",
		"invoice_id", inv.ID,
		"order_id", orderID,
		"total", inv.TotalAmount.String(),
		"due", inv.DueDate.Format(time.DateOnly),
	)
	return inv, nil
}

// checkNotInvoiced rejects a second live invoice for the same order.
func (s *Service) checkNotInvoiced(ctx context.Context, tx crm.EntityStore, orderID string) error {
	existing, err := crm.Find[crm.Invoice](ctx, tx, crm.TypeInvoice, crm.Filter{"salesorderid": orderID})
	if err != nil {
		return err
	}
	for _, inv := range existing {
		if inv.StateCode != crm.InvoiceCanceled {
			return &crm.PreconditionError{Type: crm.TypeOrder, ID: orderID, Message: "order already invoiced by " + inv.InvoiceNumber}
		}
	}
	return nil
}

func (s *Service) dueDate(createdOn time.Time, termsCode string) time.Time {
	return createdOn.AddDate(0, 0, s.Terms.DueDays(termsCode))
}

// =============================================================================
// READ
// =============================================================================

func (s *Service) Get(ctx context.Context, id string) (*crm.Invoice, error) {
	return crm.Load[crm.Invoice](ctx, crm.Resolve(ctx, s.Store), crm.TypeInvoice, id)
}

func (s *Service) List(ctx context.Context) ([]*crm.Invoice, error) {
	return crm.Find[crm.Invoice](ctx, crm.Resolve(ctx, s.Store), crm.TypeInvoice, nil)
}

func (s *Service) ListByOrder(ctx context.Context, orderID string) ([]*crm.Invoice, error) {
	return crm.Find[crm.Invoice](ctx, crm.Resolve(ctx, s.Store), crm.TypeInvoice, crm.Filter{"salesorderid": orderID})
}

func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]*crm.Invoice, error) {
	return crm.Find[crm.Invoice](ctx, crm.Resolve(ctx, s.Store), crm.TypeInvoice, crm.Filter{"customerid": customerID})
}

// ListOverdue returns open invoices past their due date with a balance owing.
func (s *Service) ListOverdue(ctx context.Context, asOf time.Time) ([]*crm.Invoice, error) {
	store := crm.Resolve(ctx, s.Store)
	overdue := []*crm.Invoice{}
	for _, state := range []crm.InvoiceState{crm.InvoiceActive, crm.InvoiceClosed} {
		invs, err := crm.Find[crm.Invoice](ctx, store, crm.TypeInvoice, crm.Filter{"statecode": string(state)})
		if err != nil {
			return nil, err
		}
		for _, inv := range invs {
			if inv.IsOverdue(asOf) {
				overdue = append(overdue, inv)
			}
		}
	}
	return overdue, nil
}

// Lines returns an invoice's lines in line-number order.
func (s *Service) Lines(ctx context.Context, invoiceID string) ([]*crm.InvoiceDetail, error) {
	store := crm.Resolve(ctx, s.Store)
	if _, err := crm.Load[crm.Invoice](ctx, store, crm.TypeInvoice, invoiceID); err != nil {
		return nil, err
	}
	return loadLines(ctx, store, invoiceID)
}

func loadLines(ctx context.Context, store crm.EntityStore, invoiceID string) ([]*crm.InvoiceDetail, error) {
	return crm.LoadLines[crm.InvoiceDetail](ctx, store, crm.TypeInvoiceDetail, "invoiceid", invoiceID)
}

// =============================================================================
// UPDATE + DELETE (Active only)
// =============================================================================

// Update patches an active invoice's header. Freight changes recompute totals
// and balance; payment-terms changes recompute the due date.
func (s *Service) Update(ctx context.Context, id string, in crm.DocumentUpdate) (*crm.Invoice, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var invoice *crm.Invoice
	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		inv, err := loadInState(ctx, tx, id, "update", crm.InvoiceActive)
		if err != nil {
			return err
		}
		terms := inv.PaymentTermsCode
		if in.Apply(&inv.Document) {
			lines, err := loadLines(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := rebalance(inv, lines); err != nil {
				return err
			}
		}
		if inv.PaymentTermsCode != terms {
			inv.DueDate = s.dueDate(inv.CreatedOn, inv.PaymentTermsCode)
		}
		inv.Touch(s.Clock.Now())
		invoice = inv
		return crm.Save(ctx, tx, inv)
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// Delete removes an active invoice with nothing paid, and its lines.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		inv, err := loadInState(ctx, tx, id, "delete", crm.InvoiceActive)
		if err != nil {
			return err
		}
		if inv.TotalPaid.IsPositive() {
			return crm.InvalidState(crm.TypeInvoice, id, string(inv.StateCode), "cannot delete an invoice with payments")
		}
		if err := crm.DeleteLines(ctx, tx, crm.TypeInvoiceDetail, "invoiceid", id); err != nil {
			return err
		}
		return crm.Delete(ctx, tx, crm.TypeInvoice, id)
	})
	if err != nil {
		return err
	}
	s.logger().Info("invoice deleted", "invoice_id", id)
	return nil
}

// =============================================================================
// LINES (Active only)
// =============================================================================

// AddLine appends a priced line and recomputes totals and balance.
func (s *Service) AddLine(ctx context.Context, invoiceID string, in crm.LineInput) (*crm.InvoiceDetail, error) {
	var detail *crm.InvoiceDetail
	err := s.editLines(ctx, invoiceID, "add lines to", func(ctx context.Context, tx crm.EntityStore, owner string, lines []*crm.InvoiceDetail) ([]*crm.InvoiceDetail, error) {
		var err error
		detail, lines, err = crm.InsertLine(ctx, tx, lines, in, s.Clock.Now(), func(item crm.LineItem) *crm.InvoiceDetail {
			return &crm.InvoiceDetail{ID: crm.NewID(), InvoiceID: invoiceID, LineItem: item, Audit: crm.Audit{OwnerID: owner}}
		})
		return lines, err
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// UpdateLine reprices an existing line, keeping its line number.
func (s *Service) UpdateLine(ctx context.Context, invoiceID, lineID string, in crm.LineInput) (*crm.InvoiceDetail, error) {
	var detail *crm.InvoiceDetail
	err := s.editLines(ctx, invoiceID, "change lines of", func(ctx context.Context, tx crm.EntityStore, owner string, lines []*crm.InvoiceDetail) ([]*crm.InvoiceDetail, error) {
		var err error
		detail, err = crm.ReplaceLine(ctx, tx, lines, crm.TypeInvoiceDetail, lineID, in, s.Clock.Now())
		return lines, err
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// RemoveLine deletes a line and recomputes totals and balance.
func (s *Service) RemoveLine(ctx context.Context, invoiceID, lineID string) error {
	return s.editLines(ctx, invoiceID, "remove lines from", func(ctx context.Context, tx crm.EntityStore, owner string, lines []*crm.InvoiceDetail) ([]*crm.InvoiceDetail, error) {
		return crm.DropLine(ctx, tx, lines, crm.TypeInvoiceDetail, lineID)
	})
}

func (s *Service) editLines(
	ctx context.Context,
	invoiceID, action string,
	fn func(ctx context.Context, tx crm.EntityStore, owner string, lines []*crm.InvoiceDetail) ([]*crm.InvoiceDetail, error),
) error {
	return crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		inv, err := loadInState(ctx, tx, invoiceID, action, crm.InvoiceActive)
		if err != nil {
			return err
		}
		lines, err := loadLines(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		lines, err = fn(ctx, tx, inv.OwnerID, lines)
		if err != nil {
			return err
		}
		if err := rebalance(inv, lines); err != nil {
			return err
		}
		inv.Touch(s.Clock.Now())
		return crm.Save(ctx, tx, inv)
	})
}

// rebalance recomputes header totals and the outstanding balance.
func rebalance(inv *crm.Invoice, lines []*crm.InvoiceDetail) error {
	crm.Recompute(&inv.Totals, lines, inv.FreightAmount)
	balance := inv.TotalAmount.Sub(inv.TotalPaid)
	if balance.IsNegative() {
		return crm.NewValidationError("invoice total " + inv.TotalAmount.String() + " would fall below amount paid " + inv.TotalPaid.String())
	}
	inv.TotalBalance = balance
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// RecordPayment applies a partial or full payment. A zero balance marks the invoice Paid.
func (s *Service) RecordPayment(ctx context.Context, id string, p crm.Payment) (*crm.Invoice, error) {
	if !p.Amount.IsPositive() {
		return nil, crm.NewValidationError("payment amount must be greater than 0")
	}
	return s.transition(ctx, id, "record payment on", []crm.InvoiceState{crm.InvoiceActive, crm.InvoiceClosed}, func(inv *crm.Invoice, now time.Time) error {
		if p.Amount.GreaterThan(inv.TotalBalance) {
			return crm.NewValidationError("payment " + p.Amount.String() + " exceeds balance " + inv.TotalBalance.String())
		}
		inv.TotalPaid = inv.TotalPaid.Add(p.Amount)
		inv.TotalBalance = inv.TotalAmount.Sub(inv.TotalPaid)
		if inv.TotalBalance.IsZero() {
			markPaid(inv, paymentDate(p.Date, now))
		} else {
			inv.StatusCode = "Partial"
		}
		return nil
	})
}

// MarkAsPaid settles the full amount.
func (s *Service) MarkAsPaid(ctx context.Context, id string, paidOn *time.Time) (*crm.Invoice, error) {
	return s.transition(ctx, id, "mark as paid", []crm.InvoiceState{crm.InvoiceActive, crm.InvoiceClosed}, func(inv *crm.Invoice, now time.Time) error {
		inv.TotalPaid = inv.TotalAmount
		inv.TotalBalance = decimal.Zero
		markPaid(inv, paymentDate(paidOn, now))
		return nil
	})
}

func markPaid(inv *crm.Invoice, on time.Time) {
	inv.StateCode = crm.InvoicePaid
	inv.StatusCode = "Complete"
	inv.DatePaid = &on
}

func paymentDate(d *time.Time, now time.Time) time.Time {
	if d != nil {
		return d.UTC()
	}
	return now
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Close locks an active invoice's lines once it has been issued.
func (s *Service) Close(ctx context.Context, id string) (*crm.Invoice, error) {
	return s.transition(ctx, id, "close", []crm.InvoiceState{crm.InvoiceActive}, func(inv *crm.Invoice, _ time.Time) error {
		inv.StateCode = crm.InvoiceClosed
		inv.StatusCode = "Billed"
		return nil
	})
}

// Cancel cancels any unpaid invoice, appending the reason.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*crm.Invoice, error) {
	return s.transition(ctx, id, "cancel", []crm.InvoiceState{crm.InvoiceActive, crm.InvoiceClosed}, func(inv *crm.Invoice, _ time.Time) error {
		inv.StateCode = crm.InvoiceCanceled
		inv.StatusCode = "Canceled"
		inv.Description = crm.AppendNote(inv.Description, reason)
		return nil
	})
}

func (s *Service) transition(ctx context.Context, id, action string, from []crm.InvoiceState, apply func(*crm.Invoice, time.Time) error) (*crm.Invoice, error) {
	now := s.Clock.Now()
	var invoice *crm.Invoice
	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		inv, err := loadInState(ctx, tx, id, action, from...)
		if err != nil {
			return err
		}
		if err := apply(inv, now); err != nil {
			return err
		}
		inv.Touch(now)
		invoice = inv
		return crm.Save(ctx, tx, inv)
	})
	if err != nil {
		return nil, err
	}
	s.logger().Info("invoice "+action,
		"invoice_id", invoice.ID,
		"state", invoice.StateCode,
		"paid", invoice.TotalPaid.String(),
		"balance", invoice.TotalBalance.String(),
	)
	return invoice, nil
}

func loadInState(ctx context.Context, tx crm.EntityStore, id, action string, allowed ...crm.InvoiceState) (*crm.Invoice, error) {
	inv, err := crm.Load[crm.Invoice](ctx, tx, crm.TypeInvoice, id)
	if err != nil {
		return nil, err
	}
	for _, st := range allowed {
		if inv.StateCode == st {
			return inv, nil
		}
	}
	return nil, crm.InvalidState(crm.TypeInvoice, id, string(inv.StateCode), "cannot %s an invoice in this state", action)
}
