/*
Package quote implements the Quote Lifecycle.

PURPOSE:
  A quote is a priced offer against an opportunity. Its lines are edited
  while it is a draft; activating it freezes the lines; winning it turns it
  into a sales order.

STATE MACHINE:
  Draft ──Activate──▶ Active ──Win──▶ Won
                         └────Lose──▶ Lost

  - Lines can be added, changed or removed only in Draft
  - Activate requires at least one line
  - Win creates exactly one order, copying every line verbatim

CASCADE:
  Win calls the OrderCreator with the caller's context, so the order (and
  its lines) is written in the same atomic unit as the quote's state change.
  If order creation fails the quote stays Active.

TOTALS:
  Every line mutation and freight change recomputes the header through the
  crm ledger and saves it with the line.

SEE ALSO:
  - crm/ledger.go: Line and header arithmetic
  - order: CreateFromQuote
*/
package quote

import (
	"context"
	"log/slog"
	"strings"

	"github.com/warp/sales-engine/crm"
)

// OrderCreator turns a won quote into a sales order.
type OrderCreator interface {
	CreateFromQuote(ctx context.Context, q *crm.Quote, lines []*crm.QuoteDetail) (*crm.Order, error)
}

// Service runs quote transitions.
type Service struct {
	Store  crm.EntityStore
	Orders OrderCreator
	Clock  crm.Clock
	Logger *slog.Logger
}

func NewService(store crm.EntityStore, orders OrderCreator) *Service {
	return &Service{Store: store, Orders: orders}
}

func (s *Service) logger() *slog.Logger { return crm.LoggerOrDefault(s.Logger) }

// WinResult is the won quote and the order it produced.
type WinResult struct {
	Quote *crm.Quote `json:"quote"`
	Order *crm.Order `json:"order"`
}

// =============================================================================
// CREATE + READ
// =============================================================================

// Create stores a new draft quote with no lines.
func (s *Service) Create(ctx context.Context, in crm.NewQuote) (*crm.Quote, error) {
	if err := crm.ValidateFreight(in.FreightAmount); err != nil {
		return nil, err
	}

	id := crm.NewID()
	q := &crm.Quote{
		ID:          id,
		QuoteNumber: crm.DocumentNumber("QUO", id),
		StateCode:   crm.QuoteDraft,
		StatusCode:  "In Progress",
		Document: crm.Document{
			Name:             strings.TrimSpace(in.Name),
			OpportunityID:    in.OpportunityID,
			CustomerID:       in.CustomerID,
			CustomerIDType:   in.CustomerIDType,
			Description:      in.Description,
			BillTo:           in.BillTo,
			ShipTo:           in.ShipTo,
			PaymentTermsCode: in.PaymentTermsCode,
		},
	}
	q.Totals.Apply(crm.Aggregate(nil), in.FreightAmount)
	q.OwnerID = in.OwnerID
	q.Touch(s.Clock.Now())

	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		if q.OpportunityID != "" {
			opp, err := crm.Load[crm.Opportunity](ctx, tx, crm.TypeOpportunity, q.OpportunityID)
			if err != nil {
				return err
			}
			if q.CustomerID == "" {
				q.CustomerID, q.CustomerIDType = opp.CustomerID, opp.CustomerIDType
			}
			if q.Name == "" {
				q.Name = opp.Name
			}
		}
		if q.CustomerID != "" {
			if err := crm.CheckCustomer(ctx, tx, q.CustomerIDType, q.CustomerID); err != nil {
				return err
			}
		}
		if q.Name == "" {
			q.Name = q.QuoteNumber
		}
		return crm.Save(ctx, tx, q)
	})
	if err != nil {
		return nil, err
	}
	s.logger().Info("quote created", "quote_id", q.ID, "opportunity_id", q.OpportunityID)
	return q, nil
}

func (s *Service) Get(ctx context.Context, id string) (*crm.Quote, error) {
	return crm.Load[crm.Quote](ctx, crm.Resolve(ctx, s.Store), crm.TypeQuote, id)
}

func (s *Service) List(ctx context.Context) ([]*crm.Quote, error) {
	return crm.Find[crm.Quote](ctx, crm.Resolve(ctx, s.Store), crm.TypeQuote, nil)
}

// ListByOpportunity returns the quotes issued against an opportunity.
func (s *Service) ListByOpportunity(ctx context.Context, opportunityID string) ([]*crm.Quote, error) {
	return crm.Find[crm.Quote](ctx, crm.Resolve(ctx, s.Store), crm.TypeQuote, crm.Filter{"opportunityid": opportunityID})
}

// Lines returns a quote's lines in line-number order.
func (s *Service) Lines(ctx context.Context, quoteID string) ([]*crm.QuoteDetail, error) {
	store := crm.Resolve(ctx, s.Store)
	if _, err := crm.Load[crm.Quote](ctx, store, crm.TypeQuote, quoteID); err != nil {
		return nil, err
	}
	return loadLines(ctx, store, quoteID)
}

func loadLines(ctx context.Context, store crm.EntityStore, quoteID string) ([]*crm.QuoteDetail, error) {
	return crm.LoadLines[crm.QuoteDetail](ctx, store, crm.TypeQuoteDetail, "quoteid", quoteID)
}

// =============================================================================
// UPDATE + DELETE (Draft only)
// =============================================================================

// Update patches a draft quote's header. A freight change recomputes totals.
func (s *Service) Update(ctx context.Context, id string, in crm.DocumentUpdate) (*crm.Quote, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var quote *crm.Quote
	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		q, err := loadDraft(ctx, tx, id, "update")
		if err != nil {
			return err
		}
		if in.Apply(&q.Document) {
			lines, err := loadLines(ctx, tx, id)
			if err != nil {
				return err
			}
			crm.Recompute(&q.Totals, lines, q.FreightAmount)
		}
		q.Touch(s.Clock.Now())
		quote = q
		return crm.Save(ctx, tx, q)
	})
	if err != nil {
		return nil, err
	}
	return quote, nil
}

// Delete removes a draft quote and all its lines.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		if _, err := loadDraft(ctx, tx, id, "delete"); err != nil {
			return err
		}
		if err := crm.DeleteLines(ctx, tx, crm.TypeQuoteDetail, "quoteid", id); err != nil {
			return err
		}
		return crm.Delete(ctx, tx, crm.TypeQuote, id)
	})
	if err != nil {
		return err
	}
	s.logger().Info("quote deleted", "quote_id", id)
	return nil
}

func loadDraft(ctx context.Context, tx crm.EntityStore, id, action string) (*crm.Quote, error) {
	q, err := crm.Load[crm.Quote](ctx, tx, crm.TypeQuote, id)
	if err != nil {
		return nil, err
	}
	if q.StateCode != crm.QuoteDraft {
		return nil, crm.InvalidState(crm.TypeQuote, id, string(q.StateCode), "cannot %s a quote that is not a draft", action)
	}
	return q, nil
}

// =============================================================================
// LINES (Draft only)
// =============================================================================

// AddLine appends a priced line and recomputes the header.
func (s *Service) AddLine(ctx context.Context, quoteID string, in crm.LineInput) (*crm.QuoteDetail, error) {
	var detail *crm.QuoteDetail
	err := s.editLines(ctx, quoteID, "add lines to", func(ctx context.Context, tx crm.EntityStore, owner string, lines []*crm.QuoteDetail) ([]*crm.QuoteDetail, error) {
		var err error
		detail, lines, err = crm.InsertLine(ctx, tx, lines, in, s.Clock.Now(), func(item crm.LineItem) *crm.QuoteDetail {
			return &crm.QuoteDetail{ID: crm.NewID(), QuoteID: quoteID, LineItem: item, Audit: crm.Audit{OwnerID: owner}}
		})
		return lines, err
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// UpdateLine reprices an existing line, keeping its line number.
func (s *Service) UpdateLine(ctx context.Context, quoteID, lineID string, in crm.LineInput) (*crm.QuoteDetail, error) {
	var detail *crm.QuoteDetail
	err := s.editLines(ctx, quoteID, "change lines of", func(ctx context.Context, tx crm.EntityStore, owner string, lines []*crm.QuoteDetail) ([]*crm.QuoteDetail, error) {
		var err error
		detail, err = crm.ReplaceLine(ctx, tx, lines, crm.TypeQuoteDetail, lineID, in, s.Clock.Now())
		return lines, err
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// RemoveLine deletes a line and recomputes the header.
func (s *Service) RemoveLine(ctx context.Context, quoteID, lineID string) error {
	return s.editLines(ctx, quoteID, "remove lines from", func(ctx context.Context, tx crm.EntityStore, owner string, lines []*crm.QuoteDetail) ([]*crm.QuoteDetail, error) {
		return crm.DropLine(ctx, tx, lines, crm.TypeQuoteDetail, lineID)
	})
}

// editLines runs fn against a draft quote's lines and saves the recomputed header.
func (s *Service) editLines(
	ctx context.Context,
	quoteID, action string,
	fn func(ctx context.Context, tx crm.EntityStore, owner string, lines []*crm.QuoteDetail) ([]*crm.QuoteDetail, error),
) error {
	return crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		q, err := loadDraft(ctx, tx, quoteID, action)
		if err != nil {
			return err
		}
		lines, err := loadLines(ctx, tx, quoteID)
		if err != nil {
			return err
		}
		lines, err = fn(ctx, tx, q.OwnerID, lines)
		if err != nil {
			return err
		}
		crm.Recompute(&q.Totals, lines, q.FreightAmount)
		q.Touch(s.Clock.Now())
		return crm.Save(ctx, tx, q)
	})
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Activate moves a draft quote with at least one line to Active.
func (s *Service) Activate(ctx context.Context, id string) (*crm.Quote, error) {
	var quote *crm.Quote
	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		q, err := loadDraft(ctx, tx, id, "activate")
		if err != nil {
			return err
		}
		lines, err := loadLines(ctx, tx, id)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return crm.NewValidationError("quote must have at least one line to activate")
		}
		q.StateCode = crm.QuoteActive
		q.StatusCode = "In Progress"
		q.Touch(s.Clock.Now())
		quote = q
		return crm.Save(ctx, tx, q)
	})
	if err != nil {
		return nil, err
	}
	s.logger().Info("quote activated", "quote_id", quote.ID, "total", quote.TotalAmount.String())
	return quote, nil
}

// Win closes an active quote as Won and creates its sales order.
func (s *Service) Win(ctx context.Context, id string) (*WinResult, error) {
	result := &WinResult{}
	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		q, err := loadActive(ctx, tx, id, "win")
		if err != nil {
			return err
		}
		lines, err := loadLines(ctx, tx, id)
		if err != nil {
			return err
		}

		q.StateCode = crm.QuoteWon
		q.StatusCode = "Won"
		q.Touch(s.Clock.Now())
		if err := crm.Save(ctx, tx, q); err != nil {
			return err
		}

		order, err := s.Orders.CreateFromQuote(ctx, q, lines)
		if err != nil {
			return err
		}
		result.Quote, result.Order = q, order
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger().Info("quote won", "quote_id", result.Quote.ID, "order_id", result.Order.ID)
	return result, nil
}

// Lose closes an active quote as Lost, appending the reason to its description.
func (s *Service) Lose(ctx context.Context, id, reason string) (*crm.Quote, error) {
	var quote *crm.Quote
	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		q, err := loadActive(ctx, tx, id, "lose")
		if err != nil {
			return err
		}
		q.StateCode = crm.QuoteLost
		q.StatusCode = "Lost"
		q.Description = crm.AppendNote(q.Description, reason)
		q.Touch(s.Clock.Now())
		quote = q
		return crm.Save(ctx, tx, q)
	})
	if err != nil {
		return nil, err
	}
	s.logger().Info("quote lost", "quote_id", quote.ID, "reason", reason)
	return quote, nil
}

func loadActive(ctx context.Context, tx crm.EntityStore, id, action string) (*crm.Quote, error) {
	q, err := crm.Load[crm.Quote](ctx, tx, crm.TypeQuote, id)
	if err != nil {
		return nil, err
	}
	if q.StateCode != crm.QuoteActive {
		return nil, crm.InvalidState(crm.TypeQuote, id, string(q.StateCode), "cannot %s a quote that is not active", action)
	}
	return q, nil
}
