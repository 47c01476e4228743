/*
Package opportunity implements the Opportunity Stage Engine.

PURPOSE:
  An opportunity walks a fixed, linear sales process and is eventually
  closed as Won or Lost. Close probability is never set directly; it
  follows from the stage.

STAGES:
  Qualify (25) → Develop (50) → Propose (75) → Close (100)

  - No skipping: one step forward or back at a time
  - Next from Close and previous from Qualify are rejected
  - Stage moves require statecode Open

CLOSING:
  Won:  closeprobability 100, actualvalue defaults to estimatedvalue
  Lost: closeprobability 0,   actualvalue defaults to 0
  Both: salesstage Close, actualclosedate defaults to now.
  A closed opportunity cannot be closed again.

SEE ALSO:
  - lead: Creates the first opportunity on qualification
  - quote: Quotes hang off an opportunity
*/
package opportunity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/sales-engine/crm"
)

// Service runs opportunity transitions.
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
// CREATE + READ
// =============================================================================

// Create stores a new opportunity at stage Qualify.
func (s *Service) Create(ctx context.Context, in crm.NewOpportunity) (*crm.Opportunity, error) {
	verr := &crm.ValidationError{}
	if strings.TrimSpace(in.Name) == "" {
		verr.Add("opportunity name is required")
	}
	if in.EstimatedValue.IsNegative() {
		verr.Add("estimatedvalue must not be negative")
	}
	if in.CustomerID != "" && in.CustomerIDType != crm.CustomerAccount && in.CustomerIDType != crm.CustomerContact {
		verr.Add("customeridtype must be account or contact")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	opp := &crm.Opportunity{
		ID:                 crm.NewID(),
		Name:               strings.TrimSpace(in.Name),
		EstimatedValue:     in.EstimatedValue,
		ActualValue:        decimal.Zero,
		EstimatedCloseDate: in.EstimatedCloseDate,
		Description:        in.Description,
		SalesStage:         crm.StageQualify,
		CloseProbability:   crm.StageQualify.Probability(),
		StateCode:          crm.OpportunityOpen,
		OriginatingLeadID:  in.OriginatingLeadID,
	}
	if in.CustomerID != "" {
		opp.CustomerID = in.CustomerID
		opp.CustomerIDType = in.CustomerIDType
	}
	opp.OwnerID = in.OwnerID
	opp.Touch(s.Clock.Now())

	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		if opp.CustomerID != "" {
			if err := crm.CheckCustomer(ctx, tx, opp.CustomerIDType, opp.CustomerID); err != nil {
				return err
			}
		}
		return crm.Save(ctx, tx, opp)
	})
	if err != nil {
		return nil, err
	}
	s.logger().Info("opportunity created", "opportunity_id", opp.ID, "customer_id", opp.CustomerID, "lead_id", opp.OriginatingLeadID)
	return opp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*crm.Opportunity, error) {
	return crm.Load[crm.Opportunity](ctx, crm.Resolve(ctx, s.Store), crm.TypeOpportunity, id)
}

func (s *Service) List(ctx context.Context) ([]*crm.Opportunity, error) {
	return crm.Find[crm.Opportunity](ctx, crm.Resolve(ctx, s.Store), crm.TypeOpportunity, nil)
}

// ListByCustomer returns the opportunities billed to an account or contact.
func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]*crm.Opportunity, error) {
	return crm.Find[crm.Opportunity](ctx, crm.Resolve(ctx, s.Store), crm.TypeOpportunity, crm.Filter{"customerid": customerID})
}

// ListByLead returns the opportunities a lead was qualified into.
func (s *Service) ListByLead(ctx context.Context, leadID string) ([]*crm.Opportunity, error) {
	return crm.Find[crm.Opportunity](ctx, crm.Resolve(ctx, s.Store), crm.TypeOpportunity, crm.Filter{"originatingleadid": leadID})
}

// =============================================================================
// UPDATE + DELETE
// =============================================================================

// Update patches descriptive fields of an open opportunity.
func (s *Service) Update(ctx context.Context, id string, in crm.OpportunityUpdate) (*crm.Opportunity, error) {
	verr := &crm.ValidationError{}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		verr.Add("opportunity name is required")
	}
	if in.EstimatedValue != nil && in.EstimatedValue.IsNegative() {
		verr.Add("estimatedvalue must not be negative")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	return s.mutateOpen(ctx, id, "update", func(o *crm.Opportunity) error {
		if in.Name != nil {
			o.Name = strings.TrimSpace(*in.Name)
		}
		if in.EstimatedValue != nil {
			o.EstimatedValue = *in.EstimatedValue
		}
		if in.EstimatedCloseDate != nil {
			o.EstimatedCloseDate = in.EstimatedCloseDate
		}
		if in.Description != nil {
			o.Description = *in.Description
		}
		return nil
	})
}

// Delete removes an open opportunity. Closed ones are kept as history, and
// an opportunity that quotes, orders or invoices point at cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		o, err := crm.Load[crm.Opportunity](ctx, tx, crm.TypeOpportunity, id)
		if err != nil {
			return err
		}
		if o.StateCode != crm.OpportunityOpen {
			return crm.InvalidState(crm.TypeOpportunity, id, string(o.StateCode), "only open opportunities can be deleted")
		}
		for _, t := range []crm.EntityType{crm.TypeQuote, crm.TypeOrder, crm.TypeInvoice} {
			refs, err := tx.List(ctx, t, crm.Filter{"opportunityid": id})
			if err != nil {
				return err
			}
			if len(refs) > 0 {
				return &crm.PreconditionError{Type: crm.TypeOpportunity, ID: id, Message: fmt.Sprintf("opportunity is referenced by %d %s record(s)", len(refs), t)}
			}
		}
		return crm.Delete(ctx, tx, crm.TypeOpportunity, id)
	})
	if err != nil {
		return err
	}
	s.logger().Info("opportunity deleted", "opportunity_id", id)
	return nil
}

// =============================================================================
// STAGE MOVES
// =============================================================================

// MoveToNextStage advances one stage. Rejected at Close.
func (s *Service) MoveToNextStage(ctx context.Context, id string) (*crm.Opportunity, error) {
	return s.mutateOpen(ctx, id, "next stage", func(o *crm.Opportunity) error {
		next, ok := o.SalesStage.Next()
		if !ok {
			return crm.InvalidState(crm.TypeOpportunity, id, string(o.SalesStage), "already at the last stage")
		}
		o.SalesStage = next
		o.CloseProbability = next.Probability()
		return nil
	})
}

// MoveToPreviousStage steps back one stage. Rejected at Qualify.
func (s *Service) MoveToPreviousStage(ctx context.Context, id string) (*crm.Opportunity, error) {
	return s.mutateOpen(ctx, id, "previous stage", func(o *crm.Opportunity) error {
		prev, ok := o.SalesStage.Previous()
		if !ok {
			return crm.InvalidState(crm.TypeOpportunity, id, string(o.SalesStage), "already at the first stage")
		}
		o.SalesStage = prev
		o.CloseProbability = prev.Probability()
		return nil
	})
}

// =============================================================================
// CLOSE
// =============================================================================

// Close marks an open opportunity Won or Lost.
func (s *Service) Close(ctx context.Context, id string, req crm.CloseRequest) (*crm.Opportunity, error) {
	verr := &crm.ValidationError{}
	if req.StateCode != crm.OpportunityWon && req.StateCode != crm.OpportunityLost {
		verr.Add("statecode must be Won or Lost")
	}
	if req.ActualValue != nil && req.ActualValue.IsNegative() {
		verr.Add("actualvalue must not be negative")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	return s.mutateOpen(ctx, id, "close", func(o *crm.Opportunity) error {
		o.StateCode = req.StateCode
		o.SalesStage = crm.StageClose
		o.StatusCode = req.CloseStatus

		switch {
		case req.ActualValue != nil:
			o.ActualValue = *req.ActualValue
		case req.StateCode == crm.OpportunityWon:
			o.ActualValue = o.EstimatedValue
		default:
			o.ActualValue = decimal.Zero
		}

		if req.StateCode == crm.OpportunityWon {
			o.CloseProbability = 100
			if o.StatusCode == "" {
				o.StatusCode = "Won"
			}
		} else {
			o.CloseProbability = 0
			if o.StatusCode == "" {
				o.StatusCode = "Lost"
			}
		}

		closed := now
		if req.ActualCloseDate != nil {
			closed = req.ActualCloseDate.UTC()
		}
		o.ActualCloseDate = &closed
		return nil
	})
}

// mutateOpen loads an open opportunity, applies fn and saves it in one unit.
func (s *Service) mutateOpen(ctx context.Context, id, action string, fn func(*crm.Opportunity) error) (*crm.Opportunity, error) {
	var opp *crm.Opportunity
	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		o, err := crm.Load[crm.Opportunity](ctx, tx, crm.TypeOpportunity, id)
		if err != nil {
			return err
		}
		if o.StateCode != crm.OpportunityOpen {
			return crm.InvalidState(crm.TypeOpportunity, id, string(o.StateCode), "cannot %s a closed opportunity", action)
		}
		if err := fn(o); err != nil {
			return err
		}
		o.Touch(s.Clock.Now())
		opp = o
		return crm.Save(ctx, tx, o)
	})
	if err != nil {
		return nil, err
	}
	s.logger().Info("opportunity "+action,
		"opportunity_id", opp.ID,
		"stage", opp.SalesStage,
		"probability", opp.CloseProbability,
		"state", opp.StateCode,
	)
	return opp, nil
}
