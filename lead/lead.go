/*
Package lead implements Lead Qualification.

PURPOSE:
  A lead is an unqualified prospect. Qualifying it converts it into the
  records a sale is tracked against: optionally an account and a contact,
  and always exactly one opportunity.

STATE MACHINE:
  Open → Qualified     (Qualify)
  Open → Disqualified  (Disqualify, with a reason code)

  Leads are never deleted; qualified and disqualified leads are history.

QUALIFICATION:
  ┌──────────┐   CreateAccount (B2B only)   ┌─────────┐
  │   Lead   │ ───────────────────────────▶ │ Account │◀─┐ parentcustomerid
  │  (Open)  │   CreateContact              ├─────────┤  │
  │          │ ───────────────────────────▶ │ Contact │──┘
  │          │   always                     ├─────────────┐
  │          │ ───────────────────────────▶ │ Opportunity │ customer = account, else contact
  └──────────┘                              └─────────────┘

  Everything is written in one atomic unit: if the opportunity cannot be
  created, neither are the account and contact, and the lead stays Open.

B2B vs B2C:
  A lead with a company name is B2B. CreateAccount on a B2C lead is a
  ValidationError, so a B2C qualification never produces an account.
  A B2B qualification always creates or links exactly one account: when
  neither CreateAccount nor ExistingAccountID is given, one is created.

SEE ALSO:
  - customer: Account and contact creation
  - opportunity: The qualified opportunity's stage engine
*/
package lead

import (
	"context"
	"log/slog"
	"strings"

	"github.com/warp/sales-engine/crm"
)

// CustomerCreator creates the customer records a lead qualifies into.
type CustomerCreator interface {
	CreateAccount(ctx context.Context, in crm.NewAccount) (*crm.Account, error)
	CreateContact(ctx context.Context, in crm.NewContact) (*crm.Contact, error)
}

// OpportunityCreator creates the qualified opportunity.
type OpportunityCreator interface {
	Create(ctx context.Context, in crm.NewOpportunity) (*crm.Opportunity, error)
}

// Service runs lead transitions.
type Service struct {
	Store         crm.EntityStore
	Customers     CustomerCreator
	Opportunities OpportunityCreator
	Clock         crm.Clock
	Logger        *slog.Logger
}

func NewService(store crm.EntityStore, customers CustomerCreator, opportunities OpportunityCreator) *Service {
	return &Service{Store: store, Customers: customers, Opportunities: opportunities}
}

func (s *Service) logger() *slog.Logger { return crm.LoggerOrDefault(s.Logger) }

// QualifyResult is everything a qualification created or linked.
type QualifyResult struct {
	Lead        *crm.Lead        `json:"lead"`
	Account     *crm.Account     `json:"account,omitempty"`
	Contact     *crm.Contact     `json:"contact,omitempty"`
	Opportunity *crm.Opportunity `json:"opportunity"`
}

// =============================================================================
// CREATE + READ + UPDATE
// =============================================================================

// Create stores a new open lead.
func (s *Service) Create(ctx context.Context, in crm.NewLead) (*crm.Lead, error) {
	if err := validateLead(in.LastName, in.CompanyName, in.EstimatedValue.IsNegative()); err != nil {
		return nil, err
	}

	lead := &crm.Lead{
		ID:                crm.NewID(),
		FirstName:         in.FirstName,
		LastName:          in.LastName,
		EmailAddress1:     in.EmailAddress1,
		Telephone1:        in.Telephone1,
		Subject:           in.Subject,
		CompanyName:       strings.TrimSpace(in.CompanyName),
		BudgetStatus:      in.BudgetStatus,
		PurchaseTimeframe: in.PurchaseTimeframe,
		JobTitle:          in.JobTitle,
		Description:       in.Description,
		EstimatedValue:    in.EstimatedValue,
		StateCode:         crm.LeadOpen,
		StatusCode:        "New",
	}
	lead.OwnerID = in.OwnerID
	lead.Touch(s.Clock.Now())

	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		return crm.Save(ctx, tx, lead)
	})
	if err != nil {
		return nil, err
	}
	s.logger().Info("lead created", "lead_id", lead.ID, "b2b", lead.IsB2B())
	return lead, nil
}

func validateLead(lastName, companyName string, negativeValue bool) error {
	verr := &crm.ValidationError{}
	if strings.TrimSpace(lastName) == "" && strings.TrimSpace(companyName) == "" {
		verr.Add("lead needs a last name or a company name")
	}
	if negativeValue {
		verr.Add("estimatedvalue must not be negative")
	}
	return verr.OrNil()
}

func (s *Service) Get(ctx context.Context, id string) (*crm.Lead, error) {
	return crm.Load[crm.Lead](ctx, crm.Resolve(ctx, s.Store), crm.TypeLead, id)
}

func (s *Service) List(ctx context.Context) ([]*crm.Lead, error) {
	return crm.Find[crm.Lead](ctx, crm.Resolve(ctx, s.Store), crm.TypeLead, nil)
}

// ListByCompany returns the leads naming a company, exact match.
func (s *Service) ListByCompany(ctx context.Context, companyName string) ([]*crm.Lead, error) {
	return crm.Find[crm.Lead](ctx, crm.Resolve(ctx, s.Store), crm.TypeLead, crm.Filter{"companyname": strings.TrimSpace(companyName)})
}

// Update patches an open lead.
func (s *Service) Update(ctx context.Context, id string, in crm.LeadUpdate) (*crm.Lead, error) {
	var lead *crm.Lead
	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		l, err := s.loadOpen(ctx, tx, id, "update")
		if err != nil {
			return err
		}
		applyLeadUpdate(l, in)
		if err := validateLead(l.LastName, l.CompanyName, l.EstimatedValue.IsNegative()); err != nil {
			return err
		}
		l.Touch(s.Clock.Now())
		lead = l
		return crm.Save(ctx, tx, l)
	})
	if err != nil {
		return nil, err
	}
	return lead, nil
}

func applyLeadUpdate(l *crm.Lead, in crm.LeadUpdate) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&l.FirstName, in.FirstName)
	set(&l.LastName, in.LastName)
	set(&l.EmailAddress1, in.EmailAddress1)
	set(&l.Telephone1, in.Telephone1)
	set(&l.Subject, in.Subject)
	set(&l.BudgetStatus, in.BudgetStatus)
	set(&l.PurchaseTimeframe, in.PurchaseTimeframe)
	set(&l.JobTitle, in.JobTitle)
	set(&l.Description, in.Description)
	if in.CompanyName != nil {
		l.CompanyName = strings.TrimSpace(*in.CompanyName)
	}
	if in.EstimatedValue != nil {
		l.EstimatedValue = *in.EstimatedValue
	}
}

func (s *Service) loadOpen(ctx context.Context, tx crm.EntityStore, id, action string) (*crm.Lead, error) {
	l, err := crm.Load[crm.Lead](ctx, tx, crm.TypeLead, id)
	if err != nil {
		return nil, err
	}
	if l.StateCode != crm.LeadOpen {
		return nil, crm.InvalidState(crm.TypeLead, id, string(l.StateCode), "cannot %s a lead that is not open", action)
	}
	return l, nil
}

// =============================================================================
// QUALIFY
// =============================================================================

// Qualify converts an open lead into customer records and one opportunity.
func (s *Service) Qualify(ctx context.Context, leadID string, opts crm.QualifyOptions) (*QualifyResult, error) {
	result := &QualifyResult{}
	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		lead, err := s.loadOpen(ctx, tx, leadID, "qualify")
		if err != nil {
			return err
		}
		if err := checkOptions(lead, opts); err != nil {
			return err
		}
		// A company lead always ends with exactly one account.
		if lead.IsB2B() && opts.ExistingAccountID == "" {
			opts.CreateAccount = true
		}

		// Existing records first: a dangling id must fail before anything is created.
		if opts.ExistingAccountID != "" {
			if result.Account, err = crm.Load[crm.Account](ctx, tx, crm.TypeAccount, opts.ExistingAccountID); err != nil {
				return err
			}
		}
		if opts.ExistingContactID != "" {
			if result.Contact, err = crm.Load[crm.Contact](ctx, tx, crm.TypeContact, opts.ExistingContactID); err != nil {
				return err
			}
		}

		if opts.CreateAccount {
			result.Account, err = s.Customers.CreateAccount(ctx, crm.NewAccount{
				Name:              lead.CompanyName,
				EmailAddress1:     lead.EmailAddress1,
				Telephone1:        lead.Telephone1,
				OriginatingLeadID: lead.ID,
				OwnerID:           lead.OwnerID,
			})
			if err != nil {
				return err
			}
		}
		if opts.CreateContact {
			parent := ""
			if result.Account != nil {
				parent = result.Account.ID
			}
			result.Contact, err = s.Customers.CreateContact(ctx, crm.NewContact{
				FirstName:         lead.FirstName,
				LastName:          lead.LastName,
				EmailAddress1:     lead.EmailAddress1,
				Telephone1:        lead.Telephone1,
				JobTitle:          lead.JobTitle,
				ParentCustomerID:  parent,
				OriginatingLeadID: lead.ID,
				OwnerID:           lead.OwnerID,
			})
			if err != nil {
				return err
			}
		}

		newOpp := crm.NewOpportunity{
			Name:              opportunityName(lead),
			EstimatedValue:    lead.EstimatedValue,
			Description:       lead.Description,
			OriginatingLeadID: lead.ID,
			OwnerID:           lead.OwnerID,
		}
		if result.Account != nil {
			newOpp.CustomerID, newOpp.CustomerIDType = result.Account.ID, crm.CustomerAccount
		} else {
			newOpp.CustomerID, newOpp.CustomerIDType = result.Contact.ID, crm.CustomerContact
		}
		if result.Opportunity, err = s.Opportunities.Create(ctx, newOpp); err != nil {
			return err
		}

		lead.StateCode = crm.LeadQualified
		lead.StatusCode = "Qualified"
		lead.QualifyingOpportunityID = result.Opportunity.ID
		if result.Account != nil {
			lead.ParentAccountID = result.Account.ID
		}
		if result.Contact != nil {
			lead.ParentContactID = result.Contact.ID
		}
		lead.Touch(s.Clock.Now())
		result.Lead = lead
		return crm.Save(ctx, tx, lead)
	})
	if err != nil {
		return nil, err
	}

	s.logger().Info("lead qualified",
		"lead_id", result.Lead.ID,
		"opportunity_id", result.Opportunity.ID,
		"account_id", result.Lead.ParentAccountID,
		"contact_id", result.Lead.ParentContactID,
	)
	return result, nil
}

// checkOptions rejects option sets that cannot produce a customer.
// Company leads without an account option get one created by Qualify.
func checkOptions(lead *crm.Lead, opts crm.QualifyOptions) error {
	verr := &crm.ValidationError{}
	if opts.CreateAccount && !lead.IsB2B() {
		verr.Add("cannot create an account for a lead without a company name")
	}
	if opts.CreateAccount && opts.ExistingAccountID != "" {
		verr.Add("createaccount and existingaccountid are mutually exclusive")
	}
	if opts.CreateContact && opts.ExistingContactID != "" {
		verr.Add("createcontact and existingcontactid are mutually exclusive")
	}
	if !lead.IsB2B() && !opts.CreateContact && opts.ExistingAccountID == "" && opts.ExistingContactID == "" {
		verr.Add("qualification needs an account or a contact as customer")
	}
	return verr.OrNil()
}

func opportunityName(l *crm.Lead) string {
	if s := strings.TrimSpace(l.Subject); s != "" {
		return s
	}
	if l.IsB2B() {
		return l.CompanyName
	}
	if n := strings.TrimSpace(l.FullName()); n != "" {
		return n
	}
	return "Opportunity " + crm.DocumentNumber("LEAD", l.ID)
}

// =============================================================================
// DISQUALIFY
// =============================================================================

// Disqualify closes an open lead with a reason code.
func (s *Service) Disqualify(ctx context.Context, leadID, reason string) (*crm.Lead, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Disqualified"
	}

	var lead *crm.Lead
	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		l, err := s.loadOpen(ctx, tx, leadID, "disqualify")
		if err != nil {
			return err
		}
		l.StateCode = crm.LeadDisqualified
		l.StatusCode = reason
		l.Touch(s.Clock.Now())
		lead = l
		return crm.Save(ctx, tx, l)
	})
	if err != nil {
		return nil, err
	}
	s.logger().Info("lead disqualified", "lead_id", lead.ID, "reason", reason)
	return lead, nil
}
