/*
Package customer manages accounts and contacts.

PURPOSE:
  Accounts (companies) and contacts (people) are the customers an
  opportunity, quote, order or invoice is billed to. Lead qualification
  creates them; they can also be created directly.

RULES:
  - An account needs a name.
  - A contact needs a first or last name.
  - A contact's parentcustomerid, when set, must name an existing account.

SEE ALSO:
  - lead: Creates customers during qualification
*/
package customer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/warp/sales-engine/crm"
)

// Service creates and reads accounts and contacts.
type Service struct {
	Store  crm.EntityStore
	Clock  crm.Clock
	Logger *slog.Logger
}

func NewService(store crm.EntityStore) *Service {
	return &Service{Store: store}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// CreateAccount stores a new active account.
func (s *Service) CreateAccount(ctx context.Context, in crm.NewAccount) (*crm.Account, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, crm.NewValidationError("account name is required")
	}

	acct := &crm.Account{
		ID:                crm.NewID(),
		Name:              strings.TrimSpace(in.Name),
		EmailAddress1:     in.EmailAddress1,
		Telephone1:        in.Telephone1,
		OriginatingLeadID: in.OriginatingLeadID,
		StateCode:         crm.AccountActive,
	}
	acct.OwnerID = in.OwnerID
	acct.Touch(s.Clock.Now())

	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		return crm.Save(ctx, tx, acct)
	})
	if err != nil {
		return nil, err
	}
	crm.LoggerOrDefault(s.Logger).Info("account created", "account_id", acct.ID, "lead_id", acct.OriginatingLeadID)
	return acct, nil
}

func (s *Service) GetAccount(ctx context.Context, id string) (*crm.Account, error) {
	return crm.Load[crm.Account](ctx, crm.Resolve(ctx, s.Store), crm.TypeAccount, id)
}

func (s *Service) ListAccounts(ctx context.Context) ([]*crm.Account, error) {
	return crm.Find[crm.Account](ctx, crm.Resolve(ctx, s.Store), crm.TypeAccount, nil)
}

// =============================================================================
// CONTACTS
// =============================================================================

// CreateContact stores a new active contact.
func (s *Service) CreateContact(ctx context.Context, in crm.NewContact) (*crm.Contact, error) {
	if strings.TrimSpace(in.FirstName) == "" && strings.TrimSpace(in.LastName) == "" {
		return nil, crm.NewValidationError("contact needs a first or last name")
	}

	contact := &crm.Contact{
		ID:                crm.NewID(),
		FirstName:         in.FirstName,
		LastName:          in.LastName,
		EmailAddress1:     in.EmailAddress1,
		Telephone1:        in.Telephone1,
		JobTitle:          in.JobTitle,
		ParentCustomerID:  in.ParentCustomerID,
		OriginatingLeadID: in.OriginatingLeadID,
		StateCode:         crm.AccountActive,
	}
	contact.OwnerID = in.OwnerID
	contact.Touch(s.Clock.Now())

	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		if contact.ParentCustomerID != "" {
			if _, err := crm.Load[crm.Account](ctx, tx, crm.TypeAccount, contact.ParentCustomerID); err != nil {
				return err
			}
		}
		return crm.Save(ctx, tx, contact)
	})
	if err != nil {
		return nil, err
	}
	crm.LoggerOrDefault(s.Logger).Info("contact created", "contact_id", contact.ID, "account_id", contact.ParentCustomerID)
	return contact, nil
}

func (s *Service) GetContact(ctx context.Context, id string) (*crm.Contact, error) {
	return crm.Load[crm.Contact](ctx, crm.Resolve(ctx, s.Store), crm.TypeContact, id)
}

func (s *Service) ListContacts(ctx context.Context) ([]*crm.Contact, error) {
	return crm.Find[crm.Contact](ctx, crm.Resolve(ctx, s.Store), crm.TypeContact, nil)
}

// ListContactsByAccount returns the contacts whose parent is accountID.
func (s *Service) ListContactsByAccount(ctx context.Context, accountID string) ([]*crm.Contact, error) {
	return crm.Find[crm.Contact](ctx, crm.Resolve(ctx, s.Store), crm.TypeContact, crm.Filter{"parentcustomerid": accountID})
}

// LinkContactToAccount sets a contact's parent account.
func (s *Service) LinkContactToAccount(ctx context.Context, contactID, accountID string) (*crm.Contact, error) {
	var contact *crm.Contact
	err := crm.Atomic(ctx, s.Store, func(ctx context.Context, tx crm.EntityStore) error {
		if _, err := crm.Load[crm.Account](ctx, tx, crm.TypeAccount, accountID); err != nil {
			return err
		}
		c, err := crm.Load[crm.Contact](ctx, tx, crm.TypeContact, contactID)
		if err != nil {
			return err
		}
		c.ParentCustomerID = accountID
		c.Touch(s.Clock.Now())
		contact = c
		return crm.Save(ctx, tx, c)
	})
	if err != nil {
		return nil, err
	}
	return contact, nil
}

// =============================================================================
// CUSTOMER RESOLUTION
// =============================================================================

// CheckCustomer verifies that (customerType, id) names an existing record.
func (s *Service) CheckCustomer(ctx context.Context, customerType crm.CustomerType, id string) error {
	return crm.CheckCustomer(ctx, crm.Resolve(ctx, s.Store), customerType, id)
}
