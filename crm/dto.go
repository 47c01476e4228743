package crm

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INPUT DTOs - What callers may set. Derived fields are never accepted.
// =============================================================================

type NewLead struct {
	FirstName         string          `json:"firstname"`
	LastName          string          `json:"lastname"`
	EmailAddress1     string          `json:"emailaddress1"`
	Telephone1        string          `json:"telephone1"`
	Subject           string          `json:"subject"`
	CompanyName       string          `json:"companyname"`
	BudgetStatus      string          `json:"budgetstatus"`
	PurchaseTimeframe string          `json:"purchasetimeframe"`
	JobTitle          string          `json:"jobtitle"`
	Description       string          `json:"description"`
	EstimatedValue    decimal.Decimal `json:"estimatedvalue"`
	OwnerID           string          `json:"ownerid"`
}

// LeadUpdate patches an open lead. Nil fields are left alone.
type LeadUpdate struct {
	FirstName         *string          `json:"firstname"`
	LastName          *string          `json:"lastname"`
	EmailAddress1     *string          `json:"emailaddress1"`
	Telephone1        *string          `json:"telephone1"`
	Subject           *string          `json:"subject"`
	CompanyName       *string          `json:"companyname"`
	BudgetStatus      *string          `json:"budgetstatus"`
	PurchaseTimeframe *string          `json:"purchasetimeframe"`
	JobTitle          *string          `json:"jobtitle"`
	Description       *string          `json:"description"`
	EstimatedValue    *decimal.Decimal `json:"estimatedvalue"`
}

// QualifyOptions picks which customer records qualification creates or links.
type QualifyOptions struct {
	CreateAccount     bool   `json:"createaccount"`
	CreateContact     bool   `json:"createcontact"`
	ExistingAccountID string `json:"existingaccountid"`
	ExistingContactID string `json:"existingcontactid"`
}

type NewAccount struct {
	Name              string `json:"name"`
	EmailAddress1     string `json:"emailaddress1"`
	Telephone1        string `json:"telephone1"`
	OriginatingLeadID string `json:"originatingleadid"`
	OwnerID           string `json:"ownerid"`
}

type NewContact struct {
	FirstName         string `json:"firstname"`
	LastName          string `json:"lastname"`
	EmailAddress1     string `json:"emailaddress1"`
	Telephone1        string `json:"telephone1"`
	JobTitle          string `json:"jobtitle"`
	ParentCustomerID  string `json:"parentcustomerid"`
	OriginatingLeadID string `json:"originatingleadid"`
	OwnerID           string `json:"ownerid"`
}

type NewOpportunity struct {
	Name               string          `json:"name"`
	CustomerID         string          `json:"customerid"`
	CustomerIDType     CustomerType    `json:"customeridtype"`
	EstimatedValue     decimal.Decimal `json:"estimatedvalue"`
	EstimatedCloseDate *time.Time      `json:"estimatedclosedate"`
	Description        string          `json:"description"`
	OriginatingLeadID  string          `json:"originatingleadid"`
	OwnerID            string          `json:"ownerid"`
}

// OpportunityUpdate never touches stage, probability or state.
type OpportunityUpdate struct {
	Name               *string          `json:"name"`
	EstimatedValue     *decimal.Decimal `json:"estimatedvalue"`
	EstimatedCloseDate *time.Time       `json:"estimatedclosedate"`
	Description        *string          `json:"description"`
}

// CloseRequest closes an opportunity as Won or Lost.
type CloseRequest struct {
	StateCode       OpportunityState `json:"statecode"`
	ActualValue     *decimal.Decimal `json:"actualvalue"`
	ActualCloseDate *time.Time       `json:"actualclosedate"`
	CloseStatus     string           `json:"closestatus"`
}

type NewQuote struct {
	Name             string          `json:"name"`
	OpportunityID    string          `json:"opportunityid"`
	CustomerID       string          `json:"customerid"`
	CustomerIDType   CustomerType    `json:"customeridtype"`
	Description      string          `json:"description"`
	BillTo           Address         `json:"billto"`
	ShipTo           Address         `json:"shipto"`
	PaymentTermsCode string          `json:"paymenttermscode"`
	FreightAmount    decimal.Decimal `json:"freightamount"`
	OwnerID          string          `json:"ownerid"`
}

// DocumentUpdate patches a quote, order or invoice header.
type DocumentUpdate struct {
	Name             *string          `json:"name"`
	Description      *string          `json:"description"`
	BillTo           *Address         `json:"billto"`
	ShipTo           *Address         `json:"shipto"`
	PaymentTermsCode *string          `json:"paymenttermscode"`
	FreightAmount    *decimal.Decimal `json:"freightamount"`
}

// Apply patches d and reports whether freight changed.
func (u DocumentUpdate) Apply(d *Document) (freightChanged bool) {
	if u.Name != nil {
		d.Name = *u.Name
	}
	if u.Description != nil {
		d.Description = *u.Description
	}
	if u.BillTo != nil {
		d.BillTo = *u.BillTo
	}
	if u.ShipTo != nil {
		d.ShipTo = *u.ShipTo
	}
	if u.PaymentTermsCode != nil {
		d.PaymentTermsCode = *u.PaymentTermsCode
	}
	if u.FreightAmount != nil && !u.FreightAmount.Equal(d.FreightAmount) {
		d.FreightAmount = *u.FreightAmount
		return true
	}
	return false
}

// Validate checks the patch on its own.
func (u DocumentUpdate) Validate() error {
	if u.FreightAmount != nil {
		return ValidateFreight(*u.FreightAmount)
	}
	return nil
}

type NewOrder struct {
	Name             string          `json:"name"`
	OpportunityID    string          `json:"opportunityid"`
	CustomerID       string          `json:"customerid"`
	CustomerIDType   CustomerType    `json:"customeridtype"`
	Description      string          `json:"description"`
	BillTo           Address         `json:"billto"`
	ShipTo           Address         `json:"shipto"`
	PaymentTermsCode string          `json:"paymenttermscode"`
	FreightAmount    decimal.Decimal `json:"freightamount"`
	OwnerID          string          `json:"ownerid"`
}

// Payment is one payment against an invoice.
type Payment struct {
	Amount decimal.Decimal `json:"amount"`
	Date   *time.Time      `json:"date"`
}
