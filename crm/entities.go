/*
entities.go - Pipeline entity definitions

PURPOSE:
  Every record the engine persists: leads, customers, opportunities and the
  three financial documents (quote, order, invoice) with their detail lines.
  Entities are plain structs that serialize to the JSON field names the
  pipeline uses on the wire (createdon, statecode, totalamount, ...).

STATE MACHINES:
  Lead:        Open → Qualified | Disqualified
  Opportunity: Open → Won | Lost             (stages Qualify → Develop → Propose → Close)
  Quote:       Draft → Active → Won | Lost
  Order:       Active → Submitted → Fulfilled; Active|Submitted → Canceled
  Invoice:     Active|Closed → Paid; Active|Closed → Canceled

REFERENCES:
  Each entity reports its foreign keys through References(). Stores index
  them so ListBy<Related> queries never scan JSON payloads.

SEE ALSO:
  - ledger.go: How line amounts and header totals are computed
  - store.go: How entities become records
*/
package crm

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entity is anything the Entity Store can persist.
type Entity interface {
	EntityType() EntityType
	EntityID() string
	// References returns indexed foreign keys. Empty values are skipped by stores.
	References() map[string]string
}

// refs drops empty values.
func refs(kv ...string) map[string]string {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			m[kv[i]] = kv[i+1]
		}
	}
	return m
}

// =============================================================================
// LEAD
// =============================================================================

type LeadState string

const (
	LeadOpen         LeadState = "Open"
	LeadQualified    LeadState = "Qualified"
	LeadDisqualified LeadState = "Disqualified"
)

// Lead is an unqualified prospect. An empty CompanyName marks a B2C lead.
type Lead struct {
	ID                string          `json:"leadid"`
	FirstName         string          `json:"firstname,omitempty"`
	LastName          string          `json:"lastname,omitempty"`
	EmailAddress1     string          `json:"emailaddress1,omitempty"`
	Telephone1        string          `json:"telephone1,omitempty"`
	Subject           string          `json:"subject,omitempty"`
	CompanyName       string          `json:"companyname,omitempty"`
	BudgetStatus      string          `json:"budgetstatus,omitempty"`
	PurchaseTimeframe string          `json:"purchasetimeframe,omitempty"`
	JobTitle          string          `json:"jobtitle,omitempty"`
	Description       string          `json:"description,omitempty"`
	EstimatedValue    decimal.Decimal `json:"estimatedvalue"`
	StateCode         LeadState       `json:"statecode"`
	StatusCode        string          `json:"statuscode,omitempty"`

	QualifyingOpportunityID string `json:"qualifyingopportunityid,omitempty"`
	ParentAccountID         string `json:"parentaccountid,omitempty"`
	ParentContactID         string `json:"parentcontactid,omitempty"`

	Audit
}

func (l *Lead) EntityType() EntityType { return TypeLead }
func (l *Lead) EntityID() string       { return l.ID }
func (l *Lead) References() map[string]string {
	return refs("companyname", l.CompanyName, "qualifyingopportunityid", l.QualifyingOpportunityID)
}

// IsB2B reports whether the lead names a company.
func (l *Lead) IsB2B() bool { return l.CompanyName != "" }

// FullName joins first and last name.
func (l *Lead) FullName() string {
	switch {
	case l.FirstName == "":
		return l.LastName
	case l.LastName == "":
		return l.FirstName
	}
	return l.FirstName + " " + l.LastName
}

// =============================================================================
// ACCOUNT + CONTACT
// =============================================================================

type AccountState string

const (
	AccountActive   AccountState = "Active"
	AccountInactive AccountState = "Inactive"
)

type Account struct {
	ID                string       `json:"accountid"`
	Name              string       `json:"name"`
	EmailAddress1     string       `json:"emailaddress1,omitempty"`
	Telephone1        string       `json:"telephone1,omitempty"`
	OriginatingLeadID string       `json:"originatingleadid,omitempty"`
	StateCode         AccountState `json:"statecode"`
	Audit
}

func (a *Account) EntityType() EntityType { return TypeAccount }
func (a *Account) EntityID() string       { return a.ID }
func (a *Account) References() map[string]string {
	return refs("originatingleadid", a.OriginatingLeadID)
}

type Contact struct {
	ID                string       `json:"contactid"`
	FirstName         string       `json:"firstname,omitempty"`
	LastName          string       `json:"lastname,omitempty"`
	EmailAddress1     string       `json:"emailaddress1,omitempty"`
	Telephone1        string       `json:"telephone1,omitempty"`
	JobTitle          string       `json:"jobtitle,omitempty"`
	ParentCustomerID  string       `json:"parentcustomerid,omitempty"`
	OriginatingLeadID string       `json:"originatingleadid,omitempty"`
	StateCode         AccountState `json:"statecode"`
	Audit
}

func (c *Contact) EntityType() EntityType { return TypeContact }
func (c *Contact) EntityID() string       { return c.ID }
func (c *Contact) References() map[string]string {
	return refs("parentcustomerid", c.ParentCustomerID, "originatingleadid", c.OriginatingLeadID)
}

// =============================================================================
// OPPORTUNITY
// =============================================================================

type OpportunityState string

const (
	OpportunityOpen OpportunityState = "Open"
	OpportunityWon  OpportunityState = "Won"
	OpportunityLost OpportunityState = "Lost"
)

// SalesStage is a step of the linear sales process.
type SalesStage string

const (
	StageQualify SalesStage = "Qualify"
	StageDevelop SalesStage = "Develop"
	StagePropose SalesStage = "Propose"
	StageClose   SalesStage = "Close"
)

// SalesStages lists the stages in order. Stages are never skipped.
var SalesStages = []SalesStage{StageQualify, StageDevelop, StagePropose, StageClose}

var stageProbability = map[SalesStage]int{
	StageQualify: 25,
	StageDevelop: 50,
	StagePropose: 75,
	StageClose:   100,
}

// Probability returns the close probability attached to the stage.
func (s SalesStage) Probability() int { return stageProbability[s] }

func (s SalesStage) index() int {
	for i, st := range SalesStages {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the following stage, false at Close.
func (s SalesStage) Next() (SalesStage, bool) {
	i := s.index()
	if i < 0 || i == len(SalesStages)-1 {
		return s, false
	}
	return SalesStages[i+1], true
}

// Previous returns the preceding stage, false at Qualify.
func (s SalesStage) Previous() (SalesStage, bool) {
	i := s.index()
	if i <= 0 {
		return s, false
	}
	return SalesStages[i-1], true
}

func (s SalesStage) Valid() bool { return s.index() >= 0 }

type Opportunity struct {
	ID                 string           `json:"opportunityid"`
	Name               string           `json:"name"`
	CustomerID         string           `json:"customerid,omitempty"`
	CustomerIDType     CustomerType     `json:"customeridtype,omitempty"`
	SalesStage         SalesStage       `json:"salesstage"`
	CloseProbability   int              `json:"closeprobability"`
	EstimatedValue     decimal.Decimal  `json:"estimatedvalue"`
	ActualValue        decimal.Decimal  `json:"actualvalue"`
	EstimatedCloseDate *time.Time       `json:"estimatedclosedate,omitempty"`
	ActualCloseDate    *time.Time       `json:"actualclosedate,omitempty"`
	Description        string           `json:"description,omitempty"`
	StateCode          OpportunityState `json:"statecode"`
	StatusCode         string           `json:"statuscode,omitempty"`
	OriginatingLeadID  string           `json:"originatingleadid,omitempty"`
	Audit
}

func (o *Opportunity) EntityType() EntityType { return TypeOpportunity }
func (o *Opportunity) EntityID() string       { return o.ID }
func (o *Opportunity) References() map[string]string {
	return refs("customerid", o.CustomerID, "originatingleadid", o.OriginatingLeadID)
}

// =============================================================================
// FINANCIAL DOCUMENTS - shared header totals and line shape
// =============================================================================

// Totals are the header aggregates derived from a document's lines.
// They are never accepted as input.
type Totals struct {
	TotalLineItemAmount    decimal.Decimal `json:"totallineitemamount"`
	DiscountAmount         decimal.Decimal `json:"discountamount"`
	TotalTax               decimal.Decimal `json:"totaltax"`
	TotalAmountLessFreight decimal.Decimal `json:"totalamountlessfreight"`
	FreightAmount          decimal.Decimal `json:"freightamount"`
	TotalAmount            decimal.Decimal `json:"totalamount"`
}

// LineItem is the priced part of every detail line.
type LineItem struct {
	LineItemNumber       int             `json:"lineitemnumber"`
	ProductDescription   string          `json:"productdescription"`
	Quantity             decimal.Decimal `json:"quantity"`
	PricePerUnit         decimal.Decimal `json:"priceperunit"`
	BaseAmount           decimal.Decimal `json:"baseamount"`
	ManualDiscountAmount decimal.Decimal `json:"manualdiscountamount"`
	VolumeDiscountAmount decimal.Decimal `json:"volumediscountamount"`
	Tax                  decimal.Decimal `json:"tax"`
	ExtendedAmount       decimal.Decimal `json:"extendedamount"`
}

// Document fields shared by quote, order and invoice headers.
type Document struct {
	Name             string       `json:"name,omitempty"`
	OpportunityID    string       `json:"opportunityid,omitempty"`
	CustomerID       string       `json:"customerid,omitempty"`
	CustomerIDType   CustomerType `json:"customeridtype,omitempty"`
	Description      string       `json:"description,omitempty"`
	BillTo           Address      `json:"billto"`
	ShipTo           Address      `json:"shipto"`
	PaymentTermsCode string       `json:"paymenttermscode,omitempty"`
	Totals
}

// =============================================================================
// QUOTE
// =============================================================================

type QuoteState string

const (
	QuoteDraft  QuoteState = "Draft"
	QuoteActive QuoteState = "Active"
	QuoteWon    QuoteState = "Won"
	QuoteLost   QuoteState = "Lost"
)

type Quote struct {
	ID          string     `json:"quoteid"`
	QuoteNumber string     `json:"quotenumber"`
	StateCode   QuoteState `json:"statecode"`
	StatusCode  string     `json:"statuscode,omitempty"`
	Document
	Audit
}

func (q *Quote) EntityType() EntityType { return TypeQuote }
func (q *Quote) EntityID() string       { return q.ID }
func (q *Quote) References() map[string]string {
	return refs("opportunityid", q.OpportunityID, "customerid", q.CustomerID)
}

type QuoteDetail struct {
	ID      string `json:"quotedetailid"`
	QuoteID string `json:"quoteid"`
	LineItem
	Audit
}

func (d *QuoteDetail) EntityType() EntityType { return TypeQuoteDetail }
func (d *QuoteDetail) EntityID() string       { return d.ID }
func (d *QuoteDetail) References() map[string]string {
	return refs("quoteid", d.QuoteID)
}
func (d *QuoteDetail) Line() *LineItem { return &d.LineItem }

// =============================================================================
// ORDER
// =============================================================================

type OrderState string

const (
	OrderActive    OrderState = "Active"
	OrderSubmitted OrderState = "Submitted"
	OrderFulfilled OrderState = "Fulfilled"
	OrderCanceled  OrderState = "Canceled"
)

type Order struct {
	ID            string     `json:"salesorderid"`
	OrderNumber   string     `json:"ordernumber"`
	QuoteID       string     `json:"quoteid,omitempty"`
	StateCode     OrderState `json:"statecode"`
	StatusCode    string     `json:"statuscode,omitempty"`
	SubmitDate    *time.Time `json:"submitdate,omitempty"`
	DateFulfilled *time.Time `json:"datefulfilled,omitempty"`
	Document
	Audit
}

func (o *Order) EntityType() EntityType { return TypeOrder }
func (o *Order) EntityID() string       { return o.ID }
func (o *Order) References() map[string]string {
	return refs("quoteid", o.QuoteID, "opportunityid", o.OpportunityID, "customerid", o.CustomerID)
}

type OrderDetail struct {
	ID            string `json:"salesorderdetailid"`
	SalesOrderID  string `json:"salesorderid"`
	QuoteDetailID string `json:"quotedetailid,omitempty"`
	LineItem
	Audit
}

func (d *OrderDetail) EntityType() EntityType { return TypeOrderDetail }
func (d *OrderDetail) EntityID() string       { return d.ID }
func (d *OrderDetail) References() map[string]string {
	return refs("salesorderid", d.SalesOrderID, "quotedetailid", d.QuoteDetailID)
}
func (d *OrderDetail) Line() *LineItem { return &d.LineItem }

// =============================================================================
// INVOICE
// =============================================================================

type InvoiceState string

const (
	InvoiceActive   InvoiceState = "Active"
	InvoiceClosed   InvoiceState = "Closed"
	InvoicePaid     InvoiceState = "Paid"
	InvoiceCanceled InvoiceState = "Canceled"
)

type Invoice struct {
	ID            string          `json:"invoiceid"`
	InvoiceNumber string          `json:"invoicenumber"`
	SalesOrderID  string          `json:"salesorderid,omitempty"`
	StateCode     InvoiceState    `json:"statecode"`
	StatusCode    string          `json:"statuscode,omitempty"`
	DueDate       time.Time       `json:"duedate"`
	DatePaid      *time.Time      `json:"datepaid,omitempty"`
	TotalPaid     decimal.Decimal `json:"totalpaid"`
	TotalBalance  decimal.Decimal `json:"totalbalance"`
	Document
	Audit
}

func (i *Invoice) EntityType() EntityType { return TypeInvoice }
func (i *Invoice) EntityID() string       { return i.ID }
func (i *Invoice) References() map[string]string {
	return refs("salesorderid", i.SalesOrderID, "opportunityid", i.OpportunityID,
		"customerid", i.CustomerID, "statecode", string(i.StateCode))
}

// IsOverdue reports whether an open invoice is past its due date with money outstanding.
func (i *Invoice) IsOverdue(now time.Time) bool {
	if i.StateCode != InvoiceActive && i.StateCode != InvoiceClosed {
		return false
	}
	return i.TotalBalance.IsPositive() && now.After(i.DueDate)
}

type InvoiceDetail struct {
	ID                 string `json:"invoicedetailid"`
	InvoiceID          string `json:"invoiceid"`
	SalesOrderDetailID string `json:"salesorderdetailid,omitempty"`
	LineItem
	Audit
}

func (d *InvoiceDetail) EntityType() EntityType { return TypeInvoiceDetail }
func (d *InvoiceDetail) EntityID() string       { return d.ID }
func (d *InvoiceDetail) References() map[string]string {
	return refs("invoiceid", d.InvoiceID, "salesorderdetailid", d.SalesOrderDetailID)
}
func (d *InvoiceDetail) Line() *LineItem { return &d.LineItem }
