/*
dto.go - HTTP request and response shapes

Entity bodies are the crm types themselves (their json tags use the CRM
field names). This file only holds what the HTTP layer adds: verb request
bodies, document-with-lines responses and the error envelope.
*/
package api

import (
	"time"

	"github.com/warp/sales-engine/crm"
)

// =============================================================================
// REQUESTS
// =============================================================================

// ReasonRequest is the body of disqualify, lose and cancel.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// MarkPaidRequest is the body of POST /invoices/{id}/pay.
type MarkPaidRequest struct {
	DatePaid *time.Time `json:"datepaid"`
}

// LinkContactRequest is the body of PUT /contacts/{id}/account.
type LinkContactRequest struct {
	AccountID string `json:"accountid"`
}

// LoadScenarioRequest is the body of POST /scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// DocumentDTO is a quote, order or invoice header with its lines.
type DocumentDTO[H any, L any] struct {
	Header H   `json:"header"`
	Lines  []L `json:"lines"`
}

type QuoteDTO = DocumentDTO[*crm.Quote, *crm.QuoteDetail]
type OrderDTO = DocumentDTO[*crm.Order, *crm.OrderDetail]
type InvoiceDTO = DocumentDTO[*crm.Invoice, *crm.InvoiceDetail]

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// ScenarioResult lists the ids a scenario created, for follow-up calls.
type ScenarioResult struct {
	Status   string            `json:"status"`
	Scenario string            `json:"scenario"`
	Created  map[string]string `json:"created"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
