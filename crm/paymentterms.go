package crm

import "strings"

// DefaultDueDays applies when a document has no payment terms or an unknown code.
const DefaultDueDays = 30

// PaymentTerms maps a payment-terms code to the number of days until an
// invoice falls due.
type PaymentTerms struct {
	days        map[string]int
	defaultDays int
}

// NewPaymentTerms builds the standard table (Net15..Net60) with the given fallback.
// A non-positive fallback means DefaultDueDays.
func NewPaymentTerms(defaultDays int) *PaymentTerms {
	if defaultDays <= 0 {
		defaultDays = DefaultDueDays
	}
	return &PaymentTerms{
		days: map[string]int{
			"net15": 15,
			"net30": 30,
			"net45": 45,
			"net60": 60,
		},
		defaultDays: defaultDays,
	}
}

// DueDays returns the days for code, or the fallback. Codes are case-insensitive.
func (p *PaymentTerms) DueDays(code string) int {
	if p == nil {
		return DefaultDueDays
	}
	if d, ok := p.days[strings.ToLower(strings.TrimSpace(code))]; ok {
		return d
	}
	return p.defaultDays
}

// Set registers or overrides a code.
func (p *PaymentTerms) Set(code string, days int) {
	p.days[strings.ToLower(strings.TrimSpace(code))] = days
}

// DefaultDays returns the fallback used for unknown codes.
func (p *PaymentTerms) DefaultDays() int {
	if p == nil {
		return DefaultDueDays
	}
	return p.defaultDays
}

// Codes returns a copy of the code table.
func (p *PaymentTerms) Codes() map[string]int {
	out := make(map[string]int, len(p.days))
	for k, v := range p.days {
		out[k] = v
	}
	return out
}
