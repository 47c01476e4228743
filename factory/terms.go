package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/warp/sales-engine/crm"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PaymentTermsJSON is the JSON form of a due-date table.
//
//	{
//	  "default_days": 30,
//	  "terms": [
//	    {"code": "net10", "days": 10},
//	    {"code": "net90", "days": 90}
//	  ]
//	}
//
// Listed codes are added to (or override) the standard Net15..Net60 table.
type PaymentTermsJSON struct {
	DefaultDays int        `json:"default_days,omitempty"`
	Terms       []TermJSON `json:"terms"`
}

// TermJSON is one payment-terms code.
type TermJSON struct {
	Code string `json:"code"`
	Days int    `json:"days"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParsePaymentTerms parses a JSON table.
func ParsePaymentTerms(jsonStr string) (*crm.PaymentTerms, error) {
	pj, err := decodePaymentTerms([]byte(jsonStr))
	if err != nil {
		return nil, err
	}
	return PaymentTermsFromJSON(pj)
}

// LoadPaymentTerms reads a JSON table from path. A file without default_days
// uses fallbackDays instead.
func LoadPaymentTerms(path string, fallbackDays int) (*crm.PaymentTerms, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payment terms file: %w", err)
	}
	pj, err := decodePaymentTerms(data)
	if err != nil {
		return nil, err
	}
	if pj.DefaultDays == 0 {
		pj.DefaultDays = fallbackDays
	}
	return PaymentTermsFromJSON(pj)
}

func decodePaymentTerms(data []byte) (PaymentTermsJSON, error) {
	var pj PaymentTermsJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return pj, fmt.Errorf("failed to parse payment terms JSON: %w", err)
	}
	return pj, nil
}

// PaymentTermsFromJSON validates pj and builds the table.
func PaymentTermsFromJSON(pj PaymentTermsJSON) (*crm.PaymentTerms, error) {
	if pj.DefaultDays < 0 {
		return nil, fmt.Errorf("default_days must not be negative, got %d", pj.DefaultDays)
	}
	terms := crm.NewPaymentTerms(pj.DefaultDays)
	seen := make(map[string]bool, len(pj.Terms))
	for _, tj := range pj.Terms {
		code := strings.ToLower(strings.TrimSpace(tj.Code))
		if code == "" {
			return nil, fmt.Errorf("payment terms entry has no code")
		}
		if seen[code] {
			return nil, fmt.Errorf("duplicate payment terms code %q", tj.Code)
		}
		if tj.Days < 0 {
			return nil, fmt.Errorf("payment terms %q: days must not be negative", tj.Code)
		}
		seen[code] = true
		terms.Set(code, tj.Days)
	}
	return terms, nil
}

// PaymentTermsToJSON renders a table with codes in alphabetical order.
func PaymentTermsToJSON(terms *crm.PaymentTerms) PaymentTermsJSON {
	codes := terms.Codes()
	pj := PaymentTermsJSON{DefaultDays: terms.DefaultDays(), Terms: make([]TermJSON, 0, len(codes))}
	for code, days := range codes {
		pj.Terms = append(pj.Terms, TermJSON{Code: code, Days: days})
	}
	sort.Slice(pj.Terms, func(i, j int) bool { return pj.Terms[i].Code < pj.Terms[j].Code })
	return pj
}
