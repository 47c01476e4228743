/*
ledger.go - Line Item Ledger

PURPOSE:
  Pure arithmetic for document lines and header totals. No I/O. Every
  quote, order and invoice line mutation goes through here, and the
  resulting header totals are persisted in the same atomic unit.

LINE RULES:
  baseamount     = quantity × priceperunit
  extendedamount = baseamount − manualdiscount − volumediscount + tax

  quantity > 0, priceperunit ≥ 0, discounts ≥ 0, tax ≥ 0,
  manualdiscount + volumediscount ≤ baseamount.
  All violations are reported together in one ValidationError.

HEADER RULES:
  totallineitemamount    = Σ baseamount
  discountamount         = Σ (manual + volume)
  totaltax               = Σ tax
  totalamountlessfreight = Σ extendedamount
  totalamount            = totalamountlessfreight + freightamount

  With no freight, totalamount equals Σ extendedamount exactly.

EXAMPLE:
  amounts, err := crm.ComputeLineAmounts(crm.LineInput{
      Quantity:     crm.Money("10"),
      PricePerUnit: crm.Money("100"),
      Tax:          crm.Money("80"),
  })
  // amounts.BaseAmount = 1000, amounts.ExtendedAmount = 1080

SEE ALSO:
  - lines.go: Line numbering and generic recompute over detail entities
*/
package crm

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// LINE CALCULATION
// =============================================================================

// LineInput is the caller-supplied part of a detail line.
// Base and extended amounts are always derived, never accepted.
type LineInput struct {
	ProductDescription   string          `json:"productdescription"`
	Quantity             decimal.Decimal `json:"quantity"`
	PricePerUnit         decimal.Decimal `json:"priceperunit"`
	ManualDiscountAmount decimal.Decimal `json:"manualdiscountamount"`
	VolumeDiscountAmount decimal.Decimal `json:"volumediscountamount"`
	Tax                  decimal.Decimal `json:"tax"`
}

// LineAmounts are the derived amounts of one line.
type LineAmounts struct {
	BaseAmount     decimal.Decimal
	ExtendedAmount decimal.Decimal
}

// Validate checks every line rule and returns all violations at once.
func (in LineInput) Validate() error {
	verr := &ValidationError{}
	if !in.Quantity.IsPositive() {
		verr.Add("quantity must be greater than 0")
	}
	if in.PricePerUnit.IsNegative() {
		verr.Add("priceperunit must not be negative")
	}
	if in.ManualDiscountAmount.IsNegative() {
		verr.Add("manualdiscountamount must not be negative")
	}
	if in.VolumeDiscountAmount.IsNegative() {
		verr.Add("volumediscountamount must not be negative")
	}
	if in.Tax.IsNegative() {
		verr.Add("tax must not be negative")
	}
	base := in.Quantity.Mul(in.PricePerUnit)
	discount := in.ManualDiscountAmount.Add(in.VolumeDiscountAmount)
	if discount.GreaterThan(base) {
		verr.Add("total discount %s exceeds base amount %s", discount.String(), base.String())
	}
	return verr.OrNil()
}

// ComputeLineAmounts derives base and extended amounts.
func ComputeLineAmounts(in LineInput) (LineAmounts, error) {
	if err := in.Validate(); err != nil {
		return LineAmounts{}, err
	}
	base := in.Quantity.Mul(in.PricePerUnit)
	extended := base.
		Sub(in.ManualDiscountAmount).
		Sub(in.VolumeDiscountAmount).
		Add(in.Tax)
	return LineAmounts{BaseAmount: base, ExtendedAmount: extended}, nil
}

// NewLineItem validates in and builds a priced line with the given number.
func NewLineItem(number int, in LineInput) (LineItem, error) {
	amounts, err := ComputeLineAmounts(in)
	if err != nil {
		return LineItem{}, err
	}
	return LineItem{
		LineItemNumber:       number,
		ProductDescription:   in.ProductDescription,
		Quantity:             in.Quantity,
		PricePerUnit:         in.PricePerUnit,
		BaseAmount:           amounts.BaseAmount,
		ManualDiscountAmount: in.ManualDiscountAmount,
		VolumeDiscountAmount: in.VolumeDiscountAmount,
		Tax:                  in.Tax,
		ExtendedAmount:       amounts.ExtendedAmount,
	}, nil
}

// Input returns the caller-supplied part of an existing line.
func (l LineItem) Input() LineInput {
	return LineInput{
		ProductDescription:   l.ProductDescription,
		Quantity:             l.Quantity,
		PricePerUnit:         l.PricePerUnit,
		ManualDiscountAmount: l.ManualDiscountAmount,
		VolumeDiscountAmount: l.VolumeDiscountAmount,
		Tax:                  l.Tax,
	}
}

// =============================================================================
// AGGREGATION
// =============================================================================

// LedgerTotals is the sum over a set of lines.
type LedgerTotals struct {
	TotalLineItems decimal.Decimal
	TotalDiscount  decimal.Decimal
	TotalTax       decimal.Decimal
	GrandTotal     decimal.Decimal
}

// Aggregate sums lines. Zero lines give zero totals.
func Aggregate(lines []LineItem) LedgerTotals {
	agg := LedgerTotals{
		TotalLineItems: decimal.Zero,
		TotalDiscount:  decimal.Zero,
		TotalTax:       decimal.Zero,
		GrandTotal:     decimal.Zero,
	}
	for _, l := range lines {
		agg.TotalLineItems = agg.TotalLineItems.Add(l.BaseAmount)
		agg.TotalDiscount = agg.TotalDiscount.Add(l.ManualDiscountAmount).Add(l.VolumeDiscountAmount)
		agg.TotalTax = agg.TotalTax.Add(l.Tax)
		agg.GrandTotal = agg.GrandTotal.Add(l.ExtendedAmount)
	}
	return agg
}

// Apply writes aggregated line totals and freight into the header.
func (t *Totals) Apply(agg LedgerTotals, freight decimal.Decimal) {
	t.TotalLineItemAmount = agg.TotalLineItems
	t.DiscountAmount = agg.TotalDiscount
	t.TotalTax = agg.TotalTax
	t.TotalAmountLessFreight = agg.GrandTotal
	t.FreightAmount = freight
	t.TotalAmount = agg.GrandTotal.Add(freight)
}

// ValidateFreight rejects negative freight.
func ValidateFreight(freight decimal.Decimal) error {
	if freight.IsNegative() {
		return NewValidationError("freightamount must not be negative")
	}
	return nil
}
