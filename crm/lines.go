package crm

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Detail is a line entity owned by a document header.
type Detail interface {
	Entity
	Line() *LineItem
	Touch(now time.Time)
}

// SortLines orders details by lineitemnumber, keeping insertion order on ties.
func SortLines[D Detail](details []D) {
	sort.SliceStable(details, func(i, j int) bool {
		return details[i].Line().LineItemNumber < details[j].Line().LineItemNumber
	})
}

// NextLineNumber returns one past the highest lineitemnumber in use.
func NextLineNumber[D Detail](details []D) int {
	n := 0
	for _, d := range details {
		if d.Line().LineItemNumber > n {
			n = d.Line().LineItemNumber
		}
	}
	return n + 1
}

// LineItems extracts the priced lines.
func LineItems[D Detail](details []D) []LineItem {
	out := make([]LineItem, len(details))
	for i, d := range details {
		out[i] = *d.Line()
	}
	return out
}

// LoadLines lists the details owned by a header, sorted by line number.
func LoadLines[T any, D interface {
	*T
	Detail
}](ctx context.Context, s EntityStore, t EntityType, parentField, parentID string) ([]D, error) {
	found, err := Find[T](ctx, s, t, Filter{parentField: parentID})
	if err != nil {
		return nil, err
	}
	out := make([]D, len(found))
	for i, v := range found {
		out[i] = D(v)
	}
	SortLines(out)
	return out, nil
}

// DeleteLines removes every detail owned by a header.
func DeleteLines(ctx context.Context, s EntityStore, t EntityType, parentField, parentID string) error {
	recs, err := s.List(ctx, t, Filter{parentField: parentID})
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := s.Remove(ctx, t, rec.ID); err != nil {
			return err
		}
	}
	return nil
}

// Recompute reapplies the header totals from lines and freight.
func Recompute[D Detail](t *Totals, details []D, freight decimal.Decimal) {
	t.Apply(Aggregate(LineItems(details)), freight)
}

// =============================================================================
// LINE EDITS - run inside the caller's atomic unit
// =============================================================================

// InsertLine prices in as the next line number, saves the detail built by
// newDetail and returns it with the extended slice.
func InsertLine[D Detail](ctx context.Context, tx EntityStore, lines []D, in LineInput, now time.Time, newDetail func(LineItem) D) (D, []D, error) {
	var zero D
	item, err := NewLineItem(NextLineNumber(lines), in)
	if err != nil {
		return zero, nil, err
	}
	d := newDetail(item)
	d.Touch(now)
	if err := Save(ctx, tx, d); err != nil {
		return zero, nil, err
	}
	return d, append(lines, d), nil
}

// ReplaceLine reprices the line lineID in place, keeping its line number.
func ReplaceLine[D Detail](ctx context.Context, tx EntityStore, lines []D, t EntityType, lineID string, in LineInput, now time.Time) (D, error) {
	var zero D
	for _, d := range lines {
		if d.EntityID() != lineID {
			continue
		}
		item, err := NewLineItem(d.Line().LineItemNumber, in)
		if err != nil {
			return zero, err
		}
		*d.Line() = item
		d.Touch(now)
		return d, Save(ctx, tx, d)
	}
	return zero, notFound(t, lineID)
}

// DropLine deletes the line lineID and returns the remaining lines.
func DropLine[D Detail](ctx context.Context, tx EntityStore, lines []D, t EntityType, lineID string) ([]D, error) {
	for i, d := range lines {
		if d.EntityID() == lineID {
			if err := Delete(ctx, tx, t, lineID); err != nil {
				return nil, err
			}
			return append(lines[:i], lines[i+1:]...), nil
		}
	}
	return nil, notFound(t, lineID)
}
