package core

import "github.com/shopspring/decimal"

// KindTotal is an amount and row count aggregated for one transaction kind.
type KindTotal struct {
	Kind  Kind
	Count int64
	Total decimal.Decimal
}

// UnitSummary is a compact financial summary for one business unit.
type UnitSummary struct {
	UnitID   int64
	UnitName string
	ByKind   []KindTotal
}

// Balance is income minus expenses across the summarized kinds.
func (s UnitSummary) Balance() decimal.Decimal {
	out := decimal.Zero
	for _, kt := range s.ByKind {
		switch kt.Kind {
		case Income:
			out = out.Add(kt.Total)
		case Expense:
			out = out.Sub(kt.Total)
		}
	}
	return out
}
