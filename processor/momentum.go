package processor

import "github.com/shopspring/decimal"

// RealDelta approximates option delta as the ratio of the option's
// tick-over-tick change to the spot's tick-over-tick change.
type RealDelta struct {
	CE decimal.Decimal `json:"real_delta_ce"`
	PE decimal.Decimal `json:"real_delta_pe"`
}

// Derive computes the real delta of the most recent history entry against the
// one before it. Fewer than two entries, or no spot movement between them,
// yields zero for both sides.
func Derive(history []Deltas) RealDelta {
	if len(history) < 2 {
		return RealDelta{CE: decimal.Zero, PE: decimal.Zero}
	}
	cur := history[len(history)-1]
	prev := history[len(history)-2]

	sChg := cur.Spot.Sub(prev.Spot)
	if sChg.IsZero() {
		return RealDelta{CE: decimal.Zero, PE: decimal.Zero}
	}
	cChg := cur.CE.Sub(prev.CE)
	pChg := cur.PE.Sub(prev.PE)
	return RealDelta{
		CE: cChg.Div(sChg),
		PE: pChg.Div(sChg),
	}
}
