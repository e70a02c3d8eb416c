package processor

import (
	"sort"

	"atmflow/models"
)

// OIReduction is the open-interest aggregate over the strike window.
type OIReduction struct {
	CEChange  int64
	PEChange  int64
	CEOITotal int64
	PEOITotal int64
	// Rows are the contributing rows ordered by strike.
	Rows []models.OptionChainRow
}

// ReduceOI sums change-in-OI and OI over nearest-expiry rows whose strike is
// in window. The result does not depend on the order of chain rows.
func ReduceOI(chain *models.Chain, window []int64) OIReduction {
	var out OIReduction
	if chain == nil || len(window) == 0 {
		return out
	}
	inWindow := make(map[int64]struct{}, len(window))
	for _, s := range window {
		inWindow[s] = struct{}{}
	}

	for _, r := range chain.NearestExpiryRows() {
		if _, ok := inWindow[r.Strike]; !ok {
			continue
		}
		out.CEChange += r.CEChangeInOI
		out.PEChange += r.PEChangeInOI
		out.CEOITotal += r.CEOpenInterest
		out.PEOITotal += r.PEOpenInterest
		out.Rows = append(out.Rows, r)
	}
	sort.SliceStable(out.Rows, func(i, j int) bool { return out.Rows[i].Strike < out.Rows[j].Strike })
	return out
}

// ReducePremium looks up the CE/PE last price of every window strike among
// nearest-expiry rows. A strike absent from the chain yields null prices.
func ReducePremium(chain *models.Chain, window []int64) []models.PremiumLeg {
	if len(window) == 0 {
		return nil
	}
	byStrike := indexByStrike(chain)
	legs := make([]models.PremiumLeg, 0, len(window))
	for _, s := range window {
		leg := models.PremiumLeg{Strike: s}
		if r, ok := byStrike[s]; ok {
			leg.CE = r.CELastPrice
			leg.PE = r.PELastPrice
		}
		legs = append(legs, leg)
	}
	return legs
}

// indexByStrike keys nearest-expiry rows by strike. If a strike repeats, the
// row with more populated fields wins so the lookup stays order independent.
func indexByStrike(chain *models.Chain) map[int64]models.OptionChainRow {
	out := make(map[int64]models.OptionChainRow)
	if chain == nil {
		return out
	}
	for _, r := range chain.NearestExpiryRows() {
		prev, ok := out[r.Strike]
		if !ok || completeness(r) > completeness(prev) {
			out[r.Strike] = r
		}
	}
	return out
}

func completeness(r models.OptionChainRow) int {
	n := 0
	if r.CELastPrice.Valid {
		n++
	}
	if r.PELastPrice.Valid {
		n++
	}
	return n
}
