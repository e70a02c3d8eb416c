package models

import (
	"github.com/shopspring/decimal"
)

// Variant names the analytics a tracker computes and persists.
type Variant string

const (
	VariantOI       Variant = "oi"
	VariantPremium  Variant = "premium"
	VariantMomentum Variant = "momentum"
)

// SeriesMetric is one named value of a record, flattened for archival.
// Strike is zero for values that are not tied to a strike.
type SeriesMetric struct {
	Strike int64
	Name   string
	Value  decimal.NullDecimal
}

// OIRecord is the open-interest snapshot for the ATM window at one tick.
type OIRecord struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	CEChange  int64  `json:"ce_change"`
	PEChange  int64  `json:"pe_change"`
	CEOITotal int64  `json:"ce_oi_total"`
	PEOITotal int64  `json:"pe_oi_total"`
}

func (r OIRecord) Day() string    { return r.Date }
func (r OIRecord) Bucket() string { return r.Time }

func (r OIRecord) Metrics() []SeriesMetric {
	return []SeriesMetric{
		{Name: "ce_change", Value: intValue(r.CEChange)},
		{Name: "pe_change", Value: intValue(r.PEChange)},
		{Name: "ce_oi_total", Value: intValue(r.CEOITotal)},
		{Name: "pe_oi_total", Value: intValue(r.PEOITotal)},
	}
}

// PremiumLeg carries the CE/PE last prices of a single window strike. A strike
// missing from the chain keeps both prices null.
type PremiumLeg struct {
	Strike int64               `json:"strike"`
	CE     decimal.NullDecimal `json:"ce"`
	PE     decimal.NullDecimal `json:"pe"`
}

// PremiumRecord tracks CE/PE premiums of every strike in the window.
type PremiumRecord struct {
	Date string              `json:"date"`
	Time string              `json:"time"`
	Spot decimal.NullDecimal `json:"spot"`
	ATM  int64               `json:"atm"`
	Legs []PremiumLeg        `json:"legs"`
}

func (r PremiumRecord) Day() string    { return r.Date }
func (r PremiumRecord) Bucket() string { return r.Time }

// Leg returns the leg for strike, if the record has one.
func (r PremiumRecord) Leg(strike int64) (PremiumLeg, bool) {
	for _, l := range r.Legs {
		if l.Strike == strike {
			return l, true
		}
	}
	return PremiumLeg{}, false
}

func (r PremiumRecord) Metrics() []SeriesMetric {
	out := make([]SeriesMetric, 0, 2*len(r.Legs)+2)
	out = append(out,
		SeriesMetric{Name: "spot", Value: r.Spot},
		SeriesMetric{Name: "atm", Value: intValue(r.ATM)},
	)
	for _, l := range r.Legs {
		out = append(out,
			SeriesMetric{Strike: l.Strike, Name: "ce", Value: l.CE},
			SeriesMetric{Strike: l.Strike, Name: "pe", Value: l.PE},
		)
	}
	return out
}

// MomentumRecord stores baseline-relative deltas of spot and the ATM CE/PE.
// RealDeltaCE/RealDeltaPE are derived from the previous record and are not
// persisted.
type MomentumRecord struct {
	Date        string          `json:"date"`
	Time        string          `json:"time"`
	SpotDelta   decimal.Decimal `json:"spot_delta"`
	CEDelta     decimal.Decimal `json:"ce_delta"`
	PEDelta     decimal.Decimal `json:"pe_delta"`
	RealDeltaCE decimal.Decimal `json:"real_delta_ce"`
	RealDeltaPE decimal.Decimal `json:"real_delta_pe"`
}

func (r MomentumRecord) Day() string    { return r.Date }
func (r MomentumRecord) Bucket() string { return r.Time }

func (r MomentumRecord) Metrics() []SeriesMetric {
	return []SeriesMetric{
		{Name: "spot_delta", Value: decimal.NewNullDecimal(r.SpotDelta)},
		{Name: "ce_delta", Value: decimal.NewNullDecimal(r.CEDelta)},
		{Name: "pe_delta", Value: decimal.NewNullDecimal(r.PEDelta)},
	}
}

func intValue(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}
