package processor

import "github.com/shopspring/decimal"

// Mood is the OI-based market sentiment label.
type Mood string

const (
	MoodBullish Mood = "BULLISH"
	MoodBearish Mood = "BEARISH"
)

// Sentiment compares CE and PE change in OI for the window.
type Sentiment struct {
	Mood  Mood            `json:"mood"`
	CE    int64           `json:"ce_change"`
	PE    int64           `json:"pe_change"`
	CEPct decimal.Decimal `json:"ce_pct"`
	PEPct decimal.Decimal `json:"pe_pct"`
}

// SentimentOf labels the window bullish when CE change exceeds PE change and
// bearish otherwise. Percentages are shares of |CE|+|PE|, two decimals.
func SentimentOf(ceChange, peChange int64) Sentiment {
	s := Sentiment{Mood: MoodBearish, CE: ceChange, PE: peChange, CEPct: decimal.Zero, PEPct: decimal.Zero}
	if ceChange > peChange {
		s.Mood = MoodBullish
	}
	total := abs64(ceChange) + abs64(peChange)
	if total != 0 {
		hundred := decimal.NewFromInt(100)
		t := decimal.NewFromInt(total)
		s.CEPct = decimal.NewFromInt(ceChange).Div(t).Mul(hundred).Round(2)
		s.PEPct = decimal.NewFromInt(peChange).Div(t).Mul(hundred).Round(2)
	}
	return s
}

// Decision is the per-strike premium trend label.
type Decision string

const (
	DecisionPremiumDecay     Decision = "premium_decay"
	DecisionBullish          Decision = "bullish"
	DecisionBearish          Decision = "bearish"
	DecisionVolatility       Decision = "volatility"
	DecisionRangebound       Decision = "rangebound"
	DecisionInsufficientData Decision = "insufficient_data"
)

// StrikeDecision classifies the CE/PE premium trend from the start to the end
// of the day. The rules are fixed thresholds at zero.
func StrikeDecision(startCE, endCE, startPE, endPE decimal.NullDecimal) Decision {
	if !startCE.Valid || !endCE.Valid || !startPE.Valid || !endPE.Valid {
		return DecisionInsufficientData
	}
	ce := endCE.Decimal.Sub(startCE.Decimal).Sign()
	pe := endPE.Decimal.Sub(startPE.Decimal).Sign()
	switch {
	case ce < 0 && pe < 0:
		return DecisionPremiumDecay
	case ce > 0 && pe < 0:
		return DecisionBullish
	case pe > 0 && ce < 0:
		return DecisionBearish
	case ce > 0 && pe > 0:
		return DecisionVolatility
	default:
		return DecisionRangebound
	}
}

// ChangePercent is (last-open)/open*100, null when either side is missing or
// open is zero.
func ChangePercent(last, open decimal.NullDecimal) decimal.NullDecimal {
	if !last.Valid || !open.Valid || open.Decimal.IsZero() {
		return decimal.NullDecimal{}
	}
	pct := last.Decimal.Sub(open.Decimal).Div(open.Decimal).Mul(decimal.NewFromInt(100))
	return decimal.NewNullDecimal(pct.Round(2))
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
