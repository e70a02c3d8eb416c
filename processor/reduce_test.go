package processor

import (
	"testing"

	"github.com/shopspring/decimal"

	"atmflow/models"
)

func price(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(v))
}

func sampleChain() *models.Chain {
	return &models.Chain{
		Expiries: []string{"27-Nov-2025", "04-Dec-2025"},
		Rows: []models.OptionChainRow{
			{Strike: 9900, Expiry: "27-Nov-2025", CEChangeInOI: 10, PEChangeInOI: 20, CEOpenInterest: 100, PEOpenInterest: 200, CELastPrice: price("150.5"), PELastPrice: price("40")},
			{Strike: 9950, Expiry: "27-Nov-2025", CEChangeInOI: 11, PEChangeInOI: 21, CEOpenInterest: 110, PEOpenInterest: 210, CELastPrice: price("110"), PELastPrice: price("55.25")},
			// missing CE leg: CE fields stay at their zero defaults
			{Strike: 10000, Expiry: "27-Nov-2025", PEChangeInOI: 22, PEOpenInterest: 220, PELastPrice: price("75")},
			{Strike: 10050, Expiry: "27-Nov-2025", CEChangeInOI: -5, PEChangeInOI: 23, CEOpenInterest: 130, PEOpenInterest: 230, CELastPrice: price("60"), PELastPrice: price("101")},
			{Strike: 10000, Expiry: "04-Dec-2025", CEChangeInOI: 999, PEChangeInOI: 999, CEOpenInterest: 999, PEOpenInterest: 999},
		},
	}
}

func TestReduceOISumsNearestExpiryWindow(t *testing.T) {
	got := ReduceOI(sampleChain(), []int64{9950, 10000, 10050})
	if got.CEChange != 6 {
		t.Errorf("CEChange = %d, want 6", got.CEChange)
	}
	if got.PEChange != 66 {
		t.Errorf("PEChange = %d, want 66", got.PEChange)
	}
	if got.CEOITotal != 240 || got.PEOITotal != 660 {
		t.Errorf("OI totals = %d/%d, want 240/660", got.CEOITotal, got.PEOITotal)
	}
	if len(got.Rows) != 3 || got.Rows[0].Strike != 9950 || got.Rows[2].Strike != 10050 {
		t.Errorf("unexpected rows %+v", got.Rows)
	}
}

func TestReduceOIMissingCEContributesZero(t *testing.T) {
	got := ReduceOI(sampleChain(), []int64{10000})
	if got.CEChange != 0 {
		t.Errorf("CEChange = %d, want 0", got.CEChange)
	}
	if got.PEChange != 22 {
		t.Errorf("PEChange = %d, want 22", got.PEChange)
	}
}

func TestReduceOIOrderIndependent(t *testing.T) {
	chain := sampleChain()
	want := ReduceOI(chain, []int64{9900, 9950, 10000})

	reversed := *chain
	reversed.Rows = make([]models.OptionChainRow, len(chain.Rows))
	for i, r := range chain.Rows {
		reversed.Rows[len(chain.Rows)-1-i] = r
	}
	got := ReduceOI(&reversed, []int64{10000, 9900, 9950})
	if got.CEChange != want.CEChange || got.PEChange != want.PEChange ||
		got.CEOITotal != want.CEOITotal || got.PEOITotal != want.PEOITotal {
		t.Fatalf("reduction depends on order: %+v vs %+v", got, want)
	}
}

func TestReduceOIWithoutExpiryList(t *testing.T) {
	chain := &models.Chain{Rows: []models.OptionChainRow{
		{Strike: 100, CEChangeInOI: 1, PEChangeInOI: 2},
		{Strike: 150, CEChangeInOI: 3, PEChangeInOI: 4},
	}}
	got := ReduceOI(chain, []int64{100, 150})
	if got.CEChange != 4 || got.PEChange != 6 {
		t.Fatalf("unexpected reduction %+v", got)
	}
}

func TestReducePremiumAbsentStrikeIsNull(t *testing.T) {
	legs := ReducePremium(sampleChain(), []int64{9950, 10000, 10100})
	if len(legs) != 3 {
		t.Fatalf("expected 3 legs, got %d", len(legs))
	}
	if !legs[0].CE.Valid || !legs[0].CE.Decimal.Equal(decimal.RequireFromString("110")) {
		t.Errorf("unexpected CE for 9950: %+v", legs[0].CE)
	}
	if legs[1].CE.Valid {
		t.Errorf("CE for 10000 should be null, got %v", legs[1].CE.Decimal)
	}
	if !legs[1].PE.Valid {
		t.Errorf("PE for 10000 should be present")
	}
	if legs[2].CE.Valid || legs[2].PE.Valid {
		t.Errorf("strike 10100 is absent, expected null prices: %+v", legs[2])
	}
}

func TestReduceEmptyWindow(t *testing.T) {
	if got := ReduceOI(sampleChain(), nil); got.CEChange != 0 || len(got.Rows) != 0 {
		t.Fatalf("expected zero reduction, got %+v", got)
	}
	if legs := ReducePremium(sampleChain(), nil); legs != nil {
		t.Fatalf("expected nil legs, got %+v", legs)
	}
}
