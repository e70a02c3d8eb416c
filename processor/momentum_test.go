package processor

import (
	"testing"

	"github.com/shopspring/decimal"
)

func deltas(spot, ce, pe int64) Deltas {
	return Deltas{Spot: decimal.NewFromInt(spot), CE: decimal.NewFromInt(ce), PE: decimal.NewFromInt(pe)}
}

func TestDeriveRatio(t *testing.T) {
	rd := Derive([]Deltas{deltas(0, 0, 0), deltas(10, 5, -4)})
	if !rd.CE.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("CE real delta = %v, want 0.5", rd.CE)
	}
	if !rd.PE.Equal(decimal.RequireFromString("-0.4")) {
		t.Fatalf("PE real delta = %v, want -0.4", rd.PE)
	}
}

func TestDeriveUsesLastTwoEntries(t *testing.T) {
	rd := Derive([]Deltas{deltas(0, 0, 0), deltas(100, 100, 100), deltas(104, 102, 99)})
	if !rd.CE.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("CE real delta = %v, want 0.5", rd.CE)
	}
	if !rd.PE.Equal(decimal.RequireFromString("-0.25")) {
		t.Fatalf("PE real delta = %v, want -0.25", rd.PE)
	}
}

func TestDeriveZeroSpotChange(t *testing.T) {
	rd := Derive([]Deltas{deltas(5, 1, 1), deltas(5, 3, 0)})
	if !rd.CE.IsZero() || !rd.PE.IsZero() {
		t.Fatalf("expected zero real delta, got %+v", rd)
	}
}

func TestDeriveShortHistory(t *testing.T) {
	for _, h := range [][]Deltas{nil, {deltas(1, 1, 1)}} {
		rd := Derive(h)
		if !rd.CE.IsZero() || !rd.PE.IsZero() {
			t.Fatalf("expected zero real delta for %d entries, got %+v", len(h), rd)
		}
	}
}
