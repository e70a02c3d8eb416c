package bybit

import (
	"testing"
)

func TestParseOptionSymbol(t *testing.T) {
	tests := []struct {
		symbol  string
		strike  int64
		call    bool
		wantErr bool
	}{
		{symbol: "BTC-27DEC24-100000-C", strike: 100000, call: true},
		{symbol: "BTC-3JAN25-95000-P", strike: 95000},
		{symbol: "ETH-28MAR25-3000-C-USDT", strike: 3000, call: true},
		{symbol: "BTCUSDT", wantErr: true},
		{symbol: "BTC-27DEC24-abc-C", wantErr: true},
		{symbol: "BTC-27DEC24-100000-X", wantErr: true},
		{symbol: "BTC-99XYZ24-100000-C", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseOptionSymbol(tt.symbol)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.symbol)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tt.symbol, err)
			continue
		}
		if got.Strike != tt.strike || got.Call != tt.call {
			t.Errorf("%s: got %+v", tt.symbol, got)
		}
	}
}

func TestChainFromTickers(t *testing.T) {
	tickers := []optionTicker{
		{Symbol: "BTC-28MAR25-90000-C", LastPrice: "9000", UnderlyingPrice: "91000", OpenInterest: "3"},
		{Symbol: "BTC-27DEC24-100000-P", LastPrice: "0", MarkPrice: "2500.5", UnderlyingPrice: "98000", OpenInterest: "12.4"},
		{Symbol: "BTC-27DEC24-100000-C", LastPrice: "1200", UnderlyingPrice: "98000", OpenInterest: "7"},
		{Symbol: "BTC-27DEC24-95000-C", LastPrice: "4000", OpenInterest: "1"},
		{Symbol: "ETH-27DEC24-3000-C", LastPrice: "50"},
		{Symbol: "garbage"},
	}
	chain, err := chainFromTickers("BTC", tickers)
	if err != nil {
		t.Fatalf("chainFromTickers: %v", err)
	}
	if len(chain.Expiries) != 2 || chain.NearestExpiry() != "27DEC24" {
		t.Fatalf("unexpected expiries %v", chain.Expiries)
	}
	if chain.Underlying.Decimal.String() != "98000" {
		t.Fatalf("underlying should come from the nearest expiry, got %s", chain.Underlying.Decimal)
	}
	rows := chain.NearestExpiryRows()
	if len(rows) != 2 || rows[0].Strike != 95000 || rows[1].Strike != 100000 {
		t.Fatalf("unexpected nearest rows %+v", rows)
	}
	atm := rows[1]
	if atm.CELastPrice.Decimal.String() != "1200" || atm.PELastPrice.Decimal.String() != "2500.5" {
		t.Fatalf("unexpected prices %+v", atm)
	}
	if atm.PEOpenInterest != 12 || atm.CEOpenInterest != 7 || atm.CEChangeInOI != 0 {
		t.Fatalf("unexpected OI %+v", atm)
	}
	if rows[0].PELastPrice.Valid {
		t.Fatal("missing put should keep a null price")
	}
}

func TestChainFromTickersEmpty(t *testing.T) {
	if _, err := chainFromTickers("BTC", []optionTicker{{Symbol: "ETH-27DEC24-3000-C"}}); err == nil {
		t.Fatal("expected error without matching tickers")
	}
}
