package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a last/open pair for an index or an equity. ChangePct is derived
// from the two and stays null when either side is missing.
type Quote struct {
	Symbol    string              `json:"symbol"`
	Name      string              `json:"name"`
	Kind      string              `json:"kind"` // "index" or "equity"
	Last      decimal.NullDecimal `json:"last"`
	Open      decimal.NullDecimal `json:"open"`
	ChangePct decimal.NullDecimal `json:"change_pct"`
	Error     string              `json:"error,omitempty"`
	FetchedAt time.Time           `json:"fetched_at"`
}

const (
	QuoteKindIndex  = "index"
	QuoteKindEquity = "equity"
)
