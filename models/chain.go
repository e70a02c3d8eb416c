package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OptionChainRow is one strike's market data for one expiry. Prices are
// optional; open-interest fields default to zero when the provider omits them.
type OptionChainRow struct {
	Strike         int64               `json:"strike"`
	Expiry         string              `json:"expiry"`
	CELastPrice    decimal.NullDecimal `json:"ce_last_price"`
	PELastPrice    decimal.NullDecimal `json:"pe_last_price"`
	CEOpenInterest int64               `json:"ce_oi"`
	PEOpenInterest int64               `json:"pe_oi"`
	CEChangeInOI   int64               `json:"ce_change_oi"`
	PEChangeInOI   int64               `json:"pe_change_oi"`
}

// Chain is a validated option-chain response. Expiries are ordered with the
// nearest (current week) expiry first.
type Chain struct {
	Rows       []OptionChainRow    `json:"rows"`
	Expiries   []string            `json:"expiries"`
	Underlying decimal.NullDecimal `json:"underlying"`
	Source     string              `json:"source"`
	FetchedAt  time.Time           `json:"fetched_at"`
}

// NearestExpiry returns the first listed expiry or "" when the source did not
// publish an expiry list.
func (c *Chain) NearestExpiry() string {
	if c == nil || len(c.Expiries) == 0 {
		return ""
	}
	return c.Expiries[0]
}

// NearestExpiryRows filters rows to the nearest expiry. When no expiry list is
// known every row is returned.
func (c *Chain) NearestExpiryRows() []OptionChainRow {
	if c == nil {
		return nil
	}
	expiry := c.NearestExpiry()
	if expiry == "" {
		return c.Rows
	}
	out := make([]OptionChainRow, 0, len(c.Rows))
	for _, r := range c.Rows {
		if r.Expiry == expiry {
			out = append(out, r)
		}
	}
	return out
}

// Strikes lists the distinct strikes of rows in first-seen order.
func Strikes(rows []OptionChainRow) []int64 {
	seen := make(map[int64]struct{}, len(rows))
	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.Strike]; ok {
			continue
		}
		seen[r.Strike] = struct{}{}
		out = append(out, r.Strike)
	}
	return out
}
