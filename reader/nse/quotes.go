package nse

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"atmflow/models"
)

type allIndicesResponse struct {
	Data []struct {
		Index string              `json:"index"`
		Last  decimal.NullDecimal `json:"last"`
		Open  decimal.NullDecimal `json:"open"`
	} `json:"data"`
}

type equityResponse struct {
	Info struct {
		Symbol      string `json:"symbol"`
		CompanyName string `json:"companyName"`
	} `json:"info"`
	PriceInfo struct {
		LastPrice decimal.NullDecimal `json:"lastPrice"`
		Open      decimal.NullDecimal `json:"open"`
	} `json:"priceInfo"`
}

// IndexQuote looks the index up by exact name in the all-indices listing.
// An index that is not listed yields a quote with null prices.
func (c *Client) IndexQuote(ctx context.Context, name string) (models.Quote, error) {
	var resp allIndicesResponse
	if err := c.getJSON(ctx, "index_quote", indexPath, nil, &resp); err != nil {
		return models.Quote{}, err
	}
	q := models.Quote{Symbol: name, Name: name, Kind: models.QuoteKindIndex, FetchedAt: time.Now()}
	for _, d := range resp.Data {
		if strings.TrimSpace(d.Index) == name {
			q.Last = d.Last
			q.Open = d.Open
			return q, nil
		}
	}
	q.Error = "index not listed"
	return q, nil
}

func (c *Client) EquityQuote(ctx context.Context, symbol string) (models.Quote, error) {
	var resp equityResponse
	if err := c.getJSON(ctx, "equity_quote", equityPath, url.Values{"symbol": {symbol}}, &resp); err != nil {
		return models.Quote{}, err
	}
	name := resp.Info.CompanyName
	if name == "" {
		name = symbol
	}
	return models.Quote{
		Symbol:    symbol,
		Name:      name,
		Kind:      models.QuoteKindEquity,
		Last:      resp.PriceInfo.LastPrice,
		Open:      resp.PriceInfo.Open,
		FetchedAt: time.Now(),
	}, nil
}
