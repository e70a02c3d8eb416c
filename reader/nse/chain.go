package nse

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"atmflow/models"
	"atmflow/reader"
)

const expiryLayout = "02-Jan-2006"

type chainResponse struct {
	Records *chainRecords `json:"records"`
}

type chainRecords struct {
	ExpiryDates     []string            `json:"expiryDates"`
	UnderlyingValue decimal.NullDecimal `json:"underlyingValue"`
	Data            []chainRow          `json:"data"`
}

type chainRow struct {
	StrikePrice decimal.NullDecimal `json:"strikePrice"`
	ExpiryDate  string              `json:"expiryDate"`
	CE          *chainLeg           `json:"CE"`
	PE          *chainLeg           `json:"PE"`
}

type chainLeg struct {
	LastPrice            decimal.NullDecimal `json:"lastPrice"`
	OpenInterest         decimal.NullDecimal `json:"openInterest"`
	ChangeInOpenInterest decimal.NullDecimal `json:"changeinOpenInterest"`
}

// OptionChain fetches the index option chain for the configured symbol.
func (c *Client) OptionChain(ctx context.Context) (*models.Chain, error) {
	var resp chainResponse
	q := url.Values{"symbol": {c.symbol}}
	if err := c.getJSON(ctx, "option_chain", chainPath, q, &resp); err != nil {
		return nil, err
	}
	chain, err := toChain(&resp)
	if err != nil {
		return nil, err
	}
	chain.FetchedAt = time.Now()
	return chain, nil
}

func toChain(resp *chainResponse) (*models.Chain, error) {
	if resp.Records == nil {
		return nil, reader.NewFetchError(sourceName, "option_chain", reader.KindMalformed,
			fmt.Errorf("response has no records object"))
	}

	rows := make([]models.OptionChainRow, 0, len(resp.Records.Data))
	for _, d := range resp.Records.Data {
		if !d.StrikePrice.Valid {
			continue
		}
		row := models.OptionChainRow{
			Strike: d.StrikePrice.Decimal.Round(0).IntPart(),
			Expiry: strings.TrimSpace(d.ExpiryDate),
		}
		if d.CE != nil {
			row.CELastPrice = d.CE.LastPrice
			row.CEOpenInterest = intOrZero(d.CE.OpenInterest)
			row.CEChangeInOI = intOrZero(d.CE.ChangeInOpenInterest)
		}
		if d.PE != nil {
			row.PELastPrice = d.PE.LastPrice
			row.PEOpenInterest = intOrZero(d.PE.OpenInterest)
			row.PEChangeInOI = intOrZero(d.PE.ChangeInOpenInterest)
		}
		rows = append(rows, row)
	}
	if len(resp.Records.Data) > 0 && len(rows) == 0 {
		return nil, reader.NewFetchError(sourceName, "option_chain", reader.KindMalformed,
			fmt.Errorf("no rows carry a strike price"))
	}

	return &models.Chain{
		Rows:       rows,
		Expiries:   sortExpiries(resp.Records.ExpiryDates),
		Underlying: resp.Records.UnderlyingValue,
		Source:     sourceName,
	}, nil
}

// sortExpiries orders expiries by date. The provider normally lists them
// nearest first; an unparseable list is kept as delivered.
func sortExpiries(in []string) []string {
	out := make([]string, 0, len(in))
	for _, e := range in {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	dates := make(map[string]time.Time, len(out))
	for _, e := range out {
		t, err := time.Parse(expiryLayout, e)
		if err != nil {
			return out
		}
		dates[e] = t
	}
	sort.SliceStable(out, func(i, j int) bool { return dates[out[i]].Before(dates[out[j]]) })
	return out
}

func intOrZero(d decimal.NullDecimal) int64 {
	if !d.Valid {
		return 0
	}
	return d.Decimal.Round(0).IntPart()
}
