package bybit

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	appconfig "atmflow/config"
	"atmflow/logger"
	"atmflow/models"
	"atmflow/reader"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const sourceName = "bybit"

// OptionSource builds option chains from the Bybit v5 option tickers.
type OptionSource struct {
	client   *bybit.Client
	baseCoin string
	log      *logger.Log
}

func NewOptionSource(cfg appconfig.BybitSourceConfig) *OptionSource {
	log := logger.GetLogger()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{Transport: transport, Timeout: timeout}

	client := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(cfg.BaseURL))
	client.HTTPClient = httpClient

	log.WithComponent("bybit_reader").WithFields(logger.Fields{
		"base_coin": cfg.BaseCoin,
		"timeout":   timeout,
	}).Info("bybit option source initialized")

	return &OptionSource{client: client, baseCoin: strings.ToUpper(cfg.BaseCoin), log: log}
}

func (s *OptionSource) Name() string { return sourceName }

type tickersResult struct {
	Category string         `json:"category"`
	List     []optionTicker `json:"list"`
}

type optionTicker struct {
	Symbol          string `json:"symbol"`
	LastPrice       string `json:"lastPrice"`
	MarkPrice       string `json:"markPrice"`
	UnderlyingPrice string `json:"underlyingPrice"`
	OpenInterest    string `json:"openInterest"`
}

func (s *OptionSource) OptionChain(ctx context.Context) (*models.Chain, error) {
	log := s.log.WithComponent("bybit_reader").WithFields(logger.Fields{"operation": "option_chain"})

	params := map[string]interface{}{
		"category": "option",
		"baseCoin": s.baseCoin,
	}
	start := time.Now()
	resp, err := s.client.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return nil, reader.NewFetchError(sourceName, "option_chain", reader.KindNetwork, err)
	}
	logger.LogPerformanceEntry(log, "bybit_reader", "api_request", time.Since(start), logger.Fields{"base_coin": s.baseCoin})
	if resp.RetCode != 0 {
		return nil, reader.NewFetchError(sourceName, "option_chain", reader.KindStatus,
			fmt.Errorf("retCode %d: %s", resp.RetCode, resp.RetMsg))
	}

	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, reader.NewFetchError(sourceName, "option_chain", reader.KindMalformed, err)
	}
	var result tickersResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, reader.NewFetchError(sourceName, "option_chain", reader.KindMalformed, err)
	}

	chain, err := chainFromTickers(s.baseCoin, result.List)
	if err != nil {
		return nil, reader.NewFetchError(sourceName, "option_chain", reader.KindMalformed, err)
	}
	chain.FetchedAt = time.Now()
	logger.LogDataFlowEntry(log, "bybit_api", "tracker", len(chain.Rows), "option_rows")
	return chain, nil
}

func (s *OptionSource) IndexQuote(context.Context, string) (models.Quote, error) {
	return models.Quote{}, reader.ErrNotSupported
}

func (s *OptionSource) EquityQuote(context.Context, string) (models.Quote, error) {
	return models.Quote{}, reader.ErrNotSupported
}

// OptionSymbol is a parsed Bybit option symbol such as BTC-27DEC24-100000-C.
type OptionSymbol struct {
	Base   string
	Expiry string
	Date   time.Time
	Strike int64
	Call   bool
}

// ParseOptionSymbol parses BASE-DDMMMYY-STRIKE-C|P with an optional settle
// coin suffix.
func ParseOptionSymbol(sym string) (OptionSymbol, error) {
	parts := strings.Split(sym, "-")
	if len(parts) < 4 {
		return OptionSymbol{}, fmt.Errorf("option symbol %q: expected BASE-EXPIRY-STRIKE-TYPE", sym)
	}
	date, err := time.Parse("2Jan06", parts[1])
	if err != nil {
		return OptionSymbol{}, fmt.Errorf("option symbol %q: expiry: %w", sym, err)
	}
	strike, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return OptionSymbol{}, fmt.Errorf("option symbol %q: strike: %w", sym, err)
	}
	var call bool
	switch parts[3] {
	case "C":
		call = true
	case "P":
	default:
		return OptionSymbol{}, fmt.Errorf("option symbol %q: unknown type %q", sym, parts[3])
	}
	return OptionSymbol{Base: parts[0], Expiry: parts[1], Date: date, Strike: strike, Call: call}, nil
}

// chainFromTickers groups option tickers into one row per expiry and strike.
// Bybit does not publish change in OI, so those fields stay zero.
func chainFromTickers(baseCoin string, tickers []optionTicker) (*models.Chain, error) {
	type key struct {
		expiry string
		strike int64
	}
	rows := make(map[key]*models.OptionChainRow)
	expiryDates := make(map[string]time.Time)
	underlying := make(map[string]decimal.NullDecimal)
	var order []key

	for _, t := range tickers {
		sym, err := ParseOptionSymbol(t.Symbol)
		if err != nil {
			continue
		}
		if baseCoin != "" && sym.Base != baseCoin {
			continue
		}
		k := key{sym.Expiry, sym.Strike}
		row, ok := rows[k]
		if !ok {
			row = &models.OptionChainRow{Strike: sym.Strike, Expiry: sym.Expiry}
			rows[k] = row
			order = append(order, k)
		}
		price := parseNull(t.LastPrice)
		if !price.Valid || price.Decimal.IsZero() {
			if mark := parseNull(t.MarkPrice); mark.Valid {
				price = mark
			}
		}
		oi := parseNull(t.OpenInterest)
		if sym.Call {
			row.CELastPrice = price
			row.CEOpenInterest = intOf(oi)
		} else {
			row.PELastPrice = price
			row.PEOpenInterest = intOf(oi)
		}
		expiryDates[sym.Expiry] = sym.Date
		if u := parseNull(t.UnderlyingPrice); u.Valid && !underlying[sym.Expiry].Valid {
			underlying[sym.Expiry] = u
		}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no %s option tickers", baseCoin)
	}

	expiries := make([]string, 0, len(expiryDates))
	for e := range expiryDates {
		expiries = append(expiries, e)
	}
	sort.Slice(expiries, func(i, j int) bool { return expiryDates[expiries[i]].Before(expiryDates[expiries[j]]) })

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].expiry != order[j].expiry {
			return expiryDates[order[i].expiry].Before(expiryDates[order[j].expiry])
		}
		return order[i].strike < order[j].strike
	})
	out := make([]models.OptionChainRow, 0, len(order))
	for _, k := range order {
		out = append(out, *rows[k])
	}

	return &models.Chain{
		Rows:       out,
		Expiries:   expiries,
		Underlying: underlying[expiries[0]],
		Source:     sourceName,
	}, nil
}

func parseNull(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func intOf(d decimal.NullDecimal) int64 {
	if !d.Valid {
		return 0
	}
	return d.Decimal.Round(0).IntPart()
}
