package nse

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"atmflow/models"
	"atmflow/reader"
)

const htmlSourceName = "nse-html"

const (
	colStrike   = "Strike Price"
	colCEChange = "CE Change in OI"
	colPEChange = "PE Change in OI"
	colCEOI     = "CE OI"
	colPEOI     = "PE OI"
	colCELTP    = "CE LTP"
	colPELTP    = "PE LTP"
)

// HTMLSource scrapes the option-chain page when the JSON API is unavailable.
// The page carries no expiry list, so every row is treated as the nearest
// expiry and the underlying is estimated as the median strike.
type HTMLSource struct {
	client *Client
}

func NewHTMLSource(c *Client) *HTMLSource { return &HTMLSource{client: c} }

func (s *HTMLSource) Name() string { return htmlSourceName }

func (s *HTMLSource) OptionChain(ctx context.Context) (*models.Chain, error) {
	body, err := s.client.fetch(ctx, "option_chain_html", s.client.htmlPath, nil, "text/html")
	if err != nil {
		return nil, err
	}
	chain, err := ParseChainTable(body)
	if err != nil {
		return nil, reader.NewFetchError(htmlSourceName, "option_chain_html", reader.KindMalformed, err)
	}
	chain.FetchedAt = time.Now()
	return chain, nil
}

func (s *HTMLSource) IndexQuote(context.Context, string) (models.Quote, error) {
	return models.Quote{}, reader.ErrNotSupported
}

func (s *HTMLSource) EquityQuote(context.Context, string) (models.Quote, error) {
	return models.Quote{}, reader.ErrNotSupported
}

// ParseChainTable reads the first table of an option-chain page.
func ParseChainTable(page []byte) (*models.Chain, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	table := findFirst(doc, atom.Table)
	if table == nil {
		return nil, fmt.Errorf("no table on page")
	}

	var grid [][]string
	walk(table, func(n *html.Node) bool {
		if n.DataAtom != atom.Tr {
			return true
		}
		var cells []string
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.DataAtom == atom.Td || c.DataAtom == atom.Th {
				cells = append(cells, strings.TrimSpace(textOf(c)))
			}
		}
		if len(cells) > 0 {
			grid = append(grid, cells)
		}
		return false
	})
	if len(grid) < 1 {
		return nil, fmt.Errorf("table has no rows")
	}

	cols := make(map[string]int)
	for i, h := range grid[0] {
		cols[strings.Join(strings.Fields(h), " ")] = i
	}
	strikeCol, ok := cols[colStrike]
	if !ok {
		return nil, fmt.Errorf("table has no %q column", colStrike)
	}

	rows := make([]models.OptionChainRow, 0, len(grid)-1)
	for _, cells := range grid[1:] {
		strike, ok := cellNumber(cells, strikeCol)
		if !ok || !strike.Valid {
			continue
		}
		row := models.OptionChainRow{Strike: strike.Decimal.Round(0).IntPart()}
		row.CEChangeInOI = cellInt(cells, cols, colCEChange)
		row.PEChangeInOI = cellInt(cells, cols, colPEChange)
		row.CEOpenInterest = cellInt(cells, cols, colCEOI)
		row.PEOpenInterest = cellInt(cells, cols, colPEOI)
		row.CELastPrice = cellPrice(cells, cols, colCELTP)
		row.PELastPrice = cellPrice(cells, cols, colPELTP)
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("table has no strike rows")
	}

	return &models.Chain{
		Rows:       rows,
		Underlying: decimal.NewNullDecimal(medianStrike(rows)),
		Source:     htmlSourceName,
	}, nil
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) bool {
		if found != nil {
			return false
		}
		if c.Type == html.ElementNode && c.DataAtom == a {
			found = c
			return false
		}
		return true
	})
	return found
}

// walk visits n depth first; visit returns false to skip a node's children.
func walk(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func textOf(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

// cellNumber parses a numeric cell. Thousands separators are stripped and a
// dash means zero.
func cellNumber(cells []string, i int) (decimal.NullDecimal, bool) {
	if i < 0 || i >= len(cells) {
		return decimal.NullDecimal{}, false
	}
	s := strings.ReplaceAll(strings.TrimSpace(cells[i]), ",", "")
	if s == "" || s == "-" {
		return decimal.NewNullDecimal(decimal.Zero), true
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, false
	}
	return decimal.NewNullDecimal(d), true
}

func cellInt(cells []string, cols map[string]int, name string) int64 {
	i, ok := cols[name]
	if !ok {
		return 0
	}
	v, ok := cellNumber(cells, i)
	if !ok {
		return 0
	}
	return v.Decimal.Round(0).IntPart()
}

func cellPrice(cells []string, cols map[string]int, name string) decimal.NullDecimal {
	i, ok := cols[name]
	if !ok || i >= len(cells) {
		return decimal.NullDecimal{}
	}
	s := strings.TrimSpace(cells[i])
	if s == "" || s == "-" {
		return decimal.NullDecimal{}
	}
	v, _ := cellNumber(cells, i)
	return v
}

func medianStrike(rows []models.OptionChainRow) decimal.Decimal {
	strikes := make([]int64, len(rows))
	for i, r := range rows {
		strikes[i] = r.Strike
	}
	sort.Slice(strikes, func(i, j int) bool { return strikes[i] < strikes[j] })
	n := len(strikes)
	if n%2 == 1 {
		return decimal.NewFromInt(strikes[n/2])
	}
	return decimal.NewFromInt(strikes[n/2-1] + strikes[n/2]).Div(decimal.NewFromInt(2))
}
