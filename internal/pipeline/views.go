package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"atmflow/models"
	"atmflow/processor"
)

// WindowRow is one strike of the window table shown next to a tracker.
type WindowRow struct {
	Strike       int64               `json:"strike"`
	ATM          bool                `json:"atm"`
	CEChangeInOI int64               `json:"ce_change_oi"`
	PEChangeInOI int64               `json:"pe_change_oi"`
	CEOI         int64               `json:"ce_oi"`
	PEOI         int64               `json:"pe_oi"`
	CELastPrice  decimal.NullDecimal `json:"ce_last_price"`
	PELastPrice  decimal.NullDecimal `json:"pe_last_price"`
	Decision     processor.Decision  `json:"decision,omitempty"`
}

// View is the published state of one tracker after a tick. Views are values;
// the registry hands out copies and the tick goroutine never mutates a view
// after publishing it.
type View struct {
	Tracker    string               `json:"tracker"`
	Variant    models.Variant       `json:"variant"`
	Source     string               `json:"source,omitempty"`
	UpdatedAt  time.Time            `json:"updated_at"`
	Date       string               `json:"date"`
	Time       string               `json:"time"`
	MarketOpen bool                 `json:"market_open"`
	Spot       decimal.NullDecimal  `json:"spot"`
	ATM        int64                `json:"atm"`
	Window     []int64              `json:"window"`
	Rows       []WindowRow          `json:"rows"`
	Last       interface{}          `json:"last,omitempty"`
	Series     interface{}          `json:"series,omitempty"`
	Captures   int                  `json:"captures"`
	Sentiment  *processor.Sentiment `json:"sentiment,omitempty"`
	Baseline   *processor.Baseline  `json:"baseline,omitempty"`
	RealDelta  *processor.RealDelta `json:"real_delta,omitempty"`
	Status     string               `json:"status"`
	Error      string               `json:"error,omitempty"`
}

// Registry holds the latest view per tracker and the quote banner.
type Registry struct {
	mu     sync.RWMutex
	views  map[string]View
	order  []string
	quotes []models.Quote
}

func NewRegistry() *Registry {
	return &Registry{views: make(map[string]View)}
}

func (r *Registry) Publish(v View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.views[v.Tracker]; !ok {
		r.order = append(r.order, v.Tracker)
	}
	r.views[v.Tracker] = v
}

// MarkError keeps the last good view of tracker and flags it with err.
func (r *Registry) MarkError(tracker string, variant models.Variant, err string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[tracker]
	if !ok {
		r.order = append(r.order, tracker)
		v = View{Tracker: tracker, Variant: variant}
	}
	v.Error = err
	v.Status = "failed"
	v.UpdatedAt = at
	r.views[tracker] = v
}

func (r *Registry) Get(tracker string) (View, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.views[tracker]
	return v, ok
}

// List returns the views in registration order.
func (r *Registry) List() []View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]View, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.views[name])
	}
	return out
}

func (r *Registry) SetQuotes(q []models.Quote) {
	sorted := append([]models.Quote(nil), q...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Kind == models.QuoteKindIndex && sorted[j].Kind != models.QuoteKindIndex
	})
	r.mu.Lock()
	r.quotes = sorted
	r.mu.Unlock()
}

func (r *Registry) Quotes() []models.Quote {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Quote(nil), r.quotes...)
}
