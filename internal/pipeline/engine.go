package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	appconfig "atmflow/config"
	"atmflow/internal/channel"
	"atmflow/internal/metrics"
	"atmflow/logger"
	"atmflow/models"
	"atmflow/processor"
	"atmflow/reader"
)

// ErrUnknownTracker is returned for lookups of a tracker that is not configured.
var ErrUnknownTracker = errors.New("unknown tracker")

// EngineOptions wires an Engine.
type EngineOptions struct {
	Source       reader.Source
	Trackers     []Tracker
	Session      *Session
	Registry     *Registry
	Events       *channel.Channels
	FetchTimeout time.Duration
	Quotes       appconfig.QuotesConfig
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine runs one tick at a time: one option-chain fetch shared by every
// tracker, then view publication and event fan-out.
type Engine struct {
	source       reader.Source
	trackers     []Tracker
	byName       map[string]Tracker
	session      *Session
	registry     *Registry
	events       *channel.Channels
	fetchTimeout time.Duration
	quotes       appconfig.QuotesConfig
	now          func() time.Time

	mu  sync.Mutex
	log *logger.Log
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("engine: nil source")
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("engine: nil session")
	}
	if len(opts.Trackers) == 0 {
		return nil, fmt.Errorf("engine: no trackers")
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	byName := make(map[string]Tracker, len(opts.Trackers))
	for _, t := range opts.Trackers {
		if _, dup := byName[t.Name()]; dup {
			return nil, fmt.Errorf("engine: duplicate tracker %q", t.Name())
		}
		byName[t.Name()] = t
	}
	return &Engine{
		source:       opts.Source,
		trackers:     opts.Trackers,
		byName:       byName,
		session:      opts.Session,
		registry:     opts.Registry,
		events:       opts.Events,
		fetchTimeout: opts.FetchTimeout,
		quotes:       opts.Quotes,
		now:          opts.Now,
		log:          logger.GetLogger(),
	}, nil
}

func (e *Engine) Registry() *Registry { return e.registry }
func (e *Engine) Session() *Session   { return e.session }

// Load restores today's persisted series of every tracker. A tracker that
// fails to load starts empty; the errors are returned joined.
func (e *Engine) Load(ctx context.Context) error {
	date, _ := e.session.Stamp(e.now())
	var errs []error
	for _, t := range e.trackers {
		if err := t.Load(ctx, date); err != nil {
			e.log.WithComponent("engine").WithError(err).WithFields(logger.Fields{
				"tracker": t.Name(),
				"date":    date,
			}).Warn("failed to load persisted series, starting empty")
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Tick fetches the chain once and runs every tracker on it. A fetch failure
// abandons the tick: nothing is appended and every view shows the error.
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	now := e.now()
	local := e.session.Local(now)
	date, bucket := e.session.Stamp(now)
	logger.IncrementTick()

	log := e.log.WithComponent("engine").WithFields(logger.Fields{
		"session": e.session.ID,
		"date":    date,
		"bucket":  bucket,
	})

	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	fetchStart := time.Now()
	chain, err := e.source.OptionChain(fetchCtx)
	metrics.ObserveFetch(e.source.Name(), time.Since(fetchStart))
	if err != nil {
		e.fail(ctx, local, err)
		log.WithError(err).Warn("option chain fetch failed, tick abandoned")
		return fmt.Errorf("fetch option chain: %w", err)
	}

	spots := e.indexSpots(fetchCtx, chain)

	var appended int
	for _, t := range e.trackers {
		in := TickInput{Chain: chain, Now: local, Date: date, Bucket: bucket}
		source, index := t.SpotSource()
		if source == appconfig.SpotIndex {
			sr := spots[index]
			if sr.err != nil {
				e.failTracker(ctx, t, local, sr.err)
				continue
			}
			in.Spot = sr.spot
		} else {
			in.Spot = chain.Underlying
		}

		res := t.Tick(ctx, in)
		e.registry.Publish(res.View)
		metrics.ObserveTick(t.Name(), res.Status)
		if res.Appended {
			appended++
		}
		e.publish(ctx, models.TickEvent{
			SessionID: e.session.ID,
			Tracker:   t.Name(),
			Variant:   t.Variant(),
			Source:    chain.Source,
			Appended:  res.Appended,
			Captured:  res.Captured,
			Record:    res.Record,
			Error:     res.View.Error,
			Timestamp: now,
		})
	}

	if e.quotes.Enabled {
		e.refreshQuotes(ctx)
	}

	logger.LogPerformanceEntry(log.WithFields(logger.Fields{
		"source":   chain.Source,
		"rows":     len(chain.Rows),
		"appended": appended,
	}), "engine", "tick", time.Since(start), nil)
	return nil
}

type spotResult struct {
	spot decimal.NullDecimal
	err  error
}

// indexSpots fetches each index used as a spot once per tick.
func (e *Engine) indexSpots(ctx context.Context, chain *models.Chain) map[string]spotResult {
	out := make(map[string]spotResult)
	for _, t := range e.trackers {
		source, index := t.SpotSource()
		if source != appconfig.SpotIndex {
			continue
		}
		if _, ok := out[index]; ok {
			continue
		}
		spot, err := reader.IndexSpot(ctx, e.source, index)
		if err != nil {
			e.countFailure(err)
		}
		out[index] = spotResult{spot: spot, err: err}
	}
	return out
}

func (e *Engine) fail(ctx context.Context, at time.Time, err error) {
	e.countFailure(err)
	for _, t := range e.trackers {
		e.failTracker(ctx, t, at, err)
	}
}

func (e *Engine) failTracker(ctx context.Context, t Tracker, at time.Time, err error) {
	e.registry.MarkError(t.Name(), t.Variant(), err.Error(), at)
	metrics.ObserveTick(t.Name(), metrics.StatusFailed)
	e.publish(ctx, models.TickEvent{
		SessionID: e.session.ID,
		Tracker:   t.Name(),
		Variant:   t.Variant(),
		Error:     err.Error(),
		Timestamp: at,
	})
}

func (e *Engine) countFailure(err error) {
	logger.IncrementFetchFailure()
	var fe *reader.FetchError
	if errors.As(err, &fe) {
		metrics.IncrementSourceFailure(fe.Source, string(fe.Kind))
		return
	}
	metrics.IncrementSourceFailure(e.source.Name(), "")
}

func (e *Engine) publish(ctx context.Context, ev models.TickEvent) {
	if e.events == nil {
		return
	}
	e.events.Publish(ctx, ev)
}

// refreshQuotes fetches the configured index and equity quotes concurrently.
// A failed quote keeps its slot with the error text.
func (e *Engine) refreshQuotes(ctx context.Context) {
	type request struct {
		symbol string
		kind   string
	}
	var reqs []request
	for _, s := range e.quotes.Indices {
		reqs = append(reqs, request{s, models.QuoteKindIndex})
	}
	for _, s := range e.quotes.Equities {
		reqs = append(reqs, request{s, models.QuoteKindEquity})
	}
	if len(reqs) == 0 {
		return
	}

	qctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	quotes := make([]models.Quote, len(reqs))
	g, gctx := errgroup.WithContext(qctx)
	for i, r := range reqs {
		i, r := i, r
		g.Go(func() error {
			var q models.Quote
			var err error
			if r.kind == models.QuoteKindIndex {
				q, err = e.source.IndexQuote(gctx, r.symbol)
			} else {
				q, err = e.source.EquityQuote(gctx, r.symbol)
			}
			if err != nil {
				q = models.Quote{Error: err.Error()}
			}
			q.Symbol = r.symbol
			q.Kind = r.kind
			if q.Name == "" {
				q.Name = r.symbol
			}
			q.ChangePct = processor.ChangePercent(q.Last, q.Open)
			quotes[i] = q
			return nil
		})
	}
	_ = g.Wait()
	e.registry.SetQuotes(quotes)
}

// Flush persists every tracker with unsaved records.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for _, t := range e.trackers {
		if err := t.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// TrackerInfo describes a configured tracker.
type TrackerInfo struct {
	Name    string         `json:"name"`
	Variant models.Variant `json:"variant"`
}

func (e *Engine) Trackers() []TrackerInfo {
	out := make([]TrackerInfo, 0, len(e.trackers))
	for _, t := range e.trackers {
		out = append(out, TrackerInfo{Name: t.Name(), Variant: t.Variant()})
	}
	return out
}

// Export returns today's persisted series of tracker.
func (e *Engine) Export(ctx context.Context, tracker string) (string, []byte, error) {
	t, ok := e.byName[tracker]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownTracker, tracker)
	}
	date, _ := e.session.Stamp(e.now())
	return t.Export(ctx, date)
}
