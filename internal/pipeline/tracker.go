package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	appconfig "atmflow/config"
	"atmflow/internal/metrics"
	"atmflow/logger"
	"atmflow/models"
	"atmflow/processor"
	"atmflow/writer"
)

// TickInput is what one tracker sees of a tick.
type TickInput struct {
	Chain  *models.Chain
	Spot   decimal.NullDecimal
	Now    time.Time
	Date   string
	Bucket string
}

// TickResult is the outcome of one tracker tick.
type TickResult struct {
	View     View
	Record   interface{}
	Appended bool
	Captured bool
	Status   string
	Err      error
}

// Tracker computes one analytics variant over the shared option chain and
// owns that variant's series store.
type Tracker interface {
	Name() string
	Variant() models.Variant
	// SpotSource reports where the tracker takes its spot from and, for
	// index spots, which index.
	SpotSource() (source, index string)
	Load(ctx context.Context, date string) error
	Tick(ctx context.Context, in TickInput) TickResult
	Flush(ctx context.Context) error
	Export(ctx context.Context, date string) (string, []byte, error)
}

// NewTracker builds the tracker for cfg.Variant. archiver may be nil.
func NewTracker(cfg appconfig.TrackerConfig, backend writer.Backend, archiver writer.Archiver) (Tracker, error) {
	switch cfg.Variant {
	case appconfig.VariantOI:
		b, err := newBase[models.OIRecord](cfg, models.VariantOI, backend, archiver, writer.OICodec{IncludeTotals: cfg.IncludeOITotals})
		if err != nil {
			return nil, err
		}
		return &oiTracker{base: b}, nil
	case appconfig.VariantPremium:
		b, err := newBase[models.PremiumRecord](cfg, models.VariantPremium, backend, archiver, writer.PremiumCodec{})
		if err != nil {
			return nil, err
		}
		return &premiumTracker{base: b}, nil
	case appconfig.VariantMomentum:
		policy, err := processor.ParsePEDeltaPolicy(cfg.PEDeltaPolicy)
		if err != nil {
			return nil, fmt.Errorf("tracker %s: %w", cfg.Name, err)
		}
		b, err := newBase[models.MomentumRecord](cfg, models.VariantMomentum, backend, archiver, writer.MomentumCodec{})
		if err != nil {
			return nil, err
		}
		return &momentumTracker{base: b, baseline: processor.NewBaselineTracker(policy)}, nil
	default:
		return nil, fmt.Errorf("tracker %s: unknown variant %q", cfg.Name, cfg.Variant)
	}
}

type base[R writer.Record] struct {
	cfg     appconfig.TrackerConfig
	variant models.Variant
	policy  processor.SelectionPolicy
	hours   Hours
	store   *writer.Store[R]
	log     *logger.Log
}

func newBase[R writer.Record](cfg appconfig.TrackerConfig, variant models.Variant, backend writer.Backend, archiver writer.Archiver, codec writer.Codec[R]) (base[R], error) {
	policy, err := processor.ParseSelectionPolicy(cfg.Selection)
	if err != nil {
		return base[R]{}, fmt.Errorf("tracker %s: %w", cfg.Name, err)
	}
	hours, err := NewHours(cfg.Hours)
	if err != nil {
		return base[R]{}, fmt.Errorf("tracker %s: %w", cfg.Name, err)
	}
	store, err := writer.NewStore(writer.StoreOptions[R]{
		Name:     cfg.Name,
		Prefix:   cfg.Prefix,
		Layout:   writer.Layout(cfg.Layout),
		Backend:  backend,
		Codec:    codec,
		Archiver: archiver,
	})
	if err != nil {
		return base[R]{}, err
	}
	return base[R]{
		cfg:     cfg,
		variant: variant,
		policy:  policy,
		hours:   hours,
		store:   store,
		log:     logger.GetLogger(),
	}, nil
}

func (b *base[R]) Name() string            { return b.cfg.Name }
func (b *base[R]) Variant() models.Variant { return b.variant }

func (b *base[R]) SpotSource() (string, string) { return b.cfg.SpotSource, b.cfg.IndexName }

func (b *base[R]) Load(ctx context.Context, date string) error {
	_, err := b.store.Load(ctx, date)
	return err
}

// Flush persists records a failed write left behind.
func (b *base[R]) Flush(ctx context.Context) error {
	if !b.store.Dirty() {
		return nil
	}
	return b.store.Persist(ctx)
}

func (b *base[R]) Export(ctx context.Context, date string) (string, []byte, error) {
	return b.store.Export(ctx, date)
}

func (b *base[R]) newView(in TickInput) View {
	v := View{
		Tracker:    b.cfg.Name,
		Variant:    b.variant,
		UpdatedAt:  in.Now,
		Date:       in.Date,
		Time:       in.Bucket,
		MarketOpen: b.hours.Open(in.Now),
		Spot:       in.Spot,
		Status:     metrics.StatusSkipped,
	}
	if in.Chain != nil {
		v.Source = in.Chain.Source
	}
	if in.Spot.Valid {
		v.ATM = processor.ATMStrike(in.Spot.Decimal, b.cfg.StrikeStep)
	}
	return v
}

func (b *base[R]) window(in TickInput) []int64 {
	if in.Chain == nil {
		return nil
	}
	available := models.Strikes(in.Chain.NearestExpiryRows())
	return processor.SelectWindow(in.Spot, b.cfg.StrikeStep, b.cfg.WindowSize, b.policy, available)
}

// commit applies the hours gate, appends rec and persists the series. A
// record outside market hours is computed and shown but never stored.
func (b *base[R]) commit(ctx context.Context, in TickInput, rec R) (appended, captured bool, status string, err error) {
	if !b.hours.Open(in.Now) {
		return false, false, metrics.StatusGated, nil
	}
	appended = b.store.Append(ctx, rec)
	status = metrics.StatusSkipped
	if appended {
		status = metrics.StatusAppended
		metrics.IncrementAppend(b.cfg.Name)
	}
	if b.store.Dirty() {
		if err := b.store.Persist(ctx); err != nil {
			return appended, true, status, err
		}
	}
	return appended, true, status, nil
}

// today returns up to History records of date's series and the capture
// count, both empty when the in-memory series is for another day.
func (b *base[R]) today(date string) ([]R, int) {
	s := b.store.Series()
	if s == nil || s.Date() != date {
		return nil, 0
	}
	return s.Tail(b.cfg.History), s.Len()
}

func (b *base[R]) finish(view View, rec R, appended, captured bool, status string, err error) TickResult {
	series, captures := b.today(view.Date)
	view.Last = rec
	view.Series = series
	view.Captures = captures
	view.Status = status
	if err != nil {
		view.Error = err.Error()
		b.log.WithComponent("tracker").WithError(err).WithFields(logger.Fields{
			"tracker": b.cfg.Name,
			"date":    view.Date,
			"time":    view.Time,
		}).Warn("failed to persist series")
	}
	return TickResult{
		View:     view,
		Record:   rec,
		Appended: appended,
		Captured: captured,
		Status:   status,
		Err:      err,
	}
}

func skipped(view View) TickResult {
	view.Status = metrics.StatusSkipped
	return TickResult{View: view, Status: metrics.StatusSkipped}
}

func gated(view View) TickResult {
	view.Status = metrics.StatusGated
	return TickResult{View: view, Status: metrics.StatusGated}
}

type oiTracker struct {
	base[models.OIRecord]
}

func (t *oiTracker) Tick(ctx context.Context, in TickInput) TickResult {
	view := t.newView(in)
	window := t.window(in)
	if len(window) == 0 {
		return skipped(view)
	}
	view.Window = window

	red := processor.ReduceOI(in.Chain, window)
	rec := models.OIRecord{
		Date:     in.Date,
		Time:     in.Bucket,
		CEChange: red.CEChange,
		PEChange: red.PEChange,
	}
	if t.cfg.IncludeOITotals {
		rec.CEOITotal = red.CEOITotal
		rec.PEOITotal = red.PEOITotal
	}

	rows := make([]WindowRow, 0, len(red.Rows))
	for _, r := range red.Rows {
		rows = append(rows, WindowRow{
			Strike:       r.Strike,
			ATM:          r.Strike == view.ATM,
			CEChangeInOI: r.CEChangeInOI,
			PEChangeInOI: r.PEChangeInOI,
			CEOI:         r.CEOpenInterest,
			PEOI:         r.PEOpenInterest,
			CELastPrice:  r.CELastPrice,
			PELastPrice:  r.PELastPrice,
		})
	}
	view.Rows = rows
	sentiment := processor.SentimentOf(rec.CEChange, rec.PEChange)
	view.Sentiment = &sentiment

	appended, captured, status, err := t.commit(ctx, in, rec)
	return t.finish(view, rec, appended, captured, status, err)
}

type premiumTracker struct {
	base[models.PremiumRecord]
}

func (t *premiumTracker) Tick(ctx context.Context, in TickInput) TickResult {
	view := t.newView(in)
	window := t.window(in)
	if len(window) == 0 {
		return skipped(view)
	}
	view.Window = window

	rec := models.PremiumRecord{
		Date: in.Date,
		Time: in.Bucket,
		Spot: in.Spot,
		ATM:  view.ATM,
		Legs: processor.ReducePremium(in.Chain, window),
	}

	appended, captured, status, err := t.commit(ctx, in, rec)

	first := rec
	if s := t.store.Series(); s != nil && s.Date() == in.Date {
		if f, ok := s.First(); ok {
			first = f
		}
	}
	oi := make(map[int64]models.OptionChainRow)
	for _, r := range processor.ReduceOI(in.Chain, window).Rows {
		oi[r.Strike] = r
	}
	rows := make([]WindowRow, 0, len(rec.Legs))
	for _, leg := range rec.Legs {
		start, _ := first.Leg(leg.Strike)
		r := oi[leg.Strike]
		rows = append(rows, WindowRow{
			Strike:       leg.Strike,
			ATM:          leg.Strike == view.ATM,
			CEChangeInOI: r.CEChangeInOI,
			PEChangeInOI: r.PEChangeInOI,
			CEOI:         r.CEOpenInterest,
			PEOI:         r.PEOpenInterest,
			CELastPrice:  leg.CE,
			PELastPrice:  leg.PE,
			Decision:     processor.StrikeDecision(start.CE, leg.CE, start.PE, leg.PE),
		})
	}
	view.Rows = rows

	return t.finish(view, rec, appended, captured, status, err)
}

type momentumTracker struct {
	base[models.MomentumRecord]
	baseline *processor.BaselineTracker
	date     string
}

func (t *momentumTracker) Tick(ctx context.Context, in TickInput) TickResult {
	if t.date != "" && t.date != in.Date && t.cfg.ResetBaselineOnRollover {
		t.baseline.Reset()
		t.log.WithComponent("tracker").WithFields(logger.Fields{
			"tracker":  t.cfg.Name,
			"old_date": t.date,
			"new_date": in.Date,
		}).Info("baseline reset on rollover")
	}
	t.date = in.Date

	view := t.newView(in)
	if !in.Spot.Valid {
		return skipped(view)
	}
	atm := view.ATM
	leg := processor.ReducePremium(in.Chain, []int64{atm})[0]
	view.Window = []int64{atm}
	view.Rows = []WindowRow{{Strike: atm, ATM: true, CELastPrice: leg.CE, PELastPrice: leg.PE}}

	// Outside the window the baseline is only read, never captured.
	open := t.hours.Open(in.Now)
	var d processor.Deltas
	var ok bool
	if open {
		d, ok = t.baseline.OnTick(in.Spot, leg.CE, leg.PE)
	} else {
		d, ok = t.baseline.Peek(in.Spot, leg.CE, leg.PE)
	}
	if !ok {
		if !open {
			return gated(view)
		}
		return skipped(view)
	}
	bl := t.baseline.Baseline()
	view.Baseline = &bl

	rec := models.MomentumRecord{
		Date:      in.Date,
		Time:      in.Bucket,
		SpotDelta: d.Spot,
		CEDelta:   d.CE,
		PEDelta:   d.PE,
	}
	appended, captured, status, err := t.commit(ctx, in, rec)

	var history []processor.Deltas
	if s := t.store.Series(); s != nil && s.Date() == in.Date {
		for _, r := range s.Tail(2) {
			history = append(history, processor.Deltas{Spot: r.SpotDelta, CE: r.CEDelta, PE: r.PEDelta})
		}
	}
	if !appended {
		history = append(history, d)
	}
	rd := processor.Derive(history)
	view.RealDelta = &rd
	rec.RealDeltaCE = rd.CE
	rec.RealDeltaPE = rd.PE

	return t.finish(view, rec, appended, captured, status, err)
}
