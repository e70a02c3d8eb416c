package reader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"atmflow/logger"
	"atmflow/models"
)

var (
	// ErrFetchFailure is matched by every FetchError.
	ErrFetchFailure = errors.New("quote fetch failed")
	// ErrSourcesExhausted is returned when every source of a Fallback failed.
	ErrSourcesExhausted = errors.New("all quote sources failed")
	// ErrNotSupported is returned by sources that lack an endpoint.
	ErrNotSupported = errors.New("not supported by source")
)

// FetchKind classifies a fetch failure.
type FetchKind string

const (
	KindNetwork   FetchKind = "network"
	KindTimeout   FetchKind = "timeout"
	KindStatus    FetchKind = "status"
	KindMalformed FetchKind = "malformed"
	KindBootstrap FetchKind = "bootstrap"
)

// FetchError reports why a source could not deliver data.
type FetchError struct {
	Source string
	Op     string
	Kind   FetchKind
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s", e.Source, e.Op, e.Kind)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetchFailure }

// NewFetchError builds a FetchError, upgrading network errors caused by a
// deadline to KindTimeout.
func NewFetchError(source, op string, kind FetchKind, err error) *FetchError {
	if kind == KindNetwork && IsTimeout(err) {
		kind = KindTimeout
	}
	return &FetchError{Source: source, Op: op, Kind: kind, Err: err}
}

// StatusError is a FetchError for a non-2xx response.
func StatusError(source, op string, status int) *FetchError {
	return &FetchError{Source: source, Op: op, Kind: KindStatus, Status: status}
}

// IsTimeout reports whether err came from a deadline or a timed-out dial.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// KindOf extracts the failure kind, or "" for errors that are not FetchErrors.
func KindOf(err error) FetchKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Source is a provider of option chains and index/equity quotes.
type Source interface {
	Name() string
	OptionChain(ctx context.Context) (*models.Chain, error)
	IndexQuote(ctx context.Context, name string) (models.Quote, error)
	EquityQuote(ctx context.Context, symbol string) (models.Quote, error)
}

// IndexSpot fetches the last price of an index, null when unavailable.
func IndexSpot(ctx context.Context, src Source, name string) (decimal.NullDecimal, error) {
	q, err := src.IndexQuote(ctx, name)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return q.Last, nil
}

// Fallback tries each source in order and returns the first success.
type Fallback struct {
	sources []Source
	log     *logger.Log
}

func NewFallback(sources ...Source) *Fallback {
	return &Fallback{sources: sources, log: logger.GetLogger()}
}

func (f *Fallback) Name() string {
	names := make([]string, 0, len(f.sources))
	for _, s := range f.sources {
		names = append(names, s.Name())
	}
	return strings.Join(names, "|")
}

func (f *Fallback) OptionChain(ctx context.Context) (*models.Chain, error) {
	return try(ctx, f, "option_chain", func(s Source) (*models.Chain, error) { return s.OptionChain(ctx) })
}

func (f *Fallback) IndexQuote(ctx context.Context, name string) (models.Quote, error) {
	return try(ctx, f, "index_quote", func(s Source) (models.Quote, error) { return s.IndexQuote(ctx, name) })
}

func (f *Fallback) EquityQuote(ctx context.Context, symbol string) (models.Quote, error) {
	return try(ctx, f, "equity_quote", func(s Source) (models.Quote, error) { return s.EquityQuote(ctx, symbol) })
}

func try[T any](ctx context.Context, f *Fallback, op string, call func(Source) (T, error)) (T, error) {
	var zero T
	var errs []error
	for i, s := range f.sources {
		if ctx.Err() != nil {
			errs = append(errs, NewFetchError(s.Name(), op, KindTimeout, ctx.Err()))
			break
		}
		start := time.Now()
		v, err := call(s)
		if err == nil {
			if i > 0 {
				f.log.WithComponent("fallback").WithFields(logger.Fields{
					"operation": op,
					"source":    s.Name(),
				}).Info("served by fallback source")
			}
			return v, nil
		}
		if errors.Is(err, ErrNotSupported) {
			continue
		}
		f.log.WithComponent("fallback").WithError(err).WithFields(logger.Fields{
			"operation":   op,
			"source":      s.Name(),
			"kind":        string(KindOf(err)),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Warn("source failed")
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return zero, fmt.Errorf("%s: %w", op, ErrNotSupported)
	}
	return zero, fmt.Errorf("%w: %w", ErrSourcesExhausted, errors.Join(errs...))
}
