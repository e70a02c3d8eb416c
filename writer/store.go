package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"atmflow/logger"
	"atmflow/models"
)

// ErrRolloverMismatch marks a persisted series whose last entry belongs to a
// different day than the one requested.
var ErrRolloverMismatch = errors.New("persisted series belongs to another day")

// Layout selects how days map onto objects.
type Layout string

const (
	// LayoutDaily keeps one object per day: <prefix>_<date>.csv.
	LayoutDaily Layout = "daily"
	// LayoutRolling keeps a single object truncated at each new day: <prefix>.csv.
	LayoutRolling Layout = "rolling"
)

// Archiver receives the rows of a series that is being rolled over.
type Archiver interface {
	Archive(ctx context.Context, table, date string, rows []ArchiveRow) error
}

// StoreOptions configures a Store.
type StoreOptions[R Record] struct {
	Name     string
	Prefix   string
	Layout   Layout
	Backend  Backend
	Codec    Codec[R]
	Archiver Archiver
}

// Store owns the in-memory series of one tracker and its persisted object.
// It is not safe for concurrent use; the tick goroutine is its only user.
type Store[R Record] struct {
	name     string
	prefix   string
	layout   Layout
	backend  Backend
	codec    Codec[R]
	archiver Archiver

	series *Series[R]
	dirty  bool
	log    *logger.Log
}

func NewStore[R Record](opts StoreOptions[R]) (*Store[R], error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("store %s: nil backend", opts.Name)
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("store %s: nil codec", opts.Name)
	}
	if opts.Layout == "" {
		opts.Layout = LayoutDaily
	}
	if opts.Prefix == "" {
		opts.Prefix = opts.Name
	}
	return &Store[R]{
		name:     opts.Name,
		prefix:   opts.Prefix,
		layout:   opts.Layout,
		backend:  opts.Backend,
		codec:    opts.Codec,
		archiver: opts.Archiver,
		log:      logger.GetLogger(),
	}, nil
}

// ObjectName is the backend object holding date's series.
func (s *Store[R]) ObjectName(date string) string {
	if s.layout == LayoutRolling {
		return s.prefix + ".csv"
	}
	return fmt.Sprintf("%s_%s.csv", s.prefix, date)
}

// Series returns the current in-memory series, or nil before Load/Append.
func (s *Store[R]) Series() *Series[R] { return s.series }

// Load reads date's persisted series. A missing object yields an empty
// series. When the last persisted entry is from another day the stale rows
// are archived and the series starts empty. A decode failure also leaves an
// empty series in place and is returned to the caller.
func (s *Store[R]) Load(ctx context.Context, date string) (*Series[R], error) {
	entry := s.log.WithComponent("series_store").WithFields(logger.Fields{
		"tracker": s.name,
		"date":    date,
		"object":  s.ObjectName(date),
	})

	s.series = NewSeries[R](date)
	s.dirty = false

	data, err := s.backend.Read(ctx, s.ObjectName(date))
	if errors.Is(err, ErrNotExist) {
		entry.Debug("no persisted series, starting empty")
		return s.series, nil
	}
	if err != nil {
		return s.series, fmt.Errorf("load %s: %w", s.ObjectName(date), err)
	}

	records, err := s.codec.Decode(data, date)
	if err != nil {
		return s.series, fmt.Errorf("load %s: %w", s.ObjectName(date), err)
	}
	if len(records) == 0 {
		return s.series, nil
	}

	last := records[len(records)-1]
	if last.Day() != date {
		entry.WithFields(logger.Fields{
			"persisted_date": last.Day(),
			"rows":           len(records),
		}).Info(ErrRolloverMismatch.Error())
		s.archive(ctx, last.Day(), records)
		return s.series, nil
	}

	s.series = seriesOf(date, records)
	entry.WithFields(logger.Fields{"rows": len(records)}).Info("series loaded")
	return s.series, nil
}

// Append applies the dedup and rollover rules. A record for a new day first
// flushes and archives the old day, then starts a fresh series. It reports
// whether r was added.
func (s *Store[R]) Append(ctx context.Context, r R) bool {
	if s.series == nil {
		s.series = NewSeries[R](r.Day())
	}
	if r.Day() != s.series.Date() {
		s.rollover(ctx, r.Day())
	}
	if !s.series.Append(r) {
		return false
	}
	s.dirty = true
	logger.IncrementAppend()
	return true
}

func (s *Store[R]) rollover(ctx context.Context, day string) {
	old := s.series
	entry := s.log.WithComponent("series_store").WithFields(logger.Fields{
		"tracker":  s.name,
		"old_date": old.Date(),
		"new_date": day,
		"rows":     old.Len(),
	})
	if s.dirty {
		if err := s.Persist(ctx); err != nil {
			entry.WithError(err).Warn("failed to flush series before rollover")
		}
	}
	if old.Len() > 0 {
		s.archive(ctx, old.Date(), old.Entries())
	}
	s.series = NewSeries[R](day)
	s.dirty = false
	entry.Info("series rolled over")
}

// Persist overwrites the object for the current day with the whole series.
func (s *Store[R]) Persist(ctx context.Context) error {
	if s.series == nil {
		return nil
	}
	start := time.Now()
	data, err := s.codec.Encode(s.series.entries)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.name, err)
	}
	name := s.ObjectName(s.series.Date())
	if err := s.backend.Write(ctx, name, data); err != nil {
		return fmt.Errorf("persist %s: %w", name, err)
	}
	s.dirty = false
	logger.RecordPersist(len(data))
	logger.LogPerformanceEntry(s.log.WithFields(logger.Fields{
		"tracker": s.name,
		"object":  name,
		"rows":    s.series.Len(),
		"bytes":   len(data),
	}), "series_store", "persist", time.Since(start), nil)
	return nil
}

// Export returns the persisted bytes of date's object. It only touches the
// backend, so it may be called outside the tick goroutine.
func (s *Store[R]) Export(ctx context.Context, date string) (string, []byte, error) {
	name := s.ObjectName(date)
	data, err := s.backend.Read(ctx, name)
	if err != nil {
		return name, nil, fmt.Errorf("export %s: %w", name, err)
	}
	return name, data, nil
}

// Dirty reports whether appended records are not yet persisted.
func (s *Store[R]) Dirty() bool { return s.dirty }

func (s *Store[R]) archive(ctx context.Context, date string, records []R) {
	if s.archiver == nil || len(records) == 0 {
		return
	}
	rows := Flatten(s.name, records)
	if len(rows) == 0 {
		return
	}
	if err := s.archiver.Archive(ctx, s.prefix, date, rows); err != nil {
		s.log.WithComponent("series_store").WithError(err).WithFields(logger.Fields{
			"tracker": s.name,
			"date":    date,
		}).Warn("failed to archive series")
	}
}

type metricRecord interface {
	Metrics() []models.SeriesMetric
}

// Flatten turns records that expose metrics into long-format archive rows.
func Flatten[R Record](tracker string, records []R) []ArchiveRow {
	var rows []ArchiveRow
	for _, r := range records {
		m, ok := any(r).(metricRecord)
		if !ok {
			continue
		}
		for _, metric := range m.Metrics() {
			row := ArchiveRow{
				Tracker: tracker,
				Date:    r.Day(),
				Time:    r.Bucket(),
				Strike:  metric.Strike,
				Metric:  metric.Name,
			}
			if metric.Value.Valid {
				v := metric.Value.Decimal.InexactFloat64()
				row.Value = &v
			}
			rows = append(rows, row)
		}
	}
	return rows
}
