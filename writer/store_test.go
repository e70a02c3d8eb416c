package writer

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"atmflow/models"
)

type memBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  string
}

func newMemBackend() *memBackend {
	return &memBackend{objects: make(map[string][]byte)}
}

func (m *memBackend) Kind() string { return "mem" }

func (m *memBackend) Read(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[name]
	if !ok {
		return nil, ErrNotExist
	}
	return append([]byte(nil), b...), nil
}

func (m *memBackend) Write(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && name == m.failOn {
		return errors.New("write refused")
	}
	m.objects[name] = append([]byte(nil), data...)
	return nil
}

type recordingArchiver struct {
	calls []archiveCall
}

type archiveCall struct {
	table, date string
	rows        []ArchiveRow
}

func (a *recordingArchiver) Archive(_ context.Context, table, date string, rows []ArchiveRow) error {
	a.calls = append(a.calls, archiveCall{table, date, rows})
	return nil
}

func oiStore(t *testing.T, backend Backend, layout Layout, archiver Archiver) *Store[models.OIRecord] {
	t.Helper()
	s, err := NewStore(StoreOptions[models.OIRecord]{
		Name:     "nifty_oi",
		Prefix:   "oi_history_change",
		Layout:   layout,
		Backend:  backend,
		Codec:    OICodec{IncludeTotals: true},
		Archiver: archiver,
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestStoreAppendDedupsBuckets(t *testing.T) {
	ctx := context.Background()
	s := oiStore(t, newMemBackend(), LayoutDaily, nil)
	if _, err := s.Load(ctx, "2025-11-20"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !s.Append(ctx, models.OIRecord{Date: "2025-11-20", Time: "10:00", CEChange: 1}) {
		t.Fatal("first record should append")
	}
	if s.Append(ctx, models.OIRecord{Date: "2025-11-20", Time: "10:00", CEChange: 2}) {
		t.Fatal("same bucket should be skipped")
	}
	if !s.Append(ctx, models.OIRecord{Date: "2025-11-20", Time: "10:01", CEChange: 3}) {
		t.Fatal("next bucket should append")
	}
	if got := s.Series().Len(); got != 2 {
		t.Fatalf("series length = %d, want 2", got)
	}
	last, _ := s.Series().Last()
	if last.CEChange != 3 {
		t.Fatalf("unexpected last record %+v", last)
	}
}

func TestStoreRejectsEarlierBucket(t *testing.T) {
	ctx := context.Background()
	s := oiStore(t, newMemBackend(), LayoutDaily, nil)
	s.Append(ctx, models.OIRecord{Date: "2025-11-20", Time: "10:05"})
	if s.Append(ctx, models.OIRecord{Date: "2025-11-20", Time: "10:04"}) {
		t.Fatal("earlier bucket must not append")
	}
}

func TestStoreLoadStaleSeriesStartsEmpty(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	archiver := &recordingArchiver{}

	yesterday := oiStore(t, backend, LayoutRolling, nil)
	yesterday.Append(ctx, models.OIRecord{Date: "2025-11-19", Time: "15:29", CEChange: 10, PEChange: 20})
	yesterday.Append(ctx, models.OIRecord{Date: "2025-11-19", Time: "15:30", CEChange: 11, PEChange: 21})
	if err := yesterday.Persist(ctx); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	today := oiStore(t, backend, LayoutRolling, archiver)
	series, err := today.Load(ctx, "2025-11-20")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if series.Len() != 0 || series.Date() != "2025-11-20" {
		t.Fatalf("expected empty series for today, got %d rows dated %s", series.Len(), series.Date())
	}
	if len(archiver.calls) != 1 || archiver.calls[0].date != "2025-11-19" {
		t.Fatalf("stale rows not archived: %+v", archiver.calls)
	}
	if got := len(archiver.calls[0].rows); got != 8 {
		t.Fatalf("archived %d metric rows, want 8", got)
	}
}

func TestStoreLoadMissingObject(t *testing.T) {
	s := oiStore(t, newMemBackend(), LayoutDaily, nil)
	series, err := s.Load(context.Background(), "2025-11-20")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if series.Len() != 0 {
		t.Fatalf("expected empty series, got %d", series.Len())
	}
}

func TestStoreLoadCorruptObject(t *testing.T) {
	backend := newMemBackend()
	backend.objects["oi_history_change_2025-11-20.csv"] = []byte("date,time,CE_change\n2025-11-20,10:00,abc\n")
	s := oiStore(t, backend, LayoutDaily, nil)
	series, err := s.Load(context.Background(), "2025-11-20")
	if err == nil {
		t.Fatal("expected decode error")
	}
	if series == nil || series.Len() != 0 {
		t.Fatal("corrupt object should leave an empty series")
	}
}

func TestStorePersistLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	s := oiStore(t, backend, LayoutDaily, nil)
	s.Append(ctx, models.OIRecord{Date: "2025-11-20", Time: "09:15", CEChange: -5, PEChange: 7, CEOITotal: 100, PEOITotal: 200})
	s.Append(ctx, models.OIRecord{Date: "2025-11-20", Time: "09:16", CEChange: 3, PEChange: 9, CEOITotal: 110, PEOITotal: 210})
	if err := s.Persist(ctx); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	first := append([]byte(nil), backend.objects["oi_history_change_2025-11-20.csv"]...)

	again := oiStore(t, backend, LayoutDaily, nil)
	series, err := again.Load(ctx, "2025-11-20")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(series.Entries(), s.Series().Entries()) {
		t.Fatalf("loaded %+v, want %+v", series.Entries(), s.Series().Entries())
	}
	if err := again.Persist(ctx); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if string(backend.objects["oi_history_change_2025-11-20.csv"]) != string(first) {
		t.Fatalf("round trip changed the object:\n%s\nvs\n%s", backend.objects["oi_history_change_2025-11-20.csv"], first)
	}
}

func TestStoreAppendRollsOverToNewDay(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	archiver := &recordingArchiver{}
	s := oiStore(t, backend, LayoutDaily, archiver)

	s.Append(ctx, models.OIRecord{Date: "2025-11-20", Time: "15:30", CEChange: 1})
	if !s.Dirty() {
		t.Fatal("store should be dirty after append")
	}
	if !s.Append(ctx, models.OIRecord{Date: "2025-11-21", Time: "09:15", CEChange: 2}) {
		t.Fatal("first record of the new day should append")
	}

	if s.Series().Date() != "2025-11-21" || s.Series().Len() != 1 {
		t.Fatalf("unexpected series after rollover: %s/%d", s.Series().Date(), s.Series().Len())
	}
	if _, ok := backend.objects["oi_history_change_2025-11-20.csv"]; !ok {
		t.Fatal("old day should be flushed before rollover")
	}
	if len(archiver.calls) != 1 || archiver.calls[0].table != "oi_history_change" {
		t.Fatalf("old day not archived: %+v", archiver.calls)
	}
}

func TestStoreMomentumSeriesRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	s, err := NewStore(StoreOptions[models.MomentumRecord]{
		Name:    "momentum",
		Backend: backend,
		Codec:   MomentumCodec{},
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s.Append(ctx, models.MomentumRecord{Date: "2025-11-20", Time: "09:20", SpotDelta: decimal.RequireFromString("12.5"), CEDelta: decimal.NewFromInt(4), PEDelta: decimal.NewFromInt(-3)})
	if err := s.Persist(ctx); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if _, ok := backend.objects["momentum_2025-11-20.csv"]; !ok {
		t.Fatalf("unexpected objects %v", backend.objects)
	}

	series, err := s.Load(ctx, "2025-11-20")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	last, ok := series.Last()
	if !ok || last.Date != "2025-11-20" || !last.SpotDelta.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("unexpected record %+v", last)
	}
}

func TestStorePersistError(t *testing.T) {
	backend := newMemBackend()
	backend.failOn = "oi_history_change_2025-11-20.csv"
	s := oiStore(t, backend, LayoutDaily, nil)
	s.Append(context.Background(), models.OIRecord{Date: "2025-11-20", Time: "10:00"})
	if err := s.Persist(context.Background()); err == nil {
		t.Fatal("expected persist error")
	}
	if !s.Dirty() {
		t.Fatal("failed persist must keep the store dirty")
	}
}
