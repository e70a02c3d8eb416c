package dashboard

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"atmflow/internal/metrics"
)

func TestMetricStoreLimit(t *testing.T) {
	store := newMetricStore(2)
	for i := 0; i < 5; i++ {
		store.handle(metrics.Metric{Timestamp: time.Unix(int64(i), 0), Name: "metric", Value: i})
	}

	snapshot := store.snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 metrics in snapshot, got %d", len(snapshot))
	}

	if snapshot[0].Value != 3 || snapshot[1].Value != 4 {
		t.Fatalf("unexpected metrics retained: %#v", snapshot)
	}
}

func TestLogStoreCapturesEntries(t *testing.T) {
	store := newLogStore(3)
	entry := logrus.NewEntry(logrus.New())
	entry.Time = time.Unix(10, 0)
	entry.Level = logrus.WarnLevel
	entry.Message = "warning"
	entry.Data = logrus.Fields{"component": "test", "foo": "bar"}

	if err := store.Fire(entry); err != nil {
		t.Fatalf("store.Fire returned error: %v", err)
	}

	snapshot := store.snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(snapshot))
	}

	if snapshot[0].Component != "test" || snapshot[0].Fields["foo"] != "bar" {
		t.Fatalf("unexpected snapshot data: %#v", snapshot[0])
	}
}

func TestLogStoreRespectsLimitAndClose(t *testing.T) {
	store := newLogStore(2)
	for i := 0; i < 4; i++ {
		entry := logrus.NewEntry(logrus.New())
		entry.Message = "msg"
		entry.Level = logrus.InfoLevel
		entry.Data = logrus.Fields{"index": i}
		if err := store.Fire(entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	snapshot := store.snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 entries after pruning, got %d", len(snapshot))
	}

	store.close()
	entry := logrus.NewEntry(logrus.New())
	entry.Message = "ignored"
	if err := store.Fire(entry); err != nil {
		t.Fatalf("unexpected error after close: %v", err)
	}

	snapshot = store.snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("store accepted entries after close")
	}
}

func TestLogStoreQuery(t *testing.T) {
	store := newLogStore(10)
	fire := func(level logrus.Level, component string) {
		entry := logrus.NewEntry(logrus.New())
		entry.Level = level
		entry.Message = level.String()
		entry.Data = logrus.Fields{"component": component}
		if err := store.Fire(entry); err != nil {
			t.Fatalf("Fire: %v", err)
		}
	}
	fire(logrus.DebugLevel, "engine")
	fire(logrus.InfoLevel, "engine")
	fire(logrus.WarnLevel, "nse_client")
	fire(logrus.ErrorLevel, "engine")

	if got := store.query(logrus.WarnLevel, ""); len(got) != 2 {
		t.Fatalf("warn and above = %d records, want 2", len(got))
	}
	got := store.query(logrus.InfoLevel, "engine")
	if len(got) != 2 || got[0].Level != "info" || got[1].Level != "error" {
		t.Fatalf("engine info and above = %#v", got)
	}
	if got := store.query(logrus.TraceLevel, ""); len(got) != 4 {
		t.Fatalf("all records = %d, want 4", len(got))
	}
}

func TestMetricStoreNamed(t *testing.T) {
	store := newMetricStore(10)
	store.handle(metrics.Metric{Name: "events_dropped", Value: 1})
	store.handle(metrics.Metric{Name: "event_buffer_length", Value: 4})
	store.handle(metrics.Metric{Name: "events_dropped", Value: 2})

	if got := store.named("events_dropped"); len(got) != 2 || got[1].Value != 2 {
		t.Fatalf("named = %#v", got)
	}
	if got := store.named(""); len(got) != 3 {
		t.Fatalf("named(\"\") = %d metrics, want 3", len(got))
	}
}
