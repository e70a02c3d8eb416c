package writer

import (
	"context"
	"sync"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "atmflow/config"
	"atmflow/models"
)

type fakeMessageWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (f *fakeMessageWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeMessageWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeMessageWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestKafkaWriterPublishesAppendedRecords(t *testing.T) {
	events := make(chan models.TickEvent, 4)
	fake := &fakeMessageWriter{}
	kw := newKafkaWriter(fake, "atmflow.records", events)
	if err := kw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	events <- models.TickEvent{Tracker: "nifty_oi", Variant: models.VariantOI, Appended: false, Record: models.OIRecord{}}
	events <- models.TickEvent{Tracker: "nifty_oi", Variant: models.VariantOI, Appended: true, Record: models.OIRecord{Date: "2025-11-20", Time: "10:00"}}

	deadline := time.Now().Add(2 * time.Second)
	for fake.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	kw.Stop()

	if fake.count() != 1 {
		t.Fatalf("expected 1 message, got %d", fake.count())
	}
	if string(fake.msgs[0].Key) != "nifty_oi" {
		t.Fatalf("unexpected key %q", fake.msgs[0].Key)
	}
	if !fake.closed {
		t.Fatal("writer not closed on stop")
	}
}

func TestNewKafkaWriterRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaWriter(appconfig.KafkaConfig{}, make(chan models.TickEvent)); err == nil {
		t.Fatal("expected error without brokers")
	}
}
