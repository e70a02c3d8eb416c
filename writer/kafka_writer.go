package writer

import (
	"context"
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"
	kafka "github.com/segmentio/kafka-go"

	appconfig "atmflow/config"
	"atmflow/logger"
	"atmflow/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// messageWriter is the part of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter publishes every appended record as JSON, keyed by tracker.
type KafkaWriter struct {
	events  <-chan models.TickEvent
	writer  messageWriter
	topic   string
	ctx     context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	mu      sync.Mutex
	running bool
	log     *logger.Log
}

func NewKafkaWriter(cfg appconfig.KafkaConfig, events <-chan models.TickEvent) (*KafkaWriter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if events == nil {
		return nil, fmt.Errorf("nil event channel provided")
	}
	kw := newKafkaWriter(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}, cfg.Topic, events)
	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Debug("kafka writer initialized")
	return kw, nil
}

func newKafkaWriter(w messageWriter, topic string, events <-chan models.TickEvent) *KafkaWriter {
	return &KafkaWriter{
		events: events,
		writer: w,
		topic:  topic,
		wg:     &sync.WaitGroup{},
		log:    logger.GetLogger(),
	}
}

func (kw *KafkaWriter) Start(ctx context.Context) error {
	kw.mu.Lock()
	if kw.running {
		kw.mu.Unlock()
		return fmt.Errorf("kafka writer already running")
	}
	kw.running = true
	kw.ctx, kw.cancel = context.WithCancel(ctx)
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Info("starting kafka writer")

	kw.wg.Add(1)
	go kw.run()

	return nil
}

func (kw *KafkaWriter) run() {
	defer kw.wg.Done()

	for {
		select {
		case <-kw.ctx.Done():
			return
		case ev, ok := <-kw.events:
			if !ok {
				return
			}
			if !ev.Appended || ev.Record == nil {
				continue
			}
			kw.publish(ev)
		}
	}
}

func (kw *KafkaWriter) publish(ev models.TickEvent) {
	entry := kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"tracker": ev.Tracker,
		"topic":   kw.topic,
	})
	data, err := json.Marshal(ev)
	if err != nil {
		entry.WithError(err).Warn("failed to marshal record")
		return
	}
	msg := kafka.Message{
		Key:   []byte(ev.Tracker),
		Value: data,
		Headers: []kafka.Header{
			{Key: "variant", Value: []byte(ev.Variant)},
			{Key: "session", Value: []byte(ev.SessionID)},
		},
		Time: ev.Timestamp,
	}
	if err := kw.writer.WriteMessages(kw.ctx, msg); err != nil {
		entry.WithError(err).Warn("failed to write message")
		return
	}
	entry.Debug("record written to kafka")
}

func (kw *KafkaWriter) Stop() {
	kw.mu.Lock()
	if !kw.running {
		kw.mu.Unlock()
		return
	}
	kw.running = false
	cancel := kw.cancel
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("stopping kafka writer")
	if cancel != nil {
		cancel()
	}
	kw.wg.Wait()
	if err := kw.writer.Close(); err != nil {
		kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to close kafka writer")
	}
	kw.log.WithComponent("kafka_writer").Info("kafka writer stopped")
}
