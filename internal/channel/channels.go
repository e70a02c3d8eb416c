package channel

import (
	"context"
	"sort"
	"sync"
	"time"

	"atmflow/logger"
	"atmflow/models"
)

type ChannelStats struct {
	Sent    int64
	Dropped int64
}

type subscriber struct {
	ch    chan models.TickEvent
	stats ChannelStats
}

// Channels fans tick events out to named subscribers. Publishing never
// blocks: a subscriber whose buffer is full loses the event and the drop is
// counted.
type Channels struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	buffer int
	closed bool
	onDrop func(subscriber string)

	log                 *logger.Log
	metricsReportTicker *time.Ticker
}

func NewChannels(bufferSize int, onDrop func(subscriber string)) *Channels {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	log := logger.GetLogger()
	c := &Channels{
		subs:   make(map[string]*subscriber),
		buffer: bufferSize,
		onDrop: onDrop,
		log:    log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"event_buffer_size": bufferSize,
	}).Info("event channels initialized")

	return c
}

// Subscribe registers name and returns its event stream. Subscribing an
// existing name returns the existing stream.
func (c *Channels) Subscribe(name string) <-chan models.TickEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.subs[name]; ok {
		return s.ch
	}
	s := &subscriber{ch: make(chan models.TickEvent, c.buffer)}
	if c.closed {
		close(s.ch)
		return s.ch
	}
	c.subs[name] = s
	return s.ch
}

// Unsubscribe removes name and closes its stream.
func (c *Channels) Unsubscribe(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.subs[name]; ok {
		delete(c.subs, name)
		close(s.ch)
	}
}

// Publish offers ev to every subscriber and returns how many accepted it.
func (c *Channels) Publish(ctx context.Context, ev models.TickEvent) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	delivered := 0
	var dropped []string
	for name, s := range c.subs {
		select {
		case s.ch <- ev:
			s.stats.Sent++
			delivered++
		case <-ctx.Done():
			return delivered
		default:
			s.stats.Dropped++
			dropped = append(dropped, name)
		}
	}
	for _, name := range dropped {
		if c.onDrop != nil {
			c.onDrop(name)
		}
		c.log.WithComponent("channels").WithFields(logger.Fields{
			"subscriber": name,
			"tracker":    ev.Tracker,
		}).Warn("subscriber buffer full, dropping event")
	}
	return delivered
}

func (c *Channels) GetStats() map[string]ChannelStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]ChannelStats, len(c.subs))
	for name, s := range c.subs {
		out[name] = s.stats
	}
	return out
}

// Occupancy reports buffered events per subscriber.
func (c *Channels) Occupancy() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int, len(c.subs))
	for name, s := range c.subs {
		out[name] = len(s.ch)
	}
	return out
}

func (c *Channels) Capacity() int { return c.buffer }

func (c *Channels) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c.metricsReportTicker = time.NewTicker(interval)
	ticker := c.metricsReportTicker

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.logChannelStats()
			}
		}
	}()
}

func (c *Channels) logChannelStats() {
	stats := c.GetStats()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := logger.Fields{"subscribers": len(names)}
	for _, name := range names {
		fields[name+"_sent"] = stats[name].Sent
		fields[name+"_dropped"] = stats[name].Dropped
	}
	c.log.WithComponent("channels").WithFields(fields).Info("channel statistics")
}

// Close closes every subscriber stream. Later subscriptions get a closed
// stream.
func (c *Channels) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for name, s := range c.subs {
		close(s.ch)
		delete(c.subs, name)
	}
	c.log.WithComponent("channels").Info("all channels closed")
}
