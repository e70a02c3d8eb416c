package metrics

import (
	"context"
	"time"

	"atmflow/internal/channel"
	"atmflow/logger"
)

// StartChannelSizeMetrics samples subscriber buffer occupancy every interval
// until ctx is cancelled. A non-positive interval means one second.
func StartChannelSizeMetrics(ctx context.Context, channels *channel.Channels, interval time.Duration) {
	if channels == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reportChannelSizes(log, channels)
			}
		}
	}()
}

func reportChannelSizes(log *logger.Log, channels *channel.Channels) {
	capacity := channels.Capacity()
	for name, n := range channels.Occupancy() {
		SetEventBuffer(name, n)
		EmitMetric(log, "channel_buffers", "event_buffer_length", n, "gauge", logger.Fields{
			"subscriber": name,
			"capacity":   capacity,
		})
	}
}
