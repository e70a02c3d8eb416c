package metrics

import "atmflow/logger"

// EmitDropMetric counts one tick event dropped for subscriber.
func EmitDropMetric(log *logger.Log, subscriber string) {
	IncrementEventDropped(subscriber)
	EmitMetric(log, "channel_drops", "events_dropped", 1, "counter", logger.Fields{
		"subscriber": subscriber,
	})
}
