package runstate

import (
	"time"
)

// itemRecord holds timing data for a processed item.
type itemRecord struct {
	Seq         int
	ProcessedAt time.Time
}

// Metrics holds run throughput data.
type Metrics struct {
	ItemsPerSecond  float64
	AverageItemTime time.Duration
}

// MetricsCollector tracks run throughput over time.
type MetricsCollector struct {
	windowSize int          // number of items to track
	itemTimes  []itemRecord // ring buffer of item records
}

// RecordItem records timing for a processed item.
func (mc *MetricsCollector) RecordItem(seq int, processedAt time.Time) {
	record := itemRecord{
		Seq:         seq,
		ProcessedAt: processedAt,
	}

	if len(mc.itemTimes) >= mc.windowSize {
		copy(mc.itemTimes, mc.itemTimes[1:])
		mc.itemTimes[len(mc.itemTimes)-1] = record
	} else {
		mc.itemTimes = append(mc.itemTimes, record)
	}
}

// GetMetrics returns current metrics over the window.
func (mc *MetricsCollector) GetMetrics() Metrics {
	var m Metrics
	if len(mc.itemTimes) >= 2 {
		first := mc.itemTimes[0]
		last := mc.itemTimes[len(mc.itemTimes)-1]
		duration := last.ProcessedAt.Sub(first.ProcessedAt)

		if duration > 0 {
			itemCount := float64(len(mc.itemTimes) - 1)
			m.ItemsPerSecond = itemCount / duration.Seconds()
			m.AverageItemTime = time.Duration(float64(duration) / itemCount)
		}
	}
	return m
}
