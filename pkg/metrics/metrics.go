package metrics

import (
	"sync"
	"time"
)

const maxObservations = 100

// MetricsCollector is a small in-process registry of counters and latency
// observations, served as JSON on /metrics. Not a time series: latencies
// keep a sliding window of recent observations per name.
type MetricsCollector struct {
	counters  map[string]map[string]int64
	latencies map[string][]time.Duration
	mutex     sync.RWMutex
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:  make(map[string]map[string]int64),
		latencies: make(map[string][]time.Duration),
	}
}

func (mc *MetricsCollector) IncrementCounter(name string, labels map[string]string) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	labelKey := "default"
	for k, v := range labels {
		labelKey = k + ":" + v
		break
	}

	if _, exists := mc.counters[name]; !exists {
		mc.counters[name] = make(map[string]int64)
	}

	mc.counters[name][labelKey]++
}

func (mc *MetricsCollector) ObserveLatency(name string, duration time.Duration) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	mc.latencies[name] = append(mc.latencies[name], duration)

	if len(mc.latencies[name]) > maxObservations {
		mc.latencies[name] = mc.latencies[name][len(mc.latencies[name])-maxObservations:]
	}
}

func (mc *MetricsCollector) GetCounters() map[string]map[string]int64 {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	counters := make(map[string]map[string]int64)
	for name, labels := range mc.counters {
		counters[name] = make(map[string]int64)
		for label, value := range labels {
			counters[name][label] = value
		}
	}

	return counters
}

func (mc *MetricsCollector) GetLatencies() map[string]map[string]float64 {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	result := make(map[string]map[string]float64)

	for name, durations := range mc.latencies {
		if len(durations) == 0 {
			continue
		}

		var sum time.Duration
		var max time.Duration
		for _, d := range durations {
			sum += d
			if d > max {
				max = d
			}
		}

		result[name] = map[string]float64{
			"avg_ms": float64(sum) / float64(len(durations)) / float64(time.Millisecond),
			"max_ms": float64(max) / float64(time.Millisecond),
		}
	}

	return result
}
