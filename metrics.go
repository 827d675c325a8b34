package ratelimit

// MetricsRecorder receives counters and timing observations from the limiter.
// Users can plug in their own metrics backend (statsd, Prometheus, etc.).
type MetricsRecorder interface {
	// Add increments a counter by value.
	Add(name string, value float64, tags map[string]string)
	// Observe records a single measurement, e.g. a latency in seconds.
	Observe(name string, value float64, tags map[string]string)
}

// NoopMetrics returns the default recorder, which discards everything.
func NoopMetrics() MetricsRecorder { return noopMetrics{} }

// noopMetrics is the default recorder; it discards everything.
type noopMetrics struct{}

func (noopMetrics) Add(name string, value float64, tags map[string]string)     {}
func (noopMetrics) Observe(name string, value float64, tags map[string]string) {}
