package statsd

import (
	"sync"
	"time"
)

// Recorder is an in-memory Sink. The CLI uses it for --metrics=stdout style dumps and
// tests use it to assert emissions.
type Recorder struct {
	mu      sync.Mutex
	metrics []Metric
}

var _ Sink = (*Recorder)(nil)

func (r *Recorder) add(m Metric) {
	m.Tags = cloneTags(m.Tags)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, m)
}

func (r *Recorder) Count(name string, value int64, tags map[string]string) {
	r.add(countMetric(name, value, tags))
}

func (r *Recorder) Gauge(name string, value float64, tags map[string]string) {
	r.add(gaugeMetric(name, value, tags))
}

func (r *Recorder) Timing(name string, value time.Duration, tags map[string]string) {
	r.add(timingMetric(name, value, tags))
}

// Metrics returns a copy of everything recorded so far.
func (r *Recorder) Metrics() []Metric {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Metric(nil), r.metrics...)
}

// Find returns the recorded metrics with the given name.
func (r *Recorder) Find(name string) []Metric {
	var out []Metric
	for _, m := range r.Metrics() {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// Lines renders the recorded metrics in StatsD line format, unprefixed.
func (r *Recorder) Lines() []string {
	ms := r.Metrics()
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		if line := m.Line("", nil); line != "" {
			out = append(out, line)
		}
	}
	return out
}
