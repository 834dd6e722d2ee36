package statsd

import "time"

// Sink describes the minimal interface required to emit StatsD-style metrics.
type Sink interface {
	Count(name string, value int64, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
	Timing(name string, value time.Duration, tags map[string]string)
}

// Tee returns a Sink that forwards every emission to each non-nil sink in order.
// With a single sink it returns that sink.
func Tee(sinks ...Sink) Sink {
	var live []Sink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	return tee(live)
}

type tee []Sink

func (t tee) Count(name string, value int64, tags map[string]string) {
	for _, s := range t {
		s.Count(name, value, tags)
	}
}

func (t tee) Gauge(name string, value float64, tags map[string]string) {
	for _, s := range t {
		s.Gauge(name, value, tags)
	}
}

func (t tee) Timing(name string, value time.Duration, tags map[string]string) {
	for _, s := range t {
		s.Timing(name, value, tags)
	}
}
