package observe

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics implements Metrics on top of prometheus counter vectors.
// Counters are created lazily per metric name; label keys are fixed on first
// use of a name, so callers must pass the same label set for a given metric.
type PromMetrics struct {
	reg prometheus.Registerer

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
}

// NewPromMetrics builds a PromMetrics registering into reg
// (prometheus.DefaultRegisterer when nil).
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PromMetrics{
		reg:      reg,
		counters: make(map[string]*prometheus.CounterVec),
	}
}

// Increment adds value to the counter identified by name and labels.
func (p *PromMetrics) Increment(name string, value float64, labels map[string]string) {
	if p == nil || name == "" {
		return
	}
	if value <= 0 {
		value = 1
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name,
			Help: "Courier counter " + name,
		}, keys)
		if err := p.reg.Register(vec); err != nil {
			if are, isDup := err.(prometheus.AlreadyRegisteredError); isDup {
				vec = are.ExistingCollector.(*prometheus.CounterVec)
			}
		}
		p.counters[name] = vec
	}
	p.mu.Unlock()

	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = labels[k]
	}
	vec.WithLabelValues(values...).Add(value)
}
