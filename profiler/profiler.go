// Package profiler accumulates per-stage timings and sampled metrics of the
// frame loop.
package profiler

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Timing summarises the durations recorded for one operation.
type Timing struct {
	Name  string
	Count int64
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
}

// Mean returns the average duration, or 0 without samples.
func (t Timing) Mean() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.Total / time.Duration(t.Count)
}

// Metric summarises the values recorded for one metric.
type Metric struct {
	Name  string
	Count int64
	Sum   float64
	Min   float64
	Max   float64
}

// Mean returns the average value, or 0 without samples.
func (m Metric) Mean() float64 {
	if m.Count == 0 {
		return 0
	}
	return m.Sum / float64(m.Count)
}

// Profiler records operation durations and metric samples. It is safe for
// concurrent use. The zero value is not usable; call New.
type Profiler struct {
	mu      sync.Mutex
	start   time.Time
	order   []string
	timings map[string]*Timing
	metrics map[string]*Metric
	names   []string
}

// New returns an empty profiler.
func New() *Profiler {
	return &Profiler{
		start:   time.Now(),
		timings: make(map[string]*Timing),
		metrics: make(map[string]*Metric),
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
//   - name: The name of the operation to track.
//
// Returns:
//   - A function to call when the operation completes.
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.RecordOperation(name, time.Since(start))
	}
}

// RecordOperation adds one duration sample to name.
func (p *Profiler) RecordOperation(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.timings[name]
	if !ok {
		t = &Timing{Name: name, Min: d, Max: d}
		p.timings[name] = t
		p.order = append(p.order, name)
	}
	t.Count++
	t.Total += d
	t.Min = min(t.Min, d)
	t.Max = max(t.Max, d)
}

// RecordMetric adds one value sample to name.
func (p *Profiler) RecordMetric(name string, v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.metrics[name]
	if !ok {
		m = &Metric{Name: name, Min: v, Max: v}
		p.metrics[name] = m
		p.names = append(p.names, name)
	}
	m.Count++
	m.Sum += v
	m.Min = min(m.Min, v)
	m.Max = max(m.Max, v)
}

// Timings returns the operation timings in order of first use.
func (p *Profiler) Timings() []Timing {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Timing, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, *p.timings[name])
	}
	return out
}

// Metrics returns the metrics in order of first use.
func (p *Profiler) Metrics() []Metric {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Metric, 0, len(p.names))
	for _, name := range p.names {
		out = append(out, *p.metrics[name])
	}
	return out
}

// Report logs every timing and metric at debug level.
func (p *Profiler) Report(log *zap.SugaredLogger) {
	log.Debugw("profile", "uptime", time.Since(p.start).Truncate(time.Millisecond))
	for _, t := range p.Timings() {
		log.Debugw("operation timing",
			"operation", t.Name,
			"count", t.Count,
			"avg", t.Mean().Truncate(time.Microsecond),
			"min", t.Min.Truncate(time.Microsecond),
			"max", t.Max.Truncate(time.Microsecond),
		)
	}
	for _, m := range p.Metrics() {
		log.Debugw("metric",
			"metric", m.Name,
			"samples", m.Count,
			"avg", m.Mean(),
			"min", m.Min,
			"max", m.Max,
		)
	}
}
