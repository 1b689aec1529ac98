// Package metrics is a small process-wide metrics registry: counters,
// gauges and bucketed histograms keyed by name plus a stable label set.
// Every component writes into it concurrently; readers take snapshots.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Counter is a monotonically increasing value.
type Counter struct {
	bits atomic.Uint64
}

func (c *Counter) Inc() { c.Add(1) }

func (c *Counter) Add(v float64) {
	if v < 0 {
		return
	}
	for {
		old := c.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if c.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (c *Counter) Value() float64 {
	return math.Float64frombits(c.bits.Load())
}

// Gauge is a value that can move in both directions.
type Gauge struct {
	bits atomic.Uint64
}

func (g *Gauge) Set(v float64) {
	g.bits.Store(math.Float64bits(v))
}

func (g *Gauge) Add(v float64) {
	for {
		old := g.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if g.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (g *Gauge) Sub(v float64) { g.Add(-v) }

func (g *Gauge) Value() float64 {
	return math.Float64frombits(g.bits.Load())
}

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	mu      sync.Mutex
	bounds  []float64
	counts  []uint64
	sum     float64
	samples uint64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.samples++
	for i, b := range h.bounds {
		if v <= b {
			h.counts[i]++
		}
	}
}

// HistogramSnapshot is a point-in-time copy of a histogram.
type HistogramSnapshot struct {
	Bounds  []float64 `json:"bounds"`
	Counts  []uint64  `json:"counts"`
	Sum     float64   `json:"sum"`
	Samples uint64    `json:"samples"`
}

func (h *Histogram) snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := HistogramSnapshot{
		Bounds:  append([]float64(nil), h.bounds...),
		Counts:  append([]uint64(nil), h.counts...),
		Sum:     h.sum,
		Samples: h.samples,
	}
	return s
}

// Labels is an immutable-by-convention label set; distinct label sets
// produce distinct series under the same metric name.
type Labels map[string]string

func seriesKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		fmt.Fprintf(&b, ",%s=%s", k, labels[k])
	}
	return b.String()
}

// DefaultTimeBuckets suits millisecond latencies from a few ms to a minute.
var DefaultTimeBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000}

// Registry holds all series. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	labels     map[string]Labels
	names      map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		labels:     make(map[string]Labels),
		names:      make(map[string]string),
	}
}

func (r *Registry) Counter(name string, labels Labels) *Counter {
	key := seriesKey(name, labels)
	r.mu.RLock()
	c, ok := r.counters[key]
	r.mu.RUnlock()
	if ok {
		return c
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[key]; ok {
		return c
	}
	c = &Counter{}
	r.counters[key] = c
	r.remember(key, name, labels)
	return c
}

func (r *Registry) Gauge(name string, labels Labels) *Gauge {
	key := seriesKey(name, labels)
	r.mu.RLock()
	g, ok := r.gauges[key]
	r.mu.RUnlock()
	if ok {
		return g
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[key]; ok {
		return g
	}
	g = &Gauge{}
	r.gauges[key] = g
	r.remember(key, name, labels)
	return g
}

func (r *Registry) Histogram(name string, labels Labels, bounds []float64) *Histogram {
	key := seriesKey(name, labels)
	r.mu.RLock()
	h, ok := r.histograms[key]
	r.mu.RUnlock()
	if ok {
		return h
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[key]; ok {
		return h
	}
	if len(bounds) == 0 {
		bounds = DefaultTimeBuckets
	}
	h = &Histogram{
		bounds: append([]float64(nil), bounds...),
		counts: make([]uint64, len(bounds)),
	}
	r.histograms[key] = h
	r.remember(key, name, labels)
	return h
}

func (r *Registry) remember(key, name string, labels Labels) {
	r.names[key] = name
	if len(labels) > 0 {
		cp := make(Labels, len(labels))
		for k, v := range labels {
			cp[k] = v
		}
		r.labels[key] = cp
	}
}

// Series is one entry of a registry snapshot.
type Series struct {
	Name      string             `json:"name"`
	Labels    Labels             `json:"labels,omitempty"`
	Kind      string             `json:"kind"`
	Value     float64            `json:"value,omitempty"`
	Histogram *HistogramSnapshot `json:"histogram,omitempty"`
}

// Snapshot returns all series sorted by name then label key, suitable
// for serving on a metrics endpoint.
func (r *Registry) Snapshot() []Series {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Series, 0, len(r.counters)+len(r.gauges)+len(r.histograms))
	for key, c := range r.counters {
		out = append(out, Series{Name: r.names[key], Labels: r.labels[key], Kind: "counter", Value: c.Value()})
	}
	for key, g := range r.gauges {
		out = append(out, Series{Name: r.names[key], Labels: r.labels[key], Kind: "gauge", Value: g.Value()})
	}
	for key, h := range r.histograms {
		hs := h.snapshot()
		out = append(out, Series{Name: r.names[key], Labels: r.labels[key], Kind: "histogram", Histogram: &hs})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return seriesKey(out[i].Name, out[i].Labels) < seriesKey(out[j].Name, out[j].Labels)
	})
	return out
}
