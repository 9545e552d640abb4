// Package metrics is a small Prometheus-compatible collector for wabridge.
// It renders text/plain exposition format without pulling in
// prometheus/client_golang.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default is the process-wide registry.
var Default = NewRegistry()

// Registry aggregates counters and histograms.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	histograms map[string]*Histogram
	help       map[string]string
	startTime  time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		histograms: make(map[string]*Histogram),
		help:       make(map[string]string),
		startTime:  time.Now(),
	}
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Counter returns (creating on first use) the counter for name with the given
// label pairs ("key", "value", ...).
func (r *Registry) Counter(name, help string, labelPairs ...string) *Counter {
	labels := renderLabels(labelPairs)
	key := name + labels

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[key]; ok {
		return c
	}
	c := &Counter{name: name, labels: labels}
	r.counters[key] = c
	if _, ok := r.help[name]; !ok {
		r.help[name] = help
	}
	return c
}

// Histogram tracks a distribution over fixed buckets (seconds).
type Histogram struct {
	name    string
	labels  string
	mu      sync.Mutex
	bounds  []float64
	buckets []int64
	sum     float64
	count   int64
}

var defaultBounds = []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.bounds {
		if v <= b {
			h.buckets[i]++
		}
	}
	h.sum += v
	h.count++
}

// Histogram returns (creating on first use) the histogram for name.
func (r *Registry) Histogram(name, help string, labelPairs ...string) *Histogram {
	labels := renderLabels(labelPairs)
	key := name + labels

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[key]; ok {
		return h
	}
	h := &Histogram{
		name:    name,
		labels:  labels,
		bounds:  defaultBounds,
		buckets: make([]int64, len(defaultBounds)),
	}
	r.histograms[key] = h
	if _, ok := r.help[name]; !ok {
		r.help[name] = help
	}
	return h
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprint(w, r.render())
	})
}

func (r *Registry) render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sb strings.Builder

	var counterKeys []string
	for k := range r.counters {
		counterKeys = append(counterKeys, k)
	}
	sort.Strings(counterKeys)
	seen := make(map[string]bool)
	for _, k := range counterKeys {
		c := r.counters[k]
		if !seen[c.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n", c.name, r.help[c.name], c.name)
			seen[c.name] = true
		}
		fmt.Fprintf(&sb, "%s%s %d\n", c.name, c.labels, c.Value())
	}

	var histKeys []string
	for k := range r.histograms {
		histKeys = append(histKeys, k)
	}
	sort.Strings(histKeys)
	for _, k := range histKeys {
		h := r.histograms[k]
		if !seen[h.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, r.help[h.name], h.name)
			seen[h.name] = true
		}
		h.mu.Lock()
		for i, b := range h.bounds {
			fmt.Fprintf(&sb, "%s_bucket%s %d\n", h.name, mergeLabel(h.labels, "le", fmt.Sprintf("%g", b)), h.buckets[i])
		}
		fmt.Fprintf(&sb, "%s_bucket%s %d\n", h.name, mergeLabel(h.labels, "le", "+Inf"), h.count)
		fmt.Fprintf(&sb, "%s_sum%s %g\n", h.name, h.labels, h.sum)
		fmt.Fprintf(&sb, "%s_count%s %d\n", h.name, h.labels, h.count)
		h.mu.Unlock()
	}

	fmt.Fprintf(&sb, "# HELP wabridge_uptime_seconds Process uptime.\n# TYPE wabridge_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "wabridge_uptime_seconds %g\n", time.Since(r.startTime).Seconds())

	return sb.String()
}

func renderLabels(pairs []string) string {
	if len(pairs) == 0 {
		return ""
	}
	var parts []string
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, fmt.Sprintf("%s=%q", pairs[i], pairs[i+1]))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}

func mergeLabel(labels, key, value string) string {
	extra := fmt.Sprintf("%s=%q", key, value)
	if labels == "" {
		return "{" + extra + "}"
	}
	return strings.TrimSuffix(labels, "}") + "," + extra + "}"
}
