// Package metrics is a small process-local registry with Prometheus text
// exposition. Counters and histograms only; unknown metric names are
// dropped silently so instrumentation call sites never fail.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

type histogram struct {
	count   uint64
	sum     float64
	buckets []uint64 // one per boundary, plus +Inf at the end
}

type Registry struct {
	mu         sync.Mutex
	help       map[string]string
	boundaries map[string][]float64 // present iff the metric is a histogram
	counters   map[string]map[string]uint64
	histograms map[string]map[string]*histogram
}

func NewRegistry() *Registry {
	r := &Registry{
		help:       make(map[string]string),
		boundaries: make(map[string][]float64),
		counters:   make(map[string]map[string]uint64),
		histograms: make(map[string]map[string]*histogram),
	}
	r.registerDefaults()
	return r
}

var latencyBuckets = []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000}

func (r *Registry) registerDefaults() {
	r.RegisterCounter("fallwatch_monitor_cycles_total", "Monitor cycles by outcome.")
	r.RegisterHistogram("fallwatch_monitor_cycle_duration_ms", "Monitor cycle duration in milliseconds.", latencyBuckets)
	r.RegisterCounter("fallwatch_inference_requests_total", "Inference calls by status.")
	r.RegisterHistogram("fallwatch_inference_latency_ms", "Inference call latency in milliseconds by status.", latencyBuckets)
	r.RegisterCounter("fallwatch_alerts_total", "Alert deliveries by channel and status.")
	r.RegisterCounter("fallwatch_pull_total", "Model pulls by outcome.")
	r.RegisterCounter("fallwatch_breaker_trips_total", "Circuit breaker force-disarms.")
}

func (r *Registry) RegisterCounter(name, help string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.help[name] = help
}

func (r *Registry) RegisterHistogram(name, help string, buckets []float64) {
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.help[name] = help
	r.boundaries[name] = sorted
}

func (r *Registry) IncCounter(name string, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.help[name]; !ok {
		return
	}
	if _, isHist := r.boundaries[name]; isHist {
		return
	}
	series := r.counters[name]
	if series == nil {
		series = make(map[string]uint64)
		r.counters[name] = series
	}
	series[renderLabels(labels)]++
}

func (r *Registry) ObserveHistogram(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bounds, ok := r.boundaries[name]
	if !ok {
		return
	}
	series := r.histograms[name]
	if series == nil {
		series = make(map[string]*histogram)
		r.histograms[name] = series
	}
	key := renderLabels(labels)
	h := series[key]
	if h == nil {
		h = &histogram{buckets: make([]uint64, len(bounds)+1)}
		series[key] = h
	}
	h.count++
	h.sum += value
	for i, bound := range bounds {
		if value <= bound {
			h.buckets[i]++
		}
	}
	h.buckets[len(bounds)]++
}

// Handler serves the registry in Prometheus text format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.mu.Lock()
		defer r.mu.Unlock()

		var b strings.Builder
		for _, name := range sortedKeys(r.help) {
			bounds, isHist := r.boundaries[name]
			fmt.Fprintf(&b, "# HELP %s %s\n", name, r.help[name])
			if isHist {
				fmt.Fprintf(&b, "# TYPE %s histogram\n", name)
				for _, key := range sortedKeys(r.histograms[name]) {
					h := r.histograms[name][key]
					for i, bound := range bounds {
						fmt.Fprintf(&b, "%s_bucket{%s} %d\n", name, joinLabels(key, fmt.Sprintf(`le="%g"`, bound)), h.buckets[i])
					}
					fmt.Fprintf(&b, "%s_bucket{%s} %d\n", name, joinLabels(key, `le="+Inf"`), h.buckets[len(bounds)])
					fmt.Fprintf(&b, "%s_sum%s %g\n", name, braced(key), h.sum)
					fmt.Fprintf(&b, "%s_count%s %d\n", name, braced(key), h.count)
				}
			} else {
				fmt.Fprintf(&b, "# TYPE %s counter\n", name)
				for _, key := range sortedKeys(r.counters[name]) {
					fmt.Fprintf(&b, "%s%s %d\n", name, braced(key), r.counters[name][key])
				}
			}
		}
		_, _ = w.Write([]byte(b.String()))
	}
}

// renderLabels produces a stable `k="v",...` series key.
func renderLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s=%q`, k, labels[k]))
	}
	return strings.Join(parts, ",")
}

func joinLabels(key, extra string) string {
	if key == "" {
		return extra
	}
	return key + "," + extra
}

func braced(key string) string {
	if key == "" {
		return ""
	}
	return "{" + key + "}"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}
