// Package metrics is a small Prometheus text-format registry.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type kind string

const (
	counterKind   kind = "counter"
	gaugeKind     kind = "gauge"
	histogramKind kind = "histogram"
)

type family struct {
	help    string
	kind    kind
	buckets []float64
	series  map[string]*series
}

type series struct {
	labels  map[string]string
	value   float64
	count   uint64
	buckets []uint64
}

type Registry struct {
	mu       sync.RWMutex
	families map[string]*family
}

var latencyBucketsMS = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

func NewRegistry() *Registry {
	r := &Registry{families: make(map[string]*family)}
	r.RegisterCounter("station_intents_total", "Station intents by operation and outcome.")
	r.RegisterCounter("station_countdown_finished_total", "Countdown sessions that ran out of time.")
	r.RegisterGauge("stations_running", "Stations with a running timer at the last tick.")
	r.RegisterCounter("sessions_recorded_total", "Completed sessions appended to history by type.")
	r.RegisterCounter("ledger_forward_total", "Ledger forwards by payload type and status.")
	r.RegisterHistogram("ledger_forward_latency_ms", "Ledger forward latency in milliseconds by payload type.", latencyBucketsMS)
	r.RegisterCounter("snapshot_write_total", "Persistence writes by key and status.")
	r.RegisterCounter("job_runs_total", "Background job runs by job and status.")
	r.RegisterHistogram("job_duration_ms", "Background job duration in milliseconds by job.", latencyBucketsMS)
	return r
}

func (r *Registry) RegisterCounter(name, help string) {
	r.register(name, help, counterKind, nil)
}

func (r *Registry) RegisterGauge(name, help string) {
	r.register(name, help, gaugeKind, nil)
}

func (r *Registry) RegisterHistogram(name, help string, buckets []float64) {
	cp := append([]float64(nil), buckets...)
	sort.Float64s(cp)
	r.register(name, help, histogramKind, cp)
}

func (r *Registry) register(name, help string, k kind, buckets []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.families[name] = &family{help: help, kind: k, buckets: buckets, series: make(map[string]*series)}
}

func (r *Registry) IncCounter(name string, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.seriesFor(name, counterKind, labels); s != nil {
		s.value++
	}
}

func (r *Registry) SetGauge(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.seriesFor(name, gaugeKind, labels); s != nil {
		s.value = value
	}
}

func (r *Registry) ObserveHistogram(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.seriesFor(name, histogramKind, labels)
	if s == nil {
		return
	}
	f := r.families[name]
	i := sort.SearchFloat64s(f.buckets, value)
	s.buckets[i]++
	s.count++
	s.value += value
}

// seriesFor must be called with r.mu held. Unknown names and kind mismatches
// are dropped.
func (r *Registry) seriesFor(name string, k kind, labels map[string]string) *series {
	f, ok := r.families[name]
	if !ok || f.kind != k {
		return nil
	}
	key := labelsKey(labels)
	s := f.series[key]
	if s == nil {
		s = &series{labels: cloneLabels(labels)}
		if k == histogramKind {
			s.buckets = make([]uint64, len(f.buckets)+1)
		}
		f.series[key] = s
	}
	return s
}

func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Render()))
	})
}

func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, name := range sortedKeys(r.families) {
		f := r.families[name]
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n", name, f.help, name, f.kind)
		for _, key := range sortedKeys(f.series) {
			s := f.series[key]
			if f.kind != histogramKind {
				writeSample(&b, name, s.labels, formatFloat(s.value))
				continue
			}
			var cumulative uint64
			for i, n := range s.buckets {
				cumulative += n
				le := "+Inf"
				if i < len(f.buckets) {
					le = formatFloat(f.buckets[i])
				}
				withLE := cloneLabels(s.labels)
				withLE["le"] = le
				writeSample(&b, name+"_bucket", withLE, strconv.FormatUint(cumulative, 10))
			}
			writeSample(&b, name+"_sum", s.labels, formatFloat(s.value))
			writeSample(&b, name+"_count", s.labels, strconv.FormatUint(s.count, 10))
		}
	}
	return b.String()
}

func writeSample(b *strings.Builder, name string, labels map[string]string, value string) {
	b.WriteString(name)
	if len(labels) > 0 {
		pairs := make([]string, 0, len(labels))
		for _, k := range sortedKeys(labels) {
			pairs = append(pairs, fmt.Sprintf("%s=%q", k, labels[k]))
		}
		b.WriteString("{" + strings.Join(pairs, ",") + "}")
	}
	b.WriteString(" " + value + "\n")
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func labelsKey(labels map[string]string) string {
	var b strings.Builder
	for _, k := range sortedKeys(labels) {
		b.WriteString(k + "=" + labels[k] + ";")
	}
	return b.String()
}

func cloneLabels(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var (
	defaultMu       sync.Mutex
	defaultRegistry = NewRegistry()
)

func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultRegistry
}

func ResetDefaultForTest() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = NewRegistry()
}
