// Package metrics aggregates gate activity into counters and histograms and
// renders them in the Prometheus text exposition format, without pulling in
// prometheus/client_golang.
package metrics

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"execgate/internal/domain"
)

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Registry holds named metrics. The zero value is not usable; use New.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	histograms map[string]*Histogram
}

func New() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		histograms: make(map[string]*Histogram),
	}
}

// Counter returns or creates the counter name{labels}.
func (r *Registry) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[key]; ok {
		return c
	}
	c := &Counter{name: name, help: help, labels: labels}
	r.counters[key] = c
	return c
}

// Histogram returns or creates the histogram name{labels}. buckets are only
// used on creation.
func (r *Registry) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[key]; ok {
		return h
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	hb := make([]histBucket, len(sorted))
	for i, b := range sorted {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	r.histograms[key] = h
	return h
}

// Metric names.
const (
	AuditEventsTotal   = "execgate_audit_events_total"
	GateDecisionsTotal = "execgate_gate_decisions_total"
	PermissionTotal    = "execgate_permission_checks_total"
	ExecutionsTotal    = "execgate_command_executions_total"
	CommandDuration    = "execgate_command_duration_seconds"
	ScanFindingsTotal  = "execgate_scan_findings_total"
	ConfirmationsTotal = "execgate_confirmations_total"
)

var durationBuckets = []float64{0.1, 0.5, 1, 5, 10, 30, 60, math.Inf(1)}

func label(k, v string) string {
	return fmt.Sprintf("%s=%q", k, v)
}

func metaString(ev domain.AuditEvent, key string) string {
	if v, ok := ev.Metadata[key].(string); ok {
		return v
	}
	return ""
}

func metaFloat(ev domain.AuditEvent, key string) (float64, bool) {
	switch v := ev.Metadata[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Observe folds one audit event into the registry.
func (r *Registry) Observe(ev domain.AuditEvent) {
	r.Counter(AuditEventsTotal, "Audit events by type", label("event", ev.EventType)).Inc()

	switch ev.EventType {
	case domain.EventGateEvaluation:
		decision := metaString(ev, "decision")
		if decision == "" {
			decision = ev.Result
		}
		r.Counter(GateDecisionsTotal, "Command gate decisions", label("decision", decision)).Inc()
	case domain.EventPermissionCheck:
		r.Counter(PermissionTotal, "Permission checks by result", label("result", ev.Result)).Inc()
	case domain.EventCommandExecuted:
		r.Counter(ExecutionsTotal, "Executed commands by outcome", label("result", ev.Result)).Inc()
		if ms, ok := metaFloat(ev, "durationMs"); ok {
			r.Histogram(CommandDuration, "Command wall time in seconds", "", durationBuckets).Observe(ms / 1000)
		}
	case domain.EventScanBlocked, domain.EventScanWarning:
		if findings, ok := ev.Metadata["findings"].([]any); ok {
			r.Counter(ScanFindingsTotal, "Content scan findings", label("result", ev.Result)).Add(int64(len(findings)))
		} else if findings, ok := ev.Metadata["findings"].([]map[string]any); ok {
			r.Counter(ScanFindingsTotal, "Content scan findings", label("result", ev.Result)).Add(int64(len(findings)))
		}
	case domain.EventConfirmationResolved, domain.EventConfirmationTimeout:
		result := ev.Result
		if result == "" {
			result = "timeout"
		}
		r.Counter(ConfirmationsTotal, "Resolved confirmations by result", label("result", result)).Inc()
	}
}

// WriteText renders every metric in Prometheus text format, sorted by name
// and labels.
func (r *Registry) WriteText(w io.Writer) error {
	r.mu.Lock()
	counters := make([]*Counter, 0, len(r.counters))
	for _, c := range r.counters {
		counters = append(counters, c)
	}
	histograms := make([]*Histogram, 0, len(r.histograms))
	for _, h := range r.histograms {
		histograms = append(histograms, h)
	}
	r.mu.Unlock()

	sort.Slice(counters, func(i, j int) bool {
		if counters[i].name != counters[j].name {
			return counters[i].name < counters[j].name
		}
		return counters[i].labels < counters[j].labels
	})
	sort.Slice(histograms, func(i, j int) bool {
		if histograms[i].name != histograms[j].name {
			return histograms[i].name < histograms[j].name
		}
		return histograms[i].labels < histograms[j].labels
	})

	var sb strings.Builder
	helpWritten := make(map[string]bool)
	for _, c := range counters {
		if !helpWritten[c.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n", c.name, c.help)
			fmt.Fprintf(&sb, "# TYPE %s counter\n", c.name)
			helpWritten[c.name] = true
		}
		if c.labels != "" {
			fmt.Fprintf(&sb, "%s{%s} %d\n", c.name, c.labels, c.Value())
		} else {
			fmt.Fprintf(&sb, "%s %d\n", c.name, c.Value())
		}
	}

	for _, h := range histograms {
		h.mu.Lock()
		fmt.Fprintf(&sb, "# HELP %s %s\n", h.name, h.help)
		fmt.Fprintf(&sb, "# TYPE %s histogram\n", h.name)
		prefix := h.name + "_bucket{"
		if h.labels != "" {
			prefix += h.labels + ","
		}
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				le = "+Inf"
			}
			fmt.Fprintf(&sb, "%sle=\"%s\"} %d\n", prefix, le, b.count)
		}
		if h.labels != "" {
			fmt.Fprintf(&sb, "%s_count{%s} %d\n", h.name, h.labels, h.count)
			fmt.Fprintf(&sb, "%s_sum{%s} %f\n", h.name, h.labels, h.sum)
		} else {
			fmt.Fprintf(&sb, "%s_count %d\n", h.name, h.count)
			fmt.Fprintf(&sb, "%s_sum %f\n", h.name, h.sum)
		}
		h.mu.Unlock()
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
