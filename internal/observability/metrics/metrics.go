// Package metrics aggregates in-process counters and gauges for the gateway
// and exposes them through a Prometheus text endpoint.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// StepLabel identifies a composite step event by composite name, step name,
// and outcome ("ok" or "failed").
type StepLabel struct {
	Composite string
	Step      string
	Outcome   string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP
// requests, composite step execution, traffic log queue health, and registry
// reloads. It coordinates concurrent writers via a RWMutex while exposing
// thread-safe gauges for the traffic log queue depth.
type Recorder struct {
	mu               sync.RWMutex
	requestCount     map[requestLabel]uint64
	requestDuration  map[requestLabel]time.Duration
	upstreamErrors   map[string]uint64
	stepEvents       map[StepLabel]uint64
	registryReloads  uint64
	registryFailures uint64
	queueDrops       atomic.Uint64
	queueDepth       atomic.Int64
	flushFailures    atomic.Uint64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		upstreamErrors:  make(map[string]uint64),
		stepEvents:      make(map[StepLabel]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation
// pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// SetDefault replaces the singleton Recorder used by the package-level
// helpers.
func SetDefault(r *Recorder) {
	defaultRecorder = r
}

// Registry holds a Recorder installed as the package default.
type Registry struct {
	Recorder *Recorder
}

// NewRegistry constructs a fresh Recorder and installs it as the default.
func NewRegistry() *Registry {
	r := New()
	SetDefault(r)
	return &Registry{Recorder: r}
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveUpstreamError records a forwarder dispatch failure keyed by
// endpoint name.
func (r *Recorder) ObserveUpstreamError(endpoint string) {
	name := normalizeName(endpoint)
	r.mu.Lock()
	r.upstreamErrors[name]++
	r.mu.Unlock()
}

// ObserveStep records a composite step outcome.
func (r *Recorder) ObserveStep(composite, step string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	label := StepLabel{Composite: normalizeName(composite), Step: normalizeName(step), Outcome: outcome}
	r.mu.Lock()
	r.stepEvents[label]++
	r.mu.Unlock()
}

// RegistryReloaded records a successful registry reload.
func (r *Recorder) RegistryReloaded() {
	r.mu.Lock()
	r.registryReloads++
	r.mu.Unlock()
}

// RegistryReloadFailed records a failed registry reload attempt.
func (r *Recorder) RegistryReloadFailed() {
	r.mu.Lock()
	r.registryFailures++
	r.mu.Unlock()
}

// QueueEnqueued sets the traffic log queue depth gauge after an enqueue.
func (r *Recorder) QueueEnqueued(depth int) {
	r.queueDepth.Store(int64(depth))
}

// QueueDropped increments the drop-oldest eviction counter.
func (r *Recorder) QueueDropped() {
	r.queueDrops.Add(1)
}

// QueueDrops returns the total number of drop-oldest evictions observed.
func (r *Recorder) QueueDrops() uint64 {
	return r.queueDrops.Load()
}

// QueueDepth returns the last observed traffic log queue depth.
func (r *Recorder) QueueDepth() int64 {
	return r.queueDepth.Load()
}

// FlushFailed records a traffic log batch that was dropped after a driver
// error.
func (r *Recorder) FlushFailed() {
	r.flushFailures.Add(1)
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.upstreamErrors = make(map[string]uint64)
	r.stepEvents = make(map[StepLabel]uint64)
	r.registryReloads = 0
	r.registryFailures = 0
	r.queueDrops.Store(0)
	r.queueDepth.Store(0)
	r.flushFailures.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus
// text exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	upstreams := r.sortedUpstreams()
	steps := r.sortedStepLabels()

	fmt.Fprintln(w, "# HELP gateway_http_requests_total Total number of HTTP requests processed by the gateway")
	fmt.Fprintln(w, "# TYPE gateway_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "gateway_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP gateway_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE gateway_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "gateway_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP gateway_upstream_errors_total Upstream dispatch failures by endpoint")
	fmt.Fprintln(w, "# TYPE gateway_upstream_errors_total counter")
	for _, name := range upstreams {
		fmt.Fprintf(w, "gateway_upstream_errors_total{endpoint=\"%s\"} %d\n", name, r.upstreamErrors[name])
	}

	fmt.Fprintln(w, "# HELP gateway_composite_step_events_total Composite step executions by outcome")
	fmt.Fprintln(w, "# TYPE gateway_composite_step_events_total counter")
	for _, label := range steps {
		fmt.Fprintf(w, "gateway_composite_step_events_total{composite=\"%s\",step=\"%s\",outcome=\"%s\"} %d\n", label.Composite, label.Step, label.Outcome, r.stepEvents[label])
	}

	fmt.Fprintln(w, "# HELP gateway_registry_reloads_total Endpoint registry reload attempts")
	fmt.Fprintln(w, "# TYPE gateway_registry_reloads_total counter")
	fmt.Fprintf(w, "gateway_registry_reloads_total{outcome=\"ok\"} %d\n", r.registryReloads)
	fmt.Fprintf(w, "gateway_registry_reloads_total{outcome=\"failed\"} %d\n", r.registryFailures)

	fmt.Fprintln(w, "# HELP gateway_traffic_log_queue_depth Current depth of the traffic log queue")
	fmt.Fprintln(w, "# TYPE gateway_traffic_log_queue_depth gauge")
	fmt.Fprintf(w, "gateway_traffic_log_queue_depth %d\n", r.queueDepth.Load())

	fmt.Fprintln(w, "# HELP gateway_traffic_log_queue_drops_total Entries evicted by the drop-oldest overflow policy")
	fmt.Fprintln(w, "# TYPE gateway_traffic_log_queue_drops_total counter")
	fmt.Fprintf(w, "gateway_traffic_log_queue_drops_total %d\n", r.queueDrops.Load())

	fmt.Fprintln(w, "# HELP gateway_traffic_log_flush_failures_total Batches dropped after a storage driver error")
	fmt.Fprintln(w, "# TYPE gateway_traffic_log_flush_failures_total counter")
	fmt.Fprintf(w, "gateway_traffic_log_flush_failures_total %d\n", r.flushFailures.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedUpstreams() []string {
	names := make([]string, 0, len(r.upstreamErrors))
	for name := range r.upstreamErrors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Recorder) sortedStepLabels() []StepLabel {
	labels := make([]StepLabel, 0, len(r.stepEvents))
	for label := range r.stepEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Composite != labels[j].Composite {
			return labels[i].Composite < labels[j].Composite
		}
		if labels[i].Step != labels[j].Step {
			return labels[i].Step < labels[j].Step
		}
		return labels[i].Outcome < labels[j].Outcome
	})
	return labels
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
