// Package observability provides lightweight in-process tracing and
// Prometheus metrics for the coordinator and node daemons, following the
// teacher's span-ring-buffer-plus-promauto convention rather than pulling
// in an external OTel SDK.
package observability

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Trace Spans ────────────────────────────────────────────────────────────

// SpanKind classifies a span.
type SpanKind int

const (
	SpanInternal SpanKind = iota
	SpanServer
	SpanClient
)

// Span represents a unit of work within a trace (an assignment tick, a
// chunk run, an API request).
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Operation string            `json:"operation"`
	Kind      SpanKind          `json:"kind"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// SpanStatus indicates success/failure.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// ─── Tracer ─────────────────────────────────────────────────────────────────

// Tracer provides lightweight distributed tracing, storing spans in a
// bounded ring buffer for inspection rather than exporting to a collector.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int // ring buffer size (default 10_000)
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Enabled:  true,
		MaxSpans: 10_000,
	}
}

// NewTracer creates a new tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	if cfg.MaxSpans <= 0 {
		cfg.MaxSpans = 10_000
	}
	return &Tracer{
		spans:    make([]Span, 0, cfg.MaxSpans),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
	}
}

// StartSpan begins a new span with the given operation name.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs map[string]string) *Span {
	if !t.enabled {
		return &Span{Operation: operation}
	}

	return &Span{
		TraceID:   traceIDFromContext(ctx),
		SpanID:    generateID(),
		ParentID:  spanIDFromContext(ctx),
		Operation: operation,
		Kind:      SpanInternal,
		StartTime: time.Now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}
}

// EndSpan completes a span and records it.
func (t *Tracer) EndSpan(span *Span, err error) {
	if !t.enabled || span == nil {
		return
	}

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
		TraceErrors.Inc()
	}
	TracesRecorded.Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns a copy of the most recent spans, at most limit of them.
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}

	start := len(t.spans) - limit
	out := make([]Span, limit)
	copy(out, t.spans[start:])
	return out
}

// SpanCount returns the number of recorded spans.
func (t *Tracer) SpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// Reset clears all recorded spans.
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = t.spans[:0]
}

// DefaultTracer is the process-wide tracer used by the API request
// middleware and the scheduler's periodic ticks.
var DefaultTracer = NewTracer(DefaultTracerConfig())

// ─── Context Helpers ────────────────────────────────────────────────────────

type contextKey string

const (
	traceIDKey contextKey = "wowlab-trace-id"
	spanIDKey  contextKey = "wowlab-span-id"
)

// WithTraceID returns a context with the given trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithSpanID returns a context with the given span ID.
func WithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanIDKey, spanID)
}

func traceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return generateID()
}

func spanIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(spanIDKey).(string); ok {
		return v
	}
	return ""
}

var spanCounter atomic.Int64

// generateID creates a short unique ID — not cryptographically secure,
// fine for trace correlation.
func generateID() string {
	n := spanCounter.Add(1)
	return fmt.Sprintf("%s-%d", time.Now().Format("20060102150405"), n)
}

// ─── Scheduler Metrics ──────────────────────────────────────────────────────

// ChunksPending tracks the current pending-chunk backlog across all jobs.
var ChunksPending = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "wowlab",
	Subsystem: "scheduler",
	Name:      "chunks_pending",
	Help:      "Current number of chunks awaiting assignment.",
})

// AssignmentsTotal tracks total chunk assignments made by the scheduler tick.
var AssignmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "wowlab",
	Subsystem: "scheduler",
	Name:      "assignments_total",
	Help:      "Total chunks assigned to nodes.",
})

// ChunksReclaimedTotal tracks chunks returned to pending after a stale claim.
var ChunksReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "wowlab",
	Subsystem: "scheduler",
	Name:      "chunks_reclaimed_total",
	Help:      "Total chunks reclaimed from nodes that never completed them.",
})

// AssignmentTickDuration tracks how long one scheduler tick takes.
var AssignmentTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "wowlab",
	Subsystem: "scheduler",
	Name:      "tick_duration_ms",
	Help:      "Duration of one assignment tick in milliseconds.",
	Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
})

// ─── Node Metrics ───────────────────────────────────────────────────────────

// NodesOnline tracks the current count of heartbeating nodes.
var NodesOnline = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "wowlab",
	Subsystem: "node",
	Name:      "online_count",
	Help:      "Current number of nodes marked online.",
})

// ChunksCompletedTotal tracks total chunks reported complete, by node.
var ChunksCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wowlab",
	Subsystem: "node",
	Name:      "chunks_completed_total",
	Help:      "Total chunks completed, labeled by node id.",
}, []string{"node_id"})

// ChunkRunDuration tracks wall-clock time to run one chunk on a node.
var ChunkRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "wowlab",
	Subsystem: "node",
	Name:      "chunk_run_duration_ms",
	Help:      "Wall-clock duration to run one chunk's iterations.",
	Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000},
})

// ─── Engine Metrics ─────────────────────────────────────────────────────────

// IterationsTotal tracks total simulation iterations run across all chunks.
var IterationsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "wowlab",
	Subsystem: "engine",
	Name:      "iterations_total",
	Help:      "Total simulation iterations executed.",
})

// IterationDPSHistogram tracks the distribution of per-iteration DPS values.
var IterationDPSHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "wowlab",
	Subsystem: "engine",
	Name:      "iteration_dps",
	Help:      "Per-iteration DPS values across all completed batches.",
	Buckets:   prometheus.ExponentialBuckets(100, 2, 12),
})

// ─── Auth Metrics ───────────────────────────────────────────────────────────

// SignatureVerificationsTotal tracks signed-request verification outcomes.
var SignatureVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wowlab",
	Subsystem: "auth",
	Name:      "signature_verifications_total",
	Help:      "Total signed-request verifications, labeled by outcome.",
}, []string{"outcome"})

// ─── Trace Metrics ──────────────────────────────────────────────────────────

// TracesRecorded tracks total spans recorded.
var TracesRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "wowlab",
	Subsystem: "traces",
	Name:      "spans_recorded_total",
	Help:      "Total trace spans recorded.",
})

// TraceErrors tracks error spans.
var TraceErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "wowlab",
	Subsystem: "traces",
	Name:      "error_spans_total",
	Help:      "Total trace spans with error status.",
})
