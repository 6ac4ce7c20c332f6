// Package trace carries a lightweight span recorder through context so
// reads, flushes, and compactions can be timed without wiring a logger
// through every call site.
package trace

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type contextKey string

const traceKey contextKey = "lsmtree_trace"

// Trace holds timing information for one operation.
type Trace struct {
	mu     sync.Mutex
	spans  []Span
	start  time.Time
	enable bool
}

// Span is one recorded step.
type Span struct {
	Name    string
	At      time.Duration
	Details map[string]any
}

// New creates an enabled trace.
func New() *Trace {
	return &Trace{
		spans:  make([]Span, 0),
		start:  time.Now(),
		enable: true,
	}
}

// WithTrace attaches a fresh trace to the context.
func WithTrace(ctx context.Context) context.Context {
	return context.WithValue(ctx, traceKey, New())
}

// FromContext returns the context's trace, or a disabled one so callers
// never need a nil check.
func FromContext(ctx context.Context) *Trace {
	if tr, ok := ctx.Value(traceKey).(*Trace); ok {
		return tr
	}
	return &Trace{enable: false}
}

// RecordSpan records a named step with optional details.
func (t *Trace) RecordSpan(name string, details ...map[string]any) {
	if !t.enable {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	span := Span{Name: name, At: time.Since(t.start)}
	if len(details) > 0 {
		span.Details = details[0]
	}
	t.spans = append(t.spans, span)
}

// Total returns the elapsed time since the trace started.
func (t *Trace) Total() time.Duration {
	return time.Since(t.start)
}

// Spans returns a copy of the recorded spans.
func (t *Trace) Spans() []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	spans := make([]Span, len(t.spans))
	copy(spans, t.spans)
	return spans
}

// Dump returns the trace formatted for logs.
func (t *Trace) Dump() string {
	if !t.enable || len(t.spans) == 0 {
		return ""
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	out := fmt.Sprintf("=== Trace: Total %v ===\n", time.Since(t.start))
	for i, span := range t.spans {
		out += fmt.Sprintf("[%d] %s: %v", i+1, span.Name, span.At)
		if len(span.Details) > 0 {
			out += fmt.Sprintf(" %+v", span.Details)
		}
		out += "\n"
	}
	return out
}
