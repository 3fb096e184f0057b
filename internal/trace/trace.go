// Package trace carries request identifiers through commands and logs.
// IDs follow the W3C Trace Context sizes (128-bit trace, 64-bit span).
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"
)

// Metadata keys for gRPC/HTTP propagation.
const (
	TraceIDKey      = "x-trace-id"
	SpanIDKey       = "x-span-id"
	ParentSpanIDKey = "x-parent-span-id"
)

type ctxKey struct{}

// Context holds trace identifiers for a single span.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
}

// New creates a root context with fresh IDs.
func New() Context {
	return Context{TraceID: newID(16), SpanID: newID(8)}
}

// Child derives a context for work done on behalf of c.
func (c Context) Child() Context {
	if c.TraceID == "" {
		return New()
	}
	return Context{TraceID: c.TraceID, SpanID: newID(8), ParentSpanID: c.SpanID}
}

// FromContext extracts trace context from context.Context.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// WithContext injects trace context into context.Context.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// EnsureContext returns existing trace context or creates a new one.
func EnsureContext(ctx context.Context) (context.Context, Context) {
	if tc, ok := FromContext(ctx); ok {
		return ctx, tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

func newID(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ToMap exports context as string map for gRPC metadata.
func (c Context) ToMap() map[string]string {
	m := map[string]string{
		TraceIDKey: c.TraceID,
		SpanIDKey:  c.SpanID,
	}
	if c.ParentSpanID != "" {
		m[ParentSpanIDKey] = c.ParentSpanID
	}
	return m
}

// FromMap continues a remote trace: the caller's span becomes the parent.
func FromMap(m map[string]string) Context {
	return Continue(m[TraceIDKey], m[SpanIDKey])
}

// Continue builds a context for a new span under a remote trace, starting a
// fresh trace when traceID is empty.
func Continue(traceID, parentSpanID string) Context {
	if traceID == "" {
		return New()
	}
	return Context{TraceID: traceID, SpanID: newID(8), ParentSpanID: parentSpanID}
}

// Span times one command.
type Span struct {
	Name      string
	Ctx       Context
	StartTime time.Time
	EndTime   time.Time
	Attrs     map[string]any
}

// StartSpan begins a new span under whatever trace ctx carries.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent, _ := FromContext(ctx)
	s := &Span{
		Name:      name,
		Ctx:       parent.Child(),
		StartTime: time.Now(),
		Attrs:     make(map[string]any),
	}
	return WithContext(ctx, s.Ctx), s
}

// End marks the span as complete.
func (s *Span) End() {
	s.EndTime = time.Now()
}

// SetAttr sets a span attribute.
func (s *Span) SetAttr(key string, val any) {
	s.Attrs[key] = val
}

// Duration returns span duration, 0 while the span is open.
func (s *Span) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// LogValue implements slog.LogValuer.
func (s *Span) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("span_name", s.Name),
		slog.String("trace_id", s.Ctx.TraceID),
		slog.String("span_id", s.Ctx.SpanID),
		slog.Duration("duration", s.Duration()),
	}
	for k, v := range s.Attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	return slog.GroupValue(attrs...)
}

// Logger returns the default logger annotated with ctx's trace IDs.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	args := []any{"trace_id", tc.TraceID, "span_id", tc.SpanID}
	if tc.ParentSpanID != "" {
		args = append(args, "parent_span_id", tc.ParentSpanID)
	}
	return slog.Default().With(args...)
}
