// Package tracing correlates a request's work across the API, the dialogue
// layer, and outbound resolver calls with lightweight log-based spans.
package tracing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/YuzhangMei/vqa-dialogue/backend/internal/shared/id"
)

// TraceID identifies one client request end to end.
type TraceID string

// Span is a single timed operation within a trace.
type Span struct {
	TraceID    TraceID
	Name       string
	StartTime  time.Time
	Duration   time.Duration
	StatusCode int
	Err        error
	tags       []zap.Field
}

// Tracer turns finished spans into structured log lines. Spans are buffered
// and dropped under pressure rather than blocking request handling.
type Tracer struct {
	service string
	logger  *zap.Logger
	spans   chan *Span
}

const spanBuffer = 1000

// New starts a tracer and its collector goroutine.
func New(service string, logger *zap.Logger) *Tracer {
	t := &Tracer{
		service: service,
		logger:  logger,
		spans:   make(chan *Span, spanBuffer),
	}
	go t.collect()
	return t
}

// StartSpan opens a span, minting a trace id unless the context carries one.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID, _ := ctx.Value(traceIDKey).(TraceID)
	if traceID == "" {
		traceID = TraceID(id.NewRequestID())
	}

	span := &Span{
		TraceID:   traceID,
		Name:      name,
		StartTime: time.Now(),
	}
	return span, context.WithValue(ctx, traceIDKey, traceID)
}

// Tag attaches a key/value to the span's log line.
func (s *Span) Tag(key, value string) {
	s.tags = append(s.tags, zap.String(key, value))
}

// SetStatus records the HTTP status the span ended with.
func (s *Span) SetStatus(code int) { s.StatusCode = code }

// SetError records a failure.
func (s *Span) SetError(err error) { s.Err = err }

// Finish stamps the duration.
func (s *Span) Finish() {
	s.Duration = time.Since(s.StartTime)
}

// Submit hands a finished span to the collector, dropping when full.
func (t *Tracer) Submit(span *Span) {
	select {
	case t.spans <- span:
	default:
		t.logger.Warn("span buffer full, dropping span",
			zap.String("trace_id", string(span.TraceID)),
		)
	}
}

func (t *Tracer) collect() {
	for span := range t.spans {
		fields := []zap.Field{
			zap.String("trace_id", string(span.TraceID)),
			zap.String("operation", span.Name),
			zap.String("service", t.service),
			zap.Duration("duration", span.Duration),
			zap.Int("status", span.StatusCode),
		}
		fields = append(fields, span.tags...)

		if span.Err != nil {
			fields = append(fields, zap.Error(span.Err))
			t.logger.Error("span completed with error", fields...)
		} else {
			t.logger.Info("span completed", fields...)
		}
	}
}

type contextKey string

const traceIDKey contextKey = "trace_id"

// HeaderTraceID carries the trace id between services.
const HeaderTraceID = "X-Trace-ID"

// FromContext returns the trace id, or "" when untraced.
func FromContext(ctx context.Context) TraceID {
	if traceID, ok := ctx.Value(traceIDKey).(TraceID); ok {
		return traceID
	}
	return ""
}

// WithTraceID stores a trace id on the context.
func WithTraceID(ctx context.Context, traceID TraceID) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}
