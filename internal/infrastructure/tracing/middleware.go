package tracing

import (
	"github.com/gin-gonic/gin"
)

// HTTPMiddleware spans every request, honoring an inbound X-Trace-ID so a
// frontend can correlate its own logs with the backend's.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if inbound := c.GetHeader(HeaderTraceID); inbound != "" {
			ctx = WithTraceID(ctx, TraceID(inbound))
		}

		span, ctx := tracer.StartSpan(ctx, c.FullPath())
		span.Tag("http.method", c.Request.Method)
		span.Tag("http.path", c.Request.URL.Path)

		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderTraceID, string(span.TraceID))

		c.Next()

		span.SetStatus(c.Writer.Status())
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}
		span.Finish()
		tracer.Submit(span)
	}
}
