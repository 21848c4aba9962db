/*
Package tracing provides lightweight request tracing for the admin API and
the surface hub.

Spans carry a trace ID, their own span ID and their parent's. They are
propagated over HTTP with the X-Trace-ID and X-Span-ID headers and written
to the log by a buffered collector when they finish.

# Usage

	tracer := tracing.New("apphost", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "surface.request")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
*/
package tracing
