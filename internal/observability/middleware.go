package observability

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	contextutils "examprep/internal/utils"
)

// GinMiddleware creates OpenTelemetry middleware for Gin HTTP requests
func GinMiddleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName)
}

// GinMiddlewareWithErrorHandling wraps the otelgin middleware and, for
// responses with status >= 400, annotates the request span with the failure
// details the engine cares about (error code, severity, learner).
func GinMiddlewareWithErrorHandling(serviceName string) gin.HandlerFunc {
	traced := otelgin.Middleware(serviceName)

	return func(c *gin.Context) {
		traced(c)
		c.Next()

		status := c.Writer.Status()
		if status < 400 {
			return
		}
		span := oteltrace.SpanFromContext(c.Request.Context())
		if span == nil {
			return
		}
		annotateFailedRequest(c, span, status)
	}
}

func annotateFailedRequest(c *gin.Context, span oteltrace.Span, status int) {
	msg, severity := failureDetails(c, status)

	span.RecordError(errors.New(msg), oteltrace.WithStackTrace(true))
	span.SetStatus(codes.Error, msg)

	attrs := []attribute.KeyValue{
		attribute.Int("http.status_code", status),
		attribute.String("http.method", c.Request.Method),
		attribute.String("http.path", c.Request.URL.Path),
		attribute.String("error.handler", c.HandlerName()),
		attribute.String("error.severity", severity),
	}

	if learnerID := contextutils.GetLearnerIDFromContext(c.Request.Context()); learnerID != 0 {
		attrs = append(attrs, attribute.Int("error.learner_id", learnerID))
	}
	if c.Request.ContentLength > 0 {
		attrs = append(attrs, attribute.Int64("error.request_size", c.Request.ContentLength))
	}
	if appErr := firstAppError(c.Errors); appErr != nil {
		attrs = append(attrs,
			attribute.String("error.code", string(appErr.Code)),
			attribute.Bool("error.retryable", contextutils.IsRetryable(appErr)),
		)
	}
	if status >= 500 {
		attrs = append(attrs, attribute.Bool("error.server_error", true))
	}

	span.SetAttributes(attrs...)
}

// failureDetails derives the span error message and severity for a failed
// request, preferring the structured AppError attached by the handler.
func failureDetails(c *gin.Context, status int) (string, string) {
	if appErr := firstAppError(c.Errors); appErr != nil {
		return appErr.Message, string(appErr.Severity)
	}

	msg := "client error"
	severity := string(contextutils.SeverityWarn)
	if status >= 500 {
		msg = "server error"
		severity = string(contextutils.SeverityError)
	}
	if len(c.Errors) > 0 {
		msg = c.Errors.Last().Error()
	}
	return msg, severity
}

func firstAppError(errs []*gin.Error) *contextutils.AppError {
	for _, e := range errs {
		var appErr *contextutils.AppError
		if errors.As(e.Err, &appErr) {
			return appErr
		}
	}
	return nil
}
