package observability

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FinishSpan ends span, first recording the error pointed to by errPtr when
// one is set. Meant to be deferred with a named error return:
//
//	defer observability.FinishSpan(span, &err)
//
// A nil errPtr is allowed for operations that cannot fail.
func FinishSpan(span trace.Span, errPtr *error) {
	if span == nil {
		return
	}
	defer span.End()

	if errPtr == nil || *errPtr == nil {
		return
	}
	span.RecordError(*errPtr, trace.WithStackTrace(true))
	span.SetStatus(codes.Error, (*errPtr).Error())
}
