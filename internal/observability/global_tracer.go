package observability

import (
	"context"
	"fmt"

	"examprep/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var globalTracer trace.Tracer

// InitGlobalTracer initializes the global tracer for the application.
func InitGlobalTracer() {
	globalTracer = otel.Tracer("examprep")
}

// GetGlobalTracer returns the global tracer instance for the application.
func GetGlobalTracer() trace.Tracer {
	if globalTracer == nil {
		// Fallback to default tracer if not initialized
		globalTracer = otel.Tracer("examprep")
	}
	return globalTracer
}

// TraceFunction starts a new span with a descriptive name for the given service and function.
func TraceFunction(ctx context.Context, serviceName, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := GetGlobalTracer()
	spanName := fmt.Sprintf("%s.%s", serviceName, functionName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attributes...))
}

// TraceMasteryFunction starts a new span for a mastery service function.
func TraceMasteryFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "mastery", functionName, attributes...)
}

// TraceScheduleFunction starts a new span for a schedule service function.
func TraceScheduleFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "schedule", functionName, attributes...)
}

// TraceCalibrationFunction starts a new span for a calibration service function.
func TraceCalibrationFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "calibration", functionName, attributes...)
}

// TraceSelectionFunction starts a new span for a selection service function.
func TraceSelectionFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "selection", functionName, attributes...)
}

// TraceInsightFunction starts a new span for an insight service function.
func TraceInsightFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "insight", functionName, attributes...)
}

// TraceCognitiveFunction starts a new span for a cognitive service function.
func TraceCognitiveFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "cognitive", functionName, attributes...)
}

// TraceHintFunction starts a new span for a generation hint service function.
func TraceHintFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "hint", functionName, attributes...)
}

// TraceWorkerFunction starts a new span for a worker service function.
func TraceWorkerFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "worker", functionName, attributes...)
}

// TraceHandlerFunction starts a new span for a handler function.
func TraceHandlerFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "handler", functionName, attributes...)
}

// TraceDatabaseFunction starts a new span for a database function.
func TraceDatabaseFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "database", functionName, attributes...)
}

// AttributeItem returns a tracing attribute for an item's ID.
func AttributeItem(i *models.Item) attribute.KeyValue {
	return attribute.Int("item.id", i.ID)
}

// AttributeItemID returns a tracing attribute for an item ID.
func AttributeItemID(id int) attribute.KeyValue {
	return attribute.Int("item.id", id)
}

// AttributeLearnerID returns a tracing attribute for a learner ID.
func AttributeLearnerID(id int) attribute.KeyValue {
	return attribute.Int("learner.id", id)
}

// AttributeTopic returns a tracing attribute for a topic.
func AttributeTopic(topic string) attribute.KeyValue {
	return attribute.String("topic", topic)
}

// AttributeSpecialty returns a tracing attribute for a specialty.
func AttributeSpecialty(specialty string) attribute.KeyValue {
	return attribute.String("specialty", specialty)
}

// AttributeLimit returns a tracing attribute for a limit value.
func AttributeLimit(limit int) attribute.KeyValue {
	return attribute.Int("limit", limit)
}

// AttributeBatchSize returns a tracing attribute for a batch size value.
func AttributeBatchSize(size int) attribute.KeyValue {
	return attribute.Int("batch_size", size)
}

// AttributeResponseCount returns a tracing attribute for a response count.
func AttributeResponseCount(count int) attribute.KeyValue {
	return attribute.Int("response_count", count)
}
