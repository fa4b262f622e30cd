// Package observability - scanner-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Scanner-specific semantic convention attributes, one group per pipeline
// stage.
var (
	// Handle attributes, common to every stage.
	AttrHandleType = attribute.Key("scanner.handle.type")
	AttrSourceType = attribute.Key("scanner.source.type")

	// Explorer attributes
	AttrScanTagName   = attribute.Key("scanner.scan_tag.name")
	AttrObjectsFound  = attribute.Key("scanner.explorer.objects_found")
	AttrExplorerError = attribute.Key("scanner.explorer.error")

	// Processor/conversion attributes
	AttrOutputType   = attribute.Key("scanner.conversion.output_type")
	AttrConversionOK = attribute.Key("scanner.conversion.ok")

	// Matcher attributes
	AttrRuleType     = attribute.Key("scanner.rule.type")
	AttrMatched      = attribute.Key("scanner.match.matched")
	AttrSensitivity  = attribute.Key("scanner.match.sensitivity")
	AttrFragmentsLen = attribute.Key("scanner.match.fragment_count")

	// Problem attributes
	AttrProblemKind = attribute.Key("scanner.problem.kind")
)

// ExplorerOperation creates attributes for an Explorer pass over a source.
func ExplorerOperation(sourceType, scanTagName string, objectsFound int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSourceType.String(sourceType),
		AttrScanTagName.String(scanTagName),
		AttrObjectsFound.Int64(objectsFound),
	}
}

// ConversionOperation creates attributes for a Processor conversion.
func ConversionOperation(handleType, outputType string, ok bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrHandleType.String(handleType),
		AttrOutputType.String(outputType),
		AttrConversionOK.Bool(ok),
	}
}

// MatchOperation creates attributes for a Matcher evaluation.
func MatchOperation(ruleType string, matched bool, fragmentCount int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRuleType.String(ruleType),
		AttrMatched.Bool(matched),
		AttrFragmentsLen.Int(fragmentCount),
	}
}

// ProblemOperation creates attributes for a Problem message.
func ProblemOperation(handleType, problemKind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrHandleType.String(handleType),
		AttrProblemKind.String(problemKind),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records an error against the current span, if any.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
