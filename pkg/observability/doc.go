// Package observability provides OpenTelemetry tracing and metrics for the
// scanner pipeline stages. Every stage wraps its handle() call in
// TrackOperation for the shared span/duration/in-flight shape, then reports
// what it actually did through its own counter: the Explorer calls
// RecordHandleExplored per handle, the Processor calls
// RecordConversionProduced per forwarded value, the Matcher calls
// RecordRuleEvaluation per head evaluated and RecordMatchFound per terminal
// positive match. RecordProblem is called by the Processor, Matcher and
// Tagger whenever they publish a problem message, by the Explorer when
// exploring a source fails, and by the Exporter when it drops an
// undecodable event.
//
// # Setup
//
// Initialize once at process startup:
//
//	provider, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "os2datascanner-explorer",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1, // 10% sampling in production
//	})
//	defer provider.Shutdown(ctx)
//
// # Tracking an operation
//
//	ctx, done := provider.TrackOperation(ctx, "explorer.handle",
//		attribute.String("scan_tag.scanner", spec.Scanner.Name))
//	for h, err := range spec.Source.Handles(ctx, sm) {
//		provider.RecordHandleExplored(ctx, observability.AttrSourceType.String(spec.Source.Type()))
//		...
//	}
//	done(err)
//
// TrackOperation starts a span, increments the active-operations gauge, and
// on done(err) records duration and (if err is non-nil) a problem, then
// ends the span.
package observability
