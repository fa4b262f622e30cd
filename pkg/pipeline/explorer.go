package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/AsgerHL/Bachelor-POC/pkg/messages"
	"github.com/AsgerHL/Bachelor-POC/pkg/model"
	"github.com/AsgerHL/Bachelor-POC/pkg/observability"
	"github.com/AsgerHL/Bachelor-POC/pkg/queue"
	"github.com/AsgerHL/Bachelor-POC/pkg/sourcemanager"
)

// CompatibilityChecker gates a scan spec's configuration.schema_version
// constraint against the running engine's version (pkg/engineconfig's
// CompatibilityGate satisfies this). Left nil, every scan spec is accepted.
type CompatibilityChecker interface {
	Check(schemaVersion string) (bool, error)
}

// Explorer consumes scan specifications, enumerates the handles their
// source contains, and emits either a conversion request per handle or
// (for a source that yields independent sources) a child scan spec.
type Explorer struct {
	Queues        QueueNames
	Validator     *messages.Validator
	Logger        *slog.Logger
	Prefetch      int
	Compatibility CompatibilityChecker

	// Metrics is optional; left nil, the stage reports no telemetry.
	Metrics *observability.Provider
}

// NewExplorer builds an Explorer with defaults filled in for any zero
// field: default queue names, default prefetch, a freshly compiled
// validator, and the default slog logger tagged with this stage's name.
func NewExplorer(q QueueNames) (*Explorer, error) {
	v, err := messages.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("pipeline: building explorer validator: %w", err)
	}
	return &Explorer{
		Queues:    q.WithDefaults(),
		Validator: v,
		Logger:    slog.Default().With("component", "explorer"),
		Prefetch:  DefaultPrefetch,
	}, nil
}

func (e *Explorer) Run(ctx context.Context, bus queue.Bus) error {
	prefetch := e.Prefetch
	if prefetch == 0 {
		prefetch = DefaultPrefetch
	}
	deliveries, err := bus.Consume(ctx, e.Queues.ScanSpecs, prefetch)
	if err != nil {
		return fmt.Errorf("pipeline: explorer consuming %s: %w", e.Queues.ScanSpecs, err)
	}
	for d := range deliveries {
		e.handle(ctx, bus, d)
	}
	return nil
}

func (e *Explorer) handle(ctx context.Context, bus queue.Bus, d queue.Delivery) {
	if err := e.Validator.Validate(messages.KindScanSpec, d.Payload); err != nil {
		e.Logger.WarnContext(ctx, "rejecting malformed scan spec", "error", err)
		publishProblem(ctx, bus, e.Queues.Problems, messages.ProblemMessage{
			Where: string(d.Payload), Problem: messages.Malformed, Extra: []string{err.Error()},
		}, e.Logger)
		e.ack(ctx, d)
		return
	}

	var spec messages.ScanSpec
	if err := json.Unmarshal(d.Payload, &spec); err != nil {
		e.Logger.WarnContext(ctx, "rejecting undecodable scan spec", "error", err)
		publishProblem(ctx, bus, e.Queues.Problems, messages.ProblemMessage{
			Where: string(d.Payload), Problem: messages.Malformed, Extra: []string{err.Error()},
		}, e.Logger)
		e.ack(ctx, d)
		return
	}

	if e.Compatibility != nil {
		if schemaVersion, ok := spec.Configuration["schema_version"].(string); ok && schemaVersion != "" {
			compatible, err := e.Compatibility.Check(schemaVersion)
			if err != nil || !compatible {
				extra := []string{fmt.Sprintf("engine incompatible with schema_version %q", schemaVersion)}
				if err != nil {
					extra = []string{err.Error()}
				}
				publishProblem(ctx, bus, e.Queues.Problems, messages.ProblemMessage{
					ScanTag: spec.ScanTag, Where: spec.Source.Censor().Type(), Problem: messages.Malformed,
					Extra: extra,
				}, e.Logger)
				e.ack(ctx, d)
				return
			}
		}
	}

	sm := sourcemanager.New()
	defer sm.Clear()

	opCtx, done := e.track(ctx, spec.Source.Type())
	var opErr error
	defer func() { done(opErr) }()

	total, newSources := 0, 0
	statusIsError := false

	for h, err := range spec.Source.Handles(opCtx, sm) {
		if err != nil {
			statusIsError = true
			opErr = err
			e.Logger.ErrorContext(ctx, "exploring source", "error", err, "source", spec.Source.Type())
			kind := messages.Unavailable
			if _, ok := err.(*model.MalformedError); ok {
				kind = messages.Malformed
			}
			e.recordProblem(ctx, err)
			publishProblem(ctx, bus, e.Queues.Problems, messages.ProblemMessage{
				ScanTag: spec.ScanTag, Where: spec.Source.Censor().Type(), Problem: kind,
				Extra: []string{err.Error()},
			}, e.Logger)
			continue
		}
		e.recordHandleExplored(ctx, spec.Source.Type())

		progress := messages.Progress{Rule: spec.Rule, Matches: nil}
		if spec.Progress != nil {
			progress = *spec.Progress
		}

		if spec.Source.YieldsIndependentSources() {
			if childSpec, ok := e.deriveChild(h, spec); ok {
				data, err := json.Marshal(childSpec)
				if err != nil {
					e.Logger.ErrorContext(ctx, "marshalling child scan spec", "error", err)
					continue
				}
				if err := bus.Publish(ctx, e.Queues.ScanSpecs, data); err != nil {
					e.Logger.ErrorContext(ctx, "publishing child scan spec", "error", err)
					continue
				}
				newSources++
				continue
			}
		}

		req := messages.ConversionRequest{ScanSpec: spec, Handle: h, Progress: progress}
		data, err := json.Marshal(req)
		if err != nil {
			e.Logger.ErrorContext(ctx, "marshalling conversion request", "error", err)
			continue
		}
		if err := bus.Publish(ctx, e.Queues.Conversions, data); err != nil {
			e.Logger.ErrorContext(ctx, "publishing conversion request", "error", err)
			continue
		}
		total++
	}

	publishStatus(ctx, bus, e.Queues.Status, messages.StatusMessage{
		ScanTag: spec.ScanTag, Message: "exploration complete", StatusIsError: statusIsError,
		TotalObjects: &total, NewSources: &newSources,
	}, e.Logger)

	e.ack(ctx, d)
}

// deriveChild decides whether h itself already points at an independent
// Source (as web/links.LinksSource's members do) or whether a new Source
// must be derived from it by MIME dispatch (as a single WebSource's own
// page handle does, when it turns out to be HTML). It returns ok=false
// when neither applies, so the handle falls through to a normal conversion
// request instead — e.g. a linked page whose content is not HTML is
// evaluated directly rather than crawled further.
func (e *Explorer) deriveChild(h model.Handle, spec messages.ScanSpec) (messages.ScanSpec, bool) {
	if !model.Equal(h.Source(), spec.Source) {
		return childScanSpec(spec, h.Source()), true
	}
	mimeType := model.MimeFromName(h.RelativePath())
	if derived, ok := model.FromHandle(h, mimeType); ok {
		return childScanSpec(spec, derived), true
	}
	return messages.ScanSpec{}, false
}

func childScanSpec(parent messages.ScanSpec, source model.Source) messages.ScanSpec {
	return messages.ScanSpec{
		ScanTag:       parent.ScanTag,
		Source:        source,
		Rule:          parent.Rule,
		Configuration: parent.Configuration,
		FilterRule:    parent.FilterRule,
	}
}

func (e *Explorer) ack(ctx context.Context, d queue.Delivery) {
	if d.Ack != nil {
		if err := d.Ack(ctx); err != nil {
			e.Logger.ErrorContext(ctx, "acking scan spec delivery", "error", err)
		}
	}
}

// track starts the stage-wide span/duration/active-operations tracking for
// one scan spec's exploration, a no-op if Metrics is nil.
func (e *Explorer) track(ctx context.Context, sourceType string) (context.Context, func(error)) {
	if e.Metrics == nil {
		return ctx, func(error) {}
	}
	return e.Metrics.TrackOperation(ctx, "explorer.handle", observability.AttrSourceType.String(sourceType))
}

func (e *Explorer) recordHandleExplored(ctx context.Context, sourceType string) {
	if e.Metrics != nil {
		e.Metrics.RecordHandleExplored(ctx, observability.AttrSourceType.String(sourceType))
	}
}

func (e *Explorer) recordProblem(ctx context.Context, err error) {
	if e.Metrics != nil {
		e.Metrics.RecordProblem(ctx, err)
	}
}
