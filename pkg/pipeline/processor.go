package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/AsgerHL/Bachelor-POC/pkg/conversions"
	"github.com/AsgerHL/Bachelor-POC/pkg/messages"
	"github.com/AsgerHL/Bachelor-POC/pkg/model"
	"github.com/AsgerHL/Bachelor-POC/pkg/observability"
	"github.com/AsgerHL/Bachelor-POC/pkg/queue"
	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
	"github.com/AsgerHL/Bachelor-POC/pkg/sourcemanager"
)

// textAccumulator is the lazy-pagination interface conversions.Convert
// returns Text values through (pkg/conversions.MultipleResults and its
// variants). The Processor drains it into a plain string before the value
// crosses the queue boundary, since a paginated reader can't survive JSON
// encoding; Matcher only ever sees the materialised form.
type textAccumulator interface {
	All() (string, error)
}

// lastModifiedAfterKey is the scan spec configuration key carrying the
// previous run's scan time: when present, the Processor checks LastModified
// before the rule's own head, so an object unchanged since that run never
// has its content re-read.
const lastModifiedAfterKey = "last_modified_after"

// Processor consumes conversion requests, computes the OutputType the
// current rule residue needs next, and either forwards the value to the
// matches queue or, when the handle names a container the head can never
// match, derives a new Source and re-emits a scan spec for it.
type Processor struct {
	Queues    QueueNames
	Validator *messages.Validator
	Logger    *slog.Logger
	Prefetch  int

	// Metrics is optional; left nil, the stage reports no telemetry.
	Metrics *observability.Provider
}

func NewProcessor(q QueueNames) (*Processor, error) {
	v, err := messages.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("pipeline: building processor validator: %w", err)
	}
	return &Processor{
		Queues:    q.WithDefaults(),
		Validator: v,
		Logger:    slog.Default().With("component", "processor"),
		Prefetch:  DefaultPrefetch,
	}, nil
}

func (p *Processor) Run(ctx context.Context, bus queue.Bus) error {
	prefetch := p.Prefetch
	if prefetch == 0 {
		prefetch = DefaultPrefetch
	}
	deliveries, err := bus.Consume(ctx, p.Queues.Conversions, prefetch)
	if err != nil {
		return fmt.Errorf("pipeline: processor consuming %s: %w", p.Queues.Conversions, err)
	}
	for d := range deliveries {
		p.handle(ctx, bus, d)
	}
	return nil
}

func (p *Processor) handle(ctx context.Context, bus queue.Bus, d queue.Delivery) {
	if err := p.Validator.Validate(messages.KindConversionRequest, d.Payload); err != nil {
		p.reject(ctx, bus, d, err)
		return
	}
	var req messages.ConversionRequest
	if err := json.Unmarshal(d.Payload, &req); err != nil {
		p.reject(ctx, bus, d, err)
		return
	}

	sm := sourcemanager.New()
	defer sm.Clear()

	ctx, done := p.track(ctx)
	var opErr error
	defer func() { done(opErr) }()

	res, err := req.Handle.Follow(ctx, sm)
	if err != nil {
		opErr = err
		p.problem(ctx, bus, req.ScanSpec.ScanTag, req.Handle, err)
		p.ack(ctx, d)
		return
	}

	if after, ok := lastModifiedAfter(req.ScanSpec.Configuration); ok {
		if lm, err := res.LastModified(); err == nil && !lm.IsZero() && !lm.After(after) {
			p.publishTerminal(ctx, bus, req, false, nil)
			p.ack(ctx, d)
			return
		}
	}

	if req.Progress.Rule == nil {
		p.problem(ctx, bus, req.ScanSpec.ScanTag, req.Handle, fmt.Errorf("conversion request carries no rule residue"))
		p.ack(ctx, d)
		return
	}
	head, _, _ := req.Progress.Rule.Split()
	outputType := head.OperatesOn()

	value, convErr := conversions.Convert(ctx, outputType, res)
	if convErr == nil && outputType == rule.Text {
		if acc, ok := value.(textAccumulator); ok {
			text, accErr := acc.All()
			value, convErr = text, accErr
		}
	}
	if convErr != nil {
		var noConv *conversions.ErrNoConverter
		if asErrNoConverter(convErr, &noConv) {
			if p.deriveContainer(ctx, bus, req, res) {
				p.ack(ctx, d)
				return
			}
		}
		p.problem(ctx, bus, req.ScanSpec.ScanTag, req.Handle, &model.ConversionError{Handle: req.Handle, Err: convErr})
		p.ack(ctx, d)
		return
	}

	raw, err := messages.EncodeConversionValue(value)
	if err != nil {
		p.Logger.WarnContext(ctx, "dropping conversion value uneligible for queue transport", "error", err, "output_type", outputType)
		raw = nil
	}
	msg := messages.MatchMessage{
		ScanSpec: req.ScanSpec, Handle: req.Handle, Progress: req.Progress, Value: raw, Terminal: false,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		p.Logger.ErrorContext(ctx, "marshalling match message", "error", err)
		p.ack(ctx, d)
		return
	}
	if err := bus.Publish(ctx, p.Queues.Matches, data); err != nil {
		p.Logger.ErrorContext(ctx, "publishing match message", "error", err)
	} else {
		p.recordConversionProduced(ctx, string(outputType))
	}
	p.ack(ctx, d)
}

// deriveContainer attempts to turn req.Handle into a new Source (e.g. the
// zip archive it names) when no converter exists for the head's requested
// OutputType on this handle's MIME type, and if one is found re-emits a
// scan spec for it. It reports whether a derivation was found at all.
func (p *Processor) deriveContainer(ctx context.Context, bus queue.Bus, req messages.ConversionRequest, res model.Resource) bool {
	mimeType, err := res.MimeType()
	if err != nil {
		mimeType = model.MimeFromName(req.Handle.RelativePath())
	}
	derived, ok := model.FromHandle(req.Handle, mimeType)
	if !ok {
		return false
	}
	child := childScanSpec(req.ScanSpec, derived)
	data, err := json.Marshal(child)
	if err != nil {
		p.Logger.ErrorContext(ctx, "marshalling derived container scan spec", "error", err)
		return true
	}
	if err := bus.Publish(ctx, p.Queues.ScanSpecs, data); err != nil {
		p.Logger.ErrorContext(ctx, "publishing derived container scan spec", "error", err)
	}
	return true
}

func (p *Processor) publishTerminal(ctx context.Context, bus queue.Bus, req messages.ConversionRequest, matched bool, fragments []rule.MatchFragment) {
	msg := messages.MatchMessage{
		ScanSpec: req.ScanSpec, Handle: req.Handle,
		Progress: messages.Progress{Rule: req.Progress.Rule, Matches: fragments},
		Matched:  matched, Matches: fragments, Terminal: true,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		p.Logger.ErrorContext(ctx, "marshalling terminal match message", "error", err)
		return
	}
	if err := bus.Publish(ctx, p.Queues.Matches, data); err != nil {
		p.Logger.ErrorContext(ctx, "publishing terminal match message", "error", err)
	}
}

func (p *Processor) problem(ctx context.Context, bus queue.Bus, tag messages.ScanTag, h model.Handle, err error) {
	kind := messages.Conversion
	switch err.(type) {
	case *model.UnavailableError:
		kind = messages.Unavailable
	case *model.MalformedError, *model.DeserialisationError:
		kind = messages.Malformed
	}
	where := "<unknown handle>"
	if h != nil {
		where = h.Presentation()
	}
	p.recordProblem(ctx, err)
	publishProblem(ctx, bus, p.Queues.Problems, messages.ProblemMessage{
		ScanTag: tag, Where: where, Problem: kind, Extra: []string{err.Error()},
	}, p.Logger)
}

func (p *Processor) reject(ctx context.Context, bus queue.Bus, d queue.Delivery, err error) {
	p.Logger.WarnContext(ctx, "rejecting malformed conversion request", "error", err)
	p.recordProblem(ctx, err)
	publishProblem(ctx, bus, p.Queues.Problems, messages.ProblemMessage{
		Where: string(d.Payload), Problem: messages.Malformed, Extra: []string{err.Error()},
	}, p.Logger)
	p.ack(ctx, d)
}

func (p *Processor) ack(ctx context.Context, d queue.Delivery) {
	if d.Ack != nil {
		if err := d.Ack(ctx); err != nil {
			p.Logger.ErrorContext(ctx, "acking conversion request delivery", "error", err)
		}
	}
}

// track starts the stage-wide span/duration/active-operations tracking for
// one conversion request, a no-op if Metrics is nil.
func (p *Processor) track(ctx context.Context) (context.Context, func(error)) {
	if p.Metrics == nil {
		return ctx, func(error) {}
	}
	return p.Metrics.TrackOperation(ctx, "processor.handle")
}

func (p *Processor) recordConversionProduced(ctx context.Context, outputType string) {
	if p.Metrics != nil {
		p.Metrics.RecordConversionProduced(ctx, observability.AttrOutputType.String(outputType))
	}
}

func (p *Processor) recordProblem(ctx context.Context, err error) {
	if p.Metrics != nil {
		p.Metrics.RecordProblem(ctx, err)
	}
}

func lastModifiedAfter(configuration map[string]any) (time.Time, bool) {
	raw, ok := configuration[lastModifiedAfterKey]
	if !ok {
		return time.Time{}, false
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func asErrNoConverter(err error, target **conversions.ErrNoConverter) bool {
	e, ok := err.(*conversions.ErrNoConverter)
	if !ok {
		return false
	}
	*target = e
	return true
}
