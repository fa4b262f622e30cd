package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/AsgerHL/Bachelor-POC/pkg/messages"
	"github.com/AsgerHL/Bachelor-POC/pkg/observability"
	"github.com/AsgerHL/Bachelor-POC/pkg/queue"
	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
)

// Matcher consumes a non-terminal match message carrying the conversion
// value its progress's rule head asked for, applies that head's Match, and
// follows the resulting residue: a new conversion request if it's still
// another rule, or a terminal match/metadata-request/problem if it's
// boolean. This runs the rule's split/match evaluation one step per queue
// round-trip rather than in a single in-process call.
type Matcher struct {
	Queues    QueueNames
	Validator *messages.Validator
	Logger    *slog.Logger
	Prefetch  int

	// Metrics is optional; left nil, the stage reports no telemetry.
	Metrics *observability.Provider
}

func NewMatcher(q QueueNames) (*Matcher, error) {
	v, err := messages.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("pipeline: building matcher validator: %w", err)
	}
	return &Matcher{
		Queues:    q.WithDefaults(),
		Validator: v,
		Logger:    slog.Default().With("component", "matcher"),
		Prefetch:  DefaultPrefetch,
	}, nil
}

func (m *Matcher) Run(ctx context.Context, bus queue.Bus) error {
	prefetch := m.Prefetch
	if prefetch == 0 {
		prefetch = DefaultPrefetch
	}
	deliveries, err := bus.Consume(ctx, m.Queues.Matches, prefetch)
	if err != nil {
		return fmt.Errorf("pipeline: matcher consuming %s: %w", m.Queues.Matches, err)
	}
	for d := range deliveries {
		m.handle(ctx, bus, d)
	}
	return nil
}

func (m *Matcher) handle(ctx context.Context, bus queue.Bus, d queue.Delivery) {
	if err := m.Validator.Validate(messages.KindMatch, d.Payload); err != nil {
		m.reject(ctx, bus, d, err)
		return
	}
	var msg messages.MatchMessage
	if err := json.Unmarshal(d.Payload, &msg); err != nil {
		m.reject(ctx, bus, d, err)
		return
	}

	// A message already marked terminal arrived here because it shares the
	// matches queue with the Processor's own LastModified short-circuit: it
	// is already in place for the Exporter, so only the metadata-request
	// side effect still needs to run.
	if msg.Terminal {
		m.requestMetadataIfMatched(ctx, bus, msg)
		m.ack(ctx, d)
		return
	}

	if msg.Progress.Rule == nil {
		m.problem(ctx, bus, msg, fmt.Errorf("match message carries no rule residue"))
		m.ack(ctx, d)
		return
	}
	head, pve, nve := msg.Progress.Rule.Split()

	value, err := messages.DecodeConversionValue(head.OperatesOn(), msg.Value)
	if err != nil {
		m.problem(ctx, bus, msg, err)
		m.ack(ctx, d)
		return
	}

	ctx, done := m.track(ctx, fmt.Sprintf("%T", head))
	fragments, err := head.Match(value)
	m.recordRuleEvaluation(ctx, fmt.Sprintf("%T", head))
	if err != nil {
		done(err)
		m.problem(ctx, bus, msg, fmt.Errorf("rule %T match: %w", head, err))
		m.ack(ctx, d)
		return
	}
	done(nil)

	accumulated := append(append([]rule.MatchFragment(nil), msg.Progress.Matches...), fragments...)
	residue := nve
	if len(fragments) > 0 {
		residue = pve
	}

	if residue.IsBoolean() {
		m.finish(ctx, bus, messages.MatchMessage{
			ScanSpec: msg.ScanSpec, Handle: msg.Handle,
			Progress: messages.Progress{Rule: msg.Progress.Rule, Matches: accumulated},
			Matched:  residue.Bool(), Matches: accumulated, Terminal: true,
		})
		m.ack(ctx, d)
		return
	}

	req := messages.ConversionRequest{
		ScanSpec: msg.ScanSpec, Handle: msg.Handle,
		Progress: messages.Progress{Rule: residue.Rule(), Matches: accumulated},
	}
	data, err := json.Marshal(req)
	if err != nil {
		m.Logger.ErrorContext(ctx, "marshalling follow-on conversion request", "error", err)
		m.ack(ctx, d)
		return
	}
	if err := bus.Publish(ctx, m.Queues.Conversions, data); err != nil {
		m.Logger.ErrorContext(ctx, "publishing follow-on conversion request", "error", err)
	}
	m.ack(ctx, d)
}

// finish publishes msg on the matches queue for the Exporter, and, when it
// is a positive match, a MetadataRequest for the Tagger.
func (m *Matcher) finish(ctx context.Context, bus queue.Bus, msg messages.MatchMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		m.Logger.ErrorContext(ctx, "marshalling terminal match message", "error", err)
		return
	}
	if err := bus.Publish(ctx, m.Queues.Matches, data); err != nil {
		m.Logger.ErrorContext(ctx, "publishing terminal match message", "error", err)
	} else if msg.Matched {
		m.recordMatchFound(ctx)
	}
	m.requestMetadataIfMatched(ctx, bus, msg)
}

func (m *Matcher) requestMetadataIfMatched(ctx context.Context, bus queue.Bus, msg messages.MatchMessage) {
	if !msg.Matched {
		return
	}
	req := messages.MetadataRequest{ScanTag: msg.ScanSpec.ScanTag, Handle: msg.Handle}
	reqData, err := json.Marshal(req)
	if err != nil {
		m.Logger.ErrorContext(ctx, "marshalling metadata request", "error", err)
		return
	}
	if err := bus.Publish(ctx, m.Queues.MetadataRequests, reqData); err != nil {
		m.Logger.ErrorContext(ctx, "publishing metadata request", "error", err)
	}
}

func (m *Matcher) problem(ctx context.Context, bus queue.Bus, msg messages.MatchMessage, err error) {
	where := "<unknown handle>"
	if msg.Handle != nil {
		where = msg.Handle.Presentation()
	}
	m.recordProblem(ctx, err)
	publishProblem(ctx, bus, m.Queues.Problems, messages.ProblemMessage{
		ScanTag: msg.ScanSpec.ScanTag, Where: where, Problem: messages.RuleBug, Extra: []string{err.Error()},
	}, m.Logger)
}

func (m *Matcher) reject(ctx context.Context, bus queue.Bus, d queue.Delivery, err error) {
	m.Logger.WarnContext(ctx, "rejecting malformed match message", "error", err)
	m.recordProblem(ctx, err)
	publishProblem(ctx, bus, m.Queues.Problems, messages.ProblemMessage{
		Where: string(d.Payload), Problem: messages.Malformed, Extra: []string{err.Error()},
	}, m.Logger)
	m.ack(ctx, d)
}

func (m *Matcher) ack(ctx context.Context, d queue.Delivery) {
	if d.Ack != nil {
		if err := d.Ack(ctx); err != nil {
			m.Logger.ErrorContext(ctx, "acking match message delivery", "error", err)
		}
	}
}

// track starts the stage-wide span/duration/active-operations tracking for
// one rule head evaluation, a no-op if Metrics is nil.
func (m *Matcher) track(ctx context.Context, ruleType string) (context.Context, func(error)) {
	if m.Metrics == nil {
		return ctx, func(error) {}
	}
	return m.Metrics.TrackOperation(ctx, "matcher.handle", observability.AttrRuleType.String(ruleType))
}

func (m *Matcher) recordRuleEvaluation(ctx context.Context, ruleType string) {
	if m.Metrics != nil {
		m.Metrics.RecordRuleEvaluation(ctx, observability.AttrRuleType.String(ruleType))
	}
}

func (m *Matcher) recordMatchFound(ctx context.Context) {
	if m.Metrics != nil {
		m.Metrics.RecordMatchFound(ctx)
	}
}

func (m *Matcher) recordProblem(ctx context.Context, err error) {
	if m.Metrics != nil {
		m.Metrics.RecordProblem(ctx, err)
	}
}
