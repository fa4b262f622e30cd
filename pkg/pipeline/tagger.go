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

// ownedResource is an optional Resource capability: a handful of backends
// (SMB shares with NT security descriptors, mailboxes) know who owns the
// object they name. Resources that don't implement it simply leave
// MetadataMessage.Owner blank.
type ownedResource interface {
	Owner() (string, error)
}

// Tagger consumes metadata requests for positive terminal matches and
// assembles the durable record the Exporter writes out: crunch digest,
// owner (when the backend exposes one), last-modified time, MIME type, and
// a presentation URL. It opens its own SourceManager rather than sharing
// one with the Processor or Matcher, since by the time a match has gone
// terminal those stages may already have torn theirs down.
type Tagger struct {
	Queues    QueueNames
	Validator *messages.Validator
	Logger    *slog.Logger
	Prefetch  int

	// Metrics is optional; left nil, the stage reports no telemetry.
	Metrics *observability.Provider
}

func NewTagger(q QueueNames) (*Tagger, error) {
	v, err := messages.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("pipeline: building tagger validator: %w", err)
	}
	return &Tagger{
		Queues:    q.WithDefaults(),
		Validator: v,
		Logger:    slog.Default().With("component", "tagger"),
		Prefetch:  DefaultPrefetch,
	}, nil
}

func (t *Tagger) Run(ctx context.Context, bus queue.Bus) error {
	prefetch := t.Prefetch
	if prefetch == 0 {
		prefetch = DefaultPrefetch
	}
	deliveries, err := bus.Consume(ctx, t.Queues.MetadataRequests, prefetch)
	if err != nil {
		return fmt.Errorf("pipeline: tagger consuming %s: %w", t.Queues.MetadataRequests, err)
	}
	for d := range deliveries {
		t.handle(ctx, bus, d)
	}
	return nil
}

func (t *Tagger) handle(ctx context.Context, bus queue.Bus, d queue.Delivery) {
	if err := t.Validator.Validate(messages.KindMetadataRequest, d.Payload); err != nil {
		t.reject(ctx, bus, d, err)
		return
	}
	var req messages.MetadataRequest
	if err := json.Unmarshal(d.Payload, &req); err != nil {
		t.reject(ctx, bus, d, err)
		return
	}

	sm := sourcemanager.New()
	defer sm.Clear()

	ctx, done := t.track(ctx)
	var opErr error
	defer func() { done(opErr) }()

	digest, err := req.Handle.Crunch(true)
	if err != nil {
		opErr = err
		t.problem(ctx, bus, req, err)
		t.ack(ctx, d)
		return
	}

	msg := messages.MetadataMessage{
		ScanTag:         req.ScanTag,
		Crunch:          fmt.Sprintf("%x", digest),
		PresentationURL: req.Handle.PresentationURL(),
	}

	res, err := req.Handle.Follow(ctx, sm)
	if err != nil {
		opErr = err
		t.problem(ctx, bus, req, err)
		t.ack(ctx, d)
		return
	}
	lm, err := res.LastModified()
	if err != nil {
		opErr = err
		t.problem(ctx, bus, req, err)
		t.ack(ctx, d)
		return
	}
	msg.LastModified = lm

	if mime, err := res.MimeType(); err == nil {
		msg.Mime = mime
	}
	if owned, ok := res.(ownedResource); ok {
		if owner, err := owned.Owner(); err == nil {
			msg.Owner = owner
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Logger.ErrorContext(ctx, "marshalling metadata message", "error", err)
		t.ack(ctx, d)
		return
	}
	if err := bus.Publish(ctx, t.Queues.Metadata, data); err != nil {
		t.Logger.ErrorContext(ctx, "publishing metadata message", "error", err)
	}
	t.ack(ctx, d)
}

func (t *Tagger) problem(ctx context.Context, bus queue.Bus, req messages.MetadataRequest, err error) {
	where := "<unknown handle>"
	if req.Handle != nil {
		where = req.Handle.Presentation()
	}
	kind := messages.Unavailable
	switch err.(type) {
	case *model.MalformedError, *model.DeserialisationError:
		kind = messages.Malformed
	}
	t.recordProblem(ctx, err)
	publishProblem(ctx, bus, t.Queues.Problems, messages.ProblemMessage{
		ScanTag: req.ScanTag, Where: where, Problem: kind, Extra: []string{err.Error()},
	}, t.Logger)
}

func (t *Tagger) reject(ctx context.Context, bus queue.Bus, d queue.Delivery, err error) {
	t.Logger.WarnContext(ctx, "rejecting malformed metadata request", "error", err)
	t.recordProblem(ctx, err)
	publishProblem(ctx, bus, t.Queues.Problems, messages.ProblemMessage{
		Where: string(d.Payload), Problem: messages.Malformed, Extra: []string{err.Error()},
	}, t.Logger)
	t.ack(ctx, d)
}

func (t *Tagger) ack(ctx context.Context, d queue.Delivery) {
	if d.Ack != nil {
		if err := d.Ack(ctx); err != nil {
			t.Logger.ErrorContext(ctx, "acking metadata request delivery", "error", err)
		}
	}
}

// track starts the stage-wide span/duration/active-operations tracking for
// one metadata request, a no-op if Metrics is nil.
func (t *Tagger) track(ctx context.Context) (context.Context, func(error)) {
	if t.Metrics == nil {
		return ctx, func(error) {}
	}
	return t.Metrics.TrackOperation(ctx, "tagger.handle")
}

func (t *Tagger) recordProblem(ctx context.Context, err error) {
	if t.Metrics != nil {
		t.Metrics.RecordProblem(ctx, err)
	}
}
