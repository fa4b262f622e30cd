package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AsgerHL/Bachelor-POC/pkg/messages"
	"github.com/AsgerHL/Bachelor-POC/pkg/observability"
	"github.com/AsgerHL/Bachelor-POC/pkg/queue"
)

// Sink is where the Exporter forwards terminal events. Implementations are
// free to batch, retry, or drop at their own discretion; the Exporter hands
// each decoded message to the sink once and acknowledges the delivery
// whether or not the sink returned an error (an error is logged, not
// redelivered), and it carries no state of its own beyond the sink.
type Sink interface {
	Match(ctx context.Context, m messages.MatchMessage) error
	Metadata(ctx context.Context, m messages.MetadataMessage) error
	Problem(ctx context.Context, m messages.ProblemMessage) error
	Status(ctx context.Context, m messages.StatusMessage) error
}

// Exporter drains the matches, metadata, problems, and status queues and
// hands each decoded message to Sink. The four queues are consumed by
// independent loops so a slow sink on one doesn't stall the others.
type Exporter struct {
	Queues    QueueNames
	Validator *messages.Validator
	Sink      Sink
	Logger    *slog.Logger
	Prefetch  int

	// Metrics is optional; left nil, the stage reports no telemetry.
	Metrics *observability.Provider
}

func NewExporter(q QueueNames, sink Sink) (*Exporter, error) {
	v, err := messages.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("pipeline: building exporter validator: %w", err)
	}
	if sink == nil {
		return nil, fmt.Errorf("pipeline: exporter requires a non-nil sink")
	}
	return &Exporter{
		Queues:    q.WithDefaults(),
		Validator: v,
		Sink:      sink,
		Logger:    slog.Default().With("component", "exporter"),
		Prefetch:  DefaultPrefetch,
	}, nil
}

func (e *Exporter) Run(ctx context.Context, bus queue.Bus) error {
	prefetch := e.Prefetch
	if prefetch == 0 {
		prefetch = DefaultPrefetch
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)

	run := func(queueName string, fn func(context.Context, queue.Delivery)) {
		defer wg.Done()
		deliveries, err := bus.Consume(ctx, queueName, prefetch)
		if err != nil {
			errs <- fmt.Errorf("pipeline: exporter consuming %s: %w", queueName, err)
			return
		}
		for d := range deliveries {
			fn(ctx, d)
		}
	}

	wg.Add(4)
	go run(e.Queues.Matches, e.handleMatch)
	go run(e.Queues.Metadata, e.handleMetadata)
	go run(e.Queues.Problems, e.handleProblem)
	go run(e.Queues.Status, e.handleStatus)

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) handleMatch(ctx context.Context, d queue.Delivery) {
	if err := e.Validator.Validate(messages.KindMatch, d.Payload); err != nil {
		e.reject(ctx, d, err)
		return
	}
	var msg messages.MatchMessage
	if err := json.Unmarshal(d.Payload, &msg); err != nil {
		e.reject(ctx, d, err)
		return
	}
	if !msg.Terminal {
		// Only the evaluation loop's final message is an export event; the
		// intermediate non-terminal ones carrying a single conversion value
		// never reach the Exporter under normal wiring, but tolerate them
		// rather than treat a stray one as malformed.
		e.ack(ctx, d)
		return
	}
	ctx, done := e.track(ctx, "match")
	err := e.Sink.Match(ctx, msg)
	done(err)
	if err != nil {
		e.Logger.ErrorContext(ctx, "sinking match message", "error", err)
	}
	e.ack(ctx, d)
}

func (e *Exporter) handleMetadata(ctx context.Context, d queue.Delivery) {
	if err := e.Validator.Validate(messages.KindMetadataMessage, d.Payload); err != nil {
		e.reject(ctx, d, err)
		return
	}
	var msg messages.MetadataMessage
	if err := json.Unmarshal(d.Payload, &msg); err != nil {
		e.reject(ctx, d, err)
		return
	}
	ctx, done := e.track(ctx, "metadata")
	err := e.Sink.Metadata(ctx, msg)
	done(err)
	if err != nil {
		e.Logger.ErrorContext(ctx, "sinking metadata message", "error", err)
	}
	e.ack(ctx, d)
}

func (e *Exporter) handleProblem(ctx context.Context, d queue.Delivery) {
	if err := e.Validator.Validate(messages.KindProblem, d.Payload); err != nil {
		e.reject(ctx, d, err)
		return
	}
	var msg messages.ProblemMessage
	if err := json.Unmarshal(d.Payload, &msg); err != nil {
		e.reject(ctx, d, err)
		return
	}
	ctx, done := e.track(ctx, "problem")
	err := e.Sink.Problem(ctx, msg)
	done(err)
	if err != nil {
		e.Logger.ErrorContext(ctx, "sinking problem message", "error", err)
	}
	e.ack(ctx, d)
}

func (e *Exporter) handleStatus(ctx context.Context, d queue.Delivery) {
	if err := e.Validator.Validate(messages.KindStatus, d.Payload); err != nil {
		e.reject(ctx, d, err)
		return
	}
	var msg messages.StatusMessage
	if err := json.Unmarshal(d.Payload, &msg); err != nil {
		e.reject(ctx, d, err)
		return
	}
	ctx, done := e.track(ctx, "status")
	err := e.Sink.Status(ctx, msg)
	done(err)
	if err != nil {
		e.Logger.ErrorContext(ctx, "sinking status message", "error", err)
	}
	e.ack(ctx, d)
}

func (e *Exporter) reject(ctx context.Context, d queue.Delivery, err error) {
	e.Logger.WarnContext(ctx, "dropping undecodable export event", "error", err)
	e.recordProblem(ctx, err)
	e.ack(ctx, d)
}

func (e *Exporter) ack(ctx context.Context, d queue.Delivery) {
	if d.Ack != nil {
		if err := d.Ack(ctx); err != nil {
			e.Logger.ErrorContext(ctx, "acking export delivery", "error", err)
		}
	}
}

// track starts the stage-wide span/duration/active-operations tracking for
// one sink call, a no-op if Metrics is nil. kind distinguishes the four
// independent consume loops (match/metadata/problem/status) in exported spans.
func (e *Exporter) track(ctx context.Context, kind string) (context.Context, func(error)) {
	if e.Metrics == nil {
		return ctx, func(error) {}
	}
	return e.Metrics.TrackOperation(ctx, "exporter."+kind)
}

func (e *Exporter) recordProblem(ctx context.Context, err error) {
	if e.Metrics != nil {
		e.Metrics.RecordProblem(ctx, err)
	}
}
