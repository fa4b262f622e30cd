// Package pipeline wires the five stages — Explorer, Processor, Matcher,
// Tagger, Exporter — onto queue.Bus queues. Each stage runs one
// single-threaded consume loop per queue it drains (the Exporter drains
// four, concurrently; every other stage one): pull one delivery, decode and validate its envelope, do the
// stage's work, publish zero or more follow-on envelopes, ack. Parallelism
// is horizontal, by running more worker processes against the same queues,
// never by sharing a SourceManager or Rule evaluator across goroutines.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/AsgerHL/Bachelor-POC/pkg/messages"
	"github.com/AsgerHL/Bachelor-POC/pkg/queue"
)

// Default queue names, overridable per deployment by QueueNames.
// MetadataRequests is split out from Metadata because Matcher's requests
// and Tagger's finished records are different envelope shapes flowing in
// opposite directions, and collapsing them onto one queue name would mean
// a consumer has to sniff which shape it got.
const (
	DefaultScanSpecs       = "os2ds_scan_specs"
	DefaultConversions     = "os2ds_conversions"
	DefaultMatches         = "os2ds_matches"
	DefaultMetadataRequest = "os2ds_metadata_requests"
	DefaultMetadata        = "os2ds_metadata"
	DefaultProblems        = "os2ds_problems"
	DefaultStatus          = "os2ds_status"
)

// QueueNames is the queue name wiring one deployment uses; zero value
// fields fall back to the Default* constants via WithDefaults.
type QueueNames struct {
	ScanSpecs        string
	Conversions      string
	Matches          string
	MetadataRequests string
	Metadata         string
	Problems         string
	Status           string
}

// WithDefaults returns q with every empty field filled from the Default*
// constants.
func (q QueueNames) WithDefaults() QueueNames {
	if q.ScanSpecs == "" {
		q.ScanSpecs = DefaultScanSpecs
	}
	if q.Conversions == "" {
		q.Conversions = DefaultConversions
	}
	if q.Matches == "" {
		q.Matches = DefaultMatches
	}
	if q.MetadataRequests == "" {
		q.MetadataRequests = DefaultMetadataRequest
	}
	if q.Metadata == "" {
		q.Metadata = DefaultMetadata
	}
	if q.Problems == "" {
		q.Problems = DefaultProblems
	}
	if q.Status == "" {
		q.Status = DefaultStatus
	}
	return q
}

// DefaultPrefetch is how many unacknowledged deliveries a stage keeps
// outstanding at once, per §5's concurrency model.
const DefaultPrefetch = 8

// Stage is any of Explorer/Processor/Matcher/Tagger/Exporter: a worker loop
// that runs until ctx is cancelled, at which point it stops pulling new
// deliveries, drains in-flight work, and returns.
type Stage interface {
	Run(ctx context.Context, bus queue.Bus) error
}

// publishProblem marshals and publishes p on the problems queue, logging
// (rather than returning) a failure to do even that — a stage's problem
// path must never itself be able to block the stage on a second failure.
func publishProblem(ctx context.Context, bus queue.Bus, queueName string, p messages.ProblemMessage, logger *slog.Logger) {
	data, err := json.Marshal(p)
	if err != nil {
		logger.ErrorContext(ctx, "failed to marshal problem message", "error", err)
		return
	}
	if err := bus.Publish(ctx, queueName, data); err != nil {
		logger.ErrorContext(ctx, "failed to publish problem message", "error", err)
	}
}

// publishStatus marshals and publishes s on the status queue, with the same
// best-effort logging discipline as publishProblem.
func publishStatus(ctx context.Context, bus queue.Bus, queueName string, s messages.StatusMessage, logger *slog.Logger) {
	data, err := json.Marshal(s)
	if err != nil {
		logger.ErrorContext(ctx, "failed to marshal status message", "error", err)
		return
	}
	if err := bus.Publish(ctx, queueName, data); err != nil {
		logger.ErrorContext(ctx, "failed to publish status message", "error", err)
	}
}
