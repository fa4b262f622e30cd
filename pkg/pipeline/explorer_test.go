package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AsgerHL/Bachelor-POC/pkg/messages"
	"github.com/AsgerHL/Bachelor-POC/pkg/model"
	"github.com/AsgerHL/Bachelor-POC/pkg/queue"
	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
	"github.com/AsgerHL/Bachelor-POC/pkg/rule/leaf"
	"github.com/stretchr/testify/require"
)

func testScanTag() messages.ScanTag {
	return messages.ScanTag{Scanner: messages.Scanner{PK: 1, Name: "test"}, Time: time.Unix(1700000000, 0).UTC()}
}

func drain(t *testing.T, bus queue.Bus, queueName string, timeout time.Duration) [][]byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	deliveries, err := bus.Consume(ctx, queueName, 8)
	require.NoError(t, err)
	var out [][]byte
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return out
			}
			out = append(out, d.Payload)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func TestExplorerEmitsConversionRequestPerHandle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("world"), 0o644))

	re, err := leaf.NewRegexRule("hello", rule.Warning)
	require.NoError(t, err)

	spec := messages.ScanSpec{ScanTag: testScanTag(), Source: model.NewFileSource(dir), Rule: re}
	data, err := json.Marshal(spec)
	require.NoError(t, err)

	bus := queue.NewMemoryBus()
	defer bus.Close()

	e, err := NewExplorer(QueueNames{})
	require.NoError(t, err)
	e.handle(context.Background(), bus, queue.Delivery{Payload: data})

	reqs := drain(t, bus, e.Queues.Conversions, 200*time.Millisecond)
	require.Len(t, reqs, 2)

	for _, raw := range reqs {
		var req messages.ConversionRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		require.NotNil(t, req.Progress.Rule)
		require.Equal(t, spec.ScanTag, req.ScanSpec.ScanTag)
	}

	statuses := drain(t, bus, e.Queues.Status, 200*time.Millisecond)
	require.Len(t, statuses, 1)
	var status messages.StatusMessage
	require.NoError(t, json.Unmarshal(statuses[0], &status))
	require.NotNil(t, status.TotalObjects)
	require.Equal(t, 2, *status.TotalObjects)
	require.False(t, status.StatusIsError)
}

type fixedCompatibility struct {
	ok  bool
	err error
}

func (f fixedCompatibility) Check(string) (bool, error) { return f.ok, f.err }

func TestExplorerRejectsIncompatibleSchemaVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	spec := messages.ScanSpec{
		ScanTag:       testScanTag(),
		Source:        model.NewFileSource(dir),
		Rule:          leaf.NewAlwaysMatchesRule(rule.Warning),
		Configuration: map[string]any{"schema_version": ">= 99.0.0"},
	}
	data, err := json.Marshal(spec)
	require.NoError(t, err)

	bus := queue.NewMemoryBus()
	defer bus.Close()

	e, err := NewExplorer(QueueNames{})
	require.NoError(t, err)
	e.Compatibility = fixedCompatibility{ok: false}
	e.handle(context.Background(), bus, queue.Delivery{Payload: data})

	problems := drain(t, bus, e.Queues.Problems, 200*time.Millisecond)
	require.Len(t, problems, 1)

	reqs := drain(t, bus, e.Queues.Conversions, 100*time.Millisecond)
	require.Empty(t, reqs)
}

func TestExplorerReportsUnavailableSource(t *testing.T) {
	re := leaf.NewAlwaysMatchesRule(rule.Warning)
	spec := messages.ScanSpec{
		ScanTag: testScanTag(),
		Source:  model.NewFileSource(filepath.Join(t.TempDir(), "does-not-exist")),
		Rule:    re,
	}
	data, err := json.Marshal(spec)
	require.NoError(t, err)

	bus := queue.NewMemoryBus()
	defer bus.Close()

	e, err := NewExplorer(QueueNames{})
	require.NoError(t, err)
	e.handle(context.Background(), bus, queue.Delivery{Payload: data})

	problems := drain(t, bus, e.Queues.Problems, 200*time.Millisecond)
	require.Len(t, problems, 1)
	var p messages.ProblemMessage
	require.NoError(t, json.Unmarshal(problems[0], &p))
	require.Equal(t, messages.Unavailable, p.Problem)

	statuses := drain(t, bus, e.Queues.Status, 200*time.Millisecond)
	require.Len(t, statuses, 1)
	var status messages.StatusMessage
	require.NoError(t, json.Unmarshal(statuses[0], &status))
	require.True(t, status.StatusIsError)
}
