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

func fileHandle(t *testing.T, dir, name, content string) model.Handle {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	src := model.NewFileSource(dir)
	var h model.Handle
	for hh, err := range src.Handles(context.Background(), nil) {
		require.NoError(t, err)
		if hh.RelativePath() == name {
			h = hh
		}
	}
	require.NotNil(t, h)
	return h
}

func TestProcessorConvertsTextAndForwardsNonTerminalMatch(t *testing.T) {
	dir := t.TempDir()
	h := fileHandle(t, dir, "a.txt", "hello world")

	re, err := leaf.NewRegexRule("hello", rule.Warning)
	require.NoError(t, err)

	req := messages.ConversionRequest{
		ScanSpec: messages.ScanSpec{ScanTag: testScanTag(), Source: model.NewFileSource(dir), Rule: re},
		Handle:   h,
		Progress: messages.Progress{Rule: re},
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	bus := queue.NewMemoryBus()
	defer bus.Close()

	p, err := NewProcessor(QueueNames{})
	require.NoError(t, err)
	p.handle(context.Background(), bus, queue.Delivery{Payload: data})

	matches := drain(t, bus, p.Queues.Matches, 200*time.Millisecond)
	require.Len(t, matches, 1)

	var msg messages.MatchMessage
	require.NoError(t, json.Unmarshal(matches[0], &msg))
	require.False(t, msg.Terminal)

	var text string
	require.NoError(t, json.Unmarshal(msg.Value, &text))
	require.Equal(t, "hello world", text)
}

func TestProcessorLastModifiedShortCircuitsToTerminalNve(t *testing.T) {
	dir := t.TempDir()
	h := fileHandle(t, dir, "a.txt", "hello world")

	re, err := leaf.NewRegexRule("hello", rule.Warning)
	require.NoError(t, err)

	req := messages.ConversionRequest{
		ScanSpec: messages.ScanSpec{
			ScanTag: testScanTag(), Source: model.NewFileSource(dir), Rule: re,
			Configuration: map[string]any{lastModifiedAfterKey: time.Now().Add(time.Hour).Format(time.RFC3339)},
		},
		Handle:   h,
		Progress: messages.Progress{Rule: re},
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	bus := queue.NewMemoryBus()
	defer bus.Close()

	p, err := NewProcessor(QueueNames{})
	require.NoError(t, err)
	p.handle(context.Background(), bus, queue.Delivery{Payload: data})

	matches := drain(t, bus, p.Queues.Matches, 200*time.Millisecond)
	require.Len(t, matches, 1)

	var msg messages.MatchMessage
	require.NoError(t, json.Unmarshal(matches[0], &msg))
	require.True(t, msg.Terminal)
	require.False(t, msg.Matched)
}

func TestProcessorReportsConversionProblemWhenNoConverterOrContainer(t *testing.T) {
	dir := t.TempDir()
	h := fileHandle(t, dir, "a.bin", "not text")

	dim := leaf.NewDimensionsRule(1, 1, 1, rule.Warning)

	req := messages.ConversionRequest{
		ScanSpec: messages.ScanSpec{ScanTag: testScanTag(), Source: model.NewFileSource(dir), Rule: dim},
		Handle:   h,
		Progress: messages.Progress{Rule: dim},
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	bus := queue.NewMemoryBus()
	defer bus.Close()

	p, err := NewProcessor(QueueNames{})
	require.NoError(t, err)
	p.handle(context.Background(), bus, queue.Delivery{Payload: data})

	problems := drain(t, bus, p.Queues.Problems, 200*time.Millisecond)
	require.Len(t, problems, 1)
	var prob messages.ProblemMessage
	require.NoError(t, json.Unmarshal(problems[0], &prob))
	require.Equal(t, messages.Conversion, prob.Problem)
}
