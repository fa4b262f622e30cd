package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/AsgerHL/Bachelor-POC/pkg/messages"
	"github.com/AsgerHL/Bachelor-POC/pkg/model"
	"github.com/AsgerHL/Bachelor-POC/pkg/queue"
	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
	"github.com/AsgerHL/Bachelor-POC/pkg/rule/leaf"
	"github.com/stretchr/testify/require"
)

func testHandle(t *testing.T) model.Handle {
	t.Helper()
	return &model.FileHandle{Base: model.NewBase(model.NewFileSource(t.TempDir()), "a.txt")}
}

func TestMatcherEmitsTerminalMatchAndMetadataRequestOnMatch(t *testing.T) {
	re, err := leaf.NewRegexRule("hello", rule.Warning)
	require.NoError(t, err)

	h := testHandle(t)
	spec := messages.ScanSpec{ScanTag: testScanTag(), Source: h.Source(), Rule: re}
	value, err := messages.EncodeConversionValue("hello world")
	require.NoError(t, err)

	msg := messages.MatchMessage{
		ScanSpec: spec, Handle: h, Progress: messages.Progress{Rule: re}, Value: value,
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	bus := queue.NewMemoryBus()
	defer bus.Close()

	m, err := NewMatcher(QueueNames{})
	require.NoError(t, err)
	m.handle(context.Background(), bus, queue.Delivery{Payload: data})

	matches := drain(t, bus, m.Queues.Matches, 200*time.Millisecond)
	require.Len(t, matches, 1)
	var out messages.MatchMessage
	require.NoError(t, json.Unmarshal(matches[0], &out))
	require.True(t, out.Terminal)
	require.True(t, out.Matched)
	require.Len(t, out.Matches, 1)

	reqs := drain(t, bus, m.Queues.MetadataRequests, 200*time.Millisecond)
	require.Len(t, reqs, 1)
	var req messages.MetadataRequest
	require.NoError(t, json.Unmarshal(reqs[0], &req))
	require.Equal(t, spec.ScanTag, req.ScanTag)
}

func TestMatcherEmitsFollowOnConversionRequestForCompoundRule(t *testing.T) {
	re, err := leaf.NewRegexRule("hello", rule.Warning)
	require.NoError(t, err)
	dim := leaf.NewDimensionsRule(1, 1, 1, rule.Warning)
	and := rule.NewAnd(re, dim)

	h := testHandle(t)
	spec := messages.ScanSpec{ScanTag: testScanTag(), Source: h.Source(), Rule: and}
	value, err := messages.EncodeConversionValue("hello world")
	require.NoError(t, err)

	msg := messages.MatchMessage{
		ScanSpec: spec, Handle: h, Progress: messages.Progress{Rule: and}, Value: value,
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	bus := queue.NewMemoryBus()
	defer bus.Close()

	m, err := NewMatcher(QueueNames{})
	require.NoError(t, err)
	m.handle(context.Background(), bus, queue.Delivery{Payload: data})

	reqs := drain(t, bus, m.Queues.Conversions, 200*time.Millisecond)
	require.Len(t, reqs, 1)
	var req messages.ConversionRequest
	require.NoError(t, json.Unmarshal(reqs[0], &req))
	require.NotNil(t, req.Progress.Rule)
	require.Equal(t, rule.ImageDimensions, req.Progress.Rule.(rule.SimpleRule).OperatesOn())

	matches := drain(t, bus, m.Queues.Matches, 100*time.Millisecond)
	require.Empty(t, matches)
}

func TestMatcherDoesNotRepublishIncomingTerminalMessage(t *testing.T) {
	h := testHandle(t)
	spec := messages.ScanSpec{ScanTag: testScanTag(), Source: h.Source(), Rule: leaf.NewAlwaysMatchesRule(rule.Warning)}
	msg := messages.MatchMessage{ScanSpec: spec, Handle: h, Matched: true, Terminal: true}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	bus := queue.NewMemoryBus()
	defer bus.Close()

	m, err := NewMatcher(QueueNames{})
	require.NoError(t, err)
	m.handle(context.Background(), bus, queue.Delivery{Payload: data})

	matches := drain(t, bus, m.Queues.Matches, 100*time.Millisecond)
	require.Empty(t, matches)

	reqs := drain(t, bus, m.Queues.MetadataRequests, 200*time.Millisecond)
	require.Len(t, reqs, 1)
}
