package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/AsgerHL/Bachelor-POC/pkg/messages"
	"github.com/AsgerHL/Bachelor-POC/pkg/queue"
	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
	"github.com/AsgerHL/Bachelor-POC/pkg/rule/leaf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	matches  []messages.MatchMessage
	metadata []messages.MetadataMessage
	problems []messages.ProblemMessage
	statuses []messages.StatusMessage
}

func (s *recordingSink) Match(_ context.Context, m messages.MatchMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches = append(s.matches, m)
	return nil
}

func (s *recordingSink) Metadata(_ context.Context, m messages.MetadataMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = append(s.metadata, m)
	return nil
}

func (s *recordingSink) Problem(_ context.Context, m messages.ProblemMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.problems = append(s.problems, m)
	return nil
}

func (s *recordingSink) Status(_ context.Context, m messages.StatusMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, m)
	return nil
}

func fakeDelivery(payload []byte) queue.Delivery {
	return queue.Delivery{Payload: payload}
}

func TestExporterRequiresNonNilSink(t *testing.T) {
	_, err := NewExporter(QueueNames{}, nil)
	require.Error(t, err)
}

func TestExporterDropsNonTerminalMatchWithoutError(t *testing.T) {
	sink := &recordingSink{}
	e, err := NewExporter(QueueNames{}, sink)
	require.NoError(t, err)

	h := testHandle(t)
	msg := messages.MatchMessage{
		ScanSpec: messages.ScanSpec{ScanTag: testScanTag(), Source: h.Source(), Rule: leaf.NewAlwaysMatchesRule(rule.Warning)},
		Handle:   h, Terminal: false,
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	e.handleMatch(context.Background(), fakeDelivery(data))
	assert.Empty(t, sink.matches)
}

func TestExporterSinksTerminalMatch(t *testing.T) {
	sink := &recordingSink{}
	e, err := NewExporter(QueueNames{}, sink)
	require.NoError(t, err)

	h := testHandle(t)
	msg := messages.MatchMessage{
		ScanSpec: messages.ScanSpec{ScanTag: testScanTag(), Source: h.Source(), Rule: leaf.NewAlwaysMatchesRule(rule.Warning)},
		Handle:   h, Matched: true, Terminal: true,
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	e.handleMatch(context.Background(), fakeDelivery(data))
	require.Len(t, sink.matches, 1)
	assert.True(t, sink.matches[0].Matched)
}

func TestExporterSinksMetadataProblemAndStatus(t *testing.T) {
	sink := &recordingSink{}
	e, err := NewExporter(QueueNames{}, sink)
	require.NoError(t, err)

	metaMsg := messages.MetadataMessage{ScanTag: testScanTag(), Crunch: "abc"}
	metaData, err := json.Marshal(metaMsg)
	require.NoError(t, err)
	e.handleMetadata(context.Background(), fakeDelivery(metaData))
	require.Len(t, sink.metadata, 1)

	probMsg := messages.ProblemMessage{ScanTag: testScanTag(), Where: "x", Problem: messages.Unavailable}
	probData, err := json.Marshal(probMsg)
	require.NoError(t, err)
	e.handleProblem(context.Background(), fakeDelivery(probData))
	require.Len(t, sink.problems, 1)

	total := 1
	statusMsg := messages.StatusMessage{ScanTag: testScanTag(), Message: "done", TotalObjects: &total}
	statusData, err := json.Marshal(statusMsg)
	require.NoError(t, err)
	e.handleStatus(context.Background(), fakeDelivery(statusData))
	require.Len(t, sink.statuses, 1)
}
