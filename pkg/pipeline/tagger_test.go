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
	"github.com/stretchr/testify/require"
)

func TestTaggerAssemblesMetadataForHandle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello world"), 0o644))
	h := &model.FileHandle{Base: model.NewBase(model.NewFileSource(dir), "a.txt")}

	req := messages.MetadataRequest{ScanTag: testScanTag(), Handle: h}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	bus := queue.NewMemoryBus()
	defer bus.Close()

	tg, err := NewTagger(QueueNames{})
	require.NoError(t, err)
	tg.handle(context.Background(), bus, queue.Delivery{Payload: data})

	out := drain(t, bus, tg.Queues.Metadata, 200*time.Millisecond)
	require.Len(t, out, 1)

	var msg messages.MetadataMessage
	require.NoError(t, json.Unmarshal(out[0], &msg))
	require.NotEmpty(t, msg.Crunch)
	require.Equal(t, "text/plain", msg.Mime)
	require.Equal(t, h.PresentationURL(), msg.PresentationURL)
	require.WithinDuration(t, time.Now(), msg.LastModified, time.Minute)
}

func TestTaggerReportsUnavailableHandle(t *testing.T) {
	dir := t.TempDir()
	h := &model.FileHandle{Base: model.NewBase(model.NewFileSource(dir), "missing.txt")}

	req := messages.MetadataRequest{ScanTag: testScanTag(), Handle: h}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	bus := queue.NewMemoryBus()
	defer bus.Close()

	tg, err := NewTagger(QueueNames{})
	require.NoError(t, err)
	tg.handle(context.Background(), bus, queue.Delivery{Payload: data})

	problems := drain(t, bus, tg.Queues.Problems, 200*time.Millisecond)
	require.Len(t, problems, 1)
}
