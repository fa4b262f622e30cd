package mail

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/AsgerHL/Bachelor-POC/pkg/model"
	"github.com/AsgerHL/Bachelor-POC/pkg/sourcemanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMbox = `From alice@example.com Mon Jan  1 00:00:00 2026
From: alice@example.com
Subject: first

body one contains a cpr-like pattern
From bob@example.com Mon Jan  1 00:01:00 2026
From: bob@example.com
Subject: second

body two
`

func TestMboxSourceListsMessagesAndReadsContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.mbox")
	require.NoError(t, os.WriteFile(path, []byte(sampleMbox), 0o644))

	parentSrc := model.NewFileSource(dir)
	parentHandle := &model.FileHandle{Base: model.NewBase(parentSrc, "a.mbox")}

	ms := NewMboxSource(parentHandle)
	sm := sourcemanager.New()
	t.Cleanup(func() { sm.Clear() })

	var paths []string
	for h, err := range ms.Handles(context.Background(), sm) {
		require.NoError(t, err)
		paths = append(paths, h.RelativePath())
	}
	require.Len(t, paths, 2)

	h := &MboxHandle{Base: model.NewBase(ms, paths[0])}
	res, err := h.Follow(context.Background(), sm)
	require.NoError(t, err)
	fr := res.(model.FileResource)
	rc, err := fr.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Subject: first")
}
