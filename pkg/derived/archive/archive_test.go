package archive

import (
	"archive/tar"
	"archive/zip"
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

func writeZip(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "a.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("inner.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("contains a secret"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return path
}

func writeTar(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "a.tar")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	tw := tar.NewWriter(f)
	content := []byte("tar secret content")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "inner.txt", Size: int64(len(content)), Mode: 0o644}))
	_, err = tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	return path
}

func TestZipSourceListsMembersAndReadsContent(t *testing.T) {
	dir := t.TempDir()
	writeZip(t, dir)

	parentSrc := model.NewFileSource(dir)
	parentHandle := &model.FileHandle{Base: model.NewBase(parentSrc, "a.zip")}

	zs := NewZipSource(parentHandle)
	sm := sourcemanager.New()
	t.Cleanup(func() { sm.Clear() })

	var names []string
	for h, err := range zs.Handles(context.Background(), sm) {
		require.NoError(t, err)
		names = append(names, h.RelativePath())
	}
	require.Equal(t, []string{"inner.txt"}, names)

	h := &ZipHandle{Base: model.NewBase(zs, "inner.txt")}
	res, err := h.Follow(context.Background(), sm)
	require.NoError(t, err)
	fr := res.(model.FileResource)
	rc, err := fr.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "contains a secret", string(data))
}

func TestTarSourceListsMembersAndReadsContent(t *testing.T) {
	dir := t.TempDir()
	writeTar(t, dir)

	parentSrc := model.NewFileSource(dir)
	parentHandle := &model.FileHandle{Base: model.NewBase(parentSrc, "a.tar")}

	ts := NewTarSource(parentHandle)
	sm := sourcemanager.New()
	t.Cleanup(func() { sm.Clear() })

	var names []string
	for h, err := range ts.Handles(context.Background(), sm) {
		require.NoError(t, err)
		names = append(names, h.RelativePath())
	}
	require.Equal(t, []string{"inner.txt"}, names)

	h := &TarHandle{Base: model.NewBase(ts, "inner.txt")}
	res, err := h.Follow(context.Background(), sm)
	require.NoError(t, err)
	fr := res.(model.FileResource)
	rc, err := fr.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "tar secret content", string(data))
}

func TestZipSourceJSONRoundTrip(t *testing.T) {
	parentSrc := model.NewFileSource("/tmp")
	parentHandle := &model.FileHandle{Base: model.NewBase(parentSrc, "a.zip")}
	zs := NewZipSource(parentHandle)

	data, err := zs.ToJSON()
	require.NoError(t, err)

	decoded, err := model.FromJSONObject(data)
	require.NoError(t, err)
	assert.Equal(t, "zip", decoded.Type())
}

func TestFromHandleDispatchesZipMime(t *testing.T) {
	parentSrc := model.NewFileSource("/tmp")
	parentHandle := &model.FileHandle{Base: model.NewBase(parentSrc, "a.zip")}

	src, ok := model.FromHandle(parentHandle, "application/zip")
	require.True(t, ok)
	assert.Equal(t, "zip", src.Type())
}
