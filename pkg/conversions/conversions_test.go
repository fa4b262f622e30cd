package conversions

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/AsgerHL/Bachelor-POC/pkg/model"
	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
	"github.com/AsgerHL/Bachelor-POC/pkg/sourcemanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openFile(t *testing.T, dir, name, content string) model.Resource {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))

	src := model.NewFileSource(dir)
	handle := &model.FileHandle{Base: model.NewBase(src, name)}
	sm := sourcemanager.New()
	t.Cleanup(func() { sm.Clear() })

	res, err := handle.Follow(context.Background(), sm)
	require.NoError(t, err)
	return res
}

func TestConvertPlainText(t *testing.T) {
	dir := t.TempDir()
	res := openFile(t, dir, "a.txt", "hello secret world")

	value, err := Convert(context.Background(), rule.Text, res)
	require.NoError(t, err)

	mr, ok := value.(*closingMultipleResults)
	require.True(t, ok)
	all, err := mr.All()
	require.NoError(t, err)
	assert.Equal(t, "hello secret world", all)
}

func TestConvertLastModified(t *testing.T) {
	dir := t.TempDir()
	res := openFile(t, dir, "a.txt", "x")

	value, err := Convert(context.Background(), rule.LastModified, res)
	require.NoError(t, err)
	_, ok := value.(interface{ Unix() int64 })
	assert.True(t, ok)
}

func TestConvertLinksExtractsAbsoluteHrefs(t *testing.T) {
	dir := t.TempDir()
	res := openFile(t, dir, "a.html", `<html><body><a href="https://example.com/x">x</a><a href="/relative">r</a></body></html>`)

	value, err := Convert(context.Background(), rule.Links, res)
	require.NoError(t, err)
	links, ok := value.([]string)
	require.True(t, ok)
	assert.Contains(t, links, "https://example.com/x")
}

func TestConvertNoConverterError(t *testing.T) {
	dir := t.TempDir()
	res := openFile(t, dir, "a.bin", "x")

	_, err := Convert(context.Background(), rule.MRZ, res)
	require.Error(t, err)
	var noConv *ErrNoConverter
	assert.ErrorAs(t, err, &noConv)
}

func TestMultipleResultsPaginatesAcrossBoundary(t *testing.T) {
	big := make([]byte, pageSize+10)
	for i := range big {
		big[i] = 'a'
	}
	mr := NewMultipleResults(&fixedReader{data: big})
	all, err := mr.All()
	require.NoError(t, err)
	assert.Len(t, all, len(big))
}

type fixedReader struct {
	data []byte
	pos  int
}

func (f *fixedReader) Read(p []byte) (int, error) {
	if f.pos >= len(f.data) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.pos:])
	f.pos += n
	return n, nil
}
